package devlink_test

import (
	"math"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/edge-sdn/repagent/pkg/devlink"
)

func encodeAttrs(t *testing.T, fn func(*netlink.AttributeEncoder)) []byte {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	fn(ae)
	b, err := ae.Encode()
	require.NoError(t, err)
	return b
}

func TestParsePortFull(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
		ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 1)
		ae.Uint16(unix.DEVLINK_ATTR_PORT_TYPE, unix.DEVLINK_PORT_TYPE_ETH)
		ae.Uint32(unix.DEVLINK_ATTR_PORT_NETDEV_IFINDEX, 100)
		ae.String(unix.DEVLINK_ATTR_PORT_NETDEV_NAME, "p0hpf")
		ae.Uint16(unix.DEVLINK_ATTR_PORT_FLAVOUR, unix.DEVLINK_PORT_FLAVOUR_PCI_PF)
		ae.Uint16(unix.DEVLINK_ATTR_PORT_PCI_PF_NUMBER, 0)
		ae.Nested(unix.DEVLINK_ATTR_PORT_FUNCTION, func(nae *netlink.AttributeEncoder) error {
			nae.Bytes(unix.DEVLINK_PORT_FUNCTION_ATTR_HW_ADDR,
				[]byte{0x00, 0x53, 0x00, 0x00, 0x00, 0x42})
			nae.Uint8(unix.DEVLINK_PORT_FN_ATTR_STATE, 1)
			nae.Uint8(unix.DEVLINK_PORT_FN_ATTR_OPSTATE, 1)
			return nil
		})
	})

	port, err := devlink.ParsePort(payload)
	require.NoError(t, err)
	assert.Equal(t, "pci", port.BusName)
	assert.Equal(t, "0000:03:00.0", port.DevName)
	assert.Equal(t, uint32(1), port.PortIndex)
	assert.Equal(t, uint16(unix.DEVLINK_PORT_TYPE_ETH), port.PortType)
	assert.Equal(t, uint32(100), port.NetdevIfindex)
	assert.Equal(t, "p0hpf", port.NetdevName)
	assert.Equal(t, uint16(unix.DEVLINK_PORT_FLAVOUR_PCI_PF), port.Flavour)
	assert.Equal(t, devlink.EthAddr{0x00, 0x53, 0x00, 0x00, 0x00, 0x42}, port.Function.EthAddr)
	assert.Equal(t, uint8(1), port.Function.State)
	assert.Equal(t, uint8(1), port.Function.OpState)

	require.NotNil(t, port.PFNumber())
	assert.Equal(t, uint16(0), *port.PFNumber())
	assert.Nil(t, port.VFNumber())
	assert.Nil(t, port.PortNumber())
}

func TestParsePortAbsentOptionals(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
		ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 0)
	})

	port, err := devlink.ParsePort(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(math.MaxUint16), port.PortType)
	assert.Equal(t, uint32(math.MaxUint32), port.NetdevIfindex)
	assert.Equal(t, devlink.StrNotPresent, port.NetdevName)
	assert.Equal(t, uint16(math.MaxUint16), port.Flavour)
	assert.Equal(t, uint32(math.MaxUint32), port.Number)
	assert.Equal(t, uint16(math.MaxUint16), port.PCIPFNumber)
	assert.Equal(t, uint16(math.MaxUint16), port.PCIVFNumber)
	assert.Equal(t, uint8(math.MaxUint8), port.Function.State)
	assert.Equal(t, uint8(math.MaxUint8), port.Function.OpState)
	assert.True(t, port.Function.EthAddr.IsZero())
	assert.True(t, port.Function.IBAddr.IsZero())
	assert.Nil(t, port.PortNumber())
	assert.Nil(t, port.PFNumber())
	assert.Nil(t, port.VFNumber())
}

func TestParsePortMissingMandatory(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 1)
	})

	_, err := devlink.ParsePort(payload)
	assert.Error(t, err)
}

func TestParsePortUnexpectedWidth(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
		ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 1)
		// u16 attribute encoded four bytes wide.
		ae.Uint32(unix.DEVLINK_ATTR_PORT_TYPE, 2)
	})

	_, err := devlink.ParsePort(payload)
	assert.Error(t, err)
}

func TestParsePortFunctionHWAddr(t *testing.T) {
	t.Parallel()

	testMatrix := map[string]struct {
		hwAddr  []byte
		wantErr bool
		wantEth bool
		wantIB  bool
	}{
		"ethernet": {
			hwAddr:  []byte{0x00, 0x53, 0x00, 0x00, 0x00, 0x01},
			wantEth: true,
		},
		"infiniband": {
			hwAddr: []byte{
				0x00, 0x53, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05,
				0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
			},
			wantIB: true,
		},
		"bad width": {
			hwAddr:  []byte{0x00, 0x53, 0x00, 0x00, 0x00},
			wantErr: true,
		},
	}

	for name, test := range testMatrix {
		test := test
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
				ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
				ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
				ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 1)
				ae.Nested(unix.DEVLINK_ATTR_PORT_FUNCTION,
					func(nae *netlink.AttributeEncoder) error {
						nae.Bytes(unix.DEVLINK_PORT_FUNCTION_ATTR_HW_ADDR, test.hwAddr)
						return nil
					})
			})

			port, err := devlink.ParsePort(payload)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantEth, !port.Function.EthAddr.IsZero())
			assert.Equal(t, test.wantIB, !port.Function.IBAddr.IsZero())
		})
	}
}

func TestParsePortNameRequiresMatchingType(t *testing.T) {
	t.Parallel()

	// A netdev name without a port type attribute is not trustworthy.
	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
		ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 1)
		ae.String(unix.DEVLINK_ATTR_PORT_NETDEV_NAME, "p0")
	})

	port, err := devlink.ParsePort(payload)
	require.NoError(t, err)
	assert.Equal(t, devlink.StrNotPresent, port.NetdevName)
}

func TestParsePortIBDevName(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
		ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, 1)
		ae.Uint16(unix.DEVLINK_ATTR_PORT_TYPE, unix.DEVLINK_PORT_TYPE_IB)
		ae.String(unix.DEVLINK_ATTR_PORT_IBDEV_NAME, "mlx5_0")
	})

	port, err := devlink.ParsePort(payload)
	require.NoError(t, err)
	assert.Equal(t, "mlx5_0", port.IBDevName)
	assert.Equal(t, devlink.StrNotPresent, port.NetdevName)
}

func TestParseInfo(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_INFO_DRIVER_NAME, "mlx5_core")
		ae.String(unix.DEVLINK_ATTR_INFO_SERIAL_NUMBER, "MT2042X00000")
		ae.Nested(unix.DEVLINK_ATTR_INFO_VERSION_RUNNING,
			func(nae *netlink.AttributeEncoder) error {
				nae.String(unix.DEVLINK_ATTR_INFO_VERSION_NAME, "fw")
				nae.String(unix.DEVLINK_ATTR_INFO_VERSION_VALUE, "16.29.1016")
				return nil
			})
	})

	info, err := devlink.ParseInfo(payload)
	require.NoError(t, err)
	assert.Equal(t, "mlx5_core", info.DriverName)
	assert.Equal(t, "MT2042X00000", info.SerialNumber)
	assert.Equal(t, devlink.StrNotPresent, info.BoardSerialNumber)
	assert.Equal(t, "fw", info.VersionRunning.Name)
	assert.Equal(t, "16.29.1016", info.VersionRunning.Value)
	assert.Equal(t, devlink.StrNotPresent, info.VersionFixed.Name)
	assert.Equal(t, devlink.StrNotPresent, info.VersionStored.Value)
}

func TestParseInfoMissingDriverName(t *testing.T) {
	t.Parallel()

	payload := encodeAttrs(t, func(ae *netlink.AttributeEncoder) {
		ae.String(unix.DEVLINK_ATTR_INFO_SERIAL_NUMBER, "MT2042X00000")
	})

	_, err := devlink.ParseInfo(payload)
	assert.Error(t, err)
}

func TestParseEthAddr(t *testing.T) {
	t.Parallel()

	ea, err := devlink.ParseEthAddr("00:53:00:00:00:42")
	require.NoError(t, err)
	assert.Equal(t, devlink.EthAddr{0x00, 0x53, 0x00, 0x00, 0x00, 0x42}, ea)
	assert.Equal(t, "00:53:00:00:00:42", ea.String())

	_, err = devlink.ParseEthAddr("not-a-mac")
	assert.Error(t, err)

	// An EUI-64 address is valid for ParseMAC but not Ethernet.
	_, err = devlink.ParseEthAddr("00:53:00:00:00:00:00:42")
	assert.Error(t, err)
}
