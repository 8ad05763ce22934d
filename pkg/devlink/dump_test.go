package devlink

import (
	"testing"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func portReply(t *testing.T, ifindex uint32, name string) genetlink.Message {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
	ae.String(unix.DEVLINK_ATTR_DEV_NAME, "0000:03:00.0")
	ae.Uint32(unix.DEVLINK_ATTR_PORT_INDEX, ifindex)
	ae.Uint16(unix.DEVLINK_ATTR_PORT_TYPE, unix.DEVLINK_PORT_TYPE_ETH)
	ae.Uint32(unix.DEVLINK_ATTR_PORT_NETDEV_IFINDEX, ifindex)
	ae.String(unix.DEVLINK_ATTR_PORT_NETDEV_NAME, name)
	data, err := ae.Encode()
	require.NoError(t, err)
	return genetlink.Message{Data: data}
}

func TestPortDumpCursor(t *testing.T) {
	t.Parallel()

	dump := &PortDump{msgs: []genetlink.Message{
		portReply(t, 10, "p0"),
		portReply(t, 100, "p0hpf"),
	}}

	var names []string
	for {
		port, ok := dump.Next()
		if !ok {
			break
		}
		names = append(names, port.NetdevName)
	}
	assert.NoError(t, dump.Err())
	assert.Equal(t, []string{"p0", "p0hpf"}, names)

	// The cursor stays exhausted.
	_, ok := dump.Next()
	assert.False(t, ok)
}

func TestPortDumpCursorDecodeError(t *testing.T) {
	t.Parallel()

	// A record missing a mandatory attribute poisons the cursor; records
	// behind it are not reachable.
	bad := genetlink.Message{Data: func() []byte {
		ae := netlink.NewAttributeEncoder()
		ae.String(unix.DEVLINK_ATTR_BUS_NAME, "pci")
		data, err := ae.Encode()
		require.NoError(t, err)
		return data
	}()}

	dump := &PortDump{msgs: []genetlink.Message{
		portReply(t, 10, "p0"),
		bad,
		portReply(t, 100, "p0hpf"),
	}}

	port, ok := dump.Next()
	require.True(t, ok)
	assert.Equal(t, "p0", port.NetdevName)

	_, ok = dump.Next()
	assert.False(t, ok)
	assert.Error(t, dump.Err())

	// The error is sticky.
	_, ok = dump.Next()
	assert.False(t, ok)
	assert.Error(t, dump.Err())
}

func TestPortDumpCursorReusesRecord(t *testing.T) {
	t.Parallel()

	dump := &PortDump{msgs: []genetlink.Message{
		portReply(t, 10, "p0"),
		portReply(t, 100, "p0hpf"),
	}}

	first, ok := dump.Next()
	require.True(t, ok)
	second, ok := dump.Next()
	require.True(t, ok)

	// Next returns cursor-owned storage; both iterations observe the same
	// record, now holding the latest decode.
	assert.Same(t, first, second)
	assert.Equal(t, "p0hpf", first.NetdevName)
}

func TestInfoDumpCursor(t *testing.T) {
	t.Parallel()

	infoReply := func(driver string) genetlink.Message {
		ae := netlink.NewAttributeEncoder()
		ae.String(unix.DEVLINK_ATTR_INFO_DRIVER_NAME, driver)
		data, err := ae.Encode()
		require.NoError(t, err)
		return genetlink.Message{Data: data}
	}

	dump := &InfoDump{msgs: []genetlink.Message{
		infoReply("mlx5_core"),
		infoReply("ice"),
	}}

	var drivers []string
	for {
		info, ok := dump.Next()
		if !ok {
			break
		}
		drivers = append(drivers, info.DriverName)
	}
	assert.NoError(t, dump.Err())
	assert.Equal(t, []string{"mlx5_core", "ice"}, drivers)
}
