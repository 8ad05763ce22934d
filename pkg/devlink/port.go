package devlink

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// PortFunction carries the function sub-attributes of a port: the host
// facing hardware address and the administrative/operational state of the
// function. Either EthAddr or IBAddr is populated, selected by the width of
// the address reported by the kernel.
type PortFunction struct {
	EthAddr EthAddr
	IBAddr  IBAddr
	State   uint8
	OpState uint8
}

// Port is one decoded devlink port record, from a dump reply or from a
// notification. Absent optional values carry the absence markers described
// in policy.go.
type Port struct {
	BusName            string
	DevName            string
	PortIndex          uint32
	PortType           uint16
	DesiredType        uint16
	NetdevIfindex      uint32
	NetdevName         string // port type ETH
	IBDevName          string // port type IB
	SplitCount         uint32
	SplitGroup         uint32
	Flavour            uint16
	Number             uint32
	SplitSubportNumber uint32
	PCIPFNumber        uint16
	PCIVFNumber        uint16
	Function           PortFunction
	Lanes              uint32
	Splittable         uint8
	External           uint8
	ControllerNumber   uint32
	PCISFNumber        uint32
}

var portPolicy = policy{
	// Appeared in Linux v4.6.
	unix.DEVLINK_ATTR_BUS_NAME:            {kind: kindString},
	unix.DEVLINK_ATTR_DEV_NAME:            {kind: kindString},
	unix.DEVLINK_ATTR_PORT_INDEX:          {kind: kindU32},
	unix.DEVLINK_ATTR_PORT_TYPE:           {kind: kindU16, optional: true},
	unix.DEVLINK_ATTR_PORT_DESIRED_TYPE:   {kind: kindU16, optional: true},
	unix.DEVLINK_ATTR_PORT_NETDEV_IFINDEX: {kind: kindU32, optional: true},
	unix.DEVLINK_ATTR_PORT_NETDEV_NAME:    {kind: kindString, optional: true},
	unix.DEVLINK_ATTR_PORT_IBDEV_NAME:     {kind: kindString, optional: true},
	unix.DEVLINK_ATTR_PORT_SPLIT_COUNT:    {kind: kindU32, optional: true},
	unix.DEVLINK_ATTR_PORT_SPLIT_GROUP:    {kind: kindU32, optional: true},

	// Appeared in Linux v4.18.
	unix.DEVLINK_ATTR_PORT_FLAVOUR:              {kind: kindU16, optional: true},
	unix.DEVLINK_ATTR_PORT_NUMBER:               {kind: kindU32, optional: true},
	unix.DEVLINK_ATTR_PORT_SPLIT_SUBPORT_NUMBER: {kind: kindU32, optional: true},

	// Appeared in Linux v5.3.
	unix.DEVLINK_ATTR_PORT_PCI_PF_NUMBER: {kind: kindU16, optional: true},
	unix.DEVLINK_ATTR_PORT_PCI_VF_NUMBER: {kind: kindU16, optional: true},

	// Appeared in Linux v5.9.
	unix.DEVLINK_ATTR_PORT_FUNCTION:   {kind: kindNested, optional: true},
	unix.DEVLINK_ATTR_PORT_LANES:      {kind: kindU32, optional: true},
	unix.DEVLINK_ATTR_PORT_SPLITTABLE: {kind: kindU8, optional: true},

	// Appeared in Linux v5.10.
	unix.DEVLINK_ATTR_PORT_EXTERNAL:          {kind: kindU8, optional: true},
	unix.DEVLINK_ATTR_PORT_CONTROLLER_NUMBER: {kind: kindU32, optional: true},

	// Appeared in Linux v5.12.
	unix.DEVLINK_ATTR_PORT_PCI_SF_NUMBER: {kind: kindU32, optional: true},
}

var portFunctionPolicy = policy{
	// Appeared in Linux v5.9.
	unix.DEVLINK_PORT_FUNCTION_ATTR_HW_ADDR: {kind: kindHWAddr, optional: true},

	// Appeared in Linux v5.12.
	unix.DEVLINK_PORT_FN_ATTR_STATE:   {kind: kindU8, optional: true},
	unix.DEVLINK_PORT_FN_ATTR_OPSTATE: {kind: kindU8, optional: true},
}

// ParsePort decodes one devlink port message payload. On error the returned
// port is nil; partially decoded data is never exposed.
func ParsePort(data []byte) (*Port, error) {
	var p Port
	if err := parsePortInto(&p, data); err != nil {
		return nil, err
	}
	return &p, nil
}

func parsePortInto(p *Port, data []byte) error {
	f, err := parseAttrs(data, portPolicy)
	if err != nil {
		return fmt.Errorf("port record: %w", err)
	}
	*p = Port{
		BusName:            f.string(unix.DEVLINK_ATTR_BUS_NAME),
		DevName:            f.string(unix.DEVLINK_ATTR_DEV_NAME),
		PortIndex:          f.uint32(unix.DEVLINK_ATTR_PORT_INDEX),
		PortType:           f.uint16(unix.DEVLINK_ATTR_PORT_TYPE),
		DesiredType:        f.uint16(unix.DEVLINK_ATTR_PORT_DESIRED_TYPE),
		NetdevIfindex:      f.uint32(unix.DEVLINK_ATTR_PORT_NETDEV_IFINDEX),
		SplitCount:         f.uint32(unix.DEVLINK_ATTR_PORT_SPLIT_COUNT),
		SplitGroup:         f.uint32(unix.DEVLINK_ATTR_PORT_SPLIT_GROUP),
		Flavour:            f.uint16(unix.DEVLINK_ATTR_PORT_FLAVOUR),
		Number:             f.uint32(unix.DEVLINK_ATTR_PORT_NUMBER),
		SplitSubportNumber: f.uint32(unix.DEVLINK_ATTR_PORT_SPLIT_SUBPORT_NUMBER),
		PCIPFNumber:        f.uint16(unix.DEVLINK_ATTR_PORT_PCI_PF_NUMBER),
		PCIVFNumber:        f.uint16(unix.DEVLINK_ATTR_PORT_PCI_VF_NUMBER),
		Lanes:              f.uint32(unix.DEVLINK_ATTR_PORT_LANES),
		Splittable:         f.uint8(unix.DEVLINK_ATTR_PORT_SPLITTABLE),
		External:           f.uint8(unix.DEVLINK_ATTR_PORT_EXTERNAL),
		ControllerNumber:   f.uint32(unix.DEVLINK_ATTR_PORT_CONTROLLER_NUMBER),
		PCISFNumber:        f.uint32(unix.DEVLINK_ATTR_PORT_PCI_SF_NUMBER),
	}

	// The netdev/ibdev name attribute is only meaningful for the matching
	// port type.
	switch {
	case p.PortType == unix.DEVLINK_PORT_TYPE_ETH && f.present(unix.DEVLINK_ATTR_PORT_NETDEV_NAME):
		p.NetdevName = f.string(unix.DEVLINK_ATTR_PORT_NETDEV_NAME)
	case p.PortType == unix.DEVLINK_PORT_TYPE_IB && f.present(unix.DEVLINK_ATTR_PORT_IBDEV_NAME):
		p.IBDevName = f.string(unix.DEVLINK_ATTR_PORT_IBDEV_NAME)
	default:
		p.NetdevName = StrNotPresent
	}

	if nested, ok := f.nested(unix.DEVLINK_ATTR_PORT_FUNCTION); ok {
		if err := parsePortFunction(&p.Function, nested); err != nil {
			return fmt.Errorf("port record: %w", err)
		}
	} else {
		p.Function = PortFunction{State: math.MaxUint8, OpState: math.MaxUint8}
	}
	return nil
}

func parsePortFunction(pf *PortFunction, data []byte) error {
	f, err := parseAttrs(data, portFunctionPolicy)
	if err != nil {
		return fmt.Errorf("port function: %w", err)
	}
	ea, ia, err := f.hwAddr(unix.DEVLINK_PORT_FUNCTION_ATTR_HW_ADDR)
	if err != nil {
		return fmt.Errorf("port function: %w", err)
	}
	pf.EthAddr = ea
	pf.IBAddr = ia
	pf.State = f.uint8(unix.DEVLINK_PORT_FN_ATTR_STATE)
	pf.OpState = f.uint8(unix.DEVLINK_PORT_FN_ATTR_OPSTATE)
	return nil
}

// PortNumber returns the physical port number, or nil when the kernel did
// not report one.
func (p *Port) PortNumber() *uint32 {
	if p.Number == math.MaxUint32 {
		return nil
	}
	n := p.Number
	return &n
}

// PFNumber returns the PCI physical function number, or nil when absent.
func (p *Port) PFNumber() *uint16 {
	if p.PCIPFNumber == math.MaxUint16 {
		return nil
	}
	n := p.PCIPFNumber
	return &n
}

// VFNumber returns the PCI virtual function number, or nil when absent.
func (p *Port) VFNumber() *uint16 {
	if p.PCIVFNumber == math.MaxUint16 {
		return nil
	}
	n := p.PCIVFNumber
	return &n
}

// DEVLINK_PORT_FLAVOUR_PCI_SF is not generated in golang.org/x/sys/unix;
// the value comes from the kernel's devlink uapi header.
const devlinkPortFlavourPCISF = 0x7

// FlavourName returns the symbolic name of a devlink port flavour.
func FlavourName(flavour uint16) string {
	switch flavour {
	case unix.DEVLINK_PORT_FLAVOUR_PHYSICAL:
		return "PHYSICAL"
	case unix.DEVLINK_PORT_FLAVOUR_CPU:
		return "CPU"
	case unix.DEVLINK_PORT_FLAVOUR_DSA:
		return "DSA"
	case unix.DEVLINK_PORT_FLAVOUR_PCI_PF:
		return "PCI_PF"
	case unix.DEVLINK_PORT_FLAVOUR_PCI_VF:
		return "PCI_VF"
	case unix.DEVLINK_PORT_FLAVOUR_VIRTUAL:
		return "VIRTUAL"
	case unix.DEVLINK_PORT_FLAVOUR_UNUSED:
		return "UNUSED"
	case devlinkPortFlavourPCISF:
		return "PCI_SF"
	default:
		return "UNKNOWN"
	}
}

// TypeName returns the symbolic name of a devlink port type.
func TypeName(portType uint16) string {
	switch portType {
	case unix.DEVLINK_PORT_TYPE_AUTO:
		return "AUTO"
	case unix.DEVLINK_PORT_TYPE_ETH:
		return "ETH"
	case unix.DEVLINK_PORT_TYPE_IB:
		return "IB"
	default:
		return "unknown"
	}
}
