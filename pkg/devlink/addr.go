package devlink

import (
	"fmt"
	"net"
)

// EthAddr is a 6-byte Ethernet hardware address. The all-zero value doubles
// as the "not present" marker, matching how the kernel reports ports whose
// function has no address assigned yet.
type EthAddr [6]byte

// IBAddr is a 20-byte InfiniBand hardware address (GID + interface ID).
type IBAddr [20]byte

// ParseEthAddr parses a colon-separated Ethernet address string.
func ParseEthAddr(s string) (EthAddr, error) {
	var ea EthAddr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return ea, err
	}
	if len(hw) != len(ea) {
		return ea, fmt.Errorf("not an Ethernet address: %q", s)
	}
	copy(ea[:], hw)
	return ea, nil
}

// IsZero reports whether the address is all-zero, i.e. not present.
func (ea EthAddr) IsZero() bool {
	return ea == EthAddr{}
}

func (ea EthAddr) String() string {
	return net.HardwareAddr(ea[:]).String()
}

// IsZero reports whether the address is all-zero, i.e. not present.
func (ia IBAddr) IsZero() bool {
	return ia == IBAddr{}
}

func (ia IBAddr) String() string {
	return net.HardwareAddr(ia[:]).String()
}
