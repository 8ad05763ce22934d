// Package netdev wraps the small set of rtnetlink link queries the agent
// uses to sanity-check resolved representor interfaces.
package netdev

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// Verify checks that a network interface with the given name exists and
// still has the expected ifindex. A name that resolves to a different
// ifindex indicates the tracked mapping went stale.
func Verify(name string, ifindex uint32) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("lookup link %q: %w", name, err)
	}
	if got := uint32(link.Attrs().Index); got != ifindex {
		return fmt.Errorf("link %q has ifindex %d, expected %d", name, got, ifindex)
	}
	return nil
}

// Exists reports whether a network interface with the given name exists.
func Exists(name string) bool {
	_, err := netlink.LinkByName(name)
	return err == nil
}
