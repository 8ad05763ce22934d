package devlink

import (
	"fmt"
	"syscall"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// Conn is a connection to the devlink generic netlink family. The family is
// resolved once at dial time; a missing family (Linux older than v4.6)
// surfaces as a dial error and the caller must not proceed.
type Conn struct {
	c      *genetlink.Conn
	family genetlink.Family
}

// Dial opens a generic netlink socket and resolves the devlink family.
func Dial() (*Conn, error) {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dial generic netlink: %w", err)
	}
	family, err := c.GetFamily(unix.DEVLINK_GENL_NAME)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("generic netlink family %q does not exist, Linux v4.6 or newer required: %w",
			unix.DEVLINK_GENL_NAME, err)
	}
	return &Conn{c: c, family: family}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.c.Close()
}

// ConfigGroupID returns the multicast group ID of the devlink configuration
// notification group.
func (c *Conn) ConfigGroupID() (uint32, error) {
	for _, g := range c.family.Groups {
		if g.Name == unix.DEVLINK_GENL_MCGRP_CONFIG_NAME {
			return g.ID, nil
		}
	}
	return 0, fmt.Errorf("devlink multicast group %q not found", unix.DEVLINK_GENL_MCGRP_CONFIG_NAME)
}

// JoinConfigGroup subscribes the connection to devlink configuration
// notifications (port add/remove events).
func (c *Conn) JoinConfigGroup() error {
	id, err := c.ConfigGroupID()
	if err != nil {
		return err
	}
	return c.c.JoinGroup(id)
}

// SyscallConn exposes the raw connection so a caller can integrate the
// socket with its own event loop.
func (c *Conn) SyscallConn() (syscall.RawConn, error) {
	return c.c.SyscallConn()
}

// ReceiveNonblock attempts to receive one datagram of queued notification
// messages without blocking. When nothing is queued it returns unix.EAGAIN.
// Truncation is avoided by using the maximum netlink message size.
func (c *Conn) ReceiveNonblock() ([]genetlink.Message, error) {
	rc, err := c.c.SyscallConn()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 65536)
	var (
		n    int
		rerr error
	)
	if err := rc.Read(func(fd uintptr) bool {
		n, _, rerr = unix.Recvfrom(int(fd), buf, unix.MSG_DONTWAIT)
		return true
	}); err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, rerr
	}
	raw, err := syscall.ParseNetlinkMessage(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("parse netlink message: %w", err)
	}
	var msgs []genetlink.Message
	for _, m := range raw {
		// Generic netlink header: command, version, two reserved bytes.
		if m.Header.Type != c.family.ID || len(m.Data) < 4 {
			continue
		}
		msgs = append(msgs, genetlink.Message{
			Header: genetlink.Header{Command: m.Data[0], Version: m.Data[1]},
			Data:   m.Data[4:],
		})
	}
	return msgs, nil
}

func (c *Conn) dump(cmd uint8) ([]genetlink.Message, error) {
	req := genetlink.Message{
		Header: genetlink.Header{
			Command: cmd,
			Version: unix.DEVLINK_GENL_VERSION,
		},
	}
	msgs, err := c.c.Execute(req, c.family.ID, netlink.Request|netlink.Dump)
	if err != nil {
		return nil, fmt.Errorf("devlink dump command %d: %w", cmd, err)
	}
	return msgs, nil
}

// PortDump iterates over the replies of one devlink port dump. The record
// returned by Next is owned by the cursor and valid only until the
// following call; callers needing to keep it must copy it. After Next
// returns false the caller must consult Err to distinguish end-of-stream
// from a decode failure.
type PortDump struct {
	msgs []genetlink.Message
	next int
	port Port
	err  error
}

// DumpPorts starts a bulk enumeration of all devlink ports.
//
// Within one dump a device's PHYSICAL and PCI_PF records precede its PCI_VF
// records, but no ordering holds across devices.
func (c *Conn) DumpPorts() (*PortDump, error) {
	msgs, err := c.dump(unix.DEVLINK_CMD_PORT_GET)
	if err != nil {
		return nil, err
	}
	return &PortDump{msgs: msgs}, nil
}

// Next decodes one more port reply, or returns false at end-of-stream or on
// decode failure.
func (d *PortDump) Next() (*Port, bool) {
	if d.err != nil || d.next >= len(d.msgs) {
		return nil, false
	}
	msg := d.msgs[d.next]
	d.next++
	if err := parsePortInto(&d.port, msg.Data); err != nil {
		d.err = err
		return nil, false
	}
	return &d.port, true
}

// Err returns the sticky decode error, or nil after a clean end-of-stream.
func (d *PortDump) Err() error {
	return d.err
}

// InfoDump iterates over the replies of one devlink device info dump, with
// the same cursor contract as PortDump.
type InfoDump struct {
	msgs []genetlink.Message
	next int
	info Info
	err  error
}

// DumpInfo starts a bulk enumeration of devlink device information.
func (c *Conn) DumpInfo() (*InfoDump, error) {
	msgs, err := c.dump(unix.DEVLINK_CMD_INFO_GET)
	if err != nil {
		return nil, err
	}
	return &InfoDump{msgs: msgs}, nil
}

// Next decodes one more info reply, or returns false at end-of-stream or on
// decode failure.
func (d *InfoDump) Next() (*Info, bool) {
	if d.err != nil || d.next >= len(d.msgs) {
		return nil, false
	}
	msg := d.msgs[d.next]
	d.next++
	if err := parseInfoInto(&d.info, msg.Data); err != nil {
		d.err = err
		return nil, false
	}
	return &d.info, true
}

// Err returns the sticky decode error, or nil after a clean end-of-stream.
func (d *InfoDump) Err() error {
	return d.err
}
