package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/edge-sdn/repagent/pkg/porttable"
)

// Receive buffer for the uevent socket. Device hotplug can produce large
// bursts; the kernel caps the value at rmem_max unless forced.
const ueventRcvbufSize = 128 * 1024 * 1024

// uevent is one parsed kernel uevent datagram.
type uevent struct {
	Action  string
	DevPath string
	Env     map[string]string
}

// UeventMonitor receives kernel device events and applies netdev rename
// ("move") events to the port table. Renames are delivered through uevents
// only; the devlink channel does not announce them.
type UeventMonitor struct {
	fd    int
	table *porttable.Table
}

// NewUeventMonitor opens a non-blocking kobject uevent socket subscribed to
// the kernel broadcast group.
func NewUeventMonitor(table *porttable.Table) (*UeventMonitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK,
		unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC,
		unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("open uevent socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1, // kernel uevent broadcast group
	}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE,
		ueventRcvbufSize); err != nil {
		// Best effort; without CAP_NET_ADMIN fall back to the default cap.
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF,
			ueventRcvbufSize); err != nil {
			log.Infof("unable to set uevent receive buffer size: %v", err)
		}
	}
	return &UeventMonitor{fd: fd, table: table}, nil
}

// Close releases the monitor socket.
func (m *UeventMonitor) Close() error {
	return unix.Close(m.fd)
}

// FD exposes the socket for event loop integration.
func (m *UeventMonitor) FD() int {
	return m.fd
}

// Run drains all queued uevents without blocking and returns whether the
// table changed. Only "move" actions on net-class devices act; everything
// else is ignored.
func (m *UeventMonitor) Run() (changed bool) {
	buf := make([]byte, 16*1024)
	for {
		n, _, err := unix.Recvfrom(m.fd, buf, unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				// Nothing to do.
				break
			}
			if errors.Is(err, unix.ENOBUFS) {
				log.Warnf("uevent monitor socket overflowed: %v", err)
				continue
			}
			log.Errorf("error on uevent monitor socket: %v", err)
			break
		}
		ev, err := parseUevent(buf[:n])
		if err != nil {
			log.Debugf("ignoring malformed uevent: %v", err)
			continue
		}
		if m.handle(ev) {
			changed = true
		}
	}
	return changed
}

func (m *UeventMonitor) handle(ev *uevent) bool {
	if ev.Action != "move" || ev.Env["SUBSYSTEM"] != "net" {
		return false
	}
	ifindexStr, ok := ev.Env["IFINDEX"]
	if !ok {
		log.Warn("uevent: unable to get ifindex of moved netdev")
		return false
	}
	ifindex, err := strconv.ParseUint(ifindexStr, 10, 32)
	if err != nil {
		log.Warnf("uevent provided malformed ifindex: %q", ifindexStr)
		return false
	}
	name := ev.Env["INTERFACE"]
	if name == "" {
		// The device name is the last element of the device path.
		if i := strings.LastIndexByte(ev.DevPath, '/'); i >= 0 {
			name = ev.DevPath[i+1:]
		}
	}
	if name == "" {
		log.Warn("unable to lookup netdev name from uevent")
		return false
	}
	if !m.table.Rename(uint32(ifindex), name) {
		log.Debugf("uevent move event on port we do not know about ifindex=%d", ifindex)
		return false
	}
	return true
}

// parseUevent splits a kernel uevent datagram: an "action@devpath" header
// followed by NUL-separated KEY=VALUE pairs. Datagrams multiplexed by udev
// daemons carry a different magic and are rejected.
func parseUevent(data []byte) (*uevent, error) {
	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 {
		return nil, errors.New("empty datagram")
	}
	action, devPath, ok := strings.Cut(string(parts[0]), "@")
	if !ok {
		return nil, fmt.Errorf("malformed header %q", parts[0])
	}
	ev := &uevent{
		Action:  action,
		DevPath: devPath,
		Env:     make(map[string]string, len(parts)-1),
	}
	for _, part := range parts[1:] {
		if len(part) == 0 {
			continue
		}
		key, value, ok := strings.Cut(string(part), "=")
		if !ok {
			continue
		}
		ev.Env[key] = value
	}
	return ev, nil
}
