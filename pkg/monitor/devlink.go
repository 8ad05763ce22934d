// Package monitor provides the two live event sources feeding the port
// table: devlink port notifications and kobject uevent rename events. Both
// are drained non-blockingly; the caller re-invokes Run on its own
// schedule.
package monitor

import (
	"errors"
	"math"
	"syscall"

	"github.com/mdlayher/genetlink"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/edge-sdn/repagent/pkg/devlink"
	"github.com/edge-sdn/repagent/pkg/porttable"
)

// DevlinkMonitor receives devlink port add/remove notifications from the
// family's configuration multicast group and applies them to the table.
type DevlinkMonitor struct {
	conn  *devlink.Conn
	table *porttable.Table
}

// NewDevlinkMonitor opens a devlink connection subscribed to the
// configuration notification group. Failure is fatal to initialization.
func NewDevlinkMonitor(table *porttable.Table) (*DevlinkMonitor, error) {
	conn, err := devlink.Dial()
	if err != nil {
		return nil, err
	}
	if err := conn.JoinConfigGroup(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DevlinkMonitor{conn: conn, table: table}, nil
}

// Close releases the monitor socket.
func (m *DevlinkMonitor) Close() error {
	return m.conn.Close()
}

// SyscallConn exposes the monitor socket for event loop integration.
func (m *DevlinkMonitor) SyscallConn() (syscall.RawConn, error) {
	return m.conn.SyscallConn()
}

// Run drains all queued notifications without blocking and returns whether
// the table changed.
func (m *DevlinkMonitor) Run() (changed bool) {
	for {
		msgs, err := m.conn.ReceiveNonblock()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				// Nothing more to read.
				break
			}
			if errors.Is(err, unix.ENOBUFS) {
				log.Warnf("devlink monitor socket overflowed: %v", err)
				continue
			}
			log.Errorf("error on devlink monitor socket: %v", err)
			break
		}
		for _, msg := range msgs {
			if m.handle(msg) {
				changed = true
			}
		}
	}
	return changed
}

func (m *DevlinkMonitor) handle(msg genetlink.Message) bool {
	switch msg.Header.Command {
	case unix.DEVLINK_CMD_PORT_NEW:
		port, err := devlink.ParsePort(msg.Data)
		if err != nil {
			log.Warnf("could not parse devlink port entry: %v", err)
			return false
		}
		if port.NetdevIfindex == math.MaxUint32 {
			// Port removal is announced as a NEW notification without
			// data, followed by DEL. Ignore the empty NEW.
			return false
		}
		return m.table.ApplyPort(port, porttable.FromLive)
	case unix.DEVLINK_CMD_PORT_DEL:
		port, err := devlink.ParsePort(msg.Data)
		if err != nil {
			log.Warnf("could not parse devlink port entry: %v", err)
			return false
		}
		return m.table.DeletePort(port)
	default:
		return false
	}
}
