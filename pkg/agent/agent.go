// Package agent ties the devlink dump, the live monitors and the port
// table together behind the interface consumed by a virtual-networking
// control plane: initialize, poll, resolve, shutdown.
package agent

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/edge-sdn/repagent/pkg/devlink"
	"github.com/edge-sdn/repagent/pkg/monitor"
	"github.com/edge-sdn/repagent/pkg/netdev"
	"github.com/edge-sdn/repagent/pkg/porttable"
	"github.com/edge-sdn/repagent/pkg/sysfs"
)

var (
	// ErrNotFound means no tracked representor matches the query.
	ErrNotFound = errors.New("no representor port found")
	// ErrRenamePending means a representor was found but its netdev name
	// is anticipated to change, so callers must retry later instead of
	// plugging a name about to disappear.
	ErrRenamePending = errors.New("representor netdev rename pending")
)

// Config carries the agent's tunables.
type Config struct {
	// PFConfigTemplate overrides the sysfs path template used for the
	// host PF MAC fallback. Empty selects the default.
	PFConfigTemplate string
	// VerifyNetdev enables an rtnetlink existence check on every
	// successful resolve.
	VerifyNetdev bool
}

// Agent is the tracking engine instance. All kernel state is rebuilt by a
// bulk enumeration during Init; nothing persists across restarts.
type Agent struct {
	cfg   Config
	table *porttable.Table
	dlMon *monitor.DevlinkMonitor
	ueMon *monitor.UeventMonitor // nil when uevents are unavailable

	// mu serializes the HTTP status handlers with the poll loop. The
	// tracking core itself is single-threaded.
	mu sync.Mutex
}

// New returns an agent with the given configuration. Call Init before use.
func New(cfg Config) *Agent {
	return &Agent{cfg: cfg}
}

// Init opens the monitor sockets and populates the table by bulk
// enumeration. The monitor subscription is established before the dump so
// no event can fall between them. Transport failures are fatal; the uevent
// channel is optional and its absence only degrades rename tracking to
// best-effort via the devlink channel alone.
func (a *Agent) Init() error {
	table := porttable.New()
	tmpl := a.cfg.PFConfigTemplate
	if tmpl == "" {
		tmpl = sysfs.DefaultPFConfigTemplate
	}
	table.MACFallback = func(physNetdevName string) (devlink.EthAddr, error) {
		return sysfs.HostPFMACAt(tmpl, physNetdevName)
	}

	dlMon, err := monitor.NewDevlinkMonitor(table)
	if err != nil {
		return fmt.Errorf("devlink monitor: %w", err)
	}

	if err := a.dumpPorts(table); err != nil {
		_ = dlMon.Close()
		return err
	}

	ueMon, err := monitor.NewUeventMonitor(table)
	if err != nil {
		log.Warnf("uevent monitor unavailable, netdev rename tracking degraded: %v", err)
	} else {
		table.RenameMonitored = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.table = table
	a.dlMon = dlMon
	a.ueMon = ueMon
	return nil
}

func (a *Agent) dumpPorts(table *porttable.Table) error {
	conn, err := devlink.Dial()
	if err != nil {
		return fmt.Errorf("unable to start dump of ports from devlink-port interface: %w", err)
	}
	defer conn.Close()

	dump, err := conn.DumpPorts()
	if err != nil {
		return fmt.Errorf("devlink port dump: %w", err)
	}
	for {
		port, ok := dump.Next()
		if !ok {
			break
		}
		table.ApplyPort(port, porttable.FromDump)
	}
	if err := dump.Err(); err != nil {
		// A decode failure invalidates the remainder of the dump but
		// not the records already applied; the live channel heals the
		// rest.
		log.Warnf("devlink port dump terminated early: %v", err)
	}
	return nil
}

// RunOnce drains both monitors without blocking and returns whether the
// table changed, letting the caller invalidate downstream caches.
func (a *Agent) RunOnce() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runLocked()
}

func (a *Agent) runLocked() bool {
	var changed bool
	if a.dlMon != nil {
		changed = a.dlMon.Run()
	}
	if a.ueMon != nil {
		if a.ueMon.Run() {
			changed = true
		}
	}
	return changed
}

// Shutdown closes the monitor sockets and drains the table.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dlMon != nil {
		_ = a.dlMon.Close()
		a.dlMon = nil
	}
	if a.ueMon != nil {
		_ = a.ueMon.Close()
		a.ueMon = nil
	}
	if a.table != nil {
		a.table.Destroy()
		a.table = nil
	}
}

// ResolveVF returns the current netdev name of the VF representor
// identified by the owning PF's MAC address and the VF number.
func (a *Agent) ResolveVF(pfMAC devlink.EthAddr, vfNum uint16) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// Make sure the lookup tables are up to date.
	a.runLocked()
	n, ok := a.table.LookupOwnerVF(pfMAC, vfNum)
	if !ok {
		return "", ErrNotFound
	}
	return a.resolved(n)
}

// ResolvePF returns the current netdev name of the PF representor
// identified by bus/dev name and PF number.
func (a *Agent) ResolvePF(bus, dev string, pfNum uint16) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runLocked()
	n, ok := a.table.LookupBusDev(bus, dev, unix.DEVLINK_PORT_FLAVOUR_PCI_PF, uint32(pfNum))
	if !ok {
		return "", ErrNotFound
	}
	return a.resolved(n)
}

func (a *Agent) resolved(n *porttable.Node) (string, error) {
	if n.Name == devlink.StrNotPresent {
		return "", ErrNotFound
	}
	if a.table.RenameExpected(n) {
		log.Infof("lookup of representor port successful, but we anticipate "+
			"the netdev name to change, current netdev name: %s", n.Name)
		return "", ErrRenamePending
	}
	if a.cfg.VerifyNetdev {
		if err := netdev.Verify(n.Name, n.Ifindex); err != nil {
			log.Warnf("resolved representor failed verification: %v", err)
			return "", ErrNotFound
		}
	}
	return n.Name, nil
}
