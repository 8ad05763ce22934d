// Package porttable maintains the mapping between devlink ports and the
// netdev names they currently carry. One logical set of port nodes is kept
// reachable through three independent indices:
//
//   - netdev ifindex                       - all nodes
//   - bus/dev + flavour + number           - PHYSICAL and PCI_PF nodes
//   - owner (PF) MAC + VF number           - PCI_VF nodes
//
// There is only a small number of PHYSICAL and PCI_PF ports per device, but
// every update to a VF needs its owning PF to maintain the MAC+VF index.
// The identity of a function node across renames is (owner MAC, VF number);
// its identity across a MAC change is the ifindex. Neither alone suffices,
// hence the three indices.
package porttable

import (
	"math"

	"github.com/edge-sdn/repagent/pkg/devlink"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Provenance records which input source created a node.
type Provenance int

const (
	// FromDump marks nodes created by bulk enumeration at startup.
	FromDump Provenance = iota
	// FromLive marks nodes created by a live port notification.
	FromLive
)

// Node is one tracked port. Nodes are owned by the table; callers must
// treat them as read-only snapshots valid until the next mutation.
type Node struct {
	Ifindex uint32
	Name    string
	// Renamed is set once the node's name changed after creation.
	Renamed bool
	Flavour uint16
	// Number is the flavour-specific number: the physical port number for
	// PHYSICAL nodes, the PCI PF number for PCI_PF nodes and the PCI VF
	// number for PCI_VF nodes.
	Number     uint32
	HWAddr     devlink.EthAddr
	Provenance Provenance

	// Owning PCI_PF node, referenced by ifindex and resolved lazily so a
	// deleted owner can never dangle. Valid only for PCI_VF nodes.
	ownerIfindex uint32
	hasOwner     bool
}

// Record is the input to Upsert and Remove. The three flavour-specific
// numbers are distinct optional values; a nil pointer means the kernel did
// not report that number. They are deliberately not collapsed into one
// shared "no number" sentinel because "no physical port number" and "no
// PF/VF number" are unrelated conditions.
type Record struct {
	BusName    string
	DevName    string
	Ifindex    uint32
	Name       string
	Flavour    uint16
	Number     *uint32
	PFNumber   *uint16
	VFNumber   *uint16
	HWAddr     devlink.EthAddr
	Provenance Provenance
}

type busDevKey struct {
	bus     string
	dev     string
	flavour uint16
	number  uint32
}

type ownerVFKey struct {
	mac devlink.EthAddr
	vf  uint16
}

// Table is the port store. It is not safe for concurrent use; exactly one
// mutator must be active at a time.
type Table struct {
	nodes     map[uint32]*Node      // by netdev ifindex
	byBusDev  map[busDevKey]uint32  // PHYSICAL and PCI_PF only
	byOwnerVF map[ownerVFKey]uint32 // PCI_VF only

	// MACFallback resolves the host facing MAC of a PF representor whose
	// devlink record carries no address, keyed by the netdev name of the
	// sibling PHYSICAL port. Nil disables the fallback.
	MACFallback func(physNetdevName string) (devlink.EthAddr, error)

	// RenameMonitored is set by the agent when the rename event channel is
	// available, enabling RenameExpected.
	RenameMonitored bool
}

// New returns an empty table.
func New() *Table {
	return &Table{
		nodes:     make(map[uint32]*Node),
		byBusDev:  make(map[busDevKey]uint32),
		byOwnerVF: make(map[ownerVFKey]uint32),
	}
}

// Destroy drains all three indices.
func (t *Table) Destroy() {
	t.nodes = make(map[uint32]*Node)
	t.byBusDev = make(map[busDevKey]uint32)
	t.byOwnerVF = make(map[ownerVFKey]uint32)
}

// Len returns the number of tracked nodes.
func (t *Table) Len() int {
	return len(t.nodes)
}

// LookupIfindex finds a node by its netdev ifindex.
func (t *Table) LookupIfindex(ifindex uint32) (*Node, bool) {
	n, ok := t.nodes[ifindex]
	return n, ok
}

// LookupBusDev finds a PHYSICAL or PCI_PF node by bus/dev name, flavour and
// flavour-specific number.
func (t *Table) LookupBusDev(bus, dev string, flavour uint16, number uint32) (*Node, bool) {
	ifindex, ok := t.byBusDev[busDevKey{bus: bus, dev: dev, flavour: flavour, number: number}]
	if !ok {
		return nil, false
	}
	return t.nodes[ifindex], true
}

// LookupOwnerVF finds a PCI_VF node by its owning PF's MAC address and the
// VF number.
func (t *Table) LookupOwnerVF(mac devlink.EthAddr, vfNum uint16) (*Node, bool) {
	ifindex, ok := t.byOwnerVF[ownerVFKey{mac: mac, vf: vfNum}]
	if !ok {
		return nil, false
	}
	return t.nodes[ifindex], true
}

// Owner resolves the owning PCI_PF node of a function node. It returns
// false for non-function nodes and for owners that have been deleted since.
func (t *Table) Owner(n *Node) (*Node, bool) {
	if !n.hasOwner {
		return nil, false
	}
	owner, ok := t.nodes[n.ownerIfindex]
	return owner, ok
}

// RenameExpected reports whether the node's name is anticipated to change:
// the node was first seen through a live event, no rename arrived yet, and
// the rename event channel is available to deliver one.
func (t *Table) RenameExpected(n *Node) bool {
	return t.RenameMonitored && n.Provenance == FromLive && !n.Renamed
}

func (n *Node) updateName(name string) {
	if n.Name != name {
		n.Name = name
		n.Renamed = true
	}
}

// Upsert inserts or updates the node identified by r. PHYSICAL and PCI_PF
// records are keyed by bus/dev, flavour and number; PCI_VF records by their
// owning PF's MAC and the VF number. An upsert on an existing key updates
// only the name; identity is never mutated in place. Soft failures
// (unsupported flavour, missing number, unknown owner) are logged and leave
// the table unchanged, returning nil.
func (t *Table) Upsert(r Record) *Node {
	switch r.Flavour {
	case unix.DEVLINK_PORT_FLAVOUR_PHYSICAL, unix.DEVLINK_PORT_FLAVOUR_PCI_PF:
		number, ok := r.physNumber()
		if !ok {
			log.Warnf("port %q (%s/%s) carries no %s number, ignoring",
				r.Name, r.BusName, r.DevName, devlink.FlavourName(r.Flavour))
			return nil
		}
		return t.upsertPhys(r, number)
	case unix.DEVLINK_PORT_FLAVOUR_PCI_VF:
		if r.PFNumber == nil || r.VFNumber == nil {
			log.Warnf("function port %q (%s/%s) carries no PF/VF number, ignoring",
				r.Name, r.BusName, r.DevName)
			return nil
		}
		return t.upsertFunction(r)
	default:
		log.Warnf("unsupported flavour for port %q: %s", r.Name, devlink.FlavourName(r.Flavour))
		return nil
	}
}

// physNumber selects the identity number of a PHYSICAL or PCI_PF record.
func (r Record) physNumber() (uint32, bool) {
	if r.Flavour == unix.DEVLINK_PORT_FLAVOUR_PHYSICAL {
		if r.Number == nil {
			return 0, false
		}
		return *r.Number, true
	}
	if r.PFNumber == nil {
		return 0, false
	}
	return uint32(*r.PFNumber), true
}

func (t *Table) upsertPhys(r Record, number uint32) *Node {
	key := busDevKey{bus: r.BusName, dev: r.DevName, flavour: r.Flavour, number: number}
	if ifindex, ok := t.byBusDev[key]; ok {
		n := t.nodes[ifindex]
		n.updateName(r.Name)
		return n
	}
	n := &Node{
		Ifindex:    r.Ifindex,
		Name:       r.Name,
		Flavour:    r.Flavour,
		Number:     number,
		HWAddr:     r.HWAddr,
		Provenance: r.Provenance,
	}
	t.nodes[n.Ifindex] = n
	t.byBusDev[key] = n.Ifindex
	return n
}

func (t *Table) upsertFunction(r Record) *Node {
	pf, ok := t.LookupBusDev(r.BusName, r.DevName,
		unix.DEVLINK_PORT_FLAVOUR_PCI_PF, uint32(*r.PFNumber))
	if !ok {
		log.Warnf("attempt to add function before having knowledge about PF, "+
			"bus_dev %s/%s pf_number %d", r.BusName, r.DevName, *r.PFNumber)
		return nil
	}
	if n, ok := t.nodes[r.Ifindex]; ok {
		n.updateName(r.Name)
		return n
	}
	n := &Node{
		Ifindex:      r.Ifindex,
		Name:         r.Name,
		Flavour:      r.Flavour,
		Number:       uint32(*r.VFNumber),
		HWAddr:       r.HWAddr,
		Provenance:   r.Provenance,
		ownerIfindex: pf.Ifindex,
		hasOwner:     true,
	}
	t.nodes[n.Ifindex] = n
	t.byOwnerVF[ownerVFKey{mac: pf.HWAddr, vf: *r.VFNumber}] = n.Ifindex
	return n
}

// Remove deletes the node identified by r. Removing an unknown key is a
// logged no-op. Returns whether a node was removed.
func (t *Table) Remove(r Record) bool {
	switch r.Flavour {
	case unix.DEVLINK_PORT_FLAVOUR_PHYSICAL, unix.DEVLINK_PORT_FLAVOUR_PCI_PF:
		number, ok := r.physNumber()
		if !ok {
			log.Warnf("attempt to remove %s port without number, bus_dev %s/%s",
				devlink.FlavourName(r.Flavour), r.BusName, r.DevName)
			return false
		}
		return t.removePhys(r, number)
	case unix.DEVLINK_PORT_FLAVOUR_PCI_VF:
		if r.PFNumber == nil || r.VFNumber == nil {
			log.Warnf("attempt to remove function without PF/VF number, bus_dev %s/%s",
				r.BusName, r.DevName)
			return false
		}
		return t.removeFunction(r)
	default:
		log.Warnf("attempt to remove port of unsupported flavour %s",
			devlink.FlavourName(r.Flavour))
		return false
	}
}

func (t *Table) removePhys(r Record, number uint32) bool {
	key := busDevKey{bus: r.BusName, dev: r.DevName, flavour: r.Flavour, number: number}
	ifindex, ok := t.byBusDev[key]
	if !ok {
		log.Warnf("attempt to remove non-existing device %s/%s %d",
			r.BusName, r.DevName, number)
		return false
	}
	delete(t.byBusDev, key)
	delete(t.nodes, ifindex)
	return true
}

func (t *Table) removeFunction(r Record) bool {
	pf, ok := t.LookupBusDev(r.BusName, r.DevName,
		unix.DEVLINK_PORT_FLAVOUR_PCI_PF, uint32(*r.PFNumber))
	if !ok {
		log.Warnf("attempt to remove function with non-existing PF "+
			"bus_dev %s/%s pf_number %d", r.BusName, r.DevName, *r.PFNumber)
		return false
	}
	key := ownerVFKey{mac: pf.HWAddr, vf: *r.VFNumber}
	ifindex, ok := t.byOwnerVF[key]
	if !ok {
		log.Warnf("attempt to remove non-existing function %s-%d",
			pf.Name, *r.VFNumber)
		return false
	}
	delete(t.byOwnerVF, key)
	delete(t.nodes, ifindex)
	return true
}

// Rename updates the name of the node tracked under ifindex, in place.
// Untracked ifindexes return false.
func (t *Table) Rename(ifindex uint32, name string) bool {
	n, ok := t.nodes[ifindex]
	if !ok {
		return false
	}
	n.updateName(name)
	return true
}

// ApplyPort routes one decoded devlink port record into the table,
// applying the PF MAC fallback when required. Returns whether the table
// changed.
func (t *Table) ApplyPort(p *devlink.Port, prov Provenance) bool {
	switch p.Flavour {
	case unix.DEVLINK_PORT_FLAVOUR_PHYSICAL,
		unix.DEVLINK_PORT_FLAVOUR_PCI_PF,
		unix.DEVLINK_PORT_FLAVOUR_PCI_VF:
	default:
		log.Warnf("unsupported flavour for port %q: %s",
			p.NetdevName, devlink.FlavourName(p.Flavour))
		return false
	}

	mac := p.Function.EthAddr
	if p.Flavour == unix.DEVLINK_PORT_FLAVOUR_PCI_PF && mac.IsZero() {
		// The PF representor does not have a host facing MAC address
		// set. Kernels without devlink-port function support expose it
		// through a sysfs interface relative to the netdev name of a
		// PHYSICAL port. There is no association between PHYSICAL and
		// PCI_PF ports in the devlink data model, but they correlate on
		// the devices where this fallback is necessary.
		var ok bool
		if mac, ok = t.fallbackPFMAC(p); !ok {
			return false
		}
	}

	return t.Upsert(Record{
		BusName:    p.BusName,
		DevName:    p.DevName,
		Ifindex:    p.NetdevIfindex,
		Name:       p.NetdevName,
		Flavour:    p.Flavour,
		Number:     p.PortNumber(),
		PFNumber:   p.PFNumber(),
		VFNumber:   p.VFNumber(),
		HWAddr:     mac,
		Provenance: prov,
	}) != nil
}

func (t *Table) fallbackPFMAC(p *devlink.Port) (devlink.EthAddr, bool) {
	pfNum := p.PFNumber()
	if pfNum == nil {
		log.Warnf("PF port %q carries neither MAC nor PF number", p.NetdevName)
		return devlink.EthAddr{}, false
	}
	phys, ok := t.LookupBusDev(p.BusName, p.DevName,
		unix.DEVLINK_PORT_FLAVOUR_PHYSICAL, uint32(*pfNum))
	if !ok {
		log.Warn("unable to find PHYSICAL representor for fallback lookup of host PF MAC address")
		return devlink.EthAddr{}, false
	}
	if t.MACFallback == nil {
		log.Warn("no fallback source for host PF MAC address configured")
		return devlink.EthAddr{}, false
	}
	mac, err := t.MACFallback(phys.Name)
	if err != nil {
		log.Warnf("fallback lookup of host PF MAC address failed: %v", err)
		return devlink.EthAddr{}, false
	}
	return mac, true
}

// DeletePort routes one decoded devlink port record to Remove. Returns
// whether the table changed.
func (t *Table) DeletePort(p *devlink.Port) bool {
	return t.Remove(Record{
		BusName:  p.BusName,
		DevName:  p.DevName,
		Ifindex:  p.NetdevIfindex,
		Flavour:  p.Flavour,
		Number:   p.PortNumber(),
		PFNumber: p.PFNumber(),
		VFNumber: p.VFNumber(),
	})
}

// Nodes returns a snapshot slice of all tracked nodes, for status
// reporting. Order is unspecified.
func (t *Table) Nodes() []*Node {
	nodes := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// OwnerIfindex returns the ifindex of the node's owning PF, or
// math.MaxUint32 when the node has no owner.
func (n *Node) OwnerIfindex() uint32 {
	if !n.hasOwner {
		return math.MaxUint32
	}
	return n.ownerIfindex
}
