package devlink

import (
	"bytes"
	"fmt"
	"math"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// StrNotPresent is the value string accessors return for absent optional
// attributes. Callers may compare against it directly.
const StrNotPresent = ""

// Integer accessors return the maximum value of the attribute's declared
// type when the attribute is absent. Presence of individual attributes
// depends on the kernel version and on the driver filling in the data for
// each device, so callers must treat these markers as "not present" rather
// than as ordinary values.

type attrKind uint8

const (
	kindU8 attrKind = iota
	kindU16
	kindU32
	kindU64
	kindString
	kindNested
	kindHWAddr
)

// policyField declares the expected payload kind of a single attribute and
// whether the attribute may be absent.
type policyField struct {
	kind     attrKind
	optional bool
}

// policy maps attribute IDs to their declarations. IDs must match the
// kernel's devlink numbering exactly; attributes introduced by later kernel
// versions are declared optional so replies from older kernels still decode.
type policy map[uint16]policyField

// Netlink attribute type field carries flag bits above the actual type.
const attrTypeMask = 0x3fff

// fields holds the raw payloads of the attributes found in one message,
// validated against a policy. Typed accessors convert individual payloads
// on demand and substitute absence markers for missing optional attributes.
type fields struct {
	attrs map[uint16][]byte
}

// parseAttrs validates a raw attribute payload against pol. It fails when a
// mandatory attribute is missing or when any declared attribute has an
// unexpected payload width; unknown attribute IDs are skipped so newer
// kernels remain decodable. On failure the returned fields must not be used.
func parseAttrs(data []byte, pol policy) (*fields, error) {
	attrs, err := netlink.UnmarshalAttributes(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	f := &fields{attrs: make(map[uint16][]byte, len(attrs))}
	for _, a := range attrs {
		typ := a.Type & attrTypeMask
		decl, ok := pol[typ]
		if !ok {
			continue
		}
		if err := checkWidth(decl.kind, a.Data); err != nil {
			return nil, fmt.Errorf("attribute %d: %w", typ, err)
		}
		f.attrs[typ] = a.Data
	}
	for id, decl := range pol {
		if decl.optional {
			continue
		}
		if _, ok := f.attrs[id]; !ok {
			return nil, fmt.Errorf("missing mandatory attribute %d", id)
		}
	}
	return f, nil
}

func checkWidth(kind attrKind, data []byte) error {
	var want int
	switch kind {
	case kindU8:
		want = 1
	case kindU16:
		want = 2
	case kindU32:
		want = 4
	case kindU64:
		want = 8
	default:
		// Strings, nested payloads and hardware addresses are
		// variable-width; hardware address widths are checked at
		// access time because the width selects the address variant.
		return nil
	}
	if len(data) != want {
		return fmt.Errorf("unexpected payload width %d, want %d", len(data), want)
	}
	return nil
}

func (f *fields) present(id uint16) bool {
	_, ok := f.attrs[id]
	return ok
}

func (f *fields) uint8(id uint16) uint8 {
	b, ok := f.attrs[id]
	if !ok {
		return math.MaxUint8
	}
	return b[0]
}

func (f *fields) uint16(id uint16) uint16 {
	b, ok := f.attrs[id]
	if !ok {
		return math.MaxUint16
	}
	return nlenc.Uint16(b)
}

func (f *fields) uint32(id uint16) uint32 {
	b, ok := f.attrs[id]
	if !ok {
		return math.MaxUint32
	}
	return nlenc.Uint32(b)
}

func (f *fields) uint64(id uint16) uint64 {
	b, ok := f.attrs[id]
	if !ok {
		return math.MaxUint64
	}
	return nlenc.Uint64(b)
}

func (f *fields) string(id uint16) string {
	b, ok := f.attrs[id]
	if !ok {
		return StrNotPresent
	}
	return string(bytes.TrimRight(b, "\x00"))
}

// hwAddr populates the address variant selected by the payload width: 6
// bytes for Ethernet, 20 bytes for InfiniBand. Any other width is a decode
// failure. An absent attribute leaves both variants all-zero.
func (f *fields) hwAddr(id uint16) (EthAddr, IBAddr, error) {
	var (
		ea EthAddr
		ia IBAddr
	)
	b, ok := f.attrs[id]
	if !ok {
		return ea, ia, nil
	}
	switch len(b) {
	case len(ea):
		copy(ea[:], b)
	case len(ia):
		copy(ia[:], b)
	default:
		return ea, ia, fmt.Errorf("attribute %d: unexpected hardware address width %d", id, len(b))
	}
	return ea, ia, nil
}

func (f *fields) nested(id uint16) ([]byte, bool) {
	b, ok := f.attrs[id]
	return b, ok
}
