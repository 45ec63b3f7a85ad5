// Package addrmap translates memory addresses between different
// builds of one program. Each build ("version") declares address
// ranges shifted by fixed deltas relative to a base version, and the
// versions chain into a tree rooted at the identity "default"
// version. An address maps between any two versions by remapping
// backwards down to their lowest common ancestor and forwards back
// up.
package addrmap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/helpers"
	"github.com/RoadrunnerWMC/wii-code-tools/pkg/log"
)

// ErrUnmappedAddress reports an address no range covers, under
// VolumeError handling.
var ErrUnmappedAddress = errors.New("unmapped address")

// Volume is how loudly unmapped addresses are complained about.
type Volume int

const (
	VolumeWarning Volume = iota
	VolumeError
	VolumeSilent
)

func (v Volume) String() string {
	switch v {
	case VolumeError:
		return "error"
	case VolumeSilent:
		return "silent"
	}
	return "warning"
}

// ParseVolume reads a Volume name as written on command lines.
func ParseVolume(s string) (Volume, error) {
	switch s {
	case "error":
		return VolumeError, nil
	case "warning":
		return VolumeWarning, nil
	case "silent":
		return VolumeSilent, nil
	}
	return 0, fmt.Errorf("unknown error volume %q (want error, warning or silent)", s)
}

// Behavior is what an unmapped address turns into.
type Behavior int

const (
	// BehaviorPassthrough returns the address unchanged.
	BehaviorPassthrough Behavior = iota
	// BehaviorDrop discards the address.
	BehaviorDrop
	// BehaviorPrevRange applies the delta of the nearest mapped
	// range below the address.
	BehaviorPrevRange
)

func (b Behavior) String() string {
	switch b {
	case BehaviorDrop:
		return "drop"
	case BehaviorPrevRange:
		return "prev_range"
	}
	return "passthrough"
}

// ParseBehavior reads a Behavior name as written on command lines.
func ParseBehavior(s string) (Behavior, error) {
	switch s {
	case "drop":
		return BehaviorDrop, nil
	case "passthrough":
		return BehaviorPassthrough, nil
	case "prev_range":
		return BehaviorPrevRange, nil
	}
	return 0, fmt.Errorf("unknown behavior %q (want drop, passthrough or prev_range)", s)
}

// UnmappedHandling configures what happens to addresses outside every
// mapped range. The zero value warns and passes them through.
type UnmappedHandling struct {
	Volume   Volume
	Behavior Behavior
}

// Mapping shifts one address range by a fixed delta. Start and End
// are both inclusive.
type Mapping struct {
	Start uint32
	End   uint32
	Delta int64
}

// Overlaps reports whether the two source ranges intersect.
func (m Mapping) Overlaps(o Mapping) bool {
	return m.End >= o.Start && m.Start <= o.End
}

func (m Mapping) String() string {
	sign, delta := "+", m.Delta
	if delta < 0 {
		sign, delta = "-", -delta
	}
	return fmt.Sprintf("%08X-%08X: %s0x%X", m.Start, m.End, sign, delta)
}

func (m Mapping) apply(addr uint32) uint32   { return uint32(int64(addr) + m.Delta) }
func (m Mapping) unapply(addr uint32) uint32 { return uint32(int64(addr) - m.Delta) }

// The shifted image of the range, in 64-bit space so that deltas
// pushing past the 32-bit boundary still order correctly.
func (m Mapping) targetStart() int64 { return int64(m.Start) + m.Delta }
func (m Mapping) targetEnd() int64   { return int64(m.End) + m.Delta }

// Mapper is one version's address mapping relative to its Base
// version. A nil Base means addresses come straight from the root
// "default" space.
type Mapper struct {
	Name string
	Base *Mapper

	forward  []Mapping // sorted by Start
	backward []Mapping // sorted by shifted range start
}

func NewMapper(name string, base *Mapper) *Mapper {
	return &Mapper{Name: name, Base: base}
}

// Mappings returns the ranges sorted by start address.
func (m *Mapper) Mappings() []Mapping {
	return m.forward
}

// AddMapping registers one range. Source ranges may not overlap an
// existing one.
func (m *Mapper) AddMapping(start, end uint32, delta int64) error {
	if start > end {
		return fmt.Errorf("cannot map %08X-%08X as start is higher than end", start, end)
	}
	nm := Mapping{Start: start, End: end, Delta: delta}

	ndx := sort.Search(len(m.forward), func(i int) bool { return m.forward[i].Start >= nm.Start })
	if ndx > 0 && m.forward[ndx-1].Overlaps(nm) {
		return fmt.Errorf("mapping \"%s\" overlaps with earlier mapping \"%s\"", nm, m.forward[ndx-1])
	}
	if ndx < len(m.forward) && m.forward[ndx].Overlaps(nm) {
		return fmt.Errorf("mapping \"%s\" overlaps with earlier mapping \"%s\"", nm, m.forward[ndx])
	}
	m.forward = helpers.Insert(m.forward, ndx, nm)

	rdx := sort.Search(len(m.backward), func(i int) bool { return m.backward[i].targetStart() >= nm.targetStart() })
	m.backward = helpers.Insert(m.backward, rdx, nm)
	return nil
}

// RemapSingle maps an address from the Base version's space into
// this version's.
func (m *Mapper) RemapSingle(addr uint32, h UnmappedHandling) (uint32, bool, error) {
	ndx := sort.Search(len(m.forward), func(i int) bool { return m.forward[i].Start > addr })
	if ndx > 0 && addr <= m.forward[ndx-1].End {
		return m.forward[ndx-1].apply(addr), true, nil
	}
	return m.handleUnmapped(addr, h, false)
}

// RemapSingleReverse maps an address from this version's space back
// into the Base version's.
func (m *Mapper) RemapSingleReverse(addr uint32, h UnmappedHandling) (uint32, bool, error) {
	a := int64(addr)
	ndx := sort.Search(len(m.backward), func(i int) bool { return m.backward[i].targetStart() > a })
	if ndx > 0 && a <= m.backward[ndx-1].targetEnd() {
		return m.backward[ndx-1].unapply(addr), true, nil
	}
	return m.handleUnmapped(addr, h, true)
}

// Remap maps an address from the root version's space into this
// version's, through every mapper on the chain.
func (m *Mapper) Remap(addr uint32, h UnmappedHandling) (uint32, bool, error) {
	if m.Base != nil {
		var ok bool
		var err error
		addr, ok, err = m.Base.Remap(addr, h)
		if err != nil || !ok {
			return 0, false, err
		}
	}
	return m.RemapSingle(addr, h)
}

// RemapReverse maps an address from this version's space back into
// the root version's.
func (m *Mapper) RemapReverse(addr uint32, h UnmappedHandling) (uint32, bool, error) {
	addr, ok, err := m.RemapSingleReverse(addr, h)
	if err != nil || !ok {
		return 0, false, err
	}
	if m.Base != nil {
		return m.Base.RemapReverse(addr, h)
	}
	return addr, true, nil
}

// handleUnmapped decides what an uncovered address becomes. The
// returned bool is false when the address is dropped.
func (m *Mapper) handleUnmapped(addr uint32, h UnmappedHandling, reversed bool) (uint32, bool, error) {
	// Nearest ranges on either side, in whichever space was
	// searched. BehaviorPrevRange needs them even when nothing gets
	// reported.
	var before, after *Mapping
	if reversed {
		a := int64(addr)
		for i := range m.backward {
			switch {
			case m.backward[i].targetEnd() < a:
				before = &m.backward[i]
			case m.backward[i].targetStart() > a && after == nil:
				after = &m.backward[i]
			}
		}
	} else {
		for i := range m.forward {
			switch {
			case m.forward[i].End < addr:
				before = &m.forward[i]
			case m.forward[i].Start > addr && after == nil:
				after = &m.forward[i]
			}
		}
	}

	if h.Volume != VolumeSilent {
		from, to := m.Base, m
		if reversed {
			from, to = m, m.Base
		}
		var desc string
		switch {
		case before == nil && after == nil:
			desc = "can't be mapped because there are no address ranges"
		case before == nil:
			desc = "falls before first address range"
		case after == nil:
			desc = "falls after last address range"
		default:
			images := ""
			if reversed {
				images = "images of "
			}
			desc = fmt.Sprintf("falls between %s\"%s\" and \"%s\"", images, before, after)
		}
		msg := fmt.Sprintf("[%s -> %s]: %08X %s", mapperName(from), mapperName(to), addr, desc)
		if h.Volume == VolumeError {
			return 0, false, fmt.Errorf("%w: %s", ErrUnmappedAddress, msg)
		}
		log.Warnf("%s", msg)
	}

	switch h.Behavior {
	case BehaviorDrop:
		return 0, false, nil
	case BehaviorPrevRange:
		if before == nil {
			// The delta is implicitly +0x0 below the first range.
			return addr, true, nil
		}
		if reversed {
			return before.unapply(addr), true, nil
		}
		return before.apply(addr), true, nil
	}
	return addr, true, nil
}

func mapperName(m *Mapper) string {
	if m == nil {
		return "default"
	}
	return m.Name
}

// LowestCommonAncestor returns the deepest mapper on both base
// chains, or nil when the chains share none.
func LowestCommonAncestor(a, b *Mapper) *Mapper {
	var path []*Mapper
	for cur := a; cur != nil; cur = cur.Base {
		path = append(path, cur)
	}
	for cur := b; cur != nil; cur = cur.Base {
		if helpers.Find(path, cur) != -1 {
			return cur
		}
	}
	return nil
}

// MapAddrFromTo translates an address between two versions:
// backwards from the source down to the common ancestor, then
// forwards up to the destination.
func MapAddrFromTo(from, to *Mapper, addr uint32, h UnmappedHandling) (uint32, bool, error) {
	lca := LowestCommonAncestor(from, to)

	for cur := from; cur != lca; cur = cur.Base {
		var ok bool
		var err error
		addr, ok, err = cur.RemapSingleReverse(addr, h)
		if err != nil || !ok {
			return 0, false, err
		}
	}

	var chain []*Mapper
	for cur := to; cur != lca; cur = cur.Base {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		var ok bool
		var err error
		addr, ok, err = chain[i].RemapSingle(addr, h)
		if err != nil || !ok {
			return 0, false, err
		}
	}
	return addr, true, nil
}
