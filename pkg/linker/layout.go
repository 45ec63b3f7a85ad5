package linker

import (
	"fmt"
	"sort"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/helpers"
)

// addrSpan is one occupied address range, end exclusive. Spans use
// 64-bit arithmetic so that ranges ending at 2^32 stay representable.
type addrSpan struct {
	start, end uint64
}

// insertSpan adds s to the sorted span list, rejecting any overlap
// with a range already present.
func insertSpan(spans *[]addrSpan, s addrSpan, moduleID uint32, section int) error {
	ndx := sort.Search(len(*spans), func(i int) bool { return (*spans)[i].start >= s.start })
	if ndx > 0 && (*spans)[ndx-1].end > s.start {
		return fmt.Errorf("%w: module %d section %d at [0x%08X, 0x%08X) overlaps [0x%08X, 0x%08X)",
			ErrLayoutConflict, moduleID, section, s.start, s.end, (*spans)[ndx-1].start, (*spans)[ndx-1].end)
	}
	if ndx < len(*spans) && (*spans)[ndx].start < s.end {
		return fmt.Errorf("%w: module %d section %d at [0x%08X, 0x%08X) overlaps [0x%08X, 0x%08X)",
			ErrLayoutConflict, moduleID, section, s.start, s.end, (*spans)[ndx].start, (*spans)[ndx].end)
	}
	*spans = helpers.Insert(*spans, ndx, s)
	return nil
}

// layoutModules clones every module and gives each section its final
// load address. The base module's addresses are authoritative and
// only reserved, never reassigned. It returns the addressed clones,
// base first, in input order.
func layoutModules(base *Module, extras []*Module, placements map[uint32]Placement) ([]*Module, error) {
	placed := make([]*Module, 0, len(extras)+1)
	placed = append(placed, cloneModule(base))

	var occupied []addrSpan
	for i, sec := range placed[0].Sections {
		if sec.IsNull() {
			continue
		}
		span := addrSpan{uint64(sec.Addr), uint64(sec.Addr) + uint64(sec.Size)}
		if err := insertSpan(&occupied, span, placed[0].ID, i); err != nil {
			return nil, err
		}
	}

	for _, mod := range extras {
		mod = cloneModule(mod)
		pl, explicit := placements[mod.ID]
		var err error
		switch {
		case explicit && len(pl.Sections) > 0:
			err = placeExplicit(mod, pl.Sections, &occupied)
		case explicit:
			err = placeFrom(mod, uint64(pl.Base), &occupied)
		default:
			err = placeAuto(mod, &occupied)
		}
		if err != nil {
			return nil, err
		}
		placed = append(placed, mod)
	}
	return placed, nil
}

// sectionAddrs packs mod's sections upward from start in index order
// and returns one address per section (zero for null sections) plus
// the first address past the module. ok is false when the module
// runs off the end of the 32-bit address space.
func sectionAddrs(mod *Module, start uint64) (addrs []uint32, end uint64, ok bool) {
	addrs = make([]uint32, len(mod.Sections))
	cur := start
	for i, sec := range mod.Sections {
		if sec.IsNull() {
			continue
		}
		align := uint64(mod.Align)
		if sec.IsBSS() {
			align = uint64(mod.BSSAlign)
		}
		cur = helpers.AlignUp(cur, align)
		if cur+uint64(sec.Size) > 1<<32 {
			return nil, 0, false
		}
		addrs[i] = uint32(cur)
		cur += uint64(sec.Size)
	}
	return addrs, cur, true
}

func applyAddrs(mod *Module, addrs []uint32, occupied *[]addrSpan) error {
	for i, sec := range mod.Sections {
		if sec.IsNull() {
			continue
		}
		sec.Addr = addrs[i]
		span := addrSpan{uint64(addrs[i]), uint64(addrs[i]) + uint64(sec.Size)}
		if err := insertSpan(occupied, span, mod.ID, i); err != nil {
			return err
		}
	}
	return nil
}

// placeExplicit assigns caller-chosen addresses, one per non-null
// section in index order.
func placeExplicit(mod *Module, explicit []uint32, occupied *[]addrSpan) error {
	nonNull := 0
	for _, sec := range mod.Sections {
		if !sec.IsNull() {
			nonNull++
		}
	}
	if len(explicit) != nonNull {
		return fmt.Errorf("placement for module %d lists %d section addresses, module has %d non-null sections",
			mod.ID, len(explicit), nonNull)
	}
	addrs := make([]uint32, len(mod.Sections))
	next := 0
	for i, sec := range mod.Sections {
		if sec.IsNull() {
			continue
		}
		addrs[i] = explicit[next]
		next++
	}
	return applyAddrs(mod, addrs, occupied)
}

func placeFrom(mod *Module, start uint64, occupied *[]addrSpan) error {
	addrs, _, ok := sectionAddrs(mod, start)
	if !ok {
		return fmt.Errorf("%w: module %d does not fit above 0x%08X", ErrLayoutConflict, mod.ID, start)
	}
	return applyAddrs(mod, addrs, occupied)
}

// placeAuto packs mod into the lowest gap that holds all of its
// sections. Gaps are scanned between and after the occupied spans;
// nothing is ever placed below the lowest of them.
func placeAuto(mod *Module, occupied *[]addrSpan) error {
	spans := *occupied
	if len(spans) == 0 {
		return placeFrom(mod, 0, occupied)
	}
	for i := range spans {
		gapStart := spans[i].end
		gapEnd := uint64(1) << 32
		if i+1 < len(spans) {
			gapEnd = spans[i+1].start
		}
		addrs, end, ok := sectionAddrs(mod, gapStart)
		if ok && end <= gapEnd {
			return applyAddrs(mod, addrs, occupied)
		}
	}
	return fmt.Errorf("%w: no address gap fits module %d", ErrLayoutConflict, mod.ID)
}
