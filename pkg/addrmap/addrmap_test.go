package addrmap

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustAdd(t *testing.T, m *Mapper, start, end uint32, delta int64) {
	t.Helper()
	err := m.AddMapping(start, end, delta)
	assert.Truef(t, err == nil, "add mapping %08X-%08X: %v", start, end, err)
}

func TestRemapSingleInclusiveRanges(t *testing.T) {
	m := NewMapper("v1", nil)
	mustAdd(t, m, 0x80004000, 0x80004FFF, 0x20)
	mustAdd(t, m, 0x80006000, 0xFFFFFFFF, -0x100)

	silent := UnmappedHandling{Volume: VolumeSilent}

	got, ok, err := m.RemapSingle(0x80004000, silent)
	assert.True(t, err == nil && ok && got == 0x80004020, "range start is inclusive")

	got, _, _ = m.RemapSingle(0x80004FFF, silent)
	assert.Truef(t, got == 0x8000501F, "range end is inclusive, got %08X", got)

	got, _, _ = m.RemapSingle(0x80006123, silent)
	assert.Truef(t, got == 0x80006023, "negative delta applies, got %08X", got)

	got, ok, err = m.RemapSingleReverse(0x80004020, silent)
	assert.True(t, err == nil && ok && got == 0x80004000, "reverse undoes the shift")

	got, _, _ = m.RemapSingleReverse(0x80006023, silent)
	assert.Truef(t, got == 0x80006123, "reverse searches the shifted ranges, got %08X", got)
}

func TestAddMappingValidation(t *testing.T) {
	m := NewMapper("v1", nil)
	mustAdd(t, m, 0x80004000, 0x80004FFF, 0x20)

	err := m.AddMapping(0x80005000, 0x80004000, 0)
	assert.True(t, err != nil, "backwards range rejected")

	err = m.AddMapping(0x80004800, 0x80005800, 0)
	assert.True(t, err != nil, "overlapping range rejected")

	err = m.AddMapping(0x80005000, 0x80005FFF, 0)
	assert.Truef(t, err == nil, "adjacent range accepted: %v", err)
}

func TestUnmappedHandlingBehaviors(t *testing.T) {
	m := NewMapper("v1", nil)
	mustAdd(t, m, 0x80004000, 0x80004FFF, 0x20)

	got, ok, err := m.RemapSingle(0x80005555, UnmappedHandling{Volume: VolumeSilent})
	assert.True(t, err == nil && ok && got == 0x80005555, "passthrough keeps the address")

	_, ok, err = m.RemapSingle(0x80005555, UnmappedHandling{Volume: VolumeSilent, Behavior: BehaviorDrop})
	assert.True(t, err == nil && !ok, "drop discards the address")

	got, ok, err = m.RemapSingle(0x80005555, UnmappedHandling{Volume: VolumeSilent, Behavior: BehaviorPrevRange})
	assert.True(t, err == nil && ok && got == 0x80005575, "prev_range borrows the earlier delta")

	got, ok, err = m.RemapSingle(0x80000010, UnmappedHandling{Volume: VolumeSilent, Behavior: BehaviorPrevRange})
	assert.True(t, err == nil && ok && got == 0x80000010, "prev_range is identity below the first range")

	_, _, err = m.RemapSingle(0x80005555, UnmappedHandling{Volume: VolumeError})
	assert.True(t, errors.Is(err, ErrUnmappedAddress), "error volume aborts")
}

func TestRemapWalksTheChain(t *testing.T) {
	v1 := NewMapper("v1", nil)
	mustAdd(t, v1, 0x80000000, 0xFFFFFFFF, 0x100)
	v2 := NewMapper("v2", v1)
	mustAdd(t, v2, 0x80000000, 0xFFFFFFFF, 0x20)

	h := UnmappedHandling{Volume: VolumeError}

	got, ok, err := v2.Remap(0x80001000, h)
	assert.Truef(t, err == nil && ok && got == 0x80001120, "both deltas apply, got %08X (%v)", got, err)

	got, ok, err = v2.RemapReverse(0x80001120, h)
	assert.Truef(t, err == nil && ok && got == 0x80001000, "reverse walks back to the root, got %08X (%v)", got, err)
}

func TestMapAddrFromToCommonAncestor(t *testing.T) {
	p1 := NewMapper("P1", nil)
	mustAdd(t, p1, 0x80000000, 0xFFFFFFFF, 0x100)
	p2 := NewMapper("P2", p1)
	mustAdd(t, p2, 0x80000000, 0xFFFFFFFF, 0x20)
	e := NewMapper("E", p1)
	mustAdd(t, e, 0x80000000, 0xFFFFFFFF, -0x30)

	assert.True(t, LowestCommonAncestor(p2, e) == p1, "siblings meet at their shared base")
	assert.True(t, LowestCommonAncestor(p2, p1) == p1, "ancestor is its own meeting point")

	h := UnmappedHandling{Volume: VolumeError}

	got, ok, err := MapAddrFromTo(p2, e, 0x80001120, h)
	assert.Truef(t, err == nil && ok && got == 0x800010D0,
		"translation goes down to P1 and up to E, got %08X (%v)", got, err)

	got, ok, err = MapAddrFromTo(p2, p2, 0x80001120, h)
	assert.True(t, err == nil && ok && got == 0x80001120, "self translation is the identity")

	got, ok, err = MapAddrFromTo(p2, p1, 0x80001120, h)
	assert.Truef(t, err == nil && ok && got == 0x80001100, "translation to the ancestor only reverses, got %08X", got)
}

func TestLoadAddressMap(t *testing.T) {
	input := `# sample map
[P1]
80000000-80003fff: +0x0
80004000-*: +0x20

[P2]
extend P1
80004100-80004fff: -0x10
this line means nothing
`
	mappers, err := LoadAddressMap(strings.NewReader(input))
	assert.Truef(t, err == nil, "load should succeed: %v", err)

	for name := range mappers {
		t.Logf("version %s (%d ranges)", name, len(mappers[name].Mappings()))
	}
	assert.True(t, len(mappers) == 3, "default, P1 and P2")

	p1, p2 := mappers["P1"], mappers["P2"]
	assert.True(t, p1 != nil && p1.Base == nil, "P1 maps from the root")
	assert.True(t, p2 != nil && p2.Base == p1, "P2 extends P1")

	ranges := p1.Mappings()
	assert.Truef(t, len(ranges) == 2, "P1 has two ranges, got %d", len(ranges))
	assert.True(t, ranges[1].End == 0xFFFFFFFF && ranges[1].Delta == 0x20, "star runs to the end of space")

	got, ok, err := p2.Remap(0x80004200, UnmappedHandling{Volume: VolumeError})
	assert.Truef(t, err == nil && ok && got == 0x80004210,
		"chain applies +0x20 then -0x10, got %08X (%v)", got, err)
}

func TestLoadAddressMapErrors(t *testing.T) {
	_, err := LoadAddressMap(strings.NewReader("[P1]\n[P1]\n"))
	assert.True(t, err != nil, "duplicate version name")

	_, err = LoadAddressMap(strings.NewReader("[P1]\nextend Nope\n"))
	assert.True(t, err != nil, "extending an unknown version")

	_, err = LoadAddressMap(strings.NewReader("[P1]\n[P2]\nextend P1\nextend default\n"))
	assert.True(t, err != nil, "extending twice")

	_, err = LoadAddressMap(strings.NewReader("[P1]\n80005000-80004000: +0x0\n"))
	assert.True(t, err != nil, "backwards range surfaces the add error")
}
