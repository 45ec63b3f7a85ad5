package linker

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/codefile"
)

// PoisonValue is written at a patch site whose target could not be
// resolved, under UnresolvedPoison. Two-byte fields get its low half.
const PoisonValue uint32 = 0xDEADBEEF

// rangeError is a value/field mismatch. It matches
// ErrRelocationOutOfRange through errors.Is; misaligned marks branch
// targets that violate the field's implicit alignment, which are
// skipped rather than truncated under OutOfRangeTruncate.
type rangeError struct {
	msg        string
	misaligned bool
}

func (e *rangeError) Error() string { return e.msg }

func (e *rangeError) Is(target error) bool { return target == ErrRelocationOutOfRange }

func fitsUnsigned(v uint32, bits, clearedBits uint, truncate bool) error {
	if v&(1<<clearedBits-1) != 0 {
		return &rangeError{
			msg:        fmt.Sprintf("target 0x%08X is not %d-byte aligned", v, 1<<clearedBits),
			misaligned: true,
		}
	}
	if truncate {
		return nil
	}
	if v>>clearedBits >= 1<<bits {
		return &rangeError{msg: fmt.Sprintf("target 0x%08X does not fit in %d bits", v, bits)}
	}
	return nil
}

func fitsSigned(v int32, bits, clearedBits uint, truncate bool) error {
	if uint32(v)&(1<<clearedBits-1) != 0 {
		return &rangeError{
			msg:        fmt.Sprintf("branch offset %d is not %d-byte aligned", v, 1<<clearedBits),
			misaligned: true,
		}
	}
	if truncate {
		return nil
	}
	if s := v >> clearedBits; s < -(1<<(bits-1)) || s >= 1<<(bits-1) {
		return &rangeError{msg: fmt.Sprintf("branch offset %d does not fit in %d bits", v, bits)}
	}
	return nil
}

// patchValue computes the value to store for one relocation and how
// many bytes of it to write. initial is the 32-bit word already at
// the patch site; field-preserving kinds splice into it. With
// truncate set, range checks are waived and the value is masked into
// the field; alignment violations still error.
func patchValue(kind codefile.RelocKind, initial, site, target uint32, truncate bool) (uint32, int, error) {
	rel := int32(target - site)

	switch kind {
	case codefile.R_PPC_NONE:
		return 0, 0, nil

	case codefile.R_PPC_ADDR32:
		return target, 4, nil

	case codefile.R_PPC_ADDR24:
		// 24-bit branch immediate: bottom 2 and top 6 bits of the
		// instruction word are preserved.
		if err := fitsUnsigned(target, 24, 2, truncate); err != nil {
			return 0, 0, err
		}
		return initial&0xFC000003 | target&0x03FFFFFC, 4, nil

	case codefile.R_PPC_ADDR16:
		if err := fitsUnsigned(target, 16, 0, truncate); err != nil {
			return 0, 0, err
		}
		return target & 0xFFFF, 2, nil

	case codefile.R_PPC_ADDR16_LO:
		return target & 0xFFFF, 2, nil

	case codefile.R_PPC_ADDR16_HI:
		return target >> 16, 2, nil

	case codefile.R_PPC_ADDR16_HA:
		// High-adjusted: carries one into the top half when the low
		// half is negative as a signed 16-bit value, so that
		// (high << 16) + signed(low) reconstructs the address.
		ha := target >> 16
		if target&0x8000 != 0 {
			ha++
		}
		return ha & 0xFFFF, 2, nil

	case codefile.R_PPC_ADDR14, codefile.R_PPC_ADDR14_BRTAKEN, codefile.R_PPC_ADDR14_BRNTAKEN:
		// 14-bit conditional-branch immediate: bottom 2 and top 16
		// bits of the instruction word are preserved.
		if err := fitsUnsigned(target, 14, 2, truncate); err != nil {
			return 0, 0, err
		}
		return initial&0xFFFF0003 | target&0x0000FFFC, 4, nil

	case codefile.R_PPC_REL24:
		if err := fitsSigned(rel, 24, 2, truncate); err != nil {
			return 0, 0, err
		}
		return initial&0xFC000003 | uint32(rel)&0x03FFFFFC, 4, nil

	case codefile.R_PPC_REL14, codefile.R_PPC_REL14_BRTAKEN, codefile.R_PPC_REL14_BRNTAKEN:
		if err := fitsSigned(rel, 14, 2, truncate); err != nil {
			return 0, 0, err
		}
		return initial&0xFFFF0003 | uint32(rel)&0x0000FFFC, 4, nil
	}

	return 0, 0, fmt.Errorf("%w: %v", codefile.ErrMalformedRelocation, kind)
}

// kindSize is how many bytes a relocation kind writes.
func kindSize(kind codefile.RelocKind) int {
	switch kind {
	case codefile.R_PPC_NONE:
		return 0
	case codefile.R_PPC_ADDR16, codefile.R_PPC_ADDR16_LO,
		codefile.R_PPC_ADDR16_HI, codefile.R_PPC_ADDR16_HA:
		return 2
	}
	return 4
}

func writeField(b []byte, value uint32, size int) {
	if size == 2 {
		binary.BigEndian.PutUint16(b, uint16(value))
	} else {
		binary.BigEndian.PutUint32(b, value)
	}
}

func applyRelocations(mod *Module, idx *SymbolIndex, policy LinkPolicy, warnings *[]Warning) error {
	for _, imp := range mod.Imports {
		if err := applyImport(mod, imp, idx, policy, warnings); err != nil {
			return err
		}
	}
	return nil
}

// applyImport walks one relocation stream. Each record's offset is a
// delta from the previous patch position and accumulates before the
// record is interpreted, control kinds included.
func applyImport(mod *Module, imp codefile.Import, idx *SymbolIndex, policy LinkPolicy, warnings *[]Warning) error {
	sectionID := 0
	pos := uint32(0)

	for _, rec := range imp.Relocations {
		pos += uint32(rec.Offset)

		switch rec.Kind {
		case codefile.R_DOLPHIN_NOP:
			continue
		case codefile.R_DOLPHIN_SECTION:
			sectionID = int(rec.Section)
			pos = 0
			continue
		case codefile.R_DOLPHIN_END:
			return nil
		case codefile.R_DOLPHIN_MRKREF:
			warnf(warnings, mod.ID, "skipping %v", rec.Kind)
			continue
		}

		if sectionID >= len(mod.Sections) {
			return fmt.Errorf("%w: record patches section %d, but module %d has %d sections",
				codefile.ErrMalformedRelocation, sectionID, mod.ID, len(mod.Sections))
		}
		sec := mod.Sections[sectionID]
		// The full instruction word at the site is always read, so
		// even 2-byte patches need 4 addressable bytes.
		if uint64(pos)+4 > uint64(len(sec.Data)) {
			return fmt.Errorf("%w: patch site 0x%X is outside section %d's initialized bytes (module %d)",
				codefile.ErrMalformedRelocation, pos, sectionID, mod.ID)
		}
		site := sec.Addr + pos
		initial := binary.BigEndian.Uint32(sec.Data[pos:])

		target, err := idx.Resolve(imp.ModuleID, rec.Section, rec.Addend)
		if err != nil {
			if policy.OnUnresolved == UnresolvedFail {
				return fmt.Errorf("module %d at 0x%08X: %w", mod.ID, site, err)
			}
			if size := kindSize(rec.Kind); size > 0 {
				writeField(sec.Data[pos:], PoisonValue, size)
			}
			warnf(warnings, mod.ID, "%v at 0x%08X: %v; poisoned with 0x%08X", rec.Kind, site, err, PoisonValue)
			continue
		}

		value, size, err := patchValue(rec.Kind, initial, site, target, false)
		if err != nil {
			var re *rangeError
			if !errors.As(err, &re) {
				return fmt.Errorf("module %d at 0x%08X: %w", mod.ID, site, err)
			}
			if policy.OnOutOfRange == OutOfRangeFail {
				return fmt.Errorf("module %d: %v at 0x%08X: %w", mod.ID, rec.Kind, site, err)
			}
			if re.misaligned {
				warnf(warnings, mod.ID, "%v at 0x%08X: %v; skipped", rec.Kind, site, err)
				continue
			}
			value, size, _ = patchValue(rec.Kind, initial, site, target, true)
			warnf(warnings, mod.ID, "%v at 0x%08X: %v; truncated to fit", rec.Kind, site, err)
		}
		if size == 0 {
			continue
		}
		writeField(sec.Data[pos:], value, size)
	}
	return nil
}
