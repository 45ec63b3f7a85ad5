package codefile

import (
	"encoding/binary"
	"fmt"
)

// RelocKind identifies a REL relocation type. The names below 14 are
// standard PowerPC ELF relocations; the 20x range is specific to
// Dolphin-family RELs and controls the relocation stream itself.
type RelocKind uint8

const (
	R_PPC_NONE            RelocKind = 0
	R_PPC_ADDR32          RelocKind = 1
	R_PPC_ADDR24          RelocKind = 2
	R_PPC_ADDR16          RelocKind = 3
	R_PPC_ADDR16_LO       RelocKind = 4
	R_PPC_ADDR16_HI       RelocKind = 5
	R_PPC_ADDR16_HA       RelocKind = 6
	R_PPC_ADDR14          RelocKind = 7
	R_PPC_ADDR14_BRTAKEN  RelocKind = 8
	R_PPC_ADDR14_BRNTAKEN RelocKind = 9
	R_PPC_REL24           RelocKind = 10
	R_PPC_REL14           RelocKind = 11
	R_PPC_REL14_BRTAKEN   RelocKind = 12
	R_PPC_REL14_BRNTAKEN  RelocKind = 13

	R_DOLPHIN_NOP     RelocKind = 201
	R_DOLPHIN_SECTION RelocKind = 202
	R_DOLPHIN_END     RelocKind = 203
	R_DOLPHIN_MRKREF  RelocKind = 204
)

var relocKindNames = map[RelocKind]string{
	R_PPC_NONE:            "R_PPC_NONE",
	R_PPC_ADDR32:          "R_PPC_ADDR32",
	R_PPC_ADDR24:          "R_PPC_ADDR24",
	R_PPC_ADDR16:          "R_PPC_ADDR16",
	R_PPC_ADDR16_LO:       "R_PPC_ADDR16_LO",
	R_PPC_ADDR16_HI:       "R_PPC_ADDR16_HI",
	R_PPC_ADDR16_HA:       "R_PPC_ADDR16_HA",
	R_PPC_ADDR14:          "R_PPC_ADDR14",
	R_PPC_ADDR14_BRTAKEN:  "R_PPC_ADDR14_BRTAKEN",
	R_PPC_ADDR14_BRNTAKEN: "R_PPC_ADDR14_BRNTAKEN",
	R_PPC_REL24:           "R_PPC_REL24",
	R_PPC_REL14:           "R_PPC_REL14",
	R_PPC_REL14_BRTAKEN:   "R_PPC_REL14_BRTAKEN",
	R_PPC_REL14_BRNTAKEN:  "R_PPC_REL14_BRNTAKEN",
	R_DOLPHIN_NOP:         "R_DOLPHIN_NOP",
	R_DOLPHIN_SECTION:     "R_DOLPHIN_SECTION",
	R_DOLPHIN_END:         "R_DOLPHIN_END",
	R_DOLPHIN_MRKREF:      "R_DOLPHIN_MRKREF",
}

func (k RelocKind) IsValid() bool {
	_, ok := relocKindNames[k]
	return ok
}

func (k RelocKind) String() string {
	if name, ok := relocKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("RelocKind(%d)", uint8(k))
}

// Relocation is one 8-byte record in a relocation stream. Offset is
// a byte delta from the previous record's patch position, applied
// before the record itself is interpreted.
type Relocation struct {
	Offset  uint16
	Kind    RelocKind
	Section uint8
	Addend  uint32
}

// Import is one imp-table entry: the relocation stream to apply
// against a single target module. Module 0 means the base executable.
type Import struct {
	ModuleID    uint32
	Relocations []Relocation
}

// REL header field offsets. Version 1 headers are 0x40 bytes;
// version 2 adds the alignment pair, version 3 adds fixSize.
const (
	relIDOff          = 0x00
	relNumSectionsOff = 0x0C
	relSectionInfoOff = 0x10
	relNameOffsetOff  = 0x14
	relNameSizeOff    = 0x18
	relVersionOff     = 0x1C
	relBSSSizeOff     = 0x20
	relImpOffsetOff   = 0x28
	relImpSizeOff     = 0x2C
	relPrologSecOff   = 0x30
	relPrologOff      = 0x34
	relEpilogOff      = 0x38
	relUnresolvedOff  = 0x3C
	relAlignOff       = 0x40
	relBSSAlignOff    = 0x44
	relFixSizeOff     = 0x48

	relHeaderSizeV1 = 0x40
	relHeaderSizeV2 = 0x48
	relHeaderSizeV3 = 0x4C
)

// REL is a relocatable module. Section load addresses are not known
// until link time, so every parsed section has Addr zero.
type REL struct {
	ID      uint32
	Version uint32
	BSSSize uint32
	Name    []byte

	// Entry points for the OS module loader, kept verbatim. Each is
	// a section index plus a byte offset into that section.
	PrologSection     uint8
	EpilogSection     uint8
	UnresolvedSection uint8
	Prolog            uint32
	Epilog            uint32
	Unresolved        uint32

	Align    uint32 // version >= 2
	BSSAlign uint32 // version >= 2
	FixSize  uint32 // version >= 3

	Imports []Import

	sections []*Section
}

// ParseREL reads a big-endian REL module.
func ParseREL(data []byte) (*REL, error) {
	if len(data) < relHeaderSizeV1 {
		return nil, fmt.Errorf("rel: %w: file is 0x%X bytes, need at least 0x%X", ErrMalformedHeader, len(data), relHeaderSizeV1)
	}

	r := &REL{
		ID:                binary.BigEndian.Uint32(data[relIDOff:]),
		Version:           binary.BigEndian.Uint32(data[relVersionOff:]),
		BSSSize:           binary.BigEndian.Uint32(data[relBSSSizeOff:]),
		PrologSection:     data[relPrologSecOff],
		EpilogSection:     data[relPrologSecOff+1],
		UnresolvedSection: data[relPrologSecOff+2],
		Prolog:            binary.BigEndian.Uint32(data[relPrologOff:]),
		Epilog:            binary.BigEndian.Uint32(data[relEpilogOff:]),
		Unresolved:        binary.BigEndian.Uint32(data[relUnresolvedOff:]),
	}

	if r.Version >= 2 {
		if len(data) < relHeaderSizeV2 {
			return nil, fmt.Errorf("rel: %w: version %d header truncated", ErrMalformedHeader, r.Version)
		}
		r.Align = binary.BigEndian.Uint32(data[relAlignOff:])
		r.BSSAlign = binary.BigEndian.Uint32(data[relBSSAlignOff:])
	}
	if r.Version >= 3 {
		if len(data) < relHeaderSizeV3 {
			return nil, fmt.Errorf("rel: %w: version %d header truncated", ErrMalformedHeader, r.Version)
		}
		r.FixSize = binary.BigEndian.Uint32(data[relFixSizeOff:])
	}

	// Name, usually garbage bytes in retail modules.
	nameOffset := binary.BigEndian.Uint32(data[relNameOffsetOff:])
	nameSize := binary.BigEndian.Uint32(data[relNameSizeOff:])
	if nameOffset != 0 {
		if uint64(nameOffset)+uint64(nameSize) > uint64(len(data)) {
			return nil, fmt.Errorf("rel: %w: name extends past end of file (offset 0x%X, size 0x%X)", ErrMalformedHeader, nameOffset, nameSize)
		}
		r.Name = data[nameOffset : nameOffset+nameSize]
	}

	if err := r.parseSections(data); err != nil {
		return nil, err
	}
	if err := r.parseImports(data); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *REL) parseSections(data []byte) error {
	numSections := binary.BigEndian.Uint32(data[relNumSectionsOff:])
	infoOffset := binary.BigEndian.Uint32(data[relSectionInfoOff:])
	if uint64(infoOffset)+uint64(numSections)*8 > uint64(len(data)) {
		return fmt.Errorf("rel: %w: section table extends past end of file (offset 0x%X, %d sections)", ErrMalformedHeader, infoOffset, numSections)
	}

	for i := uint32(0); i < numSections; i++ {
		entry := infoOffset + i*8
		rawOffset := binary.BigEndian.Uint32(data[entry:])
		size := binary.BigEndian.Uint32(data[entry+4:])

		// The low bit of the offset flags the section as executable.
		sec := &Section{
			Size:       size,
			Executable: rawOffset&1 != 0,
		}
		if offset := rawOffset &^ 1; offset != 0 {
			if uint64(offset)+uint64(size) > uint64(len(data)) {
				return fmt.Errorf("rel: %w: section %d extends past end of file (offset 0x%X, size 0x%X)", ErrMalformedHeader, i, offset, size)
			}
			sec.Data = data[offset : offset+size]
		}

		if sec.IsBSS() && sec.Size != r.BSSSize {
			return fmt.Errorf("rel: %w: bss section size doesn't match header (expected 0x%X, found 0x%X)", ErrMalformedHeader, r.BSSSize, sec.Size)
		}

		r.sections = append(r.sections, sec)
	}
	return nil
}

func (r *REL) parseImports(data []byte) error {
	impOffset := binary.BigEndian.Uint32(data[relImpOffsetOff:])
	impSize := binary.BigEndian.Uint32(data[relImpSizeOff:])
	if uint64(impOffset)+uint64(impSize) > uint64(len(data)) {
		return fmt.Errorf("rel: %w: import table extends past end of file (offset 0x%X, size 0x%X)", ErrMalformedHeader, impOffset, impSize)
	}

	for i := uint32(0); i < impSize/8; i++ {
		entry := impOffset + i*8
		imp := Import{ModuleID: binary.BigEndian.Uint32(data[entry:])}
		relocOffset := binary.BigEndian.Uint32(data[entry+4:])

		if uint64(relocOffset)+8 > uint64(len(data)) {
			return fmt.Errorf("rel: %w: import %d (module %d) points at relocation stream offset 0x%X, past end of file",
				ErrUnknownImport, i, imp.ModuleID, relocOffset)
		}

		off := uint64(relocOffset)
		for {
			if off+8 > uint64(len(data)) {
				return fmt.Errorf("rel: %w: unterminated relocation stream for import %d (module %d)",
					ErrMalformedRelocation, i, imp.ModuleID)
			}
			rec := Relocation{
				Offset:  binary.BigEndian.Uint16(data[off:]),
				Kind:    RelocKind(data[off+2]),
				Section: data[off+3],
				Addend:  binary.BigEndian.Uint32(data[off+4:]),
			}
			if !rec.Kind.IsValid() {
				return fmt.Errorf("rel: %w: unrecognized relocation type %d at offset 0x%X",
					ErrMalformedRelocation, uint8(rec.Kind), off)
			}
			imp.Relocations = append(imp.Relocations, rec)
			off += 8
			if rec.Kind == R_DOLPHIN_END {
				break
			}
		}

		r.Imports = append(r.Imports, imp)
	}
	return nil
}

// Sections returns every section in index order. Relocations refer
// to sections by index, so null placeholder entries are preserved.
func (r *REL) Sections() []*Section {
	return r.sections
}
