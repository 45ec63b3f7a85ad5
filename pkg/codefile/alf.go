package codefile

import (
	"encoding/binary"
	"fmt"
)

const (
	alfMagic   = 0x464F4252 // "RBOF"
	alfVersion = 104
)

// ALFSymbol is one symbol table entry. Name keeps whatever the file
// stores, which in retail files is usually a hashed placeholder
// rather than a readable identifier.
type ALFSymbol struct {
	Name          string
	DemangledName string
	Addr          uint32
	Size          uint32
	IsData        bool
	Section       int // 1-based section index
}

// ALF is a base executable from boot.alf titles. The format doesn't
// record section executability, so parsing marks a section executable
// when at least one code symbol lives in it.
type ALF struct {
	Version uint32
	Entry   uint32
	Symbols []*ALFSymbol

	sections []*Section
}

// leReader reads little-endian fields with a sticky error, so a
// parse can run to the end and check once.
type leReader struct {
	data []byte
	offs int
	err  error
}

func (r *leReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.offs+4 > len(r.data) {
		r.err = fmt.Errorf("alf: %w: file truncated at offset 0x%X", ErrMalformedHeader, r.offs)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.offs:])
	r.offs += 4
	return v
}

func (r *leReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offs+n > len(r.data) {
		r.err = fmt.Errorf("alf: %w: 0x%X bytes at offset 0x%X extend past end of file", ErrMalformedHeader, n, r.offs)
		return nil
	}
	b := r.data[r.offs : r.offs+n]
	r.offs += n
	return b
}

// ParseALF reads a little-endian ALF image.
func ParseALF(data []byte) (*ALF, error) {
	r := &leReader{data: data}

	magic := r.u32()
	version := r.u32()
	entry := r.u32()
	numSections := r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if magic != alfMagic {
		return nil, fmt.Errorf("alf: %w: wrong magic (0x%08X)", ErrMalformedHeader, magic)
	}
	if version != alfVersion {
		return nil, fmt.Errorf("alf: %w: unknown version (%d)", ErrMalformedHeader, version)
	}
	if numSections < 1 || numSections >= 32 {
		return nil, fmt.Errorf("alf: %w: unlikely number of sections (%d)", ErrMalformedHeader, numSections)
	}

	a := &ALF{Version: version, Entry: entry}

	// Section data is stored inline after each descriptor. A stored
	// size of zero marks bss; the virtual size is the in-memory one.
	for i := uint32(0); i < numSections; i++ {
		addr := r.u32()
		storedSize := r.u32()
		virtualSize := r.u32()
		var secData []byte
		if storedSize > 0 {
			secData = r.bytes(int(storedSize))
		}
		if r.err != nil {
			return nil, r.err
		}
		sec := &Section{Addr: addr, Size: virtualSize, Data: secData}
		if sec.IsNull() {
			continue
		}
		a.sections = append(a.sections, sec)
	}

	tableSize := r.u32()
	if r.err != nil {
		return nil, r.err
	}
	if int(tableSize) != len(data)-r.offs {
		return nil, fmt.Errorf("alf: %w: symbol table size 0x%X doesn't span the remaining 0x%X bytes",
			ErrMalformedHeader, tableSize, len(data)-r.offs)
	}

	numSymbols := r.u32()
	for i := uint32(0); i < numSymbols; i++ {
		name := r.bytes(int(r.u32()))
		demangled := r.bytes(int(r.u32()))
		addr := r.u32()
		size := r.u32()
		isData := r.u32()
		sectionID := r.u32()
		if r.err != nil {
			return nil, r.err
		}

		if sectionID < 1 || int(sectionID) > len(a.sections) {
			return nil, fmt.Errorf("alf: %w: symbol %d references section %d of %d",
				ErrMalformedHeader, i, sectionID, len(a.sections))
		}
		sec := a.sections[sectionID-1]
		if addr < sec.Addr || uint64(addr)+uint64(size) > uint64(sec.End()) {
			return nil, fmt.Errorf("alf: %w: symbol %q (0x%08X+0x%X) doesn't fit inside section %d",
				ErrMalformedHeader, string(name), addr, size, sectionID)
		}

		sym := &ALFSymbol{
			Name:          string(name),
			DemangledName: string(demangled),
			Addr:          addr,
			Size:          size,
			IsData:        isData != 0,
			Section:       int(sectionID),
		}
		a.Symbols = append(a.Symbols, sym)
		if !sym.IsData {
			sec.Executable = true
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	return a, nil
}

// Sections returns every non-null section in file order.
func (a *ALF) Sections() []*Section {
	return a.sections
}

func (a *ALF) EntryPoint() uint32 {
	return a.Entry
}

// SectionSymbols returns the symbols belonging to the 1-based
// section index, in file order.
func (a *ALF) SectionSymbols(index int) []*ALFSymbol {
	var out []*ALFSymbol
	for _, sym := range a.Symbols {
		if sym.Section == index {
			out = append(out, sym)
		}
	}
	return out
}
