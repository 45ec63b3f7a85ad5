package codefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/helpers"
)

// DOL header layout. 18 section slots, each described by three
// parallel uint32 tables. Slots 0-6 are text, 7-17 are data. A slot
// with size zero is unused.
const (
	dolOffsetsOff   = 0x00
	dolAddressesOff = 0x48
	dolSizesOff     = 0x90
	dolBSSOff       = 0xD8
	dolHeaderUsed   = 0xE4
	dolHeaderSize   = 0x100

	dolMaxTextSections = 7
	dolMaxDataSections = 11
	dolSectionAlign    = 0x20
)

// ErrTooManySections reports a section set that does not fit in the
// fixed DOL slot tables.
var ErrTooManySections = errors.New("too many sections")

// DOL is a base executable. The header's single bss range is split
// during parsing into the pieces that don't overlap any initialized
// section, so Sections never returns overlapping regions.
type DOL struct {
	BSSAddr uint32
	BSSSize uint32
	Entry   uint32

	sections []*Section
}

// ParseDOL reads a big-endian DOL image.
func ParseDOL(data []byte) (*DOL, error) {
	if len(data) < dolHeaderUsed {
		return nil, fmt.Errorf("dol: %w: file is 0x%X bytes, need at least 0x%X", ErrMalformedHeader, len(data), dolHeaderUsed)
	}

	d := &DOL{
		BSSAddr: binary.BigEndian.Uint32(data[dolBSSOff:]),
		BSSSize: binary.BigEndian.Uint32(data[dolBSSOff+4:]),
		Entry:   binary.BigEndian.Uint32(data[dolBSSOff+8:]),
	}

	for i := 0; i < dolMaxTextSections+dolMaxDataSections; i++ {
		offset := binary.BigEndian.Uint32(data[dolOffsetsOff+4*i:])
		address := binary.BigEndian.Uint32(data[dolAddressesOff+4*i:])
		size := binary.BigEndian.Uint32(data[dolSizesOff+4*i:])
		if size == 0 {
			continue
		}
		if uint64(offset)+uint64(size) > uint64(len(data)) {
			return nil, fmt.Errorf("dol: %w: section %d extends past end of file (offset 0x%X, size 0x%X, file size 0x%X)",
				ErrMalformedHeader, i, offset, size, len(data))
		}
		d.sections = append(d.sections, &Section{
			Addr:       address,
			Size:       size,
			Data:       data[offset : offset+size],
			Executable: i < dolMaxTextSections,
		})
	}

	sort.Slice(d.sections, func(i, j int) bool {
		return d.sections[i].Addr < d.sections[j].Addr
	})

	for i := 1; i < len(d.sections); i++ {
		prev, cur := d.sections[i-1], d.sections[i]
		if prev.End() > cur.Addr {
			return nil, fmt.Errorf("dol: %w: sections at 0x%08X and 0x%08X overlap",
				ErrMalformedHeader, prev.Addr, cur.Addr)
		}
	}

	// The header describes bss as one giant range to zero out, which
	// covers the logical bss sections and also overlaps regular
	// sections interleaved with them. Split it into the pieces that
	// lie between the initialized sections.
	if d.BSSSize > 0 {
		cur := d.BSSAddr
		bssEnd := d.BSSAddr + d.BSSSize
		var bss []*Section
		for _, sec := range d.sections {
			if cur >= bssEnd {
				break
			}
			if cur < sec.Addr {
				end := min(sec.Addr, bssEnd)
				bss = append(bss, &Section{Addr: cur, Size: end - cur})
			}
			if cur < sec.End() {
				cur = sec.End()
			}
		}
		if cur < bssEnd {
			bss = append(bss, &Section{Addr: cur, Size: bssEnd - cur})
		}
		d.sections = append(d.sections, bss...)
		sort.Slice(d.sections, func(i, j int) bool {
			return d.sections[i].Addr < d.sections[j].Addr
		})
	}

	return d, nil
}

// Sections returns every section sorted by address, bss included.
func (d *DOL) Sections() []*Section {
	return d.sections
}

func (d *DOL) EntryPoint() uint32 {
	return d.Entry
}

// Write re-serializes the DOL. Parsing the result and writing it
// again yields identical bytes.
func (d *DOL) Write() ([]byte, error) {
	return WriteDOL(d.sections, d.Entry)
}

// WriteDOL builds a DOL image from loadable sections. Initialized
// sections go into the text or data slot tables by their Executable
// flag; every bss section is merged into the header's single bss
// range. Section data is laid out in address order, each chunk
// aligned to 0x20.
func WriteDOL(sections []*Section, entry uint32) ([]byte, error) {
	var text, data, bss []*Section
	for _, sec := range sections {
		switch {
		case sec.IsNull():
		case sec.Data == nil:
			bss = append(bss, sec)
		case sec.Executable:
			text = append(text, sec)
		default:
			data = append(data, sec)
		}
	}
	if len(text) > dolMaxTextSections {
		return nil, fmt.Errorf("dol: %w: %d text sections, format allows %d",
			ErrTooManySections, len(text), dolMaxTextSections)
	}
	if len(data) > dolMaxDataSections {
		return nil, fmt.Errorf("dol: %w: %d data sections, format allows %d",
			ErrTooManySections, len(data), dolMaxDataSections)
	}

	byAddr := func(s []*Section) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Addr < s[j].Addr })
	}
	byAddr(text)
	byAddr(data)

	out := make([]byte, dolHeaderSize)
	addSection := func(slot int, sec *Section) {
		binary.BigEndian.PutUint32(out[dolOffsetsOff+4*slot:], uint32(len(out)))
		binary.BigEndian.PutUint32(out[dolAddressesOff+4*slot:], sec.Addr)
		binary.BigEndian.PutUint32(out[dolSizesOff+4*slot:], sec.Size)
		out = append(out, sec.Data...)
		if pad := helpers.AlignUp(len(out), dolSectionAlign) - len(out); pad > 0 {
			out = append(out, make([]byte, pad)...)
		}
	}
	for i, sec := range text {
		addSection(i, sec)
	}
	for i, sec := range data {
		addSection(dolMaxTextSections+i, sec)
	}

	var bssAddr, bssEnd uint32
	if len(bss) > 0 {
		bssAddr = bss[0].Addr
		for _, sec := range bss {
			bssAddr = min(bssAddr, sec.Addr)
			bssEnd = max(bssEnd, sec.End())
		}
	}
	binary.BigEndian.PutUint32(out[dolBSSOff:], bssAddr)
	binary.BigEndian.PutUint32(out[dolBSSOff+4:], bssEnd-bssAddr)
	binary.BigEndian.PutUint32(out[dolBSSOff+8:], entry)

	return out, nil
}
