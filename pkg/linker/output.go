package linker

import (
	"fmt"
	"strings"

	"github.com/RoadrunnerWMC/wii-code-tools/pkg/codefile"
)

// WriteDOL serializes the whole link as one merged executable, every
// placed section of every module in one container, with the base
// module's entry point.
func (r *LinkResult) WriteDOL() ([]byte, error) {
	var sections []*codefile.Section
	for _, mod := range r.Modules {
		for _, sec := range mod.Sections {
			if sec.IsNull() {
				continue
			}
			sections = append(sections, sec)
		}
	}
	return codefile.WriteDOL(sections, r.Entry)
}

// Blob is one placed section as raw bytes, with no container header.
type Blob struct {
	ModuleID uint32
	Section  int
	Data     []byte
}

// Filename names a blob by module id and section index.
func (b Blob) Filename() string {
	return fmt.Sprintf("%02d_%02d.bin", b.ModuleID, b.Section)
}

// Blobs serializes the link as one blob per placed section.
// Uninitialized sections come out zero-filled at their full size.
func (r *LinkResult) Blobs() []Blob {
	var blobs []Blob
	for _, mod := range r.Modules {
		for i, sec := range mod.Sections {
			if sec.IsNull() {
				continue
			}
			data := sec.Data
			if sec.IsBSS() {
				data = make([]byte, sec.Size)
			}
			blobs = append(blobs, Blob{ModuleID: mod.ID, Section: i, Data: data})
		}
	}
	return blobs
}

// Table renders the final layout, one line per placed section.
func (r *LinkResult) Table() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module  sec  %-21s  %-10s  kind  name\n", "range", "size")
	for _, mod := range r.Modules {
		for i, sec := range mod.Sections {
			if sec.IsNull() {
				continue
			}
			kind := "data"
			switch {
			case sec.Executable:
				kind = "text"
			case sec.IsBSS():
				kind = "bss"
			}
			fmt.Fprintf(&b, "%6d  %3d  0x%08X-0x%08X  0x%-8X  %-4s  %s\n",
				mod.ID, i, sec.Addr, sec.End(), sec.Size, kind, mod.Name)
		}
	}
	return b.String()
}
