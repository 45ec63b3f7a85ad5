// Package codefile parses and serializes the executable container
// formats used by GameCube and Wii games: DOL base executables, REL
// relocatable modules, and the ALF format used by boot.alf titles.
//
// All three formats describe flat load sections. Parsing normalizes
// them into Section values so the rest of the toolchain can treat
// every format the same way.
package codefile

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrMalformedHeader reports a container whose header or section
	// table is structurally invalid.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrUnknownImport reports an import table entry whose relocation
	// stream lies outside the file.
	ErrUnknownImport = errors.New("unknown import")

	// ErrMalformedRelocation reports a relocation stream that is
	// truncated or otherwise unreadable.
	ErrMalformedRelocation = errors.New("malformed relocation")
)

// Section is one contiguous region of a container. Addr is the load
// address, which is zero for sections of a module that has not been
// assigned one yet. A nil Data with a nonzero Size marks a bss
// region: it occupies memory but holds no file bytes.
type Section struct {
	Addr       uint32
	Size       uint32
	Data       []byte
	Executable bool
}

// IsBSS reports whether the section is zero-initialized at load time.
func (s *Section) IsBSS() bool {
	return s.Data == nil && s.Size > 0
}

// IsNull reports whether the section is an empty placeholder entry.
func (s *Section) IsNull() bool {
	return s.Size == 0 && len(s.Data) == 0
}

// End returns the first address past the section.
func (s *Section) End() uint32 {
	return s.Addr + s.Size
}

// Contains reports whether addr falls inside the section.
func (s *Section) Contains(addr uint32) bool {
	return addr >= s.Addr && addr < s.End()
}

// Overlaps reports whether the two sections share any address. Null
// sections never overlap anything.
func (s *Section) Overlaps(o *Section) bool {
	return s.Size > 0 && o.Size > 0 && s.Addr < o.End() && o.Addr < s.End()
}

// Clone returns a deep copy of the section.
func (s *Section) Clone() *Section {
	c := *s
	if s.Data != nil {
		c.Data = make([]byte, len(s.Data))
		copy(c.Data, s.Data)
	}
	return &c
}

// CodeFile is the surface shared by every container format.
type CodeFile interface {
	Sections() []*Section
}

// Program is a CodeFile that can be booted directly, as opposed to a
// relocatable module that needs linking first.
type Program interface {
	CodeFile
	EntryPoint() uint32
}

// LoadByExtension parses data using the container format implied by
// the file name.
func LoadByExtension(path string, data []byte) (CodeFile, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dol":
		d, err := ParseDOL(data)
		if err != nil {
			return nil, err
		}
		return d, nil
	case ".rel":
		r, err := ParseREL(data)
		if err != nil {
			return nil, err
		}
		return r, nil
	case ".alf":
		a, err := ParseALF(data)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unrecognized code file extension %q", filepath.Ext(path))
}
