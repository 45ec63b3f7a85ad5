package codefile

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type alfTestSection struct {
	addr    uint32
	virtual uint32
	data    []byte // nil for bss
}

type alfTestSymbol struct {
	name      string
	demangled string
	addr      uint32
	size      uint32
	isData    bool
	section   uint32 // 1-based
}

func buildALFImage(entry uint32, sections []alfTestSection, symbols []alfTestSymbol) []byte {
	var out []byte
	u32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		out = append(out, b[:]...)
	}

	u32(alfMagic)
	u32(alfVersion)
	u32(entry)
	u32(uint32(len(sections)))
	for _, s := range sections {
		u32(s.addr)
		u32(uint32(len(s.data)))
		u32(s.virtual)
		out = append(out, s.data...)
	}

	var table []byte
	tu32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		table = append(table, b[:]...)
	}
	tu32(uint32(len(symbols)))
	for _, sym := range symbols {
		tu32(uint32(len(sym.name)))
		table = append(table, sym.name...)
		tu32(uint32(len(sym.demangled)))
		table = append(table, sym.demangled...)
		tu32(sym.addr)
		tu32(sym.size)
		if sym.isData {
			tu32(1)
		} else {
			tu32(0)
		}
		tu32(sym.section)
	}

	u32(uint32(len(table)))
	return append(out, table...)
}

func TestParseALFSectionsAndSymbols(t *testing.T) {
	hashed := FormatHashedName(Hash("gRandomSeed"))
	image := buildALFImage(0x80003100, []alfTestSection{
		{addr: 0x80003100, virtual: 0x20, data: make([]byte, 0x20)},
		{addr: 0x80004000, virtual: 0x10, data: make([]byte, 0x10)},
		{addr: 0x80005000, virtual: 0x40},
	}, []alfTestSymbol{
		{name: "main", demangled: "main", addr: 0x80003100, size: 0x20, section: 1},
		{name: hashed, demangled: hashed, addr: 0x80004000, size: 4, isData: true, section: 2},
	})

	alf, err := ParseALF(image)
	assert.Truef(t, err == nil, "parse should succeed: %v", err)

	assert.True(t, alf.EntryPoint() == 0x80003100, "entry point")

	secs := alf.Sections()
	for i, s := range secs {
		t.Logf("section %d: 0x%08X+0x%X exec=%v bss=%v", i+1, s.Addr, s.Size, s.Executable, s.IsBSS())
	}
	assert.Truef(t, len(secs) == 3, "expected 3 sections, got %d", len(secs))
	assert.True(t, secs[0].Executable, "a section holding a code symbol is executable")
	assert.True(t, !secs[1].Executable, "a section holding only data symbols is not")
	assert.True(t, secs[2].IsBSS() && secs[2].Size == 0x40, "stored size zero means bss")

	assert.Truef(t, len(alf.Symbols) == 2, "expected 2 symbols, got %d", len(alf.Symbols))
	assert.True(t, alf.Symbols[0].Name == "main" && !alf.Symbols[0].IsData, "code symbol")
	assert.True(t, alf.Symbols[1].Name == hashed && alf.Symbols[1].IsData, "data symbol keeps its hashed name")

	first := alf.SectionSymbols(1)
	assert.True(t, len(first) == 1 && first[0].Name == "main", "symbols grouped by section")
}

func TestParseALFRejectsWrongMagic(t *testing.T) {
	image := buildALFImage(0, []alfTestSection{{addr: 0x80003100, virtual: 4, data: make([]byte, 4)}}, nil)
	binary.LittleEndian.PutUint32(image[0:], 0x46524242)

	_, err := ParseALF(image)
	assert.Truef(t, errors.Is(err, ErrMalformedHeader), "want ErrMalformedHeader, got %v", err)
}

func TestParseALFRejectsUnknownVersion(t *testing.T) {
	image := buildALFImage(0, []alfTestSection{{addr: 0x80003100, virtual: 4, data: make([]byte, 4)}}, nil)
	binary.LittleEndian.PutUint32(image[4:], 105)

	_, err := ParseALF(image)
	assert.Truef(t, errors.Is(err, ErrMalformedHeader), "want ErrMalformedHeader, got %v", err)
}

func TestParseALFRejectsBadSymbolTableSize(t *testing.T) {
	image := buildALFImage(0, []alfTestSection{{addr: 0x80003100, virtual: 4, data: make([]byte, 4)}}, nil)
	// The size field sits right after the last section's data.
	binary.LittleEndian.PutUint32(image[len(image)-8:], 0x1000)

	_, err := ParseALF(image)
	assert.Truef(t, errors.Is(err, ErrMalformedHeader), "want ErrMalformedHeader, got %v", err)
}

func TestParseALFRejectsSymbolOutsideSection(t *testing.T) {
	image := buildALFImage(0, []alfTestSection{
		{addr: 0x80003100, virtual: 0x10, data: make([]byte, 0x10)},
	}, []alfTestSymbol{
		{name: "stray", addr: 0x80003108, size: 0x10, section: 1},
	})

	_, err := ParseALF(image)
	assert.Truef(t, errors.Is(err, ErrMalformedHeader), "want ErrMalformedHeader, got %v", err)
}

func TestALFHashKnownValues(t *testing.T) {
	assert.True(t, Hash("") == HashSeed, "empty string hashes to the seed")
	assert.Truef(t, Hash("a") == 0x2B5C4, "got 0x%X", Hash("a"))
	assert.True(t, HashFrom(Hash("OSRep"), "ort") == Hash("OSReport"), "hashing in pieces")
}

func TestUnhashRemovesSuffix(t *testing.T) {
	full := Hash("OSReport__Fv")
	assert.Truef(t, Unhash(full, "__Fv") == Hash("OSReport"), "got 0x%X, want 0x%X",
		Unhash(full, "__Fv"), Hash("OSReport"))
	assert.True(t, Unhash(Hash("x"), "x") == HashSeed, "removing everything returns the seed")
}

func TestNameResolver(t *testing.T) {
	nr := NewNameResolver()
	nr.AddName("OSReport")

	assert.True(t, nr.Resolve(FormatHashedName(Hash("OSReport"))) == "OSReport", "known hash resolves")
	assert.True(t, nr.Resolve(FormatHashedName(0x12345678)) == "@12345678", "unknown hash passes through")
	assert.True(t, nr.Resolve("main") == "main", "plain names pass through")
	assert.True(t, nr.Resolve("@nothex!!") == "@nothex!!", "malformed placeholders pass through")
}
