package codefile

import (
	"fmt"
	"strconv"
)

// HashSeed is the initial state of the ALF symbol name hash.
const HashSeed uint32 = 0x1505

// Modular inverse of the hash multiplier 33, mod 2^32.
const unhashMultiplier uint32 = 1041204193

// Hash runs the ALF symbol table string hash with the standard seed.
func Hash(s string) uint32 {
	return HashFrom(HashSeed, s)
}

// HashFrom continues the hash from an existing state, which lets a
// caller hash a name in pieces.
func HashFrom(state uint32, s string) uint32 {
	for i := 0; i < len(s); i++ {
		state = state*33 ^ uint32(s[i])
	}
	return state
}

// Unhash removes a known suffix from a hash, returning the state the
// hash had before the suffix was mixed in.
func Unhash(h uint32, suffix string) uint32 {
	for i := len(suffix) - 1; i >= 0; i-- {
		h = (h ^ uint32(suffix[i])) * unhashMultiplier
	}
	return h
}

// FormatHashedName renders a hash in the placeholder form stripped
// symbol tables use in place of real names.
func FormatHashedName(h uint32) string {
	return fmt.Sprintf("@%08X", h)
}

// ParseHashedName recognizes the placeholder form produced by
// FormatHashedName and returns the hash it carries.
func ParseHashedName(s string) (uint32, bool) {
	if len(s) != 9 || s[0] != '@' {
		return 0, false
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// NameResolver maps hashed symbol names back to readable ones, given
// a dictionary of candidate names. Names that aren't in placeholder
// form, or whose hash is unknown, pass through unchanged.
type NameResolver struct {
	known map[uint32]string
}

func NewNameResolver() *NameResolver {
	return &NameResolver{known: make(map[uint32]string)}
}

// AddName registers a candidate readable name.
func (nr *NameResolver) AddName(name string) {
	nr.known[Hash(name)] = name
}

// Resolve returns the readable name for raw if one is known.
func (nr *NameResolver) Resolve(raw string) string {
	if h, ok := ParseHashedName(raw); ok {
		if name, ok := nr.known[h]; ok {
			return name
		}
	}
	return raw
}
