package helpers

import "golang.org/x/exp/constraints"

// Find item in slice and return it's index, if none found return -1
func Find[T comparable](haystack []T, needle T) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}

	return -1
}

// Insert an element into a slice at the given index
func Insert[T any](s []T, ndx int, newEl T) []T {
	s = append(s, make([]T, 1)...)
	copy(s[ndx+1:], s[ndx:len(s)-1])
	s[ndx] = newEl
	return s
}

// Round v up to the next multiple of align. Alignments below two
// leave v unchanged.
func AlignUp[T constraints.Integer](v, align T) T {
	if align <= 1 {
		return v
	}
	if rem := v % align; rem != 0 {
		return v + align - rem
	}
	return v
}
