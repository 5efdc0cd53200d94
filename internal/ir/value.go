package ir

import (
	"slices"
	"unicode/utf16"
)

// IRValue is a sealed interface representing constrained value types.
// Only IRString, IRInt, IRSeconds, IRBool, IRArray, and IRObject implement this.
// NO IRFloat - floats are forbidden, they break byte-for-byte reproducibility.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRString represents a string value.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer value.
type IRInt int64

func (IRInt) irValue() {}

// IRSeconds is a millisecond count rendered as a decimal number of seconds
// (1700000000500 -> 1700000000.5). See FormatSeconds.
type IRSeconds int64

func (IRSeconds) irValue() {}

// IRBool represents a boolean value.
type IRBool bool

func (IRBool) irValue() {}

// IRArray represents an array of IRValue elements.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject represents a map of string keys to IRValue elements.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// Strings converts a string slice into an IRArray of IRString, preserving order.
func Strings(ss []string) IRArray {
	arr := make(IRArray, len(ss))
	for i, s := range ss {
		arr[i] = IRString(s)
	}
	return arr
}

// StringMap converts a string map into an IRObject.
func StringMap(m map[string]string) IRObject {
	obj := make(IRObject, len(m))
	for k, v := range m {
		obj[k] = IRString(v)
	}
	return obj
}

// SecondsMap converts a map of millisecond timestamps into an IRObject of IRSeconds.
func SecondsMap(m map[string]int64) IRObject {
	obj := make(IRObject, len(m))
	for k, v := range m {
		obj[k] = IRSeconds(v)
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// CompareKeys compares strings using UTF-16 code unit ordering as required
// by RFC 8785. Exported so callers sorting plain string maps agree with the
// encoder.
func CompareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// If all compared units are equal, shorter string comes first
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
