// pgfibertools: pangenome identifier and tag tools for SAM/BAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elprep/blob/master/LICENSE.txt>.

package sam

import (
	"fmt"
	"math"

	"github.com/pgfibertools/pgfibertools/utils"
)

// A TagValue is the typed value of an optional field of an alignment
// record. The set of implementations is closed: the scalar types
// Char, Int8, Uint8, Int16, Uint16, Int32, Uint32, Float, String and
// Hex, and the numeric arrays Int8Array, Uint8Array, Int16Array,
// Uint16Array, Int32Array, Uint32Array and FloatArray. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Sections 1.5 and
// 4.2.4.
type TagValue interface {
	// Type returns the BAM type code of the value.
	Type() byte
	tagValue()
}

// An ArrayValue is a TagValue of BAM type 'B'.
type ArrayValue interface {
	TagValue
	// Subtype returns the BAM type code of the array elements.
	Subtype() byte
	// Len returns the number of elements.
	Len() int
}

type (
	Char   byte
	Int8   int8
	Uint8  uint8
	Int16  int16
	Uint16 uint16
	Int32  int32
	Uint32 uint32
	Float  float32
	String string
	Hex    []byte

	Int8Array   []int8
	Uint8Array  []uint8
	Int16Array  []int16
	Uint16Array []uint16
	Int32Array  []int32
	Uint32Array []uint32
	FloatArray  []float32
)

func (Char) Type() byte   { return 'A' }
func (Int8) Type() byte   { return 'c' }
func (Uint8) Type() byte  { return 'C' }
func (Int16) Type() byte  { return 's' }
func (Uint16) Type() byte { return 'S' }
func (Int32) Type() byte  { return 'i' }
func (Uint32) Type() byte { return 'I' }
func (Float) Type() byte  { return 'f' }
func (String) Type() byte { return 'Z' }
func (Hex) Type() byte    { return 'H' }

func (Int8Array) Type() byte   { return 'B' }
func (Uint8Array) Type() byte  { return 'B' }
func (Int16Array) Type() byte  { return 'B' }
func (Uint16Array) Type() byte { return 'B' }
func (Int32Array) Type() byte  { return 'B' }
func (Uint32Array) Type() byte { return 'B' }
func (FloatArray) Type() byte  { return 'B' }

func (Int8Array) Subtype() byte   { return 'c' }
func (Uint8Array) Subtype() byte  { return 'C' }
func (Int16Array) Subtype() byte  { return 's' }
func (Uint16Array) Subtype() byte { return 'S' }
func (Int32Array) Subtype() byte  { return 'i' }
func (Uint32Array) Subtype() byte { return 'I' }
func (FloatArray) Subtype() byte  { return 'f' }

func (a Int8Array) Len() int   { return len(a) }
func (a Uint8Array) Len() int  { return len(a) }
func (a Int16Array) Len() int  { return len(a) }
func (a Uint16Array) Len() int { return len(a) }
func (a Int32Array) Len() int  { return len(a) }
func (a Uint32Array) Len() int { return len(a) }
func (a FloatArray) Len() int  { return len(a) }

func (Char) tagValue()        {}
func (Int8) tagValue()        {}
func (Uint8) tagValue()       {}
func (Int16) tagValue()       {}
func (Uint16) tagValue()      {}
func (Int32) tagValue()       {}
func (Uint32) tagValue()      {}
func (Float) tagValue()       {}
func (String) tagValue()      {}
func (Hex) tagValue()         {}
func (Int8Array) tagValue()   {}
func (Uint8Array) tagValue()  {}
func (Int16Array) tagValue()  {}
func (Uint16Array) tagValue() {}
func (Int32Array) tagValue()  {}
func (Uint32Array) tagValue() {}
func (FloatArray) tagValue()  {}

// NewInt returns the smallest integer TagValue that can represent
// the given value, preferring unsigned types for non-negative values
// like samtools does.
func NewInt(value int64) (TagValue, error) {
	switch {
	case value < math.MinInt32:
		return nil, fmt.Errorf("integer value %v too small for an optional field", value)
	case value < math.MinInt16:
		return Int32(value), nil
	case value < math.MinInt8:
		return Int16(value), nil
	case value < 0:
		return Int8(value), nil
	case value <= math.MaxUint8:
		return Uint8(value), nil
	case value <= math.MaxUint16:
		return Uint16(value), nil
	case value <= math.MaxUint32:
		return Uint32(value), nil
	default:
		return nil, fmt.Errorf("integer value %v too large for an optional field", value)
	}
}

// Int returns the value of an integer TagValue, and false for
// non-integer values.
func Int(value TagValue) (int64, bool) {
	switch val := value.(type) {
	case Int8:
		return int64(val), true
	case Uint8:
		return int64(val), true
	case Int16:
		return int64(val), true
	case Uint16:
		return int64(val), true
	case Int32:
		return int64(val), true
	case Uint32:
		return int64(val), true
	default:
		return 0, false
	}
}

// Clone returns a copy of value that shares no memory with it. Only
// Hex and the array types are backed by slices; other values are
// returned as is.
func Clone(value TagValue) TagValue {
	switch val := value.(type) {
	case Hex:
		return append(Hex{}, val...)
	case Int8Array:
		return append(Int8Array{}, val...)
	case Uint8Array:
		return append(Uint8Array{}, val...)
	case Int16Array:
		return append(Int16Array{}, val...)
	case Uint16Array:
		return append(Uint16Array{}, val...)
	case Int32Array:
		return append(Int32Array{}, val...)
	case Uint32Array:
		return append(Uint32Array{}, val...)
	case FloatArray:
		return append(FloatArray{}, val...)
	default:
		return value
	}
}

// MalformedTagError reports an optional field of an alignment record
// that cannot be decoded.
type MalformedTagError struct {
	Tag    string
	Type   byte
	Reason string
}

func (err *MalformedTagError) Error() string {
	if err.Type == 0 {
		return fmt.Sprintf("malformed optional field %q: %v", err.Tag, err.Reason)
	}
	return fmt.Sprintf("malformed optional field %q of type %q: %v", err.Tag, err.Type, err.Reason)
}

// IsValidTag checks whether the given key is a valid optional field
// tag: a letter followed by a letter or digit.
func IsValidTag(key string) bool {
	if len(key) != 2 {
		return false
	}
	isLetter := func(c byte) bool { return ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') }
	return isLetter(key[0]) && (isLetter(key[1]) || isDigit(key[1]))
}

// A TagEntry is one optional field of an alignment record.
type TagEntry struct {
	Key   utils.Symbol
	Value TagValue
}

// Tags are the optional fields of an alignment record, in the order
// in which they appear in the record. Keys are unique.
type Tags []TagEntry

// Get returns the value for the given key.
func (tags Tags) Get(key utils.Symbol) (TagValue, bool) {
	for _, entry := range tags {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

// Has checks whether the given key is present.
func (tags Tags) Has(key utils.Symbol) bool {
	for _, entry := range tags {
		if entry.Key == key {
			return true
		}
	}
	return false
}

// Set sets the value for the given key, replacing an existing value.
func (tags *Tags) Set(key utils.Symbol, value TagValue) {
	for index := range *tags {
		if (*tags)[index].Key == key {
			(*tags)[index].Value = value
			return
		}
	}
	*tags = append(*tags, TagEntry{key, value})
}

// Add adds the value for the given key only if the key is not yet
// present. It reports whether the entry was added.
func (tags *Tags) Add(key utils.Symbol, value TagValue) bool {
	if tags.Has(key) {
		return false
	}
	*tags = append(*tags, TagEntry{key, value})
	return true
}

// Delete removes the entry for the given key.
func (tags Tags) Delete(key utils.Symbol) (Tags, bool) {
	for index, entry := range tags {
		if entry.Key == key {
			return append(tags[:index], tags[index+1:]...), true
		}
	}
	return tags, false
}
