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

// Package nibbles packs nucleotide sequences into 4-bit codes, two
// bases per byte with the first base in the high nibble, as used for
// the SEQ field of BAM alignment records.
package nibbles

// Alphabet maps 4-bit codes to bases.
const Alphabet = "=ACMGRSVTWYHKDBN"

// N is the code for unknown bases. Characters outside Alphabet are
// encoded as N.
const N = 15

var codes [256]byte

func init() {
	for i := range codes {
		codes[i] = N
	}
	for i := 0; i < len(Alphabet); i++ {
		codes[Alphabet[i]] = byte(i)
		codes[Alphabet[i]|0x20] = byte(i)
	}
}

// Code returns the 4-bit code of a base. Lowercase bases have the
// same code as their uppercase counterparts.
func Code(base byte) byte {
	return codes[base]
}

// Nibbles is a view of packed 4-bit values.
type Nibbles struct {
	n     int
	bytes []byte
}

// View interprets the first (n+1)/2 bytes of packed as n nibbles.
// The caller must ensure packed is long enough.
func View(n int, packed []byte) Nibbles {
	return Nibbles{n: n, bytes: packed[:(n+1)>>1]}
}

// Len returns the number of 4-bit values.
func (n Nibbles) Len() int {
	return n.n
}

// Bytes returns the packed representation.
func (n Nibbles) Bytes() []byte {
	return n.bytes
}

// Get returns the nibble at the given index.
func (n Nibbles) Get(index int) byte {
	return 0xF & (n.bytes[index>>1] >> uint((1^(index&1))<<2))
}

// Set sets the nibble at the given index.
func (n Nibbles) Set(index int, value byte) {
	i, bit := index>>1, index&1
	n.bytes[i] = ((0xF << uint(bit<<2)) & n.bytes[i]) | ((0xF & value) << uint((1^bit)<<2))
}

// Decode returns the bases stored in n.
func (n Nibbles) Decode() string {
	seq := make([]byte, n.n)
	for i := range seq {
		seq[i] = Alphabet[n.Get(i)]
	}
	return string(seq)
}

// AppendEncoded appends the packed codes of seq to out. An odd
// sequence is padded with a zero nibble.
func AppendEncoded(out []byte, seq string) []byte {
	for i := 0; i+1 < len(seq); i += 2 {
		out = append(out, codes[seq[i]]<<4|codes[seq[i+1]])
	}
	if len(seq)&1 == 1 {
		out = append(out, codes[seq[len(seq)-1]]<<4)
	}
	return out
}
