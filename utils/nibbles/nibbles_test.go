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

package nibbles

import "testing"

func TestSetGet(t *testing.T) {
	n := View(5, make([]byte, 3))
	for i := 0; i < 5; i++ {
		n.Set(i, byte(i+1))
	}
	for i := 0; i < 5; i++ {
		if got := n.Get(i); got != byte(i+1) {
			t.Errorf("Get(%v) = %v, want %v", i, got, i+1)
		}
	}
	if b := n.Bytes(); len(b) != 3 || b[0] != 0x12 || b[1] != 0x34 || b[2] != 0x50 {
		t.Errorf("unexpected packed bytes %v", b)
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, seq := range []string{"", "A", "ACGT", "ACGTN", "=ACMGRSVTWYHKDBN"} {
		packed := AppendEncoded(nil, seq)
		if len(packed) != (len(seq)+1)/2 {
			t.Errorf("%q packed into %v bytes", seq, len(packed))
		}
		if got := View(len(seq), packed).Decode(); got != seq {
			t.Errorf("round trip of %q returned %q", seq, got)
		}
	}
}

func TestCodes(t *testing.T) {
	if Code('a') != Code('A') || Code('t') != 8 {
		t.Error("lowercase bases not encoded")
	}
	if Code('X') != N || Code('.') != N {
		t.Error("unknown bases not encoded as N")
	}
	if got := View(3, AppendEncoded(nil, "acx")).Decode(); got != "ACN" {
		t.Errorf("normalized sequence %q", got)
	}
	if packed := AppendEncoded([]byte{0xEE}, "G"); len(packed) != 2 || packed[0] != 0xEE || packed[1] != 0x40 {
		t.Errorf("AppendEncoded did not append: %v", packed)
	}
}
