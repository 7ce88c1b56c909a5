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

package bgzf

import (
	"bufio"
	"bytes"
	"compress/flate"
	"io/ioutil"
	"math/rand"
	"testing"
)

func roundTrip(t *testing.T, level int, input []byte) {
	var buf bytes.Buffer
	w, err := NewWriterLevel(&buf, level)
	if err != nil {
		t.Fatal(err)
	}
	for rest := input; len(rest) > 0; {
		n := 1 + rand.Intn(20000)
		if n > len(rest) {
			n = len(rest)
		}
		if _, err := w.Write(rest[:n]); err != nil {
			t.Fatal(err)
		}
		rest = rest[n:]
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(buf.Bytes(), eofMarker) {
		t.Error("missing BGZF EOF marker")
	}
	br := bufio.NewReader(&buf)
	if ok, err := IsGzip(br); err != nil || !ok {
		t.Fatalf("IsGzip = %v, %v", ok, err)
	}
	r, err := NewReader(br)
	if err != nil {
		t.Fatal(err)
	}
	output, err := ioutil.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(input, output) {
		t.Errorf("round trip at level %v failed: %v bytes in, %v bytes out", level, len(input), len(output))
	}
}

func TestRoundTrip(t *testing.T) {
	input := make([]byte, 3*maxDataSize+123)
	rand.Read(input)
	roundTrip(t, flate.DefaultCompression, input)
	roundTrip(t, flate.NoCompression, input)
	roundTrip(t, flate.BestSpeed, []byte("short"))
}

func TestEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Close(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), eofMarker) {
		t.Error("empty BGZF file should only contain the EOF marker")
	}
}

func TestTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if _, err := w.Write([]byte("some data")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-len(eofMarker)]
	r, err := NewReader(bufio.NewReader(bytes.NewReader(truncated)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ioutil.ReadAll(r); err == nil {
		t.Error("reading a BGZF file without EOF marker should fail")
	}
	_ = r.Close()
}

func TestInvalidLevel(t *testing.T) {
	if _, err := NewWriterLevel(ioutil.Discard, 42); err == nil {
		t.Error("invalid compression level accepted")
	}
}
