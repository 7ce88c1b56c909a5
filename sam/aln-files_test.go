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
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"

	"github.com/pgfibertools/pgfibertools/utils"
)

func testAlignments(t *testing.T, n int) []*Alignment {
	alns := make([]*Alignment, 0, n)
	for i := 0; i < n; i++ {
		aln := parseTestAlignment(t, testAlignment)
		aln.QNAME = "read" + strconv.Itoa(i)
		alns = append(alns, aln)
	}
	return alns
}

func writeTestFile(t *testing.T, name string, options CreateOptions, hdr *Header, alns []*Alignment) {
	out, err := Create(name, options)
	if err != nil {
		t.Fatal(err)
	}
	if err := out.FormatHeader(hdr); err != nil {
		t.Fatal(err)
	}
	for _, aln := range alns {
		if err := out.WriteAlignment(aln); err != nil {
			t.Fatal(err)
		}
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func readTestFile(t *testing.T, name string) (*Header, []*Alignment) {
	in, err := Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	hdr, err := in.ParseHeader()
	if err != nil {
		t.Fatal(err)
	}
	var alns []*Alignment
	for {
		aln, err := in.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		alns = append(alns, aln)
	}
	return hdr, alns
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	hdr := testDictHeader(t)
	alns := testAlignments(t, 1000)
	for _, c := range []struct {
		name    string
		options CreateOptions
	}{
		{"test.sam", CreateOptions{}},
		{"test.bam", CreateOptions{}},
		{"uncompressed.bam", CreateOptions{Uncompressed: true}},
		{"forced.sam", CreateOptions{Format: BAM}},
	} {
		name := filepath.Join(dir, c.name)
		writeTestFile(t, name, c.options, hdr, alns)
		if c.options.Format == BAM {
			data, err := os.ReadFile(name)
			if err != nil {
				t.Fatal(err)
			}
			if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
				t.Error("explicit BAM format ignored")
			}
			continue
		}
		readHdr, readAlns := readTestFile(t, name)
		if !reflect.DeepEqual(readHdr, hdr) {
			t.Errorf("header round trip failed for %v", c.name)
		}
		if !reflect.DeepEqual(readAlns, alns) {
			t.Errorf("alignment round trip failed for %v", c.name)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("sam"); err != nil || f != SAM {
		t.Error("ParseFormat sam failed")
	}
	if f, err := ParseFormat("BAM"); err != nil || f != BAM {
		t.Error("ParseFormat BAM failed")
	}
	if _, err := ParseFormat("cram"); err == nil {
		t.Error("expected an error for cram")
	}
}

func TestRunPipeline(t *testing.T) {
	name := filepath.Join(t.TempDir(), "test.bam")
	alns := testAlignments(t, 10000)
	writeTestFile(t, name, CreateOptions{}, testDictHeader(t), alns)
	in, err := Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	odd := func(_ *Header) (AlignmentFilter, error) {
		return func(aln *Alignment) bool { return aln.QNAME[len(aln.QNAME)-1]%2 == 1 }, nil
	}
	out := NewSam()
	filters := []Filter{AddPGLine(utils.StringMap{"ID": "bwa", "PN": "pgfibertools"}), odd}
	if err := in.RunPipeline(out, filters); err != nil {
		t.Fatal(err)
	}
	if len(out.Alignments) != len(alns)/2 {
		t.Fatalf("expected %v alignments, got %v", len(alns)/2, len(out.Alignments))
	}
	for i, aln := range out.Alignments {
		if aln.QNAME != "read"+strconv.Itoa(2*i+1) {
			t.Fatalf("order not preserved at %v: %v", i, aln.QNAME)
		}
	}
	if len(out.Header.PG) != 2 || out.Header.PG[1]["PP"] != "bwa" || out.Header.PG[1]["ID"] == "bwa" {
		t.Errorf("AddPGLine failed: %v", out.Header.PG)
	}
}

func TestComposeFiltersError(t *testing.T) {
	failing := func(_ *Header) (AlignmentFilter, error) { return nil, io.ErrUnexpectedEOF }
	sam := NewSam()
	if err := sam.ApplyFilters([]Filter{failing}); err != io.ErrUnexpectedEOF {
		t.Errorf("expected the filter error, got %v", err)
	}
}
