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
	"bufio"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pgfibertools/pgfibertools/utils"
)

const testHeader = "@HD\tVN:1.6\tSO:queryname\n" +
	"@SQ\tSN:GM12878#1#chr1\tLN:1000\n" +
	"@SQ\tSN:GM12878#1#chr2\tLN:2000\n" +
	"@RG\tID:rg1\tSM:GM12878\n" +
	"@PG\tID:bwa\tPN:bwa\tVN:0.7.17\n" +
	"@CO\tsome comment\n"

const testAlignment = "read1\t99\tGM12878#1#chr1\t100\t60\t5M1I4M\t=\t200\t110\tACGTACGTAC\tIIIIIIIIII" +
	"\tNM:i:1\tMM:Z:C+m,0;\tML:B:C,200,10\tXf:f:1.5\tXa:A:q\tXh:H:1AFF\tXs:B:s,-1,2\tXi:i:-70000"

func parseTestAlignment(t *testing.T, line string) *Alignment {
	var sc StringScanner
	sc.Reset(line)
	aln, err := sc.ParseAlignment()
	if err != nil {
		t.Fatal(err)
	}
	return aln
}

func TestParseHeader(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader(testHeader + testAlignment + "\n"))
	hdr, err := ParseHeader(reader)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.HDSO() != Queryname {
		t.Error("HD SO failed")
	}
	if len(hdr.SQ) != 2 || hdr.SQ[1]["SN"] != "GM12878#1#chr2" || hdr.SQ[1]["LN"] != "2000" {
		t.Error("SQ lines failed")
	}
	if len(hdr.RG) != 1 || len(hdr.PG) != 1 || len(hdr.CO) != 1 || hdr.CO[0] != "some comment" {
		t.Error("RG/PG/CO lines failed")
	}
	rest, _ := reader.ReadString('\n')
	if !strings.HasPrefix(rest, "read1\t") {
		t.Error("reader not positioned at the first alignment")
	}
	if got := string(hdr.FormatSam(nil)); got != testHeader {
		t.Errorf("FormatSam failed: %q", got)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	for _, text := range []string{
		"@SQ\tSN:a\tLN:1\n@HD\tVN:1.6\n",
		"@SQ\tSN:a\tSN:b\n",
		"@XY\tSN:a\n",
		"@SQ SN:a\n",
	} {
		if _, err := ParseHeader(bufio.NewReader(strings.NewReader(text))); err == nil {
			t.Errorf("expected an error for %q", text)
		}
	}
}

func TestParseAlignment(t *testing.T) {
	aln := parseTestAlignment(t, testAlignment)
	if aln.QNAME != "read1" || aln.FLAG != 99 || aln.RNAME != "GM12878#1#chr1" || aln.POS != 100 ||
		aln.MAPQ != 60 || aln.RNEXT != "=" || aln.PNEXT != 200 || aln.TLEN != 110 ||
		aln.SEQ != "ACGTACGTAC" || aln.QUAL != "IIIIIIIIII" {
		t.Error("mandatory fields failed")
	}
	if !reflect.DeepEqual(aln.CIGAR, []CigarOperation{{5, 'M'}, {1, 'I'}, {4, 'M'}}) {
		t.Error("CIGAR failed")
	}
	expected := map[string]TagValue{
		"NM": Uint8(1),
		"MM": String("C+m,0;"),
		"ML": Uint8Array{200, 10},
		"Xf": Float(1.5),
		"Xa": Char('q'),
		"Xh": Hex{0x1A, 0xFF},
		"Xs": Int16Array{-1, 2},
		"Xi": Int32(-70000),
	}
	if len(aln.TAGS) != len(expected) {
		t.Errorf("expected %v tags, got %v", len(expected), len(aln.TAGS))
	}
	for key, value := range expected {
		if got, ok := aln.TAGS.Get(utils.Intern(key)); !ok || !reflect.DeepEqual(got, value) {
			t.Errorf("tag %v failed: %#v", key, got)
		}
	}
	if *aln.TAGS[1].Key != "MM" {
		t.Error("tag order not preserved")
	}
}

func TestFormatAlignment(t *testing.T) {
	aln := parseTestAlignment(t, testAlignment)
	out, err := aln.FormatSam(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != testAlignment+"\n" {
		t.Errorf("FormatSam failed: %q", out)
	}
	unmapped := "read2\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*"
	if out, _ := parseTestAlignment(t, unmapped).FormatSam(nil); string(out) != unmapped+"\n" {
		t.Errorf("FormatSam of an unmapped alignment failed: %q", out)
	}
}

func TestFormatSamTagIntegers(t *testing.T) {
	for _, value := range []TagValue{Int8(-5), Uint8(5), Int16(-500), Uint16(500), Int32(-5), Uint32(70000)} {
		out, err := FormatSamTag(nil, utils.Intern("XX"), value)
		if err != nil {
			t.Fatal(err)
		}
		i, _ := Int(value)
		if _, got, err := ParseSamTag(string(out[1:])); err != nil {
			t.Error(err)
		} else if j, ok := Int(got); !ok || i != j {
			t.Errorf("integer round trip failed for %#v: %#v", value, got)
		}
	}
}

func TestMalformedTags(t *testing.T) {
	for _, field := range []string{"NM:i:abc", "N:i:1", "NM:Q:1", "NM-i-1", "Xa:A:ab", "Xh:H:1", "ML:B:C,300", "ML:B:q,1"} {
		_, _, err := ParseSamTag(field)
		var malformed *MalformedTagError
		if !errors.As(err, &malformed) {
			t.Errorf("expected a MalformedTagError for %q, got %v", field, err)
		}
	}
	var sc StringScanner
	sc.Reset("read1\t0\t*\t0\t0\t*\t*\t0\t0\t*\t*\tMM:i:x")
	_, err := sc.ParseAlignment()
	var malformed *MalformedTagError
	if !errors.As(err, &malformed) || malformed.Tag != "MM" || malformed.Type != 'i' {
		t.Errorf("expected a MalformedTagError for MM, got %v", err)
	}
}

func TestDuplicateTags(t *testing.T) {
	var sc StringScanner
	sc.Reset("read1\t0\t*\t0\t0\t*\t*\t0\t0\t*\t*\tNM:i:1\tNM:i:2")
	if _, err := sc.ParseAlignment(); err == nil {
		t.Error("expected an error for duplicate tags")
	}
}

func TestMissingFields(t *testing.T) {
	var sc StringScanner
	sc.Reset("read1\t0\t*\t0")
	if _, err := sc.ParseAlignment(); err == nil {
		t.Error("expected an error for a truncated alignment line")
	}
}
