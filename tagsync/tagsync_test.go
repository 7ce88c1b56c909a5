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

package tagsync

import (
	"bytes"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/fulldump/biff"

	"github.com/pgfibertools/pgfibertools/sam"
	"github.com/pgfibertools/pgfibertools/utils"
)

var (
	mm = utils.Intern("MM")
	ml = utils.Intern("ML")
	nm = utils.Intern("NM")
)

type tag struct {
	key   utils.Symbol
	value sam.TagValue
}

func record(name string, tags ...tag) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.QNAME = name
	for _, t := range tags {
		aln.TAGS.Set(t.key, t.value)
	}
	return aln
}

func names(alns []*sam.Alignment) (result []string) {
	for _, aln := range alns {
		result = append(result, aln.QNAME)
	}
	return result
}

func run(source, destination []*sam.Alignment, options ...Option) (*sam.Sam, Stats, error) {
	out := sam.NewSam()
	var buf bytes.Buffer
	options = append([]Option{WithLogger(log.New(&buf, "", 0))}, options...)
	stats, err := Synchronize(sam.NewSliceStream(source), sam.NewSliceStream(destination), out, options...)
	return out, stats, err
}

func TestSynchronize(t *testing.T) {

	biff.Alternative("Synchronize", func(a *biff.A) {

		a.Alternative("Copies missing tags", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("A+a,0,1")}, tag{ml, sam.Uint8Array{200, 10}})},
				[]*sam.Alignment{record("r1", tag{nm, sam.Uint8(0)})},
			)
			biff.AssertNil(err)
			biff.AssertEqual(len(out.Alignments), 1)
			value, ok := out.Alignments[0].TAGS.Get(mm)
			biff.AssertTrue(ok)
			biff.AssertEqual(value, sam.String("A+a,0,1"))
			value, _ = out.Alignments[0].TAGS.Get(ml)
			biff.AssertEqual(value, sam.Uint8Array{200, 10})
			value, _ = out.Alignments[0].TAGS.Get(nm)
			biff.AssertEqual(value, sam.Uint8(0))
			biff.AssertEqual(stats.TagsCopied, 2)
		})

		a.Alternative("Never overwrites", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("source")})},
				[]*sam.Alignment{record("r1", tag{mm, sam.String("destination")})},
			)
			biff.AssertNil(err)
			value, _ := out.Alignments[0].TAGS.Get(mm)
			biff.AssertEqual(value, sam.String("destination"))
			biff.AssertEqual(stats.TagsCopied, 0)
		})

		a.Alternative("One to one", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("1")}), record("r2", tag{mm, sam.String("2")}), record("r3", tag{mm, sam.String("3")})},
				[]*sam.Alignment{record("r1"), record("r2"), record("r3")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(names(out.Alignments), []string{"r1", "r2", "r3"})
			for i, aln := range out.Alignments {
				value, _ := aln.TAGS.Get(mm)
				biff.AssertEqual(value, sam.String([]string{"1", "2", "3"}[i]))
			}
			biff.AssertEqual(stats.Emitted, 3)
			biff.AssertEqual(len(stats.Warnings), 1)
			biff.AssertTrue(errors.Is(stats.Warnings[0], ErrDestinationExhausted))
		})

		a.Alternative("Empty destination", func(a *biff.A) {
			out, stats, err := run([]*sam.Alignment{record("r1", tag{mm, sam.String("1")})}, nil)
			biff.AssertNil(err)
			biff.AssertEqual(len(out.Alignments), 0)
			biff.AssertEqual(stats.SourceRecords, 0)
			biff.AssertEqual(stats.Warnings, []error{ErrEmptyDestination})
		})

		a.Alternative("Empty source", func(a *biff.A) {
			out, stats, err := run(nil, []*sam.Alignment{record("r1")})
			biff.AssertNil(err)
			biff.AssertEqual(len(out.Alignments), 0)
			biff.AssertEqual(len(stats.Warnings), 0)
		})

		a.Alternative("Name mismatch", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("1")}), record("x", tag{mm, sam.String("x")}), record("r2", tag{mm, sam.String("2")})},
				[]*sam.Alignment{record("r1"), record("r2")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(names(out.Alignments), []string{"r1", "r2"})
			value, _ := out.Alignments[1].TAGS.Get(mm)
			biff.AssertEqual(value, sam.String("2"))
			biff.AssertEqual(stats.SkippedSource, 1)
		})

		a.Alternative("Trailing destination records are not emitted", func(a *biff.A) {
			out, _, err := run(
				[]*sam.Alignment{record("r1")},
				[]*sam.Alignment{record("r1"), record("r2"), record("r3")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(names(out.Alignments), []string{"r1"})
		})

		a.Alternative("One source to many destination records", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("1")}), record("r2", tag{mm, sam.String("2")})},
				[]*sam.Alignment{record("r1"), record("r1"), record("r1"), record("r2")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(names(out.Alignments), []string{"r1", "r1", "r1", "r2"})
			for _, aln := range out.Alignments[:3] {
				value, _ := aln.TAGS.Get(mm)
				biff.AssertEqual(value, sam.String("1"))
			}
			biff.AssertEqual(stats.TagsCopied, 4)
		})

		a.Alternative("Many source records to one destination record", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("a")}), record("r1", tag{ml, sam.Uint8Array{1}}), record("r2")},
				[]*sam.Alignment{record("r1"), record("r2")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(names(out.Alignments), []string{"r1", "r2"})
			biff.AssertFalse(out.Alignments[0].TAGS.Has(ml))
			biff.AssertEqual(stats.SkippedSource, 1)
		})

		a.Alternative("Many to many", func(a *biff.A) {
			out, stats, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("a")}), record("r1", tag{ml, sam.Uint8Array{1}})},
				[]*sam.Alignment{record("r1"), record("r1")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(names(out.Alignments), []string{"r1", "r1"})
			for _, aln := range out.Alignments {
				biff.AssertTrue(aln.TAGS.Has(mm))
				biff.AssertFalse(aln.TAGS.Has(ml))
			}
			biff.AssertEqual(stats.DrainedSource, 1)
			biff.AssertEqual(stats.Emitted, 2)
		})

		a.Alternative("Exhausted destination emits no duplicates", func(a *biff.A) {
			out, _, err := run(
				[]*sam.Alignment{record("r1"), record("r1"), record("r1")},
				[]*sam.Alignment{record("r1")},
			)
			biff.AssertNil(err)
			biff.AssertEqual(len(out.Alignments), 1)
		})

		a.Alternative("Selected tags", func(a *biff.A) {
			out, _, err := run(
				[]*sam.Alignment{record("r1", tag{mm, sam.String("a")}, tag{nm, sam.Uint8(3)})},
				[]*sam.Alignment{record("r1")},
				WithTags("MM", "ML"),
			)
			biff.AssertNil(err)
			biff.AssertTrue(out.Alignments[0].TAGS.Has(mm))
			biff.AssertFalse(out.Alignments[0].TAGS.Has(nm))
		})
	})
}

// errStream returns err after the given alignments.
type errStream struct {
	alns []*sam.Alignment
	err  error
}

func (s *errStream) Next() (*sam.Alignment, error) {
	if len(s.alns) == 0 {
		return nil, s.err
	}
	aln := s.alns[0]
	s.alns = s.alns[1:]
	return aln, nil
}

func TestMalformedSourceTag(t *testing.T) {
	source := &errStream{
		alns: []*sam.Alignment{record("r1")},
		err:  &sam.MalformedTagError{Tag: "MM", Type: 'Z', Reason: "missing NUL byte"},
	}
	out := sam.NewSam()
	_, err := Synchronize(source, sam.NewSliceStream([]*sam.Alignment{record("r1"), record("r2")}), out,
		WithLogger(log.New(io.Discard, "", 0)))
	var malformed *sam.MalformedTagError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected a MalformedTagError, got %v", err)
	}
}

func TestMalformedTagAfterExhaustion(t *testing.T) {
	source := &errStream{
		alns: []*sam.Alignment{record("r1"), record("r2")},
		err:  &sam.MalformedTagError{Tag: "ML", Type: 'B', Reason: "invalid numeric array subtype"},
	}
	_, err := Synchronize(source, sam.NewSliceStream([]*sam.Alignment{record("r1")}), sam.NewSam(),
		WithLogger(log.New(io.Discard, "", 0)))
	var malformed *sam.MalformedTagError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected a MalformedTagError, got %v", err)
	}
}

func TestOrderCheck(t *testing.T) {
	_, _, err := run(
		[]*sam.Alignment{record("read2"), record("read10")},
		[]*sam.Alignment{record("read2"), record("read10"), record("read1")},
		WithOrderCheck(sam.QNAMELess),
	)
	var orderErr *OrderError
	if !errors.As(err, &orderErr) || orderErr.Stream != "destination" || orderErr.Current != "read1" {
		t.Fatalf("expected an OrderError, got %v", err)
	}
	if _, _, err := run(
		[]*sam.Alignment{record("read2"), record("read10")},
		[]*sam.Alignment{record("read2"), record("read10")},
		WithOrderCheck(sam.QNAMELess),
	); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

type failingSink struct{}

func (failingSink) WriteAlignment(*sam.Alignment) error { return io.ErrShortWrite }

func TestSinkError(t *testing.T) {
	_, err := Synchronize(
		sam.NewSliceStream([]*sam.Alignment{record("r1")}),
		sam.NewSliceStream([]*sam.Alignment{record("r1")}),
		failingSink{},
		WithLogger(log.New(io.Discard, "", 0)),
	)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
}

func TestSynchronizeFiles(t *testing.T) {
	dir := t.TempDir()
	hdr := sam.NewHeader()
	hdr.SQ = []utils.StringMap{{"SN": "chr1", "LN": "1000"}}
	write := func(name string, alns []*sam.Alignment) {
		out, err := sam.Create(dir+"/"+name, sam.CreateOptions{})
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
	open := func(name string) *sam.InputFile {
		in, err := sam.Open(dir + "/" + name)
		if err != nil {
			t.Fatal(err)
		}
		if err := in.SkipHeader(); err != nil {
			t.Fatal(err)
		}
		return in
	}
	write("source.bam", []*sam.Alignment{record("r1", tag{mm, sam.String("C+m,0;")}, tag{ml, sam.Uint8Array{255}})})
	mapped := record("r1", tag{nm, sam.Uint8(2)})
	mapped.RNAME, mapped.POS = "chr1", 10
	write("destination.bam", []*sam.Alignment{mapped})

	source, destination := open("source.bam"), open("destination.bam")
	defer source.Close()
	defer destination.Close()
	out := sam.NewSam()
	stats, err := Synchronize(source, destination, out, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Emitted != 1 || len(out.Alignments) != 1 {
		t.Fatal("expected one alignment")
	}
	aln := out.Alignments[0]
	if aln.RNAME != "chr1" || aln.POS != 10 {
		t.Error("destination fields modified")
	}
	if value, _ := aln.TAGS.Get(ml); !bytes.Equal(value.(sam.Uint8Array), []byte{255}) {
		t.Error("ML not copied")
	}
	if *aln.TAGS[0].Key != "NM" || *aln.TAGS[1].Key != "MM" || *aln.TAGS[2].Key != "ML" {
		t.Error("tag order failed")
	}
}

func TestCopiedArraysAreNotShared(t *testing.T) {
	source, destination := sam.NewSam(), sam.NewSam()
	source.Alignments = []*sam.Alignment{record("r1", tag{ml, sam.Uint8Array{200, 100}})}
	destination.Alignments = []*sam.Alignment{record("r1"), record("r1")}
	out := sam.NewSam()
	stats, err := Synchronize(source.Stream(), destination.Stream(), out, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Emitted != 2 || stats.TagsCopied != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	first, _ := out.Alignments[0].TAGS.Get(ml)
	first.(sam.Uint8Array)[0] = 0
	second, _ := out.Alignments[1].TAGS.Get(ml)
	if second.(sam.Uint8Array)[0] != 200 {
		t.Error("destination records share a copied array")
	}
	original, _ := source.Alignments[0].TAGS.Get(ml)
	if original.(sam.Uint8Array)[0] != 200 {
		t.Error("source record modified")
	}
}
