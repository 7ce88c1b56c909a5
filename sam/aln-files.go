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
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pgfibertools/pgfibertools/internal"
	"github.com/pgfibertools/pgfibertools/utils/bgzf"
)

type (
	// alignmentReader is a common interface for reading both SAM and BAM files.
	alignmentReader interface {
		ParseHeader() (*Header, error)
		SkipHeader() error
		ReadRecord() ([]byte, error)
		ParseAlignment([]byte) (*Alignment, error)
		io.Closer
	}

	// InputFile represents a SAM or BAM file for input.
	//
	// An InputFile is a Stream of alignments, and a pargo
	// pipeline.Source of unparsed alignment records.
	InputFile struct {
		reader alignmentReader
		err    error
		data   [][]byte
	}
)

// Close closes the SAM/BAM input file.
func (f *InputFile) Close() error {
	return f.reader.Close()
}

// ParseHeader fetches a header from a SAM or BAM file.
func (f *InputFile) ParseHeader() (*Header, error) {
	return f.reader.ParseHeader()
}

// SkipHeader skips the header section of a SAM or BAM file.
// This is more efficient than calling ParseHeader and ignoring its result.
func (f *InputFile) SkipHeader() error {
	return f.reader.SkipHeader()
}

// ParseAlignment parses a block of bytes into an alignment.
// For example in a SAM file, each block of bytes must be
// one line from the alignment section.
func (f *InputFile) ParseAlignment(block []byte) (*Alignment, error) {
	return f.reader.ParseAlignment(block)
}

// Next reads and parses the next alignment. It returns io.EOF after
// the last alignment. The header must have been parsed or skipped
// before.
func (f *InputFile) Next() (*Alignment, error) {
	record, err := f.reader.ReadRecord()
	if err != nil {
		return nil, err
	}
	return f.reader.ParseAlignment(record)
}

// Err implements the method of the pipeline.Source interface.
func (f *InputFile) Err() error {
	return f.err
}

// Prepare implements the method of the pipeline.Source interface.
func (*InputFile) Prepare(_ context.Context) int {
	return -1
}

// Fetch implements the method of the pipeline.Source interface.
func (f *InputFile) Fetch(size int) (fetched int) {
	f.data = make([][]byte, 0, size)
	for fetched = 0; fetched < size; fetched++ {
		record, err := f.reader.ReadRecord()
		if err != nil {
			if err != io.EOF {
				f.err = err
			}
			break
		}
		f.data = append(f.data, record)
	}
	return fetched
}

// Data implements the method of the pipeline.Source interface.
func (f *InputFile) Data() interface{} {
	return f.data
}

type (
	// alignmentWriter is a common interface for writing both SAM and BAM files.
	alignmentWriter interface {
		FormatHeader(hdr *Header) error
		FormatAlignment(aln *Alignment, out []byte) ([]byte, error)
		io.WriteCloser
	}

	// OutputFile represents a SAM or BAM file for output.
	//
	// An OutputFile is a Sink of alignments once its header has been
	// written.
	OutputFile struct {
		writer alignmentWriter
		buf    []byte
	}
)

// Close closes a SAM or BAM output file.
func (f *OutputFile) Close() error {
	return f.writer.Close()
}

// FormatHeader writes the header to a SAM or BAM file.
func (f *OutputFile) FormatHeader(hdr *Header) error {
	return f.writer.FormatHeader(hdr)
}

// FormatAlignment formats an alignment into a block of bytes for a SAM or BAM file.
func (f *OutputFile) FormatAlignment(aln *Alignment, out []byte) ([]byte, error) {
	return f.writer.FormatAlignment(aln, out)
}

// Write can be used to write the blocks of bytes from FormatAlignment
// to the underlying SAM or BAM file.
func (f *OutputFile) Write(p []byte) (int, error) {
	return f.writer.Write(p)
}

// WriteAlignment formats and writes a single alignment.
func (f *OutputFile) WriteAlignment(aln *Alignment) (err error) {
	if f.buf, err = f.writer.FormatAlignment(aln, f.buf[:0]); err != nil {
		return err
	}
	_, err = f.writer.Write(f.buf)
	return err
}

// File formats and extensions.
const (
	SamExt  = ".sam"
	BamExt  = ".bam"
	cramExt = ".cram"
)

// A Format selects between SAM and BAM output.
type Format int

// Output formats. DefaultFormat chooses by filename extension.
const (
	DefaultFormat Format = iota
	SAM
	BAM
)

// ParseFormat parses the name of an output format.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "":
		return DefaultFormat, nil
	case "sam", "SAM":
		return SAM, nil
	case "bam", "BAM":
		return BAM, nil
	default:
		return DefaultFormat, fmt.Errorf("unknown output format %v", name)
	}
}

func newSamInputFile(rc io.Closer, buf *bufio.Reader) *InputFile {
	return &InputFile{reader: &samReader{rc: rc, buf: buf}}
}

func newBamInputFile(rc io.Closer, buf *bufio.Reader) (*InputFile, error) {
	reader, err := bgzf.NewReader(buf)
	if err != nil {
		return nil, err
	}
	return &InputFile{reader: &bamReader{rc: rc, bgzf: reader}}, nil
}

// Open a SAM or BAM file for input.
//
// If the filename extension is not .bam, then .sam is always
// assumed. If the name is "-" or "/dev/stdin", then the input is read
// from os.Stdin, as BAM if it starts with gzip magic, and as SAM
// otherwise.
func Open(name string) (*InputFile, error) {
	if internal.IsStdin(name) {
		buf := bufio.NewReader(os.Stdin)
		isGzip, err := bgzf.IsGzip(buf)
		if err != nil && err != io.EOF {
			return nil, err
		}
		if isGzip {
			return newBamInputFile(os.Stdin, buf)
		}
		return newSamInputFile(os.Stdin, buf), nil
	}
	switch filepath.Ext(name) {
	case cramExt:
		return nil, fmt.Errorf("CRAM format not supported when opening %v", name)
	case BamExt:
		file, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		f, err := newBamInputFile(file, bufio.NewReader(file))
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		return f, nil
	default:
		file, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		return newSamInputFile(file, bufio.NewReader(file)), nil
	}
}

// CreateOptions control how Create writes its output.
type CreateOptions struct {
	// Format overrides the choice by filename extension.
	Format Format
	// Uncompressed writes BAM output as uncompressed BGZF blocks.
	Uncompressed bool
}

func (options CreateOptions) format(name string) (Format, error) {
	if options.Format != DefaultFormat {
		return options.Format, nil
	}
	if internal.IsStdout(name) {
		return BAM, nil
	}
	switch filepath.Ext(name) {
	case BamExt:
		return BAM, nil
	case cramExt:
		return DefaultFormat, fmt.Errorf("CRAM format not supported when creating %v", name)
	default:
		return SAM, nil
	}
}

// NewOutputFile wraps the given writer as an OutputFile. The writer
// is closed when the OutputFile is closed, unless it is os.Stdout.
func NewOutputFile(wc io.WriteCloser, format Format, uncompressed bool) (*OutputFile, error) {
	switch format {
	case BAM:
		level := bgzf.DefaultCompression
		if uncompressed {
			level = bgzf.NoCompression
		}
		writer, err := bgzf.NewWriterLevel(wc, level)
		if err != nil {
			return nil, err
		}
		return &OutputFile{writer: &bamWriter{wc: wc, bgzf: writer}}, nil
	case SAM:
		return &OutputFile{writer: &samWriter{wc: wc, buf: bufio.NewWriter(wc)}}, nil
	default:
		return nil, fmt.Errorf("unknown output format %v", format)
	}
}

// Create a SAM or BAM file for output.
//
// Without an explicit format, the filename extension decides, and
// .sam is assumed unless it is .bam. If the name is "-" or
// "/dev/stdout", then the output is written to os.Stdout, as BAM
// unless SAM is requested explicitly.
func Create(name string, options CreateOptions) (*OutputFile, error) {
	format, err := options.format(name)
	if err != nil {
		return nil, err
	}
	if internal.IsStdout(name) {
		return NewOutputFile(os.Stdout, format, options.Uncompressed)
	}
	file, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	f, err := NewOutputFile(file, format, options.Uncompressed)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return f, nil
}
