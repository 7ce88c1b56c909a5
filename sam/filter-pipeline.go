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

	"github.com/exascience/pargo/pipeline"

	"github.com/pgfibertools/pgfibertools/internal"
)

type (
	// An AlignmentFilter receives an Alignment which it can modify. It
	// returns true if the alignment should be kept, and false if the
	// alignment should be removed.
	AlignmentFilter func(*Alignment) bool

	// A Filter receives a Header which it can modify, and returns an
	// AlignmentFilter or nil. A Filter that cannot accept the header
	// returns an error, and must not have modified it.
	Filter func(*Header) (AlignmentFilter, error)

	// A PipelineOutput can add nodes to the given pargo
	// pipeline. AddNodes also receives a header that should be added to
	// the output. The order of the alignments it receives must be
	// preserved. Any error should be reported to the pipeline by
	// calling p.SetErr(err) with a non-nil error value.
	PipelineOutput interface {
		AddNodes(p *pipeline.Pipeline, header *Header)
	}

	// A PipelineInput arranges for a pargo pipeline to be properly
	// initialized, arranges for the pipeline to run the given filters,
	// calls output.AddNodes(...), and eventually runs the pipeline. If
	// RunPipeline doesn't encounter an error of its own, it returns
	// the error of its pargo pipeline, if any.
	PipelineInput interface {
		RunPipeline(output PipelineOutput, filters []Filter) error
	}
)

// AlignmentToBytes returns a pargo pipeline.Filter that formats
// slices of Alignment pointers into slices of bytes representing
// these alignments according to the SAM/BAM file format.
func AlignmentToBytes(writer *OutputFile) pipeline.Filter {
	return func(p *pipeline.Pipeline, _ pipeline.NodeKind, _ *int) (receiver pipeline.Receiver, _ pipeline.Finalizer) {
		receiver = func(_ int, data interface{}) interface{} {
			alns := data.([]*Alignment)
			records := make([][]byte, 0, len(alns))
			buf := internal.ReserveByteBuffer()
			defer func() { internal.ReleaseByteBuffer(buf) }()
			var err error
			for _, aln := range alns {
				if buf, err = writer.FormatAlignment(aln, buf[:0]); err != nil {
					p.SetErr(fmt.Errorf("%w, while formatting alignment %v", err, aln.QNAME))
					return records
				}
				records = append(records, append([]byte(nil), buf...))
			}
			return records
		}
		return
	}
}

const (
	minBatchSize = 4096
	maxBatchSize = 262144
)

// BytesToAlignment returns a pargo pipeline.Filter that parses
// slices of bytes representing alignments according to the SAM/BAM file
// format into slices of pointers to freshly allocated Alignment
// values.
func BytesToAlignment(reader *InputFile) pipeline.Filter {
	return func(p *pipeline.Pipeline, _ pipeline.NodeKind, _ *int) (receiver pipeline.Receiver, _ pipeline.Finalizer) {
		receiver = func(_ int, data interface{}) interface{} {
			records := data.([][]byte)
			alns := make([]*Alignment, 0, len(records))
			for _, record := range records {
				aln, err := reader.ParseAlignment(record)
				if err != nil {
					p.SetErr(fmt.Errorf("%w, while parsing an alignment", err))
					return alns
				}
				alns = append(alns, aln)
			}
			return alns
		}
		return
	}
}

// AddNodes implements the PipelineOutput interface for Sam values to
// represent complete SAM/BAM files in memory.
func (sam *Sam) AddNodes(p *pipeline.Pipeline, header *Header) {
	sam.Header = header
	p.Add(pipeline.StrictOrd(pipeline.Slice(&sam.Alignments)))
}

// AddNodes implements the PipelineOutput interface for SAM/BAM OutputFile values.
func (f *OutputFile) AddNodes(p *pipeline.Pipeline, header *Header) {
	if err := f.FormatHeader(header); err != nil {
		p.SetErr(fmt.Errorf("%w, while writing a header to output", err))
		return
	}
	p.Add(
		pipeline.LimitedPar(0, AlignmentToBytes(f)),
		pipeline.StrictOrd(pipeline.Receive(func(_ int, data interface{}) interface{} {
			for _, aln := range data.([][]byte) {
				if _, err := f.Write(aln); err != nil {
					p.SetErr(fmt.Errorf("%w, while writing alignments to output", err))
					break
				}
			}
			return data
		})),
	)
}

// ComposeFilters takes a Header and a slice of Filter functions, and
// successively calls these functions to generate the corresponding
// AlignmentFilter predicates. It then returns a pargo
// pipeline.Receiver that applies these AlignmentFilter predicates on
// the slices of Alignment pointers it receives. ComposeFilters may
// return a nil receiver if all AlignmentFilters are nil.
func ComposeFilters(header *Header, hdrFilters []Filter) (receiver pipeline.Receiver, err error) {
	var alnFilters []AlignmentFilter
	for _, f := range hdrFilters {
		if f == nil {
			continue
		}
		alnFilter, err := f(header)
		if err != nil {
			return nil, err
		}
		if alnFilter != nil {
			alnFilters = append(alnFilters, alnFilter)
		}
	}
	if len(alnFilters) == 0 {
		return nil, nil
	}
	return func(_ int, data interface{}) interface{} {
		alns := data.([]*Alignment)
		kept := alns[:0]
	alnLoop:
		for _, aln := range alns {
			for _, alnFilter := range alnFilters {
				if !alnFilter(aln) {
					continue alnLoop
				}
			}
			kept = append(kept, aln)
		}
		return kept
	}, nil
}

// ApplyFilters runs the given filters sequentially on a Sam value in
// place, without a pipeline.
func (sam *Sam) ApplyFilters(hdrFilters []Filter) error {
	alnFilter, err := ComposeFilters(sam.Header, hdrFilters)
	if err != nil {
		return err
	}
	if alnFilter != nil {
		sam.Alignments = alnFilter(0, sam.Alignments).([]*Alignment)
	}
	return nil
}

// RunPipeline implements the PipelineInput interface for Sam values
// that represent complete SAM/BAM files in memory.
func (sam *Sam) RunPipeline(output PipelineOutput, hdrFilters []Filter) error {
	header := sam.Header
	alns := sam.Alignments
	alnFilter, err := ComposeFilters(header, hdrFilters)
	if err != nil {
		return err
	}
	sam.Header = NewHeader()
	sam.Alignments = nil
	var p pipeline.Pipeline
	p.Source(alns)
	if alnFilter != nil {
		p.Add(pipeline.LimitedPar(0, pipeline.Receive(alnFilter)))
	}
	output.AddNodes(&p, header)
	p.Run()
	return p.Err()
}

// RunPipeline implements the PipelineInput interface for SAM/BAM InputFile values.
func (f *InputFile) RunPipeline(output PipelineOutput, hdrFilters []Filter) error {
	header, err := f.ParseHeader()
	if err != nil {
		return err
	}
	alnFilter, err := ComposeFilters(header, hdrFilters)
	if err != nil {
		return err
	}
	var p pipeline.Pipeline
	p.Source(f)
	p.SetVariableBatchSize(minBatchSize, maxBatchSize)
	p.Add(pipeline.LimitedPar(0, BytesToAlignment(f)))
	if alnFilter != nil {
		p.Add(pipeline.LimitedPar(0, pipeline.Receive(alnFilter)))
	}
	output.AddNodes(&p, header)
	p.Run()
	if err := p.Err(); err != nil {
		return err
	}
	return f.Err()
}
