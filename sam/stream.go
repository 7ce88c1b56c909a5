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

import "io"

// A Stream produces alignments one at a time. Next returns io.EOF
// after the last alignment.
type Stream interface {
	Next() (*Alignment, error)
}

// A Sink consumes alignments one at a time.
type Sink interface {
	WriteAlignment(*Alignment) error
}

// A SliceStream is a Stream over alignments held in memory.
type SliceStream struct {
	alns []*Alignment
}

// NewSliceStream returns a Stream over the given alignments.
func NewSliceStream(alns []*Alignment) *SliceStream {
	return &SliceStream{alns: alns}
}

// Next implements the Stream interface.
func (s *SliceStream) Next() (*Alignment, error) {
	if len(s.alns) == 0 {
		return nil, io.EOF
	}
	aln := s.alns[0]
	s.alns = s.alns[1:]
	return aln, nil
}

// Stream returns a Stream over the alignments of a Sam value.
func (sam *Sam) Stream() *SliceStream {
	return NewSliceStream(sam.Alignments)
}
