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

/*
Package tagsync copies optional fields between two streams of
alignments that describe the same reads, for example an original
unaligned BAM file carrying base modification tags, and the result of
re-aligning it.

Both streams must be grouped by query name, and visit the groups in
the same order, for example after sorting both with "samtools sort
-N". Synchronize then performs a single forward merge-join driven by
the source stream: every destination record whose name matches the
current source record receives the source's optional fields that it
does not have yet, and is emitted. Destination fields are never
overwritten.
*/
package tagsync

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/willf/bitset"

	"github.com/pgfibertools/pgfibertools/sam"
)

// Warnings reported by Synchronize. They are logged, and recorded in
// Stats.Warnings, but do not abort a run.
var (
	ErrEmptyDestination     = errors.New("no records in the destination stream")
	ErrDestinationExhausted = errors.New("no more records in the destination stream")
)

// An OrderError reports two query names in the wrong order, if order
// checking is enabled.
type OrderError struct {
	Stream            string
	Previous, Current string
}

func (err *OrderError) Error() string {
	return fmt.Sprintf("query name %v follows %v in the %v stream", err.Current, err.Previous, err.Stream)
}

// Stats summarize a run of Synchronize.
type Stats struct {
	SourceRecords      int
	DestinationRecords int
	Emitted            int
	TagsCopied         int
	// SkippedSource counts source records without a matching
	// destination record.
	SkippedSource int
	// DrainedSource counts source records read after the
	// destination stream was exhausted.
	DrainedSource int
	Warnings      []error
}

// An Option configures Synchronize.
type Option func(*synchronizer)

// WithOrderCheck verifies that query names in both streams never
// decrease according to less. A violation aborts the run with an
// *OrderError. Use sam.QNAMELess for files sorted with "samtools sort
// -N".
func WithOrderCheck(less func(a, b string) bool) Option {
	return func(s *synchronizer) { s.less = less }
}

func tagIndex(key string) uint {
	return uint(key[0])<<8 | uint(key[1])
}

// WithTags restricts copying to the given optional field tags.
func WithTags(keys ...string) Option {
	return func(s *synchronizer) {
		s.selected = bitset.New(1 << 16)
		for _, key := range keys {
			if sam.IsValidTag(key) {
				s.selected.Set(tagIndex(key))
			}
		}
	}
}

// WithLogger sets the logger for warnings. The default is the
// standard logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *synchronizer) { s.logger = logger }
}

type state int

const (
	// read the next source record, and compare it to the destination cursor
	advanceSource state = iota
	// merge the current source record into the destination cursor
	matchInner
	// consume the rest of the source stream without effect
	exhausted
)

type synchronizer struct {
	less     func(a, b string) bool
	selected *bitset.BitSet
	logger   *log.Logger

	source, destination  sam.Stream
	lastSource, lastDest string
	haveSource, haveDest bool
	stats                Stats
}

func (s *synchronizer) warn(err error) {
	s.stats.Warnings = append(s.stats.Warnings, err)
	s.logger.Println("Warning:", err)
}

func (s *synchronizer) checkOrder(stream string, last *string, have *bool, current string) error {
	if s.less == nil {
		return nil
	}
	if *have && s.less(current, *last) {
		return &OrderError{Stream: stream, Previous: *last, Current: current}
	}
	*last, *have = current, true
	return nil
}

func (s *synchronizer) nextSource() (*sam.Alignment, error) {
	aln, err := s.source.Next()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("%w, while reading the source stream", err)
	}
	s.stats.SourceRecords++
	if err := s.checkOrder("source", &s.lastSource, &s.haveSource, aln.QNAME); err != nil {
		return nil, err
	}
	return aln, nil
}

func (s *synchronizer) nextDestination() (*sam.Alignment, error) {
	aln, err := s.destination.Next()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("%w, while reading the destination stream", err)
	}
	s.stats.DestinationRecords++
	if err := s.checkOrder("destination", &s.lastDest, &s.haveDest, aln.QNAME); err != nil {
		return nil, err
	}
	return aln, nil
}

// copyTags adds the optional fields of src that dst does not have.
// Each destination record gets its own copy of array values, since one
// source record may be copied onto several destination records.
func (s *synchronizer) copyTags(src, dst *sam.Alignment) (copied int) {
	for _, entry := range src.TAGS {
		if s.selected != nil && !s.selected.Test(tagIndex(*entry.Key)) {
			continue
		}
		if dst.TAGS.Has(entry.Key) {
			continue
		}
		dst.TAGS.Add(entry.Key, sam.Clone(entry.Value))
		copied++
	}
	return copied
}

/*
Synchronize copies optional fields from source records to destination
records with the same query name, and writes the destination records
to sink.

For each source record in turn, all destination records with the same
name that follow the current destination position are updated and
emitted. A source record with a different name is skipped. Once a
destination record is emitted, it is never revisited. Destination
records after the last matched one are not emitted.

An empty destination stream, or a destination stream that ends while
source records remain, is not an error. Both are logged as warnings.
Errors from reading either stream, including malformed optional
fields, and from writing to the sink abort the run.
*/
func Synchronize(source, destination sam.Stream, sink sam.Sink, options ...Option) (Stats, error) {
	s := &synchronizer{
		logger:      log.Default(),
		source:      source,
		destination: destination,
	}
	for _, option := range options {
		option(s)
	}
	err := s.run(sink)
	return s.stats, err
}

func (s *synchronizer) run(sink sam.Sink) error {
	dest, err := s.nextDestination()
	if err == io.EOF {
		s.warn(ErrEmptyDestination)
		return nil
	} else if err != nil {
		return err
	}

	var src *sam.Alignment
	for current := advanceSource; ; {
		switch current {
		case advanceSource:
			if src, err = s.nextSource(); err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			if src.QNAME == dest.QNAME {
				current = matchInner
			} else {
				s.stats.SkippedSource++
			}

		case matchInner:
			s.stats.TagsCopied += s.copyTags(src, dest)
			if err = sink.WriteAlignment(dest); err != nil {
				return fmt.Errorf("%w, while writing alignment %v", err, dest.QNAME)
			}
			s.stats.Emitted++
			if dest, err = s.nextDestination(); err == io.EOF {
				s.warn(ErrDestinationExhausted)
				current = exhausted
			} else if err != nil {
				return err
			} else if dest.QNAME != src.QNAME {
				current = advanceSource
			}

		case exhausted:
			if _, err = s.nextSource(); err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			s.stats.DrainedSource++
		}
	}
}

