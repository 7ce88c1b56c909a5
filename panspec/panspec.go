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

// Package panspec rewrites pangenome reference sequence names of the
// form sample#haplotype#contig, both in the reference sequence
// dictionary of a header and in the alignments that refer to it.
package panspec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pgfibertools/pgfibertools/sam"
	"github.com/pgfibertools/pgfibertools/utils"
)

// DefaultDelimiter separates the components of pangenome names.
const DefaultDelimiter = '#'

// A Mode rewrites a single reference sequence name.
type Mode interface {
	Apply(name string) string
}

// Strip removes the sample and haplotype components of a name, that
// is, everything up to and including the second delimiter. Further
// delimiters are kept. Names with fewer than two delimiters have no
// contig component, and become empty.
type Strip struct {
	Delimiter rune
}

func (s Strip) delimiter() string {
	if s.Delimiter == 0 {
		return string(DefaultDelimiter)
	}
	return string(s.Delimiter)
}

// Apply implements the Mode interface.
func (s Strip) Apply(name string) string {
	d := s.delimiter()
	if first := strings.Index(name, d); first >= 0 {
		rest := name[first+len(d):]
		if second := strings.Index(rest, d); second >= 0 {
			return rest[second+len(d):]
		}
	}
	return ""
}

// Prefix prepends a literal string to a name, for example "CHM13#0#".
// Applying it twice duplicates the prefix.
type Prefix struct {
	Prefix string
}

// Apply implements the Mode interface.
func (p Prefix) Apply(name string) string {
	return p.Prefix + name
}

// Errors returned by ParseMode.
var (
	ErrConflictingModes = errors.New("stripping and prefixing pangenome names are mutually exclusive")
	ErrInvalidDelimiter = errors.New("the pangenome name delimiter must be a single character")
)

// ParseMode returns the Mode selected by command line options. It
// returns a nil Mode if neither stripping nor a prefix is requested.
func ParseMode(strip bool, delimiter string, prefix string) (Mode, error) {
	if strip && prefix != "" {
		return nil, ErrConflictingModes
	}
	if strip {
		if utf8.RuneCountInString(delimiter) != 1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDelimiter, delimiter)
		}
		r, _ := utf8.DecodeRuneInString(delimiter)
		return Strip{Delimiter: r}, nil
	}
	if prefix != "" {
		return Prefix{Prefix: prefix}, nil
	}
	return nil, nil
}

// Reasons for a ConfigurationError.
var (
	ErrMissingName   = errors.New("SN entry missing")
	ErrDuplicateName = errors.New("duplicate reference sequence name")
)

// A ConfigurationError reports an @SQ line whose name cannot be
// rewritten. Index is the position of the line in the dictionary.
type ConfigurationError struct {
	Index int
	Name  string
	Err   error
}

func (err *ConfigurationError) Error() string {
	if err.Name == "" {
		return fmt.Sprintf("%v in @SQ header line %v", err.Err, err.Index)
	}
	return fmt.Sprintf("%v %v in @SQ header line %v", err.Err, err.Name, err.Index)
}

func (err *ConfigurationError) Unwrap() error {
	return err.Err
}

// TransformDictionary returns a new dictionary with all names
// rewritten. Positions and lengths are unchanged.
func TransformDictionary(dict sam.Dictionary, mode Mode) sam.Dictionary {
	result := make(sam.Dictionary, len(dict))
	for i, ref := range dict {
		result[i] = ref
		if mode != nil {
			result[i].Name = mode.Apply(ref.Name)
		}
	}
	return result
}

// names computes the rewritten SN entries of all @SQ lines, without
// modifying the header.
func names(hdr *sam.Header, mode Mode) ([]string, error) {
	result := make([]string, len(hdr.SQ))
	seen := make(map[string]int, len(hdr.SQ))
	for index, sq := range hdr.SQ {
		sn, found := sq["SN"]
		if !found {
			return nil, &ConfigurationError{Index: index, Err: ErrMissingName}
		}
		name := mode.Apply(sn)
		if _, dup := seen[name]; dup {
			return nil, &ConfigurationError{Index: index, Name: name, Err: ErrDuplicateName}
		}
		seen[name] = index
		result[index] = name
	}
	return result, nil
}

// TransformHeader rewrites the SN entries of all @SQ lines. All other
// header lines are left untouched. If any @SQ line has no SN entry,
// or two lines would end up with the same name, the header is not
// modified and a *ConfigurationError is returned.
func TransformHeader(hdr *sam.Header, mode Mode) error {
	if mode == nil {
		return nil
	}
	newNames, err := names(hdr, mode)
	if err != nil {
		return err
	}
	for index, sq := range hdr.SQ {
		sq["SN"] = newNames[index]
	}
	return nil
}

var sa = utils.Intern("SA")

// renameSA rewrites the reference names of the entries of an SA tag,
// which have the form rname,pos,strand,CIGAR,mapQ,NM;
func renameSA(value string, table map[string]string) string {
	entries := strings.Split(value, ";")
	for i, entry := range entries {
		if comma := strings.IndexByte(entry, ','); comma >= 0 {
			if newName, found := table[entry[:comma]]; found {
				entries[i] = newName + entry[comma:]
			}
		}
	}
	return strings.Join(entries, ";")
}

// Filter returns a sam.Filter that applies TransformHeader, and
// rewrites RNAME, RNEXT, and the reference names in SA tags of each
// alignment accordingly. Names that are not in the dictionary are
// left unchanged.
func Filter(mode Mode) sam.Filter {
	return func(hdr *sam.Header) (sam.AlignmentFilter, error) {
		if mode == nil {
			return nil, nil
		}
		oldNames := make([]string, len(hdr.SQ))
		for index, sq := range hdr.SQ {
			oldNames[index] = sq["SN"]
		}
		if err := TransformHeader(hdr, mode); err != nil {
			return nil, err
		}
		table := make(map[string]string, len(hdr.SQ))
		for index, sq := range hdr.SQ {
			table[oldNames[index]] = sq["SN"]
		}
		return func(aln *sam.Alignment) bool {
			if newName, found := table[aln.RNAME]; found {
				aln.RNAME = newName
			}
			if newName, found := table[aln.RNEXT]; found {
				aln.RNEXT = newName
			}
			if value, found := aln.TAGS.Get(sa); found {
				if s, ok := value.(sam.String); ok {
					aln.TAGS.Set(sa, sam.String(renameSA(string(s), table)))
				}
			}
			return true
		}, nil
	}
}
