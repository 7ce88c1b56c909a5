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
	"errors"
	"fmt"
	"strconv"
	"sync"
	"unicode"

	"github.com/pgfibertools/pgfibertools/utils"
)

// Version and date of the SAM specification that this package
// implements.
const (
	FileFormatVersion = "1.6"
	FileFormatDate    = "22 Aug 2022"
)

// IsHeaderUserTag checks whether a header code or tag is a user-defined tag,
// i.e. contains at least one lower-case letter.
func IsHeaderUserTag(code string) bool {
	for _, c := range code {
		if ('a' <= c) && (c <= 'z') {
			return true
		}
	}
	return false
}

// A Header represents the header section of a SAM or BAM file.
type Header struct {
	HD          utils.StringMap
	SQ, RG, PG  []utils.StringMap
	CO          []string
	UserRecords map[string][]utils.StringMap
}

// NewHeader allocates and initializes an empty header.
func NewHeader() *Header { return &Header{} }

// SQLN returns the LN field of an @SQ header line.
func SQLN(record utils.StringMap) (uint64, error) {
	ln, found := record["LN"]
	if !found {
		return 0, errors.New("LN entry in a SQ header line missing")
	}
	return strconv.ParseUint(ln, 10, 64)
}

// SetSQLN sets the LN field of an @SQ header line.
func SetSQLN(record utils.StringMap, value uint64) {
	record["LN"] = strconv.FormatUint(value, 10)
}

// EnsureHD returns the @HD line, creating one if necessary.
func (hdr *Header) EnsureHD() utils.StringMap {
	if hdr.HD == nil {
		hdr.HD = utils.StringMap{"VN": FileFormatVersion}
	}
	return hdr.HD
}

// HDSO returns the sorting order recorded in the @HD line.
func (hdr *Header) HDSO() SortingOrder {
	hd := hdr.EnsureHD()
	if sortingOrder, found := hd["SO"]; found {
		return SortingOrder(sortingOrder)
	}
	return Unknown
}

// SetHDSO sets the sorting order in the @HD line.
func (hdr *Header) SetHDSO(value SortingOrder) {
	hd := hdr.EnsureHD()
	delete(hd, "GO")
	hd["SO"] = string(value)
}

// EnsureUserRecords returns the user records map, creating one if
// necessary.
func (hdr *Header) EnsureUserRecords() map[string][]utils.StringMap {
	if hdr.UserRecords == nil {
		hdr.UserRecords = make(map[string][]utils.StringMap)
	}
	return hdr.UserRecords
}

// AddUserRecord adds a header line with a user-defined code.
func (hdr *Header) AddUserRecord(code string, record utils.StringMap) {
	records := hdr.EnsureUserRecords()
	records[code] = append(records[code], record)
}

// A SortingOrder is the value of the SO field in an @HD line.
type SortingOrder string

// Sorting orders defined by the SAM specification.
const (
	Unknown    SortingOrder = "unknown"
	Unsorted   SortingOrder = "unsorted"
	Queryname  SortingOrder = "queryname"
	Coordinate SortingOrder = "coordinate"
)

// A Reference is an entry in a reference sequence dictionary.
type Reference struct {
	Name   string
	Length uint64
}

// A Dictionary is a reference sequence dictionary. The position of
// an entry is the reference index used by BAM alignment records.
type Dictionary []Reference

// MissingFieldError reports a header line without a required field.
type MissingFieldError struct {
	Code  string
	Field string
	Index int
}

func (err *MissingFieldError) Error() string {
	return fmt.Sprintf("%v entry missing in %v header line %v", err.Field, err.Code, err.Index)
}

// Dictionary returns the reference sequence dictionary described by
// the @SQ lines of the header.
func (hdr *Header) Dictionary() (Dictionary, error) {
	dict := make(Dictionary, 0, len(hdr.SQ))
	for index, sq := range hdr.SQ {
		sn, found := sq["SN"]
		if !found {
			return nil, &MissingFieldError{Code: "@SQ", Field: "SN", Index: index}
		}
		if _, found := sq["LN"]; !found {
			return nil, &MissingFieldError{Code: "@SQ", Field: "LN", Index: index}
		}
		ln, err := SQLN(sq)
		if err != nil {
			return nil, fmt.Errorf("%w, in @SQ header line %v", err, index)
		}
		dict = append(dict, Reference{Name: sn, Length: ln})
	}
	return dict, nil
}

// Index returns a table from reference names to their positions.
func (dict Dictionary) Index() map[string]int32 {
	table := make(map[string]int32, len(dict))
	for index, ref := range dict {
		table[ref.Name] = int32(index)
	}
	return table
}

// An Alignment represents a SAM or BAM alignment record.
//
// RNAME and RNEXT hold reference sequence names; "*" stands for an
// unmapped record and "=" in RNEXT for the same reference as
// RNAME. BAM files store these as indices into the reference
// sequence dictionary, and are converted when parsed or formatted.
type Alignment struct {
	QNAME string
	FLAG  uint16
	RNAME string
	POS   int32
	MAPQ  byte
	CIGAR []CigarOperation
	RNEXT string
	PNEXT int32
	TLEN  int32
	SEQ   string
	QUAL  string
	TAGS  Tags
}

// NewAlignment allocates and initializes an empty alignment.
func NewAlignment() *Alignment {
	return &Alignment{
		RNAME: "*",
		RNEXT: "*",
		SEQ:   "*",
		QUAL:  "*",
		TAGS:  make(Tags, 0, 16),
	}
}

// Flag values of alignment records.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

// IsUnmapped checks the Unmapped flag.
func (aln *Alignment) IsUnmapped() bool { return (aln.FLAG & Unmapped) != 0 }

// IsFirst checks the First flag.
func (aln *Alignment) IsFirst() bool { return (aln.FLAG & First) != 0 }

// IsLast checks the Last flag.
func (aln *Alignment) IsLast() bool { return (aln.FLAG & Last) != 0 }

// IsSecondary checks the Secondary flag.
func (aln *Alignment) IsSecondary() bool { return (aln.FLAG & Secondary) != 0 }

// IsSupplementary checks the Supplementary flag.
func (aln *Alignment) IsSupplementary() bool { return (aln.FLAG & Supplementary) != 0 }

func isDigit(char byte) bool { return ('0' <= char) && (char <= '9') }

/*
QNAMELess compares two query names the way "samtools sort -N" orders
them: runs of digits are compared by numeric value, all other
characters byte by byte. Leading zeros only break ties.
*/
func QNAMELess(qname1, qname2 string) bool {
	return compareQNAME(qname1, qname2) < 0
}

func compareQNAME(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if isDigit(a[i]) && isDigit(b[j]) {
			zi, zj := i, j
			for zi < len(a) && a[zi] == '0' {
				zi++
			}
			for zj < len(b) && b[zj] == '0' {
				zj++
			}
			ei, ej := zi, zj
			for ei < len(a) && isDigit(a[ei]) {
				ei++
			}
			for ej < len(b) && isDigit(b[ej]) {
				ej++
			}
			if ei-zi != ej-zj {
				if ei-zi < ej-zj {
					return -1
				}
				return 1
			}
			for k := 0; k < ei-zi; k++ {
				if a[zi+k] != b[zj+k] {
					if a[zi+k] < b[zj+k] {
						return -1
					}
					return 1
				}
			}
			if zi-i != zj-j {
				if zi-i < zj-j {
					return -1
				}
				return 1
			}
			i, j = ei, ej
			continue
		}
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case i < len(a):
		return 1
	case j < len(b):
		return -1
	default:
		return 0
	}
}

// A Sam represents a complete SAM file in memory.
type Sam struct {
	Header     *Header
	Alignments []*Alignment
}

// NewSam allocates and initializes an empty SAM value.
func NewSam() *Sam { return &Sam{Header: NewHeader()} }

// WriteAlignment appends an alignment, so that a Sam can serve as a
// Sink.
func (sam *Sam) WriteAlignment(aln *Alignment) error {
	sam.Alignments = append(sam.Alignments, aln)
	return nil
}

// CigarOperations are the valid operations in CIGAR strings, in the
// order of their BAM encoding.
const CigarOperations = "MIDNSHP=X"

var cigarOperationsTable = make(map[byte]byte, 2*len(CigarOperations))

func init() {
	for _, c := range CigarOperations {
		cigarOperationsTable[byte(c)] = byte(c)
		cigarOperationsTable[byte(unicode.ToLower(c))] = byte(c)
	}
}

// A CigarOperation is one length/operation pair of a CIGAR string.
type CigarOperation struct {
	Length    int32
	Operation byte
}

var cigarConsumesReferenceBases = map[byte]int32{'M': 1, 'D': 1, 'N': 1, '=': 1, 'X': 1}

// ReferenceLength returns the number of reference bases covered by
// the given CIGAR operations.
func ReferenceLength(cigar []CigarOperation) (length int32) {
	for _, op := range cigar {
		length += cigarConsumesReferenceBases[op.Operation] * op.Length
	}
	return
}

func newCigarOperation(cigar string, i int) (op CigarOperation, j int, err error) {
	for j = i; j < len(cigar); j++ {
		if char := cigar[j]; !isDigit(char) {
			length, nerr := strconv.ParseInt(cigar[i:j], 10, 32)
			if nerr != nil {
				err = nerr
				return
			}
			if operation := cigarOperationsTable[char]; operation != 0 {
				op = CigarOperation{int32(length), operation}
				j++
			} else {
				err = fmt.Errorf("invalid CIGAR operation %c", char)
			}
			return
		}
	}
	err = errors.New("CIGAR string ends without an operation")
	return
}

var (
	cigarSliceCache      = map[string][]CigarOperation{"*": {}}
	cigarSliceCacheMutex = sync.RWMutex{}
)

func slowScanCigarString(cigar string) (slice []CigarOperation, err error) {
	for i := 0; i < len(cigar); {
		cigarOperation, j, err := newCigarOperation(cigar, i)
		if err != nil {
			return nil, fmt.Errorf("%w, while scanning CIGAR string %v", err, cigar)
		}
		slice = append(slice, cigarOperation)
		i = j
	}
	cigarSliceCacheMutex.Lock()
	if value, found := cigarSliceCache[cigar]; found {
		slice = value
	} else {
		cigarSliceCache[cigar] = slice
	}
	cigarSliceCacheMutex.Unlock()
	return slice, nil
}

// ScanCigarString scans a CIGAR string and returns its operations.
// The result is cached and shared between alignments, so it must not
// be modified.
func ScanCigarString(cigar string) ([]CigarOperation, error) {
	cigarSliceCacheMutex.RLock()
	value, found := cigarSliceCache[cigar]
	cigarSliceCacheMutex.RUnlock()
	if found {
		return value, nil
	}
	return slowScanCigarString(cigar)
}

// AppendCigar appends the string representation of the given CIGAR
// operations to out.
func AppendCigar(out []byte, cigar []CigarOperation) []byte {
	if len(cigar) == 0 {
		return append(out, '*')
	}
	for _, op := range cigar {
		out = append(strconv.AppendInt(out, int64(op.Length), 10), op.Operation)
	}
	return out
}
