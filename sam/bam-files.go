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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pgfibertools/pgfibertools/internal"
	"github.com/pgfibertools/pgfibertools/utils"
	"github.com/pgfibertools/pgfibertools/utils/bgzf"
	"github.com/pgfibertools/pgfibertools/utils/nibbles"
)

// bamMagic is the magic string for the BAM format. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
const bamMagic = "BAM\x01"

// ErrInvalidBamMagic is returned when a BAM stream does not start
// with the BAM magic string.
var ErrInvalidBamMagic = errors.New("invalid BAM file header")

// ErrTruncatedRecord is returned when a BAM alignment record is
// shorter than its fields require.
var ErrTruncatedRecord = errors.New("truncated BAM alignment record")

func parseBamHeaderReferences(reader io.Reader) (Dictionary, error) {
	var nRef int32
	if err := internal.BinaryRead(reader, &nRef); err != nil {
		return nil, err
	}
	if nRef < 0 {
		return nil, fmt.Errorf("invalid number of references %v in a BAM header", nRef)
	}
	dict := make(Dictionary, 0, nRef)
	var name []byte
	for i := int32(0); i < nRef; i++ {
		var lName int32
		if err := internal.BinaryRead(reader, &lName); err != nil {
			return nil, err
		}
		if lName < 1 {
			return nil, fmt.Errorf("invalid reference name length %v in a BAM header", lName)
		}
		if cap(name) < int(lName) {
			name = make([]byte, lName)
		}
		name = name[:lName]
		if err := internal.ReadFull(reader, name); err != nil {
			return nil, err
		}
		var lRef uint32
		if err := internal.BinaryRead(reader, &lRef); err != nil {
			return nil, err
		}
		dict = append(dict, Reference{Name: string(name[:lName-1]), Length: uint64(lRef)})
	}
	return dict, nil
}

func readBamText(reader io.Reader) ([]byte, error) {
	magic := make([]byte, 4)
	if err := internal.ReadFull(reader, magic); err != nil {
		return nil, err
	}
	if string(magic) != bamMagic {
		return nil, ErrInvalidBamMagic
	}
	var lText int32
	if err := internal.BinaryRead(reader, &lText); err != nil {
		return nil, err
	}
	if lText < 0 {
		return nil, fmt.Errorf("invalid header text length %v in a BAM header", lText)
	}
	text := make([]byte, lText)
	if err := internal.ReadFull(reader, text); err != nil {
		return nil, err
	}
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return text, nil
}

// ParseBamHeader parses the header of a BAM file. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
//
// Returns the header and the binary reference sequence dictionary.
// If the header text has no @SQ lines, they are synthesized from the
// binary dictionary.
func ParseBamHeader(reader io.Reader) (*Header, Dictionary, error) {
	text, err := readBamText(reader)
	if err != nil {
		return nil, nil, err
	}
	hdr, err := ParseHeader(bufio.NewReader(bytes.NewReader(text)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w, while parsing the text of a BAM header", err)
	}
	dict, err := parseBamHeaderReferences(reader)
	if err != nil {
		return nil, nil, err
	}
	if len(hdr.SQ) == 0 {
		for _, ref := range dict {
			sq := utils.StringMap{"SN": ref.Name}
			SetSQLN(sq, ref.Length)
			hdr.SQ = append(hdr.SQ, sq)
		}
	}
	return hdr, dict, nil
}

// SkipBamHeader skips the header of a BAM file, and only returns the
// binary reference sequence dictionary.
func SkipBamHeader(reader io.Reader) (Dictionary, error) {
	if _, err := readBamText(reader); err != nil {
		return nil, err
	}
	return parseBamHeaderReferences(reader)
}

// bamTagParser decodes BAM optional field values. All methods check
// bounds and record the first error.
type bamTagParser struct {
	record []byte
	index  int
	tag    string
	err    error
}

func (p *bamTagParser) fail(typebyte byte, reason string) {
	if p.err == nil {
		p.err = &MalformedTagError{Tag: p.tag, Type: typebyte, Reason: reason}
	}
}

func (p *bamTagParser) take(typebyte byte, n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.index+n > len(p.record) {
		p.fail(typebyte, "value extends beyond the end of the record")
		return nil
	}
	result := p.record[p.index : p.index+n]
	p.index += n
	return result
}

func (p *bamTagParser) cstring(typebyte byte) []byte {
	if p.err != nil {
		return nil
	}
	end := bytes.IndexByte(p.record[p.index:], 0)
	if end < 0 {
		p.fail(typebyte, "missing NUL byte")
		return nil
	}
	result := p.record[p.index : p.index+end]
	p.index += end + 1
	return result
}

func (p *bamTagParser) numericArray() TagValue {
	subtypeBytes := p.take('B', 1)
	countBytes := p.take('B', 4)
	if p.err != nil {
		return nil
	}
	subtype := subtypeBytes[0]
	count := int(int32(binary.LittleEndian.Uint32(countBytes)))
	if count < 0 {
		p.fail('B', "negative array length")
		return nil
	}
	switch subtype {
	case 'c':
		data := p.take('B', count)
		if p.err != nil {
			return nil
		}
		result := make(Int8Array, count)
		for i := range result {
			result[i] = int8(data[i])
		}
		return result
	case 'C':
		data := p.take('B', count)
		if p.err != nil {
			return nil
		}
		return append(Uint8Array(nil), data...)
	case 's':
		data := p.take('B', count*2)
		if p.err != nil {
			return nil
		}
		result := make(Int16Array, count)
		for i := range result {
			result[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
		}
		return result
	case 'S':
		data := p.take('B', count*2)
		if p.err != nil {
			return nil
		}
		result := make(Uint16Array, count)
		for i := range result {
			result[i] = binary.LittleEndian.Uint16(data[2*i:])
		}
		return result
	case 'i':
		data := p.take('B', count*4)
		if p.err != nil {
			return nil
		}
		result := make(Int32Array, count)
		for i := range result {
			result[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return result
	case 'I':
		data := p.take('B', count*4)
		if p.err != nil {
			return nil
		}
		result := make(Uint32Array, count)
		for i := range result {
			result[i] = binary.LittleEndian.Uint32(data[4*i:])
		}
		return result
	case 'f':
		data := p.take('B', count*4)
		if p.err != nil {
			return nil
		}
		result := make(FloatArray, count)
		for i := range result {
			result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return result
	default:
		p.fail('B', fmt.Sprintf("invalid numeric array subtype %q", subtype))
		return nil
	}
}

func isHexDigit(c byte) bool {
	return isDigit(c) || ('A' <= c && c <= 'F') || ('a' <= c && c <= 'f')
}

func hexValue(c byte) byte {
	switch {
	case isDigit(c):
		return c - '0'
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

// next parses the next optional field of the record.
func (p *bamTagParser) next() (string, TagValue) {
	if p.index+3 > len(p.record) {
		p.tag = string(p.record[p.index:])
		p.fail(0, "optional field header extends beyond the end of the record")
		return "", nil
	}
	p.tag = string(p.record[p.index : p.index+2])
	typebyte := p.record[p.index+2]
	p.index += 3
	if !IsValidTag(p.tag) {
		p.fail(typebyte, "invalid tag")
		return "", nil
	}
	var value TagValue
	switch typebyte {
	case 'A':
		if data := p.take(typebyte, 1); data != nil {
			value = Char(data[0])
		}
	case 'c':
		if data := p.take(typebyte, 1); data != nil {
			value = Int8(data[0])
		}
	case 'C':
		if data := p.take(typebyte, 1); data != nil {
			value = Uint8(data[0])
		}
	case 's':
		if data := p.take(typebyte, 2); data != nil {
			value = Int16(binary.LittleEndian.Uint16(data))
		}
	case 'S':
		if data := p.take(typebyte, 2); data != nil {
			value = Uint16(binary.LittleEndian.Uint16(data))
		}
	case 'i':
		if data := p.take(typebyte, 4); data != nil {
			value = Int32(binary.LittleEndian.Uint32(data))
		}
	case 'I':
		if data := p.take(typebyte, 4); data != nil {
			value = Uint32(binary.LittleEndian.Uint32(data))
		}
	case 'f':
		if data := p.take(typebyte, 4); data != nil {
			value = Float(math.Float32frombits(binary.LittleEndian.Uint32(data)))
		}
	case 'Z':
		if data := p.cstring(typebyte); data != nil {
			value = String(data)
		}
	case 'H':
		data := p.cstring(typebyte)
		if data == nil {
			break
		}
		if len(data)%2 != 0 {
			p.fail(typebyte, "odd number of hex digits")
			break
		}
		result := make(Hex, 0, len(data)>>1)
		for i := 0; i < len(data); i += 2 {
			if !isHexDigit(data[i]) || !isHexDigit(data[i+1]) {
				p.fail(typebyte, "invalid hex digit")
				return "", nil
			}
			result = append(result, hexValue(data[i])<<4|hexValue(data[i+1]))
		}
		value = result
	case 'B':
		value = p.numericArray()
	default:
		p.fail(typebyte, "unknown type")
	}
	return p.tag, value
}

const (
	refIDIndex     = 0
	posIndex       = 4
	lReadNameIndex = posIndex + 4
	mapqIndex      = lReadNameIndex + 1
	binIndex       = mapqIndex + 1
	nCigarOpIndex  = binIndex + 2
	flagIndex      = nCigarOpIndex + 2
	lSeqIndex      = flagIndex + 2
	nextRefIDIndex = lSeqIndex + 4
	nextPosIndex   = nextRefIDIndex + 4
	tlenIndex      = nextPosIndex + 4
	readNameIndex  = tlenIndex + 4
)

var (
	cigarOpCodes [256]uint32
	cg           = utils.Intern("CG")
)

func init() {
	for i := 0; i < len(CigarOperations); i++ {
		cigarOpCodes[CigarOperations[i]] = uint32(i)
	}
}

func referenceName(dict Dictionary, refID int32) (string, error) {
	switch {
	case refID == -1:
		return "*", nil
	case refID < -1 || int(refID) >= len(dict):
		return "", fmt.Errorf("reference index %v out of range", refID)
	default:
		return dict[refID].Name, nil
	}
}

// parseBamAlignment parses an alignment record of a BAM file, without
// the leading block size. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func parseBamAlignment(record []byte, dict Dictionary) (*Alignment, error) {
	if len(record) < readNameIndex {
		return nil, ErrTruncatedRecord
	}
	aln := NewAlignment()

	var err error
	if aln.RNAME, err = referenceName(dict, int32(binary.LittleEndian.Uint32(record[refIDIndex:]))); err != nil {
		return nil, err
	}
	aln.POS = int32(binary.LittleEndian.Uint32(record[posIndex:])) + 1
	lReadName := int(record[lReadNameIndex])
	aln.MAPQ = record[mapqIndex]
	nCigarOp := int(binary.LittleEndian.Uint16(record[nCigarOpIndex:]))
	aln.FLAG = binary.LittleEndian.Uint16(record[flagIndex:])
	lSeq := int(int32(binary.LittleEndian.Uint32(record[lSeqIndex:])))
	if lSeq < 0 {
		return nil, fmt.Errorf("negative sequence length %v in BAM alignment record", lSeq)
	}
	if aln.RNEXT, err = referenceName(dict, int32(binary.LittleEndian.Uint32(record[nextRefIDIndex:]))); err != nil {
		return nil, err
	}
	if aln.RNEXT != "*" && aln.RNEXT == aln.RNAME {
		aln.RNEXT = "="
	}
	aln.PNEXT = int32(binary.LittleEndian.Uint32(record[nextPosIndex:])) + 1
	aln.TLEN = int32(binary.LittleEndian.Uint32(record[tlenIndex:]))

	index := readNameIndex
	if lReadName < 1 || len(record) < index+lReadName+4*nCigarOp+((lSeq+1)>>1)+lSeq {
		return nil, ErrTruncatedRecord
	}
	aln.QNAME = string(record[index : index+lReadName-1])
	index += lReadName

	aln.CIGAR = make([]CigarOperation, nCigarOp)
	for i := range aln.CIGAR {
		op := binary.LittleEndian.Uint32(record[index:])
		if int(op&0xF) >= len(CigarOperations) {
			return nil, fmt.Errorf("invalid CIGAR operation %v in BAM alignment %v", op&0xF, aln.QNAME)
		}
		aln.CIGAR[i] = CigarOperation{Length: int32(op >> 4), Operation: CigarOperations[op&0xF]}
		index += 4
	}

	if lSeq > 0 {
		nextIndex := index + ((lSeq + 1) >> 1)
		aln.SEQ = nibbles.View(lSeq, record[index:nextIndex]).Decode()
		index = nextIndex

		qual := record[index : index+lSeq]
		if qual[0] != 0xFF {
			buf := make([]byte, lSeq)
			for i, q := range qual {
				buf[i] = q + 33
			}
			aln.QUAL = string(buf)
		}
		index += lSeq
	}

	p := bamTagParser{record: record, index: index}
	for p.index < len(p.record) {
		key, value := p.next()
		if p.err != nil {
			return nil, fmt.Errorf("%w, in BAM alignment %v", p.err, aln.QNAME)
		}
		symbol := utils.Intern(key)
		if symbol == cg {
			if ops, ok := value.(Uint32Array); ok && len(aln.CIGAR) == 2 && aln.CIGAR[0].Operation == 'S' && int(aln.CIGAR[0].Length) == lSeq {
				aln.CIGAR = make([]CigarOperation, len(ops))
				for i, op := range ops {
					aln.CIGAR[i] = CigarOperation{Length: int32(op >> 4), Operation: CigarOperations[op&0xF]}
				}
				continue
			}
		}
		if !aln.TAGS.Add(symbol, value) {
			return nil, fmt.Errorf("duplicate optional field %v in BAM alignment %v", key, aln.QNAME)
		}
	}

	return aln, nil
}

func enlarge(out []byte, by int) (int, []byte) {
	index := len(out)
	length := index + by
	for cap(out) < length {
		out = append(out[:cap(out)], 0)
	}
	return index, out[:length]
}

func appendUint16(out []byte, value uint16) []byte {
	index, out := enlarge(out, 2)
	binary.LittleEndian.PutUint16(out[index:], value)
	return out
}

func appendUint32(out []byte, value uint32) []byte {
	index, out := enlarge(out, 4)
	binary.LittleEndian.PutUint32(out[index:], value)
	return out
}

// FormatBam appends the header of a BAM file. The binary reference
// sequence dictionary is derived from the @SQ lines. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func (hdr *Header) FormatBam(out []byte) ([]byte, error) {
	dict, err := hdr.Dictionary()
	if err != nil {
		return nil, err
	}
	out = append(out, bamMagic...)
	lTextIndex := len(out)
	out = hdr.FormatSam(append(out, "0000"...))
	binary.LittleEndian.PutUint32(out[lTextIndex:], uint32(len(out)-lTextIndex-4))

	out = appendUint32(out, uint32(len(dict)))
	for _, ref := range dict {
		if ref.Length > math.MaxInt32 {
			return nil, fmt.Errorf("reference %v too long for BAM format", ref.Name)
		}
		out = appendUint32(out, uint32(len(ref.Name)+1))
		out = append(append(out, ref.Name...), 0)
		out = appendUint32(out, uint32(ref.Length))
	}
	return out, nil
}

// bin computes the BAI index bin of an alignment.
func (aln *Alignment) bin() uint16 {
	beg := aln.POS - 1
	end := beg
	if !aln.IsUnmapped() {
		end += ReferenceLength(aln.CIGAR)
		if end > beg {
			end--
		}
	}
	if beg < 0 {
		return 4680
	}
	switch {
	case beg>>14 == end>>14:
		return uint16(((1<<15)-1)/7 + (beg >> 14))
	case beg>>17 == end>>17:
		return uint16(((1<<12)-1)/7 + (beg >> 17))
	case beg>>20 == end>>20:
		return uint16(((1<<9)-1)/7 + (beg >> 20))
	case beg>>23 == end>>23:
		return uint16(((1<<6)-1)/7 + (beg >> 23))
	case beg>>26 == end>>26:
		return uint16(((1<<3)-1)/7 + (beg >> 26))
	default:
		return 0
	}
}

// formatBamTag appends the binary representation of an optional
// field. The type code of the value is preserved. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.4.
func formatBamTag(out []byte, tag utils.Symbol, value TagValue) ([]byte, error) {
	out = append(append(out, *tag...), value.Type())

	switch val := value.(type) {
	case Char:
		out = append(out, byte(val))
	case Int8:
		out = append(out, byte(val))
	case Uint8:
		out = append(out, byte(val))
	case Int16:
		out = appendUint16(out, uint16(val))
	case Uint16:
		out = appendUint16(out, uint16(val))
	case Int32:
		out = appendUint32(out, uint32(val))
	case Uint32:
		out = appendUint32(out, uint32(val))
	case Float:
		out = appendUint32(out, math.Float32bits(float32(val)))
	case String:
		out = append(append(out, val...), 0)
	case Hex:
		for _, b := range val {
			out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
		}
		out = append(out, 0)
	case Int8Array:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		for _, v := range val {
			out = append(out, byte(v))
		}
	case Uint8Array:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		out = append(out, val...)
	case Int16Array:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		for _, v := range val {
			out = appendUint16(out, uint16(v))
		}
	case Uint16Array:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		for _, v := range val {
			out = appendUint16(out, v)
		}
	case Int32Array:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		for _, v := range val {
			out = appendUint32(out, uint32(v))
		}
	case Uint32Array:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		for _, v := range val {
			out = appendUint32(out, v)
		}
	case FloatArray:
		out = appendUint32(append(out, val.Subtype()), uint32(len(val)))
		for _, v := range val {
			out = appendUint32(out, math.Float32bits(v))
		}
	default:
		return nil, fmt.Errorf("unknown BAM alignment TAG type %T", value)
	}

	return out, nil
}

const minus1 = 0xFFFFFFFF

func referenceID(dictTable map[string]int32, name string) (uint32, error) {
	if name == "*" {
		return minus1, nil
	}
	if refID, ok := dictTable[name]; ok {
		return uint32(refID), nil
	}
	return 0, fmt.Errorf("reference %v not in the reference sequence dictionary", name)
}

func cigarOpCode(op CigarOperation) uint32 {
	return uint32(op.Length)<<4 | cigarOpCodes[op.Operation]
}

// formatBamAlignment appends the binary representation of an
// alignment record, including the leading block size. See
// http://samtools.github.io/hts-specs/SAMv1.pdf - Section 4.2.
func formatBamAlignment(aln *Alignment, out []byte, dictTable map[string]int32) ([]byte, error) {
	if len(aln.QNAME)+1 > math.MaxUint8 {
		return nil, fmt.Errorf("QNAME %v too long for BAM format", aln.QNAME)
	}
	seq := aln.SEQ
	if seq == "*" {
		seq = ""
	}
	qual := aln.QUAL
	if qual != "*" && len(qual) != len(seq) {
		return nil, fmt.Errorf("SEQ and QUAL lengths differ in alignment %v", aln.QNAME)
	}

	blockSizeIndex := len(out)
	out = append(out, "0000"...)

	refID, err := referenceID(dictTable, aln.RNAME)
	if err != nil {
		return nil, err
	}
	out = appendUint32(out, refID)
	out = appendUint32(out, uint32(aln.POS-1))
	out = append(out, uint8(len(aln.QNAME)+1), aln.MAPQ)
	out = appendUint16(out, aln.bin())
	longCigar := len(aln.CIGAR) > math.MaxUint16
	if longCigar {
		out = appendUint16(out, 2)
	} else {
		out = appendUint16(out, uint16(len(aln.CIGAR)))
	}
	out = appendUint16(out, aln.FLAG)
	out = appendUint32(out, uint32(len(seq)))
	nextRefID := refID
	if aln.RNEXT != "=" {
		if nextRefID, err = referenceID(dictTable, aln.RNEXT); err != nil {
			return nil, err
		}
	}
	out = appendUint32(out, nextRefID)
	out = appendUint32(out, uint32(aln.PNEXT-1))
	out = appendUint32(out, uint32(aln.TLEN))
	out = append(append(out, aln.QNAME...), 0)

	if longCigar {
		out = appendUint32(out, uint32(len(seq))<<4|cigarOpCodes['S'])
		out = appendUint32(out, uint32(ReferenceLength(aln.CIGAR))<<4|cigarOpCodes['N'])
	} else {
		for _, op := range aln.CIGAR {
			out = appendUint32(out, cigarOpCode(op))
		}
	}

	out = nibbles.AppendEncoded(out, seq)

	var index int
	index, out = enlarge(out, len(seq))
	if qual == "*" {
		for i := 0; i < len(seq); i++ {
			out[index+i] = 0xFF
		}
	} else {
		for i := 0; i < len(qual); i++ {
			out[index+i] = qual[i] - 33
		}
	}

	for _, entry := range aln.TAGS {
		if out, err = formatBamTag(out, entry.Key, entry.Value); err != nil {
			return nil, err
		}
	}

	if longCigar {
		ops := make(Uint32Array, len(aln.CIGAR))
		for i, op := range aln.CIGAR {
			ops[i] = cigarOpCode(op)
		}
		if out, err = formatBamTag(out, cg, ops); err != nil {
			return nil, err
		}
	}

	binary.LittleEndian.PutUint32(out[blockSizeIndex:], uint32(len(out)-blockSizeIndex-4))
	return out, nil
}

// bamReader is an alignmentReader for a BAM InputFile.
type bamReader struct {
	rc   io.Closer
	bgzf *bgzf.Reader
	dict Dictionary
	size []byte
}

func (reader *bamReader) Close() (err error) {
	err = reader.bgzf.Close()
	if reader.rc != os.Stdin {
		internal.Close(reader.rc, &err)
	}
	return err
}

func (reader *bamReader) ParseHeader() (hdr *Header, err error) {
	hdr, reader.dict, err = ParseBamHeader(reader.bgzf)
	return
}

func (reader *bamReader) SkipHeader() (err error) {
	reader.dict, err = SkipBamHeader(reader.bgzf)
	return
}

func (reader *bamReader) ReadRecord() ([]byte, error) {
	if reader.size == nil {
		reader.size = make([]byte, 4)
	}
	if _, err := io.ReadFull(reader.bgzf, reader.size); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedRecord
		}
		return nil, err
	}
	size := int(int32(binary.LittleEndian.Uint32(reader.size)))
	if size < readNameIndex {
		return nil, fmt.Errorf("invalid BAM alignment record size %v", size)
	}
	record := make([]byte, size)
	if err := internal.ReadFull(reader.bgzf, record); err != nil {
		return nil, ErrTruncatedRecord
	}
	return record, nil
}

func (reader *bamReader) ParseAlignment(record []byte) (*Alignment, error) {
	return parseBamAlignment(record, reader.dict)
}

// bamWriter is an alignmentWriter for a BAM OutputFile.
type bamWriter struct {
	dictTable map[string]int32
	bgzf      *bgzf.Writer
	wc        io.Closer
}

func (writer *bamWriter) Close() (err error) {
	err = writer.bgzf.Close()
	if writer.wc != os.Stdout {
		internal.Close(writer.wc, &err)
	}
	return err
}

func (writer *bamWriter) FormatHeader(hdr *Header) error {
	dict, err := hdr.Dictionary()
	if err != nil {
		return err
	}
	writer.dictTable = dict.Index()
	out, err := hdr.FormatBam(nil)
	if err != nil {
		return err
	}
	_, err = writer.bgzf.Write(out)
	return err
}

func (writer *bamWriter) FormatAlignment(aln *Alignment, out []byte) ([]byte, error) {
	return formatBamAlignment(aln, out, writer.dictTable)
}

func (writer *bamWriter) Write(p []byte) (int, error) {
	return writer.bgzf.Write(p)
}
