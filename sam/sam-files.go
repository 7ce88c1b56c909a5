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
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pgfibertools/pgfibertools/utils"
)

// ParseHeaderField parses a TAG:VALUE field of a SAM header line.
func (sc *StringScanner) ParseHeaderField() (tag, value string) {
	if sc.err != nil {
		return
	}
	tag, ok := sc.readUntil(':')
	if !ok || (len(tag) != 2) {
		sc.setErr("invalid field tag %v in a SAM header line", tag)
		return "", ""
	}
	value, _ = sc.readUntil('\t')
	return tag, value
}

// ParseHeaderLine parses the fields of a SAM header line after its
// record type code.
func (sc *StringScanner) ParseHeaderLine() utils.StringMap {
	if sc.err != nil {
		return nil
	}
	record := make(utils.StringMap)
	for sc.Len() > 0 {
		tag, value := sc.ParseHeaderField()
		if sc.err != nil {
			break
		}
		if !record.SetUniqueEntry(tag, value) {
			sc.setErr("duplicate field tag %v in a SAM header line", tag)
			break
		}
	}
	return record
}

// ParseHeader parses the header section of a SAM file. The reader is
// left positioned at the first alignment line.
func ParseHeader(reader *bufio.Reader) (*Header, error) {
	hdr := NewHeader()
	var sc StringScanner
	for first := true; ; first = false {
		switch data, err := reader.Peek(1); {
		case err == io.EOF:
			return hdr, nil
		case err != nil:
			return hdr, err
		case data[0] != '@':
			return hdr, nil
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return hdr, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return hdr, fmt.Errorf("invalid SAM header line %q", line)
		}
		code := line[:3]
		var rest string
		if len(line) > 3 {
			if line[3] != '\t' {
				return hdr, fmt.Errorf("header code %v not followed by a tab when parsing a SAM header", code)
			}
			rest = line[4:]
		}
		sc.Reset(rest)
		switch code {
		case "@HD":
			if !first {
				return hdr, errors.New("@HD line not in first line when parsing a SAM header")
			}
			hdr.HD = sc.ParseHeaderLine()
		case "@SQ":
			hdr.SQ = append(hdr.SQ, sc.ParseHeaderLine())
		case "@RG":
			hdr.RG = append(hdr.RG, sc.ParseHeaderLine())
		case "@PG":
			hdr.PG = append(hdr.PG, sc.ParseHeaderLine())
		case "@CO":
			hdr.CO = append(hdr.CO, rest)
		default:
			if !IsHeaderUserTag(code) {
				return hdr, fmt.Errorf("unknown SAM record type code %v", code)
			}
			hdr.AddUserRecord(code, sc.ParseHeaderLine())
		}
		if err := sc.Err(); err != nil {
			return hdr, err
		}
	}
}

// SkipHeader skips the header section of a SAM file.
func SkipHeader(reader *bufio.Reader) error {
	for {
		switch data, err := reader.Peek(1); {
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		case data[0] != '@':
			return nil
		}
		if _, err := reader.ReadSlice('\n'); err != nil {
			if err == bufio.ErrBufferFull {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func parseSamNumericArray(value string) (TagValue, error) {
	if value == "" {
		return nil, errors.New("missing subtype of numeric array")
	}
	subtype := value[0]
	var entries []string
	if len(value) > 1 {
		if value[1] != ',' {
			return nil, fmt.Errorf("missing comma after numeric array subtype %q", subtype)
		}
		entries = strings.Split(value[2:], ",")
	}
	switch subtype {
	case 'c':
		result := make(Int8Array, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseInt(entry, 10, 8)
			if err != nil {
				return nil, err
			}
			result[i] = int8(val)
		}
		return result, nil
	case 'C':
		result := make(Uint8Array, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseUint(entry, 10, 8)
			if err != nil {
				return nil, err
			}
			result[i] = uint8(val)
		}
		return result, nil
	case 's':
		result := make(Int16Array, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseInt(entry, 10, 16)
			if err != nil {
				return nil, err
			}
			result[i] = int16(val)
		}
		return result, nil
	case 'S':
		result := make(Uint16Array, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseUint(entry, 10, 16)
			if err != nil {
				return nil, err
			}
			result[i] = uint16(val)
		}
		return result, nil
	case 'i':
		result := make(Int32Array, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseInt(entry, 10, 32)
			if err != nil {
				return nil, err
			}
			result[i] = int32(val)
		}
		return result, nil
	case 'I':
		result := make(Uint32Array, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseUint(entry, 10, 32)
			if err != nil {
				return nil, err
			}
			result[i] = uint32(val)
		}
		return result, nil
	case 'f':
		result := make(FloatArray, len(entries))
		for i, entry := range entries {
			val, err := strconv.ParseFloat(entry, 32)
			if err != nil {
				return nil, err
			}
			result[i] = float32(val)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid numeric array subtype %q", subtype)
	}
}

func parseSamTagValue(typebyte byte, value string) (TagValue, error) {
	switch typebyte {
	case 'A':
		if len(value) != 1 {
			return nil, fmt.Errorf("character value %q is not a single character", value)
		}
		return Char(value[0]), nil
	case 'i':
		val, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, err
		}
		return NewInt(val)
	case 'f':
		val, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, err
		}
		return Float(val), nil
	case 'Z':
		return String(value), nil
	case 'H':
		if len(value)%2 != 0 {
			return nil, errors.New("odd number of hex digits")
		}
		result := make(Hex, 0, len(value)>>1)
		for i := 0; i < len(value); i += 2 {
			val, err := strconv.ParseUint(value[i:i+2], 16, 8)
			if err != nil {
				return nil, err
			}
			result = append(result, byte(val))
		}
		return result, nil
	case 'B':
		return parseSamNumericArray(value)
	default:
		return nil, errors.New("unknown type")
	}
}

// ParseSamTag parses an optional field TAG:TYPE:VALUE of a SAM
// alignment line. Failures are reported as *MalformedTagError.
func ParseSamTag(field string) (utils.Symbol, TagValue, error) {
	if len(field) < 5 || field[2] != ':' || field[4] != ':' {
		return nil, nil, &MalformedTagError{Tag: field, Reason: "not of the form TAG:TYPE:VALUE"}
	}
	key := field[:2]
	if !IsValidTag(key) {
		return nil, nil, &MalformedTagError{Tag: key, Reason: "invalid tag"}
	}
	typebyte := field[3]
	value, err := parseSamTagValue(typebyte, field[5:])
	if err != nil {
		return nil, nil, &MalformedTagError{Tag: key, Type: typebyte, Reason: err.Error()}
	}
	return utils.Intern(key), value, nil
}

func (sc *StringScanner) doInt32(name string) int32 {
	value := sc.readField(name)
	if sc.err != nil {
		return 0
	}
	result, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		sc.setErr("%v, in field %v of a SAM alignment line", err, name)
	}
	return int32(result)
}

func (sc *StringScanner) doUint(name string, bitSize int) uint64 {
	value := sc.readField(name)
	if sc.err != nil {
		return 0
	}
	result, err := strconv.ParseUint(value, 10, bitSize)
	if err != nil {
		sc.setErr("%v, in field %v of a SAM alignment line", err, name)
	}
	return result
}

// ParseAlignment parses a complete SAM alignment line, without the
// terminating newline.
func (sc *StringScanner) ParseAlignment() (*Alignment, error) {
	aln := NewAlignment()

	aln.QNAME = sc.readField("QNAME")
	aln.FLAG = uint16(sc.doUint("FLAG", 16))
	aln.RNAME = sc.readField("RNAME")
	aln.POS = sc.doInt32("POS")
	aln.MAPQ = byte(sc.doUint("MAPQ", 8))
	cigar := sc.readField("CIGAR")
	aln.RNEXT = sc.readField("RNEXT")
	aln.PNEXT = sc.doInt32("PNEXT")
	aln.TLEN = sc.doInt32("TLEN")
	aln.SEQ = sc.readField("SEQ")
	aln.QUAL = sc.readLastField()
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var err error
	if aln.CIGAR, err = ScanCigarString(cigar); err != nil {
		return nil, err
	}

	for sc.Len() > 0 {
		key, value, err := ParseSamTag(sc.readLastField())
		if err != nil {
			return nil, fmt.Errorf("%w, in SAM alignment %v", err, aln.QNAME)
		}
		if !aln.TAGS.Add(key, value) {
			return nil, fmt.Errorf("duplicate optional field %v in SAM alignment %v", *key, aln.QNAME)
		}
	}

	return aln, nil
}

const hexDigits = "0123456789ABCDEF"

// Well-known header fields are formatted first, in this order.
var headerFieldOrder = map[string][]string{
	"@HD": {"VN", "SO", "GO", "SS"},
	"@SQ": {"SN", "LN"},
	"@RG": {"ID"},
	"@PG": {"ID", "PN", "PP", "VN", "CL"},
}

// FormatHeaderLine appends a SAM header line with the given code.
func FormatHeaderLine(out []byte, code string, record utils.StringMap) []byte {
	out = append(out, code...)
	first := headerFieldOrder[code]
	for _, key := range first {
		if value, found := record[key]; found {
			out = append(append(append(append(out, '\t'), key...), ':'), value...)
		}
	}
	rest := make([]string, 0, len(record))
	for key := range record {
		if !containsString(first, key) {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		out = append(append(append(append(out, '\t'), key...), ':'), record[key]...)
	}
	return append(out, '\n')
}

func containsString(slice []string, s string) bool {
	for _, e := range slice {
		if e == s {
			return true
		}
	}
	return false
}

// FormatSam appends the header in SAM text format.
func (hdr *Header) FormatSam(out []byte) []byte {
	if hdr.HD != nil {
		out = FormatHeaderLine(out, "@HD", hdr.HD)
	}
	for _, record := range hdr.SQ {
		out = FormatHeaderLine(out, "@SQ", record)
	}
	for _, record := range hdr.RG {
		out = FormatHeaderLine(out, "@RG", record)
	}
	for _, record := range hdr.PG {
		out = FormatHeaderLine(out, "@PG", record)
	}
	for _, comment := range hdr.CO {
		out = append(append(append(out, "@CO\t"...), comment...), '\n')
	}
	codes := make([]string, 0, len(hdr.UserRecords))
	for code := range hdr.UserRecords {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		for _, record := range hdr.UserRecords[code] {
			out = FormatHeaderLine(out, code, record)
		}
	}
	return out
}

// FormatSamTag appends an optional field in SAM text format, including
// the leading tab.
func FormatSamTag(out []byte, tag utils.Symbol, value TagValue) ([]byte, error) {
	out = append(out, '\t')
	out = append(out, *tag...)

	switch val := value.(type) {
	case Char:
		out = append(append(out, ":A:"...), byte(val))
	case Int8, Uint8, Int16, Uint16, Int32, Uint32:
		i, _ := Int(val)
		out = strconv.AppendInt(append(out, ":i:"...), i, 10)
	case Float:
		out = strconv.AppendFloat(append(out, ":f:"...), float64(val), 'g', -1, 32)
	case String:
		out = append(append(out, ":Z:"...), val...)
	case Hex:
		out = append(out, ":H:"...)
		for _, b := range val {
			out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
		}
	case Int8Array:
		out = append(out, ":B:c"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case Uint8Array:
		out = append(out, ":B:C"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case Int16Array:
		out = append(out, ":B:s"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case Uint16Array:
		out = append(out, ":B:S"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case Int32Array:
		out = append(out, ":B:i"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case Uint32Array:
		out = append(out, ":B:I"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case FloatArray:
		out = append(out, ":B:f"...)
		for _, v := range val {
			out = strconv.AppendFloat(append(out, ','), float64(v), 'g', -1, 32)
		}
	default:
		return nil, fmt.Errorf("unknown SAM alignment TAG type %T", value)
	}

	return out, nil
}

// FormatSam appends the alignment as a SAM alignment line, including
// the terminating newline.
func (aln *Alignment) FormatSam(out []byte) ([]byte, error) {
	out = append(append(out, aln.QNAME...), '\t')
	out = append(strconv.AppendUint(out, uint64(aln.FLAG), 10), '\t')
	out = append(append(out, aln.RNAME...), '\t')
	out = append(strconv.AppendInt(out, int64(aln.POS), 10), '\t')
	out = append(strconv.AppendUint(out, uint64(aln.MAPQ), 10), '\t')
	out = append(AppendCigar(out, aln.CIGAR), '\t')
	out = append(append(out, aln.RNEXT...), '\t')
	out = append(strconv.AppendInt(out, int64(aln.PNEXT), 10), '\t')
	out = append(strconv.AppendInt(out, int64(aln.TLEN), 10), '\t')
	out = append(append(out, aln.SEQ...), '\t')
	out = append(out, aln.QUAL...)

	var err error
	for _, entry := range aln.TAGS {
		if out, err = FormatSamTag(out, entry.Key, entry.Value); err != nil {
			return nil, err
		}
	}

	return append(out, '\n'), nil
}

// samReader is an alignmentReader for a SAM InputFile.
type samReader struct {
	rc  io.Closer
	buf *bufio.Reader
	sc  StringScanner
}

func (reader *samReader) Close() error {
	if reader.rc == os.Stdin {
		return nil
	}
	return reader.rc.Close()
}

func (reader *samReader) ParseHeader() (*Header, error) {
	return ParseHeader(reader.buf)
}

func (reader *samReader) SkipHeader() error {
	return SkipHeader(reader.buf)
}

func (reader *samReader) ReadRecord() ([]byte, error) {
	for {
		line, err := reader.buf.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (reader *samReader) ParseAlignment(record []byte) (*Alignment, error) {
	var sc StringScanner
	sc.Reset(string(record))
	return sc.ParseAlignment()
}

// samWriter is an alignmentWriter for a SAM OutputFile.
type samWriter struct {
	wc  io.Closer
	buf *bufio.Writer
}

func (writer *samWriter) Close() error {
	if err := writer.buf.Flush(); err != nil {
		return err
	}
	if writer.wc == os.Stdout {
		return nil
	}
	return writer.wc.Close()
}

func (writer *samWriter) FormatHeader(hdr *Header) error {
	_, err := writer.buf.Write(hdr.FormatSam(nil))
	return err
}

func (writer *samWriter) FormatAlignment(aln *Alignment, out []byte) ([]byte, error) {
	return aln.FormatSam(out)
}

func (writer *samWriter) Write(p []byte) (int, error) {
	return writer.buf.Write(p)
}
