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

import "fmt"

// A StringScanner is used to parse the tab-separated fields of SAM
// header lines and alignment lines. Errors are sticky: once an error
// occurred, subsequent calls are no-ops, and Err reports the first
// error.
type StringScanner struct {
	index int
	data  string
	err   error
}

// Err returns the error that occurred during scanning/parsing.
func (sc *StringScanner) Err() error {
	return sc.err
}

// Reset resets the scanner, and initializes it with the given string.
func (sc *StringScanner) Reset(s string) {
	sc.index = 0
	sc.data = s
	sc.err = nil
}

// Len returns the number of ASCII characters that still need to be
// scanned/parsed. Returns 0 if Err() would return a non-nil value.
func (sc *StringScanner) Len() int {
	if sc.err != nil {
		return 0
	}
	return len(sc.data) - sc.index
}

func (sc *StringScanner) setErr(format string, args ...interface{}) {
	if sc.err == nil {
		sc.err = fmt.Errorf(format, args...)
	}
}

func (sc *StringScanner) readUntil(c byte) (s string, found bool) {
	if sc.err != nil {
		return "", false
	}
	start := sc.index
	for end := sc.index; end < len(sc.data); end++ {
		if sc.data[end] == c {
			sc.index = end + 1
			return sc.data[start:end], true
		}
	}
	sc.index = len(sc.data)
	return sc.data[start:], false
}

// readField reads a mandatory tab-terminated field.
func (sc *StringScanner) readField(name string) string {
	value, ok := sc.readUntil('\t')
	if !ok {
		sc.setErr("missing tabulator after field %v in SAM alignment line", name)
	}
	return value
}

// readLastField reads a field that may end the line.
func (sc *StringScanner) readLastField() string {
	value, _ := sc.readUntil('\t')
	return value
}
