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

package internal

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
)

// Names that denote the standard streams on the command line.
const (
	StdStream = "-"
	Stdin     = "/dev/stdin"
	Stdout    = "/dev/stdout"
)

// IsStdin checks whether the given name denotes standard input.
func IsStdin(name string) bool {
	return name == StdStream || name == Stdin
}

// IsStdout checks whether the given name denotes standard output.
func IsStdout(name string) bool {
	return name == StdStream || name == Stdout
}

// Close closes c, and stores the resulting error in *err if *err was
// nil. Intended for deferred calls.
func Close(c io.Closer, err *error) {
	if nerr := c.Close(); *err == nil {
		*err = nerr
	}
}

// ReadFull reads exactly len(buf) bytes. A stream that ends early is
// reported as io.ErrUnexpectedEOF, even when no bytes were read.
func ReadFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// BinaryRead reads a little-endian value from r.
func BinaryRead(r io.Reader, data interface{}) error {
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

// FullPathname returns an absolute path for the given filename.
func FullPathname(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filename, nil
	}
	wd, err := os.Getwd()
	return filepath.Join(wd, filename), err
}
