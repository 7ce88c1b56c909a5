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

package utils

// A StringMap maps tags to values in header lines of SAM files.
type StringMap map[string]string

// Find returns the index of the first record for which the predicate
// holds, or -1.
func Find(dict []StringMap, predicate func(record StringMap) bool) int {
	for index, record := range dict {
		if predicate(record) {
			return index
		}
	}
	return -1
}

// SetUniqueEntry sets the value for the given key only if the key is
// not yet present. It reports whether the entry was added.
func (record StringMap) SetUniqueEntry(key, value string) bool {
	if _, found := record[key]; found {
		return false
	}
	record[key] = value
	return true
}

// Copy returns a shallow copy of the record.
func (record StringMap) Copy() StringMap {
	result := make(StringMap, len(record))
	for key, value := range record {
		result[key] = value
	}
	return result
}
