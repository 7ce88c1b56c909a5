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
	"github.com/google/uuid"

	"github.com/pgfibertools/pgfibertools/utils"
)

func findPG(pgs []utils.StringMap, key, value string) int {
	return utils.Find(pgs, func(entry utils.StringMap) bool { return entry[key] == value })
}

/*
AddPGLine returns a filter for adding a @PG line to a Header. The new
line is chained by its PP field to the last program of the existing
chain. If its ID is already taken, a random suffix is appended.
*/
func AddPGLine(newPG utils.StringMap) Filter {
	return func(header *Header) (AlignmentFilter, error) {
		pg := newPG.Copy()
		id := pg["ID"]
		for findPG(header.PG, "ID", id) >= 0 {
			id = pg["ID"] + "-" + uuid.New().String()[:8]
		}
		pg["ID"] = id
		for _, entry := range header.PG {
			if last := entry["ID"]; findPG(header.PG, "PP", last) < 0 {
				pg["PP"] = last
				break
			}
		}
		header.PG = append(header.PG, pg)
		return nil, nil
	}
}
