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

import (
	"sync"
	"testing"
)

func TestIntern(t *testing.T) {
	mm := Intern("MM")
	if Intern("M"+"M") != mm || *mm != "MM" {
		t.Error("equal strings interned to different symbols")
	}
	if Intern("ML") == mm {
		t.Error("different strings interned to the same symbol")
	}
}

func TestInternConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	symbols := make([]Symbol, 8)
	for i := range symbols {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbols[i] = Intern("XS")
		}(i)
	}
	wg.Wait()
	for _, s := range symbols[1:] {
		if s != symbols[0] {
			t.Error("concurrent Intern returned different symbols")
		}
	}
}
