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
Package sam is a library for parsing and formatting SAM and BAM files.

It supports the header section, the mandatory alignment fields, and
all typed optional fields, as described in
http://samtools.github.io/hts-specs/SAMv1.pdf. Optional field values
keep their exact type code, so that they survive a round trip through
either format unchanged.

Alignments can be processed in two ways. An InputFile is a Stream,
and an OutputFile a Sink, for sequential record-by-record
processing. Alternatively, Filter values can be composed and run on
an InputFile or an in-memory Sam value with RunPipeline, which uses
the pargo library for parallel parsing, filtering, and formatting
while preserving the order of the alignments. See
https://godoc.org/github.com/ExaScience/pargo/pipeline for details of
pargo pipelines if necessary.
*/
package sam
