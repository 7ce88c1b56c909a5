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

package cmd

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/pgfibertools/pgfibertools/internal"
	"github.com/pgfibertools/pgfibertools/sam"
	"github.com/pgfibertools/pgfibertools/tagsync"
)

// SyncTagsHelp is the help string for this command.
const SyncTagsHelp = "sync-tags parameters:\n" +
	"pgfibertools sync-tags source-file destination-file\n" +
	"[--output sam-output-file]\n" +
	"[--tags tag[,tag...]]\n" +
	"[--check-order]\n" +
	"[--output-type sam | bam]\n" +
	"[--uncompressed]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--log-path path]\n"

// SyncTags implements the pgfibertools sync-tags command.
func SyncTags() error {
	var (
		output, outputType string
		tags               string
		checkOrder         bool
		uncompressed       bool
		nrOfThreads        int
		timed              bool
		logPath            string
	)

	var flags flag.FlagSet

	flags.StringVar(&output, "output", internal.StdStream, "write the result to the given file")
	flags.StringVar(&tags, "tags", "", "copy only the given optional fields")
	flags.BoolVar(&checkOrder, "check-order", false, "verify that both inputs are sorted by query name")
	flags.StringVar(&outputType, "output-type", "", "format of the output file, sam or bam")
	flags.BoolVar(&uncompressed, "uncompressed", false, "write uncompressed bam output")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 4, SyncTagsHelp)

	source := getFilename(os.Args[2], SyncTagsHelp)
	destination := getFilename(os.Args[3], SyncTagsHelp)

	if err := setLogOutput(logPath); err != nil {
		return err
	}

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", source) {
		sanityChecksFailed = true
	}
	if !checkExist("", destination) {
		sanityChecksFailed = true
	}
	if internal.IsStdin(source) && internal.IsStdin(destination) {
		log.Println("Error: Source and destination cannot both be read from standard input.")
		sanityChecksFailed = true
	}
	if !checkCreate("--output", output) {
		sanityChecksFailed = true
	}
	format, ok := checkOutputFormat(outputType)
	if !ok {
		sanityChecksFailed = true
	}
	if !checkThreads(nrOfThreads) {
		sanityChecksFailed = true
	}

	var tagList []string
	if tags != "" {
		tagList = strings.Split(tags, ",")
		for _, tag := range tagList {
			if !sam.IsValidTag(tag) {
				log.Printf("Error: Invalid tag %v for command line parameter --tags.\n", tag)
				sanityChecksFailed = true
			}
		}
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, SyncTagsHelp)
		os.Exit(1)
	}

	// building the command line for the @PG line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " sync-tags ", source, " ", destination, " --output ", output)

	var options []tagsync.Option

	if tags != "" {
		options = append(options, tagsync.WithTags(tagList...))
		fmt.Fprint(&command, " --tags ", tags)
	}

	if checkOrder {
		options = append(options, tagsync.WithOrderCheck(sam.QNAMELess))
		fmt.Fprint(&command, " --check-order")
	}

	if outputType != "" {
		fmt.Fprint(&command, " --output-type ", outputType)
	}

	if uncompressed {
		fmt.Fprint(&command, " --uncompressed")
	}

	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
		fmt.Fprint(&command, " --nr-of-threads ", nrOfThreads)
	}

	if timed {
		fmt.Fprint(&command, " --timed")
	}

	if logPath != "" {
		fmt.Fprint(&command, " --log-path ", logPath)
	}

	log.Println("Executing command:\n", command.String())

	return timedRun(timed, "Synchronizing optional fields.", func() (err error) {
		stats, err := runSyncTags(source, destination, output, sam.CreateOptions{Format: format, Uncompressed: uncompressed}, command.String(), options)
		if err != nil {
			return err
		}
		log.Printf("Read %v source and %v destination records, wrote %v records, copied %v optional fields.\n",
			stats.SourceRecords, stats.DestinationRecords, stats.Emitted, stats.TagsCopied)
		if stats.SkippedSource > 0 || stats.DrainedSource > 0 {
			log.Printf("Warning: %v source records had no matching destination record, %v source records were read after the destination was exhausted.\n",
				stats.SkippedSource, stats.DrainedSource)
		}
		return nil
	})
}

// runSyncTags writes the destination header, extended with a @PG
// line, followed by the synchronized destination records.
func runSyncTags(source, destination, output string, options sam.CreateOptions, commandString string, syncOptions []tagsync.Option) (stats tagsync.Stats, err error) {
	src, err := sam.Open(source)
	if err != nil {
		return stats, fmt.Errorf("%w, while opening %v", err, source)
	}
	defer internal.Close(src, &err)
	if err = src.SkipHeader(); err != nil {
		return stats, fmt.Errorf("%w, while reading the header of %v", err, source)
	}

	dst, err := sam.Open(destination)
	if err != nil {
		return stats, fmt.Errorf("%w, while opening %v", err, destination)
	}
	defer internal.Close(dst, &err)
	header, err := dst.ParseHeader()
	if err != nil {
		return stats, fmt.Errorf("%w, while reading the header of %v", err, destination)
	}
	if _, err = sam.AddPGLine(programLine(commandString))(header); err != nil {
		return stats, err
	}

	out, err := sam.Create(output, options)
	if err != nil {
		return stats, fmt.Errorf("%w, while creating %v", err, output)
	}
	defer internal.Close(out, &err)
	if err = out.FormatHeader(header); err != nil {
		return stats, fmt.Errorf("%w, while writing the header of %v", err, output)
	}

	return tagsync.Synchronize(src, dst, out, syncOptions...)
}
