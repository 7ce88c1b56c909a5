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

	"github.com/pgfibertools/pgfibertools/internal"
	"github.com/pgfibertools/pgfibertools/panspec"
	"github.com/pgfibertools/pgfibertools/sam"
)

// ChangePanSpecHelp is the help string for this command.
const ChangePanSpecHelp = "change-pan-spec parameters:\n" +
	"pgfibertools change-pan-spec sam-file\n" +
	"[--output sam-output-file]\n" +
	"[--strip-pan-spec]\n" +
	"[--pan-spec-delimiter character]\n" +
	"[--pan-spec-prefix prefix]\n" +
	"[--output-type sam | bam]\n" +
	"[--uncompressed]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--log-path path]\n"

// ChangePanSpec implements the pgfibertools change-pan-spec command.
func ChangePanSpec() error {
	var (
		output, outputType string
		strip              bool
		delimiter, prefix  string
		uncompressed       bool
		nrOfThreads        int
		timed              bool
		logPath            string
	)

	var flags flag.FlagSet

	flags.StringVar(&output, "output", internal.StdStream, "write the result to the given file")
	flags.BoolVar(&strip, "strip-pan-spec", false, "strip sample and haplotype from reference names")
	flags.StringVar(&delimiter, "pan-spec-delimiter", string(panspec.DefaultDelimiter), "delimiter between the parts of a reference name")
	flags.StringVar(&prefix, "pan-spec-prefix", "", "prepend the given prefix to reference names")
	flags.StringVar(&outputType, "output-type", "", "format of the output file, sam or bam")
	flags.BoolVar(&uncompressed, "uncompressed", false, "write uncompressed bam output")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 3, ChangePanSpecHelp)

	input := getFilename(os.Args[2], ChangePanSpecHelp)

	if err := setLogOutput(logPath); err != nil {
		return err
	}

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", input) {
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
	mode, modeErr := panspec.ParseMode(strip, delimiter, prefix)
	if modeErr != nil {
		log.Println("Error:", modeErr)
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, ChangePanSpecHelp)
		os.Exit(1)
	}

	// building the command line for the @PG line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " change-pan-spec ", input, " --output ", output)

	switch m := mode.(type) {
	case panspec.Strip:
		fmt.Fprint(&command, " --strip-pan-spec --pan-spec-delimiter ", string(m.Delimiter))
	case panspec.Prefix:
		fmt.Fprint(&command, " --pan-spec-prefix ", m.Prefix)
	default:
		log.Println("Warning: Neither --strip-pan-spec nor --pan-spec-prefix given; reference names are copied unchanged.")
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

	filters := []sam.Filter{
		sam.AddPGLine(programLine(command.String())),
		panspec.Filter(mode),
	}

	log.Println("Executing command:\n", command.String())

	return timedRun(timed, "Changing pangenome reference names.", func() error {
		return runChangePanSpec(input, output, sam.CreateOptions{Format: format, Uncompressed: uncompressed}, filters)
	})
}

func runChangePanSpec(input, output string, options sam.CreateOptions, filters []sam.Filter) (err error) {
	in, err := sam.Open(input)
	if err != nil {
		return fmt.Errorf("%w, while opening %v", err, input)
	}
	defer internal.Close(in, &err)
	out, err := sam.Create(output, options)
	if err != nil {
		return fmt.Errorf("%w, while creating %v", err, output)
	}
	defer internal.Close(out, &err)
	return in.RunPipeline(out, filters)
}
