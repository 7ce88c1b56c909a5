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

// pgfibertools rewrites pangenome reference names in SAM/BAM files,
// and synchronizes optional fields between two SAM/BAM files that
// describe the same reads.
//
// Please see https://github.com/pgfibertools/pgfibertools for a
// documentation of the tool.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/pgfibertools/pgfibertools/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: change-pan-spec, sync-tags")
	fmt.Fprint(os.Stderr, "\n", cmd.ChangePanSpecHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.SyncTagsHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage, "\n")
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "change-pan-spec":
		err = cmd.ChangePanSpec()
	case "sync-tags":
		err = cmd.SyncTags()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		log.Println("Unknown command", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}
