// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// jarpack builds, lists and extracts zip and jar containers.
//
// "jarpack create" walks a directory and compresses its files on a
// worker pool. Output is deterministic: the same tree produces the
// same bytes for any --workers value, with META-INF/ and its manifest
// always first. Memory use is bounded by --memory-budget; buffered
// compressed data beyond it spills to temporary files.
//
// Configuration is read from --config or JARPACK_CONFIG (YAML, or
// JSON with comments); flags override the file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/jarpack/cmd/jarpack/cli"
	"github.com/bureau-foundation/jarpack/lib/process"
	"github.com/bureau-foundation/jarpack/lib/version"
)

func main() {
	process.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// environment carries the process streams into commands so tests can
// capture them.
type environment struct {
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintf(stdout, "jarpack %s\n", version.Full())
		return nil
	}

	env := &environment{stdout: stdout, stderr: stderr}
	root := &cli.Command{
		Name:        "jarpack",
		Description: "jarpack builds deterministic zip and jar containers using a parallel compression pool.",
		Output:      stderr,
		Subcommands: []*cli.Command{
			createCommand(env),
			listCommand(env),
			extractCommand(env),
			statsCommand(env),
		},
	}
	return root.Execute(args)
}
