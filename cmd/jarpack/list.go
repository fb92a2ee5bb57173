// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jarpack/cmd/jarpack/cli"
)

func listCommand(env *environment) *cli.Command {
	var long bool
	return &cli.Command{
		Name:    "list",
		Summary: "List the entries of a container in order",
		Usage:   "jarpack list [--long] FILE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.BoolVarP(&long, "long", "l", false, "show method, sizes, mode and modification time")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Usage("list takes exactly one FILE argument, got %d", len(args))
			}
			return runList(env, args[0], long)
		},
	}
}

func runList(env *environment, path string, long bool) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer reader.Close()

	if !long {
		for _, file := range reader.File {
			fmt.Fprintln(env.stdout, file.Name)
		}
		return nil
	}

	table := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, file := range reader.File {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t %s\n",
			file.Mode(),
			methodName(file.Method),
			humanize.IBytes(file.UncompressedSize64),
			humanize.IBytes(file.CompressedSize64),
			file.Modified.UTC().Format("2006-01-02 15:04"),
			file.Name,
		)
	}
	return table.Flush()
}

func methodName(method uint16) string {
	switch method {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	case zstd.ZipMethodWinZip:
		return "zstd"
	default:
		return fmt.Sprintf("method-%d", method)
	}
}
