// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jarpack/cmd/jarpack/cli"
	"github.com/bureau-foundation/jarpack/lib/binhash"
	"github.com/bureau-foundation/jarpack/lib/codec"
)

func statsCommand(env *environment) *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "stats",
		Summary: "Print the records of a statistics file written by create --stats-file",
		Usage:   "jarpack stats [--json] FILE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "print as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Usage("stats takes exactly one FILE argument, got %d", len(args))
			}
			return runStats(env, args[0], asJSON)
		},
	}
}

func runStats(env *environment, path string, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	records, err := decodeStats(env, data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%s holds no statistics records", path)
	}

	if asJSON {
		encoder := json.NewEncoder(env.stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}
	for i, record := range records {
		if i > 0 {
			fmt.Fprintln(env.stdout)
		}
		fmt.Fprintf(env.stdout, "%s\n%s\n%s  %s\n", record.Version, record.Statistics, record.Digest, record.Output)
	}
	return nil
}

// decodeStats reads every record of a statistics file. A record that
// does not match the schema is printed to stderr in diagnostic
// notation.
func decodeStats(env *environment, data []byte) ([]statsFile, error) {
	decoder := codec.NewDecoder(bytes.NewReader(data))
	var records []statsFile
	for {
		offset := decoder.NumBytesRead()
		var record statsFile
		err := decoder.Decode(&record)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err == nil {
			_, err = binhash.ParseDigest(record.Digest)
		}
		if err != nil {
			if notation, diagnoseErr := codec.Diagnose(data[offset:]); diagnoseErr == nil {
				fmt.Fprintf(env.stderr, "record %d: %s\n", len(records), notation)
			}
			return nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, record)
	}
}
