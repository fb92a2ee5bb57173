// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jarpack/cmd/jarpack/cli"
	"github.com/bureau-foundation/jarpack/lib/config"
	"github.com/bureau-foundation/jarpack/lib/ownership"
)

type extractOptions struct {
	commonOptions
	owner        string
	preserveMode bool

	flagSet *pflag.FlagSet
}

func extractCommand(env *environment) *cli.Command {
	var options extractOptions
	return &cli.Command{
		Name:    "extract",
		Summary: "Unpack a container into a directory",
		Description: `Unpack every entry of FILE under DIR, creating DIR if needed.

Entries that would land outside DIR, by name or through a symlink
extracted earlier, are rejected. With --owner, every extracted path is
chowned (without following symlinks); an owner that does not exist on
this machine is reported once and ignored.`,
		Usage: "jarpack extract [flags] FILE DIR",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("extract", pflag.ContinueOnError)
			options.commonOptions.addFlags(flagSet)
			flagSet.StringVar(&options.owner, "owner", "", "chown extracted paths to user[:group]")
			flagSet.BoolVar(&options.preserveMode, "preserve-mode", true, "apply recorded permission bits")
			options.flagSet = flagSet
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return cli.Usage("extract takes FILE and DIR arguments, got %d", len(args))
			}
			return runExtract(env, &options, args[0], args[1])
		},
	}
}

func (o *extractOptions) applyFlags(cfg *config.Config) {
	if o.flagSet.Changed("owner") {
		cfg.Extract.Owner = o.owner
	}
	if o.flagSet.Changed("preserve-mode") {
		cfg.Extract.PreserveMode = o.preserveMode
	}
}

func runExtract(env *environment, options *extractOptions, path, destination string) error {
	cfg, logger, err := options.load(env, "extract", options.applyFlags)
	if err != nil {
		return err
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer reader.Close()
	reader.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	if err := os.MkdirAll(destination, 0o755); err != nil {
		return err
	}
	root, err := os.OpenRoot(destination)
	if err != nil {
		return err
	}
	defer root.Close()

	extractor := &extractor{
		root:         root,
		preserveMode: cfg.Extract.PreserveMode,
	}
	if cfg.Extract.Owner != "" {
		// Validate has already parsed it.
		owner, _ := ownership.Parse(cfg.Extract.Owner)
		resolved, err := ownership.Resolve(owner)
		switch {
		case errors.Is(err, ownership.ErrPrincipalNotFound):
			logger.Warn("owner not found on this machine; leaving ownership unchanged",
				"owner", owner.String(), "error", err)
		case err != nil:
			return fmt.Errorf("resolving --owner: %w", err)
		default:
			extractor.owner = &resolved
		}
	}

	for _, file := range reader.File {
		if err := extractor.extract(file); err != nil {
			return err
		}
	}
	logger.Info("extracted", "entries", len(reader.File), "destination", destination)
	return nil
}

// extractor writes entries below root. Every path operation goes
// through root, so neither ".." nor a symlink from an earlier entry
// can place anything outside the destination.
type extractor struct {
	root         *os.Root
	preserveMode bool

	// owner holds numeric ids, resolved once before the first entry.
	owner *ownership.Owner
}

func (e *extractor) extract(file *zip.File) error {
	name, err := entryPath(file.Name)
	if err != nil {
		return err
	}
	mode := file.Mode()

	switch {
	case mode.IsDir():
		if err := e.root.MkdirAll(name, 0o755); err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
	case mode&fs.ModeSymlink != 0:
		linkTarget, err := readAll(file)
		if err != nil {
			return err
		}
		if err := e.root.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
		if err := e.root.Symlink(string(linkTarget), name); err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
		return e.applyOwner(name)
	default:
		if err := e.root.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
		if err := e.writeFile(file, name); err != nil {
			return err
		}
	}

	if e.preserveMode {
		if err := ownership.Chmod(e.root, name, mode.Perm()); err != nil {
			return err
		}
	}
	return e.applyOwner(name)
}

// entryPath turns an entry name into a path relative to the
// destination, rejecting names that leave it textually.
func entryPath(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the destination directory", name)
	}
	return cleaned, nil
}

func (e *extractor) writeFile(file *zip.File, name string) error {
	source, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening entry %s: %w", file.Name, err)
	}
	defer source.Close()

	output, err := e.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", file.Name, err)
	}
	if _, err := io.Copy(output, source); err != nil {
		output.Close()
		return fmt.Errorf("extracting %s: %w", file.Name, err)
	}
	return output.Close()
}

func (e *extractor) applyOwner(name string) error {
	if e.owner == nil {
		return nil
	}
	return ownership.Apply(e.root, name, *e.owner)
}

func readAll(file *zip.File) ([]byte, error) {
	source, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", file.Name, err)
	}
	defer source.Close()
	return io.ReadAll(source)
}
