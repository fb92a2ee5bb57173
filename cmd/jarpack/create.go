// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jarpack/cmd/jarpack/cli"
	"github.com/bureau-foundation/jarpack/lib/binhash"
	"github.com/bureau-foundation/jarpack/lib/codec"
	"github.com/bureau-foundation/jarpack/lib/config"
	"github.com/bureau-foundation/jarpack/lib/jar"
	"github.com/bureau-foundation/jarpack/lib/parallel"
	"github.com/bureau-foundation/jarpack/lib/version"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

// statsFile is one record of the --stats-file CBOR sequence. Each run
// appends one.
type statsFile struct {
	Version    string         `json:"version"`
	Output     string         `json:"output"`
	Digest     string         `json:"digest"`
	Statistics jar.Statistics `json:"statistics"`
}

type createOptions struct {
	commonOptions
	output          string
	manifest        string
	statsFile       string
	workers         int
	method          string
	level           int
	memoryBudget    string
	sequentialBelow string
	tempDir         string
	reproducible    bool

	flagSet *pflag.FlagSet
}

func createCommand(env *environment) *cli.Command {
	var options createOptions
	return &cli.Command{
		Name:    "create",
		Summary: "Build a container from a directory",
		Description: `Build a container from the files under DIR.

Files at least --sequential-below bytes long are compressed on a
pool of --workers goroutines; smaller files, directories and symlinks
are compressed in walk order on the main goroutine. The container
always starts with META-INF/ and META-INF/MANIFEST.MF. When DIR has
no manifest (or --manifest is not given) one is generated from the
configuration.`,
		Usage: "jarpack create --output FILE [flags] DIR",
		Examples: []cli.Example{
			{Description: "Pack a build tree with 8 workers", Command: "jarpack create -o app.jar --workers 8 build/classes"},
			{Description: "Byte-for-byte reproducible output", Command: "jarpack create -o app.jar --reproducible --stats-file app.stats build/classes"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			options.commonOptions.addFlags(flagSet)
			flagSet.StringVarP(&options.output, "output", "o", "", "container file to write (required)")
			flagSet.StringVar(&options.manifest, "manifest", "", "manifest file to use instead of DIR/META-INF/MANIFEST.MF")
			flagSet.StringVar(&options.statsFile, "stats-file", "", "append run statistics as a CBOR record to this file")
			flagSet.IntVar(&options.workers, "workers", 0, "compression workers (0: one per CPU)")
			flagSet.StringVar(&options.method, "method", "", "compression method: store, deflate, zstd")
			flagSet.IntVar(&options.level, "level", 0, "compression level, -1 for the method default")
			flagSet.StringVar(&options.memoryBudget, "memory-budget", "", "memory shared by all buffers before spilling, e.g. 256MB")
			flagSet.StringVar(&options.sequentialBelow, "sequential-below", "", "compress files smaller than this on the main goroutine")
			flagSet.StringVar(&options.tempDir, "temp-dir", "", "directory for spill files")
			flagSet.BoolVar(&options.reproducible, "reproducible", false, "record zero modification times")
			options.flagSet = flagSet
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Usage("create takes exactly one DIR argument, got %d", len(args))
			}
			if options.output == "" {
				return cli.Usage("--output is required")
			}
			return runCreate(env, &options, args[0])
		},
	}
}

// applyFlags copies explicitly set flags over the loaded configuration.
func (o *createOptions) applyFlags(cfg *config.Config) {
	changed := o.flagSet.Changed
	if changed("workers") {
		cfg.Build.Workers = o.workers
	}
	if changed("method") {
		cfg.Build.Method = o.method
	}
	if changed("level") {
		cfg.Build.Level = o.level
	}
	if changed("memory-budget") {
		cfg.Build.MemoryBudget = o.memoryBudget
	}
	if changed("sequential-below") {
		cfg.Build.SequentialBelow = o.sequentialBelow
	}
	if changed("temp-dir") {
		cfg.Build.TempDir = o.tempDir
	}
}

func runCreate(env *environment, options *createOptions, root string) error {
	cfg, logger, err := options.load(env, "create", options.applyFlags)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return cli.Usage("input directory: %w", err)
	}
	if !info.IsDir() {
		return cli.Usage("input %s is not a directory", root)
	}

	// Validate has already parsed these.
	budget, _ := cfg.Build.MemoryBudgetBytes()
	sequentialBelow, _ := cfg.Build.SequentialBelowBytes()
	method, _ := cfg.Build.CompressionMethod()

	creator, err := jar.NewCreator(jar.Config{
		Workers:       cfg.Build.WorkerCount(),
		TotalCapacity: budget,
		TempDir:       cfg.Build.TempDir,
		Level:         cfg.Build.Level,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer creator.Abort()

	walker := &treeWalker{
		creator:         creator,
		root:            root,
		method:          method,
		sequentialBelow: sequentialBelow,
		reproducible:    options.reproducible,
		logger:          logger,
	}
	if err := walker.addMetadata(options.manifest, &cfg.Build.Manifest); err != nil {
		return err
	}
	if err := filepath.WalkDir(root, walker.visit); err != nil {
		return err
	}

	output, err := os.Create(options.output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	writeErr := creator.WriteTo(zip.NewWriter(output))
	if closeErr := output.Close(); writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("closing output: %w", closeErr)
	}
	if writeErr != nil {
		os.Remove(options.output)
		failed := taskErrors(writeErr)
		if len(failed) == 0 {
			return writeErr
		}
		for _, task := range failed {
			logger.Error("entry failed", "name", task.Name, "error", task.Err)
		}
		logger.Error("container incomplete; output removed", "output", options.output, "failed", len(failed))
		return &cli.ExitError{Code: 1}
	}

	stats, err := creator.Statistics()
	if err != nil {
		return err
	}
	digest, err := binhash.HashFile(options.output)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s\n%s  %s\n", stats, binhash.FormatDigest(digest), options.output)

	if options.statsFile != "" {
		record := statsFile{
			Version:    version.Info(),
			Output:     options.output,
			Digest:     binhash.FormatDigest(digest),
			Statistics: stats,
		}
		if err := appendStats(options.statsFile, record); err != nil {
			return fmt.Errorf("writing statistics: %w", err)
		}
	}
	return nil
}

// appendStats appends record to the CBOR sequence at path.
func appendStats(path string, record statsFile) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if err := codec.NewEncoder(file).Encode(record); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// taskErrors collects every parallel failure in err's tree.
func taskErrors(err error) []*parallel.TaskError {
	if task, ok := err.(*parallel.TaskError); ok {
		return []*parallel.TaskError{task}
	}
	switch wrapped := err.(type) {
	case interface{ Unwrap() []error }:
		var all []*parallel.TaskError
		for _, inner := range wrapped.Unwrap() {
			all = append(all, taskErrors(inner)...)
		}
		return all
	case interface{ Unwrap() error }:
		return taskErrors(wrapped.Unwrap())
	}
	return nil
}

// treeWalker turns a directory walk into creator entries.
type treeWalker struct {
	creator         *jar.Creator
	root            string
	method          zipentry.Method
	sequentialBelow int64
	reproducible    bool
	logger          *slog.Logger
}

// addMetadata adds META-INF/ and the manifest. A manifest in the tree
// is skipped by visit, so it never appears twice.
func (w *treeWalker) addMetadata(manifestFlag string, generated *config.ManifestConfig) error {
	err := w.creator.AddEntry(zipentry.Descriptor{
		Name:   zipentry.MetaDirectoryName + "/",
		Method: zipentry.MethodStore,
		Mode:   0o755,
	}, zipentry.Empty(), false)
	if err != nil {
		return err
	}

	manifestPath := manifestFlag
	if manifestPath == "" {
		candidate := filepath.Join(w.root, filepath.FromSlash(zipentry.ManifestName))
		if _, err := os.Stat(candidate); err == nil {
			manifestPath = candidate
		}
	}

	descriptor := zipentry.Descriptor{Name: zipentry.ManifestName, Method: zipentry.MethodDeflate}
	if manifestPath == "" {
		w.logger.Debug("generating manifest")
		return w.creator.AddEntry(descriptor, zipentry.String(generated.Render()), false)
	}
	info, err := os.Stat(manifestPath)
	if err != nil {
		return cli.Usage("manifest: %w", err)
	}
	descriptor.Modified = w.modified(info)
	return w.creator.AddEntry(descriptor, zipentry.File(manifestPath), false)
}

func (w *treeWalker) modified(info fs.FileInfo) time.Time {
	if w.reproducible {
		return time.Time{}
	}
	return info.ModTime()
}

func (w *treeWalker) visit(path string, entry fs.DirEntry, walkErr error) error {
	if walkErr != nil {
		return walkErr
	}
	relative, err := filepath.Rel(w.root, path)
	if err != nil {
		return err
	}
	if relative == "." {
		return nil
	}
	name := filepath.ToSlash(relative)
	if name == zipentry.MetaDirectoryName || name == zipentry.ManifestName {
		return nil
	}

	info, err := entry.Info()
	if err != nil {
		return err
	}
	descriptor := zipentry.Descriptor{
		Name:     name,
		Modified: w.modified(info),
		Mode:     info.Mode().Perm(),
	}

	switch {
	case entry.IsDir():
		descriptor.Directory = true
		descriptor.Method = zipentry.MethodStore
		return w.creator.AddEntry(descriptor, nil, false)

	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		descriptor.Symlink = true
		descriptor.Method = zipentry.MethodStore
		return w.creator.AddEntry(descriptor, zipentry.String(target), false)

	case info.Mode().IsRegular():
		descriptor.Method = w.method
		parallel := info.Size() >= w.sequentialBelow
		return w.creator.AddEntry(descriptor, zipentry.File(path), parallel)

	default:
		w.logger.Warn("skipping special file", "path", path, "mode", info.Mode().String())
		return nil
	}
}
