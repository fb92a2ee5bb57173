// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jar

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/jarpack/lib/backingstore"
	"github.com/bureau-foundation/jarpack/lib/clock"
	"github.com/bureau-foundation/jarpack/lib/parallel"
	"github.com/bureau-foundation/jarpack/lib/scatter"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

var (
	// ErrAlreadyWritten is returned by a second WriteTo.
	ErrAlreadyWritten = errors.New("container already written")

	// ErrClosed is returned by Add after WriteTo or Abort.
	ErrClosed = errors.New("container creator is closed")

	// ErrNotWritten is returned by Statistics before WriteTo finished
	// replaying the container.
	ErrNotWritten = errors.New("container has not been written")
)

// ContainerWriter is the output of a run: a zip writer that accepts
// precompressed entries and completes the container on Close.
// *zip.Writer from github.com/klauspost/compress/zip implements it.
type ContainerWriter interface {
	scatter.ContainerWriter
	Close() error
}

// State is the lifecycle stage of a [Creator].
type State uint8

const (
	// StateOpen accepts entries.
	StateOpen State = iota

	// StateFinalizing is held for the duration of WriteTo.
	StateFinalizing

	// StateClosed is terminal. Every resource has been released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Config configures a [Creator].
type Config struct {
	// Workers is the size of the compression pool. Must be at least 1.
	Workers int

	// TotalCapacity is the in-memory budget, in bytes, divided evenly
	// between workers to give each backing store its spill threshold.
	// Zero selects backingstore.DefaultTotalCapacity.
	TotalCapacity int64

	// TempDir holds spill files. Empty selects os.TempDir().
	TempDir string

	// Level is the compression level for deflate and zstd entries.
	Level int

	// Logger receives lifecycle events. Nil discards.
	Logger *slog.Logger

	// Clock times the run for [Statistics]. Nil selects clock.Real().
	Clock clock.Clock
}

// Creator routes entries into scatter channels and writes them out as
// one container. All methods must be called from the same goroutine.
type Creator struct {
	logger *slog.Logger
	clock  clock.Clock

	// channels is indexed by category. The parallel slot is nil; those
	// entries live in the engine's per-worker channels.
	channels [zipentry.NumCategories]*scatter.Channel
	engine   *parallel.Engine

	nextSeq [zipentry.NumCategories]uint64

	// err is the first backing store failure. It ends the run: every
	// later Add and WriteTo return it.
	err error

	state   State
	written bool
	created time.Time
	stats   *Statistics
}

// NewCreator validates config, acquires one backing store per
// synchronous category plus one per worker, and starts the pool.
func NewCreator(config Config) (*Creator, error) {
	if config.TotalCapacity == 0 {
		config.TotalCapacity = backingstore.DefaultTotalCapacity
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	provider, err := backingstore.NewProvider(backingstore.ProviderConfig{
		TotalCapacity: config.TotalCapacity,
		Workers:       config.Workers,
		TempDir:       config.TempDir,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	creator := &Creator{
		logger:  logger,
		clock:   clk,
		created: clk.Now(),
	}
	for _, category := range zipentry.ReplayOrder {
		if !category.Synchronous() {
			continue
		}
		store, err := provider.Acquire()
		if err != nil {
			creator.release()
			return nil, fmt.Errorf("acquiring store for %s entries: %w", category, err)
		}
		channel, err := scatter.New(store, config.Level)
		if err != nil {
			store.Close()
			creator.release()
			return nil, err
		}
		creator.channels[category] = channel
	}

	creator.engine, err = parallel.New(parallel.Config{
		Workers:  config.Workers,
		Provider: provider,
		Level:    config.Level,
		Logger:   logger,
		Clock:    clk,
	})
	if err != nil {
		creator.release()
		return nil, err
	}

	logger.Debug("container creator ready",
		"workers", config.Workers,
		"store_threshold", provider.Threshold(),
		"temp_dir", config.TempDir,
	)
	return creator, nil
}

// State returns the lifecycle stage.
func (c *Creator) State() State {
	return c.state
}

// AddEntry is shorthand for Add with a request built from its
// arguments.
func (c *Creator) AddEntry(descriptor zipentry.Descriptor, source zipentry.PayloadSource, parallel bool) error {
	return c.Add(zipentry.Request{Descriptor: descriptor, Source: source, Parallel: parallel})
}

// Add routes one entry. Entries of every category except bulk
// parallel are compressed before Add returns; bulk parallel entries
// are queued and Add returns immediately.
//
// A payload failure of a synchronous entry is returned here and the
// entry is left out of the container. A backing store failure, in any
// category or on any worker, is returned by the first Add that sees
// it, and every later Add and the final WriteTo fail with it.
func (c *Creator) Add(request zipentry.Request) error {
	if c.state != StateOpen {
		return ErrClosed
	}
	if c.err != nil {
		return c.err
	}
	if err := c.engine.Err(); err != nil {
		return c.fail(fmt.Errorf("parallel store: %w", err))
	}
	descriptor := request.Descriptor
	if err := descriptor.Validate(); err != nil {
		return err
	}

	category := zipentry.Classify(request)
	source := request.Source
	switch category {
	case zipentry.CategoryDirectory:
		descriptor.Method = zipentry.MethodStore
		source = zipentry.Empty()
		if !descriptor.HasDirectoryName() {
			descriptor.Name += "/"
		}
	case zipentry.CategoryMetaDirectory:
		if descriptor.Directory || descriptor.HasDirectoryName() {
			descriptor.Method = zipentry.MethodStore
		}
	}

	if category == zipentry.CategoryBulkParallel {
		if err := c.engine.Submit(descriptor, source); err != nil {
			return c.fail(fmt.Errorf("queueing %q: %w", descriptor.Name, err))
		}
		return nil
	}

	seq := c.nextSeq[category]
	if _, err := c.channels[category].Append(seq, descriptor, source); err != nil {
		return c.fail(fmt.Errorf("adding %s entry: %w", category, err))
	}
	c.nextSeq[category]++
	return nil
}

// fail records err as the run's terminal error when it is a backing
// store failure, and returns it.
func (c *Creator) fail(err error) error {
	if errors.Is(err, scatter.ErrBroken) {
		c.err = err
		c.logger.Error("backing store failed; run aborted", "error", err)
	}
	return err
}

// WriteTo waits for every parallel entry, replays all categories into
// w in [zipentry.ReplayOrder] and closes w. It may be called once.
//
// When some parallel entries failed, the container is still completed
// with every other entry and WriteTo returns the failures, each a
// *parallel.TaskError naming its entry. A backing store failure seen
// during the run is returned without writing anything. Any other error
// leaves w partially written. In every case the Creator ends in StateClosed
// with its stores and workers released.
func (c *Creator) WriteTo(w ContainerWriter) (err error) {
	switch {
	case c.written:
		return ErrAlreadyWritten
	case c.state != StateOpen:
		return ErrClosed
	}
	c.written = true
	c.state = StateFinalizing

	defer func() {
		if releaseErr := c.release(); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
		c.state = StateClosed
	}()

	taskErr := c.engine.AwaitAll()
	if c.err == nil {
		if err := c.engine.Err(); err != nil {
			c.err = fmt.Errorf("parallel store: %w", err)
		}
	}
	if c.err != nil {
		return errors.Join(c.err, taskErr)
	}
	if taskErr != nil {
		c.logger.Warn("parallel entries failed; writing the rest", "error", taskErr)
	}

	for _, category := range zipentry.ReplayOrder {
		var replayErr error
		if category == zipentry.CategoryBulkParallel {
			replayErr = c.engine.ReplayInto(w)
		} else {
			replayErr = c.channels[category].ReplayInto(w)
		}
		if replayErr != nil {
			return errors.Join(fmt.Errorf("replaying %s entries: %w", category, replayErr), taskErr)
		}
	}

	closeStart := c.clock.Now()
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing container: %w", err)
	}
	closeDuration := clock.Since(c.clock, closeStart)

	stats := c.collect(closeDuration)
	c.stats = &stats
	c.logger.Info("container written",
		"entries", stats.Entries(),
		"parallel", stats.ParallelEntries,
		"failed", stats.FailedEntries,
		"compressed_bytes", stats.CompressedBytes,
		"close", stats.Close,
	)

	if taskErr != nil {
		return fmt.Errorf("%d parallel entries failed: %w", stats.FailedEntries, taskErr)
	}
	return nil
}

// Abort releases every resource without writing anything. It is a
// no-op after WriteTo or a previous Abort, so it is safe to defer.
func (c *Creator) Abort() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	c.logger.Debug("container creator aborted")
	return c.release()
}

// Statistics returns the run summary. It is available once WriteTo
// has closed the container, including when parallel entries failed.
func (c *Creator) Statistics() (Statistics, error) {
	if c.stats == nil {
		return Statistics{}, ErrNotWritten
	}
	return *c.stats, nil
}

func (c *Creator) collect(closeDuration time.Duration) Statistics {
	engineStats := c.engine.Stats()
	stats := Statistics{
		MetaDirectoryEntries: c.channels[zipentry.CategoryMetaDirectory].Len(),
		ManifestEntries:      c.channels[zipentry.CategoryManifest].Len(),
		DirectoryEntries:     c.channels[zipentry.CategoryDirectory].Len(),
		SequentialEntries:    c.channels[zipentry.CategoryBulkSequential].Len(),
		ParallelEntries:      engineStats.Entries,
		FailedEntries:        engineStats.Failed,
		Workers:              engineStats.Workers,
		CompressedBytes:      engineStats.CompressedBytes,
		UncompressedBytes:    engineStats.UncompressedBytes,
		SpilledStores:        engineStats.SpilledStores,
		Compression:          engineStats.Compression,
		Merge:                engineStats.Merge,
		Close:                closeDuration,
		Total:                clock.Since(c.clock, c.created),
	}
	for _, channel := range c.channels {
		if channel == nil {
			continue
		}
		stats.CompressedBytes += channel.CompressedBytes()
		stats.UncompressedBytes += channel.UncompressedBytes()
		if channel.Spilled() {
			stats.SpilledStores++
		}
	}
	return stats
}

func (c *Creator) release() error {
	var errs []error
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stopping parallel engine: %w", err))
		}
	}
	for category, channel := range c.channels {
		if channel == nil {
			continue
		}
		if err := channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing %s store: %w", zipentry.Category(category), err))
		}
	}
	return errors.Join(errs...)
}
