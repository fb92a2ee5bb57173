// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/jarpack/lib/backingstore"
	"github.com/bureau-foundation/jarpack/lib/clock"
	"github.com/bureau-foundation/jarpack/lib/scatter"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

var (
	// ErrClosed is returned by Submit after the engine was merged or
	// shut down.
	ErrClosed = errors.New("parallel engine no longer accepts entries")

	// ErrInvalidConfig is returned by New for a configuration that
	// cannot start a pool.
	ErrInvalidConfig = errors.New("invalid parallel engine configuration")
)

// TaskError identifies the entry whose compression failed.
type TaskError struct {
	Name string
	Seq  uint64
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("parallel entry %q (task %d): %v", e.Name, e.Seq, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Config configures an [Engine].
type Config struct {
	// Workers is the pool size. Must be at least 1.
	Workers int

	// Provider supplies one backing store per worker.
	Provider *backingstore.Provider

	// Level is the compression level passed to every worker's
	// compressor.
	Level int

	// Logger receives pool lifecycle events. Nil discards.
	Logger *slog.Logger

	// Clock times the compression and merge phases. Nil selects
	// clock.Real().
	Clock clock.Clock
}

// Stats summarizes the work done by an engine.
type Stats struct {
	Workers           int
	Entries           int
	Failed            int
	CompressedBytes   int64
	UncompressedBytes int64
	SpilledStores     int

	// Compression is the time from the first submit to the last task
	// settling.
	Compression time.Duration

	// Merge is the time spent replaying worker channels.
	Merge time.Duration
}

// worker owns one scatter channel. Only its goroutine appends to the
// channel; the producer reads it after AwaitAll.
type worker struct {
	id      int
	channel *scatter.Channel
}

// Engine compresses entries on a fixed pool of workers and merges
// their output in submission order.
//
// Submit, AwaitAll, ReplayInto and Close are called from the producer
// goroutine only.
type Engine struct {
	workers []*worker
	queue   *taskQueue
	group   errgroup.Group
	pending sync.WaitGroup

	logger *slog.Logger
	clock  clock.Clock

	// nextSeq is touched only by the producer goroutine.
	nextSeq uint64

	mu                sync.Mutex
	failures          []*TaskError
	broken            error
	completed         int
	compressedBytes   int64
	uncompressedBytes int64
	firstSubmit       time.Time
	lastSettled       time.Time

	merged        bool
	closed        bool
	mergeDuration time.Duration
}

// New acquires one store per worker and starts the pool. On error
// every store acquired so far is released.
func New(config Config) (*Engine, error) {
	if config.Workers < 1 {
		return nil, fmt.Errorf("%w: worker count %d, must be at least 1", ErrInvalidConfig, config.Workers)
	}
	if config.Provider == nil {
		return nil, fmt.Errorf("%w: no backing store provider", ErrInvalidConfig)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	engine := &Engine{
		queue:  newTaskQueue(),
		logger: logger,
		clock:  clk,
	}

	for id := 0; id < config.Workers; id++ {
		store, err := config.Provider.Acquire()
		if err != nil {
			engine.releaseChannels()
			return nil, fmt.Errorf("acquiring store for worker %d: %w", id, err)
		}
		channel, err := scatter.New(store, config.Level)
		if err != nil {
			store.Close()
			engine.releaseChannels()
			return nil, fmt.Errorf("creating channel for worker %d: %w", id, err)
		}
		engine.workers = append(engine.workers, &worker{id: id, channel: channel})
	}

	for _, w := range engine.workers {
		engine.group.Go(func() error {
			return engine.work(w)
		})
	}

	logger.Debug("parallel engine started",
		"workers", config.Workers,
		"store_threshold", config.Provider.Threshold(),
	)
	return engine, nil
}

// Submit queues an entry for compression and returns without waiting.
// The entry's sequence number is assigned here, so the merged output
// follows submission order no matter which worker finishes first.
func (e *Engine) Submit(descriptor zipentry.Descriptor, source zipentry.PayloadSource) error {
	if e.merged || e.closed {
		return ErrClosed
	}
	if err := descriptor.Validate(); err != nil {
		return err
	}
	if err := e.Err(); err != nil {
		return err
	}

	seq := e.nextSeq
	e.nextSeq++

	if seq == 0 {
		e.mu.Lock()
		e.firstSubmit = e.clock.Now()
		e.mu.Unlock()
	}

	e.pending.Add(1)
	if !e.queue.push(task{seq: seq, descriptor: descriptor, source: source}) {
		e.pending.Done()
		return ErrClosed
	}
	return nil
}

// Err returns the first backing store failure seen by a worker, or
// nil. The failure is sticky: once set, Submit returns it and every
// later task on that worker fails.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

// work is the loop of one worker goroutine. It returns the store
// failure that broke its channel, if any, once the queue is drained.
func (e *Engine) work(w *worker) error {
	for {
		next, ok := e.queue.pop()
		if !ok {
			if err := w.channel.Err(); err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
			return nil
		}
		e.run(w, next)
	}
}

// run compresses one task and settles it. A panicking payload source
// is converted into a task failure so that AwaitAll cannot hang.
func (e *Engine) run(w *worker, t task) {
	var (
		record scatter.Record
		err    error
	)
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
		e.settle(t, record, err)
	}()
	record, err = w.channel.Append(t.seq, t.descriptor, t.source)
}

func (e *Engine) settle(t task, record scatter.Record, err error) {
	e.mu.Lock()
	if err != nil {
		e.failures = append(e.failures, &TaskError{Name: t.descriptor.Name, Seq: t.seq, Err: err})
		if e.broken == nil && errors.Is(err, scatter.ErrBroken) {
			e.broken = err
		}
	} else {
		e.completed++
		e.compressedBytes += record.CompressedSize
		e.uncompressedBytes += record.UncompressedSize
	}
	e.lastSettled = e.clock.Now()
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("parallel entry failed", "entry", t.descriptor.Name, "seq", t.seq, "error", err)
	}
	e.pending.Done()
}

// AwaitAll blocks until every submitted task has settled and returns
// the joined [TaskError]s, if any. Failures never cancel other tasks.
// Calling AwaitAll again returns the same result immediately.
func (e *Engine) AwaitAll() error {
	e.pending.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.failures) == 0 {
		return nil
	}
	// Settle order depends on scheduling; report in submission order.
	failures := slices.Clone(e.failures)
	slices.SortFunc(failures, func(a, b *TaskError) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	errs := make([]error, len(failures))
	for i, failure := range failures {
		errs[i] = failure
	}
	return errors.Join(errs...)
}

// ReplayInto waits for outstanding tasks, then writes every successful
// record into w in ascending sequence order. Failed tasks leave no
// entry. It may be called once; Submit fails afterwards.
func (e *Engine) ReplayInto(w scatter.ContainerWriter) error {
	if e.closed {
		return ErrClosed
	}
	if e.merged {
		return scatter.ErrReplayed
	}
	e.pending.Wait()
	e.merged = true

	start := e.clock.Now()
	defer func() {
		e.mergeDuration = clock.Since(e.clock, start)
	}()

	replayers := make([]*scatter.Replayer, len(e.workers))
	for i, w := range e.workers {
		replayer, err := w.channel.OpenReplay()
		if err != nil {
			return fmt.Errorf("opening worker %d for merge: %w", w.id, err)
		}
		replayers[i] = replayer
	}

	// Each worker popped its tasks in FIFO order, so every replayer
	// yields ascending sequence numbers. Repeatedly taking the
	// smallest head is a k-way merge.
	for {
		chosen := -1
		var lowest uint64
		for i, replayer := range replayers {
			record, ok := replayer.Peek()
			if !ok {
				continue
			}
			if chosen == -1 || record.Seq < lowest {
				chosen = i
				lowest = record.Seq
			}
		}
		if chosen == -1 {
			return nil
		}
		if err := replayers[chosen].CopyNext(w); err != nil {
			return fmt.Errorf("merging worker %d: %w", e.workers[chosen].id, err)
		}
	}
}

// Stats returns counters for the work done so far. Durations are
// complete only after ReplayInto.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		Workers:           len(e.workers),
		Entries:           e.completed,
		Failed:            len(e.failures),
		CompressedBytes:   e.compressedBytes,
		UncompressedBytes: e.uncompressedBytes,
		Merge:             e.mergeDuration,
	}
	if !e.firstSubmit.IsZero() {
		stats.Compression = e.lastSettled.Sub(e.firstSubmit)
	}
	if e.merged {
		for _, w := range e.workers {
			if w.channel.Spilled() {
				stats.SpilledStores++
			}
		}
	}
	return stats
}

// Close stops the pool after the queue drains and releases every
// worker's store. It returns backing store failures seen by workers
// and errors releasing the stores. Close is idempotent.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.queue.close()

	var errs []error
	if err := e.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := e.releaseChannels(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Debug("parallel engine stopped", "workers", len(e.workers))
	return errors.Join(errs...)
}

func (e *Engine) releaseChannels() error {
	var errs []error
	for _, w := range e.workers {
		if err := w.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing worker %d store: %w", w.id, err))
		}
	}
	return errors.Join(errs...)
}
