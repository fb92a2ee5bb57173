// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backingstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pierrec/lz4/v4"
)

// DefaultTotalCapacity is the memory budget shared by all stores of a
// run when the caller does not configure one (100 MB).
const DefaultTotalCapacity int64 = 100_000_000

// spillPattern names spill files in the temp directory.
const spillPattern = "jarpack-spill-*"

var (
	// ErrInvalidConfig is returned by [NewProvider] for a worker count
	// or capacity that cannot produce a positive threshold.
	ErrInvalidConfig = errors.New("invalid backing store configuration")

	// ErrFinalized is returned when appending to, or finalizing, a
	// store whose append phase already ended.
	ErrFinalized = errors.New("backing store already finalized")

	// ErrClosed is returned by operations on a released store.
	ErrClosed = errors.New("backing store closed")
)

// Mode is the storage state of a [Store].
type Mode uint8

const (
	// ModeMemory buffers appended bytes in memory.
	ModeMemory Mode = iota

	// ModeSpilled writes appended bytes to a spill file.
	ModeSpilled
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	switch m {
	case ModeMemory:
		return "memory"
	case ModeSpilled:
		return "spilled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ProviderConfig configures a [Provider].
type ProviderConfig struct {
	// TotalCapacity is the memory budget, in bytes, shared by every
	// store the provider hands out.
	TotalCapacity int64

	// Workers is the number of stores expected to be live at once.
	// It divides TotalCapacity into the per-store threshold.
	Workers int

	// TempDir is where spill files are created. Empty selects
	// os.TempDir().
	TempDir string

	// Logger receives spill transitions at debug level. Nil discards.
	Logger *slog.Logger
}

// Provider creates stores sharing one threshold.
type Provider struct {
	threshold int64
	tempDir   string
	logger    *slog.Logger
}

// NewProvider validates the configuration and derives the per-store
// threshold. A worker count below one, a non-positive capacity, or a
// capacity smaller than the worker count is rejected rather than
// producing stores that spill on every byte.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.Workers < 1 {
		return nil, fmt.Errorf("%w: worker count %d, must be at least 1", ErrInvalidConfig, config.Workers)
	}
	if config.TotalCapacity < 1 {
		return nil, fmt.Errorf("%w: total capacity %d, must be positive", ErrInvalidConfig, config.TotalCapacity)
	}
	threshold := config.TotalCapacity / int64(config.Workers)
	if threshold == 0 {
		return nil, fmt.Errorf("%w: total capacity %d divided among %d workers leaves a zero threshold",
			ErrInvalidConfig, config.TotalCapacity, config.Workers)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Provider{
		threshold: threshold,
		tempDir:   config.TempDir,
		logger:    logger,
	}, nil
}

// Threshold returns the in-memory limit of every store this provider
// creates.
func (p *Provider) Threshold() int64 {
	return p.threshold
}

// Acquire returns a fresh store in [ModeMemory]. The spill directory is
// checked now so that a misconfigured path fails at construction time
// instead of in the middle of a run.
func (p *Provider) Acquire() (*Store, error) {
	if p.tempDir != "" {
		info, err := os.Stat(p.tempDir)
		if err != nil {
			return nil, fmt.Errorf("checking spill directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("spill directory %s is not a directory", p.tempDir)
		}
	}
	return &Store{
		threshold: p.threshold,
		tempDir:   p.tempDir,
		logger:    p.logger,
	}, nil
}

// Store is an append-only byte sink that spills to a temp file once
// its threshold is crossed. See the package documentation for the
// state machine.
type Store struct {
	threshold int64
	tempDir   string
	logger    *slog.Logger

	mode   Mode
	memory []byte
	file   *os.File
	frame  *lz4.Writer
	size   int64

	finalized bool
	closed    bool

	// err is sticky: once spill storage fails the store cannot be
	// trusted to hold a contiguous byte sequence.
	err error
}

// Write appends p. It implements io.Writer.
func (s *Store) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.finalized {
		return 0, ErrFinalized
	}

	if s.mode == ModeMemory {
		if int64(len(s.memory))+int64(len(p)) <= s.threshold {
			s.memory = append(s.memory, p...)
			s.size += int64(len(p))
			return len(p), nil
		}
		if err := s.spill(); err != nil {
			s.err = err
			return 0, err
		}
	}

	written, err := s.frame.Write(p)
	s.size += int64(written)
	if err != nil {
		s.err = fmt.Errorf("writing spill file %s: %w", s.file.Name(), err)
		return written, s.err
	}
	return written, nil
}

// spill moves the memory buffer into a new spill file and switches
// the store to ModeSpilled.
func (s *Store) spill() error {
	file, err := os.CreateTemp(s.tempDir, spillPattern)
	if err != nil {
		return fmt.Errorf("creating spill file: %w", err)
	}
	s.file = file
	s.frame = lz4.NewWriter(file)

	if _, err := s.frame.Write(s.memory); err != nil {
		return fmt.Errorf("moving %d buffered bytes to spill file %s: %w", len(s.memory), file.Name(), err)
	}

	s.logger.Debug("backing store spilled",
		"threshold", s.threshold,
		"buffered", len(s.memory),
		"path", file.Name(),
	)

	s.memory = nil
	s.mode = ModeSpilled
	return nil
}

// Finalize ends the append phase and returns a reader over every byte
// appended, from the first. It may be called once.
func (s *Store) Finalize() (io.Reader, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.finalized {
		return nil, ErrFinalized
	}
	s.finalized = true

	if s.mode == ModeMemory {
		return bytes.NewReader(s.memory), nil
	}

	if err := s.frame.Close(); err != nil {
		s.err = fmt.Errorf("flushing spill file %s: %w", s.file.Name(), err)
		return nil, s.err
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		s.err = fmt.Errorf("rewinding spill file %s: %w", s.file.Name(), err)
		return nil, s.err
	}
	return lz4.NewReader(s.file), nil
}

// Close releases the memory buffer and deletes the spill file, if
// any. Close is idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.memory = nil

	if s.file == nil {
		return nil
	}
	path := s.file.Name()
	closeErr := s.file.Close()
	removeErr := os.Remove(path)
	s.file = nil
	s.frame = nil

	if closeErr != nil {
		return fmt.Errorf("closing spill file %s: %w", path, closeErr)
	}
	if removeErr != nil {
		return fmt.Errorf("removing spill file %s: %w", path, removeErr)
	}
	return nil
}

// Mode returns the current storage state.
func (s *Store) Mode() Mode {
	return s.mode
}

// Size returns the number of bytes appended so far.
func (s *Store) Size() int64 {
	return s.size
}

// Buffered returns the number of bytes currently held in memory.
func (s *Store) Buffered() int64 {
	return int64(len(s.memory))
}

// Threshold returns the in-memory limit.
func (s *Store) Threshold() int64 {
	return s.threshold
}

// SpillPath returns the spill file path, or "" while in memory.
func (s *Store) SpillPath() string {
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}
