// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scatter

import (
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/jarpack/lib/backingstore"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

var (
	// ErrBroken is returned by every operation on a channel whose
	// backing store failed. The buffered bytes can no longer be
	// trusted and the run must be abandoned.
	ErrBroken = errors.New("scatter channel broken by backing store failure")

	// ErrReplayed is returned when appending to, or replaying, a
	// channel that has already been replayed.
	ErrReplayed = errors.New("scatter channel already replayed")

	// ErrClosed is returned by operations on a released channel.
	ErrClosed = errors.New("scatter channel closed")
)

// Channel is an append-then-replay buffer of compressed records bound
// to one backing store. Appends and the replay must come from a single
// goroutine, and the replay must start after the last append.
type Channel struct {
	store      *backingstore.Store
	compressor *Compressor
	records    []Record

	compressedBytes   int64
	uncompressedBytes int64

	// broken holds the store failure that invalidated the channel.
	broken   error
	replayed bool
	closed   bool
}

// New binds a channel to store. The channel owns the store from now
// on and releases it in Close.
func New(store *backingstore.Store, level int) (*Channel, error) {
	compressor, err := NewCompressor(level)
	if err != nil {
		return nil, err
	}
	return &Channel{store: store, compressor: compressor}, nil
}

// Append compresses the payload of descriptor into the store and
// records it under seq. The payload source is opened at most once and
// closed before Append returns.
//
// A failure reading the payload fails only this record; its partial
// bytes stay in the store and are skipped at replay. A failure writing
// the store breaks the channel.
func (c *Channel) Append(seq uint64, descriptor zipentry.Descriptor, source zipentry.PayloadSource) (Record, error) {
	if err := c.usable(); err != nil {
		return Record{}, err
	}
	zipMethod, err := descriptor.Method.ZipMethod()
	if err != nil {
		return Record{}, fmt.Errorf("entry %q: %w", descriptor.Name, err)
	}

	record := Record{
		Seq:        seq,
		Descriptor: descriptor,
		Offset:     c.store.Size(),
		ZipMethod:  zipMethod,
	}

	// Zip readers treat a trailing slash as a directory and reject
	// any payload on it.
	if descriptor.HasDirectoryName() {
		record.ZipMethod, _ = zipentry.MethodStore.ZipMethod()
		c.records = append(c.records, record)
		return record, nil
	}

	result, err := c.compress(descriptor, source)
	if err != nil {
		return Record{}, err
	}

	record.CRC32 = result.CRC32
	record.CompressedSize = result.CompressedSize
	record.UncompressedSize = result.UncompressedSize
	c.records = append(c.records, record)
	c.compressedBytes += result.CompressedSize
	c.uncompressedBytes += result.UncompressedSize
	return record, nil
}

func (c *Channel) compress(descriptor zipentry.Descriptor, source zipentry.PayloadSource) (result Result, err error) {
	if source == nil {
		source = zipentry.Empty()
	}
	payload, err := source.Open()
	if err != nil {
		return Result{}, fmt.Errorf("opening payload of %q: %w", descriptor.Name, err)
	}
	defer func() {
		if closeErr := payload.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing payload of %q: %w", descriptor.Name, closeErr)
		}
	}()

	sink := &storeWriter{channel: c}
	result, err = c.compressor.Compress(sink, descriptor.Method, payload)
	if c.broken != nil {
		return Result{}, fmt.Errorf("%w: entry %q: %w", ErrBroken, descriptor.Name, c.broken)
	}
	if err != nil {
		return Result{}, fmt.Errorf("compressing %q: %w", descriptor.Name, err)
	}
	return result, nil
}

func (c *Channel) usable() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.broken != nil:
		return fmt.Errorf("%w: %w", ErrBroken, c.broken)
	case c.replayed:
		return ErrReplayed
	}
	return nil
}

// Records returns the records appended so far, in append order.
func (c *Channel) Records() []Record {
	return c.records
}

// Len returns the number of records.
func (c *Channel) Len() int {
	return len(c.records)
}

// CompressedBytes returns the total compressed size of all records.
func (c *Channel) CompressedBytes() int64 {
	return c.compressedBytes
}

// UncompressedBytes returns the total payload size of all records.
func (c *Channel) UncompressedBytes() int64 {
	return c.uncompressedBytes
}

// Spilled reports whether the backing store moved to spill storage.
func (c *Channel) Spilled() bool {
	return c.store.Mode() == backingstore.ModeSpilled
}

// Err returns the store failure that broke the channel, or nil.
func (c *Channel) Err() error {
	return c.broken
}

// ReplayInto writes every record, in append order, into w. It may be
// called once. On error, w may already hold some of the records and
// must be discarded.
func (c *Channel) ReplayInto(w ContainerWriter) error {
	replayer, err := c.OpenReplay()
	if err != nil {
		return err
	}
	for replayer.More() {
		if err := replayer.CopyNext(w); err != nil {
			return err
		}
	}
	return nil
}

// OpenReplay ends the append phase and returns a cursor over the
// records. ReplayInto is the common case; the parallel engine uses the
// cursor directly to interleave several channels by sequence number.
func (c *Channel) OpenReplay() (*Replayer, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.replayed = true

	reader, err := c.store.Finalize()
	if err != nil {
		return nil, fmt.Errorf("finalizing backing store: %w", err)
	}
	return &Replayer{records: c.records, reader: reader}, nil
}

// Close releases the backing store. Close is idempotent.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.store.Close()
}

// Replayer walks a finalized channel record by record.
type Replayer struct {
	records  []Record
	next     int
	reader   io.Reader
	position int64
}

// More reports whether records remain.
func (r *Replayer) More() bool {
	return r.next < len(r.records)
}

// Peek returns the next record without consuming it.
func (r *Replayer) Peek() (Record, bool) {
	if !r.More() {
		return Record{}, false
	}
	return r.records[r.next], true
}

// CopyNext writes the next record into w and advances.
func (r *Replayer) CopyNext(w ContainerWriter) error {
	record, ok := r.Peek()
	if !ok {
		return io.EOF
	}

	// Skip bytes left behind by records that failed mid-stream.
	if gap := record.Offset - r.position; gap > 0 {
		skipped, err := io.CopyN(io.Discard, r.reader, gap)
		r.position += skipped
		if err != nil {
			return fmt.Errorf("skipping %d bytes before %q: %w", gap, record.Descriptor.Name, err)
		}
	} else if gap < 0 {
		return fmt.Errorf("record %q at offset %d precedes replay position %d",
			record.Descriptor.Name, record.Offset, r.position)
	}

	entryWriter, err := w.CreateRaw(record.Header())
	if err != nil {
		return fmt.Errorf("writing header of %q: %w", record.Descriptor.Name, err)
	}
	if record.CompressedSize > 0 {
		copied, err := io.CopyN(entryWriter, r.reader, record.CompressedSize)
		r.position += copied
		if err != nil {
			return fmt.Errorf("copying %q into container: %w", record.Descriptor.Name, err)
		}
	}

	r.next++
	return nil
}

// storeWriter forwards to the channel's store and records a store
// failure so that it can be told apart from a payload read failure.
type storeWriter struct {
	channel *Channel
}

func (w *storeWriter) Write(p []byte) (int, error) {
	written, err := w.channel.store.Write(p)
	if err != nil && w.channel.broken == nil {
		w.channel.broken = err
	}
	return written, err
}
