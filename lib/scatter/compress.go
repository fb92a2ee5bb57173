// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scatter

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

// DefaultLevel is the compression level used when none is configured.
// It maps to flate.DefaultCompression and zstd.SpeedDefault.
const DefaultLevel = flate.DefaultCompression

// Result describes one payload after compression.
type Result struct {
	CRC32            uint32
	UncompressedSize int64
	CompressedSize   int64
}

// Compressor streams payloads through a compression method into a
// sink, computing the CRC-32 and sizes the zip headers need. The
// deflate and zstd writers are created on first use and reused via
// Reset for every later record, so a channel pays their allocation
// cost once.
//
// A Compressor is not safe for concurrent use.
type Compressor struct {
	level   int
	deflate *flate.Writer
	zstd    *zstd.Encoder
}

// NewCompressor returns a compressor for the given level. Levels
// follow compress/flate: -2 (Huffman only) through 9, with -1 for the
// default. The zstd encoder maps positive levels through
// zstd.EncoderLevelFromZstd.
func NewCompressor(level int) (*Compressor, error) {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("invalid compression level %d", level)
	}
	return &Compressor{level: level}, nil
}

// Compress reads source to EOF and writes it to sink using method.
// On error the sink may hold a partial record; callers track record
// offsets so that replay skips it.
func (c *Compressor) Compress(sink io.Writer, method zipentry.Method, source io.Reader) (Result, error) {
	counter := &countingWriter{writer: sink}
	checksum := crc32.NewIEEE()
	payload := io.TeeReader(source, checksum)

	var (
		uncompressed int64
		err          error
	)
	switch method {
	case zipentry.MethodStore:
		uncompressed, err = io.Copy(counter, payload)

	case zipentry.MethodDeflate:
		uncompressed, err = c.compressDeflate(counter, payload)

	case zipentry.MethodZstd:
		uncompressed, err = c.compressZstd(counter, payload)

	default:
		return Result{}, fmt.Errorf("unsupported compression method %s", method)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		CRC32:            checksum.Sum32(),
		UncompressedSize: uncompressed,
		CompressedSize:   counter.count,
	}, nil
}

func (c *Compressor) compressDeflate(sink io.Writer, payload io.Reader) (int64, error) {
	if c.deflate == nil {
		writer, err := flate.NewWriter(sink, c.level)
		if err != nil {
			return 0, fmt.Errorf("creating deflate writer: %w", err)
		}
		c.deflate = writer
	} else {
		c.deflate.Reset(sink)
	}

	read, err := io.Copy(c.deflate, payload)
	if err != nil {
		return read, fmt.Errorf("deflating payload: %w", err)
	}
	if err := c.deflate.Close(); err != nil {
		return read, fmt.Errorf("finishing deflate stream: %w", err)
	}
	return read, nil
}

func (c *Compressor) compressZstd(sink io.Writer, payload io.Reader) (int64, error) {
	if c.zstd == nil {
		level := zstd.SpeedDefault
		if c.level > 0 {
			level = zstd.EncoderLevelFromZstd(c.level)
		}
		// Parallelism comes from the worker pool; one encoder
		// goroutine per channel is enough.
		encoder, err := zstd.NewWriter(sink,
			zstd.WithEncoderLevel(level),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return 0, fmt.Errorf("creating zstd encoder: %w", err)
		}
		c.zstd = encoder
	} else {
		c.zstd.Reset(sink)
	}

	read, err := io.Copy(c.zstd, payload)
	if err != nil {
		return read, fmt.Errorf("zstd compressing payload: %w", err)
	}
	if err := c.zstd.Close(); err != nil {
		return read, fmt.Errorf("finishing zstd frame: %w", err)
	}
	return read, nil
}

// countingWriter counts bytes that reached the underlying writer.
type countingWriter struct {
	writer io.Writer
	count  int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	written, err := w.writer.Write(p)
	w.count += int64(written)
	return written, err
}
