// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zipentry

import (
	"bytes"
	"io"
	"os"
)

// PayloadSource yields the raw bytes of one entry on demand. Open is
// called at most once per entry, and the engine closes the returned
// reader on every path, including compression failures.
type PayloadSource interface {
	Open() (io.ReadCloser, error)
}

// PayloadFunc adapts a function to [PayloadSource].
type PayloadFunc func() (io.ReadCloser, error)

// Open calls f.
func (f PayloadFunc) Open() (io.ReadCloser, error) {
	return f()
}

// Bytes returns a source that yields a copy-free reader over data.
func Bytes(data []byte) PayloadSource {
	return PayloadFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// String returns a source that yields s.
func String(s string) PayloadSource {
	return Bytes([]byte(s))
}

// Empty returns a source with no bytes. Directory entries use it
// regardless of the source the producer supplied.
func Empty() PayloadSource {
	return Bytes(nil)
}

// File returns a source that opens path when the payload is needed.
// Deferring the open keeps file descriptor usage proportional to the
// worker count rather than the number of queued entries.
func File(path string) PayloadSource {
	return PayloadFunc(func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}
