// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zipentry

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// Method is the compression method requested for an entry. The zero
// value is MethodUnset, which [Descriptor.Validate] rejects: producers
// must decide between storing and compressing before submission.
type Method uint8

const (
	// MethodUnset means the producer did not choose a method.
	MethodUnset Method = iota

	// MethodStore writes the payload uncompressed (zip method 0).
	MethodStore

	// MethodDeflate compresses with DEFLATE (zip method 8). Every
	// zip reader supports it.
	MethodDeflate

	// MethodZstd compresses with Zstandard (zip method 93). Readers
	// must register a zstd decompressor to extract these entries.
	MethodZstd
)

// Zip method identifiers as they appear in local and central headers.
const (
	zipMethodStore   uint16 = 0
	zipMethodDeflate uint16 = 8
	zipMethodZstd    uint16 = 93
)

// ZipMethod returns the zip header method id for m. MethodUnset has no
// id and returns an error.
func (m Method) ZipMethod() (uint16, error) {
	switch m {
	case MethodStore:
		return zipMethodStore, nil
	case MethodDeflate:
		return zipMethodDeflate, nil
	case MethodZstd:
		return zipMethodZstd, nil
	default:
		return 0, fmt.Errorf("no zip method for %s", m)
	}
}

// String returns the configuration name of the method.
func (m Method) String() string {
	switch m {
	case MethodUnset:
		return "unset"
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	case MethodZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseMethod parses a method from its configuration name.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "store":
		return MethodStore, nil
	case "deflate":
		return MethodDeflate, nil
	case "zstd":
		return MethodZstd, nil
	default:
		return MethodUnset, fmt.Errorf("unknown compression method: %q", name)
	}
}

// ErrMethodUnset is returned when a descriptor reaches the engine
// without a compression method.
var ErrMethodUnset = errors.New("compression method must be set on the entry")

// Descriptor describes one entry of the container. Names must be
// unique within a container; the engine does not deduplicate.
type Descriptor struct {
	// Name is the slash-separated path of the entry inside the
	// container. Directory names conventionally end in "/".
	Name string

	// Method selects how the payload is written.
	Method Method

	// Directory marks the entry as a directory. Directory entries
	// never carry a payload.
	Directory bool

	// Symlink marks the entry as a symbolic link. The payload is the
	// link target.
	Symlink bool

	// Modified is recorded in the entry header. The zero time writes
	// the zip epoch, which keeps output reproducible.
	Modified time.Time

	// Mode holds unix permission bits recorded in the external
	// attributes. Zero selects 0644 for files and 0755 for
	// directories.
	Mode fs.FileMode

	// Comment is the per-entry comment in the central directory.
	Comment string
}

// Validate reports usage errors that must stop the entry before it is
// routed anywhere.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("entry name is empty")
	}
	if d.Method == MethodUnset {
		return fmt.Errorf("entry %q: %w", d.Name, ErrMethodUnset)
	}
	if _, err := d.Method.ZipMethod(); err != nil {
		return fmt.Errorf("entry %q: %w", d.Name, err)
	}
	return nil
}

// HasDirectoryName reports whether the name ends in a slash. The zip
// format treats such entries as directories, so they are always
// written stored and empty regardless of the directory flag.
func (d *Descriptor) HasDirectoryName() bool {
	return strings.HasSuffix(d.Name, "/")
}

// FileMode returns the mode recorded in the zip header, including the
// type bits implied by the directory and symlink flags.
func (d *Descriptor) FileMode() fs.FileMode {
	mode := d.Mode.Perm()
	switch {
	case d.Symlink:
		if mode == 0 {
			mode = 0o777
		}
		return mode | fs.ModeSymlink
	case d.Directory || d.HasDirectoryName():
		if mode == 0 {
			mode = 0o755
		}
		return mode | fs.ModeDir
	default:
		if mode == 0 {
			mode = 0o644
		}
		return mode
	}
}

// Request pairs a descriptor with its payload and the producer's
// opinion on whether compression may happen on another goroutine.
type Request struct {
	Descriptor Descriptor
	Source     PayloadSource
	Parallel   bool
}
