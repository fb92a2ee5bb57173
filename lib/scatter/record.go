// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scatter

import (
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

// utf8NameFlag is general purpose bit 11: the name and comment are
// UTF-8.
const utf8NameFlag = 0x800

// ContainerWriter accepts precompressed entries. *zip.Writer
// implements it.
type ContainerWriter interface {
	CreateRaw(header *zip.FileHeader) (io.Writer, error)
}

// Record locates one compressed entry inside a channel's store.
type Record struct {
	// Seq orders records across channels. Synchronous channels use
	// their append index; the parallel engine assigns it at submit.
	Seq uint64

	Descriptor zipentry.Descriptor

	// Offset is the position of the first compressed byte in the
	// store.
	Offset int64

	CompressedSize   int64
	UncompressedSize int64
	CRC32            uint32

	// ZipMethod is the method id written to the header. Entries with
	// directory names are always stored.
	ZipMethod uint16
}

// Header builds the zip header for the record. Sizes and CRC are
// final, so the header is written without a data descriptor.
func (r *Record) Header() *zip.FileHeader {
	header := &zip.FileHeader{
		Name:               r.Descriptor.Name,
		Comment:            r.Descriptor.Comment,
		Method:             r.ZipMethod,
		CRC32:              r.CRC32,
		CompressedSize64:   uint64(r.CompressedSize),
		UncompressedSize64: uint64(r.UncompressedSize),
	}
	if !r.Descriptor.Modified.IsZero() {
		header.SetModTime(r.Descriptor.Modified) //nolint:staticcheck // CreateRaw only reads the MS-DOS fields
	}
	header.SetMode(r.Descriptor.FileMode())
	if needsUTF8Flag(header.Name) || needsUTF8Flag(header.Comment) {
		header.Flags |= utf8NameFlag
	}
	return header
}

func needsUTF8Flag(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}
