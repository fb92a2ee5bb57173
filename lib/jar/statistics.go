// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jar

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Statistics summarizes one written container. The struct is also the
// payload of the CLI's statistics file, so field names are stable.
type Statistics struct {
	MetaDirectoryEntries int `json:"meta_directory_entries"`
	ManifestEntries      int `json:"manifest_entries"`
	DirectoryEntries     int `json:"directory_entries"`
	SequentialEntries    int `json:"sequential_entries"`
	ParallelEntries      int `json:"parallel_entries"`

	// FailedEntries counts parallel entries left out because their
	// payload could not be compressed.
	FailedEntries int `json:"failed_entries,omitempty"`

	Workers int `json:"workers"`

	CompressedBytes   int64 `json:"compressed_bytes"`
	UncompressedBytes int64 `json:"uncompressed_bytes"`

	// SpilledStores counts backing stores that exceeded their memory
	// threshold and moved to a temporary file.
	SpilledStores int `json:"spilled_stores,omitempty"`

	// Compression spans the first parallel submit to the last parallel
	// entry settling.
	Compression time.Duration `json:"compression"`

	// Merge is the time spent replaying the parallel entries.
	Merge time.Duration `json:"merge"`

	// Close is the time spent closing the container, which writes the
	// central directory.
	Close time.Duration `json:"close"`

	// Total spans NewCreator to the end of WriteTo.
	Total time.Duration `json:"total"`
}

// Entries returns the number of entries written to the container.
func (s Statistics) Entries() int {
	return s.MetaDirectoryEntries + s.ManifestEntries + s.DirectoryEntries +
		s.SequentialEntries + s.ParallelEntries
}

// Ratio returns compressed over uncompressed size, or 1 for a
// container without payload bytes.
func (s Statistics) Ratio() float64 {
	if s.UncompressedBytes == 0 {
		return 1
	}
	return float64(s.CompressedBytes) / float64(s.UncompressedBytes)
}

// String formats the statistics for a terminal.
func (s Statistics) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%d entries: %d parallel on %d workers, %d sequential, %d directories, %d metadata\n",
		s.Entries(), s.ParallelEntries, s.Workers, s.SequentialEntries, s.DirectoryEntries,
		s.MetaDirectoryEntries+s.ManifestEntries)
	fmt.Fprintf(&builder, "%s compressed to %s (%.1f%%)\n",
		humanize.IBytes(uint64(s.UncompressedBytes)), humanize.IBytes(uint64(s.CompressedBytes)), s.Ratio()*100)
	fmt.Fprintf(&builder, "compression %s, merge %s, close %s, total %s",
		s.Compression.Round(time.Millisecond), s.Merge.Round(time.Millisecond),
		s.Close.Round(time.Millisecond), s.Total.Round(time.Millisecond))
	if s.SpilledStores > 0 {
		fmt.Fprintf(&builder, "\n%d backing stores spilled to disk", s.SpilledStores)
	}
	if s.FailedEntries > 0 {
		fmt.Fprintf(&builder, "\n%d entries failed", s.FailedEntries)
	}
	return builder.String()
}
