// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zipentry

import "fmt"

// Reserved names of the container metadata. Jar readers expect the
// metadata directory and its manifest to be the first entries.
const (
	MetaDirectoryName = "META-INF"
	ManifestName      = "META-INF/MANIFEST.MF"
)

// Category is the scatter channel an entry is routed to. Categories
// are assigned once and never change.
type Category uint8

const (
	// CategoryDirectory holds directory entries that are not symlinks.
	CategoryDirectory Category = iota

	// CategoryMetaDirectory holds the reserved META-INF directory.
	CategoryMetaDirectory

	// CategoryManifest holds META-INF/MANIFEST.MF.
	CategoryManifest

	// CategoryBulkParallel holds entries the producer allowed to be
	// compressed on the worker pool.
	CategoryBulkParallel

	// CategoryBulkSequential holds every other entry. They are
	// compressed on the producer goroutine in submission order.
	CategoryBulkSequential

	// NumCategories is the number of categories, for sizing arrays
	// indexed by Category.
	NumCategories int = iota
)

// ReplayOrder is the order in which categories are written into the
// final container.
var ReplayOrder = [...]Category{
	CategoryMetaDirectory,
	CategoryManifest,
	CategoryDirectory,
	CategoryBulkSequential,
	CategoryBulkParallel,
}

// String returns the category name used in logs and statistics.
func (c Category) String() string {
	switch c {
	case CategoryDirectory:
		return "directory"
	case CategoryMetaDirectory:
		return "meta-directory"
	case CategoryManifest:
		return "manifest"
	case CategoryBulkParallel:
		return "bulk-parallel"
	case CategoryBulkSequential:
		return "bulk-sequential"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Synchronous reports whether entries of the category are written on
// the producer goroutine.
func (c Category) Synchronous() bool {
	return c != CategoryBulkParallel
}

// Classify assigns the request to a category. The rules are evaluated
// in priority order; the first match wins, so a directory named
// "META-INF/" is a plain directory.
func Classify(request Request) Category {
	descriptor := &request.Descriptor
	switch {
	case descriptor.Directory && !descriptor.Symlink:
		return CategoryDirectory
	case descriptor.Name == MetaDirectoryName || descriptor.Name == MetaDirectoryName+"/":
		return CategoryMetaDirectory
	case descriptor.Name == ManifestName:
		return CategoryManifest
	case request.Parallel:
		return CategoryBulkParallel
	default:
		return CategoryBulkSequential
	}
}
