// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package ownership

import (
	"io/fs"
	"os"
)

// Resolve returns owner unchanged.
func Resolve(owner Owner) (Owner, error) { return owner, nil }

// Apply does nothing on platforms without unix ownership.
func Apply(root *os.Root, name string, owner Owner) error { return nil }

// Chmod does nothing on platforms without unix permission bits.
func Chmod(root *os.Root, name string, mode fs.FileMode) error { return nil }

// FromFileInfo always returns an empty Owner.
func FromFileInfo(info fs.FileInfo) Owner { return Owner{} }
