// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the running jarpack binary.
//
// Release builds inject the values with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/jarpack/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without injection, [Info] falls back to the VCS stamp the Go
// toolchain records in the binary, so "go install" builds still
// report their commit.
package version
