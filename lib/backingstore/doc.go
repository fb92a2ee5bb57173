// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backingstore provides the byte sinks behind scatter channels.
//
// A [Store] is an append-only buffer with a two-state lifecycle:
//
//	ModeMemory --(buffered bytes would exceed threshold)--> ModeSpilled
//
// The transition happens at most once. When an append would push the
// in-memory buffer past the threshold, the store creates a spill file,
// moves everything buffered so far into it, drops the memory buffer,
// and writes the new bytes to the file. From then on every byte goes
// to the file; nothing is ever buffered in memory again. The memory
// held by a store therefore never exceeds its threshold.
//
// Spill files are written as an LZ4 frame. Payloads reaching the
// store are usually already deflated, but the records of stored
// entries and the occasional text-heavy zstd miss compress well, and
// LZ4 costs almost nothing on incompressible input.
//
// A [Provider] hands out stores whose threshold is the configured
// total capacity divided by the worker count, so the aggregate memory
// held by all workers stays bounded no matter how many run.
//
// Stores are not safe for concurrent use. Each belongs to exactly one
// scatter channel, which is driven by one goroutine at a time.
package backingstore
