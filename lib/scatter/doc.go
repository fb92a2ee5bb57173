// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scatter implements scatter channels: append-only sequences
// of compressed zip records held in a backing store, replayed once
// into a container writer.
//
// A channel has two phases that never interleave. During the append
// phase each [Channel.Append] streams one payload through the
// [Compressor] straight into the store and keeps a small in-memory
// [Record] (offset, sizes, CRC-32, descriptor). The replay phase begins
// with [Channel.OpenReplay] or [Channel.ReplayInto], which finalizes
// the store and copies every record, in append order, into the
// container with CreateRaw, so the compressed bytes are never
// recompressed.
//
// Record offsets let replay skip the bytes of a record whose payload
// failed mid-stream. A failure of the store itself is different: it
// breaks the channel ([ErrBroken]) and every later operation fails.
package scatter
