// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash provides BLAKE3 content digests of finished
// containers.
//
// Container output is deterministic: the same entries produce the
// same bytes regardless of how many workers compressed them. The CLI
// prints a digest after every create so that two builds can be
// compared by one line, and the determinism tests compare digests
// instead of whole archives.
//
//   - [HashReader] and [HashFile] stream content through BLAKE3 with
//     constant memory use
//   - [HashBytes] digests an in-memory buffer
//   - [FormatDigest] and [ParseDigest] convert to and from the
//     "blake3:<hex>" form used in CLI output and statistics files
package binhash
