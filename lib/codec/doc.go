// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides jarpack's CBOR encoding configuration.
//
// CBOR is used for machine-read artifacts that sit next to a built
// container, currently the run statistics file written by
// "jarpack create --stats-file". That file is a CBOR sequence: each
// run appends one record through an [Encoder], and "jarpack stats"
// reads them back with a [Decoder]. Human-facing output stays JSON or
// plain text.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Two
// identical runs therefore write identical statistics bytes apart from
// the measured durations.
//
//	err := codec.NewEncoder(file).Encode(record)
//	err = codec.NewDecoder(file).Decode(&record)
//
// Types that are also printed as JSON carry `json` struct tags only;
// fxamacker/cbor falls back to them when no `cbor` tag is present, so a
// single tag names the field in both formats.
package codec
