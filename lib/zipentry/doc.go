// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package zipentry defines the data model shared by every stage of the
// container build: what an entry is ([Descriptor]), where its bytes
// come from ([PayloadSource]), how a producer asks for it to be added
// ([Request]), and which of the five fixed categories it lands in
// ([Category]).
//
// Classification is a pure function of the request. [Classify] never
// touches the payload and never performs I/O, so the routing rules can
// be tested without building a container:
//
//	category := zipentry.Classify(request)
//
// The categories are replayed into the finished container in
// [ReplayOrder]. The reserved metadata directory and manifest come
// first so that conventional jar readers, which only look at the
// leading entries, find them regardless of the order in which the
// producer submitted them.
package zipentry
