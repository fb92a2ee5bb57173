// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package parallel implements the parallel compression engine for bulk
// entries.
//
// An [Engine] owns a fixed pool of workers. Each worker owns a private
// scatter channel and backing store, reused for every task it runs, so
// the hot compression path takes no locks beyond the task queue. The
// price is paid at merge time: [Engine.ReplayInto] interleaves the
// workers' channels by the sequence number each task was given at
// [Engine.Submit], which makes the output independent of which worker
// ran which task or when it finished.
//
// Lifecycle:
//
//	engine, err := parallel.New(parallel.Config{Workers: 8, Provider: provider})
//	for ... {
//	    engine.Submit(descriptor, source) // never blocks
//	}
//	err = engine.AwaitAll()   // joined *TaskError values, one per failed entry
//	err = engine.ReplayInto(containerWriter)
//	err = engine.Close()
//
// There is no cancellation. A task runs until its payload is consumed
// or fails, and a payload source that never returns stalls AwaitAll.
package parallel
