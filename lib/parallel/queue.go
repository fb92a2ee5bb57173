// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"sync"

	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

// task is one submitted entry waiting for a worker.
type task struct {
	seq        uint64
	descriptor zipentry.Descriptor
	source     zipentry.PayloadSource
}

// taskQueue is an unbounded FIFO; push never blocks. Workers pop in
// FIFO order, so each worker's records are in ascending seq order.
type taskQueue struct {
	mu     sync.Mutex
	ready  *sync.Cond
	items  []task
	head   int
	closed bool
}

func newTaskQueue() *taskQueue {
	queue := &taskQueue{}
	queue.ready = sync.NewCond(&queue.mu)
	return queue
}

// push appends t. It reports false if the queue is closed.
func (q *taskQueue) push(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, t)
	q.ready.Signal()
	return true
}

// pop blocks until a task is available or the queue is closed and
// drained.
func (q *taskQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.items) && !q.closed {
		q.ready.Wait()
	}
	if q.head == len(q.items) {
		return task{}, false
	}
	next := q.items[q.head]
	q.items[q.head] = task{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return next, true
}

// close wakes every waiting worker. Tasks already queued are still
// handed out.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.ready.Broadcast()
}
