// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by jarpack tests.
//
// [RequireReceive] and [RequireClosed] bound every wait on a worker
// signal so a stuck pool fails the test with a message instead of
// hanging. They are the only wall-clock timeouts in the test suite.
// [RequireEmptyDir] checks that spill files were cleaned up, and
// [UniqueID] names entries that must not collide across subtests.
//
// Helpers take a [TB] and fail through Fatalf.
package testutil
