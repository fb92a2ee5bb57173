// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for run statistics.
//
// Components that report durations take a Clock instead of calling
// time.Now directly. Production code passes Real(); tests pass a
// FakeClock so that reported durations are exact:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	creator, _ := jar.NewCreator(jar.Config{Clock: fake, ...})
//	// inside a test container writer's Close:
//	fake.Advance(5 * time.Millisecond)
package clock
