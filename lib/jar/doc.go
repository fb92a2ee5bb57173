// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jar builds zip and jar containers from a stream of entries
// added by one producer goroutine.
//
// A [Creator] routes every added entry to one of five categories (see
// [zipentry.Classify]). Four of them are compressed immediately on the
// calling goroutine into their own scatter channel. Entries the
// producer marks as parallel are handed to a worker pool
// ([parallel.Engine]) and compressed concurrently.
//
// Nothing reaches the output until [Creator.WriteTo]. It waits for the
// pool, then replays the categories in [zipentry.ReplayOrder]:
//
//	META-INF/               meta-directory
//	META-INF/MANIFEST.MF    manifest
//	directories             in the order they were added
//	sequential entries      in the order they were added
//	parallel entries        in the order they were added
//
// The reserved metadata therefore occupies the first positions of the
// container no matter when the producer added it, and the output is
// byte-identical for any worker count.
//
// Typical use:
//
//	creator, err := jar.NewCreator(jar.Config{Workers: runtime.NumCPU()})
//	if err != nil {
//		return err
//	}
//	defer creator.Abort()
//	err = creator.AddEntry(zipentry.Descriptor{
//		Name:   "classes/Main.class",
//		Method: zipentry.MethodDeflate,
//	}, zipentry.File(path), true)
//	...
//	if err := creator.WriteTo(zip.NewWriter(output)); err != nil {
//		return err
//	}
//	stats, _ := creator.Statistics()
//	logger.Info("container written", "summary", stats.String())
//
// A Creator is single-use. Once WriteTo has run, successfully or not,
// every backing store and worker is released and the Creator accepts
// nothing further.
package jar
