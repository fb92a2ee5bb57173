// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ownership applies recorded owners and permission bits to
// extracted files.
//
// An [Owner] names a user and a group, by name or numeric id, any of
// which may be absent. [Resolve] turns names into ids through the
// system account database. A name the database does not know fails
// with an error matching [ErrPrincipalNotFound]; a database that
// cannot be queried fails with a plain error. Callers usually treat the
// first as a warning (the archive came from another machine) and the
// second as fatal.
//
// [Apply] and [Chmod] work on names relative to an [os.Root], so a
// symlink planted by an earlier entry cannot redirect them outside the
// extraction directory. Apply never follows a final symlink. A refused
// change fails with [ErrApplyFailed].
//
// On platforms without unix ownership, Apply and Chmod do nothing.
package ownership
