// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process maps the error returned by a binary's run function
// to an exit status. It is the one place outside the CLI that writes
// to stderr without the structured logger, since the logger may not
// exist yet when configuration loading fails.
package process
