// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the jarpack
// binary: a tree of [Command] values with pflag flag sets, structured
// help output, typo suggestions for unknown subcommands, and the
// command logger.
//
// Commands return errors instead of exiting. Usage mistakes are
// returned as [*UsageError] so that main can print them without a
// stack of wrapping context, and [*ExitError] ends the process with a
// specific status after the command has written its own output.
package cli
