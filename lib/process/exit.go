// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that choose their own exit
// status.
type ExitCoder interface {
	ExitCode() int
}

// Silent is implemented by errors whose command already reported
// them. Report prints nothing for these.
type Silent interface {
	Silent() bool
}

// Report writes "error: err" to w unless err is silent, and returns
// the exit status: the status of the first ExitCoder in the chain,
// else 1. A nil err reports nothing and returns 0.
func Report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var silent Silent
	if !errors.As(err, &silent) || !silent.Silent() {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Exit reports err to stderr and exits with the status Report
// returns. It returns normally only for a nil err.
func Exit(err error) {
	if err == nil {
		return
	}
	os.Exit(Report(os.Stderr, err))
}
