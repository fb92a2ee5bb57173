// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrPrincipalNotFound matches a [*LookupError].
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrApplyFailed matches an [*ApplyError].
	ErrApplyFailed = errors.New("applying ownership failed")
)

// Owner identifies the owning user and group of a file. Names take
// precedence over ids when both are set.
type Owner struct {
	UserName  string
	UserID    *int
	GroupName string
	GroupID   *int
}

// IsZero reports whether no part of the owner is set.
func (o Owner) IsZero() bool {
	return o.UserName == "" && o.UserID == nil && o.GroupName == "" && o.GroupID == nil
}

func (o Owner) String() string {
	describe := func(name string, id *int) string {
		switch {
		case name != "":
			return name
		case id != nil:
			return strconv.Itoa(*id)
		}
		return ""
	}
	return describe(o.UserName, o.UserID) + ":" + describe(o.GroupName, o.GroupID)
}

// Parse reads an owner in "user", "user:group" or ":group" form.
// Numeric parts are taken as ids, anything else as names.
func Parse(text string) (Owner, error) {
	if text == "" || text == ":" {
		return Owner{}, fmt.Errorf("empty owner %q", text)
	}
	userPart, groupPart, _ := strings.Cut(text, ":")

	var owner Owner
	if userPart != "" {
		if id, err := strconv.Atoi(userPart); err == nil {
			if id < 0 {
				return Owner{}, fmt.Errorf("negative user id in %q", text)
			}
			owner.UserID = &id
		} else {
			owner.UserName = userPart
		}
	}
	if groupPart != "" {
		if id, err := strconv.Atoi(groupPart); err == nil {
			if id < 0 {
				return Owner{}, fmt.Errorf("negative group id in %q", text)
			}
			owner.GroupID = &id
		} else {
			owner.GroupName = groupPart
		}
	}
	return owner, nil
}

// LookupError reports a user or group name that could not be resolved.
type LookupError struct {
	// Kind is "user" or "group".
	Kind string
	Name string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q not found: %v", e.Kind, e.Name, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

func (e *LookupError) Is(target error) bool { return target == ErrPrincipalNotFound }

// ApplyError reports a resolved owner or mode the system refused to
// set.
type ApplyError struct {
	Path string
	Op   string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

func (e *ApplyError) Is(target error) bool { return target == ErrApplyFailed }
