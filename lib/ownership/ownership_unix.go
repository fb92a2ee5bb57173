// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package ownership

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Resolve replaces the names in owner with numeric ids. A name the
// account database does not know fails with a [*LookupError]; any
// other lookup failure is returned wrapped, without that match.
func Resolve(owner Owner) (Owner, error) {
	if owner.UserName != "" {
		account, err := user.Lookup(owner.UserName)
		if err != nil {
			return Owner{}, lookupFailure("user", owner.UserName, err)
		}
		uid, err := strconv.Atoi(account.Uid)
		if err != nil {
			return Owner{}, fmt.Errorf("user %q has non-numeric uid %q", owner.UserName, account.Uid)
		}
		owner.UserName, owner.UserID = "", &uid
	}
	if owner.GroupName != "" {
		group, err := user.LookupGroup(owner.GroupName)
		if err != nil {
			return Owner{}, lookupFailure("group", owner.GroupName, err)
		}
		gid, err := strconv.Atoi(group.Gid)
		if err != nil {
			return Owner{}, fmt.Errorf("group %q has non-numeric gid %q", owner.GroupName, group.Gid)
		}
		owner.GroupName, owner.GroupID = "", &gid
	}
	return owner, nil
}

func lookupFailure(kind, name string, err error) error {
	var unknownUser user.UnknownUserError
	var unknownGroup user.UnknownGroupError
	if errors.As(err, &unknownUser) || errors.As(err, &unknownGroup) {
		return &LookupError{Kind: kind, Name: name, Err: err}
	}
	return fmt.Errorf("looking up %s %q: %w", kind, name, err)
}

// Apply sets the owner of name, relative to root, without following a
// final symlink. Unset parts are left unchanged and an empty Owner is
// a no-op. Names are resolved before anything is changed.
func Apply(root *os.Root, name string, owner Owner) error {
	if owner.IsZero() {
		return nil
	}
	owner, err := Resolve(owner)
	if err != nil {
		return err
	}
	uid, gid := -1, -1
	if owner.UserID != nil {
		uid = *owner.UserID
	}
	if owner.GroupID != nil {
		gid = *owner.GroupID
	}

	parent, err := root.Open(filepath.Dir(name))
	if err != nil {
		return &ApplyError{Path: name, Op: "chown", Err: err}
	}
	defer parent.Close()
	err = unix.Fchownat(int(parent.Fd()), filepath.Base(name), uid, gid, unix.AT_SYMLINK_NOFOLLOW)
	if err != nil {
		return &ApplyError{Path: name, Op: "chown", Err: err}
	}
	return nil
}

// Chmod sets the permission bits of name, relative to root. A symlink
// is followed only while it stays inside root.
func Chmod(root *os.Root, name string, mode fs.FileMode) error {
	file, err := root.Open(name)
	if err != nil {
		return &ApplyError{Path: name, Op: "chmod", Err: err}
	}
	defer file.Close()
	if err := unix.Fchmod(int(file.Fd()), uint32(mode.Perm())); err != nil {
		return &ApplyError{Path: name, Op: "chmod", Err: err}
	}
	return nil
}

// FromFileInfo returns the numeric owner recorded in info, or an empty
// Owner when info carries no unix attributes.
func FromFileInfo(info fs.FileInfo) Owner {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Owner{}
	}
	uid, gid := int(stat.Uid), int(stat.Gid)
	return Owner{UserID: &uid, GroupID: &gid}
}
