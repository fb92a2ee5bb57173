// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads jarpack configuration.
//
// Configuration comes from a single file named by the --config flag
// or, failing that, the JARPACK_CONFIG environment variable (see
// [Resolve]). There is no search path and no ~/.config discovery:
// without either, the built-in [Default] applies. Command-line flags
// override whatever the file sets.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas allowed; anything else is YAML. Both use the same
// field names.
//
// Path fields support ${VAR} and ${VAR:-default} expansion after
// loading. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- Build, Extract and Log sections
//   - [Default] -- the configuration used when no file is given
//   - [Resolve] and [LoadFile] -- the entry points for loading
package config
