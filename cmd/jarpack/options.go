// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/jarpack/cmd/jarpack/cli"
	"github.com/bureau-foundation/jarpack/lib/config"
)

// commonOptions are the flags every subcommand accepts.
type commonOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *commonOptions) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flagSet.StringVar(&o.logFormat, "log-format", "", "log format: auto, text, json (overrides config)")
}

// load resolves the configuration, lets override adjust it from
// command flags, validates the result and builds the logger.
func (o *commonOptions) load(env *environment, command string, override func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Resolve(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, cli.Usage("invalid configuration: %w", err)
	}

	logger, err := cli.NewCommandLogger(env.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger.With("command", command), nil
}
