// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

type GlobalFlags struct {
	LogLevel string
	Silent   bool

	// logOutput is where the logger writes. It is stderr outside of tests.
	logOutput io.Writer
}

// SetGlobalFlags applies the global flags
func SetGlobalFlags(flags *flag.FlagSet) *GlobalFlags {
	globalFlags := &GlobalFlags{logOutput: os.Stderr}

	flags.StringVar(&globalFlags.LogLevel, "log-level", "info", "The log level to use: trace, debug, info, warn or error")
	flags.BoolVar(&globalFlags.Silent, "silent", false, "Suppress all log output")
	return globalFlags
}

// Logger builds the logger selected by the flags.
func (g *GlobalFlags) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "parse --log-level")
	}

	log := logrus.New()
	log.SetOutput(g.logOutput)
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if g.Silent {
		log.SetOutput(io.Discard)
	}
	return log, nil
}
