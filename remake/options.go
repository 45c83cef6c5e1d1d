// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import (
	"io"

	"github.com/sirupsen/logrus"
)

// DefaultMaxTableSize is the largest table that is tracked unless
// WithMaxTableSize says otherwise.
const DefaultMaxTableSize = 64 << 20

// Option configures a Transform.
type Option func(*options)

type options struct {
	log          logrus.FieldLogger
	directories  DataDirectoryInterceptor
	tables       TableObserver
	finish       FinishInterceptor
	headers      HeadersObserver
	maxTableSize uint32
}

func defaultOptions() options {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return options{
		log:          log,
		maxTableSize: DefaultMaxTableSize,
	}
}

// WithLogger sets the logger used for state transitions and table events.
// By default nothing is logged.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithDataDirectoryInterceptor installs the rewrite point for the data
// directory. Without one, the directory is emitted unchanged without
// suspending.
func WithDataDirectoryInterceptor(i DataDirectoryInterceptor) Option {
	return func(o *options) {
		o.directories = i
	}
}

// WithTableObserver installs the table-completed notification.
func WithTableObserver(obs TableObserver) Option {
	return func(o *options) {
		o.tables = obs
	}
}

// WithFinishInterceptor installs the end-of-input extension point. Without
// one, Close completes immediately.
func WithFinishInterceptor(i FinishInterceptor) Option {
	return func(o *options) {
		o.finish = i
	}
}

// WithHeadersObserver installs the headers-decoded notification.
func WithHeadersObserver(obs HeadersObserver) Option {
	return func(o *options) {
		o.headers = obs
	}
}

// WithMaxTableSize sets the size above which data directory tables are not
// tracked. Zero disables table tracking entirely.
func WithMaxTableSize(n uint32) Option {
	return func(o *options) {
		o.maxTableSize = n
	}
}
