// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

//go:build !windows

package pe

// QueryFileVersion always returns ErrUnavailable on this platform.
func QueryFileVersion(path string) (*FileVersion, error) {
	return nil, ErrUnavailable
}
