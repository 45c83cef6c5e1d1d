// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is wrapped by the FormatError returned from Close when the
	// input ended before all of the headers were consumed.
	ErrTruncated = errors.New("input ended before end of headers")
	// ErrClosed is returned by Write and Close once Close has been called.
	ErrClosed = errors.New("transform already closed")
	// ErrFinished is returned by writes to the end-of-input writer after its
	// continuation has been invoked.
	ErrFinished = errors.New("end-of-input continuation already invoked")
	// ErrPEOffset is returned when e_lfanew points inside the DOS header.
	ErrPEOffset = errors.New("PE header offset overlaps DOS header")
)

// FormatError reports a structural problem with the input. It is always
// fatal: the Transform emits nothing further once it has been returned.
// Err wraps one of the sentinel errors of package pe, or ErrTruncated or
// ErrPEOffset.
type FormatError struct {
	Offset int64 // absolute input offset at which the error was detected
	State  State
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("remake: %v (state %v, offset 0x%X)", e.Err, e.State, e.Offset)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
