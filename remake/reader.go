// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import (
	"context"
	"io"
)

// NewReader returns a reader over the transformed contents of src. The
// transform runs on its own goroutine, one chunk ahead of the reader at most.
// Errors from src or from the transform are returned by Read. Closing the
// returned reader before EOF aborts the transform.
func NewReader(ctx context.Context, src io.Reader, opts ...Option) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := Copy(ctx, pw, src, opts...)
		pw.CloseWithError(err)
	}()
	return pr
}

// Copy streams src through a new Transform into dst and closes the
// Transform, returning its final Stats.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, opts ...Option) (Stats, error) {
	t := New(ctx, dst, opts...)
	if _, err := io.Copy(t, src); err != nil {
		return t.Stats(), err
	}
	err := t.Close()
	return t.Stats(), err
}
