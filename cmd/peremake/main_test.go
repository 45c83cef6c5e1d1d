// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/assert"

	"github.com/dblohm7/peremake/internal/testpe"
)

// writeSample writes the sample image to dir and returns its path and layout.
func writeSample(t *testing.T, dir string, is64 bool) (string, *testpe.Image, *testpe.Layout) {
	t.Helper()
	img := testpe.Sample(is64)
	lay := img.Build()
	name := "sample32.exe"
	if is64 {
		name = "sample64.exe"
	}
	path := filepath.Join(dir, name)
	assert.NilError(t, os.WriteFile(path, lay.Bytes, 0o644))
	return path, img, lay
}

// run executes the root command with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	root := BuildRoot()
	root.SetOut(&stdout)
	root.SetErr(&stdout)
	root.SetArgs(append([]string{"--silent"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}
