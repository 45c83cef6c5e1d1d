// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	sample32, _, _ := writeSample(t, dir, false)
	sample64, _, _ := writeSample(t, dir, true)

	stdout, err := run(t, "verify", "-p", "2", sample32, sample64)
	assert.NilError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	assert.Equal(t, len(lines), 2)
	// Results are reported in argument order.
	assert.Assert(t, is.Contains(lines[0], "ok   "+sample32))
	assert.Assert(t, is.Contains(lines[1], "ok   "+sample64))
	assert.Assert(t, is.Contains(lines[0], "3 tables"))
}

func TestVerifyFailures(t *testing.T) {
	dir := t.TempDir()
	good, _, lay := writeSample(t, dir, false)

	notPE := filepath.Join(dir, "notpe.bin")
	assert.NilError(t, os.WriteFile(notPE, []byte(strings.Repeat("not a PE file ", 10)), 0o644))
	truncated := filepath.Join(dir, "truncated.exe")
	assert.NilError(t, os.WriteFile(truncated, lay.Bytes[:100], 0o644))
	missing := filepath.Join(dir, "missing.exe")

	stdout, err := run(t, "verify", good, notPE, truncated, missing)
	assert.ErrorContains(t, err, "3 of 4 files failed verification")
	assert.Assert(t, is.Contains(stdout, "ok   "+good))
	assert.Assert(t, is.Contains(stdout, "FAIL "+notPE))
	assert.Assert(t, is.Contains(stdout, "FAIL "+truncated))
	assert.Assert(t, is.Contains(stdout, "FAIL "+missing))
}
