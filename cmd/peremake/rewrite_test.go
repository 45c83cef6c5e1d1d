// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	dpe "debug/pe"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

func TestRewrite(t *testing.T) {
	dir := t.TempDir()
	for _, is64 := range []bool{false, true} {
		input, _, lay := writeSample(t, dir, is64)
		output := filepath.Join(dir, "out.exe")

		_, err := run(t, "rewrite", input, "-o", output,
			"--set-directory", "Reserved=0x11223344:0x01020304",
			"--append-hex", "01020304")
		assert.NilError(t, err)

		got, err := os.ReadFile(output)
		assert.NilError(t, err)
		assert.Equal(t, len(got), len(lay.Bytes)+4)

		slot := lay.DataDirectoryOffset + 15*8
		assert.DeepEqual(t, got[slot:slot+8], []byte{0x44, 0x33, 0x22, 0x11, 0x04, 0x03, 0x02, 0x01})
		assert.DeepEqual(t, got[len(got)-4:], []byte{1, 2, 3, 4})

		want := bytes.Clone(lay.Bytes)
		copy(want[slot:], got[slot:slot+8])
		assert.Assert(t, bytes.Equal(got[:len(want)], want), "bytes outside the replaced slot changed")
	}
}

func TestRewritePlanToStdout(t *testing.T) {
	dir := t.TempDir()
	input, _, lay := writeSample(t, dir, true)
	planPath := filepath.Join(dir, "plan.yaml")
	assert.NilError(t, os.WriteFile(planPath, []byte("directories:\n  - index: ResourceTable\n    address: 0\n    size: 0\n"), 0o644))

	stdout, err := run(t, "rewrite", input, "--plan", planPath)
	assert.NilError(t, err)
	assert.Equal(t, len(stdout), len(lay.Bytes))

	f, err := dpe.NewFile(bytes.NewReader([]byte(stdout)))
	assert.NilError(t, err)
	oh := f.OptionalHeader.(*dpe.OptionalHeader64)
	assert.Equal(t, oh.DataDirectory[dpe.IMAGE_DIRECTORY_ENTRY_RESOURCE], dpe.DataDirectory{})
	assert.Equal(t, oh.DataDirectory[dpe.IMAGE_DIRECTORY_ENTRY_DEBUG].Size, uint32(28))
}

func TestRewriteErrors(t *testing.T) {
	dir := t.TempDir()
	input, _, lay := writeSample(t, dir, false)

	_, err := run(t, "rewrite", input, "-o", input)
	assert.ErrorContains(t, err, "would overwrite input")

	_, err = run(t, "rewrite", input, "--set-directory", "bogus")
	assert.ErrorContains(t, err, "--set-directory")

	_, err = run(t, "rewrite", filepath.Join(dir, "missing.exe"))
	assert.ErrorContains(t, err, "open input")

	truncated := filepath.Join(dir, "truncated.exe")
	assert.NilError(t, os.WriteFile(truncated, lay.Bytes[:lay.SectionHeaderOffset], 0o644))
	_, err = run(t, "rewrite", truncated, "-o", filepath.Join(dir, "out.exe"))
	assert.ErrorContains(t, err, "rewrite "+truncated)

	_, err = run(t, "--log-level", "loud", "rewrite", input)
	assert.Assert(t, is.ErrorContains(err, "parse --log-level"))
}
