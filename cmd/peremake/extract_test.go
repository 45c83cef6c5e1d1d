// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"
)

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	input, img, lay := writeSample(t, dir, true)
	out := filepath.Join(dir, "tables")

	stdout, err := run(t, "extract", input, "--dir", out)
	assert.NilError(t, err)

	rdata := lay.RawOffsets[1]
	want := map[string][]byte{
		"02_ResourceTable.bin":    img.Sections[3].Data,
		"04_CertificateTable.bin": img.Certificate,
		"06_DebugData.bin":        lay.Bytes[rdata+0x10 : rdata+0x10+28],
	}
	entries, err := os.ReadDir(out)
	assert.NilError(t, err)
	assert.Equal(t, len(entries), len(want))
	for name, data := range want {
		got, err := os.ReadFile(filepath.Join(out, name))
		assert.NilError(t, err)
		assert.DeepEqual(t, got, data)
		assert.Assert(t, is.Contains(stdout, name))
	}
}

func TestExtractNotPE(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "notpe.bin")
	assert.NilError(t, os.WriteFile(input, []byte("ZM"), 0o644))

	_, err := run(t, "extract", input, "--dir", dir)
	assert.ErrorContains(t, err, "read "+input)
}
