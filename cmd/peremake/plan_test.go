// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/assert"
	is "gotest.tools/assert/cmp"

	"github.com/dblohm7/peremake/pe"
)

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	err := os.WriteFile(path, []byte(`
directories:
  - index: certificatetable
    address: 0x1C00
    size: 0x2000
  - index: 15
    address: 0x11223344
    size: 0x01020304
append: |
  01 02
  0a0b
`), 0o644)
	assert.NilError(t, err)

	plan, err := LoadPlan(path)
	assert.NilError(t, err)
	assert.DeepEqual(t, plan.Directories, []DirectoryReplacement{
		{Index: DirectoryIndex(pe.IMAGE_DIRECTORY_ENTRY_SECURITY), Address: 0x1C00, Size: 0x2000},
		{Index: DirectoryIndex(pe.IMAGE_DIRECTORY_ENTRY_RESERVED), Address: 0x11223344, Size: 0x01020304},
	})

	b, err := plan.AppendBytes()
	assert.NilError(t, err)
	assert.DeepEqual(t, b, []byte{1, 2, 10, 11})
}

func TestLoadPlanErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		err     string
	}{
		{"unknown directory", "directories:\n  - index: Bogus\n", `unknown data directory "Bogus"`},
		{"index out of range", "directories:\n  - index: 16\n", "out of range"},
		{"bad append", "append: xyz\n", "decode append bytes"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plan.yaml")
			assert.NilError(t, os.WriteFile(path, []byte(tc.content), 0o644))
			_, err := LoadPlan(path)
			assert.ErrorContains(t, err, tc.err)
		})
	}

	_, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read plan")
}

func TestParseDirectoryFlag(t *testing.T) {
	r, err := parseDirectoryFlag("ResourceTable=0x3000:104")
	assert.NilError(t, err)
	assert.Equal(t, r, DirectoryReplacement{Index: DirectoryIndex(pe.IMAGE_DIRECTORY_ENTRY_RESOURCE), Address: 0x3000, Size: 104})

	r, err = parseDirectoryFlag("4=0:0")
	assert.NilError(t, err)
	assert.Equal(t, pe.DataDirectoryIndex(r.Index), pe.IMAGE_DIRECTORY_ENTRY_SECURITY)

	for _, s := range []string{"bogus", "4=1", "99=1:2", "Nope=1:2", "4=x:2", "4=1:0x100000000"} {
		_, err := parseDirectoryFlag(s)
		assert.Assert(t, err != nil, "parseDirectoryFlag(%q) succeeded", s)
	}
}

func TestPlanApply(t *testing.T) {
	entries := make([]pe.DataDirectory, pe.NumDataDirectories)
	for i := range entries {
		entries[i] = pe.DataDirectory{Index: pe.DataDirectoryIndex(i), VirtualAddress: uint32(i) * 0x100, Size: uint32(i)}
	}

	empty := &Plan{}
	assert.Assert(t, is.Nil(empty.Apply(entries)))

	plan := &Plan{Directories: []DirectoryReplacement{
		{Index: DirectoryIndex(pe.IMAGE_DIRECTORY_ENTRY_SECURITY), Address: 0xAAAA, Size: 1},
		{Index: DirectoryIndex(pe.IMAGE_DIRECTORY_ENTRY_SECURITY), Address: 0xBBBB, Size: 2},
	}}
	got := plan.Apply(entries)
	assert.Equal(t, len(got), pe.NumDataDirectories)
	assert.Equal(t, got[4], pe.DataDirectory{Index: pe.IMAGE_DIRECTORY_ENTRY_SECURITY, VirtualAddress: 0xBBBB, Size: 2})
	assert.Equal(t, got[5], entries[5])
	// The input is left alone.
	assert.Equal(t, entries[4].VirtualAddress, uint32(0x400))

	// A slot missing from the offered entries is added.
	got = plan.Apply(entries[:2])
	assert.Equal(t, len(got), 3)
	assert.Equal(t, got[2].Index, pe.IMAGE_DIRECTORY_ENTRY_SECURITY)
}
