// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/dblohm7/peremake/internal/testpe"
	"github.com/dblohm7/peremake/pe"
	"github.com/dblohm7/peremake/remake"
)

func scanSample(t *testing.T, is64 bool) (*scanResult, *testpe.Layout) {
	t.Helper()
	lay := testpe.Sample(is64).Build()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	res, err := scan(context.Background(), bytes.NewReader(lay.Bytes), logger)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return res, lay
}

func TestScan(t *testing.T) {
	res, lay := scanSample(t, true)
	if got, want := res.stats.BytesIn, int64(len(lay.Bytes)); got != want {
		t.Errorf("BytesIn got %d, want %d", got, want)
	}
	if got, want := len(res.tables), 3; got != want {
		t.Errorf("tables got %d, want %d", got, want)
	}
	if _, ok := res.tables[pe.IMAGE_DIRECTORY_ENTRY_SECURITY]; !ok {
		t.Error("certificate table not extracted")
	}
	if got, want := len(res.headers.Sections), 4; got != want {
		t.Errorf("sections got %d, want %d", got, want)
	}
}

func TestScanNotPE(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if _, err := scan(context.Background(), strings.NewReader(strings.Repeat("x", 200)), logger); err == nil {
		t.Error("scan of non-PE input succeeded")
	}
}

func TestDumpOutput(t *testing.T) {
	res, _ := scanSample(t, false)

	testCases := []struct {
		name string
		dump func(w io.Writer)
		want []string
	}{
		{
			"headers",
			func(w io.Writer) { runDumpHeaders(w, res) },
			[]string{"PE header offset: 0x80", "Streamed ", "0x010B", "14.36"},
		},
		{
			"sections",
			func(w io.Writer) { runDumpSections(w, res) },
			[]string{"4 sections:", ".text", ".rdata", ".bss", ".rsrc"},
		},
		{
			"directories",
			func(w io.Writer) { runDumpDirectories(w, res) },
			[]string{"ResourceTable", "CertificateTable", "DebugData"},
		},
		{
			"tables",
			func(w io.Writer) { runDumpTables(w, res) },
			[]string{"3 tables extracted:", "104 bytes: 00 00 00 00"},
		},
		{
			"authenticode",
			func(w io.Writer) { runDumpAuthenticode(w, res) },
			[]string{"1 authenticode certificates:", "revision 0x0200 type 0x0002, 83 bytes"},
		},
	}

	for _, tc := range testCases {
		var buf bytes.Buffer
		tc.dump(&buf)
		got := buf.String()
		for _, want := range tc.want {
			if !strings.Contains(got, want) {
				t.Errorf("%s: output does not contain %q:\n%s", tc.name, want, got)
			}
		}
	}
}

func TestDumpWithoutTables(t *testing.T) {
	res := &scanResult{tables: map[pe.DataDirectoryIndex]remake.Table{}}
	var buf bytes.Buffer
	runDumpAuthenticode(&buf, res)
	runDumpDebugInfo(&buf, res, bytes.NewReader(nil))
	got := buf.String()
	for _, want := range []string{"No authenticode certificates", "No debug directory entries"} {
		if !strings.Contains(got, want) {
			t.Errorf("output does not contain %q:\n%s", want, got)
		}
	}
}
