// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	dpe "debug/pe"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dblohm7/peremake/internal/testpe"
)

func TestSignatures(t *testing.T) {
	testCases := []struct {
		buf    []byte
		dos    bool
		ntHdrs bool
	}{
		{[]byte("MZ\x90\x00"), true, false},
		{[]byte("PE\x00\x00"), false, true},
		{[]byte("M"), false, false},
		{nil, false, false},
	}

	for _, c := range testCases {
		if got := HasDOSSignature(c.buf); got != c.dos {
			t.Errorf("HasDOSSignature(%q): got %v, want %v", c.buf, got, c.dos)
		}
		if got := HasNTSignature(c.buf); got != c.ntHdrs {
			t.Errorf("HasNTSignature(%q): got %v, want %v", c.buf, got, c.ntHdrs)
		}
	}
}

func TestErrorHierarchy(t *testing.T) {
	for _, err := range []error{ErrBadDOSSignature, ErrBadNTSignature, ErrUnknownOptionalHeaderMagic} {
		if !errors.Is(err, ErrInvalidBinary) {
			t.Errorf("%v does not wrap ErrInvalidBinary", err)
		}
	}
}

// TestDecodersAgainstStdlib decodes the headers of synthetic images and checks
// the results against debug/pe.
func TestDecodersAgainstStdlib(t *testing.T) {
	for _, is64 := range []bool{false, true} {
		lay := testpe.Sample(is64).Build()
		buf := lay.Bytes

		f, err := dpe.NewFile(bytes.NewReader(buf))
		if err != nil {
			t.Fatalf("debug/pe.NewFile: %v", err)
		}
		defer f.Close()

		fh, err := DecodeFileHeader(buf, lay.PEOffset+4)
		if err != nil {
			t.Fatalf("DecodeFileHeader: %v", err)
		}
		if diff := cmp.Diff(f.FileHeader, dpe.FileHeader(*fh)); diff != "" {
			t.Errorf("file header (-debug/pe +got):\n%s", diff)
		}

		magic := binary.LittleEndian.Uint16(buf[lay.OptionalHeaderOffset:])
		oh, err := DecodeOptionalHeader(buf, lay.OptionalHeaderOffset, magic)
		if err != nil {
			t.Fatalf("DecodeOptionalHeader: %v", err)
		}
		if got := int(oh.SizeOf()) + SizeofDataDirectories; got != int(fh.SizeOfOptionalHeader) {
			t.Errorf("optional header size: got %d, want %d", got, fh.SizeOfOptionalHeader)
		}

		var dd [16]dpe.DataDirectory
		switch want := f.OptionalHeader.(type) {
		case *dpe.OptionalHeader32:
			if is64 {
				t.Fatalf("debug/pe decoded a PE32 header for a PE32+ image")
			}
			dd = want.DataDirectory
			if got := oh.(*optionalHeader32).BaseOfData; got != want.BaseOfData {
				t.Errorf("BaseOfData: got 0x%X, want 0x%X", got, want.BaseOfData)
			}
			if got := oh.GetImageBase(); got != uint64(want.ImageBase) {
				t.Errorf("ImageBase: got 0x%X, want 0x%X", got, want.ImageBase)
			}
			if got := oh.GetSizeOfStackReserve(); got != uint64(want.SizeOfStackReserve) {
				t.Errorf("SizeOfStackReserve: got 0x%X, want 0x%X", got, want.SizeOfStackReserve)
			}
			if got := oh.GetSizeOfHeaders(); got != want.SizeOfHeaders {
				t.Errorf("SizeOfHeaders: got 0x%X, want 0x%X", got, want.SizeOfHeaders)
			}
			if got := oh.GetNumberOfRvaAndSizes(); got != want.NumberOfRvaAndSizes {
				t.Errorf("NumberOfRvaAndSizes: got %d, want %d", got, want.NumberOfRvaAndSizes)
			}
		case *dpe.OptionalHeader64:
			if !is64 {
				t.Fatalf("debug/pe decoded a PE32+ header for a PE32 image")
			}
			dd = want.DataDirectory
			if got := oh.GetImageBase(); got != want.ImageBase {
				t.Errorf("ImageBase: got 0x%X, want 0x%X", got, want.ImageBase)
			}
			if got := oh.GetSizeOfHeapCommit(); got != want.SizeOfHeapCommit {
				t.Errorf("SizeOfHeapCommit: got 0x%X, want 0x%X", got, want.SizeOfHeapCommit)
			}
			if got := oh.GetSizeOfHeaders(); got != want.SizeOfHeaders {
				t.Errorf("SizeOfHeaders: got 0x%X, want 0x%X", got, want.SizeOfHeaders)
			}
			if major, minor := oh.GetLinkerVersion(); major != want.MajorLinkerVersion || minor != want.MinorLinkerVersion {
				t.Errorf("linker version: got %d.%d, want %d.%d", major, minor, want.MajorLinkerVersion, want.MinorLinkerVersion)
			}
		}
		if got := oh.GetMagic(); got != magic {
			t.Errorf("magic: got 0x%04X, want 0x%04X", got, magic)
		}

		dirs, err := DecodeDataDirectories(buf, lay.DataDirectoryOffset)
		if err != nil {
			t.Fatalf("DecodeDataDirectories: %v", err)
		}
		for i, e := range dirs {
			if e.Index != DataDirectoryIndex(i) || e.VirtualAddress != dd[i].VirtualAddress || e.Size != dd[i].Size {
				t.Errorf("directory %d: got %+v, want %+v", i, e, dd[i])
			}
		}

		for i, s := range f.Sections {
			sh, err := DecodeSectionHeader(buf, lay.SectionHeaderOffset+i*SizeofSectionHeader)
			if err != nil {
				t.Fatalf("DecodeSectionHeader(%d): %v", i, err)
			}
			if diff := cmp.Diff(s.SectionHeader, dpe.SectionHeader{
				Name:                 sh.NameString(),
				VirtualSize:          sh.VirtualSize,
				VirtualAddress:       sh.VirtualAddress,
				Size:                 sh.SizeOfRawData,
				Offset:               sh.PointerToRawData,
				PointerToRelocations: sh.PointerToRelocations,
				PointerToLineNumbers: sh.PointerToLineNumbers,
				NumberOfRelocations:  sh.NumberOfRelocations,
				NumberOfLineNumbers:  sh.NumberOfLineNumbers,
				Characteristics:      sh.Characteristics,
			}); diff != "" {
				t.Errorf("section %d (-debug/pe +got):\n%s", i, diff)
			}
		}
	}
}

func TestOptionalHeader64BitFields(t *testing.T) {
	oh := optionalHeader64{
		Magic:              OptionalHeader64Magic,
		ImageBase:          0xFEDCBA9876543210,
		SizeOfStackReserve: 0x8000000000000001,
		SizeOfHeapReserve:  1 << 40,
	}
	var buf bytes.Buffer
	buf.Write([]byte{0xAA, 0xBB, 0xCC})
	if err := binary.Write(&buf, binary.LittleEndian, &oh); err != nil {
		t.Fatalf("binary.Write: %v", err)
	}

	got, err := DecodeOptionalHeader(buf.Bytes(), 3, OptionalHeader64Magic)
	if err != nil {
		t.Fatalf("DecodeOptionalHeader: %v", err)
	}
	if v := got.GetImageBase(); v != oh.ImageBase {
		t.Errorf("ImageBase: got 0x%X, want 0x%X", v, oh.ImageBase)
	}
	if v := got.GetSizeOfStackReserve(); v != oh.SizeOfStackReserve {
		t.Errorf("SizeOfStackReserve: got 0x%X, want 0x%X", v, oh.SizeOfStackReserve)
	}
	if v := got.GetSizeOfHeapReserve(); v != oh.SizeOfHeapReserve {
		t.Errorf("SizeOfHeapReserve: got 0x%X, want 0x%X", v, oh.SizeOfHeapReserve)
	}
}

func TestOptionalHeaderSize(t *testing.T) {
	testCases := []struct {
		magic   uint16
		size    int
		wantErr error
	}{
		{OptionalHeader32Magic, 96, nil},
		{OptionalHeader64Magic, 112, nil},
		{0x0107, 0, ErrUnknownOptionalHeaderMagic},
	}

	for _, c := range testCases {
		size, err := OptionalHeaderSize(c.magic)
		if !errors.Is(err, c.wantErr) {
			t.Errorf("OptionalHeaderSize(0x%04X) error: got %v, want %v", c.magic, err, c.wantErr)
		}
		if size != c.size {
			t.Errorf("OptionalHeaderSize(0x%04X): got %d, want %d", c.magic, size, c.size)
		}
		if _, err := DecodeOptionalHeader(make([]byte, 112), 0, c.magic); !errors.Is(err, c.wantErr) {
			t.Errorf("DecodeOptionalHeader(0x%04X) error: got %v, want %v", c.magic, err, c.wantErr)
		}
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	buf := make([]byte, 30)
	if _, err := DecodeFileHeader(buf, 20); err != ErrBadLength {
		t.Errorf("DecodeFileHeader: got %v, want %v", err, ErrBadLength)
	}
	if _, err := DecodeFileHeader(buf, 31); err != ErrBadLength {
		t.Errorf("DecodeFileHeader past end: got %v, want %v", err, ErrBadLength)
	}
	if _, err := DecodeSectionHeader(buf, 0); err != ErrBadLength {
		t.Errorf("DecodeSectionHeader: got %v, want %v", err, ErrBadLength)
	}
	if _, err := DecodeDataDirectories(make([]byte, SizeofDataDirectories), 1); err != ErrBadLength {
		t.Errorf("DecodeDataDirectories: got %v, want %v", err, ErrBadLength)
	}
	if _, err := DecodeOptionalHeader(make([]byte, 95), 0, OptionalHeader32Magic); err != ErrBadLength {
		t.Errorf("DecodeOptionalHeader: got %v, want %v", err, ErrBadLength)
	}
}

func TestDecodeSectionHeaderName(t *testing.T) {
	testCases := []struct {
		name    [8]byte
		want    string
		wantErr error
	}{
		{[8]byte{'.', 't', 'e', 'x', 't'}, ".text", nil},
		{[8]byte{'.', 'l', 'o', 'n', 'g', 'n', 'a', 'm'}, ".longnam", nil},
		{[8]byte{}, "", ErrNotPresent},
		{[8]byte{0, 'x'}, "", ErrNotPresent},
	}

	for _, c := range testCases {
		buf := make([]byte, SizeofSectionHeader)
		copy(buf, c.name[:])
		sh, err := DecodeSectionHeader(buf, 0)
		if err != c.wantErr {
			t.Errorf("DecodeSectionHeader(%q) error: got %v, want %v", c.name, err, c.wantErr)
			continue
		}
		if err == nil && sh.NameString() != c.want {
			t.Errorf("DecodeSectionHeader(%q) name: got %q, want %q", c.name, sh.NameString(), c.want)
		}
	}
}

func TestEncodeDataDirectories(t *testing.T) {
	entries := []DataDirectory{
		{Index: IMAGE_DIRECTORY_ENTRY_RESERVED, VirtualAddress: 0x11223344, Size: 0x01020304},
		{Index: IMAGE_DIRECTORY_ENTRY_IMPORT, VirtualAddress: 0x2000, Size: 0x50},
		{Index: DataDirectoryIndex(16), VirtualAddress: 1, Size: 1},
		{Index: DataDirectoryIndex(-1), VirtualAddress: 1, Size: 1},
	}
	buf := EncodeDataDirectories(entries)
	if len(buf) != SizeofDataDirectories {
		t.Fatalf("length: got %d, want %d", len(buf), SizeofDataDirectories)
	}

	want := make([]byte, SizeofDataDirectories)
	copy(want[8:], []byte{0x00, 0x20, 0, 0, 0x50, 0, 0, 0})
	copy(want[120:], []byte{0x44, 0x33, 0x22, 0x11, 0x04, 0x03, 0x02, 0x01})
	if !bytes.Equal(buf, want) {
		t.Errorf("EncodeDataDirectories:\n got % X\nwant % X", buf, want)
	}

	dirs, err := DecodeDataDirectories(buf, 0)
	if err != nil {
		t.Fatalf("DecodeDataDirectories: %v", err)
	}
	var present []DataDirectory
	for _, d := range dirs {
		if d.Present() {
			present = append(present, d)
		}
	}
	// Decoding yields entries in slot order.
	wantPresent := []DataDirectory{entries[1], entries[0]}
	if diff := cmp.Diff(wantPresent, present); diff != "" {
		t.Errorf("decoded entries (-want +got):\n%s", diff)
	}
}

func TestDataDirectoryIndex(t *testing.T) {
	testCases := []struct {
		idx        DataDirectoryIndex
		name       string
		fileOffset bool
	}{
		{IMAGE_DIRECTORY_ENTRY_EXPORT, "ExportTable", false},
		{IMAGE_DIRECTORY_ENTRY_RESOURCE, "ResourceTable", false},
		{IMAGE_DIRECTORY_ENTRY_SECURITY, "CertificateTable", true},
		{IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR, "COMRuntimeHeader", false},
		{IMAGE_DIRECTORY_ENTRY_RESERVED, "Reserved", false},
		{DataDirectoryIndex(16), "DataDirectoryIndex(16)", false},
	}

	for _, c := range testCases {
		if got := c.idx.String(); got != c.name {
			t.Errorf("String(%d): got %q, want %q", int(c.idx), got, c.name)
		}
		if got := c.idx.IsFileOffset(); got != c.fileOffset {
			t.Errorf("IsFileOffset(%d): got %v, want %v", int(c.idx), got, c.fileOffset)
		}
	}
}
