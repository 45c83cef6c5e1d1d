// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotCodeView is returned by ParseCodeViewInfo when the debug directory
	// entry does not describe CodeView data.
	ErrNotCodeView = errors.New("debug info is not CodeView")

	errBadCodeViewSignature = errors.New("bad CodeView signature")
)

// IMAGE_DEBUG_DIRECTORY describes debug information embedded in the binary.
type IMAGE_DEBUG_DIRECTORY struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32 // an IMAGE_DEBUG_TYPE constant
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

// IMAGE_DEBUG_TYPE_CODEVIEW identifies the current IMAGE_DEBUG_DIRECTORY as
// pointing to CodeView debug information.
const IMAGE_DEBUG_TYPE_CODEVIEW = 2

var sizeofDebugDirectory = binary.Size(IMAGE_DEBUG_DIRECTORY{})

// ParseDebugDirectories decodes the array of IMAGE_DEBUG_DIRECTORY entries
// held in table, the complete contents of the debug data directory. Trailing
// bytes that do not form a whole entry are ignored.
func ParseDebugDirectories(table []byte) ([]IMAGE_DEBUG_DIRECTORY, error) {
	count := len(table) / sizeofDebugDirectory
	result := make([]IMAGE_DEBUG_DIRECTORY, count)
	if err := binaryRead(bytes.NewReader(table), result); err != nil {
		return nil, err
	}
	return result, nil
}

// GUID is the in-memory layout of a Windows GUID.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED contains CodeView debug information
// embedded in the PE file. Note that this structure's ABI does not match its C
// counterpart because the latter is packed.
type IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED struct {
	GUID    GUID
	Age     uint32
	PDBPath string
}

// String returns the data from u formatted in the same way that Microsoft
// debugging tools and symbol servers use to identify PDB files corresponding
// to a specific binary.
func (u *IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08X%04X%04X", u.GUID.Data1, u.GUID.Data2, u.GUID.Data3)
	for _, v := range u.GUID.Data4 {
		fmt.Fprintf(&b, "%02X", v)
	}
	fmt.Fprintf(&b, "%X", u.Age)
	return b.String()
}

// "RSDS"
const codeViewSignature = 0x53445352

func (u *IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED) unpack(r *bufio.Reader) error {
	var signature uint32
	if err := binaryRead(r, &signature); err != nil {
		return err
	}
	if signature != codeViewSignature {
		return errBadCodeViewSignature
	}
	if err := binaryRead(r, &u.GUID); err != nil {
		return err
	}
	if err := binaryRead(r, &u.Age); err != nil {
		return err
	}

	var pdbBytes []byte
	for b, err := r.ReadByte(); err == nil && b != 0; b, err = r.ReadByte() {
		pdbBytes = append(pdbBytes, b)
	}

	u.PDBPath = string(pdbBytes)
	return nil
}

// ParseCodeViewInfo obtains CodeView debug information for de from r, which
// must be positioned over the whole file; the data is located through
// de.PointerToRawData.
func ParseCodeViewInfo(r io.ReaderAt, de IMAGE_DEBUG_DIRECTORY) (*IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED, error) {
	if de.Type != IMAGE_DEBUG_TYPE_CODEVIEW {
		return nil, ErrNotCodeView
	}

	cv := new(IMAGE_DEBUG_INFO_CODEVIEW_UNPACKED)
	sr := io.NewSectionReader(r, int64(de.PointerToRawData), int64(de.SizeOfData))
	if err := cv.unpack(bufio.NewReader(sr)); err != nil {
		return nil, err
	}

	return cv, nil
}
