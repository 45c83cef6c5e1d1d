// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package pe provides decoders for the fixed-layout structures of PE binaries.
// Every decoder is a pure function over a byte slice and an offset into it, so
// that the structures may be decoded from whatever buffer a streaming consumer
// happened to assemble them in.
package pe

import (
	"bytes"
	dpe "debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The following constants are from the PE/COFF format documentation
const (
	SizeofDOSHeader                = 64
	SizeofNTHeaders                = 4 + SizeofFileHeader // signature + IMAGE_FILE_HEADER
	SizeofFileHeader               = 20
	SizeofSectionHeader            = 40
	SizeofDataDirectory            = 8
	NumDataDirectories             = 16
	SizeofDataDirectories          = NumDataDirectories * SizeofDataDirectory
	OffsetIMAGE_DOS_HEADERe_lfanew = 0x3C

	OptionalHeader32Magic = 0x010B
	OptionalHeader64Magic = 0x020B
)

var (
	// ErrBadLength is returned when the buffer handed to a decoder is shorter
	// than the structure being decoded.
	ErrBadLength = errors.New("effective length did not match expected length")
	// ErrInvalidBinary is returned whenever the headers do not parse as expected.
	// The headers might be corrupt, malicious, or have been tampered with.
	ErrInvalidBinary = errors.New("invalid PE binary")
	// ErrBadDOSSignature is returned when an image does not begin with "MZ".
	ErrBadDOSSignature = fmt.Errorf("%w: bad DOS header signature", ErrInvalidBinary)
	// ErrBadNTSignature is returned when the NT headers do not begin with "PE".
	ErrBadNTSignature = fmt.Errorf("%w: bad NT headers signature", ErrInvalidBinary)
	// ErrUnknownOptionalHeaderMagic is returned when the optional header magic
	// is neither 0x010B (PE32) nor 0x020B (PE32+).
	ErrUnknownOptionalHeaderMagic = fmt.Errorf("%w: unknown optional header magic", ErrInvalidBinary)
	// ErrNotPresent is returned when the requested structure is not populated.
	// DecodeSectionHeader returns it for the empty-name entry that terminates a
	// section table.
	ErrNotPresent = errors.New("not present in this PE image")
	// ErrUnavailable is returned by QueryFileVersion on platforms without the
	// Windows version APIs.
	ErrUnavailable = errors.New("unavailable on this platform")
)

var (
	mzSignature = [2]byte{'M', 'Z'}
	peSignature = [2]byte{'P', 'E'}
)

// HasDOSSignature reports whether buf begins with the "MZ" signature.
func HasDOSSignature(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == mzSignature[0] && buf[1] == mzSignature[1]
}

// HasNTSignature reports whether buf begins with the "PE" signature. The two
// bytes that follow are zero in a well-formed image but are not checked.
func HasNTSignature(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == peSignature[0] && buf[1] == peSignature[1]
}

// FileHeader is the PE/COFF IMAGE_FILE_HEADER structure.
type FileHeader dpe.FileHeader

// SectionHeader is the PE/COFF IMAGE_SECTION_HEADER structure. VirtualSize
// shares its storage with the PhysicalAddress member of the C union; only the
// image interpretation is exposed.
type SectionHeader dpe.SectionHeader32

// NameString returns the name of s as a Go string.
func (s *SectionHeader) NameString() string {
	// s.Name is UTF-8. When the string's length is < len(s.Name), the remaining
	// bytes are padded with zeros.
	for i, c := range s.Name {
		if c == 0 {
			return string(s.Name[:i])
		}
	}

	return string(s.Name[:])
}

// PhysicalAddress returns the object-file interpretation of VirtualSize.
func (s *SectionHeader) PhysicalAddress() uint32 {
	return s.VirtualSize
}

// DataDirectoryIndex is an enumeration specifying a particular entry in the
// data directory.
type DataDirectoryIndex int

const (
	IMAGE_DIRECTORY_ENTRY_EXPORT         = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_EXPORT)
	IMAGE_DIRECTORY_ENTRY_IMPORT         = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_IMPORT)
	IMAGE_DIRECTORY_ENTRY_RESOURCE       = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_RESOURCE)
	IMAGE_DIRECTORY_ENTRY_EXCEPTION      = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_EXCEPTION)
	IMAGE_DIRECTORY_ENTRY_SECURITY       = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_SECURITY)
	IMAGE_DIRECTORY_ENTRY_BASERELOC      = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_BASERELOC)
	IMAGE_DIRECTORY_ENTRY_DEBUG          = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_DEBUG)
	IMAGE_DIRECTORY_ENTRY_ARCHITECTURE   = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_ARCHITECTURE)
	IMAGE_DIRECTORY_ENTRY_GLOBALPTR      = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_GLOBALPTR)
	IMAGE_DIRECTORY_ENTRY_TLS            = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_TLS)
	IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG    = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG)
	IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT   = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT)
	IMAGE_DIRECTORY_ENTRY_IAT            = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_IAT)
	IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT   = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT)
	IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR = DataDirectoryIndex(dpe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR)
	IMAGE_DIRECTORY_ENTRY_RESERVED       = DataDirectoryIndex(15)
)

var dataDirectoryNames = [NumDataDirectories]string{
	"ExportTable",
	"ImportTable",
	"ResourceTable",
	"ExceptionTable",
	"CertificateTable",
	"RelocationTable",
	"DebugData",
	"ArchitectureData",
	"GlobalPtr",
	"TLSTable",
	"LoadConfigTable",
	"BoundImportTable",
	"ImportAddressTable",
	"DelayImportDescriptor",
	"COMRuntimeHeader",
	"Reserved",
}

func (idx DataDirectoryIndex) String() string {
	if !idx.Valid() {
		return fmt.Sprintf("DataDirectoryIndex(%d)", int(idx))
	}
	return dataDirectoryNames[idx]
}

// Valid reports whether idx is one of the 16 catalogued data directory slots.
func (idx DataDirectoryIndex) Valid() bool {
	return idx >= 0 && idx < NumDataDirectories
}

// IsFileOffset reports whether the VirtualAddress of the entry at idx is a raw
// file offset rather than an RVA. Only the certificate table is addressed this
// way, since it is never mapped into memory.
func (idx DataDirectoryIndex) IsFileOffset() bool {
	return idx == IMAGE_DIRECTORY_ENTRY_SECURITY
}

// DataDirectory is one slot of the data directory, tagged with its index.
type DataDirectory struct {
	Index          DataDirectoryIndex
	VirtualAddress uint32
	Size           uint32
}

// Present reports whether dd references any data.
func (dd DataDirectory) Present() bool {
	return dd.VirtualAddress != 0 && dd.Size != 0
}

func binaryRead(r io.Reader, data any) (err error) {
	err = binary.Read(r, binary.LittleEndian, data)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = ErrBadLength
	}
	return err
}

// decodeAt reads data from buf starting at off.
func decodeAt(buf []byte, off int, data any) error {
	if off < 0 || off > len(buf) {
		return ErrBadLength
	}
	return binaryRead(bytes.NewReader(buf[off:]), data)
}

// DecodeFileHeader decodes the 20-byte IMAGE_FILE_HEADER at buf[off:].
func DecodeFileHeader(buf []byte, off int) (*FileHeader, error) {
	fh := new(FileHeader)
	if err := decodeAt(buf, off, fh); err != nil {
		return nil, err
	}
	return fh, nil
}

// DecodeSectionHeader decodes the 40-byte IMAGE_SECTION_HEADER at buf[off:].
// It returns ErrNotPresent if the decoded name is empty, which marks the end
// of a section table.
func DecodeSectionHeader(buf []byte, off int) (*SectionHeader, error) {
	sh := new(SectionHeader)
	if err := decodeAt(buf, off, sh); err != nil {
		return nil, err
	}
	if sh.NameString() == "" {
		return nil, ErrNotPresent
	}
	return sh, nil
}

// DecodeDataDirectories decodes the 16 eight-byte slots at buf[off:]. Slots
// are always decoded regardless of how many the optional header declares.
func DecodeDataDirectories(buf []byte, off int) ([NumDataDirectories]DataDirectory, error) {
	var raw [NumDataDirectories]dpe.DataDirectory
	var result [NumDataDirectories]DataDirectory
	if err := decodeAt(buf, off, &raw); err != nil {
		return result, err
	}
	for i, e := range raw {
		result[i] = DataDirectory{
			Index:          DataDirectoryIndex(i),
			VirtualAddress: e.VirtualAddress,
			Size:           e.Size,
		}
	}
	return result, nil
}

// EncodeDataDirectories serializes entries into the 128-byte wire form of the
// data directory. Each entry is placed in the slot named by its Index; slots
// without an entry are zero and entries with an invalid Index are ignored.
func EncodeDataDirectories(entries []DataDirectory) []byte {
	buf := make([]byte, SizeofDataDirectories)
	for _, e := range entries {
		if !e.Index.Valid() {
			continue
		}
		off := int(e.Index) * SizeofDataDirectory
		binary.LittleEndian.PutUint32(buf[off:], e.VirtualAddress)
		binary.LittleEndian.PutUint32(buf[off+4:], e.Size)
	}
	return buf
}
