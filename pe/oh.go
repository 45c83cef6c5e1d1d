// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"encoding/binary"
	"fmt"
)

// OptionalHeader provides the fields of a PE/COFF optional header, excluding
// the data directory that trails it. Since the underlying format differs
// depending on whether the PE binary is 32-bit or 64-bit, this type provides a
// unified interface. Fields that are 32 bits wide in PE32 and 64 bits wide in
// PE32+ are widened to uint64.
type OptionalHeader interface {
	GetMagic() uint16
	GetLinkerVersion() (major, minor uint8)
	GetSizeOfCode() uint32
	GetSizeOfInitializedData() uint32
	GetSizeOfUninitializedData() uint32
	GetAddressOfEntryPoint() uint32
	GetBaseOfCode() uint32
	GetImageBase() uint64
	GetSectionAlignment() uint32
	GetFileAlignment() uint32
	GetOperatingSystemVersion() (major, minor uint16)
	GetImageVersion() (major, minor uint16)
	GetSubsystemVersion() (major, minor uint16)
	GetWin32Version() uint32
	GetSizeOfImage() uint32
	GetSizeOfHeaders() uint32
	GetCheckSum() uint32
	GetSubsystem() uint16
	GetDllCharacteristics() uint16
	GetSizeOfStackReserve() uint64
	GetSizeOfStackCommit() uint64
	GetSizeOfHeapReserve() uint64
	GetSizeOfHeapCommit() uint64
	GetLoaderFlags() uint32
	GetNumberOfRvaAndSizes() uint32

	SizeOf() uint16 // Size of the underlying struct on the wire, in bytes
}

// OptionalHeaderSize returns the wire size of the optional header selected by
// magic, up to but excluding the data directory.
func OptionalHeaderSize(magic uint16) (int, error) {
	switch magic {
	case OptionalHeader32Magic:
		return binary.Size(optionalHeader32{}), nil
	case OptionalHeader64Magic:
		return binary.Size(optionalHeader64{}), nil
	default:
		return 0, fmt.Errorf("%w 0x%04X", ErrUnknownOptionalHeaderMagic, magic)
	}
}

// DecodeOptionalHeader decodes the optional header at buf[off:], whose first
// two bytes are the magic. The layout is selected by magic rather than by the
// bytes in buf so that callers can validate the magic before the body has
// arrived.
func DecodeOptionalHeader(buf []byte, off int, magic uint16) (OptionalHeader, error) {
	switch magic {
	case OptionalHeader32Magic:
		oh := new(optionalHeader32)
		if err := decodeAt(buf, off, oh); err != nil {
			return nil, err
		}
		return oh, nil
	case OptionalHeader64Magic:
		oh := new(optionalHeader64)
		if err := decodeAt(buf, off, oh); err != nil {
			return nil, err
		}
		return oh, nil
	default:
		return nil, fmt.Errorf("%w 0x%04X", ErrUnknownOptionalHeaderMagic, magic)
	}
}

// optionalHeader32 is debug/pe.OptionalHeader32 without its DataDirectory.
type optionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

func (oh *optionalHeader32) GetMagic() uint16 {
	return oh.Magic
}

func (oh *optionalHeader32) GetLinkerVersion() (major, minor uint8) {
	return oh.MajorLinkerVersion, oh.MinorLinkerVersion
}

func (oh *optionalHeader32) GetSizeOfCode() uint32 {
	return oh.SizeOfCode
}

func (oh *optionalHeader32) GetSizeOfInitializedData() uint32 {
	return oh.SizeOfInitializedData
}

func (oh *optionalHeader32) GetSizeOfUninitializedData() uint32 {
	return oh.SizeOfUninitializedData
}

func (oh *optionalHeader32) GetAddressOfEntryPoint() uint32 {
	return oh.AddressOfEntryPoint
}

func (oh *optionalHeader32) GetBaseOfCode() uint32 {
	return oh.BaseOfCode
}

// GetBaseOfData is only meaningful for PE32 images.
func (oh *optionalHeader32) GetBaseOfData() uint32 {
	return oh.BaseOfData
}

func (oh *optionalHeader32) GetImageBase() uint64 {
	return uint64(oh.ImageBase)
}

func (oh *optionalHeader32) GetSectionAlignment() uint32 {
	return oh.SectionAlignment
}

func (oh *optionalHeader32) GetFileAlignment() uint32 {
	return oh.FileAlignment
}

func (oh *optionalHeader32) GetOperatingSystemVersion() (major, minor uint16) {
	return oh.MajorOperatingSystemVersion, oh.MinorOperatingSystemVersion
}

func (oh *optionalHeader32) GetImageVersion() (major, minor uint16) {
	return oh.MajorImageVersion, oh.MinorImageVersion
}

func (oh *optionalHeader32) GetSubsystemVersion() (major, minor uint16) {
	return oh.MajorSubsystemVersion, oh.MinorSubsystemVersion
}

func (oh *optionalHeader32) GetWin32Version() uint32 {
	return oh.Win32VersionValue
}

func (oh *optionalHeader32) GetSizeOfImage() uint32 {
	return oh.SizeOfImage
}

func (oh *optionalHeader32) GetSizeOfHeaders() uint32 {
	return oh.SizeOfHeaders
}

func (oh *optionalHeader32) GetCheckSum() uint32 {
	return oh.CheckSum
}

func (oh *optionalHeader32) GetSubsystem() uint16 {
	return oh.Subsystem
}

func (oh *optionalHeader32) GetDllCharacteristics() uint16 {
	return oh.DllCharacteristics
}

func (oh *optionalHeader32) GetSizeOfStackReserve() uint64 {
	return uint64(oh.SizeOfStackReserve)
}

func (oh *optionalHeader32) GetSizeOfStackCommit() uint64 {
	return uint64(oh.SizeOfStackCommit)
}

func (oh *optionalHeader32) GetSizeOfHeapReserve() uint64 {
	return uint64(oh.SizeOfHeapReserve)
}

func (oh *optionalHeader32) GetSizeOfHeapCommit() uint64 {
	return uint64(oh.SizeOfHeapCommit)
}

func (oh *optionalHeader32) GetLoaderFlags() uint32 {
	return oh.LoaderFlags
}

func (oh *optionalHeader32) GetNumberOfRvaAndSizes() uint32 {
	return oh.NumberOfRvaAndSizes
}

func (oh *optionalHeader32) SizeOf() uint16 {
	return uint16(binary.Size(*oh))
}

// optionalHeader64 is debug/pe.OptionalHeader64 without its DataDirectory.
type optionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

func (oh *optionalHeader64) GetMagic() uint16 {
	return oh.Magic
}

func (oh *optionalHeader64) GetLinkerVersion() (major, minor uint8) {
	return oh.MajorLinkerVersion, oh.MinorLinkerVersion
}

func (oh *optionalHeader64) GetSizeOfCode() uint32 {
	return oh.SizeOfCode
}

func (oh *optionalHeader64) GetSizeOfInitializedData() uint32 {
	return oh.SizeOfInitializedData
}

func (oh *optionalHeader64) GetSizeOfUninitializedData() uint32 {
	return oh.SizeOfUninitializedData
}

func (oh *optionalHeader64) GetAddressOfEntryPoint() uint32 {
	return oh.AddressOfEntryPoint
}

func (oh *optionalHeader64) GetBaseOfCode() uint32 {
	return oh.BaseOfCode
}

func (oh *optionalHeader64) GetImageBase() uint64 {
	return oh.ImageBase
}

func (oh *optionalHeader64) GetSectionAlignment() uint32 {
	return oh.SectionAlignment
}

func (oh *optionalHeader64) GetFileAlignment() uint32 {
	return oh.FileAlignment
}

func (oh *optionalHeader64) GetOperatingSystemVersion() (major, minor uint16) {
	return oh.MajorOperatingSystemVersion, oh.MinorOperatingSystemVersion
}

func (oh *optionalHeader64) GetImageVersion() (major, minor uint16) {
	return oh.MajorImageVersion, oh.MinorImageVersion
}

func (oh *optionalHeader64) GetSubsystemVersion() (major, minor uint16) {
	return oh.MajorSubsystemVersion, oh.MinorSubsystemVersion
}

func (oh *optionalHeader64) GetWin32Version() uint32 {
	return oh.Win32VersionValue
}

func (oh *optionalHeader64) GetSizeOfImage() uint32 {
	return oh.SizeOfImage
}

func (oh *optionalHeader64) GetSizeOfHeaders() uint32 {
	return oh.SizeOfHeaders
}

func (oh *optionalHeader64) GetCheckSum() uint32 {
	return oh.CheckSum
}

func (oh *optionalHeader64) GetSubsystem() uint16 {
	return oh.Subsystem
}

func (oh *optionalHeader64) GetDllCharacteristics() uint16 {
	return oh.DllCharacteristics
}

func (oh *optionalHeader64) GetSizeOfStackReserve() uint64 {
	return oh.SizeOfStackReserve
}

func (oh *optionalHeader64) GetSizeOfStackCommit() uint64 {
	return oh.SizeOfStackCommit
}

func (oh *optionalHeader64) GetSizeOfHeapReserve() uint64 {
	return oh.SizeOfHeapReserve
}

func (oh *optionalHeader64) GetSizeOfHeapCommit() uint64 {
	return oh.SizeOfHeapCommit
}

func (oh *optionalHeader64) GetLoaderFlags() uint32 {
	return oh.LoaderFlags
}

func (oh *optionalHeader64) GetNumberOfRvaAndSizes() uint32 {
	return oh.NumberOfRvaAndSizes
}

func (oh *optionalHeader64) SizeOf() uint16 {
	return uint16(binary.Size(*oh))
}
