// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package testpe assembles small but structurally valid PE images for tests,
// so that no binary fixtures need to be checked in.
package testpe

import (
	"bytes"
	dpe "debug/pe"
	"encoding/binary"
)

const (
	defaultPEOffset         = 0x80
	defaultFileAlignment    = 0x200
	defaultSectionAlignment = 0x1000
	imageBase32             = 0x00400000
	imageBase64             = 0x0000000140000000

	sizeofNTHeaders     = 24
	sizeofSectionHeader = 40
	securityIndex       = dpe.IMAGE_DIRECTORY_ENTRY_SECURITY
)

var dosStub = []byte("This program cannot be run in DOS mode.\r\r\n$")

// Section describes one section of an Image.
type Section struct {
	Name           string
	VirtualAddress uint32
	// VirtualSize defaults to len(Data).
	VirtualSize     uint32
	Data            []byte // padded to the file alignment; nil for a section without raw data
	Characteristics uint32
}

// Image describes a PE image to be built. Zero values select defaults.
type Image struct {
	Is64             bool
	Machine          uint16
	PEOffset         uint32
	FileAlignment    uint32
	SectionAlignment uint32
	Sections         []Section
	// Directories holds data directory entries by index. The certificate
	// table entry is filled in by Build when Certificate is non-empty.
	Directories [16]dpe.DataDirectory
	// NumberOfRvaAndSizes defaults to 16.
	NumberOfRvaAndSizes uint32
	// ReverseRawOrder lays the raw section data out in the reverse order of the
	// section headers.
	ReverseRawOrder bool
	// Overlay is appended after the last section, before the certificate
	// table.
	Overlay []byte
	// Certificate is the raw certificate table, appended at an 8-byte aligned
	// file offset at the end of the image.
	Certificate []byte
}

// Layout records where Build placed each structure.
type Layout struct {
	Bytes                []byte
	PEOffset             int
	OptionalHeaderOffset int
	DataDirectoryOffset  int
	SectionHeaderOffset  int
	SizeOfHeaders        int
	// RawOffsets holds PointerToRawData for each section, in header order.
	RawOffsets        []int
	CertificateOffset int
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

// Build serializes img.
func (img *Image) Build() *Layout {
	peOffset := orDefault(img.PEOffset, defaultPEOffset)
	fileAlign := orDefault(img.FileAlignment, defaultFileAlignment)
	sectAlign := orDefault(img.SectionAlignment, defaultSectionAlignment)
	numDirs := orDefault(img.NumberOfRvaAndSizes, 16)

	machine := img.Machine
	if machine == 0 {
		if img.Is64 {
			machine = dpe.IMAGE_FILE_MACHINE_AMD64
		} else {
			machine = dpe.IMAGE_FILE_MACHINE_I386
		}
	}

	ohSize := uint32(binary.Size(dpe.OptionalHeader32{}))
	if img.Is64 {
		ohSize = uint32(binary.Size(dpe.OptionalHeader64{}))
	}

	layout := &Layout{
		PEOffset:             int(peOffset),
		OptionalHeaderOffset: int(peOffset) + sizeofNTHeaders,
		DataDirectoryOffset:  int(peOffset) + sizeofNTHeaders + int(ohSize) - 16*8,
		SectionHeaderOffset:  int(peOffset) + sizeofNTHeaders + int(ohSize),
	}
	headersEnd := uint32(layout.SectionHeaderOffset) + uint32(len(img.Sections))*sizeofSectionHeader
	sizeOfHeaders := alignUp(headersEnd, fileAlign)
	layout.SizeOfHeaders = int(sizeOfHeaders)

	// Raw data placement.
	order := make([]int, len(img.Sections))
	for i := range order {
		if img.ReverseRawOrder {
			order[i] = len(order) - 1 - i
		} else {
			order[i] = i
		}
	}
	layout.RawOffsets = make([]int, len(img.Sections))
	rawSizes := make([]uint32, len(img.Sections))
	filePos := sizeOfHeaders
	for _, i := range order {
		s := img.Sections[i]
		if len(s.Data) == 0 {
			continue
		}
		rawSizes[i] = alignUp(uint32(len(s.Data)), fileAlign)
		layout.RawOffsets[i] = int(filePos)
		filePos += rawSizes[i]
	}
	overlayOffset := filePos
	filePos += uint32(len(img.Overlay))

	dirs := img.Directories
	if len(img.Certificate) > 0 {
		filePos = alignUp(filePos, 8)
		layout.CertificateOffset = int(filePos)
		dirs[securityIndex] = dpe.DataDirectory{VirtualAddress: filePos, Size: uint32(len(img.Certificate))}
		filePos += uint32(len(img.Certificate))
	}

	var sizeOfImage, sizeOfCode, entryPoint, baseOfCode uint32
	sizeOfImage = alignUp(sizeOfHeaders, sectAlign)
	for _, s := range img.Sections {
		vsize := orDefault(s.VirtualSize, uint32(len(s.Data)))
		if end := alignUp(s.VirtualAddress+vsize, sectAlign); end > sizeOfImage {
			sizeOfImage = end
		}
		if s.Characteristics&dpe.IMAGE_SCN_CNT_CODE != 0 {
			sizeOfCode += alignUp(uint32(len(s.Data)), fileAlign)
			if entryPoint == 0 {
				entryPoint = s.VirtualAddress
				baseOfCode = s.VirtualAddress
			}
		}
	}

	buf := make([]byte, filePos)

	// DOS header and stub.
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3C:], peOffset)
	if peOffset >= 64+uint32(len(dosStub)) {
		copy(buf[64:], dosStub)
	}

	var hdr bytes.Buffer
	hdr.Write([]byte{'P', 'E', 0, 0})
	characteristics := uint16(dpe.IMAGE_FILE_EXECUTABLE_IMAGE)
	if img.Is64 {
		characteristics |= dpe.IMAGE_FILE_LARGE_ADDRESS_AWARE
	} else {
		characteristics |= dpe.IMAGE_FILE_32BIT_MACHINE
	}
	binary.Write(&hdr, binary.LittleEndian, dpe.FileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(img.Sections)),
		TimeDateStamp:        0x5F5E1000,
		SizeOfOptionalHeader: uint16(ohSize),
		Characteristics:      characteristics,
	})

	if img.Is64 {
		binary.Write(&hdr, binary.LittleEndian, dpe.OptionalHeader64{
			Magic:                       0x20B,
			MajorLinkerVersion:          14,
			MinorLinkerVersion:          36,
			SizeOfCode:                  sizeOfCode,
			AddressOfEntryPoint:         entryPoint,
			BaseOfCode:                  baseOfCode,
			ImageBase:                   imageBase64,
			SectionAlignment:            sectAlign,
			FileAlignment:               fileAlign,
			MajorOperatingSystemVersion: 6,
			MajorSubsystemVersion:       6,
			SizeOfImage:                 sizeOfImage,
			SizeOfHeaders:               sizeOfHeaders,
			Subsystem:                   dpe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
			DllCharacteristics:          dpe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT | dpe.IMAGE_DLLCHARACTERISTICS_HIGH_ENTROPY_VA | dpe.IMAGE_DLLCHARACTERISTICS_DYNAMIC_BASE,
			SizeOfStackReserve:          0x100000,
			SizeOfStackCommit:           0x1000,
			SizeOfHeapReserve:           0x100000,
			SizeOfHeapCommit:            0x1000,
			NumberOfRvaAndSizes:         numDirs,
			DataDirectory:               dirs,
		})
	} else {
		binary.Write(&hdr, binary.LittleEndian, dpe.OptionalHeader32{
			Magic:                       0x10B,
			MajorLinkerVersion:          14,
			MinorLinkerVersion:          36,
			SizeOfCode:                  sizeOfCode,
			AddressOfEntryPoint:         entryPoint,
			BaseOfCode:                  baseOfCode,
			ImageBase:                   imageBase32,
			SectionAlignment:            sectAlign,
			FileAlignment:               fileAlign,
			MajorOperatingSystemVersion: 6,
			MajorSubsystemVersion:       6,
			SizeOfImage:                 sizeOfImage,
			SizeOfHeaders:               sizeOfHeaders,
			Subsystem:                   dpe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
			DllCharacteristics:          dpe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT | dpe.IMAGE_DLLCHARACTERISTICS_DYNAMIC_BASE,
			SizeOfStackReserve:          0x100000,
			SizeOfStackCommit:           0x1000,
			SizeOfHeapReserve:           0x100000,
			SizeOfHeapCommit:            0x1000,
			NumberOfRvaAndSizes:         numDirs,
			DataDirectory:               dirs,
		})
	}

	for i, s := range img.Sections {
		var sh dpe.SectionHeader32
		copy(sh.Name[:], s.Name)
		sh.VirtualSize = orDefault(s.VirtualSize, uint32(len(s.Data)))
		sh.VirtualAddress = s.VirtualAddress
		sh.SizeOfRawData = rawSizes[i]
		sh.PointerToRawData = uint32(layout.RawOffsets[i])
		sh.Characteristics = s.Characteristics
		binary.Write(&hdr, binary.LittleEndian, sh)
	}
	copy(buf[peOffset:], hdr.Bytes())

	for i, s := range img.Sections {
		copy(buf[layout.RawOffsets[i]:], s.Data)
	}
	copy(buf[overlayOffset:], img.Overlay)
	if len(img.Certificate) > 0 {
		copy(buf[layout.CertificateOffset:], img.Certificate)
	}

	layout.Bytes = buf
	return layout
}

// Pattern returns n bytes of deterministic, non-repeating-looking content
// seeded by seed.
func Pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	x := uint32(seed) | 1
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}

// Certificate returns a certificate table holding one WIN_CERTIFICATE of type
// PKCS signed data carrying payload, padded to 8 bytes.
func Certificate(payload []byte) []byte {
	length := uint32(8 + len(payload))
	b := make([]byte, alignUp(length, 8))
	binary.LittleEndian.PutUint32(b[0:], length)
	binary.LittleEndian.PutUint16(b[4:], 0x0200)
	binary.LittleEndian.PutUint16(b[6:], 0x0002)
	copy(b[8:], payload)
	return b
}

// Sample resource data and its location in the image returned by Sample.
const (
	SampleResourceRVA  = 0x3000
	SampleResourceSize = 0x68
	SampleDebugRVA     = 0x2010
)

// SampleResourcePrefix is the start of the resource table in Sample: a
// resource directory header with one ID entry.
var SampleResourcePrefix = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0}

// Sample returns a representative image: code, read-only data holding a debug
// directory, uninitialized data without raw bytes, resources, and an
// Authenticode certificate table.
func Sample(is64 bool) *Image {
	text := Pattern(0x310, 1)
	rdata := Pattern(0x180, 2)
	// One IMAGE_DEBUG_DIRECTORY of type CodeView at .rdata+0x10.
	dbg := rdata[0x10 : 0x10+28]
	for i := range dbg {
		dbg[i] = 0
	}
	binary.LittleEndian.PutUint32(dbg[12:], 2)

	rsrc := make([]byte, SampleResourceSize)
	copy(rsrc, SampleResourcePrefix)
	copy(rsrc[len(SampleResourcePrefix):], Pattern(SampleResourceSize-len(SampleResourcePrefix), 3))

	img := &Image{
		Is64: is64,
		Sections: []Section{
			{Name: ".text", VirtualAddress: 0x1000, Data: text, Characteristics: dpe.IMAGE_SCN_CNT_CODE | dpe.IMAGE_SCN_MEM_EXECUTE | dpe.IMAGE_SCN_MEM_READ},
			{Name: ".rdata", VirtualAddress: 0x2000, Data: rdata, Characteristics: dpe.IMAGE_SCN_CNT_INITIALIZED_DATA | dpe.IMAGE_SCN_MEM_READ},
			{Name: ".bss", VirtualAddress: 0x2200, VirtualSize: 0x400, Characteristics: dpe.IMAGE_SCN_CNT_UNINITIALIZED_DATA | dpe.IMAGE_SCN_MEM_READ | dpe.IMAGE_SCN_MEM_WRITE},
			{Name: ".rsrc", VirtualAddress: SampleResourceRVA, Data: rsrc, Characteristics: dpe.IMAGE_SCN_CNT_INITIALIZED_DATA | dpe.IMAGE_SCN_MEM_READ},
		},
		Certificate: Certificate(Pattern(0x53, 4)),
	}
	img.Directories[dpe.IMAGE_DIRECTORY_ENTRY_RESOURCE] = dpe.DataDirectory{VirtualAddress: SampleResourceRVA, Size: SampleResourceSize}
	img.Directories[dpe.IMAGE_DIRECTORY_ENTRY_DEBUG] = dpe.DataDirectory{VirtualAddress: SampleDebugRVA, Size: 28}
	return img
}
