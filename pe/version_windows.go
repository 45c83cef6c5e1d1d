// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package pe

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	errFixedFileInfoTooShort = errors.New("buffer smaller than VS_FIXEDFILEINFO")
	errFixedFileInfoBadSig   = errors.New("bad VS_FIXEDFILEINFO signature")
)

type langAndCodePage struct {
	language uint16
	codePage uint16
}

const (
	enUS        = 0x0409
	langNeutral = 0
)

// QueryFileVersion reads the version resource of the PE file at path. It
// returns ErrNotPresent if the file has no version resource.
func QueryFileVersion(path string) (*FileVersion, error) {
	bufSize, err := windows.GetFileVersionInfoSize(path, nil)
	if err != nil {
		if errors.Is(err, windows.ERROR_RESOURCE_TYPE_NOT_FOUND) {
			err = ErrNotPresent
		}
		return nil, err
	}

	buf := make([]byte, bufSize)
	if err := windows.GetFileVersionInfo(path, 0, bufSize, unsafe.Pointer(&buf[0])); err != nil {
		return nil, err
	}

	var fixed *windows.VS_FIXEDFILEINFO
	var fixedLen uint32
	if err := windows.VerQueryValue(unsafe.Pointer(&buf[0]), `\`, unsafe.Pointer(&fixed), &fixedLen); err != nil {
		return nil, err
	}
	if fixedLen < uint32(unsafe.Sizeof(windows.VS_FIXEDFILEINFO{})) {
		return nil, errFixedFileInfoTooShort
	}
	if fixed.Signature != 0xFEEF04BD {
		return nil, errFixedFileInfoBadSig
	}

	// Preferred translations, in order of preference. No preference for code page.
	translationIDs := []langAndCodePage{
		{language: enUS},
		{language: langNeutral},
	}

	var ids *langAndCodePage
	var idsNumBytes uint32
	if err := windows.VerQueryValue(unsafe.Pointer(&buf[0]), `\VarFileInfo\Translation`, unsafe.Pointer(&ids), &idsNumBytes); err == nil {
		idsSlice := unsafe.Slice(ids, idsNumBytes/uint32(unsafe.Sizeof(*ids)))
		translationIDs = append(translationIDs, idsSlice...)
	}

	result := &FileVersion{
		File:    versionFromParts(fixed.FileVersionMS, fixed.FileVersionLS),
		Product: versionFromParts(fixed.ProductVersionMS, fixed.ProductVersionLS),
	}

	fields := []struct {
		key string
		dst *string
	}{
		{"CompanyName", &result.CompanyName},
		{"FileDescription", &result.FileDescription},
		{"ProductName", &result.ProductName},
	}
	for _, f := range fields {
		value, err := queryString(buf, translationIDs, f.key)
		if err != nil && !errors.Is(err, ErrNotPresent) {
			return nil, err
		}
		*f.dst = value
	}

	return result, nil
}

func queryString(buf []byte, translationIDs []langAndCodePage, key string) (string, error) {
	for _, lcp := range translationIDs {
		fq := fmt.Sprintf("\\StringFileInfo\\%04x%04x\\%s", lcp.language, lcp.codePage, key)

		var value *uint16
		var valueLen uint32
		err := windows.VerQueryValue(unsafe.Pointer(&buf[0]), fq, unsafe.Pointer(&value), &valueLen)
		if err == nil {
			return windows.UTF16ToString(unsafe.Slice(value, valueLen)), nil
		}
		if !errors.Is(err, windows.ERROR_RESOURCE_TYPE_NOT_FOUND) {
			return "", err
		}
		// Otherwise we continue looping and try the next language
	}

	return "", ErrNotPresent
}
