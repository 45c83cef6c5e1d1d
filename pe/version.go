// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import "fmt"

// VersionNumber is the four-part file version from a VS_FIXEDFILEINFO.
type VersionNumber struct {
	Major uint16
	Minor uint16
	Patch uint16
	Build uint16
}

func (vn VersionNumber) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", vn.Major, vn.Minor, vn.Patch, vn.Build)
}

func versionFromParts(ms, ls uint32) VersionNumber {
	return VersionNumber{
		Major: uint16(ms >> 16),
		Minor: uint16(ms & 0xFFFF),
		Patch: uint16(ls >> 16),
		Build: uint16(ls & 0xFFFF),
	}
}

// FileVersion is the version resource of a PE file on disk, as reported by
// the operating system.
type FileVersion struct {
	File    VersionNumber
	Product VersionNumber
	// String fields from the first StringFileInfo table that contains them.
	// Missing values are empty.
	CompanyName     string
	FileDescription string
	ProductName     string
}
