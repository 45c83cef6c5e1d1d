// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// WIN_CERT_REVISION is an enumeration from the Windows SDK.
type WIN_CERT_REVISION uint16

const (
	WIN_CERT_REVISION_1_0 WIN_CERT_REVISION = 0x0100
	WIN_CERT_REVISION_2_0 WIN_CERT_REVISION = 0x0200
)

// WIN_CERT_TYPE is an enumeration from the Windows SDK.
type WIN_CERT_TYPE uint16

const (
	WIN_CERT_TYPE_X509             WIN_CERT_TYPE = 0x0001
	WIN_CERT_TYPE_PKCS_SIGNED_DATA WIN_CERT_TYPE = 0x0002
	WIN_CERT_TYPE_TS_STACK_SIGNED  WIN_CERT_TYPE = 0x0004
)

type _WIN_CERTIFICATE_HEADER struct {
	Length          uint32
	Revision        WIN_CERT_REVISION
	CertificateType WIN_CERT_TYPE
}

var sizeofCertHeader = binary.Size(_WIN_CERTIFICATE_HEADER{})

// AuthenticodeCert represents an authenticode signature that has been extracted
// from a signed PE binary but not fully parsed.
type AuthenticodeCert struct {
	header _WIN_CERTIFICATE_HEADER
	data   []byte
}

// Revision returns the revision of ac.
func (ac *AuthenticodeCert) Revision() WIN_CERT_REVISION {
	return ac.header.Revision
}

// Type returns the type of ac.
func (ac *AuthenticodeCert) Type() WIN_CERT_TYPE {
	return ac.header.CertificateType
}

// Data returns the raw bytes of ac's cert.
func (ac *AuthenticodeCert) Data() []byte {
	return ac.data
}

func alignUp[V constraints.Integer](v V, powerOfTwo V) V {
	if v < 0 || powerOfTwo < 0 || bits.OnesCount(uint(powerOfTwo)) != 1 {
		panic("invalid arguments to alignUp")
	}
	return v + ((-v) & (powerOfTwo - 1))
}

// ParseAuthenticodeCerts walks the WIN_CERTIFICATE entries contained in table,
// which must hold the complete contents of the certificate table (the data
// referenced by IMAGE_DIRECTORY_ENTRY_SECURITY). Entries are 8-byte aligned
// relative to the start of the table. The returned certs alias table.
func ParseAuthenticodeCerts(table []byte) ([]AuthenticodeCert, error) {
	var result []AuthenticodeCert
	r := bytes.NewReader(table)
	var curOffset int

	for curOffset < len(table) {
		if _, err := r.Seek(int64(curOffset), io.SeekStart); err != nil {
			return nil, err
		}

		var entry AuthenticodeCert
		if err := binaryRead(r, &entry.header); err != nil {
			return nil, err
		}
		curOffset += sizeofCertHeader

		if int(entry.header.Length) < sizeofCertHeader {
			return nil, fmt.Errorf("%w: certificate length %d", ErrInvalidBinary, entry.header.Length)
		}
		dataLen := int(entry.header.Length) - sizeofCertHeader
		if dataLen > len(table)-curOffset {
			return nil, fmt.Errorf("%w: want %d, got %d", ErrBadLength, dataLen, len(table)-curOffset)
		}
		entry.data = table[curOffset : curOffset+dataLen]
		curOffset += dataLen

		result = append(result, entry)
		curOffset = alignUp(curOffset, 8)
	}

	return result, nil
}
