// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import (
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"

	"github.com/dblohm7/peremake/pe"
)

// span is a half-open interval [start, end).
type span[T constraints.Integer] struct {
	start, end T
}

func (s span[T]) empty() bool {
	return s.end <= s.start
}

func (s span[T]) intersect(o span[T]) span[T] {
	return span[T]{start: max(s.start, o.start), end: min(s.end, o.end)}
}

// section is a section with raw data, together with the virtual-address
// window its raw bytes map to.
type section struct {
	hdr *pe.SectionHeader
	raw span[int64]
	// virt begins at the section's VirtualAddress and ends at the lowest
	// VirtualAddress of any other section above it. The last section in
	// virtual-address order has no such bound; its window is approximated as
	// VirtualAddress+SizeOfRawData, which ignores any gap or overlap from
	// section alignment.
	virt span[int64]
}

type tableState struct {
	dir    pe.DataDirectory
	window span[int64] // virtual addresses, or file offsets for the certificate table
	buf    []byte
	filled int64
}

func (ts *tableState) size() int64 {
	return ts.window.end - ts.window.start
}

// fill copies the bytes of chunk that fall inside ts's window, where chunk
// begins at position pos of ts's address space. It reports whether ts is now
// complete.
func (ts *tableState) fill(pos int64, chunk []byte) bool {
	ov := ts.window.intersect(span[int64]{start: pos, end: pos + int64(len(chunk))})
	if ov.empty() {
		return false
	}
	if ts.buf == nil {
		ts.buf = make([]byte, ts.size())
	}
	copy(ts.buf[ov.start-ts.window.start:], chunk[ov.start-pos:ov.end-pos])
	ts.filled += ov.end - ov.start
	return ts.filled >= ts.size()
}

// tracker classifies body bytes against section raw-data windows and the
// tables referenced by the data directory, accumulating table bytes as they
// stream past. Tracking is a side-read: tracker never alters the bytes.
type tracker struct {
	log      logrus.FieldLogger
	sections []*section // ascending by PointerToRawData; head is the next to open
	open     *section
	openPos  int64 // offset of the next byte within open's raw data
	tables   []*tableState
	cert     *tableState
	complete func(Table)
}

func newTracker(log logrus.FieldLogger, headers []pe.SectionHeader, dirs []pe.DataDirectory, numDirs uint32, maxTableSize uint32, complete func(Table)) *tracker {
	t := &tracker{log: log, complete: complete}

	for i := range headers {
		hdr := &headers[i]
		// Sections without raw data are never opened; bytes at their
		// PointerToRawData belong to whatever else is there.
		if hdr.SizeOfRawData == 0 {
			continue
		}
		va := int64(hdr.VirtualAddress)
		virtEnd := va + int64(hdr.SizeOfRawData)
		found := false
		for j := range headers {
			if other := int64(headers[j].VirtualAddress); other > va && (!found || other < virtEnd) {
				virtEnd = other
				found = true
			}
		}
		start := int64(hdr.PointerToRawData)
		t.sections = append(t.sections, &section{
			hdr:  hdr,
			raw:  span[int64]{start: start, end: start + int64(hdr.SizeOfRawData)},
			virt: span[int64]{start: va, end: virtEnd},
		})
	}
	sort.SliceStable(t.sections, func(i, j int) bool {
		return t.sections[i].raw.start < t.sections[j].raw.start
	})

	for _, dd := range dirs {
		if !dd.Present() || uint32(dd.Index) >= numDirs {
			continue
		}
		if dd.Size > maxTableSize {
			log.WithFields(logrus.Fields{
				"table": dd.Index,
				"size":  dd.Size,
				"limit": maxTableSize,
			}).Warn("table exceeds size limit; not tracking")
			continue
		}
		start := int64(dd.VirtualAddress)
		ts := &tableState{
			dir:    dd,
			window: span[int64]{start: start, end: start + int64(dd.Size)},
		}
		if dd.Index.IsFileOffset() {
			t.cert = ts
		} else {
			t.tables = append(t.tables, ts)
		}
	}

	return t
}

// pending reports the number of tables not yet complete.
func (t *tracker) pending() int {
	n := len(t.tables)
	if t.cert != nil {
		n++
	}
	return n
}

func (t *tracker) report(ts *tableState) {
	t.log.WithFields(logrus.Fields{
		"table":   ts.dir.Index,
		"address": ts.dir.VirtualAddress,
		"size":    ts.dir.Size,
	}).Debug("table complete")
	if t.complete != nil {
		t.complete(Table{
			Index:          ts.dir.Index,
			VirtualAddress: ts.dir.VirtualAddress,
			Size:           ts.dir.Size,
			Data:           ts.buf,
		})
	}
}

// observe classifies chunk, which begins at absolute file offset filePos.
func (t *tracker) observe(filePos int64, chunk []byte) {
	t.observeSections(filePos, chunk)

	// The certificate table is addressed by file offset and lies outside of
	// every section, so it is tested against each chunk directly.
	if t.cert != nil && t.cert.fill(filePos, chunk) {
		cert := t.cert
		t.cert = nil
		t.report(cert)
	}
}

func (t *tracker) observeSections(filePos int64, chunk []byte) {
	for len(chunk) > 0 {
		if t.open == nil && !t.openNext(filePos, int64(len(chunk))) {
			return
		}
		if t.open == nil {
			// Gap before the head section's raw window.
			gap := t.sections[0].raw.start - filePos
			chunk = chunk[gap:]
			filePos += gap
			continue
		}

		n := min(int64(len(chunk)), t.open.raw.end-t.open.raw.start-t.openPos)
		t.mapVirtual(t.open, t.openPos, chunk[:n])

		t.openPos += n
		if t.openPos == t.open.raw.end-t.open.raw.start {
			t.open = nil
		}
		chunk = chunk[n:]
		filePos += n
	}
}

// openNext advances the section list against the byte range [filePos,
// filePos+n). It reports false when no remaining section intersects the
// range. When it reports true, either a section has been opened or the head
// section begins later within the range.
func (t *tracker) openNext(filePos, n int64) bool {
	r := span[int64]{start: filePos, end: filePos + n}
	for len(t.sections) > 0 {
		head := t.sections[0]
		if head.raw.end <= filePos {
			// Passed over while another section was open.
			t.sections = t.sections[1:]
			continue
		}
		if head.raw.intersect(r).empty() {
			return false
		}
		if head.raw.start > filePos {
			return true
		}
		t.sections = t.sections[1:]
		t.open = head
		t.openPos = filePos - head.raw.start
		t.log.WithFields(logrus.Fields{
			"section": head.hdr.NameString(),
			"offset":  filePos,
		}).Debug("section opened")
		return true
	}
	return false
}

// mapVirtual feeds the bytes at offset pos of s's raw data to every pending
// table they overlap in virtual-address space.
func (t *tracker) mapVirtual(s *section, pos int64, chunk []byte) {
	if len(t.tables) == 0 {
		return
	}
	va := s.virt.start + pos
	visible := span[int64]{start: va, end: va + int64(len(chunk))}.intersect(s.virt)
	if visible.empty() {
		return
	}
	chunk = chunk[visible.start-va : visible.end-va]

	remaining := t.tables[:0]
	for _, ts := range t.tables {
		if ts.fill(visible.start, chunk) {
			t.report(ts)
			continue
		}
		remaining = append(remaining, ts)
	}
	t.tables = remaining
}
