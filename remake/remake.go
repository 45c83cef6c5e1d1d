// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package remake implements a single-pass streaming transform over PE images.
//
// A Transform consumes a PE image in chunks of any size, reproduces every byte
// of it downstream, and offers callers three interception points: the data
// directory may be rewritten before it is emitted, tables referenced by the
// data directory are reported as they are fully observed, and bytes may be
// appended once the input is exhausted. The image is never buffered as a
// whole; at most one fixed-size header record and the tracked tables are held
// in memory.
package remake

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/dblohm7/peremake/pe"
)

// Stats summarizes the work done by a Transform.
type Stats struct {
	BytesIn         int64
	BytesOut        int64
	TablesCompleted int
}

// Transform is an io.WriteCloser that forwards a PE image written to it to an
// underlying writer. It is not safe for concurrent use by multiple goroutines,
// although interceptor continuations may be invoked from any goroutine.
//
// The first error returned by Write or Close is sticky.
type Transform struct {
	ctx  context.Context
	dst  io.Writer
	opts options
	log  logrus.FieldLogger

	state   State
	record  *cursor
	filePos int64

	// storeOnly is set while the current record must not be forwarded as it
	// arrives.
	storeOnly bool
	// sectionTableOffset is the offset of the section table within the
	// SECTION_HEADERS record.
	sectionTableOffset int

	peOffset       uint32
	fileHeader     *pe.FileHeader
	optionalHeader pe.OptionalHeader
	directories    [pe.NumDataDirectories]pe.DataDirectory
	headers        *Headers
	tracker        *tracker

	stats  Stats
	err    error
	closed bool
}

// New returns a Transform that writes to dst. ctx bounds the time spent
// waiting for interceptor continuations.
func New(ctx context.Context, dst io.Writer, opts ...Option) *Transform {
	if ctx == nil {
		ctx = context.Background()
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	t := &Transform{
		ctx:  ctx,
		dst:  dst,
		opts: o,
		log:  o.log,
	}
	t.enter(StateDOSHeader, newCursor(make([]byte, pe.SizeofDOSHeader), nil))
	return t
}

// Headers returns the decoded headers, or nil if the section headers have not
// been consumed yet.
func (t *Transform) Headers() *Headers {
	return t.headers
}

// Stats returns counters for the bytes processed so far.
func (t *Transform) Stats() Stats {
	return t.stats
}

// State returns the structure currently being consumed.
func (t *Transform) State() State {
	return t.state
}

func (t *Transform) enter(s State, record *cursor) {
	t.state = s
	t.record = record
	t.storeOnly = false
	t.log.WithFields(logrus.Fields{
		"state":  s,
		"offset": t.filePos,
		"size":   record.size,
	}).Debug("entering state")
}

func (t *Transform) formatError(err error) error {
	return &FormatError{Offset: t.filePos, State: t.state, Err: err}
}

func (t *Transform) emit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	n, err := t.dst.Write(b)
	t.stats.BytesOut += int64(n)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	return err
}

func (t *Transform) advance(n int) {
	t.filePos += int64(n)
	t.stats.BytesIn += int64(n)
}

// Write consumes p. It may block while a DataDirectoryInterceptor decides.
func (t *Transform) Write(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	if t.closed {
		return 0, ErrClosed
	}

	in := newCursor(p, t.advance)
	if err := t.process(in); err != nil {
		t.err = err
		t.log.WithError(err).Debug("transform failed")
		return len(p) - in.readRemaining(), err
	}
	return len(p), nil
}

func (t *Transform) process(in *cursor) error {
	for {
		if t.state == StateBody {
			if in.readRemaining() == 0 {
				return nil
			}
			pos := t.filePos
			chunk := in.takeRemaining(noLimit)
			if err := t.emit(chunk); err != nil {
				return err
			}
			t.tracker.observe(pos, chunk)
			return nil
		}

		if t.record.writeRemaining() > 0 {
			if in.readRemaining() == 0 {
				return nil
			}
			if t.storeOnly {
				t.record.writeFrom(in, noLimit)
			} else if err := t.emit(t.record.writeWithCopyFrom(in, noLimit)); err != nil {
				return err
			}
			if t.record.writeRemaining() > 0 {
				return nil
			}
		}

		if err := t.completeRecord(); err != nil {
			return err
		}
	}
}

// completeRecord acts on the fully assembled record for the current state and
// enters the next state.
func (t *Transform) completeRecord() error {
	rec := t.record
	switch t.state {
	case StateDOSHeader:
		if !pe.HasDOSSignature(rec.buf) {
			return t.formatError(pe.ErrBadDOSSignature)
		}
		t.peOffset = rec.uint32At(pe.OffsetIMAGE_DOS_HEADERe_lfanew)
		if int64(t.peOffset) < t.filePos {
			return t.formatError(fmt.Errorf("%w: e_lfanew 0x%X", ErrPEOffset, t.peOffset))
		}
		t.enter(StateBeforePE, newSkipCursor(int(int64(t.peOffset)-t.filePos)))

	case StateBeforePE:
		t.enter(StateNTHeader, newCursor(make([]byte, pe.SizeofNTHeaders), nil))

	case StateNTHeader:
		if !pe.HasNTSignature(rec.buf) {
			return t.formatError(pe.ErrBadNTSignature)
		}
		fh, err := pe.DecodeFileHeader(rec.buf, 4)
		if err != nil {
			return t.formatError(err)
		}
		t.fileHeader = fh
		t.enter(StateOptionalHeaderMagic, newCursor(make([]byte, 2), nil))

	case StateOptionalHeaderMagic:
		magic := rec.uint16At(0)
		size, err := pe.OptionalHeaderSize(magic)
		if err != nil {
			return t.formatError(err)
		}
		// The body is assembled behind the magic so that the optional header
		// can be decoded from one buffer.
		buf := make([]byte, size)
		copy(buf, rec.buf)
		body := newCursor(buf, nil)
		body.writePos = len(rec.buf)
		t.enter(StateOptionalHeaderBody, body)

	case StateOptionalHeaderBody:
		oh, err := pe.DecodeOptionalHeader(rec.buf, 0, rec.uint16At(0))
		if err != nil {
			return t.formatError(err)
		}
		t.optionalHeader = oh
		t.enter(StateDataDirectories, newCursor(make([]byte, pe.SizeofDataDirectories), nil))
		t.storeOnly = true

	case StateDataDirectories:
		dirs, err := pe.DecodeDataDirectories(rec.buf, 0)
		if err != nil {
			return t.formatError(err)
		}
		t.directories = dirs
		if err := t.interceptDirectories(rec.buf); err != nil {
			return err
		}
		t.enterSectionHeaders()

	case StateSectionHeaders:
		t.decodeSections(rec.buf)
		footer := int64(t.optionalHeader.GetSizeOfHeaders()) - t.filePos
		t.enter(StateHeaderFooter, newSkipCursor(int(max(footer, 0))))

	case StateHeaderFooter:
		t.enter(StateBody, newSkipCursor(0))

	default:
		panic(fmt.Sprintf("remake: no record to complete in state %v", t.state))
	}
	return nil
}

// interceptDirectories offers the data directory to the interceptor, if any,
// and emits the result.
func (t *Transform) interceptDirectories(original []byte) error {
	i := t.opts.directories
	if i == nil {
		return t.emit(original)
	}

	replaced, err := await(t.ctx, func(next func([]pe.DataDirectory)) {
		i.OnDataDirectories(slices.Clone(t.directories[:]), next)
	})
	if err != nil {
		return err
	}
	if replaced == nil {
		return t.emit(original)
	}
	t.log.WithField("entries", len(replaced)).Debug("data directory replaced")
	return t.emit(pe.EncodeDataDirectories(replaced))
}

// enterSectionHeaders sizes the SECTION_HEADERS record. It spans from the end
// of the data directory to the end of the section table as located by
// SizeOfOptionalHeader and NumberOfSections, bounded by SizeOfHeaders.
// Whatever remains up to SizeOfHeaders is the footer.
func (t *Transform) enterSectionHeaders() {
	tableStart := int64(t.peOffset) + pe.SizeofNTHeaders + int64(t.fileHeader.SizeOfOptionalHeader)
	if tableStart < t.filePos {
		t.log.WithFields(logrus.Fields{
			"sizeOfOptionalHeader": t.fileHeader.SizeOfOptionalHeader,
			"offset":               t.filePos,
		}).Debug("section table overlaps data directory; reading it after the directory")
		tableStart = t.filePos
	}
	tableEnd := tableStart + int64(t.fileHeader.NumberOfSections)*pe.SizeofSectionHeader
	end := min(tableEnd, int64(t.optionalHeader.GetSizeOfHeaders()))

	size := max(end-t.filePos, 0)
	t.sectionTableOffset = int(min(tableStart-t.filePos, size))
	t.enter(StateSectionHeaders, newCursor(make([]byte, size), nil))
}

func (t *Transform) decodeSections(buf []byte) {
	var sections []pe.SectionHeader
	for off := t.sectionTableOffset; off+pe.SizeofSectionHeader <= len(buf) && len(sections) < int(t.fileHeader.NumberOfSections); off += pe.SizeofSectionHeader {
		sh, err := pe.DecodeSectionHeader(buf, off)
		if err != nil {
			// An empty name terminates the table.
			break
		}
		sections = append(sections, *sh)
	}

	t.headers = &Headers{
		PEOffset:        t.peOffset,
		FileHeader:      *t.fileHeader,
		OptionalHeader:  t.optionalHeader,
		DataDirectories: t.directories,
		Sections:        sections,
	}
	t.tracker = newTracker(t.log, sections, t.directories[:], t.optionalHeader.GetNumberOfRvaAndSizes(), t.opts.maxTableSize, t.tableComplete)
	t.log.WithFields(logrus.Fields{
		"sections": len(sections),
		"tables":   t.tracker.pending(),
	}).Debug("headers decoded")

	if obs := t.opts.headers; obs != nil {
		obs.OnHeaders(t.headers)
	}
}

func (t *Transform) tableComplete(table Table) {
	t.stats.TablesCompleted++
	if obs := t.opts.tables; obs != nil {
		obs.OnTableComplete(table)
	}
}

// Close signals the end of input. If the headers were not fully consumed, it
// returns a FormatError wrapping ErrTruncated. Otherwise it offers the
// FinishInterceptor, if any, the opportunity to append bytes and waits for its
// continuation. Close does not close the underlying writer.
func (t *Transform) Close() error {
	if t.err != nil {
		return t.err
	}
	if t.closed {
		return ErrClosed
	}
	t.closed = true

	if t.state != StateBody {
		t.err = t.formatError(ErrTruncated)
		return t.err
	}

	if i := t.opts.finish; i != nil {
		w := &appendWriter{t: t}
		_, err := await(t.ctx, func(next func(struct{})) {
			i.OnBeforeFinish(w, func() { next(struct{}{}) })
		})
		w.finished.Store(true)
		if err == nil {
			err = w.err
		}
		if err != nil {
			t.err = err
			return err
		}
	}

	if n := t.tracker.pending(); n > 0 {
		t.log.WithField("tables", n).Debug("input ended with incomplete tables")
	}
	t.log.WithFields(logrus.Fields{
		"in":  t.stats.BytesIn,
		"out": t.stats.BytesOut,
	}).Debug("transform finished")
	return nil
}

// appendWriter is handed to a FinishInterceptor.
type appendWriter struct {
	t        *Transform
	finished atomic.Bool
	err      error
}

func (w *appendWriter) Write(p []byte) (int, error) {
	if w.finished.Load() {
		return 0, ErrFinished
	}
	if w.err != nil {
		return 0, w.err
	}
	if err := w.t.emit(p); err != nil {
		w.err = err
		return 0, err
	}
	return len(p), nil
}
