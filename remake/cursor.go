// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import "encoding/binary"

// noLimit may be passed as the limit of a cursor transfer to move as many
// bytes as both cursors allow.
const noLimit = -1

// cursor is a bounded window over one chunk of bytes. A cursor either owns a
// buffer or, in skip mode, only a size: skip cursors account for bytes that
// are forwarded without being stored.
//
// The read and write positions are independent. Input chunks are read from;
// records under assembly are written to.
type cursor struct {
	buf      []byte // nil in skip mode
	size     int
	readPos  int
	writePos int
	// onRead, when non-nil, is called with the number of bytes each time the
	// read position advances.
	onRead func(n int)
}

func newCursor(buf []byte, onRead func(n int)) *cursor {
	return &cursor{buf: buf, size: len(buf), onRead: onRead}
}

func newSkipCursor(size int) *cursor {
	if size < 0 {
		size = 0
	}
	return &cursor{size: size}
}

func (c *cursor) readRemaining() int {
	return c.size - c.readPos
}

func (c *cursor) writeRemaining() int {
	return c.size - c.writePos
}

func (c *cursor) hasStorage() bool {
	return c.buf != nil
}

func (c *cursor) advanceRead(n int) {
	c.readPos += n
	if c.onRead != nil && n > 0 {
		c.onRead(n)
	}
}

// transferSize is the number of bytes that may move from src into c.
func (c *cursor) transferSize(src *cursor, limit int) int {
	n := min(src.readRemaining(), c.writeRemaining())
	if limit >= 0 {
		n = min(n, limit)
	}
	return n
}

// writeFrom moves bytes from src into c without producing a forwarded copy.
// It returns the number of bytes moved.
func (c *cursor) writeFrom(src *cursor, limit int) int {
	n := c.transferSize(src, limit)
	if c.hasStorage() {
		copy(c.buf[c.writePos:c.writePos+n], src.buf[src.readPos:])
	}
	src.advanceRead(n)
	c.writePos += n
	return n
}

// writeWithCopyFrom moves bytes from src into c and returns them detached from
// src, for forwarding downstream.
func (c *cursor) writeWithCopyFrom(src *cursor, limit int) []byte {
	n := c.transferSize(src, limit)
	var out []byte
	if c.hasStorage() {
		copy(c.buf[c.writePos:c.writePos+n], src.buf[src.readPos:])
		out = c.buf[c.writePos : c.writePos+n : c.writePos+n]
	} else {
		out = make([]byte, n)
		copy(out, src.buf[src.readPos:])
	}
	src.advanceRead(n)
	c.writePos += n
	return out
}

// takeRemaining detaches the next limit (or, with noLimit, all) unread bytes.
// Taking an entire buffer from offset zero returns the buffer itself.
func (c *cursor) takeRemaining(limit int) []byte {
	n := c.readRemaining()
	if limit >= 0 {
		n = min(n, limit)
	}
	var out []byte
	switch {
	case !c.hasStorage():
		panic("remake: takeRemaining on a cursor without storage")
	case c.readPos == 0 && n == c.size:
		out = c.buf
	default:
		out = make([]byte, n)
		copy(out, c.buf[c.readPos:])
	}
	c.advanceRead(n)
	return out
}

func (c *cursor) uint16At(off int) uint16 {
	if !c.hasStorage() {
		panic("remake: uint16At on a cursor without storage")
	}
	return binary.LittleEndian.Uint16(c.buf[off:])
}

func (c *cursor) uint32At(off int) uint32 {
	if !c.hasStorage() {
		panic("remake: uint32At on a cursor without storage")
	}
	return binary.LittleEndian.Uint32(c.buf[off:])
}
