// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package remake

import (
	"context"
	"io"
	"sync"

	"github.com/dblohm7/peremake/pe"
)

// DataDirectoryInterceptor is offered the data directory before it is
// emitted. Intake stops until next is called, which may happen on any
// goroutine and at any later time. Passing nil to next emits the original
// bytes; otherwise the replacement entries are encoded into the 128-byte
// directory, each in the slot named by its Index, and slots without an entry
// are zeroed. Replacements are not validated. Only the first call to next has
// any effect.
type DataDirectoryInterceptor interface {
	OnDataDirectories(entries []pe.DataDirectory, next func(replaced []pe.DataDirectory))
}

// DataDirectoryInterceptorFunc adapts a function to DataDirectoryInterceptor.
type DataDirectoryInterceptorFunc func(entries []pe.DataDirectory, next func(replaced []pe.DataDirectory))

func (f DataDirectoryInterceptorFunc) OnDataDirectories(entries []pe.DataDirectory, next func(replaced []pe.DataDirectory)) {
	f(entries, next)
}

// Table is a data directory table whose bytes have been fully observed.
// VirtualAddress and Size are those of the entry as read from the input,
// regardless of any replacement made by a DataDirectoryInterceptor. For the
// certificate table VirtualAddress is a file offset.
type Table struct {
	Index          pe.DataDirectoryIndex
	VirtualAddress uint32
	Size           uint32
	Data           []byte
}

// TableObserver is notified as each tracked table completes. It is called
// synchronously from Write and must not block; the Table's Data is owned by
// the observer.
type TableObserver interface {
	OnTableComplete(table Table)
}

// TableObserverFunc adapts a function to TableObserver.
type TableObserverFunc func(table Table)

func (f TableObserverFunc) OnTableComplete(table Table) {
	f(table)
}

// FinishInterceptor is offered a writer for appending bytes once the input
// has been exhausted. Close does not return until next is called. Bytes
// written to w before next is called follow all other output.
type FinishInterceptor interface {
	OnBeforeFinish(w io.Writer, next func())
}

// FinishInterceptorFunc adapts a function to FinishInterceptor.
type FinishInterceptorFunc func(w io.Writer, next func())

func (f FinishInterceptorFunc) OnBeforeFinish(w io.Writer, next func()) {
	f(w, next)
}

// Headers holds everything decoded from the headers of the input image.
type Headers struct {
	PEOffset       uint32
	FileHeader     pe.FileHeader
	OptionalHeader pe.OptionalHeader
	// DataDirectories is the directory as read from the input.
	DataDirectories [pe.NumDataDirectories]pe.DataDirectory
	// Sections are in section table order.
	Sections []pe.SectionHeader
}

// HeadersObserver is notified once the section headers have been decoded. Like
// TableObserver it is called synchronously and must not block.
type HeadersObserver interface {
	OnHeaders(hdrs *Headers)
}

// HeadersObserverFunc adapts a function to HeadersObserver.
type HeadersObserverFunc func(hdrs *Headers)

func (f HeadersObserverFunc) OnHeaders(hdrs *Headers) {
	f(hdrs)
}

// await offers a continuation through offer and blocks until it is invoked
// or ctx is done. Only the first invocation counts.
func await[T any](ctx context.Context, offer func(next func(T))) (T, error) {
	var (
		once   sync.Once
		result T
		done   = make(chan struct{})
	)

	offer(func(v T) {
		once.Do(func() {
			result = v
			close(done)
		})
	})

	// A continuation invoked synchronously wins over a concurrently cancelled
	// context.
	select {
	case <-done:
		return result, nil
	default:
	}

	select {
	case <-done:
		return result, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
