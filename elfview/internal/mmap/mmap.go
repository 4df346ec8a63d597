// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// Package mmap provides a read-only file mapping whose content is exposed as
// a byte slice, for attaching on-disk ELF images without copying them.
package mmap // import "github.com/kaiser2336564/elfinspect/elfview/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
)

// ReaderAt holds a read-only memory-mapped file.
//
// Like any io.ReaderAt, clients can execute parallel ReadAt calls, but it is
// not safe to call Close and reading methods concurrently.
type ReaderAt struct {
	data   []byte
	mapped bool
}

// Data returns the mapped file content. The slice is only valid until Close.
func (r *ReaderAt) Data() []byte {
	return r.data
}

// Len returns the length of the underlying memory-mapped file.
func (r *ReaderAt) Len() int {
	return len(r.data)
}

// ReadAt implements the io.ReaderAt interface.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, errors.New("mmap: closed")
	}
	if off < 0 || int64(len(r.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Open maps the named file for reading.
func Open(filename string) (*ReaderAt, error) {
	return openMapped(filename)
}
