// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package mmap // import "github.com/kaiser2336564/elfinspect/elfview/internal/mmap"

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func openMapped(filename string) (*ReaderAt, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &ReaderAt{data: []byte{}}, nil
	}
	if size < 0 || size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file %q has invalid size %d", filename, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: failed to map %q: %w", filename, err)
	}
	return &ReaderAt{data: data, mapped: true}, nil
}

// Close unmaps the file.
func (r *ReaderAt) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if !r.mapped {
		return nil
	}
	r.mapped = false
	return unix.Munmap(data)
}
