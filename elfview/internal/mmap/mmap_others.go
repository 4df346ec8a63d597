// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package mmap // import "github.com/kaiser2336564/elfinspect/elfview/internal/mmap"

import "os"

// Fallback for platforms without a wired mmap implementation: read the whole
// file into memory. The ReaderAt contract is unchanged.
func openMapped(filename string) (*ReaderAt, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return &ReaderAt{data: data}, nil
}

// Close releases the file content.
func (r *ReaderAt) Close() error {
	r.data = nil
	return nil
}
