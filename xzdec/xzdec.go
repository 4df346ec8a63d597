// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// Package xzdec decompresses XZ container streams. It is the byte-in/byte-out
// decompression primitive used for embedded `.gnu_debugdata` payloads.
package xzdec // import "github.com/kaiser2336564/elfinspect/xzdec"

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// headerMagic is the 6-byte magic at the start of every XZ stream.
var headerMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// IsXZ reports whether data starts with the XZ stream header magic.
func IsXZ(data []byte) bool {
	return len(data) >= len(headerMagic) && bytes.Equal(data[:len(headerMagic)], headerMagic)
}

// Decode decompresses a complete XZ stream held in data.
func Decode(data []byte) ([]byte, error) {
	if !IsXZ(data) {
		return nil, fmt.Errorf("bad XZ header magic")
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open XZ stream: %w", err)
	}
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress XZ stream: %w", err)
	}
	return decompressed, nil
}
