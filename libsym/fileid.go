// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

package libsym // import "github.com/kaiser2336564/elfinspect/libsym"

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	sha256 "github.com/minio/sha256-simd"
)

// FileID is a unique identifier for an executable file, derived from hashing
// portions of its contents.
type FileID [16]byte

// String returns the file ID in hexadecimal notation.
func (f FileID) String() string {
	return hex.EncodeToString(f[:])
}

// FileIDFromString parses a hexadecimal notation of a file ID into the
// internal representation.
func FileIDFromString(s string) (FileID, error) {
	var f FileID
	b, err := hex.DecodeString(s)
	if err != nil {
		return f, err
	}
	if len(b) != len(f) {
		return f, fmt.Errorf("unexpected file ID length %d", len(b))
	}
	copy(f[:], b)
	return f, nil
}

// FileIDFromExecutableReader hashes portions of the contents of the reader in
// order to generate a system-independent identifier. The file is expected to
// be an executable where header and trailer carry enough data to make the
// file unique.
//
// Hash algorithm: SHA256 of the following, truncated to 128 bits:
//  1. 4 KiB header: covers the ELF header, program headers and usually the
//     GNU build ID if present.
//  2. 4 KiB trailer: in practice covers the section headers and the contents
//     of the debug link and other trailing sections.
//  3. File length (8 bytes, big-endian). ELF files can be appended to without
//     restrictions, so length keeps such variants apart.
func FileIDFromExecutableReader(reader io.ReadSeeker) (FileID, error) {
	var id FileID
	h := sha256.New()

	if _, err := io.Copy(h, io.LimitReader(reader, 4096)); err != nil {
		return id, fmt.Errorf("failed to hash file header: %v", err)
	}

	size, err := reader.Seek(0, io.SeekEnd)
	if err != nil {
		return id, fmt.Errorf("failed to seek end of file: %v", err)
	}

	// This will double-hash some data if the file is < 8192 bytes large.
	tailBytes := min(size, 4096)
	if _, err = reader.Seek(-tailBytes, io.SeekEnd); err != nil {
		return id, fmt.Errorf("failed to seek file trailer: %v", err)
	}
	if _, err = io.Copy(h, reader); err != nil {
		return id, fmt.Errorf("failed to hash file trailer: %v", err)
	}

	lengthArray := make([]byte, 8)
	binary.BigEndian.PutUint64(lengthArray, uint64(size))
	if _, err = h.Write(lengthArray); err != nil {
		return id, fmt.Errorf("failed to hash file length: %v", err)
	}

	copy(id[:], h.Sum(nil))
	return id, nil
}

// FileIDFromExecutableFile opens an executable file and calculates its file ID.
func FileIDFromExecutableFile(fileName string) (FileID, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return FileID{}, err
	}
	defer f.Close()

	return FileIDFromExecutableReader(f)
}
