// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// Package symunsafe provides typed byte reinterpretation helpers for reading
// raw on-disk records into Go structs.
package symunsafe // import "github.com/kaiser2336564/elfinspect/libsym/symunsafe"

import "unsafe"

// ByteSliceFromPointer converts a Go value pointer to []byte to read data into.
// data must be a non-nil pointer to a fixed-size value (a struct or an integer).
func ByteSliceFromPointer[T any](data *T) []byte {
	return unsafe.Slice(
		(*byte)(unsafe.Pointer(data)),
		int(unsafe.Sizeof(*data)),
	)
}

// SizeOf returns the in-memory size of T in bytes.
func SizeOf[T any]() uint64 {
	var v T
	return uint64(unsafe.Sizeof(v))
}

// Read copies one T out of mem at the given byte offset. The read is bounds
// checked; ok is false if the record does not fit inside mem.
func Read[T any](mem []byte, off uint64) (v T, ok bool) {
	size := uint64(unsafe.Sizeof(v))
	if off > uint64(len(mem)) || size > uint64(len(mem))-off {
		return v, false
	}
	copy(ByteSliceFromPointer(&v), mem[off:])
	return v, true
}
