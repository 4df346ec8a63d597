// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// package elfview implements a read-only inspection surface over ELF images:
// it resolves symbol names and their GOT/PLT relocation sites against either
// a raw on-disk ELF file or the same ELF as it currently appears in a running
// process's address space, and merges the symbols of the embedded
// XZ-compressed mini debug info (`.gnu_debugdata`) into the lookup surface.
//
// The offsets returned by the query surface are file-relative (st_value minus
// the load bias); callers use them to locate code and data in mapped images,
// so correctness is load bearing.
//
// The DT_GNU_HASH lookup scheme is described at:
//   https://flapenguin.me/elf-dt-gnu-hash

package elfview // import "github.com/kaiser2336564/elfinspect/elfview"

import (
	"bytes"
	"debug/elf"
	"errors"
	"io"

	"github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"

	"github.com/kaiser2336564/elfinspect/elfview/internal/mmap"
	"github.com/kaiser2336564/elfinspect/libsym"
)

// symbolCacheSize bounds the per-view cache of resolved symbol offsets.
const symbolCacheSize = 512

// ErrNotAttached is returned by the convenience surface when no valid ELF is
// attached. The query surface never returns errors; it reports absence with
// zero values instead.
var ErrNotAttached = errors.New("no valid ELF attached")

// View is a read-only view over one ELF image. A view is created empty,
// attached to at most one image at a time and then queried. The attached
// byte slice is borrowed: the view never mutates it and the owner must keep
// it alive for the lifetime of the view.
//
// A fully attached view is safe for concurrent readers; attach and detach
// must not race with queries.
type View struct {
	mem    []byte
	loaded bool
	info   *elfInfo

	// closer unmaps the file mapping for views created via Open.
	closer io.Closer

	// symCache caches name to offset resolutions, including misses.
	symCache *freelru.SyncedLRU[string, uint64]
}

// NewView returns an empty view. Use AttachFileMapping or AttachLoadedMemory
// to bind it to an ELF image.
func NewView() *View {
	return &View{info: &elfInfo{class: elf.ELFCLASSNONE}}
}

// Open memory-maps the named file and attaches it in file mode. The returned
// view owns the mapping; release it with Close.
func Open(name string) (*View, error) {
	r, err := mmap.Open(name)
	if err != nil {
		return nil, err
	}
	v := NewView()
	v.AttachFileMapping(r.Data())
	v.closer = r
	return v, nil
}

// AttachFileMapping attaches the content of an ELF file as read from disk.
// Tables are located through their file offsets. Any previously attached
// image is detached first. An input that fails the ELF magic check leaves
// the view attached but invalid: IsValid reports false and all queries
// report absence.
func (v *View) AttachFileMapping(fileMap []byte) {
	v.Detach()
	v.mem = fileMap
	v.loaded = false
	v.info = parseImage(fileMap, false)
	if len(v.info.miniDebugInfo) != 0 {
		v.parseMiniDebugInfo(v.info.miniDebugInfo)
	}
	v.resetSymbolCache()
}

// AttachLoadedMemory attaches an ELF as it appears mapped in a process's
// address space. Tables are located through their load addresses. The mini
// debug info is not ingested: the `.gnu_debugdata` section is not loaded
// into process images.
func (v *View) AttachLoadedMemory(memory []byte) {
	v.Detach()
	v.mem = memory
	v.loaded = true
	v.info = parseImage(memory, true)
	v.resetSymbolCache()
}

// Detach returns the view to the empty state and releases the file mapping
// if the view owns one.
func (v *View) Detach() {
	if v.closer != nil {
		_ = v.closer.Close()
		v.closer = nil
	}
	v.mem = nil
	v.loaded = false
	v.info = &elfInfo{class: elf.ELFCLASSNONE}
	v.symCache = nil
}

// Close detaches the view. It exists so views obtained from Open satisfy the
// usual Close contract.
func (v *View) Close() error {
	v.Detach()
	return nil
}

// IsValid reports whether an ELF image is attached and was parsed.
func (v *View) IsValid() bool {
	return len(v.mem) != 0 && v.info.class != elf.ELFCLASSNONE
}

// PointerSize returns the pointer width of the attached image in bytes,
// 4 or 8, or 0 when no valid image is attached.
func (v *View) PointerSize() int {
	if !v.IsValid() {
		return 0
	}
	switch v.info.class {
	case elf.ELFCLASS32:
		return 4
	case elf.ELFCLASS64:
		return 8
	default:
		return 0
	}
}

// Architecture returns the ELF machine code of the attached image, or 0 when
// no valid image is attached.
func (v *View) Architecture() elf.Machine {
	if !v.IsValid() {
		return 0
	}
	return v.info.machine
}

// LoadBias returns the load bias of the attached image: the smallest p_vaddr
// among its PT_LOAD segments. Typically you don't need this value.
func (v *View) LoadBias() uint64 {
	return v.info.loadBias
}

// LoadedSize returns the size of the loaded image in memory.
func (v *View) LoadedSize() uint64 {
	return v.info.loadedSize
}

// Soname returns the DT_SONAME of the attached image, may be empty.
func (v *View) Soname() string {
	return v.info.soname
}

// FileID calculates the executable identity hash of the attached image.
func (v *View) FileID() (libsym.FileID, error) {
	if !v.IsValid() {
		return libsym.FileID{}, ErrNotAttached
	}
	return libsym.FileIDFromExecutableReader(bytes.NewReader(v.mem))
}

func hashString(s string) uint32 {
	return uint32(xxh3.HashString(s))
}

func (v *View) resetSymbolCache() {
	cache, err := freelru.NewSynced[string, uint64](symbolCacheSize, hashString)
	if err != nil {
		// Resolution stays correct without the cache.
		v.symCache = nil
		return
	}
	v.symCache = cache
}
