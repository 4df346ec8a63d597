// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// package elfview implements a read-only inspection surface over ELF images.
// This file implements the width dispatch: the 32-bit and 64-bit on-disk
// layouts are field-incompatible, so all record access goes through a small
// per-class lens that rehydrates typed records from byte offsets.

package elfview // import "github.com/kaiser2336564/elfinspect/elfview"

import (
	"debug/elf"

	"github.com/kaiser2336564/elfinspect/libsym/symunsafe"
)

// fileHeader is the class-independent subset of the ELF file header used by
// the image parser.
type fileHeader struct {
	machine   elf.Machine
	phoff     uint64
	phentsize uint64
	phnum     uint64
	shoff     uint64
	shentsize uint64
	shnum     uint64
	shstrndx  uint64
}

// progHeader is the class-independent view of one program header.
type progHeader struct {
	typ    elf.ProgType
	off    uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

// sectionHeader is the class-independent view of one section header.
type sectionHeader struct {
	nameIdx uint32
	typ     elf.SectionType
	addr    uint64
	off     uint64
	size    uint64
}

// dynEntry is one entry of the dynamic section.
type dynEntry struct {
	tag int64
	val uint64
}

// symEntry is the class-independent view of one symbol table entry.
type symEntry struct {
	nameIdx uint32
	value   uint64
	size    uint64
}

// relocEntry is one relocation record with r_info already decomposed into
// the symbol index and relocation type using the width-specific rules.
type relocEntry struct {
	off     uint64
	symIdx  uint32
	relType uint32
}

// layout reads typed ELF records of one class out of a byte slice. All reads
// are bounds checked and report ok=false when the record does not fit.
type layout interface {
	class() elf.Class
	// bits is the class width in bits; it is also the width of one GNU hash
	// bloom filter word.
	bits() uint32
	dynSize() uint64
	symSize() uint64
	relSize() uint64
	relaSize() uint64
	ehdr(mem []byte) (fileHeader, bool)
	phdr(mem []byte, off uint64) (progHeader, bool)
	shdr(mem []byte, off uint64) (sectionHeader, bool)
	dyn(mem []byte, off uint64) (dynEntry, bool)
	sym(mem []byte, base uint64, ndx uint32) (symEntry, bool)
	rel(mem []byte, base uint64, ndx uint64) (relocEntry, bool)
	rela(mem []byte, base uint64, ndx uint64) (relocEntry, bool)
	bloomWord(mem []byte, base uint64, ndx uint32) (uint64, bool)
}

type layout32 struct{}
type layout64 struct{}

func layoutFor(class elf.Class) layout {
	switch class {
	case elf.ELFCLASS32:
		return layout32{}
	case elf.ELFCLASS64:
		return layout64{}
	default:
		return nil
	}
}

func (layout32) class() elf.Class { return elf.ELFCLASS32 }
func (layout32) bits() uint32     { return 32 }
func (layout32) dynSize() uint64  { return symunsafe.SizeOf[elf.Dyn32]() }
func (layout32) symSize() uint64  { return symunsafe.SizeOf[elf.Sym32]() }
func (layout32) relSize() uint64  { return symunsafe.SizeOf[elf.Rel32]() }
func (layout32) relaSize() uint64 { return symunsafe.SizeOf[elf.Rela32]() }

func (layout32) ehdr(mem []byte) (fileHeader, bool) {
	h, ok := symunsafe.Read[elf.Header32](mem, 0)
	if !ok {
		return fileHeader{}, false
	}
	return fileHeader{
		machine:   elf.Machine(h.Machine),
		phoff:     uint64(h.Phoff),
		phentsize: uint64(h.Phentsize),
		phnum:     uint64(h.Phnum),
		shoff:     uint64(h.Shoff),
		shentsize: uint64(h.Shentsize),
		shnum:     uint64(h.Shnum),
		shstrndx:  uint64(h.Shstrndx),
	}, true
}

func (layout32) phdr(mem []byte, off uint64) (progHeader, bool) {
	p, ok := symunsafe.Read[elf.Prog32](mem, off)
	if !ok {
		return progHeader{}, false
	}
	return progHeader{
		typ:    elf.ProgType(p.Type),
		off:    uint64(p.Off),
		vaddr:  uint64(p.Vaddr),
		filesz: uint64(p.Filesz),
		memsz:  uint64(p.Memsz),
	}, true
}

func (layout32) shdr(mem []byte, off uint64) (sectionHeader, bool) {
	s, ok := symunsafe.Read[elf.Section32](mem, off)
	if !ok {
		return sectionHeader{}, false
	}
	return sectionHeader{
		nameIdx: s.Name,
		typ:     elf.SectionType(s.Type),
		addr:    uint64(s.Addr),
		off:     uint64(s.Off),
		size:    uint64(s.Size),
	}, true
}

func (layout32) dyn(mem []byte, off uint64) (dynEntry, bool) {
	d, ok := symunsafe.Read[elf.Dyn32](mem, off)
	if !ok {
		return dynEntry{}, false
	}
	return dynEntry{tag: int64(d.Tag), val: uint64(d.Val)}, true
}

func (lo layout32) sym(mem []byte, base uint64, ndx uint32) (symEntry, bool) {
	s, ok := symunsafe.Read[elf.Sym32](mem, base+uint64(ndx)*lo.symSize())
	if !ok {
		return symEntry{}, false
	}
	return symEntry{nameIdx: s.Name, value: uint64(s.Value), size: uint64(s.Size)}, true
}

func (lo layout32) rel(mem []byte, base uint64, ndx uint64) (relocEntry, bool) {
	r, ok := symunsafe.Read[elf.Rel32](mem, base+ndx*lo.relSize())
	if !ok {
		return relocEntry{}, false
	}
	return relocEntry{
		off:     uint64(r.Off),
		symIdx:  elf.R_SYM32(r.Info),
		relType: uint32(elf.R_TYPE32(r.Info)),
	}, true
}

func (lo layout32) rela(mem []byte, base uint64, ndx uint64) (relocEntry, bool) {
	r, ok := symunsafe.Read[elf.Rela32](mem, base+ndx*lo.relaSize())
	if !ok {
		return relocEntry{}, false
	}
	return relocEntry{
		off:     uint64(r.Off),
		symIdx:  elf.R_SYM32(r.Info),
		relType: uint32(elf.R_TYPE32(r.Info)),
	}, true
}

func (layout32) bloomWord(mem []byte, base uint64, ndx uint32) (uint64, bool) {
	w, ok := symunsafe.Read[uint32](mem, base+uint64(ndx)*4)
	return uint64(w), ok
}

func (layout64) class() elf.Class { return elf.ELFCLASS64 }
func (layout64) bits() uint32     { return 64 }
func (layout64) dynSize() uint64  { return symunsafe.SizeOf[elf.Dyn64]() }
func (layout64) symSize() uint64  { return symunsafe.SizeOf[elf.Sym64]() }
func (layout64) relSize() uint64  { return symunsafe.SizeOf[elf.Rel64]() }
func (layout64) relaSize() uint64 { return symunsafe.SizeOf[elf.Rela64]() }

func (layout64) ehdr(mem []byte) (fileHeader, bool) {
	h, ok := symunsafe.Read[elf.Header64](mem, 0)
	if !ok {
		return fileHeader{}, false
	}
	return fileHeader{
		machine:   elf.Machine(h.Machine),
		phoff:     h.Phoff,
		phentsize: uint64(h.Phentsize),
		phnum:     uint64(h.Phnum),
		shoff:     h.Shoff,
		shentsize: uint64(h.Shentsize),
		shnum:     uint64(h.Shnum),
		shstrndx:  uint64(h.Shstrndx),
	}, true
}

func (layout64) phdr(mem []byte, off uint64) (progHeader, bool) {
	p, ok := symunsafe.Read[elf.Prog64](mem, off)
	if !ok {
		return progHeader{}, false
	}
	return progHeader{
		typ:    elf.ProgType(p.Type),
		off:    p.Off,
		vaddr:  p.Vaddr,
		filesz: p.Filesz,
		memsz:  p.Memsz,
	}, true
}

func (layout64) shdr(mem []byte, off uint64) (sectionHeader, bool) {
	s, ok := symunsafe.Read[elf.Section64](mem, off)
	if !ok {
		return sectionHeader{}, false
	}
	return sectionHeader{
		nameIdx: s.Name,
		typ:     elf.SectionType(s.Type),
		addr:    s.Addr,
		off:     s.Off,
		size:    s.Size,
	}, true
}

func (layout64) dyn(mem []byte, off uint64) (dynEntry, bool) {
	d, ok := symunsafe.Read[elf.Dyn64](mem, off)
	if !ok {
		return dynEntry{}, false
	}
	return dynEntry{tag: d.Tag, val: d.Val}, true
}

func (lo layout64) sym(mem []byte, base uint64, ndx uint32) (symEntry, bool) {
	s, ok := symunsafe.Read[elf.Sym64](mem, base+uint64(ndx)*lo.symSize())
	if !ok {
		return symEntry{}, false
	}
	return symEntry{nameIdx: s.Name, value: s.Value, size: s.Size}, true
}

func (lo layout64) rel(mem []byte, base uint64, ndx uint64) (relocEntry, bool) {
	r, ok := symunsafe.Read[elf.Rel64](mem, base+ndx*lo.relSize())
	if !ok {
		return relocEntry{}, false
	}
	return relocEntry{
		off:     r.Off,
		symIdx:  elf.R_SYM64(r.Info),
		relType: elf.R_TYPE64(r.Info),
	}, true
}

func (lo layout64) rela(mem []byte, base uint64, ndx uint64) (relocEntry, bool) {
	r, ok := symunsafe.Read[elf.Rela64](mem, base+ndx*lo.relaSize())
	if !ok {
		return relocEntry{}, false
	}
	return relocEntry{
		off:     r.Off,
		symIdx:  elf.R_SYM64(r.Info),
		relType: elf.R_TYPE64(r.Info),
	}, true
}

func (layout64) bloomWord(mem []byte, base uint64, ndx uint32) (uint64, bool) {
	return symunsafe.Read[uint64](mem, base+uint64(ndx)*8)
}
