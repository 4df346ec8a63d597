// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

package elfview

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// The tests synthesize minimal but structurally complete ELF images in
// memory: program headers, a dynamic segment, both hash schemes, relocation
// tables and the non-dynamic symbol table. Link addresses equal file offsets
// plus the chosen bias, so with a zero bias the images can be attached in
// either mode.

type testSym struct {
	name  string
	value uint64
	size  uint64
}

type testReloc struct {
	sym     string
	off     uint64
	relType uint32
}

type elfBuilder struct {
	class      elf.Class
	machine    elf.Machine
	bias       uint64
	soname     string
	gnuHash    bool
	sysvHash   bool
	useRela    bool
	dynSyms    []testSym
	symtabSyms []testSym
	pltRelocs  []testReloc
	dynRelocs  []testReloc
	miniDebug  []byte
}

func newBuilder64() *elfBuilder {
	return &elfBuilder{
		class:    elf.ELFCLASS64,
		machine:  elf.EM_X86_64,
		gnuHash:  true,
		sysvHash: true,
		useRela:  true,
	}
}

func newBuilder32() *elfBuilder {
	return &elfBuilder{
		class:    elf.ELFCLASS32,
		machine:  elf.EM_386,
		gnuHash:  true,
		sysvHash: true,
	}
}

func (b *elfBuilder) is64() bool { return b.class == elf.ELFCLASS64 }

func (b *elfBuilder) ehdrSize() uint64 {
	if b.is64() {
		return 64
	}
	return 52
}

func (b *elfBuilder) phentsize() uint64 {
	if b.is64() {
		return 56
	}
	return 32
}

func (b *elfBuilder) shentsize() uint64 {
	if b.is64() {
		return 64
	}
	return 40
}

func (b *elfBuilder) symEntSize() uint64 {
	if b.is64() {
		return 24
	}
	return 16
}

func le(t *testing.T, w *bytes.Buffer, data any) {
	t.Helper()
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		t.Fatalf("failed to emit %T: %v", data, err)
	}
}

func (b *elfBuilder) emitSym(t *testing.T, w *bytes.Buffer, nameOff uint32, value, size uint64) {
	if b.is64() {
		le(t, w, elf.Sym64{Name: nameOff, Info: 0x12, Shndx: 1, Value: value, Size: size})
	} else {
		le(t, w, elf.Sym32{Name: nameOff, Value: uint32(value), Size: uint32(size),
			Info: 0x12, Shndx: 1})
	}
}

func (b *elfBuilder) emitDyn(t *testing.T, w *bytes.Buffer, tag elf.DynTag, val uint64) {
	if b.is64() {
		le(t, w, elf.Dyn64{Tag: int64(tag), Val: val})
	} else {
		le(t, w, elf.Dyn32{Tag: int32(tag), Val: uint32(val)})
	}
}

func (b *elfBuilder) emitReloc(t *testing.T, w *bytes.Buffer, symIdx uint32, r testReloc) {
	if b.is64() {
		info := uint64(symIdx)<<32 | uint64(r.relType)
		if b.useRela {
			le(t, w, elf.Rela64{Off: r.off, Info: info})
		} else {
			le(t, w, elf.Rel64{Off: r.off, Info: info})
		}
	} else {
		info := symIdx<<8 | r.relType&0xff
		if b.useRela {
			le(t, w, elf.Rela32{Off: uint32(r.off), Info: info})
		} else {
			le(t, w, elf.Rel32{Off: uint32(r.off), Info: info})
		}
	}
}

// strBlob builds a string table and returns it with the offset of each name.
func strBlob(names []string) ([]byte, map[string]uint32) {
	blob := []byte{0}
	offs := make(map[string]uint32, len(names))
	for _, name := range names {
		if _, ok := offs[name]; ok {
			continue
		}
		offs[name] = uint32(len(blob))
		blob = append(blob, name...)
		blob = append(blob, 0)
	}
	return blob, offs
}

type testShdr struct {
	name    string
	typ     elf.SectionType
	alloc   bool
	off     uint64
	size    uint64
	entsize uint64
}

func (b *elfBuilder) build(t *testing.T) []byte {
	t.Helper()

	dynNames := make([]string, 0, len(b.dynSyms)+1)
	for _, s := range b.dynSyms {
		dynNames = append(dynNames, s.name)
	}
	if b.soname != "" {
		dynNames = append(dynNames, b.soname)
	}
	dynstr, dynstrOffs := strBlob(dynNames)

	var dynsym bytes.Buffer
	b.emitSym(t, &dynsym, 0, 0, 0) // null symbol
	for _, s := range b.dynSyms {
		b.emitSym(t, &dynsym, dynstrOffs[s.name], s.value, s.size)
	}

	gnu := b.buildGnuHash(t)
	sysv := b.buildSysvHash(t)

	symIdx := func(name string) uint32 {
		for i, s := range b.dynSyms {
			if s.name == name {
				return uint32(i + 1)
			}
		}
		t.Fatalf("relocation references unknown dynamic symbol %q", name)
		return 0
	}
	var relplt, reldyn bytes.Buffer
	for _, r := range b.pltRelocs {
		b.emitReloc(t, &relplt, symIdx(r.sym), r)
	}
	for _, r := range b.dynRelocs {
		b.emitReloc(t, &reldyn, symIdx(r.sym), r)
	}

	var strtab []byte
	var strtabOffs map[string]uint32
	var symtab bytes.Buffer
	if len(b.symtabSyms) > 0 {
		names := make([]string, 0, len(b.symtabSyms))
		for _, s := range b.symtabSyms {
			names = append(names, s.name)
		}
		strtab, strtabOffs = strBlob(names)
		b.emitSym(t, &symtab, 0, 0, 0)
		for _, s := range b.symtabSyms {
			b.emitSym(t, &symtab, strtabOffs[s.name], s.value, s.size)
		}
	}

	// Assemble the image: headers first, then the table blobs.
	image := make([]byte, b.ehdrSize()+2*b.phentsize())
	place := func(blob []byte) uint64 {
		if pad := (8 - len(image)%8) % 8; pad != 0 {
			image = append(image, make([]byte, pad)...)
		}
		off := uint64(len(image))
		image = append(image, blob...)
		return off
	}

	dynstrOff := place(dynstr)
	dynsymOff := place(dynsym.Bytes())
	var gnuOff, sysvOff uint64
	if gnu != nil {
		gnuOff = place(gnu)
	}
	if sysv != nil {
		sysvOff = place(sysv)
	}
	var relpltOff, reldynOff uint64
	if relplt.Len() > 0 {
		relpltOff = place(relplt.Bytes())
	}
	if reldyn.Len() > 0 {
		reldynOff = place(reldyn.Bytes())
	}

	var dynamic bytes.Buffer
	if b.soname != "" {
		b.emitDyn(t, &dynamic, elf.DT_SONAME, uint64(dynstrOffs[b.soname]))
	}
	b.emitDyn(t, &dynamic, elf.DT_STRTAB, dynstrOff)
	pltRelTag := uint64(elf.DT_REL)
	if b.useRela {
		pltRelTag = uint64(elf.DT_RELA)
	}
	b.emitDyn(t, &dynamic, elf.DT_PLTREL, pltRelTag)
	if relpltOff != 0 {
		b.emitDyn(t, &dynamic, elf.DT_JMPREL, relpltOff)
		b.emitDyn(t, &dynamic, elf.DT_PLTRELSZ, uint64(relplt.Len()))
	}
	if reldynOff != 0 {
		if b.useRela {
			b.emitDyn(t, &dynamic, elf.DT_RELA, reldynOff)
			b.emitDyn(t, &dynamic, elf.DT_RELASZ, uint64(reldyn.Len()))
		} else {
			b.emitDyn(t, &dynamic, elf.DT_REL, reldynOff)
			b.emitDyn(t, &dynamic, elf.DT_RELSZ, uint64(reldyn.Len()))
		}
	}
	b.emitDyn(t, &dynamic, elf.DT_NULL, 0)
	dynamicOff := place(dynamic.Bytes())

	var symtabOff, strtabOff uint64
	if symtab.Len() > 0 {
		symtabOff = place(symtab.Bytes())
		strtabOff = place(strtab)
	}
	var miniOff uint64
	if len(b.miniDebug) > 0 {
		miniOff = place(b.miniDebug)
	}

	shdrs := []testShdr{
		{name: ".dynstr", typ: elf.SHT_STRTAB, alloc: true,
			off: dynstrOff, size: uint64(len(dynstr))},
		{name: ".dynsym", typ: elf.SHT_DYNSYM, alloc: true,
			off: dynsymOff, size: uint64(dynsym.Len()), entsize: b.symEntSize()},
	}
	if gnu != nil {
		shdrs = append(shdrs, testShdr{name: ".gnu.hash", typ: elf.SHT_GNU_HASH,
			alloc: true, off: gnuOff, size: uint64(len(gnu))})
	}
	if sysv != nil {
		shdrs = append(shdrs, testShdr{name: ".hash", typ: elf.SHT_HASH,
			alloc: true, off: sysvOff, size: uint64(len(sysv))})
	}
	if symtab.Len() > 0 {
		shdrs = append(shdrs, testShdr{name: ".symtab", typ: elf.SHT_SYMTAB,
			off: symtabOff, size: uint64(symtab.Len()), entsize: b.symEntSize()})
		shdrs = append(shdrs, testShdr{name: ".strtab", typ: elf.SHT_STRTAB,
			off: strtabOff, size: uint64(len(strtab))})
	}
	if len(b.miniDebug) > 0 {
		shdrs = append(shdrs, testShdr{name: ".gnu_debugdata", typ: elf.SHT_PROGBITS,
			off: miniOff, size: uint64(len(b.miniDebug))})
	}
	shdrs = append(shdrs, testShdr{name: ".shstrtab", typ: elf.SHT_STRTAB})

	shNames := make([]string, 0, len(shdrs))
	for _, sh := range shdrs {
		shNames = append(shNames, sh.name)
	}
	shstrtab, shstrOffs := strBlob(shNames)
	shstrOff := place(shstrtab)
	shdrs[len(shdrs)-1].off = shstrOff
	shdrs[len(shdrs)-1].size = uint64(len(shstrtab))

	var shdrBlob bytes.Buffer
	b.emitShdr(t, &shdrBlob, 0, 0, 0, 0, 0, 0) // null section
	for _, sh := range shdrs {
		addr := uint64(0)
		if sh.alloc {
			addr = sh.off + b.bias
		}
		b.emitShdr(t, &shdrBlob, shstrOffs[sh.name], sh.typ, addr, sh.off, sh.size, sh.entsize)
	}
	shoff := place(shdrBlob.Bytes())
	shnum := uint64(len(shdrs) + 1)
	shstrndx := shnum - 1

	total := uint64(len(image))
	b.emitEhdr(t, image, shoff, shnum, shstrndx)
	b.emitPhdrs(t, image, total, dynamicOff, uint64(dynamic.Len()))
	return image
}

func (b *elfBuilder) buildGnuHash(t *testing.T) []byte {
	if !b.gnuHash || len(b.dynSyms) == 0 {
		return nil
	}
	classBits := uint32(32)
	if b.is64() {
		classBits = 64
	}
	const bloomShift = 6
	var bloom uint64
	var w bytes.Buffer
	for _, s := range b.dynSyms {
		h := calcGNUHash(s.name)
		bloom |= uint64(1)<<(h%classBits) | uint64(1)<<((h>>bloomShift)%classBits)
	}
	// nbuckets=1, symoffset=1, bloomSize=1
	le(t, &w, [4]uint32{1, 1, 1, bloomShift})
	if b.is64() {
		le(t, &w, bloom)
	} else {
		le(t, &w, uint32(bloom))
	}
	le(t, &w, uint32(1)) // bucket[0]: chains start at symbol index 1
	for i, s := range b.dynSyms {
		h := calcGNUHash(s.name)
		if i == len(b.dynSyms)-1 {
			h |= 1
		} else {
			h &^= 1
		}
		le(t, &w, h)
	}
	return w.Bytes()
}

func (b *elfBuilder) buildSysvHash(t *testing.T) []byte {
	if !b.sysvHash || len(b.dynSyms) == 0 {
		return nil
	}
	nchain := uint32(len(b.dynSyms) + 1)
	var w bytes.Buffer
	le(t, &w, [2]uint32{1, nchain})
	le(t, &w, uint32(1)) // bucket[0]
	// chain: every symbol links to the next, the last one terminates
	le(t, &w, uint32(0)) // chain[0] (null symbol)
	for i := uint32(1); i < nchain; i++ {
		next := i + 1
		if next == nchain {
			next = 0
		}
		le(t, &w, next)
	}
	return w.Bytes()
}

func (b *elfBuilder) emitShdr(t *testing.T, w *bytes.Buffer, name uint32,
	typ elf.SectionType, addr, off, size, entsize uint64) {
	if b.is64() {
		le(t, w, elf.Section64{Name: name, Type: uint32(typ), Addr: addr,
			Off: off, Size: size, Addralign: 1, Entsize: entsize})
	} else {
		le(t, w, elf.Section32{Name: name, Type: uint32(typ), Addr: uint32(addr),
			Off: uint32(off), Size: uint32(size), Addralign: 1, Entsize: uint32(entsize)})
	}
}

func (b *elfBuilder) emitEhdr(t *testing.T, image []byte, shoff, shnum, shstrndx uint64) {
	var ident [16]byte
	copy(ident[:], elfMagic)
	ident[elf.EI_CLASS] = byte(b.class)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	var w bytes.Buffer
	if b.is64() {
		le(t, &w, elf.Header64{
			Ident: ident, Type: uint16(elf.ET_DYN), Machine: uint16(b.machine),
			Version: uint32(elf.EV_CURRENT), Phoff: b.ehdrSize(), Shoff: shoff,
			Ehsize: uint16(b.ehdrSize()), Phentsize: uint16(b.phentsize()), Phnum: 2,
			Shentsize: uint16(b.shentsize()), Shnum: uint16(shnum), Shstrndx: uint16(shstrndx),
		})
	} else {
		le(t, &w, elf.Header32{
			Ident: ident, Type: uint16(elf.ET_DYN), Machine: uint16(b.machine),
			Version: uint32(elf.EV_CURRENT), Phoff: uint32(b.ehdrSize()), Shoff: uint32(shoff),
			Ehsize: uint16(b.ehdrSize()), Phentsize: uint16(b.phentsize()), Phnum: 2,
			Shentsize: uint16(b.shentsize()), Shnum: uint16(shnum), Shstrndx: uint16(shstrndx),
		})
	}
	copy(image, w.Bytes())
}

func (b *elfBuilder) emitPhdrs(t *testing.T, image []byte, total, dynOff, dynSize uint64) {
	var w bytes.Buffer
	if b.is64() {
		le(t, &w, elf.Prog64{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X),
			Vaddr: b.bias, Filesz: total, Memsz: total, Align: 1})
		le(t, &w, elf.Prog64{Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R),
			Off: dynOff, Vaddr: dynOff + b.bias, Filesz: dynSize, Memsz: dynSize, Align: 1})
	} else {
		le(t, &w, elf.Prog32{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X),
			Vaddr: uint32(b.bias), Filesz: uint32(total), Memsz: uint32(total), Align: 1})
		le(t, &w, elf.Prog32{Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R),
			Off: uint32(dynOff), Vaddr: uint32(dynOff + b.bias),
			Filesz: uint32(dynSize), Memsz: uint32(dynSize), Align: 1})
	}
	copy(image[b.ehdrSize():], w.Bytes())
}
