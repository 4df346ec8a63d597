// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements the image parser: a single pass over the ELF headers,
// the dynamic section and the section headers that records where every table
// of interest lives inside the attached slice. Tables are stored as byte
// offsets into the slice, never as pointers, and their counts are clamped so
// that later queries cannot read past the end of the slice.

package elfview // import "github.com/kaiser2336564/elfinspect/elfview"

import (
	"bytes"
	"debug/elf"

	log "github.com/sirupsen/logrus"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// elfInfo is the parsed descriptor of one ELF image. It is populated once by
// parseImage and immutable afterwards. All table fields are byte offsets into
// the attached slice; zero means the table is absent.
type elfInfo struct {
	class   elf.Class
	lo      layout
	machine elf.Machine
	soname  string

	// loadBias is the smallest p_vaddr among all PT_LOAD segments.
	loadBias uint64
	// loadedSize is max(p_vaddr+p_memsz) - loadBias across PT_LOAD.
	loadedSize uint64

	sysvHash    uint64
	sysvNBucket uint32
	sysvNChain  uint32
	sysvBucket  uint64
	sysvChain   uint64

	gnuHash uint64

	symtab      uint64
	symtabCount uint64
	strtab      uint64

	dynsym      uint64
	dynsymCount uint64
	dynstr      uint64

	useRela      bool
	reldyn       uint64
	reldynCount  uint64
	reladyn      uint64
	reladynCount uint64
	relplt       uint64
	relpltCount  uint64

	// miniDebugInfo is the raw `.gnu_debugdata` content; only recorded for
	// file mode attaches, the section is not loaded into process images.
	miniDebugInfo []byte

	// debugSymbols maps a symbol name from the decompressed mini debug info
	// to its raw st_value. Last write wins on duplicate names.
	debugSymbols map[string]uint64
}

// parseImage parses the ELF image in mem. loaded selects whether tables are
// located through their load addresses (process image) or their file offsets
// (on-disk image). The returned elfInfo has class ELFCLASSNONE when mem is
// not a parseable ELF; it is never nil.
func parseImage(mem []byte, loaded bool) *elfInfo {
	info := &elfInfo{class: elf.ELFCLASSNONE}
	if len(mem) < 64 || !bytes.Equal(mem[:4], elfMagic) {
		return info
	}
	lo := layoutFor(elf.Class(mem[elf.EI_CLASS]))
	if lo == nil {
		return info
	}
	info.class = lo.class()
	info.lo = lo
	initElfInfo(lo, mem, info, loaded)
	return info
}

// tableBase selects the slice-relative base of a section's content: its load
// address for process images, its file offset for on-disk images.
func tableBase(sh *sectionHeader, loaded bool) uint64 {
	if loaded {
		return sh.addr
	}
	return sh.off
}

func initElfInfo(lo layout, mem []byte, info *elfInfo, loaded bool) {
	hdr, ok := lo.ehdr(mem)
	if !ok {
		return
	}
	info.machine = hdr.machine

	var dynPhdr *progHeader
	if hdr.phoff != 0 && hdr.phentsize != 0 {
		firstLoadStart := ^uint64(0)
		lastLoadEnd := uint64(0)
		for i := uint64(0); i < hdr.phnum; i++ {
			ph, ok := lo.phdr(mem, hdr.phoff+i*hdr.phentsize)
			if !ok {
				break
			}
			switch ph.typ {
			case elf.PT_DYNAMIC:
				dynPhdr = &ph
			case elf.PT_LOAD:
				if ph.vaddr < firstLoadStart {
					firstLoadStart = ph.vaddr
				}
				if ph.vaddr+ph.memsz > lastLoadEnd {
					lastLoadEnd = ph.vaddr + ph.memsz
				}
			}
		}
		if firstLoadStart != ^uint64(0) {
			info.loadBias = firstLoadStart
			info.loadedSize = lastLoadEnd - firstLoadStart
		}
	}

	if dynPhdr != nil {
		parseDynamic(lo, mem, info, dynPhdr, loaded)
	}

	if hdr.shoff != 0 && hdr.shentsize != 0 && hdr.shstrndx < hdr.shnum {
		parseSections(lo, mem, info, &hdr, loaded)
	}

	clampTables(lo, mem, info)
}

func parseDynamic(lo layout, mem []byte, info *elfInfo, dynPhdr *progHeader, loaded bool) {
	base := dynPhdr.off
	if loaded {
		base = dynPhdr.vaddr
	}
	var sonameOff, strtabOff uint64
	var reldynSz, reladynSz, pltRelSz uint64
	count := dynPhdr.memsz / lo.dynSize()
	for i := uint64(0); i < count; i++ {
		dyn, ok := lo.dyn(mem, base+i*lo.dynSize())
		if !ok {
			break
		}
		// The dynamic tag payloads below are raw slice-relative positions:
		// on-disk they are link-time addresses that coincide with file
		// offsets for the segments holding these tables, in a process image
		// they are the mapped addresses.
		switch elf.DynTag(dyn.tag) {
		case elf.DT_SONAME:
			sonameOff = dyn.val
		case elf.DT_STRTAB:
			strtabOff = dyn.val
			info.dynstr = dyn.val
		case elf.DT_PLTREL:
			info.useRela = dyn.val == uint64(elf.DT_RELA)
		case elf.DT_REL:
			info.reldyn = dyn.val
		case elf.DT_RELA:
			info.reladyn = dyn.val
		case elf.DT_RELSZ:
			reldynSz = dyn.val
		case elf.DT_RELASZ:
			reladynSz = dyn.val
		case elf.DT_JMPREL:
			info.relplt = dyn.val
		case elf.DT_PLTRELSZ:
			pltRelSz = dyn.val
		default:
			// ignore, including DT_NULL: the walk is bounded by p_memsz
		}
	}

	info.reldynCount = reldynSz / lo.relSize()
	info.reladynCount = reladynSz / lo.relaSize()
	// DT_PLTREL may come after DT_PLTRELSZ, so the element size matching
	// use_rela can only be applied once the whole section has been walked.
	pltEntSize := lo.relSize()
	if info.useRela {
		pltEntSize = lo.relaSize()
	}
	info.relpltCount = pltRelSz / pltEntSize

	if sonameOff != 0 && strtabOff != 0 {
		if soname, ok := getString(mem, strtabOff+sonameOff); ok {
			info.soname = soname
		}
	}
}

func parseSections(lo layout, mem []byte, info *elfInfo, hdr *fileHeader, loaded bool) {
	shstr, ok := lo.shdr(mem, hdr.shoff+hdr.shstrndx*hdr.shentsize)
	if !ok {
		return
	}
	shstrBase := tableBase(&shstr, loaded)
	for i := uint64(0); i < hdr.shnum; i++ {
		sh, ok := lo.shdr(mem, hdr.shoff+i*hdr.shentsize)
		if !ok {
			break
		}
		name, _ := getString(mem, shstrBase+uint64(sh.nameIdx))
		base := tableBase(&sh, loaded)
		if base == 0 {
			// Not loaded (non-alloc section in a process image); treat as absent.
			continue
		}
		switch sh.typ {
		case elf.SHT_STRTAB:
			switch name {
			case ".dynstr":
				info.dynstr = base
			case ".strtab":
				info.strtab = base
			}
		case elf.SHT_SYMTAB:
			if name == ".symtab" {
				info.symtab = base
				info.symtabCount = sh.size / lo.symSize()
			}
		case elf.SHT_DYNSYM:
			info.dynsym = base
			info.dynsymCount = sh.size / lo.symSize()
		case elf.SHT_HASH:
			parseSysvHash(mem, info, base)
		case elf.SHT_GNU_HASH:
			info.gnuHash = base
		case elf.SHT_PROGBITS:
			if name == ".gnu_debugdata" && !loaded {
				if sh.off <= uint64(len(mem)) && sh.size <= uint64(len(mem))-sh.off {
					info.miniDebugInfo = mem[sh.off : sh.off+sh.size]
				}
			}
		}
	}
}

// parseSysvHash records the SysV hash table layout: two 32-bit words nbucket
// and nchain, followed by the bucket and chain arrays.
func parseSysvHash(mem []byte, info *elfInfo, base uint64) {
	hdr, ok := read2x32(mem, base)
	if !ok {
		return
	}
	nbucket, nchain := hdr[0], hdr[1]
	bucket := base + 8
	chain := bucket + 4*uint64(nbucket)
	end := chain + 4*uint64(nchain)
	if end > uint64(len(mem)) {
		log.Debugf("SysV hash table at 0x%x truncated (%d buckets, %d chain)",
			base, nbucket, nchain)
		return
	}
	info.sysvHash = base
	info.sysvNBucket = nbucket
	info.sysvNChain = nchain
	info.sysvBucket = bucket
	info.sysvChain = chain
}

// clampTables truncates table element counts so that every table lies fully
// inside the attached slice. Queries are bounds checked individually as well;
// the clamping keeps malformed images from producing absurd iteration counts.
func clampTables(lo layout, mem []byte, info *elfInfo) {
	clamp := func(what string, base uint64, count *uint64, elemSize uint64) {
		if base == 0 || *count == 0 {
			*count = 0
			return
		}
		var avail uint64
		if base < uint64(len(mem)) {
			avail = (uint64(len(mem)) - base) / elemSize
		}
		if *count > avail {
			log.Debugf("%s table at 0x%x truncated from %d to %d entries",
				what, base, *count, avail)
			*count = avail
		}
	}
	clamp("symtab", info.symtab, &info.symtabCount, lo.symSize())
	clamp("dynsym", info.dynsym, &info.dynsymCount, lo.symSize())
	clamp("reldyn", info.reldyn, &info.reldynCount, lo.relSize())
	clamp("reladyn", info.reladyn, &info.reladynCount, lo.relaSize())
	pltEntSize := lo.relSize()
	if info.useRela {
		pltEntSize = lo.relaSize()
	}
	clamp("relplt", info.relplt, &info.relpltCount, pltEntSize)
}

// read2x32 reads two consecutive 32-bit words.
func read2x32(mem []byte, off uint64) ([2]uint32, bool) {
	a, ok := readU32(mem, off)
	if !ok {
		return [2]uint32{}, false
	}
	b, ok := readU32(mem, off+4)
	if !ok {
		return [2]uint32{}, false
	}
	return [2]uint32{a, b}, true
}

// getString extracts a null terminated string from an ELF string table.
func getString(mem []byte, start uint64) (string, bool) {
	if start >= uint64(len(mem)) {
		return "", false
	}
	slen := bytes.IndexByte(mem[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(mem[start : start+uint64(slen)]), true
}
