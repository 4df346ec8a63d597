// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements symbol resolution. A name is probed in order through
// the GNU hash table, the SysV hash table, a linear `.dynsym` scan, a linear
// `.symtab` scan and finally the mini debug info symbols. All offsets
// returned to callers are st_value minus the load bias.

package elfview // import "github.com/kaiser2336564/elfinspect/elfview"

import (
	"fmt"
	"strings"

	"github.com/kaiser2336564/elfinspect/libsym"
	"github.com/kaiser2336564/elfinspect/libsym/symunsafe"
)

// calcGNUHash calculates a GNU symbol hash (djb2 without the xor variant).
func calcGNUHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h += h*32 + uint32(name[i])
	}
	return h
}

// calcSysvHash calculates a SysV symbol hash. Refer to ELF spec, part 2
// "Hash Table".
func calcSysvHash(name string) uint32 {
	var h, g uint32
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		g = h & 0xf0000000
		h ^= g
		h ^= g >> 24
	}
	return h
}

func readU32(mem []byte, off uint64) (uint32, bool) {
	return symunsafe.Read[uint32](mem, off)
}

// dynSymName returns the name of the dynamic symbol table entry ndx.
func dynSymName(lo layout, mem []byte, info *elfInfo, ndx uint32) (string, bool) {
	sym, ok := lo.sym(mem, info.dynsym, ndx)
	if !ok {
		return "", false
	}
	return getString(mem, info.dynstr+uint64(sym.nameIdx))
}

// gnuHashLookup probes the GNU hash table. The boolean result reports a
// definitive hit; on a miss resolution continues with the next probe.
func gnuHashLookup(lo layout, mem []byte, info *elfInfo, name string) (symEntry, uint32, bool) {
	base := info.gnuHash
	nbuckets, ok := readU32(mem, base)
	if !ok || nbuckets == 0 {
		return symEntry{}, 0, false
	}
	symOffset, _ := readU32(mem, base+4)
	bloomSize, _ := readU32(mem, base+8)
	bloomShift, _ := readU32(mem, base+12)
	if bloomSize == 0 {
		return symEntry{}, 0, false
	}

	classBits := lo.bits()
	wordSize := uint64(classBits / 8)
	h := calcGNUHash(name)

	// Check the bloom filter first: if at least one bit is not set, the
	// symbol is surely missing.
	bloomBase := base + 16
	word, ok := lo.bloomWord(mem, bloomBase, (h/classBits)%bloomSize)
	if !ok {
		return symEntry{}, 0, false
	}
	mask := uint64(1)<<(h%classBits) | uint64(1)<<((h>>bloomShift)%classBits)
	if word&mask != mask {
		return symEntry{}, 0, false
	}

	bucketsBase := bloomBase + uint64(bloomSize)*wordSize
	symix, ok := readU32(mem, bucketsBase+4*uint64(h%nbuckets))
	if !ok || symix < symOffset {
		// Symbols below symOffset are not in the hash chain.
		return symEntry{}, 0, false
	}

	chainBase := bucketsBase + 4*uint64(nbuckets)
	for uint64(symix) < info.dynsymCount {
		chainVal, ok := readU32(mem, chainBase+4*uint64(symix-symOffset))
		if !ok {
			break
		}
		if h|1 == chainVal|1 {
			if symName, ok := dynSymName(lo, mem, info, symix); ok && symName == name {
				sym, _ := lo.sym(mem, info.dynsym, symix)
				return sym, symix, true
			}
		}
		// The chain ends with an entry that has the lowest bit set.
		if chainVal&1 != 0 {
			break
		}
		symix++
	}
	return symEntry{}, 0, false
}

// sysvHashLookup probes the SysV hash table.
func sysvHashLookup(lo layout, mem []byte, info *elfInfo, name string) (symEntry, uint32, bool) {
	if info.sysvNBucket == 0 {
		return symEntry{}, 0, false
	}
	h := calcSysvHash(name)
	ndx, ok := readU32(mem, info.sysvBucket+4*uint64(h%info.sysvNBucket))
	if !ok {
		return symEntry{}, 0, false
	}
	// The chain is acyclic in well-formed tables; cap the walk anyway.
	for steps := uint32(0); steps <= info.sysvNChain; steps++ {
		if symName, ok := dynSymName(lo, mem, info, ndx); ok && symName == name {
			sym, ok := lo.sym(mem, info.dynsym, ndx)
			if !ok {
				return symEntry{}, 0, false
			}
			return sym, ndx, true
		}
		ndx, ok = readU32(mem, info.sysvChain+4*uint64(ndx))
		if !ok || ndx == 0 {
			break
		}
	}
	return symEntry{}, 0, false
}

// dynamicSymbol resolves a name to its `.dynsym` entry and index, probing the
// GNU hash, the SysV hash, and finally the whole table linearly.
func (v *View) dynamicSymbol(name string) (symEntry, uint32, bool) {
	info := v.info
	lo := info.lo
	if lo == nil || info.dynsym == 0 || info.dynstr == 0 {
		return symEntry{}, 0, false
	}
	if info.gnuHash != 0 {
		if sym, ndx, ok := gnuHashLookup(lo, v.mem, info, name); ok {
			return sym, ndx, true
		}
	}
	if info.sysvHash != 0 {
		if sym, ndx, ok := sysvHashLookup(lo, v.mem, info, name); ok {
			return sym, ndx, true
		}
	}
	// Still not found: search the whole dynsym.
	for i := uint64(0); i < info.dynsymCount; i++ {
		if symName, ok := dynSymName(lo, v.mem, info, uint32(i)); ok && symName == name {
			sym, ok := lo.sym(v.mem, info.dynsym, uint32(i))
			if !ok {
				break
			}
			return sym, uint32(i), true
		}
	}
	return symEntry{}, 0, false
}

// nonDynamicSymbol scans `.symtab` linearly for an exact name match.
func (v *View) nonDynamicSymbol(name string) (symEntry, bool) {
	info := v.info
	lo := info.lo
	if lo == nil || info.symtab == 0 || info.strtab == 0 {
		return symEntry{}, false
	}
	for i := uint64(0); i < info.symtabCount; i++ {
		sym, ok := lo.sym(v.mem, info.symtab, uint32(i))
		if !ok {
			break
		}
		symName, ok := getString(v.mem, info.strtab+uint64(sym.nameIdx))
		if ok && symName == name {
			return sym, true
		}
	}
	return symEntry{}, false
}

// SymbolOffset resolves a symbol name to its file-relative offset, probing
// the dynamic symbol hash tables, the dynamic and non-dynamic symbol tables
// and finally the mini debug info symbols. Zero signals "not found"; a
// symbol whose st_value equals the load bias is indistinguishable from a
// missing one by design.
func (v *View) SymbolOffset(name string) uint64 {
	if name == "" || !v.IsValid() {
		return 0
	}
	if v.symCache != nil {
		if offset, ok := v.symCache.Get(name); ok {
			return offset
		}
	}
	offset := v.symbolOffset(name)
	if v.symCache != nil {
		v.symCache.Add(name, offset)
	}
	return offset
}

func (v *View) symbolOffset(name string) uint64 {
	info := v.info
	if sym, _, ok := v.dynamicSymbol(name); ok {
		return sym.value - info.loadBias
	}
	if sym, ok := v.nonDynamicSymbol(name); ok {
		return sym.value - info.loadBias
	}
	if value, ok := info.debugSymbols[name]; ok {
		return value - info.loadBias
	}
	return 0
}

// FirstSymbolOffsetWithPrefix returns the file-relative offset of the first
// symbol whose name starts with the given prefix. Only the linear tables can
// answer prefix queries, so `.dynsym`, `.symtab` and the mini debug info
// symbols are scanned in that order. The mini debug info symbols are kept in
// a map, so when several of them match, which one is returned is not defined.
// Zero signals "not found".
func (v *View) FirstSymbolOffsetWithPrefix(prefix string) uint64 {
	if prefix == "" || !v.IsValid() {
		return 0
	}
	info := v.info
	lo := info.lo
	if info.dynsym != 0 && info.dynstr != 0 {
		for i := uint64(0); i < info.dynsymCount; i++ {
			sym, ok := lo.sym(v.mem, info.dynsym, uint32(i))
			if !ok {
				break
			}
			symName, ok := getString(v.mem, info.dynstr+uint64(sym.nameIdx))
			if ok && strings.HasPrefix(symName, prefix) {
				return sym.value - info.loadBias
			}
		}
	}
	if info.symtab != 0 && info.strtab != 0 {
		for i := uint64(0); i < info.symtabCount; i++ {
			sym, ok := lo.sym(v.mem, info.symtab, uint32(i))
			if !ok {
				break
			}
			symName, ok := getString(v.mem, info.strtab+uint64(sym.nameIdx))
			if ok && strings.HasPrefix(symName, prefix) {
				return sym.value - info.loadBias
			}
		}
	}
	for name, value := range info.debugSymbols {
		if strings.HasPrefix(name, prefix) {
			return value - info.loadBias
		}
	}
	return 0
}

// DemangledSymbolOffset resolves a symbol by its demangled (human readable)
// name, scanning `.dynsym` and `.symtab` linearly. Useful for locating C++
// functions by their pretty form. Zero signals "not found".
func (v *View) DemangledSymbolOffset(name string) uint64 {
	if name == "" || !v.IsValid() {
		return 0
	}
	info := v.info
	lo := info.lo
	scan := func(table, count, strBase uint64) (uint64, bool) {
		for i := uint64(0); i < count; i++ {
			sym, ok := lo.sym(v.mem, table, uint32(i))
			if !ok {
				break
			}
			symName, ok := getString(v.mem, strBase+uint64(sym.nameIdx))
			if ok && symName != "" && libsym.Demangle(libsym.SymbolName(symName)) == name {
				return sym.value - info.loadBias, true
			}
		}
		return 0, false
	}
	if info.dynsym != 0 && info.dynstr != 0 {
		if offset, ok := scan(info.dynsym, info.dynsymCount, info.dynstr); ok {
			return offset
		}
	}
	if info.symtab != 0 && info.strtab != 0 {
		if offset, ok := scan(info.symtab, info.symtabCount, info.strtab); ok {
			return offset
		}
	}
	return 0
}

// loadSymbolTable enumerates one symbol table into a SymbolMap.
func (v *View) loadSymbolTable(what string, table, count, strBase uint64) (*libsym.SymbolMap, error) {
	if !v.IsValid() {
		return nil, ErrNotAttached
	}
	if table == 0 || strBase == 0 {
		return nil, fmt.Errorf("failed to read %v: section not present", what)
	}
	info := v.info
	lo := info.lo
	symMap := libsym.NewSymbolMap(int(count))
	for i := uint64(0); i < count; i++ {
		sym, ok := lo.sym(v.mem, table, uint32(i))
		if !ok {
			break
		}
		name, ok := getString(v.mem, strBase+uint64(sym.nameIdx))
		if !ok || name == "" {
			continue
		}
		symMap.Add(libsym.Symbol{
			Name:    libsym.SymbolName(name),
			Address: libsym.SymbolValue(sym.value),
			Size:    sym.size,
		})
	}
	symMap.Finalize()
	return symMap, nil
}

// Symbols reads the full non-dynamic symbol table (`.symtab`) of the image.
func (v *View) Symbols() (*libsym.SymbolMap, error) {
	return v.loadSymbolTable(".symtab", v.info.symtab, v.info.symtabCount, v.info.strtab)
}

// DynamicSymbols reads the dynamic symbol table (`.dynsym`) of the image.
func (v *View) DynamicSymbols() (*libsym.SymbolMap, error) {
	return v.loadSymbolTable(".dynsym", v.info.dynsym, v.info.dynsymCount, v.info.dynstr)
}
