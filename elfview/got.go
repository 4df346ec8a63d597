// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements the GOT/PLT relocation site locator: given a symbol
// name it finds the symbol's dynamic table index and scans the PLT and
// dynamic relocation tables for slots referencing that index.

package elfview // import "github.com/kaiser2336564/elfinspect/elfview"

import "debug/elf"

// isJumpSlot reports whether the relocation type describes a PLT jump slot
// for the given class. The type sets cover the ARM and Intel families at
// either width.
func isJumpSlot(class elf.Class, relType uint32) bool {
	if class == elf.ELFCLASS32 {
		return relType == uint32(elf.R_ARM_JUMP_SLOT) ||
			relType == uint32(elf.R_386_JMP_SLOT)
	}
	return relType == uint32(elf.R_AARCH64_JUMP_SLOT) ||
		relType == uint32(elf.R_X86_64_JMP_SLOT)
}

// isDataSlot reports whether the relocation type describes a GOT data slot
// (absolute or GLOB_DAT) for the given class.
func isDataSlot(class elf.Class, relType uint32) bool {
	if class == elf.ELFCLASS32 {
		return relType == uint32(elf.R_ARM_ABS32) ||
			relType == uint32(elf.R_ARM_GLOB_DAT) ||
			relType == uint32(elf.R_386_32) ||
			relType == uint32(elf.R_386_GLOB_DAT)
	}
	return relType == uint32(elf.R_AARCH64_ABS64) ||
		relType == uint32(elf.R_AARCH64_GLOB_DAT) ||
		relType == uint32(elf.R_X86_64_64) ||
		relType == uint32(elf.R_X86_64_GLOB_DAT)
}

// SymbolGotOffsets returns the file-relative offsets of every GOT/PLT slot
// relocated against the named symbol: at most one PLT jump slot first,
// followed by data slots in relocation table order. The list is empty when
// the symbol has no dynamic table entry or no matching relocation.
func (v *View) SymbolGotOffsets(name string) []uint64 {
	if name == "" || !v.IsValid() {
		return nil
	}
	_, symIdx, ok := v.dynamicSymbol(name)
	if !ok {
		return nil
	}

	info := v.info
	lo := info.lo
	class := lo.class()
	readEntry := lo.rel
	if info.useRela {
		readEntry = lo.rela
	}

	var result []uint64
	if info.relplt != 0 {
		for i := uint64(0); i < info.relpltCount; i++ {
			rel, ok := readEntry(v.mem, info.relplt, i)
			if !ok {
				break
			}
			if rel.symIdx == symIdx && isJumpSlot(class, rel.relType) {
				result = append(result, rel.off-info.loadBias)
				// A symbol has at most one PLT slot.
				break
			}
		}
	}

	relDyn, relDynCount := info.reldyn, info.reldynCount
	if info.useRela {
		relDyn, relDynCount = info.reladyn, info.reladynCount
	}
	if relDyn != 0 {
		for i := uint64(0); i < relDynCount; i++ {
			rel, ok := readEntry(v.mem, relDyn, i)
			if !ok {
				break
			}
			if rel.symIdx == symIdx && isDataSlot(class, rel.relType) {
				result = append(result, rel.off-info.loadBias)
			}
		}
	}
	return result
}
