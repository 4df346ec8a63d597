// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements the mini debug info ingestor. Stripped binaries often
// carry an XZ-compressed nested ELF in `.gnu_debugdata` whose `.symtab`
// retains the symbols removed from the outer image. After a file mode attach
// the inner symbol table is merged into the lookup surface.

package elfview // import "github.com/kaiser2336564/elfinspect/elfview"

import (
	log "github.com/sirupsen/logrus"

	"github.com/kaiser2336564/elfinspect/xzdec"
)

// parseMiniDebugInfo decompresses the `.gnu_debugdata` payload and harvests
// the symbols of the nested ELF. Failures leave the outer view untouched.
// The decompressed buffer is transient; it is released when ingestion ends.
func (v *View) parseMiniDebugInfo(input []byte) {
	if !xzdec.IsXZ(input) {
		log.Warnf("Mini debug info has no XZ header magic (%d bytes)", len(input))
		return
	}
	decompressed, err := xzdec.Decode(input)
	if err != nil {
		log.Warnf("Failed to decompress mini debug info: %v", err)
		return
	}
	v.parseDebugSymbols(decompressed)
}

// parseDebugSymbols walks the symbol table of the decompressed nested ELF
// and records every named symbol's st_value. The nested image is always
// parsed in file mode; it is never loaded into a process.
func (v *View) parseDebugSymbols(input []byte) {
	embedded := parseImage(input, false)
	if embedded.lo == nil || embedded.symtab == 0 || embedded.strtab == 0 {
		log.Debugf("Mini debug info has no usable symtab (%d bytes)", len(input))
		return
	}
	log.Debugf("Mini debug info: %d bytes, %d symtab entries",
		len(input), embedded.symtabCount)
	lo := embedded.lo
	if v.info.debugSymbols == nil {
		v.info.debugSymbols = make(map[string]uint64, embedded.symtabCount)
	}
	for i := uint64(0); i < embedded.symtabCount; i++ {
		sym, ok := lo.sym(input, embedded.symtab, uint32(i))
		if !ok {
			break
		}
		name, ok := getString(input, embedded.strtab+uint64(sym.nameIdx))
		if !ok || name == "" {
			continue
		}
		v.info.debugSymbols[name] = sym.value
	}
}
