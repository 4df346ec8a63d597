// Copyright The elfinspect Authors
// SPDX-License-Identifier: Apache-2.0

package libsym // import "github.com/kaiser2336564/elfinspect/libsym"

import "github.com/ianlancetaylor/demangle"

// Demangle translates a C++ (Itanium ABI) or Rust mangled symbol name into
// its human readable form. Names that are not mangled are returned as is.
func Demangle(name SymbolName) string {
	return demangle.Filter(string(name))
}
