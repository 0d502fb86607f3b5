// Package backend defines what the translation core needs from a code
// generator: something that accepts a finished IR function and returns an
// entry point that runs it against a guest state address.
package backend

import "a64rec/pkg/ir"

// Entry is compiled code for one translation unit
type Entry interface {
	// Call runs the unit against the CpuState at address state. It returns
	// once the unit exits to host dispatch.
	Call(state uint64)
}

// Compiler turns a verified IR function into an Entry
type Compiler interface {
	Compile(fn *ir.Function) (Entry, error)
}

// EntryFunc adapts a plain function to Entry
type EntryFunc func(state uint64)

func (f EntryFunc) Call(state uint64) { f(state) }
