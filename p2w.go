// Package p2w compiles a subset of Python to WebAssembly text that
// uses the garbage-collection and exception-handling extensions.
//
// A compiled module imports the host functions of the contract named
// by Program.HostVersion and exports _start, memory and
// event_callback. Compile and CompileFile run every stage of the
// compiler; a program with any error yields no module, and the error
// is a diag.ErrorList sorted by position.
package p2w // import "go.p2w.dev"

import (
	"go.p2w.dev/internal/compile"
	"go.p2w.dev/syntax"
)

// Options controls compilation. The zero value is the default.
type Options = compile.Options

// A Program is a compiled module. Program.Encode returns it as a
// compiled artifact, which DecodeProgram reads back.
type Program = compile.Program

// Compile compiles a parsed file. Compile may modify f.
func Compile(f *syntax.File, opts *Options) (*Program, error) {
	return compile.File(f, optionsOrDefault(opts))
}

// CompileFile parses and compiles the named file. See syntax.Parse for
// the forms src may take.
func CompileFile(filename string, src interface{}, opts *Options) (*Program, error) {
	return compile.Source(filename, src, optionsOrDefault(opts))
}

// DecodeProgram decodes a compiled artifact.
func DecodeProgram(data []byte) (*Program, error) { return compile.DecodeProgram(data) }

func optionsOrDefault(opts *Options) Options {
	if opts == nil {
		return Options{}
	}
	return *opts
}
