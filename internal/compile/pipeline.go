package compile

import (
	"errors"
	"time"

	"go.p2w.dev/internal/desugar"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/hostabi"
	"go.p2w.dev/internal/lower"
	"go.p2w.dev/internal/object"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/support"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

// A Program is a compiled module.
type Program struct {
	Module      string   // the module's name
	WAT         string   // the module text
	Exports     []string // the names the module exports
	HostVersion string   // the host contract the module imports
}

// Source compiles the named file. See syntax.Parse for the forms src
// may take.
func Source(filename string, src interface{}, opts Options) (*Program, error) {
	f, err := syntax.Parse(filename, src)
	if err != nil {
		var serr syntax.Error
		if errors.As(err, &serr) {
			return nil, diag.ErrorList{diag.FromSyntax(serr)}
		}
		return nil, err
	}
	return File(f, opts)
}

// File compiles a parsed file. Each stage runs only if every earlier
// stage succeeded; the error is then a diag.ErrorList.
func File(f *syntax.File, opts Options) (*Program, error) {
	lib, err := support.Load()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	stage := func(name string) {
		log.Debugf("%s: %s done after %s", f.Path, name, time.Since(start))
	}

	var r diag.Reporter
	f = desugar.File(f, &r)
	if err := r.Errors().Err(); err != nil {
		return nil, err
	}
	stage("desugar")

	universe := make(map[string]bool)
	for _, name := range object.BuiltinNames() {
		universe[name] = true
	}
	for _, name := range lib.Functions() {
		universe[name] = true
	}
	if err := resolve.File(f, func(name string) bool { return universe[name] }); err != nil {
		return nil, resolveErrors(err)
	}
	stage("resolve")

	info, err := repr.File(f)
	if err != nil {
		return nil, err
	}
	stage("repr")

	if err := lower.File(f, info, lower.Options{ExhaustiveMatch: opts.ExhaustiveMatch}); err != nil {
		return nil, err
	}
	stage("lower")

	model, err := object.Build(f)
	if err != nil {
		return nil, err
	}
	stage("object")

	name := opts.Module
	if name == "" {
		name = moduleName(f.Path)
		opts.Module = name
	}
	var text string
	var exports []string
	func() {
		pos := syntax.Start(f)
		defer r.Recover("code generation", pos)
		var err error
		text, exports, err = Codegen(f, info, model, lib, opts)
		if err != nil {
			r.ErrorAt(pos, diag.RepresentationConflict, "internal error in code generation: %v", err)
		}
	}()
	if err := r.Errors().Err(); err != nil {
		return nil, err
	}
	stage("codegen")

	return &Program{
		Module:      name,
		WAT:         text,
		Exports:     exports,
		HostVersion: hostabi.Version,
	}, nil
}

// resolveErrors converts the resolver's errors, keeping their kinds.
func resolveErrors(err error) error {
	var list resolve.ErrorList
	if !errors.As(err, &list) {
		return err
	}
	var r diag.Reporter
	for _, e := range list {
		r.ErrorAt(e.Pos, e.Kind, "%s", e.Msg)
	}
	return r.Errors()
}
