// Package compile generates the WebAssembly text of a program from its
// lowered syntax tree.
//
// Code generation walks each function of the program once. Every
// function becomes a wasm function of type $Code that binds its
// arguments with the runtime's $bind_args and keeps its variables in
// wasm locals, in cells shared with nested functions, or, for a
// generator, in fields of the generator record. The module body becomes
// the function $main, which the exported _start calls after the
// runtime has been initialized.
//
// Values are held in the machine type of their representation (see
// package repr): i64 for small ints, f64 for floats, i32 for bools and
// conditions, and eqref for everything else. The conversions that the
// representation pass inserted as ConvExpr nodes are the only places
// where values change type, except at the boundaries where a variable
// is stored or an operand is passed to the runtime.
//
// The generated forms are added to a wat.Module together with the
// runtime support library, which is pruned to what the program uses.
package compile

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/object"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/support"
	"go.p2w.dev/internal/wat"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.compile")

// Options controls compilation.
type Options struct {
	// ExhaustiveMatch makes a match statement that no case matches
	// raise MatchError instead of doing nothing.
	ExhaustiveMatch bool
	// Debug annotates the generated code with source positions.
	Debug bool
	// Module names the generated module; it defaults to the base name
	// of the source file.
	Module string
}

// pcomp holds the compiler state for a Program.
type pcomp struct {
	opts   Options
	file   *syntax.File
	info   *repr.Info
	model  *object.Model
	lib    *support.Library
	m      *wat.Module
	env    linkEnv
	pool   *support.Pool
	module *resolve.Scope

	funcs map[*syntax.Function]int // function index, by first reference
	queue []*syntax.Function       // functions yet to be generated
	uses  map[string]bool          // identifiers the generated forms refer to

	builtinFuncs map[string]bool
}

// linkEnv resolves signatures in the module under construction first,
// then in the runtime library it will be linked with.
type linkEnv struct {
	m   *wat.Module
	lib *support.Library
}

func (e linkEnv) FuncSig(id string) (wat.Sig, bool) {
	if s, ok := e.m.FuncSig(id); ok {
		return s, true
	}
	return e.lib.FuncSig(id)
}

func (e linkEnv) TypeSig(id string) (wat.Sig, bool) {
	if s, ok := e.m.TypeSig(id); ok {
		return s, true
	}
	return e.lib.TypeSig(id)
}

func (e linkEnv) Fields(id string) (int, bool) {
	if n, ok := e.m.Fields(id); ok {
		return n, true
	}
	return e.lib.Fields(id)
}

func (e linkEnv) TagSig(id string) (wat.Sig, bool) {
	if s, ok := e.m.TagSig(id); ok {
		return s, true
	}
	return e.lib.TagSig(id)
}

// Codegen generates the module for the lowered file f and links it
// with the runtime. It returns the module text and the names of its
// exports. Code generation errors are internal errors; they panic
// with a diag.Error or a *wat.StackError.
func Codegen(f *syntax.File, info *repr.Info, model *object.Model, lib *support.Library, opts Options) (string, []string, error) {
	name := opts.Module
	if name == "" {
		name = moduleName(f.Path)
	}
	pc := &pcomp{
		opts:   opts,
		file:   f,
		info:   info,
		model:  model,
		lib:    lib,
		m:      wat.NewModule(name),
		pool:   support.NewPool(),
		module: f.Module.(*resolve.Module).Scope,
		funcs:  make(map[*syntax.Function]int),
		uses:   make(map[string]bool),
	}
	pc.env = linkEnv{pc.m, lib}

	for _, b := range pc.module.Locals {
		pc.add(fmt.Sprintf("(global %s (mut eqref) (global.get $UNBOUND))", globalName(b)))
	}
	for _, fn := range f.Module.(*resolve.Module).Functions {
		pc.funcIndex(fn)
	}

	pc.mainFunc(f.Stmts)
	for len(pc.queue) > 0 {
		fn := pc.queue[0]
		pc.queue = pc.queue[1:]
		pc.function(fn)
	}
	pc.startFunc()

	uses := []string{support.InitFunc, "$report_uncaught"}
	for id := range pc.uses {
		uses = append(uses, id)
	}
	sort.Strings(uses)
	if err := lib.Link(pc.m, model, pc.pool, uses); err != nil {
		return "", nil, err
	}
	text, err := pc.m.Finalize()
	if err != nil {
		return "", nil, err
	}
	log.Infof("module %s: %d functions, %d strings; %s", name, len(pc.funcs), pc.pool.Len(), pc.m.Stats())
	return text, []string{"_start", "memory", "event_callback"}, nil
}

// add adds a generated form to the module and records what it refers to.
func (pc *pcomp) add(text string) {
	pc.m.MustAdd(text)
	for _, id := range wat.Refs(text) {
		pc.uses[id] = true
	}
}

// funcIndex returns the index of fn, queueing it for generation on
// first reference.
func (pc *pcomp) funcIndex(fn *syntax.Function) int {
	k, ok := pc.funcs[fn]
	if !ok {
		k = len(pc.funcs)
		pc.funcs[fn] = k
		pc.queue = append(pc.queue, fn)
	}
	return k
}

func funcName(k int) string   { return "$fn#" + strconv.Itoa(k) }
func resumeName(k int) string { return "$res#" + strconv.Itoa(k) }
func genType(k int) string    { return "$gen#" + strconv.Itoa(k) }

// globalName returns the wasm global holding module variable b.
func globalName(b *syntax.Binding) string { return "$g:" + wat.ID(b.Name) }

// mainFunc generates $main, the module body.
func (pc *pcomp) mainFunc(stmts []syntax.Stmt) {
	f := wat.NewFunc(pc.env, "$main", nil)
	fc := pc.newFcomp(nil, f)
	fc.stmts(stmts)
	pc.add(f.Text())
}

// startFunc generates the exported entry point. An uncaught exception
// is reported before it propagates to the host.
func (pc *pcomp) startFunc() {
	f := wat.NewFunc(pc.env, "$_start", nil)
	f.Op("call", support.InitFunc)
	f.Try("")
	f.Op("call", "$main")
	f.Catch("$exn")
	e := f.Local("e", "eqref")
	f.Op("local.set", e)
	f.Op("local.get", e)
	f.Op("call", "$report_uncaught")
	f.Op("local.get", e)
	f.Op("throw", "$exn")
	f.End()
	pc.add(f.Text())
	pc.m.Export("_start", "func", "$_start")
}

// paramNames returns a global holding the parameter names of fn, in
// the order $bind_args expects.
func (pc *pcomp) paramNames(k int, fn *syntax.Function) string {
	name := "$pn#" + strconv.Itoa(k)
	text := fmt.Sprintf("(global %s (ref $Values) (array.new_fixed $Values %d", name, len(fn.Sig.Params))
	for _, p := range fn.Sig.Params {
		text += " (global.get " + pc.pool.Ref(p.Name) + ")"
	}
	pc.add(text + "))")
	return name
}

// universal pushes the builtin named name.
func (pc *pcomp) universal(f *wat.Func, name string) {
	if pc.model.Builtin(name) != nil {
		f.Op("global.get", support.ClassGlobal(name))
	} else {
		f.Op("global.get", support.FuncGlobal(name))
	}
}

// isUniversal reports whether name is a builtin class or function.
func (pc *pcomp) isUniversal(name string) bool {
	if pc.builtinFuncs == nil {
		pc.builtinFuncs = make(map[string]bool)
		for _, fn := range pc.lib.Functions() {
			pc.builtinFuncs[fn] = true
		}
	}
	return pc.builtinFuncs[name] || pc.model.Builtin(name) != nil
}

// raise emits code that raises an instance of the builtin class cls.
func (pc *pcomp) raise(f *wat.Func, cls, msg string) {
	f.Op("global.get", support.ClassGlobal(cls))
	pc.pool.Load(f, msg)
	f.Op("call", "$raise")
	f.Op("unreachable")
}

func moduleName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		return "main"
	}
	return base
}
