// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolve defines a name-resolution pass for desugared p2w
// syntax trees.
//
// The resolver sets the Binding field of each syntax.Ident and the
// Scope field of each syntax.Function and syntax.ClassStmt, and records
// the module's globals, functions and classes in a Module stored in
// syntax.File.Module.
//
// Resolution is two passes over the whole file. The first pass creates
// every scope and every binding that an assignment, parameter,
// definition, import, handler or pattern introduces. The second
// resolves each use: a name not bound in its own function is looked up
// in the enclosing functions (class bodies are skipped, as in Python),
// and the first function that binds it turns the binding into a cell
// while every intervening function receives a free binding. Names
// bound nowhere are module globals or builtins; anything else is an
// UnboundNameError, reported at compile time because every slot of the
// compiled module is allocated statically.
package resolve // import "go.p2w.dev/resolve"

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.resolve")

// An Error is a resolution error.
type Error struct {
	Pos  syntax.Position
	Kind diag.Kind
	Msg  string
}

func (e Error) Error() string { return e.Pos.String() + ": " + e.Msg }

// An ErrorList is a non-empty list of resolver error messages.
type ErrorList []Error // len > 0

func (e ErrorList) Error() string { return e[0].Error() }

// A ScopeKind classifies a Scope.
type ScopeKind uint8

const (
	ModuleScope ScopeKind = iota
	FunctionScope
	ClassScope
)

var scopeKindNames = [...]string{
	ModuleScope:   "module",
	FunctionScope: "function",
	ClassScope:    "class",
}

func (k ScopeKind) String() string { return scopeKindNames[k] }

// A Scope is a lexical region that owns bindings: the module, a
// function (including lambdas and comprehension functions) or a class
// body. Parent is used for lookup only.
type Scope struct {
	Kind     ScopeKind
	Parent   *Scope
	Function *syntax.Function  // if Kind == FunctionScope
	Class    *syntax.ClassStmt // if Kind == ClassScope

	// Locals holds, in order of first binding:
	// the globals of a module scope, the parameters then the locals
	// and cells of a function scope, the attributes of a class scope.
	Locals []*syntax.Binding

	// FreeVars are the enclosing-function variables a function uses,
	// in order of first use. Each has Scope == FreeScope.
	FreeVars []*syntax.Binding

	// Generator reports whether the function contains yield.
	Generator bool

	Children []*Scope

	names     map[string]*syntax.Binding
	nonlocals []*syntax.Ident
	ntemp     int
}

func newScope(kind ScopeKind, parent *Scope) *Scope {
	s := &Scope{Kind: kind, Parent: parent, names: make(map[string]*syntax.Binding)}
	if parent != nil {
		parent.Children = append(parent.Children, s)
	}
	return s
}

// Lookup returns the binding of name in s itself, or nil.
func (s *Scope) Lookup(name string) *syntax.Binding { return s.names[name] }

// NewLocal creates a fresh variable for compiler-generated code in s
// and returns an identifier bound to it. Temporaries of a class body
// live in the module scope so that they do not become class attributes.
func (s *Scope) NewLocal(pos syntax.Position, hint string) *syntax.Ident {
	for s.Kind == ClassScope {
		s = s.Parent
	}
	var name string
	for {
		s.ntemp++
		name = fmt.Sprintf("$%s%d", hint, s.ntemp)
		if s.names[name] == nil {
			break
		}
	}
	id := &syntax.Ident{NamePos: pos, Name: name}
	kind := syntax.LocalScope
	if s.Kind == ModuleScope {
		kind = syntax.GlobalScope
	}
	b := &syntax.Binding{Scope: kind, Name: id.Name, Index: len(s.Locals), First: id}
	s.Locals = append(s.Locals, b)
	s.names[id.Name] = b
	id.Binding = b
	return id
}

// Bind returns a new identifier at pos that refers to b.
func Bind(pos syntax.Position, b *syntax.Binding) *syntax.Ident {
	return &syntax.Ident{NamePos: pos, Name: b.Name, Binding: b}
}

// A Module is the result of resolving a file.
type Module struct {
	Scope     *Scope
	Functions []*syntax.Function  // every function, in source preorder
	Classes   []*syntax.ClassStmt // in source order
}

// Globals returns the module-level variables, in order of first binding.
func (m *Module) Globals() []*syntax.Binding { return m.Scope.Locals }

// ScopeOf returns the scope that a function or class body was given by
// the resolver.
func ScopeOf(n syntax.Node) *Scope {
	switch n := n.(type) {
	case *syntax.DefStmt:
		return n.Scope.(*Scope)
	case *syntax.LambdaExpr:
		return n.Scope.(*Scope)
	case *syntax.Function:
		return n.Scope.(*Scope)
	case *syntax.ClassStmt:
		return n.Scope.(*Scope)
	case *syntax.File:
		return n.Module.(*Module).Scope
	}
	return nil
}

// File resolves the specified file, which must have been desugared.
//
// The isUniversal predicate reports whether a name is a builtin
// (len, range, ...). A module-level binding of the same name shadows it.
//
// On success File sets file.Module to a *Module; otherwise it returns
// an ErrorList sorted by position.
func File(file *syntax.File, isUniversal func(name string) bool) error {
	r := newResolver(file, isUniversal)
	r.declareGlobals(r.module.Scope, file.Stmts)
	r.declare(r.module.Scope, file.Stmts)
	r.stmts(r.module.Scope, file.Stmts)
	file.Module = r.module

	log.Debugf("%s: %d globals, %d functions, %d classes", file.Path,
		len(r.module.Scope.Locals), len(r.module.Functions), len(r.module.Classes))

	if len(r.errors) > 0 {
		sort.SliceStable(r.errors, func(i, j int) bool {
			return r.errors[i].Pos.Before(r.errors[j].Pos)
		})
		return r.errors
	}
	return nil
}

type resolver struct {
	module      *Module
	universal   map[string]*syntax.Binding
	isUniversal func(name string) bool
	loops       int // loop nesting depth within the current function
	errors      ErrorList
}

func newResolver(file *syntax.File, isUniversal func(name string) bool) *resolver {
	if isUniversal == nil {
		isUniversal = func(string) bool { return false }
	}
	return &resolver{
		module:      &Module{Scope: newScope(ModuleScope, nil)},
		universal:   make(map[string]*syntax.Binding),
		isUniversal: isUniversal,
	}
}

func (r *resolver) errorf(posn syntax.Position, kind diag.Kind, format string, args ...interface{}) {
	r.errors = append(r.errors, Error{posn, kind, fmt.Sprintf(format, args...)})
}

// global returns the module-level binding of name, creating it if needed.
func (r *resolver) global(name string, first *syntax.Ident) *syntax.Binding {
	m := r.module.Scope
	if b, ok := m.names[name]; ok {
		return b
	}
	b := &syntax.Binding{Scope: syntax.GlobalScope, Name: name, Index: len(m.Locals), First: first}
	m.Locals = append(m.Locals, b)
	m.names[name] = b
	return b
}

// ---- pass 1: scopes and bindings ----

// declareGlobals processes the global and nonlocal statements that
// belong directly to scope s (not to nested functions).
func (r *resolver) declareGlobals(s *Scope, body []syntax.Stmt) {
	for _, stmt := range body {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			switch n := n.(type) {
			case *syntax.DefStmt, *syntax.LambdaExpr, *syntax.ClassStmt:
				return false
			case *syntax.GlobalStmt:
				for _, id := range n.Names {
					r.declareGlobal(s, n.Token, id)
				}
				return false
			}
			return true
		})
	}
}

func (r *resolver) declareGlobal(s *Scope, tok syntax.Token, id *syntax.Ident) {
	prev := s.names[id.Name]
	if tok == syntax.GLOBAL {
		if prev != nil && prev.Param {
			r.errorf(id.NamePos, diag.SyntaxShape, "name '%s' is parameter and global", id.Name)
			return
		}
		b := r.global(id.Name, id)
		s.names[id.Name] = b
		id.Binding = b
		return
	}
	switch s.Kind {
	case ModuleScope:
		r.errorf(id.NamePos, diag.SyntaxShape, "nonlocal declaration not allowed at module level")
	case ClassScope:
		r.errorf(id.NamePos, diag.SyntaxShape, "nonlocal declaration not supported in a class body")
	default:
		if prev != nil && prev.Param {
			r.errorf(id.NamePos, diag.SyntaxShape, "name '%s' is parameter and nonlocal", id.Name)
			return
		}
		if prev != nil && prev.Scope == syntax.GlobalScope {
			r.errorf(id.NamePos, diag.SyntaxShape, "name '%s' is nonlocal and global", id.Name)
			return
		}
		s.nonlocals = append(s.nonlocals, id)
	}
}

func (r *resolver) isNonlocal(s *Scope, name string) bool {
	for _, id := range s.nonlocals {
		if id.Name == name {
			return true
		}
	}
	return false
}

// bind creates (or finds) the binding that id introduces in scope s.
func (r *resolver) bind(s *Scope, id *syntax.Ident) {
	if s.Kind == ClassScope && strings.HasPrefix(id.Name, "$") {
		// compiler temporaries of a class body are module variables
		s = s.Parent
	}
	if b, ok := s.names[id.Name]; ok {
		id.Binding = b
		return
	}
	if s.Kind == FunctionScope && r.isNonlocal(s, id.Name) {
		return // resolved in pass 2
	}
	var b *syntax.Binding
	switch s.Kind {
	case ModuleScope:
		b = r.global(id.Name, id)
	case ClassScope:
		b = &syntax.Binding{Scope: syntax.ClassAttrScope, Name: id.Name, Index: len(s.Locals), First: id}
		s.Locals = append(s.Locals, b)
	default:
		b = &syntax.Binding{Scope: syntax.LocalScope, Name: id.Name, Index: len(s.Locals), First: id}
		s.Locals = append(s.Locals, b)
	}
	s.names[id.Name] = b
	id.Binding = b
}

// bindTargets binds the names assigned by an assignment target.
func (r *resolver) bindTargets(s *Scope, lhs syntax.Expr) {
	switch lhs := lhs.(type) {
	case *syntax.Ident:
		r.bind(s, lhs)
	case *syntax.TupleExpr:
		for _, elem := range lhs.List {
			r.bindTargets(s, elem)
		}
	case *syntax.ListExpr:
		for _, elem := range lhs.List {
			r.bindTargets(s, elem)
		}
	case *syntax.ParenExpr:
		r.bindTargets(s, lhs.X)
	case *syntax.UnaryExpr:
		if lhs.Op == syntax.STAR && lhs.X != nil {
			r.bindTargets(s, lhs.X)
		}
	}
}

// declare creates the bindings of every statement of a scope body,
// and the scopes of the functions and classes it defines.
func (r *resolver) declare(s *Scope, stmts []syntax.Stmt) {
	for _, stmt := range stmts {
		r.declareNode(s, stmt)
	}
}

func (r *resolver) declareNode(s *Scope, n syntax.Node) {
	syntax.Walk(n, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.DefStmt:
			r.bind(s, n.Name)
			r.declareFunction(s, &n.Function)
			return false

		case *syntax.LambdaExpr:
			r.declareFunction(s, &n.Function)
			return false

		case *syntax.ClassStmt:
			r.bind(s, n.Name)
			for _, base := range n.Bases {
				r.declareNode(s, base)
			}
			r.declareClass(s, n)
			return false

		case *syntax.AssignStmt:
			r.bindTargets(s, n.LHS)
			for _, lhs := range n.More {
				r.bindTargets(s, lhs)
			}

		case *syntax.AssignExpr:
			r.bind(s, n.Name)

		case *syntax.BindExpr:
			r.bind(s, n.Name)

		case *syntax.ForStmt:
			r.bindTargets(s, n.Vars)

		case *syntax.DelStmt:
			for _, x := range n.Targets {
				r.bindTargets(s, x)
			}

		case *syntax.ImportStmt:
			for _, id := range n.To {
				r.bind(s, id)
			}
			return false

		case *syntax.TryStmt:
			for _, h := range n.Handlers {
				if h.Name != nil {
					r.bind(s, h.Name)
				}
			}

		case *syntax.TryCatchStmt:
			r.bind(s, n.Exc)

		case *syntax.WithStmt:
			for _, item := range n.Items {
				if item.Var != nil {
					r.bindTargets(s, item.Var)
				}
			}

		case *syntax.LocalDecl:
			for _, id := range n.Names {
				r.bind(s, id)
			}

		case *syntax.GlobalStmt:
			return false

		case *syntax.MatchCapture:
			r.bind(s, n.Name)
		case *syntax.MatchStar:
			if n.Name != nil {
				r.bind(s, n.Name)
			}
		case *syntax.MatchMapping:
			if n.Rest != nil {
				r.bind(s, n.Rest)
			}
		case *syntax.MatchAs:
			r.bind(s, n.Name)
		}
		return true
	})
}

func (r *resolver) declareFunction(parent *Scope, fn *syntax.Function) {
	if fn.Sig == nil {
		panic(fmt.Sprintf("resolve: function %q at %s has not been desugared", fn.Name, fn.StartPos))
	}
	for _, d := range fn.Sig.Defaults {
		if d != nil {
			r.declareNode(parent, d)
		}
	}

	s := newScope(FunctionScope, parent)
	s.Function = fn
	s.Generator = fn.HasYield
	fn.Scope = s
	r.module.Functions = append(r.module.Functions, fn)

	param := func(id *syntax.Ident) {
		if _, dup := s.names[id.Name]; dup {
			r.errorf(id.NamePos, diag.SyntaxShape, "duplicate parameter: %s", id.Name)
			return
		}
		b := &syntax.Binding{Scope: syntax.LocalScope, Name: id.Name, Param: true, Index: len(s.Locals), First: id}
		s.Locals = append(s.Locals, b)
		s.names[id.Name] = b
		id.Binding = b
	}
	for _, id := range fn.Sig.Params {
		param(id)
	}
	if fn.Sig.Varargs != nil {
		param(fn.Sig.Varargs)
	}
	if fn.Sig.Kwargs != nil {
		param(fn.Sig.Kwargs)
	}

	r.declareGlobals(s, fn.Body)
	r.declare(s, fn.Body)
}

func (r *resolver) declareClass(parent *Scope, class *syntax.ClassStmt) {
	if parent.Kind != ModuleScope {
		r.errorf(class.Class, diag.SyntaxShape, "class %s: classes may be defined only at module level", class.Name.Name)
	}
	s := newScope(ClassScope, parent)
	s.Class = class
	class.Scope = s
	r.module.Classes = append(r.module.Classes, class)
	r.declareGlobals(s, class.Body)
	r.declare(s, class.Body)
}

// ---- pass 2: uses ----

func (r *resolver) stmts(s *Scope, stmts []syntax.Stmt) {
	for _, stmt := range stmts {
		r.stmt(s, stmt)
	}
}

func (r *resolver) stmt(s *Scope, stmt syntax.Stmt) {
	switch stmt := stmt.(type) {
	case *syntax.ExprStmt:
		r.expr(s, stmt.X)

	case *syntax.BranchStmt:
		if stmt.Token != syntax.PASS && r.loops == 0 {
			r.errorf(stmt.TokenPos, diag.SyntaxShape, "%s not in a loop", stmt.Token)
		}

	case *syntax.IfStmt:
		r.expr(s, stmt.Cond)
		r.stmts(s, stmt.True)
		r.stmts(s, stmt.False)

	case *syntax.AssignStmt:
		if stmt.RHS != nil {
			r.expr(s, stmt.RHS)
		}
		r.expr(s, stmt.LHS)
		for _, lhs := range stmt.More {
			r.expr(s, lhs)
		}

	case *syntax.AssertStmt:
		r.expr(s, stmt.Cond)
		if stmt.Msg != nil {
			r.expr(s, stmt.Msg)
		}

	case *syntax.DefStmt:
		r.function(s, &stmt.Function)

	case *syntax.ClassStmt:
		for _, base := range stmt.Bases {
			r.expr(s, base)
		}
		body := stmt.Scope.(*Scope)
		loops := r.loops
		r.loops = 0
		r.stmts(body, stmt.Body)
		r.loops = loops

	case *syntax.DelStmt:
		for _, x := range stmt.Targets {
			r.expr(s, x)
		}

	case *syntax.ForStmt:
		r.expr(s, stmt.X)
		r.expr(s, stmt.Vars)
		r.loops++
		r.stmts(s, stmt.Body)
		r.loops--
		r.stmts(s, stmt.Else)

	case *syntax.WhileStmt:
		r.expr(s, stmt.Cond)
		r.loops++
		r.stmts(s, stmt.Body)
		r.loops--
		r.stmts(s, stmt.Else)

	case *syntax.GlobalStmt, *syntax.ImportStmt, *syntax.LocalDecl:
		// bindings only

	case *syntax.RaiseStmt:
		if stmt.X != nil {
			r.expr(s, stmt.X)
		}
		if stmt.Cause != nil {
			r.expr(s, stmt.Cause)
		}

	case *syntax.ReturnStmt:
		if s.Kind != FunctionScope {
			r.errorf(stmt.Return, diag.SyntaxShape, "return statement not within a function")
		}
		if stmt.Result != nil {
			r.expr(s, stmt.Result)
		}

	case *syntax.TryStmt:
		r.stmts(s, stmt.Body)
		for _, h := range stmt.Handlers {
			if h.Type != nil {
				r.expr(s, h.Type)
			}
			r.stmts(s, h.Body)
		}
		r.stmts(s, stmt.Else)
		r.stmts(s, stmt.Finally)

	case *syntax.WithStmt:
		for _, item := range stmt.Items {
			r.expr(s, item.X)
			if item.Var != nil {
				r.expr(s, item.Var)
			}
		}
		r.stmts(s, stmt.Body)

	case *syntax.MatchStmt:
		r.expr(s, stmt.Subject)
		for _, c := range stmt.Cases {
			r.expr(s, c.Pattern)
			if c.Guard != nil {
				r.expr(s, c.Guard)
			}
			r.stmts(s, c.Body)
		}

	default:
		panic(fmt.Sprintf("unexpected stmt %T", stmt))
	}
}

// expr resolves every use within an expression or pattern.
func (r *resolver) expr(s *Scope, e syntax.Node) {
	syntax.Walk(e, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.Ident:
			if n.Binding == nil {
				r.use(s, n)
			}

		case *syntax.DotExpr:
			// n.Name is an attribute, not a variable
			r.expr(s, n.X)
			return false

		case *syntax.CallExpr:
			r.expr(s, n.Fn)
			for _, arg := range n.Args {
				if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
					r.expr(s, kw.Y)
					continue
				}
				r.expr(s, arg)
			}
			return false

		case *syntax.LambdaExpr:
			r.function(s, &n.Function)
			return false

		case *syntax.MatchClass:
			r.expr(s, n.Cls)
			for _, p := range n.Args {
				r.expr(s, p)
			}
			for _, p := range n.KwValues {
				r.expr(s, p)
			}
			return false

		case *syntax.Comprehension:
			r.errorf(n.Lbrack, diag.SyntaxShape, "comprehension was not desugared")
			return false
		}
		return true
	})
}

func (r *resolver) function(parent *Scope, fn *syntax.Function) {
	for _, d := range fn.Sig.Defaults {
		if d != nil {
			r.expr(parent, d)
		}
	}
	s := fn.Scope.(*Scope)
	for _, id := range s.nonlocals {
		b := r.lookupLexical(s, id.Name)
		if b == nil || b.Scope == syntax.GlobalScope {
			r.errorf(id.NamePos, diag.UnboundName, "no binding for nonlocal '%s' found", id.Name)
			b = &syntax.Binding{Scope: syntax.UndefinedScope, Name: id.Name}
			s.names[id.Name] = b
		}
		id.Binding = b
	}
	loops := r.loops
	r.loops = 0
	r.stmts(s, fn.Body)
	r.loops = loops
}

// use resolves a use of id in scope s.
func (r *resolver) use(s *Scope, id *syntax.Ident) {
	var b *syntax.Binding
	switch s.Kind {
	case FunctionScope:
		b = r.lookupLexical(s, id.Name)
	case ClassScope:
		b = s.names[id.Name]
	}
	if b == nil {
		b = r.lookupGlobal(s, id)
	}
	id.Binding = b
}

// lookupLexical returns the binding of name in function scope s or the
// nearest enclosing function that binds it, creating the chain of free
// bindings that carries a captured variable inward. It returns nil if
// no function binds the name.
func (r *resolver) lookupLexical(s *Scope, name string) *syntax.Binding {
	if b, ok := s.names[name]; ok {
		return b
	}
	outer := enclosingFunction(s)
	if outer == nil {
		return nil
	}
	ob := r.lookupLexical(outer, name)
	if ob == nil || ob.Scope == syntax.GlobalScope || ob.Scope == syntax.UndefinedScope {
		return ob
	}
	if ob.Scope == syntax.LocalScope {
		ob.Scope = syntax.CellScope
	}
	b := &syntax.Binding{Scope: syntax.FreeScope, Name: name, Index: len(s.FreeVars), First: ob.First, Outer: ob}
	s.FreeVars = append(s.FreeVars, b)
	s.names[name] = b
	return b
}

func enclosingFunction(s *Scope) *Scope {
	for p := s.Parent; p != nil; p = p.Parent {
		switch p.Kind {
		case FunctionScope:
			return p
		case ModuleScope:
			return nil
		}
	}
	return nil
}

func (r *resolver) lookupGlobal(s *Scope, id *syntax.Ident) *syntax.Binding {
	if b, ok := r.module.Scope.names[id.Name]; ok {
		return b
	}
	if r.isUniversal(id.Name) {
		b, ok := r.universal[id.Name]
		if !ok {
			b = &syntax.Binding{Scope: syntax.UniversalScope, Name: id.Name}
			r.universal[id.Name] = b
		}
		return b
	}

	msg := "undefined: " + id.Name
	if n := nearest(id.Name, visibleNames(s)); n != "" {
		msg += fmt.Sprintf(" (did you mean %s?)", n)
	}
	r.errorf(id.NamePos, diag.UnboundName, "%s", msg)
	return &syntax.Binding{Scope: syntax.UndefinedScope, Name: id.Name}
}

// visibleNames returns the names bound in s and its enclosing scopes.
func visibleNames(s *Scope) []string {
	var names []string
	for ; s != nil; s = s.Parent {
		for name, b := range s.names {
			if b.Scope != syntax.UndefinedScope && !strings.HasPrefix(name, "$") {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
