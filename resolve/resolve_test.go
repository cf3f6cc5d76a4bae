// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolve_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/chunkedfile"
	"go.p2w.dev/internal/desugar"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/p2wtest"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

var universe = map[string]bool{
	"print":          true,
	"len":            true,
	"range":          true,
	"any":            true,
	"type":           true,
	"ValueError":     true,
	"BaseException":  true,
	"AssertionError": true,
}

func isUniversal(name string) bool { return universe[name] }

func TestResolve(t *testing.T) {
	filename := p2wtest.DataFile("resolve", "testdata/resolve.py")
	for _, chunk := range chunkedfile.Read(filename, t) {
		f, err := syntax.Parse(filename, chunk.Source)
		if err != nil {
			t.Error(err)
			continue
		}
		var r diag.Reporter
		f = desugar.File(f, &r)
		for _, err := range r.Errors() {
			chunk.GotKindError(int(err.Pos.Line), err.Kind.String(), err.Msg)
		}
		if !r.Failed() {
			if err := resolve.File(f, isUniversal); err != nil {
				for _, err := range err.(resolve.ErrorList) {
					chunk.GotKindError(int(err.Pos.Line), err.Kind.String(), err.Msg)
				}
			}
		}
		chunk.Done()
	}
}

// resolveSource desugars and resolves src, failing the test on error.
func resolveSource(t *testing.T, src string) *syntax.File {
	t.Helper()
	f, err := syntax.Parse("test.py", src)
	if err != nil {
		t.Fatal(err)
	}
	var r diag.Reporter
	f = desugar.File(f, &r)
	if err := r.Errors().Err(); err != nil {
		t.Fatal(err)
	}
	if err := resolve.File(f, isUniversal); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestClosureCells(t *testing.T) {
	f := resolveSource(t, `
def outer(k):
    n = 0
    def mid():
        def inner():
            nonlocal n
            n += k
            return n
        return inner
    return mid
`)
	outer := f.Stmts[0].(*syntax.DefStmt)
	mid := outer.Body[1].(*syntax.DefStmt)
	inner := mid.Body[0].(*syntax.DefStmt)

	outerScope := resolve.ScopeOf(outer)
	var kinds []string
	for _, b := range outerScope.Locals {
		kinds = append(kinds, b.Name+":"+b.Kind())
	}
	// A captured parameter stays a parameter but lives in a cell.
	if diff := cmp.Diff([]string{"k:cell", "n:cell", "mid:local"}, kinds); diff != "" {
		t.Errorf("outer locals (-want +got):\n%s", diff)
	}
	if !outerScope.Locals[0].Param {
		t.Errorf("k is not a parameter")
	}

	// mid uses neither n nor k itself, but carries both to inner.
	midScope := resolve.ScopeOf(mid)
	innerScope := resolve.ScopeOf(inner)
	if got, want := len(midScope.FreeVars), 2; got != want {
		t.Fatalf("mid has %d free variables, want %d", got, want)
	}
	for _, fv := range innerScope.FreeVars {
		if fv.Scope != syntax.FreeScope {
			t.Errorf("inner free var %s has scope %s", fv.Name, fv.Scope)
		}
		outerB := fv.Outer
		if outerB == nil || outerB.Scope != syntax.FreeScope || outerB.Outer == nil || outerB.Outer.Scope != syntax.CellScope {
			t.Errorf("free var %s: broken chain to the defining cell", fv.Name)
		}
	}
}

func TestClassScope(t *testing.T) {
	f := resolveSource(t, `
class Point:
    origin = 0

    def __init__(self, x):
        self.x = x

    @staticmethod
    def zero():
        return Point(0)
`)
	class := f.Stmts[0].(*syntax.ClassStmt)
	scope := resolve.ScopeOf(class)
	if scope.Kind != resolve.ClassScope {
		t.Fatalf("class scope kind = %s", scope.Kind)
	}
	var names []string
	for _, b := range scope.Locals {
		if b.Scope != syntax.ClassAttrScope {
			t.Errorf("%s: got %s, want class attribute", b.Name, b.Scope)
		}
		names = append(names, b.Name)
	}
	if diff := cmp.Diff([]string{"origin", "__init__", "zero"}, names); diff != "" {
		t.Errorf("class attributes (-want +got):\n%s", diff)
	}

	zero := class.Body[2].(*syntax.DefStmt)
	if zero.Kind != syntax.StaticMethodFunc {
		t.Errorf("zero.Kind = %s", zero.Kind)
	}
	ret := zero.Body[0].(*syntax.ReturnStmt)
	fn := ret.Result.(*syntax.CallExpr).Fn.(*syntax.Ident)
	if fn.Binding.Scope != syntax.GlobalScope {
		t.Errorf("Point inside its method: got %s, want global", fn.Binding.Scope)
	}
}

func TestComprehensionScope(t *testing.T) {
	f := resolveSource(t, "ys = [x + 1 for x in range(3) if x]\n")
	call := f.Stmts[0].(*syntax.AssignStmt).RHS.(*syntax.CallExpr)
	lambda := call.Fn.(*syntax.LambdaExpr)
	if lambda.Kind != syntax.ComprehensionFunc {
		t.Fatalf("comprehension desugared to %s", lambda.Kind)
	}
	scope := resolve.ScopeOf(lambda)
	if scope.Generator {
		t.Errorf("list comprehension marked as generator")
	}
	var kinds []string
	for _, b := range scope.Locals {
		kinds = append(kinds, b.Kind())
	}
	// the iterable parameter, the accumulator, the loop variable
	if diff := cmp.Diff([]string{"parameter", "local", "local"}, kinds); diff != "" {
		t.Errorf("comprehension locals (-want +got):\n%s", diff)
	}
	mod := f.Module.(*resolve.Module)
	if len(mod.Globals()) != 1 || mod.Globals()[0].Name != "ys" {
		t.Errorf("module globals: %v", mod.Globals())
	}
	if got := call.Args[0].(*syntax.CallExpr).Fn.(*syntax.Ident).Binding.Scope; got != syntax.UniversalScope {
		t.Errorf("range resolved as %s", got)
	}
}

func TestNewLocal(t *testing.T) {
	f := resolveSource(t, "class C:\n    def m(self):\n        pass\n")
	mod := f.Module.(*resolve.Module)
	class := resolve.ScopeOf(f.Stmts[0].(*syntax.ClassStmt))

	// Temporaries requested in a class body belong to the module.
	id := class.NewLocal(syntax.Start(f), "t")
	if id.Binding.Scope != syntax.GlobalScope || mod.Globals()[id.Binding.Index] != id.Binding {
		t.Errorf("class temporary: %+v", id.Binding)
	}
	m := resolve.ScopeOf(f.Stmts[0].(*syntax.ClassStmt).Body[0].(*syntax.DefStmt))
	id2 := m.NewLocal(syntax.Start(f), "t")
	if id2.Binding.Scope != syntax.LocalScope || m.Locals[id2.Binding.Index] != id2.Binding {
		t.Errorf("function temporary: %+v", id2.Binding)
	}
	if m.Lookup(id2.Name) != id2.Binding {
		t.Errorf("Lookup(%s) failed", id2.Name)
	}
}

func TestModuleShadowsUniversal(t *testing.T) {
	f := resolveSource(t, "def len(x):\n    return 0\ny = len([])\n")
	call := f.Stmts[1].(*syntax.AssignStmt).RHS.(*syntax.CallExpr)
	if got := call.Fn.(*syntax.Ident).Binding.Scope; got != syntax.GlobalScope {
		t.Errorf("len resolved as %s, want global", got)
	}
}
