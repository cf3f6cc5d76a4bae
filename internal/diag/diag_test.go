package diag_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/syntax"
)

func TestCascadeSuppression(t *testing.T) {
	f, err := syntax.Parse("c.py", "x = f(a, b)\ny = g\n")
	if err != nil {
		t.Fatal(err)
	}
	assign := f.Stmts[0].(*syntax.AssignStmt)
	call := assign.RHS.(*syntax.CallExpr)

	var r diag.Reporter
	r.Errorf(call, diag.SyntaxShape, "bad call")
	r.Errorf(call.Args[1], diag.UnboundName, "undefined: b") // inside the call: dropped
	r.Errorf(f.Stmts[1], diag.UnboundName, "undefined: g")   // sibling: kept
	r.Errorf(assign.LHS, diag.ClassLayout, "before the call")

	var got []string
	for _, e := range r.Errors() {
		got = append(got, e.Kind.String()+" "+e.Error())
	}
	want := []string{
		"ClassLayoutError c.py:1:1: before the call",
		"SyntaxShapeError c.py:1:5: bad call",
		"UnboundNameError c.py:2:1: undefined: g",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorList(t *testing.T) {
	var r diag.Reporter
	if r.Failed() || r.Errors().Err() != nil {
		t.Fatal("empty reporter failed")
	}
	file := "l.py"
	r.ErrorAt(syntax.MakePosition(&file, 3, 1), diag.UnboundName, "three")
	r.ErrorAt(syntax.MakePosition(&file, 1, 4), diag.UnboundName, "one")
	err := r.Errors().Err()
	if err == nil {
		t.Fatal("no error")
	}
	if got, want := err.Error(), "l.py:1:4: one (and 1 more errors)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecover(t *testing.T) {
	f, err := syntax.Parse("r.py", "x = 1\n")
	if err != nil {
		t.Fatal(err)
	}
	var r diag.Reporter
	func() {
		defer r.Recover("repr", syntax.Start(f))
		diag.Invariant(f.Stmts[0], "no representation for %s", "x")
	}()
	func() {
		defer r.Recover("codegen", syntax.Start(f))
		var m map[string]int
		m["boom"]++ // nil map write
	}()
	errs := r.Errors()
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !strings.Contains(errs[1].Msg, "internal error in codegen") {
		t.Errorf("second error: %q", errs[1].Msg)
	}
	if errs[0].Kind != diag.RepresentationConflict || !strings.Contains(errs[0].Msg, "no representation for x") {
		t.Errorf("got %v %q", errs[0].Kind, errs[0].Msg)
	}
}
