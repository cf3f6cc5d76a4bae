package desugar

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/syntax"
)

func desugar(t *testing.T, src string) *syntax.File {
	t.Helper()
	f, err := syntax.Parse("test.py", src)
	if err != nil {
		t.Fatal(err)
	}
	var r diag.Reporter
	f = File(f, &r)
	if err := r.Errors().Err(); err != nil {
		t.Fatal(err)
	}
	return f
}

// shape returns a compact description of a statement list: one entry
// per statement, naming its type and, for assignments, its target.
func shape(stmts []syntax.Stmt) []string {
	var out []string
	for _, s := range stmts {
		switch s := s.(type) {
		case *syntax.AssignStmt:
			out = append(out, "assign "+target(s.LHS)+" = "+value(s.RHS))
		case *syntax.ExprStmt:
			out = append(out, "expr "+value(s.X))
		case *syntax.IfStmt:
			out = append(out, "if")
		case *syntax.ForStmt:
			out = append(out, "for "+target(s.Vars))
		case *syntax.WhileStmt:
			out = append(out, "while")
		case *syntax.TryStmt:
			out = append(out, "try")
		case *syntax.DefStmt:
			out = append(out, "def "+s.Name.Name)
		case *syntax.BranchStmt:
			out = append(out, s.Token.String())
		case *syntax.ReturnStmt:
			out = append(out, "return")
		default:
			out = append(out, "?")
		}
	}
	return out
}

func target(x syntax.Expr) string {
	switch x := x.(type) {
	case *syntax.Ident:
		if strings.HasPrefix(x.Name, "$") {
			return "$"
		}
		return x.Name
	case *syntax.DotExpr:
		return target(x.X) + "." + x.Name.Name
	case *syntax.IndexExpr:
		return target(x.X) + "[" + target(x.Y) + "]"
	}
	return "?"
}

func value(x syntax.Expr) string {
	switch x := x.(type) {
	case *syntax.Intrinsic:
		return x.Name + "()"
	case *syntax.CallExpr:
		if _, ok := x.Fn.(*syntax.LambdaExpr); ok {
			return "comprehension()"
		}
		return "call"
	case *syntax.BinaryExpr:
		return x.Op.String()
	case *syntax.Literal:
		if x.Token == syntax.STRING {
			return "lit"
		}
		return x.Raw
	case *syntax.Ident:
		return target(x)
	}
	return "..."
}

func TestAssignment(t *testing.T) {
	for _, test := range []struct {
		src  string
		want []string
	}{
		{"a, b = b, a + b", []string{"assign $ = b", "assign $ = +", "assign a = $", "assign b = $"}},
		{"a = b = f()", []string{"assign $ = call", "assign a = $", "assign b = $"}},
		{"a, *b = xs", []string{"assign $ = unpack_star()", "assign a = tuple_get()", "assign b = tuple_get()"}},
		{"(a, b), c = xs", []string{"assign $ = unpack()", "assign $ = unpack()", "assign a = tuple_get()", "assign b = tuple_get()", "assign c = tuple_get()"}},
		{"x.y += 1", []string{"assign $ = x", "assign $.y = +"}},
		{"x[f()] -= 1", []string{"assign $ = x", "assign $ = call", "assign $[$] = -"}},
		{"n: int", []string{"pass"}},
		{"n: int = 0", []string{"assign n = 0"}},
	} {
		f := desugar(t, test.src)
		if diff := cmp.Diff(test.want, shape(f.Stmts)); diff != "" {
			t.Errorf("%s: (-want +got)\n%s", test.src, diff)
		}
	}
}

func TestLoops(t *testing.T) {
	f := desugar(t, `
for i, x in pairs:
    if x:
        break
else:
    done()
`)
	if diff := cmp.Diff([]string{"assign $ = False", "for $", "if"}, shape(f.Stmts)); diff != "" {
		t.Fatalf("for/else (-want +got)\n%s", diff)
	}
	loop := f.Stmts[1].(*syntax.ForStmt)
	want := []string{"assign $ = unpack()", "assign i = tuple_get()", "assign x = tuple_get()", "if"}
	if diff := cmp.Diff(want, shape(loop.Body)); diff != "" {
		t.Errorf("loop body (-want +got)\n%s", diff)
	}
	brk := loop.Body[3].(*syntax.IfStmt).True
	if diff := cmp.Diff([]string{"assign $ = True", "break"}, shape(brk)); diff != "" {
		t.Errorf("break (-want +got)\n%s", diff)
	}
}

func TestWith(t *testing.T) {
	f := desugar(t, `
with open(p) as fh, lock:
    use(fh)
`)
	want := []string{"assign $ = call", "assign fh = call", "assign $ = True", "try"}
	if diff := cmp.Diff(want, shape(f.Stmts)); diff != "" {
		t.Fatalf("(-want +got)\n%s", diff)
	}
	try := f.Stmts[3].(*syntax.TryStmt)
	if len(try.Handlers) != 1 || len(try.Finally) != 1 {
		t.Fatalf("got %d handlers, %d finally statements", len(try.Handlers), len(try.Finally))
	}
	// The second manager is entered inside the first.
	want = []string{"assign $ = lock", "expr call", "assign $ = True", "try"}
	if diff := cmp.Diff(want, shape(try.Body)); diff != "" {
		t.Errorf("inner (-want +got)\n%s", diff)
	}
}

func TestComprehension(t *testing.T) {
	f := desugar(t, `
def f(xs):
    return [x * y for x in xs if x for y in range(x)]
`)
	def := f.Stmts[0].(*syntax.DefStmt)
	call := def.Body[0].(*syntax.ReturnStmt).Result.(*syntax.CallExpr)
	lambda := call.Fn.(*syntax.LambdaExpr)
	if lambda.Kind != syntax.ComprehensionFunc {
		t.Errorf("kind = %s", lambda.Kind)
	}
	if got, want := lambda.Name, "f.<locals>.<listcomp>"; got != want {
		t.Errorf("name = %s, want %s", got, want)
	}
	if id, ok := call.Args[0].(*syntax.Ident); !ok || id.Name != "xs" {
		t.Errorf("first iterable is not evaluated by the caller")
	}
	want := []string{"assign $ = ...", "for x", "return"}
	if diff := cmp.Diff(want, shape(lambda.Body)); diff != "" {
		t.Errorf("(-want +got)\n%s", diff)
	}
}

func TestFString(t *testing.T) {
	f := desugar(t, `s = f"a{x!r}b{y:>4}{z}"`)
	join := f.Stmts[0].(*syntax.AssignStmt).RHS.(*syntax.Intrinsic)
	var names []string
	for _, arg := range join.Args {
		names = append(names, value(arg))
	}
	want := []string{"lit", "repr()", "lit", "format()", "str()"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("(-want +got)\n%s", diff)
	}
}

func TestDecorators(t *testing.T) {
	f := desugar(t, `
class C:
    @staticmethod
    def s(): pass

    @property
    def p(self): return 1

    @trace
    @cache(8)
    def m(self): super().m()
`)
	class := f.Stmts[0].(*syntax.ClassStmt)
	want := []string{"def s", "def p", "assign $ = call", "def m", "assign m = call"}
	if diff := cmp.Diff(want, shape(class.Body)); diff != "" {
		t.Fatalf("(-want +got)\n%s", diff)
	}
	for i, kind := range map[int]syntax.FuncKind{0: syntax.StaticMethodFunc, 1: syntax.PropertyFunc, 3: syntax.MethodFunc} {
		def := class.Body[i].(*syntax.DefStmt)
		if def.Kind != kind {
			t.Errorf("%s: kind %s, want %s", def.Name.Name, def.Kind, kind)
		}
	}
	m := class.Body[3].(*syntax.DefStmt)
	if m.Name.Name != "m" || m.Function.Name != "C.m" {
		t.Errorf("qualified name = %s", m.Function.Name)
	}
	call := m.Body[0].(*syntax.ExprStmt).X.(*syntax.CallExpr)
	sup := call.Fn.(*syntax.DotExpr).X.(*syntax.Intrinsic)
	if sup.Name != "super" || sup.Args[0].(*syntax.Ident).Name != "C" || sup.Args[1].(*syntax.Ident).Name != "self" {
		t.Errorf("super() not bound to its class and instance")
	}
}

func TestSignature(t *testing.T) {
	f := desugar(t, `def f(a, b=1, *args, c, d=2, **kw): pass`)
	sig := f.Stmts[0].(*syntax.DefStmt).Sig
	var names []string
	for _, p := range sig.Params {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, names); diff != "" {
		t.Errorf("params (-want +got)\n%s", diff)
	}
	if sig.NumPos != 2 || sig.Varargs.Name != "args" || sig.Kwargs.Name != "kw" {
		t.Errorf("got NumPos=%d Varargs=%v Kwargs=%v", sig.NumPos, sig.Varargs, sig.Kwargs)
	}
	if sig.Defaults[0] != nil || sig.Defaults[1] == nil || sig.Defaults[2] != nil || sig.Defaults[3] == nil {
		t.Errorf("defaults misaligned")
	}
}

func TestFutureImport(t *testing.T) {
	f := desugar(t, "from __future__ import annotations, division\nx: int = 1\n")
	if diff := cmp.Diff([]string{"pass", "assign x = 1"}, shape(f.Stmts)); diff != "" {
		t.Errorf("statements (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	for _, test := range []struct {
		src, want string
	}{
		{"class C:\n    __slots__ = ()", "__slots__ is not supported"},
		{"import os", "module os is not available"},
		{"from __future__ import braces", "future feature braces is not defined"},
		{"def f():\n    super()", "only in methods"},
		{"class C(metaclass=M): pass", "class keyword arguments"},
		{"match v:\n    case [x] | [y]: pass", "bind different names"},
		{"def f(a=1, b): pass", "non-default argument follows default argument"},
		{"class C:\n    xs = [(y := x) for x in range(3)]", "cannot be used in a class body"},
		{"f(**kw, *args)", "follows keyword argument unpacking"},
		{"class C:\n    @p.setter\n    def p(self, v): pass", "property setter is not supported"},
		{"def f(xs):\n    return [(yield x) for x in xs]", "'yield' inside a comprehension"},
	} {
		f, err := syntax.Parse("test.py", test.src)
		if err != nil {
			t.Errorf("%q: %v", test.src, err)
			continue
		}
		var r diag.Reporter
		File(f, &r)
		err = r.Errors().Err()
		if err == nil {
			t.Errorf("%q: got no error, want %q", test.src, test.want)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("%q: got %v, want %q", test.src, err, test.want)
		}
	}
}
