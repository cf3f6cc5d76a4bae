package object_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/desugar"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/lower"
	"go.p2w.dev/internal/object"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

func isUniversal(name string) bool {
	for _, b := range object.BuiltinNames() {
		if b == name {
			return true
		}
	}
	return name == "print" || name == "len"
}

func build(t *testing.T, src string) (*syntax.File, *object.Model, error) {
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
	info, err := repr.File(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := lower.File(f, info, lower.Options{}); err != nil {
		t.Fatal(err)
	}
	m, err := object.Build(f)
	return f, m, err
}

func mustBuild(t *testing.T, src string) *object.Model {
	t.Helper()
	_, m, err := build(t, src)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func class(m *object.Model, name string) *object.Class {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

const diamond = `
class A:
    def __init__(self):
        self.a = 1

class B(A):
    def __init__(self):
        self.b = 2
        self.a = 0

class C(A):
    def __init__(self):
        self.c = 3

class D(B, C):
    def __init__(self):
        self.d = 4
`

func TestLinearization(t *testing.T) {
	m := mustBuild(t, diamond+`
class E(Exception):
    pass

class F(E, D):
    pass
`)
	for _, test := range []struct{ class, want string }{
		{"A", "A object"},
		{"B", "B A object"},
		{"D", "D B C A object"},
		{"E", "E Exception BaseException object"},
		{"F", "F E Exception BaseException D B C A object"},
	} {
		var names []string
		for _, c := range class(m, test.class).MRO {
			names = append(names, c.Name)
		}
		if got := strings.Join(names, " "); got != test.want {
			t.Errorf("MRO of %s = %s, want %s", test.class, got, test.want)
		}
	}
}

// Every field keeps the slot its declaring class gave it in the
// instances of every class that inherits it.
func TestDiamondSlots(t *testing.T) {
	m := mustBuild(t, diamond)
	for _, c := range m.Classes {
		for _, anc := range c.MRO {
			for _, f := range anc.Own {
				want := anc.Slot(f)
				if got := c.Slot(f); got != want {
					t.Errorf("field %s.%s: slot %d in %s, want %d", anc.Name, f, got, c.Name, want)
				}
			}
		}
	}
	want := map[string]string{
		"A": "A(object) [a]",
		"B": "B(A object) [a b]",
		"C": "C(A object) [a _ c]",
		"D": "D(B C A object) [a b c d]",
	}
	for name, w := range want {
		if got := class(m, name).Describe(); got != w {
			t.Errorf("got %s, want %s", got, w)
		}
	}
	if m.Width != 4 {
		t.Errorf("width = %d, want 4", m.Width)
	}
}

func TestSharedFieldName(t *testing.T) {
	m := mustBuild(t, `
class B:
    def __init__(self):
        self.x = 1

class C:
    def set(self, v):
        self.y = v
        self.x = v

class D(B, C):
    pass
`)
	d := class(m, "D")
	if d.Slot("x") != class(m, "B").Slot("x") || d.Slot("x") != class(m, "C").Slot("x") {
		t.Errorf("x is not shared: %s / %s / %s", class(m, "B").Describe(), class(m, "C").Describe(), d.Describe())
	}
	if d.Slot("y") == d.Slot("x") {
		t.Errorf("x and y collide in %s", d.Describe())
	}
}

func TestExceptionFields(t *testing.T) {
	m := mustBuild(t, `
class AppError(ValueError):
    def __init__(self, code):
        self.code = code
`)
	c := class(m, "AppError")
	if diff := cmp.Diff([]string{"args", "__cause__", "__context__", "code"}, c.Slots); diff != "" {
		t.Errorf("slots (-want +got)\n%s", diff)
	}
}

func TestSelectors(t *testing.T) {
	m := mustBuild(t, `
class Base:
    def greet(self):
        return "base"

class Child(Base):
    def greet(self):
        return "child"

    def __eq__(self, other):
        return True
`)
	for i, name := range object.Specials {
		if got, _ := m.Selector(name); got != i {
			t.Errorf("selector of %s = %d, want %d", name, got, i)
		}
	}
	if _, ok := m.Selector("append"); !ok {
		t.Errorf("builtin method append has no selector")
	}
	greet, ok := m.Selector("greet")
	if !ok || m.Selectors[greet] != "greet" {
		t.Errorf("greet: selector %d, %t", greet, ok)
	}
	if got := len(m.Selectors); got != greet+1 {
		t.Errorf("greet is not the last selector: %d selectors", got)
	}
}

func TestFrames(t *testing.T) {
	f, m, err := build(t, `
def counter(start, *rest):
    n = start
    def inc():
        nonlocal n
        n += 1
        return n
    return inc

def gen(xs):
    for x in xs:
        yield x
`)
	if err != nil {
		t.Fatal(err)
	}
	counter := &f.Stmts[0].(*syntax.DefStmt).Function
	fr := m.Frames[counter]
	var names []string
	for _, b := range fr.Params {
		names = append(names, b.Name)
	}
	if diff := cmp.Diff([]string{"start", "rest"}, names); diff != "" {
		t.Errorf("params (-want +got)\n%s", diff)
	}
	if len(fr.Cells) != 1 || fr.Cells[0].Name != "n" {
		t.Errorf("cells = %v", fr.Cells)
	}
	inc := &counter.Body[1].(*syntax.DefStmt).Function
	if free := m.Frames[inc].Free; len(free) != 1 || free[0].Name != "n" {
		t.Errorf("free variables of inc = %v", free)
	}

	gen := &f.Stmts[1].(*syntax.DefStmt).Function
	if rec := m.Frames[gen].Record; len(rec) < 2 {
		t.Errorf("generator record holds %d locals", len(rec))
	}
}

func TestLayoutErrors(t *testing.T) {
	for _, test := range []struct {
		src, want string
	}{
		{"class A: pass\nclass B(A, A): pass", "duplicate base class A"},
		{"class A: pass\nclass B(A): pass\nclass C(A, B): pass", "consistent method resolution order"},
		{"class L(list): pass", "subclassing builtin type list"},
		{"def f(): return object\nclass B(f()): pass", "must be a class name"},
		{"class A: pass\nA = 1\nclass B(A): pass", "is reassigned"},
		{"k = 1\nclass B(k): pass", "not a class defined earlier"},
	} {
		_, _, err := build(t, test.src)
		if err == nil {
			t.Errorf("%q: no error, want %q", test.src, test.want)
			continue
		}
		errs := err.(diag.ErrorList)
		if errs[0].Kind != diag.ClassLayout || !strings.Contains(errs[0].Msg, test.want) {
			t.Errorf("%q: got %s %v, want %q", test.src, errs[0].Kind, errs[0], test.want)
		}
	}
}
