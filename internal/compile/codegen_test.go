package compile_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/compile"
)

func mustCompile(t *testing.T, src string, opts compile.Options) *compile.Program {
	t.Helper()
	prog, err := compile.Source("test.py", src, opts)
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

// compiled returns the text of the functions compiled from source
// functions, leaving out the runtime.
func compiled(wat string) string {
	var b strings.Builder
	for _, part := range strings.Split(wat, "\n  (")[1:] {
		if strings.HasPrefix(part, "func $fn#") {
			b.WriteString(part)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func TestTrivial(t *testing.T) {
	for _, src := range []string{"", "pass\n", "print(1)\n"} {
		prog, err := compile.Source("test.py", src, compile.Options{})
		if err != nil {
			t.Errorf("%q: %v", src, err)
			continue
		}
		if !strings.Contains(prog.WAT, "(func $rt_init") || !strings.Contains(prog.WAT, "call $rt_init") {
			t.Errorf("%q: entry point does not run the runtime startup", src)
		}
	}
}

// Each program compiles to a balanced module: the instruction emitter
// panics on an unbalanced stack, which the pipeline reports as an error.
func TestPrograms(t *testing.T) {
	for _, test := range []struct {
		name, src string
	}{
		{"factorial", `
def fact(n):
    r = 1
    for i in range(2, n + 1):
        r = r * i
    return r

print(fact(25))
`},
		{"fib", `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

print(fib(30))
`},
		{"diamond", `
class A:
    def __init__(self):
        self.a = 1

class B(A):
    def set_b(self):
        self.b = 2

class C(A):
    def set_c(self):
        self.c = 3

class D(B, C):
    def total(self):
        return self.a + self.b + self.c

d = D()
d.set_b()
d.set_c()
print(d.total())
`},
		{"generator", `
def count(n):
    i = 0
    while i < n:
        yield i
        i += 1

g = count(2)
print(next(g), next(g))
for x in g:
    print("never", x)
`},
		{"finally", `
def f():
    for i in range(3):
        try:
            if i == 1:
                return i
        finally:
            print("finally", i)
    return -1

print(f())
`},
		{"late binding", `
class Parent:
    def greet(self):
        return self.name()
    def name(self):
        return "parent"

class Child(Parent):
    def name(self):
        return "child"

print(Child().greet())
`},
		{"match", `
def m(v):
    match v:
        case _ if False:
            return "guarded"
        case [x, y]:
            return x + y
    return None

print(m([1, 2]))
`},
		{"closures", `
def counter():
    n = 0
    def inc(step=1):
        nonlocal n
        n += step
        return n
    return inc

c = counter()
c()
print(c(step=2), [x * x for x in range(4)], {k: v for k, v in [(1, 2)]})
`},
		{"exceptions", `
class Oops(ValueError):
    pass

try:
    try:
        raise Oops("a")
    except ValueError as e:
        raise RuntimeError("b") from e
except RuntimeError as e:
    print(str(e), isinstance(e.__cause__, Oops))
`},
		{"generator argument", `
values = [3, -1, 4]
print(sum(v for v in values if v > 0), all(n % 2 == 0 for n in values))
`},
		{"conversions", `
from __future__ import annotations

n: int = 2**70
print(bin(n), oct(-8), hex(255), ascii("é"), id([]) >= 0)
print("7".zfill(3), "ab".center(6, "*"), "x y".title(), "abc".rfind("c"), "A1".isalnum())
`},
		{"send", `
def echo():
    got = yield 1
    while got is not None:
        got = yield got * 2

g = echo()
print(next(g), g.send(5))
`},
	} {
		prog := mustCompile(t, test.src, compile.Options{})
		for _, want := range []string{"(func $_start", "(func $main", `(export "_start"`} {
			if !strings.Contains(prog.WAT, want) {
				t.Errorf("%s: module lacks %s", test.name, want)
			}
		}
	}
}

func TestExports(t *testing.T) {
	prog := mustCompile(t, "print(1)\n", compile.Options{})
	if diff := cmp.Diff([]string{"_start", "memory", "event_callback"}, prog.Exports); diff != "" {
		t.Errorf("exports (-want +got):\n%s", diff)
	}
}

func TestModuleName(t *testing.T) {
	for _, test := range []struct {
		opts compile.Options
		want string
	}{
		{compile.Options{}, "(module $test"},
		{compile.Options{Module: "app"}, "(module $app"},
	} {
		prog := mustCompile(t, "x = 1\n", test.opts)
		if !strings.HasPrefix(prog.WAT, test.want) {
			t.Errorf("Module=%q: module starts %.40q, want %s", test.opts.Module, prog.WAT, test.want)
		}
	}
}

// A method reads the fields of self from their slots.
func TestInlineSlots(t *testing.T) {
	prog := mustCompile(t, `
class P:
    def __init__(self, x, y):
        self.x = x
        self.y = y
    def sum(self):
        return self.x + self.y

print(P(1, 2).sum())
`, compile.Options{})
	methods := compiled(prog.WAT)
	for _, want := range []string{"struct.set $Obj1 $f0", "struct.set $Obj2 $f1", "struct.get $Obj1 $f0", "struct.get $Obj2 $f1"} {
		if !strings.Contains(methods, want) {
			t.Errorf("module lacks %q", want)
		}
	}
}

// A method that rebinds self must not use the slots.
func TestReboundSelf(t *testing.T) {
	prog := mustCompile(t, `
class P:
    def __init__(self):
        self.x = 1
    def other(self, o):
        self = o
        return self.x

print(P().other(P()))
`, compile.Options{})
	if strings.Contains(compiled(prog.WAT), "struct.get $Obj1 $f0") {
		t.Error("rebound self reads a slot")
	}
}

var genTypeRE = regexp.MustCompile(`\(type \$gen#\d+ \(sub final \$Gen \(struct ([^\n]*)`)

// A generator record extends $Gen with one field per local.
func TestGeneratorRecord(t *testing.T) {
	prog := mustCompile(t, `
def pairs(xs):
    prev = None
    for x in xs:
        if prev is not None:
            yield (prev, x)
        prev = x

print(list(pairs([1, 2, 3])))
`, compile.Options{})
	m := genTypeRE.FindStringSubmatch(prog.WAT)
	if m == nil {
		t.Fatal("no generator record type")
	}
	for _, want := range []string{"(field $state (mut i32))", "(field $status (mut i32))", "(field $l0 (mut eqref))"} {
		if !strings.Contains(m[1], want) {
			t.Errorf("generator record %s lacks %s", m[1], want)
		}
	}
	if !strings.Contains(prog.WAT, "br_table $s0") {
		t.Error("resume function does not dispatch on the state")
	}
}

func TestDebugComments(t *testing.T) {
	const src = "x = 1\nprint(x)\n"
	plain := mustCompile(t, src, compile.Options{})
	debug := mustCompile(t, src, compile.Options{Debug: true})
	if strings.Contains(plain.WAT, ";; test.py:2:1") {
		t.Error("position comment without Debug")
	}
	if !strings.Contains(debug.WAT, ";; test.py:2:1") {
		t.Error("Debug did not annotate statement positions")
	}
}

// Unboxed locals are wasm locals of the machine type.
func TestUnboxedLoop(t *testing.T) {
	prog := mustCompile(t, `
def total(n):
    s = 0
    for i in range(n):
        s += i
    return s

print(total(10))
`, compile.Options{})
	for _, want := range []string{"(local $i i64)", "i64.add"} {
		if !strings.Contains(prog.WAT, want) {
			t.Errorf("module lacks %q", want)
		}
	}
}

func TestExhaustiveMatch(t *testing.T) {
	const src = `
def m(v):
    match v:
        case 1:
            return "one"

print(m(2))
`
	mustCompile(t, src, compile.Options{})
	_, err := compile.Source("test.py", src, compile.Options{ExhaustiveMatch: true})
	if err == nil || !strings.Contains(err.Error(), "not exhaustive") {
		t.Errorf("ExhaustiveMatch: got error %v, want not exhaustive", err)
	}
}
