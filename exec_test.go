package p2w_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev"
	"go.p2w.dev/p2wtest"
)

// These tests run compiled programs and so need wasm-tools and node
// on PATH; they are skipped otherwise.
func TestExecute(t *testing.T) {
	engine := p2wtest.RequireEngine(t)
	for _, test := range []struct {
		name, src, want string
	}{
		{"factorial", `
def fact(n):
    r = 1
    for i in range(2, n + 1):
        r = r * i
    return r

print(fact(25))
`, "15511210043330985984000000\n"},
		{"fib", `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

print(fib(30))
`, "832040\n"},
		{"diamond", `
class A:
    def __init__(self):
        self.a = 1

class B(A):
    def set_b(self):
        self.b = 20

class C(A):
    def set_c(self):
        self.c = 300

class D(B, C):
    def total(self):
        return self.a + self.b + self.c

d = D()
d.set_b()
d.set_c()
print(d.total(), d.a, d.b, d.c)
`, "321 1 20 300\n"},
		{"exhausted generator", `
def two():
    yield 1
    yield 2

g = two()
print(list(g))
print(list(g))
print(next(g, "done"))
`, "[1, 2]\n[]\ndone\n"},
		{"finally once", `
def f(n):
    for i in range(n):
        try:
            if i == 1:
                return i
            if i == 0:
                continue
        finally:
            print("finally", i)
    return -1

print(f(3))

try:
    try:
        raise ValueError("x")
    finally:
        print("cleanup")
except ValueError as e:
    print("caught", e)
`, "finally 0\nfinally 1\n1\ncleanup\ncaught x\n"},
		{"late binding", `
class Parent:
    def greet(self):
        return self.name()
    def name(self):
        return "parent"

class Child(Parent):
    def name(self):
        return "child"

print(Child().greet(), Parent().greet())
`, "child parent\n"},
		{"guarded wildcard", `
def m(v):
    match v:
        case _ if len(v) > 5:
            return "long"
        case [x, y]:
            return x + y
    return None

print(m([1, 2]), m([1, 2, 3]))
`, "3 None\n"},
		{"generator send", `
def acc():
    total = 0
    while True:
        x = yield total
        total += x

g = acc()
next(g)
g.send(5)
print(g.send(7))
`, "12\n"},
		{"int bases", `
print(bin(10), oct(-8), hex(255), hex(-1))
print(hex(2**64), len(bin(2**70 + 1)), oct(-(8**25)), f"{2**64:x}", f"{-(2**65):b}")
`, "0b1010 -0o10 0xff -0x1\n" +
			"0x10000000000000000 73 -0o10000000000000000000000000 10000000000000000 -1" + strings.Repeat("0", 65) + "\n"},
		{"ascii", `
print(ascii("héllo ☃ 𝄞"), ascii(["ü"]), ascii("plain"))
`, `'h\xe9llo \u2603 \U0001d11e' ['\xfc'] 'plain'` + "\n"},
		{"identity", `
class A:
    pass

a, b = A(), A()
print(id(a) == id(a), id(a) == id(b), id(a) > 0)
`, "True False True\n"},
		{"string predicates", `
print("123".isdigit(), "12a".isdigit(), "".isdigit(), "abC".isalpha(), "a1".isalnum(), " \t\n".isspace())
print("ABC1".isupper(), "AbC".isupper(), "abc!".islower(), "123".islower())
`, "True False False True True True\nTrue False True False\n"},
		{"string padding", `
print(repr("42".zfill(5)), repr("-42".zfill(5)), repr("ab".ljust(4, "*")), repr("ab".rjust(4)), repr("ab".center(5, "-")), repr("abc".center(6)))
`, "'00042' '-0042' 'ab**' '  ab' '--ab-' ' abc  '\n"},
		{"string case", `
print("hello world 3rd".title(), "hELLO".capitalize(), "AbC".swapcase(), "banana".rfind("an"), "banana".rfind("x"))
`, "Hello World 3Rd Hello aBc 3 -1\n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			prog, err := p2w.CompileFile(test.name+".py", test.src, nil)
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			res, err := engine.Run(ctx, prog.WAT)
			if err != nil {
				t.Fatal(err)
			}
			if res.Uncaught {
				t.Fatalf("uncaught exception:\n%s", res.Stderr)
			}
			if diff := cmp.Diff(test.want, res.Stdout); diff != "" {
				t.Errorf("output (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecuteUncaught(t *testing.T) {
	engine := p2wtest.RequireEngine(t)
	prog, err := p2w.CompileFile("boom.py", `
def f():
    raise KeyError("inner")

try:
    f()
except KeyError as e:
    raise RuntimeError("outer") from e
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := engine.Run(context.Background(), prog.WAT)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Uncaught {
		t.Fatalf("no uncaught exception; stdout %q", res.Stdout)
	}
	for _, want := range []string{"KeyError", "direct cause", "RuntimeError: outer"} {
		if !strings.Contains(res.Stderr, want) {
			t.Errorf("traceback lacks %q:\n%s", want, res.Stderr)
		}
	}
}
