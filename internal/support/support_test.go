package support_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/desugar"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/lower"
	"go.p2w.dev/internal/object"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/support"
	"go.p2w.dev/internal/wat"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

func library(t *testing.T) *support.Library {
	t.Helper()
	lib, err := support.Load()
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

func model(t *testing.T, src string) *object.Model {
	t.Helper()
	lib := library(t)
	universe := make(map[string]bool)
	for _, name := range append(object.BuiltinNames(), lib.Functions()...) {
		universe[name] = true
	}
	f, err := syntax.Parse("test.py", src)
	if err != nil {
		t.Fatal(err)
	}
	var r diag.Reporter
	f = desugar.File(f, &r)
	if err := r.Errors().Err(); err != nil {
		t.Fatal(err)
	}
	if err := resolve.File(f, func(name string) bool { return universe[name] }); err != nil {
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
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuiltinMethods(t *testing.T) {
	lib := library(t)
	for typ, methods := range object.BuiltinMethods() {
		for _, m := range methods {
			if id := "$bm:" + typ + "." + m; !lib.Has(id) {
				t.Errorf("builtin method %s.%s has no runtime function %s", typ, m, id)
			}
		}
	}
	for _, name := range []string{"print", "len", "isinstance", "next", "iter", "sorted", "divmod", "bin", "oct", "hex", "ascii", "id"} {
		found := false
		for _, fn := range lib.Functions() {
			found = found || fn == name
		}
		if !found {
			t.Errorf("builtin function %s is missing", name)
		}
	}
	for _, fn := range lib.Functions() {
		if fn == "int" || fn == "list" || fn == "object" {
			t.Errorf("Functions includes the class %s", fn)
		}
	}
}

func TestSignatures(t *testing.T) {
	lib := library(t)
	for _, test := range []struct {
		id   string
		want wat.Sig
	}{
		{"$binop", wat.Sig{Params: []string{"i32", "eqref", "eqref"}, Results: []string{"eqref"}}},
		{"$truthy", wat.Sig{Params: []string{"eqref"}, Results: []string{"i32"}}},
		{"$env.write", wat.Sig{Params: []string{"i32", "i32"}}},
	} {
		got, ok := lib.FuncSig(test.id)
		if !ok {
			t.Errorf("%s: no signature", test.id)
			continue
		}
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("%s: signature (-want +got):\n%s", test.id, diff)
		}
	}
	if n, ok := lib.Fields("$Closure"); !ok || n != 4 {
		t.Errorf("$Closure has %d fields, want 4", n)
	}
}

func TestStrGlobal(t *testing.T) {
	long := strings.Repeat("x", 100)
	for _, test := range []struct{ s, want string }{
		{"", "$s:"},
		{"_", "$s:_"},
		{"a b", "$s:a%20b"},
		{"__init__", "$s:__init__"},
	} {
		if got := support.StrGlobal(test.s); got != test.want {
			t.Errorf("StrGlobal(%q) = %s, want %s", test.s, got, test.want)
		}
	}
	if a, b := support.StrGlobal(long), support.StrGlobal(long+"y"); a == b || !strings.HasPrefix(a, "$s:xxxxxxxxxxxxxxxx#") {
		t.Errorf("long strings: %s, %s", a, b)
	}
}

var (
	useRE = regexp.MustCompile(`\((?:call|return_call|global\.get|global\.set|ref\.func) (\$[^\s()]+)`)
	defRE = regexp.MustCompile(`\((?:func|global|data) (\$[^\s()]+)`)
)

func link(t *testing.T, src string, uses []string, strs ...string) string {
	t.Helper()
	lib := library(t)
	m := wat.NewModule("test")
	pool := support.NewPool()
	for _, s := range strs {
		uses = append(uses, pool.Ref(s))
	}
	if err := lib.Link(m, model(t, src), pool, uses); err != nil {
		t.Fatal(err)
	}
	text, err := m.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	return text
}

// Every function and global that the linked module refers to is
// defined in it.
func TestLinkClosed(t *testing.T) {
	// Compiled code creating class A refers to its allocator.
	text := link(t, "class A:\n    def __init__(self):\n        self.x = 1\n", []string{"$binop", "$call", "$report_uncaught", "$import", "$alloc#0"})
	defined := make(map[string]bool)
	for _, m := range defRE.FindAllStringSubmatch(text, -1) {
		defined[m[1]] = true
	}
	for _, m := range useRE.FindAllStringSubmatch(text, -1) {
		if !defined[m[1]] && !strings.HasPrefix(m[1], "$env.") && !strings.HasPrefix(m[1], "$dom.") {
			t.Errorf("%s is used but not defined", m[1])
		}
	}
	for _, want := range []string{
		"(func $rt_init",
		"(func $slot_load",
		"(func $alloc#0 (type $Alloc)",
		"(type $inst#0 (sub final $Obj1",
		"(global $cls:ZeroDivisionError",
		`(import "dom" "bind"`,
		`(export "event_callback")`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("linked module lacks %q", want)
		}
	}
	if strings.Contains(text, "(str ") {
		t.Errorf("linked module contains an unexpanded string constant")
	}
}

func TestLinkPrunes(t *testing.T) {
	text := link(t, "pass\n", []string{"$box_i64"})
	for _, absent := range []string{"(func $bf:sorted", "(func $math_module"} {
		if strings.Contains(text, absent) {
			t.Errorf("linked module contains unreachable %q", absent)
		}
	}
}

func TestLongString(t *testing.T) {
	long := strings.Repeat("é", 3000)
	text := link(t, "pass\n", nil, long)
	name := support.StrGlobal(long)
	for _, want := range []string{
		"(global " + name + " (mut (ref null $Str))",
		"(data $d:" + strings.TrimPrefix(name, "$s:"),
		"(array.new_data $Bytes8 $d:",
		"(i32.const 6000)) (i32.const 3000)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("linked module lacks %q", want)
		}
	}

	var env wat.Env = library(t)
	f := wat.NewFunc(env, "$f", nil, "(ref $Str)")
	support.NewPool().Load(f, long)
	if !strings.Contains(f.Text(), "ref.as_non_null") {
		t.Errorf("long string load lacks ref.as_non_null:\n%s", f.Text())
	}
}
