package wat_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/wat"
)

const lib = `
;; a small library
(type $Box (struct (field $v (mut i64))))
(type $Pair (struct (field i32 i32)))
(type $Code (func (param eqref) (result eqref)))
(tag $exn (param eqref))
(func $add (param $x i64) (param $y i64) (result i64)
  local.get $x
  local.get $y
  i64.add)
(; block
   comment ;)
(global $zero (ref $Box) (struct.new $Box (i64.const 0)))
`

func newModule(t *testing.T) *wat.Module {
	t.Helper()
	m := wat.NewModule("test")
	forms, err := wat.Split(lib)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range forms {
		if err := m.Add(f.Text); err != nil {
			t.Fatalf("%s: %v", f.Name, err)
		}
	}
	return m
}

func TestSplit(t *testing.T) {
	forms, err := wat.Split(lib)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, f := range forms {
		got = append(got, f.Kind+" "+f.Name)
	}
	want := []string{"type $Box", "type $Pair", "type $Code", "tag $exn", "func $add", "global $zero"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("forms (-want +got)\n%s", diff)
	}
	if forms[4].Line != 7 {
		t.Errorf("func $add at line %d, want 7", forms[4].Line)
	}

	for _, src := range []string{"(func", "x (func)", "(; open"} {
		if _, err := wat.Split(src); err == nil {
			t.Errorf("Split(%q) succeeded", src)
		}
	}
}

func TestShapes(t *testing.T) {
	m := newModule(t)
	if n, _ := m.Fields("$Box"); n != 1 {
		t.Errorf("$Box has %d fields", n)
	}
	if n, _ := m.Fields("$Pair"); n != 2 {
		t.Errorf("$Pair has %d fields", n)
	}
	sig, ok := m.FuncSig("$add")
	if !ok || sig.String() != "(param i64) (param i64) (result i64)" {
		t.Errorf("$add: %v %t", sig, ok)
	}
	if sig, _ := m.TypeSig("$Code"); len(sig.Params) != 1 || len(sig.Results) != 1 {
		t.Errorf("$Code: %v", sig)
	}
	if err := m.Add("(func $add)"); err == nil {
		t.Errorf("duplicate definition accepted")
	}
}

func TestFinalize(t *testing.T) {
	m := newModule(t)
	// $one refers to $zero's type only, $two to $one: order is forced.
	m.MustAdd("(global $two (ref $Box) (global.get $one))")
	m.MustAdd("(global $one (ref $Box) (global.get $zero))")
	m.MustAdd("(func $get (result funcref) ref.func $add)")
	m.Export("get", "func", "$get")

	text, err := m.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	zero := strings.Index(text, "(global $zero")
	one := strings.Index(text, "(global $one")
	two := strings.Index(text, "(global $two")
	if !(zero < one && one < two) {
		t.Errorf("globals out of order:\n%s", text)
	}
	for _, want := range []string{
		"(module $test\n  (rec\n    (type $Box",
		"(elem declare func $add)",
		`(export "get" (func $get))`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
	if _, err := m.Finalize(); err == nil {
		t.Errorf("second Finalize succeeded")
	}
	if err := m.Add("(global $late i32 (i32.const 0))"); err == nil {
		t.Errorf("Add after Finalize succeeded")
	}
}

func TestGlobalCycle(t *testing.T) {
	m := wat.NewModule("")
	m.MustAdd("(global $a eqref (global.get $b))")
	m.MustAdd("(global $b eqref (global.get $a))")
	if _, err := m.Finalize(); err == nil || !strings.Contains(err.Error(), "refers to itself") {
		t.Errorf("got %v, want a cycle error", err)
	}
}

func TestBalancedFunc(t *testing.T) {
	m := newModule(t)
	f := wat.NewFunc(m, "$sum", []wat.Local{{"$n", "i64"}}, "i64")
	acc := f.Local("acc", "i64")
	f.Block("$done")
	f.Loop("$loop")
	f.Op("local.get", "$n")
	f.Op("i64.eqz")
	f.Op("br_if", "$done")
	f.Op("local.get", acc)
	f.Op("local.get", "$n")
	f.Op("call", "$add")
	f.Op("local.set", acc)
	f.Op("local.get", "$n")
	f.Op("i64.const", "1")
	f.Op("i64.sub")
	f.Op("local.set", "$n")
	f.Op("br", "$loop")
	f.End()
	f.End()
	f.Op("i32.const", "1")
	f.If("", "i64")
	f.Op("local.get", acc)
	f.Op("i64.const", "1")
	f.Op("i64.add")
	f.Else()
	f.Op("unreachable")
	f.End()
	if err := m.Add(f.Text()); err != nil {
		t.Fatal(err)
	}
	if f.Local("acc", "i64") != "$acc.1" {
		t.Errorf("local names are not unique")
	}
}

func TestTryCatch(t *testing.T) {
	m := newModule(t)
	f := wat.NewFunc(m, "$guard", nil, "eqref")
	f.Try("", "eqref")
	f.Op("ref.null", "eq")
	f.Op("throw", "$exn")
	f.Catch("$exn")
	f.End()
	_ = f.Text()
}

func TestUnbalanced(t *testing.T) {
	m := newModule(t)
	for _, test := range []struct {
		name string
		body func(f *wat.Func)
		want string
	}{
		{"underflow", func(f *wat.Func) { f.Op("i64.add") }, "pops 2 operands"},
		{"leftover", func(f *wat.Func) {
			f.Block("")
			f.Op("i32.const", "1")
			f.End()
		}, "block leaves 1 values, want 0"},
		{"struct fields", func(f *wat.Func) {
			f.Op("i32.const", "1")
			f.Op("struct.new", "$Pair")
		}, "pops 2 operands"},
		{"unknown call", func(f *wat.Func) { f.Op("call", "$nope") }, "unknown function"},
		{"if without else", func(f *wat.Func) {
			f.Op("i32.const", "0")
			f.If("", "i32")
			f.Op("i32.const", "1")
			f.End()
		}, "has no else"},
		{"open block", func(f *wat.Func) {
			f.Block("$b")
			_ = f.Text()
		}, "left open"},
		{"result", func(f *wat.Func) {
			f.Op("i64.const", "1")
			_ = f.Text()
		}, "body leaves 1 values"},
	} {
		err := func() (err error) {
			defer func() {
				if e, ok := recover().(*wat.StackError); ok {
					err = e
				}
			}()
			test.body(wat.NewFunc(m, "$"+test.name, nil))
			return nil
		}()
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: got %v, want %q", test.name, err, test.want)
		}
	}
}

func TestID(t *testing.T) {
	for _, s := range []string{"plain", "Base.greet", "with space", "(a)", "100%", "é", ""} {
		id := wat.ID(s)
		if strings.ContainsAny(id, " ()\"';,") {
			t.Errorf("ID(%q) = %q contains a reserved character", s, id)
		}
		if s == "" {
			continue
		}
		if back, err := url.PathUnescape(id); err != nil || back != s {
			t.Errorf("ID(%q) = %q unescapes to %q, %v", s, id, back, err)
		}
	}
	if got := wat.Quote("a\"\n\xff"); got != `"a\"\0a\ff"` {
		t.Errorf("Quote = %s", got)
	}
}

func TestUnquote(t *testing.T) {
	for _, test := range []struct{ lit, want string }{
		{`""`, ""},
		{`"plain"`, "plain"},
		{`"a\n\t\"\\"`, "a\n\t\"\\"},
		{`"\0a\ff"`, "\n\xff"},
		{`"\u{e9}"`, "é"},
	} {
		got, err := wat.Unquote(test.lit)
		if err != nil || got != test.want {
			t.Errorf("Unquote(%s) = %q, %v, want %q", test.lit, got, err, test.want)
		}
	}
	for _, s := range []string{"", "x\"\\\x00\xff", "é\n"} {
		if got, err := wat.Unquote(wat.Quote(s)); err != nil || got != s {
			t.Errorf("Unquote(Quote(%q)) = %q, %v", s, got, err)
		}
	}
	for _, bad := range []string{`x`, `"\q"`, `"\u{110000}"`, `"\`} {
		if _, err := wat.Unquote(bad); err == nil {
			t.Errorf("Unquote(%s) succeeded", bad)
		}
	}
}
