package p2w_test

import (
	"fmt"
	"strings"
	"testing"

	"go.p2w.dev"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/syntax"
)

func ExampleCompileFile() {
	const src = `
def greet(name):
    return f"hello, {name}"

print(greet("world"))
`
	prog, err := p2w.CompileFile("hello.py", src, nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(prog.HostVersion, prog.Exports)
	fmt.Println(strings.HasPrefix(prog.WAT, "(module $hello"))
	// Output:
	// p2w-host/1 [_start memory event_callback]
	// true
}

func TestCompileParsed(t *testing.T) {
	f, err := syntax.Parse("app.py", "x = [1, 2, 3]\nprint(sum(x))\n")
	if err != nil {
		t.Fatal(err)
	}
	prog, err := p2w.Compile(f, &p2w.Options{Module: "demo", Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(prog.WAT, "(module $demo") {
		t.Errorf("module starts %.30q, want (module $demo", prog.WAT)
	}
}

// Errors from several functions are all reported, in source order.
func TestErrorsSorted(t *testing.T) {
	const src = `
def f():
    return zebra

def g():
    return quokka
`
	_, err := p2w.CompileFile("errs.py", src, nil)
	errs, ok := err.(diag.ErrorList)
	if !ok {
		t.Fatalf("got %T %v, want diag.ErrorList", err, err)
	}
	var got []string
	for _, e := range errs {
		got = append(got, fmt.Sprintf("%d %s %s", e.Pos.Line, e.Kind, e.Msg))
	}
	want := []string{
		"3 UnboundNameError undefined: zebra",
		"6 UnboundNameError undefined: quokka",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("got errors\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	prog, err := p2w.CompileFile("a.py", "print(1)\n", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := prog.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := p2w.DecodeProgram(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.WAT != prog.WAT {
		t.Error("artifact does not preserve the module text")
	}
}
