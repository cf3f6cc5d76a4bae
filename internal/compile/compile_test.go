package compile_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.p2w.dev/internal/chunkedfile"
	"go.p2w.dev/internal/compile"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/hostabi"
	"go.p2w.dev/p2wtest"
)

func TestErrors(t *testing.T) {
	filename := p2wtest.DataFile("internal/compile", "testdata/errors.py")
	for _, chunk := range chunkedfile.Read(filename, t) {
		prog, err := compile.Source(filename, chunk.Source, compile.Options{})
		switch err := err.(type) {
		case nil:
			if prog.WAT == "" {
				t.Errorf("%s:%d: empty module", filename, chunk.Line)
			}
		case diag.ErrorList:
			for _, e := range err {
				chunk.GotKindError(int(e.Pos.Line), e.Kind.String(), e.Msg)
			}
		default:
			t.Error(err)
		}
		chunk.Done()
	}
}

// Any error means no module.
func TestNoPartialOutput(t *testing.T) {
	prog, err := compile.Source("bad.py", "def f():\n    return 1\nprint(g)\n", compile.Options{})
	if err == nil {
		t.Fatal("no error for unbound name")
	}
	if prog != nil {
		t.Errorf("got a module alongside %v", err)
	}
}

func TestArtifact(t *testing.T) {
	prog, err := compile.Source("mul.py", "def mul(a, b):\n    return a * b\n\nprint(mul(6, 7))\n", compile.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if prog.HostVersion != hostabi.Version {
		t.Errorf("host version %q, want %q", prog.HostVersion, hostabi.Version)
	}
	if prog.Module != "mul" {
		t.Errorf("module name %q, want mul", prog.Module)
	}

	data, err := prog.Encode()
	if err != nil {
		t.Fatal(err)
	}
	again, err := prog.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(again) {
		t.Error("encoding is not deterministic")
	}

	got, err := compile.DecodeProgram(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(prog, got); diff != "" {
		t.Errorf("decoded program differs (-want +got):\n%s", diff)
	}
}

func TestGarbage(t *testing.T) {
	const garbage = "garbage"
	_, err := compile.DecodeProgram([]byte(garbage))
	if err == nil || !strings.Contains(err.Error(), "not a compiled module") {
		t.Fatalf("DecodeProgram(%q) returned error %v, want not a compiled module", garbage, err)
	}
	_, err = compile.DecodeProgram([]byte("p2w!\xff\xff"))
	if err == nil || !strings.Contains(err.Error(), "not a compiled module") {
		t.Fatalf("DecodeProgram(truncated) returned error %v, want not a compiled module", err)
	}
}
