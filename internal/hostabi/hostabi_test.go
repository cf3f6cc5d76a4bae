package hostabi_test

import (
	"strings"
	"testing"

	"go.p2w.dev/internal/hostabi"
	"go.p2w.dev/internal/wat"
)

func TestForms(t *testing.T) {
	m := wat.NewModule("")
	for _, form := range hostabi.Forms() {
		if err := m.Add(form); err != nil {
			t.Fatalf("%s: %v", form, err)
		}
	}
	for _, test := range []struct {
		id, sig string
	}{
		{"$env.write", "(param i32) (param i32)"},
		{"$env.f64_to_str", "(param f64) (result i32)"},
		{"$dom.new_array", "(result i32)"},
		{"$dom.call", "(param i32) (param i32) (param i32) (param i32) (result i32)"},
	} {
		sig, ok := m.FuncSig(test.id)
		if !ok || sig.String() != test.sig {
			t.Errorf("%s: got %q, want %q", test.id, sig, test.sig)
		}
	}
	if got := hostabi.Imports[0].Form(); got != `(import "env" "write" (func $env.write (param i32 i32)))` {
		t.Errorf("got %s", got)
	}
}

func TestManifest(t *testing.T) {
	data, err := hostabi.ManifestJSON("demo", []string{hostabi.Memory, hostabi.Start})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"p2w-host/1"`) {
		t.Errorf("manifest lacks the version:\n%s", data)
	}
	if err := hostabi.CheckManifest(data); err != nil {
		t.Errorf("own manifest rejected: %v", err)
	}

	bad := strings.Replace(string(data), `"i32 i32 i32"`, `"i32 i32"`, 1)
	if err := hostabi.CheckManifest([]byte(bad)); err == nil {
		t.Errorf("manifest with a wrong signature accepted")
	}
	if err := hostabi.CheckManifest([]byte(`{"version": "p2w-host/0"}`)); err == nil {
		t.Errorf("manifest of another version accepted")
	}
}

func TestMathOps(t *testing.T) {
	seen := make(map[string]bool)
	for i, op := range hostabi.MathOps {
		if seen[op] {
			t.Errorf("duplicate math op %s", op)
		}
		seen[op] = true
		if got, ok := hostabi.MathOp(op); !ok || got != i {
			t.Errorf("MathOp(%s) = %d, %t", op, got, ok)
		}
	}
}
