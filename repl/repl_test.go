package repl_test

import (
	"strings"
	"testing"

	"go.p2w.dev/repl"
)

func TestSession(t *testing.T) {
	var s repl.Session
	if s.Program() != nil {
		t.Fatal("fresh session has a program")
	}
	if err := s.Add("def sq(x):\n    return x * x\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("print(sq(3))\n"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Program().WAT, "(func $main") {
		t.Error("session module lacks $main")
	}

	// A statement that does not compile leaves the session as it was.
	before := s.Source()
	if err := s.Add("print(cube(3))\n"); err == nil {
		t.Error("no error for undefined cube")
	}
	if s.Source() != before {
		t.Errorf("source after a failed statement:\n%s\nwant\n%s", s.Source(), before)
	}

	s.Reset()
	if s.Source() != "" || s.Program() != nil {
		t.Error("Reset kept the program")
	}
}
