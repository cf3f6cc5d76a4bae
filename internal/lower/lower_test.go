package lower

import (
	"strings"
	"testing"

	"go.p2w.dev/internal/desugar"
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

var universe = map[string]bool{
	"print":      true,
	"len":        true,
	"range":      true,
	"isinstance": true,
	"str":        true,
	"Exception":  true,
	"ValueError": true,
}

func isUniversal(name string) bool { return universe[name] }

// lowerSource runs the front end and the lowerer over src.
func lowerSource(t *testing.T, src string, opts Options) (*syntax.File, *repr.Info, error) {
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
	return f, info, File(f, info, opts)
}

func mustLower(t *testing.T, src string) (*syntax.File, *repr.Info) {
	t.Helper()
	f, info, err := lowerSource(t, src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return f, info
}

func TestTry(t *testing.T) {
	f, _ := mustLower(t, `
def f(x):
    try:
        len(x)
    except ValueError as e:
        raise
    else:
        return 1
    finally:
        print("done")
`)
	fn := f.Stmts[0].(*syntax.DefStmt)
	if len(fn.Body) != 1 {
		t.Fatalf("got %d statements, want 1", len(fn.Body))
	}
	tf, ok := fn.Body[0].(*syntax.TryFinallyStmt)
	if !ok {
		t.Fatalf("got %T, want TryFinallyStmt", fn.Body[0])
	}
	if tf.Exits != syntax.ExitReturn {
		t.Errorf("exits = %b, want return only", tf.Exits)
	}
	if len(tf.Body) != 3 {
		t.Fatalf("protected region has %d statements, want 3", len(tf.Body))
	}
	tc, ok := tf.Body[1].(*syntax.TryCatchStmt)
	if !ok {
		t.Fatalf("got %T, want TryCatchStmt", tf.Body[1])
	}
	if _, ok := tf.Body[2].(*syntax.IfStmt); !ok {
		t.Errorf("else clause: got %T, want if", tf.Body[2])
	}

	dispatch := tc.Handler[0].(*syntax.IfStmt)
	if x, ok := dispatch.Cond.(*syntax.Intrinsic); !ok || x.Name != "exc_match" {
		t.Errorf("dispatch condition: got %T", dispatch.Cond)
	}
	bind := dispatch.True[0].(*syntax.AssignStmt)
	if bind.LHS.(*syntax.Ident).Name != "e" {
		t.Errorf("handler does not bind e first")
	}
	raise := dispatch.True[1].(*syntax.RaiseStmt)
	if !raise.Reraise || raise.Context == nil {
		t.Errorf("bare raise: reraise=%t context=%v", raise.Reraise, raise.Context)
	}
	if id := raise.X.(*syntax.Ident); id.Binding != tc.Exc.Binding {
		t.Errorf("bare raise re-raises %s, want %s", id.Name, tc.Exc.Name)
	}
	if r := dispatch.False[0].(*syntax.RaiseStmt); !r.Reraise {
		t.Errorf("unmatched exception is not re-raised")
	}
}

func TestExits(t *testing.T) {
	for _, test := range []struct {
		body string
		want syntax.ExitSet
	}{
		{"pass", 0},
		{"return", syntax.ExitReturn},
		{"break", syntax.ExitBreak},
		{"if x:\n                continue", syntax.ExitContinue},
		{"for y in x:\n                break", 0},
		{"for y in x:\n                return y", syntax.ExitReturn},
		{"if x:\n                break\n            return", syntax.ExitBreak | syntax.ExitReturn},
	} {
		src := `
def f(x):
    while x:
        try:
            ` + test.body + `
        finally:
            print(x)
`
		f, _ := mustLower(t, src)
		var got *syntax.TryFinallyStmt
		syntax.Walk(f, func(n syntax.Node) bool {
			if tf, ok := n.(*syntax.TryFinallyStmt); ok {
				got = tf
			}
			return true
		})
		if got == nil {
			t.Errorf("%q: no try/finally", test.body)
			continue
		}
		if got.Exits != test.want {
			t.Errorf("%q: exits = %b, want %b", test.body, got.Exits, test.want)
		}
	}
}

func TestMatchGuardedWildcard(t *testing.T) {
	f, _ := mustLower(t, `
def m(v):
    match v:
        case _ if len(v) > 5:
            return "long"
        case [x, y]:
            return x
        case _:
            return None
`)
	fn := f.Stmts[0].(*syntax.DefStmt)
	if _, ok := fn.Body[0].(*syntax.AssignStmt); !ok {
		t.Fatalf("subject is not saved: got %T", fn.Body[0])
	}
	first := fn.Body[1].(*syntax.IfStmt)
	if b, ok := first.Cond.(*syntax.BinaryExpr); !ok || b.Op != syntax.GT {
		t.Errorf("guarded wildcard: condition is %T, want the guard alone", first.Cond)
	}
	second, ok := first.False[0].(*syntax.IfStmt)
	if !ok {
		t.Fatalf("sequence case does not follow a failing guard: got %T", first.False[0])
	}
	var intrinsics []string
	binds := 0
	syntax.Walk(second.Cond, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.Intrinsic:
			intrinsics = append(intrinsics, n.Name)
		case *syntax.BindExpr:
			binds++
		}
		return true
	})
	if got, want := strings.Join(intrinsics, " "), "match_seq seq_item seq_item"; got != want {
		t.Errorf("sequence test: got %s, want %s", got, want)
	}
	if binds != 2 {
		t.Errorf("got %d captures, want 2", binds)
	}
	if ret, ok := second.False[0].(*syntax.ReturnStmt); !ok {
		t.Errorf("final wildcard: got %T, want its body", second.False[0])
	} else if _, ok := ret.Result.(*syntax.Literal); !ok {
		t.Errorf("final wildcard returns %T", ret.Result)
	}
}

func TestMatchErrors(t *testing.T) {
	for _, test := range []struct {
		cases      string
		exhaustive bool
		want       string // substring of the error, or "" for none
	}{
		{"case x:\n            pass\n        case 1:\n            pass", false, "name capture 'x' makes remaining patterns unreachable"},
		{"case _ | 1:\n            pass\n        case 2:\n            pass", false, "irrefutable pattern makes remaining patterns unreachable"},
		{"case 1:\n            pass", true, "not exhaustive"},
		{"case 1:\n            pass", false, ""},
		{"case 1:\n            pass\n        case _:\n            pass", true, ""},
		{"case [a, *rest]:\n            pass\n        case other:\n            pass", true, ""},
	} {
		src := "def f(v):\n    match v:\n        " + test.cases + "\n"
		_, _, err := lowerSource(t, src, Options{ExhaustiveMatch: test.exhaustive})
		switch {
		case test.want == "" && err != nil:
			t.Errorf("%q: unexpected error: %v", test.cases, err)
		case test.want != "" && err == nil:
			t.Errorf("%q: got no error, want %q", test.cases, test.want)
		case test.want != "" && !strings.Contains(err.Error(), test.want):
			t.Errorf("%q: got %v, want %q", test.cases, err, test.want)
		}
	}
}

// machine returns the state machine of the named generator.
func machine(t *testing.T, f *syntax.File, name string) *syntax.StateMachine {
	t.Helper()
	for _, s := range f.Stmts {
		if def, ok := s.(*syntax.DefStmt); ok && def.Name.Name == name {
			if len(def.Body) != 1 {
				t.Fatalf("%s: got %d statements, want a state machine", name, len(def.Body))
			}
			return def.Body[0].(*syntax.StateMachine)
		}
	}
	t.Fatalf("no function %s", name)
	return nil
}

// census counts the lowered control statements of a state machine and
// checks that every goto names a state.
func census(t *testing.T, sm *syntax.StateMachine) (suspends, finishes int) {
	t.Helper()
	for i, st := range sm.States {
		if st.Handler >= len(sm.States) {
			t.Errorf("state %d: handler %d out of range", i, st.Handler)
		}
		for _, s := range st.Body {
			syntax.Walk(s, func(n syntax.Node) bool {
				switch n := n.(type) {
				case *syntax.GotoStmt:
					if n.State < 0 || n.State >= len(sm.States) {
						t.Errorf("state %d: goto %d out of range", i, n.State)
					}
				case *syntax.SuspendStmt:
					suspends++
					if n.Next >= len(sm.States) {
						t.Errorf("state %d: resumes at %d, out of range", i, n.Next)
					}
				case *syntax.FinishStmt:
					finishes++
				case *syntax.DefStmt, *syntax.LambdaExpr:
					return false
				}
				return true
			})
		}
	}
	return suspends, finishes
}

func TestGenerator(t *testing.T) {
	f, _ := mustLower(t, `
def count(n):
    i = 0
    while i < n:
        x = yield i
        if x:
            break
        i = i + 1
    return i

def delegate(xs):
    r = yield from count(len(xs))
    yield r
`)
	sm := machine(t, f, "count")
	suspends, finishes := census(t, sm)
	if suspends != 1 {
		t.Errorf("count: got %d suspends, want 1", suspends)
	}
	if finishes != 2 {
		t.Errorf("count: got %d finishes, want 2", finishes)
	}
	for i, st := range sm.States {
		if st.Handler != -1 {
			t.Errorf("count: state %d has handler %d, want none", i, st.Handler)
		}
	}

	sm = machine(t, f, "delegate")
	suspends, _ = census(t, sm)
	if suspends != 2 {
		t.Errorf("delegate: got %d suspends, want 2", suspends)
	}
	var names []string
	for _, st := range sm.States {
		for _, s := range st.Body {
			syntax.Walk(s, func(n syntax.Node) bool {
				if x, ok := n.(*syntax.Intrinsic); ok {
					names = append(names, x.Name)
				}
				return true
			})
		}
	}
	if got, want := strings.Join(names, " "), "iter send stop gen_result"; got != want {
		t.Errorf("delegate: intrinsics %s, want %s", got, want)
	}
}

func TestGeneratorFinally(t *testing.T) {
	f, _ := mustLower(t, `
def g(n):
    try:
        yield n
        return n
    except ValueError:
        yield 0
    finally:
        print("closed")
`)
	sm := machine(t, f, "g")
	suspends, finishes := census(t, sm)
	if suspends != 2 {
		t.Errorf("got %d suspends, want 2", suspends)
	}
	// One for the return re-issued after the finally clause, one for
	// falling off the end.
	if finishes != 2 {
		t.Errorf("got %d finishes, want 2", finishes)
	}

	// The first yield is protected by the except clause, which is in
	// turn protected by the finally clause.
	var first, second *syntax.GenState
	for _, st := range sm.States {
		for _, s := range st.Body {
			if _, ok := s.(*syntax.SuspendStmt); ok {
				if first == nil {
					first = st
				} else {
					second = st
				}
			}
		}
	}
	if first == nil || second == nil {
		t.Fatal("missing suspend states")
	}
	if first.Handler < 0 || second.Handler < 0 {
		t.Fatalf("handlers: %d %d, want both protected", first.Handler, second.Handler)
	}
	if first.Handler == second.Handler {
		t.Errorf("try body and except clause share handler %d", first.Handler)
	}
	if h := sm.States[second.Handler]; h.Handler != -1 {
		t.Errorf("finally's exception state has handler %d, want none", h.Handler)
	}

	// The finally clause runs once per way in: the print appears once.
	prints := 0
	for _, st := range sm.States {
		for _, s := range st.Body {
			syntax.Walk(s, func(n syntax.Node) bool {
				if c, ok := n.(*syntax.CallExpr); ok {
					if id, ok := c.Fn.(*syntax.Ident); ok && id.Name == "print" {
						prints++
					}
				}
				return true
			})
		}
	}
	if prints != 1 {
		t.Errorf("finally body copied %d times, want 1", prints)
	}
}

func TestGeneratorYieldErrors(t *testing.T) {
	for _, test := range []struct {
		stmt, want string
	}{
		{"x = n or (yield)", "right operand of or"},
		{"x = (yield) if n else 0", "branch of a conditional expression"},
		{"x = (yield n) and n", ""},
		{"print((yield n), (yield))", ""},
	} {
		src := "def g(n):\n    " + test.stmt + "\n"
		_, _, err := lowerSource(t, src, Options{})
		switch {
		case test.want == "" && err != nil:
			t.Errorf("%q: unexpected error: %v", test.stmt, err)
		case test.want != "" && err == nil:
			t.Errorf("%q: got no error, want %q", test.stmt, test.want)
		case test.want != "" && !strings.Contains(err.Error(), test.want):
			t.Errorf("%q: got %v, want %q", test.stmt, err, test.want)
		}
	}
}

// Lowering creates new nodes; each must carry a representation.
func TestLoweredExpressionsAnnotated(t *testing.T) {
	f, info := mustLower(t, `
def f(v):
    try:
        match v:
            case {"k": [1, *rest], **others} if rest:
                return others
            case str() | None as s:
                return s
    except Exception as e:
        raise ValueError() from e
    return 0

def g(xs):
    for x in xs:
        try:
            yield x
        finally:
            continue
`)
	annotated := func(e syntax.Expr) (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		info.Of(e)
		return true
	}
	syntax.Walk(f, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.DefStmt:
			return true
		case *syntax.AssignStmt:
			syntax.Walk(n.RHS, func(n syntax.Node) bool {
				if e, ok := n.(syntax.Expr); ok && !annotated(e) {
					t.Errorf("%s: %T has no representation", syntax.Start(n), n)
				}
				return true
			})
			return false
		case *syntax.Intrinsic, *syntax.BindExpr, *syntax.ConvExpr, *syntax.SentExpr, *syntax.CaughtExpr:
			if !annotated(n.(syntax.Expr)) {
				t.Errorf("%s: %T has no representation", syntax.Start(n), n)
			}
		}
		return true
	})
}
