package compile

import (
	"fmt"
	"strconv"
	"strings"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/wat"
	"go.p2w.dev/syntax"
)

// genState is the state of code generation for the resume function of
// a generator. The generator's variables live in fields of its record,
// a subtype of $Gen, so that they survive suspension.
type genState struct {
	k      int
	rec    string // local holding the record, as a (ref $gen#k)
	typ    string
	fields map[*syntax.Binding]string
}

// genFields lists the fields every generator record shares with $Gen.
const genFields = `(field $state (mut i32)) (field $status (mut i32)) (field $resume (ref $Resume)) ` +
	`(field $sent (mut eqref)) (field $result (mut eqref)) (field $env (ref null $Values)) (field $name (ref $Str))`

func localField(b *syntax.Binding) string { return "$l" + strconv.Itoa(b.Index) }

func (g *genState) load(f *wat.Func, b *syntax.Binding) {
	f.Op("local.get", g.rec)
	f.Op("struct.get", g.typ, g.field(b))
}

func (g *genState) store(f *wat.Func, b *syntax.Binding, value func()) {
	f.Op("local.get", g.rec)
	value()
	f.Op("struct.set", g.typ, g.field(b))
}

func (g *genState) field(b *syntax.Binding) string {
	name, ok := g.fields[b]
	if !ok {
		panic(fmt.Sprintf("generator %d has no field for %s", g.k, b.Name))
	}
	return name
}

// jump continues in another state.
func (g *genState) jump(fc *fcomp, s *syntax.GotoStmt) {
	f := fc.f
	f.Op("local.get", g.rec)
	if s.Dyn != nil {
		fc.exprAs(s.Dyn, repr.I64)
		f.Op("i32.wrap_i64")
	} else {
		f.Op("i32.const", strconv.Itoa(s.State))
	}
	f.Op("struct.set", g.typ, "$state")
	f.Op("br", "$top")
}

// suspend returns a value to the caller of the resume, which continues
// in state s.Next the next time.
func (g *genState) suspend(fc *fcomp, s *syntax.SuspendStmt) {
	f := fc.f
	f.Op("local.get", g.rec)
	f.Op("i32.const", strconv.Itoa(s.Next))
	f.Op("struct.set", g.typ, "$state")
	if s.Value != nil {
		fc.exprAs(s.Value, repr.Boxed)
	} else {
		f.Op("ref.null", "none")
	}
	f.Op("return")
}

// finish records the generator's return value and marks it exhausted.
// Every later resume returns STOP.
func (g *genState) finish(fc *fcomp, s *syntax.FinishStmt) {
	f := fc.f
	f.Op("local.get", g.rec)
	if s.Value != nil {
		fc.exprAs(s.Value, repr.Boxed)
	} else {
		f.Op("ref.null", "none")
	}
	f.Op("struct.set", g.typ, "$result")
	f.Op("local.get", g.rec)
	f.Op("i32.const", "2")
	f.Op("struct.set", g.typ, "$status")
	f.Op("global.get", "$STOP")
	f.Op("return")
}

// newGenerator ends the code of generator function k: instead of
// running the body, it returns a record holding the bound arguments,
// and generates the resume function that runs the body.
func (fc *fcomp) newGenerator(k int, bound string) {
	f, pc := fc.f, fc.pc
	typ := genType(k)
	var fields []string
	for _, b := range fc.frame.Record {
		fields = append(fields, "(field "+localField(b)+" (mut eqref))")
	}
	pc.add(fmt.Sprintf("(type %s (sub final $Gen (struct %s %s)))", typ, genFields, strings.Join(fields, " ")))

	params := make(map[*syntax.Binding]int)
	for i, b := range fc.frame.Params {
		params[b] = i
	}
	f.Op("i32.const", "0")
	f.Op("i32.const", "0")
	f.Op("ref.func", resumeName(k))
	f.Op("ref.null", "none")
	f.Op("ref.null", "none")
	f.Op("local.get", "$c")
	f.Op("struct.get", "$Closure", "$env")
	f.Op("local.get", "$c")
	f.Op("struct.get", "$Closure", "$name")
	for _, b := range fc.frame.Record {
		if i, ok := params[b]; ok {
			f.Op("local.get", bound)
			f.Op("i32.const", strconv.Itoa(i))
			f.Op("array.get", "$Values")
			if b.Scope == syntax.CellScope {
				f.Op("struct.new", "$Cell")
			}
			continue
		}
		f.Op("global.get", "$UNBOUND")
		if b.Scope == syntax.CellScope {
			f.Op("struct.new", "$Cell")
		}
	}
	f.Op("struct.new", typ)
	f.Op("return")

	pc.resume(k, fc.fn)
}

// resume generates the resume function of generator k. Each state of
// the body is the code after the end of a block; a br_table on the
// record's state field selects it. An exception raised in a state with
// a handler continues in the handler with the exception as CaughtExpr;
// otherwise it propagates to the caller.
func (pc *pcomp) resume(k int, fn *syntax.Function) {
	var sm *syntax.StateMachine
	for _, s := range fn.Body {
		if m, ok := s.(*syntax.StateMachine); ok {
			sm = m
		}
	}
	if sm == nil {
		diag.Invariant(fn, "generator %s has no state machine", fn.Name)
	}

	typ := genType(k)
	f := wat.NewFunc(pc.env, resumeName(k), []wat.Local{{Name: "$g", Type: "(ref $Gen)"}}, "eqref")
	f.Type = "$Resume"
	fc := pc.newFcomp(fn, f)
	g := &genState{k: k, typ: typ, fields: make(map[*syntax.Binding]string)}
	for _, b := range fc.frame.Record {
		g.fields[b] = localField(b)
	}
	fc.gen = g
	g.rec = f.Local("r", "(ref null "+typ+")")
	f.Op("local.get", "$g")
	f.Op("ref.cast", "(ref "+typ+")")
	f.Op("local.set", g.rec)
	if len(fc.frame.Free) > 0 {
		fc.env = f.Local("env", "(ref null $Values)")
		f.Op("local.get", "$g")
		f.Op("struct.get", "$Gen", "$env")
		f.Op("local.set", fc.env)
	}
	fc.caught = f.Local("caught", "eqref")

	n := len(sm.States)
	labels := make([]string, n)
	for i := range labels {
		labels[i] = "$s" + strconv.Itoa(i)
	}

	f.Loop("$top")
	f.Block("$exc", "eqref")
	f.Try("")
	for i := n - 1; i >= 0; i-- {
		f.Block(labels[i])
	}
	f.Block("$bad")
	f.Op("local.get", g.rec)
	f.Op("struct.get", typ, "$state")
	f.Op("br_table", append(append([]string(nil), labels...), "$bad")...)
	f.End()
	f.Op("unreachable")
	for i, st := range sm.States {
		f.End()
		if pc.opts.Debug {
			f.Comment("state %d", i)
		}
		fc.stmts(st.Body)
		if !f.Dead() {
			f.Op("unreachable")
		}
	}
	f.Catch("$exn")
	f.Op("br", "$exc")
	f.End()
	f.Op("unreachable")
	f.End()

	// An exception: continue in the handler of the state that raised it.
	handlers := pc.handlers(k, sm)
	state := f.Local("h", "i32")
	f.Op("local.set", fc.caught)
	f.Op("global.get", handlers)
	f.Op("local.get", g.rec)
	f.Op("struct.get", typ, "$state")
	f.Op("array.get", "$I32s")
	f.Op("local.tee", state)
	f.Op("i32.const", "0")
	f.Op("i32.lt_s")
	f.If("")
	f.Op("local.get", fc.caught)
	f.Op("throw", "$exn")
	f.End()
	f.Op("local.get", g.rec)
	f.Op("local.get", state)
	f.Op("struct.set", typ, "$state")
	f.Op("br", "$top")
	f.End()
	f.Op("unreachable")
	pc.add(f.Text())
}

// handlers returns a global holding the handler state of each state of
// generator k, or -1.
func (pc *pcomp) handlers(k int, sm *syntax.StateMachine) string {
	name := "$hd#" + strconv.Itoa(k)
	var b strings.Builder
	fmt.Fprintf(&b, "(global %s (ref $I32s) (array.new_fixed $I32s %d", name, len(sm.States))
	for _, st := range sm.States {
		fmt.Fprintf(&b, " (i32.const %d)", st.Handler)
	}
	b.WriteString("))")
	pc.add(b.String())
	return name
}
