package compile

import (
	"strconv"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/syntax"
)

func (fc *fcomp) stmts(stmts []syntax.Stmt) {
	for _, s := range stmts {
		if fc.f.Dead() {
			// Code after a transfer of control is unreachable.
			return
		}
		fc.stmt(s)
	}
}

func (fc *fcomp) stmt(s syntax.Stmt) {
	f := fc.f
	if fc.pc.opts.Debug {
		start, _ := s.Span()
		f.Comment("%s", start)
	}
	switch s := s.(type) {
	case *syntax.ExprStmt:
		fc.expr(s.X)
		f.Op("drop")

	case *syntax.AssignStmt:
		fc.assign(s.LHS, s.RHS)

	case *syntax.DelStmt:
		for _, x := range s.Targets {
			fc.delete(x)
		}

	case *syntax.IfStmt:
		fc.cond(s.Cond)
		f.If("")
		fc.stmts(s.True)
		if len(s.False) > 0 {
			f.Else()
			fc.stmts(s.False)
		}
		f.End()

	case *syntax.WhileStmt:
		brk, cont := fc.label("brk"), fc.label("cont")
		f.Block(brk)
		f.Loop(cont)
		fc.cond(s.Cond)
		f.Op("i32.eqz")
		f.Op("br_if", brk)
		fc.loop(brk, cont, s.Body)
		if !f.Dead() {
			f.Op("br", cont)
		}
		f.End()
		f.End()

	case *syntax.ForStmt:
		if fc.pc.info.RangeLoops[s] {
			fc.rangeLoop(s)
		} else {
			fc.forLoop(s)
		}

	case *syntax.BranchStmt:
		switch s.Token {
		case syntax.BREAK:
			fc.jump(jumpBreak)
		case syntax.CONTINUE:
			fc.jump(jumpContinue)
		}

	case *syntax.ReturnStmt:
		if s.Result != nil {
			fc.exprAs(s.Result, repr.Boxed)
		} else {
			f.Op("ref.null", "none")
		}
		if len(fc.finallyRegions()) == 0 {
			f.Op("return")
			return
		}
		f.Op("local.set", fc.retvalLocal())
		fc.jump(jumpReturn)

	case *syntax.RaiseStmt:
		fc.raise(s)

	case *syntax.ImportStmt:
		fc.pc.pool.Load(f, s.Module.Name)
		f.Op("call", "$import")
		if len(s.From) == 0 {
			m := f.Local("mod", "eqref")
			f.Op("local.set", m)
			fc.storeLocal(s.To[0], m)
			return
		}
		m := f.Local("mod", "eqref")
		f.Op("local.set", m)
		for i, name := range s.From {
			v := f.Local("imported", "eqref")
			f.Op("local.get", m)
			fc.pc.pool.Load(f, name.Name)
			f.Op("call", "$getattr")
			f.Op("local.set", v)
			fc.storeLocal(s.To[i], v)
		}

	case *syntax.GlobalStmt, *syntax.LocalDecl:
		// Declarations only.

	case *syntax.DefStmt:
		fc.store(s.Name, func() {
			fc.closure(&s.Function)
			fc.convert(repr.Boxed, fc.varStorage(s.Name.Binding))
		})

	case *syntax.ClassStmt:
		fc.class(s)

	case *syntax.TryCatchStmt:
		f.Try("")
		fc.stmts(s.Body)
		f.Catch("$exn")
		e := f.Local("exc", "eqref")
		f.Op("local.set", e)
		fc.storeLocal(s.Exc, e)
		fc.stmts(s.Handler)
		f.End()

	case *syntax.TryFinallyStmt:
		fc.tryFinally(s)

	case *syntax.StateMachine:
		diag.Invariant(s, "state machine outside a generator")

	case *syntax.GotoStmt:
		fc.gen.jump(fc, s)

	case *syntax.SuspendStmt:
		fc.gen.suspend(fc, s)

	case *syntax.FinishStmt:
		fc.gen.finish(fc, s)

	default:
		diag.Invariant(s, "unexpected %T in code generation", s)
	}
}

// assign emits lhs = rhs. The targets of lowered assignments are a
// name, an attribute, an index or a slice.
func (fc *fcomp) assign(lhs, rhs syntax.Expr) {
	f := fc.f
	switch lhs := lhs.(type) {
	case *syntax.Ident:
		fc.storeExpr(lhs, rhs)

	case *syntax.DotExpr:
		if k := fc.slot(lhs.X, lhs.Name.Name); k >= 0 {
			v := f.Local("v", "eqref")
			fc.exprAs(rhs, repr.Boxed)
			f.Op("local.set", v)
			fc.storeSlot(lhs.X.(*syntax.Ident), k, lhs.Name.Name, v)
			return
		}
		fc.exprAs(lhs.X, repr.Boxed)
		fc.pc.pool.Load(f, lhs.Name.Name)
		fc.exprAs(rhs, repr.Boxed)
		f.Op("call", "$setattr")

	case *syntax.IndexExpr:
		fc.exprAs(lhs.X, repr.Boxed)
		fc.exprAs(lhs.Y, repr.Boxed)
		fc.exprAs(rhs, repr.Boxed)
		f.Op("call", "$setitem")

	case *syntax.SliceExpr:
		fc.exprAs(lhs.X, repr.Boxed)
		fc.sliceBounds(lhs)
		fc.exprAs(rhs, repr.Boxed)
		f.Op("call", "$setslice")

	default:
		diag.Invariant(lhs, "cannot assign to %T", lhs)
	}
}

func (fc *fcomp) delete(x syntax.Expr) {
	f := fc.f
	switch x := x.(type) {
	case *syntax.Ident:
		fc.del(x)
	case *syntax.DotExpr:
		fc.exprAs(x.X, repr.Boxed)
		fc.pc.pool.Load(f, x.Name.Name)
		f.Op("call", "$delattr")
	case *syntax.IndexExpr:
		fc.exprAs(x.X, repr.Boxed)
		fc.exprAs(x.Y, repr.Boxed)
		f.Op("call", "$delitem")
	case *syntax.SliceExpr:
		fc.exprAs(x.X, repr.Boxed)
		fc.sliceBounds(x)
		f.Op("call", "$delslice")
	default:
		diag.Invariant(x, "cannot delete %T", x)
	}
}

// loop emits a loop body with break and continue bound to the labels.
func (fc *fcomp) loop(brk, cont string, body []syntax.Stmt) {
	fc.exits = append(fc.exits, &exit{brk: brk, cont: cont})
	fc.stmts(body)
	fc.exits = fc.exits[:len(fc.exits)-1]
}

// forLoop iterates with the runtime's iterator protocol.
func (fc *fcomp) forLoop(s *syntax.ForStmt) {
	f := fc.f
	it := f.Local("it", "eqref")
	v := f.Local("item", "eqref")
	fc.exprAs(s.X, repr.Boxed)
	f.Op("call", "$iter")
	f.Op("local.set", it)
	brk, cont := fc.label("brk"), fc.label("cont")
	f.Block(brk)
	f.Loop(cont)
	f.Op("local.get", it)
	f.Op("call", "$next")
	f.Op("local.tee", v)
	f.Op("global.get", "$STOP")
	f.Op("ref.eq")
	f.Op("br_if", brk)
	fc.storeLocal(s.Vars.(*syntax.Ident), v)
	fc.loop(brk, cont, s.Body)
	if !f.Dead() {
		f.Op("br", cont)
	}
	f.End()
	f.End()
}

// rangeLoop counts a for loop over range(...) in an i64.
func (fc *fcomp) rangeLoop(s *syntax.ForStmt) {
	f := fc.f
	call := s.X.(*syntax.CallExpr)
	i := f.Local("i", "i64")
	stop := f.Local("stop", "i64")
	step := f.Local("step", "i64")
	args := call.Args
	switch len(args) {
	case 1:
		f.Op("i64.const", "0")
		f.Op("local.set", i)
		fc.exprAs(args[0], repr.I64)
		f.Op("local.set", stop)
		f.Op("i64.const", "1")
		f.Op("local.set", step)
	case 2, 3:
		fc.exprAs(args[0], repr.I64)
		f.Op("local.set", i)
		fc.exprAs(args[1], repr.I64)
		f.Op("local.set", stop)
		if len(args) == 3 {
			fc.exprAs(args[2], repr.I64)
		} else {
			f.Op("i64.const", "1")
		}
		f.Op("local.set", step)
	default:
		diag.Invariant(call, "range with %d arguments", len(args))
	}

	sign := 0
	if len(args) < 3 {
		sign = 1
	} else if lit, ok := args[2].(*syntax.Literal); ok {
		if v, ok := lit.Value.(int64); ok && v != 0 {
			sign = 1
			if v < 0 {
				sign = -1
			}
		}
	}
	if sign == 0 {
		f.Op("local.get", step)
		f.Op("i64.eqz")
		f.If("")
		fc.pc.raise(f, "ValueError", "range() arg 3 must not be zero")
		f.End()
	}

	brk, top, cont := fc.label("brk"), fc.label("top"), fc.label("cont")
	f.Block(brk)
	f.Loop(top)
	switch sign {
	case 1:
		f.Op("local.get", i)
		f.Op("local.get", stop)
		f.Op("i64.ge_s")
	case -1:
		f.Op("local.get", i)
		f.Op("local.get", stop)
		f.Op("i64.le_s")
	default:
		f.Op("local.get", i)
		f.Op("local.get", stop)
		f.Op("i64.ge_s")
		f.Op("local.get", i)
		f.Op("local.get", stop)
		f.Op("i64.le_s")
		f.Op("local.get", step)
		f.Op("i64.const", "0")
		f.Op("i64.gt_s")
		f.Op("select")
	}
	f.Op("br_if", brk)
	fc.store(s.Vars.(*syntax.Ident), func() {
		f.Op("local.get", i)
		fc.convert(repr.I64, fc.varStorage(s.Vars.(*syntax.Ident).Binding))
	})
	f.Block(cont)
	fc.loop(brk, cont, s.Body)
	f.End()
	f.Op("local.get", i)
	f.Op("local.get", step)
	f.Op("i64.add")
	f.Op("local.set", i)
	f.Op("br", top)
	f.End()
	f.End()
}

// jump transfers control for break, continue or return, running the
// finally clauses it leaves on the way.
func (fc *fcomp) jump(kind int) {
	f := fc.f
	for i := len(fc.exits) - 1; i >= 0; i-- {
		e := fc.exits[i]
		if e.after != "" {
			f.Op("i32.const", strconv.Itoa(kind))
			f.Op("local.set", e.how)
			f.Op("br", e.after)
			return
		}
		switch kind {
		case jumpBreak:
			f.Op("br", e.brk)
			return
		case jumpContinue:
			f.Op("br", e.cont)
			return
		}
	}
	if kind != jumpReturn {
		panic("jump: break or continue outside a loop")
	}
	f.Op("local.get", fc.retvalLocal())
	f.Op("return")
}

// tryFinally runs the finally clause on every exit from the body. A
// break, continue or return leaves the body by branching to the end
// of the region, recording its kind; after the finally clause runs,
// the transfer resumes from there.
func (fc *fcomp) tryFinally(s *syntax.TryFinallyStmt) {
	f := fc.f
	how := f.Local("how", "i32")
	after := fc.label("after")
	f.Op("i32.const", "0")
	f.Op("local.set", how)
	f.Block(after)
	f.Try("")
	fc.exits = append(fc.exits, &exit{after: after, how: how})
	fc.stmts(s.Body)
	fc.exits = fc.exits[:len(fc.exits)-1]
	f.Catch("$exn")
	e := f.Local("exc", "eqref")
	f.Op("local.set", e)
	fc.stmts(s.Finally)
	if !f.Dead() {
		f.Op("local.get", e)
		f.Op("throw", "$exn")
	}
	f.End()
	f.End()

	fc.stmts(s.Finally)
	if !f.Dead() {
		for _, k := range []struct {
			set  syntax.ExitSet
			kind int
		}{
			{syntax.ExitReturn, jumpReturn},
			{syntax.ExitBreak, jumpBreak},
			{syntax.ExitContinue, jumpContinue},
		} {
			if s.Exits&k.set == 0 {
				continue
			}
			f.Op("local.get", how)
			f.Op("i32.const", strconv.Itoa(k.kind))
			f.Op("i32.eq")
			f.If("")
			fc.jump(k.kind)
			f.End()
		}
	}
}

// retvalLocal returns the local that holds the value of a return
// while finally clauses run.
func (fc *fcomp) retvalLocal() string {
	if fc.retval == "" {
		fc.retval = fc.f.Local("retval", "eqref")
	}
	return fc.retval
}

// finallyRegions returns the enclosing try-finally regions.
func (fc *fcomp) finallyRegions() []*exit {
	var regions []*exit
	for _, e := range fc.exits {
		if e.after != "" {
			regions = append(regions, e)
		}
	}
	return regions
}

func (fc *fcomp) raise(s *syntax.RaiseStmt) {
	f := fc.f
	switch {
	case s.Reraise:
		fc.exprAs(s.X, repr.Boxed)
		f.Op("throw", "$exn")
	case s.X == nil:
		fc.pc.raise(f, "RuntimeError", "No active exception to reraise")
	default:
		fc.exprAs(s.X, repr.Boxed)
		if s.Cause != nil {
			fc.exprAs(s.Cause, repr.Boxed)
		} else {
			f.Op("global.get", "$MISSING")
		}
		if s.Context != nil {
			fc.exprAs(s.Context, repr.Boxed)
		} else {
			f.Op("ref.null", "none")
		}
		f.Op("call", "$prepare_raise")
		f.Op("throw", "$exn")
	}
}
