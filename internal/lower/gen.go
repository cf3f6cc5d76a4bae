package lower

import (
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/syntax"
)

// generator lowers the body of a generator function to a state machine.
//
// Statements that contain neither a yield nor a try statement are
// copied into a state unchanged, except that the transfers they make
// out of the state (return, and break or continue of a loop that was
// itself split into states) become gotos. Every other statement is
// split: its control flow is expressed as states linked by gotos.
//
// A try statement's protected region is the set of states whose
// Handler is the state that dispatches on the caught exception. A
// finally clause is entered with a code in a "how" variable recording
// why: 0 for falling off the end of the region, -1 for an exception,
// and k > 0 for the k-th pending transfer, which the end of the clause
// re-issues in the enclosing context.
func (l *lowerer) generator(fn *syntax.Function) *syntax.StateMachine {
	l.gen = true
	body := l.block(fn.Body)
	l.gen = false

	b := &genBuilder{l: l, handler: -1}
	b.enter(b.newState())
	b.stmts(body)
	b.emit(&syntax.FinishStmt{Pos: syntax.End(fn)})
	b.cur = nil

	log.Debugf("generator %s: %d states", fn.Name, len(b.states))
	return &syntax.StateMachine{Pos: fn.StartPos, States: b.states}
}

type genBuilder struct {
	l       *lowerer
	states  []*syntax.GenState
	cur     *syntax.GenState // nil after a transfer
	handler int              // state that receives exceptions, or -1
	loops   []genLoop
	finals  []*genFinal
	retval  *syntax.Ident // return value held while finally clauses run
}

type genLoop struct {
	brk, cont int
	finals    int // len(finals) when the loop was entered
}

type genFinal struct {
	how   *syntax.Ident
	exc   *syntax.Ident
	entry int
	exits []transfer
}

// A transfer is a return, break or continue leaving a region.
type transfer struct {
	pos   syntax.Position
	kind  syntax.Token // RETURN, BREAK or CONTINUE
	value syntax.Expr  // return value, or nil
	loop  int          // index into loops, for BREAK and CONTINUE
}

func (b *genBuilder) newState() int {
	b.states = append(b.states, &syntax.GenState{Handler: b.handler})
	return len(b.states) - 1
}

func (b *genBuilder) enter(state int) { b.cur = b.states[state] }

func (b *genBuilder) emit(stmts ...syntax.Stmt) {
	if b.cur == nil {
		// Unreachable code still gets a state of its own.
		b.enter(b.newState())
	}
	b.cur.Body = append(b.cur.Body, stmts...)
}

func (b *genBuilder) gotoState(pos syntax.Position, state int) {
	b.emit(&syntax.GotoStmt{Pos: pos, State: state})
	b.cur = nil
}

// restart continues in a fresh state, so that what follows has the
// current exception handler.
func (b *genBuilder) restart(pos syntax.Position) {
	next := b.newState()
	b.gotoState(pos, next)
	b.enter(next)
}

func (b *genBuilder) stmts(stmts []syntax.Stmt) {
	for _, s := range stmts {
		b.stmt(s)
	}
}

func (b *genBuilder) stmt(s syntax.Stmt) {
	if !split(s) {
		b.verbatim(s)
		return
	}
	l := b.l
	switch s := s.(type) {
	case *syntax.IfStmt:
		cond := b.hoist(s.Cond)
		t, f, join := b.newState(), b.newState(), b.newState()
		b.emit(&syntax.IfStmt{
			If:    s.If,
			Cond:  cond,
			True:  []syntax.Stmt{&syntax.GotoStmt{Pos: s.If, State: t}},
			False: []syntax.Stmt{&syntax.GotoStmt{Pos: s.ElsePos, State: f}},
		})
		b.cur = nil
		b.enter(t)
		b.stmts(s.True)
		b.gotoState(s.If, join)
		b.enter(f)
		b.stmts(s.False)
		b.gotoState(s.If, join)
		b.enter(join)

	case *syntax.WhileStmt:
		head := b.newState()
		b.gotoState(s.While, head)
		b.enter(head)
		cond := b.hoist(s.Cond)
		body, exit := b.newState(), b.newState()
		b.emit(&syntax.IfStmt{
			If:    s.While,
			Cond:  cond,
			True:  []syntax.Stmt{&syntax.GotoStmt{Pos: s.While, State: body}},
			False: []syntax.Stmt{&syntax.GotoStmt{Pos: s.While, State: exit}},
		})
		b.cur = nil
		b.loop(head, exit, body, s.Body)
		b.gotoState(s.While, head)
		b.enter(exit)

	case *syntax.ForStmt:
		it := l.scope.NewLocal(s.For, "iter")
		b.emit(l.set(it, l.intrinsic(s.For, "iter", b.hoist(s.X))))
		head := b.newState()
		b.gotoState(s.For, head)
		b.enter(head)
		v := l.scope.NewLocal(s.For, "next")
		b.emit(l.set(v, l.intrinsic(s.For, "next", l.ref(s.For, it))))
		body, exit := b.newState(), b.newState()
		b.emit(&syntax.IfStmt{
			If:    s.For,
			Cond:  l.intrinsic(s.For, "stop", l.ref(s.For, v)),
			True:  []syntax.Stmt{&syntax.GotoStmt{Pos: s.For, State: exit}},
			False: []syntax.Stmt{&syntax.GotoStmt{Pos: s.For, State: body}},
		})
		b.cur = nil
		b.enter(body)
		b.emit(l.set(s.Vars.(*syntax.Ident), l.ref(s.For, v)))
		b.loop(head, exit, -1, s.Body)
		b.gotoState(s.For, head)
		b.enter(exit)

	case *syntax.TryStmt:
		b.try(s)

	case *syntax.ReturnStmt:
		b.transfer(transfer{pos: s.Return, kind: syntax.RETURN, value: b.hoist(s.Result)})

	default:
		b.verbatim(b.hoistStmt(s))
	}
}

// loop builds the body of a split loop. If body is -1 the current
// state is the start of the body.
func (b *genBuilder) loop(cont, brk, body int, stmts []syntax.Stmt) {
	if body >= 0 {
		b.enter(body)
	}
	b.loops = append(b.loops, genLoop{brk: brk, cont: cont, finals: len(b.finals)})
	b.stmts(stmts)
	b.loops = b.loops[:len(b.loops)-1]
}

// try builds the states of a try statement.
func (b *genBuilder) try(s *syntax.TryStmt) {
	l := b.l
	outer := b.handler

	var fin *genFinal
	var excState int
	if len(s.Finally) > 0 {
		fin = &genFinal{
			how: l.scope.NewLocal(s.FinallyPos, "how"),
			exc: l.scope.NewLocal(s.FinallyPos, "exc"),
		}
		fin.entry = b.newState()
		excState = b.newState()
		b.finals = append(b.finals, fin)
		b.handler = excState
	}

	if len(s.Handlers) > 0 {
		exc := l.excOf[s]
		protected := b.handler
		dispatch := b.newState()
		after := b.newState()

		b.handler = dispatch
		b.restart(s.Try)
		b.stmts(s.Body)
		b.handler = protected
		elseState := b.newState()
		b.gotoState(s.Try, elseState)

		b.enter(dispatch)
		b.emit(l.set(exc, l.caught(s.Try)))
		for i, h := range s.Handlers {
			hs := b.newState()
			if h.Type == nil {
				b.gotoState(h.Except, hs)
			} else {
				b.emit(&syntax.IfStmt{
					If:   h.Except,
					Cond: l.intrinsic(h.Except, "exc_match", l.ref(h.Except, exc), h.Type),
					True: []syntax.Stmt{&syntax.GotoStmt{Pos: h.Except, State: hs}},
				})
				if i == len(s.Handlers)-1 {
					b.emit(l.reraise(h.Except, exc))
					b.cur = nil
				}
			}
			saved := b.cur
			b.enter(hs)
			if h.Name != nil {
				b.emit(l.set(h.Name, l.ref(h.Except, exc)))
			}
			b.stmts(h.Body)
			b.gotoState(h.Except, after)
			b.cur = saved
		}
		if b.cur != nil {
			diag.Invariant(s, "exception dispatch falls through")
		}

		b.enter(elseState)
		b.stmts(s.Else)
		b.gotoState(s.Try, after)
		b.enter(after)
	} else {
		b.restart(s.Try)
		b.stmts(s.Body)
	}

	if fin == nil {
		return
	}

	// Falling off the end of the protected region.
	b.emit(l.set(fin.how, l.boxedInt(s.FinallyPos, 0)))
	b.gotoState(s.FinallyPos, fin.entry)
	b.finals = b.finals[:len(b.finals)-1]
	b.handler = outer

	// An exception in the protected region.
	b.enter(excState)
	b.emit(
		l.set(fin.exc, l.caught(s.FinallyPos)),
		l.set(fin.how, l.boxedInt(s.FinallyPos, -1)),
	)
	b.gotoState(s.FinallyPos, fin.entry)

	b.enter(fin.entry)
	b.stmts(s.Finally)
	b.emit(&syntax.IfStmt{
		If:   s.FinallyPos,
		Cond: l.intrinsic(s.FinallyPos, "eq", l.ref(s.FinallyPos, fin.how), l.boxedInt(s.FinallyPos, -1)),
		True: []syntax.Stmt{l.reraise(s.FinallyPos, fin.exc)},
	})
	reissue := make([]int, len(fin.exits))
	for k := range fin.exits {
		reissue[k] = b.newState()
		b.emit(&syntax.IfStmt{
			If:   s.FinallyPos,
			Cond: l.intrinsic(s.FinallyPos, "eq", l.ref(s.FinallyPos, fin.how), l.boxedInt(s.FinallyPos, k+1)),
			True: []syntax.Stmt{&syntax.GotoStmt{Pos: s.FinallyPos, State: reissue[k]}},
		})
	}
	after := b.newState()
	b.gotoState(s.FinallyPos, after)
	for k, t := range fin.exits {
		b.enter(reissue[k])
		b.transfer(t)
	}
	b.enter(after)
}

// transfer emits a return, break or continue, running the finally
// clauses that lie between it and its destination.
func (b *genBuilder) transfer(t transfer) {
	l := b.l
	limit := 0
	if t.kind != syntax.RETURN {
		limit = b.loops[t.loop].finals
	}
	if len(b.finals) > limit {
		fin := b.finals[len(b.finals)-1]
		if t.value != nil {
			if b.retval == nil {
				b.retval = l.scope.NewLocal(t.pos, "retval")
			}
			b.emit(l.set(b.retval, t.value))
			t.value = l.ref(t.pos, b.retval)
		}
		fin.exits = append(fin.exits, t)
		b.emit(l.set(fin.how, l.boxedInt(t.pos, len(fin.exits))))
		b.gotoState(t.pos, fin.entry)
		return
	}
	switch t.kind {
	case syntax.RETURN:
		b.emit(&syntax.FinishStmt{Pos: t.pos, Value: t.value})
		b.cur = nil
	case syntax.BREAK:
		b.gotoState(t.pos, b.loops[t.loop].brk)
	case syntax.CONTINUE:
		b.gotoState(t.pos, b.loops[t.loop].cont)
	}
}

// verbatim emits a statement that is not split. Its transfers out of
// the current state go through states of their own.
func (b *genBuilder) verbatim(s syntax.Stmt) {
	var pending []transfer
	var states []int
	var rewrite func(stmts []syntax.Stmt, inLoop bool) []syntax.Stmt
	jump := func(t transfer) syntax.Stmt {
		states = append(states, b.newState())
		pending = append(pending, t)
		return &syntax.GotoStmt{Pos: t.pos, State: states[len(states)-1]}
	}
	rewrite = func(stmts []syntax.Stmt, inLoop bool) []syntax.Stmt {
		for i, s := range stmts {
			switch s := s.(type) {
			case *syntax.ReturnStmt:
				stmts[i] = jump(transfer{pos: s.Return, kind: syntax.RETURN, value: s.Result})
			case *syntax.BranchStmt:
				if !inLoop && s.Token != syntax.PASS {
					if len(b.loops) == 0 {
						diag.Invariant(s, "%s outside a loop", s.Token)
					}
					stmts[i] = jump(transfer{pos: s.TokenPos, kind: s.Token, loop: len(b.loops) - 1})
				}
			case *syntax.IfStmt:
				s.True = rewrite(s.True, inLoop)
				s.False = rewrite(s.False, inLoop)
			case *syntax.WhileStmt:
				s.Body = rewrite(s.Body, true)
			case *syntax.ForStmt:
				s.Body = rewrite(s.Body, true)
			}
		}
		return stmts
	}
	out := rewrite([]syntax.Stmt{s}, false)
	if g, ok := out[0].(*syntax.GotoStmt); ok {
		b.emit(g)
		b.cur = nil
	} else {
		b.emit(out...)
	}

	saved := b.cur
	for i, t := range pending {
		b.enter(states[i])
		b.transfer(t)
	}
	b.cur = saved
}

// hoistStmt moves the yields out of the expressions of a simple statement.
func (b *genBuilder) hoistStmt(s syntax.Stmt) syntax.Stmt {
	switch s := s.(type) {
	case *syntax.ExprStmt:
		if y, ok := s.X.(*syntax.YieldExpr); ok {
			// The value sent in is discarded.
			b.yield(y)
			return &syntax.BranchStmt{Token: syntax.PASS, TokenPos: y.Yield}
		}
		s.X = b.hoist(s.X)
	case *syntax.AssignStmt:
		b.hoistTarget(s.LHS)
		s.RHS = b.hoist(s.RHS)
	case *syntax.RaiseStmt:
		s.X = b.hoist(s.X)
		s.Cause = b.hoist(s.Cause)
	case *syntax.DelStmt:
		for _, t := range s.Targets {
			b.hoistTarget(t)
		}
	default:
		if containsYield(s) {
			b.l.r.Errorf(s, diag.SyntaxShape, "yield is not supported here")
		}
	}
	return s
}

func (b *genBuilder) hoistTarget(e syntax.Expr) {
	switch e := e.(type) {
	case *syntax.DotExpr:
		e.X = b.hoist(e.X)
	case *syntax.IndexExpr:
		e.X = b.hoist(e.X)
		e.Y = b.hoist(e.Y)
	case *syntax.SliceExpr:
		e.X = b.hoist(e.X)
		e.Lo = b.hoist(e.Lo)
		e.Hi = b.hoist(e.Hi)
		e.Step = b.hoist(e.Step)
	}
}

// hoist moves the yields of e, in evaluation order, into states
// before the current point, and returns e with each yield replaced by
// the value sent in when it resumed.
func (b *genBuilder) hoist(e syntax.Expr) syntax.Expr {
	if e == nil || !containsYield(e) {
		return e
	}
	switch x := e.(type) {
	case *syntax.YieldExpr:
		return b.yield(x)
	case *syntax.BinaryExpr:
		if (x.Op == syntax.AND || x.Op == syntax.OR) && containsYield(x.Y) {
			b.l.r.Errorf(x.Y, diag.SyntaxShape, "yield in the right operand of %s is not supported", x.Op)
			return e
		}
	case *syntax.CondExpr:
		if containsYield(x.True) || containsYield(x.False) {
			b.l.r.Errorf(x, diag.SyntaxShape, "yield in a branch of a conditional expression is not supported")
			return e
		}
	}
	children(e, func(p *syntax.Expr) { *p = b.hoist(*p) })
	return e
}

// yield suspends with the value of y and returns the value sent in.
func (b *genBuilder) yield(y *syntax.YieldExpr) syntax.Expr {
	l := b.l
	y.X = b.hoist(y.X)
	if y.From {
		return b.yieldFrom(y)
	}
	value := y.X
	next := b.newState()
	b.emit(&syntax.SuspendStmt{Yield: y.Yield, Value: value, Next: next})
	b.cur = nil
	b.enter(next)
	sent := l.scope.NewLocal(y.Yield, "sent")
	b.emit(l.set(sent, l.sent(y.Yield)))
	return l.ref(y.Yield, sent)
}

// yieldFrom delegates to a sub-iterator until it is exhausted, passing
// sent values through, and returns its result.
func (b *genBuilder) yieldFrom(y *syntax.YieldExpr) syntax.Expr {
	l := b.l
	pos := y.Yield
	it := l.scope.NewLocal(pos, "sub")
	sent := l.scope.NewLocal(pos, "sent")
	v := l.scope.NewLocal(pos, "v")
	b.emit(
		l.set(it, l.intrinsic(pos, "iter", y.X)),
		l.set(sent, l.noneLit(pos)),
	)
	head := b.newState()
	b.gotoState(pos, head)
	b.enter(head)
	b.emit(l.set(v, l.intrinsic(pos, "send", l.ref(pos, it), l.ref(pos, sent))))
	out, suspend := b.newState(), b.newState()
	b.emit(&syntax.IfStmt{
		If:    pos,
		Cond:  l.intrinsic(pos, "stop", l.ref(pos, v)),
		True:  []syntax.Stmt{&syntax.GotoStmt{Pos: pos, State: out}},
		False: []syntax.Stmt{&syntax.GotoStmt{Pos: pos, State: suspend}},
	})
	b.cur = nil

	b.enter(suspend)
	resume := b.newState()
	b.emit(&syntax.SuspendStmt{Yield: pos, Value: l.ref(pos, v), Next: resume})
	b.cur = nil
	b.enter(resume)
	b.emit(l.set(sent, l.sent(pos)))
	b.gotoState(pos, head)

	b.enter(out)
	result := l.scope.NewLocal(pos, "result")
	b.emit(l.set(result, l.intrinsic(pos, "gen_result", l.ref(pos, it))))
	return l.ref(pos, result)
}

// split reports whether s must be expressed as states.
func split(s syntax.Stmt) bool {
	found := false
	syntax.Walk(s, func(n syntax.Node) bool {
		switch n.(type) {
		case *syntax.DefStmt, *syntax.LambdaExpr:
			return false
		case *syntax.YieldExpr, *syntax.TryStmt:
			found = true
		}
		return !found
	})
	return found
}

// containsYield reports whether n contains a yield outside nested functions.
func containsYield(n syntax.Node) bool {
	if n == nil {
		return false
	}
	found := false
	syntax.Walk(n, func(n syntax.Node) bool {
		switch n.(type) {
		case *syntax.DefStmt, *syntax.LambdaExpr:
			return false
		case *syntax.YieldExpr:
			found = true
		}
		return !found
	})
	return found
}

// children calls f with a pointer to each operand of e, in evaluation order.
func children(e syntax.Expr, f func(*syntax.Expr)) {
	opt := func(p *syntax.Expr) {
		if *p != nil {
			f(p)
		}
	}
	switch e := e.(type) {
	case *syntax.UnaryExpr:
		opt(&e.X)
	case *syntax.BinaryExpr:
		f(&e.X)
		f(&e.Y)
	case *syntax.CompareExpr:
		for i := range e.X {
			f(&e.X[i])
		}
	case *syntax.CallExpr:
		f(&e.Fn)
		for i := range e.Args {
			switch arg := e.Args[i].(type) {
			case *syntax.BinaryExpr:
				if arg.Op == syntax.EQ {
					f(&arg.Y)
					continue
				}
			case *syntax.UnaryExpr:
				if arg.Op == syntax.STAR || arg.Op == syntax.STARSTAR {
					f(&arg.X)
					continue
				}
			}
			f(&e.Args[i])
		}
	case *syntax.DotExpr:
		f(&e.X)
	case *syntax.IndexExpr:
		f(&e.X)
		f(&e.Y)
	case *syntax.SliceExpr:
		f(&e.X)
		opt(&e.Lo)
		opt(&e.Hi)
		opt(&e.Step)
	case *syntax.CondExpr:
		f(&e.Cond)
		f(&e.True)
		f(&e.False)
	case *syntax.ListExpr:
		for i := range e.List {
			f(&e.List[i])
		}
	case *syntax.TupleExpr:
		for i := range e.List {
			f(&e.List[i])
		}
	case *syntax.SetExpr:
		for i := range e.List {
			f(&e.List[i])
		}
	case *syntax.DictExpr:
		for _, entry := range e.List {
			entry := entry.(*syntax.DictEntry)
			f(&entry.Key)
			f(&entry.Value)
		}
	case *syntax.AssignExpr:
		f(&e.X)
	case *syntax.ConvExpr:
		f(&e.X)
	case *syntax.Intrinsic:
		for i := range e.Args {
			f(&e.Args[i])
		}
	case *syntax.YieldExpr:
		opt(&e.X)
	case *syntax.BindExpr:
		f(&e.X)
	}
}
