// Package lower rewrites the high-level control constructs of an
// annotated file into the forms that code generation handles directly.
//
// A match statement becomes a chain of if statements whose conditions
// test the subject structurally and bind captures as they go. A try
// statement becomes a TryCatchStmt whose handler dispatches on the
// exception type, wrapped in a TryFinallyStmt when it has a finally
// clause. The body of a generator function becomes a StateMachine.
//
// Every node the lowerer creates is annotated with a representation,
// so the output satisfies the same invariant as the analyzer's.
package lower

import (
	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.lower")

// Options control lowering.
type Options struct {
	// ExhaustiveMatch requires every match statement to end in an
	// irrefutable case.
	ExhaustiveMatch bool
}

type lowerer struct {
	info  *repr.Info
	opts  Options
	r     *diag.Reporter
	scope *resolve.Scope
	gen   bool // lowering a generator body, whose try statements become states

	// excOf holds the variable bound to the exception caught by each
	// try statement with handlers.
	excOf map[*syntax.TryStmt]*syntax.Ident
}

// File lowers every function of an analyzed file in place.
func File(f *syntax.File, info *repr.Info, opts Options) error {
	var r diag.Reporter
	l := &lowerer{
		info:  info,
		opts:  opts,
		r:     &r,
		excOf: make(map[*syntax.TryStmt]*syntax.Ident),
	}
	mod := f.Module.(*resolve.Module)

	func() {
		defer r.Recover("lowering", syntax.Start(f))

		l.scope = mod.Scope
		l.handlers(f.Stmts, nil)
		f.Stmts = l.block(f.Stmts)

		generators := 0
		for _, fn := range mod.Functions {
			l.scope = resolve.ScopeOf(fn)
			l.handlers(fn.Body, nil)
			if l.scope.Generator {
				generators++
				fn.Body = []syntax.Stmt{l.generator(fn)}
			} else {
				fn.Body = l.block(fn.Body)
			}
		}
		log.Debugf("%d functions lowered, %d generators", len(mod.Functions), generators)
	}()
	return r.Errors().Err()
}

// block lowers a statement list.
func (l *lowerer) block(stmts []syntax.Stmt) []syntax.Stmt {
	out := make([]syntax.Stmt, 0, len(stmts))
	for _, s := range stmts {
		switch s := s.(type) {
		case *syntax.MatchStmt:
			out = append(out, l.match(s)...)
			continue

		case *syntax.TryStmt:
			if !l.gen {
				out = append(out, l.try(s)...)
				continue
			}
			s.Body = l.block(s.Body)
			for _, h := range s.Handlers {
				h.Body = l.block(h.Body)
			}
			s.Else = l.block(s.Else)
			s.Finally = l.block(s.Finally)

		case *syntax.IfStmt:
			s.True = l.block(s.True)
			s.False = l.block(s.False)

		case *syntax.WhileStmt:
			s.Body = l.block(s.Body)

		case *syntax.ForStmt:
			s.Body = l.block(s.Body)

		case *syntax.ClassStmt:
			saved := l.scope
			l.scope = resolve.ScopeOf(s)
			s.Body = l.block(s.Body)
			l.scope = saved
		}
		out = append(out, s)
	}
	return out
}

// handlers records the exception context of every raise statement
// that lies within an except clause, and turns a bare raise there into
// a re-raise of the caught exception. cur is the variable holding the
// exception being handled, or nil.
func (l *lowerer) handlers(stmts []syntax.Stmt, cur *syntax.Ident) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *syntax.RaiseStmt:
			if cur == nil {
				break
			}
			s.Context = l.ref(s.Raise, cur)
			if s.X == nil {
				s.X = l.ref(s.Raise, cur)
				s.Reraise = true
			}

		case *syntax.TryStmt:
			l.handlers(s.Body, cur)
			if len(s.Handlers) > 0 {
				exc := l.scope.NewLocal(s.Try, "exc")
				l.excOf[s] = exc
				for _, h := range s.Handlers {
					l.handlers(h.Body, exc)
				}
			}
			l.handlers(s.Else, cur)
			l.handlers(s.Finally, cur)

		case *syntax.IfStmt:
			l.handlers(s.True, cur)
			l.handlers(s.False, cur)

		case *syntax.WhileStmt:
			l.handlers(s.Body, cur)

		case *syntax.ForStmt:
			l.handlers(s.Body, cur)

		case *syntax.MatchStmt:
			for _, c := range s.Cases {
				l.handlers(c.Body, cur)
			}

		case *syntax.ClassStmt:
			saved := l.scope
			l.scope = resolve.ScopeOf(s)
			l.handlers(s.Body, cur)
			l.scope = saved
		}
	}
}

// try lowers a try statement of an ordinary function.
//
//	try: B except T as e: H else: E finally: F
//
// becomes
//
//	TryFinally {
//	    $ok = False
//	    TryCatch { B; $ok = True } catch $exc {
//	        if exc_match($exc, T): e = $exc; H
//	        else: raise $exc
//	    }
//	    if $ok: E
//	} finally { F }
func (l *lowerer) try(s *syntax.TryStmt) []syntax.Stmt {
	body := l.block(s.Body)
	var out []syntax.Stmt
	if len(s.Handlers) > 0 {
		exc := l.excOf[s]
		var ok *syntax.Ident
		if len(s.Else) > 0 {
			ok = l.scope.NewLocal(s.ElsePos, "ok")
			out = append(out, l.set(ok, l.boolLit(s.Try, false)))
			body = append(body, l.set(ok, l.boolLit(s.ElsePos, true)))
		}
		out = append(out, &syntax.TryCatchStmt{
			Try:     s.Try,
			Body:    body,
			Exc:     exc,
			Handler: l.dispatch(s, exc),
		})
		if ok != nil {
			out = append(out, &syntax.IfStmt{
				If:   s.ElsePos,
				Cond: l.truthy(l.ref(s.ElsePos, ok)),
				True: l.block(s.Else),
			})
		}
	} else {
		out = body
	}

	if len(s.Finally) > 0 {
		tf := &syntax.TryFinallyStmt{
			Try:     s.Try,
			Body:    out,
			Finally: l.block(s.Finally),
		}
		tf.Exits = exits(tf.Body)
		out = []syntax.Stmt{tf}
	}
	return out
}

// dispatch returns the handler of a TryCatchStmt: the except clauses
// tested in order, then a re-raise.
func (l *lowerer) dispatch(s *syntax.TryStmt, exc *syntax.Ident) []syntax.Stmt {
	tail := []syntax.Stmt{l.reraise(s.Try, exc)}
	for i := len(s.Handlers) - 1; i >= 0; i-- {
		h := s.Handlers[i]
		body := l.block(h.Body)
		if h.Name != nil {
			body = append([]syntax.Stmt{l.set(h.Name, l.ref(h.Except, exc))}, body...)
		}
		if h.Type == nil {
			tail = body
			continue
		}
		tail = []syntax.Stmt{&syntax.IfStmt{
			If:    h.Except,
			Cond:  l.intrinsic(h.Except, "exc_match", l.ref(h.Except, exc), h.Type),
			True:  body,
			False: tail,
		}}
	}
	return tail
}

// exits returns the ways control can leave stmts other than by
// falling off the end or raising.
func exits(stmts []syntax.Stmt) syntax.ExitSet {
	var set syntax.ExitSet
	var visit func(stmts []syntax.Stmt, inLoop bool)
	visit = func(stmts []syntax.Stmt, inLoop bool) {
		for _, s := range stmts {
			switch s := s.(type) {
			case *syntax.ReturnStmt:
				set |= syntax.ExitReturn
			case *syntax.BranchStmt:
				if inLoop {
					break
				}
				switch s.Token {
				case syntax.BREAK:
					set |= syntax.ExitBreak
				case syntax.CONTINUE:
					set |= syntax.ExitContinue
				}
			case *syntax.IfStmt:
				visit(s.True, inLoop)
				visit(s.False, inLoop)
			case *syntax.WhileStmt:
				visit(s.Body, true)
			case *syntax.ForStmt:
				visit(s.Body, true)
			case *syntax.TryCatchStmt:
				visit(s.Body, inLoop)
				visit(s.Handler, inLoop)
			case *syntax.TryFinallyStmt:
				visit(s.Body, inLoop)
				visit(s.Finally, inLoop)
			}
		}
	}
	visit(stmts, false)
	return set
}

// ---- annotated node constructors ----

// ref returns a new use of the variable of id.
func (l *lowerer) ref(pos syntax.Position, id *syntax.Ident) *syntax.Ident {
	x := resolve.Bind(pos, id.Binding)
	l.info.Set(x, l.info.Local(id.Binding))
	return x
}

// set returns the assignment id = x, where x is boxed.
func (l *lowerer) set(id *syntax.Ident, x syntax.Expr) *syntax.AssignStmt {
	lhs := resolve.Bind(id.NamePos, id.Binding)
	if rep := l.info.Local(id.Binding); rep.Unboxed() {
		diag.Invariant(id, "lowering assigns a boxed value to unboxed %s", id.Name)
	}
	return &syntax.AssignStmt{OpPos: id.NamePos, Op: syntax.EQ, LHS: lhs, RHS: x}
}

func (l *lowerer) intrinsic(pos syntax.Position, name string, args ...syntax.Expr) *syntax.Intrinsic {
	x := &syntax.Intrinsic{Pos: pos, Name: name, Args: args}
	r, ok := repr.IntrinsicResult(name)
	if !ok {
		diag.Invariant(x, "unknown intrinsic %s", name)
	}
	l.info.Set(x, r)
	return x
}

// static returns an int literal operand read at compile time.
func (l *lowerer) static(pos syntax.Position, n int) *syntax.Literal {
	lit := &syntax.Literal{Token: syntax.INT, TokenPos: pos, Value: int64(n)}
	l.info.Set(lit, repr.Int(int64(n), int64(n)))
	return lit
}

// boxedInt returns a boxed int constant.
func (l *lowerer) boxedInt(pos syntax.Position, n int) syntax.Expr {
	c := &syntax.ConvExpr{Op: syntax.BoxInt, X: l.static(pos, n)}
	l.info.Set(c, repr.Big)
	return c
}

func (l *lowerer) boolLit(pos syntax.Position, v bool) syntax.Expr {
	tok := syntax.FALSE
	if v {
		tok = syntax.TRUE
	}
	lit := &syntax.Literal{Token: tok, TokenPos: pos, Value: v}
	l.info.Set(lit, repr.BoolRep)
	c := &syntax.ConvExpr{Op: syntax.BoxBool, X: lit}
	l.info.Set(c, repr.AnyRef)
	return c
}

func (l *lowerer) strLit(pos syntax.Position, s string) *syntax.Literal {
	lit := &syntax.Literal{Token: syntax.STRING, TokenPos: pos, Value: s}
	l.info.Set(lit, repr.StrRep)
	return lit
}

func (l *lowerer) noneLit(pos syntax.Position) *syntax.Literal {
	lit := &syntax.Literal{Token: syntax.NONE, TokenPos: pos}
	l.info.Set(lit, repr.NoneRep)
	return lit
}

func (l *lowerer) truthy(x syntax.Expr) syntax.Expr {
	c := &syntax.ConvExpr{Op: syntax.Truthy, X: x}
	l.info.Set(c, repr.BoolRep)
	return c
}

// and returns the conjunction of two conditions, either of which may
// be nil (always true).
func (l *lowerer) and(x, y syntax.Expr) syntax.Expr {
	switch {
	case x == nil:
		return y
	case y == nil:
		return x
	}
	b := &syntax.BinaryExpr{X: x, OpPos: syntax.Start(y), Op: syntax.AND, Y: y}
	l.info.Set(b, repr.BoolRep)
	return b
}

func (l *lowerer) or(x, y syntax.Expr) syntax.Expr {
	b := &syntax.BinaryExpr{X: x, OpPos: syntax.Start(y), Op: syntax.OR, Y: y}
	l.info.Set(b, repr.BoolRep)
	return b
}

// bind returns the condition that binds x to id and holds.
func (l *lowerer) bind(id *syntax.Ident, x syntax.Expr) syntax.Expr {
	b := &syntax.BindExpr{Name: resolve.Bind(id.NamePos, id.Binding), X: x}
	l.info.Set(b, repr.BoolRep)
	return b
}

// caught returns the exception that entered the current handler state.
func (l *lowerer) caught(pos syntax.Position) syntax.Expr {
	x := &syntax.CaughtExpr{Pos: pos}
	l.info.Set(x, repr.AnyRef)
	return x
}

// sent returns the value passed in by the current resume.
func (l *lowerer) sent(pos syntax.Position) syntax.Expr {
	x := &syntax.SentExpr{Pos: pos}
	l.info.Set(x, repr.AnyRef)
	return x
}

func (l *lowerer) reraise(pos syntax.Position, exc *syntax.Ident) *syntax.RaiseStmt {
	return &syntax.RaiseStmt{Raise: pos, X: l.ref(pos, exc), Reraise: true}
}
