// Package desugar rewrites a parsed file into the core node set that
// the later stages of the compiler understand.
//
// The result is a new tree; identifiers are copied so that the
// resolver's annotations never reach the parse tree. After desugaring:
//
//   - every assignment has one target, which is a name, attribute,
//     index or slice; destructuring, chained and augmented assignments
//     and annotations are gone;
//   - for loops bind a single name and no loop has an else clause;
//   - comprehensions and generator expressions are calls of
//     ComprehensionFunc lambdas applied to their first iterable;
//   - f-strings are str_join intrinsics;
//   - decorators are explicit calls, except staticmethod, classmethod
//     and property on methods, which set Function.Kind;
//   - every function has a Signature and a qualified Name;
//   - with and assert statements are try and if statements;
//   - zero-argument super() is a super intrinsic;
//   - there are no ParenExprs.
//
// The intrinsics introduced here are list_append, set_add, dict_set,
// new_set, str_join, str, repr, format, unpack, unpack_star, tuple_get
// and super.
package desugar

import (
	"strings"

	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.desugar")

// Modules lists the host modules that may be imported.
var Modules = map[string]bool{
	"js":   true,
	"math": true,
}

var futures = map[string]bool{
	"absolute_import":  true,
	"annotations":      true,
	"division":         true,
	"generator_stop":   true,
	"generators":       true,
	"nested_scopes":    true,
	"print_function":   true,
	"unicode_literals": true,
	"with_statement":   true,
}

// File returns the desugared form of f.
// Errors are reported to r; the result is meaningful only if none were.
func File(f *syntax.File, r *diag.Reporter) *syntax.File {
	d := &desugarer{r: r, ctx: &context{kind: moduleCtx}}
	stmts := d.stmts(f.Stmts)
	log.Debugf("%s: %d temporaries, %d comprehensions", f.Path, d.ntemp, d.ncomp)
	return &syntax.File{Path: f.Path, Stmts: stmts}
}

type ctxKind uint8

const (
	moduleCtx ctxKind = iota
	classCtx
	funcCtx
	compCtx
)

// A context describes the scope whose body is being desugared.
type context struct {
	kind   ctxKind
	parent *context
	qual   string

	class string        // enclosing class, for zero-argument super
	self  *syntax.Ident // first parameter of the method, for super

	loops []*syntax.Ident // break flag of each enclosing loop with an else clause, or nil

	walrus []*syntax.Ident // funcCtx: names assigned by := in nested comprehensions
	decl   []*syntax.Ident // compCtx: names this comprehension assigns in its owner
	declOp syntax.Token    // GLOBAL or NONLOCAL
}

func (c *context) qualify(name string) string {
	switch c.kind {
	case moduleCtx:
		return name
	case classCtx:
		return c.qual + "." + name
	}
	return c.qual + ".<locals>." + name
}

type desugarer struct {
	r     *diag.Reporter
	ctx   *context
	ntemp int
	ncomp int
}

func (d *desugarer) errorf(n syntax.Node, format string, args ...interface{}) {
	d.r.Errorf(n, diag.SyntaxShape, format, args...)
}

// temp returns a fresh compiler variable. Names beginning with '$'
// cannot collide with source names.
func (d *desugarer) temp(pos syntax.Position, hint string) *syntax.Ident {
	d.ntemp++
	return &syntax.Ident{NamePos: pos, Name: "$" + hint + itoa(d.ntemp)}
}

func itoa(i int) string {
	var buf [20]byte
	n := len(buf)
	for {
		n--
		buf[n] = byte('0' + i%10)
		i /= 10
		if i == 0 {
			break
		}
	}
	return string(buf[n:])
}

// ref returns a new use of the variable id.
func ref(id *syntax.Ident) *syntax.Ident {
	return &syntax.Ident{NamePos: id.NamePos, Name: id.Name}
}

func name(pos syntax.Position, s string) *syntax.Ident {
	return &syntax.Ident{NamePos: pos, Name: s}
}

func set(lhs *syntax.Ident, rhs syntax.Expr) syntax.Stmt {
	return &syntax.AssignStmt{OpPos: lhs.NamePos, Op: syntax.EQ, LHS: ref(lhs), RHS: rhs}
}

func intrinsic(pos syntax.Position, fn string, args ...syntax.Expr) *syntax.Intrinsic {
	return &syntax.Intrinsic{Pos: pos, Name: fn, Args: args}
}

func intLit(pos syntax.Position, i int) *syntax.Literal {
	return &syntax.Literal{Token: syntax.INT, TokenPos: pos, Raw: itoa(i), Value: int64(i)}
}

func strLit(pos syntax.Position, s string) *syntax.Literal {
	return &syntax.Literal{Token: syntax.STRING, TokenPos: pos, Raw: syntax.Quote(s, false), Value: s}
}

func boolLit(pos syntax.Position, b bool) *syntax.Literal {
	if b {
		return &syntax.Literal{Token: syntax.TRUE, TokenPos: pos, Raw: "True", Value: true}
	}
	return &syntax.Literal{Token: syntax.FALSE, TokenPos: pos, Raw: "False", Value: false}
}

func noneLit(pos syntax.Position) *syntax.Literal {
	return &syntax.Literal{Token: syntax.NONE, TokenPos: pos, Raw: "None"}
}

func not(x syntax.Expr) syntax.Expr {
	return &syntax.UnaryExpr{OpPos: syntax.Start(x), Op: syntax.NOT, X: x}
}

func call(fn syntax.Expr, args ...syntax.Expr) *syntax.CallExpr {
	pos := syntax.End(fn)
	return &syntax.CallExpr{Fn: fn, Lparen: pos, Args: args, Rparen: pos}
}

func dot(x syntax.Expr, attr string) *syntax.DotExpr {
	pos := syntax.End(x)
	return &syntax.DotExpr{X: x, Dot: pos, NamePos: pos, Name: name(pos, attr)}
}

func pass(pos syntax.Position) syntax.Stmt {
	return &syntax.BranchStmt{Token: syntax.PASS, TokenPos: pos}
}

func unparen(x syntax.Expr) syntax.Expr {
	for {
		p, ok := x.(*syntax.ParenExpr)
		if !ok {
			return x
		}
		x = p.X
	}
}

// ---- statements ----

func (d *desugarer) stmts(stmts []syntax.Stmt) []syntax.Stmt {
	var out []syntax.Stmt
	for _, stmt := range stmts {
		out = append(out, d.stmt(stmt)...)
	}
	return out
}

// block desugars a suite, which must not become empty.
func (d *desugarer) block(stmts []syntax.Stmt) []syntax.Stmt {
	out := d.stmts(stmts)
	if len(out) == 0 && len(stmts) > 0 {
		out = []syntax.Stmt{pass(syntax.Start(stmts[0]))}
	}
	return out
}

func (d *desugarer) stmt(stmt syntax.Stmt) []syntax.Stmt {
	switch stmt := stmt.(type) {
	case *syntax.ExprStmt:
		if lit, ok := unparen(stmt.X).(*syntax.Literal); ok && lit.Token == syntax.STRING {
			return []syntax.Stmt{pass(lit.TokenPos)} // docstring
		}
		return []syntax.Stmt{&syntax.ExprStmt{X: d.expr(stmt.X)}}

	case *syntax.AssignStmt:
		if stmt.Op != syntax.EQ {
			return d.augmented(stmt)
		}
		if stmt.RHS == nil {
			return []syntax.Stmt{pass(stmt.OpPos)} // bare annotation
		}
		if stmt.Annot == nil && d.ctx.kind == classCtx {
			if id, ok := stmt.LHS.(*syntax.Ident); ok && id.Name == "__slots__" {
				d.errorf(id, "__slots__ is not supported")
			}
		}
		return d.assign(stmt)

	case *syntax.AssertStmt:
		exc := syntax.Expr(name(stmt.Assert, "AssertionError"))
		if stmt.Msg != nil {
			exc = call(exc, d.expr(stmt.Msg))
		}
		return []syntax.Stmt{&syntax.IfStmt{
			If:   stmt.Assert,
			Cond: not(d.expr(stmt.Cond)),
			True: []syntax.Stmt{&syntax.RaiseStmt{Raise: stmt.Assert, X: exc}},
		}}

	case *syntax.BranchStmt:
		if stmt.Token == syntax.BREAK {
			if n := len(d.ctx.loops); n > 0 && d.ctx.loops[n-1] != nil {
				return []syntax.Stmt{
					set(d.ctx.loops[n-1], boolLit(stmt.TokenPos, true)),
					&syntax.BranchStmt{Token: syntax.BREAK, TokenPos: stmt.TokenPos},
				}
			}
		}
		return []syntax.Stmt{&syntax.BranchStmt{Token: stmt.Token, TokenPos: stmt.TokenPos}}

	case *syntax.IfStmt:
		return []syntax.Stmt{&syntax.IfStmt{
			If:      stmt.If,
			Cond:    d.expr(stmt.Cond),
			True:    d.block(stmt.True),
			ElsePos: stmt.ElsePos,
			False:   d.block(stmt.False),
		}}

	case *syntax.WhileStmt:
		cond := d.expr(stmt.Cond)
		flag := d.loopFlag(stmt.While, stmt.Else)
		body := d.loopBody(flag, stmt.Body)
		loop := &syntax.WhileStmt{While: stmt.While, Cond: cond, Body: body}
		return d.loopElse(flag, loop, stmt.Else)

	case *syntax.ForStmt:
		x := d.expr(stmt.X)
		flag := d.loopFlag(stmt.For, stmt.Else)
		body := d.loopBody(flag, stmt.Body)
		loop := d.forLoop(stmt.For, stmt.Vars, x, body)
		return d.loopElse(flag, loop, stmt.Else)

	case *syntax.DefStmt:
		return d.def(stmt)

	case *syntax.ClassStmt:
		return d.class(stmt)

	case *syntax.DelStmt:
		del := &syntax.DelStmt{Del: stmt.Del}
		var flatten func(x syntax.Expr)
		flatten = func(x syntax.Expr) {
			switch x := unparen(x).(type) {
			case *syntax.TupleExpr:
				for _, elem := range x.List {
					flatten(elem)
				}
			case *syntax.ListExpr:
				for _, elem := range x.List {
					flatten(elem)
				}
			default:
				del.Targets = append(del.Targets, d.expr(x))
			}
		}
		for _, x := range stmt.Targets {
			flatten(x)
		}
		return []syntax.Stmt{del}

	case *syntax.GlobalStmt:
		g := &syntax.GlobalStmt{Token: stmt.Token, TokenPos: stmt.TokenPos}
		for _, id := range stmt.Names {
			g.Names = append(g.Names, ref(id))
		}
		return []syntax.Stmt{g}

	case *syntax.ImportStmt:
		if stmt.Module.Name == "__future__" && stmt.From != nil {
			// Future features are all in effect already.
			for _, id := range stmt.From {
				if !futures[id.Name] {
					d.errorf(id, "future feature %s is not defined", id.Name)
				}
			}
			return []syntax.Stmt{pass(stmt.Import)}
		}
		if !Modules[stmt.Module.Name] {
			d.errorf(stmt.Module, "module %s is not available (supported: js, math)", stmt.Module.Name)
		}
		imp := &syntax.ImportStmt{Import: stmt.Import, Module: ref(stmt.Module)}
		for _, id := range stmt.From {
			imp.From = append(imp.From, ref(id))
		}
		for _, id := range stmt.To {
			imp.To = append(imp.To, ref(id))
		}
		return []syntax.Stmt{imp}

	case *syntax.RaiseStmt:
		raise := &syntax.RaiseStmt{Raise: stmt.Raise}
		if stmt.X != nil {
			raise.X = d.expr(stmt.X)
		}
		if stmt.Cause != nil {
			raise.Cause = d.expr(stmt.Cause)
		}
		return []syntax.Stmt{raise}

	case *syntax.ReturnStmt:
		ret := &syntax.ReturnStmt{Return: stmt.Return}
		if stmt.Result != nil {
			ret.Result = d.expr(stmt.Result)
		}
		return []syntax.Stmt{ret}

	case *syntax.TryStmt:
		try := &syntax.TryStmt{
			Try:        stmt.Try,
			Body:       d.block(stmt.Body),
			ElsePos:    stmt.ElsePos,
			FinallyPos: stmt.FinallyPos,
		}
		for _, h := range stmt.Handlers {
			clause := &syntax.ExceptClause{Except: h.Except, Body: d.block(h.Body)}
			if h.Type != nil {
				clause.Type = d.expr(h.Type)
			}
			if h.Name != nil {
				clause.Name = ref(h.Name)
			}
			try.Handlers = append(try.Handlers, clause)
		}
		try.Else = d.block(stmt.Else)
		try.Finally = d.block(stmt.Finally)
		return []syntax.Stmt{try}

	case *syntax.WithStmt:
		return d.with(stmt.With, stmt.Items, stmt.Body)

	case *syntax.MatchStmt:
		match := &syntax.MatchStmt{Match: stmt.Match, Subject: d.expr(stmt.Subject)}
		for _, c := range stmt.Cases {
			clause := &syntax.CaseClause{Case: c.Case, Pattern: d.pattern(c.Pattern)}
			if c.Guard != nil {
				clause.Guard = d.expr(c.Guard)
			}
			clause.Body = d.block(c.Body)
			match.Cases = append(match.Cases, clause)
		}
		return []syntax.Stmt{match}
	}
	d.errorf(stmt, "unsupported statement")
	return nil
}

// ---- loops ----

func (d *desugarer) loopFlag(pos syntax.Position, els []syntax.Stmt) *syntax.Ident {
	if els == nil {
		return nil
	}
	return d.temp(pos, "brk")
}

func (d *desugarer) loopBody(flag *syntax.Ident, body []syntax.Stmt) []syntax.Stmt {
	d.ctx.loops = append(d.ctx.loops, flag)
	out := d.block(body)
	d.ctx.loops = d.ctx.loops[:len(d.ctx.loops)-1]
	return out
}

// loopElse runs the else clause of a loop unless the loop was left by break.
func (d *desugarer) loopElse(flag *syntax.Ident, loop syntax.Stmt, els []syntax.Stmt) []syntax.Stmt {
	if flag == nil {
		return []syntax.Stmt{loop}
	}
	pos := flag.NamePos
	return []syntax.Stmt{
		set(flag, boolLit(pos, false)),
		loop,
		&syntax.IfStmt{If: pos, Cond: not(ref(flag)), True: d.block(els)},
	}
}

// forLoop builds a loop over x whose body (already desugared) starts by
// assigning each element to vars.
func (d *desugarer) forLoop(pos syntax.Position, vars, x syntax.Expr, body []syntax.Stmt) *syntax.ForStmt {
	var v *syntax.Ident
	if id, ok := unparen(vars).(*syntax.Ident); ok {
		v = ref(id)
	} else {
		v = d.temp(pos, "v")
		body = append(d.assignTarget(vars, ref(v)), body...)
	}
	return &syntax.ForStmt{For: pos, Vars: v, X: x, Body: body}
}

// ---- assignment ----

func (d *desugarer) assign(stmt *syntax.AssignStmt) []syntax.Stmt {
	if len(stmt.More) == 0 {
		return d.assignFrom(stmt.LHS, stmt.RHS)
	}
	// a = b = c: evaluate c once, then assign left to right.
	t := d.temp(stmt.OpPos, "t")
	out := []syntax.Stmt{set(t, d.expr(stmt.RHS))}
	out = append(out, d.assignTarget(stmt.LHS, ref(t))...)
	for _, lhs := range stmt.More {
		out = append(out, d.assignTarget(lhs, ref(t))...)
	}
	return out
}

// assignFrom assigns the source expression rhs to lhs.
func (d *desugarer) assignFrom(lhs, rhs syntax.Expr) []syntax.Stmt {
	lhs = unparen(lhs)
	if elems := targetElems(lhs); elems != nil && !hasStar(elems) {
		if vals := targetElems(unparen(rhs)); vals != nil && len(vals) == len(elems) && !hasStar(vals) {
			// a, b = b, a + b: every value is computed before any
			// target is assigned, without building a tuple.
			var temps, assigns []syntax.Stmt
			for i, v := range vals {
				t := d.temp(syntax.Start(v), "t")
				temps = append(temps, set(t, d.expr(v)))
				assigns = append(assigns, d.assignTarget(elems[i], ref(t))...)
			}
			return append(temps, assigns...)
		}
	}
	return d.assignTarget(lhs, d.expr(rhs))
}

// targetElems returns the elements of a tuple or list display, or nil.
func targetElems(x syntax.Expr) []syntax.Expr {
	switch x := x.(type) {
	case *syntax.TupleExpr:
		if x.List == nil {
			return []syntax.Expr{}
		}
		return x.List
	case *syntax.ListExpr:
		if x.List == nil {
			return []syntax.Expr{}
		}
		return x.List
	}
	return nil
}

func hasStar(elems []syntax.Expr) bool {
	for _, e := range elems {
		if u, ok := e.(*syntax.UnaryExpr); ok && u.Op == syntax.STAR {
			return true
		}
	}
	return false
}

// assignTarget assigns the desugared value to lhs.
func (d *desugarer) assignTarget(lhs, value syntax.Expr) []syntax.Stmt {
	lhs = unparen(lhs)
	pos := syntax.Start(lhs)
	switch x := lhs.(type) {
	case *syntax.Ident:
		return []syntax.Stmt{&syntax.AssignStmt{OpPos: pos, Op: syntax.EQ, LHS: ref(x), RHS: value}}

	case *syntax.DotExpr, *syntax.IndexExpr, *syntax.SliceExpr:
		return []syntax.Stmt{&syntax.AssignStmt{OpPos: pos, Op: syntax.EQ, LHS: d.expr(x), RHS: value}}

	case *syntax.TupleExpr, *syntax.ListExpr:
		return d.unpack(pos, targetElems(x), value)
	}
	d.errorf(lhs, "cannot assign to this expression")
	return nil
}

// unpack assigns the elements of an iterable to a list of targets,
// at most one of which is starred.
func (d *desugarer) unpack(pos syntax.Position, elems []syntax.Expr, value syntax.Expr) []syntax.Stmt {
	star := -1
	for i, e := range elems {
		if u, ok := e.(*syntax.UnaryExpr); ok && u.Op == syntax.STAR {
			star = i
		}
	}
	t := d.temp(pos, "t")
	var seq *syntax.Intrinsic
	if star < 0 {
		seq = intrinsic(pos, "unpack", value, intLit(pos, len(elems)))
	} else {
		seq = intrinsic(pos, "unpack_star", value, intLit(pos, star), intLit(pos, len(elems)-star-1))
	}
	out := []syntax.Stmt{set(t, seq)}
	for i, e := range elems {
		if i == star {
			e = e.(*syntax.UnaryExpr).X
		}
		out = append(out, d.assignTarget(e, intrinsic(pos, "tuple_get", ref(t), intLit(pos, i)))...)
	}
	return out
}

// augmented desugars x op= y. The target's operands are evaluated once.
func (d *desugarer) augmented(stmt *syntax.AssignStmt) []syntax.Stmt {
	op := stmt.Op.BinaryOf()
	binary := func(x syntax.Expr) syntax.Expr {
		return &syntax.BinaryExpr{X: x, OpPos: stmt.OpPos, Op: op, Y: d.expr(stmt.RHS), InPlace: true}
	}
	pos := stmt.OpPos
	switch lhs := unparen(stmt.LHS).(type) {
	case *syntax.Ident:
		return []syntax.Stmt{&syntax.AssignStmt{OpPos: pos, Op: syntax.EQ, LHS: ref(lhs), RHS: binary(ref(lhs))}}

	case *syntax.DotExpr:
		obj := d.temp(pos, "t")
		attr := func() syntax.Expr {
			return &syntax.DotExpr{X: ref(obj), Dot: lhs.Dot, NamePos: lhs.NamePos, Name: ref(lhs.Name)}
		}
		return []syntax.Stmt{
			set(obj, d.expr(lhs.X)),
			&syntax.AssignStmt{OpPos: pos, Op: syntax.EQ, LHS: attr(), RHS: binary(attr())},
		}

	case *syntax.IndexExpr:
		obj, key := d.temp(pos, "t"), d.temp(pos, "t")
		elem := func() syntax.Expr {
			return &syntax.IndexExpr{X: ref(obj), Lbrack: lhs.Lbrack, Y: ref(key), Rbrack: lhs.Rbrack}
		}
		return []syntax.Stmt{
			set(obj, d.expr(lhs.X)),
			set(key, d.expr(lhs.Y)),
			&syntax.AssignStmt{OpPos: pos, Op: syntax.EQ, LHS: elem(), RHS: binary(elem())},
		}
	}
	d.errorf(stmt.LHS, "illegal target for augmented assignment")
	return nil
}

// ---- with ----

// with desugars a with statement into a try statement that calls
// __exit__ exactly once: with the exception if the body raises, with
// three Nones otherwise.
func (d *desugarer) with(pos syntax.Position, items []*syntax.WithItem, body []syntax.Stmt) []syntax.Stmt {
	item := items[0]
	var inner []syntax.Stmt
	if len(items) > 1 {
		inner = d.with(pos, items[1:], body)
	} else {
		inner = d.block(body)
	}

	mgr, ok, exc := d.temp(pos, "m"), d.temp(pos, "ok"), d.temp(pos, "e")
	out := []syntax.Stmt{set(mgr, d.expr(item.X))}
	enter := call(dot(ref(mgr), "__enter__"))
	if item.Var != nil {
		out = append(out, d.assignTarget(item.Var, enter)...)
	} else {
		out = append(out, &syntax.ExprStmt{X: enter})
	}
	out = append(out, set(ok, boolLit(pos, true)))

	exit := func(args ...syntax.Expr) syntax.Expr { return call(dot(ref(mgr), "__exit__"), args...) }
	handler := []syntax.Stmt{
		set(ok, boolLit(pos, false)),
		&syntax.IfStmt{
			If:   pos,
			Cond: not(exit(call(name(pos, "type"), ref(exc)), ref(exc), noneLit(pos))),
			True: []syntax.Stmt{&syntax.RaiseStmt{Raise: pos}},
		},
	}
	out = append(out, &syntax.TryStmt{
		Try:  pos,
		Body: inner,
		Handlers: []*syntax.ExceptClause{{
			Except: pos,
			Type:   name(pos, "BaseException"),
			Name:   exc,
			Body:   handler,
		}},
		FinallyPos: pos,
		Finally: []syntax.Stmt{&syntax.IfStmt{
			If:   pos,
			Cond: ref(ok),
			True: []syntax.Stmt{&syntax.ExprStmt{X: exit(noneLit(pos), noneLit(pos), noneLit(pos))}},
		}},
	})
	return out
}

// ---- functions and classes ----

// decorators splits the decorator list of a definition into the
// function kind it selects and the remaining decorator expressions,
// which are evaluated into temporaries before the definition.
func (d *desugarer) decorators(decs []*syntax.Decorator, kind syntax.FuncKind) (syntax.FuncKind, []syntax.Stmt, []syntax.Expr) {
	var pre []syntax.Stmt
	var fns []syntax.Expr
	for _, dec := range decs {
		if d.ctx.kind == classCtx && kind != syntax.PlainFunc {
			if id, ok := dec.X.(*syntax.Ident); ok {
				switch id.Name {
				case "staticmethod":
					kind = syntax.StaticMethodFunc
					continue
				case "classmethod":
					kind = syntax.ClassMethodFunc
					continue
				case "property":
					kind = syntax.PropertyFunc
					continue
				}
			}
			if x, ok := dec.X.(*syntax.DotExpr); ok && (x.Name.Name == "setter" || x.Name.Name == "deleter") {
				d.errorf(dec, "property %s is not supported", x.Name.Name)
				continue
			}
		}
		if id, ok := dec.X.(*syntax.Ident); ok {
			fns = append(fns, ref(id))
			continue
		}
		t := d.temp(dec.At, "dec")
		pre = append(pre, set(t, d.expr(dec.X)))
		fns = append(fns, ref(t))
	}
	return kind, pre, fns
}

// decorate applies decorators, innermost first, to the named definition.
func decorate(id *syntax.Ident, fns []syntax.Expr) []syntax.Stmt {
	if len(fns) == 0 {
		return nil
	}
	var x syntax.Expr = ref(id)
	for i := len(fns) - 1; i >= 0; i-- {
		x = call(fns[i], x)
	}
	return []syntax.Stmt{&syntax.AssignStmt{OpPos: id.NamePos, Op: syntax.EQ, LHS: ref(id), RHS: x}}
}

func (d *desugarer) def(stmt *syntax.DefStmt) []syntax.Stmt {
	kind := syntax.PlainFunc
	if d.ctx.kind == classCtx {
		kind = syntax.MethodFunc
	}
	kind, pre, fns := d.decorators(stmt.Decorators, kind)
	def := &syntax.DefStmt{
		Def:      stmt.Def,
		Name:     ref(stmt.Name),
		Function: d.function(&stmt.Function, d.ctx.qualify(stmt.Name.Name), kind),
	}
	out := append(pre, def)
	return append(out, decorate(stmt.Name, fns)...)
}

func (d *desugarer) class(stmt *syntax.ClassStmt) []syntax.Stmt {
	_, pre, fns := d.decorators(stmt.Decorators, syntax.PlainFunc)
	class := &syntax.ClassStmt{Class: stmt.Class, Name: ref(stmt.Name)}
	for _, base := range stmt.Bases {
		switch base := base.(type) {
		case *syntax.BinaryExpr:
			if base.Op == syntax.EQ {
				d.errorf(base, "class keyword arguments (such as metaclass) are not supported")
				continue
			}
		case *syntax.UnaryExpr:
			if base.Op == syntax.STAR || base.Op == syntax.STARSTAR {
				d.errorf(base, "unpacking in a base class list is not supported")
				continue
			}
		}
		class.Bases = append(class.Bases, d.expr(base))
	}

	qual := d.ctx.qualify(stmt.Name.Name)
	d.ctx = &context{kind: classCtx, parent: d.ctx, qual: qual, class: stmt.Name.Name}
	class.Body = d.block(stmt.Body)
	d.ctx = d.ctx.parent

	out := append(pre, class)
	return append(out, decorate(stmt.Name, fns)...)
}

// function desugars the parameters and body of fn.
func (d *desugarer) function(fn *syntax.Function, qual string, kind syntax.FuncKind) syntax.Function {
	sig := d.signature(fn.Params)

	ctx := &context{kind: funcCtx, parent: d.ctx, qual: qual}
	switch kind {
	case syntax.MethodFunc, syntax.ClassMethodFunc, syntax.PropertyFunc:
		ctx.class = d.ctx.class
		if len(sig.Params) > 0 {
			ctx.self = sig.Params[0]
		} else if sig.Varargs != nil {
			d.errorf(fn, "method %s must have an explicit first parameter", qual)
		}
	}
	d.ctx = ctx
	body := d.block(fn.Body)
	d.ctx = ctx.parent

	if len(ctx.walrus) > 0 {
		body = append([]syntax.Stmt{&syntax.LocalDecl{Pos: fn.StartPos, Names: ctx.walrus}}, body...)
	}
	return syntax.Function{
		StartPos: fn.StartPos,
		Body:     body,
		HasYield: fn.HasYield,
		Name:     qual,
		Kind:     kind,
		Sig:      sig,
	}
}

// signature normalizes a parameter list. Default values are desugared
// in the enclosing context, where they are evaluated.
func (d *desugarer) signature(params []syntax.Expr) *syntax.Signature {
	sig := new(syntax.Signature)
	kwonly := false
	seenDefault := false
	for _, param := range params {
		switch p := param.(type) {
		case *syntax.Ident:
			if seenDefault && !kwonly {
				d.errorf(p, "non-default argument follows default argument")
			}
			sig.Params = append(sig.Params, ref(p))
			sig.Defaults = append(sig.Defaults, nil)
			if !kwonly {
				sig.NumPos++
			}

		case *syntax.BinaryExpr:
			sig.Params = append(sig.Params, ref(p.X.(*syntax.Ident)))
			sig.Defaults = append(sig.Defaults, d.expr(p.Y))
			if !kwonly {
				sig.NumPos++
				seenDefault = true
			}

		case *syntax.UnaryExpr:
			switch {
			case p.Op == syntax.STARSTAR:
				sig.Kwargs = ref(p.X.(*syntax.Ident))
			case kwonly:
				d.errorf(p, "multiple * parameters")
			case p.X == nil:
				kwonly = true
			default:
				kwonly = true
				sig.Varargs = ref(p.X.(*syntax.Ident))
			}
		}
	}
	return sig
}

// ---- expressions ----

func (d *desugarer) exprs(list []syntax.Expr, what string) []syntax.Expr {
	out := make([]syntax.Expr, 0, len(list))
	for _, x := range list {
		if u, ok := x.(*syntax.UnaryExpr); ok && u.Op == syntax.STAR {
			d.errorf(u, "star expressions in %s displays are not supported", what)
			continue
		}
		out = append(out, d.expr(x))
	}
	return out
}

func (d *desugarer) expr(e syntax.Expr) syntax.Expr {
	switch e := e.(type) {
	case *syntax.Ident:
		return ref(e)

	case *syntax.Literal:
		return e

	case *syntax.ParenExpr:
		return d.expr(e.X)

	case *syntax.FStringExpr:
		return d.fstring(e)

	case *syntax.Comprehension:
		return d.comprehension(e)

	case *syntax.LambdaExpr:
		return &syntax.LambdaExpr{
			Lambda:   e.Lambda,
			Function: d.function(&e.Function, d.ctx.qualify("<lambda>"), syntax.LambdaFunc),
		}

	case *syntax.CondExpr:
		return &syntax.CondExpr{If: e.If, Cond: d.expr(e.Cond), True: d.expr(e.True), ElsePos: e.ElsePos, False: d.expr(e.False)}

	case *syntax.IndexExpr:
		return &syntax.IndexExpr{X: d.expr(e.X), Lbrack: e.Lbrack, Y: d.expr(e.Y), Rbrack: e.Rbrack}

	case *syntax.SliceExpr:
		s := &syntax.SliceExpr{X: d.expr(e.X), Lbrack: e.Lbrack, Rbrack: e.Rbrack}
		if e.Lo != nil {
			s.Lo = d.expr(e.Lo)
		}
		if e.Hi != nil {
			s.Hi = d.expr(e.Hi)
		}
		if e.Step != nil {
			s.Step = d.expr(e.Step)
		}
		return s

	case *syntax.DotExpr:
		return &syntax.DotExpr{X: d.expr(e.X), Dot: e.Dot, NamePos: e.NamePos, Name: ref(e.Name)}

	case *syntax.UnaryExpr:
		if e.Op == syntax.STAR || e.Op == syntax.STARSTAR {
			d.errorf(e, "starred expression is not allowed here")
			return noneLit(e.OpPos)
		}
		return &syntax.UnaryExpr{OpPos: e.OpPos, Op: e.Op, X: d.expr(e.X)}

	case *syntax.BinaryExpr:
		return &syntax.BinaryExpr{X: d.expr(e.X), OpPos: e.OpPos, Op: e.Op, Y: d.expr(e.Y)}

	case *syntax.CompareExpr:
		c := &syntax.CompareExpr{Ops: e.Ops, OpPos: e.OpPos}
		for _, x := range e.X {
			c.X = append(c.X, d.expr(x))
		}
		return c

	case *syntax.CallExpr:
		return d.call(e)

	case *syntax.ListExpr:
		return &syntax.ListExpr{Lbrack: e.Lbrack, List: d.exprs(e.List, "list"), Rbrack: e.Rbrack}

	case *syntax.TupleExpr:
		return &syntax.TupleExpr{Lparen: e.Lparen, List: d.exprs(e.List, "tuple"), Rparen: e.Rparen}

	case *syntax.SetExpr:
		return &syntax.SetExpr{Lbrace: e.Lbrace, List: d.exprs(e.List, "set"), Rbrace: e.Rbrace}

	case *syntax.DictExpr:
		dict := &syntax.DictExpr{Lbrace: e.Lbrace, Rbrace: e.Rbrace}
		for _, x := range e.List {
			entry := x.(*syntax.DictEntry)
			dict.List = append(dict.List, &syntax.DictEntry{Key: d.expr(entry.Key), Colon: entry.Colon, Value: d.expr(entry.Value)})
		}
		return dict

	case *syntax.AssignExpr:
		if d.ctx.kind == compCtx {
			d.comprehensionTarget(e.Name)
		}
		return &syntax.AssignExpr{Name: ref(e.Name), OpPos: e.OpPos, X: d.expr(e.X)}

	case *syntax.YieldExpr:
		if d.ctx.kind == compCtx {
			d.errorf(e, "'yield' inside a comprehension")
		}
		y := &syntax.YieldExpr{Yield: e.Yield, From: e.From}
		if e.X != nil {
			y.X = d.expr(e.X)
		}
		return y
	}
	d.errorf(e, "unsupported expression")
	return noneLit(syntax.Start(e))
}

func (d *desugarer) call(e *syntax.CallExpr) syntax.Expr {
	if id, ok := e.Fn.(*syntax.Ident); ok && id.Name == "super" && len(e.Args) == 0 {
		if d.ctx.self == nil {
			d.errorf(e, "super() without arguments is supported only in methods")
			return noneLit(id.NamePos)
		}
		return intrinsic(id.NamePos, "super", name(id.NamePos, d.ctx.class), ref(d.ctx.self))
	}

	c := &syntax.CallExpr{Fn: d.expr(e.Fn), Lparen: e.Lparen, Rparen: e.Rparen}
	seenKw, seenKwargs := false, false
	for _, arg := range e.Args {
		switch a := arg.(type) {
		case *syntax.BinaryExpr:
			if a.Op == syntax.EQ {
				seenKw = true
				c.Args = append(c.Args, &syntax.BinaryExpr{X: ref(a.X.(*syntax.Ident)), OpPos: a.OpPos, Op: syntax.EQ, Y: d.expr(a.Y)})
				continue
			}
		case *syntax.UnaryExpr:
			if a.Op == syntax.STARSTAR {
				seenKwargs = true
				c.Args = append(c.Args, &syntax.UnaryExpr{OpPos: a.OpPos, Op: a.Op, X: d.expr(a.X)})
				continue
			}
			if a.Op == syntax.STAR {
				if seenKwargs {
					d.errorf(a, "iterable argument unpacking follows keyword argument unpacking")
				}
				c.Args = append(c.Args, &syntax.UnaryExpr{OpPos: a.OpPos, Op: a.Op, X: d.expr(a.X)})
				continue
			}
		}
		if seenKw || seenKwargs {
			d.errorf(arg, "positional argument follows keyword argument")
		}
		c.Args = append(c.Args, d.expr(arg))
	}
	return c
}

// fstring desugars an f-string into the concatenation of its pieces.
func (d *desugarer) fstring(x *syntax.FStringExpr) syntax.Expr {
	var parts []syntax.Expr
	for i, part := range x.Parts {
		if part.Expr == "" {
			if part.Lit != "" {
				parts = append(parts, strLit(x.TokenPos, part.Lit))
			}
			continue
		}
		v := d.expr(x.Values[i])
		conv := "str"
		if part.Conv == 'r' || part.Conv == 'a' {
			conv = "repr"
		}
		if !part.HasSpec {
			parts = append(parts, intrinsic(part.Pos, conv, v))
			continue
		}
		if strings.Contains(part.Spec, "{") {
			d.errorf(x, "nested replacement fields in a format spec are not supported")
		}
		if part.Conv != 0 {
			v = intrinsic(part.Pos, conv, v)
		}
		parts = append(parts, intrinsic(part.Pos, "format", v, strLit(part.Pos, part.Spec)))
	}
	if len(parts) == 0 {
		return strLit(x.TokenPos, "")
	}
	if len(parts) == 1 {
		if lit, ok := parts[0].(*syntax.Literal); ok {
			return lit
		}
	}
	return intrinsic(x.TokenPos, "str_join", parts...)
}

// ---- comprehensions ----

var compNames = [...]string{
	syntax.ListComp:      "<listcomp>",
	syntax.SetComp:       "<setcomp>",
	syntax.DictComp:      "<dictcomp>",
	syntax.GeneratorExpr: "<genexpr>",
}

// comprehension turns a comprehension into a call of a nested
// function. The first iterable is evaluated by the caller and passed
// as the function's only parameter; everything else runs inside.
func (d *desugarer) comprehension(c *syntax.Comprehension) syntax.Expr {
	d.ncomp++
	pos := c.Lbrack
	first := c.Clauses[0].(*syntax.ForClause)
	iter := d.expr(first.X)

	ctx := &context{
		kind:   compCtx,
		parent: d.ctx,
		qual:   d.ctx.qualify(compNames[c.Kind]),
		class:  d.ctx.class,
		self:   d.ctx.self,
	}
	d.ctx = ctx
	param := d.temp(pos, "it")

	var acc *syntax.Ident
	var leaf syntax.Stmt
	switch c.Kind {
	case syntax.ListComp:
		acc = d.temp(pos, "acc")
		leaf = &syntax.ExprStmt{X: intrinsic(pos, "list_append", ref(acc), d.expr(c.Body))}
	case syntax.SetComp:
		acc = d.temp(pos, "acc")
		leaf = &syntax.ExprStmt{X: intrinsic(pos, "set_add", ref(acc), d.expr(c.Body))}
	case syntax.DictComp:
		acc = d.temp(pos, "acc")
		entry := c.Body.(*syntax.DictEntry)
		leaf = &syntax.ExprStmt{X: intrinsic(pos, "dict_set", ref(acc), d.expr(entry.Key), d.expr(entry.Value))}
	case syntax.GeneratorExpr:
		leaf = &syntax.ExprStmt{X: &syntax.YieldExpr{Yield: pos, X: d.expr(c.Body)}}
	}

	body := []syntax.Stmt{leaf}
	for i := len(c.Clauses) - 1; i >= 0; i-- {
		switch clause := c.Clauses[i].(type) {
		case *syntax.IfClause:
			body = []syntax.Stmt{&syntax.IfStmt{If: clause.If, Cond: d.expr(clause.Cond), True: body}}
		case *syntax.ForClause:
			var x syntax.Expr
			if i == 0 {
				x = ref(param)
			} else {
				x = d.expr(clause.X)
			}
			body = []syntax.Stmt{d.forLoop(clause.For, clause.Vars, x, body)}
		}
	}

	if acc != nil {
		var empty syntax.Expr
		switch c.Kind {
		case syntax.ListComp:
			empty = &syntax.ListExpr{Lbrack: pos, Rbrack: pos}
		case syntax.SetComp:
			empty = intrinsic(pos, "new_set")
		case syntax.DictComp:
			empty = &syntax.DictExpr{Lbrace: pos, Rbrace: pos}
		}
		body = append([]syntax.Stmt{set(acc, empty)}, body...)
		body = append(body, &syntax.ReturnStmt{Return: pos, Result: ref(acc)})
	}
	if len(ctx.decl) > 0 {
		body = append([]syntax.Stmt{&syntax.GlobalStmt{Token: ctx.declOp, TokenPos: pos, Names: ctx.decl}}, body...)
	}
	d.ctx = ctx.parent

	fn := &syntax.LambdaExpr{
		Lambda: pos,
		Function: syntax.Function{
			StartPos: pos,
			Body:     body,
			HasYield: c.Kind == syntax.GeneratorExpr,
			Name:     ctx.qual,
			Kind:     syntax.ComprehensionFunc,
			Sig: &syntax.Signature{
				Params:   []*syntax.Ident{param},
				NumPos:   1,
				Defaults: []syntax.Expr{nil},
			},
		},
	}
	return &syntax.CallExpr{Fn: fn, Lparen: pos, Args: []syntax.Expr{iter}, Rparen: c.Rbrack}
}

// comprehensionTarget arranges for the target of an assignment
// expression inside a comprehension to be bound in the nearest
// enclosing scope that is not a comprehension.
func (d *desugarer) comprehensionTarget(id *syntax.Ident) {
	owner := d.ctx
	for owner.kind == compCtx {
		owner = owner.parent
	}
	switch owner.kind {
	case classCtx:
		d.errorf(id, "assignment expression within a comprehension cannot be used in a class body")
		return
	case moduleCtx:
		d.ctx.declOp = syntax.GLOBAL
	case funcCtx:
		d.ctx.declOp = syntax.NONLOCAL
		if !hasName(owner.walrus, id.Name) {
			owner.walrus = append(owner.walrus, ref(id))
		}
	}
	if !hasName(d.ctx.decl, id.Name) {
		d.ctx.decl = append(d.ctx.decl, ref(id))
	}
}

func hasName(ids []*syntax.Ident, name string) bool {
	for _, id := range ids {
		if id.Name == name {
			return true
		}
	}
	return false
}

// ---- patterns ----

func (d *desugarer) pattern(p syntax.Pattern) syntax.Pattern {
	switch p := p.(type) {
	case *syntax.MatchValue:
		return &syntax.MatchValue{X: d.expr(p.X)}
	case *syntax.MatchCapture:
		return &syntax.MatchCapture{Name: ref(p.Name)}
	case *syntax.MatchWildcard:
		return &syntax.MatchWildcard{Pos: p.Pos}
	case *syntax.MatchSequence:
		seq := &syntax.MatchSequence{Lbrack: p.Lbrack, Rbrack: p.Rbrack}
		for _, elem := range p.Elems {
			seq.Elems = append(seq.Elems, d.pattern(elem))
		}
		return seq
	case *syntax.MatchStar:
		star := &syntax.MatchStar{Star: p.Star}
		if p.Name != nil {
			star.Name = ref(p.Name)
		}
		return star
	case *syntax.MatchMapping:
		m := &syntax.MatchMapping{Lbrace: p.Lbrace, Rbrace: p.Rbrace}
		for i, k := range p.Keys {
			m.Keys = append(m.Keys, d.expr(k))
			m.Values = append(m.Values, d.pattern(p.Values[i]))
		}
		if p.Rest != nil {
			m.Rest = ref(p.Rest)
		}
		return m
	case *syntax.MatchClass:
		m := &syntax.MatchClass{Cls: d.expr(p.Cls), Rparen: p.Rparen}
		for _, arg := range p.Args {
			m.Args = append(m.Args, d.pattern(arg))
		}
		for i, id := range p.KwNames {
			m.KwNames = append(m.KwNames, ref(id))
			m.KwValues = append(m.KwValues, d.pattern(p.KwValues[i]))
		}
		return m
	case *syntax.MatchOr:
		or := &syntax.MatchOr{}
		want := captures(p.Alts[0])
		for _, alt := range p.Alts {
			if got := captures(alt); !sameNames(got, want) {
				d.errorf(alt, "alternative patterns bind different names")
			}
			or.Alts = append(or.Alts, d.pattern(alt))
		}
		return or
	case *syntax.MatchAs:
		return &syntax.MatchAs{Pattern: d.pattern(p.Pattern), Name: ref(p.Name)}
	}
	d.errorf(p, "unsupported pattern")
	return &syntax.MatchWildcard{Pos: syntax.Start(p)}
}

// captures returns the set of names a pattern binds.
func captures(p syntax.Pattern) map[string]bool {
	names := make(map[string]bool)
	syntax.Walk(p, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.MatchCapture:
			names[n.Name.Name] = true
		case *syntax.MatchStar:
			if n.Name != nil {
				names[n.Name.Name] = true
			}
		case *syntax.MatchMapping:
			if n.Rest != nil {
				names[n.Rest.Name] = true
			}
		case *syntax.MatchAs:
			names[n.Name.Name] = true
		case *syntax.MatchValue:
			return false
		case *syntax.MatchClass:
			for _, arg := range n.Args {
				for k := range captures(arg) {
					names[k] = true
				}
			}
			for _, v := range n.KwValues {
				for k := range captures(v) {
					names[k] = true
				}
			}
			return false
		}
		return true
	})
	return names
}

func sameNames(x, y map[string]bool) bool {
	if len(x) != len(y) {
		return false
	}
	for k := range x {
		if !y[k] {
			return false
		}
	}
	return true
}
