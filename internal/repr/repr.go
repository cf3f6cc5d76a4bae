package repr

import (
	"math"
	"math/big"

	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.repr")

// Info holds the representations chosen for a file.
type Info struct {
	reps   map[syntax.Expr]Rep
	locals map[*syntax.Binding]Rep

	// RangeLoops records the for loops over a call of the builtin range
	// whose bounds have been converted to SmallInt. Code generation
	// counts them in an i64 rather than through an iterator.
	RangeLoops map[*syntax.ForStmt]bool
}

// Of returns the representation of e. Every expression of an analyzed
// tree has one; Of panics with an invariant error if e has none.
func (info *Info) Of(e syntax.Expr) Rep {
	r, ok := info.reps[e]
	if !ok {
		diag.Invariant(e, "expression %T has no representation", e)
	}
	return r
}

// Set records the representation of an expression created after analysis.
func (info *Info) Set(e syntax.Expr, r Rep) { info.reps[e] = r }

// Local returns the storage representation of a variable.
// Only function locals that no nested function captures, and that do
// not live in a generator record, may be unboxed; every other variable
// is AnyRef.
func (info *Info) Local(b *syntax.Binding) Rep {
	if r, ok := info.locals[b]; ok {
		return r
	}
	return AnyRef
}

// A local's interval may grow this many times before it is widened to BigNum.
const widenAfter = 4

type localState struct {
	rep   Rep
	grows int
	iter  int // last iteration in which rep grew
}

type analyzer struct {
	info   *Info
	locals map[*syntax.Binding]*localState
	final  bool // rewrite and record, rather than infer
	gen    bool // analyzing a generator body
	iter   int
	change bool
	queue  []*syntax.Function
}

// File analyzes a resolved file, annotating every expression with a
// representation and inserting ConvExprs in place.
func File(f *syntax.File) (info *Info, err error) {
	var r diag.Reporter
	defer func() {
		r.Recover("representation analysis", syntax.Start(f))
		if r.Failed() {
			info, err = nil, r.Errors()
		}
	}()

	info = &Info{
		reps:       make(map[syntax.Expr]Rep),
		locals:     make(map[*syntax.Binding]Rep),
		RangeLoops: make(map[*syntax.ForStmt]bool),
	}
	a := &analyzer{info: info}
	a.body(nil, f.Stmts)
	for len(a.queue) > 0 {
		fn := a.queue[0]
		a.queue = a.queue[1:]
		a.body(resolve.ScopeOf(fn), fn.Body)
	}

	unboxed := 0
	for _, r := range info.locals {
		if r.Unboxed() {
			unboxed++
		}
	}
	log.Debugf("%d expressions annotated, %d unboxed locals", len(info.reps), unboxed)
	return info, nil
}

// body analyzes the statements of a function (or the module, if scope is nil).
func (a *analyzer) body(scope *resolve.Scope, stmts []syntax.Stmt) {
	a.locals = make(map[*syntax.Binding]*localState)
	a.gen = scope != nil && scope.Generator
	if scope != nil && scope.Kind == resolve.FunctionScope && !scope.Generator {
		for _, b := range scope.Locals {
			if b.Scope == syntax.LocalScope && !b.Param {
				a.locals[b] = &localState{rep: bottom}
			}
		}
	}

	if len(a.locals) > 0 {
		a.final = false
		for a.iter = 1; ; a.iter++ {
			a.change = false
			a.stmts(stmts)
			if !a.change {
				break
			}
		}
	}
	for b, st := range a.locals {
		if st.rep.Kind == unknown {
			st.rep = AnyRef
		}
		a.info.locals[b] = st.rep
	}

	a.final = true
	a.stmts(stmts)
	a.final = false
}

// assign records that a value of representation r is stored in id's
// variable, and returns value converted to the variable's storage.
func (a *analyzer) assign(id *syntax.Ident, value syntax.Expr, r Rep) syntax.Expr {
	st, ok := a.locals[id.Binding]
	if !ok {
		return a.convert(value, r, AnyRef)
	}
	if !a.final {
		if r.Kind == unknown {
			return value
		}
		next := Join(st.rep, r)
		if next != st.rep {
			if next.Kind == SmallInt && st.rep.Kind == SmallInt && st.iter != a.iter {
				st.grows++
				st.iter = a.iter
				if st.grows > widenAfter {
					next = Big
				}
			}
			st.rep = next
			a.change = true
		}
		return value
	}
	return a.convert(value, r, st.rep)
}

// use returns the representation of a variable reference.
func (a *analyzer) use(id *syntax.Ident) Rep {
	if st, ok := a.locals[id.Binding]; ok {
		return st.rep
	}
	return AnyRef
}

func (a *analyzer) stmts(stmts []syntax.Stmt) {
	for _, s := range stmts {
		a.stmt(s)
	}
}

func (a *analyzer) stmt(s syntax.Stmt) {
	switch s := s.(type) {
	case *syntax.ExprStmt:
		s.X, _ = a.expr(s.X)

	case *syntax.AssignStmt:
		if id, ok := s.LHS.(*syntax.Ident); ok {
			rhs, r := a.expr(s.RHS)
			s.RHS = a.assign(id, rhs, r)
		} else {
			a.target(s.LHS)
			s.RHS = a.boxed(s.RHS)
		}

	case *syntax.IfStmt:
		s.Cond = a.cond(s.Cond)
		a.stmts(s.True)
		a.stmts(s.False)

	case *syntax.WhileStmt:
		s.Cond = a.cond(s.Cond)
		a.stmts(s.Body)

	case *syntax.ForStmt:
		id := s.Vars.(*syntax.Ident)
		// Generator loops are lowered to the iterator protocol.
		if bounds, ok := a.rangeArgs(s.X); ok && !a.gen {
			if a.final {
				a.info.RangeLoops[s] = true
			}
			a.assign(id, nil, bounds)
		} else {
			s.X = a.boxed(s.X)
			a.assign(id, nil, AnyRef)
		}
		a.stmts(s.Body)

	case *syntax.ReturnStmt:
		if s.Result != nil {
			s.Result = a.boxed(s.Result)
		}

	case *syntax.RaiseStmt:
		if s.X != nil {
			s.X = a.boxed(s.X)
		}
		if s.Cause != nil {
			s.Cause = a.boxed(s.Cause)
		}

	case *syntax.TryStmt:
		a.stmts(s.Body)
		for _, h := range s.Handlers {
			if h.Type != nil {
				h.Type = a.boxed(h.Type)
			}
			if h.Name != nil {
				a.assign(h.Name, nil, AnyRef)
			}
			a.stmts(h.Body)
		}
		a.stmts(s.Else)
		a.stmts(s.Finally)

	case *syntax.MatchStmt:
		s.Subject = a.boxed(s.Subject)
		for _, c := range s.Cases {
			a.pattern(c.Pattern)
			if c.Guard != nil {
				c.Guard = a.cond(c.Guard)
			}
			a.stmts(c.Body)
		}

	case *syntax.DefStmt:
		a.function(&s.Function)
		a.assign(s.Name, nil, RefOf("function"))

	case *syntax.ClassStmt:
		for i, base := range s.Bases {
			s.Bases[i] = a.boxed(base)
		}
		a.stmts(s.Body)
		a.assign(s.Name, nil, AnyRef)

	case *syntax.DelStmt:
		for _, t := range s.Targets {
			if id, ok := t.(*syntax.Ident); ok {
				// A deleted variable must be able to hold the unbound marker.
				a.assign(id, nil, NoneRep)
			} else {
				a.target(t)
			}
		}

	case *syntax.ImportStmt:
		for _, id := range s.To {
			a.assign(id, nil, AnyRef)
		}

	case *syntax.LocalDecl:
		for _, id := range s.Names {
			a.assign(id, nil, AnyRef)
		}

	case *syntax.BranchStmt, *syntax.GlobalStmt:
		// nop

	default:
		diag.Invariant(s, "unexpected %T after desugaring", s)
	}
}

// target annotates the operands of an attribute, index or slice target.
func (a *analyzer) target(e syntax.Expr) {
	switch e := e.(type) {
	case *syntax.DotExpr:
		e.X = a.boxed(e.X)
	case *syntax.IndexExpr:
		e.X = a.boxed(e.X)
		e.Y = a.boxed(e.Y)
	case *syntax.SliceExpr:
		e.X = a.boxed(e.X)
		a.sliceBounds(e)
	default:
		diag.Invariant(e, "unexpected assignment target %T", e)
	}
}

func (a *analyzer) sliceBounds(e *syntax.SliceExpr) {
	if e.Lo != nil {
		e.Lo = a.boxed(e.Lo)
	}
	if e.Hi != nil {
		e.Hi = a.boxed(e.Hi)
	}
	if e.Step != nil {
		e.Step = a.boxed(e.Step)
	}
}

func (a *analyzer) pattern(p syntax.Pattern) {
	switch p := p.(type) {
	case *syntax.MatchValue:
		p.X = a.boxed(p.X)
	case *syntax.MatchCapture:
		a.assign(p.Name, nil, AnyRef)
	case *syntax.MatchWildcard:
	case *syntax.MatchSequence:
		for _, elem := range p.Elems {
			a.pattern(elem)
		}
	case *syntax.MatchStar:
		if p.Name != nil {
			a.assign(p.Name, nil, AnyRef)
		}
	case *syntax.MatchMapping:
		for i, k := range p.Keys {
			p.Keys[i] = a.boxed(k)
		}
		for _, v := range p.Values {
			a.pattern(v)
		}
		if p.Rest != nil {
			a.assign(p.Rest, nil, AnyRef)
		}
	case *syntax.MatchClass:
		p.Cls = a.boxed(p.Cls)
		for _, arg := range p.Args {
			a.pattern(arg)
		}
		for _, v := range p.KwValues {
			a.pattern(v)
		}
	case *syntax.MatchOr:
		for _, alt := range p.Alts {
			a.pattern(alt)
		}
	case *syntax.MatchAs:
		a.pattern(p.Pattern)
		a.assign(p.Name, nil, AnyRef)
	}
}

// function annotates the default values of fn, which are evaluated in
// the enclosing function, and queues its body.
func (a *analyzer) function(fn *syntax.Function) {
	for i, d := range fn.Sig.Defaults {
		if d != nil {
			fn.Sig.Defaults[i] = a.boxed(d)
		}
	}
	if a.final {
		a.queue = append(a.queue, fn)
	}
}

// rangeArgs reports whether x is a call of the builtin range with one
// to three positional arguments. If so, it converts the arguments to
// SmallInt and returns the representation of the loop variable.
func (a *analyzer) rangeArgs(x syntax.Expr) (Rep, bool) {
	call, ok := x.(*syntax.CallExpr)
	if !ok || a.gen || len(call.Args) < 1 || len(call.Args) > 3 {
		return Rep{}, false
	}
	fn, ok := call.Fn.(*syntax.Ident)
	if !ok || fn.Binding.Scope != syntax.UniversalScope || fn.Name != "range" {
		return Rep{}, false
	}
	for _, arg := range call.Args {
		switch arg := arg.(type) {
		case *syntax.UnaryExpr:
			if arg.Op == syntax.STAR || arg.Op == syntax.STARSTAR {
				return Rep{}, false
			}
		case *syntax.BinaryExpr:
			if arg.Op == syntax.EQ {
				return Rep{}, false
			}
		}
	}
	if a.final {
		a.info.Set(fn, AnyRef)
	}

	bounds := make([]Rep, len(call.Args))
	for i, arg := range call.Args {
		arg, r := a.expr(arg)
		if r.Kind == unknown {
			return bottom, true
		}
		if r.Kind == SmallInt {
			bounds[i] = r
		} else {
			bounds[i] = AnyInt
		}
		call.Args[i] = a.convert(arg, r, bounds[i])
	}
	if a.final {
		a.info.Set(call, RefOf("range"))
	}

	// The loop variable lies between start and stop.
	if len(bounds) == 1 {
		hi := int64(0)
		if bounds[0].Hi > 0 {
			hi = bounds[0].Hi - 1
		}
		return Int(0, hi), true
	}
	start, stop := bounds[0], bounds[1]
	return Int(min64(start.Lo, stop.Lo), max64(start.Hi, stop.Hi)), true
}

// boxed annotates e and converts it to a boxed reference.
func (a *analyzer) boxed(e syntax.Expr) syntax.Expr {
	e, r := a.expr(e)
	return a.convert(e, r, AnyRef)
}

// cond annotates e and converts it to a truth value.
func (a *analyzer) cond(e syntax.Expr) syntax.Expr {
	e, r := a.expr(e)
	return a.convert(e, r, BoolRep)
}

// convert returns e, of representation from, converted to representation to.
// In inference mode it returns e unchanged.
func (a *analyzer) convert(e syntax.Expr, from, to Rep) syntax.Expr {
	if !a.final || e == nil {
		return e
	}
	switch to.Storage() {
	case Boxed:
		if !from.Unboxed() {
			return e
		}
		switch {
		case from.Kind == SmallInt && (to.Kind == BigNum || to.Kind == Ref):
			return a.conv(syntax.BoxInt, e, Big)
		case from.Kind == Float && to.Kind == Ref:
			return a.conv(syntax.BoxFloat, e, AnyRef)
		case from.Kind == Bool && to.Kind == Ref:
			return a.conv(syntax.BoxBool, e, AnyRef)
		}

	case I64:
		switch from.Kind {
		case SmallInt:
			return e
		case BigNum, Ref:
			return a.conv(syntax.UnboxInt, e, to)
		}

	case F64:
		switch from.Kind {
		case Float:
			return e
		case SmallInt:
			return a.conv(syntax.IntToFloat, e, to)
		case BigNum:
			return a.conv(syntax.BigToFloat, e, to)
		}

	case I32:
		if from.Kind == Bool {
			return e
		}
		return a.conv(syntax.Truthy, e, BoolRep)
	}
	diag.Invariant(e, "cannot convert %s to %s", from, to)
	panic("unreachable")
}

func (a *analyzer) conv(op syntax.Conv, x syntax.Expr, to Rep) syntax.Expr {
	c := &syntax.ConvExpr{Op: op, X: x}
	a.info.Set(c, to)
	return c
}

// expr annotates e and returns it, possibly rewritten, with its representation.
func (a *analyzer) expr(e syntax.Expr) (syntax.Expr, Rep) {
	r := a.expr1(e)
	if a.final {
		if r.Kind == unknown {
			diag.Invariant(e, "representation of %T not inferred", e)
		}
		a.info.Set(e, r)
	}
	return e, r
}

func (a *analyzer) expr1(e syntax.Expr) Rep {
	switch e := e.(type) {
	case *syntax.Literal:
		return literal(e)

	case *syntax.Ident:
		return a.use(e)

	case *syntax.UnaryExpr:
		return a.unary(e)

	case *syntax.BinaryExpr:
		return a.binary(e)

	case *syntax.CompareExpr:
		return a.compare(e)

	case *syntax.CallExpr:
		return a.call(e)

	case *syntax.DotExpr:
		e.X = a.boxed(e.X)
		return AnyRef

	case *syntax.IndexExpr:
		e.X = a.boxed(e.X)
		e.Y = a.boxed(e.Y)
		return AnyRef

	case *syntax.SliceExpr:
		e.X = a.boxed(e.X)
		a.sliceBounds(e)
		return AnyRef

	case *syntax.CondExpr:
		e.Cond = a.cond(e.Cond)
		t, rt := a.expr(e.True)
		f, rf := a.expr(e.False)
		r := a.meet(rt, rf)
		e.True = a.convert(t, rt, r)
		e.False = a.convert(f, rf, r)
		return r

	case *syntax.ListExpr:
		a.elems(e.List)
		return RefOf("list")

	case *syntax.TupleExpr:
		a.elems(e.List)
		return RefOf("tuple")

	case *syntax.SetExpr:
		a.elems(e.List)
		return RefOf("set")

	case *syntax.DictExpr:
		for _, entry := range e.List {
			entry := entry.(*syntax.DictEntry)
			entry.Key = a.boxed(entry.Key)
			entry.Value = a.boxed(entry.Value)
		}
		return RefOf("dict")

	case *syntax.LambdaExpr:
		a.function(&e.Function)
		return RefOf("function")

	case *syntax.AssignExpr:
		x, r := a.expr(e.X)
		e.X = a.assign(e.Name, x, r)
		if st, ok := a.locals[e.Name.Binding]; ok {
			return st.rep
		}
		return Rep{Kind: boxedKind(r)}

	case *syntax.YieldExpr:
		if e.X != nil {
			e.X = a.boxed(e.X)
		}
		return AnyRef

	case *syntax.Intrinsic:
		return a.intrinsic(e)

	case *syntax.ConvExpr:
		// Already converted; keep the operand's annotation current.
		e.X, _ = a.expr(e.X)
		return a.info.reps[e]
	}
	diag.Invariant(e, "unexpected %T after desugaring", e)
	panic("unreachable")
}

func (a *analyzer) elems(list []syntax.Expr) {
	for i, x := range list {
		list[i] = a.boxed(x)
	}
}

// boxedKind returns the kind of a value of representation r once boxed.
func boxedKind(r Rep) Kind {
	switch r.Kind {
	case SmallInt, BigNum:
		return BigNum
	case Float, Bool:
		return Ref
	}
	return r.Kind
}

// meet returns the representation in which two alternative values
// (of a conditional or a short-circuit operator) are delivered.
func (a *analyzer) meet(x, y Rep) Rep {
	if x.Kind == unknown || y.Kind == unknown {
		return bottom
	}
	return Join(x, y)
}

func literal(lit *syntax.Literal) Rep {
	switch v := lit.Value.(type) {
	case int64:
		return Int(v, v)
	case *big.Int:
		return Big
	case float64:
		return FloatRep
	case bool:
		return BoolRep
	case string:
		if lit.Token == syntax.BYTES {
			return BytesRep
		}
		return StrRep
	case nil:
		return NoneRep
	}
	diag.Invariant(lit, "literal of type %T", lit.Value)
	panic("unreachable")
}

func (a *analyzer) unary(e *syntax.UnaryExpr) Rep {
	if e.Op == syntax.NOT {
		e.X = a.cond(e.X)
		return BoolRep
	}
	x, r := a.expr(e.X)
	if r.Kind == unknown {
		return bottom
	}
	var res Rep
	switch {
	case r.Kind == SmallInt && e.Op == syntax.MINUS && r.Lo != math.MinInt64:
		res = Int(-r.Hi, -r.Lo)
	case r.Kind == SmallInt && e.Op == syntax.PLUS:
		res = r
	case r.Kind == SmallInt && e.Op == syntax.TILDE:
		res = Int(^r.Hi, ^r.Lo)
	case r.Kind == Float && (e.Op == syntax.MINUS || e.Op == syntax.PLUS):
		res = FloatRep
	case r.IsInt():
		res = Big
	default:
		res = AnyRef
	}
	if !res.Unboxed() {
		x = a.convert(x, r, AnyRef)
	}
	e.X = x
	return res
}

// Operand conventions of a binary operation, chosen from the operand
// representations. Code generation selects instructions the same way
// from the annotated operands.
func (a *analyzer) binary(e *syntax.BinaryExpr) Rep {
	switch e.Op {
	case syntax.AND, syntax.OR:
		x, rx := a.expr(e.X)
		y, ry := a.expr(e.Y)
		r := a.meet(rx, ry)
		e.X = a.convert(x, rx, r)
		e.Y = a.convert(y, ry, r)
		return r
	case syntax.IN, syntax.NOT_IN, syntax.IS, syntax.IS_NOT:
		e.X = a.boxed(e.X)
		e.Y = a.boxed(e.Y)
		return BoolRep
	}

	x, rx := a.expr(e.X)
	y, ry := a.expr(e.Y)
	if rx.Kind == unknown || ry.Kind == unknown {
		return bottom
	}

	switch e.Op {
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.GT, syntax.LE, syntax.GE:
		e.X, e.Y = a.operands(x, rx, y, ry, comparable(rx, ry))
		return BoolRep
	}

	res := arith(e.Op, rx, ry)
	var operand Rep
	switch res.Kind {
	case SmallInt:
		operand = AnyInt
	case Float:
		operand = FloatRep
	default:
		operand = AnyRef
	}
	e.X, e.Y = a.operands(x, rx, y, ry, operand)
	return res
}

// operands converts both operands of a binary operation to rep.
func (a *analyzer) operands(x syntax.Expr, rx Rep, y syntax.Expr, ry Rep, rep Rep) (syntax.Expr, syntax.Expr) {
	if rep.Kind == SmallInt {
		return x, y
	}
	return a.convert(x, rx, rep), a.convert(y, ry, rep)
}

// comparable returns the representation in which x and y are compared.
func comparable(x, y Rep) Rep {
	switch {
	case x.Kind == SmallInt && y.Kind == SmallInt:
		return AnyInt
	case x.Kind == Float && (y.Kind == Float || y.Kind == SmallInt),
		y.Kind == Float && x.Kind == SmallInt:
		return FloatRep
	}
	return AnyRef
}

// arith returns the representation of the result of x op y.
func arith(op syntax.Token, x, y Rep) Rep {
	floats := x.Kind == Float && y.numeric() || y.Kind == Float && x.numeric()
	ints := x.IsInt() && y.IsInt()
	small := x.Kind == SmallInt && y.Kind == SmallInt

	switch op {
	case syntax.PLUS, syntax.MINUS, syntax.STAR:
		if small {
			if r, ok := intervalArith(op, x, y); ok {
				return r
			}
			return Big
		}
		if floats {
			return FloatRep
		}
		if ints {
			return Big
		}
		if op == syntax.PLUS && x.Kind == String && y.Kind == String {
			return StrRep
		}

	case syntax.SLASH:
		if floats || ints {
			return FloatRep
		}

	case syntax.SLASHSLASH, syntax.PERCENT:
		if small {
			if r, ok := intervalDiv(op, x, y); ok {
				return r
			}
			return Big
		}
		if floats {
			return FloatRep
		}
		if ints {
			return Big
		}
		if op == syntax.PERCENT && x.Kind == String {
			return StrRep
		}

	case syntax.LTLT:
		if ints {
			return Big
		}

	case syntax.GTGT:
		if small {
			return Int(min64(x.Lo, -1), max64(x.Hi, 0))
		}
		if ints {
			return Big
		}

	case syntax.AMP, syntax.PIPE, syntax.CIRCUMFLEX:
		if small {
			if x.Lo >= 0 && y.Lo >= 0 {
				return Int(0, math.MaxInt64)
			}
			return AnyInt
		}
		if ints {
			return Big
		}
	}
	// ** and everything on references is dispatched at run time.
	return AnyRef
}

// intervalArith computes the interval of x op y for + - *, and
// reports whether it fits in 64 bits.
func intervalArith(op syntax.Token, x, y Rep) (Rep, bool) {
	var corners []*big.Int
	xs := []int64{x.Lo, x.Hi}
	ys := []int64{y.Lo, y.Hi}
	for _, p := range xs {
		for _, q := range ys {
			bp, bq := big.NewInt(p), big.NewInt(q)
			switch op {
			case syntax.PLUS:
				corners = append(corners, bp.Add(bp, bq))
			case syntax.MINUS:
				corners = append(corners, bp.Sub(bp, bq))
			case syntax.STAR:
				corners = append(corners, bp.Mul(bp, bq))
			}
		}
	}
	lo, hi := corners[0], corners[0]
	for _, c := range corners[1:] {
		if c.Cmp(lo) < 0 {
			lo = c
		}
		if c.Cmp(hi) > 0 {
			hi = c
		}
	}
	if !lo.IsInt64() || !hi.IsInt64() {
		return Rep{}, false
	}
	return Int(lo.Int64(), hi.Int64()), true
}

// intervalDiv bounds floor division and modulo of small ints.
func intervalDiv(op syntax.Token, x, y Rep) (Rep, bool) {
	if op == syntax.SLASHSLASH {
		// Only MinInt64 // -1 overflows.
		if x.Lo == math.MinInt64 && y.Lo <= -1 && y.Hi >= -1 {
			return Rep{}, false
		}
		m := max64(abs64(x.Lo), abs64(x.Hi))
		return Int(-m, m), true
	}
	// The result has the sign of the divisor and is smaller in magnitude.
	lo, hi := int64(0), int64(0)
	if y.Lo < 0 {
		lo = y.Lo + 1
	}
	if y.Hi > 0 {
		hi = y.Hi - 1
	}
	return Int(lo, hi), true
}

func abs64(x int64) int64 {
	if x == math.MinInt64 {
		return math.MaxInt64
	}
	if x < 0 {
		return -x
	}
	return x
}

func (a *analyzer) compare(e *syntax.CompareExpr) Rep {
	reps := make([]Rep, len(e.X))
	for i, x := range e.X {
		e.X[i], reps[i] = a.expr(x)
		if reps[i].Kind == unknown {
			return bottom
		}
	}
	// Compare unboxed only if every link of the chain can.
	rep := AnyInt
	for i, op := range e.Ops {
		switch op {
		case syntax.IN, syntax.NOT_IN, syntax.IS, syntax.IS_NOT:
			rep = AnyRef
		}
		c := comparable(reps[i], reps[i+1])
		switch {
		case c.Kind == Ref:
			rep = AnyRef
		case c.Kind == Float && rep.Kind == SmallInt:
			rep = FloatRep
		}
	}
	if rep.Kind != SmallInt {
		for i, x := range e.X {
			e.X[i] = a.convert(x, reps[i], rep)
		}
	}
	return BoolRep
}

// Builtins with a direct unboxed entry point, and the arity at which it applies.
var directBuiltins = map[string]struct {
	arity  int
	result Rep
}{
	"len":        {1, Int(0, math.MaxInt64)},
	"isinstance": {2, BoolRep},
	"str":        {1, StrRep},
	"repr":       {1, StrRep},
}

// DirectBuiltin reports whether call invokes a builtin that code
// generation calls directly, with an unboxed result.
func DirectBuiltin(call *syntax.CallExpr) (string, bool) {
	fn, ok := call.Fn.(*syntax.Ident)
	if !ok || fn.Binding == nil || fn.Binding.Scope != syntax.UniversalScope {
		return "", false
	}
	d, ok := directBuiltins[fn.Name]
	if !ok || len(call.Args) != d.arity {
		return "", false
	}
	for _, arg := range call.Args {
		switch arg := arg.(type) {
		case *syntax.UnaryExpr:
			if arg.Op == syntax.STAR || arg.Op == syntax.STARSTAR {
				return "", false
			}
		case *syntax.BinaryExpr:
			if arg.Op == syntax.EQ {
				return "", false
			}
		}
	}
	return fn.Name, true
}

func (a *analyzer) call(e *syntax.CallExpr) Rep {
	result := AnyRef
	if name, ok := DirectBuiltin(e); ok {
		result = directBuiltins[name].result
	}
	e.Fn = a.boxed(e.Fn)
	for i, arg := range e.Args {
		switch arg := arg.(type) {
		case *syntax.BinaryExpr:
			if arg.Op == syntax.EQ {
				arg.Y = a.boxed(arg.Y)
				a.spread(arg)
				continue
			}
		case *syntax.UnaryExpr:
			if arg.Op == syntax.STAR || arg.Op == syntax.STARSTAR {
				arg.X = a.boxed(arg.X)
				a.spread(arg)
				continue
			}
		}
		e.Args[i] = a.boxed(arg)
	}
	return result
}

// spread records the representation of a keyword or unpacked argument.
func (a *analyzer) spread(arg syntax.Expr) {
	if a.final {
		a.info.Set(arg, AnyRef)
	}
}

// An intrinsicSig describes the operands and result of an intrinsic.
type intrinsicSig struct {
	result Rep
	static []int // operands that are int literals, read at compile time
}

var intrinsics = map[string]intrinsicSig{
	// desugaring
	"list_append": {result: NoneRep},
	"set_add":     {result: NoneRep},
	"dict_set":    {result: NoneRep},
	"new_set":     {result: RefOf("set")},
	"str_join":    {result: StrRep},
	"str":         {result: StrRep},
	"repr":        {result: StrRep},
	"format":      {result: StrRep},
	"unpack":      {result: RefOf("tuple"), static: []int{1}},
	"unpack_star": {result: RefOf("tuple"), static: []int{1, 2}},
	"tuple_get":   {result: AnyRef, static: []int{1}},
	"super":       {result: AnyRef},

	// pattern matching
	"match_seq":  {result: BoolRep, static: []int{1, 2}},
	"seq_item":   {result: AnyRef, static: []int{1}},
	"seq_slice":  {result: RefOf("list"), static: []int{1, 2}},
	"match_map":  {result: BoolRep},
	"map_has":    {result: BoolRep},
	"map_get":    {result: AnyRef},
	"map_rest":   {result: RefOf("dict")},
	"isinstance": {result: BoolRep},
	"match_arg":  {result: AnyRef, static: []int{1}},
	"getattr":    {result: AnyRef},
	"eq":         {result: BoolRep},
	"is":         {result: BoolRep},

	// exceptions
	"exc_match": {result: BoolRep},

	// generators
	"iter":       {result: AnyRef},
	"next":       {result: AnyRef},
	"send":       {result: AnyRef},
	"stop":       {result: BoolRep},
	"gen_result": {result: AnyRef},
}

// IntrinsicResult returns the representation of the named intrinsic's result.
func IntrinsicResult(name string) (Rep, bool) {
	sig, ok := intrinsics[name]
	return sig.result, ok
}

// StaticOperand reports whether operand i of the named intrinsic is an
// int literal that code generation reads at compile time.
func StaticOperand(name string, i int) bool {
	for _, j := range intrinsics[name].static {
		if i == j {
			return true
		}
	}
	return false
}

func (a *analyzer) intrinsic(e *syntax.Intrinsic) Rep {
	sig, ok := intrinsics[e.Name]
	if !ok {
		diag.Invariant(e, "unknown intrinsic %s", e.Name)
	}
	for i, arg := range e.Args {
		if StaticOperand(e.Name, i) {
			if lit, ok := arg.(*syntax.Literal); !ok || lit.Token != syntax.INT {
				diag.Invariant(arg, "operand %d of %s is not an int literal", i, e.Name)
			}
			a.expr(arg)
			continue
		}
		e.Args[i] = a.boxed(arg)
	}
	return sig.result
}
