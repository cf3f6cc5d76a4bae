package compile

import (
	"math"
	"math/big"
	"strconv"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/syntax"
)

// Operator codes of the runtime's $binop, $unop and $compare.
var binopCodes = map[syntax.Token]int{
	syntax.PLUS:       0,
	syntax.MINUS:      1,
	syntax.STAR:       2,
	syntax.SLASH:      3,
	syntax.SLASHSLASH: 4,
	syntax.PERCENT:    5,
	syntax.STARSTAR:   6,
	syntax.LTLT:       7,
	syntax.GTGT:       8,
	syntax.AMP:        9,
	syntax.PIPE:       10,
	syntax.CIRCUMFLEX: 11,
}

// inPlace marks the augmented form of a binary operator, which mutates
// a list operand instead of creating a new one.
const inPlace = 16

var unopCodes = map[syntax.Token]int{
	syntax.MINUS: 0,
	syntax.PLUS:  1,
	syntax.TILDE: 2,
}

var compareCodes = map[syntax.Token]int{
	syntax.EQL: 0,
	syntax.NEQ: 1,
	syntax.LT:  2,
	syntax.GT:  3,
	syntax.LE:  4,
	syntax.GE:  5,
}

var (
	i64Ops = map[syntax.Token]string{
		syntax.PLUS:       "i64.add",
		syntax.MINUS:      "i64.sub",
		syntax.STAR:       "i64.mul",
		syntax.AMP:        "i64.and",
		syntax.PIPE:       "i64.or",
		syntax.CIRCUMFLEX: "i64.xor",
	}
	i64Calls = map[syntax.Token]string{
		syntax.SLASHSLASH: "$i64_floordiv",
		syntax.PERCENT:    "$i64_mod",
		syntax.GTGT:       "$i64_shr",
	}
	f64Ops = map[syntax.Token]string{
		syntax.PLUS:  "f64.add",
		syntax.MINUS: "f64.sub",
		syntax.STAR:  "f64.mul",
	}
	f64Calls = map[syntax.Token]string{
		syntax.SLASH:      "$f64_div",
		syntax.SLASHSLASH: "$f64_floordiv",
		syntax.PERCENT:    "$f64_mod",
	}
	i64Compare = map[syntax.Token]string{
		syntax.EQL: "i64.eq",
		syntax.NEQ: "i64.ne",
		syntax.LT:  "i64.lt_s",
		syntax.GT:  "i64.gt_s",
		syntax.LE:  "i64.le_s",
		syntax.GE:  "i64.ge_s",
	}
	f64Compare = map[syntax.Token]string{
		syntax.EQL: "f64.eq",
		syntax.NEQ: "f64.ne",
		syntax.LT:  "f64.lt",
		syntax.GT:  "f64.gt",
		syntax.LE:  "f64.le",
		syntax.GE:  "f64.ge",
	}
)

// storageOf returns the machine type of the value of e.
func (fc *fcomp) storageOf(e syntax.Expr) repr.Storage {
	return fc.pc.info.Of(e).Storage()
}

// exprAs emits e converted to storage s.
func (fc *fcomp) exprAs(e syntax.Expr, s repr.Storage) {
	fc.expr(e)
	fc.convert(fc.storageOf(e), s)
}

// cond emits e as an i32 truth value.
func (fc *fcomp) cond(e syntax.Expr) { fc.exprAs(e, repr.I32) }

// convert changes the value on top of the stack from storage from to
// storage to.
func (fc *fcomp) convert(from, to repr.Storage) {
	if from == to {
		return
	}
	f := fc.f
	switch {
	case to == repr.Boxed && from == repr.I64:
		f.Op("call", "$box_i64")
	case to == repr.Boxed && from == repr.F64:
		f.Op("call", "$box_f64")
	case to == repr.Boxed && from == repr.I32:
		f.Op("call", "$box_bool")
	case to == repr.I32 && from == repr.Boxed:
		f.Op("call", "$truthy")
	case to == repr.I32 && from == repr.I64:
		f.Op("i64.const", "0")
		f.Op("i64.ne")
	case to == repr.I32 && from == repr.F64:
		f.Op("f64.const", "0")
		f.Op("f64.ne")
	case to == repr.I64 && from == repr.Boxed:
		f.Op("call", "$unbox_i64")
	case to == repr.I64 && from == repr.I32:
		f.Op("i64.extend_i32_u")
	case to == repr.F64 && from == repr.Boxed:
		f.Op("call", "$to_f64")
	case to == repr.F64 && from == repr.I64:
		f.Op("f64.convert_i64_s")
	case to == repr.F64 && from == repr.I32:
		f.Op("f64.convert_i32_u")
	default:
		panic("convert: float to int storage")
	}
}

// expr emits e, leaving its value in the storage of its representation.
func (fc *fcomp) expr(e syntax.Expr) {
	got := fc.expr1(e)
	fc.convert(got, fc.storageOf(e))
}

// expr1 emits e and returns the storage of the value it left.
func (fc *fcomp) expr1(e syntax.Expr) repr.Storage {
	f := fc.f
	switch e := e.(type) {
	case *syntax.Ident:
		fc.load(e)
		if e.Binding.Scope == syntax.LocalScope {
			return fc.varStorage(e.Binding)
		}
		return repr.Boxed

	case *syntax.Literal:
		return fc.literal(e)

	case *syntax.ConvExpr:
		return fc.conv(e)

	case *syntax.UnaryExpr:
		return fc.unary(e)

	case *syntax.BinaryExpr:
		return fc.binary(e)

	case *syntax.CompareExpr:
		fc.compare(e)
		return repr.I32

	case *syntax.CondExpr:
		want := fc.storageOf(e)
		fc.cond(e.Cond)
		f.If("", wasmType(want))
		fc.exprAs(e.True, want)
		f.Else()
		fc.exprAs(e.False, want)
		f.End()
		return want

	case *syntax.CallExpr:
		return fc.call(e)

	case *syntax.DotExpr:
		if k := fc.slot(e.X, e.Name.Name); k >= 0 {
			fc.loadSlot(e.X.(*syntax.Ident), k, e.Name.Name)
			return repr.Boxed
		}
		fc.exprAs(e.X, repr.Boxed)
		fc.pc.pool.Load(f, e.Name.Name)
		f.Op("call", "$getattr")
		return repr.Boxed

	case *syntax.IndexExpr:
		fc.exprAs(e.X, repr.Boxed)
		fc.exprAs(e.Y, repr.Boxed)
		f.Op("call", "$getitem")
		return repr.Boxed

	case *syntax.SliceExpr:
		fc.exprAs(e.X, repr.Boxed)
		fc.sliceBounds(e)
		f.Op("call", "$slice")
		return repr.Boxed

	case *syntax.ListExpr:
		fc.values(e.List)
		f.Op("call", "$list_from")
		return repr.Boxed

	case *syntax.TupleExpr:
		fc.values(e.List)
		f.Op("struct.new", "$Tuple")
		return repr.Boxed

	case *syntax.SetExpr:
		t := f.Local("set", "(ref null $Set)")
		f.Op("call", "$set_new")
		f.Op("local.set", t)
		for _, x := range e.List {
			f.Op("local.get", t)
			fc.exprAs(x, repr.Boxed)
			f.Op("ref.null", "none")
			f.Op("call", "$table_insert")
		}
		f.Op("local.get", t)
		return repr.Boxed

	case *syntax.DictExpr:
		t := f.Local("dict", "(ref null $Dict)")
		f.Op("call", "$dict_new")
		f.Op("local.set", t)
		for _, x := range e.List {
			entry := x.(*syntax.DictEntry)
			f.Op("local.get", t)
			fc.exprAs(entry.Key, repr.Boxed)
			fc.exprAs(entry.Value, repr.Boxed)
			f.Op("call", "$table_insert")
		}
		f.Op("local.get", t)
		return repr.Boxed

	case *syntax.AssignExpr:
		s := fc.varStorage(e.Name.Binding)
		t := f.Local("walrus", wasmType(s))
		fc.exprAs(e.X, s)
		f.Op("local.set", t)
		fc.store(e.Name, func() { f.Op("local.get", t) })
		f.Op("local.get", t)
		return s

	case *syntax.BindExpr:
		fc.storeExpr(e.Name, e.X)
		f.Op("i32.const", "1")
		return repr.I32

	case *syntax.LambdaExpr:
		fc.closure(&e.Function)
		return repr.Boxed

	case *syntax.Intrinsic:
		return fc.intrinsic(e)

	case *syntax.SentExpr:
		if fc.gen == nil {
			diag.Invariant(e, "sent value outside a generator")
		}
		f.Op("local.get", fc.gen.rec)
		f.Op("struct.get", "$Gen", "$sent")
		return repr.Boxed

	case *syntax.CaughtExpr:
		if fc.caught == "" {
			diag.Invariant(e, "caught exception outside a handler state")
		}
		f.Op("local.get", fc.caught)
		return repr.Boxed
	}
	diag.Invariant(e, "unexpected %T in code generation", e)
	panic("unreachable")
}

// values pushes a fresh $Values array of the boxed values of list.
func (fc *fcomp) values(list []syntax.Expr) {
	if len(list) == 0 {
		fc.f.Op("i32.const", "0")
		fc.f.Op("array.new_default", "$Values")
		return
	}
	for _, x := range list {
		fc.exprAs(x, repr.Boxed)
	}
	fc.f.Op("array.new_fixed", "$Values", strconv.Itoa(len(list)))
}

// sliceBounds pushes the bounds of a slice; a missing bound is None.
func (fc *fcomp) sliceBounds(e *syntax.SliceExpr) {
	for _, x := range []syntax.Expr{e.Lo, e.Hi, e.Step} {
		if x == nil {
			fc.f.Op("ref.null", "none")
		} else {
			fc.exprAs(x, repr.Boxed)
		}
	}
}

func (fc *fcomp) literal(e *syntax.Literal) repr.Storage {
	f := fc.f
	switch v := e.Value.(type) {
	case int64:
		f.Op("i64.const", strconv.FormatInt(v, 10))
		return repr.I64
	case *big.Int:
		fc.pc.pool.Load(f, v.String())
		f.Op("i32.const", "10")
		f.Op("call", "$int_from_str")
		return repr.Boxed
	case float64:
		f.Op("f64.const", floatText(v))
		return repr.F64
	case bool:
		if v {
			f.Op("i32.const", "1")
		} else {
			f.Op("i32.const", "0")
		}
		return repr.I32
	case string:
		if e.Token == syntax.BYTES {
			for i := 0; i < len(v); i++ {
				f.Op("i32.const", strconv.Itoa(int(v[i])))
			}
			f.Op("array.new_fixed", "$Bytes8", strconv.Itoa(len(v)))
			f.Op("struct.new", "$Bytes")
			return repr.Boxed
		}
		fc.pc.pool.Load(f, v)
		return repr.Boxed
	case nil:
		f.Op("ref.null", "none")
		return repr.Boxed
	}
	diag.Invariant(e, "literal of type %T", e.Value)
	panic("unreachable")
}

// floatText formats x as a wasm float literal.
func floatText(x float64) string {
	switch {
	case math.IsInf(x, 1):
		return "inf"
	case math.IsInf(x, -1):
		return "-inf"
	case math.IsNaN(x):
		return "nan"
	}
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func (fc *fcomp) conv(e *syntax.ConvExpr) repr.Storage {
	f := fc.f
	switch e.Op {
	case syntax.BoxInt:
		if fc.storageOf(e.X) == repr.Boxed {
			fc.expr(e.X)
			return repr.Boxed
		}
		fc.exprAs(e.X, repr.I64)
		f.Op("call", "$box_i64")
		return repr.Boxed
	case syntax.BoxFloat:
		fc.exprAs(e.X, repr.F64)
		f.Op("call", "$box_f64")
		return repr.Boxed
	case syntax.BoxBool:
		fc.exprAs(e.X, repr.I32)
		f.Op("call", "$box_bool")
		return repr.Boxed
	case syntax.UnboxInt:
		fc.exprAs(e.X, repr.Boxed)
		f.Op("call", "$unbox_i64")
		return repr.I64
	case syntax.IntToFloat:
		fc.exprAs(e.X, repr.I64)
		f.Op("f64.convert_i64_s")
		return repr.F64
	case syntax.BigToFloat:
		fc.exprAs(e.X, repr.Boxed)
		f.Op("call", "$to_f64")
		return repr.F64
	case syntax.Truthy:
		fc.cond(e.X)
		return repr.I32
	}
	diag.Invariant(e, "unknown conversion %s", e.Op)
	panic("unreachable")
}

func (fc *fcomp) unary(e *syntax.UnaryExpr) repr.Storage {
	f := fc.f
	if e.Op == syntax.NOT {
		fc.cond(e.X)
		f.Op("i32.eqz")
		return repr.I32
	}
	switch fc.storageOf(e.X) {
	case repr.I64:
		if fc.storageOf(e) == repr.I64 {
			switch e.Op {
			case syntax.MINUS:
				f.Op("i64.const", "0")
				fc.expr(e.X)
				f.Op("i64.sub")
			case syntax.PLUS:
				fc.expr(e.X)
			case syntax.TILDE:
				fc.expr(e.X)
				f.Op("i64.const", "-1")
				f.Op("i64.xor")
			}
			return repr.I64
		}
	case repr.F64:
		fc.expr(e.X)
		if e.Op == syntax.MINUS {
			f.Op("f64.neg")
		}
		return repr.F64
	}
	code, ok := unopCodes[e.Op]
	if !ok {
		diag.Invariant(e, "unary %s", e.Op)
	}
	f.Op("i32.const", strconv.Itoa(code))
	fc.exprAs(e.X, repr.Boxed)
	f.Op("call", "$unop")
	return repr.Boxed
}

func (fc *fcomp) binary(e *syntax.BinaryExpr) repr.Storage {
	f := fc.f
	switch e.Op {
	case syntax.AND, syntax.OR:
		return fc.logical(e)
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.GT, syntax.LE, syntax.GE,
		syntax.IN, syntax.NOT_IN, syntax.IS, syntax.IS_NOT:
		fc.compareLink(e.Op, fc.operand(e.X), fc.operand(e.Y), fc.linkStorage(e.X, e.Y))
		return repr.I32
	}

	switch want := fc.storageOf(e); want {
	case repr.I64:
		if op, ok := i64Ops[e.Op]; ok {
			fc.exprAs(e.X, repr.I64)
			fc.exprAs(e.Y, repr.I64)
			f.Op(op)
			return repr.I64
		}
		if fn, ok := i64Calls[e.Op]; ok {
			fc.exprAs(e.X, repr.I64)
			fc.exprAs(e.Y, repr.I64)
			f.Op("call", fn)
			return repr.I64
		}
	case repr.F64:
		if op, ok := f64Ops[e.Op]; ok {
			fc.exprAs(e.X, repr.F64)
			fc.exprAs(e.Y, repr.F64)
			f.Op(op)
			return repr.F64
		}
		if fn, ok := f64Calls[e.Op]; ok {
			fc.exprAs(e.X, repr.F64)
			fc.exprAs(e.Y, repr.F64)
			f.Op("call", fn)
			return repr.F64
		}
	}
	code, ok := binopCodes[e.Op]
	if !ok {
		diag.Invariant(e, "binary %s", e.Op)
	}
	if e.InPlace {
		code |= inPlace
	}
	f.Op("i32.const", strconv.Itoa(code))
	fc.exprAs(e.X, repr.Boxed)
	fc.exprAs(e.Y, repr.Boxed)
	f.Op("call", "$binop")
	return repr.Boxed
}

// logical emits x and y or x or y. The result is the deciding operand,
// in the representation both operands were converted to.
func (fc *fcomp) logical(e *syntax.BinaryExpr) repr.Storage {
	f := fc.f
	want := fc.storageOf(e)
	typ := wasmType(want)
	t := f.Local("lhs", typ)
	fc.exprAs(e.X, want)
	f.Op("local.tee", t)
	fc.convert(want, repr.I32)
	f.If("", typ)
	if e.Op == syntax.AND {
		fc.exprAs(e.Y, want)
		f.Else()
		f.Op("local.get", t)
	} else {
		f.Op("local.get", t)
		f.Else()
		fc.exprAs(e.Y, want)
	}
	f.End()
	return want
}

// linkStorage returns the storage in which x and y are compared.
func (fc *fcomp) linkStorage(x, y syntax.Expr) repr.Storage {
	sx, sy := fc.storageOf(x), fc.storageOf(y)
	switch {
	case sx == repr.I64 && sy == repr.I64:
		return repr.I64
	case (sx == repr.F64 || sx == repr.I64) && (sy == repr.F64 || sy == repr.I64):
		return repr.F64
	}
	return repr.Boxed
}

// An operand pushes a value in the requested storage.
type operand func(s repr.Storage)

func (fc *fcomp) operand(e syntax.Expr) operand {
	return func(s repr.Storage) { fc.exprAs(e, s) }
}

// temp returns the operand held in local l, of storage from.
func (fc *fcomp) temp(l string, from repr.Storage) operand {
	return func(s repr.Storage) {
		fc.f.Op("local.get", l)
		fc.convert(from, s)
	}
}

// compareLink emits x op y as an i32.
func (fc *fcomp) compareLink(op syntax.Token, x, y operand, s repr.Storage) {
	f := fc.f
	switch op {
	case syntax.IN, syntax.NOT_IN:
		// The element is evaluated before the container.
		t := f.Local("elem", "eqref")
		x(repr.Boxed)
		f.Op("local.set", t)
		y(repr.Boxed)
		f.Op("local.get", t)
		f.Op("call", "$contains")
		if op == syntax.NOT_IN {
			f.Op("i32.eqz")
		}
		return
	case syntax.IS, syntax.IS_NOT:
		x(repr.Boxed)
		y(repr.Boxed)
		f.Op("ref.eq")
		if op == syntax.IS_NOT {
			f.Op("i32.eqz")
		}
		return
	}
	switch s {
	case repr.I64:
		x(repr.I64)
		y(repr.I64)
		f.Op(i64Compare[op])
	case repr.F64:
		x(repr.F64)
		y(repr.F64)
		f.Op(f64Compare[op])
	default:
		code, ok := compareCodes[op]
		if !ok {
			panic("compare: " + op.String())
		}
		f.Op("i32.const", strconv.Itoa(code))
		x(repr.Boxed)
		y(repr.Boxed)
		f.Op("call", "$compare")
	}
}

// compare emits a comparison chain. Each operand is evaluated at most
// once, and the chain stops at the first false link.
func (fc *fcomp) compare(e *syntax.CompareExpr) {
	f := fc.f
	s := fc.storageOf(e.X[0])
	for _, x := range e.X[1:] {
		if fc.storageOf(x) != s {
			s = repr.Boxed
		}
	}
	if s == repr.I32 {
		s = repr.Boxed
	}
	typ := wasmType(s)
	prev := f.Local("cmp", typ)
	fc.exprAs(e.X[0], s)
	f.Op("local.set", prev)
	for i, op := range e.Ops {
		next := f.Local("cmp", typ)
		fc.exprAs(e.X[i+1], s)
		f.Op("local.set", next)
		fc.compareLink(op, fc.temp(prev, s), fc.temp(next, s), s)
		if i < len(e.Ops)-1 {
			f.If("", "i32")
		}
		prev = next
	}
	for i := len(e.Ops) - 2; i >= 0; i-- {
		f.Else()
		f.Op("i32.const", "0")
		f.End()
	}
}
