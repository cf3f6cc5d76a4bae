package compile

import (
	"strconv"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/support"
	"go.p2w.dev/syntax"
)

// directCalls are the runtime entry points of builtins that
// repr.DirectBuiltin selects.
var directCalls = map[string]string{
	"len":        "$len",
	"isinstance": "$isinstance",
	"str":        "$str",
	"repr":       "$repr",
}

func (fc *fcomp) call(e *syntax.CallExpr) repr.Storage {
	f := fc.f
	if name, ok := repr.DirectBuiltin(e); ok {
		for _, arg := range e.Args {
			fc.exprAs(arg, repr.Boxed)
		}
		f.Op("call", directCalls[name])
		switch name {
		case "len":
			return repr.I64
		case "isinstance":
			return repr.I32
		}
		return repr.Boxed
	}
	if dot, ok := e.Fn.(*syntax.DotExpr); ok && fc.slot(dot.X, dot.Name.Name) < 0 {
		fc.exprAs(dot.X, repr.Boxed)
		fc.pc.pool.Load(f, dot.Name.Name)
		fc.args(e.Args)
		f.Op("call", "$call_method")
		return repr.Boxed
	}
	fc.exprAs(e.Fn, repr.Boxed)
	fc.args(e.Args)
	f.Op("call", "$call")
	return repr.Boxed
}

// args pushes the positional arguments array and the keyword dict of
// a call.
func (fc *fcomp) args(args []syntax.Expr) {
	f := fc.f
	var pos, stars, spreads []syntax.Expr
	var names []string
	var kwvals []syntax.Expr
	spread := false
	for _, arg := range args {
		switch a := arg.(type) {
		case *syntax.BinaryExpr:
			if a.Op == syntax.EQ {
				names = append(names, a.X.(*syntax.Ident).Name)
				kwvals = append(kwvals, a.Y)
				continue
			}
		case *syntax.UnaryExpr:
			switch a.Op {
			case syntax.STAR:
				pos = append(pos, a.X)
				stars = append(stars, a)
				spread = true
				continue
			case syntax.STARSTAR:
				spreads = append(spreads, a.X)
				continue
			}
		}
		pos = append(pos, arg)
		stars = append(stars, nil)
	}

	// positional
	switch {
	case len(pos) == 0:
		f.Op("global.get", "$empty")
	case !spread:
		fc.values(pos)
	default:
		fc.values(pos)
		for _, s := range stars {
			if s != nil {
				f.Op("i32.const", "1")
			} else {
				f.Op("i32.const", "0")
			}
		}
		f.Op("array.new_fixed", "$I32s", strconv.Itoa(len(stars)))
		f.Op("call", "$args_of")
	}

	// keywords
	if len(names) == 0 && len(spreads) == 0 {
		f.Op("ref.null", "$Dict")
		return
	}
	for _, name := range names {
		fc.pc.pool.Load(f, name)
	}
	f.Op("array.new_fixed", "$Values", strconv.Itoa(len(names)))
	fc.values(kwvals)
	if len(spreads) == 0 {
		f.Op("ref.null", "$Values")
	} else {
		fc.values(spreads)
	}
	f.Op("call", "$kw_of")
}

// intrinsicCalls maps intrinsics to the runtime functions that
// implement them, where the names differ.
var intrinsicCalls = map[string]string{
	"list_append": "$list_append_any",
	"new_set":     "$set_new",
	"str_join":    "$str_concat_all",
}

func (fc *fcomp) intrinsic(e *syntax.Intrinsic) repr.Storage {
	f := fc.f
	switch e.Name {
	case "set_add", "dict_set":
		fc.exprAs(e.Args[0], repr.Boxed)
		f.Op("ref.cast", "(ref $Table)")
		for _, x := range e.Args[1:] {
			fc.exprAs(x, repr.Boxed)
		}
		if e.Name == "set_add" {
			f.Op("ref.null", "none")
		}
		f.Op("call", "$table_insert")
		f.Op("ref.null", "none")
		return repr.Boxed

	case "str_join":
		fc.values(e.Args)
		f.Op("call", "$str_concat_all")
		return repr.Boxed

	case "format":
		fc.exprAs(e.Args[0], repr.Boxed)
		fc.strOperand(e.Args[1])
		f.Op("call", "$format")
		return repr.Boxed

	case "getattr":
		fc.exprAs(e.Args[0], repr.Boxed)
		fc.strOperand(e.Args[1])
		f.Op("call", "$getattr")
		return repr.Boxed

	case "is":
		fc.exprAs(e.Args[0], repr.Boxed)
		fc.exprAs(e.Args[1], repr.Boxed)
		f.Op("ref.eq")
		return repr.I32
	}

	for i, x := range e.Args {
		if repr.StaticOperand(e.Name, i) {
			lit := x.(*syntax.Literal)
			f.Op("i32.const", strconv.FormatInt(lit.Value.(int64), 10))
			continue
		}
		fc.exprAs(x, repr.Boxed)
	}
	fn, ok := intrinsicCalls[e.Name]
	if !ok {
		fn = "$" + e.Name
	}
	r, known := repr.IntrinsicResult(e.Name)
	if !known {
		diag.Invariant(e, "unknown intrinsic %s", e.Name)
	}
	f.Op("call", fn)
	if r.Storage() == repr.I32 {
		return repr.I32
	}
	return repr.Boxed
}

// strOperand pushes a string operand as a (ref null $Str).
func (fc *fcomp) strOperand(x syntax.Expr) {
	if lit, ok := x.(*syntax.Literal); ok {
		if s, ok := lit.Value.(string); ok && lit.Token != syntax.BYTES {
			fc.pc.pool.Load(fc.f, s)
			return
		}
	}
	fc.exprAs(x, repr.Boxed)
	fc.f.Op("ref.cast", "(ref null $Str)")
}

// loadSlot pushes self.name, read from slot k of the method's class
// when self is laid out as an instance of it.
func (fc *fcomp) loadSlot(self *syntax.Ident, k int, name string) {
	f, pool := fc.f, fc.pc.pool
	typ := objType(k)
	v := f.Local("slot", "eqref")
	fc.load(self)
	f.Op("ref.test", "(ref "+typ+")")
	f.If("", "eqref")
	fc.load(self)
	f.Op("ref.cast", "(ref "+typ+")")
	f.Op("struct.get", typ, "$f"+strconv.Itoa(k))
	f.Op("local.tee", v)
	f.Op("global.get", "$UNBOUND")
	f.Op("ref.eq")
	f.If("", "eqref")
	fc.load(self)
	pool.Load(f, name)
	f.Op("call", "$getattr")
	f.Else()
	f.Op("local.get", v)
	f.End()
	f.Else()
	fc.load(self)
	pool.Load(f, name)
	f.Op("call", "$getattr")
	f.End()
}

// storeSlot assigns the value in local v to self.name, in slot k when
// self is laid out as an instance of the method's class.
func (fc *fcomp) storeSlot(self *syntax.Ident, k int, name, v string) {
	f := fc.f
	typ := objType(k)
	fc.load(self)
	f.Op("ref.test", "(ref "+typ+")")
	f.If("")
	fc.load(self)
	f.Op("ref.cast", "(ref "+typ+")")
	f.Op("local.get", v)
	f.Op("struct.set", typ, "$f"+strconv.Itoa(k))
	f.Else()
	fc.load(self)
	fc.pc.pool.Load(f, name)
	f.Op("local.get", v)
	f.Op("call", "$setattr")
	f.End()
}

// objType returns the smallest instance type that has slot k.
func objType(k int) string { return support.ObjType(k + 1) }
