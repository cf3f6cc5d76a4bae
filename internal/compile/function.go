package compile

import (
	"fmt"
	"strconv"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/object"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/wat"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

// fcomp holds the compiler state for one wasm function: the code of a
// Python function, the resume function of a generator, or $main.
type fcomp struct {
	pc    *pcomp
	fn    *syntax.Function // nil for $main
	frame *object.Frame
	f     *wat.Func

	locals map[*syntax.Binding]string // wasm locals of variables
	check  map[*syntax.Binding]bool   // locals whose reads must check for UNBOUND
	env    string                     // local holding the closure environment
	attrs  string                     // in a class body, the local holding its attribute dict
	gen    *genState                  // in a resume function

	exits  []*exit
	retval string // local holding the value of a return that is running a finally clause
	caught string // local holding the exception being handled
	nlabel int

	// self is the receiver of a method whose attribute accesses may
	// use the slots of cls directly.
	self *syntax.Binding
	cls  *object.Class
}

// An exit is an enclosing construct that break, continue and return
// must pass through.
type exit struct {
	brk, cont string // a loop: its labels

	// A try-finally region: the block whose end leads to the finally
	// clause, and the local recording why control left the body.
	after, how string
}

const (
	jumpReturn   = 1
	jumpBreak    = 2
	jumpContinue = 3
)

func (pc *pcomp) newFcomp(fn *syntax.Function, f *wat.Func) *fcomp {
	fc := &fcomp{
		pc:     pc,
		fn:     fn,
		f:      f,
		locals: make(map[*syntax.Binding]string),
		check:  make(map[*syntax.Binding]bool),
	}
	if fn != nil {
		fc.frame = pc.model.Frames[fn]
		fc.markChecked(fn)
		fc.selfSlots(fn)
	}
	return fc
}

// label returns a fresh block label.
func (fc *fcomp) label(hint string) string {
	fc.nlabel++
	return "$" + hint + strconv.Itoa(fc.nlabel)
}

// function generates the code of fn.
func (pc *pcomp) function(fn *syntax.Function) {
	k := pc.funcs[fn]
	f := wat.NewFunc(pc.env, funcName(k), []wat.Local{
		{Name: "$c", Type: "(ref $Closure)"},
		{Name: "$args", Type: "(ref $Values)"},
		{Name: "$kw", Type: "(ref null $Dict)"},
	}, "eqref")
	f.Type = "$Code"
	fc := pc.newFcomp(fn, f)
	if pc.opts.Debug {
		f.Comment("%s %s", fn.Name, fn.StartPos)
	}
	bound := fc.bindArgs(k)
	if fc.frame.Scope.Generator {
		fc.newGenerator(k, bound)
	} else {
		fc.prologue(bound)
		fc.stmts(fn.Body)
		if !f.Dead() {
			f.Op("ref.null", "none")
		}
	}
	pc.add(f.Text())
}

// bindArgs matches the call's arguments to the parameters of fn and
// returns the local holding them, one per entry of frame.Params.
func (fc *fcomp) bindArgs(k int) string {
	f, sig := fc.f, fc.fn.Sig
	flags := 0
	if sig.Varargs != nil {
		flags |= 1
	}
	if sig.Kwargs != nil {
		flags |= 2
	}
	names := fc.pc.paramNames(k, fc.fn)
	f.Op("local.get", "$c")
	f.Op("local.get", "$args")
	f.Op("local.get", "$kw")
	f.Op("global.get", names)
	f.Op("i32.const", strconv.Itoa(sig.NumPos))
	f.Op("i32.const", strconv.Itoa(flags))
	f.Op("call", "$bind_args")
	bound := f.Local("bound", "(ref null $Values)")
	f.Op("local.set", bound)
	return bound
}

// prologue moves the bound arguments into their variables and
// initializes the other locals.
func (fc *fcomp) prologue(bound string) {
	f := fc.f
	if len(fc.frame.Free) > 0 {
		fc.env = f.Local("env", "(ref null $Values)")
		f.Op("local.get", "$c")
		f.Op("struct.get", "$Closure", "$env")
		f.Op("local.set", fc.env)
	}
	params := make(map[*syntax.Binding]bool)
	for i, b := range fc.frame.Params {
		params[b] = true
		f.Op("local.get", bound)
		f.Op("i32.const", strconv.Itoa(i))
		f.Op("array.get", "$Values")
		if b.Scope == syntax.CellScope {
			f.Op("struct.new", "$Cell")
		} else {
			fc.convert(repr.Boxed, fc.varStorage(b))
		}
		f.Op("local.set", fc.local(b))
	}
	for _, b := range fc.frame.Scope.Locals {
		if params[b] {
			continue
		}
		switch {
		case b.Scope == syntax.CellScope:
			f.Op("global.get", "$UNBOUND")
			f.Op("struct.new", "$Cell")
			f.Op("local.set", fc.local(b))
		case fc.varStorage(b) == repr.Boxed:
			f.Op("global.get", "$UNBOUND")
			f.Op("local.set", fc.local(b))
		}
	}
}

// markChecked records which locals of fn may be read while unbound:
// those that are not parameters, and parameters that are deleted.
func (fc *fcomp) markChecked(fn *syntax.Function) {
	scope := resolve.ScopeOf(fn)
	for _, b := range scope.Locals {
		if !b.Param && !isTemp(b) {
			fc.check[b] = true
		}
	}
	walkBody(fn, func(n syntax.Node) bool {
		if del, ok := n.(*syntax.DelStmt); ok {
			for _, x := range del.Targets {
				if id, ok := x.(*syntax.Ident); ok && id.Binding != nil && id.Binding.Param {
					fc.check[id.Binding] = true
				}
			}
		}
		return true
	})
}

func isTemp(b *syntax.Binding) bool { return len(b.Name) > 0 && b.Name[0] == '$' }

// varStorage returns the machine type of variable b.
func (fc *fcomp) varStorage(b *syntax.Binding) repr.Storage {
	if b.Scope == syntax.LocalScope && fc.gen == nil {
		return fc.pc.info.Local(b).Storage()
	}
	return repr.Boxed
}

func wasmType(s repr.Storage) string {
	switch s {
	case repr.I64:
		return "i64"
	case repr.F64:
		return "f64"
	case repr.I32:
		return "i32"
	}
	return "eqref"
}

// local returns the wasm local of b, declaring it on first use.
func (fc *fcomp) local(b *syntax.Binding) string {
	if l, ok := fc.locals[b]; ok {
		return l
	}
	typ := wasmType(fc.varStorage(b))
	if b.Scope == syntax.CellScope {
		typ = "(ref null $Cell)"
	}
	l := fc.f.Local(b.Name, typ)
	fc.locals[b] = l
	return l
}

// cellRef pushes the cell of the Cell or Free variable b.
func (fc *fcomp) cellRef(b *syntax.Binding) {
	f := fc.f
	switch b.Scope {
	case syntax.CellScope:
		if fc.gen != nil {
			fc.gen.load(f, b)
			f.Op("ref.cast", "(ref $Cell)")
		} else {
			f.Op("local.get", fc.local(b))
		}
	case syntax.FreeScope:
		f.Op("local.get", fc.env)
		f.Op("i32.const", strconv.Itoa(b.Index))
		f.Op("array.get", "$Values")
		f.Op("ref.cast", "(ref $Cell)")
	default:
		panic(fmt.Sprintf("cellRef: %s is %s", b.Name, b.Scope))
	}
}

// load pushes the value of the variable id, in its storage.
func (fc *fcomp) load(id *syntax.Ident) {
	b, f := id.Binding, fc.f
	switch b.Scope {
	case syntax.LocalScope:
		if fc.gen != nil {
			fc.gen.load(f, b)
		} else {
			f.Op("local.get", fc.local(b))
		}
		if fc.check[b] && fc.varStorage(b) == repr.Boxed {
			fc.checkUnbound("$check_local", b.Name)
		}
	case syntax.CellScope, syntax.FreeScope:
		fc.cellRef(b)
		f.Op("struct.get", "$Cell", "$v")
		fc.checkUnbound("$check_local", b.Name)
	case syntax.GlobalScope:
		f.Op("global.get", globalName(b))
		if !isTemp(b) {
			fc.checkUnbound("$check_global", b.Name)
		}
	case syntax.ClassAttrScope:
		fc.loadClassAttr(id)
	case syntax.UniversalScope:
		fc.pc.universal(f, b.Name)
	default:
		diag.Invariant(id, "%s is %s", id.Name, b.Scope)
	}
}

func (fc *fcomp) checkUnbound(fn, name string) {
	fc.pc.pool.Load(fc.f, name)
	fc.f.Op("call", fn)
}

// loadClassAttr reads a name bound in a class body. Before the body
// binds it, the name denotes the global or builtin of that name.
func (fc *fcomp) loadClassAttr(id *syntax.Ident) {
	f, pc := fc.f, fc.pc
	v := f.Local("attr", "eqref")
	f.Op("local.get", fc.attrs)
	pc.pool.Load(f, id.Name)
	f.Op("call", "$table_get")
	f.Op("local.tee", v)
	f.Op("global.get", "$MISSING")
	f.Op("ref.eq")
	f.If("", "eqref")
	switch g := pc.module.Lookup(id.Name); {
	case g != nil && g.Scope == syntax.GlobalScope:
		f.Op("global.get", globalName(g))
		fc.checkUnbound("$check_global", id.Name)
	case pc.isUniversal(id.Name):
		pc.universal(f, id.Name)
	default:
		pc.raise(f, "NameError", fmt.Sprintf("name '%s' is not defined", id.Name))
	}
	f.Else()
	f.Op("local.get", v)
	f.End()
}

// store assigns to the variable id the value that value pushes, which
// must be in the variable's storage.
func (fc *fcomp) store(id *syntax.Ident, value func()) {
	b, f := id.Binding, fc.f
	switch b.Scope {
	case syntax.LocalScope:
		if fc.gen != nil {
			fc.gen.store(f, b, value)
			return
		}
		value()
		f.Op("local.set", fc.local(b))
	case syntax.CellScope, syntax.FreeScope:
		fc.cellRef(b)
		value()
		f.Op("struct.set", "$Cell", "$v")
	case syntax.GlobalScope:
		value()
		f.Op("global.set", globalName(b))
	case syntax.ClassAttrScope:
		f.Op("local.get", fc.attrs)
		fc.pc.pool.Load(f, b.Name)
		value()
		f.Op("call", "$table_insert")
	default:
		diag.Invariant(id, "cannot assign %s (%s)", id.Name, b.Scope)
	}
}

// storeExpr assigns the value of e to id.
func (fc *fcomp) storeExpr(id *syntax.Ident, e syntax.Expr) {
	fc.store(id, func() { fc.exprAs(e, fc.varStorage(id.Binding)) })
}

// storeLocal assigns the eqref in local l to id.
func (fc *fcomp) storeLocal(id *syntax.Ident, l string) {
	fc.store(id, func() {
		fc.f.Op("local.get", l)
		fc.convert(repr.Boxed, fc.varStorage(id.Binding))
	})
}

// del unbinds id, which must be bound.
func (fc *fcomp) del(id *syntax.Ident) {
	b, f := id.Binding, fc.f
	if b.Scope == syntax.ClassAttrScope {
		f.Op("local.get", fc.attrs)
		fc.pc.pool.Load(f, b.Name)
		f.Op("call", "$table_delete")
		f.Op("i32.eqz")
		f.If("")
		fc.pc.raise(f, "NameError", fmt.Sprintf("name '%s' is not defined", b.Name))
		f.End()
		return
	}
	if fc.varStorage(b) != repr.Boxed {
		diag.Invariant(id, "cannot delete unboxed variable %s", id.Name)
	}
	saved := fc.check[b]
	fc.check[b] = true
	fc.load(id)
	fc.check[b] = saved
	f.Op("drop")
	fc.store(id, func() { f.Op("global.get", "$UNBOUND") })
}

// closure pushes a new function value for fn.
func (fc *fcomp) closure(fn *syntax.Function) {
	f, pc := fc.f, fc.pc
	k := pc.funcIndex(fn)
	frame := pc.model.Frames[fn]
	f.Op("ref.func", funcName(k))
	if len(frame.Free) == 0 {
		f.Op("ref.null", "$Values")
	} else {
		for _, b := range frame.Free {
			fc.cellRef(b.Outer)
		}
		f.Op("array.new_fixed", "$Values", strconv.Itoa(len(frame.Free)))
	}
	if fn.Sig.NumDefaults() == 0 {
		f.Op("ref.null", "$Values")
	} else {
		for _, d := range fn.Sig.Defaults {
			if d == nil {
				f.Op("global.get", "$MISSING")
			} else {
				fc.exprAs(d, repr.Boxed)
			}
		}
		f.Op("array.new_fixed", "$Values", strconv.Itoa(len(fn.Sig.Defaults)))
	}
	pc.pool.Load(f, fn.Name)
	f.Op("struct.new", "$Closure")
	switch fn.Kind {
	case syntax.StaticMethodFunc:
		f.Op("struct.new", "$StaticMethod")
	case syntax.ClassMethodFunc:
		f.Op("struct.new", "$ClassMethod")
	case syntax.PropertyFunc:
		f.Op("struct.new", "$Property")
	}
}

// selfSlots decides whether the attributes of self in method fn may be
// read and written in the slots of its class. That requires self to be
// a plain local that the method never rebinds.
func (fc *fcomp) selfSlots(fn *syntax.Function) {
	frame := fc.frame
	if frame.Class == nil || frame.Scope.Generator || len(frame.Params) == 0 || frame.Class.Width() == 0 {
		return
	}
	if fn.Kind != syntax.MethodFunc && fn.Kind != syntax.PropertyFunc {
		return
	}
	self := frame.Params[0]
	if self.Scope != syntax.LocalScope || fc.check[self] {
		return
	}
	rebound := false
	walkBody(fn, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.AssignStmt:
			rebound = rebound || assigns(n.LHS, self)
		case *syntax.AssignExpr:
			rebound = rebound || n.Name.Binding == self
		case *syntax.BindExpr:
			rebound = rebound || n.Name.Binding == self
		case *syntax.ForStmt:
			rebound = rebound || assigns(n.Vars, self)
		case *syntax.TryCatchStmt:
			rebound = rebound || n.Exc.Binding == self
		case *syntax.ImportStmt:
			for _, id := range n.To {
				rebound = rebound || id.Binding == self
			}
		}
		return !rebound
	})
	if !rebound {
		fc.self, fc.cls = self, frame.Class
	}
}

func walkBody(fn *syntax.Function, visit func(syntax.Node) bool) {
	for _, s := range fn.Body {
		syntax.Walk(s, visit)
	}
}

func assigns(lhs syntax.Expr, b *syntax.Binding) bool {
	id, ok := lhs.(*syntax.Ident)
	return ok && id.Binding == b
}

// slot returns the slot of self.name when x is such an access that
// the method's class lays out, or -1.
func (fc *fcomp) slot(x syntax.Expr, name string) int {
	if fc.self == nil {
		return -1
	}
	id, ok := x.(*syntax.Ident)
	if !ok || id.Binding != fc.self {
		return -1
	}
	return fc.cls.Slot(name)
}
