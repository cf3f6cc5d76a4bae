package compile

import (
	"strconv"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/internal/support"
	"go.p2w.dev/syntax"
)

// class emits a class statement. The body runs inline, binding its
// names in a fresh attribute dict; the runtime then builds the class
// from its bases, that dict and the slot layout of its instances.
func (fc *fcomp) class(s *syntax.ClassStmt) {
	f, pc := fc.f, fc.pc
	c := pc.model.ClassOf(s)
	if c == nil {
		diag.Invariant(s, "class %s has no layout", s.Name.Name)
	}

	bases := f.Local("bases", "(ref null $Values)")
	fc.values(s.Bases)
	f.Op("local.set", bases)

	saved := fc.attrs
	fc.attrs = f.Local("attrs", "(ref null $Dict)")
	f.Op("call", "$dict_new")
	f.Op("local.set", fc.attrs)
	fc.stmts(s.Body)
	attrs := fc.attrs
	fc.attrs = saved
	if f.Dead() {
		return
	}

	fc.store(s.Name, func() {
		pc.pool.Load(f, s.Name.Name)
		f.Op("local.get", bases)
		f.Op("local.get", attrs)
		if c.Width() == 0 {
			f.Op("global.get", "$empty")
		} else {
			for _, field := range c.Slots {
				if field == "" {
					f.Op("ref.null", "none")
				} else {
					pc.pool.Load(f, field)
				}
			}
			f.Op("array.new_fixed", "$Values", strconv.Itoa(c.Width()))
		}
		f.Op("ref.func", support.AllocFunc(pc.model, c))
		f.Op("call", "$class_new")
		fc.convert(repr.Boxed, fc.varStorage(s.Name.Binding))
	})
}
