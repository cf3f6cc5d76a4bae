// Package object computes the object model of a program: the method
// resolution order and field slots of every class, the global table of
// method selectors, and the frame layout of every function (its cells,
// its closure environment and, for a generator, its record).
//
// Classes are laid out at compile time. A field declared by a class
// (an attribute its methods assign through self) occupies the same
// slot in the instances of every class that inherits it, including
// through both sides of a diamond; slot numbers are chosen so that the
// fields of any one class's linearization never collide.
package object

import (
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/diag"
	"go.p2w.dev/resolve"
	"go.p2w.dev/syntax"
)

var log = commonlog.GetLogger("p2w.object")

// Specials are the method names with fixed selectors 0..len-1, in this
// order. Runtime operators dispatch through them without a name lookup.
var Specials = []string{
	"__init__",
	"__str__",
	"__repr__",
	"__eq__",
	"__ne__",
	"__lt__",
	"__le__",
	"__gt__",
	"__ge__",
	"__hash__",
	"__len__",
	"__bool__",
	"__getitem__",
	"__setitem__",
	"__delitem__",
	"__contains__",
	"__iter__",
	"__next__",
	"__call__",
	"__add__",
	"__sub__",
	"__mul__",
	"__truediv__",
	"__floordiv__",
	"__mod__",
	"__pow__",
	"__neg__",
	"__enter__",
	"__exit__",
}

// A Class is the compile-time description of a class.
type Class struct {
	Name    string            // qualified name
	Stmt    *syntax.ClassStmt // nil for a builtin class
	Bases   []*Class
	MRO     []*Class // linearization: the class itself first, object last
	Methods []string // names of the functions defined in the class body
	Builtin bool

	// Own lists the fields this class introduces, in order of first
	// assignment; own maps each to its slot.
	Own []string
	own map[string]int

	// Slots[k] names the field in slot k, or is "" for a slot that
	// instances of this class do not use.
	Slots []string
}

// Width returns the number of slots of an instance.
func (c *Class) Width() int { return len(c.Slots) }

// Slot returns the slot of the named field, or -1.
func (c *Class) Slot(field string) int {
	for k, f := range c.Slots {
		if f == field {
			return k
		}
	}
	return -1
}

// IsSubclassOf reports whether d appears in the linearization of c.
func (c *Class) IsSubclassOf(d *Class) bool {
	for _, x := range c.MRO {
		if x == d {
			return true
		}
	}
	return false
}

func (c *Class) String() string { return c.Name }

// A Frame is the storage layout of one function activation.
type Frame struct {
	Fn     *syntax.Function
	Scope  *resolve.Scope
	Params []*syntax.Binding // in signature order: Sig.Params, then *args, then **kwargs
	Cells  []*syntax.Binding // locals shared with nested functions, allocated on entry
	Free   []*syntax.Binding // the closure environment, by Binding.Index
	Record []*syntax.Binding // generators only: the locals kept in the generator record
	Class  *Class            // for a function defined directly in a class body
}

// A Model is the object model of one program.
type Model struct {
	Classes   []*Class // user classes, in source order
	Builtins  []*Class // builtin classes, bases first
	Selectors []string // method names by selector
	Frames    map[*syntax.Function]*Frame
	Width     int // the largest instance width of any class

	builtin map[string]*Class
	byStmt  map[*syntax.ClassStmt]*Class
	sel     map[string]int
}

// Builtin returns the named builtin class, or nil.
func (m *Model) Builtin(name string) *Class { return m.builtin[name] }

// ClassOf returns the class defined by s.
func (m *Model) ClassOf(s *syntax.ClassStmt) *Class { return m.byStmt[s] }

// Selector returns the selector of a method name, if any class or
// builtin type defines a method of that name.
func (m *Model) Selector(name string) (int, bool) {
	i, ok := m.sel[name]
	return i, ok
}

func (m *Model) addSelector(name string) {
	if _, ok := m.sel[name]; !ok {
		m.sel[name] = len(m.Selectors)
		m.Selectors = append(m.Selectors, name)
	}
}

// Build computes the object model of a lowered file.
// It records each class in its statement's Layout field.
func Build(f *syntax.File) (model *Model, err error) {
	var r diag.Reporter
	defer func() {
		r.Recover("object model", syntax.Start(f))
		if r.Failed() {
			model, err = nil, r.Errors()
		}
	}()

	m := &Model{
		Frames:  make(map[*syntax.Function]*Frame),
		builtin: make(map[string]*Class),
		byStmt:  make(map[*syntax.ClassStmt]*Class),
		sel:     make(map[string]int),
	}
	m.builtins()
	for _, name := range Specials {
		m.addSelector(name)
	}
	for _, bt := range builtinTypes {
		for _, name := range bt.methods {
			m.addSelector(name)
		}
	}

	b := &builder{m: m, r: &r, writes: writes(f)}
	mod := f.Module.(*resolve.Module)
	for _, s := range mod.Classes {
		b.class(s)
	}
	if r.Failed() {
		return nil, r.Errors()
	}
	for _, c := range m.Classes {
		b.fields(c)
	}
	for _, c := range m.Classes {
		b.assignSlots(c)
	}
	for _, c := range append(m.Builtins, m.Classes...) {
		c.Slots = layout(c)
		if c.Width() > m.Width {
			m.Width = c.Width()
		}
	}
	for _, fn := range mod.Functions {
		m.Frames[fn] = b.frame(fn)
	}

	log.Debugf("%d classes, %d selectors, widest instance has %d slots",
		len(m.Classes), len(m.Selectors), m.Width)
	return m, nil
}

type builder struct {
	m      *Model
	r      *diag.Reporter
	writes map[*syntax.Binding]int // number of non-class assignments to each variable
	owner  map[*syntax.Binding]*Class
}

// class creates the class of s, whose bases must already exist.
func (b *builder) class(s *syntax.ClassStmt) {
	m := b.m
	c := &Class{Name: s.Name.Name, Stmt: s, own: make(map[string]int)}
	if scope := resolve.ScopeOf(s); scope != nil && scope.Parent != nil && scope.Parent.Function != nil {
		c.Name = scope.Parent.Function.Name + ".<locals>." + c.Name
	}
	m.byStmt[s] = c
	s.Layout = c

	for _, x := range s.Bases {
		base := b.base(s, x)
		if base == nil {
			continue
		}
		for _, prev := range c.Bases {
			switch {
			case prev == base:
				b.r.Errorf(x, diag.ClassLayout, "duplicate base class %s", base.Name)
				base = nil
			case base.IsSubclassOf(prev):
				b.r.Errorf(x, diag.ClassLayout,
					"cannot create a consistent method resolution order (MRO) for bases %s, %s",
					prev.Name, base.Name)
				base = nil
			}
			if base == nil {
				break
			}
		}
		if base != nil {
			c.Bases = append(c.Bases, base)
		}
	}
	if len(c.Bases) == 0 {
		c.Bases = []*Class{m.builtin["object"]}
	}
	c.MRO = linearize(c, m.builtin["object"])

	for _, stmt := range s.Body {
		if def, ok := stmt.(*syntax.DefStmt); ok {
			c.Methods = append(c.Methods, def.Name.Name)
			m.addSelector(def.Name.Name)
		}
	}
	if b.owner == nil {
		b.owner = make(map[*syntax.Binding]*Class)
	}
	b.owner[s.Name.Binding] = c
	m.Classes = append(m.Classes, c)
}

// base returns the class denoted by the base class expression x of s,
// or reports an error. A base must be a builtin class that may be
// subclassed, or a variable bound only by an earlier class statement.
func (b *builder) base(s *syntax.ClassStmt, x syntax.Expr) *Class {
	if c, ok := x.(*syntax.ConvExpr); ok {
		x = c.X
	}
	id, ok := x.(*syntax.Ident)
	if !ok {
		b.r.Errorf(x, diag.ClassLayout, "base class of %s must be a class name", s.Name.Name)
		return nil
	}
	switch id.Binding.Scope {
	case syntax.UniversalScope:
		c := b.m.builtin[id.Name]
		if c == nil {
			b.r.Errorf(id, diag.ClassLayout, "%s is not a class", id.Name)
			return nil
		}
		if c != b.m.builtin["object"] && !c.IsSubclassOf(b.m.builtin["BaseException"]) {
			b.r.Errorf(id, diag.ClassLayout, "subclassing builtin type %s is not supported", id.Name)
			return nil
		}
		return c
	}
	c := b.owner[id.Binding]
	if c == nil {
		b.r.Errorf(id, diag.ClassLayout, "base class %s of %s is not a class defined earlier", id.Name, s.Name.Name)
		return nil
	}
	if b.writes[id.Binding] > 0 {
		b.r.Errorf(id, diag.ClassLayout, "base class %s is reassigned, so its layout is unknown", id.Name)
		return nil
	}
	return c
}

// linearize returns the method resolution order of c: c, then its
// ancestors depth first, left to right, where a class reached twice
// keeps only its last position so that it follows all of its
// subclasses; object, the root of every hierarchy, comes last.
func linearize(c, object *Class) []*Class {
	var order []*Class
	var visit func(x *Class)
	visit = func(x *Class) {
		if x == object {
			return
		}
		order = append(order, x)
		for _, base := range x.Bases {
			visit(base)
		}
	}
	for _, base := range c.Bases {
		visit(base)
	}
	seen := map[*Class]bool{c: true}
	var rev []*Class
	for i := len(order) - 1; i >= 0; i-- {
		if x := order[i]; !seen[x] {
			seen[x] = true
			rev = append(rev, x)
		}
	}
	mro := []*Class{c}
	for i := len(rev) - 1; i >= 0; i-- {
		mro = append(mro, rev[i])
	}
	if c != object {
		mro = append(mro, object)
	}
	return mro
}

// fields collects the attributes that the methods of c assign through
// their first parameter and that no ancestor already declares.
func (b *builder) fields(c *Class) {
	inherited := func(name string) bool {
		for _, x := range c.MRO[1:] {
			if _, ok := x.own[name]; ok {
				return true
			}
		}
		return false
	}
	for _, stmt := range c.Stmt.Body {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || len(def.Sig.Params) == 0 {
			continue
		}
		switch def.Kind {
		case syntax.MethodFunc, syntax.PropertyFunc:
		default:
			continue
		}
		self := def.Sig.Params[0].Binding
		syntax.Walk(def, func(n syntax.Node) bool {
			assign, ok := n.(*syntax.AssignStmt)
			if !ok {
				return true
			}
			dot, ok := assign.LHS.(*syntax.DotExpr)
			if !ok {
				return true
			}
			x := dot.X
			if conv, ok := x.(*syntax.ConvExpr); ok {
				x = conv.X
			}
			if id, ok := x.(*syntax.Ident); ok && refersTo(id.Binding, self) {
				name := dot.Name.Name
				if _, dup := c.own[name]; !dup && !inherited(name) {
					c.own[name] = -1
					c.Own = append(c.Own, name)
				}
			}
			return true
		})
	}
}

// refersTo reports whether b is v or captures it.
func refersTo(b, v *syntax.Binding) bool {
	for ; b != nil; b = b.Outer {
		if b == v {
			return true
		}
	}
	return false
}

// assignSlots chooses a slot for each own field of c. The slot must
// be free in the linearization of every class that inherits c; a field
// of the same name already placed in one of those classes by another
// ancestor shares its slot.
func (b *builder) assignSlots(c *Class) {
	if len(c.Own) == 0 {
		return
	}
	used := make(map[int]string)
	for _, d := range b.m.Classes {
		if !d.IsSubclassOf(c) {
			continue
		}
		for _, x := range d.MRO {
			if x == c {
				continue
			}
			for name, k := range x.own {
				if k >= 0 {
					used[k] = name
				}
			}
		}
	}
	for _, name := range c.Own {
		slot := -1
		for k, f := range used {
			if f == name && (slot < 0 || k < slot) {
				slot = k
			}
		}
		if slot < 0 {
			for slot = 0; used[slot] != ""; slot++ {
			}
		}
		used[slot] = name
		c.own[name] = slot
	}
}

// layout returns the slot table of an instance of c.
func layout(c *Class) []string {
	var slots []string
	for _, x := range c.MRO {
		for name, k := range x.own {
			for len(slots) <= k {
				slots = append(slots, "")
			}
			if slots[k] != "" && slots[k] != name {
				diag.Invariant(c.Stmt, "fields %s and %s of %s share slot %d", slots[k], name, c.Name, k)
			}
			slots[k] = name
		}
	}
	return slots
}

// frame computes the storage layout of fn.
func (b *builder) frame(fn *syntax.Function) *Frame {
	scope := fn.Scope.(*resolve.Scope)
	fr := &Frame{Fn: fn, Scope: scope, Free: scope.FreeVars}
	params := append([]*syntax.Ident(nil), fn.Sig.Params...)
	if fn.Sig.Varargs != nil {
		params = append(params, fn.Sig.Varargs)
	}
	if fn.Sig.Kwargs != nil {
		params = append(params, fn.Sig.Kwargs)
	}
	for _, p := range params {
		fr.Params = append(fr.Params, p.Binding)
	}
	for _, l := range scope.Locals {
		if l.Scope == syntax.CellScope {
			fr.Cells = append(fr.Cells, l)
		}
	}
	if scope.Generator {
		fr.Record = scope.Locals
	}
	if parent := scope.Parent; parent != nil && parent.Kind == resolve.ClassScope {
		fr.Class = b.m.byStmt[parent.Class]
	}
	return fr
}

// writes counts, for each variable, the assignments to it other than
// by a class statement.
func writes(f *syntax.File) map[*syntax.Binding]int {
	w := make(map[*syntax.Binding]int)
	count := func(x syntax.Expr) {
		if id, ok := x.(*syntax.Ident); ok && id.Binding != nil {
			w[id.Binding]++
		}
	}
	syntax.Walk(f, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.AssignStmt:
			count(n.LHS)
		case *syntax.AssignExpr:
			count(n.Name)
		case *syntax.BindExpr:
			count(n.Name)
		case *syntax.ForStmt:
			count(n.Vars)
		case *syntax.DefStmt:
			count(n.Name)
		case *syntax.ImportStmt:
			for _, id := range n.To {
				count(id)
			}
		case *syntax.DelStmt:
			for _, x := range n.Targets {
				count(x)
			}
		}
		return true
	})
	return w
}

// Fields returns the names of every field of every class, sorted.
func (m *Model) Fields() []string {
	set := make(map[string]bool)
	for _, c := range append(m.Builtins, m.Classes...) {
		for _, f := range c.Slots {
			if f != "" {
				set[f] = true
			}
		}
	}
	var names []string
	for f := range set {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line summary of c's layout, for debugging
// and tests: its linearization and its slot table.
func (c *Class) Describe() string {
	var mro []string
	for _, x := range c.MRO {
		mro = append(mro, x.Name)
	}
	slots := make([]string, len(c.Slots))
	for k, f := range c.Slots {
		if f == "" {
			f = "_"
		}
		slots[k] = f
	}
	return c.Name + "(" + strings.Join(mro[1:], " ") + ") [" + strings.Join(slots, " ") + "]"
}
