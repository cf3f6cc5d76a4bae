// Package wat builds WebAssembly text modules for the GC proposal.
//
// A Module accumulates type, import, global, tag, function and export
// declarations in strict append order and is finalized exactly once
// into module text. Function bodies are written through a Func, which
// tracks the operand stack height of every instruction it emits and
// panics with a *StackError if a sequence is unbalanced.
//
// Every type is declared in a single recursive group, so types may
// refer to each other in any order. Globals are emitted in an order
// in which each initializer refers only to globals before it.
package wat

import (
	"fmt"
	"sort"
	"strings"
)

// A Sig is the signature of a function or function type.
type Sig struct {
	Params  []string
	Results []string
}

func (s Sig) String() string {
	var b strings.Builder
	for _, p := range s.Params {
		b.WriteString(" (param ")
		b.WriteString(p)
		b.WriteString(")")
	}
	for _, r := range s.Results {
		b.WriteString(" (result ")
		b.WriteString(r)
		b.WriteString(")")
	}
	return strings.TrimPrefix(b.String(), " ")
}

// A Module is a module under construction.
type Module struct {
	Name string

	types   []string
	imports []string
	memory  []string
	tags    []string
	globals []global
	data    []string
	funcs   []string
	exports []string
	starts  string

	defined map[string]string // $id -> kind of the form that defines it
	sigs    map[string]Sig    // functions, imported functions and func types
	fields  map[string]int    // struct types -> number of fields
	tagSigs map[string]Sig
	refs    map[string]bool // functions named by ref.func
	done    bool
}

type global struct {
	name string
	text string
}

// NewModule returns an empty module with the given $name (without the
// leading '$'), which may be empty.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		defined: make(map[string]string),
		sigs:    make(map[string]Sig),
		fields:  make(map[string]int),
		tagSigs: make(map[string]Sig),
		refs:    make(map[string]bool),
	}
}

// Has reports whether a form defining id has been added.
func (m *Module) Has(id string) bool {
	_, ok := m.defined[id]
	return ok
}

// FuncSig returns the signature of a function or imported function.
func (m *Module) FuncSig(id string) (Sig, bool) {
	if m.defined[id] != "func" && m.defined[id] != "import" {
		return Sig{}, false
	}
	s, ok := m.sigs[id]
	return s, ok
}

// TypeSig returns the signature of a function type.
func (m *Module) TypeSig(id string) (Sig, bool) {
	if m.defined[id] != "type" {
		return Sig{}, false
	}
	s, ok := m.sigs[id]
	return s, ok
}

// Fields returns the number of fields of a struct type.
func (m *Module) Fields(id string) (int, bool) {
	n, ok := m.fields[id]
	return n, ok
}

// TagSig returns the parameter types of a tag.
func (m *Module) TagSig(id string) (Sig, bool) {
	s, ok := m.tagSigs[id]
	return s, ok
}

func (m *Module) define(kind, id string) error {
	if m.done {
		return fmt.Errorf("module already finalized")
	}
	if id == "" {
		return nil
	}
	if prev, ok := m.defined[id]; ok {
		return fmt.Errorf("%s %s already defined by a %s form", kind, id, prev)
	}
	m.defined[id] = kind
	return nil
}

// Add adds a complete top-level form: type, import, global, tag,
// memory, data, elem, func or export.
func (m *Module) Add(text string) error {
	n, err := Parse(text)
	if err != nil {
		return err
	}
	kind := n.Head()
	name := ""
	if len(n.List) > 1 && strings.HasPrefix(n.List[1].Atom, "$") {
		name = n.List[1].Atom
	}
	switch kind {
	case "type":
		if err := m.define(kind, name); err != nil {
			return err
		}
		m.typeInfo(name, n)
		m.types = append(m.types, text)
	case "import":
		// (import "mod" "field" (func $id (param ..) (result ..)))
		if len(n.List) < 4 || !n.List[3].IsList() {
			return fmt.Errorf("malformed import: %s", n.Text())
		}
		desc := n.List[3]
		id := ""
		if len(desc.List) > 1 && strings.HasPrefix(desc.List[1].Atom, "$") {
			id = desc.List[1].Atom
		}
		if err := m.define(kind, id); err != nil {
			return err
		}
		if desc.Head() == "func" {
			m.sigs[id] = sigOf(desc.List[1:])
		}
		m.imports = append(m.imports, text)
	case "global":
		if err := m.define(kind, name); err != nil {
			return err
		}
		m.globals = append(m.globals, global{name, text})
	case "tag":
		if err := m.define(kind, name); err != nil {
			return err
		}
		m.tagSigs[name] = sigOf(n.List[2:])
		m.tags = append(m.tags, text)
	case "memory":
		if err := m.define(kind, name); err != nil {
			return err
		}
		m.memory = append(m.memory, text)
	case "data", "elem":
		if err := m.define(kind, name); err != nil {
			return err
		}
		m.data = append(m.data, text)
	case "func":
		if err := m.define(kind, name); err != nil {
			return err
		}
		m.sigs[name] = sigOf(n.List[2:])
		for _, id := range funcRefs(text) {
			m.refs[id] = true
		}
		m.funcs = append(m.funcs, text)
	case "export":
		if m.done {
			return fmt.Errorf("module already finalized")
		}
		m.exports = append(m.exports, text)
	case "start":
		if m.done {
			return fmt.Errorf("module already finalized")
		}
		m.starts = text
	default:
		return fmt.Errorf("unknown form %q", kind)
	}
	return nil
}

// MustAdd is like Add but panics on error.
func (m *Module) MustAdd(text string) {
	if err := m.Add(text); err != nil {
		panic(err)
	}
}

// Export exports the function, global, memory or tag id under name.
func (m *Module) Export(name, kind, id string) {
	m.MustAdd(fmt.Sprintf("(export %s (%s %s))", Quote(name), kind, id))
}

// typeInfo records the shape of a type definition.
func (m *Module) typeInfo(name string, n *Node) {
	// (type $T (sub final? $Super? (struct ...)))  or (type $T (struct ...))
	for _, c := range n.List[2:] {
		for c.Head() == "sub" {
			c = c.List[len(c.List)-1]
		}
		switch c.Head() {
		case "struct":
			count := 0
			for _, f := range c.List[1:] {
				if f.Head() != "field" {
					continue
				}
				elems := f.List[1:]
				if len(elems) > 0 && strings.HasPrefix(elems[0].Atom, "$") {
					count++ // a named field declares one type
					continue
				}
				count += len(elems)
			}
			m.fields[name] = count
		case "func":
			m.sigs[name] = sigOf(c.List[1:])
		}
	}
}

// sigOf reads the (param ...) and (result ...) clauses that follow a
// function's name, stopping at the first instruction.
func sigOf(list []*Node) Sig {
	var s Sig
	for _, c := range list {
		switch c.Head() {
		case "param":
			elems := c.List[1:]
			if len(elems) > 0 && strings.HasPrefix(elems[0].Atom, "$") {
				s.Params = append(s.Params, elems[1].Text())
				continue
			}
			for _, e := range elems {
				s.Params = append(s.Params, e.Text())
			}
		case "result":
			for _, e := range c.List[1:] {
				s.Results = append(s.Results, e.Text())
			}
		case "export", "type", "import":
		default:
			if !c.IsList() && strings.HasPrefix(c.Atom, "$") {
				continue
			}
			return s
		}
	}
	return s
}

// funcRefs returns the functions a form names with ref.func.
func funcRefs(text string) []string {
	var ids []string
	toks := tokenize(text, -1)
	for i, t := range toks {
		if t == "ref.func" && i+1 < len(toks) {
			ids = append(ids, toks[i+1])
		}
	}
	return ids
}

// Finalize returns the text of the module. It may be called only once;
// no forms may be added afterwards.
func (m *Module) Finalize() (string, error) {
	if m.done {
		return "", fmt.Errorf("module already finalized")
	}
	m.done = true

	globals, err := m.orderGlobals()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if m.Name != "" {
		fmt.Fprintf(&b, "(module $%s\n", m.Name)
	} else {
		b.WriteString("(module\n")
	}
	if len(m.types) > 0 {
		b.WriteString("  (rec\n")
		for _, t := range m.types {
			writeIndented(&b, t, "    ")
		}
		b.WriteString("  )\n")
	}
	for _, section := range [][]string{m.imports, m.memory, m.tags, globals} {
		for _, f := range section {
			writeIndented(&b, f, "  ")
		}
	}
	for _, f := range m.data {
		writeIndented(&b, f, "  ")
	}
	// Global initializers also take ref.func.
	for _, g := range m.globals {
		for _, id := range funcRefs(g.text) {
			m.refs[id] = true
		}
	}
	if len(m.refs) > 0 {
		ids := make([]string, 0, len(m.refs))
		for id := range m.refs {
			if m.defined[id] != "func" && m.defined[id] != "import" {
				return "", fmt.Errorf("ref.func of undefined function %s", id)
			}
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintf(&b, "  (elem declare func %s)\n", strings.Join(ids, " "))
	}
	for _, f := range m.funcs {
		writeIndented(&b, f, "  ")
	}
	if m.starts != "" {
		writeIndented(&b, m.starts, "  ")
	}
	for _, e := range m.exports {
		writeIndented(&b, e, "  ")
	}
	b.WriteString(")\n")
	return b.String(), nil
}

// orderGlobals sorts the globals so that every initializer refers only
// to earlier globals, keeping the insertion order where it is free.
func (m *Module) orderGlobals() ([]string, error) {
	index := make(map[string]int, len(m.globals))
	for i, g := range m.globals {
		index[g.name] = i
	}
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make([]int, len(m.globals))
	var out []string
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return fmt.Errorf("global %s refers to itself", m.globals[i].name)
		case visited:
			return nil
		}
		state[i] = visiting
		for _, id := range Refs(m.globals[i].text) {
			if j, ok := index[id]; ok && j != i {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		state[i] = visited
		out = append(out, m.globals[i].text)
		return nil
	}
	for i := range m.globals {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeIndented(b *strings.Builder, text, indent string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(indent)
		b.WriteString(line)
		b.WriteString("\n")
	}
}

// Stats reports the number of forms of each kind, for logging.
func (m *Module) Stats() string {
	return fmt.Sprintf("%d types, %d imports, %d globals, %d functions, %d exports",
		len(m.types), len(m.imports), len(m.globals), len(m.funcs), len(m.exports))
}
