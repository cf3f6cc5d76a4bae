// Package support links the runtime library into compiled modules.
//
// The runtime is written as WebAssembly text in runtime/*.wat and
// embedded in the compiler. A runtime function writes a string
// constant as (str "..."); Load replaces each with a reference to a
// pooled global. Link adds to a module the runtime forms its code
// reaches, together with the forms that depend on the program:
// instance types and allocators, method selectors, slot accessors, the
// builtin classes and the startup routine that creates them.
package support

import (
	"embed"
	"fmt"
	"hash/fnv"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tliron/commonlog"

	"go.p2w.dev/internal/hostabi"
	"go.p2w.dev/internal/object"
	"go.p2w.dev/internal/wat"
)

var log = commonlog.GetLogger("p2w.support")

//go:embed runtime/*.wat
var runtimeFS embed.FS

// InitFunc is the runtime routine that the entry point calls before
// any compiled code runs.
const InitFunc = "$rt_init"

// A Library is the parsed runtime.
type Library struct {
	env   *wat.Module         // every form, for signatures
	fixed []wat.Form          // types, tags and memory, always linked
	forms map[string]wat.Form // functions and globals by name
	strs  map[string]string   // pooled strings of the runtime text
	files int
}

var (
	loadOnce sync.Once
	library  *Library
	loadErr  error
)

// Load returns the runtime library, parsing it on first use.
func Load() (*Library, error) {
	loadOnce.Do(func() { library, loadErr = load() })
	return library, loadErr
}

func load() (*Library, error) {
	names, err := fs.Glob(runtimeFS, "runtime/*.wat")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	l := &Library{
		env:   wat.NewModule(""),
		forms: make(map[string]wat.Form),
		strs:  make(map[string]string),
		files: len(names),
	}
	for _, f := range hostabi.Forms() {
		if err := l.env.Add(f); err != nil {
			return nil, fmt.Errorf("host import: %w", err)
		}
	}
	for _, name := range names {
		data, err := runtimeFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		src, err := l.expand(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		forms, err := wat.Split(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, f := range forms {
			if err := l.env.Add(f.Text); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", name, f.Line, err)
			}
			switch f.Kind {
			case "type", "tag", "memory":
				l.fixed = append(l.fixed, f)
			case "func", "global":
				if f.Name == "" {
					return nil, fmt.Errorf("%s:%d: anonymous %s", name, f.Line, f.Kind)
				}
				l.forms[f.Name] = f
			default:
				return nil, fmt.Errorf("%s:%d: unexpected %s form", name, f.Line, f.Kind)
			}
		}
	}
	log.Debugf("runtime: %d files, %d forms, %d strings", l.files, len(l.forms)+len(l.fixed), len(l.strs))
	return l, nil
}

var strMacro = regexp.MustCompile(`\(str ("(?:[^"\\]|\\.)*")\)`)

// expand replaces each (str "...") in src by a read of the string's
// pooled global.
func (l *Library) expand(src string) (string, error) {
	var b strings.Builder
	last := 0
	for _, loc := range strMacro.FindAllStringSubmatchIndex(src, -1) {
		s, err := wat.Unquote(src[loc[2]:loc[3]])
		if err != nil {
			return "", err
		}
		if len(s) > maxInline {
			return "", fmt.Errorf("string constant of %d bytes is too long for the runtime", len(s))
		}
		name := StrGlobal(s)
		l.strs[name] = s
		b.WriteString(src[last:loc[0]])
		b.WriteString("(global.get " + name + ")")
		last = loc[1]
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

// FuncSig, TypeSig, Fields and TagSig make the library a wat.Env for
// code that calls into the runtime. InitFunc is generated by Link, but
// its signature is fixed: it takes and returns nothing.
func (l *Library) FuncSig(id string) (wat.Sig, bool) {
	if id == InitFunc {
		return wat.Sig{}, true
	}
	return l.env.FuncSig(id)
}

func (l *Library) TypeSig(id string) (wat.Sig, bool) { return l.env.TypeSig(id) }
func (l *Library) Fields(id string) (int, bool)      { return l.env.Fields(id) }
func (l *Library) TagSig(id string) (wat.Sig, bool)  { return l.env.TagSig(id) }

// Has reports whether the runtime defines the function or global id.
func (l *Library) Has(id string) bool {
	_, ok := l.forms[id]
	return ok
}

// Functions returns the names of the builtin functions: those
// implemented by a runtime function $bf:NAME that is not the
// constructor of a builtin class.
func (l *Library) Functions() []string {
	var names []string
	for id := range l.forms {
		if name := strings.TrimPrefix(id, "$bf:"); name != id && !isBuiltinClass(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func isBuiltinClass(name string) bool {
	for _, c := range object.BuiltinNames() {
		if c == name {
			return true
		}
	}
	return false
}

// FuncGlobal returns the global that holds the builtin function name.
func FuncGlobal(name string) string { return "$builtin." + wat.ID(name) }

// ClassGlobal returns the global that holds the builtin class name.
func ClassGlobal(name string) string { return "$cls:" + wat.ID(name) }

// SelGlobal returns the global that holds the selector of a method name.
func SelGlobal(name string) string { return "$sel:" + wat.ID(name) }

// AllocFunc returns the allocator of instances of c, a class of m.
// Builtin classes other than object and BaseException inherit the
// allocator of their base.
func AllocFunc(m *object.Model, c *object.Class) string {
	if c.Builtin {
		return "$alloc:" + wat.ID(c.Name)
	}
	for i, x := range m.Classes {
		if x == c {
			return "$alloc#" + strconv.Itoa(i)
		}
	}
	panic("AllocFunc: class not in model: " + c.Name)
}

// ObjType returns the instance type with k slots.
func ObjType(k int) string {
	if k == 0 {
		return "$Object"
	}
	return "$Obj" + strconv.Itoa(k)
}

// ---- string pool ----

// Strings longer than maxInline bytes are copied from a passive data
// segment at startup instead of being written as constant arrays.
const maxInline = 4096

// StrGlobal returns the name of the global that holds s.
func StrGlobal(s string) string {
	if s == "" {
		return "$s:"
	}
	if len(s) <= 24 {
		return "$s:" + wat.ID(s)
	}
	h := fnv.New64a()
	h.Write([]byte(s))
	return fmt.Sprintf("$s:%s#%016x", wat.ID(s[:16]), h.Sum64())
}

// A Pool collects the string constants of one module.
type Pool struct {
	strs map[string]string // global name -> contents
}

// NewPool returns an empty pool.
func NewPool() *Pool { return &Pool{strs: make(map[string]string)} }

// Ref adds s to the pool and returns the name of its global. The
// global of a long string is nullable; Load handles that.
func (p *Pool) Ref(s string) string {
	name := StrGlobal(s)
	if prev, ok := p.strs[name]; ok && prev != s {
		panic(fmt.Sprintf("string pool: %s names both %q and %q", name, prev, s))
	}
	p.strs[name] = s
	return name
}

// Load emits the instructions that push s as a (ref $Str).
func (p *Pool) Load(f *wat.Func, s string) {
	f.Op("global.get", p.Ref(s))
	if len(s) > maxInline {
		f.Op("ref.as_non_null")
	}
}

// Len returns the number of distinct strings in the pool.
func (p *Pool) Len() int { return len(p.strs) }

func strInit(s string) string {
	return fmt.Sprintf("(i32.const %d) (i32.const 0)", utf8.RuneCountInString(s))
}

// strForms returns the forms that define the global name holding s.
func strForms(name, s string) []string {
	if len(s) > maxInline {
		return []string{
			fmt.Sprintf("(global %s (mut (ref null $Str)) (ref.null $Str))", name),
			fmt.Sprintf("(data %s %s)", dataName(name), wat.Quote(s)),
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(global %s (ref $Str) (struct.new $Str (array.new_fixed $Bytes8 %d", name, len(s))
	for i := 0; i < len(s); i++ {
		fmt.Fprintf(&b, " (i32.const %d)", s[i])
	}
	fmt.Fprintf(&b, ") %s))", strInit(s))
	return []string{b.String()}
}

func dataName(name string) string { return "$d:" + strings.TrimPrefix(name, "$s:") }

// ---- linking ----

type linker struct {
	lib    *Library
	m      *wat.Module
	model  *object.Model
	pool   *Pool
	sels   map[string]int           // selector globals
	allocs map[string]*object.Class // allocator functions
	insts  map[*object.Class]string // instance types
	long   []string                 // long string globals, in order of definition
	queue  []string
}

// Link adds to m the runtime forms reachable from the identifiers in
// uses, the forms generated for model, and the strings of p.
func (l *Library) Link(m *wat.Module, model *object.Model, p *Pool, uses []string) error {
	k := &linker{
		lib:    l,
		m:      m,
		model:  model,
		pool:   p,
		sels:   make(map[string]int),
		allocs: make(map[string]*object.Class),
		insts:  make(map[*object.Class]string),
	}
	for i, name := range model.Selectors {
		k.sels[SelGlobal(name)] = i
	}
	for _, name := range []string{"object", "BaseException"} {
		c := model.Builtin(name)
		k.allocs[AllocFunc(model, c)] = c
		k.insts[c] = "$inst:" + name
	}
	for i, c := range model.Classes {
		k.allocs[AllocFunc(model, c)] = c
		k.insts[c] = "$inst#" + strconv.Itoa(i)
	}

	for _, f := range hostabi.Forms() {
		if err := m.Add(f); err != nil {
			return err
		}
	}
	for _, f := range l.fixed {
		if err := m.Add(f.Text); err != nil {
			return err
		}
	}
	for _, t := range k.types() {
		if err := m.Add(t); err != nil {
			return err
		}
	}

	k.queue = append(append(k.queue, uses...), "$event_callback")
	if err := k.close(); err != nil {
		return err
	}
	if err := k.add(k.initFunc()); err != nil {
		return err
	}
	before := len(k.long)
	if err := k.close(); err != nil {
		return err
	}
	if len(k.long) != before {
		return fmt.Errorf("startup code refers to a long string constant")
	}
	log.Debugf("linked: %s", m.Stats())
	return nil
}

// add adds a generated form and queues the identifiers it mentions.
func (k *linker) add(text string) error {
	if err := k.m.Add(text); err != nil {
		return err
	}
	k.queue = append(k.queue, wat.Refs(text)...)
	return nil
}

// close adds the definition of every queued identifier that the module
// lacks, transitively. Identifiers that name no form (locals, labels,
// fields) are skipped.
func (k *linker) close() error {
	for len(k.queue) > 0 {
		id := k.queue[len(k.queue)-1]
		k.queue = k.queue[:len(k.queue)-1]
		if k.m.Has(id) {
			continue
		}
		forms, err := k.define(id)
		if err != nil {
			return err
		}
		for _, f := range forms {
			if err := k.add(f); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
		}
	}
	return nil
}

// define returns the forms that define id, or none.
func (k *linker) define(id string) ([]string, error) {
	if f, ok := k.lib.forms[id]; ok {
		return []string{f.Text}, nil
	}
	switch {
	case strings.HasPrefix(id, "$s:"):
		s, ok := k.pool.strs[id]
		if !ok {
			s, ok = k.lib.strs[id]
		}
		if !ok {
			return nil, nil
		}
		if len(s) > maxInline {
			k.long = append(k.long, id)
		}
		return strForms(id, s), nil
	case strings.HasPrefix(id, "$sel:"):
		i, ok := k.sels[id]
		if !ok {
			return nil, fmt.Errorf("runtime refers to %s, which is not a method name", id)
		}
		return []string{fmt.Sprintf("(global %s i32 (i32.const %d))", id, i)}, nil
	case id == "$selnames":
		var b strings.Builder
		fmt.Fprintf(&b, "(global $selnames (ref $Values) (array.new_fixed $Values %d", len(k.model.Selectors))
		for _, name := range k.model.Selectors {
			fmt.Fprintf(&b, " (global.get %s)", k.pool.Ref(name))
		}
		b.WriteString("))")
		return []string{b.String()}, nil
	case id == "$slot_load", id == "$slot_store":
		return []string{k.slotFunc(id == "$slot_store")}, nil
	case strings.HasPrefix(id, "$alloc"):
		c, ok := k.allocs[id]
		if !ok {
			return nil, nil
		}
		return []string{k.allocFunc(id, c)}, nil
	case strings.HasPrefix(id, "$builtin."):
		name := strings.TrimPrefix(id, "$builtin.")
		code := "$bf:" + name
		if _, ok := k.lib.forms[code]; !ok {
			return nil, fmt.Errorf("no builtin function %s", name)
		}
		return []string{fmt.Sprintf(
			"(global %s (ref $Closure) (struct.new $Closure (ref.func %s) (ref.null $Values) (ref.null $Values) (global.get %s)))",
			id, code, k.pool.Ref(name))}, nil
	case strings.HasPrefix(id, "$cls:"):
		if k.model.Builtin(strings.TrimPrefix(id, "$cls:")) == nil {
			return nil, fmt.Errorf("no builtin class %s", id)
		}
		return []string{fmt.Sprintf("(global %s (mut (ref null $Class)) (ref.null $Class))", id)}, nil
	}
	return nil, nil
}

func objFields(width int) string {
	var b strings.Builder
	b.WriteString("(field $cls (ref $Class)) (field $dict (mut (ref null $Dict))) (field $id (mut i32))")
	for i := 0; i < width; i++ {
		fmt.Fprintf(&b, " (field $f%d (mut eqref))", i)
	}
	return b.String()
}

// types returns the instance width chain and the final instance type
// of each class that has an allocator.
func (k *linker) types() []string {
	var forms []string
	for w := 1; w <= k.model.Width; w++ {
		forms = append(forms, fmt.Sprintf("(type %s (sub %s (struct %s)))", ObjType(w), ObjType(w-1), objFields(w)))
	}
	classes := append([]*object.Class{k.model.Builtin("object"), k.model.Builtin("BaseException")}, k.model.Classes...)
	for _, c := range classes {
		forms = append(forms, fmt.Sprintf("(type %s (sub final %s (struct %s)))", k.insts[c], ObjType(c.Width()), objFields(c.Width())))
	}
	return forms
}

// allocFunc returns an allocator: a function of type $Alloc that
// creates an instance of its class argument with every slot unbound.
func (k *linker) allocFunc(id string, c *object.Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(func %s (type $Alloc) (param $c (ref $Class)) (result (ref $Object))\n", id)
	fmt.Fprintf(&b, "  (struct.new %s (local.get $c) (ref.null $Dict) (i32.const 0)", k.insts[c])
	for i := 0; i < c.Width(); i++ {
		b.WriteString(" (global.get $UNBOUND)")
	}
	b.WriteString("))")
	return b.String()
}

// slotFunc returns $slot_load or $slot_store, which access slot k of
// an instance by dispatching on k to a cast to the narrowest instance
// type that has the slot.
func (k *linker) slotFunc(store bool) string {
	w := k.model.Width
	var b strings.Builder
	if store {
		b.WriteString("(func $slot_store (param $o eqref) (param $k i32) (param $v eqref)\n")
	} else {
		b.WriteString("(func $slot_load (param $o eqref) (param $k i32) (result eqref)\n")
	}
	b.WriteString("  (block $bad\n")
	for i := w - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%s(block $s%d\n", strings.Repeat("  ", w-i+1), i)
	}
	b.WriteString(strings.Repeat("  ", w+2) + "(br_table")
	for i := 0; i < w; i++ {
		fmt.Fprintf(&b, " $s%d", i)
	}
	b.WriteString(" $bad (local.get $k)))\n")
	for i := 0; i < w; i++ {
		typ := ObjType(i + 1)
		indent := strings.Repeat("  ", w-i+1)
		if store {
			fmt.Fprintf(&b, "%s(struct.set %s $f%d (ref.cast (ref %s) (local.get $o)) (local.get $v))\n", indent, typ, i, typ)
			fmt.Fprintf(&b, "%s(return))\n", indent)
		} else {
			fmt.Fprintf(&b, "%s(return (struct.get %s $f%d (ref.cast (ref %s) (local.get $o)))))\n", indent, typ, i, typ)
		}
	}
	b.WriteString("  (unreachable))")
	return b.String()
}

// initFunc returns $rt_init, which fills the long string globals and
// creates the builtin classes, bases first.
func (k *linker) initFunc() string {
	var b strings.Builder
	b.WriteString("(func $rt_init\n  (local $d (ref null $Dict))\n")
	for _, id := range k.long {
		s := k.pool.strs[id]
		fmt.Fprintf(&b, "  (global.set %s (struct.new $Str (array.new_data $Bytes8 %s (i32.const 0) (i32.const %d)) %s))\n",
			id, dataName(id), len(s), strInit(s))
	}
	exc := k.model.Builtin("BaseException")
	for _, c := range k.model.Builtins {
		cls := ClassGlobal(c.Name)
		b.WriteString("  (local.set $d (call $dict_new))\n")
		for _, m := range c.Methods {
			fmt.Fprintf(&b, "  (call $table_insert (local.get $d) (global.get %s)\n", k.pool.Ref(m))
			fmt.Fprintf(&b, "    (struct.new $Closure (ref.func $bm:%s.%s) (ref.null $Values) (ref.null $Values) (global.get %s)))\n",
				wat.ID(c.Name), wat.ID(m), k.pool.Ref(c.Name+"."+m))
		}
		fmt.Fprintf(&b, "  (global.set %s (call $class_new (global.get %s)\n", cls, k.pool.Ref(c.Name))
		fmt.Fprintf(&b, "    (array.new_fixed $Values %d", len(c.Bases))
		for _, base := range c.Bases {
			fmt.Fprintf(&b, " (global.get %s)", ClassGlobal(base.Name))
		}
		b.WriteString(")\n    (local.get $d)\n")
		fmt.Fprintf(&b, "    (array.new_fixed $Values %d", c.Width())
		for _, f := range c.Slots {
			if f == "" {
				b.WriteString(" (ref.null none)")
			} else {
				fmt.Fprintf(&b, " (global.get %s)", k.pool.Ref(f))
			}
		}
		b.WriteString(")\n")
		if _, ok := k.allocs[AllocFunc(k.model, c)]; ok {
			fmt.Fprintf(&b, "    (ref.func %s)))\n", AllocFunc(k.model, c))
		} else {
			b.WriteString("    (ref.null $Alloc)))\n")
		}
		flags := 1
		if c.IsSubclassOf(exc) {
			flags |= 2
		}
		fmt.Fprintf(&b, "  (struct.set $Class $flags (global.get %s) (i32.const %d))\n", cls, flags)
		if _, ok := k.lib.forms["$bf:"+c.Name]; ok {
			fmt.Fprintf(&b, "  (struct.set $Class $ctor (global.get %s) (global.get %s))\n", cls, FuncGlobal(c.Name))
		}
	}
	b.WriteString(")")
	return b.String()
}
