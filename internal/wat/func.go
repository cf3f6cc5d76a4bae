package wat

import (
	"fmt"
	"strconv"
	"strings"
)

// An Env supplies the signatures that stack checking needs: those of
// the module under construction and of any library it will be linked
// with.
type Env interface {
	FuncSig(id string) (Sig, bool)
	TypeSig(id string) (Sig, bool)
	Fields(id string) (int, bool)
	TagSig(id string) (Sig, bool)
}

// A Local is a parameter or local variable.
type Local struct {
	Name string // including the leading '$'
	Type string
}

// A StackError reports an instruction sequence whose operand stack
// effect is unbalanced.
type StackError struct {
	Func string
	Op   string
	Msg  string
}

func (e *StackError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Func, e.Op, e.Msg)
}

// A Func is a function body under construction. Instructions are
// written in the flat (non-folded) text syntax.
type Func struct {
	Name    string
	// Type, if set, is the function type the function declares with a
	// type use. Functions stored as typed references must name their
	// type, since an inline signature denotes a type of its own.
	Type    string
	env     Env
	params  []Local
	results []string
	locals  []Local
	names   map[string]bool
	lines   []string
	frames  []*frame
}

type frame struct {
	op      string // func, block, loop, if, try
	label   string
	results int
	height  int  // operand stack height at entry
	stack   int  // current height
	dead    bool // the rest of the block is unreachable
	els     bool // an if that has seen its else
	catch   bool // a try that has seen a catch
}

// NewFunc starts a function with the given parameters and results.
func NewFunc(env Env, name string, params []Local, results ...string) *Func {
	f := &Func{
		Name:    name,
		env:     env,
		params:  params,
		results: results,
		names:   make(map[string]bool),
	}
	for _, p := range params {
		f.names[p.Name] = true
	}
	f.frames = []*frame{{op: "func", results: len(results)}}
	return f
}

func (f *Func) fail(op, format string, args ...interface{}) {
	panic(&StackError{Func: f.Name, Op: op, Msg: fmt.Sprintf(format, args...)})
}

func (f *Func) top() *frame { return f.frames[len(f.frames)-1] }

// Params returns the parameters of f.
func (f *Func) Params() []Local { return f.params }

// Local declares a new local variable of type typ and returns its
// name, derived from hint and unique within f.
func (f *Func) Local(hint, typ string) string {
	base := "$" + ID(hint)
	name := base
	for i := 1; f.names[name]; i++ {
		name = base + "." + strconv.Itoa(i)
	}
	f.names[name] = true
	f.locals = append(f.locals, Local{name, typ})
	return name
}

// Height returns the operand stack height of the innermost block.
func (f *Func) Height() int {
	fr := f.top()
	return fr.stack - fr.height
}

// Dead reports whether the current point is unreachable.
func (f *Func) Dead() bool { return f.top().dead }

// Comment writes a line comment.
func (f *Func) Comment(format string, args ...interface{}) {
	f.write(";; " + strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", " "))
}

func (f *Func) write(s string) {
	f.lines = append(f.lines, strings.Repeat("  ", len(f.frames))+s)
}

func (f *Func) pop(op string, n int) {
	fr := f.top()
	if fr.dead {
		fr.stack -= n
		if fr.stack < fr.height {
			fr.stack = fr.height
		}
		return
	}
	if fr.stack-n < fr.height {
		f.fail(op, "pops %d operands, but the block has %d", n, fr.stack-fr.height)
	}
	fr.stack -= n
}

func (f *Func) push(n int) { f.top().stack += n }

func (f *Func) kill() {
	fr := f.top()
	fr.dead = true
	fr.stack = fr.height
}

// Op emits an instruction with immediates and applies its stack effect.
func (f *Func) Op(op string, imm ...string) {
	switch op {
	case "block", "loop", "if", "else", "end", "try", "catch", "catch_all":
		f.fail(op, "structured instruction written with Op")
	}
	line := op
	if len(imm) > 0 {
		line += " " + strings.Join(imm, " ")
	}
	f.write(line)

	switch op {
	case "br":
		f.pop(op, f.arity(op, imm))
		f.kill()
		return
	case "br_if":
		f.pop(op, 1)
		f.pop(op, f.arity(op, imm))
		f.push(f.arity(op, imm))
		return
	case "br_table":
		f.pop(op, 1)
		f.pop(op, f.arity(op, imm[len(imm)-1:]))
		f.kill()
		return
	case "return":
		f.pop(op, len(f.results))
		f.kill()
		return
	case "unreachable":
		f.kill()
		return
	case "throw":
		sig := f.tag(op, imm)
		f.pop(op, len(sig.Params))
		f.kill()
		return
	case "rethrow":
		f.kill()
		return
	case "return_call":
		sig := f.funcSig(op, imm)
		f.pop(op, len(sig.Params))
		f.kill()
		return
	case "return_call_ref":
		sig := f.typeSig(op, imm)
		f.pop(op, len(sig.Params)+1)
		f.kill()
		return
	}
	pop, push := f.effect(op, imm)
	f.pop(op, pop)
	f.push(push)
}

// effect returns the number of operands op pops and pushes.
func (f *Func) effect(op string, imm []string) (int, int) {
	switch op {
	case "nop":
		return 0, 0
	case "drop":
		return 1, 0
	case "select":
		return 3, 1
	case "local.get", "global.get", "ref.null", "ref.func", "memory.size", "struct.new_default":
		return 0, 1
	case "local.set", "global.set":
		return 1, 0
	case "local.tee", "ref.is_null", "ref.as_non_null", "ref.test", "ref.cast", "ref.i31",
		"i31.get_s", "i31.get_u", "any.convert_extern", "extern.convert_any",
		"struct.get", "struct.get_s", "struct.get_u", "array.len", "array.new_default",
		"memory.grow", "br_on_null", "br_on_cast", "br_on_cast_fail":
		return 1, 1
	case "br_on_non_null":
		return 1, 0
	case "ref.eq", "array.new", "array.get", "array.get_s", "array.get_u",
		"array.new_data", "array.new_elem":
		return 2, 1
	case "struct.set":
		return 2, 0
	case "array.set", "memory.copy", "memory.fill":
		return 3, 0
	case "array.fill", "array.init_data", "array.init_elem":
		return 4, 0
	case "array.copy":
		return 5, 0
	case "array.new_fixed":
		if len(imm) != 2 {
			f.fail(op, "want a type and a length")
		}
		n, err := strconv.Atoi(imm[1])
		if err != nil {
			f.fail(op, "bad length %q", imm[1])
		}
		return n, 1
	case "struct.new":
		if len(imm) != 1 {
			f.fail(op, "want a type")
		}
		n, ok := f.env.Fields(imm[0])
		if !ok {
			f.fail(op, "unknown struct type %s", imm[0])
		}
		return n, 1
	case "call":
		sig := f.funcSig(op, imm)
		return len(sig.Params), len(sig.Results)
	case "call_ref":
		sig := f.typeSig(op, imm)
		return len(sig.Params) + 1, len(sig.Results)
	}

	dot := strings.IndexByte(op, '.')
	if dot < 0 {
		f.fail(op, "unknown instruction")
	}
	switch op[:dot] {
	case "i32", "i64", "f32", "f64":
	default:
		f.fail(op, "unknown instruction")
	}
	name := op[dot+1:]
	switch {
	case name == "const":
		return 0, 1
	case strings.HasPrefix(name, "load"):
		return 1, 1
	case strings.HasPrefix(name, "store"):
		return 2, 0
	case unary[name] || strings.HasPrefix(name, "trunc_") || strings.HasPrefix(name, "convert_") ||
		strings.HasPrefix(name, "extend") || strings.HasPrefix(name, "reinterpret_") ||
		name == "wrap_i64" || name == "promote_f32" || name == "demote_f64":
		return 1, 1
	}
	return 2, 1
}

var unary = map[string]bool{
	"eqz": true, "clz": true, "ctz": true, "popcnt": true,
	"neg": true, "abs": true, "sqrt": true, "ceil": true, "floor": true,
	"trunc": true, "nearest": true,
}

// arity returns the number of values a branch to the label carries.
func (f *Func) arity(op string, imm []string) int {
	if len(imm) == 0 {
		f.fail(op, "missing label")
	}
	label := imm[0]
	for i := len(f.frames) - 1; i >= 0; i-- {
		fr := f.frames[i]
		if fr.label == label || label == strconv.Itoa(len(f.frames)-1-i) {
			if fr.op == "loop" {
				return 0
			}
			return fr.results
		}
	}
	f.fail(op, "unknown label %s", label)
	return 0
}

func (f *Func) funcSig(op string, imm []string) Sig {
	if len(imm) == 0 {
		f.fail(op, "missing function")
	}
	sig, ok := f.env.FuncSig(imm[0])
	if !ok {
		f.fail(op, "unknown function %s", imm[0])
	}
	return sig
}

func (f *Func) typeSig(op string, imm []string) Sig {
	if len(imm) == 0 {
		f.fail(op, "missing type")
	}
	sig, ok := f.env.TypeSig(imm[0])
	if !ok {
		f.fail(op, "unknown function type %s", imm[0])
	}
	return sig
}

func (f *Func) tag(op string, imm []string) Sig {
	if len(imm) == 0 {
		f.fail(op, "missing tag")
	}
	sig, ok := f.env.TagSig(imm[0])
	if !ok {
		f.fail(op, "unknown tag %s", imm[0])
	}
	return sig
}

func blockType(results []string) string {
	if len(results) == 0 {
		return ""
	}
	return " (result " + strings.Join(results, " ") + ")"
}

func (f *Func) open(op, label string, results []string) {
	line := op
	if label != "" {
		line += " " + label
	}
	f.write(line + blockType(results))
	parent := f.top()
	f.frames = append(f.frames, &frame{
		op:      op,
		label:   label,
		results: len(results),
		height:  parent.stack,
		stack:   parent.stack,
	})
}

// Block opens a block. A label may be empty.
func (f *Func) Block(label string, results ...string) { f.open("block", label, results) }

// Loop opens a loop.
func (f *Func) Loop(label string, results ...string) { f.open("loop", label, results) }

// If pops a condition and opens the then branch of an if.
func (f *Func) If(label string, results ...string) {
	f.pop("if", 1)
	f.open("if", label, results)
}

// Try opens a try block whose handlers are added with Catch and CatchAll.
func (f *Func) Try(label string, results ...string) { f.open("try", label, results) }

// closeArm checks that the current arm of the innermost block leaves
// exactly its results, and resets the stack for the next arm.
func (f *Func) closeArm(op string) *frame {
	fr := f.top()
	if len(f.frames) == 1 {
		f.fail(op, "no open block")
	}
	if !fr.dead && fr.stack-fr.height != fr.results {
		f.fail(op, "%s leaves %d values, want %d", fr.op, fr.stack-fr.height, fr.results)
	}
	fr.stack = fr.height
	fr.dead = false
	return fr
}

// Else starts the else branch of the innermost if.
func (f *Func) Else() {
	fr := f.closeArm("else")
	if fr.op != "if" || fr.els {
		f.fail("else", "not in the then branch of an if")
	}
	fr.els = true
	f.lines = append(f.lines, strings.Repeat("  ", len(f.frames)-1)+"else")
}

// Catch starts a handler of the innermost try for exceptions with the
// given tag; the handler starts with the tag's values on the stack.
func (f *Func) Catch(tag string) {
	fr := f.closeArm("catch")
	if fr.op != "try" {
		f.fail("catch", "not in a try")
	}
	fr.catch = true
	f.lines = append(f.lines, strings.Repeat("  ", len(f.frames)-1)+"catch "+tag)
	f.push(len(f.tag("catch", []string{tag}).Params))
}

// CatchAll starts the handler of the innermost try for any exception.
func (f *Func) CatchAll() {
	fr := f.closeArm("catch_all")
	if fr.op != "try" {
		f.fail("catch_all", "not in a try")
	}
	fr.catch = true
	f.lines = append(f.lines, strings.Repeat("  ", len(f.frames)-1)+"catch_all")
}

// End closes the innermost block and pushes its results.
func (f *Func) End() {
	fr := f.closeArm("end")
	if fr.op == "if" && !fr.els && fr.results > 0 {
		f.fail("end", "if with results has no else")
	}
	f.frames = f.frames[:len(f.frames)-1]
	f.write("end")
	f.push(fr.results)
}

// Text returns the function form. Every block must be closed and the
// body must leave exactly the function's results.
func (f *Func) Text() string {
	if len(f.frames) != 1 {
		f.fail("end", "%d blocks left open", len(f.frames)-1)
	}
	fr := f.top()
	if !fr.dead && fr.stack != fr.results {
		f.fail("end", "body leaves %d values, want %d", fr.stack, fr.results)
	}
	var b strings.Builder
	b.WriteString("(func ")
	b.WriteString(f.Name)
	if f.Type != "" {
		fmt.Fprintf(&b, " (type %s)", f.Type)
	}
	for _, p := range f.params {
		fmt.Fprintf(&b, " (param %s %s)", p.Name, p.Type)
	}
	if len(f.results) > 0 {
		fmt.Fprintf(&b, " (result %s)", strings.Join(f.results, " "))
	}
	b.WriteString("\n")
	for _, l := range f.locals {
		fmt.Fprintf(&b, "  (local %s %s)\n", l.Name, l.Type)
	}
	for _, line := range f.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// Sig returns the signature of f.
func (f *Func) Sig() Sig {
	s := Sig{Results: f.results}
	for _, p := range f.params {
		s.Params = append(s.Params, p.Type)
	}
	return s
}
