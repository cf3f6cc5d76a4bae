package syntax

// This file defines resolver data types referenced by the syntax tree.
// We cannot guarantee API stability for these types
// as they are closely tied to the implementation.

// A Binding ties together all identifiers that denote the same variable.
// The resolver computes a binding for every Ident.
type Binding struct {
	Scope Scope
	Name  string
	Param bool // a parameter of its function

	// Index records the index into the enclosing
	// - resolve.Scope.Locals,   if Scope==Local or Cell
	// - resolve.Scope.FreeVars, if Scope==Free
	// - resolve.Module.Globals, if Scope==Global
	// - resolve.Scope.Locals of the class body, if Scope==ClassAttr.
	// It is zero if Scope is Universal or Undefined.
	Index int

	First *Ident // first binding use (iff Scope==Local/Cell/Free/Global/ClassAttr)

	// Outer is the binding in the enclosing scope that a Free binding
	// captures (a Cell or another Free binding).
	Outer *Binding
}

// Kind returns the binding kind as a word: "parameter", "local",
// "cell", "free", "global", "class attribute" or "builtin".
func (b *Binding) Kind() string {
	if b.Param && b.Scope == LocalScope {
		return "parameter"
	}
	return b.Scope.String()
}

// The Scope of Binding indicates what kind of scope it has.
type Scope uint8

const (
	UndefinedScope Scope = iota // name is not defined
	LocalScope                  // name is local to its function
	CellScope                   // name is local but shared with a nested function
	FreeScope                   // name is cell of some enclosing function
	GlobalScope                 // name is global to module
	ClassAttrScope              // name is an attribute of the enclosing class body
	UniversalScope              // name is a builtin (e.g. len)
)

var scopeNames = [...]string{
	UndefinedScope: "undefined",
	LocalScope:     "local",
	FreeScope:      "free",
	CellScope:      "cell",
	GlobalScope:    "global",
	ClassAttrScope: "class attribute",
	UniversalScope: "builtin",
}

func (scope Scope) String() string { return scopeNames[scope] }
