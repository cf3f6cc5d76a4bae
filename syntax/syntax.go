// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package syntax provides a parser and abstract syntax tree for the
// Python subset compiled by p2w.
package syntax

// A Node is a node in a syntax tree.
type Node interface {
	// Span returns the start and end position of the expression.
	Span() (start, end Position)
}

// Start returns the start position of the expression.
func Start(n Node) Position {
	start, _ := n.Span()
	return start
}

// End returns the end position of the expression.
func End(n Node) Position {
	_, end := n.Span()
	return end
}

// A File represents a source file.
type File struct {
	Path  string
	Stmts []Stmt

	Module interface{} // a *resolve.Module, set by resolver
}

func (x *File) Span() (start, end Position) {
	if len(x.Stmts) == 0 {
		return
	}
	start, _ = x.Stmts[0].Span()
	_, end = x.Stmts[len(x.Stmts)-1].Span()
	return start, end
}

// A Stmt is a statement.
type Stmt interface {
	Node
	stmt()
}

func (*AssignStmt) stmt()     {}
func (*AssertStmt) stmt()     {}
func (*BranchStmt) stmt()     {}
func (*ClassStmt) stmt()      {}
func (*DefStmt) stmt()        {}
func (*DelStmt) stmt()        {}
func (*ExprStmt) stmt()       {}
func (*ForStmt) stmt()        {}
func (*GlobalStmt) stmt()     {}
func (*IfStmt) stmt()         {}
func (*ImportStmt) stmt()     {}
func (*MatchStmt) stmt()      {}
func (*RaiseStmt) stmt()      {}
func (*ReturnStmt) stmt()     {}
func (*TryStmt) stmt()        {}
func (*WhileStmt) stmt()      {}
func (*WithStmt) stmt()       {}

// An AssignStmt represents an assignment:
//
//	x = 0
//	x, y = y, x
//	x += 1
//	a = b = c
//	n: int = 3
type AssignStmt struct {
	OpPos Position
	Op    Token // = EQ | {PLUS,MINUS,...}_EQ
	LHS   Expr
	More  []Expr // further targets of a chained assignment, left to right
	Annot Expr   // annotation of x: T = v (ignored by the compiler)
	RHS   Expr   // nil for a bare annotation
}

func (x *AssignStmt) Span() (start, end Position) {
	start, _ = x.LHS.Span()
	switch {
	case x.RHS != nil:
		_, end = x.RHS.Span()
	case x.Annot != nil:
		_, end = x.Annot.Span()
	default:
		_, end = x.LHS.Span()
	}
	return
}

// An AssertStmt checks a condition: assert Cond, Msg.
type AssertStmt struct {
	Assert Position
	Cond   Expr
	Msg    Expr // optional
}

func (x *AssertStmt) Span() (start, end Position) {
	if x.Msg != nil {
		return x.Assert, End(x.Msg)
	}
	return x.Assert, End(x.Cond)
}

// A Function represents the common parts of LambdaExpr and DefStmt.
type Function struct {
	StartPos Position // position of DEF or LAMBDA token
	Params   []Expr   // param = ident | ident=expr | * | *ident | **ident
	Body     []Stmt

	// set by parser:
	HasYield bool // body (excluding nested functions) contains yield

	// set by desugarer:
	Name string      // name used in generated code and tracebacks
	Kind FuncKind    // def, lambda, method, comprehension
	Sig  *Signature  // normalized parameter list

	// set by resolver:
	Scope interface{} // a *resolve.Scope
}

func (x *Function) Span() (start, end Position) {
	if len(x.Body) == 0 {
		return x.StartPos, x.StartPos
	}
	_, end = x.Body[len(x.Body)-1].Span()
	return x.StartPos, end
}

// A FuncKind classifies a Function.
type FuncKind uint8

const (
	PlainFunc FuncKind = iota
	LambdaFunc
	MethodFunc
	StaticMethodFunc
	ClassMethodFunc
	PropertyFunc
	ComprehensionFunc
)

var funcKindNames = [...]string{
	PlainFunc:         "function",
	LambdaFunc:        "lambda",
	MethodFunc:        "method",
	StaticMethodFunc:  "staticmethod",
	ClassMethodFunc:   "classmethod",
	PropertyFunc:      "property",
	ComprehensionFunc: "comprehension",
}

func (k FuncKind) String() string { return funcKindNames[k] }

// A Signature is the normalized form of a parameter list.
// Default values are evaluated in the enclosing scope when the
// function value is created.
type Signature struct {
	Params   []*Ident // positional-or-keyword, then keyword-only
	NumPos   int      // number of positional-or-keyword params
	Defaults []Expr   // parallel to Params; nil for required
	Varargs  *Ident   // *args, or nil
	Kwargs   *Ident   // **kwargs, or nil
}

// NumDefaults returns the number of parameters with default values.
func (sig *Signature) NumDefaults() int {
	n := 0
	for _, d := range sig.Defaults {
		if d != nil {
			n++
		}
	}
	return n
}

// A Decorator is an @expr line preceding a def or class.
type Decorator struct {
	At Position
	X  Expr
}

func (x *Decorator) Span() (start, end Position) { return x.At, End(x.X) }

// A DefStmt represents a function definition.
type DefStmt struct {
	Decorators []*Decorator
	Def        Position
	Name       *Ident
	Function
}

func (x *DefStmt) Span() (start, end Position) {
	_, end = x.Function.Span()
	return x.Def, end
}

// A ClassStmt represents a class definition.
type ClassStmt struct {
	Decorators []*Decorator
	Class      Position
	Name       *Ident
	Bases      []Expr
	Body       []Stmt

	// set by resolver:
	Scope interface{} // a *resolve.Scope for the class body

	// set by object model builder:
	Layout interface{} // a *object.Class
}

func (x *ClassStmt) Span() (start, end Position) {
	if len(x.Body) == 0 {
		return x.Class, End(x.Name)
	}
	return x.Class, End(x.Body[len(x.Body)-1])
}

// A DelStmt deletes targets: del x, y[i], z.f.
type DelStmt struct {
	Del     Position
	Targets []Expr
}

func (x *DelStmt) Span() (start, end Position) {
	return x.Del, End(x.Targets[len(x.Targets)-1])
}

// An ExprStmt is an expression evaluated for side effects.
type ExprStmt struct {
	X Expr
}

func (x *ExprStmt) Span() (start, end Position) {
	return x.X.Span()
}

// A GlobalStmt declares names global or nonlocal.
type GlobalStmt struct {
	Token    Token // GLOBAL | NONLOCAL
	TokenPos Position
	Names    []*Ident
}

func (x *GlobalStmt) Span() (start, end Position) {
	return x.TokenPos, End(x.Names[len(x.Names)-1])
}

// An IfStmt is a conditional: If Cond: True; else: False.
// 'elseif' is desugared into a chain of IfStmts.
type IfStmt struct {
	If      Position // IF or ELIF
	Cond    Expr
	True    []Stmt
	ElsePos Position // ELSE or ELIF
	False   []Stmt   // optional
}

func (x *IfStmt) Span() (start, end Position) {
	body := x.False
	if body == nil {
		body = x.True
	}
	_, end = body[len(body)-1].Span()
	return x.If, end
}

// An ImportStmt binds a host module or names from it:
//
//	import js
//	import math as m
//	from math import sqrt, pi as PI
type ImportStmt struct {
	Import Position
	Module *Ident   // module name
	From   []*Ident // attribute names, for from-imports
	To     []*Ident // bound names: the alias of Module, or one per From
}

func (x *ImportStmt) Span() (start, end Position) {
	return x.Import, End(x.To[len(x.To)-1])
}

// A BranchStmt changes the flow of control: break, continue, pass.
type BranchStmt struct {
	Token    Token // = BREAK | CONTINUE | PASS
	TokenPos Position
}

func (x *BranchStmt) Span() (start, end Position) {
	return x.TokenPos, x.TokenPos.add(x.Token.String())
}

// A RaiseStmt raises an exception: raise, raise X, raise X from Cause.
type RaiseStmt struct {
	Raise Position
	X     Expr // nil for a bare re-raise
	Cause Expr // optional

	// set by lowerer:
	Reraise bool // X is a caught exception, thrown again unchanged
	Context Expr // exception being handled at this point, or nil
}

func (x *RaiseStmt) Span() (start, end Position) {
	switch {
	case x.Cause != nil:
		return x.Raise, End(x.Cause)
	case x.X != nil:
		return x.Raise, End(x.X)
	}
	return x.Raise, x.Raise.add("raise")
}

// A ReturnStmt returns from a function.
type ReturnStmt struct {
	Return Position
	Result Expr // may be nil
}

func (x *ReturnStmt) Span() (start, end Position) {
	if x.Result == nil {
		return x.Return, x.Return.add("return")
	}
	_, end = x.Result.Span()
	return x.Return, end
}

// A TryStmt is try: Body except...: ... else: Else finally: Finally.
type TryStmt struct {
	Try        Position
	Body       []Stmt
	Handlers   []*ExceptClause
	ElsePos    Position
	Else       []Stmt
	FinallyPos Position
	Finally    []Stmt
}

func (x *TryStmt) Span() (start, end Position) {
	switch {
	case x.Finally != nil:
		end = End(x.Finally[len(x.Finally)-1])
	case x.Else != nil:
		end = End(x.Else[len(x.Else)-1])
	case len(x.Handlers) > 0:
		end = End(x.Handlers[len(x.Handlers)-1])
	default:
		end = End(x.Body[len(x.Body)-1])
	}
	return x.Try, end
}

// An ExceptClause is one handler of a TryStmt.
type ExceptClause struct {
	Except Position
	Type   Expr   // nil for a bare except
	Name   *Ident // optional
	Body   []Stmt
}

func (x *ExceptClause) Span() (start, end Position) {
	return x.Except, End(x.Body[len(x.Body)-1])
}

// A WhileStmt represents a while loop: while X: Body else: Else.
type WhileStmt struct {
	While   Position
	Cond    Expr
	Body    []Stmt
	ElsePos Position
	Else    []Stmt
}

func (x *WhileStmt) Span() (start, end Position) {
	if x.Else != nil {
		return x.While, End(x.Else[len(x.Else)-1])
	}
	_, end = x.Body[len(x.Body)-1].Span()
	return x.While, end
}

// A WithStmt represents a with statement.
type WithStmt struct {
	With  Position
	Items []*WithItem
	Body  []Stmt
}

func (x *WithStmt) Span() (start, end Position) {
	return x.With, End(x.Body[len(x.Body)-1])
}

// A WithItem is one context manager of a with statement: X as Var.
type WithItem struct {
	X   Expr
	Var Expr // optional
}

func (x *WithItem) Span() (start, end Position) {
	if x.Var != nil {
		return Start(x.X), End(x.Var)
	}
	return x.X.Span()
}

// An Expr is an expression.
type Expr interface {
	Node
	expr()
}

func (*AssignExpr) expr()    {}
func (*BinaryExpr) expr()    {}
func (*CallExpr) expr()      {}
func (*CompareExpr) expr()   {}
func (*Comprehension) expr() {}
func (*CondExpr) expr()      {}
func (*DictEntry) expr()     {}
func (*DictExpr) expr()      {}
func (*DotExpr) expr()       {}
func (*FStringExpr) expr()   {}
func (*Ident) expr()         {}
func (*IndexExpr) expr()     {}
func (*LambdaExpr) expr()    {}
func (*ListExpr) expr()      {}
func (*Literal) expr()       {}
func (*ParenExpr) expr()     {}
func (*SetExpr) expr()       {}
func (*SliceExpr) expr()     {}
func (*TupleExpr) expr()     {}
func (*UnaryExpr) expr()     {}
func (*YieldExpr) expr()     {}

// An Ident represents an identifier.
type Ident struct {
	NamePos Position
	Name    string

	Binding *Binding // a reference to the binding, set by resolver
}

func (x *Ident) Span() (start, end Position) {
	return x.NamePos, x.NamePos.add(x.Name)
}

// A Literal represents a literal string, number or constant.
type Literal struct {
	Token    Token // = STRING | BYTES | INT | FLOAT | NONE | TRUE | FALSE
	TokenPos Position
	Raw      string      // uninterpreted text
	Value    interface{} // = string | int64 | *big.Int | float64 | bool | nil
}

func (x *Literal) Span() (start, end Position) {
	return x.TokenPos, x.TokenPos.add(x.Raw)
}

// An FStringPart is a literal run or a replacement field of an f-string.
type FStringPart struct {
	Lit     string   // literal text, if Expr == ""
	Pos     Position // position of the replacement field
	Expr    string   // replacement field source text
	Conv    byte     // 0, 'r', 's' or 'a'
	Spec    string   // format spec
	HasSpec bool
}

// An FStringExpr represents an f-string. Parts and Values are parallel:
// Values[i] is the parsed expression of Parts[i], or nil for literal text.
type FStringExpr struct {
	TokenPos Position
	Raw      string
	Parts    []FStringPart
	Values   []Expr
}

func (x *FStringExpr) Span() (start, end Position) {
	return x.TokenPos, x.TokenPos.add(x.Raw)
}

// A ParenExpr represents a parenthesized expression: (X).
type ParenExpr struct {
	Lparen Position
	X      Expr
	Rparen Position
}

func (x *ParenExpr) Span() (start, end Position) {
	return x.Lparen, x.Rparen.add(")")
}

// A CallExpr represents a function call expression: Fn(Args).
// Keyword arguments are BinaryExprs with Op EQ; *a and **k are UnaryExprs.
type CallExpr struct {
	Fn     Expr
	Lparen Position
	Args   []Expr
	Rparen Position
}

func (x *CallExpr) Span() (start, end Position) {
	start, _ = x.Fn.Span()
	return start, x.Rparen.add(")")
}

// A DotExpr represents a field or method selector: X.Name.
type DotExpr struct {
	X       Expr
	Dot     Position
	NamePos Position
	Name    *Ident
}

func (x *DotExpr) Span() (start, end Position) {
	start, _ = x.X.Span()
	_, end = x.Name.Span()
	return
}

// A CompKind distinguishes the four comprehension forms.
type CompKind uint8

const (
	ListComp CompKind = iota
	SetComp
	DictComp
	GeneratorExpr
)

// A Comprehension represents a list, set or dict comprehension or a
// generator expression: [Body for ... if ...].
type Comprehension struct {
	Kind    CompKind
	Lbrack  Position
	Body    Expr // a *DictEntry for DictComp
	Clauses []Node // = *ForClause | *IfClause
	Rbrack  Position
}

func (x *Comprehension) Span() (start, end Position) {
	return x.Lbrack, x.Rbrack.add("]")
}

// A ForStmt represents a loop: for Vars in X: Body else: Else.
type ForStmt struct {
	For     Position
	Vars    Expr // name, or tuple of names
	X       Expr
	Body    []Stmt
	ElsePos Position
	Else    []Stmt
}

func (x *ForStmt) Span() (start, end Position) {
	if x.Else != nil {
		return x.For, End(x.Else[len(x.Else)-1])
	}
	_, end = x.Body[len(x.Body)-1].Span()
	return x.For, end
}

// A ForClause represents a for clause in a comprehension: for Vars in X.
type ForClause struct {
	For  Position
	Vars Expr // name, or tuple of names
	In   Position
	X    Expr
}

func (x *ForClause) Span() (start, end Position) {
	_, end = x.X.Span()
	return x.For, end
}

// An IfClause represents an if clause in a comprehension: if Cond.
type IfClause struct {
	If   Position
	Cond Expr
}

func (x *IfClause) Span() (start, end Position) {
	_, end = x.Cond.Span()
	return x.If, end
}

// A DictExpr represents a dictionary literal: { List }.
type DictExpr struct {
	Lbrace Position
	List   []Expr // all *DictEntrys
	Rbrace Position
}

func (x *DictExpr) Span() (start, end Position) {
	return x.Lbrace, x.Rbrace.add("}")
}

// A DictEntry represents a dictionary entry: Key: Value.
// Used only within a DictExpr or a dict comprehension.
type DictEntry struct {
	Key   Expr
	Colon Position
	Value Expr
}

func (x *DictEntry) Span() (start, end Position) {
	start, _ = x.Key.Span()
	_, end = x.Value.Span()
	return start, end
}

// A SetExpr represents a set literal: { List }.
type SetExpr struct {
	Lbrace Position
	List   []Expr
	Rbrace Position
}

func (x *SetExpr) Span() (start, end Position) {
	return x.Lbrace, x.Rbrace.add("}")
}

// A LambdaExpr represents an inline function abstraction.
// The parser gives it a body of one ReturnStmt.
type LambdaExpr struct {
	Lambda Position
	Function
}

func (x *LambdaExpr) Span() (start, end Position) {
	_, end = x.Function.Span()
	return x.Lambda, end
}

// A ListExpr represents a list literal: [ List ].
type ListExpr struct {
	Lbrack Position
	List   []Expr
	Rbrack Position
}

func (x *ListExpr) Span() (start, end Position) {
	return x.Lbrack, x.Rbrack.add("]")
}

// CondExpr represents the conditional: X if COND else ELSE.
type CondExpr struct {
	If      Position
	Cond    Expr
	True    Expr
	ElsePos Position
	False   Expr
}

func (x *CondExpr) Span() (start, end Position) {
	start, _ = x.True.Span()
	_, end = x.False.Span()
	return start, end
}

// A TupleExpr represents a tuple literal: (List).
type TupleExpr struct {
	Lparen Position // optional (e.g. in x, y = 0, 1), but required if List is empty
	List   []Expr
	Rparen Position
}

func (x *TupleExpr) Span() (start, end Position) {
	if x.Lparen.IsValid() {
		return x.Lparen, x.Rparen
	} else {
		return Start(x.List[0]), End(x.List[len(x.List)-1])
	}
}

// A UnaryExpr represents a unary expression: Op X.
//
// As a special case, UnaryOp{Op:Star} may also represent
// the star parameter in def f(*args) or def f(*, x).
type UnaryExpr struct {
	OpPos Position
	Op    Token
	X     Expr // may be nil if Op==STAR
}

func (x *UnaryExpr) Span() (start, end Position) {
	if x.X != nil {
		_, end = x.X.Span()
	} else {
		end = x.OpPos.add("*")
	}
	return x.OpPos, end
}

// A BinaryExpr represents a binary expression: X Op Y.
//
// As a special case, BinaryExpr{Op:EQ} may also
// represent a named argument in a call f(k=v)
// or a named parameter in a function declaration
// def f(param=default).
type BinaryExpr struct {
	X     Expr
	OpPos Position
	Op    Token
	Y     Expr

	InPlace bool // produced from an augmented assignment (x += y)
}

func (x *BinaryExpr) Span() (start, end Position) {
	start, _ = x.X.Span()
	_, end = x.Y.Span()
	return start, end
}

// A CompareExpr represents a chain of two or more comparisons:
// X[0] Ops[0] X[1] Ops[1] X[2]. Each operand is evaluated at most once.
type CompareExpr struct {
	X     []Expr
	Ops   []Token
	OpPos []Position
}

func (x *CompareExpr) Span() (start, end Position) {
	return Start(x.X[0]), End(x.X[len(x.X)-1])
}

// An AssignExpr represents a binding expression: Name := X.
type AssignExpr struct {
	Name  *Ident
	OpPos Position
	X     Expr
}

func (x *AssignExpr) Span() (start, end Position) {
	return Start(x.Name), End(x.X)
}

// A YieldExpr represents yield X or yield from X.
type YieldExpr struct {
	Yield Position
	From  bool
	X     Expr // may be nil
}

func (x *YieldExpr) Span() (start, end Position) {
	if x.X == nil {
		return x.Yield, x.Yield.add("yield")
	}
	return x.Yield, End(x.X)
}

// A SliceExpr represents a slice or substring expression: X[Lo:Hi:Step].
type SliceExpr struct {
	X            Expr
	Lbrack       Position
	Lo, Hi, Step Expr // all optional
	Rbrack       Position
}

func (x *SliceExpr) Span() (start, end Position) {
	start, _ = x.X.Span()
	return start, x.Rbrack
}

// An IndexExpr represents an index expression: X[Y].
type IndexExpr struct {
	X      Expr
	Lbrack Position
	Y      Expr
	Rbrack Position
}

func (x *IndexExpr) Span() (start, end Position) {
	start, _ = x.X.Span()
	return start, x.Rbrack
}

// A MatchStmt represents match Subject: case ...
type MatchStmt struct {
	Match   Position
	Subject Expr
	Cases   []*CaseClause
}

func (x *MatchStmt) Span() (start, end Position) {
	return x.Match, End(x.Cases[len(x.Cases)-1])
}

// A CaseClause is one arm of a match statement.
type CaseClause struct {
	Case    Position
	Pattern Pattern
	Guard   Expr // optional
	Body    []Stmt
}

func (x *CaseClause) Span() (start, end Position) {
	return x.Case, End(x.Body[len(x.Body)-1])
}

// A Pattern is a structural pattern of a case clause.
type Pattern interface {
	Node
	pattern()
}

func (*MatchAs) pattern()       {}
func (*MatchCapture) pattern()  {}
func (*MatchClass) pattern()    {}
func (*MatchMapping) pattern()  {}
func (*MatchOr) pattern()       {}
func (*MatchSequence) pattern() {}
func (*MatchStar) pattern()     {}
func (*MatchValue) pattern()    {}
func (*MatchWildcard) pattern() {}

// A MatchValue matches by equality (or identity, for None/True/False).
type MatchValue struct {
	X Expr // literal, negated number or dotted name
}

func (x *MatchValue) Span() (start, end Position) { return x.X.Span() }

// A MatchCapture binds the subject to Name.
type MatchCapture struct {
	Name *Ident
}

func (x *MatchCapture) Span() (start, end Position) { return x.Name.Span() }

// A MatchWildcard matches anything: _.
type MatchWildcard struct {
	Pos Position
}

func (x *MatchWildcard) Span() (start, end Position) { return x.Pos, x.Pos.add("_") }

// A MatchSequence matches a list or tuple: [p, q, *rest].
type MatchSequence struct {
	Lbrack Position
	Elems  []Pattern // at most one *MatchStar
	Rbrack Position
}

func (x *MatchSequence) Span() (start, end Position) { return x.Lbrack, x.Rbrack.add("]") }

// A MatchStar captures the remaining elements of a sequence: *name or *_.
type MatchStar struct {
	Star Position
	Name *Ident // nil for *_
}

func (x *MatchStar) Span() (start, end Position) {
	if x.Name == nil {
		return x.Star, x.Star.add("*_")
	}
	return x.Star, End(x.Name)
}

// A MatchMapping matches a dict: {k: p, **rest}.
type MatchMapping struct {
	Lbrace Position
	Keys   []Expr
	Values []Pattern
	Rest   *Ident // optional
	Rbrace Position
}

func (x *MatchMapping) Span() (start, end Position) { return x.Lbrace, x.Rbrace.add("}") }

// A MatchClass matches an instance: Cls(p, name=q).
type MatchClass struct {
	Cls      Expr
	Args     []Pattern
	KwNames  []*Ident
	KwValues []Pattern
	Rparen   Position
}

func (x *MatchClass) Span() (start, end Position) { return Start(x.Cls), x.Rparen.add(")") }

// A MatchOr matches if any alternative does: p | q.
type MatchOr struct {
	Alts []Pattern
}

func (x *MatchOr) Span() (start, end Position) {
	return Start(x.Alts[0]), End(x.Alts[len(x.Alts)-1])
}

// A MatchAs matches Pattern and binds the subject to Name.
type MatchAs struct {
	Pattern Pattern
	Name    *Ident
}

func (x *MatchAs) Span() (start, end Position) { return Start(x.Pattern), End(x.Name) }
