// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax

// This file defines the compiler-internal nodes that the desugarer,
// representation analyzer and lowerer introduce. The parser never
// produces them.

// A Conv is a representation coercion.
type Conv uint8

const (
	BoxInt     Conv = iota // i64 -> int object
	BoxFloat               // f64 -> float object
	BoxBool                // i32 -> True or False
	UnboxInt               // int object -> i64; OverflowError if it does not fit
	IntToFloat             // i64 -> f64
	BigToFloat             // int object -> f64
	Truthy                 // any value -> i32 truth value
)

var convNames = [...]string{
	BoxInt:     "box_int",
	BoxFloat:   "box_float",
	BoxBool:    "box_bool",
	UnboxInt:   "unbox_int",
	IntToFloat: "int_to_float",
	BigToFloat: "big_to_float",
	Truthy:     "truthy",
}

func (c Conv) String() string { return convNames[c] }

// A ConvExpr converts the value of X from one representation to another.
type ConvExpr struct {
	Op Conv
	X  Expr
}

func (x *ConvExpr) Span() (start, end Position) { return x.X.Span() }

// An Intrinsic is a call to a fixed runtime operation, such as
// appending to the list under construction in a comprehension.
type Intrinsic struct {
	Pos  Position
	Name string
	Args []Expr
}

func (x *Intrinsic) Span() (start, end Position) {
	if len(x.Args) == 0 {
		return x.Pos, x.Pos
	}
	return x.Pos, End(x.Args[len(x.Args)-1])
}

// A BindExpr assigns the value of X to Name and evaluates to True.
// Pattern tests use it to bind captures inside a conjunction.
type BindExpr struct {
	Name *Ident
	X    Expr
}

func (x *BindExpr) Span() (start, end Position) { return Start(x.Name), End(x.X) }

// A SentExpr is the value passed into a generator by the resume that
// continues execution after a yield.
type SentExpr struct {
	Pos Position
}

func (x *SentExpr) Span() (start, end Position) { return x.Pos, x.Pos }

// A CaughtExpr is the exception that transferred control to the
// current handler state of a generator.
type CaughtExpr struct {
	Pos Position
}

func (x *CaughtExpr) Span() (start, end Position) { return x.Pos, x.Pos }

func (*BindExpr) expr()   {}
func (*CaughtExpr) expr() {}
func (*ConvExpr) expr()   {}
func (*Intrinsic) expr()  {}
func (*SentExpr) expr()   {}

// A LocalDecl makes Names local to the enclosing function even though
// no statement of the function itself assigns them (they are assigned
// by a nested comprehension through an assignment expression).
type LocalDecl struct {
	Pos   Position
	Names []*Ident
}

func (x *LocalDecl) Span() (start, end Position) { return x.Pos, x.Pos }

// A TryCatchStmt runs Body; if it raises, the exception is bound to Exc
// and Handler runs. Handler re-raises anything it does not handle.
type TryCatchStmt struct {
	Try     Position
	Body    []Stmt
	Exc     *Ident
	Handler []Stmt
}

func (x *TryCatchStmt) Span() (start, end Position) {
	if len(x.Handler) > 0 {
		return x.Try, End(x.Handler[len(x.Handler)-1])
	}
	return x.Try, x.Try
}

// An ExitSet records the ways control can leave the body of a
// TryFinallyStmt other than by falling off its end or raising.
type ExitSet uint8

const (
	ExitReturn ExitSet = 1 << iota
	ExitBreak
	ExitContinue
)

// A TryFinallyStmt runs Body and then Finally, on every exit path.
type TryFinallyStmt struct {
	Try     Position
	Body    []Stmt
	Finally []Stmt
	Exits   ExitSet
}

func (x *TryFinallyStmt) Span() (start, end Position) {
	if len(x.Finally) > 0 {
		return x.Try, End(x.Finally[len(x.Finally)-1])
	}
	return x.Try, x.Try
}

// A StateMachine is the body of a generator function after lowering.
// Each resume re-enters at the state recorded in the generator record.
type StateMachine struct {
	Pos    Position
	States []*GenState
}

func (x *StateMachine) Span() (start, end Position) { return x.Pos, x.Pos }

// A GenState is one resumable segment of a generator body.
// Its statements end in a transfer: goto, suspend, finish, or raise.
type GenState struct {
	Body    []Stmt
	Handler int // state that receives exceptions raised here, or -1
}

// A GotoStmt transfers control to another state of the same generator.
// If Dyn is non-nil, the target is its value (a state number).
type GotoStmt struct {
	Pos   Position
	State int
	Dyn   Expr
}

func (x *GotoStmt) Span() (start, end Position) { return x.Pos, x.Pos }

// A SuspendStmt yields Value to the caller and records Next as the
// resume point.
type SuspendStmt struct {
	Yield Position
	Value Expr // may be nil (yields None)
	Next  int
}

func (x *SuspendStmt) Span() (start, end Position) { return x.Yield, x.Yield }

// A FinishStmt terminates a generator, recording Value (which may be
// nil) as its return value.
type FinishStmt struct {
	Pos   Position
	Value Expr
}

func (x *FinishStmt) Span() (start, end Position) { return x.Pos, x.Pos }

func (*FinishStmt) stmt()     {}
func (*GotoStmt) stmt()       {}
func (*LocalDecl) stmt()      {}
func (*StateMachine) stmt()   {}
func (*SuspendStmt) stmt()    {}
func (*TryCatchStmt) stmt()   {}
func (*TryFinallyStmt) stmt() {}
