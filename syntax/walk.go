// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax

// Walk traverses a syntax tree in depth-first order.
// It starts by calling f(n); n must not be nil.
// If f returns true, Walk calls itself
// recursively for each non-nil child of n.
// Walk then calls f(nil).
func Walk(n Node, f func(Node) bool) {
	if n == nil {
		panic("nil")
	}
	if !f(n) {
		return
	}

	switch n := n.(type) {
	case *File:
		walkStmts(n.Stmts, f)

	case *ExprStmt:
		Walk(n.X, f)

	case *BranchStmt:
		// no-op

	case *IfStmt:
		Walk(n.Cond, f)
		walkStmts(n.True, f)
		walkStmts(n.False, f)

	case *AssignStmt:
		Walk(n.LHS, f)
		for _, x := range n.More {
			Walk(x, f)
		}
		if n.Annot != nil {
			Walk(n.Annot, f)
		}
		if n.RHS != nil {
			Walk(n.RHS, f)
		}

	case *AssertStmt:
		Walk(n.Cond, f)
		if n.Msg != nil {
			Walk(n.Msg, f)
		}

	case *DefStmt:
		for _, d := range n.Decorators {
			Walk(d.X, f)
		}
		Walk(n.Name, f)
		walkFunction(&n.Function, f)

	case *ClassStmt:
		for _, d := range n.Decorators {
			Walk(d.X, f)
		}
		Walk(n.Name, f)
		for _, base := range n.Bases {
			Walk(base, f)
		}
		walkStmts(n.Body, f)

	case *DelStmt:
		for _, x := range n.Targets {
			Walk(x, f)
		}

	case *ForStmt:
		Walk(n.Vars, f)
		Walk(n.X, f)
		walkStmts(n.Body, f)
		walkStmts(n.Else, f)

	case *WhileStmt:
		Walk(n.Cond, f)
		walkStmts(n.Body, f)
		walkStmts(n.Else, f)

	case *GlobalStmt:
		for _, id := range n.Names {
			Walk(id, f)
		}

	case *ImportStmt:
		Walk(n.Module, f)
		for _, id := range n.From {
			Walk(id, f)
		}
		for _, id := range n.To {
			if id != n.Module {
				Walk(id, f)
			}
		}

	case *RaiseStmt:
		if n.X != nil {
			Walk(n.X, f)
		}
		if n.Cause != nil {
			Walk(n.Cause, f)
		}

	case *ReturnStmt:
		if n.Result != nil {
			Walk(n.Result, f)
		}

	case *TryStmt:
		walkStmts(n.Body, f)
		for _, h := range n.Handlers {
			if h.Type != nil {
				Walk(h.Type, f)
			}
			if h.Name != nil {
				Walk(h.Name, f)
			}
			walkStmts(h.Body, f)
		}
		walkStmts(n.Else, f)
		walkStmts(n.Finally, f)

	case *WithStmt:
		for _, item := range n.Items {
			Walk(item.X, f)
			if item.Var != nil {
				Walk(item.Var, f)
			}
		}
		walkStmts(n.Body, f)

	case *MatchStmt:
		Walk(n.Subject, f)
		for _, c := range n.Cases {
			Walk(c.Pattern, f)
			if c.Guard != nil {
				Walk(c.Guard, f)
			}
			walkStmts(c.Body, f)
		}

	case *LocalDecl:
		for _, id := range n.Names {
			Walk(id, f)
		}

	case *TryCatchStmt:
		walkStmts(n.Body, f)
		Walk(n.Exc, f)
		walkStmts(n.Handler, f)

	case *TryFinallyStmt:
		walkStmts(n.Body, f)
		walkStmts(n.Finally, f)

	case *StateMachine:
		for _, s := range n.States {
			walkStmts(s.Body, f)
		}

	case *GotoStmt:
		if n.Dyn != nil {
			Walk(n.Dyn, f)
		}

	case *SuspendStmt:
		if n.Value != nil {
			Walk(n.Value, f)
		}

	case *FinishStmt:
		if n.Value != nil {
			Walk(n.Value, f)
		}

	case *Ident, *Literal, *SentExpr, *CaughtExpr:
		// no-op

	case *ListExpr:
		for _, x := range n.List {
			Walk(x, f)
		}

	case *ParenExpr:
		Walk(n.X, f)

	case *CondExpr:
		Walk(n.Cond, f)
		Walk(n.True, f)
		Walk(n.False, f)

	case *IndexExpr:
		Walk(n.X, f)
		Walk(n.Y, f)

	case *DictEntry:
		Walk(n.Key, f)
		Walk(n.Value, f)

	case *SliceExpr:
		Walk(n.X, f)
		if n.Lo != nil {
			Walk(n.Lo, f)
		}
		if n.Hi != nil {
			Walk(n.Hi, f)
		}
		if n.Step != nil {
			Walk(n.Step, f)
		}

	case *Comprehension:
		Walk(n.Body, f)
		for _, clause := range n.Clauses {
			Walk(clause, f)
		}

	case *IfClause:
		Walk(n.Cond, f)

	case *ForClause:
		Walk(n.Vars, f)
		Walk(n.X, f)

	case *TupleExpr:
		for _, x := range n.List {
			Walk(x, f)
		}

	case *DictExpr:
		for _, entry := range n.List {
			Walk(entry, f)
		}

	case *SetExpr:
		for _, x := range n.List {
			Walk(x, f)
		}

	case *UnaryExpr:
		if n.X != nil {
			Walk(n.X, f)
		}

	case *BinaryExpr:
		Walk(n.X, f)
		Walk(n.Y, f)

	case *CompareExpr:
		for _, x := range n.X {
			Walk(x, f)
		}

	case *DotExpr:
		Walk(n.X, f)
		Walk(n.Name, f)

	case *CallExpr:
		Walk(n.Fn, f)
		for _, arg := range n.Args {
			Walk(arg, f)
		}

	case *LambdaExpr:
		walkFunction(&n.Function, f)

	case *FStringExpr:
		for _, x := range n.Values {
			if x != nil {
				Walk(x, f)
			}
		}

	case *AssignExpr:
		Walk(n.Name, f)
		Walk(n.X, f)

	case *YieldExpr:
		if n.X != nil {
			Walk(n.X, f)
		}

	case *ConvExpr:
		Walk(n.X, f)

	case *Intrinsic:
		for _, x := range n.Args {
			Walk(x, f)
		}

	case *BindExpr:
		Walk(n.Name, f)
		Walk(n.X, f)

	case *MatchValue:
		Walk(n.X, f)

	case *MatchCapture:
		Walk(n.Name, f)

	case *MatchWildcard:
		// no-op

	case *MatchSequence:
		for _, p := range n.Elems {
			Walk(p, f)
		}

	case *MatchStar:
		if n.Name != nil {
			Walk(n.Name, f)
		}

	case *MatchMapping:
		for i, k := range n.Keys {
			Walk(k, f)
			Walk(n.Values[i], f)
		}
		if n.Rest != nil {
			Walk(n.Rest, f)
		}

	case *MatchClass:
		Walk(n.Cls, f)
		for _, p := range n.Args {
			Walk(p, f)
		}
		for i, id := range n.KwNames {
			Walk(id, f)
			Walk(n.KwValues[i], f)
		}

	case *MatchOr:
		for _, p := range n.Alts {
			Walk(p, f)
		}

	case *MatchAs:
		Walk(n.Pattern, f)
		Walk(n.Name, f)

	default:
		panic(n)
	}

	f(nil)
}

// walkFunction visits the parameters of fn, or, once the desugarer
// has normalized them, the default values of its signature.
func walkFunction(fn *Function, f func(Node) bool) {
	for _, param := range fn.Params {
		Walk(param, f)
	}
	if fn.Sig != nil && fn.Params == nil {
		for _, d := range fn.Sig.Defaults {
			if d != nil {
				Walk(d, f)
			}
		}
	}
	walkStmts(fn.Body, f)
}

func walkStmts(stmts []Stmt, f func(Node) bool) {
	for _, stmt := range stmts {
		Walk(stmt, f)
	}
}
