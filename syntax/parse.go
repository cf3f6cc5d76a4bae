// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax

// This file defines a recursive-descent parser for the Python subset.
// The LL(1) grammar follows Python 3's, with soft keywords for match.

import (
	"fmt"
	"strings"
)

// Parse parses the input data and returns the corresponding parse tree.
//
// If src != nil, Parse parses the source from src and the filename
// is only used when recording position information.
// The type of the argument for the src parameter must be string,
// []byte, io.Reader, or FilePortion.
// If src == nil, Parse parses the file specified by filename.
func Parse(filename string, src interface{}) (f *File, err error) {
	in, err := newScanner(filename, src)
	if err != nil {
		return nil, err
	}
	p := parser{in: in}
	defer p.in.recover(&err)

	p.nextToken() // read first lookahead token
	f = p.parseFile()
	if f != nil {
		f.Path = filename
	}
	return f, nil
}

// ParseCompoundStmt parses a single compound statement:
// a blank line, a def, for, while, if, try, with, class or match
// statement, or a semicolon-separated list of simple statements followed
// by a newline. These are the units on which the REPL operates.
// ParseCompoundStmt does not consume any following input.
// The parser calls the readline function each
// time it needs a new line of input.
func ParseCompoundStmt(filename string, readline func() ([]byte, error)) (f *File, err error) {
	in, err := newScanner(filename, readline)
	if err != nil {
		return nil, err
	}

	p := parser{in: in}
	defer p.in.recover(&err)

	p.nextToken() // read first lookahead token

	var stmts []Stmt
	switch p.tok {
	case DEF, IF, FOR, WHILE, TRY, WITH, CLASS, MATCH, AT:
		stmts = p.parseStmt(stmts)
	case NEWLINE:
		// blank line
	default:
		stmts = p.parseSimpleStmt(stmts, false)
		// Require but don't consume newline, to avoid blocking again.
		if p.tok != NEWLINE {
			p.in.errorf(p.in.pos, "invalid syntax")
		}
	}

	return &File{Path: filename, Stmts: stmts}, nil
}

// ParseExpr parses a Python expression.
// A comma-separated list of expressions is parsed as a tuple.
// See Parse for explanation of parameters.
func ParseExpr(filename string, src interface{}) (expr Expr, err error) {
	in, err := newScanner(filename, src)
	if err != nil {
		return nil, err
	}
	p := parser{in: in}
	defer p.in.recover(&err)

	p.nextToken() // read first lookahead token

	// Use parseExpr, not parseTest, to permit an unparenthesized tuple.
	expr = p.parseExpr(false)

	// A following newline (e.g. "f()\n") appears outside any brackets,
	// on a non-blank line, and thus results in a NEWLINE token.
	if p.tok == NEWLINE {
		p.nextToken()
	}

	if p.tok != EOF {
		p.in.errorf(p.in.pos, "got %#v after expression, want EOF", p.tok)
	}
	return expr, nil
}

type parser struct {
	in     *scanner
	tok    Token
	tokval tokenValue
	fn     *Function // innermost enclosing function, for yield
	depth  int       // expression nesting
}

// nextToken advances the scanner and returns the position of the
// previous token.
func (p *parser) nextToken() Position {
	oldpos := p.tokval.pos
	p.tok = p.in.nextToken(&p.tokval)
	return oldpos
}

// file_input = (NEWLINE | stmt)* EOF
func (p *parser) parseFile() *File {
	var stmts []Stmt
	for p.tok != EOF {
		if p.tok == NEWLINE {
			p.nextToken()
			continue
		}
		stmts = p.parseStmt(stmts)
	}
	return &File{Stmts: stmts}
}

func (p *parser) parseStmt(stmts []Stmt) []Stmt {
	switch p.tok {
	case AT:
		return append(stmts, p.parseDecorated())
	case DEF:
		return append(stmts, p.parseDefStmt(nil))
	case CLASS:
		return append(stmts, p.parseClassStmt(nil))
	case IF:
		return append(stmts, p.parseIfStmt())
	case FOR:
		return append(stmts, p.parseForStmt())
	case WHILE:
		return append(stmts, p.parseWhileStmt())
	case TRY:
		return append(stmts, p.parseTryStmt())
	case WITH:
		return append(stmts, p.parseWithStmt())
	case MATCH:
		return append(stmts, p.parseMatchStmt())
	}
	return p.parseSimpleStmt(stmts, true)
}

// decorated = ('@' test NEWLINE)+ (def | class)
func (p *parser) parseDecorated() Stmt {
	var decs []*Decorator
	for p.tok == AT {
		at := p.nextToken()
		x := p.parseTest()
		decs = append(decs, &Decorator{At: at, X: x})
		p.consume(NEWLINE)
	}
	switch p.tok {
	case DEF:
		return p.parseDefStmt(decs)
	case CLASS:
		return p.parseClassStmt(decs)
	}
	p.in.errorf(p.in.pos, "got %#v after decorator, want def or class", p.tok)
	panic("unreachable")
}

func (p *parser) parseDefStmt(decs []*Decorator) Stmt {
	defpos := p.nextToken() // consume DEF
	id := p.parseIdent()
	p.consume(LPAREN)
	params := p.parseParams(RPAREN)
	p.consume(RPAREN)
	if p.tok == ARROW {
		p.nextToken()
		p.parseTest() // return annotation, ignored
	}
	p.consume(COLON)

	def := &DefStmt{
		Decorators: decs,
		Def:        defpos,
		Name:       id,
		Function: Function{
			StartPos: defpos,
			Params:   params,
		},
	}
	saved := p.fn
	p.fn = &def.Function
	def.Body = p.parseSuite()
	p.fn = saved
	return def
}

// classdef = 'class' IDENT ['(' [arglist] ')'] ':' suite
func (p *parser) parseClassStmt(decs []*Decorator) Stmt {
	classpos := p.nextToken() // consume CLASS
	id := p.parseIdent()
	var bases []Expr
	if p.tok == LPAREN {
		p.nextToken()
		bases = p.parseArgs()
		p.consume(RPAREN)
	}
	p.consume(COLON)
	saved := p.fn
	p.fn = nil
	body := p.parseSuite()
	p.fn = saved
	return &ClassStmt{
		Decorators: decs,
		Class:      classpos,
		Name:       id,
		Bases:      bases,
		Body:       body,
	}
}

func (p *parser) parseIfStmt() Stmt {
	ifpos := p.nextToken() // consume IF
	cond := p.parseTestOrWalrus()
	p.consume(COLON)
	body := p.parseSuite()
	ifStmt := &IfStmt{
		If:   ifpos,
		Cond: cond,
		True: body,
	}
	tail := ifStmt
	for p.tok == ELIF {
		elifpos := p.nextToken() // consume ELIF
		cond := p.parseTestOrWalrus()
		p.consume(COLON)
		body := p.parseSuite()
		elif := &IfStmt{
			If:   elifpos,
			Cond: cond,
			True: body,
		}
		tail.ElsePos = elifpos
		tail.False = []Stmt{elif}
		tail = elif
	}
	if p.tok == ELSE {
		tail.ElsePos = p.nextToken() // consume ELSE
		p.consume(COLON)
		tail.False = p.parseSuite()
	}
	return ifStmt
}

func (p *parser) parseForStmt() Stmt {
	forpos := p.nextToken() // consume FOR
	vars := p.parseForLoopVariables()
	p.consume(IN)
	x := p.parseExpr(false)
	p.consume(COLON)
	body := p.parseSuite()
	stmt := &ForStmt{
		For:  forpos,
		Vars: vars,
		X:    x,
		Body: body,
	}
	if p.tok == ELSE {
		stmt.ElsePos = p.nextToken()
		p.consume(COLON)
		stmt.Else = p.parseSuite()
	}
	return stmt
}

func (p *parser) parseWhileStmt() Stmt {
	whilepos := p.nextToken() // consume WHILE
	cond := p.parseTestOrWalrus()
	p.consume(COLON)
	body := p.parseSuite()
	stmt := &WhileStmt{
		While: whilepos,
		Cond:  cond,
		Body:  body,
	}
	if p.tok == ELSE {
		stmt.ElsePos = p.nextToken()
		p.consume(COLON)
		stmt.Else = p.parseSuite()
	}
	return stmt
}

// try_stmt = 'try' ':' suite
//            (except_clause ':' suite)+ ['else' ':' suite] ['finally' ':' suite]
//          | 'try' ':' suite 'finally' ':' suite
func (p *parser) parseTryStmt() Stmt {
	trypos := p.nextToken() // consume TRY
	p.consume(COLON)
	stmt := &TryStmt{Try: trypos, Body: p.parseSuite()}
	for p.tok == EXCEPT {
		clause := &ExceptClause{Except: p.nextToken()}
		if p.tok != COLON {
			clause.Type = p.parseTest()
			if p.tok == AS {
				p.nextToken()
				clause.Name = p.parseIdent()
			}
		}
		p.consume(COLON)
		clause.Body = p.parseSuite()
		if n := len(stmt.Handlers); n > 0 && stmt.Handlers[n-1].Type == nil {
			p.in.error(clause.Except, "default 'except:' must be last")
		}
		stmt.Handlers = append(stmt.Handlers, clause)
	}
	if p.tok == ELSE {
		if len(stmt.Handlers) == 0 {
			p.in.error(p.tokval.pos, "else clause requires an except clause")
		}
		stmt.ElsePos = p.nextToken()
		p.consume(COLON)
		stmt.Else = p.parseSuite()
	}
	if p.tok == FINALLY {
		stmt.FinallyPos = p.nextToken()
		p.consume(COLON)
		stmt.Finally = p.parseSuite()
	}
	if len(stmt.Handlers) == 0 && stmt.Finally == nil {
		p.in.error(trypos, "try statement requires an except or finally clause")
	}
	return stmt
}

// with_stmt = 'with' with_item (',' with_item)* ':' suite
func (p *parser) parseWithStmt() Stmt {
	withpos := p.nextToken() // consume WITH
	stmt := &WithStmt{With: withpos}
	for {
		item := &WithItem{X: p.parseTest()}
		if p.tok == AS {
			p.nextToken()
			item.Var = p.parsePrimaryWithSuffix()
			checkTarget(p, item.Var)
		}
		stmt.Items = append(stmt.Items, item)
		if p.tok != COMMA {
			break
		}
		p.nextToken()
	}
	p.consume(COLON)
	stmt.Body = p.parseSuite()
	return stmt
}

// match_stmt = 'match' subject ':' NEWLINE INDENT case_block+ OUTDENT
func (p *parser) parseMatchStmt() Stmt {
	matchpos := p.nextToken() // consume MATCH
	subject := p.parseExpr(false)
	p.consume(COLON)
	p.consume(NEWLINE)
	p.consume(INDENT)
	stmt := &MatchStmt{Match: matchpos, Subject: subject}
	for p.tok != OUTDENT && p.tok != EOF {
		if p.tok == NEWLINE {
			p.nextToken()
			continue
		}
		if p.tok != CASE {
			p.in.errorf(p.in.pos, "got %#v, want case", p.tok)
		}
		clause := &CaseClause{Case: p.nextToken()}
		clause.Pattern = p.parsePatterns()
		if p.tok == IF {
			p.nextToken()
			clause.Guard = p.parseTestOrWalrus()
		}
		p.consume(COLON)
		clause.Body = p.parseSuite()
		stmt.Cases = append(stmt.Cases, clause)
	}
	if p.tok != EOF {
		p.consume(OUTDENT)
	}
	if len(stmt.Cases) == 0 {
		p.in.error(matchpos, "match statement has no case clauses")
	}
	return stmt
}

// patterns = open_sequence_pattern | pattern
func (p *parser) parsePatterns() Pattern {
	start := p.tokval.pos
	first := p.parsePatternOrStar()
	if p.tok != COMMA {
		if _, ok := first.(*MatchStar); ok {
			p.in.error(start, "star pattern outside of a sequence")
		}
		return first
	}
	elems := []Pattern{first}
	for p.tok == COMMA {
		p.nextToken()
		if p.tok == COLON || p.tok == IF {
			break
		}
		elems = append(elems, p.parsePatternOrStar())
	}
	p.checkStars(start, elems)
	return &MatchSequence{Lbrack: start, Elems: elems, Rbrack: p.tokval.pos}
}

func (p *parser) parsePatternOrStar() Pattern {
	if p.tok == STAR {
		star := p.nextToken()
		id := p.parseIdent()
		if id.Name == "_" {
			return &MatchStar{Star: star}
		}
		return &MatchStar{Star: star, Name: id}
	}
	return p.parsePattern()
}

func (p *parser) checkStars(pos Position, elems []Pattern) {
	n := 0
	for _, e := range elems {
		if _, ok := e.(*MatchStar); ok {
			n++
		}
	}
	if n > 1 {
		p.in.error(pos, "multiple starred names in sequence pattern")
	}
}

// pattern = or_pattern ['as' IDENT]
func (p *parser) parsePattern() Pattern {
	pat := p.parseOrPattern()
	if p.tok == AS {
		p.nextToken()
		id := p.parseIdent()
		if id.Name == "_" {
			p.in.error(id.NamePos, "cannot use '_' as a target")
		}
		return &MatchAs{Pattern: pat, Name: id}
	}
	return pat
}

// or_pattern = closed_pattern ('|' closed_pattern)*
func (p *parser) parseOrPattern() Pattern {
	first := p.parseClosedPattern()
	if p.tok != PIPE {
		return first
	}
	alts := []Pattern{first}
	for p.tok == PIPE {
		p.nextToken()
		alts = append(alts, p.parseClosedPattern())
	}
	return &MatchOr{Alts: alts}
}

func (p *parser) parseClosedPattern() Pattern {
	switch p.tok {
	case INT, FLOAT, STRING, BYTES, NONE, TRUE, FALSE, MINUS:
		return &MatchValue{X: p.parseLiteralPattern()}

	case IDENT:
		id := p.parseIdent()
		if p.tok != DOT && p.tok != LPAREN {
			if id.Name == "_" {
				return &MatchWildcard{Pos: id.NamePos}
			}
			return &MatchCapture{Name: id}
		}
		var x Expr = id
		for p.tok == DOT {
			dot := p.nextToken()
			name := p.parseIdent()
			x = &DotExpr{X: x, Dot: dot, NamePos: name.NamePos, Name: name}
		}
		if p.tok == LPAREN {
			return p.parseClassPattern(x)
		}
		return &MatchValue{X: x}

	case LPAREN, LBRACK:
		open := p.tok
		lpos := p.nextToken()
		closer := RPAREN
		if open == LBRACK {
			closer = RBRACK
		}
		var elems []Pattern
		trailingComma := false
		for p.tok != closer {
			elems = append(elems, p.parsePatternOrStar())
			trailingComma = false
			if p.tok != COMMA {
				break
			}
			p.nextToken()
			trailingComma = true
		}
		rpos := p.consume(closer)
		if open == LPAREN && len(elems) == 1 && !trailingComma {
			if _, ok := elems[0].(*MatchStar); !ok {
				return elems[0] // group pattern
			}
		}
		p.checkStars(lpos, elems)
		return &MatchSequence{Lbrack: lpos, Elems: elems, Rbrack: rpos}

	case LBRACE:
		lbrace := p.nextToken()
		m := &MatchMapping{Lbrace: lbrace}
		for p.tok != RBRACE {
			if p.tok == STARSTAR {
				p.nextToken()
				m.Rest = p.parseIdent()
				if p.tok == COMMA {
					p.nextToken()
				}
				break
			}
			var key Expr
			if p.tok == IDENT {
				key = p.parseIdent()
				for p.tok == DOT {
					dot := p.nextToken()
					name := p.parseIdent()
					key = &DotExpr{X: key, Dot: dot, NamePos: name.NamePos, Name: name}
				}
				if _, ok := key.(*Ident); ok {
					p.in.error(Start(key), "mapping pattern keys may only match literals and attribute lookups")
				}
			} else {
				key = p.parseLiteralPattern()
			}
			p.consume(COLON)
			m.Keys = append(m.Keys, key)
			m.Values = append(m.Values, p.parsePattern())
			if p.tok != COMMA {
				break
			}
			p.nextToken()
		}
		m.Rbrace = p.consume(RBRACE)
		return m
	}
	p.in.errorf(p.in.pos, "got %#v, want pattern", p.tok)
	panic("unreachable")
}

// parseLiteralPattern parses a literal, optionally negated.
func (p *parser) parseLiteralPattern() Expr {
	if p.tok == MINUS {
		pos := p.nextToken()
		if p.tok != INT && p.tok != FLOAT {
			p.in.errorf(p.in.pos, "got %#v after '-' in pattern, want number", p.tok)
		}
		return &UnaryExpr{OpPos: pos, Op: MINUS, X: p.parsePrimary()}
	}
	switch p.tok {
	case INT, FLOAT, STRING, BYTES, NONE, TRUE, FALSE:
		return p.parsePrimary()
	}
	p.in.errorf(p.in.pos, "got %#v, want literal pattern", p.tok)
	panic("unreachable")
}

// class_pattern = name_or_attr '(' [pattern (',' pattern)*] [keyword_patterns] ')'
func (p *parser) parseClassPattern(cls Expr) Pattern {
	p.consume(LPAREN)
	m := &MatchClass{Cls: cls}
	for p.tok != RPAREN {
		if p.tok == IDENT {
			// Lookahead for keyword pattern: IDENT '='.
			id := p.parseIdent()
			if p.tok == EQ {
				p.nextToken()
				m.KwNames = append(m.KwNames, id)
				m.KwValues = append(m.KwValues, p.parsePattern())
			} else {
				if len(m.KwNames) > 0 {
					p.in.error(id.NamePos, "positional patterns follow keyword patterns")
				}
				m.Args = append(m.Args, p.continuePatternFromIdent(id))
			}
		} else {
			if len(m.KwNames) > 0 {
				p.in.error(p.tokval.pos, "positional patterns follow keyword patterns")
			}
			m.Args = append(m.Args, p.parsePattern())
		}
		if p.tok != COMMA {
			break
		}
		p.nextToken()
	}
	m.Rparen = p.consume(RPAREN)
	return m
}

// continuePatternFromIdent finishes a pattern whose first token, an
// identifier, has already been consumed.
func (p *parser) continuePatternFromIdent(id *Ident) Pattern {
	var pat Pattern
	if p.tok != DOT && p.tok != LPAREN {
		if id.Name == "_" {
			pat = &MatchWildcard{Pos: id.NamePos}
		} else {
			pat = &MatchCapture{Name: id}
		}
	} else {
		var x Expr = id
		for p.tok == DOT {
			dot := p.nextToken()
			name := p.parseIdent()
			x = &DotExpr{X: x, Dot: dot, NamePos: name.NamePos, Name: name}
		}
		if p.tok == LPAREN {
			pat = p.parseClassPattern(x)
		} else {
			pat = &MatchValue{X: x}
		}
	}
	if p.tok == PIPE {
		alts := []Pattern{pat}
		for p.tok == PIPE {
			p.nextToken()
			alts = append(alts, p.parseClosedPattern())
		}
		pat = &MatchOr{Alts: alts}
	}
	if p.tok == AS {
		p.nextToken()
		pat = &MatchAs{Pattern: pat, Name: p.parseIdent()}
	}
	return pat
}

// for_loop_variables = primary_with_suffix (',' primary_with_suffix)* [',']
func (p *parser) parseForLoopVariables() Expr {
	// Avoid parseExpr because it would consume the IN token
	// following x in "for x in y: ...".
	v := p.parseTargetElem()
	if p.tok == COMMA {
		list := []Expr{v}
		for p.tok == COMMA {
			p.nextToken()
			if p.tok == IN {
				break
			}
			list = append(list, p.parseTargetElem())
		}
		v = &TupleExpr{List: list}
	}
	checkTarget(p, v)
	return v
}

func (p *parser) parseTargetElem() Expr {
	if p.tok == STAR {
		pos := p.nextToken()
		return &UnaryExpr{OpPos: pos, Op: STAR, X: p.parsePrimaryWithSuffix()}
	}
	return p.parsePrimaryWithSuffix()
}

// simple_stmt = small_stmt (';' small_stmt)* ';'? NEWLINE
// In REPL mode, it does not consume the NEWLINE.
func (p *parser) parseSimpleStmt(stmts []Stmt, consumeNL bool) []Stmt {
	for {
		stmts = append(stmts, p.parseSmallStmt())
		if p.tok != SEMI {
			break
		}
		p.nextToken() // consume SEMI
		if p.tok == NEWLINE || p.tok == EOF {
			break
		}
	}
	// EOF without NEWLINE occurs in `if x: pass`, for example.
	if p.tok != EOF && consumeNL {
		p.consume(NEWLINE)
	}

	return stmts
}

// small_stmt = RETURN expr?
//            | PASS | BREAK | CONTINUE
//            | RAISE [test ['from' test]]
//            | GLOBAL | NONLOCAL names
//            | DEL exprlist | ASSERT test [',' test]
//            | IMPORT | FROM
//            | expr ('=' | augop) expr   // assign
//            | expr
func (p *parser) parseSmallStmt() Stmt {
	switch p.tok {
	case RETURN:
		pos := p.nextToken() // consume RETURN
		var result Expr
		if p.tok != EOF && p.tok != NEWLINE && p.tok != SEMI {
			result = p.parseExpr(false)
		}
		return &ReturnStmt{Return: pos, Result: result}

	case BREAK, CONTINUE, PASS:
		tok := p.tok
		pos := p.nextToken() // consume it
		return &BranchStmt{Token: tok, TokenPos: pos}

	case RAISE:
		pos := p.nextToken()
		stmt := &RaiseStmt{Raise: pos}
		if p.tok != EOF && p.tok != NEWLINE && p.tok != SEMI {
			stmt.X = p.parseTest()
			if p.tok == FROM {
				p.nextToken()
				stmt.Cause = p.parseTest()
			}
		}
		return stmt

	case GLOBAL, NONLOCAL:
		tok := p.tok
		pos := p.nextToken()
		stmt := &GlobalStmt{Token: tok, TokenPos: pos}
		for {
			stmt.Names = append(stmt.Names, p.parseIdent())
			if p.tok != COMMA {
				break
			}
			p.nextToken()
		}
		return stmt

	case DEL:
		pos := p.nextToken()
		stmt := &DelStmt{Del: pos}
		for {
			x := p.parsePrimaryWithSuffix()
			switch x.(type) {
			case *Ident, *IndexExpr, *DotExpr, *SliceExpr:
			default:
				p.in.errorf(Start(x), "cannot delete %s", describe(x))
			}
			stmt.Targets = append(stmt.Targets, x)
			if p.tok != COMMA {
				break
			}
			p.nextToken()
		}
		return stmt

	case ASSERT:
		pos := p.nextToken()
		stmt := &AssertStmt{Assert: pos, Cond: p.parseTest()}
		if p.tok == COMMA {
			p.nextToken()
			stmt.Msg = p.parseTest()
		}
		return stmt

	case IMPORT:
		pos := p.nextToken()
		mod := p.parseIdent()
		stmt := &ImportStmt{Import: pos, Module: mod}
		alias := mod
		if p.tok == AS {
			p.nextToken()
			alias = p.parseIdent()
		}
		stmt.To = []*Ident{alias}
		if p.tok == COMMA || p.tok == DOT {
			p.in.error(p.tokval.pos, "import of several or dotted modules is not supported")
		}
		return stmt

	case FROM:
		pos := p.nextToken()
		mod := p.parseIdent()
		p.consume(IMPORT)
		stmt := &ImportStmt{Import: pos, Module: mod}
		paren := p.tok == LPAREN
		if paren {
			p.nextToken()
		}
		if p.tok == STAR {
			p.in.error(p.tokval.pos, "wildcard import is not supported")
		}
		for {
			name := p.parseIdent()
			alias := &Ident{NamePos: name.NamePos, Name: name.Name}
			if p.tok == AS {
				p.nextToken()
				alias = p.parseIdent()
			}
			stmt.From = append(stmt.From, name)
			stmt.To = append(stmt.To, alias)
			if p.tok != COMMA {
				break
			}
			p.nextToken()
			if paren && p.tok == RPAREN {
				break
			}
		}
		if paren {
			p.consume(RPAREN)
		}
		return stmt
	}

	// Assignment
	x := p.parseExprOrYield()
	switch p.tok {
	case EQ:
		checkTarget(p, x)
		pos := p.nextToken() // consume EQ
		stmt := &AssignStmt{OpPos: pos, Op: EQ, LHS: x}
		rhs := p.parseExprOrYield()
		for p.tok == EQ {
			checkTarget(p, rhs)
			stmt.More = append(stmt.More, rhs)
			p.nextToken()
			rhs = p.parseExprOrYield()
		}
		stmt.RHS = rhs
		return stmt

	case COLON:
		// annotated assignment: x: T [= v]
		if _, ok := x.(*TupleExpr); ok {
			p.in.error(Start(x), "only single target (not tuple) can be annotated")
		}
		checkTarget(p, x)
		pos := p.nextToken()
		stmt := &AssignStmt{OpPos: pos, Op: EQ, LHS: x, Annot: p.parseTest()}
		if p.tok == EQ {
			p.nextToken()
			stmt.RHS = p.parseExprOrYield()
		}
		return stmt

	case PLUS_EQ, MINUS_EQ, STAR_EQ, SLASH_EQ, SLASHSLASH_EQ, PERCENT_EQ, STARSTAR_EQ,
		AMP_EQ, PIPE_EQ, CIRCUMFLEX_EQ, LTLT_EQ, GTGT_EQ:
		switch x.(type) {
		case *Ident, *DotExpr, *IndexExpr:
		default:
			p.in.errorf(Start(x), "'%s' is an illegal expression for augmented assignment", describe(x))
		}
		op := p.tok
		pos := p.nextToken() // consume op
		rhs := p.parseExprOrYield()
		return &AssignStmt{OpPos: pos, Op: op, LHS: x, RHS: rhs}
	}

	// Expression statement (e.g. function call, doc string).
	return &ExprStmt{X: x}
}

// checkTarget reports an error if x is not a valid assignment target.
func checkTarget(p *parser, x Expr) {
	var check func(x Expr, top bool)
	check = func(x Expr, top bool) {
		switch x := x.(type) {
		case *Ident, *DotExpr, *IndexExpr, *SliceExpr:
			// ok
		case *ParenExpr:
			check(x.X, top)
		case *TupleExpr:
			n := 0
			for _, elem := range x.List {
				if u, ok := elem.(*UnaryExpr); ok && u.Op == STAR {
					n++
					check(u.X, false)
					continue
				}
				check(elem, false)
			}
			if n > 1 {
				p.in.error(Start(x), "multiple starred expressions in assignment")
			}
		case *ListExpr:
			n := 0
			for _, elem := range x.List {
				if u, ok := elem.(*UnaryExpr); ok && u.Op == STAR {
					n++
					check(u.X, false)
					continue
				}
				check(elem, false)
			}
			if n > 1 {
				p.in.error(Start(x), "multiple starred expressions in assignment")
			}
		case *UnaryExpr:
			if x.Op == STAR && top {
				p.in.error(x.OpPos, "starred assignment target must be in a list or tuple")
			}
			p.in.errorf(Start(x), "cannot assign to %s", describe(x))
		default:
			p.in.errorf(Start(x), "cannot assign to %s", describe(x))
		}
	}
	check(x, true)
}

// describe returns a short noun phrase for an expression in messages.
func describe(x Expr) string {
	switch x := x.(type) {
	case *Ident:
		return "name"
	case *Literal:
		return "literal"
	case *CallExpr:
		return "function call"
	case *BinaryExpr, *UnaryExpr:
		return "expression"
	case *CompareExpr:
		return "comparison"
	case *Comprehension:
		return "comprehension"
	case *LambdaExpr:
		return "lambda"
	case *ParenExpr:
		return describe(x.X)
	case *YieldExpr:
		return "yield expression"
	case *CondExpr:
		return "conditional expression"
	case *DictExpr:
		return "dict literal"
	case *SetExpr:
		return "set display"
	case *FStringExpr:
		return "f-string expression"
	case *AssignExpr:
		return "named expression"
	}
	return strings.ToLower(strings.TrimSuffix(fmt.Sprintf("%T", x)[len("*syntax."):], "Expr"))
}

// suite is typically what follows a COLON (e.g. after DEF or FOR).
// suite = simple_stmt | NEWLINE INDENT stmt+ OUTDENT
func (p *parser) parseSuite() []Stmt {
	if p.tok == NEWLINE {
		p.nextToken() // consume NEWLINE
		p.consume(INDENT)
		var stmts []Stmt
		for p.tok != OUTDENT && p.tok != EOF {
			stmts = p.parseStmt(stmts)
		}
		p.consume(OUTDENT)
		return stmts
	}

	return p.parseSimpleStmt(nil, true)
}

func (p *parser) parseIdent() *Ident {
	if p.tok != IDENT {
		p.in.error(p.in.pos, "not an identifier")
	}
	id := &Ident{
		NamePos: p.tokval.pos,
		Name:    p.tokval.raw,
	}
	p.nextToken()
	return id
}

func (p *parser) consume(t Token) Position {
	if p.tok != t {
		p.in.errorf(p.in.pos, "got %#v, want %#v", p.tok, t)
	}
	return p.nextToken()
}

// params = (param COMMA)* param COMMA?
//        |
//
// param = IDENT [':' test]
//       | IDENT [':' test] EQ test
//       | STAR
//       | STAR IDENT
//       | STARSTAR IDENT
//
// parseParams parses a parameter list.  The resulting expressions are of the form:
//
//	*Ident                                          x
//	*Binary{Op: EQ, X: *Ident, Y: Expr}             x=y
//	*Unary{Op: STAR}                                *
//	*Unary{Op: STAR, X: *Ident}                     *args
//	*Unary{Op: STARSTAR, X: *Ident}                 **kwargs
func (p *parser) parseParams(end Token) []Expr {
	var params []Expr
	for p.tok != end && p.tok != EOF {
		if len(params) > 0 {
			p.consume(COMMA)
		}
		if p.tok == end {
			break
		}

		// * or *args or **kwargs
		if p.tok == STAR || p.tok == STARSTAR {
			op := p.tok
			pos := p.nextToken()
			var x Expr
			if op == STARSTAR || p.tok == IDENT {
				x = p.parseIdent()
				p.skipAnnotation(end)
			}
			params = append(params, &UnaryExpr{
				OpPos: pos,
				Op:    op,
				X:     x,
			})
			continue
		}

		// IDENT
		// IDENT = test
		id := p.parseIdent()
		p.skipAnnotation(end)
		if p.tok == EQ { // default value
			eq := p.nextToken()
			dflt := p.parseTest()
			params = append(params, &BinaryExpr{
				X:     id,
				OpPos: eq,
				Op:    EQ,
				Y:     dflt,
			})
			continue
		}

		params = append(params, id)
	}
	return params
}

// skipAnnotation consumes a parameter annotation ": T". Lambdas
// (whose parameter list ends at COLON) have none.
func (p *parser) skipAnnotation(end Token) {
	if end != COLON && p.tok == COLON {
		p.nextToken()
		p.parseTest()
	}
}

// parseExpr parses an expression, possible consisting of a
// comma-separated list of 'test' expressions, some of which may be
// starred.
//
// In many cases we must use parseTest to avoid ambiguity such as
// f(x, y) vs. f((x, y)).
func (p *parser) parseExpr(inParens bool) Expr {
	x := p.parseTestOrStar()
	if p.tok != COMMA {
		return x
	}

	// tuple
	exprs := p.parseExprs([]Expr{x}, inParens)
	return &TupleExpr{List: exprs}
}

// parseExprOrYield parses a yield expression or an expression list.
func (p *parser) parseExprOrYield() Expr {
	if p.tok == YIELD {
		return p.parseYield()
	}
	return p.parseExpr(false)
}

// yield_expr = 'yield' [expr] | 'yield' 'from' test
func (p *parser) parseYield() Expr {
	pos := p.nextToken() // consume YIELD
	if p.fn == nil {
		p.in.error(pos, "'yield' outside function")
	}
	p.fn.HasYield = true
	y := &YieldExpr{Yield: pos}
	if p.tok == FROM {
		p.nextToken()
		y.From = true
		y.X = p.parseTest()
		return y
	}
	switch p.tok {
	case EOF, NEWLINE, SEMI, RPAREN, RBRACK, RBRACE, EQ:
		return y
	}
	y.X = p.parseExpr(false)
	return y
}

func (p *parser) parseTestOrStar() Expr {
	if p.tok == STAR {
		pos := p.nextToken()
		return &UnaryExpr{OpPos: pos, Op: STAR, X: p.parseTestPrec(bitwiseOrPrec)}
	}
	return p.parseTest()
}

// parseExprs parses a comma-separated list of expressions, starting with the comma.
// It is used to parse tuples and list elements.
// expr_list = (',' expr)* ','?
func (p *parser) parseExprs(exprs []Expr, allowTrailingComma bool) []Expr {
	for p.tok == COMMA {
		pos := p.nextToken()
		if terminatesExprList(p.tok) {
			if !allowTrailingComma {
				p.in.error(pos, "unparenthesized tuple with trailing comma")
			}
			break
		}
		exprs = append(exprs, p.parseTestOrStar())
	}
	return exprs
}

// parseTestOrWalrus parses a test, or NAME := test.
func (p *parser) parseTestOrWalrus() Expr {
	x := p.parseTest()
	if p.tok == WALRUS {
		id, ok := x.(*Ident)
		if !ok {
			p.in.errorf(Start(x), "cannot use assignment expressions with %s", describe(x))
		}
		pos := p.nextToken()
		return &AssignExpr{Name: id, OpPos: pos, X: p.parseTest()}
	}
	return x
}

// parseTest parses a 'test', a single-component expression.
func (p *parser) parseTest() Expr {
	p.checkRecursion()
	defer p.decRecursion()
	if p.tok == LAMBDA {
		return p.parseLambda(true)
	}

	x := p.parseTestPrec(0)

	// conditional expression (t IF cond ELSE f)
	if p.tok == IF {
		ifpos := p.nextToken()
		cond := p.parseTestPrec(0)
		if p.tok != ELSE {
			p.in.error(ifpos, "conditional expression without else clause")
		}
		elsepos := p.nextToken()
		else_ := p.parseTest()
		return &CondExpr{If: ifpos, Cond: cond, True: x, ElsePos: elsepos, False: else_}
	}

	return x
}

// parseTestNoCond parses a a single-component expression without
// consuming a trailing 'if expr else expr'.
func (p *parser) parseTestNoCond() Expr {
	if p.tok == LAMBDA {
		return p.parseLambda(false)
	}
	return p.parseTestPrec(0)
}

// parseLambda parses a lambda expression.
// The allowCond flag allows the body to be an 'a if b else c' conditional.
func (p *parser) parseLambda(allowCond bool) Expr {
	lambda := p.nextToken()
	var params []Expr
	if p.tok != COLON {
		params = p.parseParams(COLON)
	}
	p.consume(COLON)

	fn := &LambdaExpr{
		Lambda: lambda,
		Function: Function{
			StartPos: lambda,
			Params:   params,
		},
	}
	saved := p.fn
	p.fn = &fn.Function
	var body Expr
	if allowCond {
		body = p.parseTest()
	} else {
		body = p.parseTestNoCond()
	}
	p.fn = saved
	fn.Body = []Stmt{&ReturnStmt{Return: Start(body), Result: body}}
	return fn
}

func (p *parser) parseTestPrec(prec int) Expr {
	if prec >= len(preclevels) {
		return p.parseUnary()
	}

	// expr = NOT expr
	if p.tok == NOT && prec == int(precedence[NOT]) {
		pos := p.nextToken()
		x := p.parseTestPrec(prec)
		return &UnaryExpr{
			OpPos: pos,
			Op:    NOT,
			X:     x,
		}
	}

	return p.parseBinopExpr(prec)
}

// expr = test (OP test)*
// Uses precedence climbing; see http://www.engr.mun.ca/~theo/Misc/exp_parsing.htm#climbing.
func (p *parser) parseBinopExpr(prec int) Expr {
	x := p.parseTestPrec(prec + 1)
	for {
		// Binary operator of specified precedence?
		opprec := p.opPrec()
		if opprec < prec {
			return x
		}

		// Comparisons are chained, not nested.
		if opprec == compPrec {
			return p.parseComparison(x)
		}

		op := p.tok
		pos := p.nextToken()
		y := p.parseTestPrec(opprec + 1)
		x = &BinaryExpr{OpPos: pos, Op: op, X: x, Y: y}
	}
}

// opPrec returns the precedence of the current token as a binary
// operator. Following an operand, NOT can only begin NOT IN.
func (p *parser) opPrec() int {
	if p.tok == NOT {
		return compPrec
	}
	return int(precedence[p.tok])
}

// parseComparison parses a comparison chain after its first operand.
func (p *parser) parseComparison(x Expr) Expr {
	chain := &CompareExpr{X: []Expr{x}}
	for p.opPrec() == compPrec {
		op := p.tok
		pos := p.nextToken()
		switch {
		case op == NOT:
			if p.tok != IN {
				p.in.errorf(p.in.pos, "got %#v after not, want in", p.tok)
			}
			p.nextToken()
			op = NOT_IN
		case op == IS && p.tok == NOT:
			p.nextToken()
			op = IS_NOT
		}
		chain.Ops = append(chain.Ops, op)
		chain.OpPos = append(chain.OpPos, pos)
		chain.X = append(chain.X, p.parseTestPrec(compPrec+1))
	}
	if len(chain.Ops) == 1 {
		return &BinaryExpr{X: chain.X[0], OpPos: chain.OpPos[0], Op: chain.Ops[0], Y: chain.X[1]}
	}
	return chain
}

// preclevels groups operators of equal precedence.
// Comparisons are nonassociative; other binary operators associate to the left.
// Unary MINUS, unary PLUS, and TILDE have higher precedence so are handled in parseUnary.
// See https://docs.python.org/3/reference/expressions.html#operator-precedence
var preclevels = [...][]Token{
	{OR},  // or
	{AND}, // and
	{NOT}, // not (unary)
	{EQL, NEQ, LT, GT, LE, GE, IN, NOT_IN, IS, IS_NOT}, // == != < > <= >= in not in is is not
	{PIPE},                             // |
	{CIRCUMFLEX},                       // ^
	{AMP},                              // &
	{LTLT, GTGT},                       // << >>
	{MINUS, PLUS},                      // -
	{STAR, PERCENT, SLASH, SLASHSLASH}, // * % / //
}

const (
	compPrec      = 3
	bitwiseOrPrec = 4
)

// precedence maps each operator to its precedence (0-9), or -1 for other tokens.
var precedence [maxToken]int8

func init() {
	for i := range precedence {
		precedence[i] = -1
	}
	for level, tokens := range preclevels {
		for _, tok := range tokens {
			precedence[tok] = int8(level)
		}
	}
}

// unary_expr = '-' unary_expr | '+' unary_expr | '~' unary_expr | power
func (p *parser) parseUnary() Expr {
	if p.tok == MINUS || p.tok == PLUS || p.tok == TILDE {
		op := p.tok
		pos := p.nextToken()
		x := p.parseUnary()
		return &UnaryExpr{
			OpPos: pos,
			Op:    op,
			X:     x,
		}
	}
	return p.parsePower()
}

// power = primary_with_suffix ['**' unary_expr]
func (p *parser) parsePower() Expr {
	x := p.parsePrimaryWithSuffix()
	if p.tok == STARSTAR {
		pos := p.nextToken()
		y := p.parseUnary()
		return &BinaryExpr{X: x, OpPos: pos, Op: STARSTAR, Y: y}
	}
	return x
}

// primary_with_suffix = primary
//                     | primary '.' IDENT
//                     | primary slice_suffix
//                     | primary call_suffix
func (p *parser) parsePrimaryWithSuffix() Expr {
	x := p.parsePrimary()
	for {
		switch p.tok {
		case DOT:
			dot := p.nextToken()
			id := p.parseIdent()
			x = &DotExpr{Dot: dot, X: x, NamePos: id.NamePos, Name: id}
		case LBRACK:
			x = p.parseSliceSuffix(x)
		case LPAREN:
			x = p.parseCallSuffix(x)
		default:
			return x
		}
	}
}

// slice_suffix = '[' expr? ':' expr?  ':' expr? ']'
func (p *parser) parseSliceSuffix(x Expr) Expr {
	lbrack := p.nextToken()
	var lo, hi, step Expr
	if p.tok != COLON {
		y := p.parseExpr(false)

		// index x[y]
		if p.tok == RBRACK {
			rbrack := p.nextToken()
			return &IndexExpr{X: x, Lbrack: lbrack, Y: y, Rbrack: rbrack}
		}

		lo = y
	}

	// slice or substring x[lo:hi:step]
	if p.tok == COLON {
		p.nextToken()
		if p.tok != COLON && p.tok != RBRACK {
			hi = p.parseTest()
		}
	}
	if p.tok == COLON {
		p.nextToken()
		if p.tok != RBRACK {
			step = p.parseTest()
		}
	}
	rbrack := p.consume(RBRACK)
	return &SliceExpr{X: x, Lbrack: lbrack, Lo: lo, Hi: hi, Step: step, Rbrack: rbrack}
}

// call_suffix = '(' arg_list? ')'
func (p *parser) parseCallSuffix(fn Expr) Expr {
	lparen := p.consume(LPAREN)
	var rparen Position
	var args []Expr
	if p.tok == RPAREN {
		rparen = p.nextToken()
	} else {
		args = p.parseArgs()
		rparen = p.consume(RPAREN)
	}
	return &CallExpr{Fn: fn, Lparen: lparen, Args: args, Rparen: rparen}
}

// parseArgs parses a list of actual parameter values (arguments).
// It mirrors the structure of parseParams.
// arg = IDENT '=' test | '*' test | '**' test | test [comp_for]
func (p *parser) parseArgs() []Expr {
	var args []Expr
	for p.tok != RPAREN && p.tok != EOF {
		if len(args) > 0 {
			p.consume(COMMA)
		}
		if p.tok == RPAREN {
			break
		}

		// *args or **kwargs
		if p.tok == STAR || p.tok == STARSTAR {
			op := p.tok
			pos := p.nextToken()
			x := p.parseTest()
			args = append(args, &UnaryExpr{
				OpPos: pos,
				Op:    op,
				X:     x,
			})
			continue
		}

		// We use a different strategy from Bazel here to stay within LL(1).
		// Instead of looking ahead two tokens (IDENT, EQ) we parse
		// 'test = test' then check that the first was an IDENT.
		x := p.parseTestOrWalrus()

		if p.tok == EQ {
			// name = value
			if _, ok := x.(*Ident); !ok {
				p.in.errorf(p.in.pos, "keyword argument must have form name=expr")
			}
			eq := p.nextToken()
			y := p.parseTest()
			x = &BinaryExpr{
				X:     x,
				OpPos: eq,
				Op:    EQ,
				Y:     y,
			}
		} else if p.tok == FOR {
			// sole generator expression argument: f(x for x in y)
			// The call's closing parenthesis also closes the generator.
			start := Start(x)
			clauses := p.parseCompClauses(RPAREN, COMMA)
			if len(args) > 0 || p.tok == COMMA {
				p.in.error(start, "generator expression must be parenthesized")
			}
			x = p.comprehension(start, x, clauses, p.tokval.pos, GeneratorExpr)
		}

		args = append(args, x)
	}
	return args
}

//  primary = IDENT
//          | INT | FLOAT | STRING | BYTES | FSTRING
//          | None | True | False
//          | '[' ...                    // list literal or comprehension
//          | '{' ...                    // dict/set literal or comprehension
//          | '(' ...                    // tuple or parenthesized expression
//          | ('-'|'+'|'~') primary_with_suffix
func (p *parser) parsePrimary() Expr {
	switch p.tok {
	case IDENT:
		return p.parseIdent()

	case INT, FLOAT, BYTES, NONE, TRUE, FALSE:
		var val interface{}
		tok := p.tok
		switch tok {
		case INT:
			if p.tokval.bigInt != nil {
				val = p.tokval.bigInt
			} else {
				val = p.tokval.int
			}
		case FLOAT:
			val = p.tokval.float
		case BYTES:
			val = p.tokval.string
		case TRUE:
			val = true
		case FALSE:
			val = false
		}
		raw := p.tokval.raw
		pos := p.nextToken()
		return &Literal{Token: tok, TokenPos: pos, Raw: raw, Value: val}

	case STRING, FSTRING:
		return p.parseStrings()

	case LBRACK:
		return p.parseList()

	case LBRACE:
		return p.parseDictOrSet()

	case LPAREN:
		lparen := p.nextToken()
		if p.tok == RPAREN {
			// empty tuple
			rparen := p.nextToken()
			return &TupleExpr{Lparen: lparen, Rparen: rparen}
		}
		if p.tok == YIELD {
			y := p.parseYield()
			rparen := p.consume(RPAREN)
			return &ParenExpr{Lparen: lparen, X: y, Rparen: rparen}
		}
		var e Expr
		if p.tok == STAR {
			e = p.parseTestOrStar()
		} else {
			e = p.parseTestOrWalrus()
		}
		if p.tok == FOR {
			comp := p.parseComprehensionSuffix(lparen, e, RPAREN, GeneratorExpr)
			return comp
		}
		if p.tok == COMMA {
			e = &TupleExpr{Lparen: lparen, List: p.parseExprs([]Expr{e}, true)}
		} else if u, ok := e.(*UnaryExpr); ok && u.Op == STAR {
			p.in.error(u.OpPos, "cannot use starred expression here")
		}
		rparen := p.consume(RPAREN)
		if t, ok := e.(*TupleExpr); ok {
			t.Rparen = rparen
		}
		return &ParenExpr{
			Lparen: lparen,
			X:      e,
			Rparen: rparen,
		}

	case MINUS, PLUS, TILDE: // unary
		tok := p.tok
		pos := p.nextToken()
		x := p.parsePrimaryWithSuffix()
		return &UnaryExpr{
			OpPos: pos,
			Op:    tok,
			X:     x,
		}
	}
	p.in.errorf(p.in.pos, "got %#v, want primary expression", p.tok)
	panic("unreachable")
}

// parseStrings parses one or more adjacent string literals, which are
// implicitly concatenated. If any is an f-string the result is an
// FStringExpr.
func (p *parser) parseStrings() Expr {
	start := p.tokval.pos
	var raw strings.Builder
	var parts []FStringPart
	var values []Expr
	isF := false
	for p.tok == STRING || p.tok == FSTRING {
		if raw.Len() > 0 {
			raw.WriteByte(' ')
		}
		raw.WriteString(p.tokval.raw)
		if p.tok == FSTRING {
			isF = true
			for _, part := range p.tokval.fstring {
				parts = append(parts, part)
				if part.Expr != "" {
					values = append(values, p.parseFStringField(part))
				} else {
					values = append(values, nil)
				}
			}
		} else {
			parts = append(parts, FStringPart{Lit: p.tokval.string})
			values = append(values, nil)
		}
		p.nextToken()
	}
	if !isF {
		var s strings.Builder
		for _, part := range parts {
			s.WriteString(part.Lit)
		}
		return &Literal{Token: STRING, TokenPos: start, Raw: raw.String(), Value: s.String()}
	}
	return &FStringExpr{TokenPos: start, Raw: raw.String(), Parts: parts, Values: values}
}

// parseFStringField parses the expression of an f-string replacement field.
func (p *parser) parseFStringField(part FStringPart) Expr {
	src := FilePortion{Content: []byte("(" + part.Expr + ")"), FirstLine: part.Pos.Line, FirstCol: part.Pos.Col - 1}
	x, err := ParseExpr(part.Pos.Filename(), src)
	if err != nil {
		if e, ok := err.(Error); ok {
			p.in.error(e.Pos, "f-string: "+e.Msg)
		}
		p.in.error(part.Pos, err.Error())
	}
	if paren, ok := x.(*ParenExpr); ok {
		x = paren.X
	}
	return x
}

// list = '[' ']'
//      | '[' expr ']'
//      | '[' expr expr_list ']'
//      | '[' expr (FOR loop_variables IN expr)+ ']'
func (p *parser) parseList() Expr {
	lbrack := p.nextToken()
	if p.tok == RBRACK {
		// empty List
		rbrack := p.nextToken()
		return &ListExpr{Lbrack: lbrack, Rbrack: rbrack}
	}

	x := p.parseTestOrStar()

	if p.tok == FOR {
		// list comprehension
		return p.parseComprehensionSuffix(lbrack, x, RBRACK, ListComp)
	}

	exprs := []Expr{x}
	if p.tok == COMMA {
		// multi-item list
		exprs = p.parseExprs(exprs, true) // allow trailing comma
	}

	rbrack := p.consume(RBRACK)
	return &ListExpr{Lbrack: lbrack, List: exprs, Rbrack: rbrack}
}

// dict = '{' '}'
//      | '{' dict_entry_list '}'
//      | '{' dict_entry FOR loop_variables IN expr '}'
// set  = '{' expr (',' expr)* '}'
//      | '{' expr FOR loop_variables IN expr '}'
func (p *parser) parseDictOrSet() Expr {
	lbrace := p.nextToken()
	if p.tok == RBRACE {
		// empty dict
		rbrace := p.nextToken()
		return &DictExpr{Lbrace: lbrace, Rbrace: rbrace}
	}

	first := p.parseTestOrStar()
	if p.tok != COLON {
		// set display or set comprehension
		if p.tok == FOR {
			return p.parseComprehensionSuffix(lbrace, first, RBRACE, SetComp)
		}
		list := []Expr{first}
		if p.tok == COMMA {
			list = p.parseExprs(list, true)
		}
		rbrace := p.consume(RBRACE)
		return &SetExpr{Lbrace: lbrace, List: list, Rbrace: rbrace}
	}

	colon := p.nextToken()
	x := &DictEntry{Key: first, Colon: colon, Value: p.parseTest()}

	if p.tok == FOR {
		// dict comprehension
		return p.parseComprehensionSuffix(lbrace, x, RBRACE, DictComp)
	}

	entries := []Expr{x}
	for p.tok == COMMA {
		p.nextToken()
		if p.tok == RBRACE {
			break
		}
		entries = append(entries, p.parseDictEntry())
	}

	rbrace := p.consume(RBRACE)
	return &DictExpr{Lbrace: lbrace, List: entries, Rbrace: rbrace}
}

// dict_entry = test ':' test
func (p *parser) parseDictEntry() *DictEntry {
	k := p.parseTest()
	colon := p.consume(COLON)
	v := p.parseTest()
	return &DictEntry{Key: k, Colon: colon, Value: v}
}

// comp_suffix = FOR loopvars IN expr comp_suffix
//             | IF expr comp_suffix
//             | ']'  or  ')'                              (end)
//
// There can be multiple FOR/IF clauses; the first is always a FOR.
func (p *parser) parseComprehensionSuffix(lbrace Position, body Expr, endBrace Token, kind CompKind) Expr {
	clauses := p.parseCompClauses(endBrace)
	rbrace := p.nextToken()
	return p.comprehension(lbrace, body, clauses, rbrace, kind)
}

// parseCompClauses parses the FOR and IF clauses of a comprehension,
// up to but not including a token in end.
func (p *parser) parseCompClauses(end ...Token) []Node {
	var clauses []Node
	for !p.tokIn(end) {
		if p.tok == FOR {
			pos := p.nextToken()
			vars := p.parseForLoopVariables()
			in := p.consume(IN)
			// Following Python 3, the operand of IN cannot be:
			// - a conditional expression ('x if y else z'),
			//   due to conflicts in Python grammar
			//  ('if' is used by the comprehension);
			// - a lambda expression
			// - an unparenthesized tuple.
			x := p.parseTestPrec(0)
			clauses = append(clauses, &ForClause{For: pos, Vars: vars, In: in, X: x})
		} else if p.tok == IF {
			pos := p.nextToken()
			cond := p.parseTestNoCond()
			clauses = append(clauses, &IfClause{If: pos, Cond: cond})
		} else {
			p.in.errorf(p.in.pos, "got %#v, want '%s', for, or if", p.tok, end[0])
		}
	}
	return clauses
}

func (p *parser) tokIn(toks []Token) bool {
	for _, t := range toks {
		if p.tok == t {
			return true
		}
	}
	return false
}

func (p *parser) comprehension(lbrace Position, body Expr, clauses []Node, rbrace Position, kind CompKind) Expr {
	if u, ok := body.(*UnaryExpr); ok && u.Op == STAR {
		p.in.error(u.OpPos, "iterable unpacking cannot be used in comprehension")
	}
	return &Comprehension{
		Kind:    kind,
		Lbrack:  lbrace,
		Body:    body,
		Clauses: clauses,
		Rbrack:  rbrace,
	}
}

func terminatesExprList(tok Token) bool {
	switch tok {
	case EOF, NEWLINE, EQ, RBRACE, RBRACK, RPAREN, SEMI, COLON:
		return true
	}
	return false
}

// Nesting limit for expressions, to keep the recursive-descent parser
// from exhausting the goroutine stack on pathological input.
const maxDepth = 500

func (p *parser) checkRecursion() {
	p.depth++
	if p.depth > maxDepth {
		p.in.error(p.in.pos, "expression nesting too deep")
	}
}

func (p *parser) decRecursion() { p.depth-- }
