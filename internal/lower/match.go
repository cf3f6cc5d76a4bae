package lower

import (
	"go.p2w.dev/internal/diag"
	"go.p2w.dev/internal/repr"
	"go.p2w.dev/syntax"
)

// match lowers a match statement to a chain of if statements.
// The first case whose pattern matches and whose guard holds runs.
// Captures are bound by BindExpr conditions as the test proceeds,
// so a failing guard leaves them bound, as in the source language.
func (l *lowerer) match(s *syntax.MatchStmt) []syntax.Stmt {
	subj := l.scope.NewLocal(s.Match, "subject")
	out := []syntax.Stmt{l.set(subj, s.Subject)}

	exhaustive := false
	for i, c := range s.Cases {
		if c.Guard == nil && irrefutable(c.Pattern) {
			if i < len(s.Cases)-1 {
				l.r.Errorf(c.Pattern, diag.SyntaxShape, "%s makes remaining patterns unreachable", describe(c.Pattern))
			}
			exhaustive = true
		}
	}
	if l.opts.ExhaustiveMatch && !exhaustive {
		l.r.Errorf(s, diag.SyntaxShape, "match statement is not exhaustive: add a final case _")
	}

	var tail []syntax.Stmt
	for i := len(s.Cases) - 1; i >= 0; i-- {
		c := s.Cases[i]
		cond := l.pattern(c.Pattern, l.ref(c.Case, subj))
		if c.Guard != nil {
			cond = l.and(cond, c.Guard)
		}
		body := l.block(c.Body)
		if cond == nil {
			tail = body
			continue
		}
		tail = []syntax.Stmt{&syntax.IfStmt{If: c.Case, Cond: cond, True: body, False: tail}}
	}
	return append(out, tail...)
}

// irrefutable reports whether p matches every subject.
func irrefutable(p syntax.Pattern) bool {
	switch p := p.(type) {
	case *syntax.MatchWildcard, *syntax.MatchCapture:
		return true
	case *syntax.MatchAs:
		return irrefutable(p.Pattern)
	case *syntax.MatchOr:
		for _, alt := range p.Alts {
			if irrefutable(alt) {
				return true
			}
		}
	}
	return false
}

func describe(p syntax.Pattern) string {
	if c, ok := p.(*syntax.MatchCapture); ok {
		return "name capture '" + c.Name.Name + "'"
	}
	return "irrefutable pattern"
}

// pattern returns the condition under which subject s matches p, or
// nil if p matches unconditionally without binding anything.
func (l *lowerer) pattern(p syntax.Pattern, s syntax.Expr) syntax.Expr {
	pos := syntax.Start(p)
	switch p := p.(type) {
	case *syntax.MatchWildcard:
		return nil

	case *syntax.MatchCapture:
		return l.bind(p.Name, s)

	case *syntax.MatchValue:
		if singleton(p.X) {
			return l.intrinsic(pos, "is", s, p.X)
		}
		return l.intrinsic(pos, "eq", s, p.X)

	case *syntax.MatchAs:
		return l.and(l.pattern(p.Pattern, s), l.bind(p.Name, l.dup(s)))

	case *syntax.MatchOr:
		var cond syntax.Expr
		for _, alt := range p.Alts {
			c := l.pattern(alt, l.dup(s))
			if c == nil {
				c = l.trueCond(pos)
			}
			if cond == nil {
				cond = c
			} else {
				cond = l.or(cond, c)
			}
		}
		return cond

	case *syntax.MatchSequence:
		star := -1
		for i, elem := range p.Elems {
			if _, ok := elem.(*syntax.MatchStar); ok {
				star = i
			}
		}
		fixed := len(p.Elems)
		hasStar := 0
		if star >= 0 {
			fixed--
			hasStar = 1
		}
		cond := syntax.Expr(l.intrinsic(pos, "match_seq", s, l.static(pos, fixed), l.static(pos, hasStar)))
		for i, elem := range p.Elems {
			epos := syntax.Start(elem)
			if st, ok := elem.(*syntax.MatchStar); ok {
				if st.Name != nil {
					// elements between the star's position and the trailing fixed ones
					rest := l.intrinsic(epos, "seq_slice", l.dup(s), l.static(epos, i), l.static(epos, len(p.Elems)-i-1))
					cond = l.and(cond, l.bind(st.Name, rest))
				}
				continue
			}
			index := i
			if star >= 0 && i > star {
				index = i - len(p.Elems) // counted from the end
			}
			item := l.intrinsic(epos, "seq_item", l.dup(s), l.static(epos, index))
			cond = l.and(cond, l.sub(elem, item))
		}
		return cond

	case *syntax.MatchMapping:
		cond := syntax.Expr(l.intrinsic(pos, "match_map", s))
		for i, key := range p.Keys {
			kpos := syntax.Start(key)
			cond = l.and(cond, l.intrinsic(kpos, "map_has", l.dup(s), key))
			item := l.intrinsic(kpos, "map_get", l.dup(s), key)
			if c := l.sub(p.Values[i], item); c != nil {
				cond = l.and(cond, c)
			}
		}
		if p.Rest != nil {
			keys := &syntax.TupleExpr{Lparen: pos, List: p.Keys, Rparen: pos}
			l.info.Set(keys, repr.RefOf("tuple"))
			cond = l.and(cond, l.bind(p.Rest, l.intrinsic(pos, "map_rest", l.dup(s), keys)))
		}
		return cond

	case *syntax.MatchClass:
		cond := syntax.Expr(l.intrinsic(pos, "isinstance", s, p.Cls))
		for i, arg := range p.Args {
			apos := syntax.Start(arg)
			item := l.intrinsic(apos, "match_arg", l.dup(s), l.static(apos, i))
			cond = l.and(cond, l.sub(arg, item))
		}
		for i, name := range p.KwNames {
			item := l.intrinsic(name.NamePos, "getattr", l.dup(s), l.strLit(name.NamePos, name.Name))
			cond = l.and(cond, l.sub(p.KwValues[i], item))
		}
		return cond
	}
	diag.Invariant(p, "unexpected pattern %T", p)
	panic("unreachable")
}

// sub returns the condition that item, a component of the subject,
// matches p. Components matched against anything but a capture are
// first bound to a temporary so they are computed once.
func (l *lowerer) sub(p syntax.Pattern, item syntax.Expr) syntax.Expr {
	switch p := p.(type) {
	case *syntax.MatchWildcard:
		return nil
	case *syntax.MatchCapture:
		return l.bind(p.Name, item)
	}
	t := l.scope.NewLocal(syntax.Start(p), "item")
	return l.and(l.bind(t, item), l.pattern(p, l.ref(syntax.Start(p), t)))
}

// dup returns a fresh copy of a subject expression for reuse.
// Subjects are always variables.
func (l *lowerer) dup(s syntax.Expr) syntax.Expr {
	id := s.(*syntax.Ident)
	return l.ref(id.NamePos, id)
}

// singleton reports whether x is None, True or False, which match by identity.
func singleton(x syntax.Expr) bool {
	if c, ok := x.(*syntax.ConvExpr); ok {
		x = c.X
	}
	lit, ok := x.(*syntax.Literal)
	return ok && (lit.Token == syntax.NONE || lit.Token == syntax.TRUE || lit.Token == syntax.FALSE)
}

func (l *lowerer) trueCond(pos syntax.Position) syntax.Expr {
	lit := &syntax.Literal{Token: syntax.TRUE, TokenPos: pos, Value: true}
	l.info.Set(lit, repr.BoolRep)
	return lit
}
