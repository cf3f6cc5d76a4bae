// Package diag defines the compile-time error taxonomy shared by every
// stage of the compiler, and the collector that sorts errors and
// suppresses cascades.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"go.p2w.dev/syntax"
)

// A Kind classifies a compile error.
type Kind uint8

const (
	// SyntaxShape: a construct outside the supported subset reached a
	// stage that cannot lower it.
	SyntaxShape Kind = iota
	// UnboundName: a name is bound by no enclosing scope.
	UnboundName
	// RepresentationConflict: an internal invariant was violated.
	RepresentationConflict
	// ClassLayout: base classes cannot be linearized or laid out.
	ClassLayout
)

var kindNames = [...]string{
	SyntaxShape:            "SyntaxShapeError",
	UnboundName:            "UnboundNameError",
	RepresentationConflict: "RepresentationConflictError",
	ClassLayout:            "ClassLayoutError",
}

func (k Kind) String() string { return kindNames[k] }

// An Error is a compile error with a source position.
type Error struct {
	Pos  syntax.Position
	End  syntax.Position // end of the offending node, if known
	Kind Kind
	Msg  string
}

func (e Error) Error() string { return e.Pos.String() + ": " + e.Msg }

// An ErrorList is a list of errors sorted by position.
// It implements error when non-empty.
type ErrorList []Error

func (l ErrorList) Len() int      { return len(l) }
func (l ErrorList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }
func (l ErrorList) Less(i, j int) bool {
	p, q := l[i].Pos, l[j].Pos
	if p.Filename() != q.Filename() {
		return p.Filename() < q.Filename()
	}
	return p.Before(q)
}

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var b strings.Builder
	b.WriteString(l[0].Error())
	fmt.Fprintf(&b, " (and %d more errors)", len(l)-1)
	return b.String()
}

// Err returns l as an error, or nil if l is empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// A Reporter collects the errors of one compilation.
//
// An error whose position lies within the span of a node that already
// has an error is dropped: it is almost always a consequence of the
// first one.
type Reporter struct {
	errs  ErrorList
	spans []span
}

type span struct{ start, end syntax.Position }

func (s span) contains(p syntax.Position) bool {
	if p.Filename() != s.start.Filename() {
		return false
	}
	return !p.Before(s.start) && !s.end.Before(p)
}

// Errorf reports an error of the given kind about node n.
func (r *Reporter) Errorf(n syntax.Node, kind Kind, format string, args ...interface{}) {
	start, end := n.Span()
	r.add(start, end, kind, fmt.Sprintf(format, args...))
}

// ErrorAt reports an error at a position with no known extent.
func (r *Reporter) ErrorAt(pos syntax.Position, kind Kind, format string, args ...interface{}) {
	r.add(pos, pos, kind, fmt.Sprintf(format, args...))
}

func (r *Reporter) add(start, end syntax.Position, kind Kind, msg string) {
	for _, s := range r.spans {
		if s.contains(start) {
			return
		}
	}
	if end.Before(start) {
		end = start
	}
	r.spans = append(r.spans, span{start, end})
	r.errs = append(r.errs, Error{Pos: start, End: end, Kind: kind, Msg: msg})
}

// Failed reports whether any error has been reported.
func (r *Reporter) Failed() bool { return len(r.errs) > 0 }

// Errors returns the reported errors sorted by position.
func (r *Reporter) Errors() ErrorList {
	l := append(ErrorList(nil), r.errs...)
	sort.Stable(l)
	return l
}

// Recover converts a panic raised by a stage's invariant checks into a
// RepresentationConflict error at pos. Use it with defer.
func (r *Reporter) Recover(stage string, pos syntax.Position) {
	switch e := recover().(type) {
	case nil:
	case Error:
		r.add(e.Pos, e.End, e.Kind, e.Msg)
	default:
		r.errs = append(r.errs, Error{
			Pos:  pos,
			End:  pos,
			Kind: RepresentationConflict,
			Msg:  fmt.Sprintf("internal error in %s: %v", stage, e),
		})
	}
}

// Invariant panics with a RepresentationConflict error about n.
// Stages call it when their input violates an invariant that an
// earlier stage should have established.
func Invariant(n syntax.Node, format string, args ...interface{}) {
	start, end := n.Span()
	panic(Error{Pos: start, End: end, Kind: RepresentationConflict, Msg: "internal error: " + fmt.Sprintf(format, args...)})
}

// FromSyntax converts a scanner or parser error.
func FromSyntax(err syntax.Error) Error {
	return Error{Pos: err.Pos, End: err.Pos, Kind: SyntaxShape, Msg: err.Msg}
}
