// Package repr assigns a storage representation to every expression
// of a resolved file and inserts explicit conversions where
// representations meet.
//
// Integers whose range is statically known to fit in 64 bits live
// unboxed in i64 locals; an integer that may outgrow that is a boxed
// int object whose arithmetic promotes to an arbitrary-precision
// record at run time. Floats and booleans of unboxed locals are f64
// and i32. Everything that flows into a container, a call, a global,
// a cell, an attribute or a generator record is boxed.
package repr

import (
	"fmt"
	"math"
)

// A Kind is the category of a representation.
type Kind uint8

const (
	Ref      Kind = iota // boxed reference of any type
	SmallInt             // unboxed i64 within [Lo, Hi]
	BigNum               // boxed int object, any size
	Float                // unboxed f64
	Bool                 // unboxed i32 0 or 1
	String               // boxed str
	Bytes                // boxed bytes
	None                 // the None constant

	unknown Kind = 255 // not yet inferred
)

var kindNames = [...]string{
	Ref:      "ref",
	SmallInt: "smallint",
	BigNum:   "bignum",
	Float:    "float",
	Bool:     "bool",
	String:   "string",
	Bytes:    "bytes",
	None:     "none",
}

func (k Kind) String() string {
	if k == unknown {
		return "unknown"
	}
	return kindNames[k]
}

// A Rep is the representation of a value.
type Rep struct {
	Kind   Kind
	Lo, Hi int64  // bounds of a SmallInt
	Of     string // static type of a Ref, if known: "list", "tuple", "dict", "set", "function"
}

// Common representations.
var (
	AnyRef   = Rep{Kind: Ref}
	AnyInt   = Rep{Kind: SmallInt, Lo: math.MinInt64, Hi: math.MaxInt64}
	Big      = Rep{Kind: BigNum}
	FloatRep = Rep{Kind: Float}
	BoolRep  = Rep{Kind: Bool}
	StrRep   = Rep{Kind: String}
	BytesRep = Rep{Kind: Bytes}
	NoneRep  = Rep{Kind: None}

	bottom = Rep{Kind: unknown}
)

// Int returns the SmallInt representation of values in [lo, hi].
func Int(lo, hi int64) Rep { return Rep{Kind: SmallInt, Lo: lo, Hi: hi} }

// RefOf returns a boxed representation of a value of the named type.
func RefOf(typ string) Rep { return Rep{Kind: Ref, Of: typ} }

func (r Rep) String() string {
	switch r.Kind {
	case SmallInt:
		if r == AnyInt {
			return "smallint"
		}
		return fmt.Sprintf("smallint[%d,%d]", r.Lo, r.Hi)
	case Ref:
		if r.Of != "" {
			return "ref(" + r.Of + ")"
		}
	}
	return r.Kind.String()
}

// A Storage is the machine type that holds a value of a representation.
type Storage uint8

const (
	Boxed Storage = iota // (ref null eq)
	I64
	F64
	I32
)

// Storage returns the machine type of r.
func (r Rep) Storage() Storage {
	switch r.Kind {
	case SmallInt:
		return I64
	case Float:
		return F64
	case Bool:
		return I32
	}
	return Boxed
}

// Unboxed reports whether values of r are not heap references.
func (r Rep) Unboxed() bool { return r.Storage() != Boxed }

// IsInt reports whether r holds only integers.
func (r Rep) IsInt() bool { return r.Kind == SmallInt || r.Kind == BigNum }

// numeric reports whether r is an int or float.
func (r Rep) numeric() bool { return r.IsInt() || r.Kind == Float }

// Join returns the least representation that holds values of both x and y.
func Join(x, y Rep) Rep {
	switch {
	case x == y:
		return x
	case x.Kind == unknown:
		return y
	case y.Kind == unknown:
		return x
	case x.Kind == SmallInt && y.Kind == SmallInt:
		return Int(min64(x.Lo, y.Lo), max64(x.Hi, y.Hi))
	case x.IsInt() && y.IsInt():
		return Big
	case x.Kind == y.Kind && x.Kind != Ref:
		return Rep{Kind: x.Kind}
	}
	return AnyRef
}

func min64(x, y int64) int64 {
	if x < y {
		return x
	}
	return y
}

func max64(x, y int64) int64 {
	if x > y {
		return x
	}
	return y
}
