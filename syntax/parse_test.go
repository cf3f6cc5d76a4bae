// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax_test

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"

	"go.p2w.dev/internal/chunkedfile"
	"go.p2w.dev/p2wtest"
	"go.p2w.dev/syntax"
)

func TestExprParseTrees(t *testing.T) {
	for _, test := range []struct {
		input, want string
	}{
		{`print(1)`,
			`(CallExpr Fn=print Args=(1))`},
		{"print(1)\n",
			`(CallExpr Fn=print Args=(1))`},
		{`x + 1`,
			`(BinaryExpr X=x Op=+ Y=1)`},
		{`[x for x in y]`,
			`(Comprehension Body=x Clauses=((ForClause Vars=x X=y)))`},
		{`{x for x in y if x}`,
			`(Comprehension Kind=1 Body=x Clauses=((ForClause Vars=x X=y) (IfClause Cond=x)))`},
		{`{k: v for k, v in d}`,
			`(Comprehension Kind=2 Body=(DictEntry Key=k Value=v) Clauses=((ForClause Vars=(TupleExpr List=(k v)) X=d)))`},
		{`sum(x for x in y)`,
			`(CallExpr Fn=sum Args=((Comprehension Kind=3 Body=x Clauses=((ForClause Vars=x X=y)))))`},
		{`all(n % 2 == 0 for n in nums if n)`,
			`(CallExpr Fn=all Args=((Comprehension Kind=3 Body=(BinaryExpr X=(BinaryExpr X=n Op=% Y=2) Op=== Y=0) Clauses=((ForClause Vars=n X=nums) (IfClause Cond=n)))))`},
		{`x[i].f(42)`,
			`(CallExpr Fn=(DotExpr X=(IndexExpr X=x Y=i) Name=f) Args=(42))`},
		{`x.f()`,
			`(CallExpr Fn=(DotExpr X=x Name=f))`},
		{`x+y*z`,
			`(BinaryExpr X=x Op=+ Y=(BinaryExpr X=y Op=* Y=z))`},
		{`x%y-z`,
			`(BinaryExpr X=(BinaryExpr X=x Op=% Y=y) Op=- Y=z)`},
		{`a + b not in c`,
			`(BinaryExpr X=(BinaryExpr X=a Op=+ Y=b) Op=not in Y=c)`},
		{`a is not None`,
			`(BinaryExpr X=a Op=is not Y=None)`},
		{`a < b <= c`,
			`(CompareExpr X=(a b c) Ops=(< <=))`},
		{`not a == b`,
			`(UnaryExpr Op=not X=(BinaryExpr X=a Op=== Y=b))`},
		{`-2 ** 2`,
			`(UnaryExpr Op=- X=(BinaryExpr X=2 Op=** Y=2))`},
		{`2 ** -1`,
			`(BinaryExpr X=2 Op=** Y=(UnaryExpr Op=- X=1))`},
		{`a | b ^ c & d << 1`,
			`(BinaryExpr X=a Op=| Y=(BinaryExpr X=b Op=^ Y=(BinaryExpr X=c Op=& Y=(BinaryExpr X=d Op=<< Y=1))))`},
		{`lambda x, *args, **kwargs: None`,
			`(LambdaExpr Function=(Function Params=(x (UnaryExpr Op=* X=args) (UnaryExpr Op=** X=kwargs)) Body=((ReturnStmt Result=None))))`},
		{`{"one": 1}`,
			`(DictExpr List=((DictEntry Key="one" Value=1)))`},
		{`{1, 2}`,
			`(SetExpr List=(1 2))`},
		{`a[i]`,
			`(IndexExpr X=a Y=i)`},
		{`a[i:]`,
			`(SliceExpr X=a Lo=i)`},
		{`a[:j]`,
			`(SliceExpr X=a Hi=j)`},
		{`a[::]`,
			`(SliceExpr X=a)`},
		{`a[::k]`,
			`(SliceExpr X=a Step=k)`},
		{`[]`,
			`(ListExpr)`},
		{`[1,]`,
			`(ListExpr List=(1))`},
		{`[1, *rest]`,
			`(ListExpr List=(1 (UnaryExpr Op=* X=rest)))`},
		{`()`,
			`(TupleExpr)`},
		{`(4,)`,
			`(ParenExpr X=(TupleExpr List=(4)))`},
		{`(4)`,
			`(ParenExpr X=4)`},
		{`1, 2, 3`,
			`(TupleExpr List=(1 2 3))`},
		{`1, 2,`,
			`unparenthesized tuple with trailing comma`},
		{`a if b else c`,
			`(CondExpr Cond=b True=a False=c)`},
		{`(n := 10)`,
			`(ParenExpr X=(AssignExpr Name=n X=10))`},
		{`f(a, *b, c=1, **d)`,
			`(CallExpr Fn=f Args=(a (UnaryExpr Op=* X=b) (BinaryExpr X=c Op== Y=1) (UnaryExpr Op=** X=d)))`},
		{`"a" 'b'`,
			`"ab"`},
		{`b"\x00"`,
			`b"\x00"`},
		{`123456789012345678901234567890`,
			`123456789012345678901234567890`},
		{`0x1F + 0o17 + 0b101`,
			`(BinaryExpr X=(BinaryExpr X=31 Op=+ Y=15) Op=+ Y=5)`},
		{`f"x={x!r:>4}"`,
			`(FStringExpr Raw=f"x={x!r:>4}" Parts=((FStringPart Lit=x=) (FStringPart Expr=x Conv=114 Spec=>4 HasSpec)) Values=(nil x))`},
		{`f(x for x in y, 1)`,
			`generator expression must be parenthesized`},
		{`yield 1`,
			`got yield, want primary expression`},
	} {
		e, err := syntax.ParseExpr("foo.py", test.input)
		var got string
		if err != nil {
			got = stripPos(err)
		} else {
			got = treeString(e)
		}
		if test.want != got {
			t.Errorf("parse `%s` = %s, want %s", test.input, got, test.want)
		}
	}
}

func TestStmtParseTrees(t *testing.T) {
	for _, test := range []struct {
		input, want string
	}{
		{`print(1)`,
			`(ExprStmt X=(CallExpr Fn=print Args=(1)))`},
		{`return 1, 2`,
			`(ReturnStmt Result=(TupleExpr List=(1 2)))`},
		{`return`,
			`(ReturnStmt)`},
		{`for i in "abc": break`,
			`(ForStmt Vars=i X="abc" Body=((BranchStmt Token=break)))`},
		{`for a, *b in c: pass`,
			`(ForStmt Vars=(TupleExpr List=(a (UnaryExpr Op=* X=b))) X=c Body=((BranchStmt Token=pass)))`},
		{`while True: continue`,
			`(WhileStmt Cond=True Body=((BranchStmt Token=continue)))`},
		{`while x: pass
else: y`,
			`(WhileStmt Cond=x Body=((BranchStmt Token=pass)) Else=((ExprStmt X=y)))`},
		{`if True: pass`,
			`(IfStmt Cond=True True=((BranchStmt Token=pass)))`},
		{`if True: a
elif x: b
else: c`,
			`(IfStmt Cond=True True=((ExprStmt X=a)) False=((IfStmt Cond=x True=((ExprStmt X=b)) False=((ExprStmt X=c)))))`},
		{`x, y = 1, 2`,
			`(AssignStmt Op== LHS=(TupleExpr List=(x y)) RHS=(TupleExpr List=(1 2)))`},
		{`a = b = c`,
			`(AssignStmt Op== LHS=a More=(b) RHS=c)`},
		{`x += 1`,
			`(AssignStmt Op=+= LHS=x RHS=1)`},
		{`x //= 2`,
			`(AssignStmt Op=//= LHS=x RHS=2)`},
		{`n: int = 3`,
			`(AssignStmt Op== LHS=n Annot=int RHS=3)`},
		{`del x, y[0], z.f`,
			`(DelStmt Targets=(x (IndexExpr X=y Y=0) (DotExpr X=z Name=f)))`},
		{`assert x, "msg"`,
			`(AssertStmt Cond=x Msg="msg")`},
		{`raise ValueError("x") from e`,
			`(RaiseStmt X=(CallExpr Fn=ValueError Args=("x")) Cause=e)`},
		{`raise`,
			`(RaiseStmt)`},
		{`global a, b`,
			`(GlobalStmt Token=global Names=(a b))`},
		{`nonlocal n`,
			`(GlobalStmt Token=nonlocal Names=(n))`},
		{`import math`,
			`(ImportStmt Module=math To=(math))`},
		{`import math as m`,
			`(ImportStmt Module=math To=(m))`},
		{`from math import sqrt, pi as PI`,
			`(ImportStmt Module=math From=(sqrt pi) To=(sqrt PI))`},
		{`def f(x, y=1, *args, z, **kw) -> int: pass`,
			`(DefStmt Name=f Function=(Function Params=(x (BinaryExpr X=y Op== Y=1) (UnaryExpr Op=* X=args) z (UnaryExpr Op=** X=kw)) Body=((BranchStmt Token=pass))))`},
		{`def f(a: int, b: str = "") : pass`,
			`(DefStmt Name=f Function=(Function Params=(a (BinaryExpr X=b Op== Y="")) Body=((BranchStmt Token=pass))))`},
		{`def g(): yield 1`,
			`(DefStmt Name=g Function=(Function Body=((ExprStmt X=(YieldExpr X=1))) HasYield))`},
		{`def g(): x = yield from y`,
			`(DefStmt Name=g Function=(Function Body=((AssignStmt Op== LHS=x RHS=(YieldExpr From X=y))) HasYield))`},
		{`class C(A, B): pass`,
			`(ClassStmt Name=C Bases=(A B) Body=((BranchStmt Token=pass)))`},
		{`with open(f) as g, h: pass`,
			`(WithStmt Items=((WithItem X=(CallExpr Fn=open Args=(f)) Var=g) (WithItem X=h)) Body=((BranchStmt Token=pass)))`},
	} {
		f, err := syntax.Parse("foo.py", test.input)
		if err != nil {
			t.Errorf("parse `%s` failed: %v", test.input, stripPos(err))
			continue
		}
		if got := treeString(f.Stmts[0]); test.want != got {
			t.Errorf("parse `%s` = %s, want %s", test.input, got, test.want)
		}
	}
}

// TestStmtParseErrors covers statements the parser rejects.
func TestStmtParseErrors(t *testing.T) {
	for _, test := range []struct {
		input, want string
	}{
		{`f() = 1`, `cannot assign to function call`},
		{`a, *b, *c = x`, `multiple starred expressions in assignment`},
		{`x + 1 += 2`, `'expression' is an illegal expression for augmented assignment`},
		{`from math import *`, `wildcard import is not supported`},
		{`x = yield 1`, `'yield' outside function`},
		{"try:\n  pass\n", `try statement requires an except or finally clause`},
		{"try:\n  pass\nexcept:\n  pass\nexcept E:\n  pass\n", `default 'except:' must be last`},
		{"async def f(): pass", `async is not supported`},
		{"x = a not b", `got identifier after not, want in`},
	} {
		_, err := syntax.Parse("foo.py", test.input)
		if err == nil {
			t.Errorf("parse `%s` succeeded, want error %s", test.input, test.want)
			continue
		}
		if got := stripPos(err); got != test.want {
			t.Errorf("parse `%s` = %s, want %s", test.input, got, test.want)
		}
	}
}

// TestFileParseTrees tests sequences of statements, and particularly
// handling of indentation, newlines, line continuations, and blank lines.
func TestFileParseTrees(t *testing.T) {
	for _, test := range []struct {
		input, want string
	}{
		{`x = 1
print(x)`,
			`(AssignStmt Op== LHS=x RHS=1)
(ExprStmt X=(CallExpr Fn=print Args=(x)))`},
		{"if cond:\n\tpass",
			`(IfStmt Cond=cond True=((BranchStmt Token=pass)))`},
		{"if cond:\n\tpass\nelse:\n\tpass",
			`(IfStmt Cond=cond True=((BranchStmt Token=pass)) False=((BranchStmt Token=pass)))`},
		{`def f():
  pass
pass

pass`,
			`(DefStmt Name=f Function=(Function Body=((BranchStmt Token=pass))))
(BranchStmt Token=pass)
(BranchStmt Token=pass)`},
		{`pass; pass`,
			`(BranchStmt Token=pass)
(BranchStmt Token=pass)`},
		{"pass\npass",
			`(BranchStmt Token=pass)
(BranchStmt Token=pass)`},
		{"pass\n\npass",
			`(BranchStmt Token=pass)
(BranchStmt Token=pass)`},
		{`x = (1 +
2)`,
			`(AssignStmt Op== LHS=x RHS=(ParenExpr X=(BinaryExpr X=1 Op=+ Y=2)))`},
		{`x = 1 \
+ 2`,
			`(AssignStmt Op== LHS=x RHS=(BinaryExpr X=1 Op=+ Y=2))`},
		{`@staticmethod
def f(): pass`,
			`(DefStmt Decorators=((Decorator X=staticmethod)) Name=f Function=(Function Body=((BranchStmt Token=pass))))`},
		{`try:
  a
except (E, F) as e:
  b
except:
  c
else:
  d
finally:
  e`,
			`(TryStmt Body=((ExprStmt X=a)) Handlers=((ExceptClause Type=(ParenExpr X=(TupleExpr List=(E F))) Name=e Body=((ExprStmt X=b))) (ExceptClause Body=((ExprStmt X=c)))) Else=((ExprStmt X=d)) Finally=((ExprStmt X=e)))`},
		{`match p:
  case [x, y]:
    pass
  case {"k": v, **rest}:
    pass
  case Point(1, y=z) | None as q:
    pass
  case -1 | 2.5:
    pass
  case _ if ok:
    pass`,
			`(MatchStmt Subject=p Cases=(` +
				`(CaseClause Pattern=(MatchSequence Elems=((MatchCapture Name=x) (MatchCapture Name=y))) Body=((BranchStmt Token=pass))) ` +
				`(CaseClause Pattern=(MatchMapping Keys=("k") Values=((MatchCapture Name=v)) Rest=rest) Body=((BranchStmt Token=pass))) ` +
				`(CaseClause Pattern=(MatchAs Pattern=(MatchOr Alts=((MatchClass Cls=Point Args=((MatchValue X=1)) KwNames=(y) KwValues=((MatchCapture Name=z))) (MatchValue X=None))) Name=q) Body=((BranchStmt Token=pass))) ` +
				`(CaseClause Pattern=(MatchOr Alts=((MatchValue X=(UnaryExpr Op=- X=1)) (MatchValue X=2.5))) Body=((BranchStmt Token=pass))) ` +
				`(CaseClause Pattern=(MatchWildcard) Guard=ok Body=((BranchStmt Token=pass)))))`},
		{`match = 1
case(2)`,
			`(AssignStmt Op== LHS=match RHS=1)
(ExprStmt X=(CallExpr Fn=case Args=(2)))`},
		{`def f():
  match x:
    case 1:
      return 1`,
			`(DefStmt Name=f Function=(Function Body=((MatchStmt Subject=x Cases=((CaseClause Pattern=(MatchValue X=1) Body=((ReturnStmt Result=1))))))))`},
	} {
		f, err := syntax.Parse("foo.py", test.input)
		if err != nil {
			t.Errorf("parse `%s` failed: %v", test.input, stripPos(err))
			continue
		}
		var buf bytes.Buffer
		for i, stmt := range f.Stmts {
			if i > 0 {
				buf.WriteString("\n")
			}
			writeTree(&buf, reflect.ValueOf(stmt))
		}
		if got := buf.String(); test.want != got {
			t.Errorf("parse `%s` = %s, want %s", test.input, got, test.want)
		}
	}
}

// Test that ParseCompoundStmt reads one compound statement at a time,
// as the REPL does.
func TestCompoundStmt(t *testing.T) {
	for _, test := range []struct {
		input, want string
	}{
		{"\n",
			``},
		{"def f():\n\tpass\n\n",
			`(DefStmt Name=f Function=(Function Body=((BranchStmt Token=pass))))`},
		{"pass\n",
			`(BranchStmt Token=pass)`},
		{"x = 1; print(x)\n",
			`(AssignStmt Op== LHS=x RHS=1) (ExprStmt X=(CallExpr Fn=print Args=(x)))`},
		{"class C:\n  pass\n\n",
			`(ClassStmt Name=C Body=((BranchStmt Token=pass)))`},
		{"if cond:\n\tpass\n\n",
			`(IfStmt Cond=cond True=((BranchStmt Token=pass)))`},
		{"if cond: pass\n\n",
			`(IfStmt Cond=cond True=((BranchStmt Token=pass)))`},
		{"@dec\ndef f(): pass\n\n",
			`(DefStmt Decorators=((Decorator X=dec)) Name=f Function=(Function Body=((BranchStmt Token=pass))))`},
	} {

		// Fake readline input from string.
		// The ! suffix, which would cause a parse error,
		// tests that the parser doesn't read more than necessary.
		sc := bufio.NewScanner(strings.NewReader(test.input + "!"))
		readline := func() ([]byte, error) {
			if sc.Scan() {
				return []byte(sc.Text() + "\n"), nil
			}
			return nil, sc.Err()
		}

		var got string
		f, err := syntax.ParseCompoundStmt("foo.py", readline)
		if err != nil {
			got = stripPos(err)
		} else {
			for _, stmt := range f.Stmts {
				if got != "" {
					got += " "
				}
				got += treeString(stmt)
			}
		}
		if test.want != got {
			t.Errorf("parse `%s` = %s, want %s", test.input, got, test.want)
		}
	}
}

func stripPos(err error) string {
	s := err.Error()
	if i := strings.Index(s, ": "); i >= 0 {
		s = s[i+len(": "):] // strip file:line:col
	}
	return s
}

// treeString prints a syntax node as a parenthesized tree.
// Idents are printed as foo and Literals as "foo" or 42.
// Structs are printed as "(type name=value ...)".
// Only non-empty fields are shown.
func treeString(n syntax.Node) string {
	var buf bytes.Buffer
	writeTree(&buf, reflect.ValueOf(n))
	return buf.String()
}

func writeTree(out *bytes.Buffer, x reflect.Value) {
	if x.Type() == reflect.TypeOf(syntax.Token(0)) {
		fmt.Fprintf(out, "%s", x.Interface())
		return
	}
	switch x.Kind() {
	case reflect.String, reflect.Int, reflect.Bool:
		fmt.Fprintf(out, "%v", x.Interface())
	case reflect.Ptr, reflect.Interface:
		if elem := x.Elem(); elem.Kind() == 0 {
			out.WriteString("nil")
		} else {
			writeTree(out, elem)
		}
	case reflect.Struct:
		switch v := x.Interface().(type) {
		case syntax.Literal:
			switch v.Token {
			case syntax.STRING:
				fmt.Fprintf(out, "%q", v.Value)
			case syntax.BYTES:
				fmt.Fprintf(out, "b%q", v.Value)
			case syntax.INT, syntax.FLOAT:
				fmt.Fprintf(out, "%v", v.Value)
			default:
				out.WriteString(v.Raw)
			}
			return
		case syntax.Ident:
			out.WriteString(v.Name)
			return
		}
		fmt.Fprintf(out, "(%s", strings.TrimPrefix(x.Type().String(), "syntax."))
		for i, n := 0, x.NumField(); i < n; i++ {
			f := x.Field(i)
			if f.Type() == reflect.TypeOf(syntax.Position{}) || f.Type() == reflect.TypeOf([]syntax.Position(nil)) {
				continue // skip positions
			}
			name := x.Type().Field(i).Name
			if f.Type() == reflect.TypeOf(syntax.Token(0)) {
				fmt.Fprintf(out, " %s=%s", name, f.Interface())
				continue
			}

			switch f.Kind() {
			case reflect.Slice:
				if n := f.Len(); n > 0 {
					fmt.Fprintf(out, " %s=(", name)
					for i := 0; i < n; i++ {
						if i > 0 {
							out.WriteByte(' ')
						}
						writeTree(out, f.Index(i))
					}
					out.WriteByte(')')
				}
				continue
			case reflect.Ptr, reflect.Interface:
				if f.IsNil() {
					continue
				}
			case reflect.Int, reflect.Uint8, reflect.Int8:
				var v int64
				if f.Kind() == reflect.Uint8 {
					v = int64(f.Uint())
				} else {
					v = f.Int()
				}
				if v != 0 {
					fmt.Fprintf(out, " %s=%d", name, v)
				}
				continue
			case reflect.Bool:
				if f.Bool() {
					fmt.Fprintf(out, " %s", name)
				}
				continue
			case reflect.String:
				if f.String() != "" {
					fmt.Fprintf(out, " %s=%s", name, f.String())
				}
				continue
			}
			fmt.Fprintf(out, " %s=", name)
			writeTree(out, f)
		}
		fmt.Fprintf(out, ")")
	default:
		fmt.Fprintf(out, "%T", x.Interface())
	}
}

func TestParseErrors(t *testing.T) {
	filename := p2wtest.DataFile("syntax", "testdata/errors.py")
	for _, chunk := range chunkedfile.Read(filename, t) {
		_, err := syntax.Parse(filename, chunk.Source)
		switch err := err.(type) {
		case nil:
			// ok
		case syntax.Error:
			chunk.GotError(int(err.Pos.Line), err.Msg)
		default:
			t.Error(err)
		}
		chunk.Done()
	}
}

func TestFilePortion(t *testing.T) {
	// Imagine that the file or expression print(x.f) is extracted
	// from the middle of a file in some hypothetical template language.
	fp := syntax.FilePortion{Content: []byte("print(x.f)"), FirstLine: 2, FirstCol: 4}
	file, err := syntax.Parse("foo.template", fp)
	if err != nil {
		t.Fatal(err)
	}
	span := fmt.Sprint(file.Stmts[0].Span())
	want := "foo.template:2:4 foo.template:2:14"
	if span != want {
		t.Errorf("wrong span: got %q, want %q", span, want)
	}
}

func TestFStringFieldPositions(t *testing.T) {
	f, err := syntax.Parse("foo.py", "s = f'a{b + c}'\n")
	if err != nil {
		t.Fatal(err)
	}
	fs := f.Stmts[0].(*syntax.AssignStmt).RHS.(*syntax.FStringExpr)
	got := fmt.Sprint(syntax.Start(fs.Values[1]))
	if want := "foo.py:1:9"; got != want {
		t.Errorf("f-string field starts at %s, want %s", got, want)
	}
}

func BenchmarkParse(b *testing.B) {
	filename := p2wtest.DataFile("syntax", "testdata/scan.py")
	b.StopTimer()
	data, err := os.ReadFile(filename)
	if err != nil {
		b.Fatal(err)
	}
	b.StartTimer()

	for i := 0; i < b.N; i++ {
		_, err := syntax.Parse(filename, data)
		if err != nil {
			b.Fatal(err)
		}
	}
}
