// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func scan(src interface{}) (tokens string, err error) {
	sc, err := newScanner("foo.py", src)
	if err != nil {
		return "", err
	}

	defer sc.recover(&err)

	var buf bytes.Buffer
	var val tokenValue
	for {
		tok := sc.nextToken(&val)

		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		switch tok {
		case EOF:
			buf.WriteString("EOF")
		case IDENT:
			buf.WriteString(val.raw)
		case INT:
			if val.bigInt != nil {
				fmt.Fprintf(&buf, "%d", val.bigInt)
			} else {
				fmt.Fprintf(&buf, "%d", val.int)
			}
		case FLOAT:
			fmt.Fprintf(&buf, "%e", val.float)
		case STRING, BYTES:
			buf.WriteString(Quote(val.string, tok == BYTES))
		case FSTRING:
			buf.WriteString("f[")
			for i, part := range val.fstring {
				if i > 0 {
					buf.WriteByte(',')
				}
				if part.Expr == "" {
					buf.WriteString(Quote(part.Lit, false))
					continue
				}
				buf.WriteString("{" + part.Expr)
				if part.Conv != 0 {
					buf.WriteString("!" + string(part.Conv))
				}
				if part.HasSpec {
					buf.WriteString(":" + part.Spec)
				}
				buf.WriteString("}")
			}
			buf.WriteString("]")
		default:
			buf.WriteString(tok.String())
		}
		if tok == EOF {
			break
		}
	}
	return buf.String(), nil
}

func TestScanner(t *testing.T) {
	for _, test := range []struct {
		input, want string
	}{
		{``, "EOF"},
		{`123`, "123 EOF"},
		{`x.y`, "x . y EOF"},
		{`chocolate.éclair`, `chocolate . éclair EOF`},
		{`123 "foo" hello x.y`, `123 "foo" hello x . y EOF`},
		{`print(x)`, "print ( x ) EOF"},
		{`print(x); print(y)`, "print ( x ) ; print ( y ) EOF"},
		{"\nprint(\n1\n)\n", "print ( 1 ) newline EOF"}, // final \n is at toplevel on non-blank line => token
		{`/ // /= //= ///=`, "/ // /= //= // /= EOF"},
		{`# hello
print(x)`, "print ( x ) EOF"},
		{`# hello
print(1)
point(x=1)
def f(x):
		return x+1
print(1)
`,
			`print ( 1 ) newline ` +
				`point ( x = 1 ) newline ` +
				`def f ( x ) : newline ` +
				`indent return x + 1 newline ` +
				`outdent print ( 1 ) newline ` +
				`EOF`},
		// EOF should act line an implicit newline.
		{`def f(): pass`,
			"def f ( ) : pass EOF"},
		{`def f():
	pass`,
			"def f ( ) : newline indent pass newline outdent EOF"},
		{`def f():
	pass
# oops`,
			"def f ( ) : newline indent pass newline outdent EOF"},
		{`def f():
	pass \
`,
			"def f ( ) : newline indent pass newline outdent EOF"},
		{`pass


pass`, "pass newline pass EOF"}, // consecutive newlines are consolidated
		{"pass", "pass EOF"},
		{"pass\n", "pass newline EOF"},
		{"pass\n ", "pass newline EOF"},
		{"if x:\n  pass\n ", "if x : newline indent pass newline outdent EOF"},
		{`x = 1 + \
2`, `x = 1 + 2 EOF`},
		{"if x:\n    a\n  b\n", "foo.py:3:3: unindent does not match any outer indentation level"},

		// operators of the Python subset
		{`x := 1`, "x := 1 EOF"},
		{`def f() -> int: pass`, "def f ( ) -> int : pass EOF"},
		{`@dec`, "@ dec EOF"},
		{`x **= 2; y <<= 1; z >>= 3`, "x **= 2 ; y <<= 1 ; z >>= 3 EOF"},
		{`a // b % c ** d`, "a // b % c ** d EOF"},
		{`x is not None`, "x is not None EOF"}, // the parser combines is/not
		{`x not in y`, "x not in y EOF"},
		{`lambda *a, **k: a`, "lambda * a , ** k : a EOF"},
		{`True False None`, "True False None EOF"},
		{"x ! 0", "foo.py:1:3: unexpected input character '!'"},
		{"async def f(): pass", "foo.py:1:1: async is not supported"},
		{")", "foo.py:1:1: unexpected ')'"},
		{"([{<>}])", "( [ { < > } ] ) EOF"},
		{"~= ~= 5", "~ = ~ = 5 EOF"},

		// soft keywords
		{"match x:\n  case 1:\n    pass\n",
			"match x : newline indent case 1 : newline indent pass newline outdent outdent EOF"},
		{"match = 1", "match = 1 EOF"},
		{"match.x = 1", "match . x = 1 EOF"},
		{"match(x)", "match ( x ) EOF"},
		{"x = match", "x = match EOF"},
		{"case [a, b]: pass", "case [ a , b ] : pass EOF"},
		{"match (x,\n y):\n  pass", "match ( x , y ) : newline indent pass newline outdent EOF"},
		{"print(match, case)", "print ( match , case ) EOF"},

		// strings
		{`x = 'a\nb'`, `x = "a\nb" EOF`},
		{`x = r'a\nb'`, `x = "a\\nb" EOF`},
		{"x = 'a\\\nb'", `x = "ab" EOF`},
		{`x = '\''`, `x = "'" EOF`},
		{`x = "\""`, `x = "\"" EOF`},
		{`x = r'\''`, `x = "\\'" EOF`},
		{`x = '''\''''`, `x = "'" EOF`},
		{`x = ''''a'b'c'''`, `x = "'a'b'c" EOF`},
		{"x = '''a\nb'''", `x = "a\nb" EOF`},
		{"x = '''a\r\nb'''", `x = "a\nb" EOF`},
		{"a\rb", `a newline b EOF`},
		{"a\r\nb", `a newline b EOF`},
		{`"abc`, "foo.py:1:1: unexpected EOF in string"},
		{"'a\nb'", "foo.py:1:1: unexpected newline in string"},

		// numbers
		{"0", `0 EOF`},
		{"00", `0 EOF`},
		{"0.", `0.000000e+00 EOF`},
		{".0", `0.000000e+00 EOF`},
		{".e1", `. e1 EOF`},
		{"1.", `1.000000e+00 EOF`},
		{".1e-1", `1.000000e-02 EOF`},
		{"1e+1", `1.000000e+01 EOF`},
		{"123e45", `1.230000e+47 EOF`},
		{"1_000_000", `1000000 EOF`},
		{"1_0.5", `1.050000e+01 EOF`},
		{"999999999999999999999999999999999999999999999999999", `999999999999999999999999999999999999999999999999999 EOF`},
		{"12345678901234567890", `12345678901234567890 EOF`},
		{"0xA", `10 EOF`},
		{"0XA", `10 EOF`},
		{"0xAAG", `170 G EOF`},
		{"0xG", `foo.py:1:1: invalid hex literal`},
		{"0x12345678deadbeef12345678", `5634002672576678570168178296 EOF`},
		{"0b1010", `10 EOF`},
		{"0b3", `foo.py:1:3: invalid binary literal`},
		{"0b1010201", `10 201 EOF`},
		{"0o123", `83 EOF`},
		{"0o12834", `10 834 EOF`},
		{"0123", `foo.py:1:5: obsolete form of octal literal; use 0o123`},
		{"0123.1", `1.231000e+02 EOF`},
		{"012934e1", `1.293400e+05 EOF`},
		{"0in", "0 in EOF"},
		{"6or", "6 or EOF"},

		// escapes in string literals
		{`"\037"`, `"\x1f" EOF`},
		{`"\377"`, `foo.py:1:1: non-ASCII octal escape \377 (use \u00FF for the UTF-8 encoding of U+00FF)`},
		{`"\378"`, `"\x1f8" EOF`}, // = '\37' + '8'
		{`"\x00\x20\x09\x41\x7e\x7f"`, `"\x00 \tA~\x7f" EOF`},
		{`"\x80"`, `foo.py:1:1: non-ASCII hex escape`},
		{`"\xF"`, `foo.py:1:1: truncated escape sequence \xF`},
		{`"\xfg"`, `foo.py:1:1: invalid escape sequence \xfg`},
		{`"\u0400"`, `"Ѐ" EOF`},
		{`"\u04000"`, `"Ѐ0" EOF`}, // = U+0400 + '0'
		{`"\u100"`, `foo.py:1:1: truncated escape sequence \u100`},
		{`"\udc00"`, `foo.py:1:1: invalid Unicode code point U+DC00`},
		{`"\U0001F63F"`, `"😿" EOF`},
		{`"\U00110000"`, `foo.py:1:1: code point out of range: \U00110000 (max \U0010ffff)`},
		// Unknown escapes are kept literally.
		{`"foo\(bar"`, `"foo\\(bar" EOF`},
		{`'a\zb'`, `"a\\zb" EOF`},
		{`"""\w"""`, `"\\w" EOF`},
		{`r"\""`, `"\\\"" EOF`},
		// bytes literals
		{`b"\x41\377\x80"`, `b"A\xff\x80" EOF`},
		{`b"\400"`, `foo.py:1:2: invalid escape sequence \400`},
		{`rb"\n"`, `b"\\n" EOF`},
		{`bx`, `bx EOF`},

		// f-strings
		{`f"a{x}b"`, `f["a",{x},"b"] EOF`},
		{`f"{x!r:>4}"`, `f[{x!r:>4}] EOF`},
		{`f"{{lit}}"`, `f["{lit}"] EOF`},
		{`f"{d['k']}"`, `f[{d['k']}] EOF`},
		{`f"{x != y}"`, `f[{x != y}] EOF`},
		{`rf"\d{x}"`, `f["\\d",{x}] EOF`},
		{`f"a\tb"`, `f["a\tb"] EOF`},
		{`f"}"`, `foo.py:1:4: f-string: single '}' is not allowed`},
		{`f"{}"`, `foo.py:1:4: f-string: empty expression not allowed`},
		{`f"{x"`, `foo.py:1:5: f-string: expecting '}'`},
	} {
		got, err := scan(test.input)
		if err != nil {
			got = err.(Error).Error()
		}
		// Prefix match allows us to truncate errors in expectations.
		// Success cases all end in EOF.
		if !strings.HasPrefix(got, test.want) {
			t.Errorf("scan `%s` = [%s], want [%s]", test.input, got, test.want)
		}
	}
}

// dataFile is the same as p2wtest.DataFile.
// We make a copy to avoid a dependency cycle.
var dataFile = func(pkgdir, filename string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filepath.Dir(file)), pkgdir, filename)
}

func BenchmarkScan(b *testing.B) {
	filename := dataFile("syntax", "testdata/scan.py")
	b.StopTimer()
	data, err := os.ReadFile(filename)
	if err != nil {
		b.Fatal(err)
	}
	b.StartTimer()

	for i := 0; i < b.N; i++ {
		sc, err := newScanner(filename, data)
		if err != nil {
			b.Fatal(err)
		}
		var val tokenValue
		for sc.nextToken(&val) != EOF {
		}
	}
}
