// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syntax

import (
	"testing"
)

var unquoteTests = []struct {
	q      string // quoted
	s      string // unquoted (actual string)
	triple bool
	isByte bool
}{
	{`""`, "", false, false},
	{`''`, "", false, false},
	{`"hello"`, `hello`, false, false},
	{`'quote"here'`, `quote"here`, false, false},
	{`'quote\'here'`, `quote'here`, false, false},
	{`"""hello " ' world "" asdf ''' foo"""`, `hello " ' world "" asdf ''' foo`, true, false},
	{`"""hello
world"""`, "hello\nworld", true, false},
	{`"\a\b\f\n\r\t\v\000\x7f"`, "\a\b\f\n\r\t\v\000\x7f", false, false},
	{`"é\U0001F600"`, "é😀", false, false},
	{`"\d\w"`, `\d\w`, false, false}, // unknown escapes are kept
	{`r"\d\n"`, `\d\n`, false, false},
	{`b"\xff\377"`, "\xff\xff", false, true},
	{`rb"\x"`, `\x`, false, true},
	{`Br'a'`, `a`, false, true},
	{"\"a\\\nb\"", "ab", false, false},
}

func TestUnquote(t *testing.T) {
	for _, test := range unquoteTests {
		s, triple, isByte, err := unquote(test.q)
		if err != nil {
			t.Errorf("unquote(%s): %v", test.q, err)
			continue
		}
		if s != test.s || triple != test.triple || isByte != test.isByte {
			t.Errorf("unquote(%s) = %q, %t, %t, want %q, %t, %t",
				test.q, s, triple, isByte, test.s, test.triple, test.isByte)
		}
	}
}

func TestUnquoteErrors(t *testing.T) {
	for _, test := range []struct {
		q, want string
	}{
		{`"\x4"`, `truncated escape sequence \x4`},
		{`"\xzz"`, `invalid escape sequence \xzz`},
		{`"\xff"`, `non-ASCII hex escape \xff (use \u00FF for the UTF-8 encoding of U+00FF)`},
		{`"\ud800"`, `invalid Unicode code point U+D800`},
		{`"\U00110000"`, `code point out of range: \U00110000 (max \U0010ffff)`},
		{`"abc'`, `string literal has invalid quotes`},
	} {
		_, _, _, err := unquote(test.q)
		if err == nil {
			t.Errorf("unquote(%s) succeeded, want error %q", test.q, test.want)
			continue
		}
		if err.Error() != test.want {
			t.Errorf("unquote(%s) = error %q, want %q", test.q, err, test.want)
		}
	}
}

func TestQuote(t *testing.T) {
	for _, test := range []struct {
		s    string
		b    bool
		want string
	}{
		{"", false, `""`},
		{"hello", false, `"hello"`},
		{`it's "x"`, false, `"it's \"x\""`},
		{"tab\there\n", false, `"tab\there\n"`},
		{"\x01\x7f", false, `"\x01\x7f"`},
		{"héllo", false, `"héllo"`},
		{"\xff", true, `b"\xff"`},
	} {
		if got := Quote(test.s, test.b); got != test.want {
			t.Errorf("Quote(%q, %t) = %s, want %s", test.s, test.b, got, test.want)
		}
		// Round trip.
		s, _, _, err := unquote(test.want)
		if err != nil || s != test.s {
			t.Errorf("unquote(Quote(%q)) = %q, %v", test.s, s, err)
		}
	}
}
