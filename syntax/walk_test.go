package syntax_test

import (
	"bytes"
	"fmt"
	"log"
	"reflect"
	"strings"
	"testing"

	"go.p2w.dev/syntax"
)

func TestWalk(t *testing.T) {
	const src = `
for x in y:
  if x:
    pass
  else:
    f([2*x for x in "abc"])
`
	f, err := syntax.Parse("hello.py", src)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	var depth int
	syntax.Walk(f, func(n syntax.Node) bool {
		if n == nil {
			depth--
			return true
		}
		fmt.Fprintf(&buf, "%s%s\n",
			strings.Repeat("  ", depth),
			strings.TrimPrefix(reflect.TypeOf(n).String(), "*syntax."))
		depth++
		return true
	})
	got := buf.String()
	want := `
File
  ForStmt
    Ident
    Ident
    IfStmt
      Ident
      BranchStmt
      ExprStmt
        CallExpr
          Ident
          Comprehension
            BinaryExpr
              Literal
              Ident
            ForClause
              Ident
              Literal`
	got = strings.TrimSpace(got)
	want = strings.TrimSpace(want)
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

// ExampleWalk demonstrates the use of Walk to
// enumerate the identifiers in a source file
// containing a nonsense program with varied grammar.
func ExampleWalk() {
	const src = `
from library import a

def b(c, *, d=e):
    f += {g: h}
    i = -(j)
    return k.l[m + n]

for o in [p for q, r in s if t]:
    u(lambda: v, w[x:y:z])
`
	f, err := syntax.Parse("hello.py", src)
	if err != nil {
		log.Fatal(err)
	}

	var idents []string
	syntax.Walk(f, func(n syntax.Node) bool {
		if id, ok := n.(*syntax.Ident); ok {
			idents = append(idents, id.Name)
		}
		return true
	})
	fmt.Println(strings.Join(idents, " "))

	// The identifier 'a' appears in both ImportStmt.From[0] and ImportStmt.To[0].

	// Output:
	// library a a b c d e f g h i j k l m n o p q r s t u v w x y z
}

func TestWalkPrune(t *testing.T) {
	const src = `
def f(x):
    return g(x)

class C:
    def m(self):
        return self.y

match v:
    case [a, *rest] if a:
        pass
`
	f, err := syntax.Parse("prune.py", src)
	if err != nil {
		t.Fatal(err)
	}

	// Skip function bodies; collect everything else.
	var idents []string
	syntax.Walk(f, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.DefStmt:
			idents = append(idents, n.Name.Name)
			return false
		case *syntax.Ident:
			idents = append(idents, n.Name)
		}
		return true
	})
	got := strings.Join(idents, " ")
	want := "f C m v a rest a"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
