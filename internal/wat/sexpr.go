package wat

import (
	"fmt"
	"strings"
)

// A Node is an element of a parsed form: an atom, or a list.
type Node struct {
	Atom string // set for atoms, including quoted strings
	List []*Node
}

// IsList reports whether n is a list.
func (n *Node) IsList() bool { return n.Atom == "" }

// Head returns the first atom of a list, or "".
func (n *Node) Head() string {
	if n.IsList() && len(n.List) > 0 && !n.List[0].IsList() {
		return n.List[0].Atom
	}
	return ""
}

// Text renders n in canonical one-line form.
func (n *Node) Text() string {
	if !n.IsList() {
		return n.Atom
	}
	parts := make([]string, len(n.List))
	for i, c := range n.List {
		parts[i] = c.Text()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// A Form is a top-level form of a WAT text: (type ...), (func ...),
// (global ...), (tag ...) and so on.
type Form struct {
	Kind string // type, func, global, tag, import, ...
	Name string // the $identifier the form defines, or ""
	Text string // the source text of the form
	Line int    // line of the form's opening parenthesis
}

// Split returns the top-level forms of src, skipping comments
// and whitespace between them.
func Split(src string) ([]Form, error) {
	var forms []Form
	line := 1
	for i := 0; i < len(src); {
		switch c := src[i]; {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], ";;"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "(;"):
			end := strings.Index(src[i:], ";)")
			if end < 0 {
				return nil, fmt.Errorf("line %d: unterminated block comment", line)
			}
			line += strings.Count(src[i:i+end], "\n")
			i += end + 2
		case c == '(':
			end, err := matchParen(src, i)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", line, err)
			}
			text := src[i:end]
			kind, name := formHead(text)
			forms = append(forms, Form{Kind: kind, Name: name, Text: text, Line: line})
			line += strings.Count(text, "\n")
			i = end
		default:
			return nil, fmt.Errorf("line %d: unexpected %q outside a form", line, c)
		}
	}
	return forms, nil
}

// matchParen returns the index just past the parenthesis that closes
// the one at src[start], skipping strings and comments.
func matchParen(src string, start int) (int, error) {
	depth := 0
	for i := start; i < len(src); i++ {
		switch src[i] {
		case '"':
			for i++; i < len(src) && src[i] != '"'; i++ {
				if src[i] == '\\' {
					i++
				}
			}
		case ';':
			if i+1 < len(src) && src[i+1] == ';' {
				for i < len(src) && src[i] != '\n' {
					i++
				}
			}
		case '(':
			if i+1 < len(src) && src[i+1] == ';' {
				end := strings.Index(src[i:], ";)")
				if end < 0 {
					return 0, fmt.Errorf("unterminated block comment")
				}
				i += end + 1
				continue
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parentheses")
}

// formHead returns the keyword and defined identifier of a form.
func formHead(text string) (kind, name string) {
	toks := tokenize(text, 3)
	if len(toks) > 1 {
		kind = toks[1]
	}
	if len(toks) > 2 && strings.HasPrefix(toks[2], "$") {
		name = toks[2]
	}
	return kind, name
}

// tokenize splits text into at most max tokens (all, if max < 0):
// parentheses, atoms and quoted strings.
func tokenize(text string, max int) []string {
	var toks []string
	for i := 0; i < len(text) && (max < 0 || len(toks) < max); {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == ';' && i+1 < len(text) && text[i+1] == ';':
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '(' && i+1 < len(text) && text[i+1] == ';':
			end := strings.Index(text[i:], ";)")
			if end < 0 {
				return toks
			}
			i += end + 2
		case c == '(' || c == ')':
			toks = append(toks, text[i:i+1])
			i++
		case c == '"':
			j := i + 1
			for j < len(text) && text[j] != '"' {
				if text[j] == '\\' {
					j++
				}
				j++
			}
			toks = append(toks, text[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(text) && !strings.ContainsRune(" \t\n\r()", rune(text[j])) {
				j++
			}
			toks = append(toks, text[i:j])
			i = j
		}
	}
	return toks
}

// Parse parses the first form of text into a tree.
func Parse(text string) (*Node, error) {
	n, _, err := parse(tokenize(text, -1))
	return n, err
}

func parse(toks []string) (*Node, []string, error) {
	if len(toks) == 0 {
		return nil, nil, fmt.Errorf("unexpected end of form")
	}
	switch toks[0] {
	case ")":
		return nil, nil, fmt.Errorf("unexpected )")
	case "(":
		n := &Node{List: []*Node{}}
		toks = toks[1:]
		for {
			if len(toks) == 0 {
				return nil, nil, fmt.Errorf("unbalanced parentheses")
			}
			if toks[0] == ")" {
				return n, toks[1:], nil
			}
			var c *Node
			var err error
			c, toks, err = parse(toks)
			if err != nil {
				return nil, nil, err
			}
			n.List = append(n.List, c)
		}
	}
	return &Node{Atom: toks[0]}, toks[1:], nil
}

// Refs returns the $identifiers that text mentions, in order of
// first appearance.
func Refs(text string) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, t := range tokenize(text, -1) {
		if strings.HasPrefix(t, "$") && !seen[t] {
			seen[t] = true
			refs = append(refs, t)
		}
	}
	return refs
}
