// Package hostabi defines the versioned contract between compiled
// modules and the host that instantiates them: the imported host
// functions, the pre-bound object handles and the exports.
//
// The contract is exact. A host loader that supplies a function under
// a different name or signature fails at link time, so any change here
// must come with a new Version.
package hostabi

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Version names this revision of the contract.
const Version = "p2w-host/1"

// A Func is an imported host function.
type Func struct {
	Module  string // import namespace: "env" or "dom"
	Name    string
	Params  []string
	Results []string
	Doc     string
}

// ID returns the identifier of the import inside the module.
func (f Func) ID() string { return "$" + f.Module + "." + f.Name }

// Form returns the import declaration of f.
func (f Func) Form() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(import %q %q (func %s", f.Module, f.Name, f.ID())
	if len(f.Params) > 0 {
		fmt.Fprintf(&b, " (param %s)", strings.Join(f.Params, " "))
	}
	if len(f.Results) > 0 {
		fmt.Fprintf(&b, " (result %s)", strings.Join(f.Results, " "))
	}
	b.WriteString("))")
	return b.String()
}

// Imports lists every host function, in declaration order.
var Imports = []Func{
	{"env", "write", []string{"i32", "i32"}, nil, "write bytes [ptr, ptr+len) of memory to standard output"},
	{"env", "write_err", []string{"i32", "i32"}, nil, "write bytes [ptr, ptr+len) of memory to standard error"},
	{"env", "f64_to_str", []string{"f64"}, []string{"i32"}, "write the shortest repr of a float to scratch memory; return its length"},
	{"env", "f64_parse", []string{"i32", "i32"}, []string{"f64"}, "parse the float literal [ptr, ptr+len); NaN if malformed"},
	{"env", "f64_pow", []string{"f64", "f64"}, []string{"f64"}, "x to the power y"},
	{"env", "math1", []string{"i32", "f64"}, []string{"f64"}, "apply the unary math function numbered op (see MathOps)"},

	{"dom", "get", []string{"i32", "i32", "i32"}, []string{"i32"}, "property [ptr, ptr+len) of object h"},
	{"dom", "set", []string{"i32", "i32", "i32", "i32"}, nil, "set property [ptr, ptr+len) of object h to v"},
	{"dom", "call", []string{"i32", "i32", "i32", "i32"}, []string{"i32"}, "call method [ptr, ptr+len) of h with the elements of array args"},
	{"dom", "new_array", nil, []string{"i32"}, "a new empty array"},
	{"dom", "push", []string{"i32", "i32"}, nil, "append v to array arr"},
	{"dom", "kind", []string{"i32"}, []string{"i32"}, "the kind of h (see Kinds)"},
	{"dom", "number", []string{"i32"}, []string{"f64"}, "h as a number"},
	{"dom", "string", []string{"i32"}, []string{"i32"}, "write h as UTF-8 to scratch memory; return its length"},
	{"dom", "from_number", []string{"f64"}, []string{"i32"}, "a handle for a number"},
	{"dom", "from_string", []string{"i32", "i32"}, []string{"i32"}, "a handle for the string [ptr, ptr+len)"},
	{"dom", "bind", []string{"i32"}, []string{"i32"}, "a host function that calls event_callback(callback, event)"},
	{"dom", "release", []string{"i32"}, nil, "forget handle h"},
}

// Lookup returns the import of the given namespace and name.
func Lookup(module, name string) (Func, bool) {
	for _, f := range Imports {
		if f.Module == module && f.Name == name {
			return f, true
		}
	}
	return Func{}, false
}

// Pre-bound handles. Handle 0 means "no object"; other handles are
// allocated by the host when an object first crosses into the module
// and are not reused while referenced.
const (
	NoObject = 0
	Global   = 1
	Document = 2
	Console  = 3
	Body     = 4
)

// Handles names the pre-bound handles as attributes of the js module.
var Handles = map[string]int{
	"window":   Global,
	"document": Document,
	"console":  Console,
	"body":     Body,
}

// Kinds returned by dom.kind.
const (
	KindNone     = 0 // null or undefined
	KindBool     = 1
	KindNumber   = 2
	KindString   = 3
	KindObject   = 4
	KindFunction = 5
)

// MathOps numbers the functions of env.math1, in order.
var MathOps = []string{
	"sin", "cos", "tan", "asin", "acos", "atan",
	"exp", "log", "log2", "log10", "sinh", "cosh", "tanh",
}

// MathOp returns the env.math1 number of a math function.
func MathOp(name string) (int, bool) {
	for i, op := range MathOps {
		if op == name {
			return i, true
		}
	}
	return 0, false
}

// Scratch is the region of linear memory, at offset 0, through which
// strings cross the host boundary. The host writes at most ScratchSize
// bytes into it.
const ScratchSize = 1 << 16

// Exports of every compiled module.
const (
	Memory        = "memory"
	Start         = "_start"
	EventCallback = "event_callback" // (param idx i32) (param event i32)
)

// Forms returns the import declarations of every host function.
func Forms() []string {
	forms := make([]string, len(Imports))
	for i, f := range Imports {
		forms[i] = f.Form()
	}
	return forms
}

// Manifest describes the contract, and the exports of one module, as
// a structured value that host loaders can check before linking.
func Manifest(module string, exports []string) (*structpb.Struct, error) {
	imports := make(map[string]interface{})
	for _, f := range Imports {
		ns, _ := imports[f.Module].(map[string]interface{})
		if ns == nil {
			ns = make(map[string]interface{})
			imports[f.Module] = ns
		}
		ns[f.Name] = map[string]interface{}{
			"params":  strings.Join(f.Params, " "),
			"results": strings.Join(f.Results, " "),
			"doc":     f.Doc,
		}
	}
	handles := make(map[string]interface{})
	for name, h := range Handles {
		handles[name] = float64(h)
	}
	exps := make([]interface{}, len(exports))
	for i, e := range exports {
		exps[i] = e
	}
	ops := make([]interface{}, len(MathOps))
	for i, op := range MathOps {
		ops[i] = op
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"version":      Version,
		"module":       module,
		"imports":      imports,
		"handles":      handles,
		"math_ops":     ops,
		"scratch_size": float64(ScratchSize),
		"exports":      exps,
	})
	if err != nil {
		return nil, fmt.Errorf("building host manifest: %w", err)
	}
	return s, nil
}

// ManifestJSON returns the manifest as indented JSON.
func ManifestJSON(module string, exports []string) ([]byte, error) {
	s, err := Manifest(module, exports)
	if err != nil {
		return nil, err
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding host manifest: %w", err)
	}
	return data, nil
}

// CheckManifest reports whether data is a manifest of this version of
// the contract whose imports match exactly.
func CheckManifest(data []byte) error {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding host manifest: %w", err)
	}
	m := s.AsMap()
	if v, _ := m["version"].(string); v != Version {
		return fmt.Errorf("host manifest is for %q, want %q", v, Version)
	}
	imports, _ := m["imports"].(map[string]interface{})
	for _, f := range Imports {
		ns, _ := imports[f.Module].(map[string]interface{})
		entry, _ := ns[f.Name].(map[string]interface{})
		if entry == nil {
			return fmt.Errorf("host manifest lacks %s.%s", f.Module, f.Name)
		}
		if p, _ := entry["params"].(string); p != strings.Join(f.Params, " ") {
			return fmt.Errorf("%s.%s: params %q, want %q", f.Module, f.Name, p, strings.Join(f.Params, " "))
		}
		if r, _ := entry["results"].(string); r != strings.Join(f.Results, " ") {
			return fmt.Errorf("%s.%s: results %q, want %q", f.Module, f.Name, r, strings.Join(f.Results, " "))
		}
	}
	return nil
}
