package object

// A builtinType describes a class that the runtime creates at startup.
type builtinType struct {
	name    string
	base    string
	fields  []string
	methods []string
}

// builtinTypes lists the builtin classes, each after its base.
// The methods of a type are implemented by the runtime functions
// named $bm:TYPE.METHOD.
var builtinTypes = []builtinType{
	{name: "object", methods: []string{"__init__"}},
	{name: "type", base: "object"},
	{name: "NoneType", base: "object"},
	{name: "int", base: "object"},
	{name: "bool", base: "int"},
	{name: "float", base: "object", methods: []string{"is_integer"}},
	{name: "str", base: "object", methods: []string{
		"join", "split", "strip", "lstrip", "rstrip", "upper", "lower",
		"startswith", "endswith", "replace", "find", "rfind", "format", "count",
		"isdigit", "isalpha", "isalnum", "isspace", "isupper", "islower",
		"zfill", "ljust", "rjust", "center", "title", "capitalize", "swapcase",
	}},
	{name: "bytes", base: "object", methods: []string{"decode"}},
	{name: "list", base: "object", methods: []string{
		"append", "pop", "extend", "insert", "index", "count", "reverse",
		"copy", "clear", "sort", "remove",
	}},
	{name: "tuple", base: "object", methods: []string{"index", "count"}},
	{name: "dict", base: "object", methods: []string{
		"get", "keys", "values", "items", "pop", "setdefault", "update",
		"copy", "clear",
	}},
	{name: "set", base: "object", methods: []string{
		"add", "discard", "remove", "pop", "copy", "clear", "update", "union",
		"intersection", "difference", "issubset", "issuperset",
	}},
	{name: "range", base: "object"},
	{name: "function", base: "object"},
	{name: "method", base: "object"},
	{name: "generator", base: "object", methods: []string{"send"}},
	{name: "iterator", base: "object"},
	{name: "module", base: "object"},
	{name: "super", base: "object"},
	{name: "JsObject", base: "object"},

	{name: "BaseException", base: "object", fields: []string{"args", "__cause__", "__context__"}, methods: []string{"__init__"}},
	{name: "Exception", base: "BaseException"},
	{name: "ArithmeticError", base: "Exception"},
	{name: "ZeroDivisionError", base: "ArithmeticError"},
	{name: "OverflowError", base: "ArithmeticError"},
	{name: "LookupError", base: "Exception"},
	{name: "KeyError", base: "LookupError"},
	{name: "IndexError", base: "LookupError"},
	{name: "ValueError", base: "Exception"},
	{name: "TypeError", base: "Exception"},
	{name: "AttributeError", base: "Exception"},
	{name: "NameError", base: "Exception"},
	{name: "UnboundLocalError", base: "NameError"},
	{name: "AssertionError", base: "Exception"},
	{name: "RuntimeError", base: "Exception"},
	{name: "MemoryError", base: "Exception"},
	{name: "NotImplementedError", base: "RuntimeError"},
	{name: "RecursionError", base: "RuntimeError"},
	{name: "StopIteration", base: "Exception"},
}

// hidden builtin classes exist at run time but are not named by the
// universe of source programs.
var hidden = map[string]bool{
	"NoneType": true,
	"function": true,
	"method":   true,
	"iterator": true,
	"module":   true,
	"JsObject": true,
	"super":    true,
}

// builtins creates the builtin classes.
func (m *Model) builtins() {
	object := &Class{Name: "object", Builtin: true, own: map[string]int{}}
	for _, bt := range builtinTypes {
		c := object
		if bt.name != "object" {
			c = &Class{Name: bt.name, Builtin: true, own: make(map[string]int)}
			c.Bases = []*Class{m.builtin[bt.base]}
		}
		c.Methods = bt.methods
		c.MRO = linearize(c, object)
		for k, f := range bt.fields {
			c.Own = append(c.Own, f)
			c.own[f] = k
		}
		m.builtin[bt.name] = c
		m.Builtins = append(m.Builtins, c)
	}
}

// BuiltinNames returns the names of the builtin classes that source
// programs may refer to.
func BuiltinNames() []string {
	var names []string
	for _, bt := range builtinTypes {
		if !hidden[bt.name] {
			names = append(names, bt.name)
		}
	}
	return names
}

// BuiltinMethods returns, for each builtin class with methods, the
// names of its methods.
func BuiltinMethods() map[string][]string {
	methods := make(map[string][]string)
	for _, bt := range builtinTypes {
		if len(bt.methods) > 0 {
			methods[bt.name] = bt.methods
		}
	}
	return methods
}
