// builtins.go — RegisterGlobals: builtin types, native functions, exception
// classes and the native module registry.
//
// Process-wide state (interned strings, the type registry, intrinsic tables)
// is initialized exactly once here, before any source is processed.
package lython

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
)

// Stdout receives program output from `print`. Tests swap it for a buffer.
var Stdout io.Writer = os.Stdout

var (
	registerOnce sync.Once

	// canonical builtin type nodes, shared across modules
	builtinTypeNodes map[string]*BuiltinType
	typeNodesByID    map[TypeID]*BuiltinType

	// builtin callables and values seeded into every Bindings
	builtinFns []struct {
		Name string
		Val  Value
	}

	// builtin exception classes by name
	exceptionClasses map[string]*ClassDef

	// native modules importable by dotted path
	nativeModules map[string]*NativeModule

	// globalArena owns nodes that outlive any single module
	globalArena = &Arena{}
)

// NativeModule is an importable host-provided module.
type NativeModule struct {
	Name    string
	Symbols map[string]Value
	Types   map[string]ExprNode
}

// RegisterGlobals initializes the process-wide registries. It is safe to call
// from multiple places; initialization is serialized and runs once.
func RegisterGlobals() {
	registerOnce.Do(func() {
		initIntrinsics()
		initBuiltinTypes()
		initExceptionClasses()
		initBuiltinFns()
		initNativeModules()
	})
}

// SeedBindings installs every builtin into a fresh Bindings table. Both Sema
// and the evaluator run on top of a seeded table, so varids line up.
func SeedBindings(b *Bindings) {
	RegisterGlobals()
	names := make([]string, 0, len(builtinTypeNodes))
	for n := range builtinTypeNodes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t := builtinTypeNodes[n]
		b.Add(t.Name, t, t)
	}
	clsNames := make([]string, 0, len(exceptionClasses))
	for n := range exceptionClasses {
		clsNames = append(clsNames, n)
	}
	sort.Strings(clsNames)
	for _, n := range clsNames {
		cls := exceptionClasses[n]
		b.Add(cls.Name, cls, classTypeOf(cls))
	}
	for _, f := range builtinFns {
		bt := newNode(globalArena, &BuiltinType{}, KBuiltinType, Span{})
		bt.Name = Intern(f.Name)
		bt.Native = f.Val.Ref.(*NativeFn)
		b.Add(bt.Name, bt, nil)
	}
}

func classTypeOf(cls *ClassDef) *ClassType {
	ct := newNode(globalArena, &ClassType{}, KClassType, Span{})
	ct.Def = cls
	return ct
}

func initBuiltinTypes() {
	builtinTypeNodes = map[string]*BuiltinType{}
	typeNodesByID = map[TypeID]*BuiltinType{}
	for name, id := range map[string]TypeID{
		"i32":   TI32,
		"i64":   TI64,
		"f32":   TF32,
		"f64":   TF64,
		"str":   TStr,
		"bool":  TBool,
		"None":  TNone,
		"list":  TArray,
		"dict":  TDict,
		"set":   TSet,
		"tuple": TTuple,
	} {
		bt := newNode(globalArena, &BuiltinType{}, KBuiltinType, Span{})
		bt.Name = Intern(name)
		bt.ID = id
		builtinTypeNodes[name] = bt
		typeNodesByID[id] = bt
	}
}

// typeNode returns the canonical node for a primitive id.
func typeNode(id TypeID) *BuiltinType {
	RegisterGlobals()
	return typeNodesByID[id]
}

// BuiltinTypeNamed resolves a builtin type by name; nil when unknown.
func BuiltinTypeNamed(name string) *BuiltinType {
	RegisterGlobals()
	return builtinTypeNodes[name]
}

// ExceptionClass resolves a builtin exception class by name.
func ExceptionClass(name string) *ClassDef {
	RegisterGlobals()
	return exceptionClasses[name]
}

func initExceptionClasses() {
	exceptionClasses = map[string]*ClassDef{}

	mkClass := func(name string, base *ClassDef) *ClassDef {
		cls := newNode(globalArena, &ClassDef{}, KClassDef, Span{})
		cls.Name = Intern(name)
		cls.Methods = map[StringRef]*FunctionDef{}
		if base != nil {
			cls.BaseDefs = []*ClassDef{base}
		} else {
			cls.Insert(Intern("message"), typeNodesByID[TStr], nil)
		}
		exceptionClasses[name] = cls
		return cls
	}

	exc := mkClass("Exception", nil)
	for _, name := range []string{
		"ValueError", "TypeError", "RuntimeError", "NameError",
		"AttributeError", "KeyError", "IndexError", "StopIteration",
		"ZeroDivisionError", "AssertionError", "ImportError", "NotImplementedError",
	} {
		mkClass(name, exc)
	}
}

func initBuiltinFns() {
	add := func(name string, v Value) {
		builtinFns = append(builtinFns, struct {
			Name string
			Val  Value
		}{name, v})
	}

	add("print", NativeVal(&NativeFn{Name: "print", Arity: -1, Call: func(args []Value) Value {
		for i, a := range args {
			if i > 0 {
				fmt.Fprint(Stdout, " ")
			}
			fmt.Fprint(Stdout, a.String())
		}
		fmt.Fprintln(Stdout)
		return NoneVal()
	}}))

	add("len", NativeVal(&NativeFn{Name: "len", Arity: 1, Call: func(args []Value) Value {
		if len(args) != 1 {
			return ErrVal("len expects one argument")
		}
		switch args[0].Tag {
		case VStr:
			return I32Val(int32(len(args[0].Ref.(string))))
		case VArray:
			return I32Val(int32(len(args[0].Ref.(*ArrayObject).Elems)))
		case VTuple:
			return I32Val(int32(len(args[0].Ref.(*TupleObject).Elems)))
		case VDict:
			return I32Val(int32(len(args[0].Ref.(*DictObject).Keys)))
		}
		return ErrVal(fmt.Sprintf("object of type %s has no len()", args[0].Tag))
	}}))

	add("range", NativeVal(&NativeFn{Name: "range", Arity: -1, Call: func(args []Value) Value {
		var lo, hi, step int64 = 0, 0, 1
		switch len(args) {
		case 1:
			hi = As[int64](args[0])
		case 2:
			lo, hi = As[int64](args[0]), As[int64](args[1])
		case 3:
			lo, hi, step = As[int64](args[0]), As[int64](args[1]), As[int64](args[2])
		default:
			return ErrVal("range expects 1 to 3 arguments")
		}
		if step == 0 {
			return ErrVal("range step must not be zero")
		}
		var out []Value
		if step > 0 {
			for i := lo; i < hi; i += step {
				out = append(out, I32Val(int32(i)))
			}
		} else {
			for i := lo; i > hi; i += step {
				out = append(out, I32Val(int32(i)))
			}
		}
		return ArrayVal(out)
	}}))

	add("abs", WrapFunc("abs", func(v Value) Value {
		switch v.Tag {
		case VI32, VI64:
			if v.I < 0 {
				return mkNum(tagTypeID(v.Tag), -v.I, 0)
			}
			return v
		case VF32, VF64:
			return mkNum(tagTypeID(v.Tag), 0, math.Abs(v.F))
		}
		return ErrVal("abs expects a number")
	}))

	add("min", NativeVal(&NativeFn{Name: "min", Arity: -1, Call: reduceFn("min", func(a, b float64) bool { return b < a })}))
	add("max", NativeVal(&NativeFn{Name: "max", Arity: -1, Call: reduceFn("max", func(a, b float64) bool { return b > a })}))

	// `next` is intercepted by the evaluator, which owns generator frames
	add("next", NativeVal(&NativeFn{Name: "next", Arity: 1, Call: func(args []Value) Value {
		return ErrVal("next() expects a generator")
	}}))

	add("repr", WrapFunc("repr", func(v Value) string { return v.Repr() }))
	add("type", WrapFunc("type", func(v Value) string {
		if v.Tag == VObject {
			return v.Ref.(*Instance).Class.Name.String()
		}
		return v.Tag.String()
	}))
}

func reduceFn(name string, better func(best, cand float64) bool) func([]Value) Value {
	return func(args []Value) Value {
		if len(args) == 1 && args[0].Tag == VArray {
			args = args[0].Ref.(*ArrayObject).Elems
		}
		if len(args) == 0 {
			return ErrVal(name + " of empty sequence")
		}
		best := args[0]
		for _, a := range args[1:] {
			if better(numAsF64(best), numAsF64(a)) {
				best = a
			}
		}
		return best
	}
}

func initNativeModules() {
	nativeModules = map[string]*NativeModule{}

	mathMod := &NativeModule{Name: "math", Symbols: map[string]Value{
		"pi":    F64Val(math.Pi),
		"e":     F64Val(math.E),
		"sqrt":  WrapFunc("sqrt", math.Sqrt),
		"sin":   WrapFunc("sin", math.Sin),
		"cos":   WrapFunc("cos", math.Cos),
		"floor": WrapFunc("floor", func(f float64) int64 { return int64(math.Floor(f)) }),
		"ceil":  WrapFunc("ceil", func(f float64) int64 { return int64(math.Ceil(f)) }),
	}}
	nativeModules["math"] = mathMod
}

// NativeModuleNamed resolves an importable module; nil when unknown.
func NativeModuleNamed(path string) *NativeModule {
	RegisterGlobals()
	return nativeModules[path]
}
