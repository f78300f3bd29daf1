// operators.go — the operator precedence table and the native intrinsic
// dispatch table.
//
// The precedence table is the single source of truth shared by the lexer
// (operator trie), the parser (precedence climbing), Sema (dunder names) and
// the printer (parenthesization). The intrinsic table maps (operator, operand
// type pair) to a native implementation and result type; Sema falls back to
// dunder lookup when the table has no entry.
package lython

import (
	"math"
	"strings"
)

// OpClass classifies an operator for parsing and resolution.
type OpClass uint8

const (
	OpBinary OpClass = iota
	OpUnary
	OpBool
	OpCompare
)

// OpConfig is one precedence-table entry.
type OpConfig struct {
	Precedence int
	LeftAssoc  bool
	Class      OpClass
	Dunder     string // method on the left operand
	RDunder    string // right-handed fallback
	IDunder    string // in-place variant for augmented assignment
}

// UnaryPrecedence is the binding power of prefix operators.
const UnaryPrecedence = 75

var precedenceTable = map[string]OpConfig{
	"or":  {20, true, OpBool, "", "", ""},
	"and": {30, true, OpBool, "", "", ""},

	"<":      {40, true, OpCompare, "__lt__", "__gt__", ""},
	"<=":     {40, true, OpCompare, "__le__", "__ge__", ""},
	">":      {40, true, OpCompare, "__gt__", "__lt__", ""},
	">=":     {40, true, OpCompare, "__ge__", "__le__", ""},
	"==":     {40, true, OpCompare, "__eq__", "__eq__", ""},
	"!=":     {40, true, OpCompare, "__ne__", "__ne__", ""},
	"in":     {40, true, OpCompare, "__contains__", "", ""},
	"not in": {40, true, OpCompare, "__contains__", "", ""},
	"is":     {40, true, OpCompare, "", "", ""},
	"is not": {40, true, OpCompare, "", "", ""},

	"|":  {45, true, OpBinary, "__or__", "__ror__", "__ior__"},
	"^":  {46, true, OpBinary, "__xor__", "__rxor__", "__ixor__"},
	"&":  {47, true, OpBinary, "__and__", "__rand__", "__iand__"},
	"<<": {50, true, OpBinary, "__lshift__", "__rlshift__", "__ilshift__"},
	">>": {50, true, OpBinary, "__rshift__", "__rrshift__", "__irshift__"},

	"+": {60, true, OpBinary, "__add__", "__radd__", "__iadd__"},
	"-": {60, true, OpBinary, "__sub__", "__rsub__", "__isub__"},

	"*":  {70, true, OpBinary, "__mul__", "__rmul__", "__imul__"},
	"/":  {70, true, OpBinary, "__truediv__", "__rtruediv__", "__itruediv__"},
	"//": {70, true, OpBinary, "__floordiv__", "__rfloordiv__", "__ifloordiv__"},
	"%":  {70, true, OpBinary, "__mod__", "__rmod__", "__imod__"},
	"@":  {70, true, OpBinary, "__matmul__", "__rmatmul__", "__imatmul__"},

	"**": {80, false, OpBinary, "__pow__", "__rpow__", "__ipow__"},
}

// unaryDunders maps prefix operator spellings to their protocol hook.
var unaryDunders = map[string]string{
	"-":   "__neg__",
	"+":   "__pos__",
	"~":   "__invert__",
	"not": "", // truth protocol, no dunder
}

// augSpellings lists the augmented-assignment spellings derived from the
// binary operators; the lexer feeds them to the trie as TokAug.
var augSpellings = []string{
	"+=", "-=", "*=", "/=", "//=", "%=", "@=", "**=",
	"|=", "&=", "^=", "<<=", ">>=",
}

// lookupOp returns the table entry for a spelling.
func lookupOp(spelling string) (OpConfig, bool) {
	cfg, ok := precedenceTable[spelling]
	return cfg, ok
}

// --- type ids --------------------------------------------------------------

// TypeID identifies a primitive type for intrinsic dispatch.
type TypeID uint8

const (
	TInvalid TypeID = iota
	TNone
	TBool
	TI32
	TI64
	TF32
	TF64
	TStr
	TArray
	TDict
	TSet
	TTuple
	TType
)

var typeIDNames = [...]string{
	TInvalid: "<invalid>",
	TNone:    "None",
	TBool:    "bool",
	TI32:     "i32",
	TI64:     "i64",
	TF32:     "f32",
	TF64:     "f64",
	TStr:     "str",
	TArray:   "array",
	TDict:    "dict",
	TSet:     "set",
	TTuple:   "tuple",
	TType:    "type",
}

func (t TypeID) String() string {
	if int(t) < len(typeIDNames) {
		return typeIDNames[t]
	}
	return "<invalid>"
}

func tagTypeID(t ValueTag) TypeID {
	switch t {
	case VNone:
		return TNone
	case VBool:
		return TBool
	case VI32:
		return TI32
	case VI64:
		return TI64
	case VF32:
		return TF32
	case VF64:
		return TF64
	case VStr:
		return TStr
	case VArray:
		return TArray
	case VDict:
		return TDict
	case VTuple:
		return TTuple
	}
	return TInvalid
}

// --- native intrinsics -----------------------------------------------------

type binKey struct {
	Op   string
	L, R TypeID
}

type binEntry struct {
	Fn     BinaryIntrinsic
	Result TypeID
}

type unKey struct {
	Op      string
	Operand TypeID
}

type unEntry struct {
	Fn     UnaryIntrinsic
	Result TypeID
}

var binIntrinsics = map[binKey]binEntry{}
var unIntrinsics = map[unKey]unEntry{}

// lookupBinIntrinsic resolves an intrinsic for (op, l, r).
func lookupBinIntrinsic(op string, l, r TypeID) (binEntry, bool) {
	e, ok := binIntrinsics[binKey{op, l, r}]
	return e, ok
}

func lookupUnIntrinsic(op string, operand TypeID) (unEntry, bool) {
	e, ok := unIntrinsics[unKey{op, operand}]
	return e, ok
}

func regBin(op string, l, r, result TypeID, fn BinaryIntrinsic) {
	binIntrinsics[binKey{op, l, r}] = binEntry{Fn: fn, Result: result}
}

func regUn(op string, operand, result TypeID, fn UnaryIntrinsic) {
	unIntrinsics[unKey{op, operand}] = unEntry{Fn: fn, Result: result}
}

// mkNum builds a value of the given primitive id from an int/float pair.
func mkNum(id TypeID, i int64, f float64) Value {
	switch id {
	case TI32:
		return I32Val(int32(i))
	case TI64:
		return I64Val(i)
	case TF32:
		return F32Val(float32(f))
	case TF64:
		return F64Val(f)
	case TBool:
		return BoolVal(i != 0)
	}
	return NoneVal()
}

func initIntrinsics() {
	ints := []TypeID{TI32, TI64}
	floats := []TypeID{TF32, TF64}
	nums := []TypeID{TI32, TI64, TF32, TF64}

	wider := func(a, b TypeID) TypeID {
		if a == b {
			return a
		}
		switch {
		case a == TF64 || b == TF64:
			return TF64
		case a == TF32 || b == TF32:
			if a == TF32 && b == TF32 {
				return TF32
			}
			return TF64
		case a == TI64 || b == TI64:
			return TI64
		default:
			return TI32
		}
	}

	intOp := func(op string, fn func(a, b int64) int64) {
		for _, l := range ints {
			for _, r := range ints {
				res := wider(l, r)
				regBin(op, l, r, res, func(a, b Value) Value {
					return mkNum(res, fn(a.I, b.I), 0)
				})
			}
		}
	}
	floatOp := func(op string, fn func(a, b float64) float64) {
		for _, l := range nums {
			for _, r := range nums {
				if isIntID(l) && isIntID(r) {
					continue
				}
				res := wider(l, r)
				regBin(op, l, r, res, func(a, b Value) Value {
					return mkNum(res, 0, fn(numAsF64(a), numAsF64(b)))
				})
			}
		}
	}

	intOp("+", func(a, b int64) int64 { return a + b })
	intOp("-", func(a, b int64) int64 { return a - b })
	intOp("*", func(a, b int64) int64 { return a * b })
	intOp("//", func(a, b int64) int64 {
		if b == 0 {
			panic(&zeroDivision{})
		}
		return floorDiv(a, b)
	})
	intOp("%", func(a, b int64) int64 {
		if b == 0 {
			panic(&zeroDivision{})
		}
		return a - floorDiv(a, b)*b
	})
	intOp("<<", func(a, b int64) int64 { return a << uint(b) })
	intOp(">>", func(a, b int64) int64 { return a >> uint(b) })
	intOp("|", func(a, b int64) int64 { return a | b })
	intOp("&", func(a, b int64) int64 { return a & b })
	intOp("^", func(a, b int64) int64 { return a ^ b })

	floatOp("+", func(a, b float64) float64 { return a + b })
	floatOp("-", func(a, b float64) float64 { return a - b })
	floatOp("*", func(a, b float64) float64 { return a * b })
	floatOp("%", math.Mod)

	// true division always yields a float
	for _, l := range nums {
		for _, r := range nums {
			regBin("/", l, r, TF64, func(a, b Value) Value {
				d := numAsF64(b)
				if d == 0 {
					panic(&zeroDivision{})
				}
				return F64Val(numAsF64(a) / d)
			})
		}
	}
	for _, l := range floats {
		for _, r := range nums {
			res := wider(l, r)
			div := func(a, b Value) Value {
				d := numAsF64(b)
				if d == 0 {
					panic(&zeroDivision{})
				}
				return mkNum(res, 0, math.Floor(numAsF64(a)/d))
			}
			regBin("//", l, r, res, div)
			regBin("//", r, l, res, div)
		}
	}

	for _, l := range nums {
		for _, r := range nums {
			res := wider(l, r)
			regBin("**", l, r, res, func(a, b Value) Value {
				out := math.Pow(numAsF64(a), numAsF64(b))
				if isIntID(res) {
					return mkNum(res, int64(out), 0)
				}
				return mkNum(res, 0, out)
			})
		}
	}

	cmp := func(op string, fn func(a, b float64) bool) {
		for _, l := range nums {
			for _, r := range nums {
				regBin(op, l, r, TBool, func(a, b Value) Value {
					return BoolVal(fn(numAsF64(a), numAsF64(b)))
				})
			}
		}
	}
	cmp("<", func(a, b float64) bool { return a < b })
	cmp("<=", func(a, b float64) bool { return a <= b })
	cmp(">", func(a, b float64) bool { return a > b })
	cmp(">=", func(a, b float64) bool { return a >= b })
	cmp("==", func(a, b float64) bool { return a == b })
	cmp("!=", func(a, b float64) bool { return a != b })

	// strings
	regBin("+", TStr, TStr, TStr, func(a, b Value) Value {
		return StrVal(a.Ref.(string) + b.Ref.(string))
	})
	regBin("*", TStr, TI32, TStr, func(a, b Value) Value {
		return StrVal(strings.Repeat(a.Ref.(string), int(b.I)))
	})
	strCmp := func(op string, fn func(a, b string) bool) {
		regBin(op, TStr, TStr, TBool, func(a, b Value) Value {
			return BoolVal(fn(a.Ref.(string), b.Ref.(string)))
		})
	}
	strCmp("==", func(a, b string) bool { return a == b })
	strCmp("!=", func(a, b string) bool { return a != b })
	strCmp("<", func(a, b string) bool { return a < b })
	strCmp("<=", func(a, b string) bool { return a <= b })
	strCmp(">", func(a, b string) bool { return a > b })
	strCmp(">=", func(a, b string) bool { return a >= b })
	regBin("in", TStr, TStr, TBool, func(a, b Value) Value {
		return BoolVal(strings.Contains(b.Ref.(string), a.Ref.(string)))
	})

	// bools
	regBin("and", TBool, TBool, TBool, func(a, b Value) Value { return BoolVal(a.I != 0 && b.I != 0) })
	regBin("or", TBool, TBool, TBool, func(a, b Value) Value { return BoolVal(a.I != 0 || b.I != 0) })
	regBin("==", TBool, TBool, TBool, func(a, b Value) Value { return BoolVal(a.I == b.I) })
	regBin("!=", TBool, TBool, TBool, func(a, b Value) Value { return BoolVal(a.I != b.I) })

	// arrays
	regBin("+", TArray, TArray, TArray, func(a, b Value) Value {
		la := a.Ref.(*ArrayObject).Elems
		lb := b.Ref.(*ArrayObject).Elems
		out := make([]Value, 0, len(la)+len(lb))
		out = append(out, la...)
		out = append(out, lb...)
		return ArrayVal(out)
	})
	regBin("==", TArray, TArray, TBool, func(a, b Value) Value { return BoolVal(ValuesEqual(a, b)) })
	regBin("!=", TArray, TArray, TBool, func(a, b Value) Value { return BoolVal(!ValuesEqual(a, b)) })
	elemTypes := append(append([]TypeID{}, nums...), TStr, TBool, TNone, TArray, TTuple, TDict)
	for _, l := range elemTypes {
		for _, r := range []TypeID{TArray, TTuple, TDict, TSet} {
			regBin("in", l, r, TBool, containsValue)
			regBin("not in", l, r, TBool, func(a, b Value) Value {
				return BoolVal(containsValue(a, b).I == 0)
			})
		}
	}
	regBin("not in", TStr, TStr, TBool, func(a, b Value) Value {
		return BoolVal(!strings.Contains(b.Ref.(string), a.Ref.(string)))
	})

	// unary
	for _, t := range ints {
		res := t
		regUn("-", t, res, func(a Value) Value { return mkNum(res, -a.I, 0) })
		regUn("+", t, res, func(a Value) Value { return a })
		regUn("~", t, res, func(a Value) Value { return mkNum(res, ^a.I, 0) })
	}
	for _, t := range floats {
		res := t
		regUn("-", t, res, func(a Value) Value { return mkNum(res, 0, -a.F) })
		regUn("+", t, res, func(a Value) Value { return a })
	}
	regUn("not", TBool, TBool, func(a Value) Value { return BoolVal(a.I == 0) })
	for _, t := range nums {
		regUn("not", t, TBool, func(a Value) Value { return BoolVal(!a.Truthy()) })
	}
	regUn("not", TStr, TBool, func(a Value) Value { return BoolVal(!a.Truthy()) })
	regUn("not", TNone, TBool, func(a Value) Value { return BoolVal(true) })
}

// containsValue implements `a in b` across the container kinds; dict
// containment checks keys.
func containsValue(a, b Value) Value {
	var elems []Value
	switch b.Tag {
	case VArray:
		elems = b.Ref.(*ArrayObject).Elems
	case VTuple:
		elems = b.Ref.(*TupleObject).Elems
	case VDict:
		elems = b.Ref.(*DictObject).Keys
	default:
		return BoolVal(false)
	}
	for _, e := range elems {
		if ValuesEqual(e, a) {
			return BoolVal(true)
		}
	}
	return BoolVal(false)
}

func isIntID(t TypeID) bool { return t == TI32 || t == TI64 }

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// zeroDivision is converted by the evaluator into a ZeroDivisionError.
type zeroDivision struct{}

func (*zeroDivision) Error() string { return "division by zero" }
