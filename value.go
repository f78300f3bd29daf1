// value.go — the runtime value model.
//
// Value is a small tagged variant. Scalar payloads (none, bool, integers,
// floats) live inline in the I/F words; everything larger lives behind the
// Ref slot. Typed access goes through the generic As/RefOf helpers, which
// never panic on a mismatch: they record the mismatch in a process-local
// last-error slot and return a zero value, so callers check HasValueError()
// when they care.
package lython

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValueTag discriminates the payload stored in a Value.
type ValueTag uint8

const (
	VInvalid ValueTag = iota
	VNone
	VBool
	VI32
	VI64
	VF32
	VF64
	VStr
	VArray
	VDict
	VTuple
	VClosure
	VNative
	VObject
	VError
)

var valueTagNames = [...]string{
	VInvalid: "invalid",
	VNone:    "None",
	VBool:    "bool",
	VI32:     "i32",
	VI64:     "i64",
	VF32:     "f32",
	VF64:     "f64",
	VStr:     "str",
	VArray:   "array",
	VDict:    "dict",
	VTuple:   "tuple",
	VClosure: "closure",
	VNative:  "native",
	VObject:  "object",
	VError:   "error",
}

func (t ValueTag) String() string {
	if int(t) < len(valueTagNames) {
		return valueTagNames[t]
	}
	return "invalid"
}

// Value is the runtime value holder. I carries bool/i32/i64 payloads, F
// carries f32/f64 payloads; Ref carries string, *ArrayObject, *DictObject,
// *TupleObject, *Closure, *NativeFn and *Instance payloads.
type Value struct {
	Tag ValueTag
	I   int64
	F   float64
	Ref any
}

// ArrayObject is a mutable array of values.
type ArrayObject struct {
	Elems []Value
}

// DictObject is an insertion-ordered mapping from value to value.
type DictObject struct {
	Keys []Value
	Vals []Value
}

// TupleObject is an immutable sequence of values.
type TupleObject struct {
	Elems []Value
}

// Closure pairs a function definition with its captured environment.
type Closure struct {
	Fn       *FunctionDef
	Captured []Binding
}

// NativeFn is a callable implemented in the host.
type NativeFn struct {
	Name  string
	Arity int // -1 for variadic
	Call  func(args []Value) Value
	State any
}

// Instance is a class instance: its class plus one attribute slot per entry
// of the class attribute map, in declaration order.
type Instance struct {
	Class *ClassDef
	Attrs []Value
}

// Constructors.

func NoneVal() Value { return Value{Tag: VNone} }

func BoolVal(b bool) Value {
	v := Value{Tag: VBool}
	if b {
		v.I = 1
	}
	return v
}

func I32Val(i int32) Value    { return Value{Tag: VI32, I: int64(i)} }
func I64Val(i int64) Value    { return Value{Tag: VI64, I: i} }
func F32Val(f float32) Value  { return Value{Tag: VF32, F: float64(f)} }
func F64Val(f float64) Value  { return Value{Tag: VF64, F: f} }
func StrVal(s string) Value   { return Value{Tag: VStr, Ref: s} }
func ErrVal(msg string) Value { return Value{Tag: VError, Ref: msg} }

func ArrayVal(elems []Value) Value { return Value{Tag: VArray, Ref: &ArrayObject{Elems: elems}} }
func TupleVal(elems []Value) Value { return Value{Tag: VTuple, Ref: &TupleObject{Elems: elems}} }
func DictVal(d *DictObject) Value  { return Value{Tag: VDict, Ref: d} }
func ClosureVal(c *Closure) Value  { return Value{Tag: VClosure, Ref: c} }
func NativeVal(f *NativeFn) Value  { return Value{Tag: VNative, Ref: f} }
func ObjectVal(o *Instance) Value  { return Value{Tag: VObject, Ref: o} }

// Set inserts or replaces k in the dict, preserving insertion order.
func (d *DictObject) Set(k, v Value) {
	for i := range d.Keys {
		if ValuesEqual(d.Keys[i], k) {
			d.Vals[i] = v
			return
		}
	}
	d.Keys = append(d.Keys, k)
	d.Vals = append(d.Vals, v)
}

func (d *DictObject) Get(k Value) (Value, bool) {
	for i := range d.Keys {
		if ValuesEqual(d.Keys[i], k) {
			return d.Vals[i], true
		}
	}
	return Value{}, false
}

// --- last-error slot -------------------------------------------------------

// ValueError records a typed-access mismatch: the requested payload type and
// the tag that was actually stored.
type ValueError struct {
	Want string
	Got  ValueTag
}

var lastValueError *ValueError

// HasValueError reports whether a typed access failed since the last clear.
func HasValueError() bool { return lastValueError != nil }

// LastValueError returns and clears the pending access error.
func LastValueError() *ValueError {
	e := lastValueError
	lastValueError = nil
	return e
}

func ClearValueError() { lastValueError = nil }

func accessError[T any](got ValueTag) T {
	var zero T
	lastValueError = &ValueError{Want: fmt.Sprintf("%T", zero), Got: got}
	return zero
}

// --- typed accessors -------------------------------------------------------

// As extracts a typed copy of the payload. Compatible numeric casts succeed
// (an i32 payload read as float64 converts); anything else records a value
// error and returns zero.
func As[T any](v Value) T {
	var zero T
	switch any(zero).(type) {
	case bool:
		if v.Tag == VBool {
			return any(v.I != 0).(T)
		}
	case int32:
		switch v.Tag {
		case VI32, VI64, VBool:
			return any(int32(v.I)).(T)
		case VF32, VF64:
			return any(int32(v.F)).(T)
		}
	case int64:
		switch v.Tag {
		case VI32, VI64, VBool:
			return any(v.I).(T)
		case VF32, VF64:
			return any(int64(v.F)).(T)
		}
	case float32:
		switch v.Tag {
		case VF32, VF64:
			return any(float32(v.F)).(T)
		case VI32, VI64:
			return any(float32(v.I)).(T)
		}
	case float64:
		switch v.Tag {
		case VF32, VF64:
			return any(v.F).(T)
		case VI32, VI64:
			return any(float64(v.I)).(T)
		}
	case string:
		if v.Tag == VStr {
			return any(v.Ref.(string)).(T)
		}
	case *ArrayObject:
		if v.Tag == VArray {
			return any(v.Ref.(*ArrayObject)).(T)
		}
	case *DictObject:
		if v.Tag == VDict {
			return any(v.Ref.(*DictObject)).(T)
		}
	case *TupleObject:
		if v.Tag == VTuple {
			return any(v.Ref.(*TupleObject)).(T)
		}
	case *Closure:
		if v.Tag == VClosure {
			return any(v.Ref.(*Closure)).(T)
		}
	case *NativeFn:
		if v.Tag == VNative {
			return any(v.Ref.(*NativeFn)).(T)
		}
	case *Instance:
		if v.Tag == VObject {
			return any(v.Ref.(*Instance)).(T)
		}
	}
	return accessError[T](v.Tag)
}

// IsValid reports whether As[T] would succeed without a cast error.
func IsValid[T any](v Value) bool {
	var zero T
	switch any(zero).(type) {
	case bool:
		return v.Tag == VBool
	case int32, int64:
		return isNumericTag(v.Tag)
	case float32, float64:
		return v.Tag == VF32 || v.Tag == VF64 || v.Tag == VI32 || v.Tag == VI64
	case string:
		return v.Tag == VStr
	case *ArrayObject:
		return v.Tag == VArray
	case *DictObject:
		return v.Tag == VDict
	case *TupleObject:
		return v.Tag == VTuple
	case *Closure:
		return v.Tag == VClosure
	case *NativeFn:
		return v.Tag == VNative
	case *Instance:
		return v.Tag == VObject
	}
	return false
}

// RefOf returns a mutable view into the Value's own storage for the payload's
// natural representation (int64 for integers, float64 for floats). Views into
// heap payloads alias the heap object.
func RefOf[T any](v *Value) *T {
	var zero T
	switch any(zero).(type) {
	case int64:
		if v.Tag == VI32 || v.Tag == VI64 || v.Tag == VBool {
			return any(&v.I).(*T)
		}
	case float64:
		if v.Tag == VF32 || v.Tag == VF64 {
			return any(&v.F).(*T)
		}
	}
	if r, ok := v.Ref.(T); ok {
		// heap payloads are pointers already; boxing keeps the alias
		box := r
		return &box
	}
	_ = accessError[T](v.Tag)
	return &zero
}

// --- operations ------------------------------------------------------------

// Truthy implements the language truth rules.
func (v Value) Truthy() bool {
	switch v.Tag {
	case VNone, VInvalid:
		return false
	case VBool, VI32, VI64:
		return v.I != 0
	case VF32, VF64:
		return v.F != 0
	case VStr:
		return v.Ref.(string) != ""
	case VArray:
		return len(v.Ref.(*ArrayObject).Elems) > 0
	case VTuple:
		return len(v.Ref.(*TupleObject).Elems) > 0
	case VDict:
		return len(v.Ref.(*DictObject).Keys) > 0
	default:
		return true
	}
}

// ValuesEqual compares two values structurally.
func ValuesEqual(a, b Value) bool {
	if a.Tag != b.Tag {
		if isNumericTag(a.Tag) && isNumericTag(b.Tag) {
			return numAsF64(a) == numAsF64(b)
		}
		return false
	}
	switch a.Tag {
	case VNone:
		return true
	case VBool, VI32, VI64:
		return a.I == b.I
	case VF32, VF64:
		return a.F == b.F
	case VStr:
		return a.Ref.(string) == b.Ref.(string)
	case VArray:
		return elemsEqual(a.Ref.(*ArrayObject).Elems, b.Ref.(*ArrayObject).Elems)
	case VTuple:
		return elemsEqual(a.Ref.(*TupleObject).Elems, b.Ref.(*TupleObject).Elems)
	case VDict:
		da, db := a.Ref.(*DictObject), b.Ref.(*DictObject)
		if len(da.Keys) != len(db.Keys) {
			return false
		}
		for i := range da.Keys {
			bv, ok := db.Get(da.Keys[i])
			if !ok || !ValuesEqual(da.Vals[i], bv) {
				return false
			}
		}
		return true
	default:
		return a.Ref == b.Ref
	}
}

func elemsEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ValuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func isNumericTag(t ValueTag) bool {
	switch t {
	case VBool, VI32, VI64, VF32, VF64:
		return true
	}
	return false
}

func isIntTag(t ValueTag) bool { return t == VI32 || t == VI64 }

func numAsF64(v Value) float64 {
	if v.Tag == VF32 || v.Tag == VF64 {
		return v.F
	}
	return float64(v.I)
}

// DeepCopy copies the value and every heap payload reachable from it.
func (v Value) DeepCopy() Value {
	switch v.Tag {
	case VArray:
		src := v.Ref.(*ArrayObject).Elems
		dst := make([]Value, len(src))
		for i := range src {
			dst[i] = src[i].DeepCopy()
		}
		return ArrayVal(dst)
	case VTuple:
		src := v.Ref.(*TupleObject).Elems
		dst := make([]Value, len(src))
		for i := range src {
			dst[i] = src[i].DeepCopy()
		}
		return TupleVal(dst)
	case VDict:
		src := v.Ref.(*DictObject)
		dst := &DictObject{Keys: make([]Value, len(src.Keys)), Vals: make([]Value, len(src.Vals))}
		for i := range src.Keys {
			dst.Keys[i] = src.Keys[i].DeepCopy()
			dst.Vals[i] = src.Vals[i].DeepCopy()
		}
		return DictVal(dst)
	case VObject:
		src := v.Ref.(*Instance)
		attrs := make([]Value, len(src.Attrs))
		for i := range src.Attrs {
			attrs[i] = src.Attrs[i].DeepCopy()
		}
		return ObjectVal(&Instance{Class: src.Class, Attrs: attrs})
	default:
		return v
	}
}

// --- printing --------------------------------------------------------------

type valuePrinter func(Value) string

var valuePrinters = map[ValueTag]valuePrinter{}

// RegisterValuePrinter installs a printer for a tag; RegisterGlobals seeds
// printers for all builtin tags.
func RegisterValuePrinter(t ValueTag, p valuePrinter) { valuePrinters[t] = p }

// String renders the value for program output (print semantics).
func (v Value) String() string {
	if p, ok := valuePrinters[v.Tag]; ok {
		return p(v)
	}
	switch v.Tag {
	case VNone:
		return "None"
	case VBool:
		if v.I != 0 {
			return "True"
		}
		return "False"
	case VI32, VI64:
		return fmt.Sprintf("%d", v.I)
	case VF32, VF64:
		return formatFloat(v.F)
	case VStr:
		return v.Ref.(string)
	case VArray:
		return bracketedValues("[", "]", v.Ref.(*ArrayObject).Elems)
	case VTuple:
		elems := v.Ref.(*TupleObject).Elems
		if len(elems) == 1 {
			return "(" + elems[0].Repr() + ",)"
		}
		return bracketedValues("(", ")", elems)
	case VDict:
		d := v.Ref.(*DictObject)
		var b strings.Builder
		b.WriteByte('{')
		for i := range d.Keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Keys[i].Repr())
			b.WriteString(": ")
			b.WriteString(d.Vals[i].Repr())
		}
		b.WriteByte('}')
		return b.String()
	case VClosure:
		c := v.Ref.(*Closure)
		return fmt.Sprintf("<function %s>", c.Fn.Name)
	case VNative:
		return fmt.Sprintf("<builtin %s>", v.Ref.(*NativeFn).Name)
	case VObject:
		o := v.Ref.(*Instance)
		return fmt.Sprintf("<%s object at %p>", o.Class.Name, o)
	case VError:
		return fmt.Sprintf("<error %v>", v.Ref)
	default:
		// unregistered payloads print their type name and address
		return fmt.Sprintf("<%T at %p>", v.Ref, v.Ref)
	}
}

// Repr renders the value the way it appears inside containers: strings keep
// their quotes.
func (v Value) Repr() string {
	if v.Tag == VStr {
		return "'" + v.Ref.(string) + "'"
	}
	return v.String()
}

func bracketedValues(open, close string, elems []Value) string {
	var b strings.Builder
	b.WriteString(open)
	for i, e := range elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.Repr())
	}
	b.WriteString(close)
	return b.String()
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// --- native function wrapping ---------------------------------------------

// WrapFunc wraps a Go function into a callable Value. The wrapper unpacks the
// argument array, extracts each argument per the function's declared
// parameter types (Value passes through unconverted), invokes, and wraps the
// result. Supported parameter and result kinds: bool, int32, int64, float32,
// float64, string, Value, []Value.
func WrapFunc(name string, fn any) Value {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		panic(fmt.Sprintf("WrapFunc(%s): not a function", name))
	}
	arity := rt.NumIn()
	if rt.IsVariadic() {
		arity = -1
	}
	call := func(args []Value) Value {
		in := make([]reflect.Value, 0, len(args))
		for i := 0; i < rt.NumIn(); i++ {
			pt := rt.In(i)
			if rt.IsVariadic() && i == rt.NumIn()-1 {
				for _, a := range args[i:] {
					in = append(in, fromValue(a, pt.Elem()))
				}
				break
			}
			var a Value
			if i < len(args) {
				a = args[i]
			} else {
				a = NoneVal()
			}
			in = append(in, fromValue(a, pt))
		}
		out := rv.Call(in)
		if len(out) == 0 {
			return NoneVal()
		}
		return toValue(out[0])
	}
	return NativeVal(&NativeFn{Name: name, Arity: arity, Call: call})
}

func fromValue(v Value, t reflect.Type) reflect.Value {
	switch t {
	case reflect.TypeOf(Value{}):
		return reflect.ValueOf(v)
	case reflect.TypeOf([]Value{}):
		arr := As[*ArrayObject](v)
		if arr == nil {
			return reflect.ValueOf([]Value(nil))
		}
		return reflect.ValueOf(arr.Elems)
	}
	switch t.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(v.Truthy())
	case reflect.Int32:
		return reflect.ValueOf(As[int32](v))
	case reflect.Int64:
		return reflect.ValueOf(As[int64](v))
	case reflect.Float32:
		return reflect.ValueOf(As[float32](v))
	case reflect.Float64:
		return reflect.ValueOf(As[float64](v))
	case reflect.String:
		return reflect.ValueOf(As[string](v))
	}
	return reflect.Zero(t)
}

func toValue(rv reflect.Value) Value {
	if rv.Type() == reflect.TypeOf(Value{}) {
		return rv.Interface().(Value)
	}
	switch rv.Kind() {
	case reflect.Bool:
		return BoolVal(rv.Bool())
	case reflect.Int32:
		return I32Val(int32(rv.Int()))
	case reflect.Int64:
		return I64Val(rv.Int())
	case reflect.Float32:
		return F32Val(float32(rv.Float()))
	case reflect.Float64:
		return F64Val(rv.Float())
	case reflect.String:
		return StrVal(rv.String())
	default:
		return NoneVal()
	}
}

// sortedDictKeys returns the dict keys in a deterministic order for tests.
func sortedDictKeys(d *DictObject) []Value {
	out := append([]Value(nil), d.Keys...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Repr() < out[j].Repr() })
	return out
}
