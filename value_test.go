package lython

import "testing"

func TestValueTypedAccess(t *testing.T) {
	ClearValueError()

	if got := As[int32](I32Val(5)); got != 5 || HasValueError() {
		t.Fatalf("As[int32]: %d err=%v", got, HasValueError())
	}
	if got := As[int64](I32Val(5)); got != 5 || HasValueError() {
		t.Fatalf("widening cast: %d", got)
	}
	if got := As[float64](I32Val(5)); got != 5.0 || HasValueError() {
		t.Fatalf("int to float cast: %g", got)
	}
	if got := As[int32](F64Val(2.9)); got != 2 || HasValueError() {
		t.Fatalf("float to int cast: %d", got)
	}
	if got := As[string](StrVal("hi")); got != "hi" || HasValueError() {
		t.Fatalf("As[string]: %q", got)
	}
}

func TestValueAccessMismatchIsNonThrowing(t *testing.T) {
	ClearValueError()
	got := As[string](I32Val(5))
	if got != "" {
		t.Fatalf("mismatch should zero-initialize, got %q", got)
	}
	if !HasValueError() {
		t.Fatal("mismatch did not record a value error")
	}
	e := LastValueError()
	if e.Got != VI32 {
		t.Fatalf("recorded tag %v", e.Got)
	}
	if HasValueError() {
		t.Fatal("LastValueError did not clear the slot")
	}
}

func TestValueIsValid(t *testing.T) {
	if !IsValid[int64](I32Val(1)) || !IsValid[string](StrVal("x")) {
		t.Fatal("valid cases rejected")
	}
	if IsValid[string](I32Val(1)) || IsValid[*ArrayObject](StrVal("x")) {
		t.Fatal("invalid cases accepted")
	}
}

func TestValueRefOf(t *testing.T) {
	v := I32Val(5)
	p := RefOf[int64](&v)
	*p = 9
	if v.I != 9 {
		t.Fatalf("RefOf did not alias inline storage: %d", v.I)
	}

	arr := ArrayVal([]Value{I32Val(1)})
	ap := RefOf[*ArrayObject](&arr)
	(*ap).Elems = append((*ap).Elems, I32Val(2))
	if len(arr.Ref.(*ArrayObject).Elems) != 2 {
		t.Fatal("RefOf did not alias heap storage")
	}
}

func TestValueTruthiness(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{NoneVal(), false},
		{BoolVal(false), false},
		{BoolVal(true), true},
		{I32Val(0), false},
		{I32Val(3), true},
		{F64Val(0), false},
		{StrVal(""), false},
		{StrVal("x"), true},
		{ArrayVal(nil), false},
		{ArrayVal([]Value{I32Val(1)}), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("Truthy(%s) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestValueDeepCopy(t *testing.T) {
	orig := ArrayVal([]Value{I32Val(1), ArrayVal([]Value{I32Val(2)})})
	cp := orig.DeepCopy()
	cp.Ref.(*ArrayObject).Elems[0] = I32Val(9)
	cp.Ref.(*ArrayObject).Elems[1].Ref.(*ArrayObject).Elems[0] = I32Val(9)
	if orig.Ref.(*ArrayObject).Elems[0].I != 1 {
		t.Fatal("deep copy shares top-level storage")
	}
	if orig.Ref.(*ArrayObject).Elems[1].Ref.(*ArrayObject).Elems[0].I != 2 {
		t.Fatal("deep copy shares nested storage")
	}
}

func TestValueEquality(t *testing.T) {
	if !ValuesEqual(I32Val(1), I64Val(1)) {
		t.Fatal("numeric cross-width equality")
	}
	if !ValuesEqual(
		ArrayVal([]Value{I32Val(1), StrVal("a")}),
		ArrayVal([]Value{I32Val(1), StrVal("a")}),
	) {
		t.Fatal("array equality")
	}
	if ValuesEqual(StrVal("a"), I32Val(1)) {
		t.Fatal("cross-kind equality")
	}
}

func TestValuePrinting(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{NoneVal(), "None"},
		{BoolVal(true), "True"},
		{I32Val(42), "42"},
		{F64Val(2.5), "2.5"},
		{F64Val(3), "3.0"},
		{StrVal("hi"), "hi"},
		{ArrayVal([]Value{I32Val(1), StrVal("a")}), "[1, 'a']"},
		{TupleVal([]Value{I32Val(1)}), "(1,)"},
	}
	for _, c := range cases {
		if got := c.v.String(); got != c.want {
			t.Errorf("String(%v) = %q, want %q", c.v.Tag, got, c.want)
		}
	}
}

func TestWrapFunc(t *testing.T) {
	add := WrapFunc("add", func(a, b int64) int64 { return a + b })
	fn := As[*NativeFn](add)
	if fn == nil {
		t.Fatal("WrapFunc did not produce a native callable")
	}
	out := fn.Call([]Value{I32Val(2), I32Val(3)})
	if out.Tag != VI64 || out.I != 5 {
		t.Fatalf("wrapped call returned %s", out)
	}

	upper := WrapFunc("greet", func(name string) string { return "hello " + name })
	out = As[*NativeFn](upper).Call([]Value{StrVal("there")})
	if As[string](out) != "hello there" {
		t.Fatalf("wrapped string call returned %s", out)
	}
}
