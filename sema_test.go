package lython

import (
	"strings"
	"testing"
)

func analyzeSrc(t *testing.T, src string) (*Module, *Bindings, *Diagnostics) {
	t.Helper()
	mod, parseDiags := Parse("<test>", src)
	if parseDiags.HasErrors() {
		t.Fatalf("parse %q: %s", src, parseDiags)
	}
	b := NewBindings()
	SeedBindings(b)
	diags := Analyze(mod, b)
	return mod, b, diags
}

func hasDiag(diags *Diagnostics, kind DiagKind, substr string) bool {
	for _, d := range diags.List {
		if d.Kind == kind && strings.Contains(d.Msg, substr) {
			return true
		}
	}
	return false
}

func TestSemaAssignsVarids(t *testing.T) {
	mod, _, diags := analyzeSrc(t, "x = 1\ny = x\n")
	if diags.HasErrors() {
		t.Fatalf("unexpected diagnostics: %s", diags)
	}
	first := mod.Body[0].(*Assign)
	second := mod.Body[1].(*Assign)
	target := first.Targets[0].(*Name)
	load := second.Value.(*Name)
	if target.VarID < 0 {
		t.Fatal("target varid not assigned")
	}
	if load.VarID != target.VarID {
		t.Fatalf("load varid %d != target varid %d", load.VarID, target.VarID)
	}
}

func TestSemaNameError(t *testing.T) {
	_, _, diags := analyzeSrc(t, "def f():\n    return x\n")
	if !hasDiag(diags, DiagNameError, "x") {
		t.Fatalf("expected NameError for x, got: %s", diags)
	}
}

func TestSemaAnnotationMismatch(t *testing.T) {
	src := "def f(a: i32) -> i32:\n    return a\nx: f32 = f(1)\n"
	_, _, diags := analyzeSrc(t, src)
	if !hasDiag(diags, DiagTypeError, "f32") {
		t.Fatalf("expected TypeError mentioning f32, got: %s", diags)
	}
}

func TestSemaCallArgumentMismatch(t *testing.T) {
	src := "def f(a: i32) -> i32:\n    return a\ny = f(\"s\")\n"
	_, _, diags := analyzeSrc(t, src)
	if !hasDiag(diags, DiagTypeError, "f(a: i32) -> i32") {
		t.Fatalf("expected TypeError carrying the signature, got: %s", diags)
	}
}

func TestSemaAttributeError(t *testing.T) {
	src := "class P:\n    x: i32\np = P(1)\ny = p.zz\n"
	_, _, diags := analyzeSrc(t, src)
	if !hasDiag(diags, DiagAttributeError, "zz") {
		t.Fatalf("expected AttributeError, got: %s", diags)
	}
}

func TestSemaNativeOperatorResolution(t *testing.T) {
	mod, _, diags := analyzeSrc(t, "a = 1 + 2\n")
	if diags.HasErrors() {
		t.Fatalf("diags: %s", diags)
	}
	bin := mod.Body[0].(*Assign).Value.(*BinOp)
	if bin.Native == nil {
		t.Fatal("native operator not resolved for i32 + i32")
	}
	if bin.ResolvedOp != nil {
		t.Fatal("resolved operator should be empty when a native intrinsic applies")
	}
	if bt, ok := bin.ResolvedType().(*BuiltinType); !ok || bt.ID != TI32 {
		t.Fatalf("result type %v", bin.ResolvedType())
	}
}

func TestSemaDunderResolution(t *testing.T) {
	src := `class V:
    x: i32
    def __add__(self, other: V) -> V:
        return V(self.x + other.x)
a = V(1)
b = V(2)
c = a + b
`
	mod, _, diags := analyzeSrc(t, src)
	if diags.HasErrors() {
		t.Fatalf("diags: %s", diags)
	}
	asg := mod.Body[3].(*Assign)
	bin := asg.Value.(*BinOp)
	if bin.ResolvedOp == nil {
		t.Fatal("__add__ not resolved")
	}
	if bin.ResolvedOp.Name.String() != "__add__" {
		t.Fatalf("resolved %s", bin.ResolvedOp.Name)
	}
	if bin.Native != nil {
		t.Fatal("native and resolved must not both be set")
	}
	if ct, ok := asg.Value.ResolvedType().(*ClassType); !ok || ct.Def.Name.String() != "V" {
		t.Fatalf("result type %v", asg.Value.ResolvedType())
	}
}

func TestSemaUnsupportedOperand(t *testing.T) {
	_, _, diags := analyzeSrc(t, "a = 1 - \"s\"\n")
	if !hasDiag(diags, DiagUnsupportedOperand, "-") {
		t.Fatalf("expected UnsupportedOperand, got: %s", diags)
	}
}

func TestSemaModuleImports(t *testing.T) {
	_, _, diags := analyzeSrc(t, "import nosuch\n")
	if !hasDiag(diags, DiagModuleNotFoundError, "nosuch") {
		t.Fatalf("expected ModuleNotFoundError, got: %s", diags)
	}
	_, _, diags = analyzeSrc(t, "from math import nosuch\n")
	if !hasDiag(diags, DiagImportError, "nosuch") {
		t.Fatalf("expected ImportError, got: %s", diags)
	}
	_, _, diags = analyzeSrc(t, "from math import sqrt\nr = sqrt(4.0)\n")
	if diags.HasErrors() {
		t.Fatalf("valid import reported: %s", diags)
	}
}

func TestSemaCollectsMultipleErrors(t *testing.T) {
	src := "a = x1\nb = x2\nc = x3\n"
	_, _, diags := analyzeSrc(t, src)
	if len(diags.List) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d: %s", len(diags.List), diags)
	}
}

func TestSemaScopeTruncation(t *testing.T) {
	src := "def f(a: i32) -> i32:\n    b = a + 1\n    return b\nx = f(1)\n"
	_, b, diags := analyzeSrc(t, src)
	if diags.HasErrors() {
		t.Fatalf("diags: %s", diags)
	}
	// after analysis only module-level names remain above the seeded builtins
	if id := b.Lookup(Intern("b")); id >= 0 {
		t.Fatal("function local leaked out of its scope")
	}
	if b.Lookup(Intern("f")) < 0 || b.Lookup(Intern("x")) < 0 {
		t.Fatal("module names missing")
	}
}

func TestSemaIdempotence(t *testing.T) {
	src := "def f(a: i32) -> i32:\n    return a + 1\nx = f(1)\ny = x + 2\n"
	mod, parseDiags := Parse("<test>", src)
	if parseDiags.HasErrors() {
		t.Fatalf("parse: %s", parseDiags)
	}
	b := NewBindings()
	SeedBindings(b)

	collect := func() (int, []int) {
		var ids []int
		for _, st := range mod.Body {
			if a, ok := st.(*Assign); ok {
				ids = append(ids, a.Targets[0].(*Name).VarID)
			}
		}
		return b.Len(), ids
	}

	d1 := Analyze(mod, b)
	len1, ids1 := collect()
	d2 := Analyze(mod, b)
	len2, ids2 := collect()

	if d1.HasErrors() || d2.HasErrors() {
		t.Fatalf("diags: %s %s", d1, d2)
	}
	if len1 != len2 {
		t.Fatalf("bindings length changed: %d -> %d", len1, len2)
	}
	for i := range ids1 {
		if ids1[i] != ids2[i] {
			t.Fatalf("varid changed on re-analysis: %v -> %v", ids1, ids2)
		}
	}
}

func TestSemaGeneratorDetection(t *testing.T) {
	src := "def g():\n    yield 1\n"
	mod, _, diags := analyzeSrc(t, src)
	if diags.HasErrors() {
		t.Fatalf("diags: %s", diags)
	}
	fn := mod.Body[0].(*FunctionDef)
	if !fn.Generator {
		t.Fatal("yield did not mark the function as a generator")
	}
}

func TestSemaNonlocalOutsideNestedFunction(t *testing.T) {
	_, _, diags := analyzeSrc(t, "def f():\n    nonlocal q\n")
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic for nonlocal in a top-level function")
	}
}
