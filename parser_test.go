package lython

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) *Module {
	t.Helper()
	mod, diags := Parse("<test>", src)
	if diags.HasErrors() {
		t.Fatalf("parse %q: %s", src, diags)
	}
	return mod
}

func exprOf(t *testing.T, src string) ExprNode {
	t.Helper()
	mod := mustParse(t, src)
	if len(mod.Body) != 1 {
		t.Fatalf("%q: expected one statement, got %d", src, len(mod.Body))
	}
	es, ok := mod.Body[0].(*ExprStmt)
	if !ok {
		t.Fatalf("%q: expected expression statement, got %T", src, mod.Body[0])
	}
	return es.Value
}

func TestParserPrecedenceGrouping(t *testing.T) {
	// for p1 < p2, `a o1 b o2 c` groups as `a o1 (b o2 c)`;
	// for p1 == p2 left-associative, as `(a o1 b) o2 c`.
	cases := []struct {
		src  string
		want string
	}{
		{"a + b * c\n", "a + b * c"},
		{"a * b + c\n", "a * b + c"},
		{"(a + b) * c\n", "(a + b) * c"},
		{"a - b - c\n", "a - b - c"},
		{"a - (b - c)\n", "a - (b - c)"},
		{"a + b | c\n", "a + b | c"},
		{"a | b + c\n", "a | b + c"},
		{"2 ** 3 ** 2\n", "2 ** 3 ** 2"},
		{"(2 ** 3) ** 2\n", "(2 ** 3) ** 2"},
		{"-a ** 2\n", "-a ** 2"},
		{"not a and b\n", "not a and b"},
		{"a and b or c\n", "a and b or c"},
		{"a or b and c\n", "a or b and c"},
	}
	for _, c := range cases {
		got := ExprString(exprOf(t, c.src))
		if got != c.want {
			t.Errorf("%q: printed %q, want %q", c.src, got, c.want)
		}
	}
}

func TestParserBinOpShape(t *testing.T) {
	e := exprOf(t, "a + b * c\n")
	bin, ok := e.(*BinOp)
	if !ok || bin.Op.String() != "+" {
		t.Fatalf("root is %T", e)
	}
	right, ok := bin.Right.(*BinOp)
	if !ok || right.Op.String() != "*" {
		t.Fatalf("right operand is %T", bin.Right)
	}
}

func TestParserChainedCompareCollapses(t *testing.T) {
	e := exprOf(t, "a < b < c\n")
	cmp, ok := e.(*Compare)
	if !ok {
		t.Fatalf("got %T", e)
	}
	if len(cmp.Ops) != 2 || len(cmp.Comparators) != 2 {
		t.Fatalf("ops=%d comparators=%d", len(cmp.Ops), len(cmp.Comparators))
	}
	if cmp.Ops[0].String() != "<" || cmp.Ops[1].String() != "<" {
		t.Fatalf("ops %v %v", cmp.Ops[0], cmp.Ops[1])
	}
}

func TestParserTwoTokenOperators(t *testing.T) {
	e := exprOf(t, "a not in b\n")
	cmp, ok := e.(*Compare)
	if !ok || cmp.Ops[0].String() != "not in" {
		t.Fatalf("got %T", e)
	}
	e = exprOf(t, "a is not b\n")
	cmp, ok = e.(*Compare)
	if !ok || cmp.Ops[0].String() != "is not" {
		t.Fatalf("got %T", e)
	}
}

func TestParserBoolChainCollapses(t *testing.T) {
	e := exprOf(t, "a and b and c\n")
	b, ok := e.(*BoolOp)
	if !ok || b.Op != BoolAnd || len(b.Values) != 3 {
		t.Fatalf("got %T %+v", e, e)
	}
}

func TestParserIfElifCanonicalForm(t *testing.T) {
	src := "if a:\n    x = 1\nelif b:\n    x = 2\nelif c:\n    x = 3\nelse:\n    x = 4\n"
	mod := mustParse(t, src)
	n, ok := mod.Body[0].(*If)
	if !ok {
		t.Fatalf("got %T", mod.Body[0])
	}
	if len(n.Tests) != 3 || len(n.Bodies) != 3 {
		t.Fatalf("tests=%d bodies=%d", len(n.Tests), len(n.Bodies))
	}
	if len(n.Orelse) != 1 {
		t.Fatalf("orelse=%d", len(n.Orelse))
	}
}

func TestParserFunctionDef(t *testing.T) {
	src := "def f(a: i32, b: i32 = 2) -> i32:\n    \"\"\"adds\"\"\"\n    return a + b\n"
	mod := mustParse(t, src)
	fn, ok := mod.Body[0].(*FunctionDef)
	if !ok {
		t.Fatalf("got %T", mod.Body[0])
	}
	if fn.Name.String() != "f" || len(fn.Args.Args) != 2 {
		t.Fatalf("%+v", fn)
	}
	if fn.Args.Args[1].Default == nil {
		t.Fatal("missing default")
	}
	if fn.Docstring != "adds" {
		t.Fatalf("docstring %q", fn.Docstring)
	}
	if fn.Returns == nil {
		t.Fatal("missing return annotation")
	}
	if len(fn.Body) != 1 {
		t.Fatalf("docstring kept as a statement: %d stmts", len(fn.Body))
	}
}

func TestParserClassAttributeOrder(t *testing.T) {
	src := "class P:\n    x: i32\n    y: i32 = 2\n    def m(self):\n        pass\n"
	mod := mustParse(t, src)
	cls, ok := mod.Body[0].(*ClassDef)
	if !ok {
		t.Fatalf("got %T", mod.Body[0])
	}
	if len(cls.Attrs) != 2 || cls.Attrs[0].Name.String() != "x" || cls.Attrs[1].Name.String() != "y" {
		t.Fatalf("attrs %+v", cls.Attrs)
	}
	if cls.Attrs[1].Default == nil {
		t.Fatal("y default lost")
	}
	if cls.Methods[Intern("m")] == nil {
		t.Fatal("method not collected")
	}
}

func TestParserMatchPatterns(t *testing.T) {
	src := `match x:
    case 1:
        a = 1
    case [p, *rest]:
        a = 2
    case {"k": v}:
        a = 3
    case P(1, y=q):
        a = 4
    case 1 | 2 as both:
        a = 5
    case _:
        a = 6
`
	mod := mustParse(t, src)
	m, ok := mod.Body[0].(*Match)
	if !ok {
		t.Fatalf("got %T", mod.Body[0])
	}
	if len(m.Cases) != 6 {
		t.Fatalf("cases=%d", len(m.Cases))
	}
	if _, ok := m.Cases[0].Pattern.(*MatchValue); !ok {
		t.Errorf("case 0: %T", m.Cases[0].Pattern)
	}
	if _, ok := m.Cases[1].Pattern.(*MatchSequence); !ok {
		t.Errorf("case 1: %T", m.Cases[1].Pattern)
	}
	if _, ok := m.Cases[2].Pattern.(*MatchMapping); !ok {
		t.Errorf("case 2: %T", m.Cases[2].Pattern)
	}
	if _, ok := m.Cases[3].Pattern.(*MatchClass); !ok {
		t.Errorf("case 3: %T", m.Cases[3].Pattern)
	}
	if as, ok := m.Cases[4].Pattern.(*MatchAs); !ok {
		t.Errorf("case 4: %T", m.Cases[4].Pattern)
	} else if _, ok := as.Pattern.(*MatchOr); !ok {
		t.Errorf("case 4 inner: %T", as.Pattern)
	}
	if wild, ok := m.Cases[5].Pattern.(*MatchAs); !ok || wild.Name != 0 {
		t.Errorf("case 5: %T", m.Cases[5].Pattern)
	}
}

func TestParserTryExceptFinally(t *testing.T) {
	src := "try:\n    x = 1\nexcept ValueError as e:\n    x = 2\nexcept:\n    x = 3\nfinally:\n    x = 4\n"
	mod := mustParse(t, src)
	n, ok := mod.Body[0].(*Try)
	if !ok {
		t.Fatalf("got %T", mod.Body[0])
	}
	if len(n.Handlers) != 2 {
		t.Fatalf("handlers=%d", len(n.Handlers))
	}
	if n.Handlers[0].Name.String() != "e" || n.Handlers[0].Type == nil {
		t.Fatalf("handler 0: %+v", n.Handlers[0])
	}
	if n.Handlers[1].Type != nil {
		t.Fatal("bare except should have nil type")
	}
	if len(n.Finalbody) != 1 {
		t.Fatalf("finally=%d", len(n.Finalbody))
	}
}

func TestParserErrorRecovery(t *testing.T) {
	src := "x = = 1\ny = = 2\nz = 3\n"
	mod, diags := Parse("<test>", src)
	if len(diags.List) < 2 {
		t.Fatalf("expected at least 2 diagnostics, got %d: %s", len(diags.List), diags)
	}
	// the parser kept going: z = 3 survives
	found := false
	for _, st := range mod.Body {
		if a, ok := st.(*Assign); ok {
			if nm, ok := a.Targets[0].(*Name); ok && nm.ID.String() == "z" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("statement after errors was lost")
	}
}

func TestParserDiagnosticFormat(t *testing.T) {
	_, diags := Parse("prog.ly", "def f(:\n")
	if !diags.HasErrors() {
		t.Fatal("expected a diagnostic")
	}
	msg := diags.List[0].Error()
	if !strings.HasPrefix(msg, "prog.ly:") || !strings.Contains(msg, "SyntaxError:") {
		t.Fatalf("diagnostic format: %q", msg)
	}
}

func TestParserImports(t *testing.T) {
	src := "import math\nfrom math import sqrt as s, pi\n"
	mod := mustParse(t, src)
	imp, ok := mod.Body[0].(*Import)
	if !ok || imp.Names[0].Name.String() != "math" {
		t.Fatalf("import: %T", mod.Body[0])
	}
	fr, ok := mod.Body[1].(*ImportFrom)
	if !ok || fr.Module.String() != "math" || len(fr.Names) != 2 {
		t.Fatalf("from import: %+v", mod.Body[1])
	}
	if fr.Names[0].AsName.String() != "s" {
		t.Fatalf("alias: %+v", fr.Names[0])
	}
}

func TestParserFString(t *testing.T) {
	e := exprOf(t, "f\"a{x}b\"\n")
	js, ok := e.(*JoinedStr)
	if !ok {
		t.Fatalf("got %T", e)
	}
	if len(js.Values) != 3 {
		t.Fatalf("parts=%d", len(js.Values))
	}
	if _, ok := js.Values[1].(*FormattedValue); !ok {
		t.Fatalf("middle part: %T", js.Values[1])
	}
}

func TestParserComprehensions(t *testing.T) {
	e := exprOf(t, "[i * 2 for i in xs if i > 0]\n")
	lc, ok := e.(*ListComp)
	if !ok {
		t.Fatalf("got %T", e)
	}
	if len(lc.Generators) != 1 || len(lc.Generators[0].Ifs) != 1 {
		t.Fatalf("%+v", lc.Generators)
	}
	if _, ok := exprOf(t, "{k: v for k in xs}\n").(*DictComp); !ok {
		t.Fatal("dict comprehension")
	}
	if _, ok := exprOf(t, "{i for i in xs}\n").(*SetComp); !ok {
		t.Fatal("set comprehension")
	}
}

func TestParserRoundTripIdempotent(t *testing.T) {
	sources := []string{
		"x = 1 + 2 * 3\n",
		"def f(a: i32) -> i32:\n    return a + 1\n",
		"if a:\n    b = 1\nelse:\n    b = 2\n",
		"for i in range(3):\n    print(i)\n",
		"while x < 10:\n    x += 1\n",
		"class P:\n    x: i32\n    def m(self) -> i32:\n        return self.x\n",
		"try:\n    f()\nexcept ValueError:\n    pass\n",
		"with open() as f:\n    g(f)\n",
	}
	for _, src := range sources {
		once := PrintModule(mustParse(t, src))
		twice := PrintModule(mustParse(t, once))
		if once != twice {
			t.Errorf("print not idempotent for %q:\n--- once ---\n%s--- twice ---\n%s", src, once, twice)
		}
	}
}
