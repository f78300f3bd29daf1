package lython

import (
	"strings"
	"testing"
)

func TestPrinterCanonicalForms(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"x=1+2\n", "x = 1 + 2\n"},
		{"x   =   1\n", "x = 1\n"},
		{"def f(a:i32)->i32:\n    return a\n", "def f(a: i32) -> i32:\n    return a\n"},
		{"if a:\n    b=1\nelse:\n    b=2\n", "if a:\n    b = 1\nelse:\n    b = 2\n"},
		{"for i in xs:\n    print(i)\n", "for i in xs:\n    print(i)\n"},
		{"x+=1\n", "x += 1\n"},
		{"xs=[1,2,3]\n", "xs = [1, 2, 3]\n"},
		{"d={\"a\":1}\n", "d = {\"a\": 1}\n"},
		{"raise ValueError(\"x\")\n", "raise ValueError(\"x\")\n"},
		{"del x\n", "del x\n"},
		{"assert x,\"msg\"\n", "assert x, \"msg\"\n"},
		{"global a,b\n", "global a, b\n"},
	}
	for _, c := range cases {
		got := PrintModule(mustParse(t, c.src))
		if got != c.want {
			t.Errorf("%q: printed %q, want %q", c.src, got, c.want)
		}
	}
}

func TestPrinterParenthesization(t *testing.T) {
	// a child operand keeps parentheses iff its precedence is strictly
	// lower than its parent's
	cases := []struct {
		src  string
		want string
	}{
		{"(a + b) * c\n", "(a + b) * c"},
		{"a + b * c\n", "a + b * c"},
		{"a * (b + c)\n", "a * (b + c)"},
		{"(a or b) and c\n", "(a or b) and c"},
		{"not (a or b)\n", "not (a or b)"},
		{"-(a + b)\n", "-(a + b)"},
		{"(a + b).attr\n", "(a + b).attr"},
		{"(a + b)[0]\n", "(a + b)[0]"},
		{"(lambda x: x)(1)\n", "(lambda x: x)(1)"},
	}
	for _, c := range cases {
		got := ExprString(exprOf(t, c.src))
		if got != c.want {
			t.Errorf("%q: printed %q, want %q", c.src, got, c.want)
		}
	}
}

func TestPrinterRoundTripEquivalence(t *testing.T) {
	// print(parse(S)) == S modulo whitespace normalization: feeding the
	// printer its own output is a fixed point
	sources := []string{
		"x = 1\n",
		"x = a + b * c\n",
		"def f(a: i32, b: i32 = 2) -> i32:\n    return a + b\n",
		"class P:\n    x: i32\n    def m(self) -> i32:\n        return self.x\n",
		"try:\n    f()\nexcept ValueError as e:\n    g(e)\nfinally:\n    h()\n",
		"while x < 3:\n    x += 1\nelse:\n    done()\n",
		"match x:\n    case 1:\n        a = 1\n    case _:\n        a = 2\n",
		"with cm() as c:\n    use(c)\n",
		"xs = [i * 2 for i in range(3) if i > 0]\n",
		"import math\n",
		"from math import sqrt as s\n",
		"lam = lambda a, b: a + b\n",
		"print(f(1), g(x=2))\n",
	}
	for _, src := range sources {
		printed := PrintModule(mustParse(t, src))
		if printed != src {
			t.Errorf("not a fixed point:\n--- in ---\n%s--- out ---\n%s", src, printed)
		}
	}
}

func TestPrinterValueRegistration(t *testing.T) {
	RegisterGlobals()
	RegisterValuePrinter(VError, func(v Value) string { return "E:" + v.Ref.(string) })
	defer delete(valuePrinters, VError)
	if got := ErrVal("x").String(); got != "E:x" {
		t.Fatalf("registered printer ignored: %q", got)
	}
}

func TestDiagnosticRendering(t *testing.T) {
	d := &Diagnostic{Kind: DiagTypeError, Msg: "bad", Path: "a.ly", Line: 2, Col: 4}
	if got := d.Error(); got != "a.ly:2:4: TypeError: bad" {
		t.Fatalf("line format %q", got)
	}
	src := "x = 1\ny = oops here\nz = 3\n"
	out := RenderWithSource(d, src)
	if !strings.Contains(out, "2 | y = oops here") || !strings.Contains(out, "^") {
		t.Fatalf("caret snippet:\n%s", out)
	}
}
