package lython

import (
	"bytes"
	"strings"
	"testing"
)

// runProgram executes a whole program the way the CLI does, capturing the
// streams and the exit code.
func runProgram(t *testing.T, src string) (string, string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := RunSource("<test>", src, RunOptions{Stdout: &out, Stderr: &errOut})
	return out.String(), errOut.String(), code
}

func TestEndToEndScenarios(t *testing.T) {
	cases := []struct {
		name       string
		src        string
		wantOut    string
		wantErrSub string
		wantCode   int
	}{
		{
			name:     "call and print",
			src:      "def f(a:i32)->i32:\n  return a\nx=f(1)\nprint(x)",
			wantOut:  "1\n",
			wantCode: 0,
		},
		{
			name:       "annotation mismatch",
			src:        "def f(a:i32)->i32:\n  return a\nx:f32=f(1)",
			wantErrSub: "TypeError",
			wantCode:   1,
		},
		{
			name:       "unresolved name",
			src:        "def f():\n  return x",
			wantErrSub: "NameError: x",
			wantCode:   1,
		},
		{
			name:     "precedence arithmetic",
			src:      "a=3+2*4\nprint(a)",
			wantOut:  "11\n",
			wantCode: 0,
		},
		{
			name:     "class constructor",
			src:      "class P:\n  def __init__(self,x:i32):\n    self.x=x\np=P(2)\nprint(p.x)",
			wantOut:  "2\n",
			wantCode: 0,
		},
		{
			name:     "try except",
			src:      "try:\n  raise ValueError()\nexcept ValueError:\n  print(\"ok\")",
			wantOut:  "ok\n",
			wantCode: 0,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, errOut, code := runProgram(t, c.src)
			if code != c.wantCode {
				t.Fatalf("exit code %d, want %d (stderr: %s)", code, c.wantCode, errOut)
			}
			if c.wantOut != "" && out != c.wantOut {
				t.Fatalf("stdout %q, want %q", out, c.wantOut)
			}
			if c.wantErrSub != "" && !strings.Contains(errOut, c.wantErrSub) {
				t.Fatalf("stderr %q does not contain %q", errOut, c.wantErrSub)
			}
		})
	}
}

func TestEvalConstantFolding(t *testing.T) {
	// an expression whose free variables are all compile-time constants
	// reduces to a Constant, never a residual
	cases := []struct {
		src  string
		want Value
	}{
		{"1 + 2 * 3\n", I32Val(7)},
		{"(1 + 2) * 3\n", I32Val(9)},
		{"10 // 3\n", I32Val(3)},
		{"10 % 3\n", I32Val(1)},
		{"7 / 2\n", F64Val(3.5)},
		{"2 ** 8\n", I32Val(256)},
		{"1 < 2\n", BoolVal(true)},
		{"1 < 2 < 3\n", BoolVal(true)},
		{"3 < 2 < f\n", BoolVal(false)}, // short-circuits before f
		{"\"a\" + \"b\"\n", StrVal("ab")},
		{"-5\n", I32Val(-5)},
		{"not False\n", BoolVal(true)},
		{"True and True\n", BoolVal(true)},
		{"True and False\n", BoolVal(false)},
		{"False or True\n", BoolVal(true)},
		{"1 == 1.0\n", BoolVal(true)},
		{"len(\"abc\")\n", I32Val(3)},
	}
	for _, c := range cases {
		mod, diags := Parse("<test>", c.src)
		if diags.HasErrors() {
			t.Fatalf("parse %q: %s", c.src, diags)
		}
		b := NewBindings()
		SeedBindings(b)
		Analyze(mod, b) // `3 < 2 < f` leaves f unresolved on purpose
		ev := NewTreeEvaluator(mod, b)
		result := ev.RunModule()
		cst := asConst(result)
		if cst == nil {
			t.Fatalf("%q: result is a residual %T, want a constant", c.src, result)
		}
		if !ValuesEqual(cst.Value, c.want) {
			t.Fatalf("%q: got %s, want %s", c.src, cst.Value, c.want)
		}
	}
}

func TestEvalResidualForFreeVariables(t *testing.T) {
	src := "1 + x\n"
	mod, _ := Parse("<test>", src)
	b := NewBindings()
	SeedBindings(b)
	Analyze(mod, b) // x unresolved: NameError collected, node stays unannotated
	ev := NewTreeEvaluator(mod, b)
	result := ev.RunModule()
	bin, ok := result.(*BinOp)
	if !ok {
		t.Fatalf("expected a residual BinOp, got %T", result)
	}
	if c := asConst(bin.Left); c == nil || c.Value.I != 1 {
		t.Fatalf("left operand not folded: %T", bin.Left)
	}
	if _, ok := bin.Right.(*Name); !ok {
		t.Fatalf("right operand should stay a Name, got %T", bin.Right)
	}
}

func TestEvalShortCircuit(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		wantOut string
	}{
		{
			"and skips the call",
			"def f() -> bool:\n    print(\"called\")\n    return True\nr = False and f()\nprint(r)",
			"False\n",
		},
		{
			"or skips the call",
			"def f() -> bool:\n    print(\"called\")\n    return True\nr = True or f()\nprint(r)",
			"True\n",
		},
		{
			"comparison chain stops at first false",
			"def f() -> i32:\n    print(\"called\")\n    return 1\nr = 0 == 1 == f()\nprint(r)",
			"False\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, errOut, code := runProgram(t, c.src)
			if code != 0 {
				t.Fatalf("exit %d: %s", code, errOut)
			}
			if out != c.wantOut {
				t.Fatalf("stdout %q, want %q", out, c.wantOut)
			}
		})
	}
}

func TestEvalScopeDiscipline(t *testing.T) {
	src := "def f(a: i32) -> i32:\n    b = a + 1\n    return b\nx = f(1)\nprint(x)"
	mod, diags := Parse("<test>", src)
	if diags.HasErrors() {
		t.Fatalf("parse: %s", diags)
	}
	b := NewBindings()
	SeedBindings(b)
	if d := Analyze(mod, b); d.HasErrors() {
		t.Fatalf("sema: %s", d)
	}
	before := b.Len()
	var out bytes.Buffer
	prev := Stdout
	Stdout = &out
	defer func() { Stdout = prev }()
	ev := NewTreeEvaluator(mod, b)
	ev.RunModule()
	if ev.Diags().HasErrors() {
		t.Fatalf("eval: %s", ev.Diags())
	}
	if b.Len() != before {
		t.Fatalf("bindings length changed across evaluation: %d -> %d", before, b.Len())
	}
	if out.String() != "2\n" {
		t.Fatalf("stdout %q", out.String())
	}
}

func TestEvalControlFlow(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		wantOut string
	}{
		{
			"while with break",
			"i = 0\nwhile True:\n    i += 1\n    if i == 3:\n        break\nprint(i)",
			"3\n",
		},
		{
			"for with continue",
			"total = 0\nfor i in range(5):\n    if i == 2:\n        continue\n    total += i\nprint(total)",
			"8\n",
		},
		{
			"for else runs without break",
			"for i in range(2):\n    pass\nelse:\n    print(\"else\")",
			"else\n",
		},
		{
			"nested loops",
			"total = 0\nfor i in range(3):\n    for j in range(3):\n        total += i * j\nprint(total)",
			"9\n",
		},
		{
			"recursion",
			"def fib(n: i32) -> i32:\n    if n < 2:\n        return n\n    return fib(n - 1) + fib(n - 2)\nprint(fib(10))",
			"55\n",
		},
		{
			"augmented assignment",
			"x = 1\nx += 2\nx *= 3\nprint(x)",
			"9\n",
		},
		{
			"tuple unpacking",
			"a, b = 1, 2\na, b = b, a\nprint(a, b)",
			"2 1\n",
		},
		{
			"list comprehension",
			"xs = [i * 2 for i in range(3)]\nprint(xs)",
			"[0, 2, 4]\n",
		},
		{
			"conditional expression",
			"x = 5\nprint(\"big\" if x > 3 else \"small\")",
			"big\n",
		},
		{
			"f-string",
			"name = \"world\"\nprint(f\"hello {name}\")",
			"hello world\n",
		},
		{
			"lambda",
			"add = lambda a, b: a + b\nprint(add(2, 3))",
			"5\n",
		},
		{
			"walrus",
			"if (n := 10) > 5:\n    print(n)",
			"10\n",
		},
		{
			"main is invoked",
			"def main():\n    print(\"from main\")",
			"from main\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, errOut, code := runProgram(t, c.src)
			if code != 0 {
				t.Fatalf("exit %d: %s", code, errOut)
			}
			if out != c.wantOut {
				t.Fatalf("stdout %q, want %q", out, c.wantOut)
			}
		})
	}
}

func TestEvalExceptions(t *testing.T) {
	cases := []struct {
		name       string
		src        string
		wantOut    string
		wantErrSub string
		wantCode   int
	}{
		{
			"subclass matches base handler",
			"try:\n    raise ValueError(\"boom\")\nexcept Exception as e:\n    print(\"caught\")",
			"caught\n", "", 0,
		},
		{
			"handler binds the exception",
			"try:\n    raise ValueError(\"boom\")\nexcept ValueError as e:\n    print(e.message)",
			"boom\n", "", 0,
		},
		{
			"unmatched handler propagates",
			"try:\n    raise ValueError(\"boom\")\nexcept KeyError:\n    print(\"nope\")",
			"", "RuntimeError", 1,
		},
		{
			"finally always runs",
			"try:\n    x = 1\nfinally:\n    print(\"cleanup\")\nprint(x)",
			"cleanup\n1\n", "", 0,
		},
		{
			"finally runs on the error path",
			"def f():\n    try:\n        raise ValueError(\"v\")\n    finally:\n        print(\"cleanup\")\nf()",
			"cleanup\n", "RuntimeError", 1,
		},
		{
			"else runs without exception",
			"try:\n    x = 1\nexcept ValueError:\n    print(\"handler\")\nelse:\n    print(\"else\")",
			"else\n", "", 0,
		},
		{
			"division by zero",
			"x = 0\nprint(1 // x)",
			"", "RuntimeError", 1,
		},
		{
			"zero division caught",
			"x = 0\ntry:\n    y = 1 // x\nexcept ZeroDivisionError:\n    print(\"div\")",
			"div\n", "", 0,
		},
		{
			"assert failure",
			"assert 1 == 2, \"broken\"",
			"", "AssertionError", 1,
		},
		{
			"index error",
			"xs = [1]\nprint(xs[4])",
			"", "RuntimeError", 1,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, errOut, code := runProgram(t, c.src)
			if code != c.wantCode {
				t.Fatalf("exit %d, want %d (stderr %q)", code, c.wantCode, errOut)
			}
			if out != c.wantOut {
				t.Fatalf("stdout %q, want %q", out, c.wantOut)
			}
			if c.wantErrSub != "" && !strings.Contains(errOut, c.wantErrSub) {
				t.Fatalf("stderr %q missing %q", errOut, c.wantErrSub)
			}
		})
	}
}

func TestEvalWithStatement(t *testing.T) {
	src := `class CM:
    def __enter__(self):
        print("enter")
        return self
    def __exit__(self, t, v, tb):
        print("exit")
        return False
with CM() as c:
    print("body")
`
	out, errOut, code := runProgram(t, src)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "enter\nbody\nexit\n" {
		t.Fatalf("stdout %q", out)
	}
}

func TestEvalWithSuppressesException(t *testing.T) {
	src := `class Quiet:
    def __enter__(self):
        return self
    def __exit__(self, t, v, tb):
        return True
with Quiet() as q:
    raise ValueError("swallowed")
print("after")
`
	out, errOut, code := runProgram(t, src)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "after\n" {
		t.Fatalf("stdout %q", out)
	}
}

func TestEvalMatch(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		wantOut string
	}{
		{
			"value patterns pick the right arm",
			"x = 2\nmatch x:\n    case 1:\n        print(\"one\")\n    case 2:\n        print(\"two\")\n    case _:\n        print(\"other\")",
			"two\n",
		},
		{
			"wildcard",
			"x = 9\nmatch x:\n    case 1:\n        print(\"one\")\n    case _:\n        print(\"other\")",
			"other\n",
		},
		{
			"sequence with star",
			"xs = [1, 2, 3, 4]\nmatch xs:\n    case [first, *rest]:\n        print(first, len(rest))",
			"1 3\n",
		},
		{
			"mapping",
			"d = {\"k\": 5}\nmatch d:\n    case {\"k\": v}:\n        print(v)",
			"5\n",
		},
		{
			"singleton",
			"x = None\nmatch x:\n    case None:\n        print(\"none\")",
			"none\n",
		},
		{
			"guard",
			"x = 7\nmatch x:\n    case n if n > 5:\n        print(\"big\", n)\n    case _:\n        print(\"small\")",
			"big 7\n",
		},
		{
			"or pattern binds once",
			"x = 2\nmatch x:\n    case 1 | 2 as y:\n        print(y)",
			"2\n",
		},
		{
			"class pattern",
			"class P:\n    x: i32\n    y: i32\np = P(1, 2)\nmatch p:\n    case P(1, b):\n        print(b)",
			"2\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, errOut, code := runProgram(t, c.src)
			if code != 0 {
				t.Fatalf("exit %d: %s", code, errOut)
			}
			if out != c.wantOut {
				t.Fatalf("stdout %q, want %q", out, c.wantOut)
			}
		})
	}
}

func TestEvalGenerators(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		wantOut string
	}{
		{
			"next pulls successive yields",
			"def gen():\n    yield 1\n    yield 2\ng = gen()\nprint(next(g))\nprint(next(g))",
			"1\n2\n",
		},
		{
			"for iterates a generator",
			"def gen():\n    for i in range(3):\n        yield i\ntotal = 0\nfor v in gen():\n    total += v\nprint(total)",
			"3\n",
		},
		{
			"while loop inside a generator",
			"def countdown(n: i32):\n    while n > 0:\n        yield n\n        n -= 1\nfor v in countdown(3):\n    print(v)",
			"3\n2\n1\n",
		},
		{
			"yield from flattens",
			"def inner():\n    yield 1\n    yield 2\ndef outer():\n    yield from inner()\n    yield 3\nfor v in outer():\n    print(v)",
			"1\n2\n3\n",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, errOut, code := runProgram(t, c.src)
			if code != 0 {
				t.Fatalf("exit %d: %s", code, errOut)
			}
			if out != c.wantOut {
				t.Fatalf("stdout %q, want %q", out, c.wantOut)
			}
		})
	}
}

func TestEvalClosures(t *testing.T) {
	src := "def make_adder(n: i32):\n    def add(x: i32) -> i32:\n        return x + n\n    return add\nadd2 = make_adder(2)\nprint(add2(3))"
	out, errOut, code := runProgram(t, src)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "5\n" {
		t.Fatalf("stdout %q", out)
	}
}

func TestEvalInheritance(t *testing.T) {
	src := `class Base:
    def greet(self) -> str:
        return "base"
class Child(Base):
    x: i32
c = Child(7)
print(c.greet())
print(c.x)
`
	out, errOut, code := runProgram(t, src)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "base\n7\n" {
		t.Fatalf("stdout %q", out)
	}
}

func TestEvalImportModule(t *testing.T) {
	src := "import math\nprint(math.floor(math.pi))"
	out, errOut, code := runProgram(t, src)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "3\n" {
		t.Fatalf("stdout %q", out)
	}
}

func TestEvalDunderArithmetic(t *testing.T) {
	src := `class Vec:
    x: i32
    def __add__(self, other: Vec) -> Vec:
        return Vec(self.x + other.x)
a = Vec(1)
b = Vec(2)
c = a + b
print(c.x)
`
	out, errOut, code := runProgram(t, src)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if out != "3\n" {
		t.Fatalf("stdout %q", out)
	}
}

func TestEvalStringAndContainers(t *testing.T) {
	cases := []struct {
		src     string
		wantOut string
	}{
		{"print(\"abc\"[1])", "b\n"},
		{"print([1, 2, 3][1:])", "[2, 3]\n"},
		{"d = {\"a\": 1}\nd[\"b\"] = 2\nprint(len(d))", "2\n"},
		{"print(2 in [1, 2, 3])", "True\n"},
		{"print(\"bc\" in \"abcd\")", "True\n"},
		{"xs = [3, 1]\nxs[0] = 9\nprint(xs)", "[9, 1]\n"},
		{"print((1, 2)[0])", "1\n"},
	}
	for _, c := range cases {
		out, errOut, code := runProgram(t, c.src)
		if code != 0 {
			t.Fatalf("%q: exit %d: %s", c.src, code, errOut)
		}
		if out != c.wantOut {
			t.Fatalf("%q: stdout %q, want %q", c.src, out, c.wantOut)
		}
	}
}

func TestEvalSlicing(t *testing.T) {
	cases := []struct {
		src     string
		wantOut string
	}{
		// forward slices
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[1:4])", "[1, 2, 3]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[:3])", "[0, 1, 2]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[3:])", "[3, 4, 5]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[-2:])", "[4, 5]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[::2])", "[0, 2, 4]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[4:1])", "[]\n"},
		// negative step: start defaults to the last element, stop is exclusive
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[4:1:-1])", "[4, 3, 2]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[::-1])", "[5, 4, 3, 2, 1, 0]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[5:0:-1])", "[5, 4, 3, 2, 1]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[:2:-1])", "[5, 4, 3]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[-2::-1])", "[4, 3, 2, 1, 0]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[::-2])", "[5, 3, 1]\n"},
		// bounds going the wrong way for the step yield nothing
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[1:4:-1])", "[]\n"},
		// out-of-range bounds clamp instead of fabricating elements
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[10:0:-1])", "[5, 4, 3, 2, 1]\n"},
		{"a = [0, 1, 2, 3, 4, 5]\nprint(a[4:-10:-1])", "[4, 3, 2, 1, 0]\n"},
		// strings and tuples slice the same way
		{"print(\"abcdef\"[4:1:-1])", "edc\n"},
		{"print(\"abcdef\"[::-1])", "fedcba\n"},
		{"print((0, 1, 2, 3)[::-1])", "(3, 2, 1, 0)\n"},
	}
	for _, c := range cases {
		out, errOut, code := runProgram(t, c.src)
		if code != 0 {
			t.Fatalf("%q: exit %d: %s", c.src, code, errOut)
		}
		if out != c.wantOut {
			t.Fatalf("%q: stdout %q, want %q", c.src, out, c.wantOut)
		}
	}
}

func TestEvalInterpreterReplFlow(t *testing.T) {
	ip := NewInterpreter()
	if _, diags := ip.Eval("<repl>", "x = 41\n"); diags.HasErrors() {
		t.Fatalf("first input: %s", diags)
	}
	result, diags := ip.Eval("<repl>", "x + 1\n")
	if diags.HasErrors() {
		t.Fatalf("second input: %s", diags)
	}
	c := asConst(result)
	if c == nil || c.Value.I != 42 {
		t.Fatalf("persistent state lost: %v", result)
	}
}
