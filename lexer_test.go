package lython

import (
	"reflect"
	"testing"
)

func tokKinds(src string) []TokenType {
	var out []TokenType
	for _, t := range Tokenize(src) {
		out = append(out, t.Type)
	}
	return out
}

func TestLexerBasicTokens(t *testing.T) {
	cases := []struct {
		src  string
		want []TokenType
	}{
		{"x = 1 + 2\n", []TokenType{TokIdent, TokAssign, TokInt, TokOp, TokInt, TokNewline, TokEOF}},
		{"y = 2.5\n", []TokenType{TokIdent, TokAssign, TokFloat, TokNewline, TokEOF}},
		{"s = \"hi\"\n", []TokenType{TokIdent, TokAssign, TokString, TokNewline, TokEOF}},
		{"a < b <= c\n", []TokenType{TokIdent, TokOp, TokIdent, TokOp, TokIdent, TokNewline, TokEOF}},
		{"x += 1\n", []TokenType{TokIdent, TokAug, TokInt, TokNewline, TokEOF}},
		{"f(1, 2)\n", []TokenType{TokIdent, TokLParen, TokInt, TokComma, TokInt, TokRParen, TokNewline, TokEOF}},
		{"a.b\n", []TokenType{TokIdent, TokDot, TokIdent, TokNewline, TokEOF}},
		{"x := 1\n", []TokenType{TokIdent, TokWalrus, TokInt, TokNewline, TokEOF}},
	}
	for _, c := range cases {
		if got := tokKinds(c.src); !reflect.DeepEqual(got, c.want) {
			t.Errorf("%q: got %v, want %v", c.src, got, c.want)
		}
	}
}

func TestLexerKeywords(t *testing.T) {
	got := tokKinds("def f():\n    return None\n")
	want := []TokenType{
		TokDef, TokIdent, TokLParen, TokRParen, TokColon, TokNewline,
		TokIndent, TokReturn, TokNone, TokNewline, TokDedent, TokEOF,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerIndentDedent(t *testing.T) {
	src := "if x:\n    y\nz\n"
	want := []TokenType{
		TokIf, TokIdent, TokColon, TokNewline,
		TokIndent, TokIdent, TokNewline,
		TokDedent, TokIdent, TokNewline, TokEOF,
	}
	if got := tokKinds(src); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerMultipleDedents(t *testing.T) {
	src := "if a:\n    if b:\n        c\nd\n"
	want := []TokenType{
		TokIf, TokIdent, TokColon, TokNewline,
		TokIndent, TokIf, TokIdent, TokColon, TokNewline,
		TokIndent, TokIdent, TokNewline,
		TokDedent, TokDedent, TokIdent, TokNewline, TokEOF,
	}
	if got := tokKinds(src); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerBlankLinesCollapse(t *testing.T) {
	src := "a\n\n\nb\n"
	want := []TokenType{TokIdent, TokNewline, TokIdent, TokNewline, TokEOF}
	if got := tokKinds(src); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerBracketsSuppressStructure(t *testing.T) {
	src := "f(1,\n   2)\n"
	want := []TokenType{TokIdent, TokLParen, TokInt, TokComma, TokInt, TokRParen, TokNewline, TokEOF}
	if got := tokKinds(src); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerEOFClosesIndents(t *testing.T) {
	src := "if x:\n    y"
	want := []TokenType{
		TokIf, TokIdent, TokColon, TokNewline,
		TokIndent, TokIdent, TokNewline, TokDedent, TokEOF,
	}
	if got := tokKinds(src); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerMaximalMunch(t *testing.T) {
	cases := []struct {
		src     string
		typ     TokenType
		lexeme  string
		atIndex int
	}{
		{"a <<= b\n", TokAug, "<<=", 1},
		{"a << b\n", TokOp, "<<", 1},
		{"a ** b\n", TokOp, "**", 1},
		{"a **= b\n", TokAug, "**=", 1},
		{"a // b\n", TokOp, "//", 1},
		{"a -> b\n", TokArrow, "->", 1},
		{"a != b\n", TokOp, "!=", 1},
	}
	for _, c := range cases {
		toks := Tokenize(c.src)
		got := toks[c.atIndex]
		if got.Type != c.typ || got.Lexeme != c.lexeme {
			t.Errorf("%q: got %v(%q), want %v(%q)", c.src, got.Type, got.Lexeme, c.typ, c.lexeme)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	toks := Tokenize("42 3.25 1e3 2.5e-2\n")
	if toks[0].Type != TokInt || toks[0].Int != 42 {
		t.Errorf("int literal: %v", toks[0])
	}
	if toks[1].Type != TokFloat || toks[1].Float != 3.25 {
		t.Errorf("float literal: %v", toks[1])
	}
	if toks[2].Type != TokFloat || toks[2].Float != 1000 {
		t.Errorf("exponent literal: %v", toks[2])
	}
	if toks[3].Type != TokFloat || toks[3].Float != 0.025 {
		t.Errorf("signed exponent literal: %v", toks[3])
	}
}

func TestLexerStringEscapes(t *testing.T) {
	toks := Tokenize(`s = "a\nb\tc"` + "\n")
	if toks[2].Type != TokString || toks[2].Lexeme != "a\nb\tc" {
		t.Errorf("escapes: %v %q", toks[2].Type, toks[2].Lexeme)
	}
}

func TestLexerDocstringToken(t *testing.T) {
	src := "def f():\n    \"\"\"doc here\"\"\"\n    pass\n"
	toks := Tokenize(src)
	found := false
	for _, tk := range toks {
		if tk.Type == TokDocstring {
			found = true
			if tk.Lexeme != "doc here" {
				t.Errorf("docstring payload %q", tk.Lexeme)
			}
		}
	}
	if !found {
		t.Fatalf("no docstring token in %v", toks)
	}
}

func TestLexerFStringMark(t *testing.T) {
	toks := Tokenize("s = f\"x={x}\"\n")
	if toks[2].Type != TokString || toks[2].Int != 1 {
		t.Errorf("f-string not marked: %v", toks[2])
	}
}

func TestLexerIdentifierExtraChars(t *testing.T) {
	toks := Tokenize("is-valid? x!\n")
	if toks[0].Type != TokIdent || toks[0].Lexeme != "is-valid?" {
		t.Errorf("got %v(%q)", toks[0].Type, toks[0].Lexeme)
	}
	if toks[1].Type != TokIdent || toks[1].Lexeme != "x!" {
		t.Errorf("got %v(%q)", toks[1].Type, toks[1].Lexeme)
	}
	// '-' before a digit stays a binary operator
	toks = Tokenize("x-1\n")
	if toks[0].Lexeme != "x" || toks[1].Type != TokOp || toks[1].Lexeme != "-" {
		t.Errorf("x-1 lexed as %v", toks[:3])
	}
}

func TestLexerMixedIndentation(t *testing.T) {
	src := "if x:\n\t  y\n"
	toks := Tokenize(src)
	found := false
	for _, tk := range toks {
		if tk.Type == TokIncorrect {
			found = true
		}
	}
	if !found {
		t.Fatalf("mixed tabs and spaces not reported: %v", toks)
	}
}

func TestLexerIncorrectCharacterContinues(t *testing.T) {
	toks := Tokenize("a $ b\n")
	want := []TokenType{TokIdent, TokIncorrect, TokIdent, TokNewline, TokEOF}
	var got []TokenType
	for _, tk := range toks {
		got = append(got, tk.Type)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLexerPeekIdempotent(t *testing.T) {
	l := NewLexer("a b\n")
	first := l.Peek()
	second := l.Peek()
	if first != second {
		t.Fatalf("peek not idempotent: %v vs %v", first, second)
	}
	if n := l.Next(); n != first {
		t.Fatalf("next returned %v, peeked %v", n, first)
	}
}

func TestReplayLexerRoundTrip(t *testing.T) {
	src := "x = 1 + 2\n"
	toks := Tokenize(src)
	r := NewReplayLexer(toks)
	var got []TokenType
	for {
		tk := r.Next()
		got = append(got, tk.Type)
		if tk.Type == TokEOF {
			break
		}
	}
	if !reflect.DeepEqual(got, tokKinds(src)) {
		t.Errorf("replay mismatch: %v", got)
	}
}
