// parser.go — recursive-descent parser with precedence climbing.
//
// The parser consumes the lexer's token stream and builds the typed AST. Top
// level dispatch is on the first non-trivial token of each statement;
// expressions use the precedence table (operators.go): parse a primary, then
// while the next operator binds at least as tightly as the caller's minimum,
// consume it and parse the right operand at the appropriate minimum (same
// precedence for left-associative operators, +1 climbs for right).
//
// Chained comparisons collapse into one Compare node with parallel ops and
// comparators; `and`/`or` chains collapse into one BoolOp.
//
// Error handling: a mismatch reports a structured SyntaxError diagnostic and
// resynchronizes at the next statement boundary at the current indentation;
// the parser never aborts the translation unit on a single error.
package lython

import (
	"strings"
)

// Parse lexes and parses src into a Module. Diagnostics collect every lex
// and parse problem encountered.
func Parse(name, src string) (*Module, *Diagnostics) {
	return parseTokens(name, NewLexer(src))
}

// ParseReplay parses a buffered token vector (re-parse path).
func ParseReplay(name string, toks []Token) (*Module, *Diagnostics) {
	return parseTokens(name, NewReplayLexer(toks))
}

func parseTokens(name string, lex TokenSource) (*Module, *Diagnostics) {
	p := &parser{
		lex:   lex,
		mod:   NewModule(name, name),
		diags: &Diagnostics{Path: name},
	}
	p.next()
	p.parseModule()
	return p.mod, p.diags
}

type parser struct {
	lex   TokenSource
	mod   *Module
	diags *Diagnostics
	tok   Token
	prev  Token
}

// parseBail unwinds one statement on a syntax error; the statement loop
// recovers and resynchronizes.
type parseBail struct{}

func (p *parser) next() Token {
	p.prev = p.tok
	p.tok = p.lex.Next()
	// lexer-level problems surface as diagnostics right here
	for p.tok.Type == TokIncorrect {
		p.diags.Report(DiagSyntaxError, p.tokSpan(), "%s", incorrectMsg(p.tok))
		p.tok = p.lex.Next()
	}
	return p.tok
}

func incorrectMsg(t Token) string {
	if len(t.Lexeme) == 1 {
		return "unexpected character " + "'" + t.Lexeme + "'"
	}
	return t.Lexeme
}

func (p *parser) at(tt TokenType) bool { return p.tok.Type == tt }

func (p *parser) eat(tt TokenType) bool {
	if p.tok.Type == tt {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(tt TokenType, what string) Token {
	if p.tok.Type == tt {
		t := p.tok
		p.next()
		return t
	}
	p.diags.Report(DiagSyntaxError, p.tokSpan(), "expected %s, found %s", what, describe(p.tok))
	panic(parseBail{})
}

func describe(t Token) string {
	switch t.Type {
	case TokIdent, TokOp, TokAug:
		return "'" + t.Lexeme + "'"
	default:
		return t.Type.String()
	}
}

func (p *parser) tokSpan() Span {
	return Span{Line: p.tok.Line, Col: p.tok.Col, EndLine: p.tok.Line, EndCol: p.tok.Col + len(p.tok.Lexeme)}
}

func (p *parser) spanFrom(start Token) Span {
	return Span{Line: start.Line, Col: start.Col, EndLine: p.prev.Line, EndCol: p.prev.Col + len(p.prev.Lexeme)}
}

func (p *parser) bail(format string, args ...any) {
	p.diags.Report(DiagSyntaxError, p.tokSpan(), format, args...)
	panic(parseBail{})
}

// resync skips to the next statement boundary: past the next newline at the
// current bracket/indent level.
func (p *parser) resync() {
	depth := 0
	for {
		switch p.tok.Type {
		case TokEOF:
			return
		case TokIndent:
			depth++
		case TokDedent:
			if depth == 0 {
				return
			}
			depth--
		case TokNewline:
			if depth == 0 {
				p.next()
				return
			}
		}
		p.next()
	}
}

// --- module / suites -------------------------------------------------------

func (p *parser) parseModule() {
	// module docstring
	if p.at(TokDocstring) && p.tok.Int == 0 {
		doc := p.tok.Lexeme
		if p.lex.Peek().Type == TokNewline || p.lex.Peek().Type == TokEOF {
			p.mod.Docstring = doc
			p.next()
			p.eat(TokNewline)
		}
	}
	for !p.at(TokEOF) {
		if p.eat(TokNewline) || p.eat(TokDedent) {
			continue
		}
		if st := p.statementSafe(); st != nil {
			p.mod.Body = append(p.mod.Body, st)
		}
	}
}

func (p *parser) statementSafe() (st StmtNode) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(parseBail); ok {
				p.resync()
				st = nil
				return
			}
			panic(r)
		}
	}()
	return p.statement()
}

// suite parses `: NEWLINE INDENT stmts DEDENT` or the inline `: stmt; stmt`
// form. A docstring token first in an indented block is returned separately
// and not kept as a statement.
func (p *parser) suite() ([]StmtNode, string) {
	p.expect(TokColon, "':'")
	if !p.eat(TokNewline) {
		// inline suite on the same line
		var body []StmtNode
		for {
			body = append(body, p.statementNoNewline())
			if !p.eat(TokSemi) {
				break
			}
			if p.at(TokNewline) || p.at(TokEOF) {
				break
			}
		}
		p.eat(TokNewline)
		return body, ""
	}
	p.expect(TokIndent, "an indented block")

	doc := ""
	if p.at(TokDocstring) && p.tok.Int == 0 {
		if p.lex.Peek().Type == TokNewline {
			doc = p.tok.Lexeme
			p.next()
			p.eat(TokNewline)
		}
	}

	var body []StmtNode
	for !p.at(TokDedent) && !p.at(TokEOF) {
		if p.eat(TokNewline) {
			continue
		}
		if st := p.statementSafe(); st != nil {
			body = append(body, st)
		}
	}
	p.eat(TokDedent)
	if len(body) == 0 && doc == "" {
		p.diags.Report(DiagSyntaxError, p.tokSpan(), "expected a non-empty block")
	}
	return body, doc
}

// --- statements ------------------------------------------------------------

func (p *parser) statement() StmtNode {
	st := p.statementNoNewline()
	switch st.(type) {
	case *FunctionDef, *ClassDef, *For, *While, *If, *With, *Try, *Match:
		// compound statements consume their own terminator
	default:
		if p.eat(TokSemi) && !p.at(TokNewline) && !p.at(TokEOF) {
			inline := newNode(p.mod.Arena, &Inline{}, KInline, st.GetSpan())
			inline.Body = append(inline.Body, st)
			for {
				inline.Body = append(inline.Body, p.statementNoNewline())
				if !p.eat(TokSemi) || p.at(TokNewline) || p.at(TokEOF) {
					break
				}
			}
			st = inline
		}
		if !p.eat(TokNewline) && !p.at(TokEOF) && !p.at(TokDedent) {
			p.bail("expected newline after statement, found %s", describe(p.tok))
		}
	}
	return st
}

func (p *parser) statementNoNewline() StmtNode {
	start := p.tok
	switch p.tok.Type {
	case TokDef:
		return p.functionDef(false, nil)
	case TokClass:
		return p.classDef(nil)
	case TokAsync:
		p.next()
		switch p.tok.Type {
		case TokDef:
			return p.functionDef(true, nil)
		case TokFor:
			f := p.forStmt().(*For)
			f.Async = true
			return f
		case TokWith:
			w := p.withStmt().(*With)
			w.Async = true
			return w
		}
		p.bail("expected 'def', 'for' or 'with' after 'async'")
	case TokOp:
		if p.tok.Lexeme == "@" {
			return p.decorated()
		}
	case TokImport:
		return p.importStmt()
	case TokFrom:
		return p.importFromStmt()
	case TokReturn:
		p.next()
		ret := newNode(p.mod.Arena, &Return{}, KReturn, p.spanFrom(start))
		if !p.at(TokNewline) && !p.at(TokEOF) && !p.at(TokSemi) && !p.at(TokDedent) {
			ret.Value = p.testList()
		}
		ret.SetSpan(p.spanFrom(start))
		return ret
	case TokRaise:
		p.next()
		r := newNode(p.mod.Arena, &Raise{}, KRaise, p.spanFrom(start))
		if !p.at(TokNewline) && !p.at(TokEOF) && !p.at(TokSemi) {
			r.Exc = p.test()
			if p.at(TokFrom) {
				p.next()
				r.Cause = p.test()
			}
		}
		r.SetSpan(p.spanFrom(start))
		return r
	case TokAssert:
		p.next()
		a := newNode(p.mod.Arena, &Assert{}, KAssert, p.spanFrom(start))
		a.Test = p.test()
		if p.eat(TokComma) {
			a.Msg = p.test()
		}
		a.SetSpan(p.spanFrom(start))
		return a
	case TokPass:
		p.next()
		return newNode(p.mod.Arena, &Pass{}, KPass, p.spanFrom(start))
	case TokBreak:
		p.next()
		return newNode(p.mod.Arena, &Break{}, KBreak, p.spanFrom(start))
	case TokContinue:
		p.next()
		return newNode(p.mod.Arena, &Continue{}, KContinue, p.spanFrom(start))
	case TokGlobal:
		p.next()
		g := newNode(p.mod.Arena, &Global{}, KGlobal, p.spanFrom(start))
		g.Names = p.nameList()
		return g
	case TokNonlocal:
		p.next()
		n := newNode(p.mod.Arena, &Nonlocal{}, KNonlocal, p.spanFrom(start))
		n.Names = p.nameList()
		return n
	case TokDel:
		p.next()
		d := newNode(p.mod.Arena, &Delete{}, KDelete, p.spanFrom(start))
		d.Targets = append(d.Targets, p.targetExpr(CtxDel))
		for p.eat(TokComma) {
			d.Targets = append(d.Targets, p.targetExpr(CtxDel))
		}
		d.SetSpan(p.spanFrom(start))
		return d
	case TokIf:
		return p.ifStmt()
	case TokWhile:
		return p.whileStmt()
	case TokFor:
		return p.forStmt()
	case TokTry:
		return p.tryStmt()
	case TokWith:
		return p.withStmt()
	case TokMatch:
		return p.matchStmt()
	}
	return p.simpleStatement()
}

func (p *parser) nameList() []StringRef {
	var out []StringRef
	t := p.expect(TokIdent, "an identifier")
	out = append(out, Intern(t.Lexeme))
	for p.eat(TokComma) {
		t = p.expect(TokIdent, "an identifier")
		out = append(out, Intern(t.Lexeme))
	}
	return out
}

// simpleStatement parses expression statements and the assignment family.
func (p *parser) simpleStatement() StmtNode {
	start := p.tok
	first := p.testList()

	switch p.tok.Type {
	case TokAssign:
		asg := newNode(p.mod.Arena, &Assign{}, KAssign, p.spanFrom(start))
		asg.Targets = append(asg.Targets, p.toTarget(first))
		for p.eat(TokAssign) {
			v := p.testListOrYield()
			if p.at(TokAssign) {
				asg.Targets = append(asg.Targets, p.toTarget(v))
				continue
			}
			asg.Value = v
		}
		asg.SetSpan(p.spanFrom(start))
		return asg

	case TokAug:
		spelling := strings.TrimSuffix(p.tok.Lexeme, "=")
		p.next()
		aug := newNode(p.mod.Arena, &AugAssign{}, KAugAssign, p.spanFrom(start))
		aug.Target = p.toTarget(first)
		aug.Op = Intern(spelling)
		aug.Value = p.testList()
		aug.SetSpan(p.spanFrom(start))
		return aug

	case TokColon:
		p.next()
		ann := newNode(p.mod.Arena, &AnnAssign{}, KAnnAssign, p.spanFrom(start))
		ann.Target = p.toTarget(first)
		ann.Annotation = p.typeExpr()
		if p.eat(TokAssign) {
			ann.Value = p.testList()
		}
		ann.SetSpan(p.spanFrom(start))
		return ann
	}

	es := newNode(p.mod.Arena, &ExprStmt{}, KExprStmt, first.GetSpan())
	es.Value = first
	return es
}

// toTarget re-tags an already-parsed expression as a store target.
func (p *parser) toTarget(e ExprNode) ExprNode {
	switch t := e.(type) {
	case *Name:
		t.Ctx = CtxStore
	case *Attribute:
		t.Ctx = CtxStore
	case *Subscript:
		t.Ctx = CtxStore
	case *TupleExpr:
		t.Ctx = CtxStore
		for i, el := range t.Elems {
			t.Elems[i] = p.toTarget(el)
		}
	case *ListExpr:
		for i, el := range t.Elems {
			t.Elems[i] = p.toTarget(el)
		}
	case *Starred:
		t.Value = p.toTarget(t.Value)
	default:
		p.diags.Report(DiagSyntaxError, e.GetSpan(), "invalid assignment target")
	}
	return e
}

// targetExpr parses a single assignment/delete target.
func (p *parser) targetExpr(ctx ExprContext) ExprNode {
	e := p.unary()
	switch t := e.(type) {
	case *Name:
		t.Ctx = ctx
	case *Attribute:
		t.Ctx = ctx
	case *Subscript:
		t.Ctx = ctx
	default:
		p.diags.Report(DiagSyntaxError, e.GetSpan(), "invalid target")
	}
	return e
}

// --- compound statements ---------------------------------------------------

func (p *parser) decorated() StmtNode {
	var decorators []ExprNode
	for p.at(TokOp) && p.tok.Lexeme == "@" {
		p.next()
		decorators = append(decorators, p.test())
		p.expect(TokNewline, "newline after decorator")
	}
	switch p.tok.Type {
	case TokDef:
		return p.functionDef(false, decorators)
	case TokAsync:
		p.next()
		p.expect(TokDef, "'def'")
		// re-enter with async already consumed
		return p.functionDefTail(true, decorators, p.prev)
	case TokClass:
		return p.classDef(decorators)
	}
	p.bail("expected 'def' or 'class' after decorators")
	return nil
}

func (p *parser) functionDef(async bool, decorators []ExprNode) StmtNode {
	start := p.tok
	p.expect(TokDef, "'def'")
	return p.functionDefTail(async, decorators, start)
}

func (p *parser) functionDefTail(async bool, decorators []ExprNode, start Token) StmtNode {
	nameTok := p.expect(TokIdent, "a function name")
	fn := newNode(p.mod.Arena, &FunctionDef{}, KFunctionDef, p.spanFrom(start))
	fn.Name = Intern(nameTok.Lexeme)
	fn.Async = async
	fn.Decorators = decorators
	fn.Args = p.parameterList()
	if p.eat(TokArrow) {
		fn.Returns = p.typeExpr()
	}
	fn.Body, fn.Docstring = p.suite()
	fn.SetSpan(p.spanFrom(start))
	return fn
}

// parameterList parses `(a, b: t = d, /, c, *args, kw=1, **kws)`.
func (p *parser) parameterList() Arguments {
	var args Arguments
	p.expect(TokLParen, "'('")
	kwOnly := false
	for !p.at(TokRParen) {
		switch {
		case p.at(TokOp) && p.tok.Lexeme == "/":
			p.next()
			args.PosOnly = len(args.Args)
		case p.at(TokOp) && p.tok.Lexeme == "*":
			p.next()
			if p.at(TokIdent) {
				nameTok := p.expect(TokIdent, "a parameter name")
				prm := Param{Name: Intern(nameTok.Lexeme)}
				if p.eat(TokColon) {
					prm.Annotation = p.typeExpr()
				}
				args.VarArg = &prm
			}
			kwOnly = true
		case p.at(TokOp) && p.tok.Lexeme == "**":
			p.next()
			nameTok := p.expect(TokIdent, "a parameter name")
			prm := Param{Name: Intern(nameTok.Lexeme)}
			if p.eat(TokColon) {
				prm.Annotation = p.typeExpr()
			}
			args.KwArg = &prm
		default:
			nameTok := p.expect(TokIdent, "a parameter name")
			prm := Param{Name: Intern(nameTok.Lexeme)}
			if p.eat(TokColon) {
				prm.Annotation = p.typeExpr()
			}
			if p.eat(TokAssign) {
				prm.Default = p.test()
			}
			if kwOnly {
				args.KwOnly = append(args.KwOnly, prm)
			} else {
				args.Args = append(args.Args, prm)
			}
		}
		if !p.eat(TokComma) {
			break
		}
	}
	p.expect(TokRParen, "')'")
	return args
}

func (p *parser) classDef(decorators []ExprNode) StmtNode {
	start := p.tok
	p.expect(TokClass, "'class'")
	nameTok := p.expect(TokIdent, "a class name")
	cls := newNode(p.mod.Arena, &ClassDef{}, KClassDef, p.spanFrom(start))
	cls.Name = Intern(nameTok.Lexeme)
	cls.Decorators = decorators
	cls.Methods = map[StringRef]*FunctionDef{}
	if p.eat(TokLParen) {
		for !p.at(TokRParen) {
			cls.Bases = append(cls.Bases, p.test())
			if !p.eat(TokComma) {
				break
			}
		}
		p.expect(TokRParen, "')'")
	}
	cls.Body, cls.Docstring = p.suite()

	// collect the attribute map and methods in declaration order
	for _, st := range cls.Body {
		switch m := st.(type) {
		case *AnnAssign:
			if nm, ok := m.Target.(*Name); ok {
				cls.Insert(nm.ID, m.Annotation, m.Value)
			}
		case *FunctionDef:
			cls.Methods[m.Name] = m
		}
	}
	cls.SetSpan(p.spanFrom(start))
	return cls
}

func (p *parser) importStmt() StmtNode {
	start := p.tok
	p.expect(TokImport, "'import'")
	imp := newNode(p.mod.Arena, &Import{}, KImport, p.spanFrom(start))
	for {
		imp.Names = append(imp.Names, p.alias())
		if !p.eat(TokComma) {
			break
		}
	}
	imp.SetSpan(p.spanFrom(start))
	return imp
}

func (p *parser) alias() Alias {
	path := p.dottedName()
	a := Alias{Name: Intern(path)}
	if p.eat(TokAs) {
		t := p.expect(TokIdent, "an alias name")
		a.AsName = Intern(t.Lexeme)
	}
	return a
}

func (p *parser) dottedName() string {
	t := p.expect(TokIdent, "a module name")
	path := t.Lexeme
	for p.eat(TokDot) {
		t = p.expect(TokIdent, "a module name")
		path += "." + t.Lexeme
	}
	return path
}

func (p *parser) importFromStmt() StmtNode {
	start := p.tok
	p.expect(TokFrom, "'from'")
	imp := newNode(p.mod.Arena, &ImportFrom{}, KImportFrom, p.spanFrom(start))
	for p.eat(TokDot) {
		imp.Level++
	}
	if p.at(TokIdent) {
		imp.Module = Intern(p.dottedName())
	}
	p.expect(TokImport, "'import'")
	if p.at(TokOp) && p.tok.Lexeme == "*" {
		p.next()
		imp.Names = append(imp.Names, Alias{Name: Intern("*")})
	} else {
		paren := p.eat(TokLParen)
		for {
			t := p.expect(TokIdent, "an imported name")
			a := Alias{Name: Intern(t.Lexeme)}
			if p.eat(TokAs) {
				at := p.expect(TokIdent, "an alias name")
				a.AsName = Intern(at.Lexeme)
			}
			imp.Names = append(imp.Names, a)
			if !p.eat(TokComma) {
				break
			}
		}
		if paren {
			p.expect(TokRParen, "')'")
		}
	}
	imp.SetSpan(p.spanFrom(start))
	return imp
}

// ifStmt parses the whole elif chain into parallel tests/bodies.
func (p *parser) ifStmt() StmtNode {
	start := p.tok
	p.expect(TokIf, "'if'")
	n := newNode(p.mod.Arena, &If{}, KIf, p.spanFrom(start))
	test := p.namedTest()
	body, _ := p.suite()
	n.Tests = append(n.Tests, test)
	n.Bodies = append(n.Bodies, body)
	for p.at(TokElif) {
		p.next()
		t := p.namedTest()
		b, _ := p.suite()
		n.Tests = append(n.Tests, t)
		n.Bodies = append(n.Bodies, b)
	}
	if p.eat(TokElse) {
		n.Orelse, _ = p.suite()
	}
	n.SetSpan(p.spanFrom(start))
	return n
}

func (p *parser) whileStmt() StmtNode {
	start := p.tok
	p.expect(TokWhile, "'while'")
	n := newNode(p.mod.Arena, &While{}, KWhile, p.spanFrom(start))
	n.Test = p.namedTest()
	n.Body, _ = p.suite()
	if p.eat(TokElse) {
		n.Orelse, _ = p.suite()
	}
	n.SetSpan(p.spanFrom(start))
	return n
}

func (p *parser) forStmt() StmtNode {
	start := p.tok
	p.expect(TokFor, "'for'")
	n := newNode(p.mod.Arena, &For{}, KFor, p.spanFrom(start))
	n.Target = p.toTarget(p.targetList())
	p.expect(TokIn, "'in'")
	n.Iter = p.testList()
	n.Body, _ = p.suite()
	if p.eat(TokElse) {
		n.Orelse, _ = p.suite()
	}
	n.SetSpan(p.spanFrom(start))
	return n
}

// targetList parses `a` or `a, b` loop targets.
func (p *parser) targetList() ExprNode {
	start := p.tok
	first := p.unary()
	if !p.at(TokComma) {
		return first
	}
	tup := newNode(p.mod.Arena, &TupleExpr{}, KTupleExpr, p.spanFrom(start))
	tup.Elems = append(tup.Elems, first)
	for p.eat(TokComma) {
		if p.at(TokIn) {
			break
		}
		tup.Elems = append(tup.Elems, p.unary())
	}
	tup.SetSpan(p.spanFrom(start))
	return tup
}

func (p *parser) tryStmt() StmtNode {
	start := p.tok
	p.expect(TokTry, "'try'")
	n := newNode(p.mod.Arena, &Try{}, KTry, p.spanFrom(start))
	n.Body, _ = p.suite()
	for p.at(TokExcept) {
		hStart := p.tok
		p.next()
		h := ExceptHandler{}
		if !p.at(TokColon) {
			h.Type = p.test()
			if p.eat(TokAs) {
				t := p.expect(TokIdent, "an exception name")
				h.Name = Intern(t.Lexeme)
			}
		}
		h.Body, _ = p.suite()
		h.Span = p.spanFrom(hStart)
		n.Handlers = append(n.Handlers, h)
	}
	if p.eat(TokElse) {
		n.Orelse, _ = p.suite()
	}
	if p.eat(TokFinally) {
		n.Finalbody, _ = p.suite()
	}
	if len(n.Handlers) == 0 && len(n.Finalbody) == 0 {
		p.diags.Report(DiagSyntaxError, p.spanFrom(start), "try statement needs an except or finally clause")
	}
	n.SetSpan(p.spanFrom(start))
	return n
}

func (p *parser) withStmt() StmtNode {
	start := p.tok
	p.expect(TokWith, "'with'")
	n := newNode(p.mod.Arena, &With{}, KWith, p.spanFrom(start))
	for {
		item := WithItem{ContextExpr: p.test()}
		if p.eat(TokAs) {
			item.OptionalVars = p.targetExpr(CtxStore)
		}
		n.Items = append(n.Items, item)
		if !p.eat(TokComma) {
			break
		}
	}
	n.Body, _ = p.suite()
	n.SetSpan(p.spanFrom(start))
	return n
}

// --- match -----------------------------------------------------------------

func (p *parser) matchStmt() StmtNode {
	start := p.tok
	p.expect(TokMatch, "'match'")
	n := newNode(p.mod.Arena, &Match{}, KMatch, p.spanFrom(start))
	n.Subject = p.testList()
	p.expect(TokColon, "':'")
	p.expect(TokNewline, "newline")
	p.expect(TokIndent, "an indented block")
	for p.at(TokCase) {
		p.next()
		c := MatchCase{Pattern: p.pattern()}
		if p.eat(TokIf) {
			c.Guard = p.namedTest()
		}
		c.Body, _ = p.suite()
		n.Cases = append(n.Cases, c)
	}
	p.expect(TokDedent, "dedent")
	if len(n.Cases) == 0 {
		p.diags.Report(DiagSyntaxError, p.spanFrom(start), "match statement needs at least one case")
	}
	n.SetSpan(p.spanFrom(start))
	return n
}

// pattern parses an or-pattern with optional trailing `as` capture.
func (p *parser) pattern() PatternNode {
	start := p.tok
	first := p.closedPattern()
	if p.at(TokOp) && p.tok.Lexeme == "|" {
		or := newNode(p.mod.Arena, &MatchOr{}, KMatchOr, p.spanFrom(start))
		or.Patterns = append(or.Patterns, first)
		for p.at(TokOp) && p.tok.Lexeme == "|" {
			p.next()
			or.Patterns = append(or.Patterns, p.closedPattern())
		}
		or.SetSpan(p.spanFrom(start))
		first = or
	}
	if p.eat(TokAs) {
		t := p.expect(TokIdent, "a capture name")
		as := newNode(p.mod.Arena, &MatchAs{}, KMatchAs, p.spanFrom(start))
		as.Pattern = first
		as.Name = Intern(t.Lexeme)
		return as
	}
	return first
}

func (p *parser) closedPattern() PatternNode {
	start := p.tok
	switch p.tok.Type {
	case TokNone, TokTrue, TokFalse:
		n := newNode(p.mod.Arena, &MatchSingleton{}, KMatchSingleton, p.tokSpan())
		switch p.tok.Type {
		case TokNone:
			n.Value = NoneVal()
		case TokTrue:
			n.Value = BoolVal(true)
		case TokFalse:
			n.Value = BoolVal(false)
		}
		p.next()
		return n

	case TokInt, TokFloat, TokString:
		v := newNode(p.mod.Arena, &MatchValue{}, KMatchValue, p.tokSpan())
		v.Value = p.primary()
		return v

	case TokOp:
		if p.tok.Lexeme == "-" {
			v := newNode(p.mod.Arena, &MatchValue{}, KMatchValue, p.tokSpan())
			v.Value = p.unary()
			return v
		}
		if p.tok.Lexeme == "*" {
			p.next()
			st := newNode(p.mod.Arena, &MatchStar{}, KMatchStar, p.spanFrom(start))
			t := p.expect(TokIdent, "a star pattern name")
			if t.Lexeme != "_" {
				st.Name = Intern(t.Lexeme)
			}
			return st
		}

	case TokIdent:
		nameTok := p.tok
		p.next()
		if p.at(TokDot) {
			// dotted value pattern
			e := ExprNode(p.mkName(nameTok, CtxLoad))
			for p.eat(TokDot) {
				at := p.expect(TokIdent, "an attribute name")
				attr := newNode(p.mod.Arena, &Attribute{}, KAttribute, p.spanFrom(nameTok))
				attr.Value = e
				attr.Attr = Intern(at.Lexeme)
				e = attr
			}
			v := newNode(p.mod.Arena, &MatchValue{}, KMatchValue, p.spanFrom(start))
			v.Value = e
			return v
		}
		if p.at(TokLParen) {
			return p.classPattern(nameTok)
		}
		as := newNode(p.mod.Arena, &MatchAs{}, KMatchAs, p.spanFrom(start))
		if nameTok.Lexeme != "_" {
			as.Name = Intern(nameTok.Lexeme)
		}
		return as

	case TokLSquare, TokLParen:
		close := TokRSquare
		if p.tok.Type == TokLParen {
			close = TokRParen
		}
		p.next()
		seq := newNode(p.mod.Arena, &MatchSequence{}, KMatchSequence, p.spanFrom(start))
		for !p.at(close) {
			seq.Patterns = append(seq.Patterns, p.pattern())
			if !p.eat(TokComma) {
				break
			}
		}
		p.expect(close, "a closing bracket")
		seq.SetSpan(p.spanFrom(start))
		return seq

	case TokLBrace:
		p.next()
		mp := newNode(p.mod.Arena, &MatchMapping{}, KMatchMapping, p.spanFrom(start))
		for !p.at(TokRBrace) {
			if p.at(TokOp) && p.tok.Lexeme == "**" {
				p.next()
				t := p.expect(TokIdent, "a rest name")
				mp.Rest = Intern(t.Lexeme)
			} else {
				mp.Keys = append(mp.Keys, p.test())
				p.expect(TokColon, "':'")
				mp.Patterns = append(mp.Patterns, p.pattern())
			}
			if !p.eat(TokComma) {
				break
			}
		}
		p.expect(TokRBrace, "'}'")
		mp.SetSpan(p.spanFrom(start))
		return mp
	}
	p.bail("expected a pattern, found %s", describe(p.tok))
	return nil
}

func (p *parser) classPattern(nameTok Token) PatternNode {
	cp := newNode(p.mod.Arena, &MatchClass{}, KMatchClass, p.spanFrom(nameTok))
	cp.Cls = p.mkName(nameTok, CtxLoad)
	p.expect(TokLParen, "'('")
	for !p.at(TokRParen) {
		if p.at(TokIdent) && p.lex.Peek().Type == TokAssign {
			kw := p.expect(TokIdent, "a keyword pattern name")
			p.expect(TokAssign, "'='")
			cp.KwdNames = append(cp.KwdNames, Intern(kw.Lexeme))
			cp.KwdPats = append(cp.KwdPats, p.pattern())
		} else {
			cp.Patterns = append(cp.Patterns, p.pattern())
		}
		if !p.eat(TokComma) {
			break
		}
	}
	p.expect(TokRParen, "')'")
	cp.SetSpan(p.spanFrom(nameTok))
	return cp
}

// --- expressions -----------------------------------------------------------

func (p *parser) mkName(t Token, ctx ExprContext) *Name {
	n := newNode(p.mod.Arena, &Name{}, KName, Span{Line: t.Line, Col: t.Col, EndLine: t.Line, EndCol: t.Col + len(t.Lexeme)})
	n.ID = Intern(t.Lexeme)
	n.Ctx = ctx
	n.VarID = -1
	return n
}

func (p *parser) mkConstant(v Value, sp Span) *Constant {
	c := newNode(p.mod.Arena, &Constant{}, KConstant, sp)
	c.Value = v
	return c
}

// testList parses `a` or `a, b, c` (tuple display without brackets).
func (p *parser) testList() ExprNode {
	start := p.tok
	first := p.test()
	if !p.at(TokComma) {
		return first
	}
	tup := newNode(p.mod.Arena, &TupleExpr{}, KTupleExpr, p.spanFrom(start))
	tup.Elems = append(tup.Elems, first)
	for p.eat(TokComma) {
		if p.exprEnds() {
			break
		}
		tup.Elems = append(tup.Elems, p.test())
	}
	tup.SetSpan(p.spanFrom(start))
	return tup
}

func (p *parser) testListOrYield() ExprNode {
	if p.at(TokYield) {
		return p.yieldExpr()
	}
	return p.testList()
}

func (p *parser) exprEnds() bool {
	switch p.tok.Type {
	case TokNewline, TokEOF, TokAssign, TokColon, TokRParen, TokRSquare, TokRBrace, TokSemi, TokDedent:
		return true
	}
	return false
}

// test parses a conditional expression, lambda or yield.
func (p *parser) test() ExprNode {
	switch p.tok.Type {
	case TokLambda:
		return p.lambdaExpr()
	case TokYield:
		return p.yieldExpr()
	}
	start := p.tok
	e := p.binary(0)
	if p.at(TokIf) {
		p.next()
		cond := p.binary(0)
		p.expect(TokElse, "'else'")
		orelse := p.test()
		ife := newNode(p.mod.Arena, &IfExp{}, KIfExp, p.spanFrom(start))
		ife.Test = cond
		ife.Body = e
		ife.Orelse = orelse
		return ife
	}
	return e
}

// namedTest additionally accepts the walrus form.
func (p *parser) namedTest() ExprNode {
	start := p.tok
	e := p.test()
	if p.at(TokWalrus) {
		p.next()
		ne := newNode(p.mod.Arena, &NamedExpr{}, KNamedExpr, p.spanFrom(start))
		ne.Target = p.toTarget(e)
		ne.Value = p.test()
		ne.SetSpan(p.spanFrom(start))
		return ne
	}
	return e
}

func (p *parser) lambdaExpr() ExprNode {
	start := p.tok
	p.expect(TokLambda, "'lambda'")
	lam := newNode(p.mod.Arena, &Lambda{}, KLambda, p.spanFrom(start))
	for !p.at(TokColon) {
		t := p.expect(TokIdent, "a parameter name")
		prm := Param{Name: Intern(t.Lexeme)}
		if p.eat(TokAssign) {
			prm.Default = p.test()
		}
		lam.Args.Args = append(lam.Args.Args, prm)
		if !p.eat(TokComma) {
			break
		}
	}
	p.expect(TokColon, "':'")
	lam.Body = p.test()
	lam.SetSpan(p.spanFrom(start))
	return lam
}

func (p *parser) yieldExpr() ExprNode {
	start := p.tok
	p.expect(TokYield, "'yield'")
	if p.at(TokFrom) {
		p.next()
		yf := newNode(p.mod.Arena, &YieldFrom{}, KYieldFrom, p.spanFrom(start))
		yf.Value = p.test()
		yf.SetSpan(p.spanFrom(start))
		return yf
	}
	y := newNode(p.mod.Arena, &Yield{}, KYield, p.spanFrom(start))
	if !p.exprEnds() && !p.at(TokComma) {
		y.Value = p.testList()
	}
	y.SetSpan(p.spanFrom(start))
	return y
}

// peekOperator recognizes the next binary operator, merging the two-token
// spellings `not in` and `is not`.
func (p *parser) peekOperator() (string, OpConfig, int, bool) {
	t := p.tok
	if t.Type == TokOp || t.Type == TokAnd || t.Type == TokOr || t.Type == TokIn || t.Type == TokIs {
		spelling := operatorSpelling(t)
		if t.Type == TokIs && p.lex.Peek().Type == TokNot {
			spelling = "is not"
			if cfg, ok := lookupOp(spelling); ok {
				return spelling, cfg, 2, true
			}
		}
		cfg, ok := lookupOp(spelling)
		if !ok {
			return "", OpConfig{}, 0, false
		}
		return spelling, cfg, 1, true
	}
	if t.Type == TokNot && p.lex.Peek().Type == TokIn {
		cfg, _ := lookupOp("not in")
		return "not in", cfg, 2, true
	}
	return "", OpConfig{}, 0, false
}

// binary implements precedence climbing over the operator table.
func (p *parser) binary(minPrec int) ExprNode {
	start := p.tok
	left := p.unary()

	for {
		spelling, cfg, ntoks, ok := p.peekOperator()
		if !ok || cfg.Precedence < minPrec {
			return left
		}
		for i := 0; i < ntoks; i++ {
			p.next()
		}
		nextMin := cfg.Precedence + 1
		if !cfg.LeftAssoc {
			nextMin = cfg.Precedence
		}
		right := p.binary(nextMin)

		switch cfg.Class {
		case OpCompare:
			if c, isCmp := left.(*Compare); isCmp {
				c.Ops = append(c.Ops, Intern(spelling))
				c.Comparators = append(c.Comparators, right)
				c.SetSpan(p.spanFrom(start))
				continue
			}
			c := newNode(p.mod.Arena, &Compare{}, KCompare, p.spanFrom(start))
			c.Left = left
			c.Ops = append(c.Ops, Intern(spelling))
			c.Comparators = append(c.Comparators, right)
			left = c
		case OpBool:
			kind := BoolAnd
			if spelling == "or" {
				kind = BoolOr
			}
			if b, isBool := left.(*BoolOp); isBool && b.Op == kind {
				b.Values = append(b.Values, right)
				b.SetSpan(p.spanFrom(start))
				continue
			}
			b := newNode(p.mod.Arena, &BoolOp{}, KBoolOp, p.spanFrom(start))
			b.Op = kind
			b.Values = []ExprNode{left, right}
			left = b
		default:
			bin := newNode(p.mod.Arena, &BinOp{}, KBinOp, p.spanFrom(start))
			bin.Op = Intern(spelling)
			bin.Left = left
			bin.Right = right
			left = bin
		}
	}
}

func (p *parser) unary() ExprNode {
	start := p.tok
	switch {
	case p.at(TokNot):
		p.next()
		u := newNode(p.mod.Arena, &UnaryOp{}, KUnaryOp, p.spanFrom(start))
		u.Op = Intern("not")
		u.Operand = p.binary(precOf("not"))
		u.SetSpan(p.spanFrom(start))
		return u
	case p.at(TokOp) && (p.tok.Lexeme == "-" || p.tok.Lexeme == "+" || p.tok.Lexeme == "~"):
		op := p.tok.Lexeme
		p.next()
		u := newNode(p.mod.Arena, &UnaryOp{}, KUnaryOp, p.spanFrom(start))
		u.Op = Intern(op)
		u.Operand = p.binary(UnaryPrecedence)
		u.SetSpan(p.spanFrom(start))
		return u
	case p.at(TokAwait):
		p.next()
		a := newNode(p.mod.Arena, &Await{}, KAwait, p.spanFrom(start))
		a.Value = p.unary()
		a.SetSpan(p.spanFrom(start))
		return a
	case p.at(TokOp) && p.tok.Lexeme == "*":
		p.next()
		s := newNode(p.mod.Arena, &Starred{}, KStarred, p.spanFrom(start))
		s.Value = p.unary()
		s.SetSpan(p.spanFrom(start))
		return s
	}
	return p.postfix(p.primary())
}

// precOf looks up the precedence of a spelling; "not" sits between `and` and
// the comparisons.
func precOf(spelling string) int {
	if spelling == "not" {
		return 35
	}
	if cfg, ok := lookupOp(spelling); ok {
		return cfg.Precedence
	}
	return 0
}

func (p *parser) postfix(e ExprNode) ExprNode {
	for {
		start := p.tok
		switch {
		case p.at(TokLParen):
			p.next()
			call := newNode(p.mod.Arena, &Call{}, KCall, e.GetSpan())
			call.Func = e
			for !p.at(TokRParen) {
				if p.at(TokIdent) && p.lex.Peek().Type == TokAssign {
					kw := p.expect(TokIdent, "a keyword argument name")
					p.expect(TokAssign, "'='")
					call.Keywords = append(call.Keywords, Keyword{Name: Intern(kw.Lexeme), Value: p.test()})
				} else {
					call.Args = append(call.Args, p.test())
				}
				if !p.eat(TokComma) {
					break
				}
			}
			p.expect(TokRParen, "')'")
			call.SetSpan(p.spanFrom(start))
			e = call

		case p.at(TokDot):
			p.next()
			t := p.expect(TokIdent, "an attribute name")
			attr := newNode(p.mod.Arena, &Attribute{}, KAttribute, e.GetSpan())
			attr.Value = e
			attr.Attr = Intern(t.Lexeme)
			attr.SetSpan(p.spanFrom(start))
			e = attr

		case p.at(TokLSquare):
			p.next()
			sub := newNode(p.mod.Arena, &Subscript{}, KSubscript, e.GetSpan())
			sub.Value = e
			sub.Index = p.subscriptIndex()
			p.expect(TokRSquare, "']'")
			sub.SetSpan(p.spanFrom(start))
			e = sub

		default:
			return e
		}
	}
}

// subscriptIndex parses an index expression or a slice `a:b:c`.
func (p *parser) subscriptIndex() ExprNode {
	start := p.tok
	var lower ExprNode
	if !p.at(TokColon) {
		lower = p.test()
		if !p.at(TokColon) {
			return lower
		}
	}
	sl := newNode(p.mod.Arena, &Slice{}, KSlice, p.spanFrom(start))
	sl.Lower = lower
	p.expect(TokColon, "':'")
	if !p.at(TokRSquare) && !p.at(TokColon) {
		sl.Upper = p.test()
	}
	if p.eat(TokColon) {
		if !p.at(TokRSquare) {
			sl.Step = p.test()
		}
	}
	sl.SetSpan(p.spanFrom(start))
	return sl
}

func (p *parser) primary() ExprNode {
	start := p.tok
	switch p.tok.Type {
	case TokInt:
		v := p.tok.Int
		p.next()
		if v >= -1<<31 && v < 1<<31 {
			return p.mkConstant(I32Val(int32(v)), p.spanFrom(start))
		}
		return p.mkConstant(I64Val(v), p.spanFrom(start))

	case TokFloat:
		f := p.tok.Float
		p.next()
		return p.mkConstant(F64Val(f), p.spanFrom(start))

	case TokString, TokDocstring:
		if p.tok.Int == 1 {
			return p.fString(p.tok)
		}
		s := p.tok.Lexeme
		p.next()
		// adjacent string literals concatenate
		for (p.at(TokString) || p.at(TokDocstring)) && p.tok.Int == 0 {
			s += p.tok.Lexeme
			p.next()
		}
		return p.mkConstant(StrVal(s), p.spanFrom(start))

	case TokTrue:
		p.next()
		return p.mkConstant(BoolVal(true), p.spanFrom(start))
	case TokFalse:
		p.next()
		return p.mkConstant(BoolVal(false), p.spanFrom(start))
	case TokNone:
		p.next()
		return p.mkConstant(NoneVal(), p.spanFrom(start))

	case TokIdent:
		t := p.tok
		p.next()
		return p.mkName(t, CtxLoad)

	case TokLParen:
		p.next()
		if p.at(TokRParen) {
			p.next()
			return newNode(p.mod.Arena, &TupleExpr{}, KTupleExpr, p.spanFrom(start))
		}
		first := p.namedTest()
		switch {
		case p.at(TokFor):
			gen := newNode(p.mod.Arena, &GeneratorExp{}, KGeneratorExp, p.spanFrom(start))
			gen.Elt = first
			gen.Generators = p.comprehensions()
			p.expect(TokRParen, "')'")
			gen.SetSpan(p.spanFrom(start))
			return gen
		case p.at(TokComma):
			tup := newNode(p.mod.Arena, &TupleExpr{}, KTupleExpr, p.spanFrom(start))
			tup.Elems = append(tup.Elems, first)
			for p.eat(TokComma) {
				if p.at(TokRParen) {
					break
				}
				tup.Elems = append(tup.Elems, p.test())
			}
			p.expect(TokRParen, "')'")
			tup.SetSpan(p.spanFrom(start))
			return tup
		}
		p.expect(TokRParen, "')'")
		return first

	case TokLSquare:
		p.next()
		if p.at(TokRSquare) {
			p.next()
			return newNode(p.mod.Arena, &ListExpr{}, KListExpr, p.spanFrom(start))
		}
		first := p.namedTest()
		if p.at(TokFor) {
			lc := newNode(p.mod.Arena, &ListComp{}, KListComp, p.spanFrom(start))
			lc.Elt = first
			lc.Generators = p.comprehensions()
			p.expect(TokRSquare, "']'")
			lc.SetSpan(p.spanFrom(start))
			return lc
		}
		lst := newNode(p.mod.Arena, &ListExpr{}, KListExpr, p.spanFrom(start))
		lst.Elems = append(lst.Elems, first)
		for p.eat(TokComma) {
			if p.at(TokRSquare) {
				break
			}
			lst.Elems = append(lst.Elems, p.test())
		}
		p.expect(TokRSquare, "']'")
		lst.SetSpan(p.spanFrom(start))
		return lst

	case TokLBrace:
		return p.braceDisplay()
	}

	p.bail("expected an expression, found %s", describe(p.tok))
	return nil
}

// braceDisplay parses dict/set literals and their comprehensions.
func (p *parser) braceDisplay() ExprNode {
	start := p.tok
	p.expect(TokLBrace, "'{'")
	if p.at(TokRBrace) {
		p.next()
		return newNode(p.mod.Arena, &DictExpr{}, KDictExpr, p.spanFrom(start))
	}
	firstKey := p.namedTest()
	if p.eat(TokColon) {
		firstVal := p.test()
		if p.at(TokFor) {
			dc := newNode(p.mod.Arena, &DictComp{}, KDictComp, p.spanFrom(start))
			dc.Key = firstKey
			dc.Value = firstVal
			dc.Generators = p.comprehensions()
			p.expect(TokRBrace, "'}'")
			dc.SetSpan(p.spanFrom(start))
			return dc
		}
		d := newNode(p.mod.Arena, &DictExpr{}, KDictExpr, p.spanFrom(start))
		d.Keys = append(d.Keys, firstKey)
		d.Values = append(d.Values, firstVal)
		for p.eat(TokComma) {
			if p.at(TokRBrace) {
				break
			}
			k := p.test()
			p.expect(TokColon, "':'")
			d.Keys = append(d.Keys, k)
			d.Values = append(d.Values, p.test())
		}
		p.expect(TokRBrace, "'}'")
		d.SetSpan(p.spanFrom(start))
		return d
	}
	if p.at(TokFor) {
		sc := newNode(p.mod.Arena, &SetComp{}, KSetComp, p.spanFrom(start))
		sc.Elt = firstKey
		sc.Generators = p.comprehensions()
		p.expect(TokRBrace, "'}'")
		sc.SetSpan(p.spanFrom(start))
		return sc
	}
	s := newNode(p.mod.Arena, &SetExpr{}, KSetExpr, p.spanFrom(start))
	s.Elems = append(s.Elems, firstKey)
	for p.eat(TokComma) {
		if p.at(TokRBrace) {
			break
		}
		s.Elems = append(s.Elems, p.test())
	}
	p.expect(TokRBrace, "'}'")
	s.SetSpan(p.spanFrom(start))
	return s
}

func (p *parser) comprehensions() []Comprehension {
	var out []Comprehension
	for p.at(TokFor) || p.at(TokAsync) {
		async := p.eat(TokAsync)
		p.expect(TokFor, "'for'")
		c := Comprehension{Async: async}
		c.Target = p.toTarget(p.targetList())
		p.expect(TokIn, "'in'")
		c.Iter = p.binary(0)
		for p.at(TokIf) {
			p.next()
			c.Ifs = append(c.Ifs, p.binary(0))
		}
		out = append(out, c)
	}
	return out
}

// typeExpr parses a type annotation. Types share the expression grammar
// (names, subscripts like list[i32], arrows are built by Sema).
func (p *parser) typeExpr() ExprNode {
	return p.binary(0)
}

// fString splits an f-string token into a JoinedStr of constants and
// formatted holes. Hole expressions re-enter the parser.
func (p *parser) fString(t Token) ExprNode {
	p.next()
	js := newNode(p.mod.Arena, &JoinedStr{}, KJoinedStr, p.spanFrom(t))
	raw := t.Lexeme
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			js.Values = append(js.Values, p.mkConstant(StrVal(lit.String()), js.GetSpan()))
			lit.Reset()
		}
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '{' && i+1 < len(raw) && raw[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(raw) && raw[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			depth := 1
			j := i + 1
			for j < len(raw) && depth > 0 {
				switch raw[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				j++
			}
			if depth != 0 {
				p.diags.Report(DiagSyntaxError, js.GetSpan(), "unbalanced '{' in f-string")
				return js
			}
			flush()
			inner := raw[i+1 : j-1]
			sub, subDiags := Parse(p.mod.Name, inner)
			p.diags.List = append(p.diags.List, subDiags.List...)
			if len(sub.Body) == 1 {
				if es, ok := sub.Body[0].(*ExprStmt); ok {
					fv := newNode(p.mod.Arena, &FormattedValue{}, KFormattedValue, js.GetSpan())
					fv.Value = es.Value
					// adopt the hole's nodes into this module's arena
					for _, nd := range sub.Arena.nodes {
						p.mod.Arena.Adopt(nd)
					}
					js.Values = append(js.Values, fv)
				}
			}
			i = j - 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return js
}
