// printer.go — deterministic pretty-printer.
//
// The printer reproduces source-equivalent text: 4-space indentation, one
// statement per line, operator parenthesization driven by a precedence
// comparison. A child operand is parenthesized iff its precedence is
// strictly less than its parent's (plus the usual right-operand tweak for
// left-associative operators).
package lython

import (
	"fmt"
	"strings"
)

const indentUnit = "    "

// PrintModule renders a module back to source text.
func PrintModule(m *Module) string {
	var b strings.Builder
	if m.Docstring != "" {
		fmt.Fprintf(&b, "\"\"\"%s\"\"\"\n", m.Docstring)
	}
	for i, st := range m.Body {
		if i > 0 {
			switch st.(type) {
			case *FunctionDef, *ClassDef:
				b.WriteByte('\n')
			}
		}
		printStmt(&b, st, 0)
	}
	return b.String()
}

// PrintStmt renders a single statement (tests use it for residuals).
func PrintStmt(st StmtNode) string {
	var b strings.Builder
	printStmt(&b, st, 0)
	return b.String()
}

// ExprString renders an expression.
func ExprString(e ExprNode) string {
	return exprPrec(e, 0)
}

// --- statements ------------------------------------------------------------

func printStmt(b *strings.Builder, st StmtNode, depth int) {
	ind := strings.Repeat(indentUnit, depth)
	switch n := st.(type) {
	case *FunctionDef:
		for _, d := range n.Decorators {
			fmt.Fprintf(b, "%s@%s\n", ind, ExprString(d))
		}
		b.WriteString(ind)
		if n.Async {
			b.WriteString("async ")
		}
		fmt.Fprintf(b, "def %s(%s)", n.Name, printArguments(n.Args))
		if n.Returns != nil {
			fmt.Fprintf(b, " -> %s", ExprString(n.Returns))
		}
		b.WriteString(":\n")
		if n.Docstring != "" {
			fmt.Fprintf(b, "%s\"\"\"%s\"\"\"\n", ind+indentUnit, n.Docstring)
		}
		printBody(b, n.Body, depth+1)

	case *ClassDef:
		for _, d := range n.Decorators {
			fmt.Fprintf(b, "%s@%s\n", ind, ExprString(d))
		}
		fmt.Fprintf(b, "%sclass %s", ind, n.Name)
		if len(n.Bases) > 0 {
			parts := make([]string, len(n.Bases))
			for i, base := range n.Bases {
				parts[i] = ExprString(base)
			}
			fmt.Fprintf(b, "(%s)", strings.Join(parts, ", "))
		}
		b.WriteString(":\n")
		if n.Docstring != "" {
			fmt.Fprintf(b, "%s\"\"\"%s\"\"\"\n", ind+indentUnit, n.Docstring)
		}
		printBody(b, n.Body, depth+1)

	case *Assign:
		parts := make([]string, len(n.Targets))
		for i, t := range n.Targets {
			parts[i] = ExprString(t)
		}
		fmt.Fprintf(b, "%s%s = %s\n", ind, strings.Join(parts, " = "), ExprString(n.Value))

	case *AugAssign:
		fmt.Fprintf(b, "%s%s %s= %s\n", ind, ExprString(n.Target), n.Op, ExprString(n.Value))

	case *AnnAssign:
		fmt.Fprintf(b, "%s%s: %s", ind, ExprString(n.Target), ExprString(n.Annotation))
		if n.Value != nil {
			fmt.Fprintf(b, " = %s", ExprString(n.Value))
		}
		b.WriteByte('\n')

	case *Return:
		if n.Value != nil {
			fmt.Fprintf(b, "%sreturn %s\n", ind, ExprString(n.Value))
		} else {
			fmt.Fprintf(b, "%sreturn\n", ind)
		}

	case *Delete:
		parts := make([]string, len(n.Targets))
		for i, t := range n.Targets {
			parts[i] = ExprString(t)
		}
		fmt.Fprintf(b, "%sdel %s\n", ind, strings.Join(parts, ", "))

	case *For:
		b.WriteString(ind)
		if n.Async {
			b.WriteString("async ")
		}
		fmt.Fprintf(b, "for %s in %s:\n", ExprString(n.Target), ExprString(n.Iter))
		printBody(b, n.Body, depth+1)
		if len(n.Orelse) > 0 {
			fmt.Fprintf(b, "%selse:\n", ind)
			printBody(b, n.Orelse, depth+1)
		}

	case *While:
		fmt.Fprintf(b, "%swhile %s:\n", ind, ExprString(n.Test))
		printBody(b, n.Body, depth+1)
		if len(n.Orelse) > 0 {
			fmt.Fprintf(b, "%selse:\n", ind)
			printBody(b, n.Orelse, depth+1)
		}

	case *If:
		for i, test := range n.Tests {
			kw := "if"
			if i > 0 {
				kw = "elif"
			}
			fmt.Fprintf(b, "%s%s %s:\n", ind, kw, ExprString(test))
			printBody(b, n.Bodies[i], depth+1)
		}
		if len(n.Orelse) > 0 {
			fmt.Fprintf(b, "%selse:\n", ind)
			printBody(b, n.Orelse, depth+1)
		}

	case *With:
		b.WriteString(ind)
		if n.Async {
			b.WriteString("async ")
		}
		b.WriteString("with ")
		for i, item := range n.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(ExprString(item.ContextExpr))
			if item.OptionalVars != nil {
				fmt.Fprintf(b, " as %s", ExprString(item.OptionalVars))
			}
		}
		b.WriteString(":\n")
		printBody(b, n.Body, depth+1)

	case *Raise:
		b.WriteString(ind)
		b.WriteString("raise")
		if n.Exc != nil {
			fmt.Fprintf(b, " %s", ExprString(n.Exc))
			if n.Cause != nil {
				fmt.Fprintf(b, " from %s", ExprString(n.Cause))
			}
		}
		b.WriteByte('\n')

	case *Try:
		fmt.Fprintf(b, "%stry:\n", ind)
		printBody(b, n.Body, depth+1)
		for _, h := range n.Handlers {
			b.WriteString(ind)
			b.WriteString("except")
			if h.Type != nil {
				fmt.Fprintf(b, " %s", ExprString(h.Type))
				if h.Name != 0 {
					fmt.Fprintf(b, " as %s", h.Name)
				}
			}
			b.WriteString(":\n")
			printBody(b, h.Body, depth+1)
		}
		if len(n.Orelse) > 0 {
			fmt.Fprintf(b, "%selse:\n", ind)
			printBody(b, n.Orelse, depth+1)
		}
		if len(n.Finalbody) > 0 {
			fmt.Fprintf(b, "%sfinally:\n", ind)
			printBody(b, n.Finalbody, depth+1)
		}

	case *Assert:
		fmt.Fprintf(b, "%sassert %s", ind, ExprString(n.Test))
		if n.Msg != nil {
			fmt.Fprintf(b, ", %s", ExprString(n.Msg))
		}
		b.WriteByte('\n')

	case *Import:
		parts := make([]string, len(n.Names))
		for i, a := range n.Names {
			parts[i] = aliasString(a)
		}
		fmt.Fprintf(b, "%simport %s\n", ind, strings.Join(parts, ", "))

	case *ImportFrom:
		parts := make([]string, len(n.Names))
		for i, a := range n.Names {
			parts[i] = aliasString(a)
		}
		fmt.Fprintf(b, "%sfrom %s%s import %s\n", ind, strings.Repeat(".", n.Level), n.Module, strings.Join(parts, ", "))

	case *Global:
		fmt.Fprintf(b, "%sglobal %s\n", ind, joinRefs(n.Names))

	case *Nonlocal:
		fmt.Fprintf(b, "%snonlocal %s\n", ind, joinRefs(n.Names))

	case *ExprStmt:
		fmt.Fprintf(b, "%s%s\n", ind, ExprString(n.Value))

	case *Pass:
		fmt.Fprintf(b, "%spass\n", ind)
	case *Break:
		fmt.Fprintf(b, "%sbreak\n", ind)
	case *Continue:
		fmt.Fprintf(b, "%scontinue\n", ind)

	case *Match:
		fmt.Fprintf(b, "%smatch %s:\n", ind, ExprString(n.Subject))
		for _, c := range n.Cases {
			fmt.Fprintf(b, "%scase %s", ind+indentUnit, patternString(c.Pattern))
			if c.Guard != nil {
				fmt.Fprintf(b, " if %s", ExprString(c.Guard))
			}
			b.WriteString(":\n")
			printBody(b, c.Body, depth+2)
		}

	case *Inline:
		parts := make([]string, len(n.Body))
		for i, st := range n.Body {
			var sb strings.Builder
			printStmt(&sb, st, 0)
			parts[i] = strings.TrimSuffix(sb.String(), "\n")
		}
		fmt.Fprintf(b, "%s%s\n", ind, strings.Join(parts, "; "))

	default:
		fmt.Fprintf(b, "%s# <unprintable statement kind %d>\n", ind, st.Kind())
	}
}

func printBody(b *strings.Builder, body []StmtNode, depth int) {
	if len(body) == 0 {
		fmt.Fprintf(b, "%spass\n", strings.Repeat(indentUnit, depth))
		return
	}
	for _, st := range body {
		printStmt(b, st, depth)
	}
}

func aliasString(a Alias) string {
	if a.AsName != 0 {
		return fmt.Sprintf("%s as %s", a.Name, a.AsName)
	}
	return a.Name.String()
}

func joinRefs(refs []StringRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

func printArguments(args Arguments) string {
	var parts []string
	for i, prm := range args.Args {
		parts = append(parts, paramString(prm))
		if args.PosOnly > 0 && i == args.PosOnly-1 {
			parts = append(parts, "/")
		}
	}
	if args.VarArg != nil {
		parts = append(parts, "*"+paramString(*args.VarArg))
	} else if len(args.KwOnly) > 0 {
		parts = append(parts, "*")
	}
	for _, prm := range args.KwOnly {
		parts = append(parts, paramString(prm))
	}
	if args.KwArg != nil {
		parts = append(parts, "**"+paramString(*args.KwArg))
	}
	return strings.Join(parts, ", ")
}

func paramString(prm Param) string {
	out := prm.Name.String()
	if prm.Annotation != nil {
		out += ": " + ExprString(prm.Annotation)
	}
	if prm.Default != nil {
		out += " = " + ExprString(prm.Default)
	}
	return out
}

// --- expressions -----------------------------------------------------------

// precedenceOf returns a node's binding power for parenthesization.
func precedenceOf(e ExprNode) int {
	switch n := e.(type) {
	case *Lambda:
		return 5
	case *IfExp:
		return 8
	case *NamedExpr:
		return 9
	case *BoolOp:
		if n.Op == BoolOr {
			return 20
		}
		return 30
	case *UnaryOp:
		if n.Op.String() == "not" {
			return 35
		}
		return UnaryPrecedence
	case *Compare:
		return 40
	case *BinOp:
		if cfg, ok := lookupOp(n.Op.String()); ok {
			return cfg.Precedence
		}
		return 60
	}
	return 100
}

// exprPrec renders e, parenthesizing iff its precedence is strictly below
// the parent's minimum.
func exprPrec(e ExprNode, parentPrec int) string {
	text := exprText(e)
	if precedenceOf(e) < parentPrec {
		return "(" + text + ")"
	}
	return text
}

func exprText(e ExprNode) string {
	switch n := e.(type) {
	case *Constant:
		return constantText(n.Value)

	case *Name:
		return n.ID.String()

	case *BinOp:
		prec := precedenceOf(n)
		cfg, _ := lookupOp(n.Op.String())
		leftMin, rightMin := prec, prec+1
		if !cfg.LeftAssoc {
			leftMin, rightMin = prec+1, prec
		}
		return fmt.Sprintf("%s %s %s", exprPrec(n.Left, leftMin), n.Op, exprPrec(n.Right, rightMin))

	case *BoolOp:
		op := " and "
		if n.Op == BoolOr {
			op = " or "
		}
		prec := precedenceOf(n)
		parts := make([]string, len(n.Values))
		for i, v := range n.Values {
			parts[i] = exprPrec(v, prec)
		}
		return strings.Join(parts, op)

	case *UnaryOp:
		op := n.Op.String()
		if op == "not" {
			return "not " + exprPrec(n.Operand, 35)
		}
		return op + exprPrec(n.Operand, UnaryPrecedence)

	case *Compare:
		var b strings.Builder
		b.WriteString(exprPrec(n.Left, 41))
		for i, c := range n.Comparators {
			fmt.Fprintf(&b, " %s %s", n.Ops[i], exprPrec(c, 41))
		}
		return b.String()

	case *Call:
		var parts []string
		for _, a := range n.Args {
			parts = append(parts, ExprString(a))
		}
		for _, kw := range n.Keywords {
			parts = append(parts, fmt.Sprintf("%s=%s", kw.Name, ExprString(kw.Value)))
		}
		return fmt.Sprintf("%s(%s)", exprPrec(n.Func, 100), strings.Join(parts, ", "))

	case *Attribute:
		return fmt.Sprintf("%s.%s", exprPrec(n.Value, 100), n.Attr)

	case *Subscript:
		return fmt.Sprintf("%s[%s]", exprPrec(n.Value, 100), ExprString(n.Index))

	case *Slice:
		out := ""
		if n.Lower != nil {
			out += ExprString(n.Lower)
		}
		out += ":"
		if n.Upper != nil {
			out += ExprString(n.Upper)
		}
		if n.Step != nil {
			out += ":" + ExprString(n.Step)
		}
		return out

	case *Lambda:
		if len(n.Args.Args) == 0 {
			return "lambda: " + ExprString(n.Body)
		}
		return fmt.Sprintf("lambda %s: %s", printArguments(n.Args), ExprString(n.Body))

	case *IfExp:
		return fmt.Sprintf("%s if %s else %s", exprPrec(n.Body, 9), exprPrec(n.Test, 9), exprPrec(n.Orelse, 8))

	case *ListExpr:
		return "[" + joinExprs(n.Elems) + "]"

	case *TupleExpr:
		if len(n.Elems) == 1 {
			return "(" + ExprString(n.Elems[0]) + ",)"
		}
		return "(" + joinExprs(n.Elems) + ")"

	case *SetExpr:
		return "{" + joinExprs(n.Elems) + "}"

	case *DictExpr:
		parts := make([]string, len(n.Keys))
		for i := range n.Keys {
			parts[i] = ExprString(n.Keys[i]) + ": " + ExprString(n.Values[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"

	case *ListComp:
		return "[" + ExprString(n.Elt) + comprehensionText(n.Generators) + "]"
	case *SetComp:
		return "{" + ExprString(n.Elt) + comprehensionText(n.Generators) + "}"
	case *DictComp:
		return "{" + ExprString(n.Key) + ": " + ExprString(n.Value) + comprehensionText(n.Generators) + "}"
	case *GeneratorExp:
		return "(" + ExprString(n.Elt) + comprehensionText(n.Generators) + ")"

	case *NamedExpr:
		return fmt.Sprintf("%s := %s", ExprString(n.Target), ExprString(n.Value))

	case *Starred:
		return "*" + ExprString(n.Value)

	case *Await:
		return "await " + exprPrec(n.Value, UnaryPrecedence)

	case *Yield:
		if n.Value != nil {
			return "yield " + ExprString(n.Value)
		}
		return "yield"

	case *YieldFrom:
		return "yield from " + ExprString(n.Value)

	case *JoinedStr:
		var b strings.Builder
		b.WriteString("f\"")
		for _, part := range n.Values {
			switch pn := part.(type) {
			case *FormattedValue:
				b.WriteString("{" + ExprString(pn.Value) + "}")
			case *Constant:
				b.WriteString(pn.Value.String())
			}
		}
		b.WriteString("\"")
		return b.String()

	case *FormattedValue:
		return "{" + ExprString(n.Value) + "}"

	case *Arrow:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = ExprString(a)
		}
		return "(" + strings.Join(parts, ", ") + ") -> " + ExprString(n.Returns)

	case *ArrayType:
		return "list[" + ExprString(n.Elem) + "]"
	case *SetType:
		return "set[" + ExprString(n.Elem) + "]"
	case *DictType:
		return "dict[" + ExprString(n.Key) + ", " + ExprString(n.Val) + "]"
	case *TupleType:
		return "tuple[" + joinExprs(n.Elems) + "]"
	case *BuiltinType:
		return n.Name.String()
	case *ClassType:
		return n.Def.Name.String()
	}
	return fmt.Sprintf("<expr kind %d>", e.Kind())
}

func joinExprs(exprs []ExprNode) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = ExprString(e)
	}
	return strings.Join(parts, ", ")
}

func comprehensionText(gens []Comprehension) string {
	var b strings.Builder
	for _, g := range gens {
		if g.Async {
			b.WriteString(" async")
		}
		fmt.Fprintf(&b, " for %s in %s", ExprString(g.Target), ExprString(g.Iter))
		for _, cond := range g.Ifs {
			fmt.Fprintf(&b, " if %s", ExprString(cond))
		}
	}
	return b.String()
}

func constantText(v Value) string {
	if v.Tag == VStr {
		return "\"" + escapeString(v.Ref.(string)) + "\""
	}
	return v.String()
}

func escapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			b.WriteString("\\n")
		case '\t':
			b.WriteString("\\t")
		case '\r':
			b.WriteString("\\r")
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// --- patterns --------------------------------------------------------------

func patternString(p PatternNode) string {
	switch n := p.(type) {
	case *MatchValue:
		return ExprString(n.Value)
	case *MatchSingleton:
		return n.Value.String()
	case *MatchSequence:
		parts := make([]string, len(n.Patterns))
		for i, sub := range n.Patterns {
			parts[i] = patternString(sub)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *MatchMapping:
		var parts []string
		for i := range n.Keys {
			parts = append(parts, ExprString(n.Keys[i])+": "+patternString(n.Patterns[i]))
		}
		if n.Rest != 0 {
			parts = append(parts, "**"+n.Rest.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *MatchClass:
		var parts []string
		for _, sub := range n.Patterns {
			parts = append(parts, patternString(sub))
		}
		for i, name := range n.KwdNames {
			parts = append(parts, fmt.Sprintf("%s=%s", name, patternString(n.KwdPats[i])))
		}
		return ExprString(n.Cls) + "(" + strings.Join(parts, ", ") + ")"
	case *MatchStar:
		if n.Name == 0 {
			return "*_"
		}
		return "*" + n.Name.String()
	case *MatchAs:
		if n.Pattern == nil {
			if n.Name == 0 {
				return "_"
			}
			return n.Name.String()
		}
		return patternString(n.Pattern) + " as " + n.Name.String()
	case *MatchOr:
		parts := make([]string, len(n.Patterns))
		for i, sub := range n.Patterns {
			parts[i] = patternString(sub)
		}
		return strings.Join(parts, " | ")
	}
	return "<pattern>"
}
