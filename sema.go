// sema.go — semantic analysis: name resolution, scope construction, type
// inference and operator resolution.
//
// Sema walks the AST with a Bindings table in hand and annotates nodes in
// place: every Name gets a varid, every resolved operator node gets either a
// native intrinsic or a pointer to the user-defined dunder, and every
// expression gets a resolved-type slot. A forward pass introduces top-level
// functions and classes first so mutual references type-check.
//
// Errors are collected, not thrown: a failing check records a diagnostic and
// analysis continues, so one file produces several reports and downstream
// tools still receive an annotated AST.
package lython

import "strings"

// Sema is the semantic analyzer. It implements the visitor scaffold with
// type-expression results.
type Sema struct {
	mod      *Module
	bindings *Bindings
	diags    *Diagnostics

	forward    bool
	scopeMarks []int
	globals    []map[StringRef]bool
	fnStack    []*FunctionDef
	classStack []*ClassDef
}

// Analyze runs Sema over a module on top of a seeded Bindings table.
func Analyze(mod *Module, b *Bindings) *Diagnostics {
	RegisterGlobals()
	s := &Sema{mod: mod, bindings: b, diags: &Diagnostics{Path: mod.Path}}

	// forward pass: introduce top-level names before typing bodies
	s.forward = true
	for _, st := range mod.Body {
		switch d := st.(type) {
		case *FunctionDef:
			d.VarID = s.bind(d.Name, d, nil)
		case *ClassDef:
			d.VarID = s.bind(d.Name, d, s.classType(d))
		}
	}
	s.forward = false

	for _, st := range mod.Body {
		s.stmt(st, 0)
	}
	return s.diags
}

func (s *Sema) stmt(st StmtNode, depth int) {
	VisitStmt[ExprNode](s, st, depth)
}

// typeOf computes and records an expression's type.
func (s *Sema) typeOf(e ExprNode, depth int) ExprNode {
	if e == nil {
		return nil
	}
	t := VisitExpr[ExprNode](s, e, depth)
	if t != nil {
		e.SetResolvedType(t)
	}
	return t
}

// --- scope helpers ---------------------------------------------------------

func (s *Sema) scopeMark() int {
	if len(s.scopeMarks) == 0 {
		return 0
	}
	return s.scopeMarks[len(s.scopeMarks)-1]
}

func (s *Sema) moduleEnd() int {
	if len(s.scopeMarks) > 0 {
		return s.scopeMarks[0]
	}
	return s.bindings.Len()
}

func (s *Sema) isGlobal(name StringRef) bool {
	if len(s.globals) == 0 {
		return false
	}
	return s.globals[len(s.globals)-1][name]
}

// bind introduces or rebinds name in the current scope and returns its varid.
func (s *Sema) bind(name StringRef, value Node, typ ExprNode) int {
	if s.isGlobal(name) {
		if id := s.bindings.LookupBelow(name, s.moduleEnd()); id >= 0 {
			if typ != nil {
				s.bindings.SetType(id, typ)
			}
			if value != nil {
				s.bindings.SetValue(id, value)
			}
			return id
		}
	}
	if id := s.bindings.Lookup(name); id >= s.scopeMark() && id >= 0 {
		if typ != nil {
			s.bindings.SetType(id, typ)
		}
		if value != nil {
			s.bindings.SetValue(id, value)
		}
		return id
	}
	return s.bindings.Add(name, value, typ)
}

func (s *Sema) enterScope() {
	mark := s.bindings.Enter()
	s.scopeMarks = append(s.scopeMarks, mark)
	s.globals = append(s.globals, map[StringRef]bool{})
}

func (s *Sema) leaveScope() {
	s.bindings.Leave()
	s.scopeMarks = s.scopeMarks[:len(s.scopeMarks)-1]
	s.globals = s.globals[:len(s.globals)-1]
}

func (s *Sema) curFn() *FunctionDef {
	if len(s.fnStack) == 0 {
		return nil
	}
	return s.fnStack[len(s.fnStack)-1]
}

// --- type expression helpers -----------------------------------------------

func (s *Sema) classType(cls *ClassDef) *ClassType {
	ct := newNode(s.mod.Arena, &ClassType{}, KClassType, cls.GetSpan())
	ct.Def = cls
	return ct
}

// resolveAnnotation canonicalizes a parsed annotation expression into a type
// expression: builtin names become BuiltinType, class names become ClassType,
// list[T]/dict[K,V]/set[T]/tuple[...] become container types.
func (s *Sema) resolveAnnotation(e ExprNode) ExprNode {
	switch a := e.(type) {
	case nil:
		return nil
	case *BuiltinType, *ClassType, *Arrow, *ArrayType, *DictType, *SetType, *TupleType:
		return e
	case *Constant:
		if a.Value.Tag == VNone {
			return typeNode(TNone)
		}
	case *Name:
		if bt := BuiltinTypeNamed(a.ID.String()); bt != nil {
			return bt
		}
		if id := s.bindings.Lookup(a.ID); id >= 0 {
			a.VarID = id
			if cls, ok := s.bindings.GetValue(id).(*ClassDef); ok {
				return s.classType(cls)
			}
			if t := s.bindings.GetType(id); t != nil {
				return t
			}
		}
		s.diags.Report(DiagNameError, a.GetSpan(), "%s is not defined", a.ID)
	case *Subscript:
		base, ok := a.Value.(*Name)
		if !ok {
			return nil
		}
		switch base.ID.String() {
		case "list", "set":
			elem := s.resolveAnnotation(a.Index)
			if base.ID.String() == "list" {
				at := newNode(s.mod.Arena, &ArrayType{}, KArrayType, a.GetSpan())
				at.Elem = elem
				return at
			}
			st := newNode(s.mod.Arena, &SetType{}, KSetType, a.GetSpan())
			st.Elem = elem
			return st
		case "dict":
			dt := newNode(s.mod.Arena, &DictType{}, KDictType, a.GetSpan())
			if tup, ok := a.Index.(*TupleExpr); ok && len(tup.Elems) == 2 {
				dt.Key = s.resolveAnnotation(tup.Elems[0])
				dt.Val = s.resolveAnnotation(tup.Elems[1])
			}
			return dt
		case "tuple":
			tt := newNode(s.mod.Arena, &TupleType{}, KTupleType, a.GetSpan())
			if tup, ok := a.Index.(*TupleExpr); ok {
				for _, el := range tup.Elems {
					tt.Elems = append(tt.Elems, s.resolveAnnotation(el))
				}
			} else {
				tt.Elems = append(tt.Elems, s.resolveAnnotation(a.Index))
			}
			return tt
		}
	}
	return nil
}

// assignable reports whether a value of type `from` may bind to `to`.
// Unknown types are permissive; builtin primitives are strict.
func assignable(from, to ExprNode) bool {
	if from == nil || to == nil {
		return true
	}
	switch t := to.(type) {
	case *BuiltinType:
		f, ok := from.(*BuiltinType)
		return ok && f.ID == t.ID
	case *ClassType:
		f, ok := from.(*ClassType)
		return ok && f.Def.IsSubclassOf(t.Def)
	case *ArrayType:
		f, ok := from.(*ArrayType)
		if !ok {
			return false
		}
		return assignable(f.Elem, t.Elem)
	case *SetType:
		f, ok := from.(*SetType)
		return ok && assignable(f.Elem, t.Elem)
	case *DictType:
		f, ok := from.(*DictType)
		return ok && assignable(f.Key, t.Key) && assignable(f.Val, t.Val)
	case *TupleType:
		f, ok := from.(*TupleType)
		if !ok || len(f.Elems) != len(t.Elems) {
			return false
		}
		for i := range t.Elems {
			if !assignable(f.Elems[i], t.Elems[i]) {
				return false
			}
		}
		return true
	case *Arrow:
		_, ok := from.(*Arrow)
		return ok
	}
	return true
}

// typeString renders a type expression for error messages.
func typeString(e ExprNode) string {
	switch t := e.(type) {
	case nil:
		return "?"
	case *BuiltinType:
		return t.Name.String()
	case *ClassType:
		return t.Def.Name.String()
	case *ArrayType:
		return "list[" + typeString(t.Elem) + "]"
	case *SetType:
		return "set[" + typeString(t.Elem) + "]"
	case *DictType:
		return "dict[" + typeString(t.Key) + ", " + typeString(t.Val) + "]"
	case *TupleType:
		parts := make([]string, len(t.Elems))
		for i, el := range t.Elems {
			parts[i] = typeString(el)
		}
		return "tuple[" + strings.Join(parts, ", ") + "]"
	case *Arrow:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = typeString(a)
		}
		return "(" + strings.Join(parts, ", ") + ") -> " + typeString(t.Returns)
	}
	return "?"
}

// signature renders a function header for call mismatch reports.
func signature(fn *FunctionDef) string {
	var b strings.Builder
	b.WriteString(fn.Name.String())
	b.WriteByte('(')
	for i, prm := range fn.Args.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prm.Name.String())
		if prm.Annotation != nil {
			b.WriteString(": ")
			b.WriteString(typeString(s2Annotation(prm.Annotation)))
		}
	}
	b.WriteByte(')')
	if fn.Returns != nil {
		b.WriteString(" -> ")
		b.WriteString(typeString(s2Annotation(fn.Returns)))
	}
	return b.String()
}

// s2Annotation prefers the canonical type when the raw annotation has been
// resolved in place.
func s2Annotation(e ExprNode) ExprNode {
	if e == nil {
		return nil
	}
	if t := e.ResolvedType(); t != nil {
		return t
	}
	return e
}

// --- operator resolution ---------------------------------------------------

func builtinID(t ExprNode) (TypeID, bool) {
	switch x := t.(type) {
	case *BuiltinType:
		return x.ID, true
	case *ArrayType:
		return TArray, true
	case *DictType:
		return TDict, true
	case *SetType:
		return TSet, true
	case *TupleType:
		return TTuple, true
	}
	return TInvalid, false
}

// genericEquality covers ==/!=/is/is not across any constant pair when no
// typed intrinsic applies.
func genericEquality(op string) BinaryIntrinsic {
	switch op {
	case "==", "is":
		return func(a, b Value) Value { return BoolVal(ValuesEqual(a, b)) }
	case "!=", "is not":
		return func(a, b Value) Value { return BoolVal(!ValuesEqual(a, b)) }
	}
	return nil
}

// resolveBinaryOp fills native/resolved slots for a binary-shaped node.
func (s *Sema) resolveBinaryOp(op string, lt, rt ExprNode, sp Span) (BinaryIntrinsic, *FunctionDef, ExprNode) {
	if lt == nil || rt == nil {
		return nil, nil, nil
	}
	li, lok := builtinID(lt)
	ri, rok := builtinID(rt)
	if lok && rok {
		if e, ok := lookupBinIntrinsic(op, li, ri); ok {
			return e.Fn, nil, typeNode(e.Result)
		}
		if fn := genericEquality(op); fn != nil {
			return fn, nil, typeNode(TBool)
		}
		s.diags.Report(DiagUnsupportedOperand, sp,
			"unsupported operand types for %s: %s and %s", op, typeString(lt), typeString(rt))
		return nil, nil, nil
	}

	cfg, _ := lookupOp(op)
	if ct, ok := lt.(*ClassType); ok && cfg.Dunder != "" {
		if m := ct.Def.Method(Intern(cfg.Dunder)); m != nil {
			return nil, m, s.resolveAnnotation(m.Returns)
		}
	}
	if ct, ok := rt.(*ClassType); ok && cfg.RDunder != "" {
		if m := ct.Def.Method(Intern(cfg.RDunder)); m != nil {
			return nil, m, s.resolveAnnotation(m.Returns)
		}
	}
	if fn := genericEquality(op); fn != nil {
		return fn, nil, typeNode(TBool)
	}
	s.diags.Report(DiagUnsupportedOperand, sp,
		"unsupported operand types for %s: %s and %s", op, typeString(lt), typeString(rt))
	return nil, nil, nil
}

// --- expression visitor ----------------------------------------------------

func (s *Sema) Constant(n *Constant, depth int) ExprNode {
	return typeNode(tagTypeID(n.Value.Tag))
}

func (s *Sema) NameExpr(n *Name, depth int) ExprNode {
	id := s.bindings.Lookup(n.ID)
	if id < 0 {
		s.diags.Report(DiagNameError, n.GetSpan(), "%s is not defined", n.ID)
		return nil
	}
	n.VarID = id
	switch v := s.bindings.GetValue(id).(type) {
	case *ClassDef:
		return s.classType(v)
	case *BuiltinType:
		return v
	}
	return s.bindings.GetType(id)
}

func (s *Sema) BinOpExpr(n *BinOp, depth int) ExprNode {
	lt := s.typeOf(n.Left, depth)
	rt := s.typeOf(n.Right, depth)
	native, resolved, result := s.resolveBinaryOp(n.Op.String(), lt, rt, n.GetSpan())
	n.Native = native
	n.ResolvedOp = resolved
	return result
}

func (s *Sema) BoolOpExpr(n *BoolOp, depth int) ExprNode {
	allBool := true
	for _, v := range n.Values {
		t := s.typeOf(v, depth)
		if id, ok := builtinID(t); !ok || id != TBool {
			allBool = false
		}
	}
	if allBool {
		op := "and"
		if n.Op == BoolOr {
			op = "or"
		}
		if e, ok := lookupBinIntrinsic(op, TBool, TBool); ok {
			n.Native = e.Fn
		}
	}
	return typeNode(TBool)
}

func (s *Sema) UnaryOpExpr(n *UnaryOp, depth int) ExprNode {
	ot := s.typeOf(n.Operand, depth)
	if ot == nil {
		return nil
	}
	op := n.Op.String()
	if id, ok := builtinID(ot); ok {
		if e, ok := lookupUnIntrinsic(op, id); ok {
			n.Native = e.Fn
			return typeNode(e.Result)
		}
		s.diags.Report(DiagUnsupportedOperand, n.GetSpan(),
			"unsupported operand type for unary %s: %s", op, typeString(ot))
		return nil
	}
	if ct, ok := ot.(*ClassType); ok {
		if dunder := unaryDunders[op]; dunder != "" {
			if m := ct.Def.Method(Intern(dunder)); m != nil {
				n.ResolvedOp = m
				return s.resolveAnnotation(m.Returns)
			}
		}
		if op == "not" {
			n.Native = func(a Value) Value { return BoolVal(!a.Truthy()) }
			return typeNode(TBool)
		}
		s.diags.Report(DiagUnsupportedOperand, n.GetSpan(),
			"unsupported operand type for unary %s: %s", op, typeString(ot))
	}
	return nil
}

func (s *Sema) CompareExpr(n *Compare, depth int) ExprNode {
	lt := s.typeOf(n.Left, depth)
	n.Natives = make([]BinaryIntrinsic, len(n.Comparators))
	n.ResolvedOps = make([]*FunctionDef, len(n.Comparators))
	for i, c := range n.Comparators {
		rt := s.typeOf(c, depth)
		native, resolved, _ := s.resolveBinaryOp(n.Ops[i].String(), lt, rt, n.GetSpan())
		n.Natives[i] = native
		n.ResolvedOps[i] = resolved
		lt = rt
	}
	return typeNode(TBool)
}

func (s *Sema) CallExpr(n *Call, depth int) ExprNode {
	calleeType := s.typeOf(n.Func, depth)

	argTypes := make([]ExprNode, len(n.Args))
	for i, a := range n.Args {
		argTypes[i] = s.typeOf(a, depth)
	}
	for _, kw := range n.Keywords {
		s.typeOf(kw.Value, depth)
	}

	// direct callee forms resolve against the definition
	if nm, ok := n.Func.(*Name); ok && nm.VarID >= 0 {
		switch def := s.bindings.GetValue(nm.VarID).(type) {
		case *FunctionDef:
			s.checkCall(def, n, argTypes)
			return s.resolveAnnotation(def.Returns)
		case *ClassDef:
			s.checkConstructor(def, n, argTypes)
			return s.classType(def)
		case *BuiltinType:
			return nil // native callables are dynamically typed
		}
	}

	if arrow, ok := calleeType.(*Arrow); ok {
		if len(arrow.Args) != len(n.Args)+len(n.Keywords) && len(n.Keywords) == 0 {
			s.diags.Report(DiagTypeError, n.GetSpan(),
				"call expects %d arguments, got %d", len(arrow.Args), len(n.Args))
		}
		for i := 0; i < len(argTypes) && i < len(arrow.Args); i++ {
			if !assignable(argTypes[i], arrow.Args[i]) {
				s.diags.Report(DiagTypeError, n.Args[i].GetSpan(),
					"argument %d has type %s, expected %s", i+1, typeString(argTypes[i]), typeString(arrow.Args[i]))
			}
		}
		return arrow.Returns
	}
	return nil
}

// checkCall validates arity and annotated parameter types against a user
// function; mismatches report both signatures.
func (s *Sema) checkCall(fn *FunctionDef, n *Call, argTypes []ExprNode) {
	params := fn.Args.Args
	// methods called through an attribute consume self positionally
	required := 0
	for _, prm := range params {
		if prm.Default == nil {
			required++
		}
	}
	if fn.Args.VarArg == nil && (len(n.Args) > len(params) || len(n.Args)+len(n.Keywords) < required) {
		s.diags.Report(DiagTypeError, n.GetSpan(),
			"call to %s with %d arguments does not match %s", fn.Name, len(n.Args), signature(fn))
		return
	}
	for i := 0; i < len(argTypes) && i < len(params); i++ {
		want := s.resolveAnnotation(params[i].Annotation)
		if !assignable(argTypes[i], want) {
			s.diags.Report(DiagTypeError, n.Args[i].GetSpan(),
				"argument '%s' has type %s, expected %s in %s",
				params[i].Name, typeString(argTypes[i]), typeString(want), signature(fn))
		}
	}
}

func (s *Sema) checkConstructor(cls *ClassDef, n *Call, argTypes []ExprNode) {
	if init := cls.Method(Intern("__init__")); init != nil {
		params := init.Args.Args
		// skip self
		if len(params) > 0 {
			params = params[1:]
		}
		required := 0
		for _, prm := range params {
			if prm.Default == nil {
				required++
			}
		}
		if len(n.Args) > len(params) || len(n.Args)+len(n.Keywords) < required {
			s.diags.Report(DiagTypeError, n.GetSpan(),
				"constructor of %s called with %d arguments, expected %d", cls.Name, len(n.Args), len(params))
			return
		}
		for i := 0; i < len(argTypes) && i < len(params); i++ {
			want := s.resolveAnnotation(params[i].Annotation)
			if !assignable(argTypes[i], want) {
				s.diags.Report(DiagTypeError, n.Args[i].GetSpan(),
					"argument '%s' has type %s, expected %s in %s.__init__",
					params[i].Name, typeString(argTypes[i]), typeString(want), cls.Name)
			}
		}
		return
	}
	// default constructor: one positional per attribute slot
	if len(n.Args) > cls.AttrTotal() {
		s.diags.Report(DiagTypeError, n.GetSpan(),
			"constructor of %s called with %d arguments, expected at most %d", cls.Name, len(n.Args), cls.AttrTotal())
	}
	for i := 0; i < len(argTypes) && i < cls.AttrTotal(); i++ {
		attr := attrByOffset(cls, i)
		if attr == nil {
			continue
		}
		want := s.resolveAnnotation(attr.Type)
		if !assignable(argTypes[i], want) {
			s.diags.Report(DiagTypeError, n.Args[i].GetSpan(),
				"attribute '%s' of %s has type %s, got %s",
				attr.Name, cls.Name, typeString(want), typeString(argTypes[i]))
		}
	}
}

func (s *Sema) AttributeExpr(n *Attribute, depth int) ExprNode {
	vt := s.typeOf(n.Value, depth)
	ct, ok := vt.(*ClassType)
	if !ok {
		return nil // dynamic attribute on non-class values
	}
	if i, ok := ct.Def.AttrOffset(n.Attr); ok {
		attr := attrByOffset(ct.Def, i)
		if attr != nil {
			return s.resolveAnnotation(attr.Type)
		}
		return nil
	}
	if m := ct.Def.Method(n.Attr); m != nil {
		return s.methodArrow(m)
	}
	s.diags.Report(DiagAttributeError, n.GetSpan(),
		"%s has no attribute '%s'", ct.Def.Name, n.Attr)
	return nil
}

// attrByOffset resolves the entry for a layout slot: bases first, then the
// class's own attributes.
func attrByOffset(cls *ClassDef, offset int) *AttrEntry {
	baseSize := 0
	for _, b := range cls.BaseDefs {
		if offset-baseSize < b.AttrTotal() {
			return attrByOffset(b, offset-baseSize)
		}
		baseSize += b.AttrTotal()
	}
	own := offset - baseSize
	if own >= 0 && own < len(cls.Attrs) {
		return &cls.Attrs[own]
	}
	return nil
}

func (s *Sema) methodArrow(m *FunctionDef) *Arrow {
	arrow := newNode(s.mod.Arena, &Arrow{}, KArrow, m.GetSpan())
	params := m.Args.Args
	if len(params) > 0 {
		params = params[1:] // bound method: self is applied
	}
	for _, prm := range params {
		arrow.Args = append(arrow.Args, s.resolveAnnotation(prm.Annotation))
	}
	arrow.Returns = s.resolveAnnotation(m.Returns)
	return arrow
}

func (s *Sema) SubscriptExpr(n *Subscript, depth int) ExprNode {
	vt := s.typeOf(n.Value, depth)
	s.typeOf(n.Index, depth)
	switch t := vt.(type) {
	case *ArrayType:
		return t.Elem
	case *DictType:
		return t.Val
	case *TupleType:
		if c, ok := n.Index.(*Constant); ok && isIntTag(c.Value.Tag) {
			if i := int(c.Value.I); i >= 0 && i < len(t.Elems) {
				return t.Elems[i]
			}
		}
	case *BuiltinType:
		if t.ID == TStr {
			return typeNode(TStr)
		}
	}
	return nil
}

func (s *Sema) SliceExpr(n *Slice, depth int) ExprNode {
	s.typeOf(n.Lower, depth)
	s.typeOf(n.Upper, depth)
	s.typeOf(n.Step, depth)
	return nil
}

func (s *Sema) LambdaExpr(n *Lambda, depth int) ExprNode {
	s.enterScope()
	for i := range n.Args.Args {
		prm := &n.Args.Args[i]
		prm.VarID = s.bindings.Add(prm.Name, nil, s.resolveAnnotation(prm.Annotation))
	}
	bodyType := s.typeOf(n.Body, depth)
	s.leaveScope()

	arrow := newNode(s.mod.Arena, &Arrow{}, KArrow, n.GetSpan())
	for _, prm := range n.Args.Args {
		arrow.Args = append(arrow.Args, s.resolveAnnotation(prm.Annotation))
	}
	arrow.Returns = bodyType
	return arrow
}

func (s *Sema) IfExpExpr(n *IfExp, depth int) ExprNode {
	s.typeOf(n.Test, depth)
	bt := s.typeOf(n.Body, depth)
	ot := s.typeOf(n.Orelse, depth)
	if assignable(bt, ot) && assignable(ot, bt) {
		return bt
	}
	return nil
}

func (s *Sema) ListExprExpr(n *ListExpr, depth int) ExprNode {
	var elem ExprNode
	for i, el := range n.Elems {
		t := s.typeOf(el, depth)
		if i == 0 {
			elem = t
		} else if !assignable(t, elem) || !assignable(elem, t) {
			elem = nil
		}
	}
	at := newNode(s.mod.Arena, &ArrayType{}, KArrayType, n.GetSpan())
	at.Elem = elem
	return at
}

func (s *Sema) TupleExprExpr(n *TupleExpr, depth int) ExprNode {
	tt := newNode(s.mod.Arena, &TupleType{}, KTupleType, n.GetSpan())
	for _, el := range n.Elems {
		tt.Elems = append(tt.Elems, s.typeOf(el, depth))
	}
	return tt
}

func (s *Sema) SetExprExpr(n *SetExpr, depth int) ExprNode {
	var elem ExprNode
	for i, el := range n.Elems {
		t := s.typeOf(el, depth)
		if i == 0 {
			elem = t
		} else if !assignable(t, elem) || !assignable(elem, t) {
			elem = nil
		}
	}
	st := newNode(s.mod.Arena, &SetType{}, KSetType, n.GetSpan())
	st.Elem = elem
	return st
}

func (s *Sema) DictExprExpr(n *DictExpr, depth int) ExprNode {
	dt := newNode(s.mod.Arena, &DictType{}, KDictType, n.GetSpan())
	for i := range n.Keys {
		kt := s.typeOf(n.Keys[i], depth)
		vt := s.typeOf(n.Values[i], depth)
		if i == 0 {
			dt.Key, dt.Val = kt, vt
		}
	}
	return dt
}

func (s *Sema) comprehensionScope(gens []Comprehension, depth int, inner func()) {
	s.enterScope()
	for _, g := range gens {
		it := s.typeOf(g.Iter, depth)
		var elem ExprNode
		if at, ok := it.(*ArrayType); ok {
			elem = at.Elem
		}
		s.bindTargetType(g.Target, elem, depth)
		for _, cond := range g.Ifs {
			s.typeOf(cond, depth)
		}
	}
	inner()
	s.leaveScope()
}

func (s *Sema) ListCompExpr(n *ListComp, depth int) ExprNode {
	at := newNode(s.mod.Arena, &ArrayType{}, KArrayType, n.GetSpan())
	s.comprehensionScope(n.Generators, depth, func() {
		at.Elem = s.typeOf(n.Elt, depth)
	})
	return at
}

func (s *Sema) SetCompExpr(n *SetComp, depth int) ExprNode {
	st := newNode(s.mod.Arena, &SetType{}, KSetType, n.GetSpan())
	s.comprehensionScope(n.Generators, depth, func() {
		st.Elem = s.typeOf(n.Elt, depth)
	})
	return st
}

func (s *Sema) DictCompExpr(n *DictComp, depth int) ExprNode {
	dt := newNode(s.mod.Arena, &DictType{}, KDictType, n.GetSpan())
	s.comprehensionScope(n.Generators, depth, func() {
		dt.Key = s.typeOf(n.Key, depth)
		dt.Val = s.typeOf(n.Value, depth)
	})
	return dt
}

func (s *Sema) GeneratorExpExpr(n *GeneratorExp, depth int) ExprNode {
	s.comprehensionScope(n.Generators, depth, func() {
		s.typeOf(n.Elt, depth)
	})
	return nil
}

func (s *Sema) NamedExprExpr(n *NamedExpr, depth int) ExprNode {
	vt := s.typeOf(n.Value, depth)
	s.bindTargetType(n.Target, vt, depth)
	return vt
}

func (s *Sema) StarredExpr(n *Starred, depth int) ExprNode {
	s.typeOf(n.Value, depth)
	return nil
}

func (s *Sema) AwaitExpr(n *Await, depth int) ExprNode {
	return s.typeOf(n.Value, depth)
}

func (s *Sema) YieldExpr(n *Yield, depth int) ExprNode {
	if fn := s.curFn(); fn != nil {
		fn.Generator = true
	}
	s.typeOf(n.Value, depth)
	return nil
}

func (s *Sema) YieldFromExpr(n *YieldFrom, depth int) ExprNode {
	if fn := s.curFn(); fn != nil {
		fn.Generator = true
	}
	s.typeOf(n.Value, depth)
	return nil
}

func (s *Sema) JoinedStrExpr(n *JoinedStr, depth int) ExprNode {
	for _, v := range n.Values {
		s.typeOf(v, depth)
	}
	return typeNode(TStr)
}

func (s *Sema) FormattedValueExpr(n *FormattedValue, depth int) ExprNode {
	s.typeOf(n.Value, depth)
	return typeNode(TStr)
}

// type expressions type themselves
func (s *Sema) ArrowExpr(n *Arrow, depth int) ExprNode          { return n }
func (s *Sema) DictTypeExpr(n *DictType, depth int) ExprNode    { return n }
func (s *Sema) ArrayTypeExpr(n *ArrayType, depth int) ExprNode  { return n }
func (s *Sema) SetTypeExpr(n *SetType, depth int) ExprNode      { return n }
func (s *Sema) TupleTypeExpr(n *TupleType, depth int) ExprNode  { return n }
func (s *Sema) BuiltinTypeExpr(n *BuiltinType, depth int) ExprNode { return n }
func (s *Sema) ClassTypeExpr(n *ClassType, depth int) ExprNode  { return n }

// --- statement visitor -----------------------------------------------------

func (s *Sema) FunctionDefStmt(n *FunctionDef, depth int) ExprNode {
	for _, d := range n.Decorators {
		s.typeOf(d, depth)
	}

	// resolve the signature in the enclosing scope
	paramTypes := make([]ExprNode, len(n.Args.Args))
	for i := range n.Args.Args {
		prm := &n.Args.Args[i]
		paramTypes[i] = s.resolveAnnotation(prm.Annotation)
		if paramTypes[i] != nil && prm.Annotation != nil {
			prm.Annotation.SetResolvedType(paramTypes[i])
		}
		if prm.Default != nil {
			dt := s.typeOf(prm.Default, depth)
			if !assignable(dt, paramTypes[i]) {
				s.diags.Report(DiagTypeError, prm.Default.GetSpan(),
					"default for '%s' has type %s, expected %s", prm.Name, typeString(dt), typeString(paramTypes[i]))
			}
		}
	}
	// the receiver of a method is the class being defined
	if len(s.classStack) > 0 && len(n.Args.Args) > 0 && paramTypes[0] == nil {
		paramTypes[0] = s.classType(s.classStack[len(s.classStack)-1])
	}
	returns := s.resolveAnnotation(n.Returns)
	if returns != nil && n.Returns != nil {
		n.Returns.SetResolvedType(returns)
	}

	arrow := newNode(s.mod.Arena, &Arrow{}, KArrow, n.GetSpan())
	arrow.Args = paramTypes
	arrow.Returns = returns
	n.VarID = s.bind(n.Name, n, arrow)
	n.Enclosing = s.curFn()

	n.ScopeBase = s.bindings.Len()
	s.enterScope()
	s.fnStack = append(s.fnStack, n)
	for i := range n.Args.Args {
		prm := &n.Args.Args[i]
		prm.VarID = s.bindings.Add(prm.Name, nil, paramTypes[i])
	}
	for _, prm := range []*Param{n.Args.VarArg, n.Args.KwArg} {
		if prm != nil {
			prm.VarID = s.bindings.Add(prm.Name, nil, nil)
		}
	}
	for i := range n.Args.KwOnly {
		prm := &n.Args.KwOnly[i]
		prm.VarID = s.bindings.Add(prm.Name, nil, s.resolveAnnotation(prm.Annotation))
	}
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	s.fnStack = s.fnStack[:len(s.fnStack)-1]
	s.leaveScope()
	return nil
}

func (s *Sema) ClassDefStmt(n *ClassDef, depth int) ExprNode {
	for _, d := range n.Decorators {
		s.typeOf(d, depth)
	}
	n.VarID = s.bind(n.Name, n, s.classType(n))

	n.BaseDefs = n.BaseDefs[:0]
	for _, b := range n.Bases {
		bt := s.typeOf(b, depth)
		if ct, ok := bt.(*ClassType); ok {
			n.BaseDefs = append(n.BaseDefs, ct.Def)
		} else {
			s.diags.Report(DiagTypeError, b.GetSpan(), "base of %s is not a class", n.Name)
		}
	}

	for i := range n.Attrs {
		n.Attrs[i].Type = s.resolveAnnotationKeep(n.Attrs[i].Type)
		if n.Attrs[i].Default != nil {
			dt := s.typeOf(n.Attrs[i].Default, depth)
			if !assignable(dt, s.resolveAnnotation(n.Attrs[i].Type)) {
				s.diags.Report(DiagTypeError, n.Attrs[i].Default.GetSpan(),
					"default for attribute '%s' has type %s, expected %s",
					n.Attrs[i].Name, typeString(dt), typeString(s.resolveAnnotation(n.Attrs[i].Type)))
			}
		}
	}

	s.enterScope()
	s.classStack = append(s.classStack, n)
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	s.classStack = s.classStack[:len(s.classStack)-1]
	s.leaveScope()
	return nil
}

// resolveAnnotationKeep resolves but falls back to the original expression.
func (s *Sema) resolveAnnotationKeep(e ExprNode) ExprNode {
	if t := s.resolveAnnotation(e); t != nil {
		return t
	}
	return e
}

func (s *Sema) AssignStmt(n *Assign, depth int) ExprNode {
	vt := s.typeOf(n.Value, depth)
	for _, t := range n.Targets {
		s.bindTargetType(t, vt, depth)
	}
	return nil
}

// bindTargetType introduces bindings for a store target and records types.
func (s *Sema) bindTargetType(target ExprNode, vt ExprNode, depth int) {
	switch t := target.(type) {
	case *Name:
		t.VarID = s.bind(t.ID, nil, vt)
		if vt != nil {
			t.SetResolvedType(vt)
		}
	case *TupleExpr:
		tt, _ := vt.(*TupleType)
		for i, el := range t.Elems {
			var et ExprNode
			if tt != nil && i < len(tt.Elems) {
				et = tt.Elems[i]
			}
			s.bindTargetType(el, et, depth)
		}
	case *ListExpr:
		for _, el := range t.Elems {
			s.bindTargetType(el, nil, depth)
		}
	case *Starred:
		s.bindTargetType(t.Value, nil, depth)
	case *Attribute:
		avt := s.typeOf(t.Value, depth)
		if ct, ok := avt.(*ClassType); ok {
			if _, ok := ct.Def.AttrOffset(t.Attr); !ok {
				// attribute creation through self is allowed inside the class
				if len(s.classStack) == 0 || s.classStack[len(s.classStack)-1] != ct.Def {
					s.diags.Report(DiagAttributeError, t.GetSpan(),
						"%s has no attribute '%s'", ct.Def.Name, t.Attr)
				} else {
					ct.Def.Insert(t.Attr, vt, nil)
				}
			} else if i, ok := ct.Def.AttrOffset(t.Attr); ok {
				if a := attrByOffset(ct.Def, i); a != nil {
					want := s.resolveAnnotation(a.Type)
					if !assignable(vt, want) {
						s.diags.Report(DiagTypeError, t.GetSpan(),
							"cannot assign %s to attribute '%s' of type %s",
							typeString(vt), t.Attr, typeString(want))
					}
				}
			}
		}
	case *Subscript:
		s.typeOf(t.Value, depth)
		s.typeOf(t.Index, depth)
	}
}

func (s *Sema) AugAssignStmt(n *AugAssign, depth int) ExprNode {
	// the target is read and written
	lt := s.typeOf(n.Target, depth)
	rt := s.typeOf(n.Value, depth)

	op := n.Op.String()
	cfg, _ := lookupOp(op)
	if ct, ok := lt.(*ClassType); ok && cfg.IDunder != "" {
		if m := ct.Def.Method(Intern(cfg.IDunder)); m != nil {
			n.ResolvedOp = m
			return nil
		}
	}
	native, resolved, result := s.resolveBinaryOp(op, lt, rt, n.GetSpan())
	n.Native = native
	n.ResolvedOp = resolved
	if nm, ok := n.Target.(*Name); ok && result != nil {
		s.bindings.SetType(nm.VarID, result)
	}
	return nil
}

func (s *Sema) AnnAssignStmt(n *AnnAssign, depth int) ExprNode {
	ann := s.resolveAnnotation(n.Annotation)
	if ann != nil {
		n.Annotation.SetResolvedType(ann)
	}
	if n.Value != nil {
		vt := s.typeOf(n.Value, depth)
		if !assignable(vt, ann) {
			s.diags.Report(DiagTypeError, n.GetSpan(),
				"cannot assign expression of type %s to annotation %s", typeString(vt), typeString(ann))
		}
	}
	s.bindTargetType(n.Target, ann, depth)
	return nil
}

func (s *Sema) ReturnStmt(n *Return, depth int) ExprNode {
	vt := s.typeOf(n.Value, depth)
	if fn := s.curFn(); fn != nil && fn.Returns != nil && n.Value != nil {
		want := s.resolveAnnotation(fn.Returns)
		if !assignable(vt, want) {
			s.diags.Report(DiagTypeError, n.GetSpan(),
				"return value has type %s, expected %s in %s", typeString(vt), typeString(want), signature(fn))
		}
	}
	return vt
}

func (s *Sema) DeleteStmt(n *Delete, depth int) ExprNode {
	for _, t := range n.Targets {
		s.typeOf(t, depth)
	}
	return nil
}

func (s *Sema) ForStmt(n *For, depth int) ExprNode {
	it := s.typeOf(n.Iter, depth)
	var elem ExprNode
	switch t := it.(type) {
	case *ArrayType:
		elem = t.Elem
	case *SetType:
		elem = t.Elem
	case *BuiltinType:
		if t.ID == TStr {
			elem = typeNode(TStr)
		}
	}
	s.bindTargetType(n.Target, elem, depth)
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	for _, st := range n.Orelse {
		s.stmt(st, depth)
	}
	return nil
}

func (s *Sema) WhileStmt(n *While, depth int) ExprNode {
	s.typeOf(n.Test, depth)
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	for _, st := range n.Orelse {
		s.stmt(st, depth)
	}
	return nil
}

func (s *Sema) IfStmt(n *If, depth int) ExprNode {
	for i := range n.Tests {
		s.typeOf(n.Tests[i], depth)
		for _, st := range n.Bodies[i] {
			s.stmt(st, depth)
		}
	}
	for _, st := range n.Orelse {
		s.stmt(st, depth)
	}
	return nil
}

func (s *Sema) WithStmt(n *With, depth int) ExprNode {
	for _, item := range n.Items {
		s.typeOf(item.ContextExpr, depth)
		if item.OptionalVars != nil {
			s.bindTargetType(item.OptionalVars, nil, depth)
		}
	}
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	return nil
}

func (s *Sema) RaiseStmt(n *Raise, depth int) ExprNode {
	s.typeOf(n.Exc, depth)
	s.typeOf(n.Cause, depth)
	return nil
}

func (s *Sema) TryStmt(n *Try, depth int) ExprNode {
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	for hi := range n.Handlers {
		h := &n.Handlers[hi]
		var ht ExprNode
		if h.Type != nil {
			ht = s.typeOf(h.Type, depth)
		}
		s.enterScope()
		if h.Name != 0 {
			s.bindings.Add(h.Name, nil, ht)
		}
		for _, st := range h.Body {
			s.stmt(st, depth)
		}
		s.leaveScope()
	}
	for _, st := range n.Orelse {
		s.stmt(st, depth)
	}
	for _, st := range n.Finalbody {
		s.stmt(st, depth)
	}
	return nil
}

func (s *Sema) AssertStmt(n *Assert, depth int) ExprNode {
	s.typeOf(n.Test, depth)
	s.typeOf(n.Msg, depth)
	return nil
}

func (s *Sema) ImportStmt(n *Import, depth int) ExprNode {
	for _, a := range n.Names {
		path := a.Name.String()
		mod := NativeModuleNamed(path)
		if mod == nil {
			s.diags.Report(DiagModuleNotFoundError, n.GetSpan(), "no module named '%s'", path)
			continue
		}
		bound := a.AsName
		if bound == 0 {
			top := path
			if i := strings.IndexByte(top, '.'); i >= 0 {
				top = top[:i]
			}
			bound = Intern(top)
		}
		s.bind(bound, moduleConstant(mod), nil)
	}
	return nil
}

func (s *Sema) ImportFromStmt(n *ImportFrom, depth int) ExprNode {
	path := n.Module.String()
	mod := NativeModuleNamed(path)
	if mod == nil {
		s.diags.Report(DiagModuleNotFoundError, n.GetSpan(), "no module named '%s'", path)
		return nil
	}
	for _, a := range n.Names {
		name := a.Name.String()
		if name == "*" {
			for sym, v := range mod.Symbols {
				s.bind(Intern(sym), valueConstant(v), nil)
			}
			continue
		}
		v, ok := mod.Symbols[name]
		if !ok {
			s.diags.Report(DiagImportError, n.GetSpan(), "cannot import name '%s' from '%s'", name, path)
			continue
		}
		bound := a.AsName
		if bound == 0 {
			bound = a.Name
		}
		s.bind(bound, valueConstant(v), nil)
	}
	return nil
}

// moduleConstant materializes a native module as a dict constant.
func moduleConstant(mod *NativeModule) *Constant {
	d := &DictObject{}
	names := make([]string, 0, len(mod.Symbols))
	for n := range mod.Symbols {
		names = append(names, n)
	}
	// deterministic module contents
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	for _, n := range names {
		d.Set(StrVal(n), mod.Symbols[n])
	}
	return valueConstant(DictVal(d))
}

func valueConstant(v Value) *Constant {
	c := newNode(globalArena, &Constant{}, KConstant, Span{})
	c.Value = v
	return c
}

func (s *Sema) GlobalStmt(n *Global, depth int) ExprNode {
	if len(s.globals) == 0 {
		s.diags.Report(DiagSyntaxError, n.GetSpan(), "global declaration outside a function")
		return nil
	}
	for _, name := range n.Names {
		s.globals[len(s.globals)-1][name] = true
	}
	return nil
}

func (s *Sema) NonlocalStmt(n *Nonlocal, depth int) ExprNode {
	if len(s.scopeMarks) < 2 {
		s.diags.Report(DiagSyntaxError, n.GetSpan(), "nonlocal declaration outside a nested function")
		return nil
	}
	for _, name := range n.Names {
		id := s.bindings.LookupBelow(name, s.scopeMark())
		if id < s.moduleEnd() {
			s.diags.Report(DiagNameError, n.GetSpan(), "no binding for nonlocal '%s' found", name)
		}
	}
	return nil
}

func (s *Sema) ExprStmtStmt(n *ExprStmt, depth int) ExprNode {
	return s.typeOf(n.Value, depth)
}

func (s *Sema) PassStmt(n *Pass, depth int) ExprNode         { return nil }
func (s *Sema) BreakStmt(n *Break, depth int) ExprNode       { return nil }
func (s *Sema) ContinueStmt(n *Continue, depth int) ExprNode { return nil }

func (s *Sema) MatchStmt(n *Match, depth int) ExprNode {
	s.typeOf(n.Subject, depth)
	for ci := range n.Cases {
		c := &n.Cases[ci]
		s.enterScope()
		s.bindPattern(c.Pattern, depth)
		s.typeOf(c.Guard, depth)
		for _, st := range c.Body {
			s.stmt(st, depth)
		}
		s.leaveScope()
	}
	return nil
}

// bindPattern introduces every name a pattern captures.
func (s *Sema) bindPattern(p PatternNode, depth int) {
	switch pt := p.(type) {
	case *MatchValue:
		s.typeOf(pt.Value, depth)
	case *MatchSingleton:
	case *MatchSequence:
		for _, sub := range pt.Patterns {
			s.bindPattern(sub, depth)
		}
	case *MatchMapping:
		for _, k := range pt.Keys {
			s.typeOf(k, depth)
		}
		for _, sub := range pt.Patterns {
			s.bindPattern(sub, depth)
		}
		if pt.Rest != 0 {
			s.bind(pt.Rest, nil, nil)
		}
	case *MatchClass:
		s.typeOf(pt.Cls, depth)
		for _, sub := range pt.Patterns {
			s.bindPattern(sub, depth)
		}
		for _, sub := range pt.KwdPats {
			s.bindPattern(sub, depth)
		}
	case *MatchStar:
		if pt.Name != 0 {
			s.bind(pt.Name, nil, nil)
		}
	case *MatchAs:
		if pt.Pattern != nil {
			s.bindPattern(pt.Pattern, depth)
		}
		if pt.Name != 0 {
			s.bind(pt.Name, nil, nil)
		}
	case *MatchOr:
		// alternatives must bind the same names
		var first map[StringRef]bool
		for i, sub := range pt.Patterns {
			names := patternNames(sub)
			if i == 0 {
				first = names
			} else if !sameNameSet(first, names) {
				s.diags.Report(DiagSyntaxError, pt.GetSpan(),
					"alternative patterns bind different names")
			}
			s.bindPattern(sub, depth)
		}
	}
}

func patternNames(p PatternNode) map[StringRef]bool {
	out := map[StringRef]bool{}
	var walk func(PatternNode)
	walk = func(p PatternNode) {
		switch pt := p.(type) {
		case *MatchSequence:
			for _, sub := range pt.Patterns {
				walk(sub)
			}
		case *MatchMapping:
			for _, sub := range pt.Patterns {
				walk(sub)
			}
			if pt.Rest != 0 {
				out[pt.Rest] = true
			}
		case *MatchClass:
			for _, sub := range pt.Patterns {
				walk(sub)
			}
			for _, sub := range pt.KwdPats {
				walk(sub)
			}
		case *MatchStar:
			if pt.Name != 0 {
				out[pt.Name] = true
			}
		case *MatchAs:
			if pt.Pattern != nil {
				walk(pt.Pattern)
			}
			if pt.Name != 0 {
				out[pt.Name] = true
			}
		case *MatchOr:
			for _, sub := range pt.Patterns {
				walk(sub)
			}
		}
	}
	walk(p)
	return out
}

func sameNameSet(a, b map[StringRef]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (s *Sema) InlineStmt(n *Inline, depth int) ExprNode {
	for _, st := range n.Body {
		s.stmt(st, depth)
	}
	return nil
}
