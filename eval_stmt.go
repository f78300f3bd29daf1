// eval_stmt.go — statement execution: control flow, exception machinery,
// context managers and match.
//
// The frame status registers live on the evaluator: `return` sets the return
// register and short-circuits the rest of the function body; `break` and
// `continue` set loop registers observed and cleared by the enclosing loop;
// `raise` pushes onto the exception stack, which every caller checks after
// each exec.
package lython

import "strings"

func (ev *TreeEvaluator) FunctionDefStmt(n *FunctionDef, depth int) PartialResult {
	var value PartialResult = n
	if len(ev.frames) > 0 {
		// nested definitions close over the enclosing frame
		cl := &Closure{Fn: n, Captured: ev.captureFrame()}
		value = ev.constant(ClosureVal(cl), n.GetSpan())
	}
	value = ev.applyDecorators(n.Decorators, value, depth)
	ev.storeVar(n.VarID, n.Name, value)
	return ev.None()
}

func (ev *TreeEvaluator) ClassDefStmt(n *ClassDef, depth int) PartialResult {
	ev.storeVar(n.VarID, n.Name, ev.applyDecorators(n.Decorators, n, depth))
	return ev.None()
}

// applyDecorators wraps a definition innermost-first, the way decorators
// stack: the decorator nearest the definition is applied first.
func (ev *TreeEvaluator) applyDecorators(decorators []ExprNode, value PartialResult, depth int) PartialResult {
	for i := len(decorators) - 1; i >= 0; i-- {
		dec := ev.execExpr(decorators[i], depth)
		if ev.HasExceptions() {
			return value
		}
		value = ev.applyCallable(dec, []PartialResult{value}, depth)
		if ev.HasExceptions() {
			return value
		}
	}
	return value
}

// applyCallable invokes an already-evaluated callee outside a Call node.
func (ev *TreeEvaluator) applyCallable(callee PartialResult, args []PartialResult, depth int) PartialResult {
	switch fn := callee.(type) {
	case *FunctionDef:
		return ev.callFunction(fn, args, nil, depth)
	case *boundMethod:
		return ev.callFunction(fn.fn, append([]PartialResult{fn.recv}, args...), nil, depth)
	case *ClassDef:
		return ev.instantiate(fn, args, nil, depth)
	case *BuiltinType:
		if fn.Native != nil {
			values := make([]Value, 0, len(args))
			for _, a := range args {
				if c := asConst(a); c != nil {
					values = append(values, c.Value)
				}
			}
			out := fn.Native.Call(values)
			if out.Tag == VError {
				ev.raise("RuntimeError", "%s", out.Ref.(string))
				return ev.None()
			}
			return ev.constant(out, fn.GetSpan())
		}
	case *Constant:
		if fn.Value.Tag == VClosure {
			return ev.callClosure(fn.Value.Ref.(*Closure), args, nil, nil, depth)
		}
	}
	ev.raise("TypeError", "decorator is not callable")
	return ev.None()
}

// storeVar writes a value at a Sema-assigned varid, rebased onto the current
// frame.
func (ev *TreeEvaluator) storeVar(varid int, name StringRef, value PartialResult) {
	nm := &Name{ID: name, Ctx: CtxStore, VarID: varid}
	nm.kind = KName
	ev.bindStore(nm, value)
}

func (ev *TreeEvaluator) AssignStmt(n *Assign, depth int) PartialResult {
	value := ev.execExpr(n.Value, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	for _, target := range n.Targets {
		ev.assignTo(target, value, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
	}
	return ev.None()
}

// assignTo stores a partial result through any target shape.
func (ev *TreeEvaluator) assignTo(target ExprNode, value PartialResult, depth int) {
	switch t := target.(type) {
	case *Name:
		ev.bindStore(t, value)

	case *TupleExpr, *ListExpr:
		var elems []ExprNode
		if tp, ok := t.(*TupleExpr); ok {
			elems = tp.Elems
		} else {
			elems = t.(*ListExpr).Elems
		}
		c := asConst(value)
		if c == nil {
			ev.raise("TypeError", "cannot unpack a non-constant value")
			return
		}
		values, ok := ev.iterate(c.Value)
		if !ok {
			return
		}
		star := -1
		for i, el := range elems {
			if _, isStar := el.(*Starred); isStar {
				star = i
				break
			}
		}
		if star < 0 {
			if len(values) != len(elems) {
				ev.raise("ValueError", "expected %d values to unpack, got %d", len(elems), len(values))
				return
			}
			for i, el := range elems {
				ev.assignTo(el, ev.constant(values[i], el.GetSpan()), depth)
			}
			return
		}
		before, after := elems[:star], elems[star+1:]
		if len(values) < len(before)+len(after) {
			ev.raise("ValueError", "not enough values to unpack")
			return
		}
		for i, el := range before {
			ev.assignTo(el, ev.constant(values[i], el.GetSpan()), depth)
		}
		mid := values[len(before) : len(values)-len(after)]
		ev.assignTo(elems[star].(*Starred).Value, ev.constant(ArrayVal(append([]Value(nil), mid...)), t.GetSpan()), depth)
		for i, el := range after {
			ev.assignTo(el, ev.constant(values[len(values)-len(after)+i], el.GetSpan()), depth)
		}

	case *Attribute:
		obj := asConst(ev.execExpr(t.Value, depth))
		if ev.HasExceptions() {
			return
		}
		c := asConst(value)
		if obj == nil || c == nil {
			return
		}
		if obj.Value.Tag != VObject {
			ev.raise("AttributeError", "%s has no attribute '%s'", obj.Value.Tag, t.Attr)
			return
		}
		inst := obj.Value.Ref.(*Instance)
		off, ok := inst.Class.AttrOffset(t.Attr)
		if !ok {
			ev.raise("AttributeError", "%s has no attribute '%s'", inst.Class.Name, t.Attr)
			return
		}
		for off >= len(inst.Attrs) {
			inst.Attrs = append(inst.Attrs, NoneVal())
		}
		inst.Attrs[off] = c.Value

	case *Subscript:
		obj := asConst(ev.execExpr(t.Value, depth))
		if ev.HasExceptions() {
			return
		}
		idx := asConst(ev.execExpr(t.Index, depth))
		if ev.HasExceptions() {
			return
		}
		c := asConst(value)
		if obj == nil || idx == nil || c == nil {
			return
		}
		switch obj.Value.Tag {
		case VArray:
			arr := obj.Value.Ref.(*ArrayObject)
			i := int(As[int64](idx.Value))
			if i < 0 {
				i += len(arr.Elems)
			}
			if i < 0 || i >= len(arr.Elems) {
				ev.raise("IndexError", "index %d out of range", i)
				return
			}
			arr.Elems[i] = c.Value
		case VDict:
			obj.Value.Ref.(*DictObject).Set(idx.Value, c.Value)
		default:
			ev.raise("TypeError", "%s does not support item assignment", obj.Value.Tag)
		}

	case *Starred:
		ev.assignTo(t.Value, value, depth)

	default:
		raiseInternal(target.GetSpan(), "invalid assignment target kind %d", target.Kind())
	}
}

func (ev *TreeEvaluator) AugAssignStmt(n *AugAssign, depth int) PartialResult {
	left := ev.execExpr(n.Target, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	right := ev.execExpr(n.Value, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	lc, rc := asConst(left), asConst(right)
	if lc == nil || rc == nil {
		out := newNode(ev.root, &AugAssign{}, KAugAssign, n.GetSpan())
		out.Target = n.Target
		out.Op = n.Op
		out.Value = ev.residualExpr(right)
		return out
	}

	var result PartialResult
	switch {
	case n.ResolvedOp != nil:
		result = ev.callFunction(n.ResolvedOp, []PartialResult{lc, rc}, nil, depth)
	case n.Native != nil:
		out, ok := ev.applyNative(n.Native, lc.Value, rc.Value)
		if !ok {
			return ev.None()
		}
		result = ev.constant(out, n.GetSpan())
	default:
		if e, ok := lookupBinIntrinsic(n.Op.String(), tagTypeID(lc.Value.Tag), tagTypeID(rc.Value.Tag)); ok {
			out, okk := ev.applyNative(e.Fn, lc.Value, rc.Value)
			if !okk {
				return ev.None()
			}
			result = ev.constant(out, n.GetSpan())
		} else {
			ev.raise("TypeError", "unsupported operand types for %s=: %s and %s", n.Op, lc.Value.Tag, rc.Value.Tag)
			return ev.None()
		}
	}
	if ev.HasExceptions() {
		return ev.None()
	}
	ev.assignTo(n.Target, result, depth)
	return ev.None()
}

func (ev *TreeEvaluator) AnnAssignStmt(n *AnnAssign, depth int) PartialResult {
	var value PartialResult = ev.None()
	if n.Value != nil {
		value = ev.execExpr(n.Value, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
	}
	ev.assignTo(n.Target, value, depth)
	return ev.None()
}

func (ev *TreeEvaluator) ReturnStmt(n *Return, depth int) PartialResult {
	if n.Value != nil {
		ev.returnValue = ev.execExpr(n.Value, depth)
	} else {
		ev.returnValue = ev.None()
	}
	return ev.returnValue
}

func (ev *TreeEvaluator) DeleteStmt(n *Delete, depth int) PartialResult {
	for _, target := range n.Targets {
		switch t := target.(type) {
		case *Name:
			ev.bindStore(t, nil)
		case *Subscript:
			obj := asConst(ev.execExpr(t.Value, depth))
			idx := asConst(ev.execExpr(t.Index, depth))
			if ev.HasExceptions() || obj == nil || idx == nil {
				return ev.None()
			}
			switch obj.Value.Tag {
			case VDict:
				d := obj.Value.Ref.(*DictObject)
				for i := range d.Keys {
					if ValuesEqual(d.Keys[i], idx.Value) {
						d.Keys = append(d.Keys[:i], d.Keys[i+1:]...)
						d.Vals = append(d.Vals[:i], d.Vals[i+1:]...)
						break
					}
				}
			case VArray:
				arr := obj.Value.Ref.(*ArrayObject)
				i := int(As[int64](idx.Value))
				if i < 0 {
					i += len(arr.Elems)
				}
				if i >= 0 && i < len(arr.Elems) {
					arr.Elems = append(arr.Elems[:i], arr.Elems[i+1:]...)
				}
			}
		}
	}
	return ev.None()
}

func (ev *TreeEvaluator) ForStmt(n *For, depth int) PartialResult {
	iter := ev.execExpr(n.Iter, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	ic := asConst(iter)
	if ic == nil {
		return n
	}
	values, ok := ev.iterate(ic.Value)
	if !ok {
		return ev.None()
	}

	broke := false
	for _, v := range values {
		ev.assignTo(n.Target, ev.constant(v, n.Target.GetSpan()), depth)
		if ev.HasExceptions() {
			return ev.None()
		}
		ev.execLoopBody(n.Body, depth)
		if ev.HasExceptions() || ev.returnValue != nil {
			return ev.None()
		}
		if ev.loopBreak {
			broke = true
		}
		ev.loopBreak = false
		ev.loopContinue = false
		if broke {
			break
		}
	}
	if !broke {
		for _, st := range n.Orelse {
			ev.execStmt(st, depth)
			if ev.HasExceptions() || ev.returnValue != nil {
				return ev.None()
			}
		}
	}
	return ev.None()
}

func (ev *TreeEvaluator) execLoopBody(body []StmtNode, depth int) {
	for _, st := range body {
		ev.execStmt(st, depth)
		if ev.HasExceptions() || ev.returnValue != nil {
			return
		}
		if ev.loopBreak || ev.loopContinue {
			return
		}
	}
}

func (ev *TreeEvaluator) WhileStmt(n *While, depth int) PartialResult {
	broke := false
	for {
		test := asConst(ev.execExpr(n.Test, depth))
		if ev.HasExceptions() {
			return ev.None()
		}
		if test == nil {
			return n
		}
		if !test.Value.Truthy() || broke {
			break
		}
		ev.execLoopBody(n.Body, depth)
		if ev.HasExceptions() || ev.returnValue != nil {
			return ev.None()
		}
		if ev.loopBreak {
			broke = true
		}
		ev.loopBreak = false
		ev.loopContinue = false
	}
	if !broke {
		for _, st := range n.Orelse {
			ev.execStmt(st, depth)
			if ev.HasExceptions() || ev.returnValue != nil {
				return ev.None()
			}
		}
	}
	return ev.None()
}

func (ev *TreeEvaluator) IfStmt(n *If, depth int) PartialResult {
	body := n.Orelse
	for i, test := range n.Tests {
		tc := asConst(ev.execExpr(test, depth))
		if ev.HasExceptions() {
			return ev.None()
		}
		if tc == nil {
			return n
		}
		if tc.Value.Truthy() {
			body = n.Bodies[i]
			break
		}
	}
	for _, st := range body {
		ev.execStmt(st, depth)
		if ev.HasExceptions() || ev.returnValue != nil || ev.loopBreak || ev.loopContinue {
			return ev.None()
		}
	}
	return ev.None()
}

func (ev *TreeEvaluator) WithStmt(n *With, depth int) PartialResult {
	type entered struct {
		inst *Instance
	}
	var stack []entered

	for _, item := range n.Items {
		ctx := asConst(ev.execExpr(item.ContextExpr, depth))
		if ev.HasExceptions() {
			return ev.None()
		}
		if ctx == nil || ctx.Value.Tag != VObject {
			ev.raise("TypeError", "context manager must be an object with __enter__")
			return ev.None()
		}
		inst := ctx.Value.Ref.(*Instance)
		enter := inst.Class.Method(Intern("__enter__"))
		if enter == nil {
			ev.raise("AttributeError", "%s has no __enter__", inst.Class.Name)
			return ev.None()
		}
		result := ev.callFunction(enter, []PartialResult{ctx}, nil, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
		if item.OptionalVars != nil {
			ev.assignTo(item.OptionalVars, result, depth)
		}
		stack = append(stack, entered{inst: inst})
	}

	for _, st := range n.Body {
		ev.execStmt(st, depth)
		if ev.HasExceptions() || ev.returnValue != nil {
			break
		}
	}

	// __exit__ runs for every item regardless; it receives the in-flight
	// exception triple and may suppress by returning truthy.
	h := ev.beginHandling()
	suppressed := false
	for i := len(stack) - 1; i >= 0; i-- {
		inst := stack[i].inst
		exit := inst.Class.Method(Intern("__exit__"))
		if exit == nil {
			continue
		}
		self := ev.constant(ObjectVal(inst), n.GetSpan())
		excType := ev.None()
		excValue := ev.None()
		excTrace := ev.None()
		if len(ev.exceptions) > 0 && ev.handling > 0 {
			exc := ev.exceptions[len(ev.exceptions)-1]
			excType = ev.constant(StrVal(exc.Class.Name.String()), n.GetSpan())
			excValue = ev.constant(ObjectVal(exc.Inst), n.GetSpan())
		}
		r := ev.callFunction(exit, []PartialResult{self, excType, excValue, excTrace}, nil, depth)
		if ev.HasExceptions() {
			h.end()
			return ev.None()
		}
		if rc := asConst(r); rc != nil && rc.Value.Truthy() {
			suppressed = true
		}
	}
	h.end()
	if suppressed && len(ev.exceptions) > 0 {
		ev.exceptions = ev.exceptions[:len(ev.exceptions)-1]
		ev.cause = nil
	}
	return ev.None()
}

func (ev *TreeEvaluator) RaiseStmt(n *Raise, depth int) PartialResult {
	if n.Exc == nil {
		// bare raise: keep the current exception in flight
		if len(ev.exceptions) == 0 {
			ev.raise("RuntimeError", "no active exception to re-raise")
		} else {
			ev.handling = 0
		}
		return ev.None()
	}

	if n.Cause != nil {
		cv := asConst(ev.execExpr(n.Cause, depth))
		if ev.HasExceptions() {
			return ev.None()
		}
		if cv != nil && cv.Value.Tag == VObject {
			inst := cv.Value.Ref.(*Instance)
			ev.cause = &ExceptionValue{Class: inst.Class, Inst: inst}
		}
	}

	exc := ev.execExpr(n.Exc, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	switch e := exc.(type) {
	case *Constant:
		if e.Value.Tag == VObject {
			inst := e.Value.Ref.(*Instance)
			ev.raiseException(&ExceptionValue{Class: inst.Class, Inst: inst})
			return ev.None()
		}
	case *ClassDef:
		inst := ev.newInstance(e)
		ev.raiseException(&ExceptionValue{Class: e, Inst: inst})
		return ev.None()
	}
	ev.raise("TypeError", "exceptions must be class instances")
	return ev.None()
}

func (ev *TreeEvaluator) TryStmt(n *Try, depth int) PartialResult {
	received := false
	for _, st := range n.Body {
		ev.execStmt(st, depth)
		if ev.HasExceptions() {
			received = true
			break
		}
		if ev.returnValue != nil || ev.loopBreak || ev.loopContinue {
			break
		}
	}

	if received {
		h := ev.beginHandling()
		latest := ev.exceptions[len(ev.exceptions)-1]

		var matched *ExceptHandler
		for hi := range n.Handlers {
			handler := &n.Handlers[hi]
			if handler.Type == nil {
				matched = handler
				break
			}
			if ev.handlerMatches(handler.Type, latest, depth) {
				matched = handler
				break
			}
		}

		if matched != nil {
			scope := OpenScope(ev.bindings)
			if matched.Name != 0 {
				ev.bindings.Add(matched.Name, ev.constant(ObjectVal(latest.Inst), matched.Span), nil)
			}
			handled := true
			for _, st := range matched.Body {
				ev.execStmt(st, depth)
				if ev.HasExceptions() {
					handled = false
					break
				}
				if ev.returnValue != nil || ev.loopBreak || ev.loopContinue {
					break
				}
			}
			scope.Close()
			if handled {
				ev.exceptions = ev.exceptions[:len(ev.exceptions)-1]
				ev.cause = nil
			}
		}
		h.end()
	} else if ev.returnValue == nil && !ev.loopBreak && !ev.loopContinue {
		for _, st := range n.Orelse {
			ev.execStmt(st, depth)
			if ev.HasExceptions() {
				break
			}
		}
	}

	// finally runs regardless, seeing the in-flight exception but demoting
	// nothing: new raises inside it propagate on their own.
	if len(n.Finalbody) > 0 {
		h := ev.beginHandling()
		for _, st := range n.Finalbody {
			ev.execStmt(st, depth)
			if ev.HasExceptions() {
				h.end()
				return ev.None()
			}
		}
		h.end()
	}
	return ev.None()
}

// handlerMatches applies is-a semantics: the raised class or any of its
// bases may name the handler's class.
func (ev *TreeEvaluator) handlerMatches(typeExpr ExprNode, exc *ExceptionValue, depth int) bool {
	t := ev.execExpr(typeExpr, depth)
	if ev.HasExceptions() {
		return false
	}
	switch h := t.(type) {
	case *ClassDef:
		return exc.Class != nil && exc.Class.IsSubclassOf(h)
	case *TupleExpr:
		for _, el := range h.Elems {
			if ev.handlerMatches(el, exc, depth) {
				return true
			}
		}
	}
	return false
}

func (ev *TreeEvaluator) AssertStmt(n *Assert, depth int) PartialResult {
	test := ev.execExpr(n.Test, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	c := asConst(test)
	if c == nil {
		out := newNode(ev.root, &Assert{}, KAssert, n.GetSpan())
		out.Test = ev.residualExpr(test)
		out.Msg = n.Msg
		return out
	}
	if !c.Value.Truthy() {
		msg := "assertion failed"
		if n.Msg != nil {
			if mc := asConst(ev.execExpr(n.Msg, depth)); mc != nil {
				msg = mc.Value.String()
			}
		}
		ev.raise("AssertionError", "%s", msg)
	}
	return ev.None()
}

func (ev *TreeEvaluator) ImportStmt(n *Import, depth int) PartialResult {
	for _, a := range n.Names {
		path := a.Name.String()
		mod := NativeModuleNamed(path)
		if mod == nil {
			ev.raise("RuntimeError", "no module named '%s'", path)
			return ev.None()
		}
		bound := a.AsName
		if bound == 0 {
			top := path
			if i := strings.IndexByte(top, '.'); i >= 0 {
				top = top[:i]
			}
			bound = Intern(top)
		}
		ev.storeByName(bound, moduleConstant(mod))
	}
	return ev.None()
}

func (ev *TreeEvaluator) ImportFromStmt(n *ImportFrom, depth int) PartialResult {
	path := n.Module.String()
	mod := NativeModuleNamed(path)
	if mod == nil {
		ev.raise("RuntimeError", "no module named '%s'", path)
		return ev.None()
	}
	for _, a := range n.Names {
		name := a.Name.String()
		if name == "*" {
			for sym, v := range mod.Symbols {
				ev.storeByName(Intern(sym), valueConstant(v))
			}
			continue
		}
		v, ok := mod.Symbols[name]
		if !ok {
			ev.raise("RuntimeError", "cannot import name '%s' from '%s'", name, path)
			return ev.None()
		}
		bound := a.AsName
		if bound == 0 {
			bound = a.Name
		}
		ev.storeByName(bound, valueConstant(v))
	}
	return ev.None()
}

func (ev *TreeEvaluator) storeByName(name StringRef, value PartialResult) {
	if id := ev.bindings.Lookup(name); id >= 0 {
		ev.bindings.SetValue(id, value)
		return
	}
	ev.bindings.Add(name, value, nil)
}

func (ev *TreeEvaluator) GlobalStmt(n *Global, depth int) PartialResult     { return ev.None() }
func (ev *TreeEvaluator) NonlocalStmt(n *Nonlocal, depth int) PartialResult { return ev.None() }

func (ev *TreeEvaluator) ExprStmtStmt(n *ExprStmt, depth int) PartialResult {
	return ev.execExpr(n.Value, depth)
}

func (ev *TreeEvaluator) PassStmt(n *Pass, depth int) PartialResult {
	// pass survives as itself in residual positions
	return n
}

func (ev *TreeEvaluator) BreakStmt(n *Break, depth int) PartialResult {
	ev.loopBreak = true
	return n
}

func (ev *TreeEvaluator) ContinueStmt(n *Continue, depth int) PartialResult {
	ev.loopContinue = true
	return n
}

func (ev *TreeEvaluator) InlineStmt(n *Inline, depth int) PartialResult {
	for _, st := range n.Body {
		ev.execStmt(st, depth)
		if ev.HasExceptions() || ev.returnValue != nil || ev.loopBreak || ev.loopContinue {
			break
		}
	}
	return ev.None()
}

// --- match -----------------------------------------------------------------

func (ev *TreeEvaluator) MatchStmt(n *Match, depth int) PartialResult {
	subject := asConst(ev.execExpr(n.Subject, depth))
	if ev.HasExceptions() {
		return ev.None()
	}
	if subject == nil {
		return n
	}

	for ci := range n.Cases {
		c := &n.Cases[ci]
		scope := OpenScope(ev.bindings)
		ok := ev.matchPattern(c.Pattern, subject.Value, depth)
		if ev.HasExceptions() {
			scope.Close()
			return ev.None()
		}
		if ok && c.Guard != nil {
			gc := asConst(ev.execExpr(c.Guard, depth))
			if ev.HasExceptions() {
				scope.Close()
				return ev.None()
			}
			ok = gc != nil && gc.Value.Truthy()
		}
		if !ok {
			scope.Close()
			continue
		}
		for _, st := range c.Body {
			ev.execStmt(st, depth)
			if ev.HasExceptions() || ev.returnValue != nil || ev.loopBreak || ev.loopContinue {
				break
			}
		}
		scope.Close()
		return ev.None()
	}
	return ev.None()
}

// matchPattern attempts a pattern; on success the introduced names are bound
// in the current (case) scope.
func (ev *TreeEvaluator) matchPattern(p PatternNode, v Value, depth int) bool {
	switch pt := p.(type) {
	case *MatchValue:
		c := asConst(ev.execExpr(pt.Value, depth))
		return c != nil && ValuesEqual(c.Value, v)

	case *MatchSingleton:
		return v.Tag == pt.Value.Tag && v.I == pt.Value.I

	case *MatchSequence:
		var elems []Value
		switch v.Tag {
		case VArray:
			elems = v.Ref.(*ArrayObject).Elems
		case VTuple:
			elems = v.Ref.(*TupleObject).Elems
		default:
			return false
		}
		star := -1
		for i, sub := range pt.Patterns {
			if _, isStar := sub.(*MatchStar); isStar {
				star = i
				break
			}
		}
		if star < 0 {
			if len(elems) != len(pt.Patterns) {
				return false
			}
			for i, sub := range pt.Patterns {
				if !ev.matchPattern(sub, elems[i], depth) {
					return false
				}
			}
			return true
		}
		fixed := len(pt.Patterns) - 1
		if len(elems) < fixed {
			return false
		}
		for i := 0; i < star; i++ {
			if !ev.matchPattern(pt.Patterns[i], elems[i], depth) {
				return false
			}
		}
		tail := pt.Patterns[star+1:]
		for i, sub := range tail {
			if !ev.matchPattern(sub, elems[len(elems)-len(tail)+i], depth) {
				return false
			}
		}
		if st := pt.Patterns[star].(*MatchStar); st.Name != 0 {
			mid := elems[star : len(elems)-len(tail)]
			ev.bindings.Add(st.Name, ev.constant(ArrayVal(append([]Value(nil), mid...)), pt.GetSpan()), nil)
		}
		return true

	case *MatchMapping:
		if v.Tag != VDict {
			return false
		}
		d := v.Ref.(*DictObject)
		seen := map[int]bool{}
		for i, kexpr := range pt.Keys {
			kc := asConst(ev.execExpr(kexpr, depth))
			if kc == nil {
				return false
			}
			found := false
			for ki := range d.Keys {
				if ValuesEqual(d.Keys[ki], kc.Value) {
					if !ev.matchPattern(pt.Patterns[i], d.Vals[ki], depth) {
						return false
					}
					seen[ki] = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if pt.Rest != 0 {
			rest := &DictObject{}
			for ki := range d.Keys {
				if !seen[ki] {
					rest.Set(d.Keys[ki], d.Vals[ki])
				}
			}
			ev.bindings.Add(pt.Rest, ev.constant(DictVal(rest), pt.GetSpan()), nil)
		}
		return true

	case *MatchClass:
		if v.Tag != VObject {
			return false
		}
		inst := v.Ref.(*Instance)
		cls := ev.execExpr(pt.Cls, depth)
		def, ok := cls.(*ClassDef)
		if !ok {
			return false
		}
		if !inst.Class.IsSubclassOf(def) {
			return false
		}
		for i, sub := range pt.Patterns {
			if i >= len(inst.Attrs) {
				return false
			}
			if !ev.matchPattern(sub, inst.Attrs[i], depth) {
				return false
			}
		}
		for i, name := range pt.KwdNames {
			off, ok := inst.Class.AttrOffset(name)
			if !ok || off >= len(inst.Attrs) {
				return false
			}
			if !ev.matchPattern(pt.KwdPats[i], inst.Attrs[off], depth) {
				return false
			}
		}
		return true

	case *MatchStar:
		if pt.Name != 0 {
			ev.bindings.Add(pt.Name, ev.constant(v, pt.GetSpan()), nil)
		}
		return true

	case *MatchAs:
		if pt.Pattern != nil && !ev.matchPattern(pt.Pattern, v, depth) {
			return false
		}
		if pt.Name != 0 {
			ev.bindings.Add(pt.Name, ev.constant(v, pt.GetSpan()), nil)
		}
		return true

	case *MatchOr:
		for _, sub := range pt.Patterns {
			if ev.matchPattern(sub, v, depth) {
				return true
			}
		}
		return false
	}
	return false
}
