// eval.go — partial-evaluating tree interpreter: expressions and calls.
//
// exec returns a PartialResult: a fully-reduced *Constant, a residual
// expression with as much as possible folded, or None. Running a fully
// resolved program therefore reduces everything to constants; running with
// unbound names folds what it can and rebuilds the rest, which is what makes
// the same code path usable for compile-time folding.
//
// Residual nodes are allocated from (and deep-copied into) the evaluator's
// own arena so they outlive the input module.
//
// Language-level failures push onto an exception stack that callers observe
// after every exec; internal invariant violations are fatal panics carrying
// the collected stack trace.
package lython

import (
	"fmt"
	"io"
	"math"
)

// PartialResult is the evaluator's result: a reduced constant or a residual
// AST node.
type PartialResult = Node

// StackTrace records the statement and expression the evaluator is visiting.
type StackTrace struct {
	Stmt StmtNode
	Expr ExprNode
}

// ExceptionValue is one in-flight language exception.
type ExceptionValue struct {
	Class *ClassDef
	Inst  *Instance
	Cause *ExceptionValue
	Trace []StackTrace
}

func (e *ExceptionValue) Message() string {
	if e.Inst != nil && len(e.Inst.Attrs) > 0 && e.Inst.Attrs[0].Tag == VStr {
		return e.Inst.Attrs[0].Ref.(string)
	}
	return ""
}

func (e *ExceptionValue) String() string {
	name := "Exception"
	if e.Class != nil {
		name = e.Class.Name.String()
	}
	if msg := e.Message(); msg != "" {
		return name + ": " + msg
	}
	return name
}

type frame struct {
	fn   *FunctionDef
	base int
}

// TreeEvaluator walks the annotated AST with the Bindings produced by Sema.
type TreeEvaluator struct {
	bindings *Bindings
	root     *Arena
	mod      *Module
	diags    *Diagnostics

	returnValue  PartialResult
	loopBreak    bool
	loopContinue bool

	exceptions []*ExceptionValue
	cause      *ExceptionValue
	handling   int

	frames []frame
	traces []StackTrace

	// Interrupt, when set, is checked at the top of every exec; returning
	// true stops evaluation between statements.
	Interrupt func() bool
	stopped   bool

	// Trace, when set, receives one line per executed statement.
	Trace io.Writer
}

// NewTreeEvaluator creates an evaluator over the given bindings.
func NewTreeEvaluator(mod *Module, b *Bindings) *TreeEvaluator {
	RegisterGlobals()
	ev := &TreeEvaluator{
		bindings: b,
		root:     &Arena{},
		mod:      mod,
		diags:    &Diagnostics{Path: mod.Path},
	}
	ev.traces = append(ev.traces, StackTrace{})
	return ev
}

// Diags exposes runtime diagnostics (uncaught exceptions).
func (ev *TreeEvaluator) Diags() *Diagnostics { return ev.diags }

// HasExceptions reports whether new exceptions are in flight beyond the ones
// currently being handled.
func (ev *TreeEvaluator) HasExceptions() bool {
	return len(ev.exceptions) > ev.handling
}

// handleException marks the current exceptions as being cleaned up, so that
// finally/__exit__ bodies run while the exception stays pending; new raises
// inside cleanup still propagate.
type handleException struct {
	ev    *TreeEvaluator
	saved int
}

func (ev *TreeEvaluator) beginHandling() handleException {
	h := handleException{ev: ev, saved: ev.handling}
	ev.handling = len(ev.exceptions)
	return h
}

func (h handleException) end() { h.ev.handling = h.saved }

// RunModule evaluates the module top level; if a main() was defined it is
// invoked afterwards. The result is the reduction of the last statement.
func (ev *TreeEvaluator) RunModule() PartialResult {
	var last PartialResult = ev.None()
	for _, st := range ev.mod.Body {
		last = ev.execStmt(st, 0)
		if ev.HasExceptions() || ev.stopped {
			break
		}
	}
	if !ev.HasExceptions() && !ev.stopped {
		if id := ev.bindings.Lookup(Intern("main")); id >= 0 {
			if fn, ok := ev.bindings.GetValue(id).(*FunctionDef); ok {
				last = ev.callFunction(fn, nil, nil, 0)
			}
		}
	}
	if ev.HasExceptions() {
		exc := ev.exceptions[len(ev.exceptions)-1]
		kind := DiagRuntimeError
		if exc.Class != nil && exc.Class == ExceptionClass("AssertionError") {
			kind = DiagAssertionError
		}
		sp := Span{Line: 1, Col: 0}
		if t := ev.traces[len(ev.traces)-1]; t.Stmt != nil {
			sp = t.Stmt.GetSpan()
		}
		ev.diags.Report(kind, sp, "uncaught exception: %s", exc)
	}
	return last
}

// --- dispatch plumbing -----------------------------------------------------

func (ev *TreeEvaluator) execStmt(st StmtNode, depth int) PartialResult {
	if ev.Interrupt != nil && ev.Interrupt() {
		ev.stopped = true
		return ev.None()
	}
	ev.traces[len(ev.traces)-1].Stmt = st
	if ev.Trace != nil {
		sp := st.GetSpan()
		line := PrintStmt(st)
		if i := indexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		fmt.Fprintf(ev.Trace, "[trace] %s:%d:%d %s\n", ev.mod.Path, sp.Line, sp.Col, line)
	}
	return VisitStmt[PartialResult](ev, st, depth)
}

func (ev *TreeEvaluator) execExpr(e ExprNode, depth int) PartialResult {
	if e == nil {
		return ev.None()
	}
	ev.traces[len(ev.traces)-1].Expr = e
	return VisitExpr[PartialResult](ev, e, depth)
}

// --- constants and residuals ----------------------------------------------

func (ev *TreeEvaluator) constant(v Value, sp Span) *Constant {
	c := newNode(ev.root, &Constant{}, KConstant, sp)
	c.Value = v
	return c
}

func (ev *TreeEvaluator) None() *Constant  { return ev.constant(NoneVal(), Span{}) }
func (ev *TreeEvaluator) True() *Constant  { return ev.constant(BoolVal(true), Span{}) }
func (ev *TreeEvaluator) False() *Constant { return ev.constant(BoolVal(false), Span{}) }

func asConst(n PartialResult) *Constant {
	if c, ok := n.(*Constant); ok {
		return c
	}
	return nil
}

// residualExpr adopts a partially-evaluated operand into the evaluator arena.
func (ev *TreeEvaluator) residualExpr(n PartialResult) ExprNode {
	if e, ok := n.(ExprNode); ok {
		ev.root.Adopt(e)
		return e
	}
	return ev.None()
}

// --- exceptions ------------------------------------------------------------

// raise pushes a language exception built from a class and message.
func (ev *TreeEvaluator) raise(className, format string, args ...any) {
	cls := ExceptionClass(className)
	inst := ev.newInstance(cls)
	if len(inst.Attrs) > 0 {
		inst.Attrs[0] = StrVal(fmt.Sprintf(format, args...))
	}
	ev.raiseException(&ExceptionValue{Class: cls, Inst: inst})
}

func (ev *TreeEvaluator) raiseException(exc *ExceptionValue) {
	exc.Trace = append([]StackTrace(nil), ev.traces...)
	exc.Cause = ev.cause
	ev.exceptions = append(ev.exceptions, exc)
}

func (ev *TreeEvaluator) newInstance(cls *ClassDef) *Instance {
	attrs := make([]Value, cls.AttrTotal())
	for i := range attrs {
		attrs[i] = NoneVal()
	}
	return &Instance{Class: cls, Attrs: attrs}
}

// applyNative runs an intrinsic, converting host-level arithmetic panics
// into language exceptions.
func (ev *TreeEvaluator) applyNative(fn BinaryIntrinsic, a, b Value) (out Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, isDiv := r.(*zeroDivision); isDiv {
				ev.raise("ZeroDivisionError", "division by zero")
				ok = false
				return
			}
			panic(r)
		}
	}()
	return fn(a, b), true
}

// --- name resolution -------------------------------------------------------

// slotFor rebases a Sema varid onto the current frame stack. The name check
// guards against frame misalignment; on mismatch the live prefix is searched
// by name.
func (ev *TreeEvaluator) slotFor(varid int, name StringRef) int {
	slot := varid
	for i := len(ev.frames) - 1; i >= 0; i-- {
		f := ev.frames[i]
		if varid >= f.fn.ScopeBase {
			slot = f.base + (varid - f.fn.ScopeBase)
			break
		}
	}
	if slot >= 0 && slot < ev.bindings.Len() && ev.bindings.GetName(slot) == name {
		return slot
	}
	if id := ev.bindings.Lookup(name); id >= 0 {
		return id
	}
	return -1
}

// bindStore writes a value for a store-context Name.
func (ev *TreeEvaluator) bindStore(n *Name, value PartialResult) {
	slot := -1
	if n.VarID >= 0 {
		slot = n.VarID
		for i := len(ev.frames) - 1; i >= 0; i-- {
			f := ev.frames[i]
			if n.VarID >= f.fn.ScopeBase {
				slot = f.base + (n.VarID - f.fn.ScopeBase)
				break
			}
		}
	}
	if slot >= 0 && slot < ev.bindings.Len() && ev.bindings.GetName(slot) == n.ID {
		ev.bindings.SetValue(slot, value)
		return
	}
	if id := ev.bindings.Lookup(n.ID); id >= 0 && id >= ev.currentBase() {
		ev.bindings.SetValue(id, value)
		return
	}
	ev.bindings.Add(n.ID, value, n.ResolvedType())
}

func (ev *TreeEvaluator) currentBase() int {
	if len(ev.frames) > 0 {
		return ev.frames[len(ev.frames)-1].base
	}
	return 0
}

// --- expression visitor ----------------------------------------------------

func (ev *TreeEvaluator) Constant(n *Constant, depth int) PartialResult { return n }

func (ev *TreeEvaluator) NameExpr(n *Name, depth int) PartialResult {
	slot := ev.slotFor(n.VarID, n.ID)
	if slot < 0 {
		// unresolved names stay residual; Sema already reported them
		return n
	}
	v := ev.bindings.GetValue(slot)
	if v == nil {
		return n
	}
	return v
}

func (ev *TreeEvaluator) BinOpExpr(n *BinOp, depth int) PartialResult {
	lhs := ev.execExpr(n.Left, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	rhs := ev.execExpr(n.Right, depth)
	if ev.HasExceptions() {
		return ev.None()
	}

	lc, rc := asConst(lhs), asConst(rhs)
	if lc != nil && rc != nil {
		if n.ResolvedOp != nil {
			return ev.callFunction(n.ResolvedOp, []PartialResult{lc, rc}, nil, depth)
		}
		if n.Native != nil {
			out, ok := ev.applyNative(n.Native, lc.Value, rc.Value)
			if !ok {
				return ev.None()
			}
			return ev.constant(out, n.GetSpan())
		}
		// operands resolved late (dynamic values); retry the table
		if e, ok := lookupBinIntrinsic(n.Op.String(), tagTypeID(lc.Value.Tag), tagTypeID(rc.Value.Tag)); ok {
			out, okk := ev.applyNative(e.Fn, lc.Value, rc.Value)
			if !okk {
				return ev.None()
			}
			return ev.constant(out, n.GetSpan())
		}
		if ok := ev.dynamicDunder(n, lc, rc, depth); ok != nil {
			return ok
		}
		ev.raise("TypeError", "unsupported operand types for %s: %s and %s",
			n.Op, lc.Value.Tag, rc.Value.Tag)
		return ev.None()
	}

	out := newNode(ev.root, &BinOp{}, KBinOp, n.GetSpan())
	out.Op = n.Op
	out.Left = ev.residualExpr(lhs)
	out.Right = ev.residualExpr(rhs)
	out.ResolvedOp = n.ResolvedOp
	out.Native = n.Native
	return out
}

// dynamicDunder resolves an operator against a runtime instance when Sema
// had no type to work with.
func (ev *TreeEvaluator) dynamicDunder(n *BinOp, lc, rc *Constant, depth int) PartialResult {
	cfg, ok := lookupOp(n.Op.String())
	if !ok {
		return nil
	}
	if lc.Value.Tag == VObject && cfg.Dunder != "" {
		inst := lc.Value.Ref.(*Instance)
		if m := inst.Class.Method(Intern(cfg.Dunder)); m != nil {
			return ev.callFunction(m, []PartialResult{lc, rc}, nil, depth)
		}
	}
	if rc.Value.Tag == VObject && cfg.RDunder != "" {
		inst := rc.Value.Ref.(*Instance)
		if m := inst.Class.Method(Intern(cfg.RDunder)); m != nil {
			return ev.callFunction(m, []PartialResult{rc, lc}, nil, depth)
		}
	}
	return nil
}

func (ev *TreeEvaluator) BoolOpExpr(n *BoolOp, depth int) PartialResult {
	partials := make([]PartialResult, 0, len(n.Values))
	fullEval := true
	for _, v := range n.Values {
		pv := ev.execExpr(v, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
		partials = append(partials, pv)
		c := asConst(pv)
		if c == nil {
			fullEval = false
			continue
		}
		if n.Op == BoolAnd && !c.Value.Truthy() {
			return ev.False()
		}
		if n.Op == BoolOr && c.Value.Truthy() {
			return ev.True()
		}
	}
	if fullEval {
		// no operand short-circuited: `and` of all-true, `or` of all-false
		if n.Op == BoolAnd {
			return ev.True()
		}
		return ev.False()
	}
	out := newNode(ev.root, &BoolOp{}, KBoolOp, n.GetSpan())
	out.Op = n.Op
	out.Native = n.Native
	out.ResolvedOp = n.ResolvedOp
	for _, p := range partials {
		out.Values = append(out.Values, ev.residualExpr(p))
	}
	return out
}

func (ev *TreeEvaluator) UnaryOpExpr(n *UnaryOp, depth int) PartialResult {
	operand := ev.execExpr(n.Operand, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	if c := asConst(operand); c != nil {
		if n.ResolvedOp != nil {
			return ev.callFunction(n.ResolvedOp, []PartialResult{c}, nil, depth)
		}
		if n.Native != nil {
			return ev.constant(n.Native(c.Value), n.GetSpan())
		}
		if e, ok := lookupUnIntrinsic(n.Op.String(), tagTypeID(c.Value.Tag)); ok {
			return ev.constant(e.Fn(c.Value), n.GetSpan())
		}
		if n.Op.String() == "not" {
			return ev.constant(BoolVal(!c.Value.Truthy()), n.GetSpan())
		}
		ev.raise("TypeError", "unsupported operand type for unary %s: %s", n.Op, c.Value.Tag)
		return ev.None()
	}
	out := newNode(ev.root, &UnaryOp{}, KUnaryOp, n.GetSpan())
	out.Op = n.Op
	out.Operand = ev.residualExpr(operand)
	out.ResolvedOp = n.ResolvedOp
	out.Native = n.Native
	return out
}

func (ev *TreeEvaluator) CompareExpr(n *Compare, depth int) PartialResult {
	left := ev.execExpr(n.Left, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	leftConst := asConst(left)

	partials := make([]PartialResult, 0, len(n.Comparators))
	fullEval := true
	for i, comparator := range n.Comparators {
		right := ev.execExpr(comparator, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
		partials = append(partials, right)
		rightConst := asConst(right)

		if leftConst != nil && rightConst != nil {
			var verdict Value
			switch {
			case i < len(n.ResolvedOps) && n.ResolvedOps[i] != nil:
				res := ev.callFunction(n.ResolvedOps[i], []PartialResult{leftConst, rightConst}, nil, depth)
				if ev.HasExceptions() {
					return ev.None()
				}
				if rc := asConst(res); rc != nil {
					verdict = rc.Value
				}
			case i < len(n.Natives) && n.Natives[i] != nil:
				out, ok := ev.applyNative(n.Natives[i], leftConst.Value, rightConst.Value)
				if !ok {
					return ev.None()
				}
				verdict = out
			default:
				verdict = ev.lateCompare(n.Ops[i].String(), leftConst.Value, rightConst.Value)
				if ev.HasExceptions() {
					return ev.None()
				}
			}
			// the chain short-circuits on the first false comparison
			if !verdict.Truthy() {
				return ev.False()
			}
			left, leftConst = right, rightConst
			continue
		}
		fullEval = false
		left, leftConst = right, rightConst
	}

	if fullEval {
		return ev.True()
	}
	out := newNode(ev.root, &Compare{}, KCompare, n.GetSpan())
	out.Left = n.Left
	out.Ops = n.Ops
	out.ResolvedOps = n.ResolvedOps
	out.Natives = n.Natives
	for _, p := range partials {
		out.Comparators = append(out.Comparators, ev.residualExpr(p))
	}
	return out
}

// lateCompare handles comparisons whose operand types were unknown to Sema.
func (ev *TreeEvaluator) lateCompare(op string, a, b Value) Value {
	if e, ok := lookupBinIntrinsic(op, tagTypeID(a.Tag), tagTypeID(b.Tag)); ok {
		out, okk := ev.applyNative(e.Fn, a, b)
		if !okk {
			return NoneVal()
		}
		return out
	}
	if fn := genericEquality(op); fn != nil {
		return fn(a, b)
	}
	if op == "in" || op == "not in" {
		r := containsValue(a, b)
		if op == "not in" {
			return BoolVal(r.I == 0)
		}
		return r
	}
	ev.raise("TypeError", "unsupported comparison %s between %s and %s", op, a.Tag, b.Tag)
	return NoneVal()
}

func (ev *TreeEvaluator) CallExpr(n *Call, depth int) PartialResult {
	callee := ev.execExpr(n.Func, depth)
	if ev.HasExceptions() {
		return ev.None()
	}

	args := make([]PartialResult, len(n.Args))
	for i, a := range n.Args {
		args[i] = ev.execExpr(a, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
	}
	kwargs := map[StringRef]PartialResult{}
	var kwOrder []StringRef
	for _, kw := range n.Keywords {
		kwargs[kw.Name] = ev.execExpr(kw.Value, depth)
		kwOrder = append(kwOrder, kw.Name)
		if ev.HasExceptions() {
			return ev.None()
		}
	}

	switch fn := callee.(type) {
	case *BuiltinType:
		return ev.callBuiltin(n, fn, args, depth)
	case *FunctionDef:
		if fn.Generator {
			return ev.makeGenerator(fn, args, kwargs, depth)
		}
		return ev.callFunctionKw(fn, args, kwargs, kwOrder, depth)
	case *ClassDef:
		return ev.instantiate(fn, args, kwargs, depth)
	case *boundMethod:
		all := append([]PartialResult{fn.recv}, args...)
		if fn.fn.Generator {
			return ev.makeGenerator(fn.fn, all, kwargs, depth)
		}
		return ev.callFunctionKw(fn.fn, all, kwargs, kwOrder, depth)
	case *Constant:
		switch fn.Value.Tag {
		case VNative:
			return ev.invokeNative(fn.Value.Ref.(*NativeFn), n, args)
		case VClosure:
			return ev.callClosure(fn.Value.Ref.(*Closure), args, kwargs, kwOrder, depth)
		}
		ev.raise("TypeError", "%s is not callable", fn.Value.Tag)
		return ev.None()
	}

	// callee not resolvable at this time: rebuild as residual
	out := newNode(ev.root, &Call{}, KCall, n.GetSpan())
	out.Func = ev.residualExpr(callee)
	for _, a := range args {
		out.Args = append(out.Args, ev.residualExpr(a))
	}
	out.Keywords = n.Keywords
	return out
}

// callBuiltin invokes a native callable when every argument reduced; if a
// macro is registered it folds partial argument lists instead.
func (ev *TreeEvaluator) callBuiltin(call *Call, bt *BuiltinType, args []PartialResult, depth int) PartialResult {
	values := make([]Value, 0, len(args))
	compileTime := true
	for _, a := range args {
		if c := asConst(a); c != nil {
			values = append(values, c.Value)
		} else {
			compileTime = false
		}
	}
	if compileTime && bt.Native != nil && bt.Native.Name == "next" &&
		len(values) == 1 && values[0].Tag == VNative {
		if g, ok := values[0].Ref.(*NativeFn).State.(*generator); ok {
			return ev.nextOnGenerator(g, call.GetSpan())
		}
	}
	if bt.Native == nil {
		// type names used as cast callables
		if compileTime && len(values) == 1 {
			return ev.castValue(bt, values[0], call.GetSpan())
		}
		ev.raise("TypeError", "%s is not callable", bt.Name)
		return ev.None()
	}
	if compileTime {
		out := bt.Native.Call(values)
		if out.Tag == VError {
			ev.raise("RuntimeError", "%s", out.Ref.(string))
			return ev.None()
		}
		return ev.constant(out, call.GetSpan())
	}
	if bt.Macro != nil {
		return bt.Macro(args)
	}
	out := newNode(ev.root, &Call{}, KCall, call.GetSpan())
	out.Func = bt
	for _, a := range args {
		out.Args = append(out.Args, ev.residualExpr(a))
	}
	return out
}

func (ev *TreeEvaluator) invokeNative(fn *NativeFn, call *Call, args []PartialResult) PartialResult {
	values := make([]Value, 0, len(args))
	for _, a := range args {
		c := asConst(a)
		if c == nil {
			out := newNode(ev.root, &Call{}, KCall, call.GetSpan())
			out.Func = ev.residualExpr(call.Func)
			for _, p := range args {
				out.Args = append(out.Args, ev.residualExpr(p))
			}
			return out
		}
		values = append(values, c.Value)
	}
	if fn.Name == "next" && len(values) == 1 && values[0].Tag == VNative {
		if g, ok := values[0].Ref.(*NativeFn).State.(*generator); ok {
			return ev.nextOnGenerator(g, call.GetSpan())
		}
	}
	if fn.Arity >= 0 && len(values) != fn.Arity {
		ev.raise("TypeError", "%s() expects %d arguments, got %d", fn.Name, fn.Arity, len(values))
		return ev.None()
	}
	out := fn.Call(values)
	if out.Tag == VError {
		ev.raise("RuntimeError", "%s", out.Ref.(string))
		return ev.None()
	}
	return ev.constant(out, call.GetSpan())
}

// castValue implements builtin type names used as conversion callables.
func (ev *TreeEvaluator) castValue(bt *BuiltinType, v Value, sp Span) PartialResult {
	ClearValueError()
	defer ClearValueError()
	switch bt.ID {
	case TI32:
		return ev.constant(I32Val(As[int32](v)), sp)
	case TI64:
		return ev.constant(I64Val(As[int64](v)), sp)
	case TF32:
		return ev.constant(F32Val(As[float32](v)), sp)
	case TF64:
		return ev.constant(F64Val(As[float64](v)), sp)
	case TStr:
		return ev.constant(StrVal(v.String()), sp)
	case TBool:
		return ev.constant(BoolVal(v.Truthy()), sp)
	}
	ClearValueError()
	ev.raise("TypeError", "cannot convert %s to %s", v.Tag, bt.Name)
	return ev.None()
}

// callFunction applies a user function to already-reduced arguments.
func (ev *TreeEvaluator) callFunction(fn *FunctionDef, args []PartialResult, kwargs map[StringRef]PartialResult, depth int) PartialResult {
	return ev.callFunctionKw(fn, args, kwargs, nil, depth)
}

func (ev *TreeEvaluator) callFunctionKw(fn *FunctionDef, args []PartialResult, kwargs map[StringRef]PartialResult, kwOrder []StringRef, depth int) PartialResult {
	if depth > MaxVisitorDepth {
		raiseInternal(fn.GetSpan(), "recursion limit exceeded calling %s", fn.Name)
	}

	base := ev.bindings.Len()
	scope := OpenScope(ev.bindings)
	ev.frames = append(ev.frames, frame{fn: fn, base: base})
	ev.traces = append(ev.traces, StackTrace{})

	ok := ev.bindParameters(fn, args, kwargs)
	var result PartialResult = ev.None()
	if ok {
		savedReturn := ev.returnValue
		ev.returnValue = nil
		for _, st := range fn.Body {
			ev.execStmt(st, depth+1)
			if ev.HasExceptions() {
				break
			}
			if ev.returnValue != nil {
				break
			}
		}
		if ev.returnValue != nil {
			result = ev.returnValue
		}
		ev.returnValue = savedReturn
	}

	ev.traces = ev.traces[:len(ev.traces)-1]
	ev.frames = ev.frames[:len(ev.frames)-1]

	// promote the result past the scope teardown
	if c := asConst(result); c != nil {
		result = ev.constant(c.Value, c.GetSpan())
	}
	scope.Close()
	return result
}

// bindParameters binds positional then keyword arguments, applying defaults
// for the rest. Mismatches raise TypeError.
func (ev *TreeEvaluator) bindParameters(fn *FunctionDef, args []PartialResult, kwargs map[StringRef]PartialResult) bool {
	params := fn.Args.Args
	if fn.Args.VarArg == nil && len(args) > len(params) {
		ev.raise("TypeError", "%s() takes %d positional arguments but %d were given",
			fn.Name, len(params), len(args))
		return false
	}
	used := map[StringRef]bool{}
	for i, prm := range params {
		var v PartialResult
		switch {
		case i < len(args):
			v = args[i]
		case kwargs != nil && kwargs[prm.Name] != nil:
			v = kwargs[prm.Name]
			used[prm.Name] = true
		case prm.Default != nil:
			// defaults evaluate at call time
			v = ev.execExpr(prm.Default, 0)
		default:
			ev.raise("TypeError", "%s() missing required argument '%s'", fn.Name, prm.Name)
			return false
		}
		ev.bindings.Add(prm.Name, v, nil)
	}
	if fn.Args.VarArg != nil {
		var rest []Value
		for _, extra := range args[min(len(params), len(args)):] {
			if c := asConst(extra); c != nil {
				rest = append(rest, c.Value)
			}
		}
		ev.bindings.Add(fn.Args.VarArg.Name, ev.constant(TupleVal(rest), Span{}), nil)
	}
	for _, prm := range fn.Args.KwOnly {
		var v PartialResult
		switch {
		case kwargs != nil && kwargs[prm.Name] != nil:
			v = kwargs[prm.Name]
			used[prm.Name] = true
		case prm.Default != nil:
			v = ev.execExpr(prm.Default, 0)
		default:
			ev.raise("TypeError", "%s() missing required keyword argument '%s'", fn.Name, prm.Name)
			return false
		}
		ev.bindings.Add(prm.Name, v, nil)
	}
	if fn.Args.KwArg != nil {
		d := &DictObject{}
		for name, v := range kwargs {
			if !used[name] {
				if c := asConst(v); c != nil {
					d.Set(StrVal(name.String()), c.Value)
				}
			}
		}
		ev.bindings.Add(fn.Args.KwArg.Name, ev.constant(DictVal(d), Span{}), nil)
	} else if kwargs != nil {
		for name := range kwargs {
			if !used[name] && !paramNamed(fn, name) {
				ev.raise("TypeError", "%s() got an unexpected keyword argument '%s'", fn.Name, name)
				return false
			}
		}
	}
	return true
}

func paramNamed(fn *FunctionDef, name StringRef) bool {
	for _, prm := range fn.Args.Args {
		if prm.Name == name {
			return true
		}
	}
	for _, prm := range fn.Args.KwOnly {
		if prm.Name == name {
			return true
		}
	}
	return false
}

// callClosure restores the captured environment under a synthetic enclosing
// frame, then applies the function.
func (ev *TreeEvaluator) callClosure(cl *Closure, args []PartialResult, kwargs map[StringRef]PartialResult, kwOrder []StringRef, depth int) PartialResult {
	if cl.Fn.Enclosing == nil || len(cl.Captured) == 0 {
		return ev.callFunctionKw(cl.Fn, args, kwargs, kwOrder, depth)
	}
	outerBase := ev.bindings.Len()
	outer := OpenScope(ev.bindings)
	for _, b := range cl.Captured {
		ev.bindings.Add(b.Name, b.Value, b.Type)
	}
	ev.frames = append(ev.frames, frame{fn: cl.Fn.Enclosing, base: outerBase})
	result := ev.callFunctionKw(cl.Fn, args, kwargs, kwOrder, depth)
	ev.frames = ev.frames[:len(ev.frames)-1]
	if c := asConst(result); c != nil {
		result = ev.constant(c.Value, c.GetSpan())
	}
	outer.Close()
	return result
}

// instantiate allocates an instance, fills attribute defaults (evaluated at
// call time), then runs __init__ when present; without one, positional
// arguments fill declared attributes in order.
func (ev *TreeEvaluator) instantiate(cls *ClassDef, args []PartialResult, kwargs map[StringRef]PartialResult, depth int) PartialResult {
	inst := ev.newInstance(cls)
	for _, attr := range cls.Attrs {
		if attr.Default != nil {
			dv := ev.execExpr(attr.Default, depth)
			if ev.HasExceptions() {
				return ev.None()
			}
			if c := asConst(dv); c != nil {
				if off, ok := cls.AttrOffset(attr.Name); ok {
					inst.Attrs[off] = c.Value
				}
			}
		}
	}
	self := ev.constant(ObjectVal(inst), cls.GetSpan())

	if init := cls.Method(Intern("__init__")); init != nil {
		all := append([]PartialResult{self}, args...)
		ev.callFunctionKw(init, all, kwargs, nil, depth)
		if ev.HasExceptions() {
			return ev.None()
		}
		return self
	}
	// default constructor: positional arguments fill the attribute layout in
	// declaration order
	if len(args) > len(inst.Attrs) {
		ev.raise("TypeError", "%s() takes at most %d arguments", cls.Name, len(inst.Attrs))
		return ev.None()
	}
	for i, a := range args {
		if c := asConst(a); c != nil {
			inst.Attrs[i] = c.Value
		}
	}
	for name, v := range kwargs {
		if off, ok := cls.AttrOffset(name); ok {
			if c := asConst(v); c != nil {
				inst.Attrs[off] = c.Value
			}
		} else {
			ev.raise("TypeError", "%s() got an unexpected keyword argument '%s'", cls.Name, name)
			return ev.None()
		}
	}
	return self
}

// boundMethod pairs a receiver with a method definition between Attribute
// evaluation and the enclosing Call.
type boundMethod struct {
	exprBase
	recv PartialResult
	fn   *FunctionDef
}

func (ev *TreeEvaluator) AttributeExpr(n *Attribute, depth int) PartialResult {
	value := ev.execExpr(n.Value, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	c := asConst(value)
	if c == nil {
		out := newNode(ev.root, &Attribute{}, KAttribute, n.GetSpan())
		out.Value = ev.residualExpr(value)
		out.Attr = n.Attr
		out.Ctx = n.Ctx
		return out
	}
	switch c.Value.Tag {
	case VObject:
		inst := c.Value.Ref.(*Instance)
		if off, ok := inst.Class.AttrOffset(n.Attr); ok && off < len(inst.Attrs) {
			return ev.constant(inst.Attrs[off], n.GetSpan())
		}
		if m := inst.Class.Method(n.Attr); m != nil {
			bm := newNode(ev.root, &boundMethod{}, KInvalid, n.GetSpan())
			bm.recv = c
			bm.fn = m
			return bm
		}
		ev.raise("AttributeError", "%s has no attribute '%s'", inst.Class.Name, n.Attr)
		return ev.None()
	case VDict:
		// module objects are dict constants
		if v, ok := c.Value.Ref.(*DictObject).Get(StrVal(n.Attr.String())); ok {
			return ev.constant(v, n.GetSpan())
		}
		ev.raise("AttributeError", "no attribute '%s'", n.Attr)
		return ev.None()
	}
	ev.raise("AttributeError", "%s has no attribute '%s'", c.Value.Tag, n.Attr)
	return ev.None()
}

func (ev *TreeEvaluator) SubscriptExpr(n *Subscript, depth int) PartialResult {
	value := ev.execExpr(n.Value, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	vc := asConst(value)
	if vc == nil {
		return n
	}
	if sl, ok := n.Index.(*Slice); ok {
		return ev.sliceValue(vc.Value, sl, depth, n.GetSpan())
	}
	idx := ev.execExpr(n.Index, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	ic := asConst(idx)
	if ic == nil {
		return n
	}
	out, ok := ev.indexValue(vc.Value, ic.Value)
	if !ok {
		return ev.None()
	}
	return ev.constant(out, n.GetSpan())
}

func (ev *TreeEvaluator) indexValue(v, idx Value) (Value, bool) {
	switch v.Tag {
	case VArray, VTuple:
		var elems []Value
		if v.Tag == VArray {
			elems = v.Ref.(*ArrayObject).Elems
		} else {
			elems = v.Ref.(*TupleObject).Elems
		}
		ClearValueError()
		i := int(As[int64](idx))
		if HasValueError() {
			ClearValueError()
			ev.raise("TypeError", "index must be an integer, not %s", idx.Tag)
			return Value{}, false
		}
		if i < 0 {
			i += len(elems)
		}
		if i < 0 || i >= len(elems) {
			ev.raise("IndexError", "index %d out of range", i)
			return Value{}, false
		}
		return elems[i], true
	case VDict:
		if out, ok := v.Ref.(*DictObject).Get(idx); ok {
			return out, true
		}
		ev.raise("KeyError", "%s", idx.Repr())
		return Value{}, false
	case VStr:
		s := v.Ref.(string)
		ClearValueError()
		i := int(As[int64](idx))
		if HasValueError() {
			ClearValueError()
			ev.raise("TypeError", "string index must be an integer")
			return Value{}, false
		}
		if i < 0 {
			i += len(s)
		}
		if i < 0 || i >= len(s) {
			ev.raise("IndexError", "string index %d out of range", i)
			return Value{}, false
		}
		return StrVal(s[i : i+1]), true
	}
	ev.raise("TypeError", "%s is not subscriptable", v.Tag)
	return Value{}, false
}

func (ev *TreeEvaluator) sliceValue(v Value, sl *Slice, depth int, sp Span) PartialResult {
	bound := func(e ExprNode, def int) int {
		if e == nil {
			return def
		}
		c := asConst(ev.execExpr(e, depth))
		if c == nil {
			return def
		}
		return int(As[int64](c.Value))
	}
	length := 0
	switch v.Tag {
	case VArray:
		length = len(v.Ref.(*ArrayObject).Elems)
	case VTuple:
		length = len(v.Ref.(*TupleObject).Elems)
	case VStr:
		length = len(v.Ref.(string))
	default:
		ev.raise("TypeError", "%s is not sliceable", v.Tag)
		return ev.None()
	}
	step := bound(sl.Step, 1)
	if step == 0 {
		ev.raise("ValueError", "slice step cannot be zero")
		return ev.None()
	}

	// defaults and clamping depend on the direction: a negative step starts
	// at the last element and stops just before index 0
	adjust := func(i int) int {
		if i < 0 {
			i += length
			if i < 0 {
				if step < 0 {
					return -1
				}
				return 0
			}
		}
		if i >= length {
			if step < 0 {
				return length - 1
			}
			return length
		}
		return i
	}
	start, stop := 0, length
	if step < 0 {
		start, stop = length-1, -1
	}
	if sl.Lower != nil {
		start = adjust(bound(sl.Lower, start))
	}
	if sl.Upper != nil {
		stop = adjust(bound(sl.Upper, stop))
	}

	pick := func(get func(int) Value) []Value {
		var out []Value
		if step > 0 {
			for i := start; i < stop; i += step {
				out = append(out, get(i))
			}
		} else {
			for i := start; i > stop; i += step {
				out = append(out, get(i))
			}
		}
		return out
	}
	switch v.Tag {
	case VArray:
		elems := v.Ref.(*ArrayObject).Elems
		return ev.constant(ArrayVal(pick(func(i int) Value { return elems[i] })), sp)
	case VTuple:
		elems := v.Ref.(*TupleObject).Elems
		return ev.constant(TupleVal(pick(func(i int) Value { return elems[i] })), sp)
	default:
		s := v.Ref.(string)
		parts := pick(func(i int) Value { return StrVal(s[i : i+1]) })
		out := ""
		for _, p := range parts {
			out += p.Ref.(string)
		}
		return ev.constant(StrVal(out), sp)
	}
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func (ev *TreeEvaluator) SliceExpr(n *Slice, depth int) PartialResult { return n }

func (ev *TreeEvaluator) LambdaExpr(n *Lambda, depth int) PartialResult {
	fn := newNode(ev.root, &FunctionDef{}, KFunctionDef, n.GetSpan())
	fn.Name = Intern("<lambda>")
	fn.Args = n.Args
	ret := newNode(ev.root, &Return{}, KReturn, n.Body.GetSpan())
	ret.Value = n.Body
	fn.Body = []StmtNode{ret}
	fn.ScopeBase = math.MaxInt32
	if len(n.Args.Args) > 0 {
		fn.ScopeBase = n.Args.Args[0].VarID
	}
	if len(ev.frames) > 0 {
		fn.Enclosing = ev.frames[len(ev.frames)-1].fn
		return ev.constant(ClosureVal(&Closure{Fn: fn, Captured: ev.captureFrame()}), n.GetSpan())
	}
	return ev.constant(ClosureVal(&Closure{Fn: fn}), n.GetSpan())
}

// captureFrame snapshots the current frame's live entries for a closure.
func (ev *TreeEvaluator) captureFrame() []Binding {
	base := ev.currentBase()
	all := ev.bindings.Snapshot()
	if base > len(all) {
		return nil
	}
	return all[base:]
}

func (ev *TreeEvaluator) IfExpExpr(n *IfExp, depth int) PartialResult {
	test := asConst(ev.execExpr(n.Test, depth))
	if ev.HasExceptions() {
		return ev.None()
	}
	if test == nil {
		return n
	}
	if test.Value.Truthy() {
		return ev.execExpr(n.Body, depth)
	}
	return ev.execExpr(n.Orelse, depth)
}

func (ev *TreeEvaluator) ListExprExpr(n *ListExpr, depth int) PartialResult {
	elems, ok := ev.reduceAll(n.Elems, depth)
	if !ok {
		return n
	}
	return ev.constant(ArrayVal(elems), n.GetSpan())
}

func (ev *TreeEvaluator) TupleExprExpr(n *TupleExpr, depth int) PartialResult {
	elems, ok := ev.reduceAll(n.Elems, depth)
	if !ok {
		return n
	}
	return ev.constant(TupleVal(elems), n.GetSpan())
}

func (ev *TreeEvaluator) SetExprExpr(n *SetExpr, depth int) PartialResult {
	elems, ok := ev.reduceAll(n.Elems, depth)
	if !ok {
		return n
	}
	var dedup []Value
	for _, e := range elems {
		seen := false
		for _, d := range dedup {
			if ValuesEqual(d, e) {
				seen = true
				break
			}
		}
		if !seen {
			dedup = append(dedup, e)
		}
	}
	return ev.constant(ArrayVal(dedup), n.GetSpan())
}

func (ev *TreeEvaluator) DictExprExpr(n *DictExpr, depth int) PartialResult {
	d := &DictObject{}
	for i := range n.Keys {
		kc := asConst(ev.execExpr(n.Keys[i], depth))
		if ev.HasExceptions() {
			return ev.None()
		}
		vc := asConst(ev.execExpr(n.Values[i], depth))
		if ev.HasExceptions() {
			return ev.None()
		}
		if kc == nil || vc == nil {
			return n
		}
		d.Set(kc.Value, vc.Value)
	}
	return ev.constant(DictVal(d), n.GetSpan())
}

func (ev *TreeEvaluator) reduceAll(exprs []ExprNode, depth int) ([]Value, bool) {
	out := make([]Value, 0, len(exprs))
	for _, e := range exprs {
		c := asConst(ev.execExpr(e, depth))
		if ev.HasExceptions() || c == nil {
			return nil, false
		}
		out = append(out, c.Value)
	}
	return out, true
}

// runComprehension drives nested generators, invoking emit per element.
func (ev *TreeEvaluator) runComprehension(gens []Comprehension, depth int, emit func() bool) bool {
	var rec func(i int) bool
	rec = func(i int) bool {
		if i == len(gens) {
			return emit()
		}
		g := gens[i]
		iter := asConst(ev.execExpr(g.Iter, depth))
		if ev.HasExceptions() || iter == nil {
			return false
		}
		elems, ok := ev.iterate(iter.Value)
		if !ok {
			return false
		}
		for _, e := range elems {
			ev.assignTo(g.Target, ev.constant(e, g.Target.GetSpan()), depth)
			keep := true
			for _, cond := range g.Ifs {
				cc := asConst(ev.execExpr(cond, depth))
				if ev.HasExceptions() {
					return false
				}
				if cc == nil || !cc.Value.Truthy() {
					keep = false
					break
				}
			}
			if keep && !rec(i+1) {
				return false
			}
		}
		return true
	}
	return rec(0)
}

func (ev *TreeEvaluator) ListCompExpr(n *ListComp, depth int) PartialResult {
	scope := OpenScope(ev.bindings)
	defer scope.Close()
	var out []Value
	ok := ev.runComprehension(n.Generators, depth, func() bool {
		c := asConst(ev.execExpr(n.Elt, depth))
		if ev.HasExceptions() || c == nil {
			return false
		}
		out = append(out, c.Value)
		return true
	})
	if !ok {
		if ev.HasExceptions() {
			return ev.None()
		}
		return n
	}
	return ev.constant(ArrayVal(out), n.GetSpan())
}

func (ev *TreeEvaluator) SetCompExpr(n *SetComp, depth int) PartialResult {
	scope := OpenScope(ev.bindings)
	defer scope.Close()
	var out []Value
	ok := ev.runComprehension(n.Generators, depth, func() bool {
		c := asConst(ev.execExpr(n.Elt, depth))
		if ev.HasExceptions() || c == nil {
			return false
		}
		for _, d := range out {
			if ValuesEqual(d, c.Value) {
				return true
			}
		}
		out = append(out, c.Value)
		return true
	})
	if !ok {
		if ev.HasExceptions() {
			return ev.None()
		}
		return n
	}
	return ev.constant(ArrayVal(out), n.GetSpan())
}

func (ev *TreeEvaluator) DictCompExpr(n *DictComp, depth int) PartialResult {
	scope := OpenScope(ev.bindings)
	defer scope.Close()
	d := &DictObject{}
	ok := ev.runComprehension(n.Generators, depth, func() bool {
		kc := asConst(ev.execExpr(n.Key, depth))
		if ev.HasExceptions() || kc == nil {
			return false
		}
		vc := asConst(ev.execExpr(n.Value, depth))
		if ev.HasExceptions() || vc == nil {
			return false
		}
		d.Set(kc.Value, vc.Value)
		return true
	})
	if !ok {
		if ev.HasExceptions() {
			return ev.None()
		}
		return n
	}
	return ev.constant(DictVal(d), n.GetSpan())
}

func (ev *TreeEvaluator) GeneratorExpExpr(n *GeneratorExp, depth int) PartialResult {
	// generator expressions evaluate eagerly into an array; suspension is
	// reserved for generator functions
	lc := newNode(ev.root, &ListComp{}, KListComp, n.GetSpan())
	lc.Elt = n.Elt
	lc.Generators = n.Generators
	return ev.ListCompExpr(lc, depth)
}

func (ev *TreeEvaluator) NamedExprExpr(n *NamedExpr, depth int) PartialResult {
	value := ev.execExpr(n.Value, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	ev.assignTo(n.Target, value, depth)
	return value
}

func (ev *TreeEvaluator) StarredExpr(n *Starred, depth int) PartialResult {
	return ev.execExpr(n.Value, depth)
}

func (ev *TreeEvaluator) AwaitExpr(n *Await, depth int) PartialResult {
	value := ev.execExpr(n.Value, depth)
	if ev.HasExceptions() {
		return ev.None()
	}
	if c := asConst(value); c != nil && c.Value.Tag == VNative {
		if g, ok := c.Value.Ref.(*NativeFn).State.(*generator); ok {
			return ev.awaitGenerator(g, n.GetSpan())
		}
	}
	return value
}

func (ev *TreeEvaluator) YieldExpr(n *Yield, depth int) PartialResult {
	ev.raise("RuntimeError", "yield outside a generator")
	return ev.None()
}

func (ev *TreeEvaluator) YieldFromExpr(n *YieldFrom, depth int) PartialResult {
	ev.raise("RuntimeError", "yield from outside a generator")
	return ev.None()
}

func (ev *TreeEvaluator) JoinedStrExpr(n *JoinedStr, depth int) PartialResult {
	out := ""
	for _, part := range n.Values {
		var pv PartialResult
		if fv, ok := part.(*FormattedValue); ok {
			pv = ev.execExpr(fv.Value, depth)
		} else {
			pv = ev.execExpr(part, depth)
		}
		if ev.HasExceptions() {
			return ev.None()
		}
		c := asConst(pv)
		if c == nil {
			return n
		}
		out += c.Value.String()
	}
	return ev.constant(StrVal(out), n.GetSpan())
}

func (ev *TreeEvaluator) FormattedValueExpr(n *FormattedValue, depth int) PartialResult {
	value := asConst(ev.execExpr(n.Value, depth))
	if value == nil {
		return n
	}
	return ev.constant(StrVal(value.Value.String()), n.GetSpan())
}

// type expressions evaluate to themselves; BuiltinType carries its native
// function through to Call handling.
func (ev *TreeEvaluator) ArrowExpr(n *Arrow, depth int) PartialResult             { return n }
func (ev *TreeEvaluator) DictTypeExpr(n *DictType, depth int) PartialResult       { return n }
func (ev *TreeEvaluator) ArrayTypeExpr(n *ArrayType, depth int) PartialResult     { return n }
func (ev *TreeEvaluator) SetTypeExpr(n *SetType, depth int) PartialResult         { return n }
func (ev *TreeEvaluator) TupleTypeExpr(n *TupleType, depth int) PartialResult     { return n }
func (ev *TreeEvaluator) BuiltinTypeExpr(n *BuiltinType, depth int) PartialResult { return n }
func (ev *TreeEvaluator) ClassTypeExpr(n *ClassType, depth int) PartialResult     { return n }

// iterate materializes the element sequence of an iterable value.
func (ev *TreeEvaluator) iterate(v Value) ([]Value, bool) {
	switch v.Tag {
	case VArray:
		return v.Ref.(*ArrayObject).Elems, true
	case VTuple:
		return v.Ref.(*TupleObject).Elems, true
	case VStr:
		s := v.Ref.(string)
		out := make([]Value, 0, len(s))
		for i := 0; i < len(s); i++ {
			out = append(out, StrVal(s[i:i+1]))
		}
		return out, true
	case VDict:
		return v.Ref.(*DictObject).Keys, true
	case VNative:
		if g, ok := v.Ref.(*NativeFn).State.(*generator); ok {
			return ev.drainGenerator(g)
		}
	case VObject:
		inst := v.Ref.(*Instance)
		if m := inst.Class.Method(Intern("__next__")); m != nil {
			return ev.drainDunderIterator(inst, m)
		}
	}
	ev.raise("TypeError", "%s is not iterable", v.Tag)
	return nil, false
}

// drainDunderIterator pulls __next__ until StopIteration.
func (ev *TreeEvaluator) drainDunderIterator(inst *Instance, next *FunctionDef) ([]Value, bool) {
	var out []Value
	self := ev.constant(ObjectVal(inst), Span{})
	for {
		r := ev.callFunction(next, []PartialResult{self}, nil, 0)
		if ev.HasExceptions() {
			exc := ev.exceptions[len(ev.exceptions)-1]
			if exc.Class != nil && exc.Class.IsSubclassOf(ExceptionClass("StopIteration")) {
				ev.exceptions = ev.exceptions[:len(ev.exceptions)-1]
				return out, true
			}
			return nil, false
		}
		c := asConst(r)
		if c == nil {
			return out, true
		}
		out = append(out, c.Value)
	}
}
