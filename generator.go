// generator.go — generator and coroutine frames.
//
// Generators are reified explicitly: a frame records the statement program
// counter (a stack of block positions, one per nested suite) and a snapshot
// of the frame's local bindings. Suspension points are exactly `yield`,
// `yield from` and `await`; everything else executes synchronously through
// the normal evaluator. Resuming restores the locals, walks back to the
// recorded position and continues until the next suspension or the end of
// the body.
package lython

type genBlockKind uint8

const (
	genPlain genBlockKind = iota
	genFor
	genWhile
)

type genPC struct {
	body []StmtNode
	idx  int
	kind genBlockKind

	// for-loop resume state
	forValues []Value
	forIdx    int
	forTarget ExprNode

	// while-loop resume state
	whileTest ExprNode
}

// generator is the reified frame. It travels as the State of a native value.
type generator struct {
	fn     *FunctionDef
	locals []Binding
	stack  []genPC

	// pendingAssign receives None on resume after `x = yield v`
	pendingAssign ExprNode
	// pendingSeq drains queued values from `yield from`
	pendingSeq []Value

	returned Value
	done     bool
}

// makeGenerator binds the call arguments into a fresh frame snapshot and
// returns the suspended generator as a value.
func (ev *TreeEvaluator) makeGenerator(fn *FunctionDef, args []PartialResult, kwargs map[StringRef]PartialResult, depth int) PartialResult {
	base := ev.bindings.Len()
	scope := OpenScope(ev.bindings)
	ev.frames = append(ev.frames, frame{fn: fn, base: base})
	ok := ev.bindParameters(fn, args, kwargs)
	var locals []Binding
	if ok {
		locals = append(locals, ev.bindings.Snapshot()[base:]...)
	}
	ev.frames = ev.frames[:len(ev.frames)-1]
	scope.Close()
	if !ok {
		return ev.None()
	}

	g := &generator{
		fn:     fn,
		locals: locals,
		stack:  []genPC{{body: fn.Body}},
	}
	nf := &NativeFn{
		Name:  fn.Name.String(),
		Arity: 0,
		State: g,
		Call: func([]Value) Value {
			return ErrVal("generators resume through next()")
		},
	}
	return ev.constant(NativeVal(nf), fn.GetSpan())
}

// resume advances the generator to its next suspension point.
// Returns (yielded value, yielded?, finished?).
func (ev *TreeEvaluator) resume(g *generator, depth int) (Value, bool, bool) {
	if g.done {
		return NoneVal(), false, true
	}
	if len(g.pendingSeq) > 0 {
		v := g.pendingSeq[0]
		g.pendingSeq = g.pendingSeq[1:]
		return v, true, false
	}

	base := ev.bindings.Len()
	scope := OpenScope(ev.bindings)
	for _, b := range g.locals {
		ev.bindings.Add(b.Name, b.Value, b.Type)
	}
	ev.frames = append(ev.frames, frame{fn: g.fn, base: base})

	yielded, didYield := ev.genStep(g, depth)

	// snapshot the live frame for the next resume
	g.locals = append(g.locals[:0], ev.bindings.Snapshot()[base:]...)
	ev.frames = ev.frames[:len(ev.frames)-1]
	scope.Close()

	if !didYield {
		g.done = true
		return g.returned, false, true
	}
	return yielded, true, false
}

// genStep runs statements until a yield or the end of the frame.
func (ev *TreeEvaluator) genStep(g *generator, depth int) (Value, bool) {
	// deliver the sent value (always None here) for `x = yield ...`
	if g.pendingAssign != nil {
		ev.assignTo(g.pendingAssign, ev.None(), depth)
		g.pendingAssign = nil
	}

	for len(g.stack) > 0 {
		pc := &g.stack[len(g.stack)-1]

		if pc.idx >= len(pc.body) {
			if !ev.genAdvanceBlock(g, pc, depth) {
				return NoneVal(), false
			}
			continue
		}

		st := pc.body[pc.idx]

		if y, target, isYield := yieldOf(st); isYield {
			pc.idx++
			var out Value
			switch yn := y.(type) {
			case *Yield:
				if yn.Value != nil {
					c := asConst(ev.execExpr(yn.Value, depth))
					if ev.HasExceptions() {
						return NoneVal(), false
					}
					if c != nil {
						out = c.Value
					}
				} else {
					out = NoneVal()
				}
				g.pendingAssign = target
				return out, true
			case *YieldFrom:
				c := asConst(ev.execExpr(yn.Value, depth))
				if ev.HasExceptions() || c == nil {
					return NoneVal(), false
				}
				values, ok := ev.iterate(c.Value)
				if !ok {
					return NoneVal(), false
				}
				if len(values) > 0 {
					g.pendingSeq = append(g.pendingSeq, values[1:]...)
					g.pendingAssign = target
					return values[0], true
				}
				continue
			}
		}

		switch sn := st.(type) {
		case *Return:
			if sn.Value != nil {
				if c := asConst(ev.execExpr(sn.Value, depth)); c != nil {
					g.returned = c.Value
				}
			} else {
				g.returned = NoneVal()
			}
			g.stack = g.stack[:0]
			return NoneVal(), false

		case *For:
			if containsYield(sn.Body) {
				pc.idx++
				iter := asConst(ev.execExpr(sn.Iter, depth))
				if ev.HasExceptions() || iter == nil {
					return NoneVal(), false
				}
				values, ok := ev.iterate(iter.Value)
				if !ok {
					return NoneVal(), false
				}
				if len(values) == 0 {
					continue
				}
				ev.assignTo(sn.Target, ev.constant(values[0], sn.Target.GetSpan()), depth)
				g.stack = append(g.stack, genPC{
					body:      sn.Body,
					kind:      genFor,
					forValues: values,
					forTarget: sn.Target,
				})
				continue
			}

		case *While:
			if containsYield(sn.Body) {
				pc.idx++
				test := asConst(ev.execExpr(sn.Test, depth))
				if ev.HasExceptions() || test == nil {
					return NoneVal(), false
				}
				if !test.Value.Truthy() {
					continue
				}
				g.stack = append(g.stack, genPC{
					body:      sn.Body,
					kind:      genWhile,
					whileTest: sn.Test,
				})
				continue
			}

		case *If:
			if ifContainsYield(sn) {
				pc.idx++
				body := sn.Orelse
				for i, test := range sn.Tests {
					tc := asConst(ev.execExpr(test, depth))
					if ev.HasExceptions() || tc == nil {
						return NoneVal(), false
					}
					if tc.Value.Truthy() {
						body = sn.Bodies[i]
						break
					}
				}
				if len(body) > 0 {
					g.stack = append(g.stack, genPC{body: body})
				}
				continue
			}
		}

		// ordinary statement: run it through the evaluator
		pc.idx++
		ev.execStmt(st, depth)
		if ev.HasExceptions() {
			return NoneVal(), false
		}
		if ev.returnValue != nil {
			if c := asConst(ev.returnValue); c != nil {
				g.returned = c.Value
			}
			ev.returnValue = nil
			g.stack = g.stack[:0]
			return NoneVal(), false
		}
		if ev.loopBreak {
			ev.loopBreak = false
			ev.genPopLoop(g)
			continue
		}
		if ev.loopContinue {
			ev.loopContinue = false
			for len(g.stack) > 1 && g.stack[len(g.stack)-1].kind == genPlain {
				g.stack = g.stack[:len(g.stack)-1]
			}
			if top := &g.stack[len(g.stack)-1]; top.kind != genPlain {
				top.idx = len(top.body) // force the loop to advance
			}
			continue
		}
	}
	return NoneVal(), false
}

// genAdvanceBlock handles a finished suite: loops iterate, plain blocks pop.
// Returns false when evaluation must stop.
func (ev *TreeEvaluator) genAdvanceBlock(g *generator, pc *genPC, depth int) bool {
	switch pc.kind {
	case genFor:
		pc.forIdx++
		if pc.forIdx < len(pc.forValues) {
			ev.assignTo(pc.forTarget, ev.constant(pc.forValues[pc.forIdx], pc.forTarget.GetSpan()), depth)
			pc.idx = 0
			return true
		}
	case genWhile:
		test := asConst(ev.execExpr(pc.whileTest, depth))
		if ev.HasExceptions() || test == nil {
			return false
		}
		if test.Value.Truthy() {
			pc.idx = 0
			return true
		}
	}
	g.stack = g.stack[:len(g.stack)-1]
	return true
}

// genPopLoop pops suites up to and including the innermost loop.
func (ev *TreeEvaluator) genPopLoop(g *generator) {
	for len(g.stack) > 0 {
		top := g.stack[len(g.stack)-1]
		g.stack = g.stack[:len(g.stack)-1]
		if top.kind != genPlain {
			return
		}
	}
}

// yieldOf recognizes the statement forms that suspend: a bare yield
// expression statement and `target = yield ...`.
func yieldOf(st StmtNode) (ExprNode, ExprNode, bool) {
	switch sn := st.(type) {
	case *ExprStmt:
		switch sn.Value.(type) {
		case *Yield, *YieldFrom:
			return sn.Value, nil, true
		}
	case *Assign:
		switch sn.Value.(type) {
		case *Yield, *YieldFrom:
			if len(sn.Targets) == 1 {
				return sn.Value, sn.Targets[0], true
			}
		}
	}
	return nil, nil, false
}

// containsYield scans a suite for suspension points without descending into
// nested function definitions.
func containsYield(body []StmtNode) bool {
	for _, st := range body {
		switch sn := st.(type) {
		case *ExprStmt:
			if isYieldExpr(sn.Value) {
				return true
			}
		case *Assign:
			if isYieldExpr(sn.Value) {
				return true
			}
		case *For:
			if containsYield(sn.Body) || containsYield(sn.Orelse) {
				return true
			}
		case *While:
			if containsYield(sn.Body) || containsYield(sn.Orelse) {
				return true
			}
		case *If:
			if ifContainsYield(sn) {
				return true
			}
		case *Try:
			if containsYield(sn.Body) || containsYield(sn.Orelse) || containsYield(sn.Finalbody) {
				return true
			}
			for _, h := range sn.Handlers {
				if containsYield(h.Body) {
					return true
				}
			}
		case *With:
			if containsYield(sn.Body) {
				return true
			}
		}
	}
	return false
}

func ifContainsYield(n *If) bool {
	for _, b := range n.Bodies {
		if containsYield(b) {
			return true
		}
	}
	return containsYield(n.Orelse)
}

func isYieldExpr(e ExprNode) bool {
	switch e.(type) {
	case *Yield, *YieldFrom:
		return true
	}
	return false
}

// drainGenerator materializes the remaining yields (for-loop iteration).
func (ev *TreeEvaluator) drainGenerator(g *generator) ([]Value, bool) {
	var out []Value
	for {
		v, yielded, done := ev.resume(g, 0)
		if ev.HasExceptions() {
			return nil, false
		}
		if done {
			return out, true
		}
		if yielded {
			out = append(out, v)
		}
	}
}

// awaitGenerator runs a coroutine to completion and produces its return
// value.
func (ev *TreeEvaluator) awaitGenerator(g *generator, sp Span) PartialResult {
	for {
		_, _, done := ev.resume(g, 0)
		if ev.HasExceptions() {
			return ev.None()
		}
		if done {
			return ev.constant(g.returned, sp)
		}
	}
}

// nextOnGenerator implements the `next(g)` builtin against a live frame.
func (ev *TreeEvaluator) nextOnGenerator(g *generator, sp Span) PartialResult {
	v, yielded, done := ev.resume(g, 0)
	if ev.HasExceptions() {
		return ev.None()
	}
	if done && !yielded {
		ev.raise("StopIteration", "generator exhausted")
		return ev.None()
	}
	return ev.constant(v, sp)
}
