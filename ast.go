// ast.go — typed AST node hierarchy.
//
// Every node carries a kind tag and a source span. Expression nodes carry a
// resolved-type slot populated by Sema. Nodes are allocated through a
// Module-scoped Arena; the partial evaluator owns a separate arena for
// residual nodes.
package lython

// Span is a half-open source region; lines are 1-based, columns 0-based.
type Span struct {
	Line, Col       int
	EndLine, EndCol int
}

// NodeKind tags every AST node.
type NodeKind uint8

const (
	KInvalid NodeKind = iota
	KModule

	// Expressions
	KConstant
	KName
	KBinOp
	KBoolOp
	KUnaryOp
	KCompare
	KCall
	KAttribute
	KSubscript
	KSlice
	KLambda
	KIfExp
	KListExpr
	KTupleExpr
	KSetExpr
	KDictExpr
	KListComp
	KSetComp
	KDictComp
	KGeneratorExp
	KNamedExpr
	KStarred
	KAwait
	KYield
	KYieldFrom
	KJoinedStr
	KFormattedValue
	KArrow
	KDictType
	KArrayType
	KSetType
	KTupleType
	KBuiltinType
	KClassType

	// Statements
	KFunctionDef
	KClassDef
	KAssign
	KAugAssign
	KAnnAssign
	KReturn
	KDelete
	KFor
	KWhile
	KIf
	KWith
	KRaise
	KTry
	KAssert
	KImport
	KImportFrom
	KGlobal
	KNonlocal
	KExprStmt
	KPass
	KBreak
	KContinue
	KMatch
	KInline

	// Patterns
	KMatchValue
	KMatchSingleton
	KMatchSequence
	KMatchMapping
	KMatchClass
	KMatchStar
	KMatchAs
	KMatchOr
)

// Node is implemented by every AST node.
type Node interface {
	Kind() NodeKind
	GetSpan() Span
	SetSpan(Span)
	setKind(NodeKind)
}

// ExprNode is implemented by expression nodes.
type ExprNode interface {
	Node
	ResolvedType() ExprNode
	SetResolvedType(ExprNode)
	exprNode()
}

// StmtNode is implemented by statement nodes.
type StmtNode interface {
	Node
	stmtNode()
}

// PatternNode is implemented by match patterns.
type PatternNode interface {
	Node
	patternNode()
}

type astBase struct {
	kind NodeKind
	span Span
}

func (b *astBase) Kind() NodeKind      { return b.kind }
func (b *astBase) GetSpan() Span       { return b.span }
func (b *astBase) SetSpan(s Span)      { b.span = s }
func (b *astBase) setKind(k NodeKind)  { b.kind = k }

type exprBase struct {
	astBase
	typ ExprNode
}

func (e *exprBase) ResolvedType() ExprNode     { return e.typ }
func (e *exprBase) SetResolvedType(t ExprNode) { e.typ = t }
func (e *exprBase) exprNode()                  {}

type stmtBase struct{ astBase }

func (s *stmtBase) stmtNode() {}

type patBase struct{ astBase }

func (p *patBase) patternNode() {}

// --- intrinsic signatures --------------------------------------------------

// BinaryIntrinsic applies a native binary operator to constant operands.
type BinaryIntrinsic func(a, b Value) Value

// UnaryIntrinsic applies a native unary operator to a constant operand.
type UnaryIntrinsic func(a Value) Value

// MacroFn folds a call with partially-reduced arguments into a residual node.
type MacroFn func(args []Node) Node

// --- expressions -----------------------------------------------------------

// Constant is a fully-reduced literal value.
type Constant struct {
	exprBase
	Value Value
}

// ExprContext distinguishes load, store and delete positions of a Name.
type ExprContext uint8

const (
	CtxLoad ExprContext = iota
	CtxStore
	CtxDel
)

// Name references a binding. VarID is assigned by Sema and indexes Bindings.
type Name struct {
	exprBase
	ID    StringRef
	Ctx   ExprContext
	VarID int
}

// BinOp is `left <op> right`. After Sema exactly one of ResolvedOp (a
// user-defined dunder) and Native (an intrinsic) is set when the operand
// types are known.
type BinOp struct {
	exprBase
	Op         StringRef
	Left       ExprNode
	Right      ExprNode
	ResolvedOp *FunctionDef
	Native     BinaryIntrinsic
}

// BoolOpKind is `and` or `or`.
type BoolOpKind uint8

const (
	BoolAnd BoolOpKind = iota
	BoolOr
)

// BoolOp is a short-circuiting chain `a and b and c`.
type BoolOp struct {
	exprBase
	Op         BoolOpKind
	Values     []ExprNode
	ResolvedOp *FunctionDef
	Native     BinaryIntrinsic
}

// UnaryOp is `<op> operand`.
type UnaryOp struct {
	exprBase
	Op         StringRef
	Operand    ExprNode
	ResolvedOp *FunctionDef
	Native     UnaryIntrinsic
}

// Compare is a chained comparison `a < b <= c` with parallel Ops and
// Comparators. Resolution is recorded per comparison.
type Compare struct {
	exprBase
	Left        ExprNode
	Ops         []StringRef
	Comparators []ExprNode
	ResolvedOps []*FunctionDef
	Natives     []BinaryIntrinsic
}

// Keyword is one `name=value` argument of a Call.
type Keyword struct {
	Name  StringRef
	Value ExprNode
}

// Call is `func(args..., kwargs...)`.
type Call struct {
	exprBase
	Func     ExprNode
	Args     []ExprNode
	Keywords []Keyword
}

// Attribute is `value.attr`.
type Attribute struct {
	exprBase
	Value ExprNode
	Attr  StringRef
	Ctx   ExprContext
}

// Subscript is `value[index]`.
type Subscript struct {
	exprBase
	Value ExprNode
	Index ExprNode
	Ctx   ExprContext
}

// Slice is `lower:upper:step` inside a subscript.
type Slice struct {
	exprBase
	Lower ExprNode // may be nil
	Upper ExprNode // may be nil
	Step  ExprNode // may be nil
}

// Lambda is `lambda args: body`.
type Lambda struct {
	exprBase
	Args Arguments
	Body ExprNode
}

// IfExp is `body if test else orelse`.
type IfExp struct {
	exprBase
	Test   ExprNode
	Body   ExprNode
	Orelse ExprNode
}

type ListExpr struct {
	exprBase
	Elems []ExprNode
}

type TupleExpr struct {
	exprBase
	Elems []ExprNode
	Ctx   ExprContext
}

type SetExpr struct {
	exprBase
	Elems []ExprNode
}

// DictExpr pairs Keys[i] with Values[i].
type DictExpr struct {
	exprBase
	Keys   []ExprNode
	Values []ExprNode
}

// Comprehension is one `for target in iter if conds...` clause.
type Comprehension struct {
	Target ExprNode
	Iter   ExprNode
	Ifs    []ExprNode
	Async  bool
}

type ListComp struct {
	exprBase
	Elt        ExprNode
	Generators []Comprehension
}

type SetComp struct {
	exprBase
	Elt        ExprNode
	Generators []Comprehension
}

type DictComp struct {
	exprBase
	Key        ExprNode
	Value      ExprNode
	Generators []Comprehension
}

type GeneratorExp struct {
	exprBase
	Elt        ExprNode
	Generators []Comprehension
}

// NamedExpr is the walrus `target := value`.
type NamedExpr struct {
	exprBase
	Target ExprNode
	Value  ExprNode
}

// Starred is `*value` in call arguments and assignment targets.
type Starred struct {
	exprBase
	Value ExprNode
}

type Await struct {
	exprBase
	Value ExprNode
}

type Yield struct {
	exprBase
	Value ExprNode // may be nil
}

type YieldFrom struct {
	exprBase
	Value ExprNode
}

// JoinedStr is an f-string; parts are Constants and FormattedValues.
type JoinedStr struct {
	exprBase
	Values []ExprNode
}

// FormattedValue is one `{expr}` hole of an f-string.
type FormattedValue struct {
	exprBase
	Value ExprNode
}

// --- type expressions ------------------------------------------------------

// Arrow is a function type: parameter types to a return type.
type Arrow struct {
	exprBase
	Args    []ExprNode
	Returns ExprNode
}

type DictType struct {
	exprBase
	Key ExprNode
	Val ExprNode
}

type ArrayType struct {
	exprBase
	Elem ExprNode
}

type SetType struct {
	exprBase
	Elem ExprNode
}

type TupleType struct {
	exprBase
	Elems []ExprNode
}

// BuiltinType names a primitive type and, for callables, carries the native
// implementation and optional macro for partially-reduced arguments.
type BuiltinType struct {
	exprBase
	Name   StringRef
	ID     TypeID
	Native *NativeFn
	Macro  MacroFn
}

// ClassType references a user class as a type expression.
type ClassType struct {
	exprBase
	Def *ClassDef
}

// --- statements ------------------------------------------------------------

// Param is one function parameter: name, optional annotation, optional
// default.
type Param struct {
	Name       StringRef
	Annotation ExprNode // may be nil
	Default    ExprNode // may be nil
	VarID      int
}

// Arguments holds the parameter layout: positional then keyword-only, plus
// optional *args / **kwargs collectors.
type Arguments struct {
	Args    []Param
	PosOnly int // count of positional-only parameters (before "/")
	KwOnly  []Param
	VarArg  *Param // *args
	KwArg   *Param // **kwargs
}

// FunctionDef is `def name(args) -> returns: body`.
type FunctionDef struct {
	stmtBase
	Name       StringRef
	Args       Arguments
	Body       []StmtNode
	Decorators []ExprNode
	Returns    ExprNode // may be nil
	Docstring  string
	Async      bool
	Generator  bool // set by Sema when the body yields
	VarID      int
	ScopeBase  int          // bindings watermark at Sema time; evaluator frames rebase on it
	Enclosing  *FunctionDef // lexically enclosing function, nil at module level
}

// AttrEntry is one declared class attribute: name, annotation, default.
// Declaration order drives the synthesized constructor signature.
type AttrEntry struct {
	Name    StringRef
	Type    ExprNode
	Default ExprNode // may be nil
}

// ClassDef is `class name(bases): body` with the insertion-ordered attribute
// map extracted from annotated assignments in the body.
type ClassDef struct {
	stmtBase
	Name       StringRef
	Bases      []ExprNode
	Body       []StmtNode
	Decorators []ExprNode
	Attrs      []AttrEntry
	Offsets    map[StringRef]int
	Methods    map[StringRef]*FunctionDef
	BaseDefs   []*ClassDef // resolved by Sema
	Docstring  string
	VarID      int
}

// Insert appends an attribute, keeping the offset map in step.
func (c *ClassDef) Insert(name StringRef, typ ExprNode, def ExprNode) {
	if c.Offsets == nil {
		c.Offsets = map[StringRef]int{}
	}
	c.Offsets[name] = len(c.Attrs)
	c.Attrs = append(c.Attrs, AttrEntry{Name: name, Type: typ, Default: def})
}

// Method resolves a method by name, walking bases.
func (c *ClassDef) Method(name StringRef) *FunctionDef {
	if f, ok := c.Methods[name]; ok {
		return f
	}
	for _, b := range c.BaseDefs {
		if f := b.Method(name); f != nil {
			return f
		}
	}
	return nil
}

// AttrTotal is the instance slot count: inherited attributes first, then the
// class's own, in declaration order.
func (c *ClassDef) AttrTotal() int {
	n := len(c.Attrs)
	for _, b := range c.BaseDefs {
		n += b.AttrTotal()
	}
	return n
}

// AttrOffset resolves an attribute slot by name. Slots lay out base classes
// first, so an inherited attribute keeps its offset in every subclass.
func (c *ClassDef) AttrOffset(name StringRef) (int, bool) {
	baseSize := 0
	for _, b := range c.BaseDefs {
		if i, ok := b.AttrOffset(name); ok {
			return i, true
		}
		baseSize += b.AttrTotal()
	}
	if i, ok := c.Offsets[name]; ok {
		return baseSize + i, true
	}
	return 0, false
}

// IsSubclassOf reports the is-a relationship, reflexively.
func (c *ClassDef) IsSubclassOf(other *ClassDef) bool {
	if c == other {
		return true
	}
	for _, b := range c.BaseDefs {
		if b.IsSubclassOf(other) {
			return true
		}
	}
	return false
}

type Assign struct {
	stmtBase
	Targets []ExprNode
	Value   ExprNode
}

type AugAssign struct {
	stmtBase
	Target     ExprNode
	Op         StringRef // base operator spelling ("+"), not "+="
	Value      ExprNode
	ResolvedOp *FunctionDef
	Native     BinaryIntrinsic
}

type AnnAssign struct {
	stmtBase
	Target     ExprNode
	Annotation ExprNode
	Value      ExprNode // may be nil
}

type Return struct {
	stmtBase
	Value ExprNode // may be nil
}

type Delete struct {
	stmtBase
	Targets []ExprNode
}

type For struct {
	stmtBase
	Target ExprNode
	Iter   ExprNode
	Body   []StmtNode
	Orelse []StmtNode
	Async  bool
}

type While struct {
	stmtBase
	Test   ExprNode
	Body   []StmtNode
	Orelse []StmtNode
}

// If holds the whole elif chain in parallel Tests/Bodies arrays, with a tail
// Orelse.
type If struct {
	stmtBase
	Tests  []ExprNode
	Bodies [][]StmtNode
	Orelse []StmtNode
}

// WithItem is one `ctx as var` element.
type WithItem struct {
	ContextExpr  ExprNode
	OptionalVars ExprNode // may be nil
}

type With struct {
	stmtBase
	Items []WithItem
	Body  []StmtNode
	Async bool
}

type Raise struct {
	stmtBase
	Exc   ExprNode // may be nil (bare re-raise)
	Cause ExprNode // may be nil
}

// ExceptHandler is one `except type as name:` clause.
type ExceptHandler struct {
	Type ExprNode  // nil for bare except
	Name StringRef // 0 when unnamed
	Body []StmtNode
	Span Span
}

type Try struct {
	stmtBase
	Body      []StmtNode
	Handlers  []ExceptHandler
	Orelse    []StmtNode
	Finalbody []StmtNode
}

type Assert struct {
	stmtBase
	Test ExprNode
	Msg  ExprNode // may be nil
}

// Alias is one `name as asname` of an import.
type Alias struct {
	Name   StringRef // dotted path
	AsName StringRef // 0 when absent
}

type Import struct {
	stmtBase
	Names []Alias
}

type ImportFrom struct {
	stmtBase
	Module StringRef
	Names  []Alias
	Level  int
}

type Global struct {
	stmtBase
	Names []StringRef
}

type Nonlocal struct {
	stmtBase
	Names []StringRef
}

// ExprStmt is an expression in statement position.
type ExprStmt struct {
	stmtBase
	Value ExprNode
}

type Pass struct{ stmtBase }

type Break struct{ stmtBase }

type Continue struct{ stmtBase }

// MatchCase is one `case pattern if guard:` arm.
type MatchCase struct {
	Pattern PatternNode
	Guard   ExprNode // may be nil
	Body    []StmtNode
}

type Match struct {
	stmtBase
	Subject ExprNode
	Cases   []MatchCase
}

// Inline is a group of statements sharing one line (`a = 1; b = 2`).
type Inline struct {
	stmtBase
	Body []StmtNode
}

// --- patterns --------------------------------------------------------------

type MatchValue struct {
	patBase
	Value ExprNode
}

type MatchSingleton struct {
	patBase
	Value Value // None / True / False
}

type MatchSequence struct {
	patBase
	Patterns []PatternNode
}

type MatchMapping struct {
	patBase
	Keys     []ExprNode
	Patterns []PatternNode
	Rest     StringRef // 0 when absent
}

type MatchClass struct {
	patBase
	Cls      ExprNode
	Patterns []PatternNode
	KwdNames []StringRef
	KwdPats  []PatternNode
}

type MatchStar struct {
	patBase
	Name StringRef // 0 for `*_`
}

type MatchAs struct {
	patBase
	Pattern PatternNode // nil for a bare capture / wildcard
	Name    StringRef   // 0 for `_`
}

type MatchOr struct {
	patBase
	Patterns []PatternNode
}

// --- arena / module --------------------------------------------------------

// Arena owns a set of nodes that are released together. Nodes register with
// the arena at allocation; ownership transfer between arenas goes through
// Adopt.
type Arena struct {
	nodes []Node
}

// Adopt moves a node built elsewhere into this arena.
func (a *Arena) Adopt(n Node) Node {
	a.nodes = append(a.nodes, n)
	return n
}

// Len reports the number of owned nodes.
func (a *Arena) Len() int { return len(a.nodes) }

// Release drops every owned node.
func (a *Arena) Release() { a.nodes = nil }

// newNode registers a node with the arena, stamping kind and span.
func newNode[T Node](a *Arena, n T, k NodeKind, sp Span) T {
	n.setKind(k)
	n.SetSpan(sp)
	a.nodes = append(a.nodes, n)
	return n
}

// Module is one parsed translation unit. It owns its AST through the arena.
type Module struct {
	astBase
	Name      string
	Path      string
	Body      []StmtNode
	Docstring string
	Arena     *Arena
}

// NewModule creates an empty module with a fresh arena.
func NewModule(name, path string) *Module {
	m := &Module{Name: name, Path: path, Arena: &Arena{}}
	m.kind = KModule
	return m
}
