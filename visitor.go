// visitor.go — kind-keyed dispatch scaffold.
//
// The scaffold is parameterized by the visitor's return type; VisitExpr and
// VisitStmt dispatch on the node kind and carry a depth so implementations
// can enforce the recursion limit.
package lython

import "fmt"

// MaxVisitorDepth bounds recursion through the dispatch scaffold.
const MaxVisitorDepth = 512

// internalError signals an invariant violation; it is fatal and carries the
// source span of the current node.
type internalError struct {
	Msg  string
	Span Span
}

func (e *internalError) Error() string { return e.Msg }

func raiseInternal(span Span, format string, args ...any) {
	panic(&internalError{Msg: fmt.Sprintf(format, args...), Span: span})
}

// ExprVisitor is the expression half of the scaffold.
type ExprVisitor[R any] interface {
	Constant(*Constant, int) R
	NameExpr(*Name, int) R
	BinOpExpr(*BinOp, int) R
	BoolOpExpr(*BoolOp, int) R
	UnaryOpExpr(*UnaryOp, int) R
	CompareExpr(*Compare, int) R
	CallExpr(*Call, int) R
	AttributeExpr(*Attribute, int) R
	SubscriptExpr(*Subscript, int) R
	SliceExpr(*Slice, int) R
	LambdaExpr(*Lambda, int) R
	IfExpExpr(*IfExp, int) R
	ListExprExpr(*ListExpr, int) R
	TupleExprExpr(*TupleExpr, int) R
	SetExprExpr(*SetExpr, int) R
	DictExprExpr(*DictExpr, int) R
	ListCompExpr(*ListComp, int) R
	SetCompExpr(*SetComp, int) R
	DictCompExpr(*DictComp, int) R
	GeneratorExpExpr(*GeneratorExp, int) R
	NamedExprExpr(*NamedExpr, int) R
	StarredExpr(*Starred, int) R
	AwaitExpr(*Await, int) R
	YieldExpr(*Yield, int) R
	YieldFromExpr(*YieldFrom, int) R
	JoinedStrExpr(*JoinedStr, int) R
	FormattedValueExpr(*FormattedValue, int) R
	ArrowExpr(*Arrow, int) R
	DictTypeExpr(*DictType, int) R
	ArrayTypeExpr(*ArrayType, int) R
	SetTypeExpr(*SetType, int) R
	TupleTypeExpr(*TupleType, int) R
	BuiltinTypeExpr(*BuiltinType, int) R
	ClassTypeExpr(*ClassType, int) R
}

// StmtVisitor is the statement half of the scaffold.
type StmtVisitor[R any] interface {
	FunctionDefStmt(*FunctionDef, int) R
	ClassDefStmt(*ClassDef, int) R
	AssignStmt(*Assign, int) R
	AugAssignStmt(*AugAssign, int) R
	AnnAssignStmt(*AnnAssign, int) R
	ReturnStmt(*Return, int) R
	DeleteStmt(*Delete, int) R
	ForStmt(*For, int) R
	WhileStmt(*While, int) R
	IfStmt(*If, int) R
	WithStmt(*With, int) R
	RaiseStmt(*Raise, int) R
	TryStmt(*Try, int) R
	AssertStmt(*Assert, int) R
	ImportStmt(*Import, int) R
	ImportFromStmt(*ImportFrom, int) R
	GlobalStmt(*Global, int) R
	NonlocalStmt(*Nonlocal, int) R
	ExprStmtStmt(*ExprStmt, int) R
	PassStmt(*Pass, int) R
	BreakStmt(*Break, int) R
	ContinueStmt(*Continue, int) R
	MatchStmt(*Match, int) R
	InlineStmt(*Inline, int) R
}

// VisitExpr dispatches an expression node through the visitor.
func VisitExpr[R any](v ExprVisitor[R], n ExprNode, depth int) R {
	if depth > MaxVisitorDepth {
		raiseInternal(n.GetSpan(), "recursion limit exceeded")
	}
	switch e := n.(type) {
	case *Constant:
		return v.Constant(e, depth+1)
	case *Name:
		return v.NameExpr(e, depth+1)
	case *BinOp:
		return v.BinOpExpr(e, depth+1)
	case *BoolOp:
		return v.BoolOpExpr(e, depth+1)
	case *UnaryOp:
		return v.UnaryOpExpr(e, depth+1)
	case *Compare:
		return v.CompareExpr(e, depth+1)
	case *Call:
		return v.CallExpr(e, depth+1)
	case *Attribute:
		return v.AttributeExpr(e, depth+1)
	case *Subscript:
		return v.SubscriptExpr(e, depth+1)
	case *Slice:
		return v.SliceExpr(e, depth+1)
	case *Lambda:
		return v.LambdaExpr(e, depth+1)
	case *IfExp:
		return v.IfExpExpr(e, depth+1)
	case *ListExpr:
		return v.ListExprExpr(e, depth+1)
	case *TupleExpr:
		return v.TupleExprExpr(e, depth+1)
	case *SetExpr:
		return v.SetExprExpr(e, depth+1)
	case *DictExpr:
		return v.DictExprExpr(e, depth+1)
	case *ListComp:
		return v.ListCompExpr(e, depth+1)
	case *SetComp:
		return v.SetCompExpr(e, depth+1)
	case *DictComp:
		return v.DictCompExpr(e, depth+1)
	case *GeneratorExp:
		return v.GeneratorExpExpr(e, depth+1)
	case *NamedExpr:
		return v.NamedExprExpr(e, depth+1)
	case *Starred:
		return v.StarredExpr(e, depth+1)
	case *Await:
		return v.AwaitExpr(e, depth+1)
	case *Yield:
		return v.YieldExpr(e, depth+1)
	case *YieldFrom:
		return v.YieldFromExpr(e, depth+1)
	case *JoinedStr:
		return v.JoinedStrExpr(e, depth+1)
	case *FormattedValue:
		return v.FormattedValueExpr(e, depth+1)
	case *Arrow:
		return v.ArrowExpr(e, depth+1)
	case *DictType:
		return v.DictTypeExpr(e, depth+1)
	case *ArrayType:
		return v.ArrayTypeExpr(e, depth+1)
	case *SetType:
		return v.SetTypeExpr(e, depth+1)
	case *TupleType:
		return v.TupleTypeExpr(e, depth+1)
	case *BuiltinType:
		return v.BuiltinTypeExpr(e, depth+1)
	case *ClassType:
		return v.ClassTypeExpr(e, depth+1)
	}
	raiseInternal(n.GetSpan(), "unhandled expression kind %d", n.Kind())
	var zero R
	return zero
}

// VisitStmt dispatches a statement node through the visitor.
func VisitStmt[R any](v StmtVisitor[R], n StmtNode, depth int) R {
	if depth > MaxVisitorDepth {
		raiseInternal(n.GetSpan(), "recursion limit exceeded")
	}
	switch s := n.(type) {
	case *FunctionDef:
		return v.FunctionDefStmt(s, depth+1)
	case *ClassDef:
		return v.ClassDefStmt(s, depth+1)
	case *Assign:
		return v.AssignStmt(s, depth+1)
	case *AugAssign:
		return v.AugAssignStmt(s, depth+1)
	case *AnnAssign:
		return v.AnnAssignStmt(s, depth+1)
	case *Return:
		return v.ReturnStmt(s, depth+1)
	case *Delete:
		return v.DeleteStmt(s, depth+1)
	case *For:
		return v.ForStmt(s, depth+1)
	case *While:
		return v.WhileStmt(s, depth+1)
	case *If:
		return v.IfStmt(s, depth+1)
	case *With:
		return v.WithStmt(s, depth+1)
	case *Raise:
		return v.RaiseStmt(s, depth+1)
	case *Try:
		return v.TryStmt(s, depth+1)
	case *Assert:
		return v.AssertStmt(s, depth+1)
	case *Import:
		return v.ImportStmt(s, depth+1)
	case *ImportFrom:
		return v.ImportFromStmt(s, depth+1)
	case *Global:
		return v.GlobalStmt(s, depth+1)
	case *Nonlocal:
		return v.NonlocalStmt(s, depth+1)
	case *ExprStmt:
		return v.ExprStmtStmt(s, depth+1)
	case *Pass:
		return v.PassStmt(s, depth+1)
	case *Break:
		return v.BreakStmt(s, depth+1)
	case *Continue:
		return v.ContinueStmt(s, depth+1)
	case *Match:
		return v.MatchStmt(s, depth+1)
	case *Inline:
		return v.InlineStmt(s, depth+1)
	}
	raiseInternal(n.GetSpan(), "unhandled statement kind %d", n.Kind())
	var zero R
	return zero
}
