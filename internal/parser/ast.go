package parser

import "github.com/salto-io/workspace-core/internal/element"

// ExprKind tags the alternative an Expr holds, following spec.md §4.1's
// grammar: primitive literal, list, object, reference, function call, or
// (error-recovery mode only) wildcard dynamic.
type ExprKind int

const (
	ExprPrimitive ExprKind = iota
	ExprList
	ExprObject
	ExprReference
	ExprCall
	ExprTemplate
	ExprDynamic
)

// TemplatePart is one fragment of a quoted-string template: either a
// literal run of decoded text, or a ${path.to.value} reference.
type TemplatePart struct {
	Literal string
	RefPath string // non-empty when this part is a reference
}

// Expr is a parsed expression node with its source range attached.
type Expr struct {
	Kind  ExprKind
	Range element.SourceRange

	Primitive any // string | float64 | bool, for ExprPrimitive

	Items []*Expr // ExprList

	// ExprObject: parallel slices preserve declaration order, which
	// matters for the Open Question resolution in DESIGN.md (lowering
	// builds map expressions into a Go map, so structural identity never
	// depends on FieldOrder).
	FieldOrder []string
	Fields     map[string]*Expr

	Ref string // ExprReference: dotted path text, e.g. "x.T.inst1.a"

	Call string  // ExprCall: function name
	Args []*Expr // ExprCall: arguments

	Template []TemplatePart // ExprTemplate

	Wildcard bool // ExprDynamic
}

// BlockItem is either a nested Block or a key = Expr attribute.
type BlockItem struct {
	IsBlock bool
	Block   *Block

	Key   string
	Value *Expr

	Range element.SourceRange
}

// Block is the generic parse tree node for "WORD (WORD|STRING)* '{' ... '}'".
// The first label disambiguates type vs instance vs variable block during
// lowering (internal/parser/lower.go); it is never interpreted here.
type Block struct {
	Keyword string   // block type, the first word
	Labels  []string // remaining words/strings before '{'
	Items   []*BlockItem
	Range   element.SourceRange
}
