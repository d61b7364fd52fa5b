// Package expr provides a small predicate AST over MongoDB documents.
//
// Predicates are built from a closed set of nodes (parameter references, field
// access, literals, comparisons and boolean combinators) so they can be both
// evaluated in-process and rendered into a MongoDB query document:
//
//	// one parameter: "d.age > 30 && d.status == active"
//	adults := expr.NewPredicate[User]("d", expr.And(
//	    expr.Gt(expr.F("d", "age"), 30),
//	    expr.Eq(expr.F("d", "status"), "active"),
//	))
//
//	// two parameters: "documents of the same customer as this one"
//	sameCustomer := expr.NewPredicate2[Order]("self", "other",
//	    expr.Eq(expr.F("self", "customer_id"), expr.F("other", "customer_id")))
//
// A two-parameter predicate is rewritten once (Rewrite) so that every parameter
// reference carries its position, then completed per document (Complete), which
// binds the second parameter to a constant and yields a one-parameter predicate.
package expr

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrUnknownParameter is returned when a parameter reference names no declared parameter
	ErrUnknownParameter = errors.New("expr: unknown parameter")

	// ErrParameterCount is returned when a predicate declares the wrong number of parameters
	ErrParameterCount = errors.New("expr: wrong number of parameters")

	// ErrUnboundParameter is returned when rendering meets a parameter other than the document
	ErrUnboundParameter = errors.New("expr: parameter is not bound to the document")

	// ErrUnsupported is returned for node combinations that have no query form
	ErrUnsupported = errors.New("expr: unsupported expression")

	// ErrUnknownField is returned when a Go field path does not resolve to a stored field
	ErrUnknownField = errors.New("expr: unknown field")
)

// Node is one element of a predicate tree. The set of node types is closed.
type Node interface {
	node()
}

// Op is a comparison operator, spelled as its MongoDB query operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
)

// flipped returns the operator that keeps meaning when operands are swapped
func (o Op) flipped() Op {
	switch o {
	case OpGt:
		return OpLt
	case OpGte:
		return OpLte
	case OpLt:
		return OpGt
	case OpLte:
		return OpGte
	}
	return o
}

func (o Op) symbol() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	}
	return string(o)
}

// Param references a declared parameter by name. Index is -1 until the
// predicate is rewritten; afterwards it holds the declared position.
type Param struct {
	Name  string
	Index int
}

// Captured stands in for a parameter that was bound to a constant document.
type Captured struct {
	raw bson.Raw
	err error
}

// Field reads Path (dotted) from the document Of refers to.
type Field struct {
	Of   Node
	Path string
}

// Value is a literal.
type Value struct {
	V any
}

// Compare applies Op to Left and Right.
type Compare struct {
	Op          Op
	Left, Right Node
}

// Membership tests whether Field is (or, when Negate is set, is not) one of Values.
type Membership struct {
	Field  *Field
	Values []any
	Negate bool
}

// Exists tests for presence of Field.
type Exists struct {
	Field *Field
	Want  bool
}

// Logical joins Terms with "and" (Any false) or "or" (Any true).
type Logical struct {
	Any   bool
	Terms []Node
}

// Not negates Term.
type Not struct {
	Term Node
}

// Bool is a constant truth value.
type Bool struct {
	V bool
}

func (*Param) node()      {}
func (*Captured) node()   {}
func (*Field) node()      {}
func (*Value) node()      {}
func (*Compare) node()    {}
func (*Membership) node() {}
func (*Exists) node()     {}
func (*Logical) node()    {}
func (*Not) node()        {}
func (*Bool) node()       {}

// P references the parameter called name.
func P(name string) *Param { return &Param{Name: name, Index: -1} }

// F reads path from the parameter called param.
func F(param, path string) *Field { return &Field{Of: P(param), Path: path} }

// V wraps a literal.
func V(v any) *Value { return &Value{V: v} }

// operand turns a non-Node argument into a literal
func operand(v any) Node {
	if n, ok := v.(Node); ok {
		return n
	}
	return &Value{V: v}
}

func Eq(left, right any) Node {
	return &Compare{Op: OpEq, Left: operand(left), Right: operand(right)}
}

func Ne(left, right any) Node {
	return &Compare{Op: OpNe, Left: operand(left), Right: operand(right)}
}

func Gt(left, right any) Node {
	return &Compare{Op: OpGt, Left: operand(left), Right: operand(right)}
}

func Gte(left, right any) Node {
	return &Compare{Op: OpGte, Left: operand(left), Right: operand(right)}
}

func Lt(left, right any) Node {
	return &Compare{Op: OpLt, Left: operand(left), Right: operand(right)}
}

func Lte(left, right any) Node {
	return &Compare{Op: OpLte, Left: operand(left), Right: operand(right)}
}

// In matches when field equals any of values.
func In(field *Field, values ...any) Node { return &Membership{Field: field, Values: values} }

// Nin matches when field equals none of values.
func Nin(field *Field, values ...any) Node {
	return &Membership{Field: field, Values: values, Negate: true}
}

// Has matches documents where field is present.
func Has(field *Field) Node { return &Exists{Field: field, Want: true} }

// Missing matches documents where field is absent.
func Missing(field *Field) Node { return &Exists{Field: field, Want: false} }

func And(terms ...Node) Node { return &Logical{Terms: terms} }
func Or(terms ...Node) Node  { return &Logical{Any: true, Terms: terms} }
func Negate(term Node) Node  { return &Not{Term: term} }

// True matches every document.
func True() Node { return &Bool{V: true} }

// False matches no document.
func False() Node { return &Bool{V: false} }
