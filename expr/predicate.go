package expr

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Predicate is a one-parameter predicate over documents of type D.
type Predicate[D any] struct {
	param string
	body  Node
}

// NewPredicate declares a predicate whose only parameter is called param.
func NewPredicate[D any](param string, body Node) Predicate[D] {
	return Predicate[D]{param: param, body: body}
}

// Body returns the root node.
func (p Predicate[D]) Body() Node { return p.body }

// Param returns the declared parameter name.
func (p Predicate[D]) Param() string { return p.param }

// IsZero reports whether the predicate has no body.
func (p Predicate[D]) IsZero() bool { return p.body == nil }

// Eval applies the predicate to doc.
func (p Predicate[D]) Eval(doc D) (bool, error) {
	raw, err := toRaw(doc)
	if err != nil {
		return false, err
	}
	return evalBool(p.body, &env{names: []string{p.param}, docs: []bson.Raw{raw}})
}

// Filter renders the predicate as a MongoDB query document.
func (p Predicate[D]) Filter() (bson.D, error) {
	return render(p.body, []string{p.param})
}

func (p Predicate[D]) String() string {
	return fmt.Sprintf("%s => %s", p.param, Format(p.body))
}

// Predicate2 is a two-parameter predicate (self, other) over documents of type D.
type Predicate2[D any] struct {
	self, other string
	body        Node
}

// NewPredicate2 declares a predicate with parameters self (position 0) and other (position 1).
func NewPredicate2[D any](self, other string, body Node) Predicate2[D] {
	return Predicate2[D]{self: self, other: other, body: body}
}

// Eval applies the predicate to the pair (self, other).
func (p Predicate2[D]) Eval(self, other D) (bool, error) {
	a, err := toRaw(self)
	if err != nil {
		return false, err
	}
	b, err := toRaw(other)
	if err != nil {
		return false, err
	}
	return evalBool(p.body, &env{names: []string{p.self, p.other}, docs: []bson.Raw{a, b}})
}

func (p Predicate2[D]) String() string {
	return fmt.Sprintf("(%s, %s) => %s", p.self, p.other, Format(p.body))
}

// Tagged is a two-parameter predicate in which every parameter reference
// carries its declared position.
type Tagged[D any] struct {
	params [2]string
	body   Node
}

// Body returns the rewritten root node.
func (t Tagged[D]) Body() Node { return t.body }

// Params returns the declared parameter names in position order.
func (t Tagged[D]) Params() [2]string { return t.params }

func (t Tagged[D]) String() string {
	return fmt.Sprintf("(%s, %s) => %s", t.params[0], t.params[1], Format(t.body))
}

// Rewrite tags every parameter reference in p with the position of the
// parameter it names. p itself is left untouched.
func Rewrite[D any](p Predicate2[D]) (Tagged[D], error) {
	if p.self == "" || p.other == "" || p.self == p.other {
		return Tagged[D]{}, fmt.Errorf("%w: want two distinct parameters, got %q and %q",
			ErrParameterCount, p.self, p.other)
	}
	if p.body == nil {
		return Tagged[D]{}, fmt.Errorf("%w: predicate has no body", ErrUnsupported)
	}
	positions := map[string]int{p.self: 0, p.other: 1}
	body, err := tag(p.body, positions)
	if err != nil {
		return Tagged[D]{}, err
	}
	return Tagged[D]{params: [2]string{p.self, p.other}, body: body}, nil
}

// Complete binds position 1 of t to constant. References at position 0
// become the parameter of the returned predicate.
func Complete[D any](t Tagged[D], constant D) Predicate[D] {
	raw, err := toRaw(constant)
	bound := &Captured{raw: raw, err: err}
	return Predicate[D]{param: t.params[0], body: substitute(t.body, 1, bound)}
}

func tag(n Node, positions map[string]int) (Node, error) {
	switch n := n.(type) {
	case *Param:
		idx, ok := positions[n.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParameter, n.Name)
		}
		return &Param{Name: n.Name, Index: idx}, nil
	case *Field:
		of, err := tag(n.Of, positions)
		if err != nil {
			return nil, err
		}
		return &Field{Of: of, Path: n.Path}, nil
	case *Compare:
		left, err := tag(n.Left, positions)
		if err != nil {
			return nil, err
		}
		right, err := tag(n.Right, positions)
		if err != nil {
			return nil, err
		}
		return &Compare{Op: n.Op, Left: left, Right: right}, nil
	case *Membership:
		if n.Field == nil {
			return nil, fmt.Errorf("%w: membership without field", ErrUnsupported)
		}
		f, err := tag(n.Field, positions)
		if err != nil {
			return nil, err
		}
		return &Membership{Field: f.(*Field), Values: n.Values, Negate: n.Negate}, nil
	case *Exists:
		if n.Field == nil {
			return nil, fmt.Errorf("%w: exists without field", ErrUnsupported)
		}
		f, err := tag(n.Field, positions)
		if err != nil {
			return nil, err
		}
		return &Exists{Field: f.(*Field), Want: n.Want}, nil
	case *Logical:
		terms := make([]Node, 0, len(n.Terms))
		for _, term := range n.Terms {
			t, err := tag(term, positions)
			if err != nil {
				return nil, err
			}
			terms = append(terms, t)
		}
		return &Logical{Any: n.Any, Terms: terms}, nil
	case *Not:
		t, err := tag(n.Term, positions)
		if err != nil {
			return nil, err
		}
		return &Not{Term: t}, nil
	case *Value, *Bool, *Captured:
		return n, nil
	case nil:
		return nil, fmt.Errorf("%w: nil node", ErrUnsupported)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, n)
}

func substitute(n Node, index int, bound *Captured) Node {
	switch n := n.(type) {
	case *Param:
		if n.Index == index {
			return bound
		}
		return n
	case *Field:
		return &Field{Of: substitute(n.Of, index, bound), Path: n.Path}
	case *Compare:
		return &Compare{Op: n.Op, Left: substitute(n.Left, index, bound), Right: substitute(n.Right, index, bound)}
	case *Membership:
		return &Membership{Field: substitute(n.Field, index, bound).(*Field), Values: n.Values, Negate: n.Negate}
	case *Exists:
		return &Exists{Field: substitute(n.Field, index, bound).(*Field), Want: n.Want}
	case *Logical:
		terms := make([]Node, len(n.Terms))
		for i, term := range n.Terms {
			terms[i] = substitute(term, index, bound)
		}
		return &Logical{Any: n.Any, Terms: terms}
	case *Not:
		return &Not{Term: substitute(n.Term, index, bound)}
	}
	return n
}

func toRaw(doc any) (bson.Raw, error) {
	if raw, ok := doc.(bson.Raw); ok {
		return raw, nil
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("expr: encode document: %w", err)
	}
	return bson.Raw(data), nil
}
