package expr

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// operandKind classifies a comparison side during rendering
type operandKind int

const (
	kindLiteral  operandKind = iota // value known at render time
	kindDocument                    // field of the queried document
)

type renderedOperand struct {
	kind    operandKind
	path    string
	value   any
	present bool // literal only: false when read from a field the constant lacks
}

func render(n Node, names []string) (bson.D, error) {
	switch n := n.(type) {
	case nil:
		return bson.D{}, nil
	case *Bool:
		if n.V {
			return bson.D{}, nil
		}
		return bson.D{{Key: "$expr", Value: false}}, nil
	case *Compare:
		return renderCompare(n, names)
	case *Membership:
		side, err := renderOperand(n.Field, names)
		if err != nil {
			return nil, err
		}
		op := "$in"
		if n.Negate {
			op = "$nin"
		}
		values := bson.A(append([]any{}, n.Values...))
		if side.kind == kindLiteral {
			in := false
			for _, v := range n.Values {
				if matchesEqual(side.value, side.present, v) {
					in = true
					break
				}
			}
			return render(&Bool{V: in != n.Negate}, names)
		}
		return bson.D{{Key: side.path, Value: bson.D{{Key: op, Value: values}}}}, nil
	case *Exists:
		side, err := renderOperand(n.Field, names)
		if err != nil {
			return nil, err
		}
		if side.kind == kindLiteral {
			return render(&Bool{V: side.present == n.Want}, names)
		}
		return bson.D{{Key: side.path, Value: bson.D{{Key: "$exists", Value: n.Want}}}}, nil
	case *Logical:
		op := "$and"
		if n.Any {
			op = "$or"
		}
		if len(n.Terms) == 0 {
			return render(&Bool{V: !n.Any}, names)
		}
		terms := make(bson.A, 0, len(n.Terms))
		for _, term := range n.Terms {
			d, err := render(term, names)
			if err != nil {
				return nil, err
			}
			terms = append(terms, d)
		}
		return bson.D{{Key: op, Value: terms}}, nil
	case *Not:
		d, err := render(n.Term, names)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: bson.A{d}}}, nil
	case *Field:
		side, err := renderOperand(n, names)
		if err != nil {
			return nil, err
		}
		if side.kind == kindLiteral {
			b, _ := side.value.(bool)
			return render(&Bool{V: b}, names)
		}
		return bson.D{{Key: side.path, Value: bson.D{{Key: string(OpEq), Value: true}}}}, nil
	case *Value:
		b, ok := n.V.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: literal %v is not a boolean", ErrUnsupported, n.V)
		}
		return render(&Bool{V: b}, names)
	}
	return nil, fmt.Errorf("%w: %T is not a condition", ErrUnsupported, n)
}

func renderCompare(n *Compare, names []string) (bson.D, error) {
	left, err := renderOperand(n.Left, names)
	if err != nil {
		return nil, err
	}
	right, err := renderOperand(n.Right, names)
	if err != nil {
		return nil, err
	}
	switch {
	case left.kind == kindDocument && right.kind == kindLiteral:
		return bson.D{{Key: left.path, Value: bson.D{{Key: string(n.Op), Value: right.value}}}}, nil
	case left.kind == kindLiteral && right.kind == kindDocument:
		return bson.D{{Key: right.path, Value: bson.D{{Key: string(n.Op.flipped()), Value: left.value}}}}, nil
	case left.kind == kindDocument && right.kind == kindDocument:
		return bson.D{{Key: "$expr", Value: bson.D{{Key: string(n.Op), Value: bson.A{"$" + left.path, "$" + right.path}}}}}, nil
	}
	// both sides are known: fold to a constant
	return render(&Bool{V: compareOp(n.Op, left.value, left.present, right.value, right.present)}, names)
}

func renderOperand(n Node, names []string) (renderedOperand, error) {
	switch n := n.(type) {
	case *Value:
		return renderedOperand{kind: kindLiteral, value: n.V, present: true}, nil
	case *Bool:
		return renderedOperand{kind: kindLiteral, value: n.V, present: true}, nil
	case *Field:
		if n == nil {
			return renderedOperand{}, fmt.Errorf("%w: nil field", ErrUnsupported)
		}
		switch of := n.Of.(type) {
		case *Param:
			if !isDocument(of, names) {
				return renderedOperand{}, fmt.Errorf("%w: %q", ErrUnboundParameter, of.Name)
			}
			if n.Path == "" {
				return renderedOperand{}, fmt.Errorf("%w: whole-document comparison", ErrUnsupported)
			}
			return renderedOperand{kind: kindDocument, path: n.Path}, nil
		case *Captured:
			if of.err != nil {
				return renderedOperand{}, of.err
			}
			v, ok, err := lookup(of.raw, n.Path)
			if err != nil {
				return renderedOperand{}, err
			}
			return renderedOperand{kind: kindLiteral, value: v, present: ok}, nil
		}
		return renderedOperand{}, fmt.Errorf("%w: field of %T", ErrUnsupported, n.Of)
	case *Param:
		if !isDocument(n, names) {
			return renderedOperand{}, fmt.Errorf("%w: %q", ErrUnboundParameter, n.Name)
		}
		return renderedOperand{}, fmt.Errorf("%w: whole-document comparison", ErrUnsupported)
	case *Captured:
		if n.err != nil {
			return renderedOperand{}, n.err
		}
		return renderedOperand{kind: kindLiteral, value: n.raw, present: true}, nil
	}
	return renderedOperand{}, fmt.Errorf("%w: %T is not a value", ErrUnsupported, n)
}

// isDocument reports whether p refers to position 0, the queried document
func isDocument(p *Param, names []string) bool {
	if p.Index >= 0 {
		return p.Index == 0
	}
	return len(names) > 0 && p.Name == names[0]
}
