package expr

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// env binds parameter positions to encoded documents
type env struct {
	names []string
	docs  []bson.Raw
}

func (e *env) resolve(p *Param) (bson.Raw, error) {
	idx := p.Index
	if idx < 0 {
		for i, name := range e.names {
			if name == p.Name {
				idx = i
				break
			}
		}
	}
	if idx < 0 || idx >= len(e.docs) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParameter, p.Name)
	}
	return e.docs[idx], nil
}

func evalBool(n Node, e *env) (bool, error) {
	switch n := n.(type) {
	case *Bool:
		return n.V, nil
	case *Compare:
		left, lok, err := evalValue(n.Left, e)
		if err != nil {
			return false, err
		}
		right, rok, err := evalValue(n.Right, e)
		if err != nil {
			return false, err
		}
		return compareOp(n.Op, left, lok, right, rok), nil
	case *Membership:
		v, ok, err := evalValue(n.Field, e)
		if err != nil {
			return false, err
		}
		found := false
		for _, candidate := range n.Values {
			if matchesEqual(v, ok, candidate) {
				found = true
				break
			}
		}
		return found != n.Negate, nil
	case *Exists:
		_, ok, err := evalValue(n.Field, e)
		if err != nil {
			return false, err
		}
		return ok == n.Want, nil
	case *Logical:
		for _, term := range n.Terms {
			v, err := evalBool(term, e)
			if err != nil {
				return false, err
			}
			if v == n.Any {
				return n.Any, nil
			}
		}
		return !n.Any, nil
	case *Not:
		v, err := evalBool(n.Term, e)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *Value:
		b, ok := n.V.(bool)
		if !ok {
			return false, fmt.Errorf("%w: literal %v is not a boolean", ErrUnsupported, n.V)
		}
		return b, nil
	case *Field:
		v, ok, err := evalValue(n, e)
		if err != nil {
			return false, err
		}
		b, isBool := v.(bool)
		return ok && isBool && b, nil
	case nil:
		return false, fmt.Errorf("%w: nil node", ErrUnsupported)
	}
	return false, fmt.Errorf("%w: %T is not a condition", ErrUnsupported, n)
}

// evalValue returns the value of n and whether it is present
func evalValue(n Node, e *env) (any, bool, error) {
	switch n := n.(type) {
	case *Value:
		return n.V, true, nil
	case *Field:
		raw, err := source(n.Of, e)
		if err != nil {
			return nil, false, err
		}
		return lookup(raw, n.Path)
	case *Param, *Captured:
		raw, err := source(n, e)
		if err != nil {
			return nil, false, err
		}
		return raw, true, nil
	case *Bool:
		return n.V, true, nil
	}
	v, err := evalBool(n, e)
	return v, err == nil, err
}

func source(n Node, e *env) (bson.Raw, error) {
	switch n := n.(type) {
	case *Param:
		if e == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnboundParameter, n.Name)
		}
		return e.resolve(n)
	case *Captured:
		if n.err != nil {
			return nil, n.err
		}
		return n.raw, nil
	}
	return nil, fmt.Errorf("%w: field of %T", ErrUnsupported, n)
}

// lookup reads a dotted path from raw
func lookup(raw bson.Raw, path string) (any, bool, error) {
	if path == "" {
		return raw, true, nil
	}
	rv, err := raw.LookupErr(strings.Split(path, ".")...)
	if err != nil {
		return nil, false, nil
	}
	var v any
	if err := rv.Unmarshal(&v); err != nil {
		return nil, false, fmt.Errorf("expr: decode %q: %w", path, err)
	}
	return v, true, nil
}

func compareOp(op Op, left any, lok bool, right any, rok bool) bool {
	switch op {
	case OpEq:
		return matchesEqual(left, lok, right) || (rok && matchesEqual(right, rok, left))
	case OpNe:
		return !(matchesEqual(left, lok, right) || (rok && matchesEqual(right, rok, left)))
	}
	if !lok || !rok {
		return false
	}
	c, ok := compareValues(left, right)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

// matchesEqual follows query semantics: a missing field equals nil and an
// array field matches when any element does.
func matchesEqual(v any, present bool, want any) bool {
	if !present {
		return want == nil
	}
	if equalValues(v, want) {
		return true
	}
	if arr, ok := v.(bson.A); ok {
		if _, wantArr := want.(bson.A); !wantArr {
			for _, elem := range arr {
				if equalValues(elem, want) {
					return true
				}
			}
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// compareValues orders a and b when they are of comparable kinds
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	if isNumber(a) && isNumber(b) {
		x, errA := cast.ToFloat64E(a)
		y, errB := cast.ToFloat64E(b)
		if errA != nil || errB != nil {
			return 0, false
		}
		return cmp(x < y, x > y), true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp(!x && y, x && !y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bson.ObjectID:
		y, ok := b.(bson.ObjectID)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.Hex(), y.Hex()), true
	}
	return 0, false
}

func cmp(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// normalize maps driver representations onto plain Go values
func normalize(v any) any {
	switch x := v.(type) {
	case bson.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC().Truncate(time.Millisecond)
	case *bson.ObjectID:
		if x == nil {
			return nil
		}
		return *x
	case []any:
		return bson.A(x)
	}
	return v
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}
