package mongobase

import (
	"fmt"

	"github.com/adrianmcphee/mongobase/expr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// UpdateSpec accumulates update operators for documents of type D.
//
// Operators are emitted in the order they were first used and fields in the
// order they were first set; setting the same field of the same operator
// again replaces its value in place.
//
// Example:
//
//	u := mongobase.NewUpdate[User]().
//	    Set("status", "active").
//	    Inc("logins", 1).
//	    CurrentDate("lastSeen")
type UpdateSpec[D any] struct {
	ops []updateOp
	err error
}

type updateOp struct {
	name   string
	fields bson.D
}

// NewUpdate creates an empty update
func NewUpdate[D any]() *UpdateSpec[D] {
	return &UpdateSpec[D]{}
}

func (u *UpdateSpec[D]) add(op, path string, value any) *UpdateSpec[D] {
	if path == "" {
		u.fail(fmt.Errorf("%w: %s with empty field path", ErrInvalidQuery, op))
		return u
	}
	for i := range u.ops {
		if u.ops[i].name != op {
			continue
		}
		for j := range u.ops[i].fields {
			if u.ops[i].fields[j].Key == path {
				u.ops[i].fields[j].Value = value
				return u
			}
		}
		u.ops[i].fields = append(u.ops[i].fields, bson.E{Key: path, Value: value})
		return u
	}
	u.ops = append(u.ops, updateOp{name: op, fields: bson.D{{Key: path, Value: value}}})
	return u
}

func (u *UpdateSpec[D]) fail(err error) {
	if u.err == nil {
		u.err = err
	}
}

// Set assigns value to path ($set)
func (u *UpdateSpec[D]) Set(path string, value any) *UpdateSpec[D] {
	return u.add("$set", path, value)
}

// SetField is Set with a Go field path of D, resolved through bson tags.
// An unknown field is reported by Document.
func (u *UpdateSpec[D]) SetField(goPath string, value any) *UpdateSpec[D] {
	path, err := expr.FieldPath[D](goPath)
	if err != nil {
		u.fail(fmt.Errorf("%w: %w", ErrInvalidQuery, err))
		return u
	}
	return u.Set(path, value)
}

// SetOnInsert assigns value only when an upsert inserts ($setOnInsert)
func (u *UpdateSpec[D]) SetOnInsert(path string, value any) *UpdateSpec[D] {
	return u.add("$setOnInsert", path, value)
}

// Unset removes path ($unset)
func (u *UpdateSpec[D]) Unset(path string) *UpdateSpec[D] {
	return u.add("$unset", path, "")
}

// Inc adds delta to path ($inc)
func (u *UpdateSpec[D]) Inc(path string, delta any) *UpdateSpec[D] {
	return u.add("$inc", path, delta)
}

// Mul multiplies path by factor ($mul)
func (u *UpdateSpec[D]) Mul(path string, factor any) *UpdateSpec[D] {
	return u.add("$mul", path, factor)
}

// Min lowers path to value if value is smaller ($min)
func (u *UpdateSpec[D]) Min(path string, value any) *UpdateSpec[D] {
	return u.add("$min", path, value)
}

// Max raises path to value if value is larger ($max)
func (u *UpdateSpec[D]) Max(path string, value any) *UpdateSpec[D] {
	return u.add("$max", path, value)
}

// Push appends value to the array at path ($push)
func (u *UpdateSpec[D]) Push(path string, value any) *UpdateSpec[D] {
	return u.add("$push", path, value)
}

// AddToSet appends value to the array at path unless present ($addToSet)
func (u *UpdateSpec[D]) AddToSet(path string, value any) *UpdateSpec[D] {
	return u.add("$addToSet", path, value)
}

// Pull removes matching values from the array at path ($pull)
func (u *UpdateSpec[D]) Pull(path string, condition any) *UpdateSpec[D] {
	return u.add("$pull", path, condition)
}

// Rename moves the field at path to newPath ($rename)
func (u *UpdateSpec[D]) Rename(path, newPath string) *UpdateSpec[D] {
	if newPath == "" {
		u.fail(fmt.Errorf("%w: $rename of %s to empty path", ErrInvalidQuery, path))
		return u
	}
	return u.add("$rename", path, newPath)
}

// CurrentDate sets path to the server time ($currentDate)
func (u *UpdateSpec[D]) CurrentDate(path string) *UpdateSpec[D] {
	return u.add("$currentDate", path, true)
}

// IsEmpty reports whether no operator has been added. A nil update is empty.
func (u *UpdateSpec[D]) IsEmpty() bool {
	return u == nil || (len(u.ops) == 0 && u.err == nil)
}

// Err returns the first error recorded while building the update
func (u *UpdateSpec[D]) Err() error {
	if u == nil {
		return nil
	}
	return u.err
}

// Document returns the update document, or the first error recorded while
// building it.
func (u *UpdateSpec[D]) Document() (bson.D, error) {
	if u == nil {
		return bson.D{}, nil
	}
	if u.err != nil {
		return nil, u.err
	}
	doc := make(bson.D, 0, len(u.ops))
	for _, op := range u.ops {
		doc = append(doc, bson.E{Key: op.name, Value: append(bson.D(nil), op.fields...)})
	}
	return doc, nil
}

// Equal reports whether u and other produce the same update document.
// nil and empty updates are equal; updates holding an error equal nothing
// but themselves.
func (u *UpdateSpec[D]) Equal(other *UpdateSpec[D]) bool {
	if u == other {
		return true
	}
	if u.IsEmpty() && other.IsEmpty() {
		return true
	}
	if u.Err() != nil || other.Err() != nil {
		return false
	}
	a, err := u.render()
	if err != nil {
		return false
	}
	b, err := other.render()
	if err != nil {
		return false
	}
	return a == b
}

func (u *UpdateSpec[D]) render() (string, error) {
	doc, err := u.Document()
	if err != nil {
		return "", err
	}
	return renderExtJSON(doc)
}

func (u *UpdateSpec[D]) String() string {
	s, err := u.render()
	if err != nil {
		return fmt.Sprintf("<invalid update: %v>", err)
	}
	return s
}
