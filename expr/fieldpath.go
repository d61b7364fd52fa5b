package expr

import (
	"fmt"
	"reflect"
	"strings"
)

// FieldPath resolves a Go field path of D, such as "Address.City", to the
// dotted BSON path the driver stores it under. Names come from bson struct
// tags; untagged fields use the lowercased Go name, as the driver does.
func FieldPath[D any](goPath string) (string, error) {
	return fieldPath(reflect.TypeOf((*D)(nil)).Elem(), goPath)
}

// MustFieldPath is FieldPath for paths known to be valid.
func MustFieldPath[D any](goPath string) string {
	path, err := FieldPath[D](goPath)
	if err != nil {
		panic(err)
	}
	return path
}

// Doc reads the Go field path of D from the parameter called param.
func Doc[D any](param, goPath string) (*Field, error) {
	path, err := FieldPath[D](goPath)
	if err != nil {
		return nil, err
	}
	return F(param, path), nil
}

func fieldPath(t reflect.Type, goPath string) (string, error) {
	if goPath == "" {
		return "", fmt.Errorf("%w: empty field path", ErrUnknownField)
	}
	parts := make([]string, 0, strings.Count(goPath, ".")+1)
	for _, name := range strings.Split(goPath, ".") {
		t = elem(t)
		if t.Kind() != reflect.Struct {
			return "", fmt.Errorf("%w: %s: %s is not a struct", ErrUnknownField, goPath, t)
		}
		f, ok := t.FieldByName(name)
		if !ok {
			return "", fmt.Errorf("%w: %s: %s has no field %s", ErrUnknownField, goPath, t, name)
		}
		key, skip := bsonKey(f)
		if skip {
			return "", fmt.Errorf("%w: %s: field %s is not stored", ErrUnknownField, goPath, name)
		}
		if key != "" {
			parts = append(parts, key)
		}
		t = f.Type
	}
	return strings.Join(parts, "."), nil
}

// bsonKey returns the stored key of f; an empty key means the field is inlined
func bsonKey(f reflect.StructField) (key string, skip bool) {
	tag, ok := f.Tag.Lookup("bson")
	if !ok {
		return strings.ToLower(f.Name), false
	}
	if tag == "-" {
		return "", true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		for _, opt := range strings.Split(opts, ",") {
			if opt == "inline" {
				return "", false
			}
		}
		return strings.ToLower(f.Name), false
	}
	return name, false
}

func elem(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	return t
}
