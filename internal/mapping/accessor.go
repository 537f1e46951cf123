package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// Accessor reads and writes named fields on an entity, bypassing any
// validation the entity type itself might apply.
type Accessor interface {
	Get(e Entity, field string) any
	Set(e Entity, field string, value any) error
}

// Object is a tagged-variant entity: a type tag plus a field table.
type Object struct {
	Type   string
	Fields map[string]any
}

// NewObject creates an empty object of the given type.
func NewObject(typeName string) *Object {
	return &Object{Type: typeName, Fields: make(map[string]any)}
}

// EntityType implements Entity.
func (o *Object) EntityType() string {
	return o.Type
}

// Get returns the value of a field, or nil when unset.
func (o *Object) Get(field string) any {
	return o.Fields[field]
}

// Set stores a field value.
func (o *Object) Set(field string, value any) {
	if o.Fields == nil {
		o.Fields = make(map[string]any)
	}
	o.Fields[field] = value
}

// ObjectAccessor is the Accessor for *Object entities.
type ObjectAccessor struct{}

// Get implements Accessor.
func (ObjectAccessor) Get(e Entity, field string) any {
	o, ok := e.(*Object)
	if !ok || o == nil {
		return nil
	}
	return o.Get(field)
}

// Set implements Accessor.
func (ObjectAccessor) Set(e Entity, field string, value any) error {
	o, ok := e.(*Object)
	if !ok || o == nil {
		return fmt.Errorf("object accessor: unsupported entity %T", e)
	}
	o.Set(field, value)
	return nil
}

// StructAccessor reads and writes exported struct fields of *T entities.
//
// Field names come from the `uow:"name"` tag, falling back to the Go field
// name. The field index table is built once at construction. Identifier
// fields that start out unset should be pointers or strings: a zero number
// is a real identifier value.
type StructAccessor struct {
	typ    reflect.Type
	fields map[string][]int
}

var _ Accessor = (*StructAccessor)(nil)

// NewStructAccessor builds an accessor for the struct type behind sample,
// which must be a pointer to a struct.
func NewStructAccessor(sample Entity) (*StructAccessor, error) {
	rt := reflect.TypeOf(sample)
	if rt == nil || rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("struct accessor: %T is not a pointer to struct", sample)
	}
	sa := &StructAccessor{typ: rt.Elem(), fields: make(map[string][]int)}
	for _, f := range reflect.VisibleFields(sa.typ) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("uow"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		sa.fields[name] = f.Index
	}
	return sa, nil
}

// New returns a fresh zero-valued *T.
func (s *StructAccessor) New() Entity {
	return reflect.New(s.typ).Interface().(Entity)
}

// Has reports whether the struct exposes the named field.
func (s *StructAccessor) Has(field string) bool {
	_, ok := s.fields[field]
	return ok
}

// Get implements Accessor. Nil pointers, nil slices and nil interfaces
// read as nil so that "unset" looks the same as for *Object.
func (s *StructAccessor) Get(e Entity, field string) any {
	v, ok := s.value(e, field)
	if !ok {
		return nil
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

// Set implements Accessor. Numeric values are converted to the field's
// kind; nil clears the field.
func (s *StructAccessor) Set(e Entity, field string, value any) error {
	v, ok := s.value(e, field)
	if !ok {
		return fmt.Errorf("struct accessor: %s has no field %q", s.typ, field)
	}
	if value == nil {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(v.Type()):
		v.Set(rv)
	case rv.Type().ConvertibleTo(v.Type()) && isNumeric(rv.Kind()) && isNumeric(v.Kind()):
		v.Set(rv.Convert(v.Type()))
	case v.Kind() == reflect.Slice && rv.Kind() == reflect.Slice:
		out := reflect.MakeSlice(v.Type(), 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i)
			if elem.Kind() == reflect.Interface {
				elem = elem.Elem()
			}
			if !elem.Type().AssignableTo(v.Type().Elem()) {
				return fmt.Errorf("struct accessor: cannot assign %s to %s.%s element", elem.Type(), s.typ, field)
			}
			out = reflect.Append(out, elem)
		}
		v.Set(out)
	default:
		return fmt.Errorf("struct accessor: cannot assign %T to %s.%s", value, s.typ, field)
	}
	return nil
}

func (s *StructAccessor) value(e Entity, field string) (reflect.Value, bool) {
	idx, ok := s.fields[field]
	if !ok {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(e)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != s.typ {
		return reflect.Value{}, false
	}
	return rv.Elem().FieldByIndex(idx), true
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Entities normalizes an association value into a slice of entities.
// A single entity becomes a one-element slice; slices and arrays of entities
// are flattened; nil yields nil. Non-entity elements are skipped.
func Entities(value any) []Entity {
	if value == nil {
		return nil
	}
	if e, ok := value.(Entity); ok {
		if isNilPointer(e) {
			return nil
		}
		return []Entity{e}
	}
	if list, ok := value.([]Entity); ok {
		out := make([]Entity, 0, len(list))
		for _, e := range list {
			if e != nil && !isNilPointer(e) {
				out = append(out, e)
			}
		}
		return out
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]Entity, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if e, ok := rv.Index(i).Interface().(Entity); ok && e != nil && !isNilPointer(e) {
			out = append(out, e)
		}
	}
	return out
}

func isNilPointer(e Entity) bool {
	rv := reflect.ValueOf(e)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// IsPointer reports whether e is a non-nil pointer, which is required for
// object-identity tracking.
func IsPointer(e Entity) bool {
	if e == nil {
		return false
	}
	rv := reflect.ValueOf(e)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}
