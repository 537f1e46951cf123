package mapping

import (
	"fmt"
	"slices"
)

// Entity is implemented by every object the unit of work can track.
// Implementations must be pointers: the unit of work keys its tables by
// object identity.
type Entity interface {
	EntityType() string
}

// FieldKind is the storage kind of a scalar field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindFloat  FieldKind = "float"
	KindBool   FieldKind = "bool"
	KindTime   FieldKind = "time"
	KindBytes  FieldKind = "bytes"
)

// ValidKinds lists the accepted field kinds in declaration order.
var ValidKinds = []FieldKind{KindString, KindInt, KindFloat, KindBool, KindTime, KindBytes}

// IsValid reports whether k is a known field kind.
func (k FieldKind) IsValid() bool {
	return slices.Contains(ValidKinds, k)
}

// Field is a scalar persistable field.
type Field struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// IDStrategy controls when an entity receives its identifier.
type IDStrategy string

const (
	// IDAssigned means the caller sets identifier fields before save.
	IDAssigned IDStrategy = "assigned"

	// IDUUID generates a UUIDv7 string identifier at save time.
	IDUUID IDStrategy = "uuid"

	// IDSequence generates an increasing integer identifier at save time.
	IDSequence IDStrategy = "sequence"

	// IDPostInsert defers identifier assignment until the store insert
	// returns one (autoincrement / serial columns).
	IDPostInsert IDStrategy = "post_insert"
)

// ValidStrategies lists the accepted identifier strategies.
var ValidStrategies = []IDStrategy{IDAssigned, IDUUID, IDSequence, IDPostInsert}

// IsValid reports whether s is a known strategy.
func (s IDStrategy) IsValid() bool {
	return slices.Contains(ValidStrategies, s)
}

// Deferred reports whether identifiers are only known after a store insert.
func (s IDStrategy) Deferred() bool {
	return s == IDPostInsert
}

// Association describes a reference from one entity type to another.
//
// The owning side holds the foreign key (to-one) or the join table (to-many).
// Inverse sides are navigational only.
type Association struct {
	Field         string `json:"field"`
	Target        string `json:"target"`
	ToMany        bool   `json:"to_many,omitempty"`
	Owning        bool   `json:"owning,omitempty"`
	CascadeSave   bool   `json:"cascade_save,omitempty"`
	CascadeDelete bool   `json:"cascade_delete,omitempty"`
}

// OwningToOne reports whether the association is a foreign-key reference.
func (a Association) OwningToOne() bool {
	return a.Owning && !a.ToMany
}

// TypeMeta is the mapping of one entity type.
//
// Fields, Identifier and Associations of a subtype include the inherited
// ones once the type has been registered in a Registry.
type TypeMeta struct {
	Name         string        `json:"name"`
	Extends      string        `json:"extends,omitempty"`
	Root         string        `json:"root,omitempty"`
	Fields       []Field       `json:"fields"`
	Identifier   []string      `json:"identifier"`
	Associations []Association `json:"associations,omitempty"`
	Strategy     IDStrategy    `json:"strategy"`

	// Discriminator is the value stored in the root table's discriminator
	// column for rows of this type. Defaults to Name.
	Discriminator string `json:"discriminator,omitempty"`
}

// RootName returns the inheritance root used for identity-map keys.
func (t *TypeMeta) RootName() string {
	if t.Root != "" {
		return t.Root
	}
	return t.Name
}

// DiscriminatorValue returns the discriminator stored for this type.
func (t *TypeMeta) DiscriminatorValue() string {
	if t.Discriminator != "" {
		return t.Discriminator
	}
	return t.Name
}

// Field looks up a scalar field by name.
func (t *TypeMeta) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Association looks up an association by field name.
func (t *TypeMeta) Association(field string) (Association, bool) {
	for _, a := range t.Associations {
		if a.Field == field {
			return a, true
		}
	}
	return Association{}, false
}

// IsIdentifier reports whether field is part of the identifier.
func (t *TypeMeta) IsIdentifier(field string) bool {
	return slices.Contains(t.Identifier, field)
}

// PersistentFields returns scalar fields followed by association fields.
// This is the field list snapshotted by change-set computation.
func (t *TypeMeta) PersistentFields() []string {
	names := make([]string, 0, len(t.Fields)+len(t.Associations))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	for _, a := range t.Associations {
		names = append(names, a.Field)
	}
	return names
}

// OwningToOne returns the foreign-key associations in declaration order.
func (t *TypeMeta) OwningToOne() []Association {
	var out []Association
	for _, a := range t.Associations {
		if a.OwningToOne() {
			out = append(out, a)
		}
	}
	return out
}

// String implements fmt.Stringer.
func (t *TypeMeta) String() string {
	return fmt.Sprintf("%s(root=%s, id=%v, strategy=%s)", t.Name, t.RootName(), t.Identifier, t.Strategy)
}
