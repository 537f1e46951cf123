package unitofwork

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/uow/internal/mapping"
)

// IDGenerator produces identifier values for new entities of one type.
//
// When PostInsert returns true the generator is never asked to Generate;
// the identifier comes back from Persister.Insert instead.
type IDGenerator interface {
	Generate(e mapping.Entity) ([]any, error)
	PostInsert() bool
}

// AssignedGenerator expects the caller to have set identifier fields.
type AssignedGenerator struct {
	Accessor   mapping.Accessor
	Identifier []string
}

// Generate returns the identifier already on the entity.
func (g AssignedGenerator) Generate(e mapping.Entity) ([]any, error) {
	values := make([]any, len(g.Identifier))
	for i, f := range g.Identifier {
		v := g.Accessor.Get(e, f)
		if isBlank(v) {
			return nil, fmt.Errorf("assigned identifier field %q is not set", f)
		}
		values[i] = v
	}
	return values, nil
}

// PostInsert implements IDGenerator.
func (AssignedGenerator) PostInsert() bool { return false }

// UUIDGenerator assigns UUIDv7 strings.
type UUIDGenerator struct{}

// Generate implements IDGenerator.
func (UUIDGenerator) Generate(mapping.Entity) ([]any, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return []any{id.String()}, nil
}

// PostInsert implements IDGenerator.
func (UUIDGenerator) PostInsert() bool { return false }

// SequenceGenerator assigns increasing integers starting after Start.
// It is scoped to one unit of work and not safe for concurrent use.
type SequenceGenerator struct {
	next int64
}

// NewSequenceGenerator creates a sequence whose first value is start+1.
func NewSequenceGenerator(start int64) *SequenceGenerator {
	return &SequenceGenerator{next: start}
}

// Generate implements IDGenerator.
func (g *SequenceGenerator) Generate(mapping.Entity) ([]any, error) {
	g.next++
	return []any{g.next}, nil
}

// PostInsert implements IDGenerator.
func (*SequenceGenerator) PostInsert() bool { return false }

// PostInsertGenerator marks identifiers produced by the store on insert.
type PostInsertGenerator struct{}

// Generate is never called for post-insert generators.
func (PostInsertGenerator) Generate(mapping.Entity) ([]any, error) {
	return nil, fmt.Errorf("post-insert identifiers cannot be generated before insert")
}

// PostInsert implements IDGenerator.
func (PostInsertGenerator) PostInsert() bool { return true }

// defaultGenerator picks the built-in generator for a descriptor's strategy.
func defaultGenerator(d *mapping.Descriptor) IDGenerator {
	switch d.Meta.Strategy {
	case mapping.IDUUID:
		return UUIDGenerator{}
	case mapping.IDSequence:
		return NewSequenceGenerator(0)
	case mapping.IDPostInsert:
		return PostInsertGenerator{}
	default:
		return AssignedGenerator{Accessor: d.Accessor, Identifier: d.Meta.Identifier}
	}
}
