package unitofwork

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/testutil"
)

// shopRegistry maps a small order domain:
//
//	Customer  <- Order.customer (owning, cascade save)
//	Order     <- LineItem.order (owning); Order.items is the inverse side
//	             with cascade save and delete
//	Order.tags  owning to-many -> Tag
//	Invoice   post-insert identifiers, referenced by Payment.invoice
//	Node      self-reference through Node.next (cascade save)
func shopRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	reg := mapping.NewRegistry()
	types := []mapping.TypeMeta{
		{
			Name:       "Customer",
			Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}, {Name: "name", Kind: mapping.KindString}},
			Identifier: []string{"id"},
			Strategy:   mapping.IDSequence,
		},
		{
			Name:       "Order",
			Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}, {Name: "total", Kind: mapping.KindFloat}},
			Identifier: []string{"id"},
			Strategy:   mapping.IDSequence,
			Associations: []mapping.Association{
				{Field: "customer", Target: "Customer", Owning: true, CascadeSave: true},
				{Field: "items", Target: "LineItem", ToMany: true, CascadeSave: true, CascadeDelete: true},
				{Field: "tags", Target: "Tag", ToMany: true, Owning: true},
			},
		},
		{
			Name:       "LineItem",
			Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}, {Name: "sku", Kind: mapping.KindString}},
			Identifier: []string{"id"},
			Strategy:   mapping.IDSequence,
			Associations: []mapping.Association{
				{Field: "order", Target: "Order", Owning: true},
			},
		},
		{
			Name:       "Tag",
			Fields:     []mapping.Field{{Name: "code", Kind: mapping.KindString}},
			Identifier: []string{"code"},
		},
		{
			Name:       "Invoice",
			Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}, {Name: "amount", Kind: mapping.KindFloat}},
			Identifier: []string{"id"},
			Strategy:   mapping.IDPostInsert,
			Associations: []mapping.Association{
				{Field: "order", Target: "Order", Owning: true},
			},
		},
		{
			Name:       "Payment",
			Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}},
			Identifier: []string{"id"},
			Strategy:   mapping.IDSequence,
			Associations: []mapping.Association{
				{Field: "invoice", Target: "Invoice", Owning: true},
			},
		},
		{
			Name:       "Node",
			Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}},
			Identifier: []string{"id"},
			Strategy:   mapping.IDSequence,
			Associations: []mapping.Association{
				{Field: "next", Target: "Node", Owning: true, CascadeSave: true, CascadeDelete: true},
			},
		},
	}
	for _, meta := range types {
		require.NoError(t, reg.RegisterObject(meta))
	}
	return reg
}

type fixture struct {
	reg *mapping.Registry
	rec *testutil.RecordingPersister
	uow *UnitOfWork
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := shopRegistry(t)
	rec := testutil.NewRecordingPersister(reg)
	opts = append([]Option{WithHandleGenerator(testutil.NewSequentialGenerator(""))}, opts...)
	return &fixture{reg: reg, rec: rec, uow: New(reg, Shared(rec), opts...)}
}

func object(typeName string, fields map[string]any) *mapping.Object {
	o := mapping.NewObject(typeName)
	for k, v := range fields {
		o.Set(k, v)
	}
	return o
}
