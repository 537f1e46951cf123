package harness

import (
	"context"

	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/store"
	"github.com/roach88/uow/internal/testutil"
	"github.com/roach88/uow/internal/unitofwork"
)

// tracer forwards writes to the store and records the successful ones.
type tracer struct {
	store    *store.Store
	provider mapping.Provider
	seq      testutil.Sequence
	step     int
	events   []TraceEvent
}

var (
	_ unitofwork.Persister           = (*tracer)(nil)
	_ unitofwork.CollectionPersister = (*tracer)(nil)
)

func newTracer(st *store.Store, provider mapping.Provider) *tracer {
	return &tracer{store: st, provider: provider}
}

func (t *tracer) Insert(ctx context.Context, e mapping.Entity) ([]any, error) {
	generated, err := t.store.Insert(ctx, e)
	if err != nil {
		return nil, err
	}
	id := unitofwork.IDHash(generated)
	if id == "" {
		id = t.identifier(e)
	}
	t.record(unitofwork.OpInsert, e.EntityType(), id, nil)
	return generated, nil
}

func (t *tracer) Update(ctx context.Context, e mapping.Entity, fields []string) error {
	if err := t.store.Update(ctx, e, fields); err != nil {
		return err
	}
	t.record(unitofwork.OpUpdate, e.EntityType(), t.identifier(e), fields)
	return nil
}

func (t *tracer) Delete(ctx context.Context, e mapping.Entity) error {
	if err := t.store.Delete(ctx, e); err != nil {
		return err
	}
	t.record(unitofwork.OpDelete, e.EntityType(), t.identifier(e), nil)
	return nil
}

func (t *tracer) UpdateCollection(ctx context.Context, owner mapping.Entity, field string) error {
	if err := t.store.UpdateCollection(ctx, owner, field); err != nil {
		return err
	}
	t.record(unitofwork.OpCollectionUpdate, owner.EntityType(), t.identifier(owner), []string{field})
	return nil
}

func (t *tracer) DeleteCollection(ctx context.Context, owner mapping.Entity, field string) error {
	if err := t.store.DeleteCollection(ctx, owner, field); err != nil {
		return err
	}
	t.record(unitofwork.OpCollectionDelete, owner.EntityType(), t.identifier(owner), []string{field})
	return nil
}

func (t *tracer) identifier(e mapping.Entity) string {
	desc, err := t.provider.Descriptor(e.EntityType())
	if err != nil {
		return ""
	}
	values := make([]any, len(desc.Meta.Identifier))
	for i, f := range desc.Meta.Identifier {
		values[i] = desc.Accessor.Get(e, f)
	}
	return unitofwork.IDHash(values)
}

func (t *tracer) record(op unitofwork.Op, typeName, id string, fields []string) {
	var names []string
	if len(fields) > 0 {
		names = append([]string(nil), fields...)
	}
	t.events = append(t.events, TraceEvent{
		Seq:    t.seq.Next(),
		Step:   t.step,
		Op:     string(op),
		Type:   typeName,
		ID:     id,
		Fields: names,
	})
}
