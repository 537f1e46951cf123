package unitofwork

import (
	"fmt"

	"github.com/roach88/uow/internal/mapping"
)

// HydrationOption configures CreateEntity.
type HydrationOption func(*hydration)

type hydration struct {
	override bool
}

// OverrideLocalChanges makes CreateEntity overwrite fields the caller has
// modified since the entity was last synchronized.
func OverrideLocalChanges() HydrationOption {
	return func(h *hydration) {
		h.override = true
	}
}

// CreateEntity turns store data into a tracked entity.
//
// If an entity with the same root type and identifier is already tracked,
// data is merged into it and that instance is returned: fields with
// unsynchronized local changes keep their local value unless
// OverrideLocalChanges is given. Otherwise a new instance is built,
// registered in the identity map and marked MANAGED with data as its
// last-known snapshot.
func (u *UnitOfWork) CreateEntity(typeName string, data map[string]any, opts ...HydrationOption) (mapping.Entity, error) {
	var h hydration
	for _, opt := range opts {
		opt(&h)
	}
	desc, err := u.provider.Descriptor(typeName)
	if err != nil {
		return nil, &Error{Code: ErrCodeUnknownType, Op: "hydrate", Type: typeName, Message: "no mapping for entity type", Err: err}
	}
	meta := desc.Meta

	id := make([]any, len(meta.Identifier))
	for i, f := range meta.Identifier {
		if isBlank(data[f]) {
			return nil, &Error{Code: ErrCodeInvalidEntity, Op: "hydrate", Type: typeName,
				Message: fmt.Sprintf("data has no value for identifier field %q", f)}
		}
		id[i] = data[f]
	}

	if handle, ok := u.identity.lookup(meta.RootName(), IDHash(id)); ok {
		if rec, ok := u.byHandle[handle]; ok {
			return rec.entity, u.merge(rec, data, h.override)
		}
	}

	e := desc.New()
	for _, f := range meta.PersistentFields() {
		v, ok := data[f]
		if !ok {
			continue
		}
		if err := desc.Accessor.Set(e, f, v); err != nil {
			return nil, &Error{Code: ErrCodeInvalidEntity, Op: "hydrate", Type: typeName,
				Message: fmt.Sprintf("cannot set field %q", f), Err: err}
		}
	}
	rec, err := u.recordFor(e)
	if err != nil {
		return nil, err
	}
	if err := u.addToIdentityMap(rec); err != nil {
		u.forget(rec)
		return nil, err
	}
	rec.state = StateManaged
	rec.original = u.snapshot(rec)
	return e, nil
}

func (u *UnitOfWork) merge(rec *record, data map[string]any, override bool) error {
	meta := rec.meta()
	acc := rec.desc.Accessor
	for _, f := range meta.PersistentFields() {
		v, ok := data[f]
		if !ok {
			continue
		}
		local := rec.original != nil && fieldChanged(meta, f, rec.original[f], acc.Get(rec.entity, f))
		if override || !local {
			if err := acc.Set(rec.entity, f, v); err != nil {
				return &Error{Code: ErrCodeInvalidEntity, Op: "hydrate", Type: meta.Name, Handle: rec.handle,
					Message: fmt.Sprintf("cannot set field %q", f), Err: err}
			}
		}
		if rec.original != nil {
			if a, isAssoc := meta.Association(f); isAssoc {
				rec.original[f] = associationValue(a, v)
			} else {
				rec.original[f] = acc.Get(rec.entity, f)
				if local && !override {
					rec.original[f] = v
				}
			}
		}
	}
	return nil
}
