package unitofwork

import (
	"context"
	"fmt"

	"github.com/roach88/uow/internal/mapping"
)

// Save makes e and everything reachable through save-cascading associations
// MANAGED.
//
// New entities get their identifier from the type's generator and are
// queued for insertion. Entities whose identifier only exists after insert
// are written immediately, in commit order, so that they enter the
// identity map before Save returns. A DELETED entity is revived. Saving a
// DETACHED entity fails with INVALID_STATE.
func (u *UnitOfWork) Save(ctx context.Context, e mapping.Entity) error {
	rec, err := u.recordFor(e)
	if err != nil {
		return err
	}

	var managed, deferred []*record
	visit := func(r *record) error {
		switch state := u.stateOf(r, StateNew); state {
		case StateManaged:
			return nil
		case StateNew:
			if err := u.persistNew(r); err != nil {
				return err
			}
			managed = append(managed, r)
			if u.generatorFor(r).PostInsert() {
				deferred = append(deferred, r)
			}
			return nil
		case StateDeleted:
			return u.revive(r)
		default:
			return newError(ErrCodeInvalidState, "save", r, "%s entity cannot be saved", state)
		}
	}
	if err := u.cascade(rec, CascadeSave, make(map[Handle]bool), visit, nil); err != nil {
		return err
	}

	for _, r := range managed {
		if _, err := u.computeChangeSet(r); err != nil {
			return err
		}
	}
	if len(deferred) > 0 {
		if err := u.insertNow(ctx, deferred); err != nil {
			return err
		}
	}
	return nil
}

// persistNew assigns an identifier (unless deferred to insert) and moves
// rec to MANAGED.
func (u *UnitOfWork) persistNew(rec *record) error {
	gen := u.generatorFor(rec)
	if gen.PostInsert() {
		rec.state = StateManaged
		return nil
	}
	id, err := gen.Generate(rec.entity)
	if err != nil {
		return &Error{
			Code:    ErrCodeInvalidEntity,
			Op:      "save",
			Type:    rec.meta().Name,
			Handle:  rec.handle,
			Message: "identifier generation failed",
			Err:     err,
		}
	}
	if err := u.assignIdentifier(rec, id); err != nil {
		return err
	}
	if err := u.addToIdentityMap(rec); err != nil {
		return err
	}
	rec.state = StateManaged
	return nil
}

func (u *UnitOfWork) assignIdentifier(rec *record, id []any) error {
	ident := rec.meta().Identifier
	if len(id) != len(ident) {
		return newError(ErrCodeInvalidEntity, "assign identifier", rec,
			"got %d identifier values for %d fields", len(id), len(ident))
	}
	for i, f := range ident {
		if err := rec.desc.Accessor.Set(rec.entity, f, id[i]); err != nil {
			return &Error{
				Code:    ErrCodeInvalidEntity,
				Op:      "assign identifier",
				Type:    rec.meta().Name,
				Handle:  rec.handle,
				Message: fmt.Sprintf("cannot set identifier field %q", f),
				Err:     err,
			}
		}
		if rec.original != nil {
			rec.original[f] = rec.desc.Accessor.Get(rec.entity, f)
		}
	}
	return nil
}

// revive cancels a pending delete.
func (u *UnitOfWork) revive(rec *record) error {
	if err := u.addToIdentityMap(rec); err != nil {
		return err
	}
	u.deletes.remove(rec)
	rec.state = StateManaged
	u.logger.Debug("delete cancelled", "type", rec.meta().Name, "handle", rec.handle)
	return nil
}

// Delete schedules e and everything reachable through delete-cascading
// associations for removal at the next commit. Targets are handled before
// the entity that references them. NEW and already DELETED entities are
// left untouched; a DETACHED entity fails with INVALID_STATE before
// anything is scheduled.
//
// Deleting an entity that is still pending insertion cancels the insert.
// Deleting an entity pending update drops the update.
func (u *UnitOfWork) Delete(e mapping.Entity) error {
	rec, err := u.recordFor(e)
	if err != nil {
		return err
	}
	// The whole graph is checked before the first entity is scheduled.
	var reached []*record
	collect := func(r *record) error {
		if state := u.stateOf(r, 0); state == StateDetached {
			return newError(ErrCodeInvalidState, "delete", r, "detached entity cannot be deleted")
		}
		reached = append(reached, r)
		return nil
	}
	if err := u.cascade(rec, CascadeDelete, make(map[Handle]bool), nil, collect); err != nil {
		return err
	}
	for _, r := range reached {
		if err := u.remove(r); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) remove(rec *record) error {
	switch u.stateOf(rec, 0) {
	case StateNew, StateDeleted:
		return nil
	case StateDetached:
		return newError(ErrCodeInvalidState, "delete", rec, "detached entity cannot be deleted")
	}
	if u.inserts.has(rec) {
		u.inserts.remove(rec)
		u.identity.remove(rec.handle)
		u.collectionUpdates = dropCollectionOps(u.collectionUpdates, rec)
		rec.state = StateNew
		rec.original = nil
		rec.changes = nil
		u.logger.Debug("insert cancelled", "type", rec.meta().Name, "handle", rec.handle)
		return nil
	}
	u.updates.remove(rec)
	return u.scheduleDelete(rec)
}
