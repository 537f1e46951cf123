package unitofwork

import (
	"context"
	"slices"

	"github.com/roach88/uow/internal/mapping"
)

type collectionOp struct {
	owner *record
	field string
}

// ScheduleCollectionUpdate queues a rewrite of an owning to-many
// association of owner. Duplicate requests collapse.
func (u *UnitOfWork) ScheduleCollectionUpdate(owner mapping.Entity, field string) error {
	rec, err := u.collectionOwner(owner, field)
	if err != nil {
		return err
	}
	u.scheduleCollectionUpdate(rec, field)
	return nil
}

// ScheduleCollectionDeletion queues removal of every element link of an
// owning to-many association of owner.
func (u *UnitOfWork) ScheduleCollectionDeletion(owner mapping.Entity, field string) error {
	rec, err := u.collectionOwner(owner, field)
	if err != nil {
		return err
	}
	op := collectionOp{owner: rec, field: field}
	if !slices.Contains(u.collectionDeletions, op) {
		u.collectionDeletions = append(u.collectionDeletions, op)
	}
	return nil
}

func (u *UnitOfWork) collectionOwner(owner mapping.Entity, field string) (*record, error) {
	rec, err := u.recordFor(owner)
	if err != nil {
		return nil, err
	}
	a, ok := rec.meta().Association(field)
	if !ok || !a.ToMany || !a.Owning {
		return nil, newError(ErrCodeInvalidEntity, "schedule collection", rec,
			"%q is not an owning to-many association", field)
	}
	return rec, nil
}

func (u *UnitOfWork) scheduleCollectionUpdate(rec *record, field string) {
	op := collectionOp{owner: rec, field: field}
	if !slices.Contains(u.collectionUpdates, op) {
		u.collectionUpdates = append(u.collectionUpdates, op)
	}
}

func dropCollectionOps(ops []collectionOp, rec *record) []collectionOp {
	return slices.DeleteFunc(ops, func(op collectionOp) bool { return op.owner == rec })
}

func (u *UnitOfWork) executeCollectionDeletions(ctx context.Context) error {
	for len(u.collectionDeletions) > 0 {
		op := u.collectionDeletions[0]
		if err := u.applyCollection(ctx, op, OpCollectionDelete); err != nil {
			return err
		}
		u.collectionDeletions = u.collectionDeletions[1:]
	}
	return nil
}

func (u *UnitOfWork) executeCollectionUpdates(ctx context.Context) error {
	for len(u.collectionUpdates) > 0 {
		op := u.collectionUpdates[0]
		if err := u.applyCollection(ctx, op, OpCollectionUpdate); err != nil {
			return err
		}
		u.collectionUpdates = u.collectionUpdates[1:]
	}
	return nil
}

func (u *UnitOfWork) applyCollection(ctx context.Context, op collectionOp, kind Op) error {
	p, err := u.persisterFor(string(kind), op.owner)
	if err != nil {
		return err
	}
	cp, ok := p.(CollectionPersister)
	if !ok {
		u.logger.Debug("persister has no collection support",
			"type", op.owner.meta().Name, "field", op.field)
		return nil
	}
	if kind == OpCollectionDelete {
		err = cp.DeleteCollection(ctx, op.owner.entity, op.field)
	} else {
		err = cp.UpdateCollection(ctx, op.owner.entity, op.field)
	}
	if err != nil {
		return storeFailure(string(kind), op.owner, err)
	}
	u.observer.WriteApplied(kind, op.owner.meta().Name)
	return nil
}
