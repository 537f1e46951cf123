package unitofwork

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/roach88/uow/internal/commitorder"
	"github.com/roach88/uow/internal/mapping"
)

// Stats counts pending work.
type Stats struct {
	Inserts             int `json:"inserts"`
	Updates             int `json:"updates"`
	Deletes             int `json:"deletes"`
	CollectionUpdates   int `json:"collection_updates"`
	CollectionDeletions int `json:"collection_deletions"`
}

// Empty reports whether no work is pending.
func (s Stats) Empty() bool {
	return s == Stats{}
}

// Pending returns the current queue sizes.
func (u *UnitOfWork) Pending() Stats {
	return Stats{
		Inserts:             u.inserts.len(),
		Updates:             u.updates.len(),
		Deletes:             u.deletes.len(),
		CollectionUpdates:   len(u.collectionUpdates),
		CollectionDeletions: len(u.collectionDeletions),
	}
}

// CommitOrder returns the type order the next commit would use.
func (u *UnitOfWork) CommitOrder() ([]string, error) {
	order, err := u.calc.Order(u.pendingTypes())
	if err != nil {
		return nil, orderError(err)
	}
	return order, nil
}

// Commit synchronizes pending work with the store.
//
// Change sets are computed first. Then, with the commit order over every
// type that has pending work: inserts per type in order, updates per type
// in order, collection deletions and updates, and finally deletes per type
// in reverse order. Within a type, entities are written in the order they
// were queued, except that rows of a self-referencing type are inserted
// after the rows they reference and deleted before them.
//
// The first persister failure aborts the commit with a STORE_FAILURE error.
// Work already applied has been removed from the queues; the rest stays
// pending.
func (u *UnitOfWork) Commit(ctx context.Context) (err error) {
	if err := u.ComputeChangeSets(); err != nil {
		return err
	}
	pending := u.Pending()
	if pending.Empty() {
		u.logger.Debug("commit: nothing to do")
		return nil
	}

	start := time.Now()
	defer func() {
		u.observer.CommitFinished(time.Since(start), pending, err)
	}()

	order, err := u.calc.Order(u.pendingTypes())
	if err != nil {
		return orderError(err)
	}
	u.logger.Debug("commit order", "types", order)

	for _, t := range order {
		if err := u.executeInserts(ctx, t); err != nil {
			return err
		}
	}
	for _, t := range order {
		if err := u.executeUpdates(ctx, t); err != nil {
			return err
		}
	}
	if err := u.executeCollectionDeletions(ctx); err != nil {
		return err
	}
	if err := u.executeCollectionUpdates(ctx); err != nil {
		return err
	}
	for _, t := range commitorder.Reverse(order) {
		if err := u.executeDeletes(ctx, t); err != nil {
			return err
		}
	}

	u.clearPending()
	u.logger.Info("commit complete",
		"inserts", pending.Inserts,
		"updates", pending.Updates,
		"deletes", pending.Deletes,
		"collections", pending.CollectionUpdates+pending.CollectionDeletions,
		"duration", time.Since(start))
	return nil
}

func orderError(err error) error {
	var cycle *commitorder.CycleError
	if errors.As(err, &cycle) {
		return &Error{Code: ErrCodeCommitOrderCycle, Op: "commit", Message: "no valid write order", Err: err}
	}
	return &Error{Code: ErrCodeUnknownType, Op: "commit", Message: "cannot order pending types", Err: err}
}

// pendingTypes lists every concrete type with pending work, first
// appearance first.
func (u *UnitOfWork) pendingTypes() []string {
	var types []string
	types = u.inserts.types(types)
	types = u.updates.types(types)
	types = u.deletes.types(types)
	for _, ops := range [][]collectionOp{u.collectionUpdates, u.collectionDeletions} {
		for _, op := range ops {
			if !slices.Contains(types, op.owner.meta().Name) {
				types = append(types, op.owner.meta().Name)
			}
		}
	}
	return types
}

func (u *UnitOfWork) persisterFor(op string, rec *record) (Persister, error) {
	p, err := u.persisters.Persister(rec.meta().Name)
	if err != nil {
		return nil, storeFailure(op, rec, err)
	}
	return p, nil
}

func (u *UnitOfWork) executeInserts(ctx context.Context, typeName string) error {
	for _, rec := range u.rowOrder(typeName, u.inserts.ofType(typeName), false) {
		if err := u.insertOne(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// insertNow writes post-insert-identifier entities during Save, ordered by
// their types' commit order.
func (u *UnitOfWork) insertNow(ctx context.Context, recs []*record) error {
	var types []string
	for _, rec := range recs {
		if !slices.Contains(types, rec.meta().Name) {
			types = append(types, rec.meta().Name)
		}
	}
	order, err := u.calc.Order(types)
	if err != nil {
		return orderError(err)
	}
	for _, t := range order {
		var ofType []*record
		for _, rec := range recs {
			if rec.meta().Name == t && u.inserts.has(rec) {
				ofType = append(ofType, rec)
			}
		}
		for _, rec := range u.rowOrder(t, ofType, false) {
			if err := u.insertOne(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *UnitOfWork) insertOne(ctx context.Context, rec *record) error {
	p, err := u.persisterFor("insert", rec)
	if err != nil {
		return err
	}
	generated, err := p.Insert(ctx, rec.entity)
	if err != nil {
		return storeFailure("insert", rec, err)
	}
	u.inserts.remove(rec)
	if u.generatorFor(rec).PostInsert() {
		if err := u.assignIdentifier(rec, generated); err != nil {
			return err
		}
		if err := u.addToIdentityMap(rec); err != nil {
			return err
		}
	}
	if rec.original == nil {
		rec.original = u.snapshot(rec)
	}
	rec.state = StateManaged
	rec.changes = nil
	u.observer.WriteApplied(OpInsert, rec.meta().Name)
	u.logger.Debug("inserted", "type", rec.meta().Name, "handle", rec.handle)
	return nil
}

func (u *UnitOfWork) executeUpdates(ctx context.Context, typeName string) error {
	for _, rec := range u.updates.ofType(typeName) {
		p, err := u.persisterFor("update", rec)
		if err != nil {
			return err
		}
		if err := p.Update(ctx, rec.entity, rec.changes.Fields()); err != nil {
			return storeFailure("update", rec, err)
		}
		u.updates.remove(rec)
		rec.changes = nil
		u.observer.WriteApplied(OpUpdate, typeName)
		u.logger.Debug("updated", "type", typeName, "handle", rec.handle)
	}
	return nil
}

func (u *UnitOfWork) executeDeletes(ctx context.Context, typeName string) error {
	for _, rec := range u.rowOrder(typeName, u.deletes.ofType(typeName), true) {
		p, err := u.persisterFor("delete", rec)
		if err != nil {
			return err
		}
		if err := p.Delete(ctx, rec.entity); err != nil {
			return storeFailure("delete", rec, err)
		}
		u.forget(rec)
		rec.state = 0
		rec.original = nil
		rec.changes = nil
		u.observer.WriteApplied(OpDelete, typeName)
		u.logger.Debug("deleted", "type", typeName, "handle", rec.handle)
	}
	return nil
}

// rowOrder orders queued rows of a self-referencing type so that a row is
// inserted after the rows it references. With deleting set, a row goes
// before the rows it referenced when last synchronized. Unrelated rows keep
// queue order. Rows that reference each other in a cycle cannot be ordered
// and are appended in queue order.
func (u *UnitOfWork) rowOrder(typeName string, recs []*record, deleting bool) []*record {
	if len(recs) < 2 || !u.calc.SelfReferencing(typeName) {
		return recs
	}
	pos := make(map[*record]int, len(recs))
	for i, rec := range recs {
		pos[rec] = i
	}

	// dependents[i] must wait for i; remaining[i] counts what i waits for.
	dependents := make([][]int, len(recs))
	remaining := make([]int, len(recs))
	for i, rec := range recs {
		for _, j := range u.sameTypeReferences(rec, pos, deleting) {
			if j == i {
				continue
			}
			first, then := j, i
			if deleting {
				first, then = i, j
			}
			dependents[first] = append(dependents[first], then)
			remaining[then]++
		}
	}

	out := make([]*record, 0, len(recs))
	done := make([]bool, len(recs))
	for len(out) < len(recs) {
		next := -1
		for i := range recs {
			if !done[i] && remaining[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			u.logger.Warn("rows reference each other in a cycle", "type", typeName, "rows", len(recs)-len(out))
			for i, rec := range recs {
				if !done[i] {
					out = append(out, rec)
				}
			}
			break
		}
		done[next] = true
		out = append(out, recs[next])
		for _, d := range dependents[next] {
			remaining[d]--
		}
	}
	return out
}

// sameTypeReferences returns the positions in pos of the rows rec points
// at through owning to-one associations. Deletes follow the last
// synchronized snapshot, which is what the stored row holds.
func (u *UnitOfWork) sameTypeReferences(rec *record, pos map[*record]int, deleting bool) []int {
	var out []int
	for _, a := range rec.meta().OwningToOne() {
		var value any
		if deleting && rec.original != nil {
			value = rec.original[a.Field]
		} else {
			value = rec.desc.Accessor.Get(rec.entity, a.Field)
		}
		for _, target := range mapping.Entities(value) {
			if trec := u.lookup(target); trec != nil {
				if j, ok := pos[trec]; ok {
					out = append(out, j)
				}
			}
		}
	}
	return out
}

// clearPending resets queues and change sets after a successful commit.
func (u *UnitOfWork) clearPending() {
	u.inserts.clear()
	u.updates.clear()
	u.deletes.clear()
	u.collectionUpdates = nil
	u.collectionDeletions = nil
	for _, rec := range u.byHandle {
		rec.changes = nil
	}
}
