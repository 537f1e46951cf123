package unitofwork

import (
	"slices"

	"github.com/roach88/uow/internal/mapping"
)

// State is the lifecycle state of an entity relative to a unit of work.
type State int

const (
	// StateNew: not yet persisted, no identity assigned.
	StateNew State = iota + 1

	// StateManaged: tracked, either synchronized or pending insert.
	StateManaged

	// StateDetached: carries an identity but is not tracked here.
	StateDetached

	// StateDeleted: scheduled for removal at the next commit.
	StateDeleted
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateManaged:
		return "MANAGED"
	case StateDetached:
		return "DETACHED"
	case StateDeleted:
		return "DELETED"
	}
	return "UNKNOWN"
}

// EntityState returns the lifecycle state of e. Untracked entities are NEW
// when they carry no identifier and DETACHED when they do.
func (u *UnitOfWork) EntityState(e mapping.Entity) State {
	rec := u.lookup(e)
	if rec == nil {
		rec = u.probe(e)
		if rec == nil {
			return StateNew
		}
	}
	return u.stateOf(rec, 0)
}

// probe builds a throwaway record for state inference on untracked entities.
func (u *UnitOfWork) probe(e mapping.Entity) *record {
	if !mapping.IsPointer(e) {
		return nil
	}
	desc, err := u.provider.Descriptor(e.EntityType())
	if err != nil {
		return nil
	}
	return &record{entity: e, desc: desc}
}

// stateOf returns the recorded state or infers one. With assume set to
// StateNew, an untracked entity of an assigned-identifier type is NEW even
// when its identifier is populated.
func (u *UnitOfWork) stateOf(rec *record, assume State) State {
	if rec.state != 0 {
		return rec.state
	}
	if !u.hasIdentifier(rec) {
		return StateNew
	}
	if assume == StateNew && rec.meta().Strategy == mapping.IDAssigned {
		return StateNew
	}
	return StateDetached
}

// ScheduleForInsert queues e for insertion. When e already carries an
// identifier it is also registered in the identity map.
func (u *UnitOfWork) ScheduleForInsert(e mapping.Entity) error {
	rec, err := u.recordFor(e)
	if err != nil {
		return err
	}
	return u.scheduleInsert(rec)
}

// ScheduleForUpdate queues e for an update. e must carry an identifier.
func (u *UnitOfWork) ScheduleForUpdate(e mapping.Entity) error {
	rec, err := u.recordFor(e)
	if err != nil {
		return err
	}
	return u.scheduleUpdate(rec)
}

// ScheduleForDelete queues e for deletion and removes it from the identity
// map. Entities absent from the identity map are ignored.
func (u *UnitOfWork) ScheduleForDelete(e mapping.Entity) error {
	rec, err := u.recordFor(e)
	if err != nil {
		return err
	}
	return u.scheduleDelete(rec)
}

// IsScheduledForInsert reports whether e is pending insertion.
func (u *UnitOfWork) IsScheduledForInsert(e mapping.Entity) bool {
	rec := u.lookup(e)
	return rec != nil && u.inserts.has(rec)
}

// IsScheduledForUpdate reports whether e is pending an update.
func (u *UnitOfWork) IsScheduledForUpdate(e mapping.Entity) bool {
	rec := u.lookup(e)
	return rec != nil && u.updates.has(rec)
}

// IsScheduledForDelete reports whether e is pending deletion.
func (u *UnitOfWork) IsScheduledForDelete(e mapping.Entity) bool {
	rec := u.lookup(e)
	return rec != nil && u.deletes.has(rec)
}

// IsScheduled reports whether e is in any pending queue.
func (u *UnitOfWork) IsScheduled(e mapping.Entity) bool {
	return u.IsScheduledForInsert(e) || u.IsScheduledForUpdate(e) || u.IsScheduledForDelete(e)
}

func (u *UnitOfWork) scheduleInsert(rec *record) error {
	switch {
	case u.updates.has(rec):
		return newError(ErrCodeConflictingSchedule, "schedule insert", rec, "entity is pending update")
	case u.deletes.has(rec):
		return newError(ErrCodeConflictingSchedule, "schedule insert", rec, "entity is pending delete")
	case u.inserts.has(rec):
		return newError(ErrCodeAlreadyScheduled, "schedule insert", rec, "entity is already pending insert")
	}
	if u.hasIdentifier(rec) && !u.identity.contains(rec.handle) {
		if err := u.addToIdentityMap(rec); err != nil {
			return err
		}
	}
	u.inserts.add(rec)
	u.logger.Debug("scheduled insert", "type", rec.meta().Name, "handle", rec.handle)
	return nil
}

func (u *UnitOfWork) scheduleUpdate(rec *record) error {
	switch {
	case !u.hasIdentifier(rec):
		return newError(ErrCodeInvalidState, "schedule update", rec, "entity has no identifier")
	case u.deletes.has(rec):
		return newError(ErrCodeConflictingSchedule, "schedule update", rec, "entity is pending delete")
	case u.inserts.has(rec):
		return newError(ErrCodeConflictingSchedule, "schedule update", rec, "entity is pending insert")
	case u.updates.has(rec):
		return newError(ErrCodeAlreadyScheduled, "schedule update", rec, "entity is already pending update")
	}
	u.updates.add(rec)
	u.logger.Debug("scheduled update", "type", rec.meta().Name, "handle", rec.handle)
	return nil
}

func (u *UnitOfWork) scheduleDelete(rec *record) error {
	switch {
	case u.inserts.has(rec):
		return newError(ErrCodeConflictingSchedule, "schedule delete", rec, "entity is pending insert")
	case u.updates.has(rec):
		return newError(ErrCodeConflictingSchedule, "schedule delete", rec, "entity is pending update")
	case u.deletes.has(rec):
		return newError(ErrCodeAlreadyScheduled, "schedule delete", rec, "entity is already pending delete")
	}
	if !u.identity.contains(rec.handle) {
		return nil
	}
	u.identity.remove(rec.handle)
	u.deletes.add(rec)
	rec.state = StateDeleted
	u.logger.Debug("scheduled delete", "type", rec.meta().Name, "handle", rec.handle)
	return nil
}

// queue is an insertion-ordered set of records.
type queue struct {
	items []*record
	index map[*record]struct{}
}

func newQueue() *queue {
	return &queue{index: make(map[*record]struct{})}
}

func (q *queue) add(rec *record) {
	if _, ok := q.index[rec]; ok {
		return
	}
	q.index[rec] = struct{}{}
	q.items = append(q.items, rec)
}

func (q *queue) remove(rec *record) {
	if _, ok := q.index[rec]; !ok {
		return
	}
	delete(q.index, rec)
	q.items = slices.DeleteFunc(q.items, func(r *record) bool { return r == rec })
}

func (q *queue) has(rec *record) bool {
	_, ok := q.index[rec]
	return ok
}

func (q *queue) len() int {
	return len(q.items)
}

func (q *queue) clear() {
	q.items = nil
	q.index = make(map[*record]struct{})
}

// ofType returns a copy of the queued records of one concrete type.
func (q *queue) ofType(name string) []*record {
	var out []*record
	for _, rec := range q.items {
		if rec.meta().Name == name {
			out = append(out, rec)
		}
	}
	return out
}

// types appends the concrete types in first-appearance order to seen.
func (q *queue) types(seen []string) []string {
	for _, rec := range q.items {
		if !slices.Contains(seen, rec.meta().Name) {
			seen = append(seen, rec.meta().Name)
		}
	}
	return seen
}
