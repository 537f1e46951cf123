package unitofwork

import (
	"github.com/roach88/uow/internal/mapping"
)

// CascadeKind selects which association flag a traversal follows.
type CascadeKind int

const (
	// CascadeSave follows associations flagged CascadeSave.
	CascadeSave CascadeKind = iota + 1

	// CascadeDelete follows associations flagged CascadeDelete.
	CascadeDelete
)

// String implements fmt.Stringer.
func (k CascadeKind) String() string {
	switch k {
	case CascadeSave:
		return "save"
	case CascadeDelete:
		return "delete"
	}
	return "unknown"
}

func (k CascadeKind) follows(a mapping.Association) bool {
	switch k {
	case CascadeSave:
		return a.CascadeSave
	case CascadeDelete:
		return a.CascadeDelete
	}
	return false
}

// Walk visits root and every entity reachable from it through associations
// flagged for kind, depth-first and each instance exactly once. Save walks
// visit an entity before its targets; delete walks visit targets first.
func (u *UnitOfWork) Walk(root mapping.Entity, kind CascadeKind, fn func(mapping.Entity) error) error {
	rec, err := u.recordFor(root)
	if err != nil {
		return err
	}
	visit := func(r *record) error { return fn(r.entity) }
	if kind == CascadeDelete {
		return u.cascade(rec, kind, make(map[Handle]bool), nil, visit)
	}
	return u.cascade(rec, kind, make(map[Handle]bool), visit, nil)
}

// cascade runs pre before descending into rec's cascade targets and post
// after. The visited set is keyed by handle so cycles terminate.
func (u *UnitOfWork) cascade(rec *record, kind CascadeKind, visited map[Handle]bool, pre, post func(*record) error) error {
	if visited[rec.handle] {
		return nil
	}
	visited[rec.handle] = true
	if pre != nil {
		if err := pre(rec); err != nil {
			return err
		}
	}
	for _, a := range rec.meta().Associations {
		if !kind.follows(a) {
			continue
		}
		for _, target := range mapping.Entities(rec.desc.Accessor.Get(rec.entity, a.Field)) {
			trec, err := u.recordFor(target)
			if err != nil {
				return err
			}
			if err := u.cascade(trec, kind, visited, pre, post); err != nil {
				return err
			}
		}
	}
	if post != nil {
		return post(rec)
	}
	return nil
}
