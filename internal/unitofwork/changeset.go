package unitofwork

import (
	"bytes"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/uow/internal/mapping"
)

// Change is the old and new value of one field.
type Change struct {
	Old any
	New any
}

// ChangeSet maps field names to their changes.
type ChangeSet map[string]Change

// Fields returns the changed field names, sorted.
func (cs ChangeSet) Fields() []string {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ComputeChangeSets compares current and last-known field values.
//
// With no arguments every entity in the identity map is checked (unless
// automatic dirty checking is disabled); otherwise only the given entities
// are. Entities seen for the first time get a full-snapshot change set and
// are queued for insertion. Managed entities with scalar or owning to-one
// changes are queued for update.
func (u *UnitOfWork) ComputeChangeSets(entities ...mapping.Entity) error {
	if len(entities) > 0 {
		for _, e := range entities {
			rec, err := u.recordFor(e)
			if err != nil {
				return err
			}
			if _, err := u.computeChangeSet(rec); err != nil {
				return err
			}
		}
		return nil
	}
	if !u.autoDirty {
		return nil
	}
	for _, rec := range u.identityRecords() {
		if _, err := u.computeChangeSet(rec); err != nil {
			return err
		}
	}
	return nil
}

// ComputeEntityChangeSet computes e and returns only the changes detected
// by this call. A second call without mutation returns an empty set.
func (u *UnitOfWork) ComputeEntityChangeSet(e mapping.Entity) (ChangeSet, error) {
	rec, err := u.recordFor(e)
	if err != nil {
		return nil, err
	}
	return u.computeChangeSet(rec)
}

func (u *UnitOfWork) computeChangeSet(rec *record) (ChangeSet, error) {
	state := u.stateOf(rec, 0)
	if state != StateNew && state != StateManaged {
		return ChangeSet{}, nil
	}
	if state == StateNew {
		if err := u.persistNew(rec); err != nil {
			return nil, err
		}
	}
	meta := rec.meta()
	actual := u.snapshot(rec)

	if rec.original == nil {
		changes := make(ChangeSet, len(actual))
		for _, f := range meta.PersistentFields() {
			changes[f] = Change{New: actual[f]}
		}
		rec.original = actual
		rec.changes = changes
		for _, a := range meta.Associations {
			targets := mapping.Entities(actual[a.Field])
			if len(targets) == 0 {
				continue
			}
			if err := u.associationChanged(rec, a, targets); err != nil {
				return nil, err
			}
			if a.Owning && a.ToMany {
				u.scheduleCollectionUpdate(rec, a.Field)
			}
		}
		if !u.inserts.has(rec) {
			if err := u.scheduleInsert(rec); err != nil {
				return nil, err
			}
		}
		return changes, nil
	}

	changes := ChangeSet{}
	dirty := false
	for _, f := range meta.PersistentFields() {
		old, cur := rec.original[f], actual[f]
		a, isAssoc := meta.Association(f)
		if !isAssoc {
			if scalarChanged(old, cur) {
				changes[f] = Change{Old: old, New: cur}
				dirty = true
			}
			continue
		}
		if sameReferences(old, cur) {
			continue
		}
		changes[f] = Change{Old: old, New: cur}
		if err := u.associationChanged(rec, a, mapping.Entities(cur)); err != nil {
			return nil, err
		}
		switch {
		case a.OwningToOne():
			dirty = true
		case a.Owning && a.ToMany:
			u.scheduleCollectionUpdate(rec, f)
		}
	}
	if len(changes) == 0 {
		return changes, nil
	}
	rec.original = actual
	rec.changes = mergeChanges(rec.changes, changes)
	if dirty && !u.inserts.has(rec) && !u.updates.has(rec) {
		if err := u.scheduleUpdate(rec); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// associationChanged brings newly referenced targets under management.
func (u *UnitOfWork) associationChanged(owner *record, a mapping.Association, targets []mapping.Entity) error {
	for _, target := range targets {
		trec, err := u.recordFor(target)
		if err != nil {
			return err
		}
		switch u.stateOf(trec, StateNew) {
		case StateNew:
			if u.generatorFor(trec).PostInsert() {
				return newError(ErrCodeUnsupported, "compute", trec,
					"entity reached through %s.%s needs a post-insert identifier; save it explicitly first",
					owner.meta().Name, a.Field)
			}
			if err := u.persistNew(trec); err != nil {
				return err
			}
			if _, err := u.computeChangeSet(trec); err != nil {
				return err
			}
		case StateDeleted:
			return newError(ErrCodeInvalidState, "compute", trec,
				"deleted entity is still referenced by %s.%s", owner.meta().Name, a.Field)
		}
	}
	return nil
}

// snapshot reads every persistent field. To-one associations are stored as
// the target entity (or nil); to-many as a fresh []mapping.Entity.
func (u *UnitOfWork) snapshot(rec *record) map[string]any {
	meta := rec.meta()
	acc := rec.desc.Accessor
	out := make(map[string]any, len(meta.Fields)+len(meta.Associations))
	for _, f := range meta.Fields {
		out[f.Name] = acc.Get(rec.entity, f.Name)
	}
	for _, a := range meta.Associations {
		out[a.Field] = associationValue(a, acc.Get(rec.entity, a.Field))
	}
	return out
}

func associationValue(a mapping.Association, v any) any {
	targets := mapping.Entities(v)
	if a.ToMany {
		return targets
	}
	if len(targets) == 0 {
		return nil
	}
	return targets[0]
}

func mergeChanges(prev, next ChangeSet) ChangeSet {
	if prev == nil {
		return next
	}
	for f, c := range next {
		if p, ok := prev[f]; ok {
			prev[f] = Change{Old: p.Old, New: c.New}
			continue
		}
		prev[f] = c
	}
	return prev
}

// fieldChanged compares one field with the semantics matching its kind.
func fieldChanged(meta *mapping.TypeMeta, field string, old, cur any) bool {
	if a, ok := meta.Association(field); ok {
		return !sameReferences(associationValue(a, old), associationValue(a, cur))
	}
	return scalarChanged(old, cur)
}

// sameReferences compares association values by target identity,
// element-wise for collections.
func sameReferences(old, cur any) bool {
	a, b := mapping.Entities(old), mapping.Entities(cur)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scalarChanged applies loose equality to scalars. Pointers, maps, slices
// and other reference kinds compare by identity; any null/non-null
// transition is a change.
func scalarChanged(old, cur any) bool {
	if old == nil || cur == nil {
		return (old == nil) != (cur == nil)
	}
	if ob, ok := old.([]byte); ok {
		if cb, ok := cur.([]byte); ok {
			return !bytes.Equal(ob, cb)
		}
	}
	ov, cv := reflect.ValueOf(old), reflect.ValueOf(cur)
	if isReference(ov) || isReference(cv) {
		return !sameReference(ov, cv)
	}
	return !looseEqual(old, cur)
}

func isReference(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

func sameReference(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	if a.Kind() == reflect.Slice && a.Len() != b.Len() {
		return false
	}
	return a.Pointer() == b.Pointer()
}

func looseEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb
		}
	}
	if ia, ok := toInteger(a); ok {
		if ib, ok := toInteger(b); ok {
			return ia.Cmp(ib) == 0
		}
	}
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na == nb
		}
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Type() == bv.Type() && av.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// toInteger reads integers, bools and integer strings without rounding, so
// values beyond float64 precision still compare exactly.
func toInteger(v any) (*big.Int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Int).SetUint64(rv.Uint()), true
	case reflect.Bool:
		if rv.Bool() {
			return big.NewInt(1), true
		}
		return big.NewInt(0), true
	case reflect.String:
		return new(big.Int).SetString(rv.String(), 10)
	}
	return nil, false
}

// toNumber coerces numerics, bools and numeric strings to float64. It
// serves comparisons that involve a float.
func toNumber(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	case reflect.String:
		f, err := strconv.ParseFloat(rv.String(), 64)
		return f, err == nil
	}
	return 0, false
}

// isBlank reports whether an identifier component is unset: nil or the
// empty string. Zero numbers and false are valid identifiers.
func isBlank(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.String && rv.Len() == 0
}
