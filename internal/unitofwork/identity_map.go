package unitofwork

import (
	"fmt"
	"strings"

	"github.com/roach88/uow/internal/mapping"
)

// IDHash flattens identifier values into the identity-map key. Components
// are joined with a single space. An empty input yields "", which can
// never be registered.
func IDHash(values []any) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

type identityKey struct {
	root string
	hash string
}

// IdentityMap maps (root type, identifier hash) to entity handles.
type IdentityMap struct {
	entries map[string]map[string]Handle
	keys    map[Handle]identityKey
}

func newIdentityMap() *IdentityMap {
	return &IdentityMap{
		entries: make(map[string]map[string]Handle),
		keys:    make(map[Handle]identityKey),
	}
}

// add registers h; it returns the occupying handle and false when the key
// is taken.
func (m *IdentityMap) add(h Handle, root, hash string) (Handle, bool) {
	byHash, ok := m.entries[root]
	if !ok {
		byHash = make(map[string]Handle)
		m.entries[root] = byHash
	}
	if existing, ok := byHash[hash]; ok {
		return existing, existing == h
	}
	byHash[hash] = h
	m.keys[h] = identityKey{root: root, hash: hash}
	return h, true
}

func (m *IdentityMap) remove(h Handle) bool {
	key, ok := m.keys[h]
	if !ok {
		return false
	}
	delete(m.keys, h)
	delete(m.entries[key.root], key.hash)
	if len(m.entries[key.root]) == 0 {
		delete(m.entries, key.root)
	}
	return true
}

func (m *IdentityMap) lookup(root, hash string) (Handle, bool) {
	h, ok := m.entries[root][hash]
	return h, ok
}

func (m *IdentityMap) contains(h Handle) bool {
	_, ok := m.keys[h]
	return ok
}

// Len returns the number of registered entities.
func (m *IdentityMap) Len() int {
	return len(m.keys)
}

func (m *IdentityMap) handles() []Handle {
	out := make([]Handle, 0, len(m.keys))
	for h := range m.keys {
		out = append(out, h)
	}
	return out
}

// AddToIdentityMap registers e under its root type and identifier and
// marks it MANAGED. Re-adding the same instance is a no-op.
func (u *UnitOfWork) AddToIdentityMap(e mapping.Entity) error {
	rec, err := u.recordFor(e)
	if err != nil {
		return err
	}
	if err := u.addToIdentityMap(rec); err != nil {
		return err
	}
	if rec.state == 0 || rec.state == StateDetached {
		rec.state = StateManaged
	}
	return nil
}

func (u *UnitOfWork) addToIdentityMap(rec *record) error {
	hash := IDHash(u.identifierOf(rec))
	if hash == "" {
		return newError(ErrCodeInvalidEntity, "identity map", rec, "entity has no identifier")
	}
	existing, ok := u.identity.add(rec.handle, rec.meta().RootName(), hash)
	if !ok {
		return newError(ErrCodeDuplicateIdentity, "identity map", rec,
			"%s %q is already tracked by handle %s", rec.meta().RootName(), hash, existing)
	}
	return nil
}

// RemoveFromIdentityMap unregisters e and marks it DETACHED. It reports
// whether e was registered.
func (u *UnitOfWork) RemoveFromIdentityMap(e mapping.Entity) bool {
	rec := u.lookup(e)
	if rec == nil || !u.identity.remove(rec.handle) {
		return false
	}
	rec.state = StateDetached
	return true
}

// GetByIDHash returns the entity registered under (rootType, hash).
func (u *UnitOfWork) GetByIDHash(hash, rootType string) (mapping.Entity, error) {
	e, ok := u.TryGetByIDHash(hash, rootType)
	if !ok {
		return nil, &Error{
			Code:    ErrCodeNotFound,
			Op:      "identity map",
			Type:    rootType,
			Message: fmt.Sprintf("no entity with identifier %q", hash),
		}
	}
	return e, nil
}

// TryGetByIDHash is GetByIDHash without an error on a miss.
func (u *UnitOfWork) TryGetByIDHash(hash, rootType string) (mapping.Entity, bool) {
	h, ok := u.identity.lookup(rootType, hash)
	if !ok {
		return nil, false
	}
	rec, ok := u.byHandle[h]
	if !ok {
		return nil, false
	}
	return rec.entity, true
}

// TryGetByID looks up an entity by type and identifier values. Subtypes
// resolve through their root type.
func (u *UnitOfWork) TryGetByID(typeName string, id ...any) (mapping.Entity, bool) {
	desc, err := u.provider.Descriptor(typeName)
	if err != nil {
		return nil, false
	}
	e, ok := u.TryGetByIDHash(IDHash(id), desc.Meta.RootName())
	if !ok {
		return nil, false
	}
	if desc.Meta.Name != desc.Meta.RootName() && !u.isKindOf(e.EntityType(), desc.Meta.Name) {
		return nil, false
	}
	return e, true
}

// isKindOf reports whether typeName is base or one of its subtypes.
func (u *UnitOfWork) isKindOf(typeName, base string) bool {
	if typeName == base {
		return true
	}
	for _, sub := range u.provider.Subtypes(base) {
		if sub == typeName {
			return true
		}
	}
	return false
}

// IsInIdentityMap reports whether e is registered.
func (u *UnitOfWork) IsInIdentityMap(e mapping.Entity) bool {
	rec := u.lookup(e)
	return rec != nil && u.identity.contains(rec.handle)
}

// Size returns the number of entities in the identity map.
func (u *UnitOfWork) Size() int {
	return u.identity.Len()
}

// identityRecords returns the registered records in first-contact order.
func (u *UnitOfWork) identityRecords() []*record {
	handles := u.identity.handles()
	recs := make([]*record, 0, len(handles))
	for _, h := range handles {
		if rec, ok := u.byHandle[h]; ok {
			recs = append(recs, rec)
		}
	}
	return sortedRecords(recs)
}
