package unitofwork

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/uow/internal/commitorder"
	"github.com/roach88/uow/internal/mapping"
)

// Persister applies writes for one entity type.
//
// Insert returns the store-generated identifier values for post-insert
// strategies, nil otherwise. Update receives the names of the fields that
// changed since the last synchronization; current values are read from the
// entity. Errors are propagated to the caller unchanged (wrapped in a
// STORE_FAILURE Error).
type Persister interface {
	Insert(ctx context.Context, e mapping.Entity) ([]any, error)
	Update(ctx context.Context, e mapping.Entity, fields []string) error
	Delete(ctx context.Context, e mapping.Entity) error
}

// CollectionPersister is optionally implemented by persisters whose type
// owns to-many associations stored outside the entity row.
type CollectionPersister interface {
	UpdateCollection(ctx context.Context, owner mapping.Entity, field string) error
	DeleteCollection(ctx context.Context, owner mapping.Entity, field string) error
}

// Persisters resolves the persister for an entity type.
type Persisters interface {
	Persister(typeName string) (Persister, error)
}

// PersistersFunc adapts a function to Persisters.
type PersistersFunc func(typeName string) (Persister, error)

// Persister implements Persisters.
func (f PersistersFunc) Persister(typeName string) (Persister, error) {
	return f(typeName)
}

// Shared routes every entity type to p.
func Shared(p Persister) Persisters {
	return PersistersFunc(func(string) (Persister, error) { return p, nil })
}

// DefaultAutomaticDirtyChecking is whether ComputeChangeSets without
// arguments scans the whole identity map.
const DefaultAutomaticDirtyChecking = true

// record is the tracked state of one entity instance.
type record struct {
	handle Handle
	entity mapping.Entity
	desc   *mapping.Descriptor
	seq    int64

	// state is zero until set explicitly; see stateOf for the lazy default.
	state State

	// original is the last-known snapshot; nil until first synchronized.
	original map[string]any

	// changes is the pending change set between computation and commit.
	changes ChangeSet
}

func (r *record) meta() *mapping.TypeMeta {
	return r.desc.Meta
}

// UnitOfWork tracks entities for one logical transaction.
//
// A UnitOfWork is not safe for concurrent use.
type UnitOfWork struct {
	provider   mapping.Provider
	persisters Persisters
	logger     *slog.Logger
	handleGen  HandleGenerator
	observer   Observer
	autoDirty  bool
	selfRef    commitorder.SelfReferencePolicy

	generators map[string]IDGenerator
	overrides  map[string]IDGenerator

	byEntity map[mapping.Entity]*record
	byHandle map[Handle]*record
	seq      int64

	identity *IdentityMap
	inserts  *queue
	updates  *queue
	deletes  *queue

	collectionUpdates   []collectionOp
	collectionDeletions []collectionOp

	calc *commitorder.Calculator
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(u *UnitOfWork) {
		u.logger = l
	}
}

// WithHandleGenerator sets the handle token generator.
// Default: UUIDv7Generator. Tests use a sequential generator for stable output.
func WithHandleGenerator(g HandleGenerator) Option {
	return func(u *UnitOfWork) {
		u.handleGen = g
	}
}

// WithIDGenerator overrides the identifier generator for a type (or for a
// whole hierarchy when typeName is the root type).
func WithIDGenerator(typeName string, g IDGenerator) Option {
	return func(u *UnitOfWork) {
		u.overrides[typeName] = g
	}
}

// WithAutomaticDirtyChecking controls whether ComputeChangeSets without
// arguments scans every entity in the identity map. When disabled, only
// entities passed explicitly are checked.
func WithAutomaticDirtyChecking(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.autoDirty = enabled
	}
}

// WithSelfReferencePolicy sets how self-referencing types are ordered.
// Default: commitorder.AllowSelfReference.
func WithSelfReferencePolicy(p commitorder.SelfReferencePolicy) Option {
	return func(u *UnitOfWork) {
		u.selfRef = p
	}
}

// WithObserver registers a write/commit observer (metrics).
func WithObserver(o Observer) Option {
	return func(u *UnitOfWork) {
		u.observer = o
	}
}

// New creates an empty unit of work.
func New(provider mapping.Provider, persisters Persisters, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		provider:   provider,
		persisters: persisters,
		logger:     slog.Default(),
		handleGen:  UUIDv7Generator{},
		observer:   nopObserver{},
		autoDirty:  DefaultAutomaticDirtyChecking,
		generators: make(map[string]IDGenerator),
		overrides:  make(map[string]IDGenerator),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.reset()
	return u
}

func (u *UnitOfWork) reset() {
	u.byEntity = make(map[mapping.Entity]*record)
	u.byHandle = make(map[Handle]*record)
	u.identity = newIdentityMap()
	u.inserts = newQueue()
	u.updates = newQueue()
	u.deletes = newQueue()
	u.collectionUpdates = nil
	u.collectionDeletions = nil
	u.calc = commitorder.New(u.provider, commitorder.WithSelfReferencePolicy(u.selfRef))
}

// Clear detaches every entity and drops the commit-order graph.
// The unit of work can be reused afterwards.
func (u *UnitOfWork) Clear() {
	for _, rec := range u.byHandle {
		rec.state = StateDetached
	}
	u.reset()
	u.logger.Debug("unit of work cleared")
}

// Detach stops tracking e: it leaves the identity map, every pending queue
// and every scheduled collection write. Detaching an untracked entity is a
// no-op.
func (u *UnitOfWork) Detach(e mapping.Entity) {
	rec := u.lookup(e)
	if rec == nil {
		return
	}
	u.forget(rec)
	u.logger.Debug("entity detached", "type", rec.meta().Name, "handle", rec.handle)
}

// forget removes every trace of rec from the unit of work.
func (u *UnitOfWork) forget(rec *record) {
	u.identity.remove(rec.handle)
	u.inserts.remove(rec)
	u.updates.remove(rec)
	u.deletes.remove(rec)
	u.collectionUpdates = dropCollectionOps(u.collectionUpdates, rec)
	u.collectionDeletions = dropCollectionOps(u.collectionDeletions, rec)
	delete(u.byEntity, rec.entity)
	delete(u.byHandle, rec.handle)
}

// HandleOf returns the handle of a tracked entity.
func (u *UnitOfWork) HandleOf(e mapping.Entity) (Handle, bool) {
	rec := u.lookup(e)
	if rec == nil {
		return "", false
	}
	return rec.handle, true
}

// EntityChangeSet returns a copy of the pending change set of e.
func (u *UnitOfWork) EntityChangeSet(e mapping.Entity) ChangeSet {
	rec := u.lookup(e)
	if rec == nil || rec.changes == nil {
		return ChangeSet{}
	}
	return maps.Clone(rec.changes)
}

// OriginalData returns a copy of the last-known snapshot of e, or nil when
// e has never been synchronized.
func (u *UnitOfWork) OriginalData(e mapping.Entity) map[string]any {
	rec := u.lookup(e)
	if rec == nil || rec.original == nil {
		return nil
	}
	return maps.Clone(rec.original)
}

// lookup returns the record of an entity without creating one.
func (u *UnitOfWork) lookup(e mapping.Entity) *record {
	if !mapping.IsPointer(e) {
		return nil
	}
	return u.byEntity[e]
}

// recordFor returns the record of e, creating it on first contact.
func (u *UnitOfWork) recordFor(e mapping.Entity) (*record, error) {
	if !mapping.IsPointer(e) {
		return nil, &Error{Code: ErrCodeInvalidEntity, Message: "entities must be non-nil pointers"}
	}
	if rec, ok := u.byEntity[e]; ok {
		return rec, nil
	}
	desc, err := u.provider.Descriptor(e.EntityType())
	if err != nil {
		return nil, &Error{Code: ErrCodeUnknownType, Type: e.EntityType(), Message: "no mapping for entity type", Err: err}
	}
	u.seq++
	rec := &record{
		handle: Handle(u.handleGen.Generate()),
		entity: e,
		desc:   desc,
		seq:    u.seq,
	}
	u.byEntity[e] = rec
	u.byHandle[rec.handle] = rec
	return rec, nil
}

// generatorFor resolves (once per type) the identifier generator.
func (u *UnitOfWork) generatorFor(rec *record) IDGenerator {
	name := rec.meta().Name
	if g, ok := u.generators[name]; ok {
		return g
	}
	g, ok := u.overrides[name]
	if !ok {
		g, ok = u.overrides[rec.meta().RootName()]
	}
	if !ok {
		g = defaultGenerator(rec.desc)
	}
	u.generators[name] = g
	return g
}

// identifierOf reads identifier values from the entity. It returns nil
// when any component is blank.
func (u *UnitOfWork) identifierOf(rec *record) []any {
	ident := rec.meta().Identifier
	if len(ident) == 0 {
		return nil
	}
	values := make([]any, len(ident))
	for i, f := range ident {
		v := rec.desc.Accessor.Get(rec.entity, f)
		if isBlank(v) {
			return nil
		}
		values[i] = v
	}
	return values
}

func (u *UnitOfWork) hasIdentifier(rec *record) bool {
	return u.identifierOf(rec) != nil
}

// sortedRecords orders records by first contact, for deterministic passes.
func sortedRecords(recs []*record) []*record {
	slices.SortFunc(recs, func(a, b *record) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return recs
}
