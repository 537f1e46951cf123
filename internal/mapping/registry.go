package mapping

import (
	"fmt"
	"slices"
)

// Descriptor is the per-type capability object handed to the unit of work:
// the resolved metadata, the field accessor and a constructor used by
// reconstruction.
type Descriptor struct {
	Meta     *TypeMeta
	Accessor Accessor
	New      func() Entity
}

// Provider resolves descriptors by type name.
type Provider interface {
	Descriptor(typeName string) (*Descriptor, error)
	Subtypes(typeName string) []string
}

// UnknownTypeError is returned when a type name is not registered.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown entity type %q", e.Type)
}

// Registry is an in-memory Provider.
//
// Types may be registered in any order; inheritance is resolved lazily by
// Resolve (or on first Descriptor call) so that a subtype may be registered
// before its parent.
type Registry struct {
	metas    map[string]*TypeMeta
	access   map[string]Accessor
	ctors    map[string]func() Entity
	order    []string
	resolved map[string]*Descriptor
}

var _ Provider = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metas:  make(map[string]*TypeMeta),
		access: make(map[string]Accessor),
		ctors:  make(map[string]func() Entity),
	}
}

// RegisterObject registers a type whose instances are *Object.
func (r *Registry) RegisterObject(meta TypeMeta) error {
	name := meta.Name
	return r.register(meta, ObjectAccessor{}, func() Entity { return NewObject(name) })
}

// RegisterStruct registers a type backed by the Go struct behind sample.
func (r *Registry) RegisterStruct(meta TypeMeta, sample Entity) error {
	sa, err := NewStructAccessor(sample)
	if err != nil {
		return err
	}
	return r.register(meta, sa, sa.New)
}

// Register registers a type with a caller-supplied accessor and constructor.
func (r *Registry) Register(meta TypeMeta, accessor Accessor, ctor func() Entity) error {
	return r.register(meta, accessor, ctor)
}

func (r *Registry) register(meta TypeMeta, accessor Accessor, ctor func() Entity) error {
	if meta.Name == "" {
		return fmt.Errorf("register: type name is required")
	}
	if _, exists := r.metas[meta.Name]; exists {
		return fmt.Errorf("register: type %q already registered", meta.Name)
	}
	if meta.Strategy == "" {
		meta.Strategy = IDAssigned
	}
	m := meta
	r.metas[meta.Name] = &m
	r.access[meta.Name] = accessor
	r.ctors[meta.Name] = ctor
	r.order = append(r.order, meta.Name)
	r.resolved = nil
	return nil
}

// Names returns registered type names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Descriptor implements Provider.
func (r *Registry) Descriptor(typeName string) (*Descriptor, error) {
	if r.resolved == nil {
		if err := r.Resolve(); err != nil {
			return nil, err
		}
	}
	d, ok := r.resolved[typeName]
	if !ok {
		return nil, &UnknownTypeError{Type: typeName}
	}
	return d, nil
}

// Subtypes implements Provider. It returns every transitive subtype of
// typeName in registration order.
func (r *Registry) Subtypes(typeName string) []string {
	var out []string
	for _, name := range r.order {
		if name == typeName {
			continue
		}
		for parent := r.metas[name].Extends; parent != ""; parent = r.parentOf(parent) {
			if parent == typeName {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

func (r *Registry) parentOf(name string) string {
	if m, ok := r.metas[name]; ok {
		return m.Extends
	}
	return ""
}

// Resolve flattens inheritance: every subtype receives its ancestors'
// fields, identifier, associations and strategy, and its Root is set to the
// top of the hierarchy.
func (r *Registry) Resolve() error {
	resolved := make(map[string]*Descriptor, len(r.metas))
	for _, name := range r.order {
		meta, err := r.flatten(name, map[string]bool{})
		if err != nil {
			return err
		}
		resolved[name] = &Descriptor{Meta: meta, Accessor: r.access[name], New: r.ctors[name]}
	}
	r.resolved = resolved
	return nil
}

func (r *Registry) flatten(name string, seen map[string]bool) (*TypeMeta, error) {
	if seen[name] {
		return nil, fmt.Errorf("resolve %s: inheritance cycle", name)
	}
	seen[name] = true
	own, ok := r.metas[name]
	if !ok {
		return nil, &UnknownTypeError{Type: name}
	}
	out := *own
	out.Fields = slices.Clone(own.Fields)
	out.Identifier = slices.Clone(own.Identifier)
	out.Associations = slices.Clone(own.Associations)
	if own.Extends == "" {
		out.Root = ""
		return &out, nil
	}
	parent, err := r.flatten(own.Extends, seen)
	if err != nil {
		return nil, err
	}
	out.Root = parent.RootName()
	out.Identifier = parent.Identifier
	out.Strategy = parent.Strategy
	fields := slices.Clone(parent.Fields)
	for _, f := range own.Fields {
		if _, dup := parent.Field(f.Name); !dup {
			fields = append(fields, f)
		}
	}
	out.Fields = fields
	assocs := slices.Clone(parent.Associations)
	for _, a := range own.Associations {
		if _, dup := parent.Association(a.Field); !dup {
			assocs = append(assocs, a)
		}
	}
	out.Associations = assocs
	return &out, nil
}
