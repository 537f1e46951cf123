package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/uow/internal/mapping"
)

// Write is one persister call observed by RecordingPersister.
type Write struct {
	Seq    int64    `json:"seq" yaml:"seq"`
	Op     string   `json:"op" yaml:"op"`
	Type   string   `json:"type" yaml:"type"`
	ID     string   `json:"id" yaml:"id"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// String renders the write as "op Type#id [fields]".
func (w Write) String() string {
	s := fmt.Sprintf("%s %s#%s", w.Op, w.Type, w.ID)
	if len(w.Fields) > 0 {
		s += " [" + strings.Join(w.Fields, ",") + "]"
	}
	return s
}

// RecordingPersister records every write instead of touching a store.
//
// It satisfies unitofwork.Persister and unitofwork.CollectionPersister for
// every type. Types with the post_insert strategy receive identifiers
// 1, 2, 3, ... from Insert.
type RecordingPersister struct {
	provider mapping.Provider

	mu       sync.Mutex
	seq      Sequence
	ids      Sequence
	writes   []Write
	failures map[string]error
}

// NewRecordingPersister creates a recorder that reads identifiers through
// provider's accessors.
func NewRecordingPersister(provider mapping.Provider) *RecordingPersister {
	return &RecordingPersister{
		provider: provider,
		failures: make(map[string]error),
	}
}

// FailOn makes the next matching call return err.
func (p *RecordingPersister) FailOn(op, typeName string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op+" "+typeName] = err
}

// Insert records an insert.
func (p *RecordingPersister) Insert(_ context.Context, e mapping.Entity) ([]any, error) {
	if err := p.failure("insert", e); err != nil {
		return nil, err
	}
	var generated []any
	desc, err := p.provider.Descriptor(e.EntityType())
	if err != nil {
		return nil, err
	}
	if desc.Meta.Strategy == mapping.IDPostInsert {
		generated = []any{p.ids.Next()}
	}
	id := p.identifier(desc, e)
	if generated != nil {
		id = fmt.Sprint(generated[0])
	}
	p.record("insert", e.EntityType(), id, nil)
	return generated, nil
}

// Update records an update.
func (p *RecordingPersister) Update(_ context.Context, e mapping.Entity, fields []string) error {
	return p.simple("update", e, fields)
}

// Delete records a delete.
func (p *RecordingPersister) Delete(_ context.Context, e mapping.Entity) error {
	return p.simple("delete", e, nil)
}

// UpdateCollection records a collection rewrite.
func (p *RecordingPersister) UpdateCollection(_ context.Context, owner mapping.Entity, field string) error {
	return p.simple("collection_update", owner, []string{field})
}

// DeleteCollection records a collection removal.
func (p *RecordingPersister) DeleteCollection(_ context.Context, owner mapping.Entity, field string) error {
	return p.simple("collection_delete", owner, []string{field})
}

func (p *RecordingPersister) simple(op string, e mapping.Entity, fields []string) error {
	if err := p.failure(op, e); err != nil {
		return err
	}
	desc, err := p.provider.Descriptor(e.EntityType())
	if err != nil {
		return err
	}
	p.record(op, e.EntityType(), p.identifier(desc, e), fields)
	return nil
}

func (p *RecordingPersister) failure(op string, e mapping.Entity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := op + " " + e.EntityType()
	err, ok := p.failures[key]
	if ok {
		delete(p.failures, key)
	}
	return err
}

func (p *RecordingPersister) identifier(desc *mapping.Descriptor, e mapping.Entity) string {
	parts := make([]string, 0, len(desc.Meta.Identifier))
	for _, f := range desc.Meta.Identifier {
		parts = append(parts, fmt.Sprint(desc.Accessor.Get(e, f)))
	}
	return strings.Join(parts, " ")
}

func (p *RecordingPersister) record(op, typeName, id string, fields []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, Write{
		Seq:    p.seq.Next(),
		Op:     op,
		Type:   typeName,
		ID:     id,
		Fields: fields,
	})
}

// Writes returns a copy of the recorded writes.
func (p *RecordingPersister) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Write, len(p.writes))
	copy(out, p.writes)
	return out
}

// Ops returns each write rendered with Write.String.
func (p *RecordingPersister) Ops() []string {
	writes := p.Writes()
	out := make([]string, len(writes))
	for i, w := range writes {
		out[i] = w.String()
	}
	return out
}

// Reset forgets recorded writes, pending failures and generated ids.
func (p *RecordingPersister) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = nil
	p.failures = make(map[string]error)
	p.seq.Reset()
	p.ids.Reset()
}
