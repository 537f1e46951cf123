package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/unitofwork"
)

var (
	_ unitofwork.Persister           = (*Store)(nil)
	_ unitofwork.CollectionPersister = (*Store)(nil)
)

// Persisters routes every mapped type to s.
func (s *Store) Persisters() unitofwork.Persisters {
	return unitofwork.Shared(s)
}

// Insert implements unitofwork.Persister. For post-insert types it returns
// the database-generated identifier.
func (s *Store) Insert(ctx context.Context, e mapping.Entity) ([]any, error) {
	desc, rt, err := s.resolve(e)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	meta := desc.Meta

	cols := []string{DiscriminatorColumn}
	args := []any{meta.DiscriminatorValue()}
	for _, f := range meta.Fields {
		if rt.postInsert && meta.IsIdentifier(f.Name) {
			continue
		}
		cols = append(cols, f.Name)
		args = append(args, toColumn(desc.Accessor.Get(e, f.Name)))
	}
	for _, a := range meta.OwningToOne() {
		refArgs, err := s.reference(a, desc.Accessor.Get(e, a.Field))
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", meta.Name, err)
		}
		cols = append(cols, rt.refs[a.Field]...)
		args = append(args, refArgs...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(rt.name), strings.Join(quoteAll(cols), ", "), placeholders(len(cols)))
	d := s.schema.dialect

	if !rt.postInsert {
		if _, err := s.db.ExecContext(ctx, d.rebind(query), args...); err != nil {
			return nil, fmt.Errorf("insert %s: %w", meta.Name, err)
		}
		return nil, nil
	}

	var id int64
	if d.returning {
		query += " RETURNING " + quote(meta.Identifier[0])
		if err := s.db.QueryRowContext(ctx, d.rebind(query), args...).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert %s: %w", meta.Name, err)
		}
	} else {
		res, err := s.db.ExecContext(ctx, d.rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", meta.Name, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("insert %s: last insert id: %w", meta.Name, err)
		}
	}
	return []any{id}, nil
}

// Update implements unitofwork.Persister. Only the named scalar fields and
// owning to-one associations are written; other names are ignored.
func (s *Store) Update(ctx context.Context, e mapping.Entity, fields []string) error {
	desc, rt, err := s.resolve(e)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	meta := desc.Meta

	var sets []string
	var args []any
	for _, name := range fields {
		if meta.IsIdentifier(name) {
			continue
		}
		if _, ok := meta.Field(name); ok {
			sets = append(sets, quote(name)+" = ?")
			args = append(args, toColumn(desc.Accessor.Get(e, name)))
			continue
		}
		a, ok := meta.Association(name)
		if !ok || !a.OwningToOne() {
			continue
		}
		refArgs, err := s.reference(a, desc.Accessor.Get(e, name))
		if err != nil {
			return fmt.Errorf("update %s: %w", meta.Name, err)
		}
		for i, col := range rt.refs[name] {
			sets = append(sets, quote(col)+" = ?")
			args = append(args, refArgs[i])
		}
	}
	if len(sets) == 0 {
		return nil
	}

	where, whereArgs := s.identity(desc, e, meta.Identifier)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quote(rt.name), strings.Join(sets, ", "), where)
	return s.execOne(ctx, "update "+meta.Name, query, append(args, whereArgs...)...)
}

// Delete implements unitofwork.Persister. Join-table rows owned by or
// pointing at the entity are removed by ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, e mapping.Entity) error {
	desc, rt, err := s.resolve(e)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	where, args := s.identity(desc, e, desc.Meta.Identifier)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(rt.name), where)
	return s.execOne(ctx, "delete "+desc.Meta.Name, query, args...)
}

// UpdateCollection implements unitofwork.CollectionPersister by rewriting
// the owner's join-table rows from the current association value.
func (s *Store) UpdateCollection(ctx context.Context, owner mapping.Entity, field string) error {
	desc, jt, err := s.joinFor(owner, field)
	if err != nil {
		return fmt.Errorf("update collection: %w", err)
	}
	ownerArgs := s.values(desc, owner, desc.Meta.Identifier)
	d := s.schema.dialect

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update collection %s.%s: %w", desc.Meta.Name, field, err)
	}
	defer tx.Rollback()

	del := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(jt.name), equals(jt.ownerColumns))
	if _, err := tx.ExecContext(ctx, d.rebind(del), ownerArgs...); err != nil {
		return fmt.Errorf("update collection %s.%s: %w", desc.Meta.Name, field, err)
	}

	cols := append(append([]string{}, jt.ownerColumns...), jt.targetColumns...)
	ins := d.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(jt.name), strings.Join(quoteAll(cols), ", "), placeholders(len(cols))))
	seen := make(map[string]bool)
	for _, target := range mapping.Entities(desc.Accessor.Get(owner, field)) {
		tdesc, err := s.catalog.Descriptor(target.EntityType())
		if err != nil {
			return fmt.Errorf("update collection %s.%s: %w", desc.Meta.Name, field, err)
		}
		targetArgs := s.values(tdesc, target, tdesc.Meta.Identifier)
		key := unitofwork.IDHash(targetArgs)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, err := tx.ExecContext(ctx, ins, append(append([]any{}, ownerArgs...), targetArgs...)...); err != nil {
			return fmt.Errorf("update collection %s.%s: %w", desc.Meta.Name, field, err)
		}
	}
	return tx.Commit()
}

// DeleteCollection implements unitofwork.CollectionPersister.
func (s *Store) DeleteCollection(ctx context.Context, owner mapping.Entity, field string) error {
	desc, jt, err := s.joinFor(owner, field)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(jt.name), equals(jt.ownerColumns))
	args := s.values(desc, owner, desc.Meta.Identifier)
	if _, err := s.db.ExecContext(ctx, s.schema.dialect.rebind(query), args...); err != nil {
		return fmt.Errorf("delete collection %s.%s: %w", desc.Meta.Name, field, err)
	}
	return nil
}

func (s *Store) resolve(e mapping.Entity) (*mapping.Descriptor, *rootTable, error) {
	desc, err := s.catalog.Descriptor(e.EntityType())
	if err != nil {
		return nil, nil, err
	}
	rt, ok := s.schema.roots[desc.Meta.RootName()]
	if !ok {
		return nil, nil, fmt.Errorf("no table for type %q", desc.Meta.Name)
	}
	return desc, rt, nil
}

func (s *Store) joinFor(owner mapping.Entity, field string) (*mapping.Descriptor, *joinTable, error) {
	desc, err := s.catalog.Descriptor(owner.EntityType())
	if err != nil {
		return nil, nil, err
	}
	jt, ok := s.schema.joins[joinKey(desc.Meta.RootName(), field)]
	if !ok {
		return nil, nil, fmt.Errorf("%s.%s is not an owning to-many association", desc.Meta.Name, field)
	}
	return desc, jt, nil
}

// reference returns the foreign-key values for an owning to-one value.
func (s *Store) reference(a mapping.Association, value any) ([]any, error) {
	target, err := s.catalog.Descriptor(a.Target)
	if err != nil {
		return nil, err
	}
	n := len(target.Meta.Identifier)
	refs := mapping.Entities(value)
	if len(refs) == 0 {
		return make([]any, n), nil
	}
	ref := refs[0]
	rdesc, err := s.catalog.Descriptor(ref.EntityType())
	if err != nil {
		return nil, err
	}
	vals := s.values(rdesc, ref, rdesc.Meta.Identifier)
	for i, v := range vals {
		if v == nil {
			return nil, fmt.Errorf("%s: %s has no value for identifier %q", a.Field, rdesc.Meta.Name, rdesc.Meta.Identifier[i])
		}
	}
	return vals, nil
}

func (s *Store) values(desc *mapping.Descriptor, e mapping.Entity, fields []string) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = toColumn(desc.Accessor.Get(e, f))
	}
	return out
}

func (s *Store) identity(desc *mapping.Descriptor, e mapping.Entity, ids []string) (string, []any) {
	return equals(ids), s.values(desc, e, ids)
}

// execOne runs a statement that must affect exactly one row.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.schema.dialect.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func equals(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quote(c) + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// toColumn converts a field value to a driver value.
func toColumn(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// fromColumn normalizes a scanned value to the Go type of kind.
func fromColumn(kind mapping.FieldKind, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if kind == mapping.KindBytes {
			return append([]byte(nil), x...)
		}
		return string(x)
	case int64:
		switch kind {
		case mapping.KindBool:
			return x != 0
		case mapping.KindFloat:
			return float64(x)
		}
	case float64:
		if kind == mapping.KindInt {
			return int64(x)
		}
	case string:
		if kind == mapping.KindTime {
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t
			}
		}
	case time.Time:
		return x.UTC()
	}
	return v
}

// scanRow scans the current row into interface values.
func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
