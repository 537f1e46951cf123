package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/unitofwork"
)

// Load returns the entity of typeName with the given identifier, tracked
// by uow.
//
// An entity already in the identity map is returned without a query.
// Otherwise the row is read, the concrete type is taken from the
// discriminator column and the entity is reconstructed through
// CreateEntity. Owning associations are loaded eagerly; inverse
// associations are left unset.
func (s *Store) Load(ctx context.Context, uow *unitofwork.UnitOfWork, typeName string, id ...any) (mapping.Entity, error) {
	if e, ok := uow.TryGetByID(typeName, id...); ok {
		return e, nil
	}
	rt, err := s.rootTable(typeName)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", typeName, err)
	}

	cols := make([]string, len(rt.columns))
	for i, c := range rt.columns {
		cols[i] = c.name
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(quoteAll(cols), ", "), quote(rt.name), equals(rt.root.Identifier))
	args := make([]any, len(id))
	for i, v := range id {
		args[i] = toColumn(v)
	}
	// The row is read completely before loading references: sqlite runs
	// on a single connection.
	vals, err := s.queryRow(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s %v: %w", typeName, id, err)
	}
	row := make(map[string]any, len(cols))
	for i, c := range rt.columns {
		row[c.name] = fromColumn(c.kind, vals[i])
	}

	dtype, _ := row[DiscriminatorColumn].(string)
	concrete, ok := rt.types[dtype]
	if !ok {
		return nil, fmt.Errorf("load %s %v: unknown discriminator %q", typeName, id, dtype)
	}
	if concrete != typeName && !slices.Contains(s.catalog.Subtypes(typeName), concrete) {
		return nil, fmt.Errorf("load %s %v: row is a %s: %w", typeName, id, concrete, ErrNotFound)
	}
	desc, err := s.catalog.Descriptor(concrete)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", concrete, err)
	}
	meta := desc.Meta

	data := make(map[string]any, len(meta.Fields))
	for _, f := range meta.Fields {
		data[f.Name] = row[f.Name]
	}
	e, err := uow.CreateEntity(concrete, data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", concrete, err)
	}

	// Registered first so reference cycles resolve through the identity map.
	refs := make(map[string]any)
	for _, a := range meta.Associations {
		if !a.Owning {
			continue
		}
		if a.ToMany {
			targets, err := s.loadCollection(ctx, uow, rt.root.Name, a.Field, s.values(desc, e, meta.Identifier))
			if err != nil {
				return nil, err
			}
			refs[a.Field] = targets
			continue
		}
		var fk []any
		for _, col := range rt.refs[a.Field] {
			if row[col] != nil {
				fk = append(fk, row[col])
			}
		}
		if len(fk) != len(rt.refs[a.Field]) {
			continue
		}
		target, err := s.Load(ctx, uow, a.Target, fk...)
		if err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", concrete, a.Field, err)
		}
		refs[a.Field] = target
	}
	if len(refs) == 0 {
		return e, nil
	}
	for _, f := range meta.Identifier {
		refs[f] = data[f]
	}
	if _, err := uow.CreateEntity(concrete, refs); err != nil {
		return nil, fmt.Errorf("load %s: %w", concrete, err)
	}
	return e, nil
}

func (s *Store) loadCollection(ctx context.Context, uow *unitofwork.UnitOfWork, root, field string, owner []any) ([]mapping.Entity, error) {
	jt, ok := s.schema.joins[joinKey(root, field)]
	if !ok {
		return nil, fmt.Errorf("load %s.%s: no join table", root, field)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		strings.Join(quoteAll(jt.targetColumns), ", "), quote(jt.name), equals(jt.ownerColumns),
		strings.Join(quoteAll(jt.targetColumns), ", "))
	ids, err := s.queryAll(ctx, &jt.table, jt.targetColumns, query, owner...)
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", root, field, err)
	}
	targets := make([]mapping.Entity, 0, len(ids))
	for _, id := range ids {
		t, err := s.Load(ctx, uow, jt.target, id...)
		if err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", root, field, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// LoadAll loads every stored entity of typeName (subtypes included) in
// identifier order.
func (s *Store) LoadAll(ctx context.Context, uow *unitofwork.UnitOfWork, typeName string) ([]mapping.Entity, error) {
	rt, err := s.rootTable(typeName)
	if err != nil {
		return nil, fmt.Errorf("load all %s: %w", typeName, err)
	}
	kinds := append([]string{typeName}, s.catalog.Subtypes(typeName)...)
	var dtypes []any
	for dv, name := range rt.types {
		if slices.Contains(kinds, name) {
			dtypes = append(dtypes, dv)
		}
	}
	slices.SortFunc(dtypes, func(a, b any) int { return strings.Compare(a.(string), b.(string)) })

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s",
		strings.Join(quoteAll(rt.root.Identifier), ", "), quote(rt.name), quote(DiscriminatorColumn),
		placeholders(len(dtypes)), strings.Join(quoteAll(rt.root.Identifier), ", "))
	ids, err := s.queryAll(ctx, &rt.table, rt.root.Identifier, query, dtypes...)
	if err != nil {
		return nil, fmt.Errorf("load all %s: %w", typeName, err)
	}
	out := make([]mapping.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.Load(ctx, uow, typeName, id...)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// IDGenerators returns unit-of-work options that continue every sequence
// type after the largest identifier already stored.
func (s *Store) IDGenerators(ctx context.Context) ([]unitofwork.Option, error) {
	var opts []unitofwork.Option
	for _, name := range s.schema.order {
		rt := s.schema.roots[name]
		if rt.root.Strategy != mapping.IDSequence || len(rt.root.Identifier) != 1 {
			continue
		}
		var last sql.NullInt64
		query := fmt.Sprintf("SELECT MAX(%s) FROM %s", quote(rt.root.Identifier[0]), quote(rt.name))
		if err := s.db.QueryRowContext(ctx, query).Scan(&last); err != nil {
			return nil, fmt.Errorf("sequence %s: %w", name, err)
		}
		opts = append(opts, unitofwork.WithIDGenerator(name, unitofwork.NewSequenceGenerator(last.Int64)))
	}
	return opts, nil
}

// Count returns the number of rows stored for typeName (subtypes included
// when typeName is a root).
func (s *Store) Count(ctx context.Context, typeName string) (int, error) {
	rt, err := s.rootTable(typeName)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quote(rt.name))
	var args []any
	if rt.root.Name != typeName {
		desc, _ := s.catalog.Descriptor(typeName)
		query += fmt.Sprintf(" WHERE %s = ?", quote(DiscriminatorColumn))
		args = append(args, desc.Meta.DiscriminatorValue())
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.schema.dialect.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", typeName, err)
	}
	return n, nil
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) ([]any, error) {
	rows, err := s.db.QueryContext(ctx, s.schema.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return scanRow(rows, len(cols))
}

// queryAll reads every row of query, normalizing values by the kinds of
// cols in t.
func (s *Store) queryAll(ctx context.Context, t *table, cols []string, query string, args ...any) ([][]any, error) {
	rows, err := s.db.QueryContext(ctx, s.schema.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return nil, err
		}
		for i, c := range cols {
			vals[i] = fromColumn(t.kindOf(c), vals[i])
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
