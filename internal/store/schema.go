package store

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/roach88/uow/internal/mapping"
)

// Catalog is the mapping view a Store needs: descriptors plus the full list
// of mapped type names. *mapping.Registry satisfies it.
type Catalog interface {
	mapping.Provider
	Names() []string
}

// DiscriminatorColumn holds the concrete type of every row of a root table.
const DiscriminatorColumn = "dtype"

type column struct {
	name string
	def  string
	kind mapping.FieldKind
}

type foreignKey struct {
	columns    []string
	refTable   string
	refColumns []string
	onDelete   string
}

type table struct {
	name        string
	columns     []column
	primaryKey  []string
	foreignKeys []foreignKey
}

func (t *table) has(name string) bool {
	for _, c := range t.columns {
		if c.name == name {
			return true
		}
	}
	return false
}

func (t *table) kindOf(name string) mapping.FieldKind {
	for _, c := range t.columns {
		if c.name == name {
			return c.kind
		}
	}
	return ""
}

// rootTable stores one inheritance hierarchy.
type rootTable struct {
	table
	root       *mapping.TypeMeta
	postInsert bool

	// refs maps an owning to-one association to its foreign-key columns.
	refs map[string][]string

	// types maps discriminator values to concrete type names.
	types map[string]string
}

// joinTable stores one owning to-many association.
type joinTable struct {
	table
	target        string
	ownerColumns  []string
	targetColumns []string
}

type schema struct {
	dialect dialect
	roots   map[string]*rootTable
	order   []string
	joins   map[string]*joinTable
	joinSeq []string
}

func joinKey(root, field string) string {
	return root + "." + field
}

// buildSchema derives the table layout from every mapped type.
func buildSchema(catalog Catalog, d dialect) (*schema, error) {
	s := &schema{
		dialect: d,
		roots:   make(map[string]*rootTable),
		joins:   make(map[string]*joinTable),
	}
	var subtypes []*mapping.TypeMeta
	for _, name := range catalog.Names() {
		desc, err := catalog.Descriptor(name)
		if err != nil {
			return nil, fmt.Errorf("build schema: %w", err)
		}
		meta := desc.Meta
		if meta.RootName() != meta.Name {
			subtypes = append(subtypes, meta)
			continue
		}
		rt, err := s.newRootTable(meta)
		if err != nil {
			return nil, err
		}
		s.roots[meta.Name] = rt
		s.order = append(s.order, meta.Name)
	}
	for _, meta := range subtypes {
		rt, ok := s.roots[meta.RootName()]
		if !ok {
			return nil, fmt.Errorf("build schema: %s: root type %q is not mapped", meta.Name, meta.RootName())
		}
		rt.types[meta.DiscriminatorValue()] = meta.Name
	}
	for _, name := range catalog.Names() {
		desc, _ := catalog.Descriptor(name)
		if err := s.addMembers(catalog, s.roots[desc.Meta.RootName()], desc.Meta); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *schema) newRootTable(meta *mapping.TypeMeta) (*rootTable, error) {
	rt := &rootTable{
		table:      table{name: tableName(meta.Name)},
		root:       meta,
		postInsert: meta.Strategy.Deferred(),
		refs:       make(map[string][]string),
		types:      map[string]string{meta.DiscriminatorValue(): meta.Name},
	}
	for _, id := range meta.Identifier {
		f, ok := meta.Field(id)
		if !ok {
			return nil, fmt.Errorf("build schema: %s: identifier %q is not a field", meta.Name, id)
		}
		def := s.dialect.columnType(f.Kind) + " NOT NULL"
		if rt.postInsert {
			def = s.dialect.serial
		}
		rt.columns = append(rt.columns, column{name: id, def: def, kind: f.Kind})
	}
	if !rt.postInsert {
		rt.primaryKey = meta.Identifier
	}
	rt.columns = append(rt.columns, column{name: DiscriminatorColumn, def: "TEXT NOT NULL", kind: mapping.KindString})
	return rt, nil
}

// addMembers adds the fields and associations of meta to its root table.
// Subtype members become nullable columns.
func (s *schema) addMembers(catalog Catalog, rt *rootTable, meta *mapping.TypeMeta) error {
	for _, f := range meta.Fields {
		if rt.has(f.Name) {
			continue
		}
		rt.columns = append(rt.columns, column{name: f.Name, def: s.dialect.columnType(f.Kind), kind: f.Kind})
	}
	for _, a := range meta.Associations {
		if !a.Owning {
			continue
		}
		target, err := catalog.Descriptor(a.Target)
		if err != nil {
			return fmt.Errorf("build schema: %s.%s: %w", meta.Name, a.Field, err)
		}
		tm := target.Meta
		if a.ToMany {
			s.addJoinTable(rt, a, tm)
			continue
		}
		if _, done := rt.refs[a.Field]; done {
			continue
		}
		var cols []string
		for _, id := range tm.Identifier {
			name := a.Field + "_" + id
			kind := s.identifierKind(tm, id)
			rt.columns = append(rt.columns, column{name: name, def: s.dialect.columnType(kind), kind: kind})
			cols = append(cols, name)
		}
		rt.refs[a.Field] = cols
		rt.foreignKeys = append(rt.foreignKeys, foreignKey{
			columns:    cols,
			refTable:   tableName(tm.RootName()),
			refColumns: tm.Identifier,
		})
	}
	return nil
}

func (s *schema) addJoinTable(rt *rootTable, a mapping.Association, target *mapping.TypeMeta) {
	key := joinKey(rt.root.Name, a.Field)
	if _, done := s.joins[key]; done {
		return
	}
	jt := &joinTable{
		table:  table{name: rt.name + "_" + snake(a.Field)},
		target: a.Target,
	}
	for _, id := range rt.root.Identifier {
		name := "owner_" + id
		kind := s.identifierKind(rt.root, id)
		jt.columns = append(jt.columns, column{name: name, def: s.dialect.columnType(kind) + " NOT NULL", kind: kind})
		jt.ownerColumns = append(jt.ownerColumns, name)
	}
	for _, id := range target.Identifier {
		name := "target_" + id
		kind := s.identifierKind(target, id)
		jt.columns = append(jt.columns, column{name: name, def: s.dialect.columnType(kind) + " NOT NULL", kind: kind})
		jt.targetColumns = append(jt.targetColumns, name)
	}
	jt.primaryKey = append(append([]string{}, jt.ownerColumns...), jt.targetColumns...)
	jt.foreignKeys = []foreignKey{
		{columns: jt.ownerColumns, refTable: rt.name, refColumns: rt.root.Identifier, onDelete: "CASCADE"},
		{columns: jt.targetColumns, refTable: tableName(target.RootName()), refColumns: target.Identifier, onDelete: "CASCADE"},
	}
	s.joins[key] = jt
	s.joinSeq = append(s.joinSeq, key)
}

// identifierKind is the column kind used to reference an identifier field.
func (s *schema) identifierKind(meta *mapping.TypeMeta, id string) mapping.FieldKind {
	if meta.Strategy.Deferred() {
		return mapping.KindInt
	}
	if f, ok := meta.Field(id); ok {
		return f.Kind
	}
	return mapping.KindString
}

// ddl renders CREATE TABLE statements for every table, followed by
// ALTER TABLE statements when foreign keys cannot be inlined.
func (s *schema) ddl() []string {
	var stmts, deferred []string
	tables := make([]*table, 0, len(s.order)+len(s.joinSeq))
	for _, name := range s.order {
		tables = append(tables, &s.roots[name].table)
	}
	for _, key := range s.joinSeq {
		tables = append(tables, &s.joins[key].table)
	}
	for _, t := range tables {
		var lines []string
		for _, c := range t.columns {
			lines = append(lines, fmt.Sprintf("%s %s", quote(c.name), c.def))
		}
		if len(t.primaryKey) > 0 {
			lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoteAll(t.primaryKey), ", ")))
		}
		for _, fk := range t.foreignKeys {
			if s.dialect.inlineForeignKeys {
				lines = append(lines, fk.clause())
				continue
			}
			deferred = append(deferred, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s %s",
				quote(t.name), quote(fk.name(t.name)), fk.clause()))
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)",
			quote(t.name), strings.Join(lines, ",\n\t")))
	}
	return append(stmts, deferred...)
}

func (fk foreignKey) clause() string {
	out := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
		strings.Join(quoteAll(fk.columns), ", "), quote(fk.refTable), strings.Join(quoteAll(fk.refColumns), ", "))
	if fk.onDelete != "" {
		out += " ON DELETE " + fk.onDelete
	}
	return out
}

func (fk foreignKey) name(tableName string) string {
	return "fk_" + tableName + "_" + strings.Join(fk.columns, "_")
}

// tableName converts a type name to its table name: LineItem -> line_item.
func tableName(typeName string) string {
	return snake(typeName)
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// Break before an upper-case rune that starts a new word.
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
