package store

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/uow/internal/mapping"
)

// dialect captures the SQL differences between supported databases.
type dialect struct {
	name   string
	driver string

	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool

	// inlineForeignKeys puts FOREIGN KEY clauses inside CREATE TABLE.
	// Otherwise they are added with ALTER TABLE once every table exists.
	inlineForeignKeys bool

	// returning reads post-insert identifiers with INSERT ... RETURNING
	// instead of sql.Result.LastInsertId.
	returning bool

	pragmas []string
	kinds   map[mapping.FieldKind]string

	// serial is the column definition of a post-insert identifier.
	serial string
}

var sqliteDialect = dialect{
	name:              "sqlite",
	driver:            "sqlite3",
	inlineForeignKeys: true,
	pragmas: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	},
	// BOOLEAN and TIMESTAMP declared types make go-sqlite3 return bool and
	// time.Time when scanning into interface values.
	kinds: map[mapping.FieldKind]string{
		mapping.KindString: "TEXT",
		mapping.KindInt:    "INTEGER",
		mapping.KindFloat:  "REAL",
		mapping.KindBool:   "BOOLEAN",
		mapping.KindTime:   "TIMESTAMP",
		mapping.KindBytes:  "BLOB",
	},
	serial: "INTEGER PRIMARY KEY AUTOINCREMENT",
}

var postgresDialect = dialect{
	name:      "postgres",
	driver:    "pgx",
	numbered:  true,
	returning: true,
	kinds: map[mapping.FieldKind]string{
		mapping.KindString: "TEXT",
		mapping.KindInt:    "BIGINT",
		mapping.KindFloat:  "DOUBLE PRECISION",
		mapping.KindBool:   "BOOLEAN",
		mapping.KindTime:   "TIMESTAMPTZ",
		mapping.KindBytes:  "BYTEA",
	},
	serial: "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
}

// Drivers lists the accepted driver names.
var Drivers = []string{"sqlite3", "pgx"}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported driver %q: must be one of %v", driver, Drivers)
}

// columnType returns the SQL type of a field kind. Post-insert identifiers
// referenced from other tables are always integers.
func (d dialect) columnType(kind mapping.FieldKind) string {
	if t, ok := d.kinds[kind]; ok {
		return t
	}
	return d.kinds[mapping.KindString]
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
// Queries built by this package never contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quote quotes an identifier. Mapped names such as "order" are SQL keywords.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(n)
	}
	return out
}
