// Package store persists unit-of-work writes to a SQL database.
//
// A Store is both the schema owner and the persister collaborator of a
// unit of work: it derives DDL from the mapping, applies it on Open, and
// implements unitofwork.Persister and unitofwork.CollectionPersister for
// every mapped type.
//
// # Table layout
//
//   - One table per inheritance root. Subtype fields become nullable
//     columns and the concrete type is stored in the "dtype" column.
//   - Owning to-one associations become foreign-key columns named
//     <field>_<target identifier field>.
//   - Owning to-many associations become join tables named
//     <owner table>_<field> with owner_* and target_* columns.
//   - Inverse associations are not stored.
//
// # Dialects
//
//   - sqlite (github.com/mattn/go-sqlite3): WAL mode, foreign keys on,
//     a single connection so ":memory:" databases survive between calls.
//   - postgres (github.com/jackc/pgx/v5/stdlib): numbered placeholders,
//     identity columns for post-insert identifiers, foreign keys added
//     after every table exists.
//
// Applied DDL is recorded by checksum in uow_schema, so Open is idempotent.
package store
