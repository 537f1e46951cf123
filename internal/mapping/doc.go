// Package mapping describes persistent entity types for the unit of work.
//
// This package contains the metadata side of the persistence layer only. The
// unit of work, the commit-order calculator and the SQL store all import
// mapping; mapping imports nothing internal.
//
// An entity type is described by a TypeMeta (fields, identifier fields,
// associations, identifier strategy and inheritance information). A Registry
// resolves inheritance and hands out a Descriptor per type: the TypeMeta plus a
// field Accessor and a constructor, resolved once per type and reused.
//
// Entities themselves are opaque pointers implementing Entity. Two shapes are
// supported out of the box:
//   - *Object: a tagged variant (type tag + field table), used by the harness,
//     the CLI and mapping documents loaded at runtime
//   - pointers to Go structs, read and written through a StructAccessor
package mapping
