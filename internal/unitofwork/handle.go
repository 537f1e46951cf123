package unitofwork

import (
	"github.com/google/uuid"
)

// Handle is the stable per-instance token the unit of work keys its tables
// by. It is never the persisted identifier, which may not exist yet.
type Handle string

// HandleGenerator produces handle tokens.
// Implemented by UUIDv7Generator (production) and testutil.SequentialGenerator (tests).
type HandleGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 handles.
//
// UUIDv7 embeds a timestamp in the most significant bits, so handles sort
// by the moment the unit of work first saw the instance. This is helpful
// when reading logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
