package unitofwork

import "time"

// Op names a write applied during commit.
type Op string

const (
	OpInsert           Op = "insert"
	OpUpdate           Op = "update"
	OpDelete           Op = "delete"
	OpCollectionUpdate Op = "collection_update"
	OpCollectionDelete Op = "collection_delete"
)

// Observer receives commit events. Implementations must not call back into
// the unit of work.
type Observer interface {
	WriteApplied(op Op, typeName string)
	CommitFinished(elapsed time.Duration, pending Stats, err error)
}

type nopObserver struct{}

func (nopObserver) WriteApplied(Op, string)                   {}
func (nopObserver) CommitFinished(time.Duration, Stats, error) {}
