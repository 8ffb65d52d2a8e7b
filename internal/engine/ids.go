package engine

import "github.com/google/uuid"

// IDGenerator produces instance and token IDs.
// UUIDv7Generator is the production implementation; tests use
// testutil.SequenceGenerator.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 strings, so IDs in the
// event log sort by creation time. Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
