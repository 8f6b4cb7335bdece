package proto

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces request ids unique within a connection lifetime:
// a per-connection salt plus a monotonic counter. Uniqueness is
// structural, not statistical. The salt isolates successive connections
// so a late response from a dead connection can never match a pending
// id on its replacement.
type IDGenerator struct {
	salt string
	n    atomic.Int64
}

// NewIDGenerator creates a generator with a fresh salt. Call once per
// connection lifecycle.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{salt: uuid.NewString()[:8]}
}

// Next returns the next request id.
func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.salt, g.n.Add(1))
}
