package util

import (
	"github.com/cespare/xxhash"
)

// Hasher spreads shuffle keys across the pooled connections of one
// worker address.
type Hasher struct {
}

func (h *Hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}
