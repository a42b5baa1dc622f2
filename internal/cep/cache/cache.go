// Package cache holds the pluggable address cache used by the orchestrator.
//
// Keys are canonical 8-digit CEPs. Implementations must be safe for
// concurrent use; a remote implementation may return errors, which the
// orchestrator treats as a miss on read and logs on write.
package cache

import (
	"context"

	"cepfinder/internal/cep/models"
)

// Cache is the contract every address cache satisfies.
type Cache interface {
	// Get returns the address and true on hit, or false on miss or expiry.
	Get(ctx context.Context, key string) (models.Address, bool, error)

	// Set stores an address under key, replacing any previous value.
	Set(ctx context.Context, key string, value models.Address) error

	// Has reports whether a live entry exists for key.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this cache.
	Clear(ctx context.Context) error
}
