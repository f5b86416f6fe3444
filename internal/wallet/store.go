package wallet

import "context"

// Store is the persistence contract for ledger entries and the balance
// projection.
//
// Store implementations provide atomicity of a single Append (ledger insert
// plus projection update happen together or not at all). Serialization of
// read-check-append sequences for the same user is the Service's job; see the
// per-user lock discipline there.
type Store interface {
	// Balance returns the current projection. A user with no ledger history
	// reads as a zero balance with an empty currency.
	Balance(ctx context.Context, userID string) (Balance, error)

	// FindByIdempotency returns the entry previously posted with key, if any.
	FindByIdempotency(ctx context.Context, userID, key string) (Entry, bool, error)

	// Append atomically writes the entry and the new projection value.
	Append(ctx context.Context, e Entry, newBalance Balance) error
}
