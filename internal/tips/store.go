package tips

import "context"

type Store interface {
	Append(ctx context.Context, r Record) error

	// FindByKey looks up a previously applied tip by its idempotency key.
	FindByKey(ctx context.Context, sessionID, key string) (Record, bool, error)

	ListBySession(ctx context.Context, sessionID string) ([]Record, error)
}
