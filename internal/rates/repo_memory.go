package rates

import (
	"context"
	"time"

	"consult-platform/internal/session"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Prefers the most recently effective active row.
type MemoryRepo struct {
	Rates []MinuteRate
}

func (r *MemoryRepo) FindMinuteRate(ctx context.Context, expertID string, callType session.Type, at time.Time) (MinuteRate, bool, error) {
	_ = ctx

	var best MinuteRate
	found := false

	for _, p := range r.Rates {
		if p.ExpertID != expertID {
			continue
		}
		if p.CallType != callType {
			continue
		}
		if p.Status != RateStatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}
