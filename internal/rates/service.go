package rates

import (
	"context"
	"errors"
	"time"

	"consult-platform/internal/session"
)

var (
	ErrRateNotFound   = errors.New("rates: no effective rate")
	ErrInvalidRateReq = errors.New("rates: invalid request")
)

// Repository abstracts rate persistence.
type Repository interface {
	FindMinuteRate(ctx context.Context, expertID string, callType session.Type, at time.Time) (MinuteRate, bool, error)
}

// Service resolves the per-minute rate frozen into a session at initiate
// time. Pure lookup; no provider calls, no money movement.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// Resolve returns the expert's effective rate for callType at the given
// time. A zero at uses the service clock.
func (s *Service) Resolve(ctx context.Context, expertID string, callType session.Type, at time.Time) (MinuteRate, error) {
	if expertID == "" || !callType.Valid() {
		return MinuteRate{}, ErrInvalidRateReq
	}
	if at.IsZero() {
		at = s.clock().UTC()
	}

	r, ok, err := s.repo.FindMinuteRate(ctx, expertID, callType, at)
	if err != nil {
		return MinuteRate{}, err
	}
	if !ok {
		return MinuteRate{}, ErrRateNotFound
	}
	if r.RatePerMinute.IsNegative() {
		return MinuteRate{}, ErrRateNotFound
	}
	return r, nil
}
