package topup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SandboxGateway approves every charge. Stands in for the real provider in
// local and dev wiring; production must plug a real gateway adapter here.
type SandboxGateway struct{}

func NewSandboxGateway() *SandboxGateway { return &SandboxGateway{} }

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) Charge(ctx context.Context, userID string, amount decimal.Decimal, currency, method string) (Receipt, error) {
	return Receipt{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Method:    method,
		CreatedAt: time.Now().UTC(),
	}, nil
}
