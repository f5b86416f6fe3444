package topup

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPaymentDeclined = errors.New("topup: payment declined")

// Receipt is the gateway's proof of a captured charge. Its id doubles as the
// wallet idempotency key, so replaying a webhook or a retried confirmation
// can never credit the wallet twice.
type Receipt struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
	CreatedAt time.Time       `json:"created_at"`
}

// Gateway is the opaque payment provider. It only ever funds wallets; the
// metering loop never talks to it.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, userID string, amount decimal.Decimal, currency, method string) (Receipt, error)
}
