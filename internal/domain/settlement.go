package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferRequest asks the settlement collaborator to move funds.
type TransferRequest struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// SettlementGateway moves funds outside the engine. Transfer either confirms
// and returns a reference, or fails; the engine commits nothing on failure.
type SettlementGateway interface {
	Transfer(ctx context.Context, req TransferRequest) (ref string, err error)
	Name() string
}
