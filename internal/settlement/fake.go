// Package settlement provides the domain.SettlementGateway implementations:
// an in-memory ledger for tests and manual deployments, and an HTTP client
// for an external custody service.
package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/shopspring/decimal"
)

// Fake records transfers in memory and confirms them immediately. Balances
// are tracked per account and may go negative; funding is not modelled.
type Fake struct {
	mu        sync.Mutex
	transfers []domain.TransferRequest
	seen      map[string]string
	balances  map[string]decimal.Decimal
	failWith  error
	seq       int
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		seen:     make(map[string]string),
		balances: make(map[string]decimal.Decimal),
	}
}

// Name identifies the gateway in logs.
func (f *Fake) Name() string { return "fake" }

// FailWith makes every later Transfer fail with err. Pass nil to recover.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

// Transfer records req. A repeated idempotency key returns the original
// reference without moving funds again.
func (f *Fake) Transfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("fake settlement: %w: %s", domain.ErrInvalidAmount, req.Amount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	if req.IdempotencyKey != "" {
		if ref, ok := f.seen[req.IdempotencyKey]; ok {
			return ref, nil
		}
	}
	f.seq++
	ref := fmt.Sprintf("fake-%06d", f.seq)
	f.transfers = append(f.transfers, req)
	f.balances[req.From] = f.balances[req.From].Sub(req.Amount)
	f.balances[req.To] = f.balances[req.To].Add(req.Amount)
	if req.IdempotencyKey != "" {
		f.seen[req.IdempotencyKey] = ref
	}
	return ref, nil
}

// Transfers returns a copy of every confirmed transfer in order.
func (f *Fake) Transfers() []domain.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TransferRequest(nil), f.transfers...)
}

// Balance returns the net amount moved into account.
func (f *Fake) Balance(account string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account]
}

var _ domain.SettlementGateway = (*Fake)(nil)
