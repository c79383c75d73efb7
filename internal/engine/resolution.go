package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
	"github.com/shopspring/decimal"
)

// ResolveMarket sets the outcome of a market. Only the creator may resolve
// and a market resolves at most once.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcome bool, requester string) (domain.Market, error) {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	m, err := e.resolveLocked(ctx, marketID, outcome, requester)
	unlock()
	if err != nil {
		return domain.Market{}, err
	}

	e.logger.InfoContext(ctx, "engine: market resolved",
		slog.String("market_id", m.ID),
		slog.Bool("outcome", outcome),
	)
	e.bus.Emit(ctx, events.CategoryResolution, events.ActionResolved, m.ID, m)
	return m, nil
}

func (e *Engine) resolveLocked(ctx context.Context, marketID string, outcome bool, requester string) (domain.Market, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: resolve %s: %w", marketID, err)
	}
	if requester != m.Creator {
		return domain.Market{}, fmt.Errorf("engine: resolve %s: %w: requester is not the creator", marketID, domain.ErrUnauthorized)
	}
	if m.Resolved {
		return domain.Market{}, fmt.Errorf("engine: resolve %s: %w", marketID, domain.ErrAlreadyResolved)
	}
	now := e.now()
	if e.cfg.EnforceDeadlines && now.Before(m.Deadline) {
		return domain.Market{}, fmt.Errorf("engine: resolve %s: %w: deadline %s",
			marketID, domain.ErrDeadlineNotReached, m.Deadline.Format(time.RFC3339))
	}

	resolved := true
	delta := domain.MarketDelta{Resolved: &resolved, Outcome: &outcome, ResolvedAt: &now}
	var out domain.Market
	err = e.store.RunInTx(ctx, func(tx domain.Store) error {
		var err error
		if out, err = tx.UpdateMarket(ctx, marketID, delta); err != nil {
			return err
		}
		return tx.Log(ctx, "market_resolved", map[string]any{
			"market_id": marketID,
			"outcome":   outcome,
			"requester": requester,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: commit resolve %s: %w", marketID, err)
	}
	return out, nil
}

// Claim pays out a winning position of a resolved market.
func (e *Engine) Claim(ctx context.Context, marketID, user string) (domain.ClaimResult, error) {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	res, pos, err := e.claimLocked(ctx, marketID, user)
	unlock()
	if err != nil {
		return domain.ClaimResult{}, err
	}

	e.logger.InfoContext(ctx, "engine: winnings claimed",
		slog.String("market_id", marketID),
		slog.String("user", user),
		slog.String("payout", res.Payout.String()),
	)
	e.bus.Emit(ctx, events.CategoryPosition, events.ActionClaimed, marketID, pos)
	return res, nil
}

func (e *Engine) claimLocked(ctx context.Context, marketID, user string) (domain.ClaimResult, domain.Position, error) {
	m, pos, res, err := e.evaluateClaim(ctx, marketID, user)
	if err != nil {
		return domain.ClaimResult{}, domain.Position{}, err
	}
	if pos.Claimed {
		return domain.ClaimResult{}, domain.Position{}, fmt.Errorf("engine: claim %s/%s: %w", marketID, user, domain.ErrAlreadyClaimed)
	}
	if !res.WinningTokens.IsPositive() {
		return domain.ClaimResult{}, domain.Position{}, fmt.Errorf("engine: claim %s/%s: %w", marketID, user, domain.ErrNothingToClaim)
	}

	if res.Payout.IsPositive() {
		ref, err := e.settle(ctx, domain.TransferRequest{
			From:           m.Vault,
			To:             user,
			Amount:         res.Payout,
			Memo:           "claim " + m.ID,
			IdempotencyKey: "claim:" + m.ID + ":" + user,
		})
		if err != nil {
			return domain.ClaimResult{}, domain.Position{}, err
		}
		res.SettlementRef = ref
	}

	now := e.now()
	var claimed domain.Position
	err = e.store.RunInTx(ctx, func(tx domain.Store) error {
		var err error
		if claimed, err = tx.MarkClaimed(ctx, marketID, user, res.Payout, now); err != nil {
			return err
		}
		return tx.Log(ctx, "winnings_claimed", map[string]any{
			"market_id": marketID,
			"user":      user,
			"payout":    res.Payout.String(),
			"ref":       res.SettlementRef,
		})
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "engine: claim settled but not committed",
			slog.String("market_id", marketID),
			slog.String("user", user),
			slog.String("ref", res.SettlementRef),
			slog.String("error", err.Error()),
		)
		return domain.ClaimResult{}, domain.Position{}, fmt.Errorf("engine: commit claim %s/%s: %w", marketID, user, err)
	}
	res.Claimed = true
	return res, claimed, nil
}

// Winnings previews the claim of user without changing any state. For an
// already claimed position it reports the recorded payout.
func (e *Engine) Winnings(ctx context.Context, marketID, user string) (domain.ClaimResult, error) {
	_, pos, res, err := e.evaluateClaim(ctx, marketID, user)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	if pos.Claimed {
		res.Claimed = true
		if pos.Payout != nil {
			res.Payout = *pos.Payout
		}
	}
	return res, nil
}

// evaluateClaim loads the market and position and computes the payout.
func (e *Engine) evaluateClaim(ctx context.Context, marketID, user string) (domain.Market, domain.Position, domain.ClaimResult, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, domain.Position{}, domain.ClaimResult{}, fmt.Errorf("engine: claim %s: %w", marketID, err)
	}
	side, ok := m.WinningSide()
	if !ok {
		return domain.Market{}, domain.Position{}, domain.ClaimResult{}, fmt.Errorf("engine: claim %s: %w", marketID, domain.ErrNotResolved)
	}
	pos, err := e.store.GetPosition(ctx, marketID, user)
	if err != nil {
		return domain.Market{}, domain.Position{}, domain.ClaimResult{}, fmt.Errorf("engine: claim %s/%s: %w", marketID, user, err)
	}

	winning := pos.Tokens(side)
	payout := decimal.Zero
	if winning.IsPositive() {
		payout = Payout(m.TotalVolume, winning, m.Supply(side), e.cfg.PlatformFeeRate)
	}
	return m, pos, domain.ClaimResult{
		MarketID:      marketID,
		User:          user,
		Payout:        payout,
		WinningTokens: winning,
	}, nil
}
