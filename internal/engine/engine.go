// Package engine runs the market operations: creation, trade execution,
// resolution and claims. Every mutation of a market runs under that
// market's lock and commits through a single store transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/klio/internal/category"
	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
	"github.com/alanyoungcy/klio/internal/pricing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultOracleSource labels markets created without an oracle source.
const DefaultOracleSource = "Manual"

// Engine coordinates the store, the settlement gateway, the per-market
// locks and the event bus.
type Engine struct {
	store   domain.Store
	gateway domain.SettlementGateway
	locks   domain.LockManager
	bus     *events.Bus
	model   pricing.Model
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Engine with all required dependencies.
func New(
	store domain.Store,
	gateway domain.SettlementGateway,
	locks domain.LockManager,
	bus *events.Bus,
	cfg Config,
	logger *slog.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	model, err := pricing.New(cfg.BaseLiquidity, cfg.PriceFloor)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		store:   store,
		gateway: gateway,
		locks:   locks,
		bus:     bus,
		model:   model,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Model returns the price model in use.
func (e *Engine) Model() pricing.Model {
	return e.model
}

// Bus returns the event bus the engine emits on.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// CreateMarket validates req and stores a new open market.
func (e *Engine) CreateMarket(ctx context.Context, req domain.CreateMarketRequest) (domain.Market, error) {
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: description is required", domain.ErrInvalidRequest)
	}
	if utf8.RuneCountInString(desc) > domain.MaxDescriptionLen {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: %d characters, max %d",
			domain.ErrDescriptionLen, utf8.RuneCountInString(desc), domain.MaxDescriptionLen)
	}
	creator := strings.TrimSpace(req.Creator)
	if creator == "" {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: creator is required", domain.ErrInvalidRequest)
	}
	now := e.now()
	if req.Deadline.IsZero() {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: deadline is required", domain.ErrInvalidDeadline)
	}
	if e.cfg.EnforceDeadlines && !req.Deadline.After(now) {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: %s is not in the future",
			domain.ErrInvalidDeadline, req.Deadline.Format(time.RFC3339))
	}
	odds := req.StartingOdds
	if odds == 0 {
		odds = domain.DefaultStartingOdds
	}
	if odds < 1 || odds > 9999 {
		return domain.Market{}, fmt.Errorf("engine: create market: %w: starting odds %d outside 1..9999", domain.ErrInvalidRequest, odds)
	}
	oracle := strings.TrimSpace(req.OracleSource)
	if oracle == "" {
		oracle = DefaultOracleSource
	}

	id := uuid.New().String()
	m := domain.Market{
		ID:           id,
		Description:  desc,
		Deadline:     req.Deadline.UTC(),
		Creator:      creator,
		OracleSource: oracle,
		StartingOdds: odds,
		Category:     category.Infer(desc),
		Vault:        "vault:" + id,
		YesSupply:    decimal.Zero,
		NoSupply:     decimal.Zero,
		TotalVolume:  decimal.Zero,
		CreatorFees:  decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := e.store.RunInTx(ctx, func(tx domain.Store) error {
		if err := tx.CreateMarket(ctx, m); err != nil {
			return err
		}
		return tx.Log(ctx, "market_created", map[string]any{
			"market_id": m.ID,
			"creator":   m.Creator,
			"deadline":  m.Deadline.Format(time.RFC3339),
			"category":  m.Category,
		})
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}

	e.logger.InfoContext(ctx, "engine: market created",
		slog.String("market_id", m.ID),
		slog.String("creator", m.Creator),
		slog.String("category", m.Category),
	)
	e.bus.Emit(ctx, events.CategoryMarket, events.ActionCreated, m.ID, m)
	return m, nil
}

// ExecuteTrade buys amount worth of side tokens for the user.
func (e *Engine) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	if !req.Amount.IsPositive() {
		return domain.TradeResult{}, fmt.Errorf("engine: execute trade: %w: %s", domain.ErrInvalidAmount, req.Amount)
	}
	if !req.Side.Valid() {
		return domain.TradeResult{}, fmt.Errorf("engine: execute trade: %w: %q", domain.ErrInvalidSide, req.Side)
	}
	if strings.TrimSpace(req.User) == "" {
		return domain.TradeResult{}, fmt.Errorf("engine: execute trade: %w: user is required", domain.ErrInvalidRequest)
	}

	unlock, err := e.lockMarket(ctx, req.MarketID)
	if err != nil {
		return domain.TradeResult{}, err
	}
	res, pos, err := e.executeLocked(ctx, req)
	unlock()
	if err != nil {
		return domain.TradeResult{}, err
	}

	e.logger.InfoContext(ctx, "engine: trade executed",
		slog.String("market_id", req.MarketID),
		slog.String("user", req.User),
		slog.String("side", string(req.Side)),
		slog.String("amount", req.Amount.String()),
		slog.String("tokens", res.TokensReceived.String()),
	)
	e.bus.Emit(ctx, events.CategoryTrade, events.ActionExecuted, req.MarketID, res.Trade)
	e.bus.Emit(ctx, events.CategoryPosition, events.ActionUpdated, req.MarketID, pos)
	return res, nil
}

func (e *Engine) executeLocked(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, domain.Position, error) {
	m, err := e.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return domain.TradeResult{}, domain.Position{}, fmt.Errorf("engine: execute trade %s: %w", req.MarketID, err)
	}
	if m.Resolved {
		return domain.TradeResult{}, domain.Position{}, fmt.Errorf("engine: execute trade %s: %w", m.ID, domain.ErrAlreadyResolved)
	}
	now := e.now()
	if e.cfg.EnforceDeadlines && !now.Before(m.Deadline) {
		return domain.TradeResult{}, domain.Position{}, fmt.Errorf("engine: execute trade %s: %w", m.ID, domain.ErrDeadlinePassed)
	}

	ex, err := Plan(m, req.Side, req.Amount, e.model, e.cfg.CreatorFeeRate)
	if err != nil {
		return domain.TradeResult{}, domain.Position{}, err
	}

	tradeID := uuid.New().String()
	ref := req.ExternalRef
	if ref == "" {
		ref, err = e.settle(ctx, domain.TransferRequest{
			From:           req.User,
			To:             m.Vault,
			Amount:         req.Amount,
			Memo:           fmt.Sprintf("buy %s %s", req.Side, m.ID),
			IdempotencyKey: "trade:" + tradeID,
		})
		if err != nil {
			return domain.TradeResult{}, domain.Position{}, err
		}
	}

	trade := domain.Trade{
		ID:             tradeID,
		MarketID:       m.ID,
		User:           req.User,
		Side:           req.Side,
		InputAmount:    ex.InputAmount,
		TokensReceived: ex.TokensMinted,
		Price:          ex.Price,
		FeeAmount:      ex.FeeAmount,
		NetToVault:     ex.NetToVault,
		ExecutionRef:   ref,
		Timestamp:      now,
	}

	var pos domain.Position
	err = e.store.RunInTx(ctx, func(tx domain.Store) error {
		if _, err := tx.UpdateMarket(ctx, m.ID, ex.MarketDelta()); err != nil {
			return err
		}
		var err error
		if pos, err = tx.UpsertPosition(ctx, m.ID, req.User, ex.PositionDelta()); err != nil {
			return err
		}
		if err := tx.AppendTrade(ctx, trade); err != nil {
			return err
		}
		return tx.Log(ctx, "trade_executed", map[string]any{
			"trade_id":  trade.ID,
			"market_id": m.ID,
			"user":      req.User,
			"side":      string(req.Side),
			"amount":    req.Amount.String(),
			"tokens":    ex.TokensMinted.String(),
			"ref":       ref,
		})
	})
	if err != nil {
		if req.ExternalRef == "" {
			e.logger.ErrorContext(ctx, "engine: trade settled but not committed",
				slog.String("market_id", m.ID),
				slog.String("trade_id", tradeID),
				slog.String("ref", ref),
				slog.String("error", err.Error()),
			)
		}
		return domain.TradeResult{}, domain.Position{}, fmt.Errorf("engine: commit trade %s: %w", m.ID, err)
	}

	return domain.TradeResult{
		Trade:          trade,
		TokensReceived: ex.TokensMinted,
		NewPrice:       ex.NewPrice,
		FeeAmount:      ex.FeeAmount,
		NetToVault:     ex.NetToVault,
	}, pos, nil
}

// settle runs one transfer under the settlement timeout.
func (e *Engine) settle(ctx context.Context, req domain.TransferRequest) (string, error) {
	if e.cfg.SettlementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SettlementTimeout)
		defer cancel()
	}
	ref, err := e.gateway.Transfer(ctx, req)
	if err != nil {
		e.logger.WarnContext(ctx, "engine: settlement failed",
			slog.String("gateway", e.gateway.Name()),
			slog.String("from", req.From),
			slog.String("to", req.To),
			slog.String("amount", req.Amount.String()),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("engine: %w: %w", domain.ErrSettlementFailed, err)
	}
	return ref, nil
}

// lockMarket acquires the market's lock, retrying while another holder has
// it until LockWait elapses or ctx is done.
func (e *Engine) lockMarket(ctx context.Context, marketID string) (func(), error) {
	key := "market:" + marketID
	waitCtx := ctx
	if e.cfg.LockWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.cfg.LockWait)
		defer cancel()
	}
	for {
		unlock, err := e.locks.Acquire(waitCtx, key, e.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("engine: lock %s: %w", marketID, domain.ErrLockHeld)
			}
			return nil, fmt.Errorf("engine: lock %s: %w", marketID, err)
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("engine: lock %s: %w", marketID, domain.ErrLockHeld)
		case <-time.After(e.cfg.LockRetryInterval):
		}
	}
}

// GetMarket returns a market with its current prices.
func (e *Engine) GetMarket(ctx context.Context, id string) (domain.MarketView, error) {
	m, err := e.store.GetMarket(ctx, id)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("engine: get market %s: %w", id, err)
	}
	return e.view(m)
}

// ListMarkets returns markets matching f with their current prices.
func (e *Engine) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.MarketView, error) {
	ms, err := e.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("engine: list markets: %w", err)
	}
	out := make([]domain.MarketView, 0, len(ms))
	for _, m := range ms {
		v, err := e.view(m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) view(m domain.Market) (domain.MarketView, error) {
	q, err := e.model.QuoteMarket(m)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("engine: quote %s: %w", m.ID, err)
	}
	return domain.MarketView{Market: m, YesPrice: q.Yes, NoPrice: q.No}, nil
}

// Quote returns the current floored prices of both sides.
func (e *Engine) Quote(ctx context.Context, marketID string) (domain.Quote, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("engine: quote %s: %w", marketID, err)
	}
	return e.model.QuoteMarket(m)
}

// GetPositions returns every position held by user.
func (e *Engine) GetPositions(ctx context.Context, user string) ([]domain.Position, error) {
	ps, err := e.store.GetPositions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("engine: get positions %s: %w", user, err)
	}
	return ps, nil
}

// Subscribe registers h on the engine's event bus.
func (e *Engine) Subscribe(c events.Category, h events.Handler) (unsubscribe func()) {
	return e.bus.Subscribe(c, h)
}
