package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/events"
)

// LedgerService defines the read side the ledger handler requires.
type LedgerService interface {
	TradesByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
	TradesByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Trade, error)
	PositionsByMarket(ctx context.Context, marketID string) ([]domain.Position, error)
	Portfolio(ctx context.Context, user string) ([]domain.Position, error)
	Stats(ctx context.Context) (domain.Stats, error)
	History(category events.Category) []events.Event
	ArchiveEnabled() bool
	Archive(ctx context.Context, before time.Time) (domain.ArchiveResult, error)
}

// LedgerHandler serves trades, positions, stats and the event history.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// MarketTrades lists a market's trades, newest first.
// GET /api/markets/{id}/trades?limit=50&offset=0&since=...&until=...
func (h *LedgerHandler) MarketTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRange(r, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	trades, err := h.ledger.TradesByMarket(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": nonNil(trades)})
}

// UserTrades lists a user's trades across markets, newest first.
// GET /api/users/{user}/trades
func (h *LedgerHandler) UserTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRange(r, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	trades, err := h.ledger.TradesByUser(r.Context(), r.PathValue("user"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": nonNil(trades)})
}

// MarketPositions lists every position in a market.
// GET /api/markets/{id}/positions
func (h *LedgerHandler) MarketPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.ledger.PositionsByMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": nonNil(ps)})
}

// Portfolio lists a user's positions.
// GET /api/portfolio/{user}
func (h *LedgerHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	ps, err := h.ledger.Portfolio(r.Context(), user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "positions": nonNil(ps)})
}

// Stats returns store-wide totals.
// GET /api/stats
func (h *LedgerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Events returns the notifier history, oldest first.
// GET /api/events?category=trade
func (h *LedgerHandler) Events(w http.ResponseWriter, r *http.Request) {
	c := events.Category(r.URL.Query().Get("category"))
	switch c {
	case "", events.CategoryAll, events.CategoryMarket, events.CategoryTrade,
		events.CategoryPosition, events.CategoryResolution:
	default:
		writeBadRequest(w, "unknown category "+string(c))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(h.ledger.History(c))})
}

type archiveRequest struct {
	Before string `json:"before"`
}

// Archive copies trades and audit entries older than before to S3.
// POST /api/admin/archive
func (h *LedgerHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if !h.ledger.ArchiveEnabled() {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "archiving is disabled", Code: "archive_disabled"})
		return
	}
	var body archiveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	before := time.Now().UTC()
	if body.Before != "" {
		t, err := parseTime(body.Before)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		before = t
	}
	res, err := h.ledger.Archive(r.Context(), before)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
