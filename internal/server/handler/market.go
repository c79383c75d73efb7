package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/klio/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, req domain.CreateMarketRequest) (domain.MarketView, error)
	GetMarket(ctx context.Context, id string) (domain.MarketView, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.MarketView, error)
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error)
	ResolveMarket(ctx context.Context, id string, outcome bool, requester string) (domain.MarketView, error)
	Claim(ctx context.Context, id, user string) (domain.ClaimResult, error)
	Winnings(ctx context.Context, id, user string) (domain.ClaimResult, error)
}

// MarketHandler serves the market lifecycle endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets, newest first.
// GET /api/markets?status=open&category=Crypto&creator=alice&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.MarketFilter{
		Status:   domain.MarketStatus(strings.ToLower(q.Get("status"))),
		Category: q.Get("category"),
		Creator:  q.Get("creator"),
		ListOpts: parseListOpts(r),
	}
	switch f.Status {
	case "", domain.MarketStatusOpen, domain.MarketStatusResolved:
	default:
		writeBadRequest(w, fmt.Sprintf("unknown status %q", f.Status))
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.MarketView{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Limit: f.Limit, Offset: f.Offset})
}

// GetMarket returns a single market with its current prices.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type tradeRequest struct {
	User         string          `json:"user"`
	Side         string          `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	ExecutionRef string          `json:"execution_ref"`
}

// ExecuteTrade buys tokens on one side of a market.
// POST /api/markets/{id}/trades
func (h *MarketHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var body tradeRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	side, err := domain.ParseSide(body.Side)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.markets.ExecuteTrade(r.Context(), domain.TradeRequest{
		MarketID:    r.PathValue("id"),
		User:        body.User,
		Side:        side,
		Amount:      body.Amount,
		ExternalRef: body.ExecutionRef,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type resolveRequest struct {
	Outcome   *bool  `json:"outcome"`
	Requester string `json:"requester"`
}

// ResolveMarket sets the outcome. Only the creator may resolve.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if body.Outcome == nil {
		writeBadRequest(w, "outcome is required")
		return
	}
	m, err := h.markets.ResolveMarket(r.Context(), r.PathValue("id"), *body.Outcome, body.Requester)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type claimRequest struct {
	User string `json:"user"`
}

// Claim pays out the user's winning tokens.
// POST /api/markets/{id}/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var body claimRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if strings.TrimSpace(body.User) == "" {
		writeBadRequest(w, "user is required")
		return
	}
	res, err := h.markets.Claim(r.Context(), r.PathValue("id"), body.User)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Winnings previews a claim.
// GET /api/markets/{id}/winnings?user=alice
func (h *MarketHandler) Winnings(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeBadRequest(w, "user query parameter is required")
		return
	}
	res, err := h.markets.Winnings(r.Context(), r.PathValue("id"), user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
