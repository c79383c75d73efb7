package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/klio/internal/crypto"
	"github.com/alanyoungcy/klio/internal/domain"
)

const (
	transfersPath     = "/v1/transfers"
	defaultTimeout    = 10 * time.Second
	defaultRatePerSec = 10
	defaultMaxRetries = 3
	baseRetryWait     = 250 * time.Millisecond
	maxErrorBody      = 4 << 10
)

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	BaseURL    string
	Auth       crypto.HMACAuth
	Signer     *crypto.Signer // optional; adds a transfer signature to every body
	Timeout    time.Duration
	RatePerSec float64
	MaxRetries int
	Client     *http.Client
}

// HTTPGateway posts transfers to a custody service. Requests carry HMAC
// headers and, when a Signer is configured, a secp256k1 signature over the
// transfer. Retries reuse the idempotency key so a transfer is never applied
// twice.
type HTTPGateway struct {
	base       string
	auth       crypto.HMACAuth
	signer     *crypto.Signer
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration)
}

// transferBody is the wire format of a transfer request.
type transferBody struct {
	domain.TransferRequest
	Signer    string `json:"signer,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// transferResponse is the wire format of a confirmation.
type transferResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewHTTPGateway validates cfg and builds a gateway.
func NewHTTPGateway(cfg HTTPConfig, logger *slog.Logger) (*HTTPGateway, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("settlement: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &HTTPGateway{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		auth:       cfg.Auth,
		signer:     cfg.Signer,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// Name identifies the gateway in logs.
func (g *HTTPGateway) Name() string { return "http" }

// Transfer posts req and returns the service's reference once confirmed.
func (g *HTTPGateway) Transfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("settlement: %w: %s", domain.ErrInvalidAmount, req.Amount)
	}
	body := transferBody{TransferRequest: req}
	if g.signer != nil {
		sig, err := g.signer.SignTransfer(crypto.TransferPayload{
			From:           req.From,
			To:             req.To,
			Amount:         req.Amount,
			Memo:           req.Memo,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return "", fmt.Errorf("settlement: sign transfer: %w", err)
		}
		body.Signer = g.signer.Address().Hex()
		body.Signature = sig
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("settlement: marshal transfer: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.sleep(ctx, backoff(attempt))
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("settlement: rate limiter: %w", err)
		}

		ref, retry, err := g.post(ctx, raw, req.IdempotencyKey)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		g.logger.Warn("settlement: transfer attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("idempotency_key", req.IdempotencyKey),
			slog.String("error", err.Error()),
		)
	}
	return "", lastErr
}

// post sends one attempt. retry reports whether the failure is transient.
func (g *HTTPGateway) post(ctx context.Context, raw []byte, idemKey string) (ref string, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+transfersPath, bytes.NewReader(raw))
	if err != nil {
		return "", false, fmt.Errorf("settlement: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if idemKey != "" {
		httpReq.Header.Set("Idempotency-Key", idemKey)
	}
	for k, v := range g.auth.Headers(http.MethodPost, transfersPath, string(raw)) {
		httpReq.Header.Set(k, v)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("settlement: post transfer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("settlement: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("settlement: status %d: %s", resp.StatusCode, truncate(data))
	case resp.StatusCode >= 400:
		return "", false, fmt.Errorf("settlement: rejected with status %d: %s", resp.StatusCode, truncate(data))
	}

	var out transferResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", false, fmt.Errorf("settlement: decode response: %w", err)
	}
	if out.Error != "" {
		return "", false, fmt.Errorf("settlement: %s", out.Error)
	}
	if out.Status != "" && !strings.EqualFold(out.Status, "confirmed") {
		return "", false, fmt.Errorf("settlement: transfer %s", out.Status)
	}
	if out.Ref == "" {
		return "", false, errors.New("settlement: response missing ref")
	}
	return out.Ref, false, nil
}

func backoff(attempt int) time.Duration {
	return baseRetryWait << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return strings.TrimSpace(string(b))
}

var _ domain.SettlementGateway = (*HTTPGateway)(nil)
