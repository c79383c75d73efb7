package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/klio/internal/crypto"
	"github.com/alanyoungcy/klio/internal/domain"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func transfer() domain.TransferRequest {
	return domain.TransferRequest{From: "alice", To: "vault:m1", Amount: d("10"), Memo: "trade", IdempotencyKey: "trade:t1"}
}

func TestFake_IdempotentAndBalances(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	ref, err := f.Transfer(ctx, transfer())
	require.NoError(t, err)
	again, err := f.Transfer(ctx, transfer())
	require.NoError(t, err)
	assert.Equal(t, ref, again)
	assert.Len(t, f.Transfers(), 1)
	assert.True(t, f.Balance("vault:m1").Equal(d("10")))
	assert.True(t, f.Balance("alice").Equal(d("-10")))

	f.FailWith(errors.New("down"))
	req := transfer()
	req.IdempotencyKey = "trade:t2"
	_, err = f.Transfer(ctx, req)
	assert.EqualError(t, err, "down")

	req.Amount = decimal.Zero
	f.FailWith(nil)
	_, err = f.Transfer(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func newGateway(t *testing.T, h http.HandlerFunc, signer *crypto.Signer) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewHTTPGateway(HTTPConfig{
		BaseURL:    srv.URL,
		Auth:       crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"},
		Signer:     signer,
		RatePerSec: 1000,
	}, nil)
	require.NoError(t, err)
	g.sleep = func(context.Context, time.Duration) {}
	return g
}

func TestHTTPGateway_SignsAndConfirms(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, 137)
	require.NoError(t, err)
	auth := crypto.HMACAuth{Key: "k", Secret: "c2VjcmV0", Passphrase: "p"}

	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "trade:t1", r.Header.Get("Idempotency-Key"))
		raw, _ := io.ReadAll(r.Body)
		assert.True(t, auth.Verify(r.Method, r.URL.Path, string(raw),
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)))

		var body transferBody
		if !assert.NoError(t, json.Unmarshal(raw, &body)) {
			return
		}
		assert.True(t, body.Amount.Equal(d("10")))
		digest, err := signer.Digest(crypto.TransferPayload{
			From: body.From, To: body.To, Amount: body.Amount, Memo: body.Memo, IdempotencyKey: body.IdempotencyKey,
		})
		if !assert.NoError(t, err) {
			return
		}
		addr, err := crypto.RecoverSigner(digest, body.Signature)
		if assert.NoError(t, err) {
			assert.Equal(t, body.Signer, addr.Hex())
		}

		_ = json.NewEncoder(w).Encode(transferResponse{Ref: "tx-1", Status: "confirmed"})
	}, signer)

	ref, err := g.Transfer(context.Background(), transfer())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", ref)
	assert.Equal(t, "http", g.Name())
}

func TestHTTPGateway_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(transferResponse{Ref: "tx-2"})
	}, nil)

	ref, err := g.Transfer(context.Background(), transfer())
	require.NoError(t, err)
	assert.Equal(t, "tx-2", ref)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPGateway_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"insufficient funds"}`, http.StatusUnprocessableEntity)
	}, nil)

	_, err := g.Transfer(context.Background(), transfer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPGateway_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := g.Transfer(context.Background(), transfer())
	require.Error(t, err)
	assert.Equal(t, int32(defaultMaxRetries+1), calls.Load())
}

func TestHTTPGateway_PendingStatusFails(t *testing.T) {
	g := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(transferResponse{Ref: "tx-3", Status: "pending"})
	}, nil)
	_, err := g.Transfer(context.Background(), transfer())
	assert.ErrorContains(t, err, "pending")
}

func TestNewHTTPGateway_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPGateway(HTTPConfig{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
