package s3blob_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/klio/internal/blob/s3"
	"github.com/alanyoungcy/klio/internal/domain"
	"github.com/alanyoungcy/klio/internal/store/memory"
	"github.com/alanyoungcy/klio/internal/store/storetest"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func seedLedger(t *testing.T) (*memory.Store, time.Time) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateMarket(ctx, storetest.NewMarket("m1", base)))

	for i, ts := range []time.Time{base.Add(time.Hour), base.Add(2 * time.Hour), base.Add(48 * time.Hour)} {
		require.NoError(t, st.AppendTrade(ctx, domain.Trade{
			ID:          "t" + string(rune('1'+i)),
			MarketID:    "m1",
			User:        "alice",
			Side:        domain.SideYes,
			InputAmount: decimal.NewFromInt(int64(i + 1)),
			Timestamp:   ts,
		}))
	}
	require.NoError(t, st.Log(ctx, "market_created", map[string]any{"market_id": "m1"}))
	return st, base.Add(24 * time.Hour)
}

func readLines(t *testing.T, blobs *memBlobs, path string) []map[string]any {
	t.Helper()
	rc, err := blobs.Get(context.Background(), path)
	require.NoError(t, err)
	defer rc.Close()
	var out []map[string]any
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		out = append(out, v)
	}
	return out
}

func TestArchiver_ExportsTradesBeforeCutoff(t *testing.T) {
	st, cutoff := seedLedger(t)
	blobs := newMemBlobs()
	a := s3blob.NewArchiver(blobs, blobs, st)

	res, err := a.Archive(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Trades)
	assert.Equal(t, int64(0), res.Audit, "audit entry is newer than the cutoff")

	path := s3blob.ArchivePath("trades", cutoff)
	assert.Equal(t, "archive/trades/20260402T000000Z.jsonl", path)
	assert.Equal(t, []string{path}, res.Paths)

	lines := readLines(t, blobs, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "t1", lines[0]["id"], "oldest first")
	assert.Equal(t, "t2", lines[1]["id"])

	entries, err := st.List(context.Background(), domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive_completed", entries[0].Event)
}

func TestArchiver_IncludesAuditAndSkipsExisting(t *testing.T) {
	st, _ := seedLedger(t)
	blobs := newMemBlobs()
	a := s3blob.NewArchiver(blobs, blobs, st)
	cutoff := time.Now().Add(time.Hour)

	res, err := a.Archive(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Trades)
	assert.Equal(t, int64(1), res.Audit)
	assert.Len(t, res.Paths, 2)
	puts := blobs.puts

	again, err := a.Archive(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, again.Paths, "objects already present")
	assert.Equal(t, puts, blobs.puts)
}

type failingWriter struct{ memBlobs }

func (f *failingWriter) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket gone")
}

func TestArchiver_UploadFailure(t *testing.T) {
	st, cutoff := seedLedger(t)
	_, err := s3blob.NewArchiver(&failingWriter{}, nil, st).Archive(context.Background(), cutoff)
	assert.ErrorContains(t, err, "bucket gone")
}
