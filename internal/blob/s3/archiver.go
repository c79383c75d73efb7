package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/klio/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	// multipartThreshold switches large exports to the multipart uploader.
	multipartThreshold = 16 << 20
)

// LedgerSource is the part of the store the archiver reads.
type LedgerSource interface {
	domain.TradeStore
	domain.AuditStore
}

// Archiver implements domain.Archiver: trades and audit entries older than a
// cutoff are written as JSONL to archive/<kind>/<cutoff>.jsonl. Records are
// copied, never deleted. An object that already exists is not rewritten,
// so reruns with the same cutoff are no-ops.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader // optional; enables the exists check
	ledger LedgerSource
}

// NewArchiver creates an Archiver. reader may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, ledger LedgerSource) *Archiver {
	return &Archiver{writer: writer, reader: reader, ledger: ledger}
}

// Archive exports everything strictly before the cutoff and records an
// archive_completed audit entry.
func (a *Archiver) Archive(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	var res domain.ArchiveResult
	before = before.UTC()

	trades, err := a.ledger.ListTradesBefore(ctx, before)
	if err != nil {
		return res, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) > 0 {
		path, err := upload(ctx, a, "trades", before, trades)
		if err != nil {
			return res, err
		}
		res.Trades = int64(len(trades))
		if path != "" {
			res.Paths = append(res.Paths, path)
		}
	}

	entries, err := a.ledger.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return res, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	var audit []domain.AuditEntry
	for i := len(entries) - 1; i >= 0; i-- { // List is newest first
		if entries[i].CreatedAt.Before(before) {
			audit = append(audit, entries[i])
		}
	}
	if len(audit) > 0 {
		path, err := upload(ctx, a, "audit", before, audit)
		if err != nil {
			return res, err
		}
		res.Audit = int64(len(audit))
		if path != "" {
			res.Paths = append(res.Paths, path)
		}
	}

	if err := a.ledger.Log(ctx, "archive_completed", map[string]any{
		"before": before.Format(time.RFC3339),
		"trades": res.Trades,
		"audit":  res.Audit,
		"paths":  res.Paths,
	}); err != nil {
		return res, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return res, nil
}

// upload writes records to the archive path for kind. It returns "" when the
// object was already present.
func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (string, error) {
	path := ArchivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			return "", nil
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	return path, nil
}

// ArchivePath is the object key for kind at the cutoff, e.g.
// archive/trades/20260501T000000Z.jsonl.
func ArchivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
