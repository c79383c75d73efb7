package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/klio/internal/domain"
)

// Log appends an audit entry. detail is stored as JSONB.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON,
	); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	b := queryBuilder{sql: `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`}
	b.timeRange("created_at", opts)
	b.sql += " ORDER BY created_at DESC, id DESC"
	b.page(opts)

	rows, err := s.db.Query(ctx, b.sql, b.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		e.CreatedAt = utc(e.CreatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
