package store

import (
	"context"
	"fmt"

	"github.com/vaultic/skillbridge/internal/bridge"
)

// AppendInvocation writes one audit record. The audit stream is
// append-only; nothing here updates or deletes.
func (s *Store) AppendInvocation(ctx context.Context, rec *bridge.InvocationRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO invocations (id, attachment_id, operation, input, output, error, disposition, outcome, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.AttachmentID, rec.Operation,
		[]byte(rec.Input), []byte(rec.Output), rec.Error,
		rec.Disposition, rec.Outcome, rec.LatencyMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append invocation %s: %w", rec.ID, err)
	}
	return nil
}

// ListInvocations returns recent audit records for an attachment, newest
// first.
func (s *Store) ListInvocations(ctx context.Context, attachmentID string, limit int) ([]*bridge.InvocationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, attachment_id, operation, input, output, COALESCE(error,''), COALESCE(disposition,''), outcome, latency_ms, created_at
		FROM invocations
		WHERE attachment_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, attachmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var recs []*bridge.InvocationRecord
	for rows.Next() {
		var rec bridge.InvocationRecord
		var input, output []byte
		if err := rows.Scan(&rec.ID, &rec.AttachmentID, &rec.Operation, &input, &output,
			&rec.Error, &rec.Disposition, &rec.Outcome, &rec.LatencyMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		rec.Input = input
		rec.Output = output
		recs = append(recs, &rec)
	}
	return recs, nil
}
