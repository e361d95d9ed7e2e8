package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/snarg/ai-relay/internal/capability"
)

// OrchestrationRow is one row of orchestration_log.
type OrchestrationRow struct {
	RequestID  string
	Capability string
	Provider   string
	Retried    bool
	Error      string
	Attempts   []capability.Attempt
	StartedAt  time.Time
	Duration   time.Duration
}

// InsertOrchestrations batch-inserts rows using CopyFrom.
func (db *DB) InsertOrchestrations(ctx context.Context, rows []OrchestrationRow) (int64, error) {
	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		attempts, err := json.Marshal(r.Attempts)
		if err != nil {
			return 0, fmt.Errorf("encode attempts for %s: %w", r.RequestID, err)
		}
		copyRows[i] = []any{
			r.RequestID, r.Capability, nullable(r.Provider), r.Retried,
			nullable(r.Error), attempts, r.StartedAt, int32(r.Duration.Milliseconds()),
		}
	}

	return db.Pool.CopyFrom(ctx,
		pgx.Identifier{"orchestration_log"},
		[]string{
			"request_id", "capability", "provider", "retried",
			"error", "attempts", "started_at", "duration_ms",
		},
		pgx.CopyFromRows(copyRows),
	)
}

// RecentOrchestrations returns the newest rows for one request id, newest first.
func (db *DB) RecentOrchestrations(ctx context.Context, requestID string, limit int) ([]OrchestrationRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT request_id, capability, coalesce(provider, ''), retried,
			coalesce(error, ''), attempts, started_at, duration_ms
		FROM orchestration_log
		WHERE request_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrchestrationRow
	for rows.Next() {
		var (
			r        OrchestrationRow
			attempts []byte
			ms       int32
		)
		if err := rows.Scan(&r.RequestID, &r.Capability, &r.Provider, &r.Retried,
			&r.Error, &attempts, &r.StartedAt, &ms); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attempts, &r.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts for %s: %w", r.RequestID, err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
