package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/metrics"
	"github.com/snarg/ai-relay/internal/orchestrator"
)

// Audit log batching defaults.
const (
	DefaultAuditBatch    = 100
	DefaultAuditInterval = 2 * time.Second
	auditWriteTimeout    = 10 * time.Second
)

// RowWriter persists orchestration rows. *DB implements it.
type RowWriter interface {
	InsertOrchestrations(ctx context.Context, rows []OrchestrationRow) (int64, error)
}

// AuditLog records every orchestration into orchestration_log. Write
// failures are logged and counted; they never reach the request path.
type AuditLog struct {
	w   RowWriter
	b   *batcher[OrchestrationRow]
	log zerolog.Logger
}

// NewAuditLog creates an audit log writing through w.
func NewAuditLog(w RowWriter, batch int, interval time.Duration, log zerolog.Logger) *AuditLog {
	a := &AuditLog{w: w, log: log.With().Str("component", "audit").Logger()}
	a.b = newBatcher(batch, interval, a.write, a.dropBacklog)
	return a
}

// Record implements orchestrator.Recorder.
func (a *AuditLog) Record(s orchestrator.Summary) {
	row := OrchestrationRow{
		RequestID:  s.RequestID,
		Capability: s.Capability.String(),
		Provider:   s.Provider,
		Retried:    s.Retried,
		Error:      s.Error,
		Attempts:   s.Attempts,
		StartedAt:  s.StartedAt,
		Duration:   s.Duration,
	}
	if !a.b.Add(row) {
		metrics.AuditDroppedTotal.Inc()
	}
}

// Close writes any queued rows and waits for them.
func (a *AuditLog) Close() {
	a.b.Stop()
}

func (a *AuditLog) dropBacklog(rows []OrchestrationRow) {
	metrics.AuditDroppedTotal.Add(float64(len(rows)))
	a.log.Warn().Int("rows", len(rows)).Msg("orchestration log backlog full, rows dropped")
}

func (a *AuditLog) write(rows []OrchestrationRow) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	n, err := a.w.InsertOrchestrations(ctx, rows)
	if err != nil {
		metrics.AuditDroppedTotal.Add(float64(len(rows)))
		a.log.Warn().Err(err).Int("rows", len(rows)).Msg("failed to write orchestration log")
		return
	}
	a.log.Debug().Int64("rows", n).Msg("orchestration log written")
}
