package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nocozen/nocozenbase/internal/capture"
	"github.com/nocozen/nocozenbase/internal/jobs"
)

// Handler returns the job handler that processes DataSync payloads. The
// handler fails when the payload cannot be decoded, the rules cannot be
// loaded, or at least one rule failed.
func (e *Engine) Handler() jobs.Handler {
	return func(ctx context.Context, payload []byte) error {
		p, err := capture.DecodePayload(payload)
		if err != nil {
			return fmt.Errorf("decode sync payload: %w", err)
		}
		report, err := e.Process(ctx, p.Record)
		if err != nil {
			return err
		}
		e.log.Info("change record processed",
			zap.String("record_id", report.RecordID),
			zap.String("collection", report.Collection),
			zap.Int("applied", report.Count(StateApplied)),
			zap.Int("skipped", report.Count(StateSkipped)),
			zap.Int("failed", report.Count(StateFailed)),
			zap.Int("affected", report.Affected()))
		return report.Err()
	}
}

// Register subscribes the engine to DataSync jobs on d.
func (e *Engine) Register(d jobs.Dispatcher) {
	d.OnJob(jobs.DataSyncJob, e.Handler())
}
