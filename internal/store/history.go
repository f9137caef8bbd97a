package store

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facelens/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// History is what the handlers write to: the CSV log, plus the Postgres mirror when one is configured.
// The CSV file stays the source of truth; reads always come from it.
type History struct {
	Log    *LogStore
	Mirror *PGStore // nil when no database is configured
	logger *zap.Logger
}

// NewHistory wires a log store and an optional mirror.
func NewHistory(log *LogStore, mirror *PGStore, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{Log: log, Mirror: mirror, logger: logger}
}

// Append writes to the CSV log and then the mirror. Mirror failures are reported but never undo the CSV write.
func (h *History) Append(ctx context.Context, records []types.AnalysisRecord) error {
	if err := h.Log.Append(records); err != nil {
		return err
	}
	if h.Mirror != nil {
		if err := h.Mirror.InsertRecords(ctx, records); err != nil {
			h.logger.Warn("history mirror write failed", zap.Int("records", len(records)), zap.Error(err))
			return fmt.Errorf("mirror history to database: %w", err)
		}
	}
	return nil
}

// ReadAll reads the CSV log.
func (h *History) ReadAll(ctx context.Context) ([]types.AnalysisRecord, error) {
	return h.Log.ReadAll()
}

// Reset clears the CSV log and drops the mirror table.
func (h *History) Reset(ctx context.Context) error {
	err := h.Log.Reset()
	if h.Mirror != nil {
		err = multierr.Append(err, h.Mirror.Reset(ctx))
	}
	return err
}

// Close releases the database connection, if any.
func (h *History) Close(ctx context.Context) {
	if h.Mirror != nil {
		h.Mirror.Close(ctx)
	}
}
