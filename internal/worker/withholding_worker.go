package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"creatorbank/internal/amqp"
	"creatorbank/internal/core"
)

// Withholder is the part of the tax engine the worker drives.
type Withholder interface {
	WithholdByID(ctx context.Context, earningID int64) (*core.LedgerTransaction, error)
}

// PendingStore lists earnings that still await withholding.
type PendingStore interface {
	PendingWithholdings(ctx context.Context, limit int) ([]core.Earning, error)
}

// WithholdingWorker applies withholding to recorded earnings, from
// earning.recorded messages and from a periodic sweep of unprocessed rows.
type WithholdingWorker struct {
	engine    Withholder
	store     PendingStore
	batchSize int
}

func NewWithholdingWorker(engine Withholder, store PendingStore, batchSize int) *WithholdingWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &WithholdingWorker{
		engine:    engine,
		store:     store,
		batchSize: batchSize,
	}
}

// HandleEarningRecorded withholds for the earning named in msg. A conflict
// means another delivery already did it and a missing earning will never
// appear, so both are acknowledged. Any other error requeues the message.
func (w *WithholdingWorker) HandleEarningRecorded(ctx context.Context, msg *amqp.EarningRecordedMessage) error {
	slog.InfoContext(ctx, "Processing earning recorded message",
		"message_id", msg.MessageID.String(),
		"earning_id", msg.EarningID)

	if _, err := w.withhold(ctx, msg.EarningID); err != nil {
		return fmt.Errorf("withhold earning %d: %w", msg.EarningID, err)
	}
	return nil
}

// withhold reports whether a ledger transaction was created. Outcomes that
// retrying cannot change are logged and swallowed.
func (w *WithholdingWorker) withhold(ctx context.Context, earningID int64) (bool, error) {
	tx, err := w.engine.WithholdByID(ctx, earningID)
	switch {
	case errors.Is(err, core.ErrConflict):
		slog.InfoContext(ctx, "Earning already withheld, skipping", "earning_id", earningID)
		return false, nil
	case errors.Is(err, core.ErrNotFound):
		slog.WarnContext(ctx, "Earning not found, dropping", "earning_id", earningID, "error", err)
		return false, nil
	case errors.Is(err, core.ErrValidation):
		slog.ErrorContext(ctx, "Earning cannot be withheld, dropping", "earning_id", earningID, "error", err)
		return false, nil
	case err != nil:
		return false, err
	case tx == nil:
		slog.DebugContext(ctx, "Earning is not taxable", "earning_id", earningID)
		return false, nil
	}
	return true, nil
}

// ProcessPending withholds one batch of unprocessed earnings and returns how
// many were withheld. It backs up the message path when messages are lost or
// the broker is down.
func (w *WithholdingWorker) ProcessPending(ctx context.Context) (int, error) {
	return w.processPending(ctx, w.batchSize)
}

// StartupCheck runs a larger sweep once when the worker starts.
func (w *WithholdingWorker) StartupCheck(ctx context.Context) (int, error) {
	processed, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return processed, fmt.Errorf("startup check: %w", err)
	}
	if processed == 0 {
		slog.InfoContext(ctx, "No pending withholdings found on startup")
	}
	return processed, nil
}

func (w *WithholdingWorker) processPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.store.PendingWithholdings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending withholdings: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending withholdings", "count", len(pending))

	withheld, skipped, failed := 0, 0, 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return withheld, err
		}
		ok, err := w.withhold(ctx, e.ID)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "Failed to withhold pending earning", "earning_id", e.ID, "error", err)
			failed++
		case ok:
			withheld++
		default:
			skipped++
		}
	}

	slog.InfoContext(ctx, "Pending withholdings processed",
		"total", len(pending),
		"withheld", withheld,
		"skipped", skipped,
		"errors", failed)

	return withheld, nil
}
