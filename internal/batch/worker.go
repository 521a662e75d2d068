// Package batch drains the injection backlog in the background by running
// assigner batches on an interval.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/pim/internal/inject"
)

// Runner runs one injection batch. Implemented by inject.Assigner and
// api.RunGroup.
type Runner interface {
	RunBatch(ctx context.Context, limit int) (inject.BatchResult, error)
}

// Worker repeatedly runs batches until the backlog is empty, then waits for
// the poll interval before checking again.
type Worker struct {
	runner Runner
	limit  int
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to one minute.
func NewWorker(runner Runner, limit int, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Worker{
		runner: runner,
		limit:  limit,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run processes batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		more, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("batch iteration failed", "error", err)
		}
		if more {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce runs a single batch. Returns true if the batch processed items,
// meaning more may be waiting.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	res, err := w.runner.RunBatch(ctx, w.limit)
	if err != nil {
		return false, fmt.Errorf("running batch: %w", err)
	}
	if res.Processed == 0 {
		return false, nil
	}
	w.logger.Debug("background batch processed items", "run_id", res.RunID, "processed", res.Processed)
	return true, nil
}
