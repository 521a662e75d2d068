// Package inject assigns each content item its pre-rendered fragment once,
// in resumable batches, and splices stored fragments into markup at display
// time.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pim/internal/settings"
	"github.com/kalambet/pim/internal/storage"
)

// DefaultBatchLimit is the number of items a batch run considers when the
// caller does not specify a positive limit.
const DefaultBatchLimit = 100

// ResetConfirmation must be passed to Reset to clear all injections.
const ResetConfirmation = "DELETE"

// ErrConfirmationRequired is returned by Reset when the confirmation text
// does not match ResetConfirmation.
var ErrConfirmationRequired = errors.New("confirmation required: type " + ResetConfirmation + " to clear all injections")

// Store abstracts the item and processed-set operations the Assigner needs.
// Implemented by storage.Store.
type Store interface {
	ListUnprocessedItems(limit int) ([]storage.Item, error)
	SetItemFragment(id, fragment string) error
	MarkProcessed(entries []storage.ProcessedEntry) error
	ProcessedStats() (storage.ProcessedStats, error)
	ResetInjections() (storage.ResetResult, error)
	RequeueSkipped() (int64, error)
	CountItems() (int, error)
	CountUnprocessed() (int, error)
}

// CategoryResolver picks the category for an item.
type CategoryResolver interface {
	Resolve(ctx context.Context, item storage.Item) (storage.Category, bool, error)
}

// CategoryLinker builds the canonical link for a category.
type CategoryLinker interface {
	Link(c storage.Category) (string, error)
}

// SettingsSource provides the template in effect.
type SettingsSource interface {
	Get() (settings.Settings, error)
}

// BatchResult summarizes one batch run. Processed is the number of items
// added to the processed set; zero means nothing was left to do.
type BatchResult struct {
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Injected  int    `json:"injected"`
	Existing  int    `json:"existing"`
	Skipped   int    `json:"skipped"`
}

// Status describes overall progress through the corpus.
type Status struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
	Injected  int `json:"injected"`
	Existing  int `json:"existing"`
	Skipped   int `json:"skipped"`
}

// Assigner renders and stores fragments for unprocessed items. Its mutating
// operations are serialized.
type Assigner struct {
	store    Store
	resolver CategoryResolver
	linker   CategoryLinker
	settings SettingsSource
	logger   *slog.Logger

	mu sync.Mutex
}

// NewAssigner creates an Assigner with the given dependencies.
func NewAssigner(store Store, resolver CategoryResolver, linker CategoryLinker, src SettingsSource) *Assigner {
	return &Assigner{
		store:    store,
		resolver: resolver,
		linker:   linker,
		settings: src,
		logger:   slog.Default(),
	}
}

// RunBatch processes up to limit unprocessed items. Items that already carry
// a fragment are recorded without being re-rendered; items without any
// category are recorded as skipped. Fragments are written as each item is
// handled, and the processed set is updated once at the end.
//
// A store failure aborts the batch and is returned; in that case none of the
// batch's items are recorded as processed, so they are selected again next
// run and any fragments already written are kept.
func (a *Assigner) RunBatch(ctx context.Context, limit int) (BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res := BatchResult{RunID: uuid.New().String()}
	items, err := a.store.ListUnprocessedItems(limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing unprocessed items: %w", err)
	}
	if len(items) == 0 {
		return res, nil
	}

	entries := make([]storage.ProcessedEntry, 0, len(items))
	for _, item := range items {
		status, err := a.assign(ctx, item)
		if err != nil {
			return BatchResult{}, err
		}
		entries = append(entries, storage.ProcessedEntry{ItemID: item.ID, Status: status, ProcessedAt: time.Now().UTC()})

		switch status {
		case storage.StatusInjected:
			res.Injected++
		case storage.StatusExisting:
			res.Existing++
		case storage.StatusSkipped:
			res.Skipped++
		}
	}

	if err := a.store.MarkProcessed(entries); err != nil {
		return BatchResult{}, fmt.Errorf("recording processed items: %w", err)
	}
	res.Processed = len(entries)

	a.logger.InfoContext(ctx, "injection batch complete",
		"run_id", res.RunID,
		"processed", res.Processed,
		"injected", res.Injected,
		"existing", res.Existing,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (a *Assigner) assign(ctx context.Context, item storage.Item) (string, error) {
	if item.Fragment != "" {
		return storage.StatusExisting, nil
	}

	cat, found, err := a.resolver.Resolve(ctx, item)
	if err != nil {
		return "", fmt.Errorf("resolving category for item %s: %w", item.ID, err)
	}
	if !found {
		a.logger.DebugContext(ctx, "no category for item, skipping", "item_id", item.ID)
		return storage.StatusSkipped, nil
	}

	link, err := a.linker.Link(cat)
	if err != nil {
		return "", fmt.Errorf("linking category %s: %w", cat.ID, err)
	}

	s, err := a.settings.Get()
	if err != nil {
		return "", fmt.Errorf("loading settings: %w", err)
	}

	if err := a.store.SetItemFragment(item.ID, Render(s.Template, cat.Name, link)); err != nil {
		return "", fmt.Errorf("storing fragment for item %s: %w", item.ID, err)
	}
	return storage.StatusInjected, nil
}

// Reset removes every stored fragment and empties the processed set.
// confirm must equal ResetConfirmation.
func (a *Assigner) Reset(ctx context.Context, confirm string) (storage.ResetResult, error) {
	if confirm != ResetConfirmation {
		return storage.ResetResult{}, ErrConfirmationRequired
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.store.ResetInjections()
	if err != nil {
		return storage.ResetResult{}, fmt.Errorf("resetting injections: %w", err)
	}
	a.logger.InfoContext(ctx, "injections reset", "fragments", res.Fragments, "processed", res.Processed)
	return res, nil
}

// RequeueSkipped makes items that were skipped for lack of a category
// eligible for the next batch run.
func (a *Assigner) RequeueSkipped(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, err := a.store.RequeueSkipped()
	if err != nil {
		return 0, fmt.Errorf("requeueing skipped items: %w", err)
	}
	a.logger.InfoContext(ctx, "skipped items requeued", "count", n)
	return n, nil
}

// Remaining returns how many items have not been processed yet.
func (a *Assigner) Remaining() (int, error) {
	n, err := a.store.CountUnprocessed()
	if err != nil {
		return 0, fmt.Errorf("counting unprocessed items: %w", err)
	}
	return n, nil
}

// Status reports totals for the whole corpus.
func (a *Assigner) Status() (Status, error) {
	total, err := a.store.CountItems()
	if err != nil {
		return Status{}, fmt.Errorf("counting items: %w", err)
	}
	remaining, err := a.Remaining()
	if err != nil {
		return Status{}, err
	}
	stats, err := a.store.ProcessedStats()
	if err != nil {
		return Status{}, fmt.Errorf("loading processed stats: %w", err)
	}
	return Status{
		Total:     total,
		Processed: total - remaining,
		Remaining: remaining,
		Injected:  stats.Injected,
		Existing:  stats.Existing,
		Skipped:   stats.Skipped,
	}, nil
}
