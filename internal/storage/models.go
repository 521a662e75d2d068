package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Item is a piece of long-form content. Fragment is empty until the batch
// assigner stores one.
type Item struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Markup           string    `json:"markup"`
	CategoryOverride string    `json:"category_override"`
	Fragment         string    `json:"fragment"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Category is a taxonomy node. ParentID is empty for roots.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parent_id"`
}

// Processing outcomes recorded in the processed set.
const (
	StatusInjected = "injected"
	StatusExisting = "existing"
	StatusSkipped  = "skipped"
)

// ProcessedEntry records that an item was handled by a batch run.
type ProcessedEntry struct {
	ItemID      string    `json:"item_id"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ProcessedStats counts processed-set entries by outcome.
type ProcessedStats struct {
	Injected int `json:"injected"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
}

// Total is the size of the processed set.
func (s ProcessedStats) Total() int {
	return s.Injected + s.Existing + s.Skipped
}

// ResetResult reports what a full reset removed.
type ResetResult struct {
	Fragments int64 `json:"fragments"`
	Processed int64 `json:"processed"`
}
