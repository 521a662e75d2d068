package storage

import (
	"fmt"
	"time"
)

// MarkProcessed appends entries to the processed set in one transaction.
// Items already present keep their original entry.
func (s *Store) MarkProcessed(entries []ProcessedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning processed transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO processed_items (item_id, status, processed_at) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing processed insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		at := e.ProcessedAt
		if at.IsZero() {
			at = now
		}
		if _, err := stmt.Exec(e.ItemID, e.Status, at.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("recording item %s: %w", e.ItemID, err)
		}
	}

	return tx.Commit()
}

// ListProcessed returns processed-set entries, newest first.
func (s *Store) ListProcessed(limit, offset int) ([]ProcessedEntry, error) {
	rows, err := s.db.Query(`SELECT item_id, status, processed_at FROM processed_items ORDER BY seq DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ProcessedEntry
	for rows.Next() {
		var e ProcessedEntry
		var at string
		if err := rows.Scan(&e.ItemID, &e.Status, &at); err != nil {
			return nil, err
		}
		if e.ProcessedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parsing processed_at for item %s: %w", e.ItemID, err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) ProcessedStats() (ProcessedStats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM processed_items GROUP BY status`)
	if err != nil {
		return ProcessedStats{}, err
	}
	defer rows.Close()

	var stats ProcessedStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return ProcessedStats{}, err
		}
		switch status {
		case StatusInjected:
			stats.Injected = n
		case StatusExisting:
			stats.Existing = n
		case StatusSkipped:
			stats.Skipped = n
		}
	}
	return stats, rows.Err()
}

// RequeueSkipped drops every skipped entry so those items are picked up by
// the next batch run.
func (s *Store) RequeueSkipped() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM processed_items WHERE status = ?`, StatusSkipped)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetInjections clears every stored fragment and empties the processed set
// in a single transaction.
func (s *Store) ResetInjections() (ResetResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return ResetResult{}, fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE items SET fragment = '', updated_at = ? WHERE fragment != ''`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return ResetResult{}, fmt.Errorf("clearing fragments: %w", err)
	}
	var out ResetResult
	if out.Fragments, err = res.RowsAffected(); err != nil {
		return ResetResult{}, err
	}

	res, err = tx.Exec(`DELETE FROM processed_items`)
	if err != nil {
		return ResetResult{}, fmt.Errorf("clearing processed set: %w", err)
	}
	if out.Processed, err = res.RowsAffected(); err != nil {
		return ResetResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return ResetResult{}, fmt.Errorf("committing reset: %w", err)
	}
	return out, nil
}
