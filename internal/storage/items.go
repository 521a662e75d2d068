package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const itemColumns = `id, title, markup, category_override, fragment, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	var createdAt, updatedAt string
	if err := row.Scan(&it.ID, &it.Title, &it.Markup, &it.CategoryOverride, &it.Fragment, &createdAt, &updatedAt); err != nil {
		return Item{}, err
	}
	var err error
	if it.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Item{}, fmt.Errorf("parsing created_at for item %s: %w", it.ID, err)
	}
	if it.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Item{}, fmt.Errorf("parsing updated_at for item %s: %w", it.ID, err)
	}
	return it, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()

	var results []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, it)
	}
	return results, rows.Err()
}

// SaveItem inserts an item or updates its title, markup and override.
// An existing fragment is never replaced here; a fragment on a new item is
// stored as given. Saving an item makes a previously skipped item eligible
// for the next batch run again.
func (s *Store) SaveItem(it Item) error {
	now := time.Now().UTC()
	createdAt := now
	if !it.CreatedAt.IsZero() {
		createdAt = it.CreatedAt.UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO items (id, title, markup, category_override, fragment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			markup = excluded.markup,
			category_override = excluded.category_override,
			updated_at = excluded.updated_at`,
		it.ID, it.Title, it.Markup, it.CategoryOverride, it.Fragment,
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	if err := forgetSkipped(tx, it.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetItem(id string) (Item, error) {
	it, err := scanItem(s.db.QueryRow(`SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func (s *Store) ListItems(limit, offset int) ([]Item, error) {
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM items ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

// ListUnprocessedItems returns up to limit items that have no entry in the
// processed set, oldest first.
func (s *Store) ListUnprocessedItems(limit int) ([]Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+` FROM items
		WHERE NOT EXISTS (SELECT 1 FROM processed_items p WHERE p.item_id = items.id)
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (s *Store) CountItems() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

// CountUnprocessed counts items with no entry in the processed set.
func (s *Store) CountUnprocessed() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM items
		WHERE NOT EXISTS (SELECT 1 FROM processed_items p WHERE p.item_id = items.id)`,
	).Scan(&n)
	return n, err
}

// GetItemFragment returns the stored fragment, or "" if none was assigned.
func (s *Store) GetItemFragment(id string) (string, error) {
	var fragment string
	err := s.db.QueryRow(`SELECT fragment FROM items WHERE id = ?`, id).Scan(&fragment)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return fragment, err
}

func (s *Store) SetItemFragment(id, fragment string) error {
	res, err := s.db.Exec(`UPDATE items SET fragment = ?, updated_at = ? WHERE id = ?`,
		fragment, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCategoryOverride pins the category used for the item's fragment.
// An empty categoryID clears the override.
func (s *Store) SetCategoryOverride(id, categoryID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning override transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE items SET category_override = ?, updated_at = ? WHERE id = ?`,
		categoryID, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := forgetSkipped(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SetItemCategories replaces the item's natural categories. The order of
// categoryIDs is preserved and becomes the resolution order.
func (s *Store) SetItemCategories(id string, categoryIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning categories transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM items WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM item_categories WHERE item_id = ?`, id); err != nil {
		return fmt.Errorf("clearing categories for item %s: %w", id, err)
	}
	for pos, catID := range categoryIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO item_categories (item_id, category_id, position) VALUES (?, ?, ?)`,
			id, catID, pos); err != nil {
			return fmt.Errorf("assigning category %s to item %s: %w", catID, id, err)
		}
	}
	if err := forgetSkipped(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ItemCategories returns the item's natural categories in assignment order.
// Assignments pointing at deleted categories are ignored.
func (s *Store) ItemCategories(id string) ([]Category, error) {
	rows, err := s.db.Query(`
		SELECT c.id, c.name, c.slug, c.parent_id
		FROM item_categories ic JOIN categories c ON c.id = ic.category_id
		WHERE ic.item_id = ?
		ORDER BY ic.position ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	return scanCategories(rows)
}

func forgetSkipped(tx *sql.Tx, itemID string) error {
	if _, err := tx.Exec(`DELETE FROM processed_items WHERE item_id = ? AND status = ?`, itemID, StatusSkipped); err != nil {
		return fmt.Errorf("clearing skipped state for item %s: %w", itemID, err)
	}
	return nil
}
