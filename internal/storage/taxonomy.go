package storage

import (
	"database/sql"
	"fmt"
)

func scanCategories(rows *sql.Rows) ([]Category, error) {
	defer rows.Close()

	var results []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) SaveCategory(c Category) error {
	_, err := s.db.Exec(`
		INSERT INTO categories (id, name, slug, parent_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, slug = excluded.slug, parent_id = excluded.parent_id`,
		c.ID, c.Name, c.Slug, c.ParentID,
	)
	return err
}

func (s *Store) GetCategory(id string) (Category, error) {
	var c Category
	err := s.db.QueryRow(`SELECT id, name, slug, parent_id FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID)
	if err == sql.ErrNoRows {
		return Category{}, ErrNotFound
	}
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

// ListChildCategories returns the direct children of parentID ordered by
// name. An empty parentID lists the roots.
func (s *Store) ListChildCategories(parentID string) ([]Category, error) {
	rows, err := s.db.Query(`
		SELECT id, name, slug, parent_id FROM categories
		WHERE parent_id = ?
		ORDER BY name COLLATE NOCASE ASC, id ASC`, parentID,
	)
	if err != nil {
		return nil, err
	}
	return scanCategories(rows)
}

// DeleteCategory removes a category. Its children move up to its parent,
// items lose it as a natural category, and overrides naming it are cleared.
// Stored fragments are left as they are.
func (s *Store) DeleteCategory(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var parentID string
	err = tx.QueryRow(`SELECT parent_id FROM categories WHERE id = ?`, id).Scan(&parentID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	stmts := []struct {
		query string
		args  []any
	}{
		{`UPDATE categories SET parent_id = ? WHERE parent_id = ?`, []any{parentID, id}},
		{`DELETE FROM item_categories WHERE category_id = ?`, []any{id}},
		{`UPDATE items SET category_override = '' WHERE category_override = ?`, []any{id}},
		{`DELETE FROM categories WHERE id = ?`, []any{id}},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.query, st.args...); err != nil {
			return fmt.Errorf("deleting category %s: %w", id, err)
		}
	}
	return tx.Commit()
}
