// Package catalog loads categories and items from a YAML file for bulk import.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/pim/internal/storage"
	"github.com/kalambet/pim/internal/taxonomy"
)

var (
	// ErrCatalogNotFound is returned when the catalog file does not exist.
	ErrCatalogNotFound = errors.New("catalog file not found")
	// ErrInvalidCatalog wraps every validation failure.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// CategoryEntry is one category as written in the file. Parent refers to
// another entry's id.
type CategoryEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Slug   string `yaml:"slug"`
	Parent string `yaml:"parent"`
}

// ItemEntry is one content item. MarkupFile is read relative to the catalog
// file when Markup is empty.
type ItemEntry struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	Markup           string   `yaml:"markup"`
	MarkupFile       string   `yaml:"markup_file"`
	Categories       []string `yaml:"categories"`
	CategoryOverride string   `yaml:"category_override"`
}

type catalogFile struct {
	Categories []CategoryEntry `yaml:"categories"`
	Items      []ItemEntry     `yaml:"items"`
}

// Item pairs a storage item with its ordered natural categories.
type Item struct {
	storage.Item
	Categories []string
}

// Catalog is a validated import set. Categories are ordered so that every
// parent precedes its children.
type Catalog struct {
	Categories []storage.Category
	Items      []Item
}

// LoadFile reads and validates the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}
	return build(file, filepath.Dir(path))
}

func build(file catalogFile, baseDir string) (*Catalog, error) {
	cats, err := buildCategories(file.Categories)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cats))
	for _, c := range cats {
		known[c.ID] = true
	}

	items := make([]Item, 0, len(file.Items))
	seen := make(map[string]bool, len(file.Items))
	for i, e := range file.Items {
		if strings.TrimSpace(e.Title) == "" {
			return nil, fmt.Errorf("%w: item %d: title is required", ErrInvalidCatalog, i)
		}
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate item id %q", ErrInvalidCatalog, id)
		}
		seen[id] = true

		markup := e.Markup
		if markup == "" && e.MarkupFile != "" {
			p := e.MarkupFile
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			b, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("reading markup for item %q: %w", id, err)
			}
			markup = string(b)
		}

		for _, cid := range e.Categories {
			if !known[cid] {
				return nil, fmt.Errorf("%w: item %q references unknown category %q", ErrInvalidCatalog, id, cid)
			}
		}
		if e.CategoryOverride != "" && !known[e.CategoryOverride] {
			return nil, fmt.Errorf("%w: item %q overrides to unknown category %q", ErrInvalidCatalog, id, e.CategoryOverride)
		}

		items = append(items, Item{
			Item: storage.Item{
				ID:               id,
				Title:            e.Title,
				Markup:           markup,
				CategoryOverride: e.CategoryOverride,
			},
			Categories: e.Categories,
		})
	}

	return &Catalog{Categories: cats, Items: items}, nil
}

// buildCategories validates entries and orders them parents first.
func buildCategories(entries []CategoryEntry) ([]storage.Category, error) {
	byID := make(map[string]storage.Category, len(entries))
	order := make([]string, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: category %d: id is required", ErrInvalidCatalog, i)
		}
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%w: category %q: name is required", ErrInvalidCatalog, e.ID)
		}
		if _, dup := byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate category id %q", ErrInvalidCatalog, e.ID)
		}
		slug := e.Slug
		if slug == "" {
			slug = taxonomy.Slugify(e.Name)
		}
		byID[e.ID] = storage.Category{ID: e.ID, Name: e.Name, Slug: slug, ParentID: e.Parent}
		order = append(order, e.ID)
	}

	for _, id := range order {
		if p := byID[id].ParentID; p != "" {
			if _, ok := byID[p]; !ok {
				return nil, fmt.Errorf("%w: category %q has unknown parent %q", ErrInvalidCatalog, id, p)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(byID))
	out := make([]storage.Category, 0, len(byID))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: category %q is its own ancestor", ErrInvalidCatalog, id)
		}
		state[id] = visiting
		if p := byID[id].ParentID; p != "" {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[id] = done
		out = append(out, byID[id])
		return nil
	}
	for _, id := range order {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}
