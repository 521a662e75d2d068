// Package taxonomy resolves which category personalizes an item's fragment,
// builds canonical category links, and lists the category tree.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gosimple/slug"

	"github.com/kalambet/pim/internal/storage"
)

// maxDepth bounds ancestor and descendant walks so a corrupted parent chain
// cannot loop forever.
const maxDepth = 64

// Store abstracts the category lookups used by this package.
// Implemented by storage.Store.
type Store interface {
	GetCategory(id string) (storage.Category, error)
	ListChildCategories(parentID string) ([]storage.Category, error)
	ItemCategories(itemID string) ([]storage.Category, error)
}

// Resolver picks the category used for an item's fragment.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, logger: slog.Default()}
}

// Resolve returns the item's override category if it exists, otherwise its
// first natural category. found is false when the item has neither.
//
// A missing or unreadable override is logged and ignored. An error reading
// the natural categories is returned.
func (r *Resolver) Resolve(ctx context.Context, item storage.Item) (cat storage.Category, found bool, err error) {
	if item.CategoryOverride != "" {
		c, err := r.store.GetCategory(item.CategoryOverride)
		switch {
		case err == nil:
			return c, true, nil
		case errors.Is(err, storage.ErrNotFound):
			r.logger.WarnContext(ctx, "category override not found, falling back",
				"item_id", item.ID, "category_id", item.CategoryOverride)
		default:
			r.logger.WarnContext(ctx, "category override lookup failed, falling back",
				"item_id", item.ID, "category_id", item.CategoryOverride, "error", err)
		}
	}

	cats, err := r.store.ItemCategories(item.ID)
	if err != nil {
		return storage.Category{}, false, fmt.Errorf("loading categories for item %s: %w", item.ID, err)
	}
	if len(cats) == 0 {
		return storage.Category{}, false, nil
	}
	return cats[0], true, nil
}

// Linker builds canonical listing URLs for categories, in the form
// BASE/CATEGORY_BASE/parent-slug/child-slug/.
type Linker struct {
	store        Store
	baseURL      string
	categoryBase string
}

func NewLinker(store Store, baseURL, categoryBase string) *Linker {
	return &Linker{
		store:        store,
		baseURL:      strings.TrimRight(baseURL, "/"),
		categoryBase: strings.Trim(categoryBase, "/"),
	}
}

// Link returns the canonical URL for c. Ancestors that no longer exist end
// the slug chain rather than failing.
func (l *Linker) Link(c storage.Category) (string, error) {
	slugs := []string{slugOf(c)}
	seen := map[string]bool{c.ID: true}

	parentID := c.ParentID
	for depth := 0; parentID != "" && depth < maxDepth; depth++ {
		if seen[parentID] {
			break
		}
		seen[parentID] = true

		p, err := l.store.GetCategory(parentID)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("loading parent category %s: %w", parentID, err)
		}
		slugs = append(slugs, slugOf(p))
		parentID = p.ParentID
	}

	segments := make([]string, 0, len(slugs)+1)
	if l.categoryBase != "" {
		segments = append(segments, l.categoryBase)
	}
	for i := len(slugs) - 1; i >= 0; i-- {
		segments = append(segments, url.PathEscape(slugs[i]))
	}
	return l.baseURL + "/" + strings.Join(segments, "/") + "/", nil
}

func slugOf(c storage.Category) string {
	if c.Slug != "" {
		return c.Slug
	}
	return Slugify(c.Name)
}

// Slugify derives a URL slug from a category name, transliterating
// non-ASCII letters and joining words with hyphens.
func Slugify(name string) string {
	return slug.Make(name)
}

// Entry is one node of a tree listing.
type Entry struct {
	Category storage.Category `json:"category"`
	Depth    int              `json:"depth"`
}

// Walk lists the subtree below rootID depth-first, root to leaf, with
// siblings in name order. An empty rootID walks the whole forest. The walk
// uses an explicit stack and visits each category at most once.
func Walk(store Store, rootID string) ([]Entry, error) {
	type frame struct {
		cat   storage.Category
		depth int
	}

	roots, err := store.ListChildCategories(rootID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %q: %w", rootID, err)
	}

	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{cat: roots[i]})
	}

	var out []Entry
	visited := make(map[string]bool)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[f.cat.ID] {
			continue
		}
		visited[f.cat.ID] = true
		out = append(out, Entry{Category: f.cat, Depth: f.depth})

		if f.depth+1 >= maxDepth {
			continue
		}
		children, err := store.ListChildCategories(f.cat.ID)
		if err != nil {
			return nil, fmt.Errorf("listing children of %q: %w", f.cat.ID, err)
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{cat: children[i], depth: f.depth + 1})
		}
	}
	return out, nil
}
