package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pim/internal/storage"
	"github.com/kalambet/pim/internal/taxonomy"
)

// CategoryNode is one row of the category listing.
type CategoryNode struct {
	storage.Category
	Depth int    `json:"depth"`
	Link  string `json:"link"`
}

func listCategoryNodes(deps Deps, rootID string) ([]CategoryNode, error) {
	entries, err := taxonomy.Walk(deps.Store, rootID)
	if err != nil {
		return nil, err
	}
	nodes := make([]CategoryNode, 0, len(entries))
	for _, e := range entries {
		link, err := deps.Linker.Link(e.Category)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, CategoryNode{Category: e.Category, Depth: e.Depth, Link: link})
	}
	return nodes, nil
}

func handleListCategories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := listCategoryNodes(deps, r.URL.Query().Get("root"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list categories: %v", err)
			return
		}
		writeJSON(w, nodes)
	}
}

type categoryRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parent_id"`
}

func handleCreateCategory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req categoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if req.Slug == "" {
			req.Slug = taxonomy.Slugify(req.Name)
		}
		if req.ParentID != "" {
			if req.ParentID == req.ID {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "category cannot be its own parent")
				return
			}
			if _, err := deps.Store.GetCategory(req.ParentID); errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "parent category %q not found", req.ParentID)
				return
			} else if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to get parent category: %v", err)
				return
			}
		}

		c := storage.Category{ID: req.ID, Name: req.Name, Slug: req.Slug, ParentID: req.ParentID}
		if err := deps.Store.SaveCategory(c); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save category: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(c)
	}
}

func handleDeleteCategory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteCategory(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "category not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete category: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
