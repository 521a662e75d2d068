package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pim/internal/storage"
)

type itemRequest struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Markup           string    `json:"markup"`
	Categories       *[]string `json:"categories"`
	CategoryOverride string    `json:"category_override"`
}

type itemResponse struct {
	storage.Item
	Categories []storage.Category `json:"categories"`
}

func loadItemResponse(deps Deps, id string) (itemResponse, error) {
	it, err := deps.Store.GetItem(id)
	if err != nil {
		return itemResponse{}, err
	}
	cats, err := deps.Store.ItemCategories(id)
	if err != nil {
		return itemResponse{}, err
	}
	if cats == nil {
		cats = []storage.Category{}
	}
	return itemResponse{Item: it, Categories: cats}, nil
}

// checkCategories returns the first id that does not name a category.
func checkCategories(store *storage.Store, ids ...string) (string, error) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := store.GetCategory(id); errors.Is(err, storage.ErrNotFound) {
			return id, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", nil
}

func handleListItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		items, err := deps.Store.ListItems(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list items: %v", err)
			return
		}
		if items == nil {
			items = []storage.Item{}
		}
		writeJSON(w, items)
	}
}

func handleSaveItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxMarkupBodySize)
		defer r.Body.Close()

		var req itemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		refs := []string{req.CategoryOverride}
		if req.Categories != nil {
			refs = append(refs, *req.Categories...)
		}
		missing, err := checkCategories(deps.Store, refs...)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check categories: %v", err)
			return
		}
		if missing != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category %q not found", missing)
			return
		}

		it := storage.Item{
			ID:               req.ID,
			Title:            req.Title,
			Markup:           req.Markup,
			CategoryOverride: req.CategoryOverride,
		}
		if err := deps.Store.SaveItem(it); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save item: %v", err)
			return
		}
		if req.Categories != nil {
			if err := deps.Store.SetItemCategories(req.ID, *req.Categories); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to assign categories: %v", err)
				return
			}
		}

		resp, err := loadItemResponse(deps, req.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load saved item: %v", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleGetItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := loadItemResponse(deps, chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}
		writeJSON(w, resp)
	}
}

type overrideRequest struct {
	CategoryID string `json:"category_id"`
}

func handleSetOverride(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")
		var req overrideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		missing, err := checkCategories(deps.Store, req.CategoryID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check category: %v", err)
			return
		}
		if missing != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "category %q not found", missing)
			return
		}

		err = deps.Store.SetCategoryOverride(id, req.CategoryID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set override: %v", err)
			return
		}

		resp, err := loadItemResponse(deps, id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load item: %v", err)
			return
		}
		writeJSON(w, resp)
	}
}
