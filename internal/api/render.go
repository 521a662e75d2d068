package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/pim/internal/storage"
)

func writeHTML(w http.ResponseWriter, markup string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, markup)
}

// handleRenderItem serves the item's stored markup with its fragment spliced
// in. A splice failure is logged and the unmodified markup is served.
func handleRenderItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		it, err := deps.Store.GetItem(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}

		out, err := deps.Display.Splice(id, it.Markup)
		if err != nil {
			slog.WarnContext(r.Context(), "splice failed, serving original markup", "item_id", id, "error", err)
		}
		writeHTML(w, out)
	}
}

// handleRenderMarkup splices the item's fragment into markup supplied in the
// request body, for hosts that render content themselves.
func handleRenderMarkup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxMarkupBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		id := chi.URLParam(r, "id")
		out, err := deps.Display.Splice(id, string(body))
		if err != nil {
			slog.WarnContext(r.Context(), "splice failed, serving original markup", "item_id", id, "error", err)
		}
		writeHTML(w, out)
	}
}
