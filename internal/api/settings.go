package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/pim/internal/settings"
)

type settingsResponse struct {
	settings.Settings
	Warnings []string `json:"warnings,omitempty"`
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Settings.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		writeJSON(w, settingsResponse{Settings: s})
	}
}

func handlePutSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		saved, err := deps.Settings.Set(req)
		if errors.Is(err, settings.ErrInvalidInterval) || errors.Is(err, settings.ErrEmptyTemplate) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save settings: %v", err)
			return
		}

		resp := settingsResponse{Settings: saved}
		if !strings.Contains(saved.Template, settings.Placeholder) {
			resp.Warnings = append(resp.Warnings, "template has no "+settings.Placeholder+" placeholder; fragments will not link to a category")
		}
		writeJSON(w, resp)
	}
}
