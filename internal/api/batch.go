package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kalambet/pim/internal/inject"
	"github.com/kalambet/pim/internal/storage"
)

type runRequest struct {
	Limit int `json:"limit"`
}

type runResponse struct {
	inject.BatchResult
	Remaining int  `json:"remaining"`
	Shared    bool `json:"shared"`
}

func handleRunBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Limit < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must not be negative")
			return
		}
		if req.Limit == 0 {
			req.Limit = deps.BatchLimit
		}

		res, shared, err := deps.Runs.Run(r.Context(), req.Limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "batch run failed: %v", err)
			return
		}

		remaining, err := deps.Assigner.Remaining()
		if err != nil {
			slog.WarnContext(r.Context(), "counting remaining items failed", "error", err)
			remaining = -1
		}

		writeJSON(w, runResponse{BatchResult: res, Remaining: remaining, Shared: shared})
	}
}

type resetRequest struct {
	Confirm string `json:"confirm"`
}

func handleResetBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req resetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Assigner.Reset(r.Context(), req.Confirm)
		if errors.Is(err, inject.ErrConfirmationRequired) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reset failed: %v", err)
			return
		}

		writeJSON(w, res)
	}
}

func handleRequeueSkipped(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Assigner.RequeueSkipped(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "requeue failed: %v", err)
			return
		}
		writeJSON(w, map[string]int64{"requeued": n})
	}
}

func handleBatchStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Assigner.Status()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get status: %v", err)
			return
		}
		writeJSON(w, st)
	}
}

func handleListProcessed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Store.ListProcessed(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list processed items: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.ProcessedEntry{}
		}
		writeJSON(w, entries)
	}
}
