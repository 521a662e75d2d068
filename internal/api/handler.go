package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/pim/internal/inject"
	"github.com/kalambet/pim/internal/settings"
	"github.com/kalambet/pim/internal/storage"
	"github.com/kalambet/pim/internal/taxonomy"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxMarkupBodySize = 10 << 20 // 10MB

// Deps holds what the HTTP and MCP layers need.
type Deps struct {
	Store    *storage.Store
	Settings *settings.Manager
	Assigner *inject.Assigner
	Display  *inject.Display
	Linker   *taxonomy.Linker
	Runs     *RunGroup
	Token    string

	// BatchLimit is used when a run request does not specify a limit.
	BatchLimit int
}

// RunGroup collapses concurrent batch run requests with the same limit into
// one assigner call whose result every caller receives.
type RunGroup struct {
	assigner *inject.Assigner
	group    singleflight.Group
}

func NewRunGroup(a *inject.Assigner) *RunGroup {
	return &RunGroup{assigner: a}
}

// Run executes one batch. shared reports whether the result came from a run
// started by another caller. The batch is not cancelled when the caller
// that started it goes away.
func (g *RunGroup) Run(ctx context.Context, limit int) (res inject.BatchResult, shared bool, err error) {
	v, err, shared := g.group.Do(strconv.Itoa(limit), func() (any, error) {
		return g.assigner.RunBatch(context.WithoutCancel(ctx), limit)
	})
	if err != nil {
		return inject.BatchResult{}, shared, err
	}
	return v.(inject.BatchResult), shared, nil
}

// RunBatch is Run without the shared flag, so a RunGroup can stand in for
// the assigner in the background worker.
func (g *RunGroup) RunBatch(ctx context.Context, limit int) (inject.BatchResult, error) {
	res, _, err := g.Run(ctx, limit)
	return res, err
}

// NewHandler returns the admin and render API. Every route except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Runs == nil {
		deps.Runs = NewRunGroup(deps.Assigner)
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/batch/run", handleRunBatch(deps))
		r.Post("/batch/reset", handleResetBatch(deps))
		r.Post("/batch/requeue-skipped", handleRequeueSkipped(deps))
		r.Get("/batch/status", handleBatchStatus(deps))
		r.Get("/batch/processed", handleListProcessed(deps))

		r.Get("/settings", handleGetSettings(deps))
		r.Put("/settings", handlePutSettings(deps))

		r.Get("/categories", handleListCategories(deps))
		r.Post("/categories", handleCreateCategory(deps))
		r.Delete("/categories/{id}", handleDeleteCategory(deps))

		r.Get("/items", handleListItems(deps))
		r.Post("/items", handleSaveItem(deps))
		r.Get("/items/{id}", handleGetItem(deps))
		r.Put("/items/{id}/category", handleSetOverride(deps))
		r.Get("/items/{id}/render", handleRenderItem(deps))
		r.Post("/render/{id}", handleRenderMarkup(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
