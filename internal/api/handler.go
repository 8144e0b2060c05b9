package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/farmready/farmready/internal/diagnostics"
	"github.com/farmready/farmready/internal/poller"
	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/internal/tlscheck"
	"github.com/farmready/farmready/pkg/types"
)

// Diagnostics is the read and recompute surface the handler needs.
// *diagnostics.Facade implements it.
type Diagnostics interface {
	RecomputeOne(ctx context.Context, deviceID string, dryRun bool) (diagnostics.Result, error)
	GetProgress(ctx context.Context, deviceID string) (types.ProgressState, error)
	ListProgress(ctx context.Context) ([]types.ProgressState, error)
	GetRunStatus(ctx context.Context) (types.RunSummary, error)
}

// Deps are the handler's collaborators.
type Deps struct {
	Diagnostics Diagnostics

	// Runner triggers POST /poll. Nil disables the endpoint.
	Runner poller.Runner

	// DeviceCount reports how many devices are configured. Optional.
	DeviceCount func() int

	// Upstream returns the latest upstream certificate checks. Optional.
	Upstream func() []tlscheck.Status

	Auth AuthConfig
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(deps Deps) http.Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/progress", h.progress)
	h.mux.HandleFunc("/api/v1/recompute", h.recompute)
	h.mux.HandleFunc("/api/v1/run-status", h.runStatus)
	h.mux.Handle("/api/v1/poll", RequireAPIKey(deps.Auth, http.HandlerFunc(h.poll)))
	h.mux.HandleFunc("/api/v1/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{OK: true}
	if h.deps.DeviceCount != nil {
		resp.Devices = h.deps.DeviceCount()
	}
	if h.deps.Upstream != nil {
		resp.Upstream = h.deps.Upstream()
	}
	if run, err := h.deps.Diagnostics.GetRunStatus(r.Context()); err == nil {
		resp.LastRun = &run
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("api: health could not read run status", "err", err)
	}
	jsonResp(w, http.StatusOK, resp)
}

// progress returns GET /api/v1/progress?deviceId=.
func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := deviceID(r)
	if id == "" {
		jsonErr(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	p, err := h.deps.Diagnostics.GetProgress(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "progress not found")
		return
	}
	if err != nil {
		slog.Error("api: get progress failed", "device", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// recompute handles GET|POST /api/v1/recompute?deviceId=&dryRun=.
func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := deviceID(r)
	if id == "" {
		jsonErr(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	dryRun := false
	if raw := r.URL.Query().Get("dryRun"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "dryRun must be true or false")
			return
		}
		dryRun = v
	}
	if (r.Method == http.MethodPost || !dryRun) && !h.deps.Auth.authorized(r) {
		jsonErr(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	res, err := h.deps.Diagnostics.RecomputeOne(r.Context(), id, dryRun)
	if err != nil {
		kind := poller.KindOf(err)
		slog.Warn("api: recompute failed", "device", id, "dryRun", dryRun, "kind", kind, "err", err)
		jsonResp(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
		return
	}
	jsonResp(w, http.StatusOK, RecomputeResponse{OK: true, Result: res})
}

// runStatus returns GET /api/v1/run-status.
func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	run, err := h.deps.Diagnostics.GetRunStatus(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		jsonResp(w, http.StatusOK, RunStatusMissing{Exists: false})
		return
	}
	if err != nil {
		slog.Error("api: get run status failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, run)
}

// poll handles POST /api/v1/poll.
func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.Runner == nil {
		jsonErr(w, http.StatusServiceUnavailable, "poll runner not configured")
		return
	}
	sum, err := h.deps.Runner.RunOnce(context.WithoutCancel(r.Context()))
	if errors.Is(err, poller.ErrRunInProgress) {
		jsonErr(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("api: manual poll failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, sum)
}

// --- helpers ----------------------------------------------------------------

func deviceID(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("deviceId"); id != "" {
		return id
	}
	return q.Get("deviceid")
}

func statusForKind(k poller.Kind) int {
	switch k {
	case poller.KindConfigMissing:
		return http.StatusNotFound
	case poller.KindConfigInvalid:
		return http.StatusUnprocessableEntity
	case poller.KindAuth, poller.KindShadowFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
