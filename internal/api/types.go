package api

import (
	"github.com/farmready/farmready/internal/tlscheck"
	"github.com/farmready/farmready/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	OK      bool              `json:"ok"`
	Devices int               `json:"devices"`
	LastRun *types.RunSummary `json:"lastRun"`

	// Upstream lists certificate checks of the upstream endpoints, if enabled.
	Upstream []tlscheck.Status `json:"upstream,omitempty"`
}

// RecomputeResponse is the payload for a successful recompute.
type RecomputeResponse struct {
	OK     bool `json:"ok"`
	Result any  `json:"result"`
}

// RunStatusMissing is returned by run-status before the first run.
type RunStatusMissing struct {
	Exists bool `json:"exists"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
