package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/pkg/types"
)

// metrics serves GET /api/v1/metrics in the Prometheus text format. Families
// are built from the stored documents on each request.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	progress, err := h.deps.Diagnostics.ListProgress(r.Context())
	if err != nil {
		slog.Error("api: metrics could not list progress", "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	var last *types.RunSummary
	run, err := h.deps.Diagnostics.GetRunStatus(r.Context())
	switch {
	case err == nil:
		last = &run
	case !errors.Is(err, store.ErrNotFound):
		slog.Warn("api: metrics could not read run status", "err", err)
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range buildFamilies(progress, last) {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("api: encode metric family", "name", mf.GetName(), "err", err)
			return
		}
	}
}

// buildFamilies converts progress documents and the last run into metric
// families, ordered by name.
func buildFamilies(progress []types.ProgressState, last *types.RunSummary) []*dto.MetricFamily {
	percent := gaugeFamily("farmready_readiness_percent", "Continuous-good share of the readiness window, 0-100.")
	good := gaugeFamily("farmready_good", "1 when the latest evaluation passed all thresholds.")
	level := gaugeFamily("farmready_readiness_level", "Current readiness tier, value always 1.")
	updated := gaugeFamily("farmready_progress_updated_timestamp_seconds", "Unix time of the last successful evaluation.")

	for _, p := range progress {
		dev := label("device", p.DeviceID)
		percent.Metric = append(percent.Metric, gauge(p.Percent, dev))
		good.Metric = append(good.Metric, gauge(boolValue(p.GoodNow), dev))
		level.Metric = append(level.Metric, gauge(1, dev, label("level", p.Level)))
		updated.Metric = append(updated.Metric, gauge(float64(p.UpdatedAt.UnixMilli())/1000, dev))
	}

	families := []*dto.MetricFamily{percent, good, level, updated}

	if last != nil {
		devices := gaugeFamily("farmready_last_run_devices", "Devices processed by the last run, by result.")
		devices.Metric = []*dto.Metric{
			gauge(float64(last.OKCount), label("result", "ok")),
			gauge(float64(last.ErrCount), label("result", "error")),
		}
		running := gaugeFamily("farmready_run_in_progress", "1 while the run document says running.")
		running.Metric = []*dto.Metric{gauge(boolValue(last.Status == types.RunRunning))}
		started := gaugeFamily("farmready_last_run_started_timestamp_seconds", "Unix time the last run started.")
		started.Metric = []*dto.Metric{gauge(float64(last.StartedAt.UnixMilli()) / 1000)}
		families = append(families, devices, running, started)

		if last.FinishedAt != nil {
			dur := gaugeFamily("farmready_last_run_duration_seconds", "Wall time of the last finished run.")
			dur.Metric = []*dto.Metric{gauge(last.Duration().Seconds())}
			families = append(families, dur)
		}
	}

	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	return families
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: &v}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
