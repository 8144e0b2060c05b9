package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/farmready/farmready/internal/store"
	"github.com/farmready/farmready/pkg/types"
)

// Driver defaults.
const (
	DefaultConcurrency = 1
	DefaultStaleAfter  = 30 * time.Minute
)

// Driver runs the pipeline over every device and records a RunSummary.
type Driver struct {
	pipeline    *Pipeline
	runs        store.RunStore
	runID       string
	concurrency int
	staleAfter  time.Duration
	loc         *time.Location
	now         func() time.Time

	running atomic.Bool
}

// Option customises a Driver.
type Option func(*Driver)

// WithConcurrency bounds how many devices are processed at once.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithStaleAfter sets how long a "running" summary blocks new runs.
func WithStaleAfter(dur time.Duration) Option {
	return func(d *Driver) {
		if dur > 0 {
			d.staleAfter = dur
		}
	}
}

// WithRunID sets the run document id.
func WithRunID(id string) Option {
	return func(d *Driver) {
		if id != "" {
			d.runID = id
		}
	}
}

// WithLocation sets the timezone used for the day field in logs.
func WithLocation(loc *time.Location) Option {
	return func(d *Driver) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// NewDriver returns a Driver for p that records summaries in runs.
func NewDriver(p *Pipeline, runs store.RunStore, opts ...Option) *Driver {
	d := &Driver{
		pipeline:    p,
		runs:        runs,
		runID:       store.DefaultRunID,
		concurrency: DefaultConcurrency,
		staleAfter:  DefaultStaleAfter,
		loc:         time.UTC,
		now:         time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RunID returns the run document id.
func (d *Driver) RunID() string { return d.runID }

// RunOnce processes every device once and returns the final summary.
//
// It refuses to start (ErrRunInProgress) while this Driver is already
// running or while the stored summary is "running" and younger than the
// stale threshold. Per-device failures are recorded in PerDevice and never
// abort the run.
func (d *Driver) RunOnce(ctx context.Context) (types.RunSummary, error) {
	if !d.running.CompareAndSwap(false, true) {
		return types.RunSummary{}, ErrRunInProgress
	}
	defer d.running.Store(false)

	start := d.now()
	if err := d.checkPrevious(ctx, start); err != nil {
		return types.RunSummary{}, err
	}

	sum := types.RunSummary{
		Version:   types.SchemaVersion,
		RunID:     uuid.NewString(),
		Status:    types.RunRunning,
		StartedAt: start,
	}
	if err := d.runs.PutRun(ctx, d.runID, sum); err != nil {
		return types.RunSummary{}, fmt.Errorf("poller: record run start: %w", err)
	}
	slog.Info("poller: run started", "run", sum.RunID, "day", d.day(start))

	ids, err := d.pipeline.Devices.DeviceIDs(ctx)
	if err != nil {
		sum.Error = err.Error()
		slog.Error("poller: list devices failed", "run", sum.RunID, "err", err)
		fin, werr := d.finish(ctx, sum, map[string]types.DeviceOutcome{})
		if werr != nil {
			return fin, werr
		}
		return fin, fmt.Errorf("poller: list devices: %w", err)
	}
	ids = dedupe(ids)

	var (
		mu  sync.Mutex
		per = make(map[string]types.DeviceOutcome, len(ids))
	)
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			o := d.processDevice(ctx, sum.RunID, id)
			mu.Lock()
			per[id] = o
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return d.finish(ctx, sum, per)
}

// checkPrevious enforces the stale-run guard against the stored summary.
func (d *Driver) checkPrevious(ctx context.Context, now time.Time) error {
	prev, err := d.runs.GetRun(ctx, d.runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("poller: read previous run: %w", err)
	}
	if prev.Status != types.RunRunning {
		return nil
	}
	age := now.Sub(prev.StartedAt)
	if age < d.staleAfter {
		return fmt.Errorf("%w: run %s started %s ago", ErrRunInProgress, prev.RunID, age.Round(time.Second))
	}
	slog.Warn("poller: previous run is stale, starting anyway",
		"previous", prev.RunID, "age", age.Round(time.Second))
	return nil
}

// processDevice runs the pipeline for one device and converts the result
// into a DeviceOutcome. A panic is contained to the device.
func (d *Driver) processDevice(ctx context.Context, runID, id string) (o types.DeviceOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := &Error{Kind: KindInternal, DeviceID: id, Err: fmt.Errorf("panic: %v", r)}
			slog.Error("poller: device failed", "run", runID, "device", id, "kind", err.Kind, "err", err)
			o = types.DeviceOutcome{OK: false, Kind: string(err.Kind), Error: err.Error()}
		}
	}()

	now := d.now()
	out, err := d.pipeline.Process(ctx, id, now, true)
	if err != nil {
		kind := KindOf(err)
		slog.Warn("poller: device failed",
			"run", runID, "device", id, "kind", kind, "day", d.day(now), "err", err)
		return types.DeviceOutcome{OK: false, Kind: string(kind), Error: err.Error()}
	}

	st := out.State
	slog.Info("poller: device ok",
		"run", runID, "device", id, "good", st.GoodNow,
		"percent", st.Percent, "level", st.Level, "day", d.day(now))
	return types.Succeeded(st)
}

// finish writes the terminal summary. The write is not tied to ctx so a
// cancelled caller still leaves an "idle" record behind.
func (d *Driver) finish(ctx context.Context, sum types.RunSummary, per map[string]types.DeviceOutcome) (types.RunSummary, error) {
	fin := d.now()
	sum.Status = types.RunIdle
	sum.FinishedAt = &fin
	sum.PerDevice = per
	sum.OKCount, sum.ErrCount = 0, 0
	for _, o := range per {
		if o.OK {
			sum.OKCount++
		} else {
			sum.ErrCount++
		}
	}

	if err := d.runs.PutRun(context.WithoutCancel(ctx), d.runID, sum); err != nil {
		return sum, fmt.Errorf("poller: record run finish: %w", err)
	}
	slog.Info("poller: run finished",
		"run", sum.RunID, "ok", sum.OKCount, "errors", sum.ErrCount,
		"duration", sum.Duration().Round(time.Millisecond))
	return sum, nil
}

func (d *Driver) day(t time.Time) string {
	return t.In(d.loc).Format(time.DateOnly)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
