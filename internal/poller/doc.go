// Package poller runs the per-device readiness pipeline and the periodic
// driver that applies it to every configured device.
//
// Pipeline.Process is one device: config, token, shadow fetch, threshold
// evaluation, window transition and (optionally) persistence. Each stage
// failure is returned as an *Error carrying a Kind, so callers report it
// without string matching. A failure before the transition leaves the stored
// ProgressState untouched.
//
// Driver.RunOnce enumerates devices, processes them on a bounded errgroup,
// and brackets the run with a "running" and a final "idle" RunSummary.
// Scheduler fires RunOnce on a fixed cadence via gocron.
package poller
