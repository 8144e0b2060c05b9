// Package diagnostics exposes on-demand recomputation and read-only status
// queries built on the poller pipeline.
package diagnostics
