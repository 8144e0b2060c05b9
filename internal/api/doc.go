// Package api implements the diagnostic HTTP surface.
//
// New(deps) returns an http.Handler that serves:
//
//	GET      /api/v1/health                       ok flag, device count, last run
//	GET      /api/v1/progress?deviceId=           stored ProgressState; 404 if none
//	GET|POST /api/v1/recompute?deviceId=&dryRun=  run the pipeline for one device
//	GET      /api/v1/run-status                   latest RunSummary or {exists:false}
//	POST     /api/v1/poll                         run the poll driver once; 409 while running
//	GET      /api/v1/metrics                      Prometheus text exposition
//
// All JSON errors have the shape {"ok":false,"error":"..."}. Wrong methods get
// 405. Requests that write state (POST, or recompute without dryRun=true)
// pass through the API-key check when auth mode is apikey.
package api
