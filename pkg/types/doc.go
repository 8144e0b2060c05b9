// Package types defines the document shapes shared by the engine, the
// persistence layer and the diagnostic API.
//
//   - DeviceConfig : identity and threshold rules for one device (read-only to the engine)
//   - ProgressState : the persisted readiness record, one per device
//   - RunSummary : the single record describing the latest poll run
//
// Every persisted document carries a Version field (SchemaVersion) and a
// Validate method that the stores call before writing.
package types
