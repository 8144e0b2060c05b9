// Package store persists the engine's documents: device configurations,
// per-device progress and the run summary.
//
// Store is the interface the engine depends on. Memory is the thread-safe
// in-process implementation; the sqlite subpackage is the durable one. Both
// validate documents before writing and return ErrNotFound for missing keys.
// Values handed in and out are copies, so callers never share state with the
// store.
package store
