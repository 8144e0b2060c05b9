// Package sqlite is the durable store.Store backed by modernc.org/sqlite.
//
// Each collection is a table of JSON documents keyed by id. Progress upserts
// merge into the existing document with json_patch, so top-level fields
// written by other tools survive; lastValues is replaced rather than merged.
// Run summaries are replaced on every write.
package sqlite
