// Package config loads farmready configuration from a YAML file plus
// environment secrets, and watches the file for device changes.
//
// Load applies defaults, unmarshals YAML (gopkg.in/yaml.v3), overlays the
// environment (github.com/caarlos0/env/v11) and validates the result.
// Watch (github.com/fsnotify/fsnotify) reloads the file on write and hands
// the new Config to a callback; an invalid file keeps the previous config.
//
// Registry holds the current device set behind a RWMutex so the poll driver
// always sees a consistent snapshot while a reload swaps it.
package config
