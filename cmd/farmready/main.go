// Command farmready polls device shadows on a fixed cadence, tracks how long
// each device has continuously met its sensor thresholds, and serves the
// resulting readiness over a small diagnostic HTTP API.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
