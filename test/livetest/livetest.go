// Package livetest gates integration tests that need live services.
//
// A test that talks to a real generation engine or tracking backend
// calls the matching Skip helper first. The helpers key off
// GOSTUDIO_TEST_* environment variables; when the variable is unset the
// test skips, so plain `go test ./...` never touches the network.
//
// Usage:
//
//	func TestEngineRoundTrip(t *testing.T) {
//	    base := livetest.SkipUnlessEngine(t)
//	    // ... dial the engine at base ...
//	}
package livetest

import (
	"os"
	"testing"
)

// Environment variables that opt tests into live services.
const (
	// EngineURLEnv names a reachable generation engine, e.g.
	// http://localhost:8188.
	EngineURLEnv = "GOSTUDIO_TEST_ENGINE_URL"

	// TrackerURLEnv names a reachable tracking backend, e.g.
	// http://localhost:3000.
	TrackerURLEnv = "GOSTUDIO_TEST_TRACKER_URL"
)

// EngineURL returns the live engine base URL, or "" when unset.
func EngineURL() string {
	return os.Getenv(EngineURLEnv)
}

// TrackerURL returns the live tracking backend base URL, or "" when unset.
func TrackerURL() string {
	return os.Getenv(TrackerURLEnv)
}

// SkipUnlessEngine skips the test unless a live engine is configured and
// returns its base URL.
func SkipUnlessEngine(t *testing.T) string {
	t.Helper()
	url := EngineURL()
	if url == "" {
		t.Skipf("live engine test: set %s to run", EngineURLEnv)
	}
	return url
}

// SkipUnlessTracker skips the test unless a live tracking backend is
// configured and returns its base URL.
func SkipUnlessTracker(t *testing.T) string {
	t.Helper()
	url := TrackerURL()
	if url == "" {
		t.Skipf("live tracker test: set %s to run", TrackerURLEnv)
	}
	return url
}
