// Package testutil holds helpers shared by package tests and fuzz targets.
package testutil

import (
	"testing"
	"time"
)

const (
	// MaxFuzzInput keeps fuzz inputs well under the frame cap so a single
	// iteration never allocates a full packet.
	MaxFuzzInput = 1 << 16
	FuzzTimeout  = 100 * time.Millisecond

	pollInterval = 5 * time.Millisecond
)

// Truncate returns at most n leading bytes of b. n <= 0 leaves b alone.
func Truncate(b []byte, n int) []byte {
	if n > 0 && len(b) > n {
		return b[:n]
	}
	return b
}

// Within fails t when fn has not returned after d.
func Within(t testing.TB, d time.Duration, fn func()) {
	t.Helper()
	if d <= 0 {
		d = FuzzTimeout
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		t.Fatalf("still running after %s", d)
	}
}

// Eventually polls cond until it holds or d elapses.
func Eventually(t testing.TB, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after %s: %s", d, msg)
		}
		time.Sleep(pollInterval)
	}
}
