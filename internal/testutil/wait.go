package testutil

import (
	"testing"
	"time"
)

// WaitTimeout bounds every wait helper.
const WaitTimeout = 5 * time.Second

// Eventually polls cond until it holds or WaitTimeout passes.
func Eventually(tb testing.TB, cond func() bool, msg string) {
	tb.Helper()
	deadline := time.Now().Add(WaitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("condition not met: %s", msg)
}

// Receive waits for one value on ch.
func Receive[T any](tb testing.TB, ch <-chan T, msg string) T {
	tb.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(WaitTimeout):
		tb.Fatalf("timed out: %s", msg)
	}
	var zero T
	return zero
}
