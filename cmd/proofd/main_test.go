package main

import (
	"testing"
	"time"
)

func TestSweepLoop_runsAndStopsOnShutdown(t *testing.T) {
	ticks := make(chan struct{}, 64)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		sweepLoop(5*time.Millisecond, stop, func() {
			select {
			case ticks <- struct{}{}:
			default:
			}
		})
		close(done)
	}()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never ran")
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep loop did not stop after shutdown")
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"http://localhost:3000", " * "}) {
		t.Error("wildcard origin not detected")
	}
	if containsWildcard([]string{"http://localhost:3000"}) {
		t.Error("false positive on explicit origins")
	}
}
