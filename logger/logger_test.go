package logger

import (
	"io"
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestFetchCountersIncrement(t *testing.T) {
	before := atomic.LoadInt64(&fetches15Min)
	IncrementFetch15Min(1024)
	after := atomic.LoadInt64(&fetches15Min)
	if after != before+1 {
		t.Fatalf("expected fetch counter to increment, before=%d after=%d", before, after)
	}

	v, ok := flows.Load("fetch_15min")
	if !ok {
		t.Fatalf("expected fetch_15min flow to be recorded")
	}
	if fs := v.(*flowStat); atomic.LoadInt64(&fs.bytes) < 1024 {
		t.Fatalf("expected flow bytes >= 1024, got %d", atomic.LoadInt64(&fs.bytes))
	}
}

func TestRecordWarnByCadence(t *testing.T) {
	before := atomic.LoadInt64(&warnsQuarter)
	log := Logger()
	log.SetOutput(io.Discard)
	log.WithComponent("scheduler.quarter_hour").Warn("boundary missed")
	if atomic.LoadInt64(&warnsQuarter) != before+1 {
		t.Fatalf("expected quarter warn counter to increment")
	}
}
