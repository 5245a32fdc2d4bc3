package breaker

import (
	"errors"
	"testing"
	"time"
)

func testRegistry() *Registry {
	return NewRegistry(5, 300*time.Second, nil)
}

func TestOpensAtThreshold(t *testing.T) {
	r := testRegistry()
	b := r.Get("claude")

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if err := b.Allow(); err != nil {
			t.Fatalf("failure %d should not open circuit: %v", i+1, err)
		}
	}
	b.RecordFailure()

	err := b.Allow()
	if err == nil {
		t.Fatal("expected circuit open after 5 consecutive failures")
	}
	var oe *ErrOpen
	if !errors.As(err, &oe) {
		t.Fatalf("wrong error type: %T", err)
	}
	if oe.Engine != "claude" {
		t.Errorf("engine = %s", oe.Engine)
	}
	if oe.RetryAfter <= 0 || oe.RetryAfter > 300*time.Second {
		t.Errorf("retry after = %v", oe.RetryAfter)
	}
}

func TestSuccessResetsCount(t *testing.T) {
	r := testRegistry()
	b := r.Get("codex")
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	if b.Snapshot().Failures != 0 {
		t.Errorf("failures = %d, want 0", b.Snapshot().Failures)
	}
	b.RecordFailure()
	if err := b.Allow(); err != nil {
		t.Errorf("single failure after reset should not open: %v", err)
	}
}

func TestRecoveryToHalfOpen(t *testing.T) {
	r := testRegistry()
	b := r.Get("gemini")
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected open")
	}

	// Before the recovery timeout the breaker stays open.
	now = now.Add(299 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("expected still open before recovery timeout")
	}

	// After the timeout the next query flips it to half-open and is admitted.
	now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open admission: %v", err)
	}
	if got := b.Snapshot().State; got != StateHalfOpen {
		t.Errorf("state = %s, want half-open", got)
	}
}

func TestHalfOpenOutcomes(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b := testRegistry().Get("e")
		now := time.Now()
		b.now = func() time.Time { return now }
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}
		now = now.Add(301 * time.Second)
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.RecordSuccess()
		if got := b.Snapshot(); got.State != StateClosed || got.Failures != 0 {
			t.Errorf("snapshot = %+v", got)
		}
	})

	t.Run("failure reopens and restamps", func(t *testing.T) {
		b := testRegistry().Get("e")
		now := time.Now()
		b.now = func() time.Time { return now }
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}
		opened := b.Snapshot().OpenedAt
		now = now.Add(301 * time.Second)
		if err := b.Allow(); err != nil {
			t.Fatal(err)
		}
		b.RecordFailure()
		got := b.Snapshot()
		if got.State != StateOpen {
			t.Errorf("state = %s, want open", got.State)
		}
		if !got.OpenedAt.After(opened) {
			t.Error("openedAt not re-stamped")
		}
	})
}

func TestForceOpen(t *testing.T) {
	r := testRegistry()
	r.ForceOpen("claude", 5)
	if err := r.Get("claude").Allow(); err == nil {
		t.Error("expected open after ForceOpen")
	}
}

func TestRegistryIsolation(t *testing.T) {
	r := testRegistry()
	r.Get("a").RecordFailure()
	if r.Get("b").Snapshot().Failures != 0 {
		t.Error("breakers must be independent per engine")
	}
	r.ResetAll()
	if len(r.Snapshots()) != 0 {
		t.Error("ResetAll did not clear breakers")
	}
}

func TestDefaultSingleton(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	if Default() != Default() {
		t.Error("Default must return the same registry")
	}
}
