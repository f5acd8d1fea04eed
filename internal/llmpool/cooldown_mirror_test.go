package llmpool

import (
	"context"
	"testing"
	"time"
)

func TestCooldownMirror_NilClientIsNoOp(t *testing.T) {
	var m *CooldownMirror

	m.MarkCoolingDown(context.Background(), "a", time.Now().Add(time.Minute))
	m.MarkDisabled(context.Background(), "a")
	m.MarkAvailable(context.Background(), "a")

	if _, ok := m.CoolingDownUntil(context.Background(), "a"); ok {
		t.Fatalf("expected nil mirror to report no cooldown")
	}
}

func TestCooldownMirror_UnconfiguredIsNoOp(t *testing.T) {
	m := NewCooldownMirror(nil)

	m.MarkCoolingDown(context.Background(), "a", time.Now().Add(time.Minute))
	if _, ok := m.CoolingDownUntil(context.Background(), "a"); ok {
		t.Fatalf("expected unconfigured mirror to report no cooldown")
	}
}

func TestPool_Acquire_ConsultsMirrorForCrossInstanceCooldown(t *testing.T) {
	mirror := NewCooldownMirror(nil)
	p, err := New(Config{
		Accounts: []Account{{ID: "a"}, {ID: "b"}},
		Mirror:   mirror,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// With no Redis backing the mirror, CoolingDownUntil always misses, so
	// both accounts stay acquirable; this exercises the mirror-consulting
	// code path without requiring a live Redis server.
	acc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if acc.ID != "a" && acc.ID != "b" {
		t.Fatalf("unexpected account %s", acc.ID)
	}
}

func TestPool_RecordResult_QuotaExceededMirrorsCooldown(t *testing.T) {
	p := newTestPool(t, Account{ID: "a"})
	p.mirror = NewCooldownMirror(nil)

	// With no Redis backing the mirror, MarkCoolingDown is a no-op; this
	// exercises the mirror-publishing code path and checks only the local
	// cooldown transition.
	p.RecordResult(context.Background(), "a", CallResult{StatusCode: 429, Body: "5-hour limit reached"})

	p.mu.Lock()
	status := p.accounts["a"].Status
	p.mu.Unlock()
	if status != StatusCoolingDown {
		t.Fatalf("expected account cooling down, got %v", status)
	}
}

func TestPool_RecordSuccess_MarksMirrorAvailable(t *testing.T) {
	p := newTestPool(t, Account{ID: "a", LastError: "boom"})
	p.mirror = NewCooldownMirror(nil)

	// With no Redis backing the mirror, MarkAvailable is a no-op; this
	// exercises the mirror-clearing code path and checks only that the
	// local last error is cleared.
	p.RecordSuccess(context.Background(), "a")

	p.mu.Lock()
	lastErr := p.accounts["a"].LastError
	p.mu.Unlock()
	if lastErr != "" {
		t.Fatalf("expected last error cleared, got %q", lastErr)
	}
}
