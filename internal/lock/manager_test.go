// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package lock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	m := NewManager(30 * time.Second)

	lk, err := m.Acquire("1.2.3.4", "asset-42")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lk.ClientKey != "1.2.3.4" || lk.AssetID != "asset-42" {
		t.Errorf("unexpected lock fields: %+v", lk)
	}
	if !lk.ExpiresAt.After(lk.AcquiredAt) {
		t.Error("expected ExpiresAt after AcquiredAt")
	}
	if !m.Active("1.2.3.4") {
		t.Error("expected active lock after acquire")
	}

	m.Release(lk)
	if m.Active("1.2.3.4") {
		t.Error("expected no active lock after release")
	}
}

func TestSecondAcquireDenied(t *testing.T) {
	m := NewManager(30 * time.Second)

	if _, err := m.Acquire("1.2.3.4", "asset-42"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err := m.Acquire("1.2.3.4", "asset-43")
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
}

func TestMutualExclusion(t *testing.T) {
	m := NewManager(30 * time.Second)

	const goroutines = 64
	var successes, denials atomic.Int32
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			_, err := m.Acquire("1.2.3.4", "asset-42")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrLockHeld):
				denials.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	start.Done()
	done.Wait()

	if successes.Load() != 1 {
		t.Errorf("expected exactly 1 successful acquire, got %d", successes.Load())
	}
	if denials.Load() != goroutines-1 {
		t.Errorf("expected %d denials, got %d", goroutines-1, denials.Load())
	}
}

func TestIdempotentRelease(t *testing.T) {
	m := NewManager(30 * time.Second)

	lk, err := m.Acquire("1.2.3.4", "asset-42")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	for i := 0; i < 5; i++ {
		m.Release(lk)
	}
	if m.Active("1.2.3.4") {
		t.Error("expected inactive after releases")
	}

	// A nil handle is also a no-op.
	m.Release(nil)

	// The key is immediately reusable.
	if _, err := m.Acquire("1.2.3.4", "asset-42"); err != nil {
		t.Errorf("expected reacquire after release, got %v", err)
	}
}

func TestTTLSelfHeal(t *testing.T) {
	m := NewManager(30 * time.Second)
	base := time.Now()
	m.now = func() time.Time { return base }

	if _, err := m.Acquire("1.2.3.4", "asset-42"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Just before expiry the lock is still live.
	m.now = func() time.Time { return base.Add(30*time.Second - time.Nanosecond) }
	if !m.Active("1.2.3.4") {
		t.Error("expected lock live just before TTL")
	}

	// At and past the deadline the lock reads as absent with no sweep.
	m.now = func() time.Time { return base.Add(30 * time.Second) }
	if m.Active("1.2.3.4") {
		t.Error("expected lock expired at TTL")
	}

	// And a new acquire succeeds over the stale record.
	if _, err := m.Acquire("1.2.3.4", "asset-43"); err != nil {
		t.Errorf("expected acquire over expired lock, got %v", err)
	}
}

func TestStaleReleaseKeepsSuccessor(t *testing.T) {
	m := NewManager(30 * time.Second)
	base := time.Now()
	m.now = func() time.Time { return base }

	first, err := m.Acquire("2001:db8::1", "asset-42")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	// The first lock expires and a new holder takes the key.
	m.now = func() time.Time { return base.Add(31 * time.Second) }
	second, err := m.Acquire("2001:db8::1", "asset-43")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	// Releasing the expired handle must not free the live lock.
	m.Release(first)
	if !m.Active("2001:db8::1") {
		t.Error("expected successor lock to survive stale release")
	}
	if _, err := m.Acquire("2001:db8::1", "asset-44"); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld while successor holds key, got %v", err)
	}

	// The matching handle still releases.
	m.Release(second)
	if m.Active("2001:db8::1") {
		t.Error("expected key free after releasing the live lock")
	}
}

func TestDifferentKeysIndependent(t *testing.T) {
	m := NewManager(30 * time.Second)

	if _, err := m.Acquire("1.2.3.4", "asset-42"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire("5.6.7.8", "asset-42"); err != nil {
		t.Errorf("expected independent key to acquire, got %v", err)
	}
}

func TestRemaining(t *testing.T) {
	m := NewManager(30 * time.Second)
	base := time.Now()
	m.now = func() time.Time { return base }

	if m.Remaining("1.2.3.4") != 0 {
		t.Error("expected zero remaining with no lock")
	}

	if _, err := m.Acquire("1.2.3.4", "asset-42"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	m.now = func() time.Time { return base.Add(10 * time.Second) }
	if got := m.Remaining("1.2.3.4"); got != 20*time.Second {
		t.Errorf("expected 20s remaining, got %v", got)
	}

	m.now = func() time.Time { return base.Add(31 * time.Second) }
	if got := m.Remaining("1.2.3.4"); got != 0 {
		t.Errorf("expected zero remaining after expiry, got %v", got)
	}
}

func TestActiveCountAndSnapshot(t *testing.T) {
	m := NewManager(30 * time.Second)
	base := time.Now()
	m.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("10.0.0.%d", i)
		if _, err := m.Acquire(key, "asset-42"); err != nil {
			t.Fatalf("Acquire %s: %v", key, err)
		}
	}

	if got := m.ActiveCount(); got != 5 {
		t.Errorf("expected 5 active locks, got %d", got)
	}
	if got := len(m.Snapshot()); got != 5 {
		t.Errorf("expected 5 locks in snapshot, got %d", got)
	}

	// Expired locks disappear from both views.
	m.now = func() time.Time { return base.Add(time.Minute) }
	if got := m.ActiveCount(); got != 0 {
		t.Errorf("expected 0 active locks after expiry, got %d", got)
	}
	if got := len(m.Snapshot()); got != 0 {
		t.Errorf("expected empty snapshot after expiry, got %d", got)
	}
}

func TestSweepReclaimsExpired(t *testing.T) {
	m := NewManager(30 * time.Second)
	base := time.Now()
	m.now = func() time.Time { return base }

	for i := 0; i < 8; i++ {
		if _, err := m.Acquire(fmt.Sprintf("10.0.0.%d", i), "asset-42"); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	m.now = func() time.Time { return base.Add(time.Minute) }
	if removed := m.Sweep(); removed != 8 {
		t.Errorf("expected 8 reclaimed, got %d", removed)
	}
	if removed := m.Sweep(); removed != 0 {
		t.Errorf("expected nothing left to reclaim, got %d", removed)
	}
}
