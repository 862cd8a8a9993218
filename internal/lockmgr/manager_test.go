package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/cortex-mind/cortex/internal/domain"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(Options{
		ReaperInterval:   20 * time.Millisecond,
		DeadlockInterval: 20 * time.Millisecond,
		ReadFairnessN:    5,
	})
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestAcquireCompatibleReadsGrantImmediately(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	r1, err := m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})
	if err != nil || r1.Outcome != domain.AcquireGranted {
		t.Fatalf("expected grant, got %+v err=%v", r1, err)
	}
	r2, err := m.Acquire(ctx, "s2", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})
	if err != nil || r2.Outcome != domain.AcquireGranted {
		t.Fatalf("expected second read grant, got %+v err=%v", r2, err)
	}
}

func TestAcquireIncompatibleBlocksUntilRelease(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	r1, _ := m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 5})
	if r1.Outcome != domain.AcquireGranted {
		t.Fatalf("expected first writer granted, got %+v", r1)
	}

	done := make(chan domain.AcquireResult, 1)
	go func() {
		r, _ := m.Acquire(ctx, "s2", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 5})
		done <- r
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case r := <-done:
		t.Fatalf("expected s2 to still be waiting, got %+v", r)
	default:
	}

	if err := m.Release(r1.LockID); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case r := <-done:
		if r.Outcome != domain.AcquireGranted {
			t.Fatalf("expected s2 granted after release, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for s2 to be granted")
	}
}

func TestAcquireTimeout(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	_, _ = m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 5})

	start := time.Now()
	r2, err := m.Acquire(ctx, "s2", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 1})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r2.Outcome != domain.AcquireTimeout {
		t.Fatalf("expected AcquireTimeout, got %+v", r2)
	}
	if elapsed < time.Second {
		t.Fatalf("expected acquire to wait out its 1s timeout, only waited %v", elapsed)
	}
}

func TestWriteDoesNotStarveBehindReads(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	r1, _ := m.Acquire(ctx, "reader0", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})

	writerDone := make(chan domain.AcquireResult, 1)
	go func() {
		r, _ := m.Acquire(ctx, "writer", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 5})
		writerDone <- r
	}()
	time.Sleep(10 * time.Millisecond)

	readerDone := make(chan domain.AcquireResult, 1)
	go func() {
		r, _ := m.Acquire(ctx, "reader1", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})
		readerDone <- r
	}()
	time.Sleep(10 * time.Millisecond)

	select {
	case r := <-readerDone:
		t.Fatalf("expected reader1 to queue behind the waiting writer, got %+v", r)
	default:
	}

	if err := m.Release(r1.LockID); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case r := <-writerDone:
		if r.Outcome != domain.AcquireGranted {
			t.Fatalf("expected writer granted, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for writer grant")
	}
}

func TestReaperReleasesExpiredLocks(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	r, _ := m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 1})

	m.mu.Lock()
	m.locks[r.LockID].ExpiresAt = m.nowFn() - 1
	m.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !m.IsLocked("e1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected reaper to release the expired lock")
}

func TestReleaseSessionReleasesAllLocks(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})
	m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e2", LockType: domain.LockRead, TimeoutSeconds: 5})

	m.ReleaseSession("s1")

	if m.IsLocked("e1") || m.IsLocked("e2") {
		t.Fatal("expected ReleaseSession to release every lock held by the session")
	}
	if len(m.ListSessionLocks("s1")) != 0 {
		t.Fatal("expected no remaining session locks")
	}
}

func TestDeadlockDetectionPicksVictim(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	m.Acquire(ctx, "sA", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 10})
	m.Acquire(ctx, "sB", domain.LockRequest{EntityID: "e2", LockType: domain.LockWrite, TimeoutSeconds: 10})

	aWaitsOnE2 := make(chan domain.AcquireResult, 1)
	go func() {
		r, _ := m.Acquire(ctx, "sA", domain.LockRequest{EntityID: "e2", LockType: domain.LockWrite, TimeoutSeconds: 10})
		aWaitsOnE2 <- r
	}()
	time.Sleep(10 * time.Millisecond)

	bWaitsOnE1 := make(chan domain.AcquireResult, 1)
	go func() {
		r, _ := m.Acquire(ctx, "sB", domain.LockRequest{EntityID: "e1", LockType: domain.LockWrite, TimeoutSeconds: 10})
		bWaitsOnE1 <- r
	}()

	var gotDeadlock bool
	select {
	case r := <-aWaitsOnE2:
		gotDeadlock = r.Outcome == domain.AcquireDeadlock
	case r := <-bWaitsOnE1:
		gotDeadlock = r.Outcome == domain.AcquireDeadlock
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deadlock resolution")
	}
	if !gotDeadlock {
		t.Fatal("expected one waiter to fail with Deadlock")
	}
}

func TestListEntityLocksSnapshot(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	m.Acquire(ctx, "s1", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})
	m.Acquire(ctx, "s2", domain.LockRequest{EntityID: "e1", LockType: domain.LockRead, TimeoutSeconds: 5})

	locks := m.ListEntityLocks("e1")
	if len(locks) != 2 {
		t.Fatalf("expected 2 locks on e1, got %d", len(locks))
	}
}
