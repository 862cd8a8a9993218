// Package lockmgr implements the entity lock manager: compatibility-based
// granting, FIFO waiters with write-starvation protection, a wait-for
// graph with periodic deadlock detection, and a reaper for expired locks.
package lockmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cortex-mind/cortex/internal/cortexerr"
	"github.com/cortex-mind/cortex/internal/domain"
)

// waiter is one pending Acquire call blocked on entity.
type waiter struct {
	sessionID domain.SessionID
	request   domain.LockRequest
	grant     chan domain.AcquireResult
	enqueued  int64
}

// Manager holds all state for the lock manager in memory; locks do not
// survive a restart, matching the teacher's in-process agent registry
// rather than the durable stores.
type Manager struct {
	mu sync.Mutex

	locks   map[domain.LockID]*domain.Lock
	byEntity map[string][]*domain.LockID
	waiters map[string][]*waiter // entity_id -> FIFO queue

	// readGrantsSinceWrite counts the Read grants made on an entity since
	// its last non-Read grant, to enforce the N=5 anti-starvation rule.
	readGrantsSinceWrite map[string]int

	reaperInterval    time.Duration
	deadlockInterval  time.Duration
	readFairnessN     int

	// deadlockLimiter caps how often an Acquire call that has to wait may
	// trigger an opportunistic out-of-band deadlock check, so a burst of
	// concurrent waiters under contention doesn't turn every enqueue into
	// an O(V+E) graph walk. deadlockLoop's ticker is the guaranteed
	// fallback regardless of this limiter's state.
	deadlockLimiter *rate.Limiter

	stopCh chan struct{}
	wg     sync.WaitGroup
	nowFn  func() int64
}

// Options configures a Manager, mirroring config.LockConfig.
type Options struct {
	ReaperInterval   time.Duration
	DeadlockInterval time.Duration
	ReadFairnessN    int
}

// New returns a Manager with background reaper and deadlock-detector
// loops not yet started; call Start to launch them.
func New(opts Options) *Manager {
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = time.Second
	}
	if opts.DeadlockInterval <= 0 {
		opts.DeadlockInterval = 100 * time.Millisecond
	}
	if opts.ReadFairnessN <= 0 {
		opts.ReadFairnessN = 5
	}
	return &Manager{
		locks:                make(map[domain.LockID]*domain.Lock),
		byEntity:             make(map[string][]*domain.LockID),
		waiters:              make(map[string][]*waiter),
		readGrantsSinceWrite: make(map[string]int),
		reaperInterval:       opts.ReaperInterval,
		deadlockInterval:     opts.DeadlockInterval,
		readFairnessN:        opts.ReadFairnessN,
		deadlockLimiter:      rate.NewLimiter(rate.Every(opts.DeadlockInterval), 1),
		stopCh:               make(chan struct{}),
		nowFn:                func() int64 { return time.Now().UnixMilli() },
	}
}

// Start launches the reaper and deadlock-detector background loops.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.reaperLoop()
	go m.deadlockLoop()
}

// Stop halts the background loops and waits for them to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) reaperLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

// maybeDetectDeadlock runs one detection pass immediately if the rate
// limiter has a token available, so a new waiter can surface a cycle
// before deadlockLoop's next tick.
func (m *Manager) maybeDetectDeadlock() {
	if m.deadlockLimiter.Allow() {
		m.detectAndResolveDeadlock()
	}
}

func (m *Manager) deadlockLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.deadlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.detectAndResolveDeadlock()
		}
	}
}

func (m *Manager) heldLocked(entityID string) []*domain.Lock {
	ids := m.byEntity[entityID]
	out := make([]*domain.Lock, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.locks[*id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func compatibleWithAll(lt domain.LockType, held []*domain.Lock) bool {
	for _, h := range held {
		if !domain.Compatible(lt, h.LockType) {
			return false
		}
	}
	return true
}

// Acquire grants lock immediately if compatible with everything currently
// held on the entity; otherwise it blocks on ctx or the request timeout
// until granted, timed out, or chosen as a deadlock victim.
func (m *Manager) Acquire(ctx context.Context, sessionID domain.SessionID, req domain.LockRequest) (domain.AcquireResult, error) {
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	m.mu.Lock()
	held := m.heldLocked(req.EntityID)
	if compatibleWithAll(req.LockType, held) && len(m.waiters[req.EntityID]) == 0 {
		result := m.grantLocked(sessionID, req)
		m.mu.Unlock()
		return result, nil
	}

	w := &waiter{
		sessionID: sessionID,
		request:   req,
		grant:     make(chan domain.AcquireResult, 1),
		enqueued:  m.nowFn(),
	}
	m.waiters[req.EntityID] = append(m.waiters[req.EntityID], w)
	m.mu.Unlock()

	m.maybeDetectDeadlock()

	select {
	case result := <-w.grant:
		return result, nil
	case <-time.After(timeout):
		m.removeWaiter(req.EntityID, w)
		return domain.AcquireResult{Outcome: domain.AcquireTimeout}, nil
	case <-ctx.Done():
		m.removeWaiter(req.EntityID, w)
		return domain.AcquireResult{}, cortexerr.Cancelled("acquire cancelled: %v", ctx.Err())
	}
}

// grantLocked creates and records a new lock for req; caller holds m.mu.
func (m *Manager) grantLocked(sessionID domain.SessionID, req domain.LockRequest) domain.AcquireResult {
	now := m.nowFn()
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 300
	}
	id := domain.LockID(uuid.New().String())
	lock := &domain.Lock{
		LockID:        id,
		EntityID:      req.EntityID,
		EntityType:    req.EntityType,
		LockType:      req.LockType,
		HolderSession: sessionID,
		Preemptible:   req.Preemptible,
		AcquiredAt:    now,
		ExpiresAt:     now + int64(timeout)*1000,
	}
	m.locks[id] = lock
	m.byEntity[req.EntityID] = append(m.byEntity[req.EntityID], &id)

	if req.LockType == domain.LockRead {
		m.readGrantsSinceWrite[req.EntityID]++
	} else {
		m.readGrantsSinceWrite[req.EntityID] = 0
	}

	return domain.AcquireResult{LockID: id, Outcome: domain.AcquireGranted, ExpiresAt: lock.ExpiresAt}
}

func (m *Manager) removeWaiter(entityID string, target *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.waiters[entityID]
	for i, w := range q {
		if w == target {
			m.waiters[entityID] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// Release removes lockID and wakes the first grantable waiter per the
// FIFO-with-write-fairness policy.
func (m *Manager) Release(lockID domain.LockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(lockID)
}

func (m *Manager) releaseLocked(lockID domain.LockID) error {
	lock, ok := m.locks[lockID]
	if !ok {
		return cortexerr.NotFound("lock %s not found", lockID)
	}
	delete(m.locks, lockID)
	ids := m.byEntity[lock.EntityID]
	for i, id := range ids {
		if *id == lockID {
			m.byEntity[lock.EntityID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	m.wakeWaitersLocked(lock.EntityID)
	return nil
}

// wakeWaitersLocked grants as many queued waiters as compatibility and the
// write-fairness rule allow, in FIFO order. Once readFairnessN Reads have
// been granted since the last non-Read grant, a queued Write waiter blocks
// further Read grants and is itself served ahead of the Reads queued in
// front of it as soon as it is compatible with what is held.
func (m *Manager) wakeWaitersLocked(entityID string) {
	for {
		q := m.waiters[entityID]
		if len(q) == 0 {
			return
		}

		head := q[0]
		held := m.heldLocked(entityID)

		blockedByFairness := head.request.LockType == domain.LockRead &&
			hasQueuedWrite(q) &&
			m.readGrantsSinceWrite[entityID] >= m.readFairnessN

		if blockedByFairness {
			i := 0
			for q[i].request.LockType != domain.LockWrite {
				i++
			}
			w := q[i]
			if !compatibleWithAll(w.request.LockType, held) {
				return
			}
			m.waiters[entityID] = append(q[:i:i], q[i+1:]...)
			result := m.grantLocked(w.sessionID, w.request)
			result.WaitedMs = m.nowFn() - w.enqueued
			w.grant <- result
			continue
		}
		if !compatibleWithAll(head.request.LockType, held) {
			return
		}

		m.waiters[entityID] = q[1:]
		result := m.grantLocked(head.sessionID, head.request)
		result.WaitedMs = m.nowFn() - head.enqueued
		head.grant <- result
	}
}

func hasQueuedWrite(q []*waiter) bool {
	for _, w := range q {
		if w.request.LockType == domain.LockWrite {
			return true
		}
	}
	return false
}

// reapExpired releases every lock whose expiry has passed.
func (m *Manager) reapExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	var expired []domain.LockID
	for id, l := range m.locks {
		if l.ExpiresAt <= now {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.releaseLocked(id)
	}
}

// ReleaseSession releases every lock held by sessionID, per spec's
// terminal-transition invariant.
func (m *Manager) ReleaseSession(sessionID domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var held []domain.LockID
	for id, l := range m.locks {
		if l.HolderSession == sessionID {
			held = append(held, id)
		}
	}
	for _, id := range held {
		m.releaseLocked(id)
	}
}

// ListSessionLocks returns a consistent snapshot of locks held by
// sessionID.
func (m *Manager) ListSessionLocks(sessionID domain.SessionID) []domain.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Lock
	for _, l := range m.locks {
		if l.HolderSession == sessionID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt < out[j].AcquiredAt })
	return out
}

// ListEntityLocks returns a consistent snapshot of locks held on entityID.
func (m *Manager) ListEntityLocks(entityID string) []domain.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := m.heldLocked(entityID)
	out := make([]domain.Lock, len(held))
	for i, l := range held {
		out[i] = *l
	}
	return out
}

// IsLocked reports whether entityID currently has any held lock.
func (m *Manager) IsLocked(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heldLocked(entityID)) > 0
}
