package lockmgr

import (
	"sort"

	"github.com/cortex-mind/cortex/internal/domain"
)

// buildWaitForGraphLocked returns, for each waiting session, the set of
// sessions it is blocked behind (sessions currently holding incompatible
// locks on the entity it wants). Caller holds m.mu.
func (m *Manager) buildWaitForGraphLocked() map[domain.SessionID]map[domain.SessionID]bool {
	graph := make(map[domain.SessionID]map[domain.SessionID]bool)
	for entityID, q := range m.waiters {
		held := m.heldLocked(entityID)
		for _, w := range q {
			for _, h := range held {
				if h.HolderSession == w.sessionID {
					continue
				}
				if domain.Compatible(w.request.LockType, h.LockType) {
					continue
				}
				if graph[w.sessionID] == nil {
					graph[w.sessionID] = make(map[domain.SessionID]bool)
				}
				graph[w.sessionID][h.HolderSession] = true
			}
		}
	}
	return graph
}

// findCycle performs a DFS over graph and returns the first cycle found,
// or nil if the graph is acyclic.
func findCycle(graph map[domain.SessionID]map[domain.SessionID]bool) []domain.SessionID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[domain.SessionID]int)
	var stack []domain.SessionID

	nodes := make([]domain.SessionID, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var visit func(domain.SessionID) []domain.SessionID
	visit = func(n domain.SessionID) []domain.SessionID {
		color[n] = gray
		stack = append(stack, n)

		neighbors := make([]domain.SessionID, 0, len(graph[n]))
		for nb := range graph[n] {
			neighbors = append(neighbors, nb)
		}
		sort.Strings(neighbors)

		for _, nb := range neighbors {
			switch color[nb] {
			case white:
				if cyc := visit(nb); cyc != nil {
					return cyc
				}
			case gray:
				for i, s := range stack {
					if s == nb {
						cycle := append([]domain.SessionID{}, stack[i:]...)
						return cycle
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[n] = black
		return nil
	}

	for _, n := range nodes {
		if color[n] == white {
			if cyc := visit(n); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// detectAndResolveDeadlock runs one cycle-check pass. On a detected cycle
// it picks the session with the youngest acquisition time among the
// cycle's members as victim (lex order on session_id as tiebreak), fails
// its pending request with Deadlock, and releases its preemptible held
// locks.
func (m *Manager) detectAndResolveDeadlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph := m.buildWaitForGraphLocked()
	cycle := findCycle(graph)
	if cycle == nil {
		return
	}

	victim := m.pickVictimLocked(cycle)
	m.failWaiterLocked(victim)
	m.releasePreemptibleLocked(victim)
}

// pickVictimLocked chooses the cycle member with the youngest (most
// recent) acquisition time among its held locks, lex order on session_id
// as a deterministic tiebreak.
func (m *Manager) pickVictimLocked(cycle []domain.SessionID) domain.SessionID {
	var victim domain.SessionID
	var youngest int64 = -1
	for _, sid := range cycle {
		var sessionYoungest int64
		for _, l := range m.locks {
			if l.HolderSession == sid && l.AcquiredAt > sessionYoungest {
				sessionYoungest = l.AcquiredAt
			}
		}
		if sessionYoungest > youngest || (sessionYoungest == youngest && sid < victim) {
			youngest = sessionYoungest
			victim = sid
		}
	}
	return victim
}

// failWaiterLocked finds victim's pending waiter entry (if any) and fails
// it with Deadlock.
func (m *Manager) failWaiterLocked(victim domain.SessionID) {
	for entityID, q := range m.waiters {
		for i, w := range q {
			if w.sessionID != victim {
				continue
			}
			m.waiters[entityID] = append(q[:i:i], q[i+1:]...)
			w.grant <- domain.AcquireResult{Outcome: domain.AcquireDeadlock}
			return
		}
	}
}

// releasePreemptibleLocked releases every preemptible lock held by
// victim, to break the wait-for cycle.
func (m *Manager) releasePreemptibleLocked(victim domain.SessionID) {
	var toRelease []domain.LockID
	for id, l := range m.locks {
		if l.HolderSession == victim && l.Preemptible {
			toRelease = append(toRelease, id)
		}
	}
	for _, id := range toRelease {
		m.releaseLocked(id)
	}
}
