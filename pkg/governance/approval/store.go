package approval

import (
	"container/heap"
	"sync"
	"time"
)

// Store is the Governance Engine's exclusive owner of Approval state
// (spec §3, Ownership: "C exclusively owns the Approval store"). It is a
// FIFO-by-priority queue: among pending approvals, higher Priority is
// served first; ties break by request order.
//
// All mutation happens under a single mutex (spec §5: "the Governance
// Engine's Approval store is mutated only under a serialized critical
// section"). No lock is ever held across an I/O wait — callers append to
// the audit log before or after calling Store methods, never while
// holding the Store's lock, preserving the Audit < Governance < Learning
// lock-ordering rule.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*Approval
	pending *priorityQueue
	seq     int
}

// NewStore returns an empty Store.
func NewStore() *Store {
	pq := &priorityQueue{}
	heap.Init(pq)
	return &Store{byID: make(map[string]*Approval), pending: pq}
}

// Enqueue records a new pending Approval.
func (s *Store) Enqueue(a *Approval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	item := &queueItem{approval: a, priority: a.Priority, order: s.seq}
	s.byID[a.ID] = a
	heap.Push(s.pending, item)
}

// Get returns the Approval for id.
func (s *Store) Get(id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// Transition moves id from pending to a terminal state. It enforces the
// monotone state machine and is the only way State is ever mutated.
func (s *Store) Transition(id string, to State, approver, rationale string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !transitionAllowed(a.State, to) {
		return nil, ErrInvalidTransition
	}
	a.State = to
	a.Approver = approver
	a.DecisionRationale = rationale
	cp := *a
	return &cp, nil
}

// Next pops the highest-priority still-pending approval without removing
// it from the by-id index (it stays there, transitioned in place by a
// later Transition call). Returns nil if nothing is pending.
func (s *Store) Next() *Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending.Len() > 0 {
		item := heap.Pop(s.pending).(*queueItem)
		if item.approval.State == StatePending {
			// Re-push: Next peeks, it does not dequeue permanently —
			// callers decide the action and call Transition explicitly.
			heap.Push(s.pending, item)
			cp := *item.approval
			return &cp
		}
		// Already transitioned since being queued (e.g. expired); drop it
		// from the pending heap permanently.
	}
	return nil
}

// ExpireDue transitions every pending approval whose deadline has passed
// as of now to StateExpired, returning the ids that changed. Called by a
// periodic task per spec §4.C ("Expiry is evaluated by a periodic task").
func (s *Store) ExpireDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for _, a := range s.byID {
		if a.IsExpired(now) {
			a.State = StateExpired
			a.DecisionRationale = "expiry deadline reached"
			expired = append(expired, a.ID)
		}
	}
	return expired
}

// List returns every Approval, for replay/debug surfaces.
func (s *Store) List() []*Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Approval, 0, len(s.byID))
	for _, a := range s.byID {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// queueItem and priorityQueue implement container/heap.Interface. A
// priority queue is exactly what container/heap exists for — no library
// in the retrieval pack offers one, so this is the justified stdlib
// choice (see DESIGN.md).
type queueItem struct {
	approval *Approval
	priority float64
	order    int
	index    int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority
	}
	return pq[i].order < pq[j].order
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
