// Package mesh implements the Trigger Mesh: an in-process typed pub/sub
// bus with dotted-namespace wildcard matching, per-subscriber ordering,
// and audit-synchronized publish (spec §4.B).
//
// Every publish is appended to the audit log before any handler runs; if
// the append fails, publish fails and no handler observes the event. Each
// subscriber runs its own goroutine reading a bounded channel; Unsubscribe
// and Close stop it and let in-flight handlers finish.
package mesh

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/grace-core/pkg/audit"
)

// Handler processes a delivered event. Returning an error only affects
// logging; the mesh does not retry handler failures (retry is a concern
// of the healing loop, not the bus).
type Handler func(ctx context.Context, e audit.Event) error

// OverflowPolicy controls what happens when a subscriber's queue is full.
type OverflowPolicy string

const (
	// DropOldest discards the head of the queue to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest discards the event that triggered the overflow.
	DropNewest OverflowPolicy = "drop_newest"
	// BlockPublisher makes Publish wait until the subscriber has room.
	BlockPublisher OverflowPolicy = "block_publisher"
	// SpillToAuditLog still appends the event (Publish already guarantees
	// that), but skips delivery to this subscriber and logs a warning
	// through the mesh logger; no extra audit event is appended.
	SpillToAuditLog OverflowPolicy = "spill_to_audit_log"
)

// SubscribeOptions configures one subscription's backpressure behavior.
type SubscribeOptions struct {
	// QueueSize bounds the subscriber's pending-event channel. Defaults
	// to 64 when zero.
	QueueSize int
	// Overflow is applied when the queue is full at publish time.
	// Defaults to DropOldest.
	Overflow OverflowPolicy
}

// DispatchResult reports what happened to a single Publish call.
type DispatchResult struct {
	Sequence        uint64
	MatchedHandlers int
	Dropped         []string // subscription IDs whose queue overflowed and were dropped
}

// Store is the subset of audit.Store the mesh needs: append events before
// dispatch. Kept as an interface so tests can fake it.
type Store interface {
	Append(e audit.Event) (audit.AuditEntry, error)
}

// subscription is a live registration: a compiled pattern, a handler, and
// a dedicated worker goroutine draining its own queue.
type subscription struct {
	id      string
	pattern []string // dotted segments; "*" matches any single segment, and a trailing "*" (e.g. "error.*") matches any suffix
	handler Handler
	opts    SubscribeOptions

	queue  chan audit.Event
	source string // not set or read anywhere

	cancel context.CancelFunc
	done   chan struct{}
}

// Subscription is the handle returned by Subscribe; pass it to Unsubscribe.
type Subscription struct {
	id string
}

// Mesh is the Trigger Mesh itself.
type Mesh struct {
	log   *slog.Logger
	store Store

	mu   sync.RWMutex
	subs map[string]*subscription

	closed bool
}

// New creates a Mesh backed by store for durable, pre-dispatch appends.
func New(store Store, log *slog.Logger) *Mesh {
	if log == nil {
		log = slog.Default()
	}
	return &Mesh{
		log:   log.With("component", "mesh"),
		store: store,
		subs:  make(map[string]*subscription),
	}
}

// Subscribe registers handler for events whose type matches pattern (a
// dotted namespace; "*" alone matches everything, and any trailing
// segment of "*" matches the rest of the type, e.g. "error.*" matches
// "error.detected" and "error.detected.retry").
func (m *Mesh) Subscribe(ctx context.Context, pattern string, handler Handler, opts SubscribeOptions) Subscription {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Overflow == "" {
		opts.Overflow = DropOldest
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: strings.Split(pattern, "."),
		handler: handler,
		opts:    opts,
		queue:   make(chan audit.Event, opts.QueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	go m.runSubscriber(subCtx, sub)

	return Subscription{id: sub.id}
}

// runSubscriber is the dedicated per-subscription worker: it drains queue
// in FIFO order (guaranteeing per-source-as-published ordering since
// Publish only ever appends to the tail) until its context is cancelled,
// letting any in-flight handler invocation finish first.
func (m *Mesh) runSubscriber(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	for {
		select {
		case e, ok := <-sub.queue:
			if !ok {
				return
			}
			if err := sub.handler(ctx, e); err != nil {
				m.log.Warn("subscriber handler returned error",
					"subscription_id", sub.id, "event_type", e.Type, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Unsubscribe cancels the subscription. In-flight handler invocations are
// allowed to complete; no further events are delivered.
func (m *Mesh) Unsubscribe(sub Subscription) {
	m.mu.Lock()
	s, ok := m.subs[sub.id]
	if ok {
		delete(m.subs, sub.id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	<-s.done
}

// Publish appends e to the audit log, then fans it out to every matching
// subscriber concurrently (one errgroup goroutine per match, no limit) per each subscriber's
// overflow policy. Publish returns only after the audit append succeeds;
// if it fails, no handler ever observes the event.
func (m *Mesh) Publish(ctx context.Context, e audit.Event) (DispatchResult, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return DispatchResult{}, ErrMeshClosed
	}
	m.mu.RUnlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	entry, err := m.store.Append(e)
	if err != nil {
		return DispatchResult{}, err
	}

	m.mu.RLock()
	matched := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		if matches(sub.pattern, e.Type) {
			matched = append(matched, sub)
		}
	}
	m.mu.RUnlock()

	result := DispatchResult{Sequence: entry.Sequence}
	g, gctx := errgroup.WithContext(ctx)
	var dropMu sync.Mutex
	for _, sub := range matched {
		sub := sub
		g.Go(func() error {
			dropped := m.deliver(gctx, sub, e)
			if dropped {
				dropMu.Lock()
				result.Dropped = append(result.Dropped, sub.id)
				dropMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // deliver never returns an error; errgroup only waits for every enqueue here
	result.MatchedHandlers = len(matched)
	return result, nil
}

// deliver enqueues e onto sub's queue according to its overflow policy,
// reporting whether the event was dropped.
func (m *Mesh) deliver(ctx context.Context, sub *subscription, e audit.Event) (dropped bool) {
	switch sub.opts.Overflow {
	case BlockPublisher:
		select {
		case sub.queue <- e:
			return false
		case <-ctx.Done():
			return true
		}
	case DropNewest:
		select {
		case sub.queue <- e:
			return false
		default:
			return true
		}
	case SpillToAuditLog:
		select {
		case sub.queue <- e:
			return false
		default:
			m.log.Warn("subscriber queue full, event spilled (already durably recorded in the audit log)",
				"subscription_id", sub.id, "event_type", e.Type)
			return true
		}
	case DropOldest:
		fallthrough
	default:
		for {
			select {
			case sub.queue <- e:
				return false
			default:
				select {
				case <-sub.queue:
					// Dropped the oldest pending event; loop to retry the send.
				default:
					return true
				}
			}
		}
	}
}

// Matches reports whether eventType satisfies the dotted-namespace
// wildcard pattern string (e.g. "error.*"), exported so other components
// (the event stream's catchup query) can apply the same matching rule
// the live Subscribe path uses without duplicating it.
func Matches(pattern, eventType string) bool {
	return matches(strings.Split(pattern, "."), eventType)
}

// matches implements dotted-namespace wildcard matching: "*" matches a
// single segment anywhere, and a trailing "*" segment matches the
// remainder of the type regardless of how many segments follow.
func matches(pattern []string, eventType string) bool {
	segments := strings.Split(eventType, ".")
	for i, p := range pattern {
		if p == "*" && i == len(pattern)-1 {
			return true
		}
		if i >= len(segments) {
			return false
		}
		if p != "*" && p != segments[i] {
			return false
		}
	}
	return len(pattern) == len(segments)
}

// Close cancels every subscription and waits for their workers to drain.
func (m *Mesh) Close() {
	m.mu.Lock()
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, s := range subs {
		s.cancel()
		<-s.done
	}
}
