// Package notify maintains per-user unread/new counts for the four badge
// surfaces: messages, RFIs, documents, and tenders.
package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Counts is the badge tuple published to consumers. Always replaced as a
// whole; readers never observe a half-updated mix.
type Counts struct {
	Messages  int `json:"messages"`
	RFIs      int `json:"rfis"`
	Documents int `json:"documents"`
	Tenders   int `json:"tenders"`
}

// Count kinds accepted by MarkAsRead.
const (
	KindMessages  = "messages"
	KindRFIs      = "rfis"
	KindDocuments = "documents"
	KindTenders   = "tenders"
)

// CountStore is the slice of the data store the aggregator needs: scope
// resolution plus the four count-only queries.
type CountStore interface {
	ProjectIDsForUser(ctx context.Context, userID string) ([]string, error)
	CountUnreadMessages(ctx context.Context, userID string, projectIDs []string, since time.Time) (int, error)
	CountAssignedRFIs(ctx context.Context, userID string, projectIDs []string) (int, error)
	CountNewDocuments(ctx context.Context, userID string, projectIDs []string, since time.Time) (int, error)
	CountOpenTenders(ctx context.Context, projectIDs []string) (int, error)
}

// ChangeListener is the realtime subscription held open for the lifetime
// of an aggregator.
type ChangeListener interface {
	Open(ctx context.Context) error
	Close() error
}

// Aggregator is the single source of truth for one user's badge counts.
// Built as an explicitly constructed service with a Start/Stop lifecycle
// rather than ambient shared state, so teardown and multi-user operation
// are straightforward.
//
// Nothing here returns an error to consumers: every failure degrades to a
// zero count or a stale-but-consistent tuple.
type Aggregator struct {
	userID string
	store  CountStore
	window time.Duration
	now    func() time.Time

	mu            sync.Mutex
	counts        Counts
	lastPublished uint64
	nextSeq       uint64
	subscribers   map[int]chan Counts
	nextSubID     int

	listener ChangeListener
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

func NewAggregator(userID string, store CountStore, window time.Duration) *Aggregator {
	return &Aggregator{
		userID:      userID,
		store:       store,
		window:      window,
		now:         time.Now,
		subscribers: map[int]chan Counts{},
	}
}

// Start opens the realtime subscription and kicks off the first refresh.
// Counts are all zero until that refresh resolves; a previous user's state
// is never visible because each identity gets a fresh aggregator.
func (a *Aggregator) Start(ctx context.Context, listener ChangeListener) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.listener = listener
	runCtx := a.ctx
	a.mu.Unlock()

	if listener != nil {
		if err := listener.Open(runCtx); err != nil {
			a.mu.Lock()
			a.started = false
			a.listener = nil
			a.mu.Unlock()
			a.cancel()
			return err
		}
	}

	go a.RefreshCounts(runCtx)
	return nil
}

// Stop releases the subscription and drops all consumer channels.
// In-flight refreshes are not interrupted; their results are simply
// discarded once the context is cancelled.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	cancel := a.cancel
	listener := a.listener
	a.listener = nil
	subs := a.subscribers
	a.subscribers = map[int]chan Counts{}
	a.counts = Counts{}
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			log.Printf("notify: close listener for %s: %v", a.userID, err)
		}
	}
	for _, ch := range subs {
		close(ch)
	}
}

// Trigger requests a recount; safe to call from any goroutine. It is the
// hook the realtime listener fires on matching events.
func (a *Aggregator) Trigger() {
	a.mu.Lock()
	ctx := a.ctx
	started := a.started
	a.mu.Unlock()
	if !started {
		return
	}
	go a.RefreshCounts(ctx)
}

// RefreshCounts recomputes the whole tuple: resolve scope, run the four
// counters concurrently, join, publish once. Each call carries a sequence
// number taken at entry; a slower, older refresh that resolves after a
// newer one is discarded at publish time instead of clobbering it.
func (a *Aggregator) RefreshCounts(ctx context.Context) {
	a.mu.Lock()
	a.nextSeq++
	seq := a.nextSeq
	a.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return
	}

	scope, err := a.store.ProjectIDsForUser(ctx, a.userID)
	if err != nil {
		// Fail closed: a scope lookup failure must never leak counts from
		// projects we could not verify.
		log.Printf("notify: resolve scope for %s: %v", a.userID, err)
		a.publish(seq, Counts{})
		return
	}
	if len(scope) == 0 {
		a.publish(seq, Counts{})
		return
	}

	since := a.now().Add(-a.window)
	var counts Counts
	var wg sync.WaitGroup

	run := func(name string, dst *int, fn func() (int, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := fn()
			if err != nil {
				// One broken counter must not blank the other three.
				log.Printf("notify: count %s for %s: %v", name, a.userID, err)
				n = 0
			}
			*dst = n
		}()
	}

	run(KindMessages, &counts.Messages, func() (int, error) {
		return a.store.CountUnreadMessages(ctx, a.userID, scope, since)
	})
	run(KindRFIs, &counts.RFIs, func() (int, error) {
		return a.store.CountAssignedRFIs(ctx, a.userID, scope)
	})
	run(KindDocuments, &counts.Documents, func() (int, error) {
		return a.store.CountNewDocuments(ctx, a.userID, scope, since)
	})
	run(KindTenders, &counts.Tenders, func() (int, error) {
		return a.store.CountOpenTenders(ctx, scope)
	})

	wg.Wait()
	a.publish(seq, counts)
}

func (a *Aggregator) publish(seq uint64, counts Counts) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq <= a.lastPublished {
		return
	}
	a.lastPublished = seq
	a.counts = counts
	a.notifyLocked()
}

// MarkAsRead optimistically decrements one counter, floored at zero. It is
// a client-side smoothing only; the next refresh recomputes from the store.
// An unknown kind is logged and ignored.
func (a *Aggregator) MarkAsRead(kind string, entityID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var target *int
	switch kind {
	case KindMessages:
		target = &a.counts.Messages
	case KindRFIs:
		target = &a.counts.RFIs
	case KindDocuments:
		target = &a.counts.Documents
	case KindTenders:
		target = &a.counts.Tenders
	default:
		log.Printf("notify: MarkAsRead called with unknown kind %q", kind)
		return
	}
	if *target > 0 {
		*target--
	}
	a.notifyLocked()
}

// Counts returns the current tuple.
func (a *Aggregator) Counts() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts
}

// Subscribe registers a consumer for published tuples. The returned cancel
// func must be called when the consumer goes away. Slow consumers miss
// intermediate tuples rather than blocking the publisher.
func (a *Aggregator) Subscribe() (<-chan Counts, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSubID
	a.nextSubID++
	ch := make(chan Counts, 16)
	a.subscribers[id] = ch
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if existing, ok := a.subscribers[id]; ok {
			delete(a.subscribers, id)
			close(existing)
		}
	}
}

func (a *Aggregator) notifyLocked() {
	for _, ch := range a.subscribers {
		select {
		case ch <- a.counts:
		default:
		}
	}
}
