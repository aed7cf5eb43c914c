package notify

import (
	"context"
	"sync"
	"time"
)

// ListenerFactory builds the realtime subscription for one user's
// aggregator. recount is the aggregator's Trigger.
type ListenerFactory func(userID string, recount func()) ChangeListener

// Registry owns one aggregator per signed-in user: created on first use,
// torn down on sign-out or shutdown.
type Registry struct {
	store       CountStore
	window      time.Duration
	newListener ListenerFactory

	mu     sync.Mutex
	active map[string]*Aggregator
}

func NewRegistry(store CountStore, window time.Duration, newListener ListenerFactory) *Registry {
	return &Registry{
		store:       store,
		window:      window,
		newListener: newListener,
		active:      map[string]*Aggregator{},
	}
}

// For returns the user's aggregator, starting one if needed.
func (r *Registry) For(ctx context.Context, userID string) (*Aggregator, error) {
	r.mu.Lock()
	if agg, ok := r.active[userID]; ok {
		r.mu.Unlock()
		return agg, nil
	}
	agg := NewAggregator(userID, r.store, r.window)
	r.active[userID] = agg
	r.mu.Unlock()

	var listener ChangeListener
	if r.newListener != nil {
		listener = r.newListener(userID, agg.Trigger)
	}
	if err := agg.Start(ctx, listener); err != nil {
		r.mu.Lock()
		delete(r.active, userID)
		r.mu.Unlock()
		return nil, err
	}
	return agg, nil
}

// Drop stops and removes the user's aggregator, if any.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	agg, ok := r.active[userID]
	delete(r.active, userID)
	r.mu.Unlock()
	if ok {
		agg.Stop()
	}
}

// Shutdown stops every active aggregator.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := r.active
	r.active = map[string]*Aggregator{}
	r.mu.Unlock()
	for _, agg := range all {
		agg.Stop()
	}
}
