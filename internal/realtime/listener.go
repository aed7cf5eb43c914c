package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status of a subscription. Transitions:
// disconnected -> connecting -> subscribed -> closed.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusSubscribed   Status = "subscribed"
	StatusClosed       Status = "closed"
)

// MembershipChecker re-verifies project membership for events whose channel
// filter cannot express access scope.
type MembershipChecker interface {
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
}

// Listener subscribes one user to the table change channels and triggers a
// recount whenever an event could affect that user's counts.
//
// Messages and documents get a cheap author filter (skip rows the user
// wrote), followed by a membership re-check on the event's project: the
// author filter alone says nothing about whether the project is in scope.
// RFI, tender, and membership events have no usable cheap filter, so any
// of them triggers a full recount. Correctness over efficiency; those
// tables change rarely.
//
// Reconnection is the redis client's job. This layer only surfaces status
// transitions for observability and never retries on its own.
type Listener struct {
	client  *redis.Client
	userID  string
	members MembershipChecker
	recount func()
	status  func(channel string, status Status, err error)

	mu     sync.Mutex
	sub    *redis.PubSub
	done   chan struct{}
	closed bool
}

// ListenerOption configures optional listener behavior.
type ListenerOption func(*Listener)

// WithStatusFunc registers a callback for subscription status changes.
func WithStatusFunc(fn func(channel string, status Status, err error)) ListenerOption {
	return func(l *Listener) { l.status = fn }
}

func NewListener(client *redis.Client, userID string, members MembershipChecker, recount func(), opts ...ListenerOption) *Listener {
	l := &Listener{
		client:  client,
		userID:  userID,
		members: members,
		recount: recount,
		status:  func(string, Status, error) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open subscribes to every change channel and starts consuming events.
func (l *Listener) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil || l.closed {
		return nil
	}

	channels := Channels()
	for _, ch := range channels {
		l.status(ch, StatusConnecting, nil)
	}

	sub := l.client.Subscribe(ctx, channels...)
	// Receive forces the SUBSCRIBE handshake so status is accurate before
	// Open returns.
	if _, err := sub.Receive(ctx); err != nil {
		for _, ch := range channels {
			l.status(ch, StatusDisconnected, err)
		}
		_ = sub.Close()
		return err
	}
	for _, ch := range channels {
		l.status(ch, StatusSubscribed, nil)
	}

	l.sub = sub
	l.done = make(chan struct{})
	go l.consume(ctx, sub.Channel(), l.done)
	return nil
}

func (l *Listener) consume(ctx context.Context, events <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range events {
		event, err := decodeEvent(msg.Payload)
		if err != nil {
			log.Printf("realtime: dropping malformed event on %s: %v", msg.Channel, err)
			continue
		}
		if l.wants(ctx, event) {
			l.recount()
		}
	}
}

// wants decides whether an event can affect this user's counts.
func (l *Listener) wants(ctx context.Context, event ChangeEvent) bool {
	switch event.Table {
	case TableMessages, TableDocuments:
		// Cheap filter: rows this user authored never count as unread.
		if event.author() == l.userID {
			return false
		}
		if event.New == nil || event.New.ProjectID == "" {
			return true
		}
		// Defensive re-check: the author filter does not prove the project
		// is in this user's scope.
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		member, err := l.members.IsProjectMember(checkCtx, event.New.ProjectID, l.userID)
		if err != nil {
			// Fail closed: an unverifiable event must not bump a count.
			log.Printf("realtime: membership re-check failed for project %s: %v", event.New.ProjectID, err)
			return false
		}
		return member
	default:
		// RFIs, tenders, memberships: no cheap filter, always recount.
		return true
	}
}

// Close tears down the subscription and waits for the consume loop to
// drain.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sub, done := l.sub, l.done
	l.sub = nil
	l.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	for _, ch := range Channels() {
		l.status(ch, StatusClosed, nil)
	}
	return err
}
