package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeMembers struct {
	mu       sync.Mutex
	projects map[string]bool
	err      error
	checks   int
}

func (f *fakeMembers) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.err != nil {
		return false, f.err
	}
	return f.projects[projectID], nil
}

func (f *fakeMembers) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

func newTestListener(t *testing.T, members *fakeMembers, opts ...ListenerOption) (*Listener, *miniredis.Miniredis, chan struct{}) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	recounts := make(chan struct{}, 16)
	l := NewListener(client, "u1", members, func() { recounts <- struct{}{} }, opts...)
	if err := l.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, mr, recounts
}

func publishEvent(t *testing.T, mr *miniredis.Miniredis, event ChangeEvent) {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	mr.Publish(ChannelFor(event.Table), string(payload))
}

func expectRecount(t *testing.T, recounts chan struct{}) {
	t.Helper()
	select {
	case <-recounts:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a recount trigger")
	}
}

func expectNoRecount(t *testing.T, recounts chan struct{}) {
	t.Helper()
	select {
	case <-recounts:
		t.Fatal("unexpected recount trigger")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerRecountsOnForeignMessageInScope(t *testing.T) {
	members := &fakeMembers{projects: map[string]bool{"p1": true}}
	_, mr, recounts := newTestListener(t, members)

	publishEvent(t, mr, ChangeEvent{
		Table: TableMessages,
		Event: EventInsert,
		New:   &Row{ID: "m1", ProjectID: "p1", SenderID: "u2"},
	})
	expectRecount(t, recounts)
	if members.checkCount() != 1 {
		t.Errorf("membership checks = %d, want 1", members.checkCount())
	}
}

func TestListenerIgnoresOwnMessages(t *testing.T) {
	members := &fakeMembers{projects: map[string]bool{"p1": true}}
	_, mr, recounts := newTestListener(t, members)

	publishEvent(t, mr, ChangeEvent{
		Table: TableMessages,
		Event: EventInsert,
		New:   &Row{ID: "m1", ProjectID: "p1", SenderID: "u1"},
	})
	expectNoRecount(t, recounts)
	if members.checkCount() != 0 {
		t.Errorf("self-authored event must be dropped before the membership check, got %d checks", members.checkCount())
	}
}

func TestListenerIgnoresOutOfScopeDocuments(t *testing.T) {
	members := &fakeMembers{projects: map[string]bool{"p1": true}}
	_, mr, recounts := newTestListener(t, members)

	publishEvent(t, mr, ChangeEvent{
		Table: TableDocuments,
		Event: EventInsert,
		New:   &Row{ID: "d1", ProjectID: "p-other", UploadedBy: "u2"},
	})
	expectNoRecount(t, recounts)
}

func TestListenerFailsClosedWhenMembershipCheckErrors(t *testing.T) {
	members := &fakeMembers{err: context.DeadlineExceeded}
	_, mr, recounts := newTestListener(t, members)

	publishEvent(t, mr, ChangeEvent{
		Table: TableMessages,
		Event: EventInsert,
		New:   &Row{ID: "m1", ProjectID: "p1", SenderID: "u2"},
	})
	expectNoRecount(t, recounts)
}

func TestListenerAlwaysRecountsUnfilteredTables(t *testing.T) {
	members := &fakeMembers{}
	_, mr, recounts := newTestListener(t, members)

	for _, table := range []string{TableRFIs, TableTenders, TableMemberships} {
		publishEvent(t, mr, ChangeEvent{Table: table, Event: EventUpdate, New: &Row{ID: "x"}})
		expectRecount(t, recounts)
	}
	if members.checkCount() != 0 {
		t.Errorf("unfiltered tables must not trigger membership checks, got %d", members.checkCount())
	}
}

func TestListenerDropsMalformedEvents(t *testing.T) {
	members := &fakeMembers{projects: map[string]bool{"p1": true}}
	_, mr, recounts := newTestListener(t, members)

	mr.Publish(ChannelFor(TableMessages), "not json")
	expectNoRecount(t, recounts)

	// The loop must survive malformed input and keep consuming.
	publishEvent(t, mr, ChangeEvent{
		Table: TableMessages,
		Event: EventInsert,
		New:   &Row{ID: "m2", ProjectID: "p1", SenderID: "u2"},
	})
	expectRecount(t, recounts)
}

func TestListenerStatusLifecycle(t *testing.T) {
	var mu sync.Mutex
	transitions := map[string][]Status{}
	record := func(channel string, status Status, err error) {
		mu.Lock()
		defer mu.Unlock()
		transitions[channel] = append(transitions[channel], status)
	}

	members := &fakeMembers{}
	l, _, _ := newTestListener(t, members, WithStatusFunc(record))
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, channel := range Channels() {
		got := transitions[channel]
		want := []Status{StatusConnecting, StatusSubscribed, StatusClosed}
		if len(got) != len(want) {
			t.Fatalf("channel %s transitions = %v, want %v", channel, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("channel %s transitions = %v, want %v", channel, got, want)
			}
		}
	}
}

func TestPublisherRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	members := &fakeMembers{projects: map[string]bool{"p1": true}}
	recounts := make(chan struct{}, 1)
	l := NewListener(client, "u1", members, func() { recounts <- struct{}{} })
	if err := l.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })

	pub := NewPublisher(client)
	err := pub.Publish(context.Background(), ChangeEvent{
		Table: TableMessages,
		Event: EventInsert,
		New:   &Row{ID: "m1", ProjectID: "p1", SenderID: "u2"},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	expectRecount(t, recounts)
}
