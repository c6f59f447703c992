package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zsportal/gatekeeper/identity"
)

type fakeSessions struct {
	mu      sync.Mutex
	opened  int
	active  int
	current SessionEvent
	subs    []chan SessionEvent
	signOut int
}

func (f *fakeSessions) WatchSession(ctx context.Context) (<-chan SessionEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan SessionEvent, 8)
	ch <- f.current
	f.subs = append(f.subs, ch)
	f.opened++
	f.active++
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	return ch, nil
}

func (f *fakeSessions) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOut++
	f.mu.Unlock()
	f.send(SessionEvent{})
	return nil
}

func (f *fakeSessions) send(ev SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = ev
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *fakeSessions) counts() (opened, active int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.active
}

type fakeProfiles struct {
	mu       sync.Mutex
	records  map[string]*identity.Profile
	hang     bool
	failOpen error
	opened   int
	active   int
	watchers map[string][]chan ProfileEvent
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		records:  make(map[string]*identity.Profile),
		watchers: make(map[string][]chan ProfileEvent),
	}
}

func (f *fakeProfiles) WatchProfile(ctx context.Context, userID string) (<-chan ProfileEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen != nil {
		return nil, f.failOpen
	}
	ch := make(chan ProfileEvent, 8)
	if !f.hang {
		ch <- ProfileEvent{Profile: f.records[userID]}
	}
	f.watchers[userID] = append(f.watchers[userID], ch)
	f.opened++
	f.active++
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	return ch, nil
}

func (f *fakeProfiles) put(p identity.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[p.UserID] = &p
	for _, ch := range f.watchers[p.UserID] {
		select {
		case ch <- ProfileEvent{Profile: &p}:
		default:
		}
	}
}

func (f *fakeProfiles) fail(userID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.watchers[userID] {
		select {
		case ch <- ProfileEvent{Err: err}:
		default:
		}
	}
}

func (f *fakeProfiles) counts() (opened, active int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.active
}

func approvedProfile(userID string, roles ...string) identity.Profile {
	p := identity.NewProfile(userID, time.Unix(1700000000, 0))
	if len(roles) > 0 {
		p.Roles = roles
	}
	p.Approved = true
	return p
}

func waitState(t *testing.T, sub *Subscription[identity.State], match func(identity.State) bool) identity.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		st, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("waiting for state: %v", err)
		}
		if match(st) {
			return st
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func statusIs(s identity.Status) func(identity.State) bool {
	return func(st identity.State) bool { return st.Status == s }
}
