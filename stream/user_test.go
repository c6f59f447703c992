package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/zsportal/gatekeeper/identity"
)

var alice = identity.Principal{ID: "u-alice", Email: "alice@example.org", EmailVerified: true}

func TestUserStreamJoinsPrincipalAndProfile(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.put(approvedProfile(alice.ID))

	us := NewUserStream(sessions, profiles)
	sub := us.Subscribe()
	defer sub.Close()

	st := waitState(t, sub, statusIs(identity.StatusReady))
	user, ok := st.User()
	if !ok {
		t.Fatal("expected combined user")
	}
	if user.Principal.ID != alice.ID || !user.Profile.Approved {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestUserStreamSignedOutCancelsProfileWatch(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.put(approvedProfile(alice.ID))

	us := NewUserStream(sessions, profiles)
	sub := us.Subscribe()
	defer sub.Close()
	waitState(t, sub, statusIs(identity.StatusReady))

	sessions.send(SessionEvent{})
	waitState(t, sub, statusIs(identity.StatusSignedOut))

	eventually(t, func() bool {
		_, active := profiles.counts()
		return active == 0
	}, "profile watch still active after sign-out")
}

func TestUserStreamCoalescesPrincipalFlicker(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.put(approvedProfile(alice.ID))

	us := NewUserStream(sessions, profiles)
	sub := us.Subscribe()
	defer sub.Close()
	waitState(t, sub, statusIs(identity.StatusReady))

	for i := 0; i < 5; i++ {
		p := alice
		sessions.send(SessionEvent{Principal: &p})
	}

	select {
	case st := <-sub.C:
		t.Fatalf("unexpected emission after identical principal refresh: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}

	if opened, _ := profiles.counts(); opened != 1 {
		t.Fatalf("expected a single profile subscription, got %d", opened)
	}
}

func TestUserStreamReemitsWhenVerificationFlips(t *testing.T) {
	unverified := alice
	unverified.EmailVerified = false
	sessions := &fakeSessions{current: SessionEvent{Principal: &unverified}}
	profiles := newFakeProfiles()
	profiles.put(approvedProfile(alice.ID))

	us := NewUserStream(sessions, profiles)
	sub := us.Subscribe()
	defer sub.Close()
	waitState(t, sub, statusIs(identity.StatusReady))

	verified := alice
	sessions.send(SessionEvent{Principal: &verified})
	st := waitState(t, sub, func(s identity.State) bool {
		return s.Status == identity.StatusReady && s.Principal.EmailVerified
	})
	if st.Profile == nil {
		t.Fatal("profile dropped on principal refresh")
	}
	if opened, _ := profiles.counts(); opened != 1 {
		t.Fatalf("expected profile subscription reuse, got %d opens", opened)
	}
}

func TestUserStreamProfileMissing(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	us := NewUserStream(sessions, newFakeProfiles())
	sub := us.Subscribe()
	defer sub.Close()

	st := waitState(t, sub, func(s identity.State) bool { return s.Resolved() })
	if st.Status != identity.StatusProfileMissing {
		t.Fatalf("expected profile missing, got %s", st.Status)
	}
}

func TestUserStreamProfileErrorIsUnavailable(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.put(approvedProfile(alice.ID))

	us := NewUserStream(sessions, profiles)
	sub := us.Subscribe()
	defer sub.Close()
	waitState(t, sub, statusIs(identity.StatusReady))

	profiles.fail(alice.ID, errors.New("connection reset"))
	st := waitState(t, sub, statusIs(identity.StatusUnavailable))
	if !errors.Is(st.Err, ErrProfileUnavailable) {
		t.Fatalf("expected ErrProfileUnavailable, got %v", st.Err)
	}
	if st.Principal == nil || st.Principal.ID != alice.ID {
		t.Fatal("unavailable state must keep the principal")
	}
}

func TestUserStreamSessionErrorIsUnavailable(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Err: errors.New("redis down")}}
	us := NewUserStream(sessions, newFakeProfiles())
	sub := us.Subscribe()
	defer sub.Close()

	st := waitState(t, sub, statusIs(identity.StatusUnavailable))
	if !errors.Is(st.Err, ErrSessionUnavailable) {
		t.Fatalf("expected ErrSessionUnavailable, got %v", st.Err)
	}
}

func TestUserStreamProfileOpenFailure(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.failOpen = errors.New("dial tcp: refused")

	us := NewUserStream(sessions, profiles)
	sub := us.Subscribe()
	defer sub.Close()

	st := waitState(t, sub, statusIs(identity.StatusUnavailable))
	if !errors.Is(st.Err, ErrProfileUnavailable) {
		t.Fatalf("expected ErrProfileUnavailable, got %v", st.Err)
	}
}

func TestUserStreamProfileLoadTimeout(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.hang = true

	us := NewUserStream(sessions, profiles, WithProfileLoadTimeout(30*time.Millisecond))
	sub := us.Subscribe()
	defer sub.Close()

	st := waitState(t, sub, statusIs(identity.StatusUnavailable))
	if !errors.Is(st.Err, ErrProfileLoadTimeout) {
		t.Fatalf("expected ErrProfileLoadTimeout, got %v", st.Err)
	}
}

func TestUserStreamSharesOneUpstream(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{Principal: &alice}}
	profiles := newFakeProfiles()
	profiles.put(approvedProfile(alice.ID))

	us := NewUserStream(sessions, profiles)
	first := us.Subscribe()
	waitState(t, first, statusIs(identity.StatusReady))

	second := us.Subscribe()
	st := waitState(t, second, func(identity.State) bool { return true })
	if st.Status != identity.StatusReady {
		t.Fatalf("late subscriber should get the replayed ready state, got %s", st.Status)
	}

	if opened, _ := sessions.counts(); opened != 1 {
		t.Fatalf("expected one session watch, got %d", opened)
	}
	if opened, _ := profiles.counts(); opened != 1 {
		t.Fatalf("expected one profile watch, got %d", opened)
	}
	if us.Refs() != 2 {
		t.Fatalf("expected 2 refs, got %d", us.Refs())
	}

	first.Close()
	if _, active := sessions.counts(); active != 1 {
		t.Fatal("upstream must stay alive while a subscriber remains")
	}
	second.Close()

	eventually(t, func() bool {
		_, sa := sessions.counts()
		_, pa := profiles.counts()
		return sa == 0 && pa == 0
	}, "upstream not torn down after last subscriber left")

	third := us.Subscribe()
	defer third.Close()
	waitState(t, third, statusIs(identity.StatusReady))
	if opened, _ := sessions.counts(); opened != 2 {
		t.Fatalf("expected upstream restart, got %d session watches", opened)
	}
}

func TestUserStreamOnIdle(t *testing.T) {
	sessions := &fakeSessions{current: SessionEvent{}}
	us := NewUserStream(sessions, newFakeProfiles())
	idle := make(chan struct{}, 1)
	us.OnIdle(func() { idle <- struct{}{} })

	sub := us.Subscribe()
	waitState(t, sub, statusIs(identity.StatusSignedOut))
	sub.Close()
	sub.Close()

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("OnIdle not called")
	}
}
