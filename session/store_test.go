package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zsportal/gatekeeper/stream"
)

func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "gs")
	return store, rdb, func() {
		rdb.Close()
		mr.Close()
	}
}

func testSession(t *testing.T) *Session {
	t.Helper()
	sid, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	now := time.Now()
	return &Session{
		SessionID: sid,
		UserID:    "u-1",
		Email:     "u-1@example.com",
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
}

func TestEncodeDecodeKeepsPrincipal(t *testing.T) {
	sess := &Session{UserID: "u-1", Email: "a@example.com", EmailVerified: true, CreatedAt: 10, ExpiresAt: 20}
	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Principal() != sess.Principal() || got.ExpiresAt != 20 || got.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestDecodeRejectsUnsupportedSchemaVersion(t *testing.T) {
	if _, err := Decode([]byte{99}); err == nil {
		t.Fatalf("expected unsupported schema version error")
	}
}

func TestGetMigratesLegacySchemaToCurrent(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	sid, _ := NewID()
	now := time.Now()
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionV1)
	buf.WriteByte(byte(len("u-legacy")))
	buf.WriteString("u-legacy")
	_ = binary.Write(&buf, binary.BigEndian, now.Unix())
	_ = binary.Write(&buf, binary.BigEndian, now.Add(time.Hour).Unix())
	if err := rdb.Set(ctx, store.key(sid), buf.Bytes(), time.Hour).Err(); err != nil {
		t.Fatalf("seed legacy: %v", err)
	}

	sess, err := store.Get(ctx, sid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.UserID != "u-legacy" || sess.EmailVerified {
		t.Fatalf("unexpected session: %+v", sess)
	}

	raw, err := rdb.Get(ctx, store.key(sid)).Bytes()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if raw[0] != CurrentSchemaVersion {
		t.Fatalf("expected stored schema byte %d, got %d", CurrentSchemaVersion, raw[0])
	}
}

func TestSaveGetDelete(t *testing.T) {
	store, rdb, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession(t)

	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != sess.UserID || got.Email != sess.Email {
		t.Fatalf("unexpected session: %+v", got)
	}

	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, sess.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	members, err := rdb.SMembers(ctx, store.userKey(sess.UserID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no user index members, got %v", members)
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	if _, err := store.Get(context.Background(), "../../etc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	a, b := testSession(t), testSession(t)
	for _, s := range []*Session{a, b} {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if n, _ := store.ActiveSessionCount(ctx, "u-1"); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}
	if err := store.DeleteAllForUser(ctx, "u-1"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	for _, s := range []*Session{a, b} {
		if _, err := store.Get(ctx, s.SessionID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %s survived: %v", s.SessionID, err)
		}
	}
}

func TestSetEmailVerified(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	sess := testSession(t)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SetEmailVerified(ctx, sess.UserID, true); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	got, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.EmailVerified {
		t.Fatalf("expected verified session")
	}
}

func TestRedisDownIsUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	store := NewStore(rdb, "gs")
	sid, _ := NewID()
	mr.Close()

	if _, err := store.Get(context.Background(), sid); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func nextEvent(t *testing.T, ch <-chan stream.SessionEvent) stream.SessionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("session watch closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session event")
	}
	return stream.SessionEvent{}
}

func TestSourceEmitsCurrentAndChanges(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	sess := testSession(t)
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := store.Source(sess.SessionID).WatchSession(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	ev := nextEvent(t, ch)
	if ev.Principal == nil || ev.Principal.EmailVerified {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	if err := store.SetEmailVerified(context.Background(), sess.UserID, true); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	ev = nextEvent(t, ch)
	if ev.Principal == nil || !ev.Principal.EmailVerified {
		t.Fatalf("expected verified principal, got %+v", ev)
	}

	if err := store.Source(sess.SessionID).SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	ev = nextEvent(t, ch)
	if ev.Principal != nil || ev.Err != nil {
		t.Fatalf("expected signed-out event, got %+v", ev)
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("watch did not close after cancel")
		}
	}
}

func TestSourceExpiry(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	sess := testSession(t)
	sess.ExpiresAt = time.Now().Add(1500 * time.Millisecond).Unix()
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := store.Source(sess.SessionID).WatchSession(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if ev := nextEvent(t, ch); ev.Principal == nil {
		t.Fatalf("expected principal, got %+v", ev)
	}

	select {
	case ev := <-ch:
		if ev.Principal != nil {
			t.Fatalf("expected expiry to sign out, got %+v", ev)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("no event at expiry")
	}
}

func TestSourceInvalidIDIsSignedOut(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ch, err := store.Source("nope").WatchSession(context.Background())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if ev := nextEvent(t, ch); ev.Principal != nil || ev.Err != nil {
		t.Fatalf("expected empty event, got %+v", ev)
	}
}
