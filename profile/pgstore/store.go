package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/profile"
	"github.com/zsportal/gatekeeper/stream"
)

const pgErrUniqueViolation = "23505"

const selectProfile = `select user_id, roles, approved, blocked, last_logout_at, last_active_at, created_at
from profiles where user_id = $1`

// Open opens a database/sql handle on the lib/pq driver. sql.Open does not
// connect; use Ping to check reachability.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	return db, nil
}

// Store implements profile.Store on PostgreSQL.
//
// Change notifications come from the profiles trigger through a single
// shared [Listener], started with the first WatchProfile. An empty payload
// asks every watcher to re-read.
type Store struct {
	db       *sql.DB
	listener Listener
	retry    time.Duration

	mu       sync.Mutex
	watchers map[string]map[uint64]chan error
	nextID   uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ profile.Store = (*Store)(nil)

// New wraps db. listener may be nil, in which case watches report the
// current record only.
func New(db *sql.DB, listener Listener) *Store {
	return &Store{
		db:       db,
		listener: listener,
		retry:    time.Second,
		watchers: make(map[string]map[uint64]chan error),
	}
}

// Close stops the notification listener.
func (s *Store) Close() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Get returns the profile of userID or profile.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (identity.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, selectProfile, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Profile{}, profile.ErrNotFound
	}
	if err != nil {
		return identity.Profile{}, fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	return p, nil
}

// Create inserts p. A duplicate user id yields profile.ErrExists.
func (s *Store) Create(ctx context.Context, p identity.Profile) error {
	if p.UserID == "" {
		return errors.New("profile user id is required")
	}
	if len(p.Roles) == 0 {
		return identity.ErrEmptyRoles
	}
	_, err := s.db.ExecContext(ctx, `insert into profiles
		(user_id, roles, approved, blocked, last_logout_at, last_active_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		p.UserID, pq.Array(p.Roles), p.Approved, p.Blocked,
		nullTime(p.LastLogoutAt), nullTime(p.LastActiveAt), p.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgErrUniqueViolation {
			return profile.ErrExists
		}
		return fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	return nil
}

// Update applies patch under a row lock.
func (s *Store) Update(ctx context.Context, userID string, patch identity.Patch) (identity.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanProfile(tx.QueryRowContext(ctx, selectProfile+" for update", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Profile{}, profile.ErrNotFound
	}
	if err != nil {
		return identity.Profile{}, fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}

	next, err := patch.Apply(cur)
	if err != nil {
		return identity.Profile{}, err
	}
	if next.Equal(cur) {
		return cur, nil
	}

	if _, err := tx.ExecContext(ctx, `update profiles
		set roles = $2, approved = $3, blocked = $4, last_logout_at = $5, last_active_at = $6
		where user_id = $1`,
		userID, pq.Array(next.Roles), next.Approved, next.Blocked,
		nullTime(next.LastLogoutAt), nullTime(next.LastActiveAt)); err != nil {
		return identity.Profile{}, fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return identity.Profile{}, fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	return next, nil
}

// Delete removes the profile of userID.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `delete from profiles where user_id = $1`, userID); err != nil {
		return fmt.Errorf("%w: %v", profile.ErrUnavailable, err)
	}
	return nil
}

// WatchProfile emits the current record and re-reads it on every
// notification for userID. Listener failures are reported as events.
func (s *Store) WatchProfile(ctx context.Context, userID string) (<-chan stream.ProfileEvent, error) {
	signals, unregister := s.register(userID)

	out := make(chan stream.ProfileEvent, 1)
	go func() {
		defer close(out)
		defer unregister()

		if !s.emit(ctx, userID, out) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-signals:
				if err != nil {
					select {
					case out <- stream.ProfileEvent{Err: fmt.Errorf("%w: %v", profile.ErrUnavailable, err)}:
						continue
					case <-ctx.Done():
						return
					}
				}
				if !s.emit(ctx, userID, out) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) emit(ctx context.Context, userID string, out chan<- stream.ProfileEvent) bool {
	var ev stream.ProfileEvent
	p, err := s.Get(ctx, userID)
	switch {
	case errors.Is(err, profile.ErrNotFound):
	case err != nil:
		ev.Err = err
	default:
		ev.Profile = &p
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Store) register(userID string) (<-chan error, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan error, 1)
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[uint64]chan error)
	}
	s.watchers[userID][id] = ch

	if s.listener != nil && s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.listen(ctx, s.done)
	}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[userID], id)
		if len(s.watchers[userID]) == 0 {
			delete(s.watchers, userID)
		}
	}
}

func (s *Store) listen(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		err := s.listener.Listen(ctx, NotifyChannel, s.dispatch)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("listener stopped")
		}
		s.broadcast(err)

		t := time.NewTimer(s.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Store) dispatch(userID string) {
	if userID == "" {
		s.broadcast(nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers[userID] {
		signal(ch, nil)
	}
}

func (s *Store) broadcast(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.watchers {
		for _, ch := range subs {
			signal(ch, err)
		}
	}
}

// signal replaces any pending signal with v.
func signal(ch chan error, v error) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (identity.Profile, error) {
	var (
		p          identity.Profile
		roles      pq.StringArray
		lastLogout sql.NullTime
		lastActive sql.NullTime
	)
	if err := row.Scan(&p.UserID, &roles, &p.Approved, &p.Blocked, &lastLogout, &lastActive, &p.CreatedAt); err != nil {
		return identity.Profile{}, err
	}
	p.Roles = []string(roles)
	p.CreatedAt = p.CreatedAt.UTC()
	if lastLogout.Valid {
		t := lastLogout.Time.UTC()
		p.LastLogoutAt = &t
	}
	if lastActive.Valid {
		t := lastActive.Time.UTC()
		p.LastActiveAt = &t
	}
	return p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
