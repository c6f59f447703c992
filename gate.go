package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/internal/audit"
	"github.com/zsportal/gatekeeper/internal/guards"
	"github.com/zsportal/gatekeeper/internal/rate"
	"github.com/zsportal/gatekeeper/internal/stores"
	"github.com/zsportal/gatekeeper/jwt"
	"github.com/zsportal/gatekeeper/password"
	"github.com/zsportal/gatekeeper/session"
	"github.com/zsportal/gatekeeper/stream"
)

// Gate evaluates navigations against the guard chain and owns one shared
// combined user stream per live session key.
//
// A Gate is built once with [Builder] and is safe for concurrent use.
type Gate struct {
	config Config
	logger *slog.Logger

	sessionProvider SessionProvider
	sessions        *session.Store
	profiles        ProfileStore
	flags           FlagLookup
	credentials     CredentialStore
	verifications   *stores.EmailVerificationStore
	rateLimiter     *rate.Limiter
	passwordHash    *password.Argon2
	dummyHash       string
	jwtManager      *jwt.Manager
	audit           *audit.Dispatcher
	metrics         *Metrics
	chain           []Guard
	streamOpts      []stream.Option
	now             func() time.Time

	mu      sync.Mutex
	streams map[string]*streamEntry
	closed  bool
}

type streamEntry struct {
	us *stream.UserStream
}

// Evaluate runs the guard chain for one navigation attempt.
//
// It never returns an error: failures of any collaborator surface as a
// denial whose Kind says what went wrong. Requested effects are carried
// out before Evaluate returns.
func (g *Gate) Evaluate(ctx context.Context, req NavigationRequest) (res Result) {
	start := time.Now()
	id := newNavigationID()

	chain := req.Chain
	if chain == nil {
		chain = g.chain
	}
	in := guards.Input{Path: req.Path, Route: req.Route, Paths: g.config.Paths}
	nav := guards.NewNavigation(id, in, g.config.Guard.ProfileTimeout, func() *stream.Subscription[identity.State] {
		return g.acquire(req.SessionKey)
	})
	defer nav.Close()

	defer func() {
		if r := recover(); r != nil {
			out := guards.Outcome{
				Decision: guards.Decision{Path: g.config.Paths.Login},
				Kind:     guards.KindBackendUnavailable,
				Reason:   "panic",
				Err:      fmt.Errorf("%w: evaluate: %v", guards.ErrGuardPanic, r),
			}
			res = Result{Outcome: out, RedirectURL: out.URL(), NavigationID: id}
			g.logger.ErrorContext(ctx, "navigation evaluation panicked",
				slog.String("navigation_id", id),
				slog.Any("panic", r),
			)
		}
	}()

	out := guards.Run(ctx, nav, chain)
	res = Result{Outcome: out, RedirectURL: out.URL(), NavigationID: id}
	if out.Allowed {
		if st, ok := nav.Snapshot(); ok {
			if u, ok := st.User(); ok {
				res.User = &u
			}
		}
	}

	if out.HasEffect(guards.EffectSignOut) {
		g.forceSignOut(ctx, req.SessionKey, nav)
	}

	g.metricInc(outcomeMetric(out.Kind))
	g.metrics.Observe(MetricEvaluateLatency, time.Since(start))
	g.logOutcome(ctx, nav, res)
	g.emitDecision(ctx, req.SessionKey, nav, res)
	return res
}

// Watch subscribes to the combined user stream of sessionKey. The
// subscription is released when ctx is done or Close is called on it.
func (g *Gate) Watch(ctx context.Context, sessionKey string) (*stream.Subscription[identity.State], error) {
	sub := g.acquire(sessionKey)
	if sub == nil {
		return nil, ErrGateClosed
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// ActiveStreams returns how many session keys currently own a stream.
func (g *Gate) ActiveStreams() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.streams)
}

// Close tears down every stream and flushes the audit dispatcher. Later
// navigations are denied as backend failures.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	entries := make([]*streamEntry, 0, len(g.streams))
	for _, e := range g.streams {
		entries = append(entries, e)
	}
	g.streams = make(map[string]*streamEntry)
	g.mu.Unlock()

	for _, e := range entries {
		e.us.Close()
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// MetricsSnapshot returns a copy of the gate's counters.
func (g *Gate) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

// acquire subscribes to the stream of key, creating it on first use. It
// returns nil once the gate is closed.
func (g *Gate) acquire(key string) *stream.Subscription[identity.State] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}

	e, ok := g.streams[key]
	if !ok {
		e = &streamEntry{
			us: stream.NewUserStream(g.sessionSource(key), g.profiles, g.streamOpts...),
		}
		e.us.OnIdle(func() { g.release(key, e) })
		g.streams[key] = e
		g.metricInc(MetricStreamOpened)
	}
	return e.us.Subscribe()
}

// release drops e once its last subscriber left. A subscriber that raced
// in before the lock keeps it alive.
func (g *Gate) release(key string, e *streamEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.streams[key]; !ok || cur != e {
		return
	}
	if e.us.Refs() > 0 {
		return
	}
	delete(g.streams, key)
	g.metricInc(MetricStreamClosed)
}

func (g *Gate) sessionSource(key string) SessionSource {
	if key == "" || g.sessionProvider == nil {
		return stream.NoSession()
	}
	src := g.sessionProvider.Source(key)
	if src == nil {
		return stream.NoSession()
	}
	return src
}

// forceSignOut ends the session whose profile could not be loaded. It runs
// even when the navigation context was cancelled.
func (g *Gate) forceSignOut(ctx context.Context, sessionKey string, nav *guards.Navigation) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.config.Guard.SignOutTimeout)
	defer cancel()

	var userID string
	if st, ok := nav.Snapshot(); ok && st.Principal != nil {
		userID = st.Principal.ID
	}

	err := g.sessionSource(sessionKey).SignOut(sctx)
	if err != nil {
		g.metricInc(MetricForcedSignOutFailure)
		g.logger.ErrorContext(ctx, "forced sign-out failed",
			slog.String("navigation_id", nav.ID),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	} else {
		g.metricInc(MetricForcedSignOut)
	}
	g.emitAudit(ctx, auditEventForcedSignOut, err == nil, userID, sessionKey, err, func() map[string]string {
		return map[string]string{"navigation_id": nav.ID}
	})
}

func (g *Gate) logOutcome(ctx context.Context, nav *guards.Navigation, r Result) {
	attrs := []any{
		slog.String("navigation_id", r.NavigationID),
		slog.String("path", pathOnly(nav.Input.Path)),
	}
	if r.Allowed {
		g.logger.DebugContext(ctx, "navigation allowed", attrs...)
		return
	}

	attrs = append(attrs,
		slog.String("kind", r.Kind.String()),
		slog.String("reason", r.Reason),
		slog.String("guard", r.Guard),
		slog.String("redirect", r.Path),
	)
	if r.Err != nil {
		attrs = append(attrs, slog.Any("error", r.Err))
	}

	switch r.Kind {
	case guards.KindProfileMissingOrTimeout:
		g.logger.ErrorContext(ctx, "navigation denied", attrs...)
	case guards.KindBackendUnavailable:
		g.logger.WarnContext(ctx, "navigation denied", attrs...)
	default:
		g.logger.DebugContext(ctx, "navigation denied", attrs...)
	}
}

func (g *Gate) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

func newNavigationID() string {
	return ulid.Make().String()
}
