package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zsportal/gatekeeper"
	"github.com/zsportal/gatekeeper/identity"
	"github.com/zsportal/gatekeeper/internal/guards"
	"github.com/zsportal/gatekeeper/middleware"
)

// server holds the handlers of the demo app.
type server struct {
	gate         *gatekeeper.Gate
	logger       *slog.Logger
	cookieSecure bool
	trustProxy   bool
	metrics      http.Handler
	limiter      *middleware.RateLimiter
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type rolesRequest struct {
	Roles []string `json:"roles"`
}

type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"emailVerified"`
	Roles         []string   `json:"roles"`
	Approved      bool       `json:"approved"`
	Blocked       bool       `json:"blocked"`
	LastLogoutAt  *time.Time `json:"lastLogoutAt,omitempty"`
	LastActiveAt  *time.Time `json:"lastActiveAt,omitempty"`
}

type stateResponse struct {
	Status string        `json:"status"`
	User   *userResponse `json:"user,omitempty"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.Logging(s.logger))

	opts := middleware.Options{TrustForwardedFor: s.trustProxy}
	// Unverified and unapproved users must still reach verification and
	// the live feed.
	signedIn := middleware.Options{
		TrustForwardedFor: s.trustProxy,
		Chain:             []gatekeeper.Guard{guards.SessionGuard{}, guards.ProfileGuard{}},
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", s.page("Sign in"))
		r.Get("/verify-email", s.page("Check your inbox to verify your email address"))
		r.Get("/pending-approval", s.page("Your account is waiting for approval"))

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware())
			}
			r.Post("/register", s.handleRegister)
			r.Post("/sign-in", s.handleSignIn)
			r.Post("/verify-email", s.handleConfirmVerification)
		})
		r.Post("/sign-out", s.handleSignOut)
		r.With(middleware.Protect(s.gate, gatekeeper.Route{}, signedIn)).
			Post("/verify-email/request", s.handleRequestVerification)
	})

	r.With(middleware.Protect(s.gate, gatekeeper.Route{}, opts)).Get("/dashboard", s.page("Dashboard"))
	r.With(middleware.Protect(s.gate, gatekeeper.Route{FeatureFlag: "beta", Fallback: "/dashboard"}, opts)).
		Get("/beta", s.page("Beta features"))

	r.Route("/api/me", func(r chi.Router) {
		r.With(middleware.Protect(s.gate, gatekeeper.Route{}, opts)).Get("/", s.handleMe)
		r.With(middleware.Protect(s.gate, gatekeeper.Route{}, signedIn)).Get("/events", s.handleEvents)
	})

	r.Route("/admin/users/{id}", func(r chi.Router) {
		r.Use(middleware.Protect(s.gate, gatekeeper.Route{RequiredRoles: []string{identity.RoleAdmin}}, opts))
		r.Post("/approve", s.handleAdmin(s.gate.Approve))
		r.Post("/block", s.handleAdmin(s.gate.Block))
		r.Post("/unblock", s.handleAdmin(s.gate.Unblock))
		r.Put("/roles", s.handleSetRoles)
	})

	return r
}

func (s *server) page(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, title)
	}
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	userID, err := s.gate.Register(s.clientCtx(r), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The demo has no mailer; the link is logged instead.
	token, err := s.gate.RequestEmailVerification(r.Context(), userID)
	if err != nil {
		s.logger.Warn("verification request failed", slog.String("user_id", userID), slog.String("error", err.Error()))
	} else if token != "" {
		s.logger.Info("verification token issued", slog.String("user_id", userID), slog.String("token", token))
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": userID})
}

func (s *server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.gate.SignIn(s.clientCtx(r), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.DefaultCookieName,
		Value:    res.AccessToken,
		Path:     "/",
		Expires:  time.Unix(res.ExpiresAt, 0),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      res.UserID,
		"accessToken": res.AccessToken,
		"expiresAt":   res.ExpiresAt,
	})
}

func (s *server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if key := middleware.SessionKey(s.gate, r, middleware.DefaultCookieName); key != "" {
		if err := s.gate.SignOut(s.clientCtx(r), key); err != nil {
			s.writeError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.DefaultCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	user, _ := gatekeeper.UserFromContext(r.Context())
	token, err := s.gate.RequestEmailVerification(r.Context(), user.Principal.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if token != "" {
		s.logger.Info("verification token issued", slog.String("user_id", user.Principal.ID), slog.String("token", token))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.gate.ConfirmEmailVerification(s.clientCtx(r), req.Token); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := gatekeeper.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "no_session"})
		return
	}
	if err := s.gate.TouchActivity(r.Context(), user.Principal.ID); err != nil {
		s.logger.Warn("touch activity failed", slog.String("user_id", user.Principal.ID), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleEvents streams the combined user state as server-sent events until
// the client disconnects or the session ends.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	key := middleware.SessionKey(s.gate, r, middleware.DefaultCookieName)
	sub, err := s.gate.Watch(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		st, err := sub.Next(r.Context())
		if err != nil {
			return
		}
		payload, err := json.Marshal(toStateResponse(st))
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
		if st.Status == identity.StatusSignedOut {
			return
		}
	}
}

func (s *server) handleAdmin(op func(ctx context.Context, userID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(s.clientCtx(r), chi.URLParam(r, "id")); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	var req rolesRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.gate.SetRoles(s.clientCtx(r), chi.URLParam(r, "id"), req.Roles); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clientCtx(r *http.Request) context.Context {
	return gatekeeper.WithClientIP(r.Context(), middleware.ClientIP(r, s.trustProxy))
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"code": code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, gatekeeper.ErrInvalidEmail),
		errors.Is(err, gatekeeper.ErrPasswordPolicy),
		errors.Is(err, gatekeeper.ErrInvalidRoles):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, gatekeeper.ErrVerificationInvalid),
		errors.Is(err, gatekeeper.ErrVerificationAttempts):
		return http.StatusBadRequest, "verification_invalid"
	case errors.Is(err, gatekeeper.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, gatekeeper.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, gatekeeper.ErrSignInRateLimited),
		errors.Is(err, gatekeeper.ErrVerificationRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, gatekeeper.ErrProfileNotFound),
		errors.Is(err, gatekeeper.ErrUserNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, gatekeeper.ErrBackendUnavailable),
		errors.Is(err, gatekeeper.ErrGateClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func toUserResponse(u gatekeeper.CombinedUser) *userResponse {
	return &userResponse{
		ID:            u.Principal.ID,
		Email:         u.Principal.Email,
		EmailVerified: u.Principal.EmailVerified,
		Roles:         u.Profile.Roles,
		Approved:      u.Profile.Approved,
		Blocked:       u.Profile.Blocked,
		LastLogoutAt:  u.Profile.LastLogoutAt,
		LastActiveAt:  u.Profile.LastActiveAt,
	}
}

func toStateResponse(st gatekeeper.State) stateResponse {
	out := stateResponse{Status: st.Status.String()}
	if u, ok := st.User(); ok {
		out.User = toUserResponse(u)
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "invalid_json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
