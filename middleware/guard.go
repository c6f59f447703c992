package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/zsportal/gatekeeper"
)

// DefaultCookieName carries the access token issued by sign-in.
const DefaultCookieName = "gk_token"

// Options tune [Protect].
type Options struct {
	// CookieName is read when no bearer token is sent. Defaults to
	// DefaultCookieName.
	CookieName string
	// TrustForwardedFor takes the client IP from X-Forwarded-For.
	TrustForwardedFor bool
	// Chain replaces the gate's default chain for this route.
	Chain []gatekeeper.Guard
}

// Protect runs the gate's guard chain for every request under route.
//
// Allowed requests reach next with the result on their context. Denied
// browser requests get a 303 to the decision's redirect; requests that
// accept JSON get a status code and the redirect in the body. A denial that
// ended the session also expires the token cookie.
func Protect(gate *gatekeeper.Gate, route gatekeeper.Route, opts ...Options) func(http.Handler) http.Handler {
	o := Options{}
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := gatekeeper.WithClientIP(r.Context(), ClientIP(r, o.TrustForwardedFor))

			res := gate.Evaluate(ctx, gatekeeper.NavigationRequest{
				SessionKey: SessionKey(gate, r, o.CookieName),
				Path:       r.URL.RequestURI(),
				Route:      route,
				Chain:      o.Chain,
			})
			if res.Allowed {
				next.ServeHTTP(w, r.WithContext(gatekeeper.WithResult(ctx, res)))
				return
			}
			if res.Kind == gatekeeper.KindCancelled {
				return
			}

			if res.HasEffect(gatekeeper.EffectSignOut) {
				http.SetCookie(w, &http.Cookie{
					Name:     o.CookieName,
					Value:    "",
					Path:     "/",
					MaxAge:   -1,
					HttpOnly: true,
				})
			}
			writeDenial(w, r, res)
		})
	}
}

type denialBody struct {
	Code     string `json:"code"`
	Reason   string `json:"reason"`
	Redirect string `json:"redirect"`
}

func writeDenial(w http.ResponseWriter, r *http.Request, res gatekeeper.Result) {
	if !wantsJSON(r) {
		http.Redirect(w, r, res.RedirectURL, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(res.Kind))
	_ = json.NewEncoder(w).Encode(denialBody{
		Code:     res.Kind.String(),
		Reason:   res.Reason,
		Redirect: res.RedirectURL,
	})
}

// StatusFor maps a denial to the HTTP status used for API callers.
func StatusFor(k gatekeeper.Kind) int {
	switch k {
	case gatekeeper.KindNone:
		return http.StatusOK
	case gatekeeper.KindNoSession, gatekeeper.KindProfileMissingOrTimeout:
		return http.StatusUnauthorized
	case gatekeeper.KindUnverified, gatekeeper.KindNotApprovedOrBlocked, gatekeeper.KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// SessionKey resolves the request's bearer token or cookie to a session
// key. An absent or unusable token yields "", which the gate treats as
// anonymous.
func SessionKey(gate *gatekeeper.Gate, r *http.Request, cookieName string) string {
	token, ok := RequestToken(r, cookieName)
	if !ok {
		return ""
	}
	key, err := gate.ResolveToken(token)
	if err != nil {
		return ""
	}
	return key
}

// RequestToken returns the bearer token, falling back to cookieName.
func RequestToken(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// ClientIP returns the caller address. With trustForwarded the first
// X-Forwarded-For hop wins.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
