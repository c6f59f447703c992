package guards

import (
	"net/url"
	"path"
	"strings"
	"unicode"
)

// ReturnURLParam carries the originally requested path through sign-in.
const ReturnURLParam = "returnUrl"

// Paths are the redirect targets used by the chain.
type Paths struct {
	Login           string
	VerifyEmail     string
	PendingApproval string
	Fallback        string
}

// DefaultPaths returns the stock auth pages.
func DefaultPaths() Paths {
	return Paths{
		Login:           "/auth/login",
		VerifyEmail:     "/auth/verify-email",
		PendingApproval: "/auth/pending-approval",
		Fallback:        "/dashboard",
	}
}

// WithDefaults fills empty targets from [DefaultPaths].
func (p Paths) WithDefaults() Paths {
	d := DefaultPaths()
	if p.Login == "" {
		p.Login = d.Login
	}
	if p.VerifyEmail == "" {
		p.VerifyEmail = d.VerifyEmail
	}
	if p.PendingApproval == "" {
		p.PendingApproval = d.PendingApproval
	}
	if p.Fallback == "" {
		p.Fallback = d.Fallback
	}
	return p
}

// IsAuthPath reports whether p is one of the auth pages. Return targets
// pointing at them are dropped so sign-in can never bounce back to itself.
func (p Paths) IsAuthPath(target string) bool {
	p = p.WithDefaults()
	clean := path.Clean("/" + strings.TrimPrefix(target, "/"))
	for _, auth := range []string{p.Login, p.VerifyEmail, p.PendingApproval} {
		if clean == path.Clean(auth) {
			return true
		}
	}
	return false
}

// SanitizeReturnURL keeps raw only if it is a local absolute path that does
// not lead back into the auth pages. The fragment is dropped.
func SanitizeReturnURL(raw string, paths Paths) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 2048 {
		return ""
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return ""
	}
	for _, r := range raw {
		if r == '\\' || unicode.IsControl(r) {
			return ""
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil || u.Opaque != "" {
		return ""
	}
	if paths.IsAuthPath(u.Path) {
		return ""
	}

	out := u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// ResolveReturnURL returns the sanitized return target or fallback.
func ResolveReturnURL(raw string, paths Paths, fallback string) string {
	if target := SanitizeReturnURL(raw, paths); target != "" {
		return target
	}
	return fallback
}

func redirectWithReturn(target, requested string, paths Paths) Decision {
	d := Decision{Path: target}
	if ret := SanitizeReturnURL(requested, paths); ret != "" {
		d.Query = url.Values{ReturnURLParam: []string{ret}}
	}
	return d
}

func redirectTo(target string) Decision {
	return Decision{Path: target}
}

// fallbackFor picks the route fallback, never the requested page itself.
func fallbackFor(in Input) string {
	paths := in.Paths.WithDefaults()
	target := paths.Fallback
	if f := SanitizeReturnURL(in.Route.Fallback, paths); f != "" {
		target = f
	}

	requested := in.Path
	if u, err := url.Parse(in.Path); err == nil {
		requested = u.Path
	}
	if path.Clean(stripQuery(target)) == path.Clean("/"+strings.TrimPrefix(requested, "/")) {
		return "/"
	}
	return target
}

func stripQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
