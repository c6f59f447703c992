package identity

import (
	"errors"
	"slices"
	"time"
)

const (
	// RoleUser is granted to every registered account.
	RoleUser = "user"
	// RoleAdmin unlocks administrative routes such as user approval.
	RoleAdmin = "admin"
)

// ErrEmptyRoles is returned when a patch would leave a profile without roles.
var ErrEmptyRoles = errors.New("profile roles must not be empty")

// Principal is the authenticated subject reported by the session source.
// It is owned by the identity provider and read-only to the gate.
type Principal struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Profile is the authorization record stored per principal id.
type Profile struct {
	UserID       string
	Roles        []string
	Approved     bool
	Blocked      bool
	LastLogoutAt *time.Time
	LastActiveAt *time.Time
	CreatedAt    time.Time
}

// NewProfile returns the record created at registration: a plain user that
// still waits for approval.
func NewProfile(userID string, now time.Time) Profile {
	return Profile{
		UserID:    userID,
		Roles:     []string{RoleUser},
		CreatedAt: now.UTC(),
	}
}

// HasAnyRole reports whether the profile holds at least one of required.
// An empty requirement is always satisfied.
func (p Profile) HasAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand profiles across goroutines.
func (p Profile) Clone() Profile {
	out := p
	out.Roles = slices.Clone(p.Roles)
	out.LastLogoutAt = cloneTime(p.LastLogoutAt)
	out.LastActiveAt = cloneTime(p.LastActiveAt)
	return out
}

// Equal compares every field, treating timestamps by instant.
func (p Profile) Equal(o Profile) bool {
	return p.UserID == o.UserID &&
		p.Approved == o.Approved &&
		p.Blocked == o.Blocked &&
		slices.Equal(p.Roles, o.Roles) &&
		timeEqual(p.LastLogoutAt, o.LastLogoutAt) &&
		timeEqual(p.LastActiveAt, o.LastActiveAt) &&
		p.CreatedAt.Equal(o.CreatedAt)
}

// Patch is a partial profile update. Nil fields are left untouched.
type Patch struct {
	Roles        *[]string
	Approved     *bool
	Blocked      *bool
	LastLogoutAt *time.Time
	LastActiveAt *time.Time
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Roles == nil && p.Approved == nil && p.Blocked == nil &&
		p.LastLogoutAt == nil && p.LastActiveAt == nil
}

// Apply returns prof with the patch applied.
func (p Patch) Apply(prof Profile) (Profile, error) {
	out := prof.Clone()
	if p.Roles != nil {
		roles := compactRoles(*p.Roles)
		if len(roles) == 0 {
			return prof, ErrEmptyRoles
		}
		out.Roles = roles
	}
	if p.Approved != nil {
		out.Approved = *p.Approved
	}
	if p.Blocked != nil {
		out.Blocked = *p.Blocked
	}
	if p.LastLogoutAt != nil {
		t := p.LastLogoutAt.UTC()
		out.LastLogoutAt = &t
	}
	if p.LastActiveAt != nil {
		t := p.LastActiveAt.UTC()
		out.LastActiveAt = &t
	}
	return out, nil
}

func compactRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" || slices.Contains(out, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
