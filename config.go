package gatekeeper

import (
	"errors"
	"strings"
	"time"

	"github.com/zsportal/gatekeeper/internal/guards"
)

// Config holds every tunable of a [Gate]. Build clones it, so later edits
// to the caller's copy have no effect.
type Config struct {
	Paths        Paths
	Guard        GuardConfig
	Session      SessionConfig
	Profile      ProfileConfig
	Flags        FlagsConfig
	JWT          JWTConfig
	Password     PasswordConfig
	SignIn       SignInConfig
	Verification VerificationConfig
	Account      AccountConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// Paths names the redirect targets of the guard chain.
type Paths = guards.Paths

/*
====================================
GUARD CONFIG
====================================
*/

// GuardConfig bounds the waits of one navigation.
//
// ProfileTimeout caps how long stage 2 waits for the profile to load.
// StreamLoadTimeout, when positive, makes the shared user stream itself
// report an unavailable profile after that long; it is off by default so
// only navigations time out. SignOutTimeout bounds the forced sign-out
// effect.
type GuardConfig struct {
	ProfileTimeout    time.Duration
	StreamLoadTimeout time.Duration
	SignOutTimeout    time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis identity-session store.
type SessionConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
PROFILE CONFIG
====================================
*/

// ProfileConfig configures the built-in Redis profile store.
type ProfileConfig struct {
	RedisPrefix string
}

/*
====================================
FEATURE FLAGS CONFIG
====================================
*/

// FlagsConfig configures the built-in Redis flag store.
type FlagsConfig struct {
	RedisKey string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
	UpgradeOnSignIn  bool
}

/*
====================================
SIGN-IN CONFIG
====================================
*/

// SignInConfig throttles failed sign-ins per email and optionally per IP.
type SignInConfig struct {
	MaxAttempts      int
	Cooldown         time.Duration
	EnableIPThrottle bool
}

/*
====================================
EMAIL VERIFICATION CONFIG
====================================
*/

// VerificationConfig configures email verification challenges.
type VerificationConfig struct {
	RedisPrefix   string
	TTL           time.Duration
	MaxAttempts   int
	MaxRequests   int
	RequestWindow time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig configures registration.
//
// AdminEmails are registered approved with the admin role; with
// AutoApprove every new account starts approved.
type AccountConfig struct {
	CredentialPrefix string
	AutoApprove      bool
	AdminEmails      []string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. JWT keys must still be
// supplied before sign-in can issue tokens.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Paths: guards.DefaultPaths(),
		Guard: GuardConfig{
			ProfileTimeout: guards.DefaultTimeout,
			SignOutTimeout: 2 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "gs",
			TTL:         24 * time.Hour,
		},
		Profile: ProfileConfig{
			RedisPrefix: "gp",
		},
		Flags: FlagsConfig{
			RedisKey: "gf:flags",
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "gatekeeper",
		},
		Password: PasswordConfig{
			Memory:          65536,
			Time:            3,
			Parallelism:     2,
			SaltLength:      16,
			KeyLength:       32,
			UpgradeOnSignIn: true,
		},
		SignIn: SignInConfig{
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
		},
		Verification: VerificationConfig{
			RedisPrefix:   "gv",
			TTL:           30 * time.Minute,
			MaxAttempts:   5,
			MaxRequests:   3,
			RequestWindow: 15 * time.Minute,
		},
		Account: AccountConfig{
			CredentialPrefix: "gc",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Account.AdminEmails != nil {
		out.Account.AdminEmails = append([]string(nil), cfg.Account.AdminEmails...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Paths
	for _, p := range []string{c.Paths.Login, c.Paths.VerifyEmail, c.Paths.PendingApproval, c.Paths.Fallback} {
		if p != "" && !strings.HasPrefix(p, "/") {
			return errors.New("Paths must be absolute local paths")
		}
	}

	// Guard
	if c.Guard.ProfileTimeout <= 0 {
		return errors.New("Guard ProfileTimeout must be > 0")
	}
	if c.Guard.StreamLoadTimeout < 0 {
		return errors.New("Guard StreamLoadTimeout must be >= 0")
	}
	if c.Guard.SignOutTimeout <= 0 {
		return errors.New("Guard SignOutTimeout must be > 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL > c.Session.TTL {
		return errors.New("JWT AccessTTL must not exceed Session TTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0) != (len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires both PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) > 0 && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// Sign-in
	if c.SignIn.MaxAttempts < 0 {
		return errors.New("SignIn MaxAttempts must be >= 0")
	}
	if c.SignIn.MaxAttempts > 0 && c.SignIn.Cooldown <= 0 {
		return errors.New("SignIn Cooldown must be > 0 when MaxAttempts is set")
	}

	// Verification
	if c.Verification.TTL <= 0 {
		return errors.New("Verification TTL must be > 0")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("Verification MaxAttempts must be > 0")
	}
	if c.Verification.MaxRequests < 0 {
		return errors.New("Verification MaxRequests must be >= 0")
	}
	if c.Verification.MaxRequests > 0 && c.Verification.RequestWindow <= 0 {
		return errors.New("Verification RequestWindow must be > 0 when MaxRequests is set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
