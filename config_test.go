package gatekeeper

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with hs256 key valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "relative login path invalid",
			mutate: func(c *Config) {
				c.Paths.Login = "auth/login"
			},
			wantValid: false,
		},
		{
			name: "empty paths fall back to defaults",
			mutate: func(c *Config) {
				c.Paths = Paths{}
			},
			wantValid: true,
		},
		{
			name: "profile timeout zero invalid",
			mutate: func(c *Config) {
				c.Guard.ProfileTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "stream load timeout negative invalid",
			mutate: func(c *Config) {
				c.Guard.StreamLoadTimeout = -time.Second
			},
			wantValid: false,
		},
		{
			name: "access ttl above session ttl invalid",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 48 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "short hs256 key invalid",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "ed25519 private key without public key invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "jwt leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "password memory invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "sign-in cooldown required",
			mutate: func(c *Config) {
				c.SignIn.MaxAttempts = 3
				c.SignIn.Cooldown = 0
			},
			wantValid: false,
		},
		{
			name: "sign-in throttling disabled",
			mutate: func(c *Config) {
				c.SignIn.MaxAttempts = 0
				c.SignIn.Cooldown = 0
			},
			wantValid: true,
		},
		{
			name: "verification attempts invalid",
			mutate: func(c *Config) {
				c.Verification.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "audit buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestCloneConfigIsolatesSlices(t *testing.T) {
	cfg := testConfig()
	cfg.Account.AdminEmails = []string{"root@example.com"}

	clone := cloneConfig(cfg)
	cfg.JWT.PrivateKey[0] = 'X'
	cfg.Account.AdminEmails[0] = "other@example.com"

	if clone.JWT.PrivateKey[0] == 'X' {
		t.Fatal("private key shares backing array")
	}
	if clone.Account.AdminEmails[0] != "root@example.com" {
		t.Fatal("admin emails share backing array")
	}
}
