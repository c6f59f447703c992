package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrMissingSubject = errors.New("jwt: uid and sid are required")
	ErrInvalidToken   = errors.New("jwt: invalid access token")
	ErrSigningKey     = errors.New("jwt: invalid signing key")
)

// Config holds token lifetime, keys and validation settings. An ed25519
// manager without PrivateKey can only verify.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// AccessClaims binds a token to one server-side session.
type AccessClaims struct {
	UID string `json:"uid"`
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and verifies access tokens.
type Manager struct {
	ttl    time.Duration
	issuer string
	method jwt.SigningMethod
	sign   any
	verify any
	parser *jwt.Parser
}

// NewManager resolves the key material in cfg once and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt: AccessTTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: Leeway must be between 0 and 2m")
	}

	m := &Manager{ttl: cfg.AccessTTL, issuer: cfg.Issuer}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a private key")
		}
		key := append([]byte(nil), cfg.PrivateKey...)
		m.method, m.sign, m.verify = jwt.SigningMethodHS256, key, key
	case MethodEd25519:
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.method, m.verify = jwt.SigningMethodEdDSA, pub
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.sign = priv
		}
	default:
		return nil, errors.New("jwt: unsupported signing method")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

// CreateAccess signs a token for session sid of user uid.
func (m *Manager) CreateAccess(uid, sid string) (string, error) {
	if uid == "" || sid == "" {
		return "", ErrMissingSubject
	}
	if m.sign == nil {
		return "", ErrSigningKey
	}
	now := time.Now()
	claims := AccessClaims{
		UID: uid,
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(m.method, claims).SignedString(m.sign)
}

// ParseAccess verifies tokenStr and returns its claims. Only the configured
// algorithm is accepted and both uid and sid must be present.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, err := m.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return m.verify, nil
	}); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, ErrSigningKey
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrSigningKey
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, ErrSigningKey
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, ErrSigningKey
	}
	return edKey, nil
}
