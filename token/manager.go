// Package token issues and decodes the three wire credentials of the
// identity layer: access, refresh, and MFA-session JWTs, all HS256.
// Decoding returns a closed set of payload variants so callers match
// exhaustively instead of poking at claim maps.
package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type tags a decoded payload. The set is closed: access, refresh,
// mfa_session.
type Type string

const (
	// TypeAccess is a short-lived resource credential bound to a session.
	TypeAccess Type = "access"
	// TypeRefresh is a single-use rotation credential carrying a jti.
	TypeRefresh Type = "refresh"
	// TypeMFASession is the intermediate credential issued between the
	// password check and MFA verification. It carries no session and must
	// never be accepted by resource endpoints.
	TypeMFASession Type = "mfa_session"
)

var (
	// ErrExpired is returned when a token's exp claim has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for bad signatures and undecodable tokens.
	ErrInvalid = errors.New("token invalid")
	// ErrMalformed is returned when a token decodes but its claims do not
	// satisfy the requirements of its declared type.
	ErrMalformed = errors.New("token malformed")
)

// Config holds the signing material and per-type lifetimes. Instances
// are immutable after NewManager.
type Config struct {
	Secret        []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFASessionTTL time.Duration
	Leeway        time.Duration
}

// Manager signs and verifies the three token types. Safe for concurrent
// use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.MFASessionTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// Payload is the closed union of decoded token contents.
type Payload interface {
	// Kind reports which variant this payload is.
	Kind() Type
}

// Access is the decoded payload of an access token.
type Access struct {
	UserID    int64
	TenantID  int64
	SessionID string
	ExpiresAt time.Time
}

// Kind implements Payload.
func (Access) Kind() Type { return TypeAccess }

// Refresh is the decoded payload of a refresh token.
type Refresh struct {
	UserID    int64
	TenantID  int64
	SessionID string
	JTI       string
	ExpiresAt time.Time
}

// Kind implements Payload.
func (Refresh) Kind() Type { return TypeRefresh }

// MFASession is the decoded payload of an MFA-session token.
type MFASession struct {
	UserID    int64
	TenantID  int64
	ExpiresAt time.Time
}

// Kind implements Payload.
func (MFASession) Kind() Type { return TypeMFASession }

type wireClaims struct {
	TenantID  int64  `json:"tenant_id"`
	SessionID string `json:"session_id,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// IssueAccess signs an access token bound to the session.
func (m *Manager) IssueAccess(userID, tenantID int64, sessionID string, now time.Time) (string, error) {
	return m.sign(wireClaims{
		TenantID:  tenantID,
		SessionID: sessionID,
		TokenType: string(TypeAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	})
}

// IssueRefresh signs a refresh token with a fresh jti and returns both.
// The jti is the token's identity in the redemption chain.
func (m *Manager) IssueRefresh(userID, tenantID int64, sessionID string, now time.Time) (string, string, error) {
	jti := uuid.NewString()
	signed, err := m.sign(wireClaims{
		TenantID:  tenantID,
		SessionID: sessionID,
		TokenType: string(TypeRefresh),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        jti,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshTTL)),
		},
	})
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// IssueMFASession signs the intermediate credential returned when the
// password check passes but MFA is still pending.
func (m *Manager) IssueMFASession(userID, tenantID int64, now time.Time) (string, error) {
	return m.sign(wireClaims{
		TenantID:  tenantID,
		TokenType: string(TypeMFASession),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.MFASessionTTL)),
		},
	})
}

// RefreshTTL exposes the configured refresh lifetime so callers can
// persist matching row expiries.
func (m *Manager) RefreshTTL() time.Duration {
	return m.config.RefreshTTL
}

// AccessTTL exposes the configured access lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

func (m *Manager) sign(claims wireClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.config.Secret)
}

// Decode verifies the signature and standard claims, then narrows the
// token into its typed variant. Errors: ErrExpired for elapsed tokens,
// ErrInvalid for bad signatures or undecodable input, ErrMalformed when
// a verified token misses required per-type claims.
func (m *Manager) Decode(tokenStr string) (Payload, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &wireClaims{}, func(*jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*wireClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	return narrow(claims)
}

func narrow(claims *wireClaims) (Payload, error) {
	userID, err := ExtractUserID(claims.Subject)
	if err != nil {
		return nil, err
	}
	if claims.TenantID <= 0 || claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}
	expiresAt := claims.ExpiresAt.Time

	switch Type(claims.TokenType) {
	case TypeAccess:
		if claims.SessionID == "" {
			return nil, ErrMalformed
		}
		return Access{UserID: userID, TenantID: claims.TenantID, SessionID: claims.SessionID, ExpiresAt: expiresAt}, nil
	case TypeRefresh:
		if claims.SessionID == "" || claims.ID == "" {
			return nil, ErrMalformed
		}
		return Refresh{UserID: userID, TenantID: claims.TenantID, SessionID: claims.SessionID, JTI: claims.ID, ExpiresAt: expiresAt}, nil
	case TypeMFASession:
		if claims.SessionID != "" {
			return nil, ErrMalformed
		}
		return MFASession{UserID: userID, TenantID: claims.TenantID, ExpiresAt: expiresAt}, nil
	default:
		return nil, ErrMalformed
	}
}

// ExtractUserID validates that sub is a positive integer and returns it.
func ExtractUserID(sub string) (int64, error) {
	if sub == "" {
		return 0, ErrMalformed
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformed
	}
	return id, nil
}
