package oauthlink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer = "deskbridge/oauth-state"

	// DefaultStateTTL bounds how long a user may sit on Slack's consent page.
	DefaultStateTTL = 10 * time.Minute
)

// LinkState travels through Slack's authorize redirect and comes back on the
// callback. It is signed, so the callback can trust AuthUserID.
type LinkState struct {
	Flow       string
	AuthUserID string
	Email      string
	Nonce      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type stateClaims struct {
	Flow  string `json:"flow"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies LinkState tokens with HS256.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec returns a codec. ttl <= 0 means DefaultStateTTL; now may be nil.
func NewStateCodec(secret []byte, ttl time.Duration, now func() time.Time) (*StateCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("oauthlink: state secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateCodec{secret: secret, ttl: ttl, now: now}, nil
}

// Encode signs s. IssuedAt and ExpiresAt are set from the codec clock.
func (c *StateCodec) Encode(s LinkState) (string, error) {
	if s.Flow == "" || s.Nonce == "" {
		return "", fmt.Errorf("oauthlink: flow and nonce are required")
	}
	now := c.now().UTC().Truncate(time.Second)
	claims := stateClaims{
		Flow:  s.Flow,
		Email: s.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			Subject:   s.AuthUserID,
			ID:        s.Nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("oauthlink: sign state: %w", err)
	}
	return signed, nil
}

// Decode verifies token and checks that it was issued for flow.
func (c *StateCodec) Decode(token, flow string) (LinkState, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return LinkState{}, ErrInvalidState
	}
	parsed, err := jwt.ParseWithClaims(token, &stateClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidState
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithIssuer(stateIssuer), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return LinkState{}, ErrStateExpired
		}
		return LinkState{}, ErrInvalidState
	}
	claims, ok := parsed.Claims.(*stateClaims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.Flow != flow {
		return LinkState{}, ErrInvalidState
	}
	return LinkState{
		Flow:       claims.Flow,
		AuthUserID: claims.Subject,
		Email:      claims.Email,
		Nonce:      claims.ID,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
