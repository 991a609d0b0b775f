package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "deskbridge"

// Claims represents the dashboard session token.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies dashboard session tokens with HS256.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer for secret. now may be nil.
func NewIssuer(secret []byte, now func() time.Time) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: secret, now: now}, nil
}

// GenerateToken signs a token identifying userID.
func (i *Issuer) GenerateToken(userID, email string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}

	now := i.now().UTC()
	claims := Claims{
		Email: strings.TrimSpace(email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (i *Issuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := i.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(i.now().Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	return nil
}

// User is the authenticated dashboard user attached to a request.
type User struct {
	ID    string
	Email string
}

type userContextKey struct{}

// ContextWithUser stores user identity in the context.
func ContextWithUser(ctx context.Context, userID, email string) context.Context {
	return context.WithValue(ctx, userContextKey{}, User{
		ID:    strings.TrimSpace(userID),
		Email: strings.TrimSpace(email),
	})
}

// UserFromContext extracts the authenticated user from context.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	u, ok := ctx.Value(userContextKey{}).(User)
	if !ok || u.ID == "" {
		return User{}, false
	}
	return u, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u, ok := UserFromContext(ctx)
	return u.ID, ok
}
