// Package auth resolves the caller of a request from a bearer token.
// Tokens are issued elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the caller id in sub and the caller role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate reads the Authorization header of r and returns its caller.
func (v *Verifier) Authenticate(r *http.Request) (appointment.Caller, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return appointment.Caller{}, ErrMissingToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return appointment.Caller{}, fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
	}

	return v.Verify(strings.TrimSpace(parts[1]))
}

// Verify checks signature and expiry of a raw token and maps its claims.
func (v *Verifier) Verify(raw string) (appointment.Caller, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return appointment.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return appointment.Caller{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}

	role := appointment.Role(claims.Role)
	if !role.Valid() {
		return appointment.Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return appointment.Caller{ID: id, Role: role}, nil
}

// SignToken mints an HS256 token for caller. Used by the load simulator and
// tests; production tokens come from the identity service.
func SignToken(secret []byte, caller appointment.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(caller.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
