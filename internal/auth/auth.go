// Package auth turns bearer tokens into verified identities.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingToken = errors.New("missing token")
var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity carried by a verified token.
type Claims struct {
	UserID   string
	Username string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(parsed.UserID) == "" {
		return Claims{}, fmt.Errorf("%w: userId claim is required", ErrInvalidToken)
	}
	return Claims{UserID: parsed.UserID, Username: parsed.Username}, nil
}

// Sign issues a token for c. ttl <= 0 means no expiry.
func (v *Verifier) Sign(c Claims, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.UserID,
			IssuedAt: jwt.NewNumericDate(v.now()),
		},
		UserID:   c.UserID,
		Username: c.Username,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(v.now().Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest reads a bearer token from the Authorization header,
// falling back to the token query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return r.URL.Query().Get("token")
}
