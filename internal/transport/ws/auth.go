package ws

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the connection-scoped principal. Anonymous viewers carry
// empty fields; only the ops audience and weighted votes need more.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) Anonymous() bool { return i.UserID == "" }

// CanJoinOps gates the operator audience.
func (i Identity) CanJoinOps() bool {
	return i.Role == "admin" || i.Role == "organizer"
}

type claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier resolves an optional bearer token into an Identity. A missing
// token yields an anonymous identity; an invalid one is an error so a
// client presenting bad credentials is told, not silently downgraded.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Identify extracts identity from the Authorization header or, for browser
// WebSocket clients that cannot set headers, the token query parameter.
func (v *Verifier) Identify(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, nil
	}
	if v == nil {
		// no secret configured; tokens cannot be checked, treat as anonymous
		return Identity{}, nil
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	return Identity{UserID: c.UserID, Role: c.Role}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
