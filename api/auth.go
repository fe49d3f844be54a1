/*
auth.go - Bearer token authentication and actor context

PURPOSE:
  Turns the identity collaborator's bearer token into a generic.Actor and puts
  it on the request context. Handlers read it back with actorFrom and pass it
  explicitly into every billing operation.

TOKEN FORMAT:
  HS256-signed JWT with claims:
    sub         actor ID (resident or admin user ID)
    role        "admin" | "resident"
    society_id  society scope of the actor

  A missing, malformed, expired or incompletely-scoped token is a 401.

SEE ALSO:
  - generic/actor.go: Actor, RequireAdmin, RequireSociety
  - cmd/server/main.go: JWT_SECRET wiring
*/
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/maintenance-engine/generic"
)

// Claims defines the structure of the JWT claims.
type Claims struct {
	Role      string `json:"role"`
	SocietyID string `json:"society_id"`
	jwt.RegisteredClaims
}

// Actor converts validated claims to the billing actor.
func (c *Claims) Actor() (generic.Actor, error) {
	role := generic.Role(c.Role)
	if role != generic.RoleAdmin && role != generic.RoleResident {
		return generic.Actor{}, fmt.Errorf("unknown role %q", c.Role)
	}
	if c.Subject == "" || c.SocietyID == "" {
		return generic.Actor{}, errors.New("token is missing subject or society scope")
	}
	return generic.Actor{
		ID:        generic.ActorID(c.Subject),
		Role:      role,
		SocietyID: generic.SocietyID(c.SocietyID),
	}, nil
}

// SignActorToken issues a token for an actor. Used by the demo scenarios and
// tests; production tokens come from the identity service.
func SignActorToken(actor generic.Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:      string(actor.Role),
		SocietyID: string(actor.SocietyID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, nil
}

// ParseActorToken verifies a token string and returns its actor.
func ParseActorToken(tokenString, secret string) (generic.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return generic.Actor{}, fmt.Errorf("failed to parse JWT: %w", err)
	}
	if !token.Valid {
		return generic.Actor{}, errors.New("invalid JWT")
	}
	return claims.Actor()
}

// AuthMiddleware requires a valid bearer token on every request it wraps.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}

			actor, err := ParseActorToken(strings.TrimSpace(tokenString), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(generic.WithActor(r.Context(), actor)))
		})
	}
}

// actorFrom returns the authenticated actor. Routes behind AuthMiddleware
// always have one.
func actorFrom(r *http.Request) (generic.Actor, bool) {
	return generic.ActorFrom(r.Context())
}
