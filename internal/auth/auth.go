// Package auth verifies session tokens issued by the account service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chat_relay/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const CookieName = "token"

var ErrNoToken = errors.New("no token")

type contextKey string

const userKey contextKey = "auth_user"

// Claims carries the user id the token was issued for.
type Claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type Verifier struct {
	secret []byte
	users  UserLookup
	log    zerolog.Logger
}

func NewVerifier(secret string, users UserLookup, log zerolog.Logger) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		users:  users,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

// Issue signs an HS256 token for userID. Tokens are normally minted by the
// account service with the same secret.
func (v *Verifier) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ParseToken checks signature and expiry and returns the user id.
func (v *Verifier) ParseToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, jwt.ErrSignatureInvalid
	}
	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subject: %w", err)
	}
	return id, nil
}

// Authenticate resolves the request's token to a user summary.
func (v *Verifier) Authenticate(r *http.Request) (domain.UserSummary, error) {
	raw := tokenFrom(r)
	if raw == "" {
		return domain.UserSummary{}, ErrNoToken
	}
	id, err := v.ParseToken(raw)
	if err != nil {
		return domain.UserSummary{}, err
	}
	user, err := v.users.GetUser(r.Context(), id)
	if err != nil {
		return domain.UserSummary{}, fmt.Errorf("failed to load user %s: %w", id, err)
	}
	return user.Summary(), nil
}

// Require rejects requests without a valid session with 401.
func (v *Verifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := v.Authenticate(r)
		if err != nil {
			v.log.Debug().Err(err).Str("path", r.URL.Path).Msg("Unauthorized request")
			msg := "Token is not valid"
			if errors.Is(err, ErrNoToken) {
				msg = "No token, authorization denied"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Optional attaches the user when the token is valid and otherwise lets the request through.
func (v *Verifier) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := v.Authenticate(r); err == nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func WithUser(ctx context.Context, user domain.UserSummary) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func FromContext(ctx context.Context) (domain.UserSummary, bool) {
	user, ok := ctx.Value(userKey).(domain.UserSummary)
	return user, ok
}

func tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if q := r.URL.Query().Get(CookieName); q != "" {
		return q
	}
	return ""
}
