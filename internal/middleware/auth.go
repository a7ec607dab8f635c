package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/finanspro/dbo/internal/config"
	"github.com/finanspro/dbo/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the session in a signed token. Subject is the user id.
type Claims struct {
	Role     model.Role `json:"role"`
	ClientID string     `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewAuth(cfg config.AuthConfig) *Auth {
	return &Auth{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
	}
}

// IssueToken signs a token for sess.
func (a *Auth) IssueToken(sess model.Session, now time.Time) (string, error) {
	claims := Claims{
		Role: sess.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.UserID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	if sess.ClientID != nil {
		claims.ClientID = sess.ClientID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates raw and rebuilds the session it carries.
func (a *Auth) ParseToken(raw string) (model.Session, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return model.Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	sess := model.Session{UserID: userID, Role: claims.Role}
	if claims.ClientID != "" {
		clientID, err := uuid.Parse(claims.ClientID)
		if err != nil {
			return model.Session{}, fmt.Errorf("%w: bad client id", ErrInvalidToken)
		}
		sess.ClientID = &clientID
	}
	if sess.Role == model.RoleClient && sess.ClientID == nil {
		return model.Session{}, fmt.Errorf("%w: client token without client id", ErrInvalidToken)
	}
	return sess, nil
}

// Authenticate rejects requests without a valid bearer token and stores
// the resolved session in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		sess, err := a.ParseToken(raw)
		if err != nil {
			GetLogger(r.Context()).Warn().Err(err).Msg("rejected token")
			unauthorized(w, "invalid or expired token")
			return
		}

		sessLogger := GetLogger(r.Context()).With().
			Str("user_id", sess.UserID.String()).
			Str("role", string(sess.Role)).
			Logger()

		ctx := WithSession(r.Context(), sess)
		ctx = WithLogger(ctx, &sessLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": "unauthorized", "message": message},
	})
}

func WithSession(ctx context.Context, sess model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

func GetSession(ctx context.Context) (model.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(model.Session)
	return sess, ok
}
