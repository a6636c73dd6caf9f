package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"qms/scheduler/internal/logging"

	"github.com/golang-jwt/jwt/v4"
)

const (
	RoleStudent = "student"
	RoleVisitor = "visitor"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

var errInvalidIdentity = errors.New("invalid identity")

type authContextKey struct{}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleAdmin
}

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves the caller from an HS256 bearer token, or from
// gateway headers when no secret is configured.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := a.identify(r)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		if sw, ok := w.(*statusWriter); ok {
			sw.userID = identity.UserID
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, identity)
		ctx = logging.ToContext(ctx, logging.FromContext(ctx).WithField("user_id", identity.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) identify(r *http.Request) (Identity, error) {
	if len(a.secret) == 0 {
		return identityFromHeaders(r)
	}
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: missing bearer token", errInvalidIdentity)
	}
	return a.parseToken(raw)
}

func (a *Authenticator) parseToken(raw string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid token", errInvalidIdentity)
	}
	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	return newIdentity(userID, claims.Role)
}

// SignToken issues a token the middleware accepts. Used by tooling and tests.
func (a *Authenticator) SignToken(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func identityFromHeaders(r *http.Request) (Identity, error) {
	return newIdentity(r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role"))
}

func newIdentity(userID, role string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user", errInvalidIdentity)
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		role = RoleVisitor
	case RoleStudent, RoleVisitor, RoleStaff, RoleAdmin:
	default:
		return Identity{}, fmt.Errorf("%w: unknown role %q", errInvalidIdentity, role)
	}
	return Identity{UserID: userID, Role: role}, nil
}

func identityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(authContextKey{}).(Identity)
	return identity, ok
}

func requireStaff(w http.ResponseWriter, r *http.Request) bool {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing identity")
		return false
	}
	if !identity.IsStaff() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "staff access required")
		return false
	}
	return true
}

func requireSelfOrStaff(w http.ResponseWriter, r *http.Request, userID string) bool {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing identity")
		return false
	}
	if identity.IsStaff() || identity.UserID == userID {
		return true
	}
	writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "access denied")
	return false
}

// resolveUser picks the user a request acts for. Staff may act for anyone;
// everyone else only for themselves.
func resolveUser(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing identity")
		return "", false
	}
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return identity.UserID, true
	}
	if requested != identity.UserID && !identity.IsStaff() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "cannot act for another user")
		return "", false
	}
	return requested, true
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
