package httpx

import (
	"context"
	"net/http"
	"strings"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleUser    = "ROLE_USER"
	RoleAdmin   = "ROLE_ADMIN"
	RoleCoAdmin = "ROLE_CO_ADMIN"
)

// Identity is the caller as resolved by the upstream identity service.
type Identity struct {
	UserRef string
	Role    string
}

func (id Identity) Is(roles ...string) bool {
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}

func (id Identity) Staff() bool { return id.Is(RoleAdmin, RoleCoAdmin) }

type identityKey struct{}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func NormaliseRole(role string) string {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return RoleUser
	}
	if !strings.HasPrefix(role, "ROLE_") {
		role = "ROLE_" + role
	}
	return role
}

// Authenticate rejects requests without a forwarded user id.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if user == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller identity"})
			return
		}
		id := Identity{UserRef: user, Role: NormaliseRole(r.Header.Get(HeaderUserRole))}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// RequireRole must run after Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller identity"})
				return
			}
			if !id.Is(roles...) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
