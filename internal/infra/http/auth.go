package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"engagement-hub/internal/domain"
)

// DefaultScope используется в режиме разработки без заголовка X-Scope.
const DefaultScope = "default"

// Principal — участник, от имени которого выполняется запрос.
type Principal struct {
	Subject string
	Scope   string
	Role    domain.Role
}

type principalKey struct{}

// WithPrincipal кладёт участника в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom достаёт участника из контекста.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type tokenClaims struct {
	Scope string `json:"scope"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var errNoToken = errors.New("bearer token is missing")

// AuthMiddleware проверяет HS256 JWT с claims scope, role и sub.
// С пустым секретом область берётся из X-Scope, а роль считается admin.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p Principal
			if secret == "" {
				p = devPrincipal(r)
			} else {
				var err error
				p, err = parseBearer(r.Header.Get("Authorization"), key)
				if err != nil {
					writeStatus(w, http.StatusUnauthorized, "unauthorized", err.Error())
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func devPrincipal(r *http.Request) Principal {
	scope := strings.TrimSpace(r.Header.Get("X-Scope"))
	if scope == "" {
		scope = DefaultScope
	}
	subject := strings.TrimSpace(r.Header.Get("X-User"))
	if subject == "" {
		subject = "dev"
	}
	return Principal{Subject: subject, Scope: scope, Role: domain.RoleAdmin}
}

func parseBearer(header string, key []byte) (Principal, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Principal{}, errNoToken
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("недействительный токен: %w", err)
	}
	if strings.TrimSpace(claims.Scope) == "" {
		return Principal{}, errors.New("token has no scope")
	}
	return Principal{
		Subject: claims.Subject,
		Scope:   claims.Scope,
		Role:    domain.ParseRole(claims.Role),
	}, nil
}

// IssueToken подписывает токен для участника. Нулевой ttl выпускает бессрочный токен.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	claims := tokenClaims{
		Scope: p.Scope,
		Role:  string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.Subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequirePermission пропускает запрос, если роли участника достаточно для действия.
func RequirePermission(perm domain.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeStatus(w, http.StatusUnauthorized, "unauthorized", errNoToken.Error())
				return
			}
			if !p.Role.Allows(perm) {
				writeStatus(w, http.StatusForbidden, "forbidden", fmt.Sprintf("role %s cannot %s", p.Role, perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
