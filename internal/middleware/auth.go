// Package middleware содержит HTTP middleware для сервиса photocredit.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/photocredit/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
)

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
	secure    bool
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный: сессии не переживут перезапуск процесса.
func NewAuthMiddleware(secret string, secureCookie bool) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		secure:    secureCookie,
	}
}

// Middleware требует валидный cookie авторизации и добавляет пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := a.principalFromRequest(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Optional добавляет пользователя в контекст, если cookie присутствует и валиден.
// Запросы без cookie пропускаются дальше без изменений.
func (a *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal, ok := a.principalFromRequest(r); ok {
			r = r.WithContext(WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, principal *model.Principal) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(principal),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) principalFromRequest(r *http.Request) (*model.Principal, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return nil, false
	}
	return a.parseCookie(cookie.Value)
}

// Значение cookie: "<id>.<base64url(email)>.<hex(hmac)>".
func (a *AuthMiddleware) sign(principal *model.Principal) string {
	payload := strconv.FormatInt(principal.UserID, 10) + "." +
		base64.RawURLEncoding.EncodeToString([]byte(principal.Email))
	return payload + "." + a.mac(payload)
}

func (a *AuthMiddleware) mac(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(value string) (*model.Principal, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 3 {
		return nil, false
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(a.mac(payload))) {
		return nil, false
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}

	email, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}

	return &model.Principal{UserID: id, Email: string(email)}, true
}

// WithPrincipal возвращает контекст с аутентифицированным пользователем.
func WithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext извлекает аутентифицированного пользователя из контекста запроса.
// Возвращает nil, если запрос не аутентифицирован.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey).(*model.Principal)
	return p
}
