package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// NewFederationMiddleware защищает федеративную поверхность mapd.
// Пропускает запрос, если bearer-токен совпадает с общим секретом федерации
// (сравнение константного времени — это граница доверия), либо если
// предъявлен валидный операторский RS256-токен (validator может быть nil,
// когда консольные ключи не сконфигурированы).
func NewFederationMiddleware(secret string, validator TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			if secret != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			if validator != nil {
				if _, err := validator.VerifyToken(token); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Warn("federation auth failure", zap.String("remote", r.RemoteAddr))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
