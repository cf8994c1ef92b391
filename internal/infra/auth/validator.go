package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// ErrInvalidToken — любой отказ проверки консольного токена: битая
// подпись, истекший срок, чужой алгоритм.
var ErrInvalidToken = errors.New("auth: invalid token")

// BaseValidator проверяет RS256-токены консоли. Встраивается в
// AuthService, чтобы выпуск и проверка жили на одной паре ключей.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		// Принимаем только RS256: подсунутый HS256 с публичным ключом
		// в роли секрета отрезается до проверки подписи
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})),
	}
}

// VerifyToken принимает заголовок как есть, с префиксом Bearer или без.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenStr), "Bearer "))

	claims := &domain.CustomClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRSAPublicKey читает PEM-блок ключа проверки подписи. Нужен обеим
// плоскостям: mapd поднимает им периметр, консоль — валидатор.
func ParseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	if len(pemData) == 0 {
		return nil, errors.New("auth: public key PEM is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey читает PEM-блок ключа подписи. Живет только в
// консоли: mapd токены не выпускает.
func ParseRSAPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	if len(pemData) == 0 {
		return nil, errors.New("auth: private key PEM is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	return key, nil
}
