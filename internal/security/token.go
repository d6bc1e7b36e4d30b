package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DashboardClaims carries the tenant identity inside a dashboard JWT.
type DashboardClaims struct {
	TenantID uint64 `json:"tenant_id"`
	jwt.RegisteredClaims
}

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// IssueDashboardToken signs a tenant-scoped HS256 token.
func IssueDashboardToken(secret string, expiry time.Duration, tenantID uint64) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	if tenantID == 0 {
		return "", errors.New("tenant id is required")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	now := time.Now()
	claims := DashboardClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseDashboardToken validates a tenant token and returns its claims.
func ParseDashboardToken(secret, tokenString string) (*DashboardClaims, error) {
	secret = strings.TrimSpace(secret)
	tokenString = strings.TrimSpace(tokenString)
	if secret == "" || tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims DashboardClaims
	token, errParse := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID == 0 {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
