package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corecastapp/corecast-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// ServiceTokenClaims identify a calling service on internal endpoints such as
// the job status API.
type ServiceTokenClaims struct {
	ServiceName string `json:"svc"`
	jwt.RegisteredClaims
}

// MintServiceToken issues a signed JWT naming the calling service.
func MintServiceToken(cfg config.ServiceAuthConfig, now time.Time, serviceName string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("service auth secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("service auth issuer is required")
	}
	if serviceName == "" {
		return "", fmt.Errorf("service name is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	claims := ServiceTokenClaims{
		ServiceName: serviceName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   serviceName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseServiceToken validates the JWT string and returns typed claims.
func ParseServiceToken(cfg config.ServiceAuthConfig, tokenString string) (*ServiceTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("service auth secret is required")
	}

	claims := &ServiceTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}
	if claims.ServiceName == "" {
		claims.ServiceName = claims.Subject
	}
	if claims.ServiceName == "" {
		return nil, fmt.Errorf("token carries no service name")
	}
	return claims, nil
}
