package utils

import (
	"errors"
	"time"

	"RouterGate/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

type JWTClaims struct {
	UserName string `json:"username"`
	UserID   int64  `json:"user_id"`
	TenantID int64  `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// overwritten from the config file at startup
var jwtSecretKey = []byte("your_jwt_secret_key")

var expireDuration = time.Hour * 2 // default 2 hours

var ErrInvalidToken = errors.New("invalid token")

func SetJWTConfig(cfg *config.JWTConfig) {
	if cfg == nil {
		return
	}
	if cfg.Secret != "" {
		jwtSecretKey = []byte(cfg.Secret)
	}
	if cfg.ExpireDuration > 0 {
		expireDuration = time.Duration(cfg.ExpireDuration) * time.Second
	}
}

func GenerateToken(username string, userID, tenantID int64, role string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserName: username,
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expireDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecretKey)
}

func ParseToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return jwtSecretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
