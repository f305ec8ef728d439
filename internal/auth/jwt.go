package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fieldsync-server/internal/model"
)

type Claims struct {
	UserID     int64  `json:"uid"`
	Login      string `json:"login"`
	RoleClaims string `json:"claims"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: 7 * 24 * time.Hour,
		Issuer: "fieldsync-server",
	}
}

func CreateToken(user model.UserRecord, claims string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if user.ID <= 0 || user.Login == "" {
		return "", errors.New("missing user")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}
	jti := hex.EncodeToString(jtiBytes)

	tokenClaims := Claims{
		UserID:     user.ID,
		Login:      user.Login,
		RoleClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(cfg.Expiry)),
			ID:        jti,
			Subject:   user.Login,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims)
	return token.SignedString([]byte(cfg.Secret))
}

func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// Principal builds the request identity out of verified claims.
func (c *Claims) Principal() *model.Principal {
	return &model.Principal{
		ID:           c.UserID,
		Login:        c.Login,
		IsAuthorized: c.UserID > 0,
		Claims:       SplitClaims(c.RoleClaims),
	}
}

// SplitClaims parses the stored ".inspector.manager." form into an ordered
// list of role names.
func SplitClaims(raw string) []string {
	trimmed := strings.Trim(raw, ".")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ".")
}
