package userservice

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aleksmelnikov/bloghub/internal/common"
)

type tokenClaims struct {
	UserID int `json:"userId"`
	jwt.RegisteredClaims
}

func (s *UserService) issueToken(userID int, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	return token.SignedString(s.secret)
}

// DecodeToken verifies the session token and returns the user id it was
// issued to. Signature and expiry are checked from the token alone, no I/O.
func (s *UserService) DecodeToken(token string) (int, error) {
	claims := &tokenClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, common.NewInvalidTokenError()
	}

	return claims.UserID, nil
}
