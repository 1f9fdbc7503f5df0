package tcpb

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type joinClaims struct {
	Rank int `json:"rank"`
	jwt.RegisteredClaims
}

// signJoinToken produces a short-lived HMAC-signed token asserting this
// image's rank, so a misconfigured process cannot silently join a
// running distributed job (config.JoinSecret opts in).
func signJoinToken(secret string, rank int) (string, error) {
	claims := joinClaims{
		Rank: rank,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

func verifyJoinToken(token, secret string, wantRank int) error {
	claims := &joinClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid join token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid join token")
	}
	if claims.Rank != wantRank {
		return fmt.Errorf("join token rank %d does not match handshake rank %d", claims.Rank, wantRank)
	}
	return nil
}
