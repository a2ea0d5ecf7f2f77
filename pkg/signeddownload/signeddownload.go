package signeddownload

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultExpireAfter = 24 * time.Hour

type Client struct {
	jwtSecret []byte
}

// DownloadTokenClaims grants access to one library entry until it expires.
type DownloadTokenClaims struct {
	EntryID string `json:"entry"`
	jwt.RegisteredClaims
}

func NewClient(secret []byte) *Client {
	return &Client{
		jwtSecret: secret,
	}
}

func (s *Client) GenerateDownloadToken(entryID string, expireAfter time.Duration) (string, error) {
	if expireAfter <= 0 {
		expireAfter = DefaultExpireAfter
	}
	now := time.Now()
	claims := DownloadTokenClaims{
		EntryID: entryID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "shortrec",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expireAfter)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Client) ParseDownloadToken(tokenString string) (*DownloadTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DownloadTokenClaims{}, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*DownloadTokenClaims); ok && token.Valid && claims.EntryID != "" {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
