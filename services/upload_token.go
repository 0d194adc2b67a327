package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mirrormate/backend/models"
)

// UploadTokenService mints short-lived tokens that authorize a single
// PUT to a specific storage path. The token carries the path so the
// upload endpoint can reject a token replayed against another session's
// slot.
type UploadTokenService struct {
	secret []byte
}

func NewUploadTokenService(secret string) *UploadTokenService {
	return &UploadTokenService{secret: []byte(secret)}
}

type uploadClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// Mint returns a signed token for path, valid for ttl, and the wall
// clock expiry the client should present back to the user.
func (s *UploadTokenService) Mint(path string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := uploadClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "upload",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses tokenString and returns the storage path it authorizes.
func (s *UploadTokenService) Verify(tokenString string) (string, error) {
	claims := &uploadClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", &models.ValidationError{Detail: "invalid or expired upload token"}
	}
	if claims.Path == "" {
		return "", &models.ValidationError{Detail: "upload token missing path claim"}
	}
	return claims.Path, nil
}
