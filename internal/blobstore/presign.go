package blobstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "drive-blobstore"

// URLSigner issues and verifies download tokens for stores that cannot
// presign natively.
type URLSigner struct {
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewURLSigner returns a signer producing URLs under baseURL.
func NewURLSigner(baseURL string, key []byte) (*URLSigner, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	if baseURL == "" {
		baseURL = "drive://blob"
	}
	return &URLSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		now:     time.Now,
	}, nil
}

type blobClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Sign returns "<base>/<key>?token=<jwt>" valid for ttl.
func (s *URLSigner) Sign(key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	now := s.now()
	claims := blobClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s.baseURL + "/" + escapeKey(key) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks token and returns the blob key it grants.
func (s *URLSigner) Verify(token string) (string, error) {
	var claims blobClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("verifying token: %w", err)
	}
	return claims.Key, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// randomSigner is used when no signing key is configured; its URLs do not
// survive a restart.
func randomSigner(baseURL string) *URLSigner {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("reading random signing key: %v", err))
	}
	s, _ := NewURLSigner(baseURL, key)
	return s
}
