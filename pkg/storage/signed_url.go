package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid covers malformed and tampered tokens.
	ErrTokenInvalid = errors.New("invalid download token")
	// ErrTokenExpired is returned once the token's deadline has passed.
	ErrTokenExpired = errors.New("download token expired")
)

// SignedURLSigner creates and validates short-lived attachment download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// DownloadClaims is what a token grants.
type DownloadClaims struct {
	AttachmentID string
	Key          string
	ExpiresAt    time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a token granting access to the blob under key.
func (s *SignedURLSigner) Generate(attachmentID, key string) (string, time.Time, error) {
	if attachmentID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("attachment id and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	body := strings.Join([]string{
		attachmentID,
		strconv.FormatInt(expiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString([]byte(key)),
	}, ".")
	return body + "." + s.sign(body), expiresAt, nil
}

// Parse validates a token and returns its claims.
func (s *SignedURLSigner) Parse(token string) (DownloadClaims, error) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return DownloadClaims{}, ErrTokenInvalid
	}
	body, signature := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(s.sign(body)), []byte(signature)) {
		return DownloadClaims{}, ErrTokenInvalid
	}

	parts := strings.Split(body, ".")
	if len(parts) != 3 {
		return DownloadClaims{}, ErrTokenInvalid
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return DownloadClaims{}, ErrTokenInvalid
	}
	key, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return DownloadClaims{}, ErrTokenInvalid
	}
	claims := DownloadClaims{AttachmentID: parts[0], Key: string(key), ExpiresAt: time.Unix(exp, 0)}
	if s.now().After(claims.ExpiresAt) {
		return DownloadClaims{}, ErrTokenExpired
	}
	return claims, nil
}

func (s *SignedURLSigner) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}
