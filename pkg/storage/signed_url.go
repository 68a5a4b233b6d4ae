package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SignedURL is a time-limited link to a protected object.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// URLSigner turns an object key into a SignedURL.
type URLSigner interface {
	SignURL(key string) (SignedURL, error)
}

// HMACSigner issues CDN links carrying an HMAC token over key and expiry.
type HMACSigner struct {
	secret []byte
	ttl    time.Duration
	base   string
	now    func() time.Time
}

// NewHMACSigner constructs a signer; base is the CDN prefix the key is appended to.
func NewHMACSigner(secret, base string, ttl time.Duration) *HMACSigner {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &HMACSigner{
		secret: []byte(secret),
		ttl:    ttl,
		base:   strings.TrimRight(base, "/"),
		now:    time.Now,
	}
}

// Generate returns the bare token for key.
func (s *HMACSigner) Generate(key string) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, fmt.Errorf("object key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{encodedKey, exp, s.mac(encodedKey, exp)}, ".")
	return token, expiresAt, nil
}

// SignURL implements URLSigner.
func (s *HMACSigner) SignURL(key string) (SignedURL, error) {
	token, expiresAt, err := s.Generate(key)
	if err != nil {
		return SignedURL{}, err
	}
	link := fmt.Sprintf("%s/%s?token=%s", s.base, escapeKey(key), url.QueryEscape(token))
	return SignedURL{URL: link, ExpiresAt: expiresAt}, nil
}

// Parse validates a token and returns the embedded key.
func (s *HMACSigner) Parse(token string) (string, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", time.Time{}, fmt.Errorf("invalid token format")
	}
	encodedKey, exp, signature := parts[0], parts[1], parts[2]

	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("decode key: %w", err)
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	if !hmac.Equal([]byte(s.mac(encodedKey, exp)), []byte(signature)) {
		return "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	expiresAt := time.Unix(expUnix, 0).UTC()
	if s.now().After(expiresAt) {
		return "", time.Time{}, fmt.Errorf("token expired")
	}
	return string(rawKey), expiresAt, nil
}

func (s *HMACSigner) mac(encodedKey, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encodedKey + "|" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}

func escapeKey(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
