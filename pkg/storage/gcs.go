package storage

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// GCSSigner issues V4 signed URLs for objects in a Cloud Storage bucket.
type GCSSigner struct {
	bucket     string
	accessID   string
	privateKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewGCSSigner(bucket, accessID, privateKey string, ttl time.Duration) (*GCSSigner, error) {
	if bucket == "" || accessID == "" || privateKey == "" {
		return nil, fmt.Errorf("gcs signer requires bucket, access id and private key")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	// Keys pasted into env files usually carry escaped newlines.
	key := strings.ReplaceAll(privateKey, `\n`, "\n")
	return &GCSSigner{bucket: bucket, accessID: accessID, privateKey: []byte(key), ttl: ttl, now: time.Now}, nil
}

func (s *GCSSigner) SignURL(key string) (SignedURL, error) {
	if key == "" {
		return SignedURL{}, fmt.Errorf("object key required")
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	link, err := gcs.SignedURL(s.bucket, strings.TrimLeft(key, "/"), &gcs.SignedURLOptions{
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
		Method:         http.MethodGet,
		Expires:        expiresAt,
		Scheme:         gcs.SigningSchemeV4,
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("sign gcs url: %w", err)
	}
	return SignedURL{URL: link, ExpiresAt: expiresAt}, nil
}
