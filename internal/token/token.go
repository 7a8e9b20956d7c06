// Package token implements signing and verification of time-limited
// proxy authorization tokens.
//
// A token binds a target URL to an issue timestamp and a random nonce
// with an HMAC-SHA256 signature over "url|t|nonce". Verification is
// stateless: nonces are not recorded, so a captured token remains
// replayable until it expires. That is a deliberate trade-off — replay
// tracking would require shared state across proxy instances.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// Verification failures, ordered by the check that produced them.
var (
	ErrUnauthorized = errors.New("missing authorization parameters")
	ErrInvalidURL   = errors.New("invalid target URL")
	ErrExpired      = errors.New("link expired")
	ErrBadSignature = errors.New("invalid signature")
)

const nonceBytes = 16

// SignedURL is a freshly issued token, serialized as a relative proxy path.
type SignedURL struct {
	TargetURL string
	IssuedAt  int64
	Nonce     string
	Signature string
}

// Path renders the token as a relative URL for the proxy endpoint.
func (s *SignedURL) Path() string {
	q := url.Values{}
	q.Set("url", s.TargetURL)
	q.Set("t", strconv.FormatInt(s.IssuedAt, 10))
	q.Set("nonce", s.Nonce)
	q.Set("sig", s.Signature)
	return "/proxy?" + q.Encode()
}

// Service signs and verifies proxy tokens. The secret is held behind an
// atomic pointer so it can be rotated by the config watcher without a
// lock on the verification path.
type Service struct {
	secret  atomic.Pointer[[]byte]
	maxSkew time.Duration
}

// NewService creates a token Service. An empty secret disables signing;
// verification then rejects everything, since an HMAC keyed with an
// empty string would be forgeable by any client.
func NewService(secret string, maxSkew time.Duration) *Service {
	s := &Service{maxSkew: maxSkew}
	s.SetSecret(secret)
	return s
}

// SetSecret replaces the signing secret. Safe for concurrent use.
func (s *Service) SetSecret(secret string) {
	b := []byte(secret)
	s.secret.Store(&b)
}

// Configured reports whether a signing secret is set.
func (s *Service) Configured() bool {
	return len(*s.secret.Load()) > 0
}

// Sign issues a token for targetURL at the given time.
func (s *Service) Sign(targetURL string, now time.Time) (*SignedURL, error) {
	if err := validateTarget(targetURL); err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	issuedAt := now.Unix()
	hexNonce := hex.EncodeToString(nonce)

	return &SignedURL{
		TargetURL: targetURL,
		IssuedAt:  issuedAt,
		Nonce:     hexNonce,
		Signature: s.compute(targetURL, strconv.FormatInt(issuedAt, 10), hexNonce),
	}, nil
}

// Verify checks a claimed token against the current secret and time.
// Checks short-circuit in order: presence, URL shape, timestamp skew,
// signature. It is a pure function of its inputs and the secret.
func (s *Service) Verify(targetURL, t, nonce, sig string, now time.Time) error {
	if targetURL == "" || t == "" || nonce == "" || sig == "" {
		return ErrUnauthorized
	}
	if !s.Configured() {
		return ErrUnauthorized
	}
	if err := validateTarget(targetURL); err != nil {
		return err
	}

	issued, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return ErrExpired
	}
	skew := now.Unix() - issued
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(s.maxSkew/time.Second) {
		return ErrExpired
	}

	expected := s.compute(targetURL, t, nonce)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return ErrBadSignature
	}
	return nil
}

func (s *Service) compute(targetURL, t, nonce string) string {
	mac := hmac.New(sha256.New, *s.secret.Load())
	fmt.Fprintf(mac, "%s|%s|%s", targetURL, t, nonce)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// validateTarget requires an absolute http or https URL.
func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
