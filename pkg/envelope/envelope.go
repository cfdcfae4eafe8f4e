package envelope

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultExpiration is the lifetime of envelopes sealed without an explicit expiry.
const DefaultExpiration = 30 * time.Second

const separator = "@"

var (
	// ErrMalformedEnvelope is returned when the signed string cannot be decoded or parsed.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrInvalidSignature is returned when the signature does not match the payload.
	ErrInvalidSignature = errors.New("invalid envelope signature")
	// ErrExpired is returned when a correctly signed envelope is past its lifetime.
	ErrExpired = errors.New("envelope expired")
)

var encoding = base64.RawURLEncoding

// Envelope wraps signed content with issuance metadata.
type Envelope[T any] struct {
	Content  T      `json:"content"`
	SignedAt int64  `json:"signed_at"`
	Expire   int64  `json:"expire"`
	Nonce    uint32 `json:"nonce"`
	ID       string `json:"id"`
}

// ExpiresAt returns the first instant at which the envelope is no longer valid.
func (e *Envelope[T]) ExpiresAt() time.Time {
	return time.Unix(e.SignedAt+e.Expire, 0)
}

// Expired reports whether the envelope is expired at now.
func (e *Envelope[T]) Expired(now time.Time) bool {
	return now.Unix() >= e.SignedAt+e.Expire
}

// Signer holds the shared secret. It is safe for concurrent use.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source used for sealing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a signer keyed by secret.
func NewSigner(secret string, opts ...Option) *Signer {
	s := &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign serializes content and returns the signed string.
func (s *Signer) Sign(content any) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode content: %w", err)
	}

	payload := encoding.EncodeToString(raw)
	signed := s.signature(payload) + separator + payload
	return encoding.EncodeToString([]byte(signed)), nil
}

// Verify checks the signature of signed and decodes its content into dest.
// It does not look at expiry; use Open for envelopes.
func (s *Signer) Verify(signed string, dest any) error {
	decoded, err := encoding.DecodeString(signed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	sig, payload, ok := strings.Cut(string(decoded), separator)
	if !ok || sig == "" || payload == "" {
		return ErrMalformedEnvelope
	}

	if !hmac.Equal([]byte(sig), []byte(s.signature(payload))) {
		return ErrInvalidSignature
	}

	raw, err := encoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

func (s *Signer) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// New builds an envelope around content signed now and valid for expire.
// A non-positive expire falls back to DefaultExpiration; a fractional one is rounded
// up to whole seconds.
func New[T any](s *Signer, content T, expire time.Duration) (*Envelope[T], error) {
	if expire <= 0 {
		expire = DefaultExpiration
	}
	expireSeconds := int64((expire + time.Second - 1) / time.Second)

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate envelope id: %w", err)
	}

	return &Envelope[T]{
		Content:  content,
		SignedAt: s.now().Unix(),
		Expire:   expireSeconds,
		Nonce:    nonce,
		ID:       id.String(),
	}, nil
}

// Seal wraps content in a new envelope and signs it.
func Seal[T any](s *Signer, content T, expire time.Duration) (string, error) {
	env, err := New(s, content, expire)
	if err != nil {
		return "", err
	}
	return s.Sign(env)
}

// Open verifies signed and returns the envelope if it is authentic and unexpired.
func Open[T any](s *Signer, signed string) (*Envelope[T], error) {
	var env Envelope[T]
	if err := s.Verify(signed, &env); err != nil {
		return nil, err
	}
	if env.Expired(s.now()) {
		return nil, ErrExpired
	}
	return &env, nil
}

// Digest returns hex(sha256(raw)). It is used to refer to secrets in logs.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomNonce() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
