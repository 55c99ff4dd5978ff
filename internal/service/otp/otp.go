package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/models"
)

const (
	defaultDigits = 6
	defaultTTL    = 5 * time.Minute

	// Separates digest and expiry in the hash handed to the client
	hashSeparator = "."
)

// OTP codec config with sensible defaults
type Config struct {
	// Secret key for keyed digest
	// Required to be set
	SecretKey string

	// Code length and lifetime
	// If not set than default is used
	Digits int
	TTL    time.Duration

	// Allowed clock skew between the host issued challenge and the host verifies it
	Leeway time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

// Codec issues and verifies OTP challenges without storing them.
// The hash binds email, code and expiry with a keyed BLAKE2b digest, and carries the expiry next to it.
type Codec struct {
	key    []byte
	digits int
	max    *big.Int
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("otp secret key must not be empty")
	}

	if cfg.Digits == 0 {
		cfg.Digits = defaultDigits
	}
	if cfg.Digits < 4 || cfg.Digits > 10 {
		return nil, fmt.Errorf("otp digits must be between 4 and 10, got %d", cfg.Digits)
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// blake2b accepts keys up to 64 bytes, so derive fixed size one from any secret
	key := blake2b.Sum256([]byte(cfg.SecretKey))

	return &Codec{
		key:    key[:],
		digits: cfg.Digits,
		max:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.Digits)), nil),
		ttl:    cfg.TTL,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}, nil
}

// TTL of issued challenges
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// IssueChallenge generates random code for email and the hash client has to send back with the code
func (c *Codec) IssueChallenge(email string) (challenge models.Challenge, hash string, err error) {
	n, err := rand.Int(rand.Reader, c.max)
	if err != nil {
		return challenge, "", fmt.Errorf("error while generating otp code. Err: %w", err)
	}

	// Keep millisecond precision only: exactly what travels in the hash
	expiresAt := time.UnixMilli(c.now().Add(c.ttl).UnixMilli())

	challenge = models.Challenge{
		Email:     NormalizeEmail(email),
		Code:      fmt.Sprintf("%0*d", c.digits, n),
		ExpiresAt: expiresAt,
	}

	digest := c.digest(challenge.Email, challenge.Code, expiresAt.UnixMilli())
	hash = digest + hashSeparator + strconv.FormatInt(expiresAt.UnixMilli(), 10)

	return challenge, hash, nil
}

// VerifyChallenge checks the code against the hash issued for the email
// Returns apperrors.ErrInvalidOtp if code, hash or email do not match and apperrors.ErrExpiredOtp if challenge expired
func (c *Codec) VerifyChallenge(email string, hash string, code string) error {
	if !c.isCode(code) {
		return fmt.Errorf("code has unexpected shape: %w", apperrors.ErrInvalidOtp)
	}

	digest, expiresAtMs, err := parseHash(hash)
	if err != nil {
		return fmt.Errorf("error while parsing hash. Err: %v: %w", err, apperrors.ErrInvalidOtp)
	}

	expected := c.digest(NormalizeEmail(email), code, expiresAtMs)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) != 1 {
		return fmt.Errorf("digest mismatch: %w", apperrors.ErrInvalidOtp)
	}

	// Digest is authentic here, so the expiry is the one server set
	if c.now().After(time.UnixMilli(expiresAtMs).Add(c.leeway)) {
		return apperrors.ErrExpiredOtp
	}

	return nil
}

func (c *Codec) digest(email string, code string, expiresAtMs int64) string {
	// Key is always 32 bytes long, so error is not possible here
	mac, _ := blake2b.New256(c.key)
	_, _ = mac.Write([]byte(email + hashSeparator + code + hashSeparator + strconv.FormatInt(expiresAtMs, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Codec) isCode(code string) bool {
	if len(code) != c.digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func parseHash(hash string) (digest string, expiresAtMs int64, err error) {
	digest, expires, ok := strings.Cut(hash, hashSeparator)
	if !ok || digest == "" {
		return "", 0, errors.New("hash has no expiry part")
	}

	expiresAtMs, err = strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("expiry is not a number: %w", err)
	}
	if strconv.FormatInt(expiresAtMs, 10) != expires {
		return "", 0, errors.New("expiry is not in canonical form")
	}

	return digest, expiresAtMs, nil
}

// NormalizeEmail makes emails that differ only by case or surrounding spaces equal
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
