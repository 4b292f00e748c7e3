package query

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Tier is a caller class derived from the presented credential. Higher
// tiers include everything a lower tier may do.
type Tier int

const (
	TierPublic Tier = iota
	TierRegistered
	TierPremium
)

// String returns the tier's wire name.
func (t Tier) String() string {
	switch t {
	case TierRegistered:
		return "REGISTERED"
	case TierPremium:
		return "PREMIUM"
	default:
		return "PUBLIC"
	}
}

// AtLeast reports whether the tier satisfies a required tier.
func (t Tier) AtLeast(required Tier) bool {
	return t >= required
}

// ParseTier maps a tier name to a Tier, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PUBLIC":
		return TierPublic, nil
	case "REGISTERED":
		return TierRegistered, nil
	case "PREMIUM":
		return TierPremium, nil
	default:
		return TierPublic, fmt.Errorf("unknown tier %q", s)
	}
}

// KeyPrefix starts every issued credential.
const KeyPrefix = "kp_"

// keyPattern is the credential format: the fixed prefix followed by
// exactly 32 hex characters, either case.
var keyPattern = regexp.MustCompile(`^kp_[0-9a-fA-F]{32}$`)

// ValidKeyFormat reports whether a credential is well-formed.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// GenerateKey returns a fresh well-formed credential.
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// ErrUnauthorized reports a presented credential that could not be
// resolved: malformed, unknown, or expired.
var ErrUnauthorized = errors.New("unknown or malformed API key")

// apiKey is one registered credential.
type apiKey struct {
	tier      Tier
	expiresAt time.Time
}

// KeyRegistry resolves credentials to tiers. Keys are loaded at startup;
// lookups are concurrent-safe.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]apiKey
	now  func() time.Time
}

// NewKeyRegistry returns an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{
		keys: make(map[string]apiKey),
		now:  time.Now,
	}
}

// Add registers a credential at a tier. A zero expiresAt never expires.
func (r *KeyRegistry) Add(key string, tier Tier, expiresAt time.Time) error {
	if !ValidKeyFormat(key) {
		return fmt.Errorf("malformed API key %q: want %s followed by 32 hex characters", key, KeyPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = apiKey{tier: tier, expiresAt: expiresAt}
	return nil
}

// Resolve maps a presented credential to its tier. An absent credential
// is the PUBLIC tier. Malformed, unknown, and expired credentials all
// resolve to PUBLIC with ErrUnauthorized, so the caller can still apply
// the PUBLIC rate bucket before rejecting.
func (r *KeyRegistry) Resolve(key string) (Tier, error) {
	if key == "" {
		return TierPublic, nil
	}
	if !ValidKeyFormat(key) {
		return TierPublic, ErrUnauthorized
	}

	r.mu.RLock()
	entry, ok := r.keys[key]
	r.mu.RUnlock()

	if !ok {
		return TierPublic, ErrUnauthorized
	}
	if !entry.expiresAt.IsZero() && !entry.expiresAt.After(r.now()) {
		return TierPublic, ErrUnauthorized
	}
	return entry.tier, nil
}
