package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

// AnalyticsKeyType distinguishes write-only from read-write analytics keys.
type AnalyticsKeyType int

const (
	AnalyticsKeyWrite AnalyticsKeyType = iota
	AnalyticsKeyReadWrite
)

func (t AnalyticsKeyType) String() string {
	switch t {
	case AnalyticsKeyWrite:
		return "write"
	case AnalyticsKeyReadWrite:
		return "read_write"
	default:
		return "unknown"
	}
}

// CanQuery reports whether keys of this type may issue queries, not just
// writes.
func (t AnalyticsKeyType) CanQuery() bool {
	return t == AnalyticsKeyReadWrite
}

const (
	analyticsWritePrefix = "loom_analytics_write_"
	analyticsRWPrefix    = "loom_analytics_rw_"
	randomHexLen         = 32
)

// GenerateAnalyticsKey returns a new raw analytics API key of the given
// type. The raw key is returned exactly once by callers; only its Argon2
// hash is meant to be persisted.
func GenerateAnalyticsKey(keyType AnalyticsKeyType) (string, error) {
	random, err := randomHex(randomHexLen / 2)
	if err != nil {
		return "", err
	}
	prefix := analyticsWritePrefix
	if keyType == AnalyticsKeyReadWrite {
		prefix = analyticsRWPrefix
	}
	return prefix + random, nil
}

// ParseAnalyticsKey recovers the key type from a raw analytics API key. ok
// is false if the key does not match a known prefix or its random suffix is
// not exactly 32 ASCII hex characters.
func ParseAnalyticsKey(key string) (keyType AnalyticsKeyType, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(key, analyticsRWPrefix):
		keyType = AnalyticsKeyReadWrite
		rest = strings.TrimPrefix(key, analyticsRWPrefix)
	case strings.HasPrefix(key, analyticsWritePrefix):
		keyType = AnalyticsKeyWrite
		rest = strings.TrimPrefix(key, analyticsWritePrefix)
	default:
		return 0, false
	}

	if !isHexOfLen(rest, randomHexLen) {
		return 0, false
	}
	return keyType, true
}

// SdkKeyType distinguishes browser-safe client keys from backend-only
// server keys.
type SdkKeyType int

const (
	SdkKeyClientSide SdkKeyType = iota
	SdkKeyServerSide
)

func (t SdkKeyType) String() string {
	switch t {
	case SdkKeyClientSide:
		return "client_side"
	case SdkKeyServerSide:
		return "server_side"
	default:
		return "unknown"
	}
}

const (
	sdkClientPrefix = "loom_sdk_client_"
	sdkServerPrefix = "loom_sdk_server_"
)

// GenerateSdkKey returns a new raw SDK key string for the given environment.
func GenerateSdkKey(keyType SdkKeyType, environmentName string) (string, error) {
	random, err := randomHex(randomHexLen / 2)
	if err != nil {
		return "", err
	}
	prefix := sdkClientPrefix
	if keyType == SdkKeyServerSide {
		prefix = sdkServerPrefix
	}
	return fmt.Sprintf("%s%s_%s", prefix, environmentName, random), nil
}

// ParseSdkKey splits a raw SDK key into its type, environment name, and
// random suffix. The random suffix is always the trailing 32 hex
// characters; the separator is the underscore immediately before it, and
// everything between the prefix and that separator is the (possibly
// underscore-containing) environment name, which must be non-empty.
func ParseSdkKey(key string) (keyType SdkKeyType, environmentName string, random string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(key, sdkClientPrefix):
		keyType = SdkKeyClientSide
		rest = strings.TrimPrefix(key, sdkClientPrefix)
	case strings.HasPrefix(key, sdkServerPrefix):
		keyType = SdkKeyServerSide
		rest = strings.TrimPrefix(key, sdkServerPrefix)
	default:
		return 0, "", "", false
	}

	// Need at least {env(1+)}_{32 hex}, i.e. 34 chars minimum.
	if len(rest) < 34 {
		return 0, "", "", false
	}

	randomStart := len(rest) - randomHexLen
	separatorIdx := randomStart - 1
	if rest[separatorIdx] != '_' {
		return 0, "", "", false
	}

	env := rest[:separatorIdx]
	rnd := rest[randomStart:]

	if env == "" {
		return 0, "", "", false
	}
	if !isHexOfLen(rnd, randomHexLen) {
		return 0, "", "", false
	}

	return keyType, env, rnd, true
}

func randomHex(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random key material: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func isHexOfLen(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLower := c >= 'a' && c <= 'f'
		if !isDigit && !isLower {
			return false
		}
	}
	return true
}

// argon2Params are fixed across the service; they are not tuned per call so
// that hashes remain comparable and verification stays a single code path.
var argon2Params = struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
}{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32}

// HashKey returns the Argon2id hash of a raw API key, salted with the
// provided per-key salt. Only the hash is ever persisted; the raw key
// itself must not be stored.
func HashKey(rawKey string, salt []byte) []byte {
	return argon2.IDKey([]byte(rawKey), salt, argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
}

// NewSalt generates a random 16-byte salt for HashKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// VerifyKey reports whether rawKey hashes (with salt) to the same digest as
// expectedHash, in constant time.
func VerifyKey(rawKey string, salt, expectedHash []byte) bool {
	candidate := HashKey(rawKey, salt)
	return constantTimeEqual(candidate, expectedHash)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// KeyLifecycle tracks revoke/touch state shared by analytics and SDK keys,
// mirroring the Rust originals' revoke()/touch()/is_revoked() one for one.
type KeyLifecycle struct {
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// IsRevoked reports whether the key has been revoked.
func (k *KeyLifecycle) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Revoke marks the key revoked at the current time, if not already revoked.
func (k *KeyLifecycle) Revoke(now time.Time) {
	if k.RevokedAt == nil {
		t := now
		k.RevokedAt = &t
	}
}

// Touch updates the last-used timestamp.
func (k *KeyLifecycle) Touch(now time.Time) {
	t := now
	k.LastUsedAt = &t
}
