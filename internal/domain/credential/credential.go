// Package credential hashes and verifies operator passwords for the CLI's
// stand-in identity front door. It never stores a raw password: the
// operators file on disk holds only the hash this package produces.
package credential

import (
	"crypto/subtle"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// argon2idParams defines OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword returns an Argon2id hash of the raw password in PHC format.
// The hash includes a random salt and OWASP minimum parameters.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashPassword(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

// HashKey returns the SHA-256 hex hash of a raw value. Kept for operators
// files written before the Argon2id migration; new entries use HashPassword.
func HashKey(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:])
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Verify checks a raw password against a stored hash. Supports Argon2id
// (PHC format), SHA-256 prefixed, and legacy bare SHA-256 hex. Returns
// (true, nil) on match, (false, nil) on mismatch, and (false,
// ErrUnknownHashType) for an unrecognized hash format.
func Verify(raw, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(raw, storedHash)

	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashKey(raw)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed parameters (e.g.
// t=0, p=0) rather than returning an error.
func safeArgon2idCompare(raw, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, storedHash)
}
