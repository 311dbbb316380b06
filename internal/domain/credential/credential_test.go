package credential

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	raw := "test-key"
	hash1 := HashKey(raw)
	hash2 := HashKey(raw)

	if hash1 != hash2 {
		t.Errorf("HashKey() not deterministic: %v != %v", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("HashKey() length = %d, want 64", len(hash1))
	}
	if hash1 == HashKey("different-key") {
		t.Error("HashKey() produced same hash for different keys")
	}
}

func TestHashPassword(t *testing.T) {
	raw := "correct horse battery staple 9!"

	hash, err := HashPassword(raw)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("HashPassword() = %q, want prefix $argon2id$", hash)
	}

	hash2, err := HashPassword(raw)
	if err != nil {
		t.Fatalf("HashPassword() second call error = %v", err)
	}
	if hash == hash2 {
		t.Error("HashPassword() produced identical hashes -- should use a random salt")
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		wantType string
	}{
		{"argon2id PHC format", "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789", "argon2id"},
		{"sha256 prefixed", "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "sha256"},
		{"legacy bare sha256 (64 chars)", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "sha256"},
		{"unknown - too short", "abc123", "unknown"},
		{"unknown - wrong prefix", "$bcrypt$abc123", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.hash); got != tt.wantType {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.wantType)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	raw := "test-password-verify-12345"

	argon2Hash, err := HashPassword(raw)
	if err != nil {
		t.Fatalf("HashPassword() setup error = %v", err)
	}
	sha256Hash := HashKey(raw)
	sha256Prefixed := "sha256:" + HashKey(raw)

	tests := []struct {
		name       string
		raw        string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{"argon2id - correct password", raw, argon2Hash, true, nil},
		{"argon2id - wrong password", "wrong-password", argon2Hash, false, nil},
		{"sha256 prefixed - correct password", raw, sha256Prefixed, true, nil},
		{"sha256 prefixed - wrong password", "wrong-password", sha256Prefixed, false, nil},
		{"legacy bare sha256 - correct password", raw, sha256Hash, true, nil},
		{"legacy bare sha256 - wrong password", "wrong-password", sha256Hash, false, nil},
		{"unknown hash type returns error", raw, "invalid-hash-format", false, ErrUnknownHashType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := Verify(tt.raw, tt.storedHash)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("Verify() unexpected error = %v", err)
				return
			}
			if match != tt.wantMatch {
				t.Errorf("Verify() = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}

func TestVerify_ConstantTimeSHA256Path(t *testing.T) {
	raw := "test-constant-time-key"
	sha256Hash := HashKey(raw)

	match1, err1 := Verify("test-constant-time-xyz", sha256Hash)
	if err1 != nil {
		t.Errorf("Verify() error = %v", err1)
	}
	if match1 {
		t.Error("Verify() should return false for wrong password")
	}

	match2, err2 := Verify("completely-different-key-here", sha256Hash)
	if err2 != nil {
		t.Errorf("Verify() error = %v", err2)
	}
	if match2 {
		t.Error("Verify() should return false for wrong password")
	}
}
