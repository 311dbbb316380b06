package validate

import "strings"

// trivialWords is a small dictionary of obviously weak passwords rejected
// regardless of character-class composition.
var trivialWords = []string{
	"password", "123456", "qwerty", "letmein", "admin", "welcome", "changeme",
}

// IsStrongPassword reports whether s is an acceptable plaintext password
// (used only pre-hash, never applied to a stored hash): length 8-128;
// contains at least one lowercase, uppercase, digit, and non-alphanumeric
// character; does not contain username case-insensitively; does not
// contain any trivial dictionary word.
func IsStrongPassword(s, username string) error {
	if len(s) < 8 || len(s) > 128 {
		return validationErr("password", "is_strong_password_length")
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return validationErr("password", "is_strong_password_classes")
	}

	lower := strings.ToLower(s)
	if username != "" && strings.Contains(lower, strings.ToLower(username)) {
		return validationErr("password", "is_strong_password_username")
	}
	for _, word := range trivialWords {
		if strings.Contains(lower, word) {
			return validationErr("password", "is_strong_password_trivial")
		}
	}

	return nil
}
