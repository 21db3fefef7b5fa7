package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MinHashSaltLength is the shortest salt SetHashSalt accepts.
const MinHashSaltLength = 32

const defaultHashSalt = "ledger-bot-development-salt-not-for-production"

// ErrShortHashSalt is returned by SetHashSalt for a salt under MinHashSaltLength.
var ErrShortHashSalt = errors.New("hash salt is too short")

var hashSalt = defaultHashSalt

// SetHashSalt installs the configured ID hashing salt.
// An empty salt restores the development default.
func SetHashSalt(salt string) error {
	if salt == "" {
		hashSalt = defaultHashSalt
		return nil
	}
	if len(salt) < MinHashSaltLength {
		return fmt.Errorf("%w: need at least %d characters", ErrShortHashSalt, MinHashSaltLength)
	}
	hashSalt = salt
	return nil
}

// InitHashSaltForTesting sets the salt without validation.
func InitHashSaltForTesting(salt string) {
	hashSalt = salt
}

// hashID hashes id within a domain so a chat and a user never share a hash.
func hashID(domain string, id int64) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%s", domain, id, hashSalt))
	return hex.EncodeToString(hash[:])[:8]
}

// HashUserID creates a privacy-preserving hash of a user ID.
func HashUserID(userID int64) string {
	return hashID("user", userID)
}

// HashChatID creates a privacy-preserving hash of a chat ID.
func HashChatID(chatID int64) string {
	return hashID("chat", chatID)
}

// SanitizeDescription redacts an expense description, keeping only its size.
func SanitizeDescription(desc string) string {
	if desc == "" {
		return "<empty>"
	}
	return fmt.Sprintf("<redacted: %d words, %d chars>", len(strings.Fields(desc)), len(desc))
}

// SanitizeText is a general-purpose sanitizer for any user-provided text.
func SanitizeText(text string) string {
	if text == "" {
		return "<empty>"
	}
	if len(text) <= 10 {
		return fmt.Sprintf("<%d chars>", len(text))
	}
	return fmt.Sprintf("%s...<%d chars>", text[:3], len(text))
}
