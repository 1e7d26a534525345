package coord

import (
	"time"
	"unicode/utf8"
)

const (
	// MaxKeyLength bounds every caller-chosen key, name, and token.
	MaxKeyLength = 200

	maxReasonLen = 1024
)

// ValidateKey checks that a caller-chosen key is non-empty and within bounds.
// Keys are opaque to the store; length is the only constraint.
func ValidateKey(key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	if utf8.RuneCountInString(key) > MaxKeyLength {
		return ErrKeyTooLong
	}

	return nil
}

// ValidateOwner checks an owner token.
func ValidateOwner(owner string) error {
	if owner == "" {
		return ErrOwnerRequired
	}
	if utf8.RuneCountInString(owner) > MaxKeyLength {
		return ErrKeyTooLong
	}

	return nil
}

// ValidateTTL checks a lock or lease duration.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrTTLInvalid
	}

	return nil
}

// TruncateReason bounds a failure reason to the stored column size.
func TruncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= maxReasonLen {
		return reason
	}

	runes := []rune(reason)

	return string(runes[:maxReasonLen])
}
