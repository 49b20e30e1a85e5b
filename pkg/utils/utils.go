package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"math/big"
	"strings"
)

const randomCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateRandomString returns a cryptographically secure random string of
// the given length, drawn from an alphanumeric charset.
func GenerateRandomString(length int) string {
	result := make([]byte, length)
	max := big.NewInt(int64(len(randomCharset)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the platform entropy source is broken
			panic(err)
		}
		result[i] = randomCharset[n.Int64()]
	}
	return string(result)
}

// GenerateRandomDigits returns a cryptographically secure numeric string of
// the given length, suitable for one-time passcodes.
func GenerateRandomDigits(length int) string {
	const digits = "0123456789"
	result := make([]byte, length)
	max := big.NewInt(int64(len(digits)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		result[i] = digits[n.Int64()]
	}
	return string(result)
}

// MaskEmail masks an email address for display, e.g. "j***e@example.com"
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}
	local := email[:at]
	domain := email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + domain
}

// MaskPhone masks a phone number keeping only the last two digits visible,
// e.g. "*********89"
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}

// HashEmail returns the hex-encoded SHA-256 digest of an email address.
// Used to reference a delivery option without exposing the address itself.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// StringPtr returns a pointer to the given string.
func StringPtr(s string) *string {
	return &s
}

func ToNullString(str string) sql.NullString {
	if str == "" {
		return sql.NullString{
			String: str,
			Valid:  false,
		}
	}
	return sql.NullString{
		String: str,
		Valid:  true,
	}
}
