package models

import (
	"errors"
	"strings"
	"time"

	s "suiverify/pkg/string"
)

// DefaultPurpose applies when a request names no purpose.
const DefaultPurpose = "verification"

// PurposeTesting echoes the issued code back to the caller.
const PurposeTesting = "testing"

// CountryCode is prefixed to every normalized phone number.
const CountryCode = "91"

// ErrInvalidPhone is returned for numbers that are not Indian mobile numbers.
var ErrInvalidPhone = errors.New("invalid Indian phone number format")

// Record is one outstanding OTP. CodeHash is a bcrypt digest; the plain code
// is never stored.
type Record struct {
	Key         string    `json:"key"`
	Phone       string    `json:"phone"`
	UserAddress string    `json:"user_address"`
	Purpose     string    `json:"purpose"`
	CodeHash    []byte    `json:"code_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	Verified    bool      `json:"verified"`
}

// IsExpired reports whether the record is past its expiry at now.
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RemainingAttempts is the number of verification attempts left under max.
func (r *Record) RemainingAttempts(max int) int {
	if left := max - r.Attempts; left > 0 {
		return left
	}
	return 0
}

// Key identifies the OTP issued to a phone for a wallet and purpose.
func Key(phone, userAddress, purpose string) string {
	return phone + "_" + userAddress + "_" + purpose
}

// NormalizePhone reduces a phone number to its digits and returns it in the
// 91XXXXXXXXXX form. Ten digit numbers must start with 6-9; twelve digit
// numbers must carry the 91 prefix followed by 6-9.
func NormalizePhone(raw string) (string, error) {
	digits := s.DigitsOnly(raw)
	switch {
	case len(digits) == 10 && isMobileLead(digits[0]):
		return CountryCode + digits, nil
	case len(digits) == 12 && strings.HasPrefix(digits, CountryCode) && isMobileLead(digits[2]):
		return digits, nil
	default:
		return "", ErrInvalidPhone
	}
}

// DisplayPhone renders a normalized number as "+91 XXXXX XXXXX".
func DisplayPhone(normalized string) string {
	if len(normalized) != 12 || !strings.HasPrefix(normalized, CountryCode) {
		return normalized
	}
	return "+" + CountryCode + " " + normalized[2:7] + " " + normalized[7:]
}

func isMobileLead(b byte) bool {
	return b >= '6' && b <= '9'
}
