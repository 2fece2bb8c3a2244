// Package models holds the verification record accepted from callers and the
// event published downstream.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType is carried in the event_type header of every published record.
const EventType = "verification_result"

// Result is the published verification verdict.
type Result string

const (
	ResultVerified   Result = "verified"
	ResultUnverified Result = "unverified"
)

// Record is the inbound verification data. The identity fields are raw PII:
// they exist only long enough to compute the evidence hash and are never
// published or logged.
type Record struct {
	WalletAddress string
	DID           string
	Verified      bool

	AadhaarNumber string
	DateOfBirth   string
	PhoneNumber   string
}

// Inbound mapping keys accepted by RecordFromMap.
const (
	KeyWalletAddress = "wallet_address"
	KeyDID           = "did"
	KeyIsVerified    = "is_verified"
	KeyAadhaarNumber = "aadhaar_number"
	KeyDateOfBirth   = "date_of_birth"
	KeyPhoneNumber   = "phone_number"
)

// RecordFromMap adapts a loosely typed mapping, such as a decoded JSON body,
// into a Record. Missing identity fields become empty strings, a missing or
// null did becomes "0", and is_verified is true only when it equals 1.
func RecordFromMap(data map[string]any) Record {
	return Record{
		WalletAddress: stringField(data, KeyWalletAddress),
		DID:           didField(data),
		Verified:      IsTrueSentinel(data[KeyIsVerified]),
		AadhaarNumber: stringField(data, KeyAadhaarNumber),
		DateOfBirth:   stringField(data, KeyDateOfBirth),
		PhoneNumber:   stringField(data, KeyPhoneNumber),
	}
}

// IsTrueSentinel reports whether v equals integer 1. Booleans count as 0/1;
// strings never match.
func IsTrueSentinel(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int:
		return n == 1
	case int8:
		return n == 1
	case int16:
		return n == 1
	case int32:
		return n == 1
	case int64:
		return n == 1
	case uint:
		return n == 1
	case uint8:
		return n == 1
	case uint16:
		return n == 1
	case uint32:
		return n == 1
	case uint64:
		return n == 1
	case float32:
		return n == 1
	case float64:
		return n == 1
	case json.Number:
		f, err := n.Float64()
		return err == nil && f == 1
	default:
		return false
	}
}

func stringField(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return coerce(v)
}

func didField(data map[string]any) string {
	v, ok := data[KeyDID]
	if !ok || v == nil {
		return "0"
	}
	return coerce(v)
}

// coerce renders scalars the way they were written: whole floats lose their
// fractional part so a JSON 42 stays "42".
func coerce(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return formatFloat(t, 64)
	case float32:
		return formatFloat(float64(t), 32)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func formatFloat(f float64, bits int) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// Event is the wire payload published to the verification topic. It is
// immutable once composed.
type Event struct {
	// ID identifies the event in transport metadata only. It is not part of
	// the serialized payload.
	ID uuid.UUID `json:"-"`

	UserWallet   string `json:"user_wallet"`
	DIDID        string `json:"did_id"`
	Result       Result `json:"result"`
	EvidenceHash string `json:"evidence_hash"`
	VerifiedAt   string `json:"verified_at"`

	// ComposedAt is the instant VerifiedAt was rendered from.
	ComposedAt time.Time `json:"-"`
}

// Key derives the partition key: verification_<unix millis>_<first 8 chars of
// the event id>, stamped with the composition time so it agrees with
// verified_at.
func (e Event) Key() string {
	return fmt.Sprintf("verification_%d_%s", e.composedAt().UnixMilli(), e.ID.String()[:8])
}

func (e Event) composedAt() time.Time {
	if !e.ComposedAt.IsZero() {
		return e.ComposedAt
	}
	if t, err := time.Parse(time.RFC3339Nano, e.VerifiedAt); err == nil {
		return t
	}
	return time.Time{}
}
