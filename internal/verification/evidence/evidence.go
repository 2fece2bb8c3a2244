// Package evidence derives the commitment published in place of raw identity
// fields.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Hash returns the lowercase hex SHA-256 of idNumber, dob and phone
// concatenated in that order with no separator. It is unsalted and
// deterministic so a resubmission of the same identity yields the same
// commitment. Empty inputs are valid; Hash("", "", "") is the digest of the
// empty string.
func Hash(idNumber, dob, phone string) string {
	h := sha256.New()
	h.Write([]byte(idNumber))
	h.Write([]byte(dob))
	h.Write([]byte(phone))
	return hex.EncodeToString(h.Sum(nil))
}

// Hasher computes commitments and notes that it did so. It never logs the
// inputs or the digest.
type Hasher struct {
	logger *slog.Logger
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithLogger sets the logger used for the computed-commitment debug record.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hasher) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHasher creates a Hasher.
func NewHasher(opts ...Option) *Hasher {
	h := &Hasher{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash computes the commitment for the given identity fields.
func (h *Hasher) Hash(ctx context.Context, idNumber, dob, phone string) string {
	digest := Hash(idNumber, dob, phone)
	h.logger.DebugContext(ctx, "evidence commitment computed")
	return digest
}
