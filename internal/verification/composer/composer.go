// Package composer builds the canonical verification event from a record.
package composer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"suiverify/internal/verification/evidence"
	"suiverify/internal/verification/models"
)

// Composer turns records into events. It holds no mutable state and is safe
// for concurrent use.
type Composer struct {
	hasher *evidence.Hasher
	now    func() time.Time
	newID  func() uuid.UUID
}

// Option configures a Composer.
type Option func(*Composer)

// WithClock overrides the time source used for verified_at.
func WithClock(now func() time.Time) Option {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides the event ID source.
func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(c *Composer) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// WithHasher sets the evidence hasher.
func WithHasher(h *evidence.Hasher) Option {
	return func(c *Composer) {
		if h != nil {
			c.hasher = h
		}
	}
}

// New creates a Composer.
func New(opts ...Option) *Composer {
	c := &Composer{
		hasher: evidence.NewHasher(),
		now:    time.Now,
		newID:  uuid.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose builds the event for rec. The record is not modified and its raw
// identity fields only reach the hasher.
func (c *Composer) Compose(ctx context.Context, rec models.Record) models.Event {
	result := models.ResultUnverified
	if rec.Verified {
		result = models.ResultVerified
	}

	composedAt := c.now().UTC()
	return models.Event{
		ID:           c.newID(),
		UserWallet:   rec.WalletAddress,
		DIDID:        rec.DID,
		Result:       result,
		EvidenceHash: c.hasher.Hash(ctx, rec.AadhaarNumber, rec.DateOfBirth, rec.PhoneNumber),
		VerifiedAt:   composedAt.Format(time.RFC3339Nano),
		ComposedAt:   composedAt,
	}
}
