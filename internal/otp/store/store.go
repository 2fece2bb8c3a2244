// Package store persists outstanding OTP records. Every mutation goes through
// Update so that check-then-write sequences (attempt counting, resend
// cooldowns) are atomic per key.
package store

import (
	"context"
	"errors"

	"suiverify/internal/otp/models"
	dErrors "suiverify/pkg/domain-errors"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "otp record not found")

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("otp store unavailable")

// Change describes what Update writes back once the UpdateFunc returns.
// Save and Delete are mutually exclusive; Delete wins when both are set.
type Change struct {
	Save   *models.Record
	Delete bool
}

// UpdateFunc receives a copy of the current record, or nil when none exists.
// The returned Change is applied even when err is non-nil, and err is then
// returned from Update unchanged.
type UpdateFunc func(current *models.Record) (Change, error)

// Store is the persistence port used by the OTP service.
type Store interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

func clone(rec *models.Record) *models.Record {
	if rec == nil {
		return nil
	}
	cp := *rec
	cp.CodeHash = append([]byte(nil), rec.CodeHash...)
	return &cp
}
