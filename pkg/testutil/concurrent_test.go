package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "suiverify/pkg/domain-errors"
)

func TestRunConcurrent(t *testing.T) {
	res := RunConcurrent(8, func(idx int) error {
		switch idx % 4 {
		case 0:
			return nil
		case 1:
			return dErrors.New(dErrors.CodeNotFound, "gone")
		case 2:
			return dErrors.New(dErrors.CodeOTPMismatch, "wrong code")
		default:
			return errors.New("boom")
		}
	})

	assert.Equal(t, int32(2), res.Successes)
	assert.Equal(t, int32(2), res.NotFounds)
	assert.Equal(t, int32(2), res.Rejected)
	assert.Equal(t, int32(2), res.Errors)
	assert.Equal(t, int32(8), res.Total())
}

func TestRunConcurrentCollect(t *testing.T) {
	sentinel := errors.New("odd")
	successes, errs := RunConcurrentCollect(6, func(idx int) error {
		if idx%2 == 1 {
			return sentinel
		}
		return nil
	})

	assert.Equal(t, int32(3), successes)
	assert.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, sentinel)
	}
}
