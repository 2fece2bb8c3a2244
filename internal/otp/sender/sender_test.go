package sender

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSenderRedacts(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := s.Send(context.Background(), Message{
		Phone:   "919876543210",
		Code:    "482913",
		Body:    "Your SuiVerify OTP is: 482913",
		Purpose: "verification",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "otp dispatched")
	assert.Contains(t, out, "********3210")
	assert.NotContains(t, out, "482913")
	assert.NotContains(t, out, "9876543210")
}

func TestLogSenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewLogSender(nil).Send(ctx, Message{}), context.Canceled)
}
