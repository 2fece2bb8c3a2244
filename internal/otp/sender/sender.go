// Package sender dispatches OTP messages to phones.
package sender

import (
	"context"
	"log/slog"

	"suiverify/internal/platform/privacy"
)

// Message is one OTP notification. Code is carried separately from Body so
// that implementations can redact it.
type Message struct {
	Phone   string
	Code    string
	Body    string
	Purpose string
}

// LogSender stands in for an SMS gateway: it records that a message was
// dispatched without writing the code or the full number.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "otp dispatched",
		"phone", privacy.MaskPhone(msg.Phone),
		"purpose", msg.Purpose,
		"code_length", len(msg.Code),
	)
	return nil
}
