// Package sink records verification events that no transport accepted.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MessagePrefix starts the message of every recorded event. Operators grep
// for it to replay lost events.
const MessagePrefix = "KAFKA_MESSAGE_FOR_TOPIC_"

// LogSink writes undelivered events as WARN records straight to a
// slog.Handler. Going through the handler rather than a Logger bypasses
// level filtering and surfaces write errors.
type LogSink struct {
	handler slog.Handler
	now     func() time.Time
}

// NewLogSink creates a sink writing to handler.
func NewLogSink(handler slog.Handler) *LogSink {
	return &LogSink{handler: handler, now: time.Now}
}

// Record writes one record carrying the topic and the payload verbatim.
func (s *LogSink) Record(ctx context.Context, topic string, payload []byte) error {
	if s.handler == nil {
		return fmt.Errorf("log sink: no handler configured")
	}
	r := slog.NewRecord(s.now(), slog.LevelWarn, MessagePrefix+topic, 0)
	r.AddAttrs(
		slog.String("topic", topic),
		slog.String("payload", string(payload)),
	)
	if err := s.handler.Handle(ctx, r); err != nil {
		return fmt.Errorf("log sink: write record: %w", err)
	}
	return nil
}
