package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestLogSinkRecord(t *testing.T) {
	payload := []byte(`{"user_wallet":"0xabc","did_id":"42","result":"verified","evidence_hash":"ab","verified_at":"2025-01-01T00:00:00Z"}`)

	t.Run("writes a warn record with topic and payload verbatim", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewLogSink(slog.NewJSONHandler(&buf, nil))

		require.NoError(t, s.Record(context.Background(), "verified-user-data", payload))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "WARN", line["level"])
		assert.Equal(t, "KAFKA_MESSAGE_FOR_TOPIC_verified-user-data", line["msg"])
		assert.Equal(t, "verified-user-data", line["topic"])
		assert.Equal(t, string(payload), line["payload"])
	})

	t.Run("records even when the handler level is above warn", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewLogSink(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))

		require.NoError(t, s.Record(context.Background(), "verified-user-data", payload))
		assert.Contains(t, buf.String(), "KAFKA_MESSAGE_FOR_TOPIC_verified-user-data")
	})

	t.Run("surfaces write errors", func(t *testing.T) {
		s := NewLogSink(slog.NewJSONHandler(failingWriter{}, nil))

		err := s.Record(context.Background(), "verified-user-data", payload)

		require.Error(t, err)
		assert.ErrorContains(t, err, "no space left on device")
	})

	t.Run("nil handler is an error", func(t *testing.T) {
		assert.Error(t, NewLogSink(nil).Record(context.Background(), "t", payload))
	})
}
