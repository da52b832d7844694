package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/atriumhq/atrium/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("workspace_id", "ws-1").Info("login accepted")

	entry := parseLogLine(t, &buf)
	assert.Equal(t, "login accepted", entry["msg"])
	assert.Equal(t, "ws-1", entry["workspace_id"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("should be dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("should appear")
	assert.NotZero(t, buf.Len())
}

func TestFromContextCarriesRequestAndUser(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = contextkeys.WithRequestID(ctx, "req-42")
	ctx = contextkeys.WithUserID(ctx, "user-7")

	FromContext(ctx).Info("hello")

	entry := parseLogLine(t, &buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "user-7", entry["user_id"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("anything-else"))
}
