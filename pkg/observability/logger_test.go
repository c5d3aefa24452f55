package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("tenant_id", "t1").WithError(errors.New("boom")).Info("member added")

	line := decodeLine(t, &buf)
	assert.Equal(t, "member added", line["msg"])
	assert.Equal(t, "t1", line["tenant_id"])
	assert.Equal(t, "boom", line["error"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warnf("visible %d", 1)
	assert.Equal(t, "visible 1", decodeLine(t, &buf)["msg"])
}

func TestLoggerWithFieldsIsOrdered(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(InfoLevel, &buf).WithFields(map[string]interface{}{
		"user_id":   "U1",
		"action":    "member.add",
		"tenant_id": "T1",
	}).Info("audit")

	line := buf.String()
	action := bytes.Index([]byte(line), []byte(`"action"`))
	tenant := bytes.Index([]byte(line), []byte(`"tenant_id"`))
	user := bytes.Index([]byte(line), []byte(`"user_id"`))
	assert.True(t, action < tenant && tenant < user, line)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")
	ctx = contextkeys.WithTenantID(ctx, "tenant-1")

	FromContext(ctx).Info("resolved")

	line := decodeLine(t, &buf)
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.Equal(t, "tenant-1", line["tenant_id"])
}

func TestFromContextWithoutRequest(t *testing.T) {
	logger := NewLogger(InfoLevel, nil)
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}

func TestGetLoggerDefault(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}
