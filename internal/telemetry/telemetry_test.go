package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	_ Recorder = Nop{}
	_ Recorder = (*LogRecorder)(nil)
)

func TestLogRecorder(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := NewLogRecorder(zap.New(core))
	ctx := context.Background()
	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.RecordDisconnect(ctx, DisconnectRecord{SessionID: id, Region: "eu", Cause: "server_timeout", Code: 3, At: at}))
	require.NoError(t, rec.RecordLatency(ctx, LatencyRecord{SessionID: id, Region: "eu", Millis: 42, At: at}))
	require.NoError(t, rec.RecordRoomFailure(ctx, RoomFailureRecord{SessionID: id, Region: "eu", Op: "join_room", Code: 32765, Message: "Game full", At: at}))

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "server_timeout", entries[0].ContextMap()["cause"])
	assert.Equal(t, id.String(), entries[0].ContextMap()["session_id"])

	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, int64(42), entries[1].ContextMap()["ping_ms"])

	assert.Equal(t, "telemetry: room failure", entries[2].Message)
	assert.Equal(t, int16(32765), entries[2].ContextMap()["code"])
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Nop{}.RecordDisconnect(ctx, DisconnectRecord{}))
	assert.NoError(t, Nop{}.RecordLatency(ctx, LatencyRecord{}))
	assert.NoError(t, Nop{}.RecordRoomFailure(ctx, RoomFailureRecord{}))
}
