// Package telemetry records connection health data produced by a session:
// disconnects, latency samples, and rejected room operations.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DisconnectRecord describes one dropped connection.
type DisconnectRecord struct {
	SessionID uuid.UUID
	Region    string
	Cause     string
	Code      int
	At        time.Time
}

// LatencyRecord is one latency poll.
type LatencyRecord struct {
	SessionID uuid.UUID
	Region    string
	Millis    int
	At        time.Time
}

// RoomFailureRecord describes a rejected create or join.
type RoomFailureRecord struct {
	SessionID uuid.UUID
	Region    string
	Op        string
	Code      int16
	Message   string
	At        time.Time
}

// Recorder persists telemetry. Implementations must be safe for concurrent
// use; errors are reported to the caller, which logs and drops them.
type Recorder interface {
	RecordDisconnect(ctx context.Context, rec DisconnectRecord) error
	RecordLatency(ctx context.Context, rec LatencyRecord) error
	RecordRoomFailure(ctx context.Context, rec RoomFailureRecord) error
}

// LatencyStats summarises the latency samples of one region.
type LatencyStats struct {
	Region  string
	Samples int64
	MinMs   int
	MaxMs   int
	AvgMs   float64
}

// Stats reads back recorded telemetry. Only durable sinks provide it.
type Stats interface {
	Disconnects(ctx context.Context, sessionID uuid.UUID) ([]DisconnectRecord, error)
	RoomFailures(ctx context.Context, sessionID uuid.UUID) ([]RoomFailureRecord, error)
	RegionLatency(ctx context.Context, region string, since time.Time) (LatencyStats, error)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDisconnect(context.Context, DisconnectRecord) error   { return nil }
func (Nop) RecordLatency(context.Context, LatencyRecord) error         { return nil }
func (Nop) RecordRoomFailure(context.Context, RoomFailureRecord) error { return nil }

// LogRecorder writes telemetry as structured log entries.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder.
//
// Precondition: logger must be non-nil.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// RecordDisconnect logs rec at warn level.
func (r *LogRecorder) RecordDisconnect(_ context.Context, rec DisconnectRecord) error {
	r.logger.Warn("telemetry: disconnect",
		zap.String("session_id", rec.SessionID.String()),
		zap.String("region", rec.Region),
		zap.String("cause", rec.Cause),
		zap.Int("code", rec.Code),
		zap.Time("at", rec.At),
	)
	return nil
}

// RecordLatency logs rec at info level.
func (r *LogRecorder) RecordLatency(_ context.Context, rec LatencyRecord) error {
	r.logger.Info("telemetry: latency",
		zap.String("session_id", rec.SessionID.String()),
		zap.String("region", rec.Region),
		zap.Int("ping_ms", rec.Millis),
		zap.Time("at", rec.At),
	)
	return nil
}

// RecordRoomFailure logs rec at warn level.
func (r *LogRecorder) RecordRoomFailure(_ context.Context, rec RoomFailureRecord) error {
	r.logger.Warn("telemetry: room failure",
		zap.String("session_id", rec.SessionID.String()),
		zap.String("region", rec.Region),
		zap.String("op", rec.Op),
		zap.Int16("code", rec.Code),
		zap.String("message", rec.Message),
		zap.Time("at", rec.At),
	)
	return nil
}
