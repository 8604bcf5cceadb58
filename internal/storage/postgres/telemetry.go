package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/lobby/internal/telemetry"
)

// TelemetryRepository implements telemetry.Recorder and telemetry.Stats on
// PostgreSQL.
type TelemetryRepository struct {
	db *pgxpool.Pool
}

// NewTelemetryRepository creates a TelemetryRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the telemetry
// migrations applied.
func NewTelemetryRepository(db *pgxpool.Pool) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// RecordDisconnect inserts rec into session_disconnects.
func (r *TelemetryRepository) RecordDisconnect(ctx context.Context, rec telemetry.DisconnectRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO session_disconnects (session_id, region, cause, code, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.SessionID, rec.Region, rec.Cause, rec.Code, rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting disconnect: %w", err)
	}
	return nil
}

// RecordLatency inserts rec into latency_samples.
func (r *TelemetryRepository) RecordLatency(ctx context.Context, rec telemetry.LatencyRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO latency_samples (session_id, region, ping_ms, sampled_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.SessionID, rec.Region, rec.Millis, rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting latency sample: %w", err)
	}
	return nil
}

// RecordRoomFailure inserts rec into room_failures.
func (r *TelemetryRepository) RecordRoomFailure(ctx context.Context, rec telemetry.RoomFailureRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO room_failures (session_id, region, op, code, message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.SessionID, rec.Region, rec.Op, rec.Code, rec.Message, rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting room failure: %w", err)
	}
	return nil
}

// Disconnects returns the disconnects of sessionID, oldest first.
func (r *TelemetryRepository) Disconnects(ctx context.Context, sessionID uuid.UUID) ([]telemetry.DisconnectRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT session_id, region, cause, code, occurred_at
		FROM session_disconnects
		WHERE session_id = $1
		ORDER BY occurred_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying disconnects: %w", err)
	}
	defer rows.Close()

	var out []telemetry.DisconnectRecord
	for rows.Next() {
		var rec telemetry.DisconnectRecord
		if err := rows.Scan(&rec.SessionID, &rec.Region, &rec.Cause, &rec.Code, &rec.At); err != nil {
			return nil, fmt.Errorf("scanning disconnect: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RoomFailures returns the room failures of sessionID, oldest first.
func (r *TelemetryRepository) RoomFailures(ctx context.Context, sessionID uuid.UUID) ([]telemetry.RoomFailureRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT session_id, region, op, code, message, occurred_at
		FROM room_failures
		WHERE session_id = $1
		ORDER BY occurred_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying room failures: %w", err)
	}
	defer rows.Close()

	var out []telemetry.RoomFailureRecord
	for rows.Next() {
		var rec telemetry.RoomFailureRecord
		if err := rows.Scan(&rec.SessionID, &rec.Region, &rec.Op, &rec.Code, &rec.Message, &rec.At); err != nil {
			return nil, fmt.Errorf("scanning room failure: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegionLatency aggregates the samples taken for region since since.
//
// Postcondition: Samples is zero, and the other figures are zero, when no
// samples match.
func (r *TelemetryRepository) RegionLatency(ctx context.Context, region string, since time.Time) (telemetry.LatencyStats, error) {
	stats := telemetry.LatencyStats{Region: region}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MIN(ping_ms), 0), COALESCE(MAX(ping_ms), 0), COALESCE(AVG(ping_ms), 0)::float8
		FROM latency_samples
		WHERE region = $1 AND sampled_at >= $2`,
		region, since.UTC(),
	).Scan(&stats.Samples, &stats.MinMs, &stats.MaxMs, &stats.AvgMs)
	if err != nil {
		return telemetry.LatencyStats{}, fmt.Errorf("aggregating latency for %q: %w", region, err)
	}
	return stats, nil
}
