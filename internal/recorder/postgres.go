package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

// tableNamePattern limits table names to plain identifiers. The name comes
// from configuration, but it is interpolated into DDL/DML, so it is
// validated anyway.
var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// PGRecorder inserts one row per attempt into Postgres.
type PGRecorder struct {
	dsn   string
	table string
	db    *sql.DB
}

// NewPGRecorder creates a recorder for the given DSN and table.
func NewPGRecorder(dsn, table string) *PGRecorder {
	if table == "" {
		table = "attempts"
	}
	return &PGRecorder{dsn: dsn, table: table}
}

func (s *PGRecorder) Name() string { return "postgres" }

func (s *PGRecorder) Start(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if err := validateTableName(s.table); err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("postgres: ping: %w", err)
	}
	s.db = db

	return s.ensureSchema(ctx)
}

func (s *PGRecorder) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		client_id TEXT NOT NULL,
		input_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		behavior_type TEXT NOT NULL,
		vertical_score DOUBLE PRECISION,
		vertical_count INTEGER,
		total_vertical_movement DOUBLE PRECISION,
		avg_speed DOUBLE PRECISION,
		std_speed DOUBLE PRECISION,
		acceleration_changes INTEGER,
		max_speed DOUBLE PRECISION,
		last_speed DOUBLE PRECISION,
		speed_stability DOUBLE PRECISION,
		movement_time INTEGER,
		speed_series DOUBLE PRECISION[],
		deceleration_rate DOUBLE PRECISION,
		speed_variance DOUBLE PRECISION,
		ml_score DOUBLE PRECISION,
		page_url TEXT,
		user_agent TEXT,
		box_indexes INTEGER[],
		attempt_id TEXT NOT NULL
	)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *PGRecorder) Append(rec AttemptRecord) error {
	if s.db == nil {
		return fmt.Errorf("postgres recorder not started")
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (
		seq, ts, client_id, input_kind, status, reason, behavior_type,
		vertical_score, vertical_count, total_vertical_movement,
		avg_speed, std_speed, acceleration_changes,
		max_speed, last_speed, speed_stability, movement_time,
		speed_series, deceleration_rate, speed_variance, ml_score,
		page_url, user_agent, box_indexes, attempt_id
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`, s.table)

	_, err := s.db.Exec(stmt,
		rec.Seq, rec.Timestamp, rec.ClientID, rec.InputKind, rec.Status,
		nullStr(rec.Reason), rec.Behavior,
		rec.VerticalScore, rec.VerticalCount, rec.TotalVerticalMovement,
		rec.AvgSpeed, rec.StdSpeed, rec.AccelerationChanges,
		rec.MaxSpeed, rec.LastSpeed, rec.SpeedStability, rec.MovementTime,
		pq.Array(rec.SpeedSeries), rec.DecelerationRate, rec.SpeedVariance, rec.MLScore,
		nullStr(rec.PageURL), nullStr(rec.UserAgent), pq.Array(rec.BoxIndexes), rec.AttemptID,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	return nil
}

func (s *PGRecorder) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
