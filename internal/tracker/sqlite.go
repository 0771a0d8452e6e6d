package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteTracker is a durable Tracker backed by SQLite. WAL mode and a busy
// timeout make it safe for the scheduler's concurrent per-agent writes.
type SQLiteTracker struct {
	db *sql.DB
}

// NewSQLiteTracker opens (or creates) the database at dbPath and ensures
// the schema exists. Parent directories are created as needed.
func NewSQLiteTracker(ctx context.Context, dbPath string) (*SQLiteTracker, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	t := &SQLiteTracker{db: db}
	if err := t.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return t, nil
}

func (t *SQLiteTracker) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		input TEXT,
		output TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		duration_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_executions_run_id ON executions(run_id);
	CREATE INDEX IF NOT EXISTS idx_executions_agent_id ON executions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`
	_, err := t.db.ExecContext(ctx, schema)
	return err
}

// RecordStart implements Tracker.
func (t *SQLiteTracker) RecordStart(ctx context.Context, runID, agentID string, attempt int, input map[string]any) (string, error) {
	id := uuid.NewString()
	inputJSON, err := encodeMap(input)
	if err != nil {
		return "", fmt.Errorf("encoding input: %w", err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO executions (id, run_id, agent_id, attempt, status, input, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, runID, agentID, attempt, StatusRunning, inputJSON, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("inserting execution record: %w", err)
	}
	return id, nil
}

// RecordTerminal implements Tracker. The UPDATE is guarded on the running
// status so a record can only be finalized once; anything else reports an
// error instead of silently rewriting history.
func (t *SQLiteTracker) RecordTerminal(ctx context.Context, executionID string, status Status, output map[string]any, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	outputJSON, err := encodeMap(output)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	now := time.Now().UTC()
	res, err := t.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, output = ?, error = ?, ended_at = ?,
			duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ? AND status IN (?, ?)
	`, status, outputJSON, errMsg, now, now, executionID, StatusPending, StatusRunning)
	if err != nil {
		return fmt.Errorf("finalizing execution record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("execution %q not found or already terminal", executionID)
	}
	return nil
}

// RecordSkipped implements Tracker.
func (t *SQLiteTracker) RecordSkipped(ctx context.Context, runID, agentID, reason string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO executions (id, run_id, agent_id, attempt, status, error, started_at, ended_at, duration_ms)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, 0)
	`, id, runID, agentID, StatusSkipped, reason, now, now)
	if err != nil {
		return "", fmt.Errorf("inserting skipped record: %w", err)
	}
	return id, nil
}

// Query implements Tracker.
func (t *SQLiteTracker) Query(ctx context.Context, f Filter) ([]Record, error) {
	query := `
		SELECT id, run_id, agent_id, attempt, status, input, output, error, started_at, ended_at, duration_ms
		FROM executions WHERE 1=1`
	var args []any
	if f.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	if f.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY started_at, id"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var inputJSON, outputJSON, errMsg sql.NullString
		var endedAt sql.NullTime
		var durationMS sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.AgentID, &rec.Attempt, &rec.Status,
			&inputJSON, &outputJSON, &errMsg, &rec.StartedAt, &endedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		if rec.Input, err = decodeMap(inputJSON); err != nil {
			return nil, err
		}
		if rec.Output, err = decodeMap(outputJSON); err != nil {
			return nil, err
		}
		rec.Error = errMsg.String
		if endedAt.Valid {
			rec.EndedAt = endedAt.Time
		}
		rec.DurationMS = durationMS.Int64
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Tracker.
func (t *SQLiteTracker) Close() error { return t.db.Close() }

func encodeMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("decoding stored payload: %w", err)
	}
	return m, nil
}

var _ Tracker = (*SQLiteTracker)(nil)
