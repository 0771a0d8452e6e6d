package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by SQLite, sharing the tracker's
// storage conventions (WAL, busy timeout, schema-on-open).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_memory (
		agent_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		kind TEXT NOT NULL DEFAULT 'episodic',
		updated_at DATETIME NOT NULL,
		expires_at DATETIME,
		PRIMARY KEY (agent_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_agent_memory_agent_id ON agent_memory(agent_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Get implements Store. Expired entries read as absent and are purged.
func (s *SQLiteStore) Get(ctx context.Context, agentID, key string) (Entry, bool, error) {
	entry, ok, err := s.scanOne(ctx, agentID, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if entry.Expired(time.Now()) {
		_ = s.Delete(ctx, agentID, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *SQLiteStore) scanOne(ctx context.Context, agentID, key string) (Entry, bool, error) {
	var entry Entry
	var valueJSON sql.NullString
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, key, value, kind, updated_at, expires_at
		FROM agent_memory WHERE agent_id = ? AND key = ?
	`, agentID, key).Scan(&entry.AgentID, &entry.Key, &valueJSON, &entry.Kind, &entry.UpdatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("querying memory entry: %w", err)
	}
	if valueJSON.Valid {
		if err := json.Unmarshal([]byte(valueJSON.String), &entry.Value); err != nil {
			return Entry{}, false, fmt.Errorf("decoding memory value: %w", err)
		}
	}
	if expiresAt.Valid {
		entry.ExpiresAt = expiresAt.Time
	}
	return entry, true, nil
}

// Set implements Store. Last write wins via upsert.
func (s *SQLiteStore) Set(ctx context.Context, agentID, key string, value any, opts ...SetOption) error {
	entry := Entry{
		AgentID:   agentID,
		Key:       key,
		Value:     value,
		Kind:      KindEpisodic,
		UpdatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&entry)
	}

	data, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("encoding memory value: %w", err)
	}
	var expiresAt any
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_memory (agent_id, key, value, kind, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET
			value = excluded.value,
			kind = excluded.kind,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, agentID, key, string(data), entry.Kind, entry.UpdatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("upserting memory entry: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, agentID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, key, value, kind, updated_at, expires_at
		FROM agent_memory WHERE agent_id = ? ORDER BY key
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing memory entries: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []Entry
	var expiredKeys []string
	for rows.Next() {
		var entry Entry
		var valueJSON sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&entry.AgentID, &entry.Key, &valueJSON, &entry.Kind, &entry.UpdatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		if valueJSON.Valid {
			if err := json.Unmarshal([]byte(valueJSON.String), &entry.Value); err != nil {
				return nil, fmt.Errorf("decoding memory value: %w", err)
			}
		}
		if expiresAt.Valid {
			entry.ExpiresAt = expiresAt.Time
		}
		if entry.Expired(now) {
			expiredKeys = append(expiredKeys, entry.Key)
			continue
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, key := range expiredKeys {
		_ = s.Delete(ctx, agentID, key)
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, agentID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_memory WHERE agent_id = ? AND key = ?`, agentID, key)
	if err != nil {
		return fmt.Errorf("deleting memory entry: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
