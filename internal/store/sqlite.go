package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/zhouzirui/tofu-tavern/backend/internal/model/chat"
)

// SQLiteStore persists snapshots in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			persona_id TEXT NOT NULL,
			temperature REAL NOT NULL,
			prefill TEXT NOT NULL DEFAULT '',
			transcript_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_updated ON sessions(updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, snapshot chat.Snapshot) error {
	if strings.TrimSpace(snapshot.ID) == "" {
		return errors.New("sqlite store: empty snapshot id")
	}
	transcript, err := json.Marshal(snapshot.Transcript)
	if err != nil {
		return errors.Wrap(err, "sqlite store: marshal transcript")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, persona_id, temperature, prefill, transcript_json, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			persona_id = excluded.persona_id,
			temperature = excluded.temperature,
			prefill = excluded.prefill,
			transcript_json = excluded.transcript_json,
			updated_at_ms = excluded.updated_at_ms`,
		snapshot.ID,
		snapshot.PersonaID,
		snapshot.Temperature,
		snapshot.Prefill,
		string(transcript),
		snapshot.CreatedAt.UnixMilli(),
		snapshot.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "sqlite store: upsert session")
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (chat.Snapshot, error) {
	var (
		snapshot    chat.Snapshot
		transcript  string
		createdAtMs int64
		updatedAtMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, persona_id, temperature, prefill, transcript_json, created_at_ms, updated_at_ms
		FROM sessions WHERE session_id = ?`, id,
	).Scan(&snapshot.ID, &snapshot.PersonaID, &snapshot.Temperature, &snapshot.Prefill, &transcript, &createdAtMs, &updatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return chat.Snapshot{}, errors.Wrap(err, "sqlite store: load session")
	}

	if err := json.Unmarshal([]byte(transcript), &snapshot.Transcript); err != nil {
		return chat.Snapshot{}, errors.Wrap(err, "sqlite store: decode transcript")
	}
	snapshot.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	snapshot.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()
	return snapshot, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "sqlite store: delete session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "sqlite store: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
