package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-render/internal/config"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("render not found")

// Render is one session's history row.
type Render struct {
	SessionID  string    `json:"session_id"`
	Language   string    `json:"language"`
	Voice      string    `json:"voice"`
	Output     string    `json:"output"`
	TempDir    string    `json:"temp_dir"`
	Chunks     int       `json:"chunks"`
	State      string    `json:"state"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Event represents a recorded timeline entry of a render.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	ChunkIndex int       `json:"chunk_index"`
	Payload    []byte    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed render history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "event-store"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_time_format=sqlite", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS renders (
    session_id TEXT PRIMARY KEY,
    language TEXT,
    voice TEXT,
    output TEXT,
    temp_dir TEXT,
    chunks INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    message TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS render_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT -1,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES renders(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_render_events_session ON render_events(session_id, id);
CREATE INDEX IF NOT EXISTS idx_renders_started ON renders(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordStart inserts the render row for a new session.
func (s *Store) RecordStart(ctx context.Context, r Render) error {
	if s.disabled() {
		return nil
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = s.clock().UTC()
	}
	if r.State == "" {
		r.State = "running"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO renders(session_id, language, voice, output, temp_dir, chunks, state, message, started_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET state=excluded.state, chunks=excluded.chunks`,
		r.SessionID, r.Language, r.Voice, r.Output, r.TempDir, r.Chunks, r.State, r.Message, r.StartedAt)
	return err
}

// RecordFinish stores the terminal state of a session.
func (s *Store) RecordFinish(ctx context.Context, sessionID, state, message string) error {
	if s.disabled() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE renders SET state = ?, message = ?, finished_at = ? WHERE session_id = ?`,
		state, message, s.clock().UTC(), sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO render_events(session_id, event_type, chunk_index, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.Type, evt.ChunkIndex, evt.Payload, evt.CreatedAt)
	return err
}

// GetRender returns the history row of one session.
func (s *Store) GetRender(ctx context.Context, sessionID string) (Render, error) {
	if s.disabled() {
		return Render{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectRenders+` WHERE session_id = ?`, sessionID)
	r, err := scanRender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Render{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return r, err
}

// ListRenders returns up to limit sessions, newest first.
func (s *Store) ListRenders(ctx context.Context, limit int) ([]Render, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRenders+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var renders []Render
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		renders = append(renders, r)
	}
	return renders, rows.Err()
}

const selectRenders = `SELECT session_id, language, voice, output, temp_dir, chunks, state, message, started_at, finished_at FROM renders`

type scanner interface {
	Scan(dest ...any) error
}

func scanRender(row scanner) (Render, error) {
	var r Render
	var message sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&r.SessionID, &r.Language, &r.Voice, &r.Output, &r.TempDir, &r.Chunks, &r.State, &message, &r.StartedAt, &finished); err != nil {
		return Render{}, err
	}
	r.Message = message.String
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return r, nil
}

// ListSessionEvents retrieves up to limit events for a session in insertion order.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, chunk_index, payload, created_at
		 FROM render_events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.ChunkIndex, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and after each
// finished render).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM render_events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM renders WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM renders WHERE session_id IN (
			SELECT session_id FROM renders ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
