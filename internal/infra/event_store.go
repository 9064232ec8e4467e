package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"github.com/pkg/errors"

	"github.com/eliteGoblin/focusd/focus_mon/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	eventsDBName = "events.db"

	metaPID       = "daemon_pid"
	metaVersion   = "daemon_version"
	metaStartedAt = "daemon_started_at"
	metaHeartbeat = "daemon_heartbeat"
	defaultRecent = 20
)

// EventStore implements domain.EventStore using a SQLCipher encrypted
// SQLite database.
type EventStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// NewEventStore opens (or creates) the encrypted event database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEventStore(dataDir string, key []byte) (*EventStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}

	dbPath := filepath.Join(dataDir, eventsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open encrypted database")
	}

	// Ping forces the connection open; a wrong key fails at table creation.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect to encrypted database")
	}

	s := &EventStore{db: db, dbPath: dbPath, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tables")
	}
	return s, nil
}

// WithClock replaces the time source (for testing).
func (s *EventStore) WithClock(now func() time.Time) *EventStore {
	s.now = now
	return s
}

func (s *EventStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS focus_events (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		app_name TEXT NOT NULL DEFAULT '',
		window_title TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_focus_events_recorded_at ON focus_events(recorded_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordEvent stores a focus transition. Missing IDs and timestamps are filled in.
func (s *EventStore) RecordEvent(ctx context.Context, event domain.FocusEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO focus_events (id, status, subject, description, message, app_name, window_title, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Status), event.Subject, event.Description, event.Message,
		event.AppName, event.WindowTitle, event.RecordedAt.UnixMilli(),
	)
	return errors.Wrapf(err, "record %s event", event.Status)
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]domain.FocusEvent, error) {
	if limit <= 0 {
		limit = defaultRecent
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, subject, description, message, app_name, window_title, recorded_at
		FROM focus_events ORDER BY recorded_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent events")
	}
	defer rows.Close()

	var events []domain.FocusEvent
	for rows.Next() {
		var e domain.FocusEvent
		var status string
		var recordedAt int64
		if err := rows.Scan(&e.ID, &status, &e.Subject, &e.Description, &e.Message,
			&e.AppName, &e.WindowTitle, &recordedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		e.Status = domain.Status(status)
		e.RecordedAt = time.UnixMilli(recordedAt)
		events = append(events, e)
	}
	return events, errors.Wrap(rows.Err(), "iterate events")
}

// CountSince counts events per status recorded at or after since.
func (s *EventStore) CountSince(ctx context.Context, since time.Time) (map[domain.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM focus_events WHERE recorded_at >= ? GROUP BY status`,
		since.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "count events")
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		counts[domain.Status(status)] = n
	}
	return counts, errors.Wrap(rows.Err(), "iterate counts")
}

// SetDaemonState records the running monitor.
func (s *EventStore) SetDaemonState(ctx context.Context, state domain.DaemonState) error {
	heartbeat := state.LastHeartbeat
	if heartbeat.IsZero() {
		heartbeat = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin daemon state")
	}
	defer tx.Rollback()

	values := map[string]string{
		metaPID:       strconv.Itoa(state.PID),
		metaVersion:   state.AppVersion,
		metaStartedAt: strconv.FormatInt(state.StartedAt.Unix(), 10),
		metaHeartbeat: strconv.FormatInt(heartbeat.Unix(), 10),
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return errors.Wrapf(err, "write %s", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit daemon state")
}

// Heartbeat refreshes the liveness timestamp.
func (s *EventStore) Heartbeat(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = ?`,
		strconv.FormatInt(s.now().Unix(), 10), metaHeartbeat)
	if err != nil {
		return errors.Wrap(err, "update heartbeat")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotRunning
	}
	return nil
}

// GetDaemonState returns domain.ErrNotRunning when no monitor is recorded.
func (s *EventStore) GetDaemonState(ctx context.Context) (*domain.DaemonState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta WHERE key IN (?, ?, ?, ?)`,
		metaPID, metaVersion, metaStartedAt, metaHeartbeat)
	if err != nil {
		return nil, errors.Wrap(err, "query daemon state")
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan daemon state")
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate daemon state")
	}

	pid, err := strconv.Atoi(values[metaPID])
	if err != nil || pid == 0 {
		return nil, domain.ErrNotRunning
	}
	started, _ := strconv.ParseInt(values[metaStartedAt], 10, 64)
	heartbeat, _ := strconv.ParseInt(values[metaHeartbeat], 10, 64)

	return &domain.DaemonState{
		PID:           pid,
		AppVersion:    values[metaVersion],
		StartedAt:     time.Unix(started, 0),
		LastHeartbeat: time.Unix(heartbeat, 0),
	}, nil
}

// ClearDaemonState removes the liveness record.
func (s *EventStore) ClearDaemonState(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meta WHERE key IN (?, ?, ?, ?)`,
		metaPID, metaVersion, metaStartedAt, metaHeartbeat)
	return errors.Wrap(err, "clear daemon state")
}

// Path returns the database file path.
func (s *EventStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EventStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EventStore implements domain.EventStore.
var _ domain.EventStore = (*EventStore)(nil)
