// Package store handles SQLite persistence for calibration settings and
// session history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/soundwatch/noisemeter/internal/exposure"
	"github.com/soundwatch/noisemeter/internal/types"
	"github.com/soundwatch/noisemeter/internal/util"
)

// CalibrationOffsetKey is the settings key for the persisted baseline
// calibration offset.
const CalibrationOffsetKey = "calibration_offset_db"

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Store wraps SQLite access for settings and session summaries.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError("create data directory", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, util.WrapError("open database", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	summary     TEXT NOT NULL,
	readings    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return util.WrapError("apply schema", err)
	}
	return nil
}

// Setting returns the value for key and whether it exists. A missing key
// is not an error.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, util.WrapError("load setting", err)
	}
	return value, true, nil
}

// SetSetting stores a key-value pair, replacing any existing value.
// Callers may treat a failure as "not persisted" rather than fatal.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return util.WrapError("save setting", err)
}

// CalibrationOffset returns the persisted baseline offset, or 0 if none
// was saved yet.
func (s *Store) CalibrationOffset(ctx context.Context) (float64, error) {
	value, ok, err := s.Setting(ctx, CalibrationOffsetKey)
	if err != nil || !ok {
		return 0, err
	}
	offset, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, util.WrapError("parse calibration offset", err)
	}
	return offset, nil
}

// SetCalibrationOffset persists the baseline offset.
func (s *Store) SetCalibrationOffset(ctx context.Context, offset float64) error {
	return s.SetSetting(ctx, CalibrationOffsetKey, strconv.FormatFloat(offset, 'f', -1, 64))
}

// StoredSession is one finished session retrieved from history.
type StoredSession struct {
	ID          int64            `json:"id"`
	StartedAtMs int64            `json:"started_at_ms"`
	DurationMs  int64            `json:"duration_ms"`
	Summary     exposure.Summary `json:"summary"`
	Readings    []types.Reading  `json:"readings,omitempty"`
}

// SaveSession stores a finished session and prunes history beyond keep.
func (s *Store) SaveSession(ctx context.Context, startedAtMs int64, summary exposure.Summary, readings []types.Reading, keep int) (int64, error) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return 0, util.WrapError("marshal summary", err)
	}
	readingsJSON, err := json.Marshal(readings)
	if err != nil {
		return 0, util.WrapError("marshal readings", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (started_at, duration_ms, summary, readings) VALUES (?, ?, ?, ?)`,
		startedAtMs, summary.DurationMs, string(summaryJSON), string(readingsJSON))
	if err != nil {
		return 0, util.WrapError("insert session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, util.WrapError("read session id", err)
	}

	if keep > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE id NOT IN
			 (SELECT id FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?)`, keep)
		if err != nil {
			return id, util.WrapError("prune history", err)
		}
	}
	return id, nil
}

// Sessions returns stored summaries, newest first, without readings.
func (s *Store) Sessions(ctx context.Context, limit, offset int) ([]StoredSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, summary FROM sessions
		 ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, util.WrapError("query sessions", err)
	}
	defer util.SafeClose(rows, "session rows")

	var sessions []StoredSession
	for rows.Next() {
		var sess StoredSession
		var summaryJSON string
		if err := rows.Scan(&sess.ID, &sess.StartedAtMs, &sess.DurationMs, &summaryJSON); err != nil {
			return nil, util.WrapError("scan session", err)
		}
		if err := json.Unmarshal([]byte(summaryJSON), &sess.Summary); err != nil {
			return nil, util.WrapError("parse summary", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Session returns one stored session including its readings.
func (s *Store) Session(ctx context.Context, id int64) (*StoredSession, error) {
	var sess StoredSession
	var summaryJSON, readingsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, duration_ms, summary, readings FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.StartedAtMs, &sess.DurationMs, &summaryJSON, &readingsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, util.WrapError("query session", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &sess.Summary); err != nil {
		return nil, util.WrapError("parse summary", err)
	}
	if err := json.Unmarshal([]byte(readingsJSON), &sess.Readings); err != nil {
		return nil, util.WrapError("parse readings", err)
	}
	return &sess, nil
}

// RecentAverages returns the average dB of the most recent sessions,
// oldest first, for trend analysis across history.
func (s *Store) RecentAverages(ctx context.Context, limit int) ([]float64, error) {
	sessions, err := s.Sessions(ctx, limit, 0)
	if err != nil {
		return nil, err
	}
	averages := make([]float64, 0, len(sessions))
	for i := len(sessions) - 1; i >= 0; i-- {
		averages = append(averages, sessions[i].Summary.AverageDb)
	}
	return averages, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
