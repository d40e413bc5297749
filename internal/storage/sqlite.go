package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/ghost-puppet/internal/transcribe"
)

const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Session is one listening period, from the user pressing start until
// listening stops for any reason.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	EndReason string     `json:"end_reason,omitempty"`
	Restarts  int        `json:"restarts"`
}

// RecognitionError is a platform error reported during a listening period.
type RecognitionError struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-puppet.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var schema = []struct {
	name string
	stmt string
}{
	{"listen_sessions table", `
		CREATE TABLE IF NOT EXISTS listen_sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			end_reason TEXT NOT NULL DEFAULT '',
			restarts INTEGER NOT NULL DEFAULT 0
		);`},
	{"transcript_segments table", `
		CREATE TABLE IF NOT EXISTS transcript_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES listen_sessions(id) ON DELETE CASCADE
		);`},
	{"recognition_errors table", `
		CREATE TABLE IF NOT EXISTS recognition_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES listen_sessions(id) ON DELETE CASCADE
		);`},
	{"sessions index", "CREATE INDEX IF NOT EXISTS idx_listen_sessions_started_at ON listen_sessions(started_at)"},
	{"segments index", "CREATE INDEX IF NOT EXISTS idx_transcript_segments_session_id ON transcript_segments(session_id, timestamp)"},
	{"errors index", "CREATE INDEX IF NOT EXISTS idx_recognition_errors_session_id ON recognition_errors(session_id)"},
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	for _, st := range schema {
		if _, err := s.db.Exec(st.stmt); err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO listen_sessions(id, started_at, status) VALUES(?, ?, ?)`,
		id,
		formatTime(startedAt),
		StatusActive,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndSession(id string, endedAt time.Time, reason string) error {
	res, err := s.db.Exec(
		`UPDATE listen_sessions SET ended_at = ?, status = ?, end_reason = ? WHERE id = ?`,
		formatTime(endedAt),
		StatusEnded,
		reason,
		id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return requireRow(res, "end session")
}

func (s *SQLiteStore) IncrementRestarts(id string) error {
	res, err := s.db.Exec(`UPDATE listen_sessions SET restarts = restarts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment restarts for session %s: %w", id, err)
	}
	return requireRow(res, "increment restarts")
}

func (s *SQLiteStore) AppendSegment(sessionID string, seg transcribe.Segment) error {
	_, err := s.db.Exec(
		`INSERT INTO transcript_segments(session_id, text, timestamp) VALUES(?, ?, ?)`,
		sessionID,
		strings.TrimSpace(seg.Text),
		formatTime(seg.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append segment for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) RecordError(sessionID, kind, message string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO recognition_errors(session_id, kind, message, occurred_at) VALUES(?, ?, ?, ?)`,
		sessionID,
		kind,
		message,
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("record error for session %s: %w", sessionID, err)
	}
	return nil
}

const sessionColumns = `id, started_at, ended_at, status, end_reason, restarts`

func (s *SQLiteStore) GetSessionsByDate(date string) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+`
		 FROM listen_sessions
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM listen_sessions ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM listen_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetSegments(sessionID string) ([]transcribe.Segment, error) {
	rows, err := s.db.Query(
		`SELECT text, timestamp
		 FROM transcript_segments
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]transcribe.Segment, 0, 32)
	for rows.Next() {
		seg := transcribe.Segment{SessionID: sessionID}
		var ts string
		if err := rows.Scan(&seg.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan segment for session %s: %w", sessionID, err)
		}
		if seg.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse segment timestamp for session %s: %w", sessionID, err)
		}
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows for session %s: %w", sessionID, err)
	}

	return segments, nil
}

func (s *SQLiteStore) GetErrors(sessionID string) ([]RecognitionError, error) {
	rows, err := s.db.Query(
		`SELECT kind, message, occurred_at
		 FROM recognition_errors
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query errors for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecognitionError
	for rows.Next() {
		re := RecognitionError{SessionID: sessionID}
		var at string
		if err := rows.Scan(&re.Kind, &re.Message, &at); err != nil {
			return nil, fmt.Errorf("scan error for session %s: %w", sessionID, err)
		}
		if re.OccurredAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse error timestamp for session %s: %w", sessionID, err)
		}
		out = append(out, re)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error rows for session %s: %w", sessionID, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&sess.ID, &startedAt, &endedAt, &sess.Status, &sess.EndReason, &sess.Restarts); err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}

	parsedStart, err := parseTime(startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	sess.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := parseTime(endedAt.String)
		if err != nil {
			return Session{}, fmt.Errorf("parse ended_at: %w", err)
		}
		sess.EndedAt = &parsedEnd
	}
	return sess, nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
