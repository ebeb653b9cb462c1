package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chronicle/internal/events"

	"modernc.org/sqlite"
)

// ErrNotFound is returned when a session or event id matches nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned when an append collides with a stored
// event's id or (session, seq) slot.
var ErrDuplicateEvent = errors.New("duplicate event")

type Store struct {
	db *sql.DB
}

type SessionRecord struct {
	ID                string    `json:"sessionId"`
	WorkspaceID       string    `json:"workspaceId,omitempty"`
	Title             string    `json:"title,omitempty"`
	ForkedFromSession string    `json:"forkedFromSession,omitempty"`
	ForkedFromEvent   string    `json:"forkedFromEvent,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  workspace_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  forked_from_session TEXT NOT NULL DEFAULT '',
  forked_from_event TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_id, created_at);
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL UNIQUE,
  parent_id TEXT NOT NULL DEFAULT '',
  session_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  seq INTEGER NOT NULL,
  ts TEXT NOT NULL,
  type TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  UNIQUE(session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_session_seq ON events(session_id, seq);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions(session_id, workspace_id, title, forked_from_session, forked_from_event, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkspaceID, rec.Title, rec.ForkedFromSession, rec.ForkedFromEvent,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, title string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET updated_at=?, title=CASE WHEN ?='' THEN title ELSE ? END WHERE session_id=?`,
		time.Now().UTC().Format(time.RFC3339Nano), title, title, sessionID,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	var out SessionRecord
	var tsCreated, tsUpdated string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT session_id, workspace_id, title, forked_from_session, forked_from_event, created_at, updated_at
		 FROM sessions WHERE session_id=?`,
		sessionID,
	)
	if err := row.Scan(&out.ID, &out.WorkspaceID, &out.Title, &out.ForkedFromSession, &out.ForkedFromEvent, &tsCreated, &tsUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return SessionRecord{}, err
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339Nano, tsCreated)
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, tsUpdated)
	return out, nil
}

func (s *Store) ListSessions(ctx context.Context, workspaceID string, limit int64) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT session_id, workspace_id, title, forked_from_session, forked_from_event, created_at, updated_at
	          FROM sessions`
	args := []any{}
	if workspaceID != "" {
		query += ` WHERE workspace_id=?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var tsCreated, tsUpdated string
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.Title, &rec.ForkedFromSession, &rec.ForkedFromEvent, &tsCreated, &tsUpdated); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, tsCreated)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, tsUpdated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	if err := events.Validate(ev); err != nil {
		return err
	}
	payloadJSON, _ := json.Marshal(ev.Payload)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO events(event_id, parent_id, session_id, workspace_id, seq, ts, type, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ParentID, ev.SessionID, ev.WorkspaceID, ev.Sequence, ev.Timestamp, ev.Type, string(payloadJSON),
	)
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == 19 { // SQLITE_CONSTRAINT, low byte of extended codes
		return fmt.Errorf("%w: session %s seq %d", ErrDuplicateEvent, ev.SessionID, ev.Sequence)
	}
	return err
}

func (s *Store) ListEvents(ctx context.Context, sessionID string, fromSeq, limit int64) ([]events.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT event_id, parent_id, session_id, workspace_id, seq, ts, type, payload_json
		 FROM events WHERE session_id=? AND seq>=?
		 ORDER BY seq ASC LIMIT ?`,
		sessionID, fromSeq, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// NextSeq returns the sequence number the next append to this session
// should carry. Sequences start at 1.
func (s *Store) NextSeq(ctx context.Context, sessionID string) (int64, error) {
	var maxSeq sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE session_id=?`, sessionID)
	if err := row.Scan(&maxSeq); err != nil {
		return 0, err
	}
	if !maxSeq.Valid {
		return 1, nil
	}
	return maxSeq.Int64 + 1, nil
}

// Ancestry walks the fork chain root-first and concatenates each ancestor's
// events up to the event the next session forked from, ending with the full
// log of the requested session. The result is already in replay order, so
// callers reconstruct it with presorted=true: sequence numbers restart in
// each segment and must not be re-sorted across segments.
func (s *Store) Ancestry(ctx context.Context, sessionID string) ([]events.Event, error) {
	type segment struct {
		sessionID  string
		cutEventID string
	}
	var chain []segment
	visited := make(map[string]struct{})

	cur, cut := sessionID, ""
	for cur != "" {
		if _, seen := visited[cur]; seen {
			return nil, fmt.Errorf("fork chain cycle at session %s", cur)
		}
		visited[cur] = struct{}{}
		chain = append(chain, segment{sessionID: cur, cutEventID: cut})
		rec, err := s.GetSession(ctx, cur)
		if err != nil {
			return nil, err
		}
		cut, cur = rec.ForkedFromEvent, rec.ForkedFromSession
	}

	var out []events.Event
	for i := len(chain) - 1; i >= 0; i-- {
		seg, err := s.listSegment(ctx, chain[i].sessionID, chain[i].cutEventID)
		if err != nil {
			return nil, err
		}
		out = append(out, seg...)
	}
	return out, nil
}

// listSegment returns a session's events in sequence order, truncated at
// the fork-point event when one is given.
func (s *Store) listSegment(ctx context.Context, sessionID, cutEventID string) ([]events.Event, error) {
	if cutEventID == "" {
		return s.ListEvents(ctx, sessionID, 0, 1<<31)
	}
	var cutSeq int64
	row := s.db.QueryRowContext(ctx, `SELECT seq FROM events WHERE session_id=? AND event_id=?`, sessionID, cutEventID)
	if err := row.Scan(&cutSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// fork point never recorded here; fall back to the whole segment
			return s.ListEvents(ctx, sessionID, 0, 1<<31)
		}
		return nil, err
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT event_id, parent_id, session_id, workspace_id, seq, ts, type, payload_json
		 FROM events WHERE session_id=? AND seq<=?
		 ORDER BY seq ASC`,
		sessionID, cutSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	out := []events.Event{}
	for rows.Next() {
		var ev events.Event
		var payloadJSON string
		if err := rows.Scan(&ev.ID, &ev.ParentID, &ev.SessionID, &ev.WorkspaceID, &ev.Sequence, &ev.Timestamp, &ev.Type, &payloadJSON); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payloadJSON), &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
