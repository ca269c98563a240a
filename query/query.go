package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/agentlens/agentlens/internal/storage"
)

// ErrNotFound marks lookups for records that do not exist.
var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Engine runs read-only queries against a trace store.
type Engine struct {
	db    *sql.DB
	store *storage.Store // owned handle when built by Open, nil otherwise
}

// New wraps an existing database handle. The caller keeps ownership.
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Open opens the trace database at path read-only. Close releases it.
func Open(path string) (*Engine, error) {
	store, err := storage.OpenReadOnly(path, nil)
	if err != nil {
		return nil, err
	}
	return &Engine{db: store.DB(), store: store}, nil
}

// Close releases the handle when this engine owns it.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

const traceColumns = `t.id, t.session_id, t.name, t.status, t.started_at, t.ended_at, t.corrupted, t.meta,
	(SELECT COUNT(*) FROM spans s WHERE s.trace_id = t.id) AS span_count`

// ListTraces returns traces newest first, narrowed by filter.
func (e *Engine) ListTraces(ctx context.Context, filter Filter) ([]*Trace, error) {
	q := `SELECT ` + traceColumns + ` FROM traces t WHERE 1=1`
	args := make([]any, 0, 6)

	if filter.SessionID != "" {
		q += ` AND t.session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		q += ` AND t.status = ?`
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		q += ` AND t.started_at >= ?`
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		q += ` AND t.started_at <= ?`
		args = append(args, filter.Until.UnixNano())
	}

	q += ` ORDER BY t.started_at DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing traces: %w", err)
	}
	defer rows.Close()

	var traces []*Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// Trace returns a single trace header.
func (e *Engine) Trace(ctx context.Context, traceID string) (*Trace, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+traceColumns+` FROM traces t WHERE t.id = ?`, traceID)

	t, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trace %s: %w", traceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

const sessionColumns = `s.id, s.started_at, s.hostname, s.pid, s.git_sha, s.runtime, s.meta,
	(SELECT COUNT(*) FROM traces t WHERE t.session_id = s.id) AS trace_count`

// Sessions returns sessions newest first with their trace counts.
func (e *Engine) Sessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session returns a single session record.
func (e *Engine) Session(ctx context.Context, sessionID string) (*Session, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, sessionID)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSession(row scanner) (*Session, error) {
	s := &Session{}
	var started int64
	var meta sql.NullString
	err := row.Scan(&s.ID, &started, &s.Hostname, &s.PID, &s.GitSHA, &s.Runtime, &meta, &s.TraceCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session row: %w", err)
	}
	s.StartedAt = time.Unix(0, started)
	s.Meta = decodeMeta(meta)
	return s, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrace(row scanner) (*Trace, error) {
	t := &Trace{}
	var started int64
	var ended sql.NullInt64
	var corrupted int
	var meta sql.NullString

	err := row.Scan(&t.ID, &t.SessionID, &t.Name, &t.Status, &started, &ended, &corrupted, &meta, &t.SpanCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning trace row: %w", err)
	}

	t.StartedAt = time.Unix(0, started)
	if ended.Valid {
		end := time.Unix(0, ended.Int64)
		t.EndedAt = &end
		ms := end.Sub(t.StartedAt).Seconds() * 1000
		t.DurationMS = &ms
	}
	t.Corrupted = corrupted != 0
	t.Meta = decodeMeta(meta)
	return t, nil
}

// decodeMeta tolerates malformed metadata: the raw text is preserved
// under _raw instead of failing the row.
func decodeMeta(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	meta := make(map[string]any)
	if err := sonic.Unmarshal([]byte(raw.String), &meta); err != nil {
		return map[string]any{"_raw": raw.String}
	}
	return meta
}

func rawJSON(raw sql.NullString) json.RawMessage {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.RawMessage(raw.String)
}

func nullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

// escapeLike neutralizes LIKE metacharacters in user search terms.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
