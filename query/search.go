package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyTerm rejects searches with no usable term.
var ErrEmptyTerm = errors.New("search term required")

// Search finds spans whose name contains term, newest first. An optional
// status narrows the match. Spans from dropped traces still match; their
// TraceName stays empty.
func (e *Engine) Search(ctx context.Context, term, status string, limit int) ([]*Span, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, ErrEmptyTerm
	}

	q := `
		SELECT s.id, s.trace_id, s.session_id, s.parent_id, s.name, s.depth, s.status,
			s.started_at, s.ended_at, s.input, s.input_truncated, s.output, s.output_truncated,
			s.error, s.meta, COALESCE(t.name, '') AS trace_name
		FROM spans s
		LEFT JOIN traces t ON s.trace_id = t.id
		WHERE s.name LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(term) + "%"}

	if status != "" {
		q += ` AND s.status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY s.started_at DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching spans: %w", err)
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		s, err := scanSearchSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}

// ActivitySince returns span opens, span closes, and events recorded after
// the given instant, oldest first. It backs the live stream poller.
func (e *Engine) ActivitySince(ctx context.Context, since time.Time, limit int) ([]*Activity, error) {
	mark := since.UnixNano()
	rows, err := e.db.QueryContext(ctx, `
		SELECT 'span_open' AS kind, trace_id, id AS span_id, name, status, started_at AS at
		FROM spans WHERE started_at > ?
		UNION ALL
		SELECT 'span_close', trace_id, id, name, status, ended_at
		FROM spans WHERE ended_at IS NOT NULL AND ended_at > ?
		UNION ALL
		SELECT 'event', trace_id, span_id, name, '', at
		FROM events WHERE at > ?
		ORDER BY at ASC
		LIMIT ?
	`, mark, mark, mark, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("loading activity: %w", err)
	}
	defer rows.Close()

	var acts []*Activity
	for rows.Next() {
		a := &Activity{}
		var at int64
		if err := rows.Scan(&a.Kind, &a.TraceID, &a.SpanID, &a.Name, &a.Status, &at); err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		a.At = time.Unix(0, at)
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

func scanSearchSpan(rows *sql.Rows) (*Span, error) {
	s := &Span{}
	var started int64
	var ended sql.NullInt64
	var input, output, errMsg, meta sql.NullString
	var inTrunc, outTrunc int

	err := rows.Scan(&s.ID, &s.TraceID, &s.SessionID, &s.ParentID, &s.Name, &s.Depth, &s.Status,
		&started, &ended, &input, &inTrunc, &output, &outTrunc, &errMsg, &meta, &s.TraceName)
	if err != nil {
		return nil, fmt.Errorf("scanning search row: %w", err)
	}

	s.StartedAt = time.Unix(0, started)
	if s.EndedAt = nullableTime(ended); s.EndedAt != nil {
		ms := s.EndedAt.Sub(s.StartedAt).Seconds() * 1000
		s.DurationMS = &ms
	}
	s.Input = rawJSON(input)
	s.InputTruncated = inTrunc != 0
	s.Output = rawJSON(output)
	s.OutputTruncated = outTrunc != 0
	s.Error = errMsg.String
	s.Meta = decodeMeta(meta)
	return s, nil
}
