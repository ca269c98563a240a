package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const spanColumns = `id, trace_id, session_id, parent_id, name, depth, status, started_at, ended_at,
	input, input_truncated, output, output_truncated, error, meta`

// TraceTree loads a trace and assembles its spans into a tree. Spans whose
// parent row is missing become fragment roots rather than disappearing.
func (e *Engine) TraceTree(ctx context.Context, traceID string) (*Tree, error) {
	trace, err := e.Trace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	spans, err := e.spansForTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	events, err := e.eventsForTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Span, len(spans))
	for _, s := range spans {
		byID[s.ID] = s
	}

	orphanEvents := false
	for _, ev := range events {
		parent, ok := byID[ev.SpanID]
		if !ok {
			orphanEvents = true
			continue
		}
		parent.Events = append(parent.Events, ev)
	}

	// Spans arrive ordered by start time, so children append in order.
	var roots, fragments []*Span
	for _, s := range spans {
		if s.ParentID == "" {
			roots = append(roots, s)
			continue
		}
		if parent, ok := byID[s.ParentID]; ok {
			parent.Children = append(parent.Children, s)
		} else {
			s.Incomplete = true
			fragments = append(fragments, s)
		}
	}

	return &Tree{
		Trace:     trace,
		Roots:     roots,
		Fragments: fragments,
		Complete:  len(fragments) == 0 && !orphanEvents && !trace.Corrupted,
	}, nil
}

// Events returns the events of a single span, oldest first.
func (e *Engine) Events(ctx context.Context, spanID string) ([]*Event, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, span_id, trace_id, name, at, payload, payload_truncated
		FROM events
		WHERE span_id = ?
		ORDER BY at, id
	`, spanID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (e *Engine) spansForTrace(ctx context.Context, traceID string) ([]*Span, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT `+spanColumns+`
		FROM spans
		WHERE trace_id = ?
		ORDER BY started_at, id
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("listing spans: %w", err)
	}
	defer rows.Close()

	var spans []*Span
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}

func (e *Engine) eventsForTrace(ctx context.Context, traceID string) ([]*Event, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, span_id, trace_id, name, at, payload, payload_truncated
		FROM events
		WHERE trace_id = ?
		ORDER BY at, id
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanSpan(row scanner) (*Span, error) {
	s := &Span{}
	var started int64
	var ended sql.NullInt64
	var input, output, errMsg, meta sql.NullString
	var inTrunc, outTrunc int

	err := row.Scan(&s.ID, &s.TraceID, &s.SessionID, &s.ParentID, &s.Name, &s.Depth, &s.Status,
		&started, &ended, &input, &inTrunc, &output, &outTrunc, &errMsg, &meta)
	if err != nil {
		return nil, fmt.Errorf("scanning span row: %w", err)
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

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var at int64
		var payload sql.NullString
		var trunc int
		if err := rows.Scan(&ev.ID, &ev.SpanID, &ev.TraceID, &ev.Name, &at, &payload, &trunc); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev.At = time.Unix(0, at)
		ev.Payload = rawJSON(payload)
		ev.PayloadTruncated = trunc != 0
		events = append(events, ev)
	}
	return events, rows.Err()
}
