package query

import (
	"encoding/json"
	"time"
)

// Session is one process lifetime of an instrumented program.
type Session struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	Hostname   string         `json:"hostname,omitempty"`
	PID        int            `json:"pid,omitempty"`
	GitSHA     string         `json:"git_sha,omitempty"`
	Runtime    string         `json:"runtime,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	TraceCount int            `json:"trace_count"`
}

// Trace is one top-level traced operation.
type Trace struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	DurationMS *float64       `json:"duration_ms,omitempty"`
	Corrupted  bool           `json:"corrupted,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	SpanCount  int            `json:"span_count"`
}

// Span is one step within a trace. Children and Events are populated by
// tree assembly; TraceName by search.
type Span struct {
	ID              string          `json:"id"`
	TraceID         string          `json:"trace_id"`
	SessionID       string          `json:"session_id"`
	ParentID        string          `json:"parent_id,omitempty"`
	Name            string          `json:"name"`
	Depth           int             `json:"depth"`
	Status          string          `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationMS      *float64        `json:"duration_ms,omitempty"`
	Input           json.RawMessage `json:"input,omitempty"`
	InputTruncated  bool            `json:"input_truncated,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	OutputTruncated bool            `json:"output_truncated,omitempty"`
	Error           string          `json:"error,omitempty"`
	Meta            map[string]any  `json:"meta,omitempty"`
	TraceName       string          `json:"trace_name,omitempty"`
	Events          []*Event        `json:"events,omitempty"`
	Children        []*Span         `json:"children,omitempty"`
	Incomplete      bool            `json:"incomplete,omitempty"`
}

// Event is a point-in-time record attached to a span.
type Event struct {
	ID               string          `json:"id"`
	SpanID           string          `json:"span_id"`
	TraceID          string          `json:"trace_id"`
	Name             string          `json:"name"`
	At               time.Time       `json:"at"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	PayloadTruncated bool            `json:"payload_truncated,omitempty"`
}

// Tree is a fully assembled trace. Roots holds spans with no parent;
// Fragments holds subtrees whose parent record never landed. Complete is
// false when fragments exist or the trace was flagged corrupted.
type Tree struct {
	Trace     *Trace  `json:"trace"`
	Roots     []*Span `json:"roots"`
	Fragments []*Span `json:"fragments,omitempty"`
	Complete  bool    `json:"complete"`
}

// Filter narrows a trace listing. Zero fields are ignored.
type Filter struct {
	SessionID string
	Status    string
	Since     time.Time
	Until     time.Time
	Limit     int // defaults to 50, capped at 500
	Offset    int
}

// SessionStats aggregates one session. Duration statistics cover
// completed spans, in milliseconds.
type SessionStats struct {
	SessionID       string  `json:"session_id"`
	TraceCount      int     `json:"trace_count"`
	SpanCount       int     `json:"span_count"`
	EventCount      int     `json:"event_count"`
	FailedTraces    int     `json:"failed_traces"`
	CorruptedTraces int     `json:"corrupted_traces"`
	DurationMeanMS  float64 `json:"duration_mean_ms"`
	DurationP50MS   float64 `json:"duration_p50_ms"`
	DurationP95MS   float64 `json:"duration_p95_ms"`
}

// Activity is one live-feed entry, ordered by At.
type Activity struct {
	Kind    string    `json:"kind"` // span_open, span_close, event
	TraceID string    `json:"trace_id"`
	SpanID  string    `json:"span_id"`
	Name    string    `json:"name"`
	Status  string    `json:"status,omitempty"`
	At      time.Time `json:"at"`
}
