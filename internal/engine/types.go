package engine

import (
	"context"
	"time"

	"github.com/agentlens/agentlens/internal/shared/id"
)

// ============================================================================
// Record Status
// ============================================================================

// Status is the lifecycle state of a span or trace
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a final state
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ============================================================================
// Records
//
// Records handed to the sink are immutable snapshots: the tracer clones
// mutable state before enqueueing so the drain goroutine never races the
// instrumented program.
// ============================================================================

// Session identifies one process lifetime of an instrumented program
type Session struct {
	ID        id.SessionID
	StartedAt time.Time
	Hostname  string
	PID       int
	GitSHA    string
	Runtime   string
	Meta      map[string]any
}

// Trace is one top-level traced operation
type Trace struct {
	ID        id.TraceID
	SessionID id.SessionID
	Name      string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time // zero until closed
	Corrupted bool
	Meta      map[string]any
}

// Span is one step within a trace
type Span struct {
	ID        id.SpanID
	TraceID   id.TraceID
	SessionID id.SessionID
	ParentID  id.SpanID // empty for the trace root
	Name      string
	Depth     int
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Input     Snapshot
	Output    Snapshot
	ErrorMsg  string
	Meta      map[string]any

	owner *execContext // context that opened the span; nil on clones and no-op spans
}

// Duration returns the span's wall time, zero while still open
func (s *Span) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Event is a point-in-time record attached to an open span
type Event struct {
	ID      id.EventID
	SpanID  id.SpanID
	TraceID id.TraceID
	Name    string
	At      time.Time
	Payload Snapshot
}

// Snapshot is a serialized payload capture. When the source exceeded the
// capture cap, Data holds a marker object and Truncated is set.
type Snapshot struct {
	Data      []byte
	Truncated bool
}

// Empty reports whether nothing was captured
func (s Snapshot) Empty() bool {
	return len(s.Data) == 0
}

// clone returns an immutable copy safe to hand to the sink
func (s *Span) clone() *Span {
	cp := *s
	cp.owner = nil
	if s.Meta != nil {
		cp.Meta = make(map[string]any, len(s.Meta))
		for k, v := range s.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// clone returns an immutable copy safe to hand to the sink
func (t *Trace) clone() *Trace {
	cp := *t
	if t.Meta != nil {
		cp.Meta = make(map[string]any, len(t.Meta))
		for k, v := range t.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// clone returns an immutable copy safe to hand to the sink
func (s *Session) clone() *Session {
	cp := *s
	if s.Meta != nil {
		cp.Meta = make(map[string]any, len(s.Meta))
		for k, v := range s.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

// ============================================================================
// Sink
// ============================================================================

// OpKind discriminates persistence operations
type OpKind int

const (
	OpSessionUpsert OpKind = iota
	OpTraceUpsert
	OpSpanUpsert
	OpEventInsert
	// OpTraceCorrupt flags an existing trace corrupted by ID only, for
	// contexts that never held the full trace record.
	OpTraceCorrupt
)

// String returns the op kind for logs
func (k OpKind) String() string {
	switch k {
	case OpSessionUpsert:
		return "session"
	case OpTraceUpsert:
		return "trace"
	case OpSpanUpsert:
		return "span"
	case OpEventInsert:
		return "event"
	case OpTraceCorrupt:
		return "trace_corrupt"
	default:
		return "unknown"
	}
}

// Op is one persistence operation. Exactly one record field is set,
// matching Kind.
type Op struct {
	Kind    OpKind
	Session *Session
	Trace   *Trace
	Span    *Span
	Event   *Event
}

// Sink receives immutable records for durable persistence.
//
// Enqueue must never block: implementations drop under pressure and report
// false. Flush blocks until every record enqueued before the call is
// durable, or the context is done.
type Sink interface {
	Enqueue(op Op) bool
	Flush(ctx context.Context) error
}

// ============================================================================
// Stream Notices
// ============================================================================

// NoticeKind tags live-stream notifications
type NoticeKind string

const (
	NoticeSpanOpen   NoticeKind = "span_open"
	NoticeSpanClose  NoticeKind = "span_close"
	NoticeEvent      NoticeKind = "event"
	NoticeTraceClose NoticeKind = "trace_close"
)

// Notice is a lightweight notification emitted as records are built,
// consumed by live viewers. It carries identifiers only, never payloads.
type Notice struct {
	Kind    NoticeKind
	TraceID id.TraceID
	SpanID  id.SpanID
	Name    string
	Status  Status
	At      time.Time
}
