package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/internal/infrastructure/monitoring"
	"github.com/agentlens/agentlens/internal/shared/id"
)

const defaultStackLimit = 512

// forcedCloseReason marks spans closed because an outer span exited first.
const forcedCloseReason = "forced close: enclosing span exited first"

// NotifyFunc receives live-stream notices as records are built.
type NotifyFunc func(Notice)

// Options configures a Tracer.
type Options struct {
	Session    *Session // nil builds a fresh session record
	Sink       Sink     // required
	Capture    *Capture // nil disables payload capture
	StackLimit int      // <= 0 selects the default
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
}

// Tracer builds immutable records from span activity and drives the sink.
// All methods are safe for concurrent use and never return errors to the
// instrumented program: misuse and pressure degrade to logs and counters.
type Tracer struct {
	session   *Session
	sessionMu sync.Mutex // guards session.Meta

	registry *Registry
	capture  *Capture
	sink     Sink
	limit    int
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	notify   atomic.Pointer[NotifyFunc]
}

// New creates a Tracer and enqueues its session record.
func New(opts Options) *Tracer {
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Session == nil {
		opts.Session = NewSession()
	}
	if opts.Capture == nil {
		opts.Capture = NewCapture(true, 0, 0, opts.Metrics)
	}
	if opts.StackLimit <= 0 {
		opts.StackLimit = defaultStackLimit
	}

	t := &Tracer{
		session:  opts.Session,
		registry: NewRegistry(opts.Metrics),
		capture:  opts.Capture,
		sink:     opts.Sink,
		limit:    opts.StackLimit,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}

	t.sink.Enqueue(Op{Kind: OpSessionUpsert, Session: t.session.clone()})
	return t
}

// Session returns a copy of the session record.
func (t *Tracer) Session() *Session {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	return t.session.clone()
}

// SetNotify installs the live-stream callback. Safe to call at any time.
func (t *Tracer) SetNotify(fn NotifyFunc) {
	t.notify.Store(&fn)
}

// Spawn derives a context whose first span links under ctx's current span.
func (t *Tracer) Spawn(ctx context.Context) context.Context {
	return t.registry.Spawn(ctx)
}

// Detach derives a context with no span lineage.
func (t *Tracer) Detach(ctx context.Context) context.Context {
	return t.registry.Detach(ctx)
}

// Enter opens a span named name as a child of ctx's current span, starting
// a new trace when none is open. The returned context carries the
// execution context and must be used for nested operations.
func (t *Tracer) Enter(ctx context.Context, name string, input any) (context.Context, *Span) {
	ctx, ec := t.registry.Attach(ctx)
	now := time.Now()
	captured := t.capture.Take(input)

	ec.mu.Lock()

	if len(ec.stack) >= t.limit {
		var corruptID id.TraceID
		if ec.trace != nil {
			if !ec.trace.Corrupted {
				ec.trace.Corrupted = true
				corruptID = ec.trace.ID
			}
		} else if top := ec.topLocked(); top != nil {
			// Trace root lives in another context; flag it by ID
			corruptID = top.TraceID
		}
		ec.mu.Unlock()

		t.corruption("refusing span",
			zap.Error(ErrStackLimit),
			zap.String("span_name", name),
			zap.String("context_id", ec.id),
			zap.Int("limit", t.limit),
		)
		if corruptID != "" {
			t.sink.Enqueue(Op{Kind: OpTraceCorrupt, Trace: &Trace{ID: corruptID}})
		}
		// No-op span: Exit recognizes the empty ID and ignores it
		return ctx, &Span{Name: name, Status: StatusFailed}
	}

	span := &Span{
		ID:        id.NewSpanID(),
		SessionID: t.session.ID,
		Name:      name,
		Status:    StatusRunning,
		StartedAt: now,
		Input:     captured,
		owner:     ec,
	}

	var traceOp *Trace
	if top := ec.topLocked(); top != nil {
		span.TraceID = top.TraceID
		span.ParentID = top.ID
		span.Depth = top.Depth + 1
	} else if traceID, parentID, parentDepth, ok := ec.takeInheritLocked(); ok {
		span.TraceID = traceID
		span.ParentID = parentID
		span.Depth = parentDepth + 1
	} else {
		trace := &Trace{
			ID:        id.NewTraceID(),
			SessionID: t.session.ID,
			Name:      name,
			Status:    StatusRunning,
			StartedAt: now,
		}
		ec.trace = trace
		span.TraceID = trace.ID
		span.Depth = 0
		traceOp = trace.clone()
	}

	wasEmpty := len(ec.stack) == 0
	ec.stack = append(ec.stack, span)
	spanOp := span.clone()
	ec.mu.Unlock()

	if wasEmpty {
		t.registry.markLive(ec)
	}
	if traceOp != nil {
		t.sink.Enqueue(Op{Kind: OpTraceUpsert, Trace: traceOp})
	}
	t.sink.Enqueue(Op{Kind: OpSpanUpsert, Span: spanOp})
	t.metrics.RecordSpanStart()
	t.emit(Notice{Kind: NoticeSpanOpen, TraceID: span.TraceID, SpanID: span.ID, Name: name, Status: StatusRunning, At: now})

	return ctx, span
}

// Exit closes span with the captured output, failing it when err is
// non-nil. Spans opened inside span and never exited are force-closed and
// the trace flagged corrupted. Exiting a span that is not open is a
// corruption condition, not a crash.
func (t *Tracer) Exit(span *Span, output any, err error) {
	if span == nil || span.ID == "" {
		// No-op span from a refused Enter
		return
	}
	ec := span.owner
	if ec == nil {
		// Clones from Current never carry an owner
		t.corruption("exit on span with no owning context",
			zap.String("span_id", span.ID.String()),
			zap.String("span_name", span.Name),
		)
		return
	}

	now := time.Now()
	status := StatusSucceeded
	errMsg := ""
	if err != nil {
		status = StatusFailed
		errMsg = err.Error()
	}
	captured := t.capture.Take(output)

	ec.mu.Lock()

	if len(ec.stack) == 0 {
		ec.mu.Unlock()
		t.corruption("exit ignored",
			zap.Error(ErrEmptyStack),
			zap.String("span_id", span.ID.String()),
			zap.String("span_name", span.Name),
			zap.String("context_id", ec.id),
		)
		return
	}

	idx := -1
	for i := len(ec.stack) - 1; i >= 0; i-- {
		if ec.stack[i] == span {
			idx = i
			break
		}
	}
	if idx == -1 {
		ec.mu.Unlock()
		t.corruption("exit ignored",
			zap.Error(ErrSpanNotOpen),
			zap.String("span_id", span.ID.String()),
			zap.String("span_name", span.Name),
			zap.String("context_id", ec.id),
		)
		return
	}

	// Anything opened above span never exited: force-close innermost first.
	// Owners stay set; double exits are caught by stack membership.
	var forced []*Span
	for i := len(ec.stack) - 1; i > idx; i-- {
		f := ec.stack[i]
		f.Status = StatusFailed
		f.EndedAt = now
		f.ErrorMsg = forcedCloseReason
		forced = append(forced, f.clone())
	}

	span.Status = status
	span.EndedAt = now
	span.Output = captured
	span.ErrorMsg = errMsg
	ec.stack = ec.stack[:idx]
	spanOp := span.clone()

	corrupted := len(forced) > 0
	var traceOp *Trace
	if corrupted && ec.trace != nil {
		ec.trace.Corrupted = true
	}
	if span.ParentID == "" && ec.trace != nil && ec.trace.ID == span.TraceID {
		ec.trace.Status = status
		ec.trace.EndedAt = now
		traceOp = ec.trace.clone()
		ec.trace = nil
	}

	nowEmpty := len(ec.stack) == 0
	ec.mu.Unlock()

	if nowEmpty {
		t.registry.markIdle(ec)
	}

	if corrupted {
		t.corruption("mismatched exit force-closed open spans",
			zap.String("span_id", span.ID.String()),
			zap.String("span_name", span.Name),
			zap.Int("forced", len(forced)),
		)
		for _, f := range forced {
			t.sink.Enqueue(Op{Kind: OpSpanUpsert, Span: f})
			t.metrics.RecordSpanEnd(string(StatusFailed))
			t.emit(Notice{Kind: NoticeSpanClose, TraceID: f.TraceID, SpanID: f.ID, Name: f.Name, Status: StatusFailed, At: now})
		}
		if traceOp == nil {
			// Trace root lives elsewhere (or trace already closed); flag by ID
			t.sink.Enqueue(Op{Kind: OpTraceCorrupt, Trace: &Trace{ID: span.TraceID}})
		}
	}

	t.sink.Enqueue(Op{Kind: OpSpanUpsert, Span: spanOp})
	t.metrics.RecordSpanEnd(string(status))
	t.emit(Notice{Kind: NoticeSpanClose, TraceID: span.TraceID, SpanID: span.ID, Name: span.Name, Status: status, At: now})

	if traceOp != nil {
		t.sink.Enqueue(Op{Kind: OpTraceUpsert, Trace: traceOp})
		t.emit(Notice{Kind: NoticeTraceClose, TraceID: traceOp.ID, Name: traceOp.Name, Status: traceOp.Status, At: now})
	}
}

// RecordEvent attaches a point-in-time event to ctx's current span.
// Events outside any span have nowhere to attach and are dropped with a
// warning.
func (t *Tracer) RecordEvent(ctx context.Context, name string, payload any) {
	ec := FromContext(ctx)
	if ec == nil {
		t.logger.Warn("event outside any traced context, dropped", zap.String("event", name))
		return
	}

	ec.mu.Lock()
	top := ec.topLocked()
	var spanID id.SpanID
	var traceID id.TraceID
	if top != nil {
		spanID = top.ID
		traceID = top.TraceID
	}
	ec.mu.Unlock()

	if spanID == "" {
		t.logger.Warn("event outside any open span, dropped",
			zap.String("event", name),
			zap.String("context_id", ec.id),
		)
		return
	}

	now := time.Now()
	event := &Event{
		ID:      id.NewEventID(),
		SpanID:  spanID,
		TraceID: traceID,
		Name:    name,
		At:      now,
		Payload: t.capture.Take(payload),
	}

	t.sink.Enqueue(Op{Kind: OpEventInsert, Event: event})
	t.metrics.RecordEvent()
	t.emit(Notice{Kind: NoticeEvent, TraceID: traceID, SpanID: spanID, Name: name, At: now})
}

// AttachMeta merges metadata into ctx's current span, last write per key
// winning. With no open span the metadata attaches to the session record.
// Span metadata persists when the span closes or the tracer flushes.
func (t *Tracer) AttachMeta(ctx context.Context, md map[string]any) {
	if len(md) == 0 {
		return
	}

	if ec := FromContext(ctx); ec != nil {
		ec.mu.Lock()
		if top := ec.topLocked(); top != nil {
			if top.Meta == nil {
				top.Meta = make(map[string]any, len(md))
			}
			for k, v := range md {
				top.Meta[k] = v
			}
			ec.mu.Unlock()
			t.metrics.RecordMetadata()
			return
		}
		ec.mu.Unlock()
	}

	t.sessionMu.Lock()
	if t.session.Meta == nil {
		t.session.Meta = make(map[string]any, len(md))
	}
	for k, v := range md {
		t.session.Meta[k] = v
	}
	sessionOp := t.session.clone()
	t.sessionMu.Unlock()

	t.sink.Enqueue(Op{Kind: OpSessionUpsert, Session: sessionOp})
	t.metrics.RecordMetadata()
}

// Current returns a read-only copy of ctx's innermost open span.
func (t *Tracer) Current(ctx context.Context) (*Span, bool) {
	ec := FromContext(ctx)
	if ec == nil {
		return nil, false
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	top := ec.topLocked()
	if top == nil {
		return nil, false
	}
	return top.clone(), true
}

// ActiveContexts returns the number of contexts with open spans.
func (t *Tracer) ActiveContexts() int {
	return t.registry.ActiveCount()
}

// Flush persists the current state of every open span and the session,
// then blocks until all records enqueued so far are durable.
func (t *Tracer) Flush(ctx context.Context) error {
	for _, s := range t.registry.OpenSpans() {
		t.sink.Enqueue(Op{Kind: OpSpanUpsert, Span: s})
	}

	t.sessionMu.Lock()
	sessionOp := t.session.clone()
	t.sessionMu.Unlock()
	t.sink.Enqueue(Op{Kind: OpSessionUpsert, Session: sessionOp})

	return t.sink.Flush(ctx)
}

// corruption logs and counts a structural misuse condition.
func (t *Tracer) corruption(msg string, fields ...zap.Field) {
	t.metrics.RecordCorruption()
	t.logger.Warn(msg, fields...)
}

// emit delivers a notice to the live-stream callback when installed.
func (t *Tracer) emit(n Notice) {
	if fn := t.notify.Load(); fn != nil && *fn != nil {
		(*fn)(n)
	}
}
