package agentlens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentlens/agentlens/internal/engine"
	"github.com/agentlens/agentlens/internal/infrastructure/config"
	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/internal/infrastructure/monitoring"
	"github.com/agentlens/agentlens/internal/shared/paths"
	"github.com/agentlens/agentlens/internal/storage"
	"github.com/agentlens/agentlens/query"
)

// Config controls how a Lens opens its store and capture pipeline. The zero
// value reads AGENTLENS_* environment variables and falls back to library
// defaults; fields set here take precedence over both.
type Config struct {
	// DBPath locates the trace database. Empty selects AGENTLENS_DB_PATH,
	// then ~/.agentlens/traces.db.
	DBPath string

	// ConfigFile overlays a YAML configuration file on top of the
	// environment before the fields below are applied.
	ConfigFile string

	// DisableCapture turns off input/output snapshotting. Spans still
	// record names, timing, status, and errors.
	DisableCapture bool

	// CaptureMaxBytes and CaptureMaxDepth bound payload snapshots.
	CaptureMaxBytes int
	CaptureMaxDepth int

	// StackLimit caps span nesting per execution context.
	StackLimit int

	// Writer tuning. Zero values keep the configured defaults.
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	RetryBackoff  time.Duration

	// Meta is merged into the session record at open.
	Meta map[string]any

	// Logger replaces the lens's own logger. Nil builds one from the
	// logging configuration, writing to stderr so instrumented programs
	// keep stdout to themselves.
	Logger *zap.Logger
}

// Lens is the capture handle for one instrumented process. All methods are
// safe for concurrent use. Capture methods never return errors and never
// panic: failures degrade to logs and counters so the instrumented program
// is unaffected.
type Lens struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	store   *storage.Store
	reads   *storage.Store
	writer  *storage.Writer
	tracer  *engine.Tracer
	queries *query.Engine

	closeOnce sync.Once
	closeErr  error
}

// Span is a handle to an open span. Exactly one of End or Fail closes it;
// further calls on a closed handle are corruption conditions counted by the
// engine, never crashes. The zero Span is a no-op.
type Span struct {
	lens  *Lens
	inner *engine.Span
}

// Health is a point-in-time view of the capture pipeline.
type Health struct {
	SessionID      string `json:"session_id"`
	DBPath         string `json:"db_path"`
	Degraded       bool   `json:"degraded"`
	OpenContexts   int    `json:"open_contexts"`
	OpenSpans      int64  `json:"open_spans"`
	QueueDepth     int    `json:"queue_depth"`
	SpansStarted   int64  `json:"spans_started"`
	SpansSucceeded int64  `json:"spans_succeeded"`
	SpansFailed    int64  `json:"spans_failed"`
	EventsRecorded int64  `json:"events_recorded"`
	RecordsDropped int64  `json:"records_dropped"`
	Corruptions    int64  `json:"corruptions"`
}

// Notice is a live notification emitted as records are built. It carries
// identifiers only, never payloads.
type Notice struct {
	Kind    string    `json:"kind"`
	TraceID string    `json:"trace_id"`
	SpanID  string    `json:"span_id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
}

// errUnspecified closes a span as failed when Fail is called without a
// cause.
var errUnspecified = errors.New("failure not specified")

// Open builds a Lens: it loads configuration, opens the trace store,
// starts the persistence writer, and enqueues the session record.
func Open(cfg Config) (*Lens, error) {
	resolved, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg, resolved)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics := monitoring.NewMetrics()

	store, err := storage.Open(resolved.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}

	// Queries run on their own read-only handle so they never contend
	// with the writer's single connection.
	reads, err := storage.OpenReadOnly(resolved.DBPath, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open query handle: %w", err)
	}

	writer := storage.NewWriter(store, storage.WriterConfig{
		QueueSize:     resolved.Writer.QueueSize,
		BatchSize:     resolved.Writer.BatchSize,
		FlushInterval: resolved.Writer.FlushInterval,
		MaxRetries:    resolved.Writer.MaxRetries,
		RetryBackoff:  resolved.Writer.RetryBackoff,
	}, logger, metrics)

	session := engine.NewSession()
	for k, v := range cfg.Meta {
		session.Meta[k] = v
	}

	tracer := engine.New(engine.Options{
		Session:    session,
		Sink:       writer,
		Capture:    engine.NewCapture(resolved.Capture.Disabled, resolved.Capture.MaxBytes, resolved.Capture.MaxDepth, metrics),
		StackLimit: resolved.Engine.StackLimit,
		Logger:     logger,
		Metrics:    metrics,
	})

	return &Lens{
		cfg:     resolved,
		logger:  logger,
		metrics: metrics,
		store:   store,
		reads:   reads,
		writer:  writer,
		tracer:  tracer,
		queries: query.New(reads.DB()),
	}, nil
}

// MustOpen is Open that panics on error, for program mains.
func MustOpen(cfg Config) *Lens {
	lens, err := Open(cfg)
	if err != nil {
		panic(fmt.Sprintf("agentlens: %v", err))
	}
	return lens
}

// resolve layers environment, optional file, and explicit Config fields
// into a validated configuration.
func resolve(cfg Config) (*config.Config, error) {
	var (
		resolved *config.Config
		err      error
	)
	if cfg.ConfigFile != "" {
		resolved, err = config.LoadFile(cfg.ConfigFile)
	} else {
		resolved, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if cfg.DBPath != "" {
		resolved.DBPath = paths.Expand(cfg.DBPath)
	}
	if cfg.DisableCapture {
		resolved.Capture.Disabled = true
	}
	if cfg.CaptureMaxBytes > 0 {
		resolved.Capture.MaxBytes = cfg.CaptureMaxBytes
	}
	if cfg.CaptureMaxDepth > 0 {
		resolved.Capture.MaxDepth = cfg.CaptureMaxDepth
	}
	if cfg.StackLimit > 0 {
		resolved.Engine.StackLimit = cfg.StackLimit
	}
	if cfg.QueueSize > 0 {
		resolved.Writer.QueueSize = cfg.QueueSize
	}
	if cfg.BatchSize > 0 {
		resolved.Writer.BatchSize = cfg.BatchSize
	}
	if cfg.FlushInterval > 0 {
		resolved.Writer.FlushInterval = cfg.FlushInterval
	}
	if cfg.RetryBackoff > 0 {
		resolved.Writer.RetryBackoff = cfg.RetryBackoff
	}

	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func buildLogger(cfg Config, resolved *config.Config) (*logging.Logger, error) {
	if cfg.Logger != nil {
		return &logging.Logger{Logger: cfg.Logger}, nil
	}
	return logging.New(logging.Config{
		Level:       resolved.Logging.Level,
		Development: resolved.Logging.Development,
		OutputPaths: []string{"stderr"},
		File:        resolved.Logging.File,
		MaxSizeMB:   resolved.Logging.MaxSizeMB,
		MaxBackups:  resolved.Logging.MaxBackups,
	})
}

// Enter opens a span named name under ctx's current span, starting a new
// trace when none is open. Nested work must use the returned context.
func (l *Lens) Enter(ctx context.Context, name string, input any) (context.Context, *Span) {
	ctx, inner := l.tracer.Enter(ctx, name, input)
	return ctx, &Span{lens: l, inner: inner}
}

// Trace wraps fn in a span: Enter before, End or Fail after. A panic in fn
// fails the span and is rethrown. When fn returns nil but ctx was
// cancelled, the span fails with the cancellation cause.
func (l *Lens) Trace(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := l.Enter(ctx, name, nil)
	defer func() {
		if r := recover(); r != nil {
			span.Fail(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err := fn(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		span.Fail(err)
		return err
	}
	span.End(nil)
	return nil
}

// Event attaches a point-in-time event to ctx's current span. Events
// outside any span are dropped with a warning.
func (l *Lens) Event(ctx context.Context, name string, payload map[string]any) {
	l.tracer.RecordEvent(ctx, name, payload)
}

// Meta merges metadata into ctx's current span, last write per key
// winning. With no open span it attaches to the session record.
func (l *Lens) Meta(ctx context.Context, md map[string]any) {
	l.tracer.AttachMeta(ctx, md)
}

// Current returns the ID of ctx's innermost open span.
func (l *Lens) Current(ctx context.Context) (string, bool) {
	span, ok := l.tracer.Current(ctx)
	if !ok {
		return "", false
	}
	return span.ID.String(), true
}

// Spawn derives a context for concurrent work whose first span links under
// ctx's current span. The inheritance is a one-shot copy taken now, never
// a live link.
func (l *Lens) Spawn(ctx context.Context) context.Context {
	return l.tracer.Spawn(ctx)
}

// Detach derives a context with no span lineage. Spans opened on it start
// fresh traces.
func (l *Lens) Detach(ctx context.Context) context.Context {
	return l.tracer.Detach(ctx)
}

// Flush persists the current state of every open span and blocks until
// all records enqueued so far are durable, or ctx is done.
func (l *Lens) Flush(ctx context.Context) error {
	return l.tracer.Flush(ctx)
}

// Health reports pipeline counters and the degraded flag.
func (l *Lens) Health() Health {
	snap := l.metrics.GetSnapshot()
	return Health{
		SessionID:      l.tracer.Session().ID.String(),
		DBPath:         l.store.Path(),
		Degraded:       snap.Degraded,
		OpenContexts:   l.tracer.ActiveContexts(),
		OpenSpans:      snap.OpenSpans,
		QueueDepth:     l.writer.QueueDepth(),
		SpansStarted:   snap.SpansStarted,
		SpansSucceeded: snap.SpansSucceeded,
		SpansFailed:    snap.SpansFailed,
		EventsRecorded: snap.EventsRecorded,
		RecordsDropped: snap.RecordsDropped,
		Corruptions:    snap.Corruptions,
	}
}

// SessionID returns the ID of this process's session record.
func (l *Lens) SessionID() string {
	return l.tracer.Session().ID.String()
}

// Query returns the read surface over the same database. Records become
// visible once their batch commits; Flush first for read-your-writes.
func (l *Lens) Query() *query.Engine {
	return l.queries
}

// Prune deletes everything except the newest keep sessions and returns
// the number of sessions removed.
func (l *Lens) Prune(keep int) (int64, error) {
	return l.store.Prune(keep)
}

// OnRecord installs fn as the live-record callback. fn runs inline on
// capture paths and must return quickly. Passing nil uninstalls.
func (l *Lens) OnRecord(fn func(Notice)) {
	if fn == nil {
		l.tracer.SetNotify(nil)
		return
	}
	l.tracer.SetNotify(func(n engine.Notice) {
		fn(Notice{
			Kind:    string(n.Kind),
			TraceID: n.TraceID.String(),
			SpanID:  n.SpanID.String(),
			Name:    n.Name,
			Status:  string(n.Status),
			At:      n.At,
		})
	})
}

// Close flushes open state, drains the write queue, and releases the
// store. Spans still open are persisted as running; the next read-write
// open marks them interrupted. Close is idempotent.
func (l *Lens) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		flushErr := l.tracer.Flush(ctx)
		closeErr := l.writer.Close(ctx)
		readsErr := l.reads.Close()
		storeErr := l.store.Close()
		l.logger.Sync()

		for _, err := range []error{flushErr, closeErr, readsErr, storeErr} {
			if err != nil {
				l.closeErr = err
				break
			}
		}
	})
	return l.closeErr
}

// End closes the span successfully, capturing output.
func (s *Span) End(output any) {
	if s == nil || s.lens == nil {
		return
	}
	s.lens.tracer.Exit(s.inner, output, nil)
}

// Fail closes the span as failed, recording err's message.
func (s *Span) Fail(err error) {
	if s == nil || s.lens == nil {
		return
	}
	if err == nil {
		err = errUnspecified
	}
	s.lens.tracer.Exit(s.inner, nil, err)
}

// ID returns the span's identifier, empty for a no-op span.
func (s *Span) ID() string {
	if s == nil || s.inner == nil {
		return ""
	}
	return s.inner.ID.String()
}

// TraceID returns the identifier of the trace the span belongs to.
func (s *Span) TraceID() string {
	if s == nil || s.inner == nil {
		return ""
	}
	return s.inner.TraceID.String()
}

// Name returns the span's name.
func (s *Span) Name() string {
	if s == nil || s.inner == nil {
		return ""
	}
	return s.inner.Name
}
