package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/agentlens/agentlens/internal/engine"
	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/internal/shared/paths"
)

//go:embed schema.sql
var schemaFS embed.FS

// ErrReadOnly is returned when a write operation hits a read-only handle.
var ErrReadOnly = errors.New("store is read-only")

// interruptedReason marks spans closed by startup recovery.
const interruptedReason = "interrupted"

// Store wraps the SQLite trace database.
//
// A read-write Store is pinned to a single connection and is written to by
// exactly one drain goroutine; Prune calls from other goroutines serialize
// on the connection pool. Read-only stores use a small pool.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	logger   *logging.Logger

	stmtUpsertSession *sql.Stmt
	stmtUpsertTrace   *sql.Stmt
	stmtUpsertSpan    *sql.Stmt
	stmtInsertEvent   *sql.Stmt
	stmtCorruptTrace  *sql.Stmt
}

// Open opens (creating if needed) the trace database at path for writing,
// applies the schema, closes out interrupted records from previous
// processes, and prepares the hot-path statements.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := paths.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-64000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	// SQLite allows one writer; a pool would hand batches to fresh
	// connections mid-stream
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path, logger: logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	if err := s.recoverInterrupted(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recovering interrupted records: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing statements: %w", err)
	}

	return s, nil
}

// OpenReadOnly opens an existing trace database for queries. It never
// touches the schema or recovers records: a live writer in another
// process may own them.
func OpenReadOnly(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	// Journal mode is a property of the database file; a read-only
	// connection adopts it and must not try to set it
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	return &Store{db: db, path: path, readOnly: true, logger: logger}, nil
}

// DB exposes the underlying handle for the query layer.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether the handle rejects writes.
func (s *Store) ReadOnly() bool { return s.readOnly }

func (s *Store) initSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// recoverInterrupted closes out records a dead process left running, so
// queries never show a span as perpetually running. End times stay NULL:
// the real end was never observed.
func (s *Store) recoverInterrupted() error {
	res, err := s.db.Exec(
		`UPDATE spans SET status = 'failed', error = ? WHERE status = 'running'`,
		interruptedReason,
	)
	if err != nil {
		return fmt.Errorf("recovering spans: %w", err)
	}
	spans, _ := res.RowsAffected()

	res, err = s.db.Exec(`UPDATE traces SET status = 'failed' WHERE status = 'running'`)
	if err != nil {
		return fmt.Errorf("recovering traces: %w", err)
	}
	traces, _ := res.RowsAffected()

	if spans > 0 || traces > 0 {
		s.logger.Info("recovered interrupted records",
			zap.Int64("spans", spans),
			zap.Int64("traces", traces),
		)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtUpsertSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, started_at, hostname, pid, git_sha, runtime, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			meta = COALESCE(excluded.meta, sessions.meta)
	`)
	if err != nil {
		return fmt.Errorf("preparing session upsert: %w", err)
	}

	s.stmtUpsertTrace, err = s.db.Prepare(`
		INSERT INTO traces (id, session_id, name, status, started_at, ended_at, corrupted, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			ended_at = COALESCE(excluded.ended_at, traces.ended_at),
			corrupted = MAX(traces.corrupted, excluded.corrupted),
			meta = COALESCE(excluded.meta, traces.meta)
	`)
	if err != nil {
		return fmt.Errorf("preparing trace upsert: %w", err)
	}

	s.stmtUpsertSpan, err = s.db.Prepare(`
		INSERT INTO spans (id, trace_id, session_id, parent_id, name, depth, status,
			started_at, ended_at, input, input_truncated, output, output_truncated, error, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			ended_at = COALESCE(excluded.ended_at, spans.ended_at),
			output = COALESCE(excluded.output, spans.output),
			output_truncated = MAX(spans.output_truncated, excluded.output_truncated),
			error = COALESCE(excluded.error, spans.error),
			meta = COALESCE(excluded.meta, spans.meta)
	`)
	if err != nil {
		return fmt.Errorf("preparing span upsert: %w", err)
	}

	s.stmtInsertEvent, err = s.db.Prepare(`
		INSERT INTO events (id, span_id, trace_id, name, at, payload, payload_truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing event insert: %w", err)
	}

	s.stmtCorruptTrace, err = s.db.Prepare(`
		UPDATE traces SET corrupted = 1 WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("preparing trace corrupt flag: %w", err)
	}

	return nil
}

// ApplyBatch writes a batch of operations in one transaction. The batch
// either commits completely or not at all; callers retry the whole batch,
// which the upsert keys make idempotent.
func (s *Store) ApplyBatch(ops []engine.Op) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, op := range ops {
		switch op.Kind {
		case engine.OpSessionUpsert:
			err = s.applySession(tx, op.Session)
		case engine.OpTraceUpsert:
			err = s.applyTrace(tx, op.Trace)
		case engine.OpSpanUpsert:
			err = s.applySpan(tx, op.Span)
		case engine.OpEventInsert:
			err = s.applyEvent(tx, op.Event)
		case engine.OpTraceCorrupt:
			_, err = tx.Stmt(s.stmtCorruptTrace).Exec(op.Trace.ID.String())
		default:
			s.logger.Warn("skipping unknown op kind", zap.String("kind", op.Kind.String()))
		}
		if err != nil {
			return fmt.Errorf("applying %s: %w", op.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (s *Store) applySession(tx *sql.Tx, sess *engine.Session) error {
	_, err := tx.Stmt(s.stmtUpsertSession).Exec(
		sess.ID.String(),
		sess.StartedAt.UnixNano(),
		sess.Hostname,
		sess.PID,
		sess.GitSHA,
		sess.Runtime,
		s.metaJSON(sess.Meta),
	)
	return err
}

func (s *Store) applyTrace(tx *sql.Tx, tr *engine.Trace) error {
	_, err := tx.Stmt(s.stmtUpsertTrace).Exec(
		tr.ID.String(),
		tr.SessionID.String(),
		tr.Name,
		string(tr.Status),
		tr.StartedAt.UnixNano(),
		nanoOrNil(tr.EndedAt),
		boolToInt(tr.Corrupted),
		s.metaJSON(tr.Meta),
	)
	return err
}

func (s *Store) applySpan(tx *sql.Tx, sp *engine.Span) error {
	_, err := tx.Stmt(s.stmtUpsertSpan).Exec(
		sp.ID.String(),
		sp.TraceID.String(),
		sp.SessionID.String(),
		strOrNil(sp.ParentID.String()),
		sp.Name,
		sp.Depth,
		string(sp.Status),
		sp.StartedAt.UnixNano(),
		nanoOrNil(sp.EndedAt),
		textOrNil(sp.Input.Data),
		boolToInt(sp.Input.Truncated),
		textOrNil(sp.Output.Data),
		boolToInt(sp.Output.Truncated),
		strOrNil(sp.ErrorMsg),
		s.metaJSON(sp.Meta),
	)
	return err
}

func (s *Store) applyEvent(tx *sql.Tx, ev *engine.Event) error {
	_, err := tx.Stmt(s.stmtInsertEvent).Exec(
		ev.ID.String(),
		ev.SpanID.String(),
		ev.TraceID.String(),
		ev.Name,
		ev.At.UnixNano(),
		textOrNil(ev.Payload.Data),
		boolToInt(ev.Payload.Truncated),
	)
	return err
}

// Prune deletes everything except the newest keep sessions and returns
// the number of sessions removed.
func (s *Store) Prune(keep int) (int64, error) {
	if s.readOnly {
		return 0, ErrReadOnly
	}
	if keep < 0 {
		keep = 0
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning prune transaction: %w", err)
	}
	defer tx.Rollback()

	const victims = `SELECT id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?`

	if _, err := tx.Exec(
		`DELETE FROM events WHERE trace_id IN (SELECT id FROM traces WHERE session_id IN (`+victims+`))`,
		keep,
	); err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM spans WHERE session_id IN (`+victims+`)`, keep,
	); err != nil {
		return 0, fmt.Errorf("pruning spans: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM traces WHERE session_id IN (`+victims+`)`, keep,
	); err != nil {
		return 0, fmt.Errorf("pruning traces: %w", err)
	}
	res, err := tx.Exec(
		`DELETE FROM sessions WHERE id IN (`+victims+`)`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	removed, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}

	if removed > 0 {
		s.logger.Info("pruned sessions", zap.Int64("removed", removed), zap.Int("kept", keep))
	}
	return removed, nil
}

// Close shuts down prepared statements and the connection pool.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtUpsertSession, s.stmtUpsertTrace, s.stmtUpsertSpan,
		s.stmtInsertEvent, s.stmtCorruptTrace,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// metaJSON serializes metadata for storage. Unserializable metadata is
// dropped with a log rather than failing the batch.
func (s *Store) metaJSON(meta map[string]any) any {
	if len(meta) == 0 {
		return nil
	}
	data, err := sonic.Marshal(meta)
	if err != nil {
		s.logger.Warn("dropping unserializable metadata", zap.Error(err))
		return nil
	}
	return string(data)
}

func nanoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func textOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func strOrNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
