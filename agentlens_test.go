package agentlens

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentlens/agentlens/query"
)

func newTestLens(t *testing.T) *Lens {
	t.Helper()
	lens, err := Open(Config{
		DBPath:        filepath.Join(t.TempDir(), "traces.db"),
		FlushInterval: 10 * time.Millisecond,
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lens.Close(ctx)
	})
	return lens
}

func TestOpenRecordsSession(t *testing.T) {
	dir := t.TempDir()
	lens, err := Open(Config{
		DBPath: filepath.Join(dir, "traces.db"),
		Meta:   map[string]any{"team": "ml"},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	defer lens.Close(context.Background())

	require.NoError(t, lens.Flush(context.Background()))

	sessions, err := lens.Query().Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, lens.SessionID(), sessions[0].ID)
	assert.Equal(t, "ml", sessions[0].Meta["team"])
	assert.NotZero(t, sessions[0].PID)
}

func TestOpenRejectsMissingConfigFile(t *testing.T) {
	_, err := Open(Config{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
}

func TestMustOpenPanicsOnError(t *testing.T) {
	assert.Panics(t, func() {
		MustOpen(Config{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	})
}

func TestEnterEndBuildsTree(t *testing.T) {
	lens := newTestLens(t)
	ctx := context.Background()

	ctx, root := lens.Enter(ctx, "pipeline", map[string]any{"job": "nightly"})
	fetchCtx, fetch := lens.Enter(ctx, "fetch", map[string]any{"q": "news"})
	lens.Event(fetchCtx, "retry", map[string]any{"attempt": 1})
	fetch.End(map[string]any{"rows": 3})
	root.End("done")

	require.NoError(t, lens.Flush(context.Background()))

	tree, err := lens.Query().TraceTree(context.Background(), root.TraceID())
	require.NoError(t, err)
	assert.True(t, tree.Complete)
	assert.Equal(t, "succeeded", tree.Trace.Status)

	require.Len(t, tree.Roots, 1)
	got := tree.Roots[0]
	assert.Equal(t, root.ID(), got.ID)
	assert.Equal(t, "pipeline", got.Name)
	assert.JSONEq(t, `{"job":"nightly"}`, string(got.Input))

	require.Len(t, got.Children, 1)
	child := got.Children[0]
	assert.Equal(t, fetch.ID(), child.ID)
	assert.Equal(t, 1, child.Depth)
	require.Len(t, child.Events, 1)
	assert.Equal(t, "retry", child.Events[0].Name)
}

func TestTraceWrapsSuccess(t *testing.T) {
	lens := newTestLens(t)

	var traceID string
	err := lens.Trace(context.Background(), "job", func(ctx context.Context) error {
		id, ok := lens.Current(ctx)
		require.True(t, ok)
		require.NotEmpty(t, id)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, lens.Flush(context.Background()))
	traces, err := lens.Query().ListTraces(context.Background(), query.Filter{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	traceID = traces[0].ID
	assert.Equal(t, "succeeded", traces[0].Status)
	assert.NotEmpty(t, traceID)
}

func TestTraceWrapsFailure(t *testing.T) {
	lens := newTestLens(t)

	boom := errors.New("boom")
	err := lens.Trace(context.Background(), "job", func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, lens.Flush(context.Background()))
	traces, err := lens.Query().ListTraces(context.Background(), query.Filter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, traces, 1)

	tree, err := lens.Query().TraceTree(context.Background(), traces[0].ID)
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "boom", tree.Roots[0].Error)
}

func TestTraceFailsOnPanicAndRethrows(t *testing.T) {
	lens := newTestLens(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		lens.Trace(context.Background(), "job", func(context.Context) error {
			panic("kaboom")
		})
	})

	require.NoError(t, lens.Flush(context.Background()))
	traces, err := lens.Query().ListTraces(context.Background(), query.Filter{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "failed", traces[0].Status)

	tree, err := lens.Query().TraceTree(context.Background(), traces[0].ID)
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	assert.Contains(t, tree.Roots[0].Error, "panic")
}

func TestTraceFailsOnCancellation(t *testing.T) {
	lens := newTestLens(t)

	parent, cancel := context.WithCancel(context.Background())
	err := lens.Trace(parent, "job", func(context.Context) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, lens.Flush(context.Background()))
	traces, err := lens.Query().ListTraces(context.Background(), query.Filter{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "failed", traces[0].Status)
}

func TestFailWithoutCauseStillFails(t *testing.T) {
	lens := newTestLens(t)

	_, span := lens.Enter(context.Background(), "step", nil)
	span.Fail(nil)

	require.NoError(t, lens.Flush(context.Background()))
	tree, err := lens.Query().TraceTree(context.Background(), span.TraceID())
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "failed", tree.Roots[0].Status)
	assert.Equal(t, errUnspecified.Error(), tree.Roots[0].Error)
}

func TestSpawnLinksChildContext(t *testing.T) {
	lens := newTestLens(t)

	ctx, root := lens.Enter(context.Background(), "parent", nil)
	spawned := lens.Spawn(ctx)

	workerID := make(chan string, 1)
	go func() {
		_, span := lens.Enter(spawned, "worker", nil)
		span.End(nil)
		workerID <- span.ID()
	}()
	id := <-workerID
	root.End(nil)

	require.NoError(t, lens.Flush(context.Background()))
	tree, err := lens.Query().TraceTree(context.Background(), root.TraceID())
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	require.Len(t, tree.Roots[0].Children, 1)
	assert.Equal(t, id, tree.Roots[0].Children[0].ID)
}

func TestDetachStartsFreshTrace(t *testing.T) {
	lens := newTestLens(t)

	ctx, root := lens.Enter(context.Background(), "parent", nil)
	detached := lens.Detach(ctx)

	_, side := lens.Enter(detached, "side-job", nil)
	side.End(nil)
	root.End(nil)

	assert.NotEqual(t, root.TraceID(), side.TraceID())
}

func TestCurrentOutsideSpan(t *testing.T) {
	lens := newTestLens(t)

	_, ok := lens.Current(context.Background())
	assert.False(t, ok)
}

func TestMetaLandsOnSpan(t *testing.T) {
	lens := newTestLens(t)

	ctx, span := lens.Enter(context.Background(), "step", nil)
	lens.Meta(ctx, map[string]any{"model": "gpt-x", "tokens": 12})
	lens.Meta(ctx, map[string]any{"tokens": 20})
	span.End(nil)

	require.NoError(t, lens.Flush(context.Background()))
	tree, err := lens.Query().TraceTree(context.Background(), span.TraceID())
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	assert.Equal(t, "gpt-x", tree.Roots[0].Meta["model"])
	assert.Equal(t, float64(20), tree.Roots[0].Meta["tokens"])
}

func TestDisableCaptureSkipsPayloads(t *testing.T) {
	lens, err := Open(Config{
		DBPath:         filepath.Join(t.TempDir(), "traces.db"),
		DisableCapture: true,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	defer lens.Close(context.Background())

	_, span := lens.Enter(context.Background(), "step", map[string]any{"secret": "hunter2"})
	span.End(map[string]any{"also": "secret"})

	require.NoError(t, lens.Flush(context.Background()))
	tree, err := lens.Query().TraceTree(context.Background(), span.TraceID())
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	assert.Empty(t, tree.Roots[0].Input)
	assert.Empty(t, tree.Roots[0].Output)
}

func TestHealthCounters(t *testing.T) {
	lens := newTestLens(t)

	ctx, span := lens.Enter(context.Background(), "step", nil)
	lens.Event(ctx, "tick", nil)
	span.End(nil)
	lens.Enter(context.Background(), "still-open", nil)

	h := lens.Health()
	assert.Equal(t, lens.SessionID(), h.SessionID)
	assert.NotEmpty(t, h.DBPath)
	assert.False(t, h.Degraded)
	assert.Equal(t, int64(2), h.SpansStarted)
	assert.Equal(t, int64(1), h.SpansSucceeded)
	assert.Equal(t, int64(1), h.OpenSpans)
	assert.Equal(t, int64(1), h.EventsRecorded)
	assert.Equal(t, 1, h.OpenContexts)
}

func TestOnRecordStreamsNotices(t *testing.T) {
	lens := newTestLens(t)

	var mu sync.Mutex
	var kinds []string
	lens.OnRecord(func(n Notice) {
		mu.Lock()
		kinds = append(kinds, n.Kind)
		mu.Unlock()
	})

	_, span := lens.Enter(context.Background(), "step", nil)
	span.End(nil)

	mu.Lock()
	got := append([]string(nil), kinds...)
	mu.Unlock()
	assert.Equal(t, []string{"span_open", "span_close", "trace_close"}, got)

	// Uninstalling stops delivery.
	lens.OnRecord(nil)
	_, span = lens.Enter(context.Background(), "quiet", nil)
	span.End(nil)

	mu.Lock()
	assert.Len(t, kinds, 3)
	mu.Unlock()
}

func TestCloseIsIdempotentAndCaptureDegrades(t *testing.T) {
	lens := newTestLens(t)

	_, span := lens.Enter(context.Background(), "before-close", nil)
	span.End(nil)

	ctx := context.Background()
	require.NoError(t, lens.Close(ctx))
	require.NoError(t, lens.Close(ctx))

	// Capture after close drops records but never panics.
	_, late := lens.Enter(context.Background(), "after-close", nil)
	late.End(nil)
	assert.Positive(t, lens.Health().RecordsDropped)
}

func TestPruneKeepsNewestSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.db")

	first, err := Open(Config{DBPath: path, Logger: zap.NewNop()})
	require.NoError(t, err)
	_, span := first.Enter(context.Background(), "old-work", nil)
	span.End(nil)
	require.NoError(t, first.Close(context.Background()))

	second, err := Open(Config{DBPath: path, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer second.Close(context.Background())
	require.NoError(t, second.Flush(context.Background()))

	removed, err := second.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	sessions, err := second.Query().Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.SessionID(), sessions[0].ID)
}

func TestZeroSpanHandleIsNoop(t *testing.T) {
	var span *Span
	span.End(nil)
	span.Fail(errors.New("ignored"))
	assert.Empty(t, span.ID())
	assert.Empty(t, span.TraceID())
	assert.Empty(t, span.Name())

	zero := &Span{}
	zero.End(nil)
	assert.Empty(t, zero.ID())
}
