package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/agentlens/agentlens/internal/infrastructure/monitoring"
	"github.com/agentlens/agentlens/internal/shared/id"
)

// Corruption conditions. These surface in logs and metrics; the public API
// never returns them to the instrumented program.
var (
	ErrStackLimit  = errors.New("span stack limit reached")
	ErrEmptyStack  = errors.New("exit on empty span stack")
	ErrSpanNotOpen = errors.New("span not open in this context")
)

// Context key for execution context propagation
type ctxKeyType struct{}

var ctxKey ctxKeyType

// execContext tracks the open span stack for one execution context.
// All field access goes through mu; goroutines sharing a context share
// the stack safely, at the cost of serializing their span operations.
type execContext struct {
	id string

	mu    sync.Mutex
	stack []*Span
	trace *Trace // trace whose root span lives on this stack, nil otherwise

	// One-shot parent linkage captured at Spawn. Consumed by the first
	// span entered on this context, never a live reference to the parent.
	inheritTrace  id.TraceID
	inheritParent id.SpanID
	inheritDepth  int
	hasInherit    bool
}

func newExecContext() *execContext {
	return &execContext{id: uuid.NewString()}
}

// topLocked returns the innermost open span. Caller holds mu.
func (ec *execContext) topLocked() *Span {
	if len(ec.stack) == 0 {
		return nil
	}
	return ec.stack[len(ec.stack)-1]
}

// takeInheritLocked consumes the one-shot parent linkage. Caller holds mu.
func (ec *execContext) takeInheritLocked() (id.TraceID, id.SpanID, int, bool) {
	if !ec.hasInherit {
		return "", "", 0, false
	}
	ec.hasInherit = false
	return ec.inheritTrace, ec.inheritParent, ec.inheritDepth, true
}

// FromContext returns the execution context carried by ctx, or nil.
func FromContext(ctx context.Context) *execContext {
	ec, _ := ctx.Value(ctxKey).(*execContext)
	return ec
}

// withExecContext derives a context carrying ec.
func withExecContext(ctx context.Context, ec *execContext) context.Context {
	return context.WithValue(ctx, ctxKey, ec)
}

// ContextID returns the execution context identity carried by ctx, for
// logs and tests. Empty when ctx carries none.
func ContextID(ctx context.Context) string {
	if ec := FromContext(ctx); ec != nil {
		return ec.id
	}
	return ""
}

// Registry tracks execution contexts with open spans.
//
// Membership is advisory: it feeds the active-contexts gauge and the flush
// walk. Stack correctness never depends on it, so add/remove ordering races
// between sharing goroutines only skew the gauge momentarily.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]*execContext
	metrics *monitoring.Metrics
}

// NewRegistry creates an execution context registry.
func NewRegistry(metrics *monitoring.Metrics) *Registry {
	return &Registry{
		live:    make(map[string]*execContext),
		metrics: metrics,
	}
}

// Attach returns ctx's execution context, creating and embedding a fresh
// one when ctx carries none.
func (r *Registry) Attach(ctx context.Context) (context.Context, *execContext) {
	if ec := FromContext(ctx); ec != nil {
		return ctx, ec
	}
	ec := newExecContext()
	return withExecContext(ctx, ec), ec
}

// Spawn derives a context with a fresh span stack whose first span will
// link under the parent's currently-open span. The linkage is copied once
// at spawn time; later changes to the parent stack do not affect it.
func (r *Registry) Spawn(ctx context.Context) context.Context {
	child := newExecContext()
	if parent := FromContext(ctx); parent != nil {
		parent.mu.Lock()
		if top := parent.topLocked(); top != nil {
			child.inheritTrace = top.TraceID
			child.inheritParent = top.ID
			child.inheritDepth = top.Depth
			child.hasInherit = true
		} else if parent.hasInherit {
			// Spawning from a context that never opened a span passes
			// the pending linkage through unchanged.
			child.inheritTrace = parent.inheritTrace
			child.inheritParent = parent.inheritParent
			child.inheritDepth = parent.inheritDepth
			child.hasInherit = true
		}
		parent.mu.Unlock()
	}
	return withExecContext(ctx, child)
}

// Detach derives a context with a fresh span stack and no parent linkage.
func (r *Registry) Detach(ctx context.Context) context.Context {
	return withExecContext(ctx, newExecContext())
}

// markLive records ec as having open spans.
func (r *Registry) markLive(ec *execContext) {
	r.mu.Lock()
	r.live[ec.id] = ec
	count := len(r.live)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetActiveContexts(count)
	}
}

// markIdle removes ec once its stack empties.
func (r *Registry) markIdle(ec *execContext) {
	r.mu.Lock()
	delete(r.live, ec.id)
	count := len(r.live)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetActiveContexts(count)
	}
}

// ActiveCount returns the number of contexts with open spans.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// OpenSpans returns immutable copies of every open span across all live
// contexts, innermost last per context.
func (r *Registry) OpenSpans() []*Span {
	r.mu.RLock()
	contexts := make([]*execContext, 0, len(r.live))
	for _, ec := range r.live {
		contexts = append(contexts, ec)
	}
	r.mu.RUnlock()

	var spans []*Span
	for _, ec := range contexts {
		ec.mu.Lock()
		for _, s := range ec.stack {
			spans = append(spans, s.clone())
		}
		ec.mu.Unlock()
	}
	return spans
}
