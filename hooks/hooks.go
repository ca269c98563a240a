package hooks

import (
	"context"

	"github.com/agentlens/agentlens"
)

// Span name prefixes, one per lifecycle family. Viewers group and filter
// on them.
const (
	prefixModel = "llm."
	prefixTool  = "tool."
	prefixTask  = "task."
	prefixStep  = "step."
)

// Hooks bridges framework callback pairs onto a Lens. Adapters translate
// their framework's on-start/on-end/on-error notifications into these
// calls and never touch the engine directly. All methods are safe for
// concurrent use and never return errors.
type Hooks struct {
	lens *agentlens.Lens
}

// Bind returns Hooks driving lens.
func Bind(lens *agentlens.Lens) *Hooks {
	return &Hooks{lens: lens}
}

// Token pairs a start callback with its end. It carries the opened span
// and the context nested work must run under. The zero Token is a no-op
// everywhere it is accepted.
type Token struct {
	ctx  context.Context
	span *agentlens.Span
}

// Context returns the context carrying the started span, for nesting
// further calls under it.
func (t Token) Context() context.Context {
	if t.ctx == nil {
		return context.Background()
	}
	return t.ctx
}

// SpanID returns the started span's identifier.
func (t Token) SpanID() string {
	return t.span.ID()
}

func (h *Hooks) start(ctx context.Context, prefix, name string, input any) Token {
	if name == "" {
		name = "call"
	}
	ctx, span := h.lens.Enter(ctx, prefix+name, input)
	return Token{ctx: ctx, span: span}
}

// ModelStart opens a span for one model invocation. model names the
// provider or model identifier; input is the prompt or message payload.
func (h *Hooks) ModelStart(ctx context.Context, model string, input any) Token {
	return h.start(ctx, prefixModel, model, input)
}

// ModelEnd closes the invocation with its completion.
func (h *Hooks) ModelEnd(tok Token, output any) {
	tok.span.End(output)
}

// ModelErr closes the invocation as failed.
func (h *Hooks) ModelErr(tok Token, err error) {
	tok.span.Fail(err)
}

// ToolStart opens a span for one tool call.
func (h *Hooks) ToolStart(ctx context.Context, tool string, input any) Token {
	return h.start(ctx, prefixTool, tool, input)
}

// ToolEnd closes the tool call with its result.
func (h *Hooks) ToolEnd(tok Token, output any) {
	tok.span.End(output)
}

// ToolErr closes the tool call as failed.
func (h *Hooks) ToolErr(tok Token, err error) {
	tok.span.Fail(err)
}

// TaskStart opens a span for one unit of agent work, a task or crew
// assignment in framework terms.
func (h *Hooks) TaskStart(ctx context.Context, name string, input any) Token {
	return h.start(ctx, prefixTask, name, input)
}

// TaskEnd closes the task with its output.
func (h *Hooks) TaskEnd(tok Token, output any) {
	tok.span.End(output)
}

// TaskErr closes the task as failed.
func (h *Hooks) TaskErr(tok Token, err error) {
	tok.span.Fail(err)
}

// StepStart opens a span for one reasoning or chain step.
func (h *Hooks) StepStart(ctx context.Context, name string, input any) Token {
	return h.start(ctx, prefixStep, name, input)
}

// StepEnd closes the step.
func (h *Hooks) StepEnd(tok Token, output any) {
	tok.span.End(output)
}

// Emit records a point-in-time event on ctx's current span, for
// notifications with no paired end: agent decisions, delegations,
// retries.
func (h *Hooks) Emit(ctx context.Context, name string, payload map[string]any) {
	h.lens.Event(ctx, name, payload)
}
