/*
Package engine implements trace capture for instrumented programs.

# Overview

This package tracks the currently-executing span per execution context,
builds immutable session/trace/span/event records, and hands them to a
persistence sink. It is the write side of agentlens; reading happens in the
query package.

# Model

A session covers one process lifetime. Each top-level operation opens a
trace; nested operations stack spans inside it. Events are point-in-time
records attached to the span open at the moment they fire. Metadata merges
into the nearest open span, or the session when nothing is open.

# Execution Contexts

Span nesting is tracked per execution context, carried through
context.Context. Passing a context across goroutines shares one span stack
under a mutex; Spawn derives a context whose first span links under the
parent's current span (copied once at spawn, never a live reference);
Detach severs lineage entirely.

# Failure Policy

The engine fails open. Capture errors, stack misuse, and persistence
pressure are logged and counted; the instrumented program never sees an
error or blocks on tracing. Structural misuse (exiting an empty stack,
exiting out of order) force-closes affected spans and flags the trace
corrupted instead of panicking.

# Usage

	tracer := engine.New(engine.Options{Sink: writer, Logger: logger, Metrics: metrics})
	ctx, span := tracer.Enter(ctx, "plan", input)
	defer func() { tracer.Exit(span, output, err) }()

	tracer.RecordEvent(ctx, "llm_start", payload)
	tracer.AttachMeta(ctx, map[string]any{"model": "gpt-4"})
*/
package engine
