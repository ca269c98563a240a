// Package agentlens instruments multi-step programs, agent workflows in
// particular, and records what happened as a tree of sessions, traces,
// spans, and events in an embedded SQLite database. No external services;
// one file on disk.
//
// A Lens is the capture handle. Enter opens a span under the current span
// of the calling context; End or Fail closes it. Nesting and concurrency
// are resolved through context.Context propagation, so concurrent work
// never tangles lineage:
//
//	lens := agentlens.MustOpen(agentlens.Config{})
//	defer lens.Close(context.Background())
//
//	err := lens.Trace(ctx, "handle-request", func(ctx context.Context) error {
//		lens.Event(ctx, "cache-miss", map[string]any{"key": key})
//		_, span := lens.Enter(ctx, "fetch", query)
//		rows, err := fetch(ctx, query)
//		if err != nil {
//			span.Fail(err)
//			return err
//		}
//		span.End(rows)
//		return nil
//	})
//
// Capture calls are fire-and-forget: they never block on I/O, never
// return errors, and never panic. Overload and misuse degrade to dropped
// records and corruption counters, visible through Health and the
// metrics registry, while the instrumented program runs on.
//
// The read side lives in the query subpackage; Lens.Query returns an
// engine bound to the same database. The bundled viewer daemon
// (cmd/agentlens serve) exposes the same queries over HTTP for the
// timeline UI.
package agentlens
