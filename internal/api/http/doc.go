// Package http serves the viewer REST API over a read-only trace store.
//
// Endpoints:
//   - Banner/health: / and /health
//   - Sessions: /api/sessions, /api/sessions/:id/stats, /api/sessions/:id/export
//   - Traces: /api/traces, /api/traces/:id/tree
//   - Search: /api/search
//
// Every endpoint is a read; the viewer never writes to the store. Trace
// listings page newest first, trees surface dropped-parent fragments
// instead of failing, and exports stream gzip JSONL without buffering
// the session in memory.
//
// Example Usage:
//
//	handlers := http.NewHandlers(queries, hub, logger, dbPath)
//	router.GET("/health", handlers.Health)
//	router.GET("/api/traces/:id/tree", handlers.TraceTree)
package http
