// Package server assembles the trace viewer daemon.
//
// This package orchestrates all viewer components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, metrics, CORS, rate limiting)
//   - Read-only store handle and query engine
//   - Websocket hub fed by a store activity poller
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Open the trace store read-only (creating it empty if absent)
//  4. Setup HTTP routes and middleware
//  5. Start the activity poller
//  6. Serve HTTP
//  7. Graceful shutdown on signal
//
// The viewer never writes trace records. It shares the store with any
// number of instrumented host processes through SQLite WAL snapshots.
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
