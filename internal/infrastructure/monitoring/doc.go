/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the tracing
engine, tracking span capture, the persistence writer, viewer HTTP requests,
and degraded-mode state.

# Features

- Span lifecycle metrics (started, completed by status, open gauge)
- Event and metadata capture counters
- Writer queue metrics (depth, enqueued, dropped by reason)
- Batch commit metrics (commits, retries, write latency)
- Degraded-mode gauge for persistence health
- Viewer HTTP request metrics (latency, status)
- WebSocket stream connection metrics

# Registry

Each Metrics instance owns a private Prometheus registry. The engine is
embedded in host programs that may register their own collectors, so nothing
here touches the default registry and two engines can coexist in one process.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record engine activity
	metrics.RecordSpanStart()
	metrics.RecordSpanEnd("succeeded")

	// Expose the scrape endpoint
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

# Snapshot

Snapshot() returns a point-in-time copy of the counters the health endpoint
reports as JSON, without scraping the registry.
*/
package monitoring
