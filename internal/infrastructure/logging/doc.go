// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Log Levels:
//   - Debug: Verbose debugging information
//   - Info: General informational messages
//   - Warn: Warning messages
//   - Error: Error messages
//   - Fatal: Fatal errors (exits process)
//
// Features:
//   - Zero-allocation logging in production
//   - Structured fields for context
//   - Configurable output paths
//   - Size-based log rotation via lumberjack when a file path is set
//
// The tracing engine logs through this package exclusively; capture and
// persistence failures are reported here instead of being surfaced to the
// instrumented program.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Writer started", zap.Int("batch_size", 50))
//	logger.Warn("Queue full, dropping record", zap.String("span_id", spanID))
package logging
