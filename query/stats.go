package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SessionStats aggregates trace and span counts for one session along with
// completed-span latency quantiles.
func (e *Engine) SessionStats(ctx context.Context, sessionID string) (*SessionStats, error) {
	stats := &SessionStats{SessionID: sessionID}

	err := e.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM traces WHERE session_id = ?),
			(SELECT COUNT(*) FROM spans WHERE session_id = ?),
			(SELECT COUNT(*) FROM events e JOIN spans s ON e.span_id = s.id WHERE s.session_id = ?),
			(SELECT COUNT(*) FROM traces WHERE session_id = ? AND status = 'failed'),
			(SELECT COUNT(*) FROM traces WHERE session_id = ? AND corrupted = 1)
	`, sessionID, sessionID, sessionID, sessionID, sessionID).Scan(
		&stats.TraceCount, &stats.SpanCount, &stats.EventCount,
		&stats.FailedTraces, &stats.CorruptedTraces,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating session %s: %w", sessionID, err)
	}

	if stats.TraceCount == 0 {
		// Distinguish an unknown session from one that recorded nothing yet.
		var exists int
		err := e.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("checking session %s: %w", sessionID, err)
		}
	}

	durations, err := e.spanDurationsMS(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		stats.DurationMeanMS = stat.Mean(durations, nil)
		stats.DurationP50MS = stat.Quantile(0.5, stat.Empirical, durations, nil)
		stats.DurationP95MS = stat.Quantile(0.95, stat.Empirical, durations, nil)
	}
	return stats, nil
}

func (e *Engine) spanDurationsMS(ctx context.Context, sessionID string) ([]float64, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT (ended_at - started_at) / 1000000.0
		FROM spans
		WHERE session_id = ? AND ended_at IS NOT NULL
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading span durations: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var ms float64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scanning span duration: %w", err)
		}
		durations = append(durations, ms)
	}
	return durations, rows.Err()
}
