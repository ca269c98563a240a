package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentlens/agentlens/internal/engine"
	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/internal/infrastructure/monitoring"
)

// ErrWriterClosed is returned by Flush after Close.
var ErrWriterClosed = errors.New("writer closed")

// maxBackoff caps the exponential retry delay.
const maxBackoff = 5 * time.Second

// Writer defaults, used when WriterConfig fields are zero.
const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 64
	defaultFlushInterval = 250 * time.Millisecond
	defaultMaxRetries    = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// WriterConfig bounds the write pipeline.
type WriterConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

func (c *WriterConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
}

// item carries one record or a flush barrier through the queue.
type item struct {
	op    engine.Op
	flush chan error // non-nil marks a barrier
}

// Writer drains a bounded FIFO queue into batched store transactions.
// It implements engine.Sink: Enqueue never blocks, dropping under
// pressure; Flush blocks until everything enqueued before it is durable.
type Writer struct {
	store   *Store
	logger  *logging.Logger
	metrics *monitoring.Metrics

	queue      chan item
	batchSize  int
	interval   time.Duration
	maxRetries int
	backoff    time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWriter starts the drain goroutine over store.
func NewWriter(store *Store, cfg WriterConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Writer {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	w := &Writer{
		store:      store,
		logger:     logger,
		metrics:    metrics,
		queue:      make(chan item, cfg.QueueSize),
		batchSize:  cfg.BatchSize,
		interval:   cfg.FlushInterval,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.drain()
	return w
}

// Enqueue hands one record to the drain goroutine. It never blocks: a
// full queue drops the record, raises the degraded flag, and reports
// false.
func (w *Writer) Enqueue(op engine.Op) bool {
	if w.closed.Load() {
		w.metrics.RecordDrop("writer_closed")
		return false
	}
	select {
	case w.queue <- item{op: op}:
		w.metrics.RecordEnqueue()
		w.metrics.SetQueueDepth(len(w.queue))
		return true
	default:
		w.metrics.RecordDrop("queue_full")
		return false
	}
}

// Flush blocks until every record enqueued before the call is durable,
// or ctx is done. Batches dropped since the previous barrier surface as
// an error here, even though the caller of Enqueue never saw them.
func (w *Writer) Flush(ctx context.Context) error {
	if w.closed.Load() {
		return ErrWriterClosed
	}

	barrier := make(chan error, 1)
	select {
	case w.queue <- item{flush: barrier}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrWriterClosed
	}

	select {
	case err := <-barrier:
		return err
	case <-w.done:
		// The final sweep may have resolved the barrier just before
		// exiting
		select {
		case err := <-barrier:
			return err
		default:
			return ErrWriterClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, drains what is already queued, and waits for the
// final commit or ctx.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.stop)
	})

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports how many records sit in the queue right now.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

func (w *Writer) drain() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]engine.Op, 0, w.batchSize)
	var barriers []chan error
	var failed error // first drop since the last resolved barrier

	for {
		select {
		case it := <-w.queue:
			if it.flush != nil {
				barriers = append(barriers, it.flush)
				w.commit(&batch, &barriers, &failed)
				continue
			}
			batch = append(batch, it.op)
			if len(batch) >= w.batchSize {
				w.commit(&batch, &barriers, &failed)
			}

		case <-ticker.C:
			if len(batch) > 0 || len(barriers) > 0 {
				w.commit(&batch, &barriers, &failed)
			}

		case <-w.stop:
			// Final sweep: take what is already queued, then exit
			for {
				select {
				case it := <-w.queue:
					if it.flush != nil {
						barriers = append(barriers, it.flush)
						continue
					}
					batch = append(batch, it.op)
				default:
					w.commit(&batch, &barriers, &failed)
					return
				}
			}
		}
	}
}

// commit writes the pending batch and resolves waiting barriers. A
// barrier reports the first batch dropped since the previous barrier;
// reporting clears the failure.
func (w *Writer) commit(batch *[]engine.Op, barriers *[]chan error, failed *error) {
	if len(*batch) > 0 {
		if err := w.commitBatch(*batch); err != nil && *failed == nil {
			*failed = err
		}
		*batch = (*batch)[:0]
	}
	if len(*barriers) > 0 {
		for _, barrier := range *barriers {
			barrier <- *failed
		}
		*barriers = (*barriers)[:0]
		*failed = nil
	}
	w.metrics.SetQueueDepth(len(w.queue))
}

// commitBatch retries with exponential backoff, then drops the batch.
func (w *Writer) commitBatch(ops []engine.Op) error {
	backoff := w.backoff
	for attempt := 0; ; attempt++ {
		timer := monitoring.NewTimer(w.metrics)
		err := w.store.ApplyBatch(ops)
		if err == nil {
			timer.Stop()
			return nil
		}

		if attempt >= w.maxRetries {
			w.metrics.RecordDrops("retry_exhausted", len(ops))
			w.logger.Error("dropping batch after retries",
				zap.Int("records", len(ops)),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return err
		}

		w.metrics.RecordBatchRetry()
		w.logger.Warn("batch write failed, retrying",
			zap.Int("records", len(ops)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
