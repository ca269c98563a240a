/*
Package storage provides the durable trace store and its asynchronous writer.

# Overview

The store is a single SQLite database in WAL mode holding four tables:
sessions, traces, spans, and events. All writes flow through one Writer,
which drains a bounded FIFO queue into batched transactions. Records are
upserts keyed by ULID, so replaying a batch after a torn commit is
idempotent and a span-close arriving after its span-open was dropped still
produces a row.

# Durability Model

The writer commits a batch when it reaches the configured size or age,
whichever comes first. Failed commits retry with exponential backoff a
bounded number of times, then the batch is dropped and the degraded flag
raised; instrumented callers are never blocked or failed by storage
trouble. Flush enqueues a barrier and blocks until everything before it
is on disk.

Durability is crash-only: records enqueued but not yet committed when the
process dies are gone. Call Flush before exiting when the tail matters;
there is no write-ahead journal on the engine side and no exactly-once
guarantee across a crash mid-batch.

On every read-write open, leftover rows still marked running are from a
process that died mid-trace; they are closed as failed (interrupted) so
nothing stays running forever.

# Concurrency

The read-write handle is pinned to one connection: SQLite allows a single
writer, and the connection pool would otherwise hand batches to fresh
connections mid-stream. Read-only handles (the viewer) use a small pool;
WAL lets them run against a live writer in another process.

The schema declares no foreign keys. Under queue pressure a parent record
can be dropped while its children survive, and those children must remain
insertable and queryable as fragments.
*/
package storage
