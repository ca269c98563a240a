// Package id provides centralized ID generation for agentlens.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: record IDs sort by creation time, so
//     primary-key order doubles as chronological order in the store
//   - Prefixed types: type-specific prefixes for debugging (sess_*, trc_*, spn_*, evt_*)
//   - Type safety: separate types prevent mixing span and trace IDs
//   - Performance: single mutex around the entropy source, ~2μs per ULID
//
// Design Principles:
//   - ULIDs only: single ID format across the engine, store, and viewer
//   - K-sortable: timeline queries without extra timestamp columns
//   - Debuggable: prefixes make logs and query output readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// SessionID identifies one process lifetime of an instrumented program
type SessionID string

// TraceID identifies a single top-level traced operation
type TraceID string

// SpanID identifies one step within a trace
type SpanID string

// EventID identifies a point-in-time event attached to a span
type EventID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	SessionPrefix = "sess"
	TracePrefix   = "trc"
	SpanPrefix    = "spn"
	EventPrefix   = "evt"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewTraceID generates a new trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// NewEventID generates a new event ID
func NewEventID() EventID {
	return EventID(Default().GenerateWithPrefix(EventPrefix))
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

// String methods for ID types
func (id SessionID) String() string { return string(id) }
func (id TraceID) String() string   { return string(id) }
func (id SpanID) String() string    { return string(id) }
func (id EventID) String() string   { return string(id) }

// Strip removes the type prefix from a prefixed ID string.
// Returns the input unchanged when no prefix is present.
func Strip(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// IsValid checks if an ID string (with or without prefix) carries a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(Strip(id))
	return err == nil
}

// Parse parses the ULID portion of a prefixed ID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(Strip(id))
}

// Timestamp extracts the creation time from a prefixed ID.
// The ULID time component makes every record self-timestamped.
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
