package engine

import (
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/agentlens/agentlens/internal/infrastructure/monitoring"
)

// truncation marker keys, stable across versions so viewers can detect them
const (
	truncatedKey = "_truncated"
	origBytesKey = "original_bytes"
	previewKey   = "preview"
)

// markerOverhead reserves room for the marker object around the preview.
const markerOverhead = 128

// Capture bounds payload snapshotting. The zero value captures nothing;
// use NewCapture.
type Capture struct {
	disabled bool
	maxBytes int
	maxDepth int
	metrics  *monitoring.Metrics
}

// NewCapture creates a capture policy.
func NewCapture(disabled bool, maxBytes, maxDepth int, metrics *monitoring.Metrics) *Capture {
	return &Capture{
		disabled: disabled,
		maxBytes: maxBytes,
		maxDepth: maxDepth,
		metrics:  metrics,
	}
}

// Take serializes v into a bounded snapshot. It never fails: values that
// cannot serialize degrade to a descriptive object, oversized payloads
// truncate to a marker object carrying the original size and a preview.
func (c *Capture) Take(v any) Snapshot {
	if c == nil || c.disabled || v == nil {
		return Snapshot{}
	}

	data, err := sonic.Marshal(c.sanitize(v, 0))
	if err != nil {
		data = c.fallback(v)
	}

	if len(data) <= c.maxBytes {
		return Snapshot{Data: data}
	}
	return c.truncate(data)
}

// sanitize rewrites values sonic cannot or should not serialize as-is.
// Generic maps and slices recurse up to the depth cap; everything else is
// left for the encoder.
func (c *Capture) sanitize(v any, depth int) any {
	if depth >= c.maxDepth {
		return "..."
	}

	switch val := v.(type) {
	case nil:
		return nil
	case error:
		return val.Error()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = c.sanitize(item, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = c.sanitize(item, depth+1)
		}
		return out
	default:
		return v
	}
}

// fallback renders unserializable values (channels, funcs, cycles) as a
// descriptive object instead of dropping them.
func (c *Capture) fallback(v any) []byte {
	repr := fmt.Sprintf("%v", v)
	if len(repr) > c.maxBytes {
		repr = cutUTF8(repr, c.maxBytes)
	}
	data, err := sonic.Marshal(map[string]any{
		"_unserializable": fmt.Sprintf("%T", v),
		"value":           repr,
	})
	if err != nil {
		return []byte(`{"_unserializable":"unknown"}`)
	}
	return data
}

// truncate replaces oversized data with a marker object. The snapshot is
// kept, never dropped; the marker records what was lost.
func (c *Capture) truncate(data []byte) Snapshot {
	if c.metrics != nil {
		c.metrics.RecordTruncation()
	}

	previewLen := c.maxBytes - markerOverhead
	if previewLen < 0 {
		previewLen = 0
	}
	preview := cutUTF8(string(data), previewLen)

	marker, err := sonic.Marshal(map[string]any{
		truncatedKey: true,
		origBytesKey: len(data),
		previewKey:   preview,
	})
	if err != nil {
		marker = []byte(fmt.Sprintf(`{"%s":true,"%s":%d}`, truncatedKey, origBytesKey, len(data)))
	}
	return Snapshot{Data: marker, Truncated: true}
}

// cutUTF8 trims s to at most n bytes without splitting a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// IsTruncated reports whether serialized snapshot data is a truncation
// marker produced by Take.
func IsTruncated(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	var probe map[string]any
	if err := sonic.Unmarshal(data, &probe); err != nil {
		return false
	}
	flag, ok := probe[truncatedKey].(bool)
	return ok && flag
}
