package engine

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureDisabled(t *testing.T) {
	c := NewCapture(true, 1024, 8, nil)
	snap := c.Take(map[string]any{"k": "v"})
	assert.True(t, snap.Empty())
	assert.False(t, snap.Truncated)
}

func TestCaptureNil(t *testing.T) {
	var c *Capture
	assert.True(t, c.Take("anything").Empty())

	c = NewCapture(false, 1024, 8, nil)
	assert.True(t, c.Take(nil).Empty())
}

func TestCaptureSimpleValue(t *testing.T) {
	c := NewCapture(false, 1024, 8, nil)
	snap := c.Take(map[string]any{"name": "step", "count": 3})
	require.False(t, snap.Empty())
	assert.False(t, snap.Truncated)
	assert.False(t, IsTruncated(snap.Data))

	var decoded map[string]any
	require.NoError(t, sonic.Unmarshal(snap.Data, &decoded))
	assert.Equal(t, "step", decoded["name"])
	assert.EqualValues(t, 3, decoded["count"])
}

func TestCaptureErrorValues(t *testing.T) {
	c := NewCapture(false, 1024, 8, nil)

	snap := c.Take(map[string]any{"err": errors.New("boom")})
	var decoded map[string]any
	require.NoError(t, sonic.Unmarshal(snap.Data, &decoded))
	assert.Equal(t, "boom", decoded["err"])

	snap = c.Take(errors.New("bare"))
	var s string
	require.NoError(t, sonic.Unmarshal(snap.Data, &s))
	assert.Equal(t, "bare", s)
}

func TestCaptureTruncatesOversized(t *testing.T) {
	c := NewCapture(false, 512, 8, nil)
	snap := c.Take(map[string]any{"blob": strings.Repeat("x", 4096)})

	require.True(t, snap.Truncated)
	assert.LessOrEqual(t, len(snap.Data), 512)
	assert.True(t, IsTruncated(snap.Data))

	var marker map[string]any
	require.NoError(t, sonic.Unmarshal(snap.Data, &marker))
	assert.Equal(t, true, marker[truncatedKey])
	assert.NotEmpty(t, marker[previewKey])

	orig, ok := marker[origBytesKey].(float64)
	require.True(t, ok)
	assert.Greater(t, orig, float64(4096))
}

func TestCaptureDepthLimited(t *testing.T) {
	c := NewCapture(false, 4096, 2, nil)
	snap := c.Take(map[string]any{
		"l1": map[string]any{
			"l2": map[string]any{"l3": "gone"},
		},
	})

	var decoded map[string]any
	require.NoError(t, sonic.Unmarshal(snap.Data, &decoded))
	l1, ok := decoded["l1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "...", l1["l2"])
}

func TestCaptureDepthLimitedSlices(t *testing.T) {
	c := NewCapture(false, 4096, 2, nil)
	snap := c.Take([]any{[]any{[]any{"gone"}}})

	var decoded []any
	require.NoError(t, sonic.Unmarshal(snap.Data, &decoded))
	require.Len(t, decoded, 1)
	inner, ok := decoded[0].([]any)
	require.True(t, ok)
	assert.Equal(t, "...", inner[0])
}

func TestCaptureUnserializableFallsBack(t *testing.T) {
	c := NewCapture(false, 1024, 8, nil)
	snap := c.Take(make(chan int))
	require.False(t, snap.Empty())

	var decoded map[string]any
	require.NoError(t, sonic.Unmarshal(snap.Data, &decoded))
	assert.Equal(t, "chan int", decoded["_unserializable"])
	assert.NotEmpty(t, decoded["value"])
}

func TestCutUTF8PreservesRuneBoundaries(t *testing.T) {
	s := "héllo wörld ünïcodé 日本語"
	for n := 0; n <= len(s); n++ {
		cut := cutUTF8(s, n)
		assert.True(t, utf8.ValidString(cut), "cut at %d produced invalid UTF-8", n)
		assert.LessOrEqual(t, len(cut), n)
	}
	assert.Equal(t, s, cutUTF8(s, len(s)+10))
}

func TestIsTruncatedProbe(t *testing.T) {
	assert.False(t, IsTruncated(nil))
	assert.False(t, IsTruncated([]byte(`{"x":1}`)))
	assert.False(t, IsTruncated([]byte(`not json`)))
	assert.False(t, IsTruncated([]byte(`{"_truncated":"yes"}`)))
	assert.True(t, IsTruncated([]byte(`{"_truncated":true,"original_bytes":9000}`)))
}

func BenchmarkCaptureSmall(b *testing.B) {
	c := NewCapture(false, 65536, 8, nil)
	payload := map[string]any{"model": "gpt", "tokens": 512, "stop": []any{"\n"}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Take(payload)
	}
}
