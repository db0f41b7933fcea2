package outputsink

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_SmallOutputNeverSpills(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "task-1").WithBounds(10, 1024)

	_, err := s.Write([]byte("line one\nline two\n"))
	require.NoError(t, err)

	summary, err := s.Dump("")
	require.NoError(t, err)
	assert.False(t, summary.Truncated)
	assert.Empty(t, summary.SpillPath)
	assert.Equal(t, "line one\nline two", summary.PreviewText)
	assert.Equal(t, 2, summary.TotalLines)
}

func TestSink_OverflowSpillsToDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "task-2").WithBounds(5, 16)

	for i := 0; i < 20; i++ {
		_, err := s.Write([]byte("a line of output\n"))
		require.NoError(t, err)
	}

	summary, err := s.Dump("truncated")
	require.NoError(t, err)
	assert.True(t, summary.Truncated)
	require.NotEmpty(t, summary.SpillPath)
	assert.True(t, strings.HasSuffix(summary.PreviewText, "truncated"))

	data, err := os.ReadFile(summary.SpillPath)
	require.NoError(t, err)
	assert.Equal(t, summary.SpillBytes, len(data))
	assert.Greater(t, len(data), 0)
}

func TestSink_PreviewBoundedToMaxLines(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "task-3").WithBounds(3, 10_000)

	for i := 0; i < 10; i++ {
		_, err := s.Write([]byte("x\n"))
		require.NoError(t, err)
	}

	summary, err := s.Dump("")
	require.NoError(t, err)
	assert.Equal(t, 10, summary.TotalLines)
	assert.Equal(t, 3, strings.Count(summary.PreviewText, "x"))
}

func TestSink_DumpIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "task-4")
	_, _ = s.Write([]byte("hello\n"))

	first, err := s.Dump("notice")
	require.NoError(t, err)
	second, err := s.Dump("different notice ignored")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSink_PendingLineFlushedWithoutTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "task-5")
	_, _ = s.Write([]byte("no newline at end"))

	summary, err := s.Dump("")
	require.NoError(t, err)
	assert.Equal(t, "no newline at end", summary.PreviewText)
	assert.Equal(t, 1, summary.TotalLines)
}

func TestSink_RawCaptureRetainsSuffixPastRawCap(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "task-6").WithBounds(5, 16)

	_, err := s.Write([]byte("HEAD_MARKER\n"))
	require.NoError(t, err)

	filler := bytes.Repeat([]byte("f"), 1<<20) // 1MiB per write
	for i := 0; i < 9; i++ {
		_, err := s.Write(filler)
		require.NoError(t, err)
	}

	_, err = s.Write([]byte("TAIL_MARKER\n"))
	require.NoError(t, err)

	summary, err := s.Dump("truncated")
	require.NoError(t, err)
	require.NotEmpty(t, summary.SpillPath)

	data, err := os.ReadFile(summary.SpillPath)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), defaultRawCap)
	assert.Contains(t, string(data), "TAIL_MARKER")
	assert.NotContains(t, string(data), "HEAD_MARKER")
}

func TestTrimToValidUTF8_NeverSplitsARune(t *testing.T) {
	s := "héllo wörld" // contains multi-byte runes
	b := []byte(s)

	for cut := 0; cut <= len(b); cut++ {
		trimmed := TrimToValidUTF8(b[:cut])
		assert.Truef(t, isValidUTF8Prefix(trimmed), "cut at %d produced invalid utf8 tail: %q", cut, trimmed)
	}
}

func isValidUTF8Prefix(b []byte) bool {
	return strings.ToValidUTF8(string(b), "") == string(b) || len(b) == 0
}

func TestTruncatePreview_ClampsWidth(t *testing.T) {
	long := strings.Repeat("a", 100)
	out := TruncatePreview(long, 20)
	assert.LessOrEqual(t, len(out), 20)
	assert.True(t, strings.HasSuffix(out, "..."))
}
