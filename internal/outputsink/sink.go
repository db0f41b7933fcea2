// Package outputsink captures a sub-agent worker's streamed tool output
// under byte and line bounds, spilling the full stream to disk once
// those bounds are exceeded (§4.A).
package outputsink

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultMaxPreviewLines bounds how many of the most recent lines are
	// kept in the in-process preview.
	DefaultMaxPreviewLines = 200
	// DefaultMaxPreviewBytes bounds the preview's total size; once the
	// raw stream exceeds this, the sink starts tracking toward a spill.
	DefaultMaxPreviewBytes = 64 * 1024
	// defaultRawCap bounds how much raw output a sink ever buffers for a
	// spill write, independent of DefaultMaxPreviewBytes. Output beyond
	// this is dropped from the spill file too; Dump's notice says so.
	defaultRawCap = 8 * 1024 * 1024
)

// OutputSummary is the terminal, read-only view of a Sink once its
// worker has finished writing to it (§4.A).
type OutputSummary struct {
	PreviewText string
	TotalBytes  int
	TotalLines  int
	Truncated   bool
	SpillPath   string // empty unless the stream exceeded bounds
	SpillBytes  int
	RawDropped  bool // true if even the spill capture hit defaultRawCap
}

// Sink is an io.Writer that accumulates a bounded preview of recent
// lines plus a raw capture (up to defaultRawCap) of everything written.
// Once the preview bound is exceeded, Dump spills the raw capture to
// disk atomically so a reader never observes a partially-written file.
type Sink struct {
	mu sync.Mutex

	maxLines int
	maxBytes int
	spillDir string
	spillTag string

	lines      []string
	pending    bytes.Buffer // bytes of the current, not-yet-newline-terminated line
	raw        bytes.Buffer // full capture, bounded by defaultRawCap
	rawDropped bool
	totalBytes int
	totalLines int

	dumped     bool
	dumpResult OutputSummary
}

// New creates a Sink that spills to spillDir (created on first overflow)
// using spillTag as a file-name hint (normally the task id).
func New(spillDir, spillTag string) *Sink {
	return &Sink{
		maxLines: DefaultMaxPreviewLines,
		maxBytes: DefaultMaxPreviewBytes,
		spillDir: spillDir,
		spillTag: spillTag,
	}
}

// WithBounds overrides the default preview bounds; used by tests and by
// callers that want tighter bounds for small tool outputs.
func (s *Sink) WithBounds(maxLines, maxBytes int) *Sink {
	s.maxLines = maxLines
	s.maxBytes = maxBytes
	return s
}

// Write implements io.Writer. Safe for concurrent use, though in
// practice a Sink is owned by exactly one worker goroutine at a time.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(p)
	s.totalBytes += n

	s.appendRaw(p)

	s.pending.Write(p)
	s.drainLines()

	return n, nil
}

// appendRaw appends p to the raw capture, keeping only the trailing
// defaultRawCap bytes of everything ever written: once the cap is
// exceeded the oldest bytes are dropped from the front rather than new
// writes being ignored, so the retained buffer stays a suffix of the
// original stream (§4.A).
func (s *Sink) appendRaw(p []byte) {
	if len(p) >= defaultRawCap {
		s.raw.Reset()
		s.raw.Write(trimLeadingPartialRune(p[len(p)-defaultRawCap:]))
		s.rawDropped = true
		return
	}

	if overflow := s.raw.Len() + len(p) - defaultRawCap; overflow > 0 {
		s.rawDropped = true
		tail := trimLeadingPartialRune(append([]byte(nil), s.raw.Bytes()[overflow:]...))
		s.raw.Reset()
		s.raw.Write(tail)
	}
	s.raw.Write(p)
}

// drainLines moves complete newline-terminated lines out of pending into
// the bounded preview ring.
func (s *Sink) drainLines() {
	for {
		buf := s.pending.Bytes()
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		s.pending.Next(idx + 1)
		s.totalLines++
		s.lines = append(s.lines, line)
		if len(s.lines) > s.maxLines {
			s.lines = s.lines[len(s.lines)-s.maxLines:]
		}
	}
}

// Dump finalizes the sink and returns its summary. Idempotent: later
// calls return the same result without re-writing the spill file.
// notice, when non-empty, is appended to the preview text as a trailing
// line (e.g. "output truncated, see spill file").
func (s *Sink) Dump(notice string) (OutputSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dumped {
		return s.dumpResult, nil
	}

	if s.pending.Len() > 0 {
		s.lines = append(s.lines, s.pending.String())
		s.totalLines++
		if len(s.lines) > s.maxLines {
			s.lines = s.lines[len(s.lines)-s.maxLines:]
		}
		s.pending.Reset()
	}

	preview := joinLines(s.lines)
	if notice != "" {
		if preview != "" {
			preview += "\n"
		}
		preview += notice
	}

	summary := OutputSummary{
		PreviewText: preview,
		TotalBytes:  s.totalBytes,
		TotalLines:  s.totalLines,
		Truncated:   s.totalBytes > s.maxBytes,
		RawDropped:  s.rawDropped,
	}

	var err error
	if summary.Truncated {
		summary.SpillPath, summary.SpillBytes, err = s.spill()
	}

	s.dumped = true
	s.dumpResult = summary
	return summary, err
}

// spill atomically writes the raw capture to spillDir, trimming at a
// UTF-8 boundary since defaultRawCap can land mid-rune.
func (s *Sink) spill() (path string, n int, err error) {
	if s.spillDir == "" {
		return "", 0, fmt.Errorf("outputsink: spill directory not configured")
	}
	if err := os.MkdirAll(s.spillDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("outputsink: creating spill dir: %w", err)
	}
	data := TrimToValidUTF8(s.raw.Bytes())
	path = filepath.Join(s.spillDir, s.spillTag+".output.log")
	if err := atomicWriteFile(path, data, 0o640); err != nil {
		return "", 0, fmt.Errorf("outputsink: writing spill file: %w", err)
	}
	return path, len(data), nil
}

func joinLines(lines []string) string {
	var buf bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l)
	}
	return buf.String()
}
