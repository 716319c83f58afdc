package terminal

import (
	"strings"
	"sync"
)

// Surface is the engine's view of the rendering collaborator. The engine
// only pushes bytes into it and reads back single lines for cwd tracking;
// glyph rendering itself is outside this module.
type Surface interface {
	// Write appends output verbatim, no reinterpretation.
	Write(p []byte)
	// Size returns the current column/row counts, zero if not yet laid out.
	Size() (cols, rows int)
	// CursorRow returns the row index of the most recently written line.
	CursorRow() int
	// Line returns the text of one row, without the line terminator.
	Line(row int) string
	// Refit recomputes the glyph grid after a font-affecting change.
	Refit()
	// Close releases the surface. Called exactly once, on session teardown.
	Close()
}

// defaultScreenSize is the default maximum retained output (1 MB).
const defaultScreenSize = 1024 * 1024

// ScreenBuffer is a bounded, thread-safe Surface used by headless
// embeddings and tests. When the buffer exceeds maxLen, older data is
// trimmed from the front.
type ScreenBuffer struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
	cols   int
	rows   int
	refits int
	closed bool
	notify chan struct{} // signaled (non-blocking) when new data arrives
}

// NewScreenBuffer creates a screen buffer retaining at most maxLen bytes.
// If maxLen <= 0, defaultScreenSize is used.
func NewScreenBuffer(maxLen int) *ScreenBuffer {
	if maxLen <= 0 {
		maxLen = defaultScreenSize
	}
	return &ScreenBuffer{
		maxLen: maxLen,
		notify: make(chan struct{}, 1),
	}
}

// Write appends output, trimming from the front when the total exceeds
// maxLen, and signals waiting readers.
func (s *ScreenBuffer) Write(p []byte) {
	s.mu.Lock()
	s.data = append(s.data, p...)
	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// SetSize records the column/row counts computed by the layout.
func (s *ScreenBuffer) SetSize(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

// Size returns the recorded column/row counts.
func (s *ScreenBuffer) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// lines splits the retained data into rows. A trailing \r (from CRLF
// terminal output) is stripped from each row.
func (s *ScreenBuffer) lines() []string {
	parts := strings.Split(string(s.data), "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}

// CursorRow returns the index of the last row.
func (s *ScreenBuffer) CursorRow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines()) - 1
}

// Line returns the text of one row, or "" for an out-of-range index.
func (s *ScreenBuffer) Line(row int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.lines()
	if row < 0 || row >= len(parts) {
		return ""
	}
	return parts[row]
}

// Snapshot returns a copy of the retained output.
func (s *ScreenBuffer) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]byte, len(s.data))
	copy(result, s.data)
	return result
}

// Len returns the retained output length.
func (s *ScreenBuffer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Refit records a grid refit request.
func (s *ScreenBuffer) Refit() {
	s.mu.Lock()
	s.refits++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// RefitCount returns how many refits were requested.
func (s *ScreenBuffer) RefitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refits
}

// Close marks the buffer as released and signals readers.
func (s *ScreenBuffer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// IsClosed reports whether the buffer has been released.
func (s *ScreenBuffer) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Notify returns the channel signaled when new data or a refit arrives.
func (s *ScreenBuffer) Notify() <-chan struct{} {
	return s.notify
}
