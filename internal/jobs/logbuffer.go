package jobs

import (
	"fmt"
	"strings"
	"sync"
)

// LogBuffer is a single-writer, multi-reader append-only log. The
// executing worker is the only appender; readers may take the full text
// or a line tail at any time and always observe a prefix of the final
// log. An optional fanout callback forwards each appended chunk to a
// live subscriber, e.g. a websocket broadcaster.
type LogBuffer struct {
	mu     sync.RWMutex
	buf    []byte
	fanout func([]byte)
}

// NewLogBuffer returns an empty log buffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Attach sets the fanout callback invoked for every subsequent append.
func (l *LogBuffer) Attach(fn func([]byte)) {
	l.mu.Lock()
	l.fanout = fn
	l.mu.Unlock()
}

// Write appends p to the log. It never fails; the error return exists
// to satisfy io.Writer. The fanout callback runs under the append lock
// so a subscriber registered through ReplayTo sees every later chunk
// exactly once.
func (l *LogBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	if l.fanout != nil {
		l.fanout(p)
	}
	return len(p), nil
}

// ReplayTo invokes fn with a copy of the log accumulated so far while
// holding the append lock. Registering a live subscriber inside fn
// guarantees no chunk is lost or duplicated between the replay and the
// first broadcast. fn must not call back into the buffer.
func (l *LogBuffer) ReplayTo(fn func(snapshot []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make([]byte, len(l.buf))
	copy(snapshot, l.buf)
	fn(snapshot)
}

// WriteString appends s to the log.
func (l *LogBuffer) WriteString(s string) {
	l.Write([]byte(s))
}

// Printf appends a formatted line to the log.
func (l *LogBuffer) Printf(format string, args ...any) {
	l.Write([]byte(fmt.Sprintf(format, args...)))
}

// String returns the full log text accumulated so far.
func (l *LogBuffer) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return string(l.buf)
}

// Len returns the current log size in bytes.
func (l *LogBuffer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Tail returns the last n lines of the log.
func (l *LogBuffer) Tail(n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(l.String(), "\n")
	// A buffer ending in a newline splits into a trailing empty
	// segment that is not a line.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
