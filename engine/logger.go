package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// Logger is the sink behind the driver's zerolog logger. It keeps the most
// recent lines in a ring for the terminal UI, publishes each line on a
// channel for live views and appends lines to a file from a background
// writer.
type Logger struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	count    int
	partial  []byte

	filePath string
	file     *os.File
	fileCh   chan string
	done     chan struct{}
	live     chan string
	closed   bool
}

// NewLogger returns a Logger that remembers capacity lines and, when filePath
// is not empty, also appends every line to that file.
func NewLogger(filePath string, capacity int) *Logger {
	if capacity <= 0 {
		capacity = defaultLogLines
	}

	l := &Logger{
		lines:    make([]string, capacity),
		capacity: capacity,
		filePath: filePath,
		live:     make(chan string, 100),
		done:     make(chan struct{}),
	}

	if err := l.openFile(); err != nil || l.file == nil {
		close(l.done)
		return l
	}

	l.fileCh = make(chan string, 256)
	go l.writer()

	return l
}

func (l *Logger) openFile() error {
	if l.filePath == "" {
		return nil
	}
	if dir := filepath.Dir(l.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Zerolog returns a human-readable zerolog logger that writes into l.
func (l *Logger) Zerolog(level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: l, NoColor: true, TimeFormat: "15:04:05"}
	return zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// Write implements io.Writer. Input is split on newlines; a trailing partial
// line is held until its newline arrives.
func (l *Logger) Write(p []byte) (int, error) {
	if l == nil {
		return len(p), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return len(p), nil
	}

	data := append(l.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		l.appendLocked(string(data[:i]))
		data = data[i+1:]
	}
	l.partial = append([]byte(nil), data...)
	return len(p), nil
}

// Line records one line of text.
func (l *Logger) Line(msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.appendLocked(msg)
}

func (l *Logger) appendLocked(msg string) {
	l.lines[l.head] = msg
	l.head = (l.head + 1) % l.capacity
	if l.count < l.capacity {
		l.count++
	}

	if l.fileCh != nil {
		select {
		case l.fileCh <- msg:
		default:
		}
	}
	select {
	case l.live <- msg:
	default:
	}
}

// Lines returns the retained lines, oldest first.
func (l *Logger) Lines() []string {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if l.count >= l.capacity {
		start = l.head
	}
	out := make([]string, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.lines[(start+i)%l.capacity])
	}
	return out
}

// ReadAll returns the retained lines joined with newlines.
func (l *Logger) ReadAll() string {
	lines := l.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Chan delivers lines as they are written. Lines are dropped when nobody
// keeps up.
func (l *Logger) Chan() <-chan string {
	if l == nil {
		return nil
	}
	return l.live
}

func (l *Logger) writer() {
	defer close(l.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for _, msg := range batch {
			l.file.WriteString(msg + "\n")
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-l.fileCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes pending file output and stops the writer.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if len(l.partial) > 0 {
		l.appendLocked(string(l.partial))
		l.partial = nil
	}
	if l.fileCh != nil {
		close(l.fileCh)
	}
	close(l.live)
	l.mu.Unlock()

	<-l.done
	if l.file != nil {
		l.file.Close()
	}
}
