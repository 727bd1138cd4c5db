package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Writer is an io.Writer that forwards child-process output to the logger,
// one record per complete line.
type Writer struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	attrs  []any
	buf    bytes.Buffer
}

// NewWriter constructs a Writer logging at debug level with the given attributes.
func NewWriter(logger *slog.Logger, attrs ...any) *Writer {
	return &Writer{logger: logger, level: slog.LevelDebug, attrs: attrs}
}

// Write buffers p and logs every complete line.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *Writer) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || w.logger == nil {
		return
	}
	args := append([]any{"line", line}, w.attrs...)
	w.logger.Log(context.Background(), w.level, "command output", args...)
}
