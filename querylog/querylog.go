// Package querylog manages per-query trace files: one
// log-<client_request_id>.txt file per client-originated recursive
// query, created on demand and appended to. This is deliberately plain
// os/bufio rather than the structured process logger: each trace file is
// a separate append-only handle keyed by client id, not a single
// configured logging backend, so a generic per-key file manager built on
// os/bufio is the simplest fit.
package querylog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/log"
)

// Logger owns one append-only file per client request id, opened lazily
// on first trace and kept open for the life of the process.
type Logger struct {
	dir   string
	clock clockwork.Clock
	files map[uint16]*bufio.Writer
	raw   map[uint16]*os.File
}

// New prepares dir for fresh trace output, removing any existing
// log-*.txt files left over from a prior run.
func New(dir string, clock clockwork.Clock) (*Logger, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "log-*.txt"))
	if err != nil {
		return nil, fmt.Errorf("querylog: %w", err)
	}

	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			log.Warn("could not remove stale query trace", "file", m, "error", err.Error())
		}
	}

	return &Logger{
		dir:   dir,
		clock: clock,
		files: make(map[uint16]*bufio.Writer),
		raw:   make(map[uint16]*os.File),
	}, nil
}

// Trace appends one line to the trace file for clientID, opening it on
// first use. Each line is prefixed "[HH:MM:SS.mmm] ".
func (l *Logger) Trace(clientID uint16, line string) {
	w, err := l.writerFor(clientID)
	if err != nil {
		log.Warn("could not open query trace file", "client_id", clientID, "error", err.Error())
		return
	}

	ts := l.clock.Now()
	fmt.Fprintf(w, "[%02d:%02d:%02d.%03d] %s\n", ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond()/1e6, line)
	w.Flush()
}

func (l *Logger) writerFor(clientID uint16) (*bufio.Writer, error) {
	if w, ok := l.files[clientID]; ok {
		return w, nil
	}

	path := filepath.Join(l.dir, fmt.Sprintf("log-%d.txt", clientID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	l.raw[clientID] = f
	l.files[clientID] = w
	return w, nil
}

// Close flushes and closes every open trace file.
func (l *Logger) Close() error {
	var errs []string

	for id, w := range l.files {
		w.Flush()
		if f, ok := l.raw[id]; ok {
			if err := f.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("querylog: %s", strings.Join(errs, "; "))
	}
	return nil
}
