package process

import (
	"bytes"
	"sync"

	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

const maxOutputLine = 1024 * 1024

// lineWriter forwards child output to the logger one line at a time.
type lineWriter struct {
	id     string
	logger logging.Logger

	mutex   sync.Mutex
	pending []byte
}

func newLineWriter(id string, logger logging.Logger) *lineWriter {
	return &lineWriter{id: id, logger: logger}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		w.emit(w.pending[:idx])
		w.pending = w.pending[idx+1:]
	}
	if len(w.pending) >= maxOutputLine {
		w.emit(w.pending)
		w.pending = nil
	}
	return len(p), nil
}

// Flush logs a trailing line that was not terminated by a newline.
func (w *lineWriter) Flush() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	w.logger.Infof("[%s] %s", w.id, bytes.TrimRight(line, "\r"))
}
