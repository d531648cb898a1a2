package process

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/core-tools/hsu-service-wrapper/pkg/logging"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) infof(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func TestLineWriter(t *testing.T) {
	tests := []struct {
		name     string
		writes   []string
		expected []string
	}{
		{"single_line", []string{"hello\n"}, []string{"[svc] hello"}},
		{"split_across_writes", []string{"hel", "lo\nwor", "ld\n"}, []string{"[svc] hello", "[svc] world"}},
		{"crlf", []string{"a\r\nb\r\n"}, []string{"[svc] a", "[svc] b"}},
		{"trailing_partial_flushed", []string{"done\npartial"}, []string{"[svc] done", "[svc] partial"}},
		{"empty_line", []string{"\n"}, []string{"[svc] "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &lineRecorder{}
			w := newLineWriter("svc", logging.NewLogger("", logging.LogFuncs{Infof: rec.infof}))

			for _, chunk := range tt.writes {
				n, err := w.Write([]byte(chunk))
				assert.NoError(t, err)
				assert.Equal(t, len(chunk), n)
			}
			w.Flush()

			assert.Equal(t, tt.expected, rec.lines)
		})
	}
}

func TestLineWriter_OverlongLineIsSplit(t *testing.T) {
	rec := &lineRecorder{}
	w := newLineWriter("svc", logging.NewLogger("", logging.LogFuncs{Infof: rec.infof}))

	_, err := w.Write([]byte(strings.Repeat("x", maxOutputLine+10)))
	assert.NoError(t, err)
	w.Flush()

	assert.Len(t, rec.lines, 2)
}
