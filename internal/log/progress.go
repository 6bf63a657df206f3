package log

import (
	"fmt"
	"log/slog"
	"sync"
)

// Progress is the append-only, human-readable log of a single job run.
// Each line is also emitted through the structured logger so it shows up in
// the agent's own log stream.
type Progress struct {
	mu     sync.Mutex
	lines  []string
	logger *slog.Logger
}

// NewProgress creates an empty progress log that mirrors entries to logger.
// A nil logger mirrors to the global logger.
func NewProgress(logger *slog.Logger) *Progress {
	if logger == nil {
		logger = Get()
	}
	return &Progress{logger: logger}
}

// Push appends a formatted line.
func (p *Progress) Push(format string, args ...any) {
	line := fmt.Sprintf(format, args...)

	p.mu.Lock()
	p.lines = append(p.lines, line)
	p.mu.Unlock()

	p.logger.Info(line)
}

// Lines returns a copy of all lines in insertion order.
func (p *Progress) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.lines))
	copy(out, p.lines)
	return out
}

// Len reports the number of lines recorded so far.
func (p *Progress) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lines)
}
