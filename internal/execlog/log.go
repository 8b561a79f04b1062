// Package execlog is the session transcript of invocation requests and
// their outcomes. Entries are only ever appended.
package execlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mpataki/geolaunch/internal/models"
)

// Sink mirrors entries somewhere else. A sink that returns an error is
// dropped and the log keeps going in memory only.
type Sink interface {
	Record(entry models.LogEntry) error
}

type Log struct {
	mu      sync.Mutex
	entries []models.LogEntry
	sink    Sink
	dropped bool
	subs    []chan models.LogEntry
	logger  *log.Logger
	now     func() time.Time
}

func New(sink Sink, logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Default()
	}
	return &Log{
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Append adds a plain text entry.
func (l *Log) Append(kind models.EntryKind, text string) models.LogEntry {
	return l.append(models.LogEntry{Kind: kind, Text: text})
}

func (l *Log) Appendf(kind models.EntryKind, format string, args ...any) models.LogEntry {
	return l.Append(kind, fmt.Sprintf(format, args...))
}

// AppendResult records a finished invocation.
func (l *Log) AppendResult(result *models.InvocationResult) models.LogEntry {
	text := fmt.Sprintf("%s finished with exit %d in %s", result.Operation, result.ExitCode, result.Duration().Round(time.Millisecond))
	if result.TimedOut {
		text = fmt.Sprintf("%s timed out after %s", result.Operation, result.Duration().Round(time.Millisecond))
	}
	return l.append(models.LogEntry{Kind: models.EntryResult, Text: text, Result: result})
}

func (l *Log) append(entry models.LogEntry) models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = len(l.entries) + 1
	entry.Time = l.now()
	l.entries = append(l.entries, entry)

	if l.sink != nil {
		if err := l.record(entry); err != nil {
			l.logger.Warn("execution log sink failed, continuing in memory", "error", err)
			l.sink = nil
			l.dropped = true
		}
	}

	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscriber; it can catch up from Snapshot.
		}
	}

	return entry
}

// record shields append from a panicking sink.
func (l *Log) record(entry models.LogEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return l.sink.Record(entry)
}

// Subscribe returns a channel that receives entries appended from now on.
// Delivery never blocks Append.
func (l *Log) Subscribe(buffer int) <-chan models.LogEntry {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.LogEntry, buffer)
	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()
	return ch
}

func (l *Log) Snapshot() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.LogEntry(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Degraded reports whether the mirror sink has been dropped.
func (l *Log) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Render formats one entry as transcript text.
func Render(e models.LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", e.Time.Format("15:04:05"))

	if e.Kind == models.EntryError {
		b.WriteString("Error: ")
	}
	b.WriteString(e.Text)

	if r := e.Result; r != nil {
		if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
			b.WriteString("\nOutput:\n")
			b.WriteString(out)
		}
		if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
			b.WriteString("\nErrors:\n")
			b.WriteString(errOut)
		}
	}

	return b.String()
}

// RenderAll joins every entry, one block per entry.
func RenderAll(entries []models.LogEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = Render(e)
	}
	return strings.Join(parts, "\n")
}
