// Package transcript keeps the terminal log shown by opsdeck surfaces:
// an append-only, bounded, in-memory record of executed commands and
// their results. It is owned by whoever constructs it and shared
// explicitly; nothing is persisted.
package transcript

import (
	"sync"
	"time"

	"github.com/deixis/opsdeck/internal/runner"
)

// DefaultWelcome is the banner printed above the first entry.
const DefaultWelcome = "Welcome to the opsdeck operations terminal.\nSelect an operation to begin.\nCommand output will appear here."

// Entry is one executed command as recorded in the transcript.
type Entry struct {
	Seq        int64     `json:"seq"`
	Operation  string    `json:"operation,omitempty"` // empty for raw commands
	Source     string    `json:"source,omitempty"`    // cli, web, mcp
	RecordedAt time.Time `json:"recorded_at"`
	runner.Result
}

// Log is an append-only transcript. It is safe for concurrent use.
type Log struct {
	// order serializes Append so watchers see entries in Seq order.
	order    sync.Mutex
	mu       sync.RWMutex
	welcome  string
	limit    int
	seq      int64
	entries  []Entry
	watchers map[int]func(Entry)
	nextW    int
}

// New creates a Log that keeps at most limit entries, dropping the
// oldest first. A limit of 0 or less keeps everything.
func New(welcome string, limit int) *Log {
	return &Log{
		welcome:  welcome,
		limit:    limit,
		watchers: make(map[int]func(Entry)),
	}
}

// Append records e, assigning its sequence number, and notifies watchers.
// Watchers are called in Seq order.
func (l *Log) Append(e Entry) Entry {
	l.order.Lock()
	defer l.order.Unlock()

	l.mu.Lock()
	l.seq++
	e.Seq = l.seq
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		drop := len(l.entries) - l.limit
		l.entries = append(l.entries[:0:0], l.entries[drop:]...)
	}
	watchers := make([]func(Entry), 0, len(l.watchers))
	for _, fn := range l.watchers {
		watchers = append(watchers, fn)
	}
	l.mu.Unlock()

	for _, fn := range watchers {
		fn(e)
	}
	return e
}

// Watch registers fn to be called after every Append. The returned
// function unregisters it. fn must not block or call Append.
func (l *Log) Watch(fn func(Entry)) (cancel func()) {
	l.mu.Lock()
	id := l.nextW
	l.nextW++
	l.watchers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.watchers, id)
		l.mu.Unlock()
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Snapshot returns a copy of the retained entries together with the
// last assigned sequence number. Watchers receive only entries with a
// greater Seq once the snapshot is taken.
func (l *Log) Snapshot() ([]Entry, int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, l.seq
}

// Last returns up to n of the most recent entries, oldest first.
func (l *Log) Last(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Get returns the retained entry for runID.
func (l *Log) Get(runID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].RunID == runID {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops all entries. Sequence numbers keep increasing.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Welcome returns the banner text.
func (l *Log) Welcome() string {
	return l.welcome
}
