package executor

import (
	"sync"
	"time"

	"github.com/zuluhq/zulu/pkg/log"
)

// DefaultAuditRingSize bounds the in-memory adapter audit log
const DefaultAuditRingSize = 1000

// FlushFunc receives drained audit entries, typically appending them to the
// hash-chained audit log
type FlushFunc func(entries []map[string]any)

// AuditRing is a fixed-size audit log with an optional flush callback.
// It prevents unbounded memory growth in long-running processes; when the
// ring is full the oldest entry is evicted and counted as overflow.
type AuditRing struct {
	mu       sync.Mutex
	entries  []map[string]any
	maxSize  int
	onFlush  FlushFunc
	overflow int
}

// NewAuditRing creates a ring of the given capacity
func NewAuditRing(maxSize int, onFlush FlushFunc) *AuditRing {
	if maxSize <= 0 {
		maxSize = DefaultAuditRingSize
	}
	return &AuditRing{maxSize: maxSize, onFlush: onFlush}
}

// Record appends an audit entry, stamping it with the current time
func (r *AuditRing) Record(event, taskID string, fields map[string]any) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"event":     event,
		"task_id":   taskID,
	}
	for k, v := range fields {
		entry[k] = v
	}

	r.mu.Lock()
	if len(r.entries) == r.maxSize {
		r.entries = r.entries[1:]
		r.overflow++
	}
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	logger := log.WithComponent("executor")
	logger.Info().
		Str("event", event).
		Str("task_id", taskID).
		Msg("audit")
}

// Entries returns a copy of the current entries without clearing
func (r *AuditRing) Entries() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]map[string]any, len(r.entries))
	copy(out, r.entries)
	return out
}

// Flush returns and clears entries, invoking the flush callback if set
func (r *AuditRing) Flush() []map[string]any {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	overflow := r.overflow
	r.overflow = 0
	onFlush := r.onFlush
	r.mu.Unlock()

	if onFlush != nil && len(entries) > 0 {
		onFlush(entries)
	}
	if overflow > 0 {
		logger := log.WithComponent("executor")
		logger.Warn().
			Int("dropped", overflow).
			Msg("audit ring overflow before flush")
	}
	return entries
}

// Len returns the number of buffered entries
func (r *AuditRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// HasFlushFunc reports whether a flush callback is configured
func (r *AuditRing) HasFlushFunc() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onFlush != nil
}
