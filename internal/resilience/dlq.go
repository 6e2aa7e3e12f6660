package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/prefetch/internal/model"
)

// DLQEntry is a session snapshot whose save failed and may be retried.
type DLQEntry struct {
	ID           string             `json:"id"`
	State        model.SessionState `json:"state"`
	Error        string             `json:"error"`
	ErrorType    string             `json:"error_type"` // "transient" or "permanent"
	RetryCount   int                `json:"retry_count"`
	MaxRetries   int                `json:"max_retries"`
	NextRetryAt  time.Time          `json:"next_retry_at"`
	CreatedAt    time.Time          `json:"created_at"`
	LastFailedAt time.Time          `json:"last_failed_at"`
}

// CanRetry reports whether the entry has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.ErrorType == "transient" && e.RetryCount < e.MaxRetries
}

// ClassifyError labels err "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// DLQ holds failed session writes in memory, one entry per session. A newer
// snapshot for the same session replaces the queued one.
type DLQ struct {
	mu         sync.Mutex
	entries    map[string]*DLQEntry // by session ID
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// NewDLQ creates a DLQ. Entries are retried up to maxRetries times, spaced
// by backoff times the retry count. A nil now uses time.Now.
func NewDLQ(maxRetries int, backoff time.Duration, now func() time.Time) *DLQ {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &DLQ{
		entries:    make(map[string]*DLQEntry),
		maxRetries: maxRetries,
		backoff:    backoff,
		now:        now,
	}
}

// Push records a failed save of state.
func (q *DLQ) Push(state model.SessionState, err error) *DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	e, ok := q.entries[state.SessionID]
	if !ok {
		e = &DLQEntry{ID: uuid.New().String(), MaxRetries: q.maxRetries, CreatedAt: now}
		q.entries[state.SessionID] = e
	} else {
		e.RetryCount++
	}
	e.State = state
	e.Error = err.Error()
	e.ErrorType = ClassifyError(err)
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(time.Duration(e.RetryCount+1) * q.backoff)
	return e
}

// Due removes and returns retryable entries whose NextRetryAt has passed,
// oldest first. Entries out of retries are dropped.
func (q *DLQ) Due() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []DLQEntry
	for id, e := range q.entries {
		if !e.CanRetry() {
			delete(q.entries, id)
			continue
		}
		if now.Before(e.NextRetryAt) {
			continue
		}
		due = append(due, *e)
		delete(q.entries, id)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due
}

// Requeue puts an entry back after another failed attempt.
func (q *DLQ) Requeue(e DLQEntry, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, newer := q.entries[e.State.SessionID]; newer {
		return
	}
	now := q.now()
	e.RetryCount++
	e.Error = err.Error()
	e.ErrorType = ClassifyError(err)
	e.LastFailedAt = now
	e.NextRetryAt = now.Add(time.Duration(e.RetryCount+1) * q.backoff)
	q.entries[e.State.SessionID] = &e
}

// Remove drops the entry for sessionID.
func (q *DLQ) Remove(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, sessionID)
}

// Len returns the number of queued entries.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// List returns a copy of the queued entries, oldest first.
func (q *DLQ) List() []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DLQEntry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
