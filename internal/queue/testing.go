package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryLog is an in-memory Log for tests and single-process deployments.
//
// MemoryLog is safe for concurrent use by multiple goroutines.
type MemoryLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []*memoryEntry
}

type memoryEntry struct {
	id        int64
	task      Task
	claimedBy string
	claimedAt time.Time
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	l.entries = append(l.entries, &memoryEntry{id: l.nextID, task: task})
	return nil
}

// Claim implements Log.
func (l *MemoryLog) Claim(_ context.Context, consumer string, limit int) ([]Claimed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var claimed []Claimed
	for _, e := range l.entries {
		if len(claimed) >= limit {
			break
		}
		if !e.claimedAt.IsZero() {
			continue
		}
		e.claimedBy = consumer
		e.claimedAt = time.Now()
		claimed = append(claimed, Claimed{
			EntryID: strconv.FormatInt(e.id, 10),
			Task:    e.task,
		})
	}
	return claimed, nil
}

// Ack implements Log.
func (l *MemoryLog) Ack(_ context.Context, entryID string) error {
	id, err := strconv.ParseInt(entryID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entry ID %q: %w", entryID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// ReclaimStale implements Log.
func (l *MemoryLog) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	released := 0
	for _, e := range l.entries {
		if !e.claimedAt.IsZero() && e.claimedAt.Before(cutoff) {
			e.claimedBy = ""
			e.claimedAt = time.Time{}
			released++
		}
	}
	return released, nil
}

// Len implements Log.
func (l *MemoryLog) Len(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), nil
}

// ClaimedLen implements Log.
func (l *MemoryLog) ClaimedLen(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if !e.claimedAt.IsZero() {
			n++
		}
	}
	return n, nil
}

// ExpireClaims backdates every live claim so the next ReclaimStale releases
// them. Test helper.
func (l *MemoryLog) ExpireClaims(by time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if !e.claimedAt.IsZero() {
			e.claimedAt = e.claimedAt.Add(-by)
		}
	}
}

// MemoryDeadLetters is an in-memory DeadLetters.
//
// MemoryDeadLetters is safe for concurrent use by multiple goroutines.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	nextID  int64
	entries []DeadLetter
}

// NewMemoryDeadLetters creates an empty MemoryDeadLetters.
func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

// Add implements DeadLetters.
func (d *MemoryDeadLetters) Add(_ context.Context, entry DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	entry.EntryID = strconv.FormatInt(d.nextID, 10)
	d.entries = append(d.entries, entry)
	return nil
}

// List implements DeadLetters.
func (d *MemoryDeadLetters) List(_ context.Context, limit int) ([]DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := min(limit, len(d.entries))
	out := make([]DeadLetter, n)
	copy(out, d.entries[:n])
	return out, nil
}

// Get implements DeadLetters.
func (d *MemoryDeadLetters) Get(_ context.Context, entryID string) (DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.entries {
		if e.EntryID == entryID {
			return e, nil
		}
	}
	return DeadLetter{}, fmt.Errorf("%w: %s", ErrDLQEntryNotFound, entryID)
}

// Remove implements DeadLetters.
func (d *MemoryDeadLetters) Remove(_ context.Context, entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.entries {
		if e.EntryID == entryID {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Purge implements DeadLetters.
func (d *MemoryDeadLetters) Purge(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.entries)
	d.entries = nil
	return n, nil
}

// Len implements DeadLetters.
func (d *MemoryDeadLetters) Len(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries), nil
}

// MemoryResults is an in-memory Results.
//
// MemoryResults is safe for concurrent use by multiple goroutines.
type MemoryResults struct {
	mu    sync.Mutex
	slots map[string]memoryResult
}

type memoryResult struct {
	result    Result
	expiresAt time.Time
}

// NewMemoryResults creates an empty MemoryResults.
func NewMemoryResults() *MemoryResults {
	return &MemoryResults{slots: make(map[string]memoryResult)}
}

// Put implements Results.
func (r *MemoryResults) Put(_ context.Context, taskID string, result Result, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[taskID] = memoryResult{result: result, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Take implements Results.
func (r *MemoryResults) Take(_ context.Context, taskID string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, ok := r.slots[taskID]
	if !ok {
		return nil, nil
	}
	delete(r.slots, taskID)
	if time.Now().After(slot.expiresAt) {
		return nil, nil
	}
	result := slot.result
	return &result, nil
}
