package analytics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSinkClosed indicates a write was attempted after Close.
	ErrSinkClosed = errors.New("analytics sink is closed")
	// ErrNotReadable indicates the sink cannot list stored events.
	ErrNotReadable = errors.New("analytics sink does not support reads")
)

// Event is one anonymized usage record.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Categories []string  `json:"categories"`
	Total      int       `json:"total"`
	RecordedAt time.Time `json:"recordedAt"`
}

// NewEvent builds an event from per-category usage flags and a claim total.
// Only categories flagged true are kept, sorted for stable output. The
// timestamp is normalized to UTC and truncated to the hour so events cannot
// be correlated with individual submissions.
func NewEvent(used map[string]bool, total int, at time.Time) Event {
	categories := make([]string, 0, len(used))
	for category, wasUsed := range used {
		if wasUsed {
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)

	return Event{
		ID:         uuid.New(),
		Categories: categories,
		Total:      total,
		RecordedAt: at.UTC().Truncate(time.Hour),
	}
}

// Sink appends usage events to a backing store.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// Reader lists stored events within [from, to). Zero bounds are open ended.
// Sinks that can be read back implement Reader in addition to Sink.
type Reader interface {
	List(ctx context.Context, from, to time.Time) ([]Event, error)
}

// NopSink discards every event.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }

// MemorySink keeps events in memory, guarded by a RWMutex. It backs tests
// and throwaway local runs.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the event.
func (s *MemorySink) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

// List returns a defensive copy of the stored events within [from, to).
func (s *MemorySink) List(_ context.Context, from, to time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.events))
	for _, event := range s.events {
		if inRange(event.RecordedAt, from, to) {
			out = append(out, event)
		}
	}
	return out, nil
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }

func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}
