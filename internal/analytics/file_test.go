package analytics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFileSink_RecordAndList(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "events.jsonl")
	sink := newTestFileSink(t, path)
	ctx := context.Background()

	base := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)
	first := Event{ID: uuid.New(), Categories: []string{"anc", "opd"}, Total: 185000, RecordedAt: base}
	second := Event{ID: uuid.New(), Categories: []string{}, Total: 25000, RecordedAt: base.Add(time.Hour)}

	for _, event := range []Event{first, second} {
		if err := sink.Record(ctx, event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	events, err := sink.List(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	got := events[0]
	if got.ID != first.ID {
		t.Errorf("id: got %s, want %s", got.ID, first.ID)
	}
	if !slices.Equal(got.Categories, first.Categories) {
		t.Errorf("categories: got %v, want %v", got.Categories, first.Categories)
	}
	if got.Total != first.Total {
		t.Errorf("total: got %d, want %d", got.Total, first.Total)
	}
	if !got.RecordedAt.Equal(first.RecordedAt) {
		t.Errorf("recordedAt: got %v, want %v", got.RecordedAt, first.RecordedAt)
	}
}

func TestFileSink_ListSkipsCorruptLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := newTestFileSink(t, path)
	ctx := context.Background()

	valid := Event{
		ID:         uuid.New(),
		Categories: []string{"opd"},
		Total:      465000,
		RecordedAt: time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC),
	}
	if err := sink.Record(ctx, valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	corrupt := []string{
		"not json at all",
		`{"id":"` + uuid.NewString() + `"}`,
		`{"id":"` + uuid.NewString() + `","categories":[],"total":10,"recordedAt":"2026-03-05T10:00:00Z"}`,
		`{"id":"` + uuid.NewString() + `","categories":[],"total":30000,"recordedAt":"not-a-date"}`,
		`{"id":"` + uuid.NewString() + `","categories":[],"total":30000,"recordedAt":"2026-03-05T10:00:00Z","extra":true}`,
	}
	appendLines(t, path, corrupt)

	events, err := sink.List(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected only the valid event, got %d", len(events))
	}
	if events[0].ID != valid.ID {
		t.Fatalf("unexpected event survived: %+v", events[0])
	}
}

func TestFileSink_ListFiltersByRange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink := newTestFileSink(t, path)
	ctx := context.Background()

	base := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)
	for hour := 0; hour < 3; hour++ {
		event := Event{
			ID:         uuid.New(),
			Categories: []string{"opd"},
			Total:      25000,
			RecordedAt: base.Add(time.Duration(hour) * time.Hour),
		}
		if err := sink.Record(ctx, event); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	events, err := sink.List(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event in window, got %d", len(events))
	}
	if !events[0].RecordedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("wrong event in window: %v", events[0].RecordedAt)
	}
}

func TestFileSink_RecordAfterClose(t *testing.T) {
	t.Parallel()

	sink := newTestFileSink(t, filepath.Join(t.TempDir(), "events.jsonl"))
	if err := sink.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := sink.Record(context.Background(), Event{ID: uuid.New(), Categories: []string{}, Total: 25000, RecordedAt: time.Now()})
	if !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestFileSink_ReopenAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	ctx := context.Background()
	base := time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC)

	first := newTestFileSink(t, path)
	if err := first.Record(ctx, Event{ID: uuid.New(), Categories: []string{}, Total: 25000, RecordedAt: base}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := newTestFileSink(t, path)
	if err := second.Record(ctx, Event{ID: uuid.New(), Categories: []string{}, Total: 25000, RecordedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := second.List(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after reopen, got %d", len(events))
	}
}

func newTestFileSink(t *testing.T, path string) *FileSink {
	t.Helper()

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("failed to create file sink: %v", err)
	}
	t.Cleanup(func() {
		_ = sink.Close()
	})
	return sink
}

func appendLines(t *testing.T, path string, lines []string) {
	t.Helper()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("failed to open events file: %v", err)
	}
	defer file.Close()

	for _, line := range lines {
		if _, err := file.WriteString(line + "\n"); err != nil {
			t.Fatalf("failed to append line: %v", err)
		}
	}
}
