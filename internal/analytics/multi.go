package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// MultiSink fans each event out to several sinks in parallel. It exists for
// backend migrations: writes land in both the old and new store while reads
// are served by the first sink that supports them.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines the given sinks. Record reports the first write
// error but still attempts every sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Record writes the event to every sink concurrently.
func (s *MultiSink) Record(ctx context.Context, event Event) error {
	var g errgroup.Group
	for _, sink := range s.sinks {
		sink := sink
		g.Go(func() error {
			return sink.Record(ctx, event)
		})
	}
	return g.Wait()
}

// List delegates to the first sink that supports reads.
func (s *MultiSink) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	for _, sink := range s.sinks {
		if reader, ok := sink.(Reader); ok {
			return reader.List(ctx, from, to)
		}
	}
	return nil, ErrNotReadable
}

// Close closes every sink and returns the first error encountered.
func (s *MultiSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
