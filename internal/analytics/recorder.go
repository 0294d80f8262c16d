package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize = 256
	recordTimeout    = 5 * time.Second
)

// Recorder decouples request handling from sink latency. Publish enqueues
// without ever blocking the caller; a single background worker drains the
// queue into the sink. When the queue is full events are dropped with a
// warning, so delivery is at most once.
type Recorder struct {
	sink   Sink
	logger *zap.Logger

	queue chan Event
	quit  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// NewRecorder starts the background worker. A bufferSize of zero or less
// falls back to the default queue size.
func NewRecorder(sink Sink, bufferSize int, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultQueueSize
	}

	r := &Recorder{
		sink:   sink,
		logger: logger,
		queue:  make(chan Event, bufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish enqueues an event without blocking.
func (r *Recorder) Publish(event Event) {
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("analytics queue full, dropping event",
			zap.String("event_id", event.ID.String()),
		)
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for {
		select {
		case event := <-r.queue:
			r.record(event)
		case <-r.quit:
			for {
				select {
				case event := <-r.queue:
					r.record(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) record(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.sink.Record(ctx, event); err != nil {
		r.logger.Warn("failed to record usage event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
	}
}

// Close stops the worker, flushes queued events, and closes the sink.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
		err = r.sink.Close()
	})
	return err
}
