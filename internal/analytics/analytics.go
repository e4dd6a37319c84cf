// Package analytics emits best-effort product events without blocking request handling.
package analytics

import (
	"strconv"
	"sync"

	"github.com/amplitude/analytics-go/amplitude"
	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 5
	defaultQueueSize = 256
)

// Sink delivers events; amplitude.Client satisfies it
type Sink interface {
	Track(event amplitude.Event)
	Shutdown()
}

// NewAmplitudeSink builds an Amplitude client for apiKey
func NewAmplitudeSink(apiKey string) Sink {
	return amplitude.NewClient(amplitude.NewConfig(apiKey))
}

// Tracker hands events to a fixed pool of workers. When the queue is full events are dropped.
type Tracker struct {
	sink   Sink
	jobs   chan amplitude.Event
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewTracker(sink Sink, workers int, logger *zap.Logger) *Tracker {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	t := &Tracker{
		sink:   sink,
		jobs:   make(chan amplitude.Event, defaultQueueSize),
		logger: logger,
	}

	t.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.work()
	}
	return t
}

// Track queues an event for userID; it never blocks and never fails the caller
func (t *Tracker) Track(event string, userID int64, props map[string]any) {
	ev := amplitude.Event{
		EventType:       event,
		EventOptions:    amplitude.EventOptions{UserID: strconv.FormatInt(userID, 10)},
		EventProperties: props,
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return
	}

	select {
	case t.jobs <- ev:
	default:
		t.logger.Warn("Analytics queue full, dropping event",
			zap.String("event", event),
			zap.Int64("user_id", userID),
		)
	}
}

func (t *Tracker) work() {
	defer t.wg.Done()
	for ev := range t.jobs {
		t.deliver(ev)
	}
}

func (t *Tracker) deliver(ev amplitude.Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Failed to send analytics event",
				zap.String("event", ev.EventType),
				zap.String("user_id", ev.EventOptions.UserID),
				zap.Any("panic", r),
			)
		}
	}()

	t.sink.Track(ev)
	t.logger.Debug("Analytics event sent",
		zap.String("event", ev.EventType),
		zap.String("user_id", ev.EventOptions.UserID),
	)
}

// Close drains queued events and flushes the sink
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.jobs)
	t.mu.Unlock()

	t.wg.Wait()
	t.sink.Shutdown()
}

// LogSink writes events to the log; used when no Amplitude key is configured
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Track(event amplitude.Event) {
	s.logger.Info("Analytics event",
		zap.String("event", event.EventType),
		zap.String("user_id", event.EventOptions.UserID),
		zap.Any("properties", event.EventProperties),
	)
}

func (s *LogSink) Shutdown() {}
