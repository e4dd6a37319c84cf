package analytics

import (
	"sync"
	"testing"
	"time"

	"github.com/amplitude/analytics-go/amplitude"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu       sync.Mutex
	events   []amplitude.Event
	shutdown bool
	block    chan struct{}
	panicOn  string
}

func (r *recordingSink) Track(event amplitude.Event) {
	if r.block != nil {
		<-r.block
	}
	if event.EventType == r.panicOn {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
}

func TestTracker_DeliversEvents(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, 2, zap.NewNop())

	tr.Track("voice_message", 42, map[string]any{"kind": "voice"})
	tr.Track("text_message", 7, nil)
	tr.Close()

	require.Len(t, sink.events, 2)
	assert.True(t, sink.shutdown)

	byType := map[string]amplitude.Event{}
	for _, ev := range sink.events {
		byType[ev.EventType] = ev
	}
	assert.Equal(t, "42", byType["voice_message"].EventOptions.UserID)
	assert.Equal(t, "voice", byType["voice_message"].EventProperties["kind"])
	assert.Equal(t, "7", byType["text_message"].EventOptions.UserID)
}

func TestTracker_TrackNeverBlocks(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	tr := NewTracker(sink, 1, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize*2; i++ {
			tr.Track("flood", 1, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Track blocked on a stalled sink")
	}

	close(sink.block)
	tr.Close()
	assert.LessOrEqual(t, len(sink.events), defaultQueueSize+1)
}

func TestTracker_SinkPanicIsContained(t *testing.T) {
	sink := &recordingSink{panicOn: "bad"}
	tr := NewTracker(sink, 1, zap.NewNop())

	tr.Track("bad", 1, nil)
	tr.Track("good", 1, nil)
	tr.Close()

	require.Len(t, sink.events, 1)
	assert.Equal(t, "good", sink.events[0].EventType)
}

func TestTracker_TrackAfterClose(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(sink, 1, zap.NewNop())
	tr.Close()
	tr.Close()

	assert.NotPanics(t, func() { tr.Track("late", 1, nil) })
	assert.Empty(t, sink.events)
}

func TestLogSink_LogsUserID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tr := NewTracker(NewLogSink(zap.New(core)), 1, zap.New(core))

	tr.Track("voice_message", 42, map[string]any{"success": true})
	tr.Close()

	sunk := logs.FilterMessage("Analytics event").All()
	require.Len(t, sunk, 1)
	assert.Equal(t, "42", sunk[0].ContextMap()["user_id"])
	assert.Equal(t, "voice_message", sunk[0].ContextMap()["event"])

	sent := logs.FilterMessage("Analytics event sent").All()
	require.Len(t, sent, 1)
	assert.Equal(t, "42", sent[0].ContextMap()["user_id"])
}
