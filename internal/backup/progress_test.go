package backup

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(n int) ProgressEvent {
	return ProgressEvent{Type: "device_result", Completed: n, At: time.Now().UTC()}
}

func TestSubscribeGetsSnapshotThenLive(t *testing.T) {
	hub := NewProgressHub()
	jobID := uuid.New()
	hub.Open(jobID)

	hub.Publish(jobID, event(1))
	hub.Publish(jobID, event(2))

	snapshot, events, cancel, ok := hub.Subscribe(jobID)
	require.True(t, ok)
	defer cancel()

	require.Len(t, snapshot, 2)
	assert.Equal(t, 1, snapshot[0].Completed)
	assert.Equal(t, 2, snapshot[1].Completed)

	hub.Publish(jobID, event(3))
	select {
	case ev := <-events:
		assert.Equal(t, 3, ev.Completed)
	case <-time.After(time.Second):
		t.Fatal("no live event delivered")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	hub := NewProgressHub()
	_, _, _, ok := hub.Subscribe(uuid.New())
	assert.False(t, ok)
}

func TestSlowSubscriberLosesOldestNotNewest(t *testing.T) {
	hub := NewProgressHub()
	jobID := uuid.New()
	hub.Open(jobID)

	_, events, cancel, ok := hub.Subscribe(jobID)
	require.True(t, ok)
	defer cancel()

	// Overfill the queue without draining it.
	total := subscriberBuffer + 10
	for i := 1; i <= total; i++ {
		hub.Publish(jobID, event(i))
	}

	first := <-events
	assert.Greater(t, first.Completed, 1, "oldest events should have been dropped")

	var last ProgressEvent
	for {
		select {
		case ev := <-events:
			last = ev
		default:
			assert.Equal(t, total, last.Completed, "newest event must survive")
			return
		}
	}
}

func TestCloseDeliversFinalEventAndClosesChannels(t *testing.T) {
	hub := NewProgressHub()
	jobID := uuid.New()
	hub.Open(jobID)

	_, events, cancel, ok := hub.Subscribe(jobID)
	require.True(t, ok)
	defer cancel()

	hub.Close(jobID, ProgressEvent{Type: "job_complete", State: "complete"})

	ev, open := <-events
	require.True(t, open)
	assert.Equal(t, "job_complete", ev.Type)

	_, open = <-events
	assert.False(t, open, "channel must be closed after the terminal event")
}

func TestSubscribeAfterCloseWithinGrace(t *testing.T) {
	hub := NewProgressHub()
	jobID := uuid.New()
	hub.Open(jobID)

	hub.Publish(jobID, event(1))
	hub.Close(jobID, ProgressEvent{Type: "job_complete"})

	snapshot, events, cancel, ok := hub.Subscribe(jobID)
	require.True(t, ok)
	defer cancel()

	require.Len(t, snapshot, 2)
	assert.Equal(t, "job_complete", snapshot[1].Type)

	_, open := <-events
	assert.False(t, open, "live channel of a finished job starts closed")
}

func TestStreamGarbageCollectedAfterGrace(t *testing.T) {
	hub := NewProgressHub()
	hub.grace = 10 * time.Millisecond

	jobID := uuid.New()
	hub.Open(jobID)
	hub.Close(jobID, ProgressEvent{Type: "job_complete"})

	assert.Eventually(t, func() bool {
		_, _, _, ok := hub.Subscribe(jobID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	hub := NewProgressHub()
	jobID := uuid.New()
	hub.Open(jobID)
	hub.Close(jobID, ProgressEvent{Type: "job_complete"})

	hub.Publish(jobID, event(99))

	snapshot, _, cancel, ok := hub.Subscribe(jobID)
	require.True(t, ok)
	defer cancel()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "job_complete", snapshot[0].Type)
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewProgressHub()
	jobID := uuid.New()
	hub.Open(jobID)

	_, events, cancel, ok := hub.Subscribe(jobID)
	require.True(t, ok)

	cancel()
	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	hub.Publish(jobID, event(1))
}
