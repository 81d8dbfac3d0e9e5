package backup

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber event queue length. A subscriber
// that falls further behind loses its oldest queued events, never the
// publisher's throughput.
const subscriberBuffer = 64

// streamGrace is how long a finished job's stream stays subscribable, so a
// client that connects just after the last device completes still sees the
// final snapshot.
const streamGrace = 30 * time.Second

// ProgressEvent is one update on a job's progress stream.
type ProgressEvent struct {
	Type      string     `json:"type"` // "job_started", "device_result", "job_complete", "job_failed"
	JobID     uuid.UUID  `json:"job_id"`
	DeviceID  *uuid.UUID `json:"device_id,omitempty"`
	Hostname  string     `json:"hostname,omitempty"`
	State     string     `json:"state,omitempty"`
	Error     string     `json:"error,omitempty"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Total     int        `json:"total"`
	At        time.Time  `json:"at"`
}

type subscriber struct {
	ch chan ProgressEvent
}

type jobStream struct {
	mu       sync.Mutex
	history  []ProgressEvent
	subs     map[*subscriber]struct{}
	terminal bool
}

// ProgressHub fans job progress events out to any number of watchers.
// Publishing never blocks on a slow subscriber.
type ProgressHub struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*jobStream
	grace time.Duration
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		jobs:  make(map[uuid.UUID]*jobStream),
		grace: streamGrace,
	}
}

// Open creates the stream for a job. It must be called before the first
// Publish so early subscribers never miss the job_started event.
func (h *ProgressHub) Open(jobID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.jobs[jobID]; !ok {
		h.jobs[jobID] = &jobStream{subs: make(map[*subscriber]struct{})}
	}
}

// Publish appends ev to the job's history and delivers it to all current
// subscribers. A subscriber whose queue is full loses its oldest event.
func (h *ProgressHub) Publish(jobID uuid.UUID, ev ProgressEvent) {
	h.mu.Lock()
	stream, ok := h.jobs[jobID]
	h.mu.Unlock()
	if !ok {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	if stream.terminal {
		return
	}
	stream.history = append(stream.history, ev)
	for sub := range stream.subs {
		deliver(sub.ch, ev)
	}
}

// deliver is a non-blocking send with drop-oldest overflow.
func deliver(ch chan ProgressEvent, ev ProgressEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns every event published so far plus a live channel for
// the rest. The channel is closed when the job reaches a terminal state.
// The returned cancel function must be called when the watcher goes away.
// ok is false when the job has no stream (unknown job, or its grace period
// has expired).
func (h *ProgressHub) Subscribe(jobID uuid.UUID) (snapshot []ProgressEvent, events <-chan ProgressEvent, cancel func(), ok bool) {
	h.mu.Lock()
	stream, exists := h.jobs[jobID]
	h.mu.Unlock()
	if !exists {
		return nil, nil, nil, false
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()

	snapshot = make([]ProgressEvent, len(stream.history))
	copy(snapshot, stream.history)

	sub := &subscriber{ch: make(chan ProgressEvent, subscriberBuffer)}
	if stream.terminal {
		close(sub.ch)
		return snapshot, sub.ch, func() {}, true
	}

	stream.subs[sub] = struct{}{}
	cancel = func() {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		if _, still := stream.subs[sub]; still {
			delete(stream.subs, sub)
			close(sub.ch)
		}
	}
	return snapshot, sub.ch, cancel, true
}

// Close marks the job's stream terminal: ev is delivered as the last event,
// all subscriber channels are closed, and the stream is garbage collected
// after the grace period.
func (h *ProgressHub) Close(jobID uuid.UUID, ev ProgressEvent) {
	h.mu.Lock()
	stream, ok := h.jobs[jobID]
	h.mu.Unlock()
	if !ok {
		return
	}

	stream.mu.Lock()
	if !stream.terminal {
		stream.terminal = true
		stream.history = append(stream.history, ev)
		for sub := range stream.subs {
			deliver(sub.ch, ev)
			close(sub.ch)
		}
		stream.subs = make(map[*subscriber]struct{})
	}
	stream.mu.Unlock()

	time.AfterFunc(h.grace, func() {
		h.mu.Lock()
		delete(h.jobs, jobID)
		h.mu.Unlock()
	})
}
