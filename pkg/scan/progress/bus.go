// Package progress fans scan events out from the orchestrator to
// subscribers with per-job sequencing and best-effort delivery.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbsentinel/piiscan/pkg/scan"
)

// EventType identifies a scan event variant.
type EventType string

const (
	EventPhaseChanged    EventType = "PhaseChanged"
	EventColumnStarted   EventType = "ColumnStarted"
	EventColumnCompleted EventType = "ColumnCompleted"
	EventPiiDetected     EventType = "PiiDetected"
	EventQiGroupFormed   EventType = "QiGroupFormed"
	EventProgressUpdated EventType = "ProgressUpdated"
	EventScanCompleted   EventType = "ScanCompleted"
	EventScanFailed      EventType = "ScanFailed"
)

// Event is one scan progress notification. Sequence numbers increase
// monotonically per job so subscribers can detect dropped events.
type Event struct {
	JobID     string         `json:"jobId"`
	Sequence  uint64         `json:"sequence"`
	Type      EventType      `json:"type"`
	Phase     scan.Phase     `json:"phase,omitempty"`
	Column    string         `json:"column,omitempty"`
	PiiType   string         `json:"piiType,omitempty"`
	Message   string         `json:"message,omitempty"`
	Progress  float64        `json:"progress,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FirehoseID subscribes to events from every job.
const FirehoseID = "*"

// defaultBufferSize is the per-subscriber channel depth before drops begin.
const defaultBufferSize = 256

type subscriber struct {
	jobID string
	ch    chan Event
}

// Bus is the process-wide progress bus: one publisher (the orchestrator),
// many subscribers. Delivery is best-effort; a full subscriber buffer drops
// the event for that subscriber only and increments the drop counter.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	sequences   map[string]*uint64
	bufferSize  int
	dropped     atomic.Uint64
	onDrop      func()
}

// OnDrop installs a callback invoked for every dropped event, typically a
// metrics counter. Must be set before the bus is shared.
func (b *Bus) OnDrop(fn func()) {
	b.onDrop = fn
}

// NewBus creates a progress bus with the default subscriber buffer size.
func NewBus() *Bus {
	return NewBusWithBuffer(defaultBufferSize)
}

// NewBusWithBuffer creates a progress bus with a custom buffer size.
func NewBusWithBuffer(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		sequences:   make(map[string]*uint64),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers for events of one job, or all jobs with FirehoseID.
// The returned cancel function unregisters and closes the channel.
func (b *Bus) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Event, b.bufferSize)}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish assigns the event its per-job sequence number and delivers it to
// matching subscribers. Never blocks: events to full subscribers are dropped.
func (b *Bus) Publish(event Event) {
	event.Timestamp = time.Now().UTC()

	b.mu.Lock()
	seq, ok := b.sequences[event.JobID]
	if !ok {
		seq = new(uint64)
		b.sequences[event.JobID] = seq
	}
	*seq++
	event.Sequence = *seq

	// Delivery happens under the lock so subscribers observe sequence
	// numbers in order. Sends never block: a full buffer drops the event
	// for that subscriber only.
	for sub := range b.subscribers {
		if sub.jobID != FirehoseID && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
	b.mu.Unlock()
}

// Dropped returns the total number of events dropped across subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Forget releases the sequence counter of a finished job.
func (b *Bus) Forget(jobID string) {
	b.mu.Lock()
	delete(b.sequences, jobID)
	b.mu.Unlock()
}
