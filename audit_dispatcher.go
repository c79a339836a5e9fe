package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// auditDispatcher decouples request paths from sink latency: events go into
// a buffered channel consumed by a single goroutine, and a full buffer drops
// the event and bumps a counter instead of blocking.
type auditDispatcher struct {
	sink    AuditSink
	events  chan AuditEvent
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

func newAuditDispatcher(sink AuditSink, buffer int) *auditDispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	d := &auditDispatcher{
		sink:   sink,
		events: make(chan AuditEvent, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		d.sink.Emit(event)
	}
}

func (d *auditDispatcher) emit(event AuditEvent) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (d *auditDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// close stops the dispatcher after draining queued events.
func (d *auditDispatcher) close() {
	d.closeOnce.Do(func() {
		close(d.events)
		<-d.done
	})
}
