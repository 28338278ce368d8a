package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/tally/internal/domain"
)

// MarkEvent describes one committed mark update, handed to the host
// application for real-time fan-out.
type MarkEvent struct {
	RequestID string
	ActorID   string
	SubjectID string
	Action    domain.MarkAction
	Counters  domain.Counters
	Timestamp time.Time
}

// EmitFunc receives committed mark events. Supplied by the host application.
type EmitFunc func(ctx context.Context, event MarkEvent)

// Emitter forwards committed mark events to the host, fire and forget. A
// failure in the hook must never roll back the counter update, so every
// emit runs in its own goroutine with panics contained.
type Emitter struct {
	emit  EmitFunc
	clock func() time.Time
}

// NewEmitter creates an emitter. A nil emit function yields a no-op emitter.
func NewEmitter(emit EmitFunc) *Emitter {
	return &Emitter{emit: emit, clock: time.Now}
}

// Emit forwards one event. It is a no-op when no hook is configured.
func (e *Emitter) Emit(ctx context.Context, event MarkEvent) {
	if e == nil || e.emit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		clock := e.clock
		if clock == nil {
			clock = time.Now
		}
		event.Timestamp = clock().UTC()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("mark event hook panicked: %v", r)
			}
		}()
		e.emit(context.WithoutCancel(ctx), event)
	}()
}
