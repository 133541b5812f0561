// Package bus implements the typed event dispatch queues shared by the
// System, Audio and UI FSMs. It mirrors the teacher's channel-plus-context
// idiom (see internal/app/player.go) but generalises it to an arbitrary
// closed set of typed events dispatched through one FIFO queue per FSM,
// matching the two-queue (system-and-audio, ui) topology.
package bus

import (
	"context"
	"errors"
	"time"
)

// Event is the marker interface implemented by every dispatchable event
// type. FSM packages define their own concrete event types and accept
// them through a type switch in their react method.
type Event interface {
	eventMarker()
}

// BaseEvent is embedded by concrete event types to satisfy Event.
type BaseEvent struct{}

func (BaseEvent) eventMarker() {}

// ErrQueueFull is returned by Dispatch when an internal event cannot be
// enqueued. Per spec, queue-full on an internal event is a structural bug
// and callers should treat it as fatal.
var ErrQueueFull = errors.New("bus: queue full")

// workItem is either a react(event) call or an arbitrary closure scheduled
// to run on the FSM's owning goroutine via RunOnTask.
type workItem struct {
	event Event
	fn    func()
}

// Queue is a bounded FIFO of work items serviced by exactly one goroutine
// (the FSM's "task"). It is safe to enqueue from any goroutine, including
// driver callback/interrupt-style contexts.
type Queue struct {
	items chan workItem
	react func(Event)
}

// NewQueue creates a queue with the given capacity. Capacity should be
// generous enough that internal events never see ErrQueueFull in normal
// operation; spec treats that as fatal.
func NewQueue(capacity int) *Queue {
	return &Queue{items: make(chan workItem, capacity)}
}

// enqueue pushes a work item, non-blocking. Returns false if the queue is
// full.
func (q *Queue) enqueue(w workItem) bool {
	select {
	case q.items <- w:
		return true
	default:
		return false
	}
}

// Service blocks up to timeout for one work item, executes it inline, and
// reports whether one ran. A zero timeout polls without blocking.
func (q *Queue) Service(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case w := <-q.items:
			q.run(w)
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w := <-q.items:
		q.run(w)
		return true
	case <-t.C:
		return false
	}
}

// Run services the queue until ctx is cancelled, blocking forever between
// items (the "internal dispatches use forever" rule from §5).
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-q.items:
			q.run(w)
		}
	}
}

func (q *Queue) run(w workItem) {
	if w.fn != nil {
		w.fn()
		return
	}
	if w.event != nil && q.react != nil {
		q.react(w.event)
	}
}

// Dispatcher binds a Queue to a concrete FSM's react function.
type Dispatcher struct {
	queue *Queue
	react func(Event)
}

// NewDispatcher creates a dispatcher over queue that calls react for every
// dispatched event.
func NewDispatcher(queue *Queue, react func(Event)) *Dispatcher {
	d := &Dispatcher{queue: queue, react: react}
	queue.react = react
	return d
}

// Dispatch enqueues a react call for event. Safe to call from any
// goroutine, including driver callbacks standing in for ISRs.
func (d *Dispatcher) Dispatch(event Event) bool {
	return d.queue.enqueue(workItem{event: event})
}

// MustDispatch dispatches event and panics on queue-full, matching the
// spec's "queue-full is fatal for internal events" rule. Use only for
// events the FSM itself generates (never for externally-sourced input).
func (d *Dispatcher) MustDispatch(event Event) {
	if !d.Dispatch(event) {
		panic(ErrQueueFull)
	}
}

// RunOnTask enqueues an arbitrary closure to run on the FSM's owning
// goroutine, used to synchronise with the task (e.g. touching bubbletea
// program state only from the UI task).
func (d *Dispatcher) RunOnTask(fn func()) bool {
	return d.queue.enqueue(workItem{fn: fn})
}
