package roadflow

import (
	"container/heap"
	"math"

	"github.com/pkg/errors"
)

var (
	ErrEventInPast = errors.New("event timestamp is before current time")
)

// Dispatcher executes events in causal order: by timestamp, then by priority,
// then in order of registration. It is not safe for concurrent use.
type Dispatcher struct {
	queue        eventQueue
	trace        []Event
	onDispatched func(ev Event)
	currentTime  float64
	stopTime     float64
	seq          uint64
	continueFlag bool
	recordTrace  bool
}

// WithTrace makes the dispatcher remember every fired event
func WithTrace() func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.recordTrace = true
	}
}

// WithDispatchHook sets a callback invoked after every successfully fired event
func WithDispatchHook(hook func(ev Event)) func(*Dispatcher) {
	return func(d *Dispatcher) {
		d.onDispatched = hook
	}
}

func NewDispatcher(startTime float64, options ...func(*Dispatcher)) *Dispatcher {
	d := &Dispatcher{
		queue:       make(eventQueue, 0),
		currentTime: startTime,
		stopTime:    math.Inf(1),
	}
	for _, option := range options {
		option(d)
	}
	return d
}

func (d *Dispatcher) CurrentTime() float64 {
	return d.currentTime
}

func (d *Dispatcher) StopTime() float64 {
	return d.stopTime
}

func (d *Dispatcher) SetStopTime(t float64) {
	d.stopTime = t
}

// Pending returns number of events waiting in the queue
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Trace returns fired events in firing order. Empty unless WithTrace is used.
func (d *Dispatcher) Trace() []Event {
	return d.trace
}

// Reset drops every pending event and moves the clock to startTime
func (d *Dispatcher) Reset(startTime float64) {
	for _, h := range d.queue {
		h.cancelled = true
		h.index = -1
	}
	d.queue = d.queue[:0]
	d.trace = nil
	d.currentTime = startTime
	d.stopTime = math.Inf(1)
	d.continueFlag = false
}

func (d *Dispatcher) RegisterEvent(ev Event) (*EventHandle, error) {
	ts := ev.Timestamp()
	if math.IsNaN(ts) {
		return nil, errors.Errorf("Event %s has no timestamp", eventName(ev))
	}
	if ts < d.currentTime {
		return nil, errors.Wrapf(ErrEventInPast, "%s, current time %g", describeEvent(ev), d.currentTime)
	}
	h := &EventHandle{
		event: ev,
		seq:   d.seq,
	}
	d.seq++
	heap.Push(&d.queue, h)
	return h, nil
}

// CancelEvent removes a pending event. It returns false when the event has already fired or been cancelled.
func (d *Dispatcher) CancelEvent(h *EventHandle) bool {
	if h == nil || !h.Pending() || h.index < 0 || h.index >= len(d.queue) || d.queue[h.index] != h {
		return false
	}
	heap.Remove(&d.queue, h.index)
	h.cancelled = true
	return true
}

// StopSimulation clears the continue flag: the dispatch loop exits after the current event
func (d *Dispatcher) StopSimulation() {
	d.continueFlag = false
}

// DispatchEventsToStop fires events until the queue is empty, the next event
// is later than the stop time or StopSimulation is called. An event later
// than the stop time stays queued.
func (d *Dispatcher) DispatchEventsToStop() error {
	d.continueFlag = true
	for d.continueFlag && len(d.queue) > 0 {
		if d.queue[0].event.Timestamp() > d.stopTime {
			break
		}
		h := heap.Pop(&d.queue).(*EventHandle)
		h.fired = true
		ev := h.event
		d.currentTime = ev.Timestamp()
		if err := ev.Action(d); err != nil {
			d.continueFlag = false
			return errors.Wrapf(err, "Event %s failed", describeEvent(ev))
		}
		if d.recordTrace {
			d.trace = append(d.trace, ev)
		}
		if d.onDispatched != nil {
			d.onDispatched(ev)
		}
	}
	d.continueFlag = false
	return nil
}
