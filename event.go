package roadflow

import (
	"fmt"
	"reflect"
)

// Priority classes of events. Among events with equal timestamps lower priority fires first.
const (
	PRIORITY_DISCRETE           = 0
	PRIORITY_CONTROL            = 1
	PRIORITY_MACRO_STATE_UPDATE = 4
	PRIORITY_OUTPUT             = 5
	PRIORITY_STOP               = 9
)

// Event is a unit of work scheduled on the dispatcher. Action runs to
// completion and may register further events.
type Event interface {
	Timestamp() float64
	Priority() int
	Action(dispatcher *Dispatcher) error
}

// EventHandle references a registered event until it fires or is cancelled
type EventHandle struct {
	event     Event
	seq       uint64
	index     int
	cancelled bool
	fired     bool
}

func (h *EventHandle) Event() Event {
	return h.event
}

// Pending returns true while the event is neither fired nor cancelled
func (h *EventHandle) Pending() bool {
	return !h.cancelled && !h.fired
}

// eventName returns the event's type name used for logging and metrics
func eventName(ev Event) string {
	t := reflect.TypeOf(ev)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func describeEvent(ev Event) string {
	return fmt.Sprintf("%s at t=%g (priority %d)", eventName(ev), ev.Timestamp(), ev.Priority())
}

// eventQueue is a min-heap of handles ordered by timestamp, priority and registration sequence
type eventQueue []*EventHandle

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if ta, tb := a.event.Timestamp(), b.event.Timestamp(); ta != tb {
		return ta < tb
	}
	if pa, pb := a.event.Priority(), b.event.Priority(); pa != pb {
		return pa < pb
	}
	return a.seq < b.seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	h := x.(*EventHandle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}
