package roadflow

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	log       *[]string
	err       error
	then      func(d *Dispatcher) error
	name      string
	timestamp float64
	priority  int
}

func (ev *testEvent) Timestamp() float64 { return ev.timestamp }
func (ev *testEvent) Priority() int      { return ev.priority }

func (ev *testEvent) Action(d *Dispatcher) error {
	*ev.log = append(*ev.log, ev.name)
	if ev.err != nil {
		return ev.err
	}
	if ev.then != nil {
		return ev.then(d)
	}
	return nil
}

func TestDispatcherOrder(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0)
	_, err := d.RegisterEvent(&testEvent{log: &log, name: "A", timestamp: 5, priority: 1})
	require.NoError(t, err)
	_, err = d.RegisterEvent(&testEvent{log: &log, name: "B", timestamp: 5, priority: 4})
	require.NoError(t, err)
	_, err = d.RegisterEvent(&testEvent{log: &log, name: "C", timestamp: 3, priority: 9})
	require.NoError(t, err)

	require.NoError(t, d.DispatchEventsToStop())
	assert.Equal(t, []string{"C", "A", "B"}, log)
	assert.Equal(t, 5.0, d.CurrentTime())
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherFIFOOnTies(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0)
	for _, name := range []string{"first", "second", "third"} {
		_, err := d.RegisterEvent(&testEvent{log: &log, name: name, timestamp: 1, priority: PRIORITY_DISCRETE})
		require.NoError(t, err)
	}
	require.NoError(t, d.DispatchEventsToStop())
	assert.Equal(t, []string{"first", "second", "third"}, log)
}

func TestDispatcherEventRegistersEvents(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0, WithTrace())
	// Same timestamp registered from an action fires within the same dispatch
	_, err := d.RegisterEvent(&testEvent{log: &log, name: "parent", timestamp: 2, then: func(d *Dispatcher) error {
		_, err := d.RegisterEvent(&testEvent{log: &log, name: "child", timestamp: 2})
		return err
	}})
	require.NoError(t, err)
	require.NoError(t, d.DispatchEventsToStop())
	assert.Equal(t, []string{"parent", "child"}, log)
	assert.Len(t, d.Trace(), 2)
}

func TestDispatcherCancel(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0)
	keep, err := d.RegisterEvent(&testEvent{log: &log, name: "keep", timestamp: 1})
	require.NoError(t, err)
	drop, err := d.RegisterEvent(&testEvent{log: &log, name: "drop", timestamp: 2})
	require.NoError(t, err)

	assert.True(t, d.CancelEvent(drop))
	assert.False(t, d.CancelEvent(drop))
	assert.False(t, drop.Pending())
	require.NoError(t, d.DispatchEventsToStop())
	assert.Equal(t, []string{"keep"}, log)
	assert.False(t, keep.Pending())
	assert.False(t, d.CancelEvent(keep))
}

func TestDispatcherEventInPast(t *testing.T) {
	log := []string{}
	d := NewDispatcher(10)
	_, err := d.RegisterEvent(&testEvent{log: &log, name: "late", timestamp: 9})
	assert.True(t, errors.Is(err, ErrEventInPast))
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcherErrorStopsLoop(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0)
	failure := errors.New("boom")
	_, err := d.RegisterEvent(&testEvent{log: &log, name: "fails", timestamp: 1, err: failure})
	require.NoError(t, err)
	_, err = d.RegisterEvent(&testEvent{log: &log, name: "after", timestamp: 2})
	require.NoError(t, err)

	err = d.DispatchEventsToStop()
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure))
	assert.Equal(t, []string{"fails"}, log)
	assert.Equal(t, 1, d.Pending())
}

func TestDispatcherStopTime(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0)
	d.SetStopTime(5)
	_, err := d.RegisterEvent(NewEventStopSimulation(5))
	require.NoError(t, err)
	for _, ts := range []float64{1, 5, 7} {
		_, err = d.RegisterEvent(&testEvent{log: &log, name: "tick", timestamp: ts})
		require.NoError(t, err)
	}
	require.NoError(t, d.DispatchEventsToStop())
	assert.Len(t, log, 2)
	assert.Equal(t, 5.0, d.CurrentTime())
	// The event after the stop time waits for the next run
	assert.Equal(t, 1, d.Pending())

	d.SetStopTime(10)
	require.NoError(t, d.DispatchEventsToStop())
	assert.Len(t, log, 3)
	assert.Equal(t, 7.0, d.CurrentTime())
}

func TestDispatcherReset(t *testing.T) {
	log := []string{}
	d := NewDispatcher(0)
	h, err := d.RegisterEvent(&testEvent{log: &log, name: "dropped", timestamp: 3})
	require.NoError(t, err)
	d.Reset(1)
	assert.Equal(t, 0, d.Pending())
	assert.False(t, h.Pending())
	assert.Equal(t, 1.0, d.CurrentTime())
	require.NoError(t, d.DispatchEventsToStop())
	assert.Empty(t, log)
}
