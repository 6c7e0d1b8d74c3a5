package events

import (
	"io"
	"sync"
)

// Sink receives the events of a run in order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// BusSink publishes events to a Bus under a fixed topic.
type BusSink struct {
	Bus   *Bus
	Topic string
}

// Emit publishes e.
func (s BusSink) Emit(e Event) { s.Bus.Publish(s.Topic, e) }

// Multi fans events out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	var kept []Sink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range kept {
			s.Emit(e)
		}
	})
}

// Recorder keeps every emitted event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the event type of every recorded event.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

// JSONLines writes each event as one Marshal-ed line.
type JSONLines struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewJSONLines creates a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

// Emit writes e. After the first write error further events are dropped.
func (j *JSONLines) Emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return
	}
	line, err := Marshal(e)
	if err != nil {
		j.err = err
		return
	}
	line = append(line, '\n')
	_, j.err = j.w.Write(line)
}

// Err returns the first error encountered while writing.
func (j *JSONLines) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
