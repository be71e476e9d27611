package events

import "sync"

// Event represents a structured state change emitted by the swap engines.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter broadcasts events to downstream subscribers (e.g. HTTP gateway,
// audit log, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// EmitterFunc adapts an ordinary function to the Emitter interface.
type EmitterFunc func(*Event)

// Emit implements the Emitter interface.
func (f EmitterFunc) Emit(evt *Event) {
	if f != nil {
		f(evt)
	}
}

// Fanout forwards each event to every configured emitter in order.
type Fanout struct {
	emitters []Emitter
}

// NewFanout returns a Fanout over the supplied emitters. Nil entries are
// ignored.
func NewFanout(emitters ...Emitter) *Fanout {
	f := &Fanout{}
	for _, e := range emitters {
		if e != nil {
			f.emitters = append(f.emitters, e)
		}
	}
	return f
}

// Emit implements the Emitter interface.
func (f *Fanout) Emit(evt *Event) {
	if f == nil || evt == nil {
		return
	}
	for _, e := range f.emitters {
		e.Emit(evt)
	}
}

// Recorder retains the most recent events in memory. It is used by the
// gateway to expose a bounded event feed and by tests to assert emission
// ordering.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events []*Event
}

// NewRecorder returns a Recorder retaining up to limit events. A non-positive
// limit falls back to 1024.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 1024
	}
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt *Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
}

// Events returns a copy of the retained events in emission order.
func (r *Recorder) Events() []*Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}
