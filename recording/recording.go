// Package recording captures transmitted commands with their timing and
// defines the durable form of a captured sequence.
package recording

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/w1xm/servo_interface/command"
)

// Event is one transmitted command. Time is in seconds relative to the
// first event of the recording.
type Event struct {
	Command command.Symbol `json:"command"`
	Time    float64        `json:"time"`
}

// Offset returns Time as a duration.
func (e Event) Offset() time.Duration {
	return time.Duration(e.Time * float64(time.Second))
}

// Recorder appends every command handed to it while armed.
type Recorder struct {
	mu     sync.Mutex
	armed  bool
	start  time.Time
	anchor time.Time
	events []Event
}

func New() *Recorder {
	return &Recorder{}
}

// Arm clears the buffer and starts capturing.
func (r *Recorder) Arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
	r.start = time.Now()
	r.anchor = time.Time{}
	r.events = nil
}

// Disarm freezes the buffer. It returns false if the recorder was not
// armed.
func (r *Recorder) Disarm() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return false
	}
	r.armed = false
	return true
}

func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Started returns when the recorder was last armed.
func (r *Recorder) Started() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start
}

// Append records sym transmitted at the given instant and returns the
// relative time it was stored with. The first event after Arm anchors the
// recording at time 0. Append is a no-op while disarmed.
func (r *Recorder) Append(sym command.Symbol, at time.Time) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.armed {
		return 0, false
	}
	var rel float64
	if len(r.events) == 0 {
		r.anchor = at
	} else {
		rel = at.Sub(r.anchor).Seconds()
	}
	r.events = append(r.events, Event{Command: sym, Time: rel})
	return rel, true
}

// Events returns a copy of the buffer.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Validate checks events loaded from storage: every command must be a
// known symbol and every time a finite non-negative number. Times need not
// be ordered; playback treats a backwards step as no delay.
func Validate(events []Event) error {
	for i, e := range events {
		if !e.Command.Valid() {
			return fmt.Errorf("event %d: unknown command %q", i, string(e.Command))
		}
		if math.IsNaN(e.Time) || math.IsInf(e.Time, 0) || e.Time < 0 {
			return fmt.Errorf("event %d: invalid time %v", i, e.Time)
		}
	}
	return nil
}

// Marshal encodes events in the durable form: a JSON array of
// {"command", "time"} objects indented by two spaces.
func Marshal(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return json.MarshalIndent(events, "", "  ")
}

// Unmarshal decodes and validates a durable recording.
func Unmarshal(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	if err := Validate(events); err != nil {
		return nil, err
	}
	return events, nil
}
