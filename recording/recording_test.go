package recording

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/w1xm/servo_interface/command"
)

func TestRecorderTiming(t *testing.T) {
	r := New()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, ok := r.Append(command.Up, t0); ok {
		t.Error("Append recorded while disarmed")
	}
	r.Arm()
	r.Append(command.Up, t0.Add(3*time.Second))
	r.Append(command.Right, t0.Add(3500*time.Millisecond))
	r.Append(command.UpLeft, t0.Add(4*time.Second))
	if !r.Disarm() {
		t.Error("Disarm on armed recorder returned false")
	}
	if r.Disarm() {
		t.Error("second Disarm returned true")
	}
	r.Append(command.Down, t0.Add(5*time.Second))

	want := []Event{{command.Up, 0}, {command.Right, 0.5}, {command.UpLeft, 1}}
	if diff := cmp.Diff(r.Events(), want, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("unexpected events: got(-)/want(+):\n%s", diff)
	}

	r.Arm()
	if r.Len() != 0 {
		t.Errorf("Arm did not clear the buffer: %v", r.Events())
	}
}

func TestRecorderCountsEverySend(t *testing.T) {
	r := New()
	r.Arm()
	now := time.Now()
	syms := []command.Symbol{command.Up, command.Up, command.Neutral, command.DownRight, command.Center}
	for i, sym := range syms {
		r.Append(sym, now.Add(time.Duration(i)*10*time.Millisecond))
	}
	events := r.Events()
	if len(events) != len(syms) {
		t.Fatalf("len = %d, want %d", len(events), len(syms))
	}
	if events[0].Time != 0 {
		t.Errorf("first event time = %v, want 0", events[0].Time)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	events := []Event{{command.Up, 0}, {command.UpRight, 0.25}, {command.Neutral, 0.3}, {command.Center, 1.125}}
	data, err := Marshal(events)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal(%s): %v", data, err)
	}
	if diff := cmp.Diff(got, events, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("round trip changed events: got(-)/want(+):\n%s", diff)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	for _, input := range []string{
		`{"command": "u"}`,
		`[{"command": "x", "time": 0}]`,
		`[{"command": "u", "time": -1}]`,
		`[{"command": "u", "time": "soon"}]`,
		`not json`,
	} {
		if _, err := Unmarshal([]byte(input)); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", input)
		}
	}
	// Out of order times are tolerated.
	if _, err := Unmarshal([]byte(`[{"command":"u","time":1},{"command":"d","time":0.5}]`)); err != nil {
		t.Errorf("Unmarshal out-of-order: %v", err)
	}
}
