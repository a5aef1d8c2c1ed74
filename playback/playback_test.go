package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/recording"
	"github.com/w1xm/servo_interface/servo"
)

type source map[string][]recording.Event

func (s source) Get(name string) ([]recording.Event, bool) {
	e, ok := s[name]
	return e, ok
}

type sent struct {
	sym command.Symbol
	at  time.Duration
}

type recorder struct {
	mu    sync.Mutex
	start time.Time
	sent  []sent
	err   error
}

func (r *recorder) transmit(ctx context.Context, sym command.Symbol) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{sym, time.Since(r.start)})
	return nil
}

func (r *recorder) get() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

func (r *recorder) symbols() []command.Symbol {
	var syms []command.Symbol
	for _, s := range r.get() {
		syms = append(syms, s.sym)
	}
	return syms
}

type states struct {
	mu  sync.Mutex
	got []servo.PlaybackState
}

func (s *states) add(st servo.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, st)
}

func (s *states) get() []servo.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]servo.PlaybackState(nil), s.got...)
}

func wait(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}
}

func TestPlayTiming(t *testing.T) {
	src := source{"x": {
		{Command: command.Up, Time: 0},
		{Command: command.Right, Time: 0.2},
	}}
	rec := &recorder{start: time.Now()}
	st := &states{}
	stops := 0
	s := New(src, rec.transmit, Options{OnState: st.add, OnStop: func() { stops++ }})
	if err := s.Play("x", false); err != nil {
		t.Fatal(err)
	}
	if s.State() != servo.Playing || s.Current() != "x" {
		t.Errorf("after Play: state %v current %q", s.State(), s.Current())
	}
	wait(t, s)

	got := rec.get()
	if len(got) != 2 {
		t.Fatalf("sent %v, want 2 commands", got)
	}
	if got[0].sym != command.Up || got[1].sym != command.Right {
		t.Errorf("sent %v", got)
	}
	if gap := got[1].at - got[0].at; gap < 190*time.Millisecond || gap > time.Second {
		t.Errorf("gap between commands = %v, want ~200ms", gap)
	}
	if diff := cmp.Diff(st.get(), []servo.PlaybackState{servo.Playing, servo.Idle}); diff != "" {
		t.Errorf("states: got(-)/want(+):\n%s", diff)
	}
	if stops != 0 {
		t.Errorf("OnStop called %d times on completion", stops)
	}
}

func TestPlayRejects(t *testing.T) {
	src := source{"x": {{Command: command.Up, Time: 0}, {Command: command.Up, Time: 10}}}
	s := New(src, (&recorder{}).transmit, Options{})
	if err := s.Play("missing", false); !errors.Is(err, servo.ErrUnknownRecording) {
		t.Errorf("Play(missing) = %v, want ErrUnknownRecording", err)
	}
	if s.State() != servo.Idle {
		t.Errorf("state after rejected Play = %v", s.State())
	}
	if err := s.Play("x", false); err != nil {
		t.Fatal(err)
	}
	if err := s.Play("x", false); !errors.Is(err, servo.ErrAlreadyPlaying) {
		t.Errorf("second Play = %v, want ErrAlreadyPlaying", err)
	}
	s.Stop()
	wait(t, s)
}

func TestStopDuringWait(t *testing.T) {
	src := source{"x": {{Command: command.Up, Time: 0}, {Command: command.Down, Time: 0.5}}}
	rec := &recorder{start: time.Now()}
	stops := 0
	st := &states{}
	s := New(src, rec.transmit, Options{OnState: st.add, OnStop: func() { stops++ }})
	s.Play("x", false)
	time.Sleep(100 * time.Millisecond)
	if !s.Stop() {
		t.Fatal("Stop returned false while playing")
	}
	if s.State() != servo.Idle {
		t.Errorf("state after Stop = %v, want Idle", s.State())
	}
	wait(t, s)
	time.Sleep(500 * time.Millisecond)
	if diff := cmp.Diff(rec.symbols(), []command.Symbol{command.Up}); diff != "" {
		t.Errorf("sent after Stop: got(-)/want(+):\n%s", diff)
	}
	if stops != 1 {
		t.Errorf("OnStop called %d times, want 1", stops)
	}
	if diff := cmp.Diff(st.get(), []servo.PlaybackState{servo.Playing, servo.Idle}); diff != "" {
		t.Errorf("states: got(-)/want(+):\n%s", diff)
	}
}

func TestStopIdle(t *testing.T) {
	stops := 0
	s := New(source{}, (&recorder{}).transmit, Options{OnStop: func() { stops++ }})
	if s.Stop() {
		t.Error("Stop on idle scheduler returned true")
	}
	if stops != 0 {
		t.Error("Stop on idle scheduler ran OnStop")
	}
}

func TestLoopUntilStopped(t *testing.T) {
	src := source{"x": {{Command: command.Left, Time: 0}, {Command: command.Right, Time: 0.02}}}
	rec := &recorder{start: time.Now()}
	s := New(src, rec.transmit, Options{})
	s.Play("x", true)
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	wait(t, s)

	syms := rec.symbols()
	if len(syms) < 4 {
		t.Fatalf("looped playback sent only %v", syms)
	}
	for i, sym := range syms {
		want := command.Left
		if i%2 == 1 {
			want = command.Right
		}
		if sym != want {
			t.Fatalf("command %d = %v, want %v (all: %v)", i, sym, want, syms)
		}
	}
}

func TestEmptyRecordingEndsImmediately(t *testing.T) {
	st := &states{}
	s := New(source{"empty": nil}, (&recorder{}).transmit, Options{OnState: st.add})
	if err := s.Play("empty", true); err != nil {
		t.Fatal(err)
	}
	wait(t, s)
	if s.State() != servo.Idle {
		t.Errorf("state = %v, want Idle", s.State())
	}
	if diff := cmp.Diff(st.get(), []servo.PlaybackState{servo.Playing, servo.Idle}); diff != "" {
		t.Errorf("states: got(-)/want(+):\n%s", diff)
	}
}

func TestTransmitFailureStops(t *testing.T) {
	src := source{"x": {{Command: command.Up, Time: 0}, {Command: command.Down, Time: 0}}}
	rec := &recorder{err: servo.ErrNotConnected}
	stops := 0
	var logs []string
	s := New(src, rec.transmit, Options{
		OnStop: func() { stops++ },
		Log:    func(m string) { logs = append(logs, m) },
	})
	s.Play("x", true)
	wait(t, s)
	if s.State() != servo.Idle {
		t.Errorf("state = %v, want Idle", s.State())
	}
	if stops != 1 {
		t.Errorf("OnStop called %d times, want 1", stops)
	}
	want := []string{"Playing recording: x", "Playback error: not connected"}
	if diff := cmp.Diff(logs, want); diff != "" {
		t.Errorf("logs: got(-)/want(+):\n%s", diff)
	}
}

func TestOutOfOrderTimesDoNotWait(t *testing.T) {
	src := source{"x": {
		{Command: command.Up, Time: 0.1},
		{Command: command.Down, Time: 0.05},
		{Command: command.Center, Time: 0.1},
	}}
	rec := &recorder{start: time.Now()}
	s := New(src, rec.transmit, Options{})
	s.Play("x", false)
	wait(t, s)
	got := rec.get()
	if len(got) != 3 {
		t.Fatalf("sent %v", got)
	}
	if d := got[1].at - got[0].at; d > 30*time.Millisecond {
		t.Errorf("backwards step waited %v", d)
	}
}

func TestLoopWithoutGapsIsPaced(t *testing.T) {
	src := source{"x": {{Command: command.Up, Time: 0}}}
	rec := &recorder{start: time.Now()}
	s := New(src, rec.transmit, Options{})
	s.Play("x", true)
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	wait(t, s)

	n := len(rec.symbols())
	if limit := int(200*time.Millisecond/LoopPause) + 2; n < 2 || n > limit {
		t.Errorf("sent %d commands in 200ms, want between 2 and %d", n, limit)
	}
}
