// Package playback re-transmits a stored recording with its original
// inter-command timing.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/recording"
	"github.com/w1xm/servo_interface/servo"
)

// LoopPause is the shortest time a looping run takes per cycle. A recording
// whose events all share one timestamp would otherwise flood the link.
const LoopPause = 20 * time.Millisecond

// Transmit sends one command through the live link. It should give up when
// ctx ends.
type Transmit func(ctx context.Context, sym command.Symbol) error

// Source looks up recordings by name.
type Source interface {
	Get(name string) ([]recording.Event, bool)
}

type Options struct {
	// OnState is called on every Idle/Playing transition.
	OnState func(state servo.PlaybackState)
	// OnStop runs after playback is stopped early, by Stop or by a failed
	// transmission. It is not called when a recording plays to completion.
	OnStop func()
	Log    func(message string)
}

// Scheduler plays at most one recording at a time.
type Scheduler struct {
	src      Source
	transmit Transmit
	opts     Options

	mu     sync.Mutex
	state  servo.PlaybackState
	name   string
	run    int
	cancel context.CancelFunc
	done   chan struct{}
}

func New(src Source, transmit Transmit, opts Options) *Scheduler {
	done := make(chan struct{})
	close(done)
	return &Scheduler{src: src, transmit: transmit, opts: opts, done: done}
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.opts.Log != nil {
		s.opts.Log(fmt.Sprintf(format, args...))
	}
}

func (s *Scheduler) notify(state servo.PlaybackState) {
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
}

func (s *Scheduler) State() servo.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the name of the recording being played, or "".
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Done returns a channel closed when the most recent run has exited.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Play starts playing name on its own goroutine. With loop set the sequence
// restarts from its first event until stopped.
func (s *Scheduler) Play(name string, loop bool) error {
	s.mu.Lock()
	if s.state == servo.Playing {
		s.mu.Unlock()
		return servo.Invalid(servo.ErrAlreadyPlaying, s.name)
	}
	events, ok := s.src.Get(name)
	if !ok {
		s.mu.Unlock()
		return servo.Invalid(servo.ErrUnknownRecording, name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.run++
	run := s.run
	s.state = servo.Playing
	s.name = name
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	s.logf("Playing recording: %s", name)
	s.notify(servo.Playing)
	go func() {
		defer close(done)
		defer cancel()
		s.play(ctx, run, events, loop)
	}()
	return nil
}

func (s *Scheduler) play(ctx context.Context, run int, events []recording.Event, loop bool) {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		last := 0.0
		waited := false
		for _, e := range events {
			if delay := e.Time - last; delay > 0 {
				waited = true
				timer.Reset(time.Duration(delay * float64(time.Second)))
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			if ctx.Err() != nil {
				return
			}
			if err := s.transmit(ctx, e.Command); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logf("Playback error: %v", err)
				if s.finish(run) {
					s.stopped()
				}
				return
			}
			last = e.Time
		}
		if !loop || len(events) == 0 {
			break
		}
		if !waited {
			timer.Reset(LoopPause)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
	}
	if s.finish(run) {
		s.logf("Playback completed.")
	}
}

// finish moves run to Idle. It reports false if run was already stopped.
func (s *Scheduler) finish(run int) bool {
	s.mu.Lock()
	if s.run != run || s.state != servo.Playing {
		s.mu.Unlock()
		return false
	}
	s.state = servo.Idle
	s.name = ""
	s.cancel = nil
	s.mu.Unlock()
	s.notify(servo.Idle)
	return true
}

func (s *Scheduler) stopped() {
	if s.opts.OnStop != nil {
		s.opts.OnStop()
	}
}

// Stop ends playback. No further command of the run is transmitted once
// Stop returns. Stop reports false, and does nothing, when Idle.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if s.state != servo.Playing {
		s.mu.Unlock()
		return false
	}
	s.cancel()
	run := s.run
	s.mu.Unlock()

	s.logf("Stopping playback...")
	if s.finish(run) {
		s.stopped()
	}
	return true
}
