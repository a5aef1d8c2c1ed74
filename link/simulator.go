package link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SimulatorEndpoint is the endpoint name that selects the built-in
// simulator instead of a serial port.
const SimulatorEndpoint = "sim"

const (
	// Degrees moved per direction command.
	simStep = 5
	// Maximum slew rate in degrees/second.
	simMaxVel = 120
	// Discrete simulation step size.
	simTick = 25 * time.Millisecond
)

// SimulatorStatus is the simulated pan/tilt servo pair.
type SimulatorStatus struct {
	Pan, Tilt             float64
	TargetPan, TargetTilt float64
}

// Simulator emulates the servo controller firmware on the far side of a
// net.Pipe: every received byte nudges the pan/tilt targets and the servos
// slew towards them.
type Simulator struct {
	conn io.ReadWriteCloser

	mu       sync.Mutex
	status   SimulatorStatus
	received strings.Builder
}

// NewSimulator returns a simulator and the connection a Channel should use
// to talk to it.
func NewSimulator() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{
		conn:   a,
		status: SimulatorStatus{Pan: 90, Tilt: 90, TargetPan: 90, TargetTilt: 90},
	}, b
}

// WithSimulator returns an Opener that starts a simulator for
// SimulatorEndpoint and defers to next for every other endpoint.
func WithSimulator(ctx context.Context, next Opener) Opener {
	return func(endpoint string) (io.ReadWriteCloser, error) {
		if endpoint != SimulatorEndpoint {
			return next(endpoint)
		}
		sim, conn := NewSimulator()
		go func() {
			if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("simulator: %v", err)
			}
		}()
		return conn, nil
	}
}

// Run processes commands until the connection closes or ctx ends.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	t := time.NewTicker(simTick)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(func() error {
		// Unblock the reader when the stepper stops.
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(s.reader)
	err := g.Wait()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

func (s *Simulator) reader() error {
	br := bufio.NewReader(s.conn)
	for {
		b, err := br.ReadByte()
		if err != nil {
			// Always an error so the group stops the stepper.
			if errors.Is(err, io.ErrClosedPipe) {
				return io.EOF
			}
			return err
		}
		log.Printf("srv->sim: %c", b)
		s.apply(b)
	}
}

func clampAngle(v float64) float64 {
	return math.Max(0, math.Min(180, v))
}

func (s *Simulator) apply(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received.WriteByte(b)
	switch b {
	case 'u':
		s.status.TargetTilt = clampAngle(s.status.TargetTilt + simStep)
	case 'd':
		s.status.TargetTilt = clampAngle(s.status.TargetTilt - simStep)
	case 'l':
		s.status.TargetPan = clampAngle(s.status.TargetPan - simStep)
	case 'r':
		s.status.TargetPan = clampAngle(s.status.TargetPan + simStep)
	case 'c':
		s.status.TargetPan, s.status.TargetTilt = 90, 90
	default:
		log.Printf("simulator: unknown command %q", b)
	}
}

// slew moves pos towards target by at most one tick's worth of travel.
func slew(pos, target float64) float64 {
	delta := target - pos
	max := simMaxVel * simTick.Seconds()
	if math.Abs(delta) > max {
		delta = math.Copysign(max, delta)
	}
	return pos + delta
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Pan = slew(s.status.Pan, s.status.TargetPan)
	s.status.Tilt = slew(s.status.Tilt, s.status.TargetTilt)
}

// Status returns the current servo positions.
func (s *Simulator) Status() SimulatorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Received returns every byte the simulator has read, in order.
func (s *Simulator) Received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.String()
}
