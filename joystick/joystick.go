// Package joystick turns pointer gestures on a circular on-screen control
// into the command stream sent to the servo controller.
package joystick

import (
	"math"
	"time"

	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/servo"
)

// Config describes the control in its local coordinate space.
type Config struct {
	CenterX, CenterY float64
	// BaseRadius is R, HandleRadius is r. The handle centre can travel
	// BaseRadius-HandleRadius from the centre.
	BaseRadius   float64
	HandleRadius float64
	// Threshold is applied per axis; a component must exceed it strictly.
	Threshold float64
	// HoldInterval is the repeat period while the pointer is held still.
	HoldInterval time.Duration
	// FirstRepeat multiplies HoldInterval for the first repeat.
	FirstRepeat float64
}

func DefaultConfig() Config {
	return Config{
		CenterX:      100,
		CenterY:      100,
		BaseRadius:   80,
		HandleRadius: 20,
		Threshold:    20,
		HoldInterval: 100 * time.Millisecond,
		FirstRepeat:  1.5,
	}
}

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. The controller supplies one that runs f on
// its loop goroutine; time.AfterFunc works for single-goroutine use.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc wraps time.AfterFunc.
func StdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Clamp rescales (dx, dy) onto the circle of radius limit if it lies
// outside it.
func Clamp(dx, dy, limit float64) (float64, float64) {
	dist := math.Hypot(dx, dy)
	if dist > limit {
		scale := limit / dist
		dx *= scale
		dy *= scale
	}
	return dx, dy
}

// Direction derives the symbol for a displacement. Screen coordinates grow
// downwards, so negative dy is up.
func Direction(dx, dy, threshold float64) command.Symbol {
	var dir string
	if dy < -threshold {
		dir += "u"
	} else if dy > threshold {
		dir += "d"
	}
	if dx < -threshold {
		dir += "l"
	} else if dx > threshold {
		dir += "r"
	}
	return command.Symbol(dir)
}

// Mapper holds the joystick state. It is not safe for concurrent use: call
// it, and run its timers, from a single goroutine.
type Mapper struct {
	cfg   Config
	send  servo.Sender
	after AfterFunc

	handleX, handleY float64
	pressed          bool
	last             command.Symbol
	hold             bool
	repeat           Timer
	gen              int
}

func New(cfg Config, send servo.Sender, after AfterFunc) *Mapper {
	if after == nil {
		after = StdAfterFunc
	}
	return &Mapper{
		cfg:     cfg,
		send:    send,
		after:   after,
		handleX: cfg.CenterX,
		handleY: cfg.CenterY,
	}
}

// Handle returns the handle centre in local coordinates.
func (m *Mapper) Handle() (x, y float64) {
	return m.handleX, m.handleY
}

// Direction returns the last emitted direction and whether a hold is
// active.
func (m *Mapper) Direction() (command.Symbol, bool) {
	return m.last, m.hold
}

func (m *Mapper) PointerDown(x, y float64) {
	m.pressed = true
	m.PointerMove(x, y)
}

// PointerMove emits the direction once when it changes, then sends the
// current direction (neutral included) on every call.
func (m *Mapper) PointerMove(x, y float64) {
	if !m.pressed {
		return
	}
	dx, dy := Clamp(x-m.cfg.CenterX, y-m.cfg.CenterY, m.cfg.BaseRadius-m.cfg.HandleRadius)
	m.handleX, m.handleY = m.cfg.CenterX+dx, m.cfg.CenterY+dy

	dir := Direction(dx, dy, m.cfg.Threshold)
	m.cancelRepeat()
	var err error
	if dir != m.last {
		m.last = dir
		m.hold = dir != command.Neutral
		if m.hold {
			err = m.send.Send(dir)
		}
	}
	if serr := m.send.Send(dir); err == nil {
		err = serr
	}
	if err != nil {
		m.release()
		return
	}

	// A send may have reset us through the disconnect path.
	if m.hold && m.last == dir {
		m.scheduleRepeat(dir, m.firstDelay())
	}
}

// release drops the hold after a failed send so nothing repeats into a
// dead link. The next move starts a fresh direction edge.
func (m *Mapper) release() {
	m.last = command.Neutral
	m.hold = false
	m.cancelRepeat()
}

func (m *Mapper) PointerUp() {
	m.pressed = false
	m.Reset()
}

// Reset centres the handle, clears the direction and hold flag and cancels
// any pending repeat.
func (m *Mapper) Reset() {
	m.handleX, m.handleY = m.cfg.CenterX, m.cfg.CenterY
	m.last = command.Neutral
	m.hold = false
	m.cancelRepeat()
}

func (m *Mapper) firstDelay() time.Duration {
	return time.Duration(float64(m.cfg.HoldInterval) * m.cfg.FirstRepeat)
}

func (m *Mapper) cancelRepeat() {
	m.gen++
	if m.repeat != nil {
		m.repeat.Stop()
		m.repeat = nil
	}
}

func (m *Mapper) scheduleRepeat(dir command.Symbol, d time.Duration) {
	if m.cfg.HoldInterval <= 0 {
		return
	}
	gen := m.gen
	m.repeat = m.after(d, func() { m.fire(gen, dir) })
}

func (m *Mapper) fire(gen int, dir command.Symbol) {
	if gen != m.gen || !m.hold || m.last != dir {
		return
	}
	if err := m.send.Send(dir); err != nil {
		m.release()
		return
	}
	if gen == m.gen && m.hold && m.last == dir {
		m.scheduleRepeat(dir, m.cfg.HoldInterval)
	}
}
