// Package connection manages the lifecycle of the command channel: opening
// it off the caller's goroutine, closing it, and reporting every state
// transition.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/w1xm/servo_interface/link"
	"github.com/w1xm/servo_interface/servo"
)

// DefaultOpenTimeout bounds an open attempt so that a hanging endpoint ends
// in Failed instead of Connecting forever.
const DefaultOpenTimeout = 10 * time.Second

type StateCallback func(state servo.ConnectionState, message string)

type Options struct {
	OpenTimeout time.Duration
	// Post delivers open results to the goroutine that owns observable
	// state. Nil runs them on the opening goroutine.
	Post func(func())
	// OnState is called for every transition.
	OnState StateCallback
	// Log receives human readable progress and error messages.
	Log func(message string)
}

// Manager owns the connection state. It never retries on its own.
type Manager struct {
	ch   *link.Channel
	opts Options

	mu       sync.Mutex
	state    servo.ConnectionState
	endpoint string
	session  string
	closing  bool
	onClose  []func()
}

// New returns a Disconnected manager for ch. A write failure on ch closes
// the connection through the same path as Close.
func New(ch *link.Channel, opts Options) *Manager {
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.Post == nil {
		opts.Post = func(f func()) { f() }
	}
	m := &Manager{ch: ch, opts: opts}
	ch.OnFailure(func(err error) {
		m.logf("Error sending command: %v", err)
		m.Close()
	})
	return m
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.opts.Log != nil {
		m.opts.Log(fmt.Sprintf(format, args...))
	}
}

// OnClose registers f to run after every successful Close, once the state
// is Disconnected.
func (m *Manager) OnClose(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, f)
}

// State returns the current connection state.
func (m *Manager) State() servo.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Endpoint returns the endpoint of the current or last attempted connection.
func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Session returns an identifier unique to the current connection, or "" if
// not connected.
func (m *Manager) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) transition(state servo.ConnectionState, message string) {
	m.mu.Lock()
	m.state = state
	if state != servo.Connected {
		m.session = ""
	}
	m.mu.Unlock()
	if message != "" {
		m.logf("%s", message)
	}
	if m.opts.OnState != nil {
		m.opts.OnState(state, message)
	}
}

// Open starts connecting to endpoint and returns immediately. The returned
// channel receives nil once Connected, or a *servo.ConnectionError once
// Failed. Open is rejected while another open is in flight or a
// connection is held.
func (m *Manager) Open(ctx context.Context, endpoint string) (<-chan error, error) {
	m.mu.Lock()
	if m.state == servo.Connecting || m.state == servo.Connected {
		m.mu.Unlock()
		return nil, servo.Invalid(servo.ErrBusy, endpoint)
	}
	m.endpoint = endpoint
	m.mu.Unlock()
	m.transition(servo.Connecting, fmt.Sprintf("Connecting to %s...", endpoint))

	result := make(chan error, 1)
	go func() {
		octx, cancel := context.WithTimeout(ctx, m.opts.OpenTimeout)
		defer cancel()
		err := m.ch.Open(octx, endpoint)
		m.opts.Post(func() { m.finishOpen(endpoint, err, result) })
	}()
	return result, nil
}

func (m *Manager) finishOpen(endpoint string, err error, result chan<- error) {
	if err != nil {
		ce := servo.ClassifyOpenError(endpoint, err)
		m.transition(servo.Failed, ce.Error())
		result <- ce
		return
	}
	m.mu.Lock()
	m.session = uuid.New().String()
	m.mu.Unlock()
	m.transition(servo.Connected, fmt.Sprintf("Connected to %s.", endpoint))
	result <- nil
}

// Close disconnects. It is a no-op unless Connected. The channel is closed
// before the state becomes Disconnected.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state != servo.Connected || m.closing {
		m.mu.Unlock()
		return
	}
	m.closing = true
	hooks := append([]func(){}, m.onClose...)
	m.mu.Unlock()

	message := "Connection closed."
	if err := m.ch.Close(); err != nil {
		message = fmt.Sprintf("Error closing connection: %v", err)
	}
	m.mu.Lock()
	m.state = servo.Disconnected
	m.session = ""
	m.closing = false
	m.mu.Unlock()
	for _, f := range hooks {
		f()
	}
	m.logf("%s", message)
	if m.opts.OnState != nil {
		m.opts.OnState(servo.Disconnected, message)
	}
}
