// Package link implements the command channel: the single live connection
// to the servo controller and the only path by which commands reach it.
package link

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/servo"
)

// Opener opens the endpoint named by an operator-supplied string.
type Opener func(endpoint string) (io.ReadWriteCloser, error)

// Sink observes every command that was actually written, in write order.
type Sink func(sym command.Symbol, at time.Time)

// SerialOpener opens a serial port. The servo controller resets when the
// port opens, so the opener waits settle before returning.
func SerialOpener(baud int, readTimeout, settle time.Duration) Opener {
	return func(endpoint string) (io.ReadWriteCloser, error) {
		c := &serial.Config{Name: endpoint, Baud: baud, ReadTimeout: readTimeout}
		s, err := serial.OpenPort(c)
		if err != nil {
			return nil, err
		}
		time.Sleep(settle)
		return s, nil
	}
}

// Channel serialises writes to the connection. Sends from the operator and
// from playback share its lock, so writes are never interleaved.
type Channel struct {
	open Opener
	now  func() time.Time

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	endpoint  string
	sink      Sink
	onFailure func(err error)
}

// New returns a closed channel.
func New(open Opener) *Channel {
	return &Channel{open: open, now: time.Now}
}

// SetSink installs the transmission observer. A nil sink disables it.
func (c *Channel) SetSink(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// OnFailure installs the function called, without the channel lock held,
// after a write fails. The connection manager uses it to disconnect.
func (c *Channel) OnFailure(f func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailure = f
}

// Open opens endpoint. If ctx ends first Open returns ctx.Err() and any
// connection that arrives later is closed.
func (c *Channel) Open(ctx context.Context, endpoint string) error {
	type result struct {
		conn io.ReadWriteCloser
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := c.open(endpoint)
		done <- result{conn, err}
	}()
	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		r.conn.Close()
		return servo.Invalid(servo.ErrBusy, c.endpoint)
	}
	c.conn = r.conn
	c.endpoint = endpoint
	return nil
}

// Close closes the connection. Closing a closed channel is a no-op.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.endpoint = ""
	return err
}

// IsOpen reports whether a connection is held.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes sym. A send on a closed channel fails with
// servo.ErrNotConnected without writing or notifying the sink. A write
// error is returned as a *servo.TransmissionError after the failure
// handler has run.
func (c *Channel) Send(sym command.Symbol) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return &servo.TransmissionError{Symbol: sym, Err: servo.ErrNotConnected}
	}
	if payload := sym.Payload(); len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			onFailure := c.onFailure
			c.mu.Unlock()
			terr := &servo.TransmissionError{Symbol: sym, Err: err}
			if onFailure != nil {
				onFailure(terr)
			}
			return terr
		}
	}
	// The sink runs under the lock so recorded order is write order.
	if c.sink != nil {
		c.sink(sym, c.now())
	}
	c.mu.Unlock()
	return nil
}
