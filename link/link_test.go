package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/servo"
)

type NoopCloser struct {
	io.Reader
	mu       sync.Mutex
	write    bytes.Buffer
	writeErr error
	closed   bool
}

func (nc *NoopCloser) Write(p []byte) (n int, err error) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.writeErr != nil {
		return 0, nc.writeErr
	}
	return nc.write.Write(p)
}

func (nc *NoopCloser) Close() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.closed = true
	return nil
}

func (nc *NoopCloser) written() string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.write.String()
}

func openerFor(conn io.ReadWriteCloser) Opener {
	return func(string) (io.ReadWriteCloser, error) { return conn, nil }
}

func TestSendRecordsOnlyTransmitted(t *testing.T) {
	conn := &NoopCloser{Reader: bytes.NewReader(nil)}
	c := New(openerFor(conn))
	var got []command.Symbol
	c.SetSink(func(sym command.Symbol, at time.Time) {
		got = append(got, sym)
	})

	if err := c.Send(command.Up); !errors.Is(err, servo.ErrNotConnected) {
		t.Fatalf("Send while closed = %v, want ErrNotConnected", err)
	}
	if err := c.Open(context.Background(), "/dev/null"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, sym := range []command.Symbol{command.Up, command.UpLeft, command.Neutral, command.Center} {
		if err := c.Send(sym); err != nil {
			t.Fatalf("Send(%q): %v", sym, err)
		}
	}
	if diff := cmp.Diff(conn.written(), "uulc"); diff != "" {
		t.Errorf("unexpected bytes written: got(-)/want(+):\n%s", diff)
	}
	want := []command.Symbol{command.Up, command.UpLeft, command.Neutral, command.Center}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected sink events: got(-)/want(+):\n%s", diff)
	}
}

func TestSendFailureCallsHandlerWithoutLock(t *testing.T) {
	conn := &NoopCloser{Reader: bytes.NewReader(nil), writeErr: io.ErrClosedPipe}
	c := New(openerFor(conn))
	recorded := 0
	c.SetSink(func(command.Symbol, time.Time) { recorded++ })
	var failure error
	c.OnFailure(func(err error) {
		failure = err
		// Must not deadlock: the handler closes the channel.
		c.Close()
	})
	if err := c.Open(context.Background(), "/dev/null"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	err := c.Send(command.Right)
	var terr *servo.TransmissionError
	if !errors.As(err, &terr) || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Send = %v, want TransmissionError wrapping ErrClosedPipe", err)
	}
	if failure == nil {
		t.Error("failure handler not called")
	}
	if c.IsOpen() {
		t.Error("channel still open after failure")
	}
	if !conn.closed {
		t.Error("connection not closed")
	}
	if recorded != 0 {
		t.Errorf("sink saw %d events for a failed send, want 0", recorded)
	}
}

func TestOpenTimeout(t *testing.T) {
	release := make(chan struct{})
	conn := &NoopCloser{Reader: bytes.NewReader(nil)}
	c := New(func(string) (io.ReadWriteCloser, error) {
		<-release
		return conn, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Open(ctx, "/dev/slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open = %v, want DeadlineExceeded", err)
	}
	close(release)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		closed := conn.closed
		conn.mu.Unlock()
		if closed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !conn.closed {
		t.Error("late connection was not closed")
	}
	if c.IsOpen() {
		t.Error("channel open after timed out Open")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New(openerFor(&NoopCloser{Reader: bytes.NewReader(nil)}))
	if err := c.Close(); err != nil {
		t.Errorf("Close on closed channel: %v", err)
	}
	if err := c.Open(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background(), "x"); !errors.Is(err, servo.ErrBusy) {
		t.Errorf("second Open = %v, want ErrBusy", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.Close(); err != nil {
			t.Errorf("Close #%d: %v", i, err)
		}
	}
}
