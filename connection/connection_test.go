package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/link"
	"github.com/w1xm/servo_interface/servo"
)

type fakeConn struct {
	bytes.Buffer
	writeErr error
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.Buffer.Write(p)
}

func (f *fakeConn) Close() error { return nil }

type transitions struct {
	mu     sync.Mutex
	states []servo.ConnectionState
}

func (tr *transitions) record(state servo.ConnectionState, message string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.states = append(tr.states, state)
}

func (tr *transitions) get() []servo.ConnectionState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]servo.ConnectionState(nil), tr.states...)
}

func wait(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("open did not complete")
	}
	return nil
}

func TestOpenMissingEndpoint(t *testing.T) {
	ch := link.New(link.SerialOpener(9600, time.Second, 0))
	var tr transitions
	m := New(ch, Options{OnState: tr.record})

	result, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "ttyMissing"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = wait(t, result)
	var ce *servo.ConnectionError
	if !errors.As(err, &ce) || ce.Kind != servo.EndpointNotFound {
		t.Fatalf("open result = %v, want endpoint-not-found ConnectionError", err)
	}
	if got := m.State(); got != servo.Failed {
		t.Errorf("state = %v, want Failed", got)
	}
	if ch.IsOpen() {
		t.Error("channel open after failed connect")
	}
	want := []servo.ConnectionState{servo.Connecting, servo.Failed}
	if diff := cmp.Diff(tr.get(), want); diff != "" {
		t.Errorf("unexpected transitions: got(-)/want(+):\n%s", diff)
	}
}

func TestOpenHangingEndpoint(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	ch := link.New(func(string) (io.ReadWriteCloser, error) {
		<-block
		return nil, errors.New("unreachable")
	})
	m := New(ch, Options{OpenTimeout: 20 * time.Millisecond})
	result, err := m.Open(context.Background(), "/dev/rfcomm0")
	if err != nil {
		t.Fatal(err)
	}
	var ce *servo.ConnectionError
	if err := wait(t, result); !errors.As(err, &ce) || ce.Kind != servo.IOError {
		t.Fatalf("open result = %v, want I/O ConnectionError", err)
	}
	if got := m.State(); got != servo.Failed {
		t.Errorf("state = %v, want Failed", got)
	}
}

func TestOpenCloseLifecycle(t *testing.T) {
	conn := &fakeConn{}
	ch := link.New(func(string) (io.ReadWriteCloser, error) { return conn, nil })
	var tr transitions
	m := New(ch, Options{OnState: tr.record})
	resets := 0
	m.OnClose(func() {
		if ch.IsOpen() {
			t.Error("close hook ran before channel closed")
		}
		resets++
	})

	m.Close() // not connected: no-op
	result, err := m.Open(context.Background(), "/dev/ttyUSB0")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Open(context.Background(), "/dev/ttyUSB0"); !errors.Is(err, servo.ErrBusy) {
		t.Errorf("second Open = %v, want ErrBusy", err)
	}
	if err := wait(t, result); err != nil {
		t.Fatalf("open: %v", err)
	}
	if m.Session() == "" {
		t.Error("no session id while connected")
	}
	m.Close()
	m.Close()
	if resets != 1 {
		t.Errorf("close hooks ran %d times, want 1", resets)
	}
	want := []servo.ConnectionState{servo.Connecting, servo.Connected, servo.Disconnected}
	if diff := cmp.Diff(tr.get(), want); diff != "" {
		t.Errorf("unexpected transitions: got(-)/want(+):\n%s", diff)
	}
}

func TestSendFailureDisconnects(t *testing.T) {
	conn := &fakeConn{writeErr: io.ErrClosedPipe}
	ch := link.New(func(string) (io.ReadWriteCloser, error) { return conn, nil })
	var logs []string
	m := New(ch, Options{Log: func(msg string) { logs = append(logs, msg) }})
	result, _ := m.Open(context.Background(), "/dev/ttyUSB0")
	if err := wait(t, result); err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(command.Up); err == nil {
		t.Fatal("Send succeeded on failing connection")
	}
	if got := m.State(); got != servo.Disconnected {
		t.Errorf("state = %v, want Disconnected", got)
	}
	if err := ch.Send(command.Up); !errors.Is(err, servo.ErrNotConnected) {
		t.Errorf("Send after failure = %v, want ErrNotConnected", err)
	}
	if len(logs) == 0 {
		t.Error("failure was not logged")
	}
}
