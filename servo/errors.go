package servo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"

	"github.com/w1xm/servo_interface/command"
)

// ConnectionErrorKind distinguishes the causes of a failed open.
type ConnectionErrorKind int

const (
	OtherError ConnectionErrorKind = iota
	EndpointNotFound
	IOError
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case EndpointNotFound:
		return "endpoint not found"
	case IOError:
		return "I/O error"
	}
	return "unexpected error"
}

// ConnectionError is reported when the endpoint cannot be opened.
type ConnectionError struct {
	Kind     ConnectionErrorKind
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	switch e.Kind {
	case EndpointNotFound:
		return fmt.Sprintf("serial port %q not found", e.Endpoint)
	case IOError:
		return fmt.Sprintf("serial port error: %v", e.Err)
	}
	return fmt.Sprintf("an unexpected error occurred: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ClassifyOpenError wraps an error returned while opening endpoint.
func ClassifyOpenError(endpoint string, err error) *ConnectionError {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return ce
	}
	kind := OtherError
	var pathErr *fs.PathError
	var errno syscall.Errno
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = EndpointNotFound
	case errors.As(err, &pathErr), errors.As(err, &errno),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		kind = IOError
	}
	return &ConnectionError{Kind: kind, Endpoint: endpoint, Err: err}
}

// ErrNotConnected is returned by a send attempted while the link is closed.
var ErrNotConnected = errors.New("not connected")

// TransmissionError is returned when a command could not be written.
type TransmissionError struct {
	Symbol command.Symbol
	Err    error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("sending %q: %v", string(e.Symbol), e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

// StorageError is returned when a recording cannot be saved, deleted or
// loaded.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s recordings: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s recording %q: %v", e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError rejects a request before any state is touched.
type ValidationError struct {
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%v: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// Validation reasons.
var (
	ErrEmptyName        = errors.New("recording name is empty")
	ErrInvalidName      = errors.New("invalid recording name")
	ErrEmptyRecording   = errors.New("recording is empty")
	ErrUnknownRecording = errors.New("recording not found")
	ErrAlreadyPlaying   = errors.New("already playing a recording")
	ErrBusy             = errors.New("connection already open or opening")
	ErrInvalidSymbol    = errors.New("invalid command")
	ErrRecordingActive  = errors.New("cannot record while playing")
)

// Invalid returns a ValidationError for reason.
func Invalid(reason error, detail string) error {
	return &ValidationError{Reason: reason, Detail: detail}
}
