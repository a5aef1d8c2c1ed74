// Package servo holds the contract shared by the controller components and
// the presentation layer: state enums, the observer callbacks and the error
// taxonomy.
package servo

import "github.com/w1xm/servo_interface/command"

// Sender transmits a command over the live link.
type Sender interface {
	Send(sym command.Symbol) error
}

// ConnectionState is owned by the connection manager.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// PlaybackState is owned by the playback scheduler.
type PlaybackState int

const (
	Idle PlaybackState = iota
	Playing
)

func (s PlaybackState) String() string {
	if s == Playing {
		return "Playing"
	}
	return "Idle"
}

// Observer is everything the presentation layer receives. All methods are
// called from the controller's loop goroutine, one at a time, and must not
// block.
type Observer interface {
	ConnectionStateChanged(state ConnectionState, message string)
	Log(message string)
	RecordingsChanged(names []string)
	PlaybackStateChanged(state PlaybackState)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	OnConnection func(state ConnectionState, message string)
	OnLog        func(message string)
	OnRecordings func(names []string)
	OnPlayback   func(state PlaybackState)
}

func (o ObserverFuncs) ConnectionStateChanged(state ConnectionState, message string) {
	if o.OnConnection != nil {
		o.OnConnection(state, message)
	}
}

func (o ObserverFuncs) Log(message string) {
	if o.OnLog != nil {
		o.OnLog(message)
	}
}

func (o ObserverFuncs) RecordingsChanged(names []string) {
	if o.OnRecordings != nil {
		o.OnRecordings(names)
	}
}

func (o ObserverFuncs) PlaybackStateChanged(state PlaybackState) {
	if o.OnPlayback != nil {
		o.OnPlayback(state)
	}
}
