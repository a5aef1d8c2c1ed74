// Package controller wires the servo components together behind one loop
// goroutine. Operator input, connection results, joystick and diagonal
// timers and playback transmissions all run on that goroutine, which owns
// every piece of state the presentation layer can observe.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/connection"
	"github.com/w1xm/servo_interface/joystick"
	"github.com/w1xm/servo_interface/link"
	"github.com/w1xm/servo_interface/playback"
	"github.com/w1xm/servo_interface/recording"
	"github.com/w1xm/servo_interface/servo"
	"github.com/w1xm/servo_interface/store"
	"github.com/w1xm/servo_interface/telemetry"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("controller closed")

type Config struct {
	// DefaultEndpoint is used by Connect when no endpoint is given.
	DefaultEndpoint string
	OpenTimeout     time.Duration
	DiagonalDelay   time.Duration
	Joystick        joystick.Config
}

// Controller is safe for concurrent use, except that its methods must not
// be called from an Observer callback.
type Controller struct {
	cfg    Config
	ch     *link.Channel
	conn   *connection.Manager
	rec    *recording.Recorder
	store  *store.Store
	player *playback.Scheduler
	stick  *joystick.Mapper
	tel    *telemetry.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	qmu   sync.Mutex
	queue []func()
	wake  chan struct{}

	obsMu     sync.Mutex
	observers map[int]servo.Observer
	nextObs   int

	// Owned by the loop.
	diag      joystick.Timer
	diagGen   int
	diagQueue []command.Symbol
	lastPlay  string
	closing   bool
	// Startup load problems, replayed to each new observer.
	loadErrs []string
}

// New loads the store and starts the loop. tel may be nil.
func New(cfg Config, open link.Opener, st *store.Store, tel *telemetry.Logger) *Controller {
	if cfg.DiagonalDelay <= 0 {
		cfg.DiagonalDelay = command.DiagonalDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:       cfg,
		ch:        link.New(open),
		rec:       recording.New(),
		store:     st,
		tel:       tel,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		observers: make(map[int]servo.Observer),
	}
	c.ch.SetSink(c.transmitted)
	c.conn = connection.New(c.ch, connection.Options{
		OpenTimeout: cfg.OpenTimeout,
		Post:        c.post,
		OnState:     c.connectionChanged,
		Log:         c.log,
	})
	c.stick = joystick.New(cfg.Joystick, sender(c.send), c.afterFunc)
	c.conn.OnClose(func() {
		c.stick.Reset()
		c.cancelDiagonal()
	})
	c.player = playback.New(st, c.transmitPlayback, playback.Options{
		OnState: func(state servo.PlaybackState) {
			c.post(func() { c.playbackChanged(state) })
		},
		OnStop: func() { c.post(c.resetPosition) },
		Log: func(message string) {
			c.post(func() { c.log(message) })
		},
	})
	for _, err := range st.LoadAll() {
		message := fmt.Sprintf("Error loading recording: %v", err)
		log.Print(message)
		c.loadErrs = append(c.loadErrs, message)
	}
	go c.run()
	return c
}

type sender func(sym command.Symbol) error

func (s sender) Send(sym command.Symbol) error { return s(sym) }

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
		for {
			c.qmu.Lock()
			if len(c.queue) == 0 {
				c.qmu.Unlock()
				break
			}
			f := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.qmu.Unlock()
			if c.ctx.Err() != nil {
				return
			}
			f()
		}
	}
}

// post queues f to run on the loop. It never blocks, so it is safe to call
// from the loop itself.
func (c *Controller) post(f func()) {
	c.qmu.Lock()
	c.queue = append(c.queue, f)
	c.qmu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// call runs f on the loop and waits for its result.
func (c *Controller) call(ctx context.Context, f func() error) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	result := make(chan error, 1)
	c.post(func() { result <- f() })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) afterFunc(d time.Duration, f func()) joystick.Timer {
	return time.AfterFunc(d, func() { c.post(f) })
}

// Observe registers o for every notification. The returned function
// unregisters it.
func (c *Controller) Observe(o servo.Observer) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = o
	if len(c.loadErrs) > 0 {
		c.post(func() {
			c.obsMu.Lock()
			_, ok := c.observers[id]
			c.obsMu.Unlock()
			if !ok {
				return
			}
			for _, message := range c.loadErrs {
				o.Log(message)
			}
		})
	}
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

func (c *Controller) each(f func(o servo.Observer)) {
	c.obsMu.Lock()
	obs := make([]servo.Observer, 0, len(c.observers))
	for _, o := range c.observers {
		obs = append(obs, o)
	}
	c.obsMu.Unlock()
	for _, o := range obs {
		f(o)
	}
}

func (c *Controller) log(message string) {
	log.Print(message)
	c.each(func(o servo.Observer) { o.Log(message) })
}

func (c *Controller) logf(format string, args ...interface{}) {
	c.log(fmt.Sprintf(format, args...))
}

func (c *Controller) connectionChanged(state servo.ConnectionState, message string) {
	c.tel.Connection(c.conn.Session(), c.conn.Endpoint(), state, message)
	c.each(func(o servo.Observer) { o.ConnectionStateChanged(state, message) })
}

func (c *Controller) playbackChanged(state servo.PlaybackState) {
	c.tel.Playback(c.lastPlay, state)
	c.each(func(o servo.Observer) { o.PlaybackStateChanged(state) })
}

func (c *Controller) recordingsChanged() {
	names := c.store.List()
	c.each(func(o servo.Observer) { o.RecordingsChanged(names) })
}

// transmitted is the channel sink. It runs on the loop with the channel
// lock held.
func (c *Controller) transmitted(sym command.Symbol, at time.Time) {
	c.logf("Sent command: %s", sym)
	if rel, ok := c.rec.Append(sym, at); ok {
		c.logf("Recorded command: %s at %.2fs", sym, rel)
	}
	c.tel.Command(c.conn.Session(), sym, at)
}

// send must run on the loop.
func (c *Controller) send(sym command.Symbol) error {
	if c.conn.State() != servo.Connected {
		c.log("Not connected. Cannot send command.")
		return &servo.TransmissionError{Symbol: sym, Err: servo.ErrNotConnected}
	}
	return c.ch.Send(sym)
}

// transmitPlayback crosses from the playback goroutine onto the loop. A
// stop that runs on the loop first wins.
func (c *Controller) transmitPlayback(ctx context.Context, sym command.Symbol) error {
	return c.call(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.send(sym)
	})
}

// resetPosition returns the actuator and the on-screen handle to centre
// after playback is stopped.
func (c *Controller) resetPosition() {
	if c.closing {
		return
	}
	c.send(command.Center)
	c.stick.Reset()
}

func (c *Controller) cancelDiagonal() {
	c.diagGen++
	c.diagQueue = nil
	if c.diag != nil {
		c.diag.Stop()
		c.diag = nil
	}
}

// Connect starts opening endpoint, or the default endpoint if it is blank.
// The returned channel receives the outcome.
func (c *Controller) Connect(ctx context.Context, endpoint string) (<-chan error, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = c.cfg.DefaultEndpoint
	}
	var result <-chan error
	err := c.call(ctx, func() error {
		var err error
		result, err = c.conn.Open(c.ctx, endpoint)
		if err != nil {
			c.logf("Cannot connect: %v", err)
		}
		return err
	})
	return result, err
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.conn.Close()
		return nil
	})
}

func (c *Controller) PointerDown(x, y float64) {
	c.post(func() { c.stick.PointerDown(x, y) })
}

func (c *Controller) PointerMove(x, y float64) {
	c.post(func() { c.stick.PointerMove(x, y) })
}

func (c *Controller) PointerUp() {
	c.post(c.stick.PointerUp)
}

// Press sends sym as a single payload. Compound symbols are written as
// their two-byte literal; use Diagonal for the two-send button form.
func (c *Controller) Press(ctx context.Context, sym command.Symbol) error {
	if !sym.Valid() {
		return servo.Invalid(servo.ErrInvalidSymbol, string(sym))
	}
	return c.call(ctx, func() error { return c.send(sym) })
}

// Center sends c and snaps the joystick handle back.
func (c *Controller) Center(ctx context.Context) error {
	return c.call(ctx, func() error {
		err := c.send(command.Center)
		c.stick.Reset()
		return err
	})
}

// Diagonal sends the vertical primitive of sym now and the horizontal one
// after the diagonal delay. A diagonal pressed while another is still
// pending runs after it, so every press sends both halves in order.
func (c *Controller) Diagonal(ctx context.Context, sym command.Symbol) error {
	if !sym.Diagonal() {
		return servo.Invalid(servo.ErrInvalidSymbol, string(sym))
	}
	return c.call(ctx, func() error {
		if c.diag != nil {
			c.diagQueue = append(c.diagQueue, sym)
			return nil
		}
		return c.startDiagonal(sym)
	})
}

// startDiagonal must run on the loop.
func (c *Controller) startDiagonal(sym command.Symbol) error {
	first, second, err := command.Expand(sym)
	if err != nil {
		return err
	}
	if err := c.send(first); err != nil {
		c.diagQueue = nil
		return err
	}
	gen := c.diagGen
	c.diag = c.afterFunc(c.cfg.DiagonalDelay, func() {
		if gen != c.diagGen {
			return
		}
		c.diag = nil
		if err := c.send(second); err != nil {
			c.diagQueue = nil
			return
		}
		if len(c.diagQueue) > 0 {
			next := c.diagQueue[0]
			c.diagQueue = c.diagQueue[1:]
			c.startDiagonal(next)
		}
	})
	return nil
}

// StartRecording arms the recorder, discarding any unsaved events.
func (c *Controller) StartRecording(ctx context.Context) error {
	return c.call(ctx, func() error {
		if c.player.State() == servo.Playing {
			c.log("Cannot record while playing.")
			return servo.Invalid(servo.ErrRecordingActive, "")
		}
		c.rec.Arm()
		c.log("Recording started.")
		return nil
	})
}

// StopRecording disarms the recorder and returns the number of buffered
// events. It is a no-op when not recording.
func (c *Controller) StopRecording(ctx context.Context) (int, error) {
	var n int
	err := c.call(ctx, func() error {
		n = c.rec.Len()
		if c.rec.Disarm() {
			c.logf("Recording stopped. %d commands recorded.", n)
		}
		return nil
	})
	return n, err
}

// Save stores the recorder buffer under name.
func (c *Controller) Save(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	return c.call(ctx, func() error {
		events := c.rec.Events()
		err := c.store.Save(name, events)
		switch {
		case errors.Is(err, servo.ErrEmptyRecording):
			c.log("Nothing to save. Recording is empty.")
		case errors.Is(err, servo.ErrEmptyName):
			c.log("Please enter a name for the recording.")
		case err != nil:
			c.logf("Error saving recording: %v", err)
		default:
			c.logf("Recording '%s' saved successfully with %d commands.", name, len(events))
			c.recordingsChanged()
		}
		return err
	})
}

// Play starts playing name.
func (c *Controller) Play(ctx context.Context, name string, loop bool) error {
	return c.call(ctx, func() error {
		err := c.player.Play(name, loop)
		switch {
		case errors.Is(err, servo.ErrUnknownRecording):
			c.log("No recording selected or recording not found.")
		case errors.Is(err, servo.ErrAlreadyPlaying):
			c.log("Already playing a recording.")
		case err == nil:
			c.lastPlay = name
		}
		return err
	})
}

// StopPlayback stops playback, then centres the actuator and the joystick.
// It is a no-op when nothing is playing.
func (c *Controller) StopPlayback(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.player.Stop()
		return nil
	})
}

// Delete removes the named recording.
func (c *Controller) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	return c.call(ctx, func() error {
		err := c.store.Delete(name)
		switch {
		case errors.Is(err, servo.ErrUnknownRecording):
			c.log("No recording selected or recording not found.")
		case err != nil:
			c.logf("Error deleting recording: %v", err)
		default:
			c.logf("Recording '%s' deleted.", name)
			c.recordingsChanged()
		}
		return err
	})
}

// Recordings returns the stored recording names in order.
func (c *Controller) Recordings() []string {
	return c.store.List()
}

// Recording returns a copy of the named recording.
func (c *Controller) Recording(name string) ([]recording.Event, bool) {
	return c.store.Get(name)
}

// Reload rescans durable storage.
func (c *Controller) Reload(ctx context.Context) error {
	return c.call(ctx, func() error {
		c.reload()
		return nil
	})
}

func (c *Controller) reload() {
	for _, err := range c.store.LoadAll() {
		c.logf("Error loading recording: %v", err)
	}
	c.recordingsChanged()
}

// Watch reloads the store whenever its backend changes on disk, until ctx
// ends.
func (c *Controller) Watch(ctx context.Context) error {
	return c.store.Watch(ctx, func() { c.post(c.reload) })
}

// Done is closed once the controller has shut down.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// PlaybackDone returns a channel closed when the current or most recent
// playback run exits.
func (c *Controller) PlaybackDone() <-chan struct{} {
	return c.player.Done()
}

// Close stops playback, disconnects and stops the loop.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.call(context.Background(), func() error {
			c.closing = true
			c.player.Stop()
			c.cancelDiagonal()
			c.stick.Reset()
			c.conn.Close()
			return nil
		})
		c.cancel()
		<-c.done
		<-c.player.Done()
		c.tel.Flush()
	})
	return nil
}
