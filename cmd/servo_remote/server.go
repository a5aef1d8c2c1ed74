package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/controller"
	"github.com/w1xm/servo_interface/recording"
	"github.com/w1xm/servo_interface/servo"
)

// logBacklog is how many log lines a new websocket client receives.
const logBacklog = 100

type logEntry struct {
	seq     int
	message string
}

// Server bridges the controller to browsers. Observer notifications from
// the controller bump a version that wakes every websocket sender.
type Server struct {
	c *controller.Controller

	statusMu   sync.Mutex
	statusCond *sync.Cond
	version    int
	status     controller.Snapshot
	logs       []logEntry
	logSeq     int

	kick chan struct{}
}

func NewServer(c *controller.Controller) *Server {
	s := &Server{c: c, kick: make(chan struct{}, 1)}
	s.statusCond = sync.NewCond(&s.statusMu)
	c.Observe(servo.ObserverFuncs{
		OnConnection: func(servo.ConnectionState, string) { s.refresh() },
		OnLog:        s.appendLog,
		OnRecordings: func([]string) { s.refresh() },
		OnPlayback:   func(servo.PlaybackState) { s.refresh() },
	})
	return s
}

// Run keeps the cached status current until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}()
	s.refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
		}
		status, err := s.c.Snapshot(ctx)
		if err != nil {
			if errors.Is(err, controller.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Printf("status: %v", err)
			continue
		}
		s.statusMu.Lock()
		s.status = status
		s.version++
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
	}
}

// refresh asks Run for a new snapshot. It never blocks, so it is safe on
// the controller loop.
func (s *Server) refresh() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Server) appendLog(message string) {
	s.statusMu.Lock()
	s.logSeq++
	s.logs = append(s.logs, logEntry{s.logSeq, message})
	if len(s.logs) > logBacklog {
		s.logs = s.logs[len(s.logs)-logBacklog:]
	}
	s.version++
	s.statusCond.Broadcast()
	s.statusMu.Unlock()
}

func (s *Server) Router(staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/recordings", s.ListHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/recordings/{name}", s.GetHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/recordings/{name}", s.SaveHandler).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/api/recordings/{name}", s.DeleteHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/recordings/{name}/play", s.PlayHandler).Methods(http.MethodPost)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// httpError maps controller errors onto status codes.
func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var verr *servo.ValidationError
	switch {
	case errors.Is(err, servo.ErrUnknownRecording):
		code = http.StatusNotFound
	case errors.Is(err, servo.ErrAlreadyPlaying), errors.Is(err, servo.ErrBusy), errors.Is(err, servo.ErrRecordingActive):
		code = http.StatusConflict
	case errors.As(err, &verr):
		code = http.StatusBadRequest
	case errors.Is(err, servo.ErrNotConnected):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.c.Snapshot(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) ListHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.c.Recordings())
}

func (s *Server) GetHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	events, ok := s.c.Recording(name)
	if !ok {
		httpError(w, servo.Invalid(servo.ErrUnknownRecording, name))
		return
	}
	data, err := recording.Marshal(events)
	if err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// SaveHandler stores the current recorder buffer under name.
func (s *Server) SaveHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Save(r.Context(), mux.Vars(r)["name"]); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.c.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PlayHandler(w http.ResponseWriter, r *http.Request) {
	loop := r.URL.Query().Get("loop") == "true"
	if err := s.c.Play(r.Context(), mux.Vars(r)["name"], loop); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command is a websocket request from the presentation layer.
type Command struct {
	Command  string  `json:"command"`
	Symbol   string  `json:"symbol"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Name     string  `json:"name"`
	Loop     bool    `json:"loop"`
	Endpoint string  `json:"endpoint"`
}

// Update is pushed to websocket clients whenever anything changes.
type Update struct {
	Status controller.Snapshot `json:"status"`
	Logs   []string            `json:"logs,omitempty"`
}

func (s *Server) dispatch(ctx context.Context, msg Command) error {
	c := s.c
	switch msg.Command {
	case "connect":
		_, err := c.Connect(ctx, msg.Endpoint)
		return err
	case "disconnect":
		return c.Disconnect(ctx)
	case "pointer_down":
		c.PointerDown(msg.X, msg.Y)
	case "pointer_move":
		c.PointerMove(msg.X, msg.Y)
	case "pointer_up":
		c.PointerUp()
	case "press":
		return c.Press(ctx, command.Symbol(msg.Symbol))
	case "diagonal":
		return c.Diagonal(ctx, command.Symbol(msg.Symbol))
	case "center":
		return c.Center(ctx)
	case "record":
		return c.StartRecording(ctx)
	case "stop_record":
		_, err := c.StopRecording(ctx)
		return err
	case "save":
		return c.Save(ctx, msg.Name)
	case "play":
		return c.Play(ctx, msg.Name, msg.Loop)
	case "stop":
		return c.StopPlayback(ctx)
	case "delete":
		return c.Delete(ctx, msg.Name)
	case "reload":
		return c.Reload(ctx)
	default:
		return fmt.Errorf("unknown command %q", msg.Command)
	}
	return nil
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer func() {
			cancel()
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.dispatch(ctx, msg); err != nil {
				log.Printf("%v: %s: %v", conn.RemoteAddr(), msg.Command, err)
			}
			s.refresh()
		}
	}()

	// The first update carries the whole log backlog.
	seen, lastLog := -1, 0
	for {
		s.statusMu.Lock()
		for s.version == seen && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		if ctx.Err() != nil {
			s.statusMu.Unlock()
			return
		}
		seen = s.version
		u := Update{Status: s.status}
		for _, l := range s.logs {
			if l.seq > lastLog {
				u.Logs = append(u.Logs, l.message)
				lastLog = l.seq
			}
		}
		s.statusMu.Unlock()

		if err := conn.WriteJSON(u); err != nil {
			log.Print(err)
			return
		}
	}
}
