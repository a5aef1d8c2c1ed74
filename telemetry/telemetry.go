// Package telemetry exports transmitted commands and controller state to
// InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/w1xm/servo_interface/command"
	"github.com/w1xm/servo_interface/servo"
)

// Point is a single measurement.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Sink receives points. It must not block.
type Sink func(p Point)

// Logger writes points to a sink. A nil *Logger discards everything.
type Logger struct {
	sink  Sink
	flush func()
	close func()
}

// NewLogger returns a logger that hands points to sink.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// NewInflux returns a logger writing asynchronously to bucket on server.
// Write errors are logged.
func NewInflux(server, token, org, bucket string) *Logger {
	client := influxdb2.NewClient(server, token)
	writeApi := client.WriteApi(org, bucket)
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("write error: %v", err)
		}
	}()
	return &Logger{
		sink: func(p Point) {
			writeApi.WritePoint(influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time))
		},
		flush: writeApi.Flush,
		close: func() {
			writeApi.Close()
			client.Close()
		},
	}
}

func (l *Logger) write(p Point) {
	if l == nil || l.sink == nil {
		return
	}
	l.sink(p)
}

// Command records a transmitted command.
func (l *Logger) Command(session string, sym command.Symbol, at time.Time) {
	l.write(Point{
		Measurement: "servo.command",
		Tags:        map[string]string{"session": session},
		Fields:      map[string]interface{}{"command": sym.String()},
		Time:        at,
	})
}

// Connection records a connection state transition.
func (l *Logger) Connection(session, endpoint string, state servo.ConnectionState, message string) {
	l.write(Point{
		Measurement: "servo.connection",
		Tags:        map[string]string{"session": session, "endpoint": endpoint},
		Fields:      map[string]interface{}{"state": state.String(), "message": message},
		Time:        time.Now(),
	})
}

// Playback records a playback state transition.
func (l *Logger) Playback(name string, state servo.PlaybackState) {
	l.write(Point{
		Measurement: "servo.playback",
		Tags:        map[string]string{"recording": name},
		Fields:      map[string]interface{}{"state": state.String()},
		Time:        time.Now(),
	})
}

func (l *Logger) Flush() {
	if l != nil && l.flush != nil {
		l.flush()
	}
}

func (l *Logger) Close() {
	if l != nil && l.close != nil {
		l.close()
	}
}

// Flatten turns nested JSON into dotted field names.
func Flatten(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			Flatten(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			Flatten(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	default:
		if prefix != "" {
			fields[prefix[1:]] = status
		}
	}
}

// Follow subscribes to the status websocket at url and logs every update
// as a servo.status point until the connection drops or ctx ends.
func Follow(ctx context.Context, url string, l *Logger) error {
	defer l.Flush()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var dialer websocket.Dialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		fields := make(map[string]interface{})
		Flatten(fields, status, "")
		if len(fields) == 0 {
			continue
		}
		l.write(Point{Measurement: "servo.status", Fields: fields, Time: time.Now()})
	}
}
