package controller

import (
	"context"
	"time"
)

// Snapshot is the observable state at one instant.
type Snapshot struct {
	Connection string    `json:"connection"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Session    string    `json:"session,omitempty"`
	Playback   string    `json:"playback"`
	Playing    string    `json:"playing,omitempty"`
	Recording  bool      `json:"recording"`
	Recorded   int       `json:"recorded"`
	Started    time.Time `json:"started,omitempty"`
	Direction  string    `json:"direction"`
	Hold       bool      `json:"hold"`
	HandleX    float64   `json:"handle_x"`
	HandleY    float64   `json:"handle_y"`
	Recordings []string  `json:"recordings"`
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.call(ctx, func() error {
		dir, hold := c.stick.Direction()
		x, y := c.stick.Handle()
		s = Snapshot{
			Connection: c.conn.State().String(),
			Endpoint:   c.conn.Endpoint(),
			Session:    c.conn.Session(),
			Playback:   c.player.State().String(),
			Playing:    c.player.Current(),
			Recording:  c.rec.Armed(),
			Recorded:   c.rec.Len(),
			Direction:  string(dir),
			Hold:       hold,
			HandleX:    x,
			HandleY:    y,
			Recordings: c.store.List(),
		}
		if s.Recording {
			s.Started = c.rec.Started()
		}
		return nil
	})
	return s, err
}
