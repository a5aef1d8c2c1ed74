// Package config loads the servo_remote configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/w1xm/servo_interface/joystick"
	"gopkg.in/yaml.v3"
)

type Joystick struct {
	CenterX      float64       `yaml:"center_x"`
	CenterY      float64       `yaml:"center_y"`
	BaseRadius   float64       `yaml:"base_radius"`
	HandleRadius float64       `yaml:"handle_radius"`
	Threshold    float64       `yaml:"threshold"`
	HoldInterval time.Duration `yaml:"hold_interval"`
	FirstRepeat  float64       `yaml:"first_repeat"`
}

// Mapper converts to the joystick package's configuration.
func (j Joystick) Mapper() joystick.Config {
	return joystick.Config{
		CenterX:      j.CenterX,
		CenterY:      j.CenterY,
		BaseRadius:   j.BaseRadius,
		HandleRadius: j.HandleRadius,
		Threshold:    j.Threshold,
		HoldInterval: j.HoldInterval,
		FirstRepeat:  j.FirstRepeat,
	}
}

type Recordings struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	SQLite  string `yaml:"sqlite"`
	Watch   bool   `yaml:"watch"`
}

type Influx struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Config struct {
	Serial        string        `yaml:"serial"`
	Baud          int           `yaml:"baud"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	Settle        time.Duration `yaml:"settle"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
	DiagonalDelay time.Duration `yaml:"diagonal_delay"`

	Joystick   Joystick   `yaml:"joystick"`
	Recordings Recordings `yaml:"recordings"`

	Listen        string `yaml:"listen"`
	ControlListen string `yaml:"control_listen"`
	StaticDir     string `yaml:"static_dir"`
	Influx        Influx `yaml:"influx"`
}

const (
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
)

func Default() Config {
	j := joystick.DefaultConfig()
	return Config{
		Serial:        "/dev/tty.DSDTECHHC-05",
		Baud:          9600,
		ReadTimeout:   5 * time.Second,
		Settle:        time.Second,
		OpenTimeout:   10 * time.Second,
		DiagonalDelay: 100 * time.Millisecond,
		Joystick: Joystick{
			CenterX:      j.CenterX,
			CenterY:      j.CenterY,
			BaseRadius:   j.BaseRadius,
			HandleRadius: j.HandleRadius,
			Threshold:    j.Threshold,
			HoldInterval: j.HoldInterval,
			FirstRepeat:  j.FirstRepeat,
		},
		Recordings: Recordings{
			Backend: BackendDir,
			Dir:     "recordings",
			SQLite:  "recordings.db",
		},
		Listen:    "127.0.0.1:8502",
		StaticDir: "static",
		Influx: Influx{
			Org:    "w1xm",
			Bucket: "servo.raw",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	j := c.Joystick
	switch {
	case c.Baud <= 0:
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	case j.BaseRadius <= 0 || j.HandleRadius <= 0:
		return errors.New("joystick radii must be positive")
	case j.HandleRadius >= j.BaseRadius:
		return fmt.Errorf("joystick handle_radius %v must be smaller than base_radius %v", j.HandleRadius, j.BaseRadius)
	case j.Threshold < 0:
		return fmt.Errorf("joystick threshold must not be negative, got %v", j.Threshold)
	case j.HoldInterval < 0 || j.FirstRepeat < 0:
		return errors.New("joystick repeat settings must not be negative")
	case c.OpenTimeout < 0 || c.Settle < 0 || c.DiagonalDelay < 0:
		return errors.New("durations must not be negative")
	}
	switch c.Recordings.Backend {
	case BackendDir, BackendSQLite:
	default:
		return fmt.Errorf("unknown recordings backend %q", c.Recordings.Backend)
	}
	return nil
}
