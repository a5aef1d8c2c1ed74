package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/w1xm/servo_interface/controller"
	"github.com/w1xm/servo_interface/internal/config"
	"github.com/w1xm/servo_interface/link"
	"github.com/w1xm/servo_interface/store"
	"github.com/w1xm/servo_interface/telemetry"
)

type rootFlags struct {
	config        string
	serial        string
	staticDir     string
	listen        string
	controlListen string
	backend       string
	recordingsDir string
	sqlite        string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "servo_remote",
		Short:         "Drive a serial pan/tilt servo, record and replay command sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.config, "config", "servo_remote.yaml", "configuration file")
	pf.StringVar(&f.serial, "serial", "", "serial port name, or \"sim\" for the simulator")
	pf.StringVar(&f.staticDir, "static_dir", "", "directory containing static files")
	pf.StringVar(&f.listen, "listen", "", "HTTP listen address")
	pf.StringVar(&f.controlListen, "control_listen", "", "TCP control port listen address")
	pf.StringVar(&f.backend, "backend", "", "recordings backend (dir or sqlite)")
	pf.StringVar(&f.recordingsDir, "recordings_dir", "", "recordings directory for the dir backend")
	pf.StringVar(&f.sqlite, "sqlite", "", "database path for the sqlite backend")

	cmd.AddCommand(
		newServeCmd(f),
		newListCmd(f),
		newShowCmd(f),
		newDeleteCmd(f),
		newPlayCmd(f),
		newLogCmd(f),
	)
	return cmd
}

// load reads the configuration file and applies flag overrides. The default
// file may be absent; one named with --config must exist.
func (f *rootFlags) load(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	cfg, err := config.Load(f.config, !flags.Changed("config"))
	if err != nil {
		return cfg, err
	}
	for _, o := range []struct {
		name string
		dst  *string
		val  string
	}{
		{"serial", &cfg.Serial, f.serial},
		{"static_dir", &cfg.StaticDir, f.staticDir},
		{"listen", &cfg.Listen, f.listen},
		{"control_listen", &cfg.ControlListen, f.controlListen},
		{"backend", &cfg.Recordings.Backend, f.backend},
		{"recordings_dir", &cfg.Recordings.Dir, f.recordingsDir},
		{"sqlite", &cfg.Recordings.SQLite, f.sqlite},
	} {
		if flags.Changed(o.name) {
			*o.dst = o.val
		}
	}
	return cfg, cfg.Validate()
}

func openStore(cfg config.Config) (*store.Store, error) {
	var b store.Backend
	var err error
	switch cfg.Recordings.Backend {
	case config.BackendSQLite:
		b, err = store.OpenSQLite(cfg.Recordings.SQLite)
	default:
		b, err = store.OpenDir(cfg.Recordings.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("open recordings: %w", err)
	}
	return store.New(b), nil
}

// loadStore opens the store and loads every recording, reporting the ones
// that cannot be read on stderr.
func loadStore(cmd *cobra.Command, cfg config.Config) (*store.Store, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	for _, err := range st.LoadAll() {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	return st, nil
}

func newTelemetry(cfg config.Config) *telemetry.Logger {
	if cfg.Influx.Server == "" {
		return nil
	}
	return telemetry.NewInflux(cfg.Influx.Server, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
}

// newController builds the controller for cfg. The simulator, when
// selected, lives until ctx ends.
func newController(ctx context.Context, cfg config.Config, st *store.Store, tel *telemetry.Logger) *controller.Controller {
	open := link.WithSimulator(ctx, link.SerialOpener(cfg.Baud, cfg.ReadTimeout, cfg.Settle))
	return controller.New(controller.Config{
		DefaultEndpoint: cfg.Serial,
		OpenTimeout:     cfg.OpenTimeout,
		DiagonalDelay:   cfg.DiagonalDelay,
		Joystick:        cfg.Joystick.Mapper(),
	}, open, st, tel)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
