package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/w1xm/servo_interface/telemetry"
)

// newLogCmd follows a running server's status socket and writes every
// update to InfluxDB, reconnecting until interrupted.
func newLogCmd(f *rootFlags) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Copy status updates from a running server to InfluxDB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Influx.Server == "" {
				return errors.New("influx.server is not configured")
			}
			if url == "" {
				url = fmt.Sprintf("ws://%s/api/ws", cfg.Listen)
			}
			ctx, stop := signalContext()
			defer stop()
			tel := newTelemetry(cfg)
			defer tel.Close()
			for ctx.Err() == nil {
				if err := telemetry.Follow(ctx, url, tel); err != nil && ctx.Err() == nil {
					log.Print(err)
				}
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "status websocket URL (default derived from --listen)")
	return cmd
}
