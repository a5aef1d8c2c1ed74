package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newPlayCmd(f *rootFlags) *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "play <name>",
		Short: "Connect and play a recording until it completes or is interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			tel := newTelemetry(cfg)
			defer tel.Close()
			c := newController(ctx, cfg, st, tel)
			defer c.Close()

			bg := context.Background()
			result, err := c.Connect(bg, "")
			if err != nil {
				return err
			}
			if err := <-result; err != nil {
				return err
			}
			if err := c.Play(bg, args[0], loop); err != nil {
				return err
			}
			select {
			case <-c.PlaybackDone():
			case <-ctx.Done():
				c.StopPlayback(bg)
				<-c.PlaybackDone()
			}
			return c.Disconnect(bg)
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "repeat the recording until interrupted")
	return cmd
}
