package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var connect bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser interface and the control port",
		Args:  cobra.NoArgs,
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
			s := NewServer(c)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return s.Run(ctx) })
			srv := &http.Server{
				Handler:      s.Router(cfg.StaticDir),
				Addr:         cfg.Listen,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
			}
			g.Go(func() error {
				log.Printf("listening on %s", cfg.Listen)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			if cfg.ControlListen != "" {
				g.Go(func() error { return s.ListenControl(ctx, cfg.ControlListen) })
			}
			if cfg.Recordings.Watch {
				g.Go(func() error {
					if err := c.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Printf("watching recordings: %v", err)
					}
					return nil
				})
			}
			if connect {
				if _, err := c.Connect(ctx, ""); err != nil {
					log.Printf("connect: %v", err)
				}
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&connect, "connect", false, "connect to the serial port on start")
	return cmd
}
