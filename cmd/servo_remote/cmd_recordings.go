package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/w1xm/servo_interface/recording"
	"github.com/w1xm/servo_interface/servo"
)

func newListCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			st, err := loadStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, name := range st.List() {
				events, _ := st.Get(name)
				var length float64
				if n := len(events); n > 0 {
					length = events[n-1].Time
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d commands\t%.2fs\n", name, len(events), length)
			}
			return nil
		},
	}
}

func newShowCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a recording in its stored form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			st, err := loadStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			events, ok := st.Get(args[0])
			if !ok {
				return servo.Invalid(servo.ErrUnknownRecording, args[0])
			}
			data, err := recording.Marshal(events)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
			return nil
		},
	}
}

func newDeleteCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name> [name...]",
		Short: "Delete stored recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			st, err := loadStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			for _, name := range args {
				if err := st.Delete(name); err != nil {
					return fmt.Errorf("delete: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recording '%s' deleted.\n", name)
			}
			return nil
		},
	}
}
