package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRecomputeCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "recompute <device-id>",
		Short: "Evaluate one device now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			res, err := a.facade.RecomputeOne(ctx, args[0], dryRun)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without writing progress")
	return cmd
}
