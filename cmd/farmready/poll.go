package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newPollCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one poll across all devices and print the run summary",
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

			sum, err := a.driver.RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(sum)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
