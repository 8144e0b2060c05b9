package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farmready/farmready/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "farmready",
		Short:         "Sensor-shadow readiness engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (defaults plus environment when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	cmd.AddCommand(
		newServeCmd(opts),
		newPollCmd(opts),
		newRecomputeCmd(opts),
		newSeedCmd(opts),
	)
	return cmd
}

// setupLogging installs a JSON slog handler on stdout as the process default.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the config file, or builds one from defaults and the
// environment when no path is given.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default()
	}
	return config.Load(o.configPath)
}
