package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/farmready/farmready/pkg/types"
)

// demoDevices are the two pilot farms shipped with the first deployment.
func demoDevices() []types.DeviceConfig {
	return []types.DeviceConfig{
		{
			DeviceID:    "20b1b470-a0b4-412a-890d-fa87380183c6",
			VariableMap: map[string]string{"light": "Light_out", "moisture": "Soil_moisture"},
			Thresholds: map[string]types.Bound{
				"light":    types.Range(300, 1200),
				"moisture": types.Range(35, 60),
			},
			WindowMinutes: types.DefaultWindowMinutes,
		},
		{
			DeviceID:    "3e3fe3eb-7677-4585-bd02-fb4b53793a33",
			VariableMap: map[string]string{"light": "Weather_light_par", "temp": "Weather_Temperature"},
			Thresholds: map[string]types.Bound{
				"light": types.Range(200, 1500),
				"temp":  types.Range(20, 35),
			},
			WindowMinutes: types.DefaultWindowMinutes,
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert configured devices into the device store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != "sqlite" {
				slog.Warn("seeding a non-persistent store, devices are lost on exit",
					"storage", cfg.Storage.Backend)
			}
			st, err := openStore(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			devices := cfg.Devices
			if demo {
				devices = append(append([]types.DeviceConfig(nil), devices...), demoDevices()...)
			}
			for _, d := range devices {
				if err := st.PutDevice(ctx, d); err != nil {
					return fmt.Errorf("seed %s: %w", d.DeviceID, err)
				}
				slog.Info("device seeded", "device", d.DeviceID, "thresholds", len(d.Thresholds))
			}
			return printJSON(map[string]any{"ok": true, "seeded": len(devices)})
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "also seed the two pilot farm devices")
	return cmd
}
