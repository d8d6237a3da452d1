// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// replay runs a recorded accelerometer trace through the engine with the
// configured profile and prints the sessions it would log. Use it to tune
// PROFILE_* keys against traces recorded with TRACE_RECORD_PATH.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/motion_tracker/internal/app"
	"github.com/relabs-tech/motion_tracker/internal/config"
)

var version = "dev"

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "replay [trace.parquet]",
		Short: "Replay a recorded trace through the motion engine",
		Long: `replay feeds every reading of a parquet trace to a fresh engine tuned
with the PROFILE_* keys of the config file and prints the step count and
the sessions that would have been logged. A session still open when the
trace ends is closed as if the device then rested past the idle timeout.
Without an argument the trace at TRACE_REPLAY_PATH is used.`,
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitGlobal(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := config.Get()
			cfg.ApplyLogLevel()

			path := cfg.TraceReplayPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no trace given and TRACE_REPLAY_PATH is not set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return app.RunReplay(ctx, path, cfg.Profile, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./motion_config.txt", "path to configuration file")

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}
