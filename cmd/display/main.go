// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/motion_tracker/internal/app"
	"github.com/relabs-tech/motion_tracker/internal/config"
)

var version = "dev"

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:   "display",
		Short: "SSD1306 step and activity display (MQTT subscriber)",
		Long: `display shows the step count, current activity and last logged session
on an SSD1306 OLED over I2C.`,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitGlobal(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			config.Get().ApplyLogLevel()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunDisplay(ctx)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./motion_config.txt", "path to configuration file")

	if err := fang.Execute(context.Background(), cmd); err != nil {
		os.Exit(1)
	}
}
