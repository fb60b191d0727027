package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/shell"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var launchPayload string
	var surfaceReady bool
	var devMode bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification router with its push receivers and debug API",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseLaunchPayload(launchPayload)
			if err != nil {
				return err
			}
			if devMode {
				c.cfg.Debug.DevMode = true
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := c.openApp(shell.Options{})
			if err != nil {
				return err
			}
			defer app.Close()

			result := app.Start(ctx, payload)
			if len(payload) > 0 {
				c.logger.WithFields(logrus.Fields{
					"outcome":   string(result.Outcome),
					"target_id": result.TargetID,
					"purpose":   string(result.Purpose),
				}).Info("launch payload handled")
			}
			if surfaceReady {
				app.SetSurfaceReady(true)
			}
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&launchPayload, "launch-payload", "", "JSON payload of the notification that launched the app, or @file")
	cmd.Flags().BoolVar(&surfaceReady, "surface-ready", true, "mark the navigation surface ready once started")
	cmd.Flags().BoolVar(&devMode, "dev", false, "enable the manual trigger")
	return cmd
}

func parseLaunchPayload(raw string) (intent.Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read launch payload: %w", err)
		}
		data = contents
	}
	var payload intent.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse launch payload: %w", err)
	}
	return payload, nil
}
