package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/courierlink/internal/debugapi"
	"github.com/spf13/cobra"
)

func newTriggerCmd(c *cli) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "trigger [target-id]",
		Short: "Ask a running courierd (started with --dev) to navigate to a target",
		Long:  "Without a target id a random identifier is generated by the server.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				TargetID string `json:"targetId,omitempty"`
			}
			if len(args) == 1 {
				body.TargetID = strings.TrimSpace(args[0])
			}
			out, err := c.postDebug(cmd.Context(), baseURL, "/v1/debug/trigger", body)
			if err != nil {
				return fmt.Errorf("trigger failed: %w", err)
			}
			c.printf("%s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "debug API base URL (default from debug.addr)")
	return cmd
}

// postDebug sends a JSON request to a running courierd debug API, signed when
// debug.secret is configured, and returns the response body.
func (c *cli) postDebug(ctx context.Context, baseURL, path string, body any) (string, error) {
	if baseURL == "" {
		baseURL = "http://" + c.cfg.Debug.Addr
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret := c.cfg.Debug.Secret; secret != "" {
		timestamp := time.Now().UTC().Format(time.RFC3339)
		req.Header.Set("X-Courier-Timestamp", timestamp)
		req.Header.Set("X-Courier-Signature", debugapi.Sign(secret, timestamp, payload))
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	text := strings.TrimSpace(string(respBody))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, text)
	}
	return text, nil
}
