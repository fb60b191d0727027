package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agentworkforce/courierlink/internal/session"
	"github.com/agentworkforce/courierlink/internal/shell"
	"github.com/spf13/cobra"
)

func newLoginCmd(c *cli) *cobra.Command {
	var email, password, remote string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("COURIER_PASSWORD")
			}
			if strings.TrimSpace(email) == "" || password == "" {
				return errors.New("--email and --password (or COURIER_PASSWORD) are required")
			}
			if remote != "" {
				out, err := c.postDebug(cmd.Context(), remote, "/v1/session/login", map[string]string{"email": email, "password": password})
				if err != nil {
					return fmt.Errorf("remote login failed: %w", err)
				}
				c.printf("%s\n", out)
				return nil
			}
			app, err := c.openApp(shell.Options{})
			if err != nil {
				return err
			}
			defer app.Close()
			profile, err := app.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if profile != nil && profile.Name != "" {
				c.printf("logged in as %s\n", profile.Name)
			} else {
				c.printf("logged in\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&remote, "remote", "", "debug API URL of a running courierd to sign in instead of this process")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" {
				if _, err := c.postDebug(cmd.Context(), remote, "/v1/session/logout", struct{}{}); err != nil {
					return fmt.Errorf("remote logout failed: %w", err)
				}
				c.printf("logged out\n")
				return nil
			}
			app, err := c.openApp(shell.Options{})
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Logout(cmd.Context()); err != nil {
				return err
			}
			c.printf("logged out\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "debug API URL of a running courierd to sign out")
	return cmd
}

func newSessionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show whether a session is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.openApp(shell.Options{})
			if err != nil {
				return err
			}
			defer app.Close()
			tokens, err := app.Credentials.Get(cmd.Context())
			if errors.Is(err, session.ErrNoSession) {
				c.printf("no session\n")
				return nil
			}
			if err != nil {
				return err
			}
			expiry, err := session.AccessTokenExpiry(tokens.AccessToken)
			if err != nil {
				c.printf("session stored (access token expiry unknown)\n")
				return nil
			}
			state := "valid"
			if !expiry.After(time.Now()) {
				state = "expired, will refresh on next request"
			}
			c.printf("session stored; access token %s until %s\n", state, expiry.Format(time.RFC3339))
			return nil
		},
	}
}
