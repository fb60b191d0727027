package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentworkforce/courierlink/internal/config"
	"github.com/agentworkforce/courierlink/internal/shell"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer

	cfg    config.Config
	logger *logrus.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "courierd",
		Short:         "Courier notification routing host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config.yaml (default "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(c),
		newTriggerCmd(c),
		newPendingCmd(c),
		newLoginCmd(c),
		newLogoutCmd(c),
		newSessionCmd(c),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if level := strings.TrimSpace(c.logLevel); level != "" {
		cfg.Log.Level = level
	}
	logger, err := cfg.Log.NewLogger(c.stderr)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) openApp(opts shell.Options) (*shell.App, error) {
	return shell.New(c.cfg, c.logger, opts)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.stdout, format, args...)
}
