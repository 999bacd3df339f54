// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ManuGH/xgenc/internal/config"
	xglog "github.com/ManuGH/xgenc/internal/log"
	"github.com/spf13/cobra"
)

// errSessionFailed marks a run that finished with failed, timed out or
// aborted jobs. It maps to exit status 2.
var errSessionFailed = errors.New("session did not complete cleanly")

func exitCode(err error) int {
	if errors.Is(err, errSessionFailed) {
		return 2
	}
	return 1
}

type commandContext struct {
	configFlag   string
	logLevelFlag string

	once   sync.Once
	loader *config.Loader
	cfg    config.AppConfig
	err    error
}

// ensureConfig loads the configuration once and configures logging from it.
func (c *commandContext) ensureConfig() (config.AppConfig, error) {
	c.once.Do(func() {
		c.loader = config.NewLoader(strings.TrimSpace(c.configFlag), version)
		c.cfg, c.err = c.loader.Load()
		if c.err != nil {
			return
		}
		level := c.cfg.Log.Level
		if c.logLevelFlag != "" {
			level = c.logLevelFlag
		}
		configureLogging(level, c.cfg.Log.Format)
	})
	if c.err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", c.err)
	}
	return c.cfg, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	root := &cobra.Command{
		Use:           "xgenc",
		Short:         "Batch hardware video encoding with NVEncC, QSVEncC and ffmpeg",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := cc.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&cc.configFlag, "config", "c", "", "configuration file (YAML)")
	root.PersistentFlags().StringVar(&cc.logLevelFlag, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCommand(cc))
	root.AddCommand(newRunCommand(cc))
	root.AddCommand(newPresetsCommand())
	root.AddCommand(newEncodersCommand(cc))
	root.AddCommand(newConfigCommand(cc))
	root.AddCommand(newVersionCommand())
	return root
}

func configureLogging(level, format string) {
	xglog.Configure(xglog.Config{
		Level:   level,
		Format:  format,
		Output:  os.Stderr,
		Service: "xgenc",
		Version: version,
	})
}
