package main

import (
	"github.com/spf13/cobra"

	"coachvoice/internal/config"
)

type rootOptions struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "coachvoice",
		Short:         "Headless realtime voice coaching client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newConfigCmd())
	return root
}

// loadConfig resolves configuration and applies command-line overrides.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}
