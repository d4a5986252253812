package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/silwitch/replink/pkg/config"
)

// configureLogger builds the logger from the --log-level flag and the
// configuration file, flag winning. Without either the logger is silent,
// so log lines cannot interleave with the bridged console bytes.
func configureLogger(cmd *cobra.Command, cfg *config.Config, haveConfigFile bool) (*logrus.Logger, error) {
	logLevel, _ := cmd.Flags().GetString("log-level")
	switch {
	case logLevel != "":
		cfg.LogLevel = logLevel
	case !haveConfigFile:
		cfg.LogLevel = "panic"
	}
	return cfg.NewLogger()
}
