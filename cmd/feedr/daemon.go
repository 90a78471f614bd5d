package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/daemon"
	"github.com/charlie0129/feedr/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "daemon",
		Short:   "Run feedr daemon in the foreground",
		GroupID: gAdvanced,
		Long: `Run feedr daemon in the foreground.

The daemon keeps the feeding schedules, starts a feeding process at each
scheduled time and serves the HTTP API. Send SIGHUP to reload the config.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("feedr daemon starting")
			return daemon.Run(configPath, logLevel)
		},
	}
}
