package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)

			v, err := newClient().GetVersion()
			if err != nil {
				logrus.Debugf("daemon version unavailable: %v", err)
				return
			}
			if v.Version != version.Version {
				logrus.WithFields(logrus.Fields{
					"clientVersion": version.Version,
					"daemonVersion": v.Version,
				}).Warn("Version mismatch between client and daemon. Reinstall feedr so both are the same version.")
			}
		},
	}
}
