package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/feedr/pkg/client"
	"github.com/charlie0129/feedr/pkg/lock"
)

var (
	logLevel   = "info"
	configPath = "/etc/feedr.json"
	daemonAddr = "http://127.0.0.1:5000"
)

var (
	gBasic        = "Basic:"
	gHardware     = "Hardware:"
	gAdvanced     = "Advanced:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gHardware,
		gAdvanced,
		gInstallation,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: feedr daemon is not running")
		fmt.Fprintf(os.Stderr, "Nothing is listening on %s. Have you installed it?\n", daemonAddr)
	case errors.Is(err, lock.ErrLocked):
		fmt.Fprintln(os.Stderr, "\nError: another feeding is using the hardware")
		fmt.Fprintln(os.Stderr, "Wait for it to finish, or stop the process holding the lock.")
	case errors.Is(err, os.ErrPermission):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - GPIO access usually needs root. Try running the command again with 'sudo'")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedr",
		Short: "feedr runs an automatic pet feeder on a Raspberry Pi",
		Long: `feedr runs an automatic pet feeder on a Raspberry Pi.

It waits for the animal to come close, makes sure it is really there, opens
the food gate and closes it once the bowl holds the requested amount.

Feedings are usually scheduled through the daemon ("feedr daemon"), which
also serves an HTTP API for schedules, history and voice clips.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path (.json, .yaml or .yml)")
	globalFlags.StringVar(&daemonAddr, "daemon-addr", daemonAddr, "feedr daemon address")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewRunCommand(),
		NewVersionCommand(),
		NewScheduleCommand(),
		NewHistoryCommand(),
		NewFeedCommand(),
		NewVoiceCommand(),
		NewStatusCommand(),
		NewWatchCommand(),
		NewTareCommand(),
		NewCalibrateCommand(),
		NewDistanceCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}

func newClient() *client.Client {
	return client.NewClient(daemonAddr)
}
