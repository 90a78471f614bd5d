package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/voice"
)

func NewVoiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "voice",
		Short:   "Manage voice clips",
		GroupID: gBasic,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:     "upload <file>",
			Short:   "Upload a voice clip to the daemon",
			Long:    `Upload a voice clip. It is stored under its file name, which is the id schedules refer to.`,
			Example: `  feedr voice upload ./hello.mp3`,
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, err := newClient().UploadVoice(args[0])
				if err != nil {
					return err
				}
				cmd.Printf("Uploaded as %s\n", bold("%s", name))
				return nil
			},
		},
		&cobra.Command{
			Use:   "play <id>",
			Short: "Play a voice clip on this machine",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				conf, err := loadConfig()
				if err != nil {
					return err
				}
				path, err := voice.Resolve(conf.VoiceDir(), args[0])
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return (&voice.Player{Command: conf.VoicePlayer()}).Play(ctx, path)
			},
		},
	)

	return cmd
}
