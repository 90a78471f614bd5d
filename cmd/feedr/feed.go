package main

import (
	"github.com/spf13/cobra"
)

func NewFeedCommand() *cobra.Command {
	var dog, voiceID string
	amount := 0

	cmd := &cobra.Command{
		Use:     "feed",
		Short:   "Feed now through the daemon",
		GroupID: gBasic,
		Long: `Ask the daemon to start a feeding right away. The command returns once
the feeding has started; see "feedr history" or "feedr watch" for the result.

To feed without a daemon, use "feedr run --once".`,
		Example: `  feedr feed --dog bori --voice hello.mp3 --amount 30`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ret, err := newClient().Feed(dog, voiceID, amount)
			if err != nil {
				return err
			}
			logResponse(ret)
			cmd.Printf("Feeding %s %s.\n", dog, grams(amount))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dog, "dog", "", "animal to feed")
	f.StringVar(&voiceID, "voice", "", "voice clip to play")
	f.IntVar(&amount, "amount", 0, "amount to dispense in grams")
	_ = cmd.MarkFlagRequired("dog")
	_ = cmd.MarkFlagRequired("voice")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
