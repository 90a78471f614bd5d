package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/config"
	"github.com/charlie0129/feedr/pkg/feeding"
	"github.com/charlie0129/feedr/pkg/lock"
	"github.com/charlie0129/feedr/pkg/voice"
)

type runOptions struct {
	dog    string
	voice  string
	amount int
	once   bool
}

// NewRunCommand runs feeding cycles in the foreground. The daemon starts
// "feedr run --once" for every scheduled feeding.
func NewRunCommand() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the feeder in the foreground",
		GroupID: gBasic,
		Long: `Run the feeder in the foreground.

The voice clip is played once, then the feeder waits for the animal to come
close, confirms it is there and dispenses the requested amount. Without
--once it goes back to waiting after every feeding until interrupted.

The hardware is locked for the whole run, so only one feeding can happen at
a time.`,
		Example: `  feedr run --dog bori --voice hello.mp3 --amount 30
  feedr run --dog bori --voice hello.mp3 --amount 30 --once`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runFeeder(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dog, "dog", "", "animal to feed")
	f.StringVar(&opts.voice, "voice", "", "voice clip to play, a file name inside the voice directory")
	f.IntVar(&opts.amount, "amount", 0, "amount to dispense in grams")
	f.BoolVar(&opts.once, "once", false, "exit after the first completed feeding")
	_ = cmd.MarkFlagRequired("dog")
	_ = cmd.MarkFlagRequired("voice")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runFeeder(opts runOptions) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	req := feeding.Request{
		AnimalID:    opts.dog,
		VoiceClipID: opts.voice,
		TargetGrams: opts.amount,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	l, err := lock.Acquire(conf.LockPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			logrus.Errorf("failed to release lock: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := openResources(conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(); err != nil {
			logrus.Errorf("failed to release hardware: %v", err)
		}
	}()

	player := &voice.Player{Command: conf.VoicePlayer()}
	if err := player.Announce(ctx, conf.VoiceDir(), req.VoiceClipID); err != nil {
		logrus.WithError(err).Warn("failed to play voice clip")
	}

	ctrl, err := feeding.NewController(res, req, controllerOptions(conf)...)
	if err != nil {
		return err
	}

	if opts.once {
		err = ctrl.RunOnce(ctx)
	} else {
		err = ctrl.Run(ctx)
	}
	if errors.Is(err, context.Canceled) {
		logrus.Info("interrupted, feeder stopped")
		return nil
	}
	return err
}

func controllerOptions(conf *config.File) []feeding.Option {
	return []feeding.Option{
		feeding.WithTiming(feeding.Timing{
			PollInterval:      conf.PollInterval(),
			OpenSettle:        conf.OpenSettle(),
			SimulatedDispense: conf.SimulatedDispense(),
			WeighInterval:     conf.WeighInterval(),
			DetectTimeout:     conf.DetectTimeout(),
		}),
		feeding.WithDistanceThreshold(conf.DistanceThreshold()),
		feeding.WithMaxSensorTimeouts(conf.MaxSensorTimeouts()),
	}
}
