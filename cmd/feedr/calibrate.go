package main

import (
	"bufio"
	"fmt"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/config"
	"github.com/charlie0129/feedr/pkg/feeding"
	"github.com/charlie0129/feedr/pkg/hw"
	"github.com/charlie0129/feedr/pkg/loadcell"
	"github.com/charlie0129/feedr/pkg/lock"
)

// withHardware runs fn while holding the feeder lock. Handles registered
// on res are released afterwards.
func withHardware(fn func(conf *config.File, res *feeding.Resources) error) error {
	conf, err := loadConfig()
	if err != nil {
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

	res := &feeding.Resources{}
	defer func() {
		if err := res.Close(); err != nil {
			logrus.Errorf("failed to release hardware: %v", err)
		}
	}()

	return fn(conf, res)
}

func NewTareCommand() *cobra.Command {
	samples := 0

	cmd := &cobra.Command{
		Use:     "tare",
		Short:   "Zero the scale and show readings",
		GroupID: gHardware,
		Long: `Zero the scale and show readings.

Empty the bowl first. The offset is printed, followed by a few weight
readings that should stay close to 0 g. Feeding cycles tare on their own at
start, so nothing is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHardware(func(conf *config.File, res *feeding.Resources) error {
				cell, err := openLoadCell(conf, res)
				if err != nil {
					return err
				}
				if err := cell.Tare(); err != nil {
					return err
				}
				cmd.Printf("Offset: %s\n", bold("%d", cell.Offset()))

				for i := 0; i < samples; i++ {
					time.Sleep(conf.WeighInterval())
					w, err := cell.Weight()
					if err != nil {
						return err
					}
					cmd.Printf("  %s\n", bold("%.1f g", w))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&samples, "samples", 5, "weight readings to print after taring")

	return cmd
}

func NewCalibrateCommand() *cobra.Command {
	knownGrams := 0.0
	save := false

	cmd := &cobra.Command{
		Use:     "calibrate",
		Short:   "Work out the load cell scale factor",
		GroupID: gHardware,
		Long: `Work out the load cell scale factor.

The scale is tared with an empty platform, then you place an object of known
mass on it. The scale factor is (reading - offset) / known grams. Use --save
to write it to the config file.`,
		Example: `  feedr calibrate --known-grams 500
  feedr calibrate --known-grams 500 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHardware(func(conf *config.File, res *feeding.Resources) error {
				cell, err := openLoadCell(conf, res)
				if err != nil {
					return err
				}

				f, err := calibrate(cmd, cell, knownGrams)
				if err != nil {
					return err
				}
				cmd.Printf("Scale factor: %s (currently %v)\n", bold("%.4f", f), conf.ScaleFactor())

				if !save {
					cmd.Println("Run again with --save to keep it.")
					return nil
				}
				conf.SetScaleFactor(f)
				if err := conf.Save(); err != nil {
					return pkgerrors.Wrapf(err, "failed to save config")
				}
				logrus.Infof("scale factor saved to %s", conf.Path())
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&knownGrams, "known-grams", 0, "mass of the reference object in grams")
	cmd.Flags().BoolVar(&save, "save", false, "write the scale factor to the config file")
	_ = cmd.MarkFlagRequired("known-grams")

	return cmd
}

type rawReader interface {
	Tare() error
	Offset() int64
	ReadRaw() (int64, error)
}

var _ rawReader = (*loadcell.Reader)(nil)

// calibrate walks the user through taring and loading the scale.
func calibrate(cmd *cobra.Command, cell rawReader, knownGrams float64) (float64, error) {
	if knownGrams <= 0 {
		return 0, pkgerrors.Wrapf(loadcell.ErrCalibration, "--known-grams must be positive")
	}
	in := bufio.NewReader(cmd.InOrStdin())

	if err := prompt(cmd, in, "Empty the platform and press Enter."); err != nil {
		return 0, err
	}
	if err := cell.Tare(); err != nil {
		return 0, err
	}
	cmd.Printf("Offset: %d\n", cell.Offset())

	if err := prompt(cmd, in, fmt.Sprintf("Place %v g on the platform and press Enter.", knownGrams)); err != nil {
		return 0, err
	}
	raw, err := cell.ReadRaw()
	if err != nil {
		return 0, err
	}
	cmd.Printf("Reading: %d\n", raw)

	return loadcell.ScaleFactorFor(raw, cell.Offset(), knownGrams)
}

func prompt(cmd *cobra.Command, in *bufio.Reader, msg string) error {
	cmd.Println(msg)
	if _, err := in.ReadString('\n'); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func NewDistanceCommand() *cobra.Command {
	samples := 0

	cmd := &cobra.Command{
		Use:     "distance",
		Short:   "Print ultrasonic sensor readings",
		GroupID: gHardware,
		Long: `Print ultrasonic sensor readings, to check the wiring and pick a
distance threshold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withHardware(func(conf *config.File, res *feeding.Resources) error {
				sensor, err := openDistance(conf, res)
				if err != nil {
					return err
				}

				for i := 0; i < samples; i++ {
					if i > 0 {
						time.Sleep(conf.PollInterval())
					}
					d, err := sensor.MeasureDistance()
					if pkgerrors.Is(err, hw.ErrSensorTimeout) {
						cmd.Println("  timed out")
						continue
					}
					if err != nil {
						return err
					}
					within := d <= conf.DistanceThreshold()
					cmd.Printf("  %s %s\n", bold("%.2f cm", d), bool2Text(within))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&samples, "samples", 5, "readings to take")

	return cmd
}
