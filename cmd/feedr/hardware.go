package main

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/config"
	"github.com/charlie0129/feedr/pkg/feeding"
	"github.com/charlie0129/feedr/pkg/hw"
	"github.com/charlie0129/feedr/pkg/loadcell"
	"github.com/charlie0129/feedr/pkg/presence"
	"github.com/charlie0129/feedr/pkg/servo"
	"github.com/charlie0129/feedr/pkg/ultrasonic"
)

// openResources opens every handle a feeding cycle needs. On error the
// handles opened so far are released.
func openResources(conf *config.File) (res *feeding.Resources, err error) {
	res = &feeding.Resources{}
	defer func() {
		if err != nil {
			_ = res.Close()
			res = nil
		}
	}()

	dist, err := openDistance(conf, res)
	if err != nil {
		return nil, err
	}
	res.Distance = dist

	gate, err := openGate(conf, res)
	if err != nil {
		return nil, err
	}
	res.Gate = gate

	if conf.WeightSensor() {
		cell, err := openLoadCell(conf, res)
		if err != nil {
			return nil, err
		}
		if err := cell.TareWithRetry(conf.MaxSensorTimeouts()); err != nil {
			return nil, err
		}
		logrus.WithField("offset", cell.Offset()).Info("scale tared")
		res.Meter = cell
	} else {
		logrus.Info("weight sensor disabled, dispensing by time")
	}

	if argv := conf.DetectorCommand(); len(argv) > 0 {
		src, err := presence.NewExecSource(argv, conf.OutputDir())
		if err != nil {
			return nil, err
		}
		res.OnClose(src)
		res.Detector = presence.NewSustained(src, presence.ClassPerson, conf.MinPresence())
	} else {
		logrus.Warn("no detector command configured, every close reading counts as present")
		res.Detector = presence.Static{Present: true}
	}

	return res, nil
}

func openDistance(conf *config.File, res *feeding.Resources) (*ultrasonic.Sensor, error) {
	trig, err := hw.OpenOutput(conf.TriggerPin())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open trigger pin")
	}
	res.OnClose(trig)

	echo, err := hw.OpenInput(conf.EchoPin())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open echo pin")
	}
	res.OnClose(echo)

	return ultrasonic.New(trig, echo, ultrasonic.WithTimeout(conf.SensorTimeout())), nil
}

func openGate(conf *config.File, res *feeding.Resources) (*servo.Servo, error) {
	var pwm interface {
		hw.PWMOutput
		Close() error
	}
	var err error

	switch conf.ServoBackend() {
	case config.ServoBackendGovattu:
		pwm, err = hw.OpenVattuPWM(conf.ServoPin())
	default:
		pwm, err = hw.OpenPWM(conf.ServoPin(), hw.ServoFrequency)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open servo pin")
	}
	res.OnClose(pwm)

	return servo.New(pwm, servo.WithDwell(conf.ServoDwell())), nil
}

// openLoadCell returns an untared reader using the configured scale factor.
func openLoadCell(conf *config.File, res *feeding.Resources) (*loadcell.Reader, error) {
	data, err := hw.OpenInput(conf.LoadCellDataPin())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open load cell data pin")
	}
	res.OnClose(data)

	clk, err := hw.OpenOutput(conf.LoadCellClockPin())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open load cell clock pin")
	}
	res.OnClose(clk)

	cell := loadcell.New(data, clk, loadcell.WithReadyTimeout(conf.LoadCellReadyTimeout()))
	cell.SetScaleFactor(conf.ScaleFactor())
	return cell, nil
}

func loadConfig() (*config.File, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load config")
	}
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid config %s", configPath)
	}
	return conf, nil
}
