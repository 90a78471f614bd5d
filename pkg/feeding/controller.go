// Package feeding runs the feeding cycle: wait for something near the
// bowl, confirm it is the animal, open the gate, meter the food and close
// the gate again.
package feeding

import (
	"context"
	"errors"
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/hw"
	"github.com/charlie0129/feedr/pkg/servo"
)

// ErrSensorFailure is returned when a sensor times out too many times in a
// row to keep going.
var ErrSensorFailure = pkgerrors.New("sensor failed repeatedly")

const (
	DefaultDistanceThreshold = 30.0
	DefaultMaxSensorTimeouts = 5
)

type Controller struct {
	res *Resources
	req Request

	timing      Timing
	threshold   float64
	maxTimeouts int

	state    State
	gateOpen bool

	onTransition func(Transition)
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

type Option func(*Controller)

func WithTiming(t Timing) Option {
	return func(c *Controller) { c.timing = t }
}

// WithDistanceThreshold sets the distance, in cm, at or below which
// presence detection starts.
func WithDistanceThreshold(cm float64) Option {
	return func(c *Controller) { c.threshold = cm }
}

// WithMaxSensorTimeouts sets how many consecutive sensor timeouts are
// tolerated before the cycle is aborted.
func WithMaxSensorTimeouts(n int) Option {
	return func(c *Controller) { c.maxTimeouts = n }
}

// WithObserver registers fn to be called on every state entry.
func WithObserver(fn func(Transition)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func NewController(res *Resources, req Request, opts ...Option) (*Controller, error) {
	if err := req.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid feeding request")
	}
	if res == nil || res.Distance == nil || res.Detector == nil || res.Gate == nil {
		return nil, pkgerrors.New("distance sensor, detector and gate are required")
	}

	c := &Controller{
		res:         res,
		req:         req,
		timing:      DefaultTiming(),
		threshold:   DefaultDistanceThreshold,
		maxTimeouts: DefaultMaxSensorTimeouts,
		state:       StateIdle,
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// State returns the state the controller last entered.
func (c *Controller) State() State {
	return c.state
}

// GateOpen reports whether the gate was last commanded open.
func (c *Controller) GateOpen() bool {
	return c.gateOpen
}

// Run polls and feeds until ctx is done or an unrecoverable error occurs.
// The gate is closed on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	return c.run(ctx, false)
}

// RunOnce is like Run but returns after the first completed feeding.
func (c *Controller) RunOnce(ctx context.Context) error {
	return c.run(ctx, true)
}

func (c *Controller) run(ctx context.Context, once bool) (err error) {
	logger := logrus.WithFields(logrus.Fields{
		"dog":    c.req.AnimalID,
		"target": c.req.TargetGrams,
	})
	logger.Info("feeding cycle started")

	defer func() {
		if c.gateOpen {
			logger.WithError(err).Warn("cycle ended with the gate open, closing it")
			if cerr := c.closeGate(); cerr != nil {
				logger.WithError(cerr).Error("failed to force-close the gate")
				if err == nil || errors.Is(err, context.Canceled) {
					err = cerr
				}
			}
		}
	}()

	timeouts := 0
	for {
		c.enter(StateSensing)

		dist, err := c.res.Distance.MeasureDistance()
		switch {
		case errors.Is(err, hw.ErrSensorTimeout):
			timeouts++
			logger.WithError(err).WithField("consecutive", timeouts).Warn("distance reading timed out, skipping poll")
			if timeouts > c.maxTimeouts {
				return pkgerrors.Wrapf(ErrSensorFailure, "distance sensor timed out %d times in a row", timeouts)
			}
		case err != nil:
			return pkgerrors.Wrapf(err, "failed to measure distance")
		default:
			timeouts = 0
			logger.WithField("distance", dist).Debug("distance reading")

			if dist <= c.threshold {
				fed, err := c.feed(ctx, logger.WithField("distance", dist))
				if err != nil {
					return err
				}
				if fed {
					if once {
						return nil
					}
					c.enter(StateIdle)
				}
			}
		}

		if err := c.sleep(ctx, c.timing.PollInterval); err != nil {
			return err
		}
	}
}

// feed runs one detection and, if the animal is confirmed, one dispense.
func (c *Controller) feed(ctx context.Context, logger *logrus.Entry) (bool, error) {
	c.enter(StateDetecting)
	logger.Info("something is near the bowl, looking for the animal")

	detectCtx := ctx
	if c.timing.DetectTimeout > 0 {
		var cancel context.CancelFunc
		detectCtx, cancel = context.WithTimeout(ctx, c.timing.DetectTimeout)
		defer cancel()
	}

	present, err := c.res.Detector.Detect(detectCtx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return false, pkgerrors.Wrapf(err, "presence detection failed")
		}
		logger.WithField("timeout", c.timing.DetectTimeout).Info("presence not confirmed in time")
		present = false
	}
	if !present {
		logger.Info("animal not confirmed, back to sensing")
		return false, nil
	}

	c.enter(StateDispensing)
	logger.Info("animal confirmed, opening the gate")
	if err := c.openGate(); err != nil {
		return false, err
	}
	if err := c.sleep(ctx, c.timing.OpenSettle); err != nil {
		return false, err
	}

	if c.res.Meter == nil {
		logger.WithField("duration", c.timing.SimulatedDispense).Info("no weight sensor, dispensing for a fixed time")
		if err := c.sleep(ctx, c.timing.SimulatedDispense); err != nil {
			return false, err
		}
	} else if err := c.weigh(ctx, logger); err != nil {
		return false, err
	}

	c.enter(StateDone)
	if err := c.closeGate(); err != nil {
		return false, err
	}
	logger.Info("feeding done, gate closed")
	return true, nil
}

// weigh polls the meter until the target amount is in the bowl.
func (c *Controller) weigh(ctx context.Context, logger *logrus.Entry) error {
	target := float64(c.req.TargetGrams)
	timeouts := 0

	for {
		c.enter(StateWeighing)

		w, err := c.res.Meter.Weight()
		switch {
		case errors.Is(err, hw.ErrSensorTimeout):
			timeouts++
			logger.WithError(err).WithField("consecutive", timeouts).Warn("weight reading timed out")
			if timeouts > c.maxTimeouts {
				return pkgerrors.Wrapf(ErrSensorFailure, "weight sensor timed out %d times in a row", timeouts)
			}
		case err != nil:
			return pkgerrors.Wrapf(err, "failed to read weight")
		default:
			timeouts = 0
			logger.WithField("weight", math.Round(w*10)/10).Debug("weight reading")
			if w >= target {
				logger.WithField("weight", w).Info("target weight reached")
				return nil
			}
		}

		if err := c.sleep(ctx, c.timing.WeighInterval); err != nil {
			return err
		}
	}
}

func (c *Controller) openGate() error {
	if err := c.res.Gate.SetAngle(servo.AngleOpen); err != nil {
		return pkgerrors.Wrapf(err, "failed to open the gate")
	}
	c.gateOpen = true
	return nil
}

func (c *Controller) closeGate() error {
	if err := c.res.Gate.SetAngle(servo.AngleClosed); err != nil {
		return pkgerrors.Wrapf(err, "failed to close the gate")
	}
	c.gateOpen = false
	return nil
}

func (c *Controller) enter(s State) {
	t := Transition{From: c.state, To: s, At: c.now()}
	if s != c.state {
		logrus.WithFields(logrus.Fields{
			"from":  t.From,
			"state": t.To,
		}).Debug("state changed")
	}
	c.state = s
	if c.onTransition != nil {
		c.onTransition(t)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
