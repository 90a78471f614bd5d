package feeding

import (
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/presence"
)

// DistanceSensor measures the distance to whatever is in front of the bowl.
type DistanceSensor interface {
	MeasureDistance() (float64, error)
}

// Gate is the food gate actuator.
type Gate interface {
	SetAngle(angle int) error
}

// WeightMeter reports how much food is in the bowl, in grams.
type WeightMeter interface {
	Weight() (float64, error)
}

// Resources owns every hardware handle a cycle uses. Meter may be nil, in
// which case dispensing is timed instead of weighed.
type Resources struct {
	Distance DistanceSensor
	Detector presence.Detector
	Gate     Gate
	Meter    WeightMeter

	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

// OnClose registers c to be released by Close, in reverse order of
// registration.
func (r *Resources) OnClose(c io.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, c)
}

// Close releases all registered handles. Later calls are no-ops.
func (r *Resources) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			logrus.WithError(err).Warn("failed to release hardware resource")
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
