// Package loadcell reads a strain-gauge load cell through an HX711
// 24-bit amplifier and converts raw counts to grams.
package loadcell

import (
	"math"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/feedr/pkg/hw"
)

// ErrCalibration is returned when a weight is requested before the reader
// has a usable scale factor and zero offset.
var ErrCalibration = pkgerrors.New("load cell is not calibrated")

const (
	dataBits = 24
	// The HX711 sends two's complement; flipping the sign bit yields an
	// offset-binary value that orders naturally.
	signFlip = 0x800000

	DefaultScaleFactor  = 22
	DefaultReadyTimeout = 500 * time.Millisecond
)

// Reader bit-bangs the HX711 serial protocol. Gain is fixed at channel A,
// 128 (one extra clock pulse per conversion).
type Reader struct {
	data  hw.DigitalInput
	clock hw.DigitalOutput

	readyTimeout time.Duration
	now          hw.Clock

	mu          sync.Mutex
	offset      int64
	scaleFactor float64
	tared       bool
}

type Option func(*Reader)

// WithReadyTimeout bounds the wait for a conversion. Zero waits forever.
func WithReadyTimeout(d time.Duration) Option {
	return func(r *Reader) { r.readyTimeout = d }
}

func WithClock(now hw.Clock) Option {
	return func(r *Reader) { r.now = now }
}

func New(data hw.DigitalInput, clock hw.DigitalOutput, opts ...Option) *Reader {
	r := &Reader{
		data:         data,
		clock:        clock,
		readyTimeout: DefaultReadyTimeout,
		now:          time.Now,
		scaleFactor:  DefaultScaleFactor,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ReadRaw waits for the amplifier to signal a finished conversion and
// shifts out one 24-bit sample.
func (r *Reader) ReadRaw() (int64, error) {
	if _, err := hw.WaitForLevel(r.data, false, r.readyTimeout, r.now); err != nil {
		return 0, pkgerrors.Wrapf(err, "HX711 not ready")
	}

	var count uint32
	for i := 0; i < dataBits; i++ {
		if err := r.pulse(); err != nil {
			return 0, err
		}
		count <<= 1
		if r.data.Read() {
			count |= 1
		}
	}

	// Gain selection pulse.
	if err := r.pulse(); err != nil {
		return 0, err
	}

	return int64(count ^ signFlip), nil
}

func (r *Reader) pulse() error {
	if err := r.clock.Set(true); err != nil {
		return pkgerrors.Wrapf(err, "failed to raise HX711 clock")
	}
	if err := r.clock.Set(false); err != nil {
		return pkgerrors.Wrapf(err, "failed to lower HX711 clock")
	}
	return nil
}

// Tare records the current raw reading as the zero point.
func (r *Reader) Tare() error {
	raw, err := r.ReadRaw()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to tare")
	}
	r.SetOffset(raw)
	return nil
}

// TareWithRetry calls Tare, trying again up to retries more times while
// the amplifier reports it is not ready. Other errors end it at once.
func (r *Reader) TareWithRetry(retries int) error {
	var err error
	for i := 0; i <= retries; i++ {
		err = r.Tare()
		if err == nil || !pkgerrors.Is(err, hw.ErrSensorTimeout) {
			return err
		}
	}
	return pkgerrors.Wrapf(err, "gave up after %d attempts", retries+1)
}

// SetOffset sets the zero point directly and marks the reader as tared.
func (r *Reader) SetOffset(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = offset
	r.tared = true
}

func (r *Reader) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

func (r *Reader) SetScaleFactor(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scaleFactor = f
}

func (r *Reader) ScaleFactor() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scaleFactor
}

// Weight returns (raw - offset) / scaleFactor in grams.
func (r *Reader) Weight() (float64, error) {
	r.mu.Lock()
	offset, scale, tared := r.offset, r.scaleFactor, r.tared
	r.mu.Unlock()

	if !tared {
		return 0, pkgerrors.Wrapf(ErrCalibration, "tare has not been performed")
	}
	if !validScale(scale) {
		return 0, pkgerrors.Wrapf(ErrCalibration, "invalid scale factor %v", scale)
	}

	raw, err := r.ReadRaw()
	if err != nil {
		return 0, err
	}
	return float64(raw-offset) / scale, nil
}

// ScaleFactorFor derives the counts-per-gram factor from a reading taken
// with knownGrams on the platform.
func ScaleFactorFor(raw, offset int64, knownGrams float64) (float64, error) {
	if knownGrams <= 0 || math.IsNaN(knownGrams) || math.IsInf(knownGrams, 0) {
		return 0, pkgerrors.Wrapf(ErrCalibration, "reference weight must be positive, got %v", knownGrams)
	}
	f := float64(raw-offset) / knownGrams
	if !validScale(f) {
		return 0, pkgerrors.Wrapf(ErrCalibration, "reading did not change under load")
	}
	return f, nil
}

func validScale(f float64) bool {
	return f != 0 && !math.IsNaN(f) && !math.IsInf(f, 0)
}
