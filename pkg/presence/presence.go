// Package presence decides whether an animal is really standing at the
// feeder. Raw per-frame detections come from a FrameSource; Sustained only
// reports presence once the target class has been seen continuously for a
// minimum duration.
package presence

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Detector reports whether the target is present. Detect blocks until it
// can decide or ctx is done.
type Detector interface {
	Detect(ctx context.Context) (bool, error)
}

// Frame is the result of running the classifier on one captured image.
type Frame struct {
	// Classes lists the class ids found in the frame.
	Classes []int
	// Path is where the annotated frame was written, if anywhere.
	Path string
	// At is the capture time. Zero means "now".
	At time.Time
}

// FrameSource yields classified frames. io.EOF ends the stream.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Flusher is implemented by sources that buffer frames between reads.
// Detect flushes before it starts so that frames captured while nobody was
// looking do not count towards presence.
type Flusher interface {
	Flush()
}

// ClassPerson is the COCO class id for "person".
const ClassPerson = 0

// FramePath names the n-th annotated frame under dir.
func FramePath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", n))
}

// Sustained requires the target class in every frame for MinDuration.
// A frame without the target resets the timer.
type Sustained struct {
	Source      FrameSource
	TargetClass int
	MinDuration time.Duration

	now func() time.Time
}

func NewSustained(src FrameSource, targetClass int, minDuration time.Duration) *Sustained {
	return &Sustained{
		Source:      src,
		TargetClass: targetClass,
		MinDuration: minDuration,
		now:         time.Now,
	}
}

// Detect consumes frames until presence has been sustained, the source is
// exhausted (false, nil) or ctx is done.
func (s *Sustained) Detect(ctx context.Context) (bool, error) {
	if fl, ok := s.Source.(Flusher); ok {
		fl.Flush()
	}

	var since time.Time
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		f, err := s.Source.Next(ctx)
		if err == io.EOF {
			logrus.WithField("frames", frames).Debug("frame source exhausted without sustained presence")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		frames++

		at := f.At
		if at.IsZero() {
			at = s.now()
		}

		if !slices.Contains(f.Classes, s.TargetClass) {
			since = time.Time{}
			logrus.WithField("frame", f.Path).Trace("target not in frame")
			continue
		}

		if since.IsZero() {
			since = at
		}
		held := at.Sub(since)
		logrus.WithFields(logrus.Fields{
			"frame": f.Path,
			"held":  held,
		}).Trace("target in frame")

		if held >= s.MinDuration {
			logrus.WithFields(logrus.Fields{
				"frames": frames,
				"held":   held,
			}).Debug("sustained presence confirmed")
			return true, nil
		}
	}
}

// Static always answers with Present. It stands in for the camera on
// installs without one, so proximity alone starts dispensing.
type Static struct {
	Present bool
}

func (s Static) Detect(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Present, nil
}
