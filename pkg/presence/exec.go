package presence

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OutputDirPlaceholder in a detector argument is replaced with the frame
// output directory.
const OutputDirPlaceholder = "{output}"

// frameBuffer is how many classified frames are kept while nobody is
// reading. Older frames are dropped first.
const frameBuffer = 8

// ErrDetectorExited is returned by ExecSource once the detector process
// has stopped on its own. The process is expected to run until Close.
var ErrDetectorExited = pkgerrors.New("detector exited")

// frameLine is what the detector prints per frame, one JSON object per line:
//
//	{"classes": [0, 16], "frame": "/home/pi/auto_feeder/output/frame_0001.jpg", "ts": 1714550400.25}
//
// ts is the capture time in Unix seconds. Without it the time the line was
// read is used.
type frameLine struct {
	Classes []int   `json:"classes"`
	Frame   string  `json:"frame,omitempty"`
	TS      float64 `json:"ts,omitempty"`
}

func (fl frameLine) capturedAt() time.Time {
	if fl.TS <= 0 {
		return time.Now()
	}
	sec, frac := math.Modf(fl.TS)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// detectorProc is one run of the detector process.
type detectorProc struct {
	cancel context.CancelFunc
	frames chan Frame
	done   chan struct{}
	// err is set before done is closed. It is nil when the process was
	// stopped by Close.
	err error
}

// ExecSource runs an external classifier (camera capture plus model) and
// reads frames from its standard output. The process is started on the
// first call to Next and kept running until Close.
type ExecSource struct {
	argv      []string
	outputDir string

	mu   sync.Mutex
	proc *detectorProc
	n    int
}

func NewExecSource(argv []string, outputDir string) (*ExecSource, error) {
	if len(argv) == 0 {
		return nil, pkgerrors.New("detector command is empty")
	}
	return &ExecSource{argv: argv, outputDir: outputDir}, nil
}

func (e *ExecSource) start() (*detectorProc, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create frame output directory %s", e.outputDir)
	}

	args := make([]string, 0, len(e.argv)-1)
	for _, a := range e.argv[1:] {
		args = append(args, strings.ReplaceAll(a, OutputDirPlaceholder, e.outputDir))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, e.argv[0], args...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, pkgerrors.Wrapf(err, "failed to attach to detector output")
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, pkgerrors.Wrapf(err, "failed to start detector %s", e.argv[0])
	}
	logrus.WithFields(logrus.Fields{
		"command": e.argv[0],
		"pid":     cmd.Process.Pid,
	}).Info("detector started")

	// A child of the detector may keep the pipe open after the detector
	// itself is killed.
	context.AfterFunc(ctx, func() { _ = stdout.Close() })

	p := &detectorProc{
		cancel: cancel,
		frames: make(chan Frame, frameBuffer),
		done:   make(chan struct{}),
	}
	go e.run(ctx, cmd, stdout, p)
	return p, nil
}

// run reads frames until the detector closes its output, then reaps it.
func (e *ExecSource) run(ctx context.Context, cmd *exec.Cmd, r io.Reader, p *detectorProc) {
	defer close(p.frames)

	scanErr := e.scan(r, p.frames)
	waitErr := cmd.Wait()

	if ctx.Err() == nil {
		cause := waitErr
		if cause == nil {
			cause = scanErr
		}
		if cause != nil {
			p.err = pkgerrors.Wrapf(ErrDetectorExited, "%s: %v", e.argv[0], cause)
		} else {
			p.err = pkgerrors.Wrapf(ErrDetectorExited, "%s closed its output", e.argv[0])
		}
		logrus.WithError(p.err).Error("detector stopped unexpectedly")
		p.cancel()
	}
	close(p.done)
}

func (e *ExecSource) scan(r io.Reader, out chan Frame) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}

		var fl frameLine
		if err := json.Unmarshal([]byte(raw), &fl); err != nil {
			logrus.WithError(err).WithField("line", raw).Warn("ignoring malformed detector output")
			continue
		}
		f := Frame{Classes: fl.Classes, Path: fl.Frame, At: fl.capturedAt()}

		for {
			select {
			case out <- f:
			default:
				// Full. Drop the oldest frame and try again.
				select {
				case <-out:
				default:
				}
				continue
			}
			break
		}
	}
	if err := sc.Err(); err != nil {
		return pkgerrors.Wrapf(err, "failed to read detector output")
	}
	return nil
}

func (e *ExecSource) Next(ctx context.Context) (Frame, error) {
	e.mu.Lock()
	if e.proc == nil {
		p, err := e.start()
		if err != nil {
			e.mu.Unlock()
			return Frame{}, err
		}
		e.proc = p
	}
	p := e.proc
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f, ok := <-p.frames:
		if !ok {
			<-p.done
			if p.err != nil {
				return Frame{}, p.err
			}
			return Frame{}, io.EOF
		}

		e.mu.Lock()
		if f.Path == "" {
			f.Path = FramePath(e.outputDir, e.n)
		}
		e.n++
		e.mu.Unlock()
		return f, nil
	}
}

// Flush drops the frames read from the detector but not yet returned by
// Next.
func (e *ExecSource) Flush() {
	e.mu.Lock()
	p := e.proc
	e.mu.Unlock()
	if p == nil {
		return
	}

	dropped := 0
	for {
		select {
		case _, ok := <-p.frames:
			if ok {
				dropped++
				continue
			}
		default:
		}
		break
	}
	if dropped > 0 {
		logrus.WithField("frames", dropped).Debug("dropped buffered detector frames")
	}
}

// Close stops the detector process. It is safe to call more than once.
func (e *ExecSource) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == nil {
		return nil
	}
	e.proc.cancel()
	<-e.proc.done
	e.proc = nil
	return nil
}
