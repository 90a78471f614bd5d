package schedule

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Runner performs one feeding for an entry.
type Runner interface {
	Run(ctx context.Context, e Entry) error
}

// StopGrace is how long a feeding process gets to close the gate after
// SIGTERM before it is killed.
const StopGrace = 10 * time.Second

// ExecRunner runs each feeding as "<Executable> run --once ..." so that a
// crash or hang in the hardware path never takes the daemon down with it.
type ExecRunner struct {
	Executable string
	ConfigPath string
	LogLevel   string
}

func (r *ExecRunner) Args(e Entry) []string {
	args := []string{
		"run", "--once",
		"--dog", e.Dog,
		"--voice", e.Voice,
		"--amount", strconv.Itoa(e.Amount),
	}
	if r.ConfigPath != "" {
		args = append(args, "--config", r.ConfigPath)
	}
	if r.LogLevel != "" {
		args = append(args, "--log-level", r.LogLevel)
	}
	return args
}

func (r *ExecRunner) Run(ctx context.Context, e Entry) error {
	cmd := exec.CommandContext(ctx, r.Executable, r.Args(e)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = StopGrace
	cmd.Stdout = os.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logrus.WithFields(logrus.Fields{
		"dog":    e.Dog,
		"amount": e.Amount,
	}).Info("starting feeding process")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return pkgerrors.Wrapf(ctx.Err(), "feeding process for %s did not finish", e.Dog)
		}
		return pkgerrors.Wrapf(err, "feeding process for %s failed: %s", e.Dog, lastLine(stderr.String()))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
