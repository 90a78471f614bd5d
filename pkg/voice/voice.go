// Package voice plays the recorded call that tells the animal food is
// coming.
package voice

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound  = pkgerrors.New("voice clip not found")
	ErrInvalidID = pkgerrors.New("invalid voice clip name")
)

// Resolve returns the path of clip id inside dir. Ids are plain file
// names; anything that could escape dir is rejected.
func Resolve(dir, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}

	p := filepath.Join(dir, id)
	st, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", pkgerrors.Wrapf(ErrNotFound, "%s", p)
		}
		return "", pkgerrors.Wrapf(err, "failed to stat %s", p)
	}
	if st.IsDir() {
		return "", pkgerrors.Wrapf(ErrNotFound, "%s is a directory", p)
	}
	return p, nil
}

// ValidateID checks that id is a bare file name.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return pkgerrors.Wrapf(ErrInvalidID, "%q", id)
	}
	return nil
}

// Player plays a clip with an external command, e.g. mpg123.
type Player struct {
	Command []string
}

// Play runs the player once and waits for it to finish.
func (p *Player) Play(ctx context.Context, path string) error {
	if len(p.Command) == 0 {
		return pkgerrors.New("no voice player configured")
	}

	args := append(append([]string(nil), p.Command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.Command[0], args...)

	logrus.WithField("clip", path).Info("playing voice clip")
	if out, err := cmd.CombinedOutput(); err != nil {
		return pkgerrors.Wrapf(err, "%s failed: %s", p.Command[0], strings.TrimSpace(string(out)))
	}
	return nil
}

// Announce resolves and plays id. A missing clip is only a warning: the
// animal still gets fed.
func (p *Player) Announce(ctx context.Context, dir, id string) error {
	path, err := Resolve(dir, id)
	if pkgerrors.Is(err, ErrNotFound) {
		logrus.WithError(err).Warn("voice clip not found, feeding without it")
		return nil
	}
	if err != nil {
		return err
	}
	return p.Play(ctx, path)
}
