package daemon

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"
)

func Uninstall() error {
	logrus.Infof("stopping feedr")

	out, err := exec.Command(systemctl, "disable", "--now", UnitName).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to disable %s: %w: %s. Are you root?", UnitName, err, out)
	}

	logrus.Infof("removing systemd unit")

	// if the file doesn't exist, we don't need to remove it
	_, err = os.Stat(UnitPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", UnitPath, err)
	}

	err = os.Remove(UnitPath)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", UnitPath, err)
	}

	if err := exec.Command(systemctl, "daemon-reload").Run(); err != nil {
		logrus.Warnf("systemctl daemon-reload failed: %v", err)
	}

	return nil
}
