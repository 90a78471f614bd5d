package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

func Install(configPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to %s: %w", configPath, err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	logrus.Infof("writing systemd unit to %s", filepath.Dir(UnitPath))

	// mkdir -p
	err = os.MkdirAll(filepath.Dir(UnitPath), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(UnitPath), err)
	}

	// warn if the file already exists
	_, err = os.Stat(UnitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", UnitPath)
	}

	err = os.WriteFile(UnitPath, []byte(Unit(exePath, configPath)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", UnitPath, err)
	}

	logrus.Infof("starting feedr")

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", "--now", UnitName},
	} {
		out, err := exec.Command(systemctl, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %v failed: %w: %s", args, err, out)
		}
	}

	return nil
}
