package main

import (
	"strconv"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/feedr/pkg/history"
)

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

func statusText(s history.Status) string {
	switch s {
	case history.StatusCompleted:
		return color.GreenString(string(s))
	case history.StatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func grams(n int) string {
	return strconv.Itoa(n) + " g"
}

func logResponse(ret string) {
	if ret != "" {
		logrus.Infof("daemon responded: %s", ret)
	}
}
