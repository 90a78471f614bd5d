// Package schedule keeps the list of daily feedings and fires each one as
// a separate feeding process at its time of day.
package schedule

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotFound  = pkgerrors.New("schedule not found")
	ErrDuplicate = pkgerrors.New("schedule already exists")
	ErrInvalid   = pkgerrors.New("invalid schedule")
	ErrBusy      = pkgerrors.New("a feeding cycle is already running")
)

// Entry is one daily feeding. Dog and Time identify it.
type Entry struct {
	Dog    string `json:"dog"`
	Time   string `json:"time"`
	Voice  string `json:"voice"`
	Amount int    `json:"amount"`
}

// Key identifies an entry.
type Key struct {
	Dog  string
	Time string
}

func (e Entry) Key() Key {
	return Key{Dog: e.Dog, Time: e.Time}
}

func (k Key) String() string {
	return k.Dog + "@" + k.Time
}

// ParseTimeOfDay parses "HH:MM" on a 24 hour clock.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, pkgerrors.Wrapf(ErrInvalid, "time %q is not HH:MM", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, 0, pkgerrors.Wrapf(ErrInvalid, "time %q is not HH:MM", s)
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	minute = int(s[3]-'0')*10 + int(s[4]-'0')
	if hour > 23 || minute > 59 {
		return 0, 0, pkgerrors.Wrapf(ErrInvalid, "time %q is not between 00:00 and 23:59", s)
	}
	return hour, minute, nil
}

func (e Entry) Validate() error {
	if e.Dog == "" {
		return pkgerrors.Wrapf(ErrInvalid, "dog is required")
	}
	if e.Voice == "" {
		return pkgerrors.Wrapf(ErrInvalid, "voice is required")
	}
	if e.Amount <= 0 {
		return pkgerrors.Wrapf(ErrInvalid, "amount must be positive, got %d", e.Amount)
	}
	_, _, err := ParseTimeOfDay(e.Time)
	return err
}

// CronExpr is the daily cron expression for the entry's time of day.
func (e Entry) CronExpr() (string, error) {
	h, m, err := ParseTimeOfDay(e.Time)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}
