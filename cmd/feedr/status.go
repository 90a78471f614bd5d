package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/events"
	"github.com/charlie0129/feedr/pkg/history"
	"github.com/charlie0129/feedr/pkg/version"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of feedr",
		Long:    `Get daemon health, upcoming feedings and the latest feeding.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()

			health, err := c.GetHealth()
			if err != nil {
				return err
			}
			entries, err := c.GetSchedules()
			if err != nil {
				return err
			}
			records, err := c.GetHistory()
			if err != nil {
				return err
			}

			cmd.Println(bold("Daemon:"))
			cmd.Printf("  Address: %s\n", c.BaseURL())
			cmd.Printf("  Healthy: %s\n", bool2Text(health.Status == "healthy"))
			if health.Uptime != "" {
				cmd.Printf("  Uptime: %s\n", health.Uptime)
			}
			cmd.Printf("  Detector: %s\n", health.Detector)
			if health.Busy {
				cmd.Printf("  Feeding: %s\n", color.GreenString("in progress"))
			} else {
				cmd.Printf("  Feeding: %s\n", "idle")
			}
			if v, err := c.GetVersion(); err == nil {
				cmd.Printf("  Version: %s", v.Version)
				if v.Version != version.Version {
					cmd.Printf(" (client is %s)", color.YellowString(version.Version))
				}
				cmd.Println()
			}

			cmd.Println()
			cmd.Println(bold("Next feeding:"))
			var next *time.Time
			nextIdx := -1
			for i, e := range entries {
				if e.NextRun.IsZero() {
					continue
				}
				if next == nil || e.NextRun.Before(*next) {
					t := e.NextRun
					next, nextIdx = &t, i
				}
			}
			if nextIdx < 0 {
				cmd.Println("  none scheduled")
			} else {
				e := entries[nextIdx]
				cmd.Printf("  %s for %s at %s (in %s)\n", bold("%s", grams(e.Amount)), e.Dog,
					next.Local().Format("Mon 15:04"), time.Until(*next).Round(time.Minute))
			}
			cmd.Printf("  Schedules: %d\n", health.SchedulesCount)

			cmd.Println()
			cmd.Println(bold("Last feeding:"))
			last := lastFeeding(records)
			if last == nil {
				cmd.Println("  none yet")
			} else {
				cmd.Printf("  %s  %s %s  %s\n", last.DateTime, last.Dog, grams(last.Amount), statusText(last.Status))
			}
			return nil
		},
	}
}

// lastFeeding returns the newest record of a feeding that actually ran.
func lastFeeding(records []history.Record) *history.Record {
	for i := range records {
		if records[i].Status != history.StatusScheduled {
			return &records[i]
		}
	}
	return nil
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: gAdvanced,
		Short:   "Follow daemon events",
		Long:    `Print schedule changes, upcoming feedings and feeding results as they happen.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := newClient().Watch(ctx, func(ev events.Event) {
				cmd.Println(formatEvent(ev))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func formatEvent(ev events.Event) string {
	ts := time.Now().Format(time.Kitchen)
	switch ev.Name {
	case events.FeedingUpcoming:
		p, err := events.DecodeAs[events.FeedingUpcomingEvent](ev)
		if err == nil {
			return ts + " upcoming: " + p.Dog + " " + grams(p.Amount) + " at " + p.Time
		}
	case events.FeedingResult:
		p, err := events.DecodeAs[events.FeedingResultEvent](ev)
		if err == nil {
			s := ts + " " + p.Dog + " " + grams(p.Amount) + ": " + statusText(history.Status(p.Status))
			if p.Error != "" {
				s += " (" + p.Error + ")"
			}
			return s
		}
	case events.ScheduleChanged:
		p, err := events.DecodeAs[events.ScheduleChangedEvent](ev)
		if err == nil {
			return ts + " schedule " + p.Action + ": " + p.Dog + " at " + p.Time
		}
	}
	logrus.Debugf("unformatted event %s", ev.Name)
	return ts + " " + ev.Name + " " + string(ev.Data)
}
