package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlie0129/feedr/pkg/schedule"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage daily feeding schedules",
		Long: `Manage daily feeding schedules.

A schedule feeds one animal at the same time every day. The animal and the
time of day identify it.

  feedr schedule                                  Show all schedules
  feedr schedule add <dog> <HH:MM> <voice> <grams> Add a schedule
  feedr schedule delete <dog> <HH:MM>             Delete a schedule
  feedr schedule skip <dog> <HH:MM>               Skip the next run
  feedr schedule postpone <dog> <HH:MM> [duration] Postpone the next run`,
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}

	cmd.AddCommand(
		newScheduleShowCommand(),
		newScheduleAddCommand(),
		newScheduleDeleteCommand(),
		newScheduleSkipCommand(),
		newSchedulePostponeCommand(),
	)

	return cmd
}

func newScheduleShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show",
		Aliases: []string{"list", "ls"},
		Short:   "Show all schedules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleShow(cmd)
		},
	}
}

func runScheduleShow(cmd *cobra.Command) error {
	entries, err := newClient().GetSchedules()
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		cmd.Println("No schedules.")
		return nil
	}

	cmd.Println(bold("Schedules:"))
	for _, e := range entries {
		next := "not scheduled"
		if !e.NextRun.IsZero() {
			next = e.NextRun.Local().Format("Mon Jan 2 15:04")
		}
		cmd.Printf("  %s  %-12s %8s  voice %s, next %s\n",
			bold("%s", e.Time), e.Dog, grams(e.Amount), e.Voice, next)
	}
	return nil
}

func newScheduleAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "add <dog> <HH:MM> <voice> <grams>",
		Short:   "Add a daily feeding",
		Example: `  feedr schedule add bori 07:30 hello.mp3 30`,
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid amount: %v", err)
			}
			e := schedule.Entry{Dog: args[0], Time: args[1], Voice: args[2], Amount: amount}
			if err := e.Validate(); err != nil {
				return err
			}

			ret, err := newClient().SetSchedule(e)
			if err != nil {
				return fmt.Errorf("failed to add schedule: %w", err)
			}
			logResponse(ret)
			cmd.Printf("%s will be fed %s at %s every day.\n", e.Dog, grams(e.Amount), e.Time)
			return nil
		},
	}
}

func newScheduleDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <dog> <HH:MM>",
		Aliases: []string{"rm", "del"},
		Short:   "Delete a daily feeding",
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := newClient().DeleteSchedule(args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func newScheduleSkipCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skip <dog> <HH:MM>",
		Short: "Skip the next run of a daily feeding",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := newClient().SkipSchedule(args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to skip schedule: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

func newSchedulePostponeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "postpone <dog> <HH:MM> [duration]",
		Short: "Postpone the next run of a daily feeding",
		Long: `Postpone the next run of a daily feeding by a duration.
If no duration is provided, defaults to 30 minutes. The postponed run must
still happen before the one after it.`,
		Example: `  feedr schedule postpone bori 07:30
  feedr schedule postpone bori 07:30 2h`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			d := 30 * time.Minute
			if len(args) > 2 {
				parsed, err := time.ParseDuration(args[2])
				if err != nil {
					return fmt.Errorf("invalid duration: %v", err)
				}
				d = parsed
			}

			ret, err := newClient().PostponeSchedule(args[0], args[1], d)
			if err != nil {
				return fmt.Errorf("failed to postpone schedule: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}
