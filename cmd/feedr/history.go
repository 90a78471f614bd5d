package main

import (
	"github.com/spf13/cobra"
)

func NewHistoryCommand() *cobra.Command {
	limit := 0

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show recent feedings",
		GroupID: gBasic,
		Long:    `Show recent feedings, newest first. The daemon keeps the last 100.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := newClient().GetHistory()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("No feedings yet.")
				return nil
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			for _, r := range records {
				cmd.Printf("%s  %-12s %5s %8s  %s\n",
					r.DateTime, r.Dog, r.Time, grams(r.Amount), statusText(r.Status))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show, 0 for all")

	return cmd
}
