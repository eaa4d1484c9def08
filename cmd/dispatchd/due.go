package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dispatchd/internal/domain"
)

func newDueCmd(f *rootFlags) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List pending messages whose fire instant has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			db, repo, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			due, err := repo.FindByStatus(cmd.Context(), domain.StatusPending, time.Time{}, now)
			if err != nil {
				return fmt.Errorf("list due messages: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(due) == 0 {
				fmt.Fprintln(out, "No due messages.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFIRE AT\tTYPE\tPRIORITY\tCONTENT")
			for _, m := range due {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.FireAt.Format(time.RFC3339), m.RecipientType, m.Priority, truncate(m.Content, 40))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference instant (RFC 3339, default now)")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
