package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tallerflow/ticket-service/internal/repository"
)

func newResyncCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resync [ticket-id...]",
		Short: "Rebuild ticket history arrays from the history log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("pass ticket ids or --all")
			}
			a, err := loadApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := targetTickets(cmd.Context(), a, args, all)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, id := range ids {
				entries, err := a.tickets.ResyncHistory(cmd.Context(), id)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s\tFAILED\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s\tok\t%d entries\n", id, len(entries))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tickets failed to resync", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "resync every ticket")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "verify [ticket-id...]",
		Short: "Compare ticket history arrays with the history log",
		Long:  "Checks every ticket, or the given ones, and reports missing, unexpected, out-of-order or skewed history entries.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := targetTickets(cmd.Context(), a, args, len(args) == 0)
			if err != nil {
				return err
			}
			divergent, err := verifyTickets(cmd.Context(), a, ids, repair, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d tickets checked, %d divergent\n", len(ids), divergent)
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "resync divergent tickets immediately")
	return cmd
}

func verifyTickets(ctx context.Context, a *application, ids []string, repair bool, out io.Writer) (int, error) {
	var divergent int
	for _, id := range ids {
		report, err := a.tickets.VerifyHistory(ctx, id)
		if err != nil {
			return divergent, fmt.Errorf("verify %s: %w", id, err)
		}
		if !report.Divergent {
			continue
		}
		divergent++
		fmt.Fprintf(out, "%s\tmissing=%v unexpected=%v outOfOrder=%t skewed=%v\n",
			id, report.Missing, report.Unexpected, report.OutOfOrder, report.Skewed)
		if repair {
			if _, err := a.tickets.ResyncHistory(ctx, id); err != nil {
				return divergent, fmt.Errorf("resync %s: %w", id, err)
			}
		}
	}
	return divergent, nil
}

func targetTickets(ctx context.Context, a *application, args []string, all bool) ([]string, error) {
	if !all {
		return args, nil
	}
	list, err := a.tickets.ListTickets(ctx, repository.TicketFilter{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
