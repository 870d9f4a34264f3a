package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-render/internal/eventstore"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List recorded renders, or the event timeline of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := opts.logger(cfg, cmd.ErrOrStderr())
			store, err := eventstore.Open(cmd.Context(), cfg.EventStore, log)
			if err != nil {
				return fmt.Errorf("open event store: %w", err)
			}
			defer store.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if len(args) == 1 {
				events, err := store.ListSessionEvents(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "TIME\tTYPE\tCHUNK\tPAYLOAD")
				for _, e := range events {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Type, e.ChunkIndex, e.Payload)
				}
				return nil
			}

			renders, err := store.ListRenders(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "SESSION\tSTARTED\tSTATE\tCHUNKS\tOUTPUT\tMESSAGE")
			for _, r := range renders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.SessionID, r.StartedAt.Format(time.RFC3339), r.State, r.Chunks, r.Output, r.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show")
	return cmd
}
