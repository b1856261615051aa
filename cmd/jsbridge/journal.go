package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryguy/jsbridge/internal/journal"
)

func newJournalCmd(a *app) *cobra.Command {
	var (
		browser string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recently journaled bridge messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			if j == nil {
				return errors.New("no journal configured (use --journal or JSBRIDGE_JOURNAL)")
			}
			defer func() { _ = j.Close() }()
			entries, err := j.Recent(cmd.Context(), browser, limit)
			if err != nil {
				return err
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&browser, "session", "", "only messages of this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of messages")
	return cmd
}

func printEntries(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tDIR\tMESSAGE\tBYTES\tSUMMARY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Time.Format(time.RFC3339Nano), e.BrowserID, e.Direction, e.Name, e.Size, e.Summary)
	}
	return tw.Flush()
}
