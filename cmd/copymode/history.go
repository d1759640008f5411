package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/foxzi/copymode/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Version history commands",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "List the stored versions of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCatCmd = &cobra.Command{
	Use:   "cat <campaign_id> <index>",
	Short: "Print the content of one version",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryCat,
}

func init() {
	historyCmd.AddCommand(historyShowCmd, historyCatCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadSnapshot(id string) (*history.Snapshot, error) {
	ws, err := openWorkspace()
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	snap, err := ws.stores.Histories.Load(context.Background(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("no history for campaign %s", id)
	}
	return snap, nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	snap, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), snap)
	return nil
}

func printHistory(out io.Writer, snap *history.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \t#\tSOURCE\tWHEN\tSIZE\tDESCRIPTION")
	for i, v := range snap.Versions {
		marker := " "
		if i == snap.Index {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			marker,
			i,
			v.Source,
			humanize.Time(v.Timestamp),
			humanize.Bytes(uint64(len(v.Content))),
			truncate(v.Description, 50),
		)
	}
	w.Flush()
}

func runHistoryCat(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid version index %q", args[1])
	}

	snap, err := loadSnapshot(args[0])
	if err != nil {
		return err
	}
	if index < 0 || index >= len(snap.Versions) {
		return fmt.Errorf("%w: %d of %d", history.ErrVersionOutOfRange, index, len(snap.Versions))
	}

	fmt.Fprintln(cmd.OutOrStdout(), snap.Versions[index].Content)
	return nil
}
