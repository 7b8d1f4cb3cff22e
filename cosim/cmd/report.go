package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/tracing"
)

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a recording made with run --record.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}

		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		limit, err := cmd.Flags().GetInt("mismatches")
		if err != nil {
			return err
		}

		return report(cmd.Context(), reader, cmd.OutOrStdout(), limit)
	},
}

func init() {
	reportCmd.Flags().Int("mismatches", 20,
		"The number of mismatching checks to list.")

	rootCmd.AddCommand(reportCmd)
}

type nodeSummary struct {
	Node       int
	Trans      int
	Errors     int
	Checks     int
	Mismatches int
}

func report(
	ctx context.Context,
	reader *datarecording.SQLiteReader,
	w io.Writer,
	limit int,
) error {
	reader.MapTable(tracing.TransTableName, tracing.TransEntry{})
	reader.MapTable(tracing.CheckTableName, tracing.CheckEntry{})

	summaries, err := summarize(ctx, reader)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "node\ttrans\terrors\tchecks\tmismatches\t")

	for _, s := range summaries {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t\n",
			s.Node, s.Trans, s.Errors, s.Checks, s.Mismatches)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if limit <= 0 {
		return nil
	}

	rows, err := reader.Fetch(ctx, tracing.CheckTableName,
		datarecording.QueryParams{
			Where:   "Match = ?",
			Args:    []any{false},
			OrderBy: "Node, Seq",
			Limit:   limit,
		})
	if err != nil {
		return err
	}

	for _, row := range rows {
		c := row.(tracing.CheckEntry)
		fmt.Fprintf(w, "node %d seq %d addr 0x%08x: got 0x%0*x, exp 0x%0*x\n",
			c.Node, c.Seq, c.Address,
			c.Width*2, c.Actual, c.Width*2, c.Expected)
	}

	return nil
}

func summarize(
	ctx context.Context,
	reader *datarecording.SQLiteReader,
) ([]nodeSummary, error) {
	rows, err := reader.QueryContext(ctx,
		"SELECT DISTINCT Node FROM "+tracing.TransTableName+" ORDER BY Node")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []int

	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}

		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]nodeSummary, 0, len(nodes))

	for _, n := range nodes {
		s := nodeSummary{Node: n}

		counts := []struct {
			dst   *int
			table string
			where string
		}{
			{&s.Trans, tracing.TransTableName, "Node = ?"},
			{&s.Errors, tracing.TransTableName, "Node = ? AND Error != ''"},
			{&s.Checks, tracing.CheckTableName, "Node = ?"},
			{&s.Mismatches, tracing.CheckTableName, "Node = ? AND Match = 0"},
		}

		for _, c := range counts {
			*c.dst, err = reader.Count(ctx, c.table, datarecording.QueryParams{
				Where: c.where,
				Args:  []any{n},
			})
			if err != nil {
				return nil, err
			}
		}

		summaries = append(summaries, s)
	}

	return summaries, nil
}
