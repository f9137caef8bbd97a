package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresmejia3/facelens/internal/store"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyFromDB bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past analyses from the history log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runHistory(cmd.Context(), cmd.OutOrStdout(), historyLimit, historyFromDB)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Only show the most recent N records (0 shows all)")
	historyCmd.Flags().BoolVar(&historyFromDB, "from-db", false, "Read from the PostgreSQL mirror instead of the CSV log")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, out io.Writer, limit int, fromDB bool) error {
	var (
		records []types.AnalysisRecord
		err     error
	)
	if fromDB {
		if History.Mirror == nil {
			err = errors.New("no database configured (use --db or POSTGRES_HOST)")
			utils.ShowError("Cannot read history from the database", err, nil)
			return err
		}
		records, err = History.Mirror.ListRecords(ctx, limit)
	} else {
		records, err = History.ReadAll(ctx)
		if err == nil && limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}
	}
	if err != nil {
		utils.ShowError("Failed to read analysis history", err, nil)
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No analysis history yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIME\tEMOTION\tCONFIDENCE\tAGE\tGENDER\tRACE")
	fmt.Fprintln(w, "----\t-------\t----------\t---\t------\t----")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\n", r.Time.Format(store.TimeLayout), r.Emotion, r.EmotionConfidence, optInt(r.Age), r.Gender, r.Race)
	}
	w.Flush()

	fmt.Fprintln(out)
	for _, c := range store.Summarize(records) {
		fmt.Fprintf(out, "%-10s %s %d\n", c.Emotion, bar(c.Count, len(records)), c.Count)
	}
	return nil
}

// bar renders count as a share of a 30 cell wide bar.
func bar(count, total int) string {
	const width = 30
	n := count * width / total
	if n == 0 && count > 0 {
		n = 1
	}
	b := make([]rune, n)
	for i := range b {
		b[i] = '█'
	}
	return string(b)
}
