package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the analysis history (CSV log and database mirror)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		out := cmd.OutOrStdout()

		prompt := fmt.Sprintf("⚠️  Are you sure you want to delete %s", Cfg.LogPath)
		if History.Mirror != nil {
			prompt += " and DROP the history table"
		}
		if !resetYes && !confirm(bufio.NewReader(cmd.InOrStdin()), out, prompt+"?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}

		fmt.Fprintln(out, "🗑️  Clearing History...")
		if err := History.Reset(cmd.Context()); err != nil {
			utils.ShowError("Failed to reset history", err, nil)
			return err
		}
		fmt.Fprintln(out, "✨ History Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
