package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/frame"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var analyzeDetails bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>...",
	Short: "Analyze faces in one or more images and append them to the history log",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), cmd.OutOrStdout(), args, analyzeDetails)
	},
}

func init() {
	analyzeCmd.Flags().BoolVarP(&analyzeDetails, "details", "d", false, "Also estimate age, gender and race")
	rootCmd.AddCommand(analyzeCmd)
}

type fileResult struct {
	Path string
	Res  *analysis.ImageResult
}

func runAnalyze(ctx context.Context, out io.Writer, paths []string, details bool) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	b, err := openBackend(ctx)
	if err != nil {
		utils.ShowError("Failed to start inference backend", err, nil)
		return err
	}
	defer b.Close()
	svc := newService(b, History)

	actions := analysis.BuildActions(details)
	fmt.Fprintf(os.Stderr, "🔍 Analyzing: %v\n", actions)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 FaceLens Analyzing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	var results []fileResult
	failed := 0
	for _, p := range paths {
		res, err := analyzeFile(ctx, svc, p, details)
		bar.Add(1)
		if err != nil {
			failed++
			utils.ShowError(fmt.Sprintf("Analysis failed for %s", filepath.Base(p)), err, nil)
			continue
		}
		if res.LogError != nil {
			utils.ShowError("Results were not saved to the history log", res.LogError, nil)
		}
		results = append(results, fileResult{Path: p, Res: res})
	}
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	printFaces(out, results, details)

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(paths))
	}
	fmt.Fprintf(os.Stderr, "🏁 Analysis Complete. Logged to %s\n", Cfg.LogPath)
	return nil
}

func analyzeFile(ctx context.Context, svc *analysis.Service, path string, details bool) (*analysis.ImageResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := frame.Decode(f)
	if err != nil {
		return nil, err
	}
	return svc.AnalyzeImage(ctx, img, details)
}

func printFaces(out io.Writer, results []fileResult, details bool) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	if details {
		fmt.Fprintln(w, "FILE\tFACE\tEMOTION\tCONFIDENCE\tAGE\tGENDER\tRACE")
		fmt.Fprintln(w, "----\t----\t-------\t----------\t---\t------\t----")
	} else {
		fmt.Fprintln(w, "FILE\tFACE\tEMOTION\tCONFIDENCE")
		fmt.Fprintln(w, "----\t----\t-------\t----------")
	}

	for _, r := range results {
		name := filepath.Base(r.Path)
		if len(r.Res.Faces) == 0 {
			fmt.Fprintf(w, "%s\t-\tno face found\t\n", name)
			continue
		}
		for _, f := range r.Res.Faces {
			if details {
				fmt.Fprintf(w, "%s\t#%d\t%s\t%.1f%%\t%s\t%s\t%s\n", name, f.Index, f.Emotion, f.EmotionConfidence, optInt(f.Age), f.Gender, f.Race)
			} else {
				fmt.Fprintf(w, "%s\t#%d\t%s\t%.1f%%\n", name, f.Index, f.Emotion, f.EmotionConfidence)
			}
		}
	}
	w.Flush()
}

func optInt(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
