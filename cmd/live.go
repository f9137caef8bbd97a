package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/andresmejia3/facelens/internal/stream"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	liveDevice string
	liveFPS    int
	liveStdin  bool
	liveOutput string
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Label webcam frames with the dominant emotion and write them as MJPEG",
	Long: `Reads frames from a webcam through ffmpeg (or an MJPEG stream on stdin with --stdin),
labels every frame with the dominant emotion and writes the annotated frames as MJPEG.
Nothing is written to the history log.

  facelens live | ffplay -f mjpeg -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLive(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	liveCmd.Flags().StringVar(&liveDevice, "device", defaultDevice(), "Capture device passed to ffmpeg -i")
	liveCmd.Flags().IntVar(&liveFPS, "fps", 5, "Capture frame rate")
	liveCmd.Flags().BoolVar(&liveStdin, "stdin", false, "Read an MJPEG stream from stdin instead of a webcam")
	liveCmd.Flags().StringVarP(&liveOutput, "output", "o", "", "Write MJPEG to this file instead of stdout")
	rootCmd.AddCommand(liveCmd)
}

func defaultDevice() string {
	switch runtime.GOOS {
	case "darwin":
		return "0"
	case "windows":
		return "video=Integrated Camera"
	}
	return "/dev/video0"
}

func runLive(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	b, err := openBackend(ctx)
	if err != nil {
		utils.ShowError("Failed to start inference backend", err, nil)
		return err
	}
	defer b.Close()
	svc := newService(b, nil)

	var src io.Reader = stdin
	var cam *stream.Camera
	if !liveStdin {
		fmt.Fprintf(os.Stderr, "📹 Opening %s at %d fps...\n", liveDevice, liveFPS)
		cam, err = stream.Capture(ctx, liveDevice, liveFPS)
		if err != nil {
			utils.ShowError("Failed to start webcam capture", err, nil)
			return err
		}
		defer cam.Close()
		src = cam
	}

	dst := stdout
	if liveOutput != "" {
		f, err := os.Create(liveOutput)
		if err != nil {
			utils.ShowError("Failed to create output file", err, nil)
			return err
		}
		defer f.Close()
		dst = f
	}

	n, err := stream.Pipe(ctx, src, dst, stream.FrameTransform(svc.FrameTransform()), Logger.Named("live"))
	Logger.Info("live stream ended", zap.Int("frames", n))
	if err != nil && !errors.Is(err, context.Canceled) {
		var logs *utils.SafeCommand
		if cam != nil {
			logs = cam.Cmd
		}
		utils.ShowError("Live stream failed", err, logs)
		return err
	}
	fmt.Fprintf(os.Stderr, "🏁 Live stream stopped after %d frames.\n", n)
	return nil
}
