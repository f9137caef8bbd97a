package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/andresmejia3/facelens/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveAddr     string
	serveUploadMB int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web UI (image upload, live webcam, history)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config, :8501)")
	serveCmd.Flags().IntVar(&serveUploadMB, "max-upload-mb", 0, "Largest accepted upload in MB (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	addr := Cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	uploadMB := Cfg.MaxUploadMB
	if serveUploadMB > 0 {
		uploadMB = serveUploadMB
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	b, err := openBackend(ctx)
	if err != nil {
		utils.ShowError("Failed to start inference backend", err, nil)
		return err
	}
	defer b.Close()

	svc := newService(b, History)
	srv := web.NewServer(web.Options{
		Analyzer:       svc,
		History:        History,
		Live:           svc.FrameTransform(),
		Logger:         Logger.Named("web"),
		MaxUploadBytes: int64(uploadMB) << 20,
	})

	errCh := make(chan error, 1)
	go func() {
		Logger.Info("listening", zap.String("addr", addr), zap.String("log", Cfg.LogPath))
		errCh <- srv.Start(addr)
	}()
	fmt.Fprintf(os.Stderr, "🌐 Dashboard available at http://localhost%s\n", addr)

	select {
	case err := <-errCh:
		if err != nil {
			utils.ShowError("Web server stopped", err, nil)
		}
		return err
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "\n🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		Logger.Warn("server shutdown error", zap.Error(err))
	}
	return nil
}
