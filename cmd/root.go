package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/config"
	"github.com/andresmejia3/facelens/internal/deepface"
	"github.com/andresmejia3/facelens/internal/logging"
	"github.com/andresmejia3/facelens/internal/store"
	"github.com/andresmejia3/facelens/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg config.Config
	// Logger is the diagnostic logger
	Logger *zap.Logger
	// History is the analysis log, plus the Postgres mirror when --db is set
	History *store.History

	cfgFile string
	flags   config.Config
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facelens",
	Short:   "Face emotion, age, gender and race analysis for photos and webcams",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg

		Logger, err = logging.New(logging.Options{Level: Cfg.LogLevel, File: Cfg.DiagLogFile})
		if err != nil {
			return err
		}

		var mirror *store.PGStore
		if Cfg.DatabaseURL != "" {
			// Use the command's context (which will be cancellable) for the connection
			mirror, err = store.NewPG(cmd.Context(), Cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
		}
		History = store.NewHistory(store.NewLogStore(Cfg.LogPath), mirror, Logger.Named("history"))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if History != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			History.Close(context.Background())
		}
		if Logger != nil {
			Logger.Sync()
		}
	},
}

// applyFlags lets explicitly set flags win over the config file and environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("db", func() { cfg.DatabaseURL = flags.DatabaseURL })
	set("log-path", func() { cfg.LogPath = flags.LogPath })
	set("backend", func() { cfg.Backend = flags.Backend })
	set("python", func() { cfg.Python = flags.Python })
	set("script", func() { cfg.Script = flags.Script })
	set("engines", func() { cfg.Engines = flags.Engines })
	set("worker-timeout", func() { cfg.WorkerTimeout = flags.WorkerTimeout })
	set("deepface-url", func() { cfg.DeepFaceURL = flags.DeepFaceURL })
	set("detector", func() { cfg.Detector = flags.Detector })
	set("log-level", func() { cfg.LogLevel = flags.LogLevel })
	set("log-file", func() { cfg.DiagLogFile = flags.DiagLogFile })
	set("max-side", func() { cfg.MaxSide = flags.MaxSide })
}

// backend is an inference backend that holds resources.
type backend interface {
	analysis.Analyzer
	Close() error
}

// openBackend starts the configured inference backend.
func openBackend(ctx context.Context) (backend, error) {
	switch Cfg.Backend {
	case config.BackendDeepFace:
		return deepface.NewClient(deepface.Config{
			BaseURL:         Cfg.DeepFaceURL,
			DetectorBackend: Cfg.Detector,
			Timeout:         Cfg.WorkerTimeout,
		}), nil
	default:
		fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", Cfg.Engines)
		pool, err := worker.NewPool(ctx, Cfg.Engines, worker.Config{
			Python:          Cfg.Python,
			Script:          Cfg.Script,
			DetectorBackend: Cfg.Detector,
			ReadTimeout:     Cfg.WorkerTimeout,
		}, Logger.Named("worker"))
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}

func newService(b backend, recorder analysis.Recorder) *analysis.Service {
	return analysis.NewService(b, recorder, Logger.Named("analysis"), analysis.Options{MaxSide: Cfg.MaxSide})
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	def := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.StringVar(&flags.DatabaseURL, "db", "", "PostgreSQL connection string for the history mirror (default: none, or built from POSTGRES_*)")
	pf.StringVar(&flags.LogPath, "log-path", def.LogPath, "CSV history log")
	pf.StringVar(&flags.Backend, "backend", def.Backend, "Inference backend: worker or deepface")
	pf.StringVar(&flags.Python, "python", def.Python, "Python interpreter for the worker backend")
	pf.StringVar(&flags.Script, "script", def.Script, "Path to analyze_worker.py")
	pf.IntVarP(&flags.Engines, "engines", "e", def.Engines, "Number of parallel Python workers")
	pf.DurationVar(&flags.WorkerTimeout, "worker-timeout", def.WorkerTimeout, "Per-request inference timeout")
	pf.StringVar(&flags.DeepFaceURL, "deepface-url", def.DeepFaceURL, "DeepFace API base URL for the deepface backend")
	pf.StringVar(&flags.Detector, "detector", def.Detector, "Face detector backend (opencv, retinaface, mtcnn, ...)")
	pf.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "Diagnostic log level")
	pf.StringVar(&flags.DiagLogFile, "log-file", "", "Also write diagnostic logs to this rotating file")
	pf.IntVar(&flags.MaxSide, "max-side", def.MaxSide, "Downscale images so neither side exceeds this many pixels (0 disables)")
}
