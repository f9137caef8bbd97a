// Package web serves the browser UI and its JSON API.
package web

import (
	"context"
	"embed"
	"image"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/andresmejia3/facelens/internal/analysis"
	"github.com/andresmejia3/facelens/internal/stream"
	"github.com/andresmejia3/facelens/internal/types"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

//go:embed static
var staticFiles embed.FS

// ImageAnalyzer runs image mode.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, img image.Image, details bool) (*analysis.ImageResult, error)
}

// HistoryReader reads the analysis log.
type HistoryReader interface {
	ReadAll(ctx context.Context) ([]types.AnalysisRecord, error)
}

// Options wires a Server.
type Options struct {
	Analyzer ImageAnalyzer
	History  HistoryReader
	// Live is applied to every webcam frame. Nil disables live mode.
	Live   stream.FrameTransform
	Logger *zap.Logger
	// MaxUploadBytes caps the multipart body of an analyze request.
	MaxUploadBytes int64
}

type Server struct {
	analyzer  ImageAnalyzer
	history   HistoryReader
	live      stream.FrameTransform
	logger    *zap.Logger
	maxUpload int64
	handler   http.Handler
	srv       *http.Server
}

func NewServer(opts Options) *Server {
	s := &Server{
		analyzer:  opts.Analyzer,
		history:   opts.History,
		live:      opts.Live,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadBytes,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 20 << 20
	}
	s.handler = s.routes()
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full handler chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	if s.live != nil {
		mux.Handle("GET /api/live", stream.Handler(s.live, s.logger.Named("live")))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Static page
	root, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(root)))

	return cors.AllowAll().Handler(s.requestLogger(mux))
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called. A Shutdown that ran first makes Serve return nil at once.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
