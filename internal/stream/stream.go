// Package stream moves live video between a frame source and a per-frame transform.
// The browser talks to Handler over a websocket; the CLI uses Pipe over MJPEG.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/andresmejia3/facelens/internal/frame"
	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const megabyte = 1024 * 1024

// MaxFrameSize bounds a single incoming JPEG frame.
const MaxFrameSize = 8 * megabyte

// JPEGQuality is used when re-encoding transformed frames.
const JPEGQuality = 80

// FrameTransform is applied to every live frame. It must always return a frame.
type FrameTransform func(ctx context.Context, img image.Image) image.Image

// Handler serves a websocket where each binary message is a JPEG frame and each reply is the
// transformed frame. Frames that cannot be decoded get a text message with the reason.
func Handler(transform FrameTransform, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Cross-origin upgrades are rejected; the UI is served from the same host
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		conn.SetReadLimit(MaxFrameSize)

		log := logger.With(zap.String("session", uuid.NewString()))
		log.Info("live session started", zap.String("remote", r.RemoteAddr))

		frames, err := serve(r.Context(), conn, transform, log)
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			log.Info("live session ended", zap.Int("frames", frames))
			conn.Close(websocket.StatusNormalClosure, "")
		default:
			if errors.Is(err, context.Canceled) {
				log.Info("live session cancelled", zap.Int("frames", frames))
				return
			}
			log.Warn("live session failed", zap.Int("frames", frames), zap.Error(err))
		}
	})
}

// serve handles one frame at a time until the connection fails or closes.
func serve(ctx context.Context, conn *websocket.Conn, transform FrameTransform, log *zap.Logger) (int, error) {
	frames := 0
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return frames, err
		}
		if typ != websocket.MessageBinary {
			continue
		}

		out, err := process(ctx, data, transform)
		if err != nil {
			log.Debug("dropping live frame", zap.Error(err))
			if err := conn.Write(ctx, websocket.MessageText, []byte(err.Error())); err != nil {
				return frames, err
			}
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, out); err != nil {
			return frames, err
		}
		frames++
	}
}

// process decodes one JPEG, runs the transform and re-encodes the result.
func process(ctx context.Context, data []byte, transform FrameTransform) ([]byte, error) {
	img, err := frame.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return frame.EncodeJPEG(transform(ctx, img), JPEGQuality)
}

// Pipe reads an MJPEG stream from r, transforms every frame and writes the result to w as MJPEG.
// It returns the number of frames written once r is exhausted or ctx is cancelled.
func Pipe(ctx context.Context, r io.Reader, w io.Writer, transform FrameTransform, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), MaxFrameSize)
	scanner.Split(utils.SplitJpeg)

	written := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		out, err := process(ctx, scanner.Bytes(), transform)
		if err != nil {
			logger.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		if _, err := w.Write(out); err != nil {
			return written, fmt.Errorf("write frame: %w", err)
		}
		written++
	}
	if err := scanner.Err(); err != nil {
		return written, fmt.Errorf("read mjpeg stream: %w", err)
	}
	return written, nil
}
