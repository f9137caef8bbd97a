package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/facelens/internal/utils"
)

// Camera is a running ffmpeg webcam capture. Read it as an MJPEG stream.
type Camera struct {
	io.ReadCloser
	Cmd *utils.SafeCommand
}

// Capture starts ffmpeg on the given device. Cancel ctx or call Close to stop it.
func Capture(ctx context.Context, device string, fps int) (*Camera, error) {
	cmd := utils.NewFFmpegCaptureCmd(ctx, device, fps)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &Camera{ReadCloser: out, Cmd: cmd}, nil
}

// Close stops ffmpeg and waits for it to exit.
func (c *Camera) Close() error {
	err := c.ReadCloser.Close()
	if c.Cmd.Process != nil {
		// A killed webcam capture exits with a signal status, which is expected here.
		_ = c.Cmd.Process.Kill()
		_ = c.Cmd.Wait()
	}
	return err
}
