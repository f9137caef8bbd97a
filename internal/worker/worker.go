package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/facelens/internal/types"
	"github.com/andresmejia3/facelens/internal/utils" // Using the SafeCommand wrapper
)

// maxResponseSize guards against a corrupted length header making us allocate gigabytes.
const maxResponseSize = 16 * 1024 * 1024

// Config describes how to launch a Python analysis worker.
type Config struct {
	Python          string        // Interpreter, e.g. "python3"
	Script          string        // Path to analyze_worker.py
	DetectorBackend string        // DeepFace detector, e.g. "opencv"
	ReadTimeout     time.Duration // Per-request read deadline; 0 disables it
}

// Request is one analyze call: a packed bgr24 frame plus the attributes wanted for it.
type Request struct {
	Pixels           []byte
	Width            int
	Height           int
	Actions          []types.Action
	EnforceDetection bool
}

// requestHeader is the JSON prefix of every request frame.
type requestHeader struct {
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	Actions          []types.Action `json:"actions"`
	EnforceDetection bool           `json:"enforce_detection"`
	DetectorBackend  string         `json:"detector_backend,omitempty"`
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	cfg      Config
}

// NewPythonWorker starts analyze_worker.py with a side-channel pipe (FD 3) for responses,
// keeping stdout free for whatever the model libraries decide to print.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		cfg:      cfg,
	}, nil
}

// Communicate sends one length-prefixed payload and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if w.cfg.ReadTimeout > 0 {
		if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
			d.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
			defer d.SetReadDeadline(time.Time{})
		}
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseSize {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Analyze runs one request through the worker.
// Transport failures are returned as-is; model failures come back as *BackendError.
func (w *PythonWorker) Analyze(req Request) ([]types.FaceAnalysis, error) {
	hdr, err := json.Marshal(requestHeader{
		Width:            req.Width,
		Height:           req.Height,
		Actions:          req.Actions,
		EnforceDetection: req.EnforceDetection,
		DetectorBackend:  w.cfg.DetectorBackend,
	})
	if err != nil {
		return nil, err
	}

	// Payload: [HeaderLen][Header JSON][BGR pixels]
	payload := make([]byte, 4+len(hdr)+len(req.Pixels))
	binary.BigEndian.PutUint32(payload, uint32(len(hdr)))
	copy(payload[4:], hdr)
	copy(payload[4+len(hdr):], req.Pixels)

	resp, err := w.Communicate(payload)
	if err != nil {
		return nil, &TransportError{WorkerID: w.ID, Err: err}
	}
	return ParseFaces(resp)
}

// Logs returns the worker's captured stderr.
func (w *PythonWorker) Logs() string {
	return w.Cmd.Logs()
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// TransportError means the pipe to the worker broke; the process is most likely dead.
type TransportError struct {
	WorkerID int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worker %d transport failure: %v", e.WorkerID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
