package worker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/andresmejia3/facelens/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// queueResponse writes a length-prefixed reply into the fake data pipe.
func queueResponse(pipe *MockCloser, body string) {
	binary.Write(pipe, binary.BigEndian, uint32(len(body)))
	pipe.WriteString(body)
}

func TestAnalyzeProtocol(t *testing.T) {
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	queueResponse(dataPipeMock, `[{"emotion":{"happy":91.5,"sad":8.5},"region":{"x":1,"y":2,"w":30,"h":40}}]`)

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		cfg:      Config{DetectorBackend: "opencv"},
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	pixels := []byte{1, 2, 3, 4, 5, 6} // 2x1 bgr24
	faces, err := w.Analyze(Request{
		Pixels:  pixels,
		Width:   2,
		Height:  1,
		Actions: []types.Action{types.ActionEmotion},
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Verify what Go sent TO Python: [TotalLen][HeaderLen][Header][Pixels]
	sent := stdinMock.Bytes()
	total := binary.BigEndian.Uint32(sent[0:4])
	if int(total) != len(sent)-4 {
		t.Fatalf("Length prefix %d does not match body %d", total, len(sent)-4)
	}
	hdrLen := binary.BigEndian.Uint32(sent[4:8])
	var hdr requestHeader
	if err := json.Unmarshal(sent[8:8+hdrLen], &hdr); err != nil {
		t.Fatalf("Header is not JSON: %v", err)
	}
	if hdr.Width != 2 || hdr.Height != 1 || hdr.EnforceDetection || hdr.DetectorBackend != "opencv" {
		t.Errorf("Unexpected header %+v", hdr)
	}
	if len(hdr.Actions) != 1 || hdr.Actions[0] != types.ActionEmotion {
		t.Errorf("Unexpected actions %v", hdr.Actions)
	}
	if !bytes.Equal(sent[8+hdrLen:], pixels) {
		t.Errorf("Pixels not forwarded intact")
	}

	// Verify what Go read FROM Python
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if faces[0].Emotion["happy"] != 91.5 {
		t.Errorf("Expected happy=91.5, got %v", faces[0].Emotion)
	}
	if faces[0].Region.W != 30 {
		t.Errorf("Expected region width 30, got %d", faces[0].Region.W)
	}
}

func TestAnalyze_BackendError(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	errMsg := "Face could not be detected"
	queueResponse(dataPipeMock, `{"error": "`+errMsg+`"}`)

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Analyze(Request{Pixels: []byte{0, 0, 0}, Width: 1, Height: 1})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("Expected BackendError, got %v", err)
	}
	if be.Msg != errMsg {
		t.Errorf("Expected message %q, got %q", errMsg, be.Msg)
	}
}

func TestAnalyze_TransportError(t *testing.T) {
	// An empty data pipe behaves like a Python process that died before replying
	w := &PythonWorker{
		ID:       3,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}

	_, err := w.Analyze(Request{Pixels: []byte{0, 0, 0}, Width: 1, Height: 1})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if te.WorkerID != 3 || !errors.Is(err, io.EOF) {
		t.Errorf("Unexpected transport error %v", err)
	}
}

func TestCommunicate_OversizedResponse(t *testing.T) {
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(dataPipeMock, binary.BigEndian, uint32(maxResponseSize+1))

	w := &PythonWorker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: dataPipeMock}
	if _, err := w.Communicate([]byte("x")); err == nil {
		t.Fatal("Expected error for oversized response")
	}
}
