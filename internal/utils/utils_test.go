package utils

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegA := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	jpegB := []byte{0xFF, 0xD8, 0x04, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegA...)
	streamData = append(streamData, jpegB...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	for i, want := range [][]byte{jpegA, jpegB} {
		if !scanner.Scan() {
			t.Fatalf("Expected frame %d, got EOF", i)
		}
		if !bytes.Equal(scanner.Bytes(), want) {
			t.Errorf("Frame %d: expected %X, got %X", i, want, scanner.Bytes())
		}
	}

	// The trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only two tokens, found more")
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	s := NewSafeCommand(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	if err := s.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if !strings.Contains(s.Logs(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", s.Logs())
	}
}

func TestLockedBufferKeepsTail(t *testing.T) {
	var b lockedBuffer
	chunk := bytes.Repeat([]byte("a"), 40*1024)
	b.Write(chunk)
	b.Write([]byte(strings.Repeat("b", 40*1024)))

	if b.Len() > 64*1024 {
		t.Errorf("Buffer grew past its cap: %d bytes", b.Len())
	}
	if !strings.HasSuffix(b.String(), "bbbb") {
		t.Error("Most recent output was dropped")
	}
}

func TestNewFFmpegCaptureCmd(t *testing.T) {
	cmd := NewFFmpegCaptureCmd(context.Background(), "/dev/video0", 0)
	args := strings.Join(cmd.Args, " ")

	for _, want := range []string{"-i /dev/video0", "-r 5", "image2pipe", "mjpeg"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected %q in %q", want, args)
		}
	}
}
