package capture

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func fakeFFmpeg(script string) *FFmpegReader {
	r := NewFFmpegReader("sh", 2*time.Second)
	r.access = func(string) error { return nil }
	r.command = func(string, ...string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
	return r
}

func TestFFmpegReaderMissingDevice(t *testing.T) {
	r := NewFFmpegReader("ffmpeg", time.Second)
	err := r.Open(context.Background(), Device{Index: 4242, Width: 4, Height: 2})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestFFmpegReaderReadsRawFrames(t *testing.T) {
	r := fakeFFmpeg("printf 'abcdefgh12345678'")
	if err := r.Open(context.Background(), Device{Width: 4, Height: 2}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	first, err := r.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	if string(first.Image.Pix) != "abcdefgh" || first.Seq != 1 || first.CapturedAt.IsZero() {
		t.Fatalf("unexpected first frame: seq=%d pix=%q", first.Seq, first.Image.Pix)
	}
	second, err := r.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if string(second.Image.Pix) != "12345678" || second.Seq != 2 {
		t.Fatalf("unexpected second frame: seq=%d pix=%q", second.Seq, second.Image.Pix)
	}

	_, err = r.ReadFrame(context.Background())
	var readErr *FrameReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected FrameReadError at end of output, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestFFmpegReaderOpenTimesOutWithoutFrames(t *testing.T) {
	r := fakeFFmpeg("sleep 5")
	r.OpenTimeout = 100 * time.Millisecond

	started := time.Now()
	err := r.Open(context.Background(), Device{Width: 4, Height: 2})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "no frame within") {
		t.Fatalf("expected timeout detail, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("open took %s", elapsed)
	}
}

func TestFFmpegReaderCancelStopsRead(t *testing.T) {
	r := fakeFFmpeg("printf 'abcdefgh'; sleep 5")
	if err := r.Open(context.Background(), Device{Width: 4, Height: 2}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if _, err := r.ReadFrame(context.Background()); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.ReadFrame(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := strings.Join(ffmpegArgs("/dev/video2", Device{Index: 2, Width: 640, Height: 480, FPS: 15}), " ")
	for _, want := range []string{"-f v4l2", "-video_size 640x480", "-framerate 15", "-i /dev/video2", "-pix_fmt gray", "-f rawvideo -"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
}
