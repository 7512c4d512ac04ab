package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FFmpegReader reads raw grayscale frames from a v4l2 camera through an
// ffmpeg child process.
type FFmpegReader struct {
	Binary      string
	OpenTimeout time.Duration

	// access and command are swapped in tests.
	access  func(path string) error
	command func(name string, args ...string) *exec.Cmd
	now     func() time.Time

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	width   int
	height  int
	seq     uint64
	pending *Frame
	closed  bool
}

// NewFFmpegReader constructs a reader for the given ffmpeg binary.
func NewFFmpegReader(binary string, openTimeout time.Duration) *FFmpegReader {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}
	return &FFmpegReader{
		Binary:      binary,
		OpenTimeout: openTimeout,
		access:      deviceAccess,
		command:     exec.Command,
		now:         time.Now,
	}
}

func deviceAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}

// Open starts ffmpeg and waits for the first frame. Any failure, including no
// frame within OpenTimeout, is reported as a DeviceError.
func (r *FFmpegReader) Open(ctx context.Context, device Device) error {
	path := device.Path()
	if device.Width <= 0 || device.Height <= 0 {
		return &DeviceError{Device: path, Err: fmt.Errorf("invalid frame size %dx%d", device.Width, device.Height)}
	}
	if err := r.access(path); err != nil {
		return &DeviceError{Device: path, Err: err}
	}
	if _, err := exec.LookPath(r.Binary); err != nil {
		return &DeviceError{Device: path, Err: fmt.Errorf("ffmpeg binary %q not found: %w", r.Binary, err)}
	}

	r.mu.Lock()
	if r.cmd != nil {
		r.mu.Unlock()
		return &DeviceError{Device: path, Err: errors.New("reader already open")}
	}
	cmd := r.command(r.Binary, ffmpegArgs(path, device)...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.mu.Unlock()
		return &DeviceError{Device: path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return &DeviceError{Device: path, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}
	r.cmd = cmd
	r.stdout = stdout
	r.width = device.Width
	r.height = device.Height
	r.seq = 0
	r.pending = nil
	r.closed = false
	r.mu.Unlock()

	type firstFrame struct {
		frame Frame
		err   error
	}
	result := make(chan firstFrame, 1)
	go func() {
		frame, err := r.readRaw()
		result <- firstFrame{frame: frame, err: err}
	}()

	timer := time.NewTimer(r.OpenTimeout)
	defer timer.Stop()
	select {
	case first := <-result:
		if first.err != nil {
			_ = r.Close()
			return &DeviceError{Device: path, Err: first.err}
		}
		r.mu.Lock()
		r.pending = &first.frame
		r.mu.Unlock()
		return nil
	case <-timer.C:
		_ = r.Close()
		return &DeviceError{Device: path, Err: fmt.Errorf("no frame within %s", r.OpenTimeout)}
	case <-ctx.Done():
		_ = r.Close()
		return &DeviceError{Device: path, Err: ctx.Err()}
	}
}

func ffmpegArgs(path string, device Device) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", device.Width, device.Height),
	}
	if device.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(device.FPS))
	}
	args = append(args,
		"-i", path,
		"-pix_fmt", "gray",
		"-f", "rawvideo",
		"-",
	)
	return args
}

// ReadFrame blocks for the next frame. Cancelling ctx terminates ffmpeg, so a
// cancelled reader must be reopened.
func (r *FFmpegReader) ReadFrame(ctx context.Context) (Frame, error) {
	r.mu.Lock()
	if r.pending != nil {
		frame := *r.pending
		r.pending = nil
		r.mu.Unlock()
		return frame, nil
	}
	if r.cmd == nil || r.closed {
		seq := r.seq
		r.mu.Unlock()
		return Frame{}, &FrameReadError{Seq: seq, Err: errors.New("reader not open")}
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	frame, err := r.readRaw()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, &FrameReadError{Seq: frame.Seq, Err: err}
	}
	return frame, nil
}

func (r *FFmpegReader) readRaw() (Frame, error) {
	r.mu.Lock()
	stdout := r.stdout
	width, height := r.width, r.height
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	if stdout == nil {
		return Frame{Seq: seq}, errors.New("reader not open")
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	if _, err := io.ReadFull(stdout, img.Pix); err != nil {
		return Frame{Seq: seq}, err
	}
	return Frame{Image: img, Seq: seq, CapturedAt: r.now()}, nil
}

// Close stops ffmpeg. It is safe to call more than once.
func (r *FFmpegReader) Close() error {
	r.mu.Lock()
	cmd := r.cmd
	if cmd == nil || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.pending = nil
	r.mu.Unlock()

	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()

	r.mu.Lock()
	r.cmd = nil
	r.stdout = nil
	r.mu.Unlock()
	return nil
}
