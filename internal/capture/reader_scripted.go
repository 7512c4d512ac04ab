package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// ScriptedFrame is one entry of a ScriptedReader script. A non-nil Err is
// returned from ReadFrame instead of an image.
type ScriptedFrame struct {
	Image *image.Gray
	At    time.Time
	Err   error
}

// ScriptedReader serves a fixed list of frames. It backs tests and directory
// replay. Once the script is exhausted ReadFrame returns ErrEndOfStream.
type ScriptedReader struct {
	// OpenErr, when set, makes Open fail with a DeviceError.
	OpenErr error
	// Interval paces frames when positive.
	Interval time.Duration

	mu     sync.Mutex
	frames []ScriptedFrame
	next   int
	seq    uint64
	open   bool
	opens  int
	closes int
}

// NewScriptedReader returns a reader over frames.
func NewScriptedReader(frames ...ScriptedFrame) *ScriptedReader {
	return &ScriptedReader{frames: frames}
}

// Open marks the reader open and rewinds the script.
func (r *ScriptedReader) Open(ctx context.Context, device Device) error {
	if err := ctx.Err(); err != nil {
		return &DeviceError{Device: device.Path(), Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.OpenErr != nil {
		return &DeviceError{Device: device.Path(), Err: r.OpenErr}
	}
	r.open = true
	r.next = 0
	r.seq = 0
	return nil
}

// ReadFrame returns the next scripted frame.
func (r *ScriptedReader) ReadFrame(ctx context.Context) (Frame, error) {
	if r.Interval > 0 {
		timer := time.NewTimer(r.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return Frame{}, &FrameReadError{Seq: r.seq, Err: errors.New("reader not open")}
	}
	if r.next >= len(r.frames) {
		return Frame{}, ErrEndOfStream
	}
	entry := r.frames[r.next]
	r.next++
	r.seq++
	if entry.Err != nil {
		return Frame{}, &FrameReadError{Seq: r.seq, Err: entry.Err}
	}
	return Frame{Image: entry.Image, Seq: r.seq, CapturedAt: entry.At}, nil
}

// Close marks the reader closed.
func (r *ScriptedReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		r.closes++
	}
	r.open = false
	return nil
}

// Opens reports how many times Open was called.
func (r *ScriptedReader) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

// Closes reports how many times an open reader was closed.
func (r *ScriptedReader) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

var replayExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}

// LoadReplayDir reads every image in dir, sorted by file name, as grayscale
// frames for a ScriptedReader.
func LoadReplayDir(dir string) ([]ScriptedFrame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if slices.Contains(replayExtensions, ext) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}

	frames := make([]ScriptedFrame, 0, len(names))
	for _, name := range names {
		img, err := imaging.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		frames = append(frames, ScriptedFrame{Image: ToGray(img)})
	}
	return frames, nil
}

// ToGray converts img to an 8-bit grayscale image.
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}
