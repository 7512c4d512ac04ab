package capture

import (
	"context"
	"fmt"
	"image"
	"iter"
	"time"
)

// Device selects a video4linux camera and the capture geometry.
type Device struct {
	Index  int
	Width  int
	Height int
	FPS    int
}

// Path returns the device node for the camera index.
func (d Device) Path() string {
	return fmt.Sprintf("/dev/video%d", d.Index)
}

// Frame is one grayscale image from the reader.
type Frame struct {
	Image      *image.Gray
	Seq        uint64
	CapturedAt time.Time
}

// Detection is an accepted payload and the instant it was seen.
type Detection struct {
	Payload    string
	DetectedAt time.Time
	FrameSeq   uint64
}

// Reader supplies frames from a capture device.
type Reader interface {
	Open(ctx context.Context, device Device) error
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Decoder extracts zero or more payloads from a frame.
type Decoder interface {
	Decode(frame Frame) iter.Seq[string]
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(frame Frame) iter.Seq[string]

// Decode calls f(frame).
func (f DecoderFunc) Decode(frame Frame) iter.Seq[string] {
	return f(frame)
}
