package capture

import (
	"errors"
	"fmt"
)

// ErrDeviceUnavailable reports that the capture device could not be acquired.
var ErrDeviceUnavailable = errors.New("capture device unavailable")

// ErrEndOfStream is returned by readers that serve a finite set of frames.
var ErrEndOfStream = errors.New("end of frame stream")

// DeviceError describes a failed device acquisition.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("open %s: %v", e.Device, ErrDeviceUnavailable)
	}
	return fmt.Sprintf("open %s: %v: %v", e.Device, ErrDeviceUnavailable, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDeviceUnavailable}
	}
	return []error{ErrDeviceUnavailable, e.Err}
}

// FrameReadError reports a single failed frame read. The loop skips it.
type FrameReadError struct {
	Seq uint64
	Err error
}

func (e *FrameReadError) Error() string {
	return fmt.Sprintf("read frame %d: %v", e.Seq, e.Err)
}

func (e *FrameReadError) Unwrap() error {
	return e.Err
}

// DecodeError reports a decoder failure other than "no code in frame".
type DecodeError struct {
	Seq uint64
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %d: %v", e.Seq, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// AbortError is reported when the loop gives up after too many consecutive
// frame failures.
type AbortError struct {
	Failures int
	Last     error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("capture aborted after %d consecutive frame errors: %v", e.Failures, e.Last)
}

func (e *AbortError) Unwrap() error {
	return e.Last
}
