package capture

import (
	"errors"
	"image"
	"iter"
	"log/slog"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"qrattend/internal/logging"
)

// QRDecoder decodes QR codes with the gozxing reader.
type QRDecoder struct {
	logger   *slog.Logger
	onError  func(error)
	hints    map[gozxing.DecodeHintType]any
	keepMark bool

	mu     sync.Mutex
	reader gozxing.Reader
	marks  []image.Point
}

// QRDecoderOption configures a QRDecoder.
type QRDecoderOption func(*QRDecoder)

// WithDecodeErrorHook is called for every DecodeError.
func WithDecodeErrorHook(fn func(error)) QRDecoderOption {
	return func(d *QRDecoder) {
		d.onError = fn
	}
}

// WithTryHarder trades speed for accuracy on blurry frames.
func WithTryHarder() QRDecoderOption {
	return func(d *QRDecoder) {
		d.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
}

// WithMarks records the finder points of the last decoded code for preview
// overlays.
func WithMarks() QRDecoderOption {
	return func(d *QRDecoder) {
		d.keepMark = true
	}
}

// NewQRDecoder constructs a decoder.
func NewQRDecoder(logger *slog.Logger, opts ...QRDecoderOption) *QRDecoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &QRDecoder{
		logger: logger,
		hints:  make(map[gozxing.DecodeHintType]any),
		reader: qrcode.NewQRCodeReader(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode yields the payload found in frame, if any. A frame without a code
// yields nothing; other failures are logged as DecodeErrors.
func (d *QRDecoder) Decode(frame Frame) iter.Seq[string] {
	return func(yield func(string) bool) {
		text, ok := d.decode(frame)
		if ok {
			yield(text)
		}
	}
}

func (d *QRDecoder) decode(frame Frame) (string, bool) {
	if frame.Image == nil {
		return "", false
	}
	bitmap, err := gozxing.NewBinaryBitmapFromImage(frame.Image)
	if err != nil {
		d.report(&DecodeError{Seq: frame.Seq, Err: err})
		return "", false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks = d.marks[:0]
	result, err := d.reader.Decode(bitmap, d.hints)
	d.reader.Reset()
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return "", false
		}
		d.report(&DecodeError{Seq: frame.Seq, Err: err})
		return "", false
	}
	if d.keepMark {
		for _, point := range result.GetResultPoints() {
			d.marks = append(d.marks, image.Pt(int(point.GetX()), int(point.GetY())))
		}
	}
	return result.GetText(), true
}

// Marks returns the finder points of the most recent successful decode.
func (d *QRDecoder) Marks() []image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Point(nil), d.marks...)
}

func (d *QRDecoder) report(err error) {
	d.logger.Debug("frame decode failed", logging.Error(err))
	if d.onError != nil {
		d.onError(err)
	}
}
