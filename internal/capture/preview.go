package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Preview is an encoded, downsized frame for display.
type Preview struct {
	Seq         uint64
	ContentType string
	Width       int
	Height      int
	Data        []byte
}

// PreviewEncoder downsizes frames and encodes them as JPEG or WebP.
type PreviewEncoder struct {
	format  string
	width   int
	quality int
}

// NewPreviewEncoder builds an encoder. Format is "jpeg" or "webp"; width 0
// keeps the source size.
func NewPreviewEncoder(format string, width, quality int) (*PreviewEncoder, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", "jpg", "jpeg":
		format = "jpeg"
	case "webp":
	default:
		return nil, fmt.Errorf("unsupported preview format %q", format)
	}
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	if width < 0 {
		width = 0
	}
	return &PreviewEncoder{format: format, width: width, quality: quality}, nil
}

// ContentType returns the MIME type of encoded previews.
func (e *PreviewEncoder) ContentType() string {
	if e.format == "webp" {
		return "image/webp"
	}
	return "image/jpeg"
}

// Encode renders frame, outlining marks when given.
func (e *PreviewEncoder) Encode(frame Frame, marks []image.Point) (Preview, error) {
	if frame.Image == nil {
		return Preview{}, fmt.Errorf("encode preview %d: empty frame", frame.Seq)
	}
	var img image.Image = frame.Image
	if len(marks) > 0 {
		img = drawMarks(frame.Image, marks)
	}
	if e.width > 0 && img.Bounds().Dx() > e.width {
		img = imaging.Resize(img, e.width, 0, imaging.Linear)
	}

	var buf bytes.Buffer
	switch e.format {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(e.quality)}); err != nil {
			return Preview{}, fmt.Errorf("encode webp preview: %w", err)
		}
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
			return Preview{}, fmt.Errorf("encode jpeg preview: %w", err)
		}
	}
	bounds := img.Bounds()
	return Preview{
		Seq:         frame.Seq,
		ContentType: e.ContentType(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Data:        buf.Bytes(),
	}, nil
}

var markColor = color.NRGBA{R: 0, G: 220, B: 0, A: 255}

func drawMarks(src *image.Gray, marks []image.Point) *image.NRGBA {
	out := imaging.Clone(src)
	const half = 6
	for _, p := range marks {
		box := image.Rect(p.X-half, p.Y-half, p.X+half, p.Y+half).Intersect(out.Bounds())
		if box.Empty() {
			continue
		}
		outline(out, box)
	}
	return out
}

func outline(img *image.NRGBA, box image.Rectangle) {
	fill := image.NewUniform(markColor)
	edges := []image.Rectangle{
		image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+2),
		image.Rect(box.Min.X, box.Max.Y-2, box.Max.X, box.Max.Y),
		image.Rect(box.Min.X, box.Min.Y, box.Min.X+2, box.Max.Y),
		image.Rect(box.Max.X-2, box.Min.Y, box.Max.X, box.Max.Y),
	}
	for _, edge := range edges {
		draw.Draw(img, edge.Intersect(box), fill, image.Point{}, draw.Src)
	}
}
