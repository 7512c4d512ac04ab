package capture_test

import (
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
)

func saveImage(dir, name string, img image.Image) error {
	return imaging.Save(img, filepath.Join(dir, name))
}
