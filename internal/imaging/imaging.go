// Package imaging decodes, shrinks, crops and encodes frames.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/kozaktomas/face-attendance/internal/constants"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ErrEmptyRegion is returned when a crop does not overlap the image.
var ErrEmptyRegion = errors.New("crop region is empty")

// Decode decodes JPEG, PNG, GIF or BMP data.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Shrink scales img by factor s in (0, 1]. The result always starts at (0, 0)
// so detector coordinates are relative to it. s == 1 returns img unchanged.
func Shrink(img image.Image, s float64) image.Image {
	if s >= 1 || s <= 0 {
		return img
	}
	bounds := img.Bounds()
	w := max(1, int(math.Round(float64(bounds.Dx())*s)))
	h := max(1, int(math.Round(float64(bounds.Dy())*s)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// Crop copies the region r of img into a new image with origin (0, 0).
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return nil, ErrEmptyRegion
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// CropJPEG crops r from img and encodes it for the embedding server.
func CropJPEG(img image.Image, r image.Rectangle) ([]byte, error) {
	face, err := Crop(img, r)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(face)
}
