// Package image provides card photo loading and conversion to OpenCV matrices.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned when a decoded image has no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// Side indicates which face of the card an image shows.
type Side int

const (
	SideUnknown Side = iota
	SideFront
	SideBack
)

// String returns the label used in metrics output.
func (s Side) String() string {
	switch s {
	case SideFront:
		return "front"
	case SideBack:
		return "back"
	default:
		return "unknown"
	}
}

// Decode reads an image, applies its EXIF orientation and shrinks it so
// neither dimension exceeds maxDim. maxDim <= 0 disables the resize.
func Decode(r io.Reader, maxDim int) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Box)
	}
	return img, nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte, maxDim int) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return Decode(bytes.NewReader(data), maxDim)
}

// Load opens and decodes the image at path.
func Load(path string, maxDim int) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	return Decode(file, maxDim)
}

// GuessSideFromFilename attempts to determine the card face from the filename.
func GuessSideFromFilename(path string) Side {
	base := strings.ToLower(filepath.Base(path))

	for _, kw := range []string{"front", "obverse", "recto"} {
		if strings.Contains(base, kw) {
			return SideFront
		}
	}
	for _, kw := range []string{"back", "reverse", "verso"} {
		if strings.Contains(base, kw) {
			return SideBack
		}
	}
	return SideUnknown
}

// UploadFormats lists extensions accepted from HTTP uploads.
func UploadFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".webp"}
}

// IsUploadFormat checks the extension of an uploaded file name.
func IsUploadFormat(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, format := range UploadFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
