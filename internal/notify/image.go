package notify

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // GIF decoder for notification images
	_ "image/jpeg" // JPEG decoder for notification images
	_ "image/png"  // PNG decoder for notification images
	"os"

	"github.com/dustin/go-humanize"
	"github.com/godbus/dbus/v5"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // BMP decoder for notification images
	_ "golang.org/x/image/webp" // WebP decoder for notification images
)

// DefaultMaxImageSize is the longest edge, in pixels, of an image sent to
// the notification service.
const DefaultMaxImageSize = 256

// Image is the freedesktop image-data pixel buffer, marshalled as (iiibiiay).
// Field order matters: godbus encodes the struct positionally.
type Image struct {
	Width         int32
	Height        int32
	RowStride     int32
	HasAlpha      bool
	BitsPerSample int32
	Channels      int32
	Data          []byte
}

// Variant wraps the image for use as the image-data hint.
func (i *Image) Variant() dbus.Variant {
	return dbus.MakeVariant(*i)
}

// LoadImage reads and decodes the image at path, scaling it down so that
// neither edge exceeds maxSize. maxSize <= 0 uses DefaultMaxImageSize.
func LoadImage(path string, maxSize int) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s (%s): %w", path, humanize.Bytes(uint64(len(data))), err)
	}

	return FromImage(img, maxSize), nil
}

// FromImage converts img to an RGBA pixel buffer, scaling it down to fit
// maxSize while keeping its aspect ratio. Smaller images are not scaled up.
func FromImage(img image.Image, maxSize int) *Image {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}

	scaled := resize.Thumbnail(uint(maxSize), uint(maxSize), img, resize.Lanczos3) //nolint:gosec // maxSize is validated positive

	bounds := scaled.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), scaled, bounds.Min, draw.Src)

	return &Image{
		Width:         int32(rgba.Rect.Dx()), //nolint:gosec // bounded by maxSize
		Height:        int32(rgba.Rect.Dy()), //nolint:gosec // bounded by maxSize
		RowStride:     int32(rgba.Stride),    //nolint:gosec // bounded by maxSize
		HasAlpha:      true,
		BitsPerSample: 8,
		Channels:      4,
		Data:          rgba.Pix,
	}
}
