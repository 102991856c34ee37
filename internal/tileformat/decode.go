package tileformat

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/gen2brain/webp"
)

// DecodeImage decodes image bytes in the specified raster format back to an
// image.Image. Supported formats: "png", "jpeg"/"jpg", "webp".
func DecodeImage(data []byte, format string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case "png":
		return png.Decode(r)
	case "jpeg", "jpg":
		return jpeg.Decode(r)
	case "webp":
		return webp.Decode(r)
	default:
		return nil, fmt.Errorf("tileformat: unsupported decode format: %q", format)
	}
}

// Decode sniffs the raster format from the leading bytes and decodes to an
// image.Image. Used by the pyramid overview builder, which composites
// already-encoded tiles read back from a store without knowing their
// format ahead of time.
func Decode(r io.Reader) (image.Image, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tileformat: read: %w", err)
	}
	format := Sniff(buf)
	switch format {
	case FormatPNG:
		return png.Decode(bytes.NewReader(buf))
	case FormatJPEG:
		return jpeg.Decode(bytes.NewReader(buf))
	case FormatWebP:
		return webp.Decode(bytes.NewReader(buf))
	default:
		return nil, fmt.Errorf("tileformat: cannot decode as image: sniffed format %q", format)
	}
}
