// Package tileformat encodes, decodes, and identifies tile payloads
// (raster image tiles and vector PBF tiles) independent of any storage
// back-end.
package tileformat

import (
	"fmt"
	"image"
)

// Content-type tags used throughout the store and cache gateway. These
// mirror the "format" string stored alongside tile bytes in MBTiles
// metadata and the XYZ/Postgres back-ends.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
	FormatGIF  = "gif"
	FormatPBF  = "pbf"
)

// Encoder encodes an image into tile bytes for a specific raster format.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	Format() string
	FileExtension() string
}

// NewEncoder creates an encoder for the given format and quality (quality
// is only meaningful for lossy formats; 0 selects the format's default).
func NewEncoder(format string, quality int) (Encoder, error) {
	switch format {
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "png":
		return &PNGEncoder{}, nil
	case "webp":
		return &WebPEncoder{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("tileformat: unsupported raster format: %q (supported: jpeg, png, webp)", format)
	}
}

// FileExtensionFor returns the filename extension (without a leading
// dot) used by the XYZ back-end's sharded file tree for a given
// format tag, independent of constructing a full Encoder.
func FileExtensionFor(format string) string {
	switch format {
	case FormatJPEG, "jpg":
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWebP:
		return "webp"
	case FormatGIF:
		return "gif"
	case FormatPBF:
		return "pbf"
	default:
		return "bin"
	}
}
