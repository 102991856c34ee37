package tileformat

import "bytes"

// Additional content-type tags recognized by Sniff beyond the raster
// formats Encoder/Decode support. Tiles stored in these formats are
// passed through by the cache gateway and store back-ends untouched;
// only image tiles participate in decoding/overview compositing.
const (
	FormatWOFF    = "woff"
	FormatWOFF2   = "woff2"
	FormatOTF     = "otf"
	FormatTTF     = "ttf"
	FormatUnknown = ""
)

// magic-number signatures, checked in order. Grounded on the tile-format
// detector in tarkov-database-tileserver's mbtiles package, extended with
// the font signatures this gateway also needs to fingerprint (sprite
// sheets and glyph ranges share the tile store). Vector tiles have no
// entry; Sniff reaches them through its PBF fallback.
var signatures = []struct {
	format string
	magic  []byte
}{
	{FormatPNG, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}},
	{FormatJPEG, []byte{0xFF, 0xD8, 0xFF}},
	{FormatGIF, []byte("GIF87a")},
	{FormatGIF, []byte("GIF89a")},
	{FormatWebP, []byte("RIFF")}, // followed by size(4) + "WEBP"; checked specially below
	{FormatWOFF, []byte("wOFF")},
	{FormatWOFF2, []byte("wOF2")},
	{FormatOTF, []byte("OTTO")},
	{FormatTTF, []byte{0x00, 0x01, 0x00, 0x00}},
}

// Sniff identifies a tile's content type from its leading bytes, the way
// a store back-end samples one tile to report its format in MBTiles
// metadata. A raw (uncompressed) protobuf vector tile has no magic number
// at all, so PBF is the fallback format once every image/font signature
// has been ruled out. There is no gzip/zlib check, so compressed PBF
// tiles reach the same fallback.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return FormatUnknown
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return FormatWebP
	}
	for _, sig := range signatures {
		if sig.format == FormatWebP {
			continue // handled above with the WEBP sub-check
		}
		if len(data) >= len(sig.magic) && bytes.Equal(data[:len(sig.magic)], sig.magic) {
			return sig.format
		}
	}
	return FormatPBF
}

// IsRaster reports whether format is one Encoder/Decode can handle.
func IsRaster(format string) bool {
	switch format {
	case FormatPNG, FormatJPEG, FormatWebP:
		return true
	default:
		return false
	}
}
