// Package overview builds pyramid overview tiles by compositing the four
// children of a parent tile into a single downsampled image.
package overview

import (
	"image"
	"image/color"
)

// TileData represents a decoded tile held in memory while an overview level
// is being composited. For tiles where every pixel shares the same color
// (ocean, transparent gaps, a solid land-cover class), it stores only the
// color value — saving a full image allocation per uniform tile.
//
// TileData implements image.Image so it can be passed directly to encoders
// without expansion.
type TileData struct {
	img      *image.RGBA // non-nil for normal (multi-color) tiles
	gray     *image.Gray // non-nil for single-channel tiles; mutually exclusive with img
	color    color.RGBA  // the uniform color; meaningful when img == nil && gray == nil
	tileSize int         // tile dimensions (square); used for Bounds() on uniform tiles
}

var _ image.Image = (*TileData)(nil)

// newTileData wraps a decoded image, automatically detecting uniform tiles.
func newTileData(img *image.RGBA, tileSize int) *TileData {
	if c, ok := detectUniform(img); ok {
		return &TileData{color: c, tileSize: tileSize}
	}
	return &TileData{img: img, tileSize: tileSize}
}

// newTileDataGray wraps a decoded single-channel image.
func newTileDataGray(gray *image.Gray, tileSize int) *TileData {
	if v, ok := detectUniformGray(gray); ok {
		return &TileData{color: color.RGBA{R: v, G: v, B: v, A: 255}, tileSize: tileSize}
	}
	return &TileData{gray: gray, tileSize: tileSize}
}

// newTileDataUniform creates a uniform (single-color) tile.
func newTileDataUniform(c color.RGBA, tileSize int) *TileData {
	return &TileData{color: c, tileSize: tileSize}
}

// IsUniform returns true if all pixels share the same color.
func (t *TileData) IsUniform() bool {
	return t.img == nil && t.gray == nil
}

// IsGray returns true if this tile is backed by a single-channel image.
func (t *TileData) IsGray() bool {
	return t.gray != nil
}

// isUniformGray returns true when the tile is uniform and R=G=B, A=255 —
// i.e. compatible with the gray compositing fast path.
func (t *TileData) isUniformGray() bool {
	if t.img != nil || t.gray != nil {
		return false
	}
	return t.color.R == t.color.G && t.color.G == t.color.B && t.color.A == 255
}

// Color returns the uniform color. Only meaningful when IsUniform() is true.
func (t *TileData) Color() color.RGBA {
	return t.color
}

// RGBAAt returns the pixel at (x, y).
func (t *TileData) RGBAAt(x, y int) color.RGBA {
	switch {
	case t.img != nil:
		return t.img.RGBAAt(x, y)
	case t.gray != nil:
		v := t.gray.GrayAt(x, y).Y
		return color.RGBA{R: v, G: v, B: v, A: 255}
	default:
		return t.color
	}
}

// ToRGBA returns the full RGBA image. For uniform or gray tiles this
// allocates and fills a new image. Prefer AsImage() when passing to encoders.
func (t *TileData) ToRGBA() *image.RGBA {
	if t.img != nil {
		return t.img
	}
	img := image.NewRGBA(image.Rect(0, 0, t.tileSize, t.tileSize))
	if t.gray != nil {
		pix := img.Pix
		gp := t.gray.Pix
		for i, j := 0, 0; i < len(pix); i, j = i+4, j+1 {
			v := gp[j]
			pix[i], pix[i+1], pix[i+2], pix[i+3] = v, v, v, 255
		}
		return img
	}
	c := t.color
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// AsImage returns an image.Image suitable for encoders.
func (t *TileData) AsImage() image.Image {
	switch {
	case t.img != nil:
		return t.img
	case t.gray != nil:
		return t.gray
	default:
		return t
	}
}

// --- image.Image interface ---

func (t *TileData) ColorModel() color.Model {
	if t.gray != nil {
		return color.GrayModel
	}
	return color.RGBAModel
}

func (t *TileData) Bounds() image.Rectangle {
	switch {
	case t.img != nil:
		return t.img.Bounds()
	case t.gray != nil:
		return t.gray.Bounds()
	default:
		return image.Rect(0, 0, t.tileSize, t.tileSize)
	}
}

func (t *TileData) At(x, y int) color.Color {
	switch {
	case t.img != nil:
		return t.img.At(x, y)
	case t.gray != nil:
		return t.gray.At(x, y)
	default:
		return t.color
	}
}

// --- Uniform detection ---

// detectUniform checks whether every pixel in img shares the same RGBA
// value. The scan is sequential over Pix (cache-friendly) and short-circuits
// on the first mismatch.
func detectUniform(img *image.RGBA) (color.RGBA, bool) {
	pix := img.Pix
	if len(pix) < 4 {
		return color.RGBA{}, false
	}
	r, g, b, a := pix[0], pix[1], pix[2], pix[3]
	for i := 4; i < len(pix); i += 4 {
		if pix[i] != r || pix[i+1] != g || pix[i+2] != b || pix[i+3] != a {
			return color.RGBA{}, false
		}
	}
	return color.RGBA{R: r, G: g, B: b, A: a}, true
}

// detectUniformGray checks if all pixels in a gray image are the same value.
func detectUniformGray(img *image.Gray) (uint8, bool) {
	pix := img.Pix
	if len(pix) == 0 {
		return 0, false
	}
	v := pix[0]
	for i := 1; i < len(pix); i++ {
		if pix[i] != v {
			return 0, false
		}
	}
	return v, true
}

// tileDataToRGBA converts a *TileData to *image.RGBA, returning nil for nil input.
func tileDataToRGBA(td *TileData) *image.RGBA {
	if td == nil {
		return nil
	}
	return td.ToRGBA()
}

// tileDataToGray extracts an *image.Gray from a TileData. For gray tiles
// this returns the internal image (no allocation); for uniform gray-
// compatible tiles it allocates a filled gray image.
func tileDataToGray(td *TileData, tileSize int) *image.Gray {
	if td == nil {
		return nil
	}
	if td.gray != nil {
		return td.gray
	}
	g := image.NewGray(image.Rect(0, 0, tileSize, tileSize))
	v := td.color.R
	pix := g.Pix
	for i := range pix {
		pix[i] = v
	}
	return g
}
