package overview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/pspoerri/tilecachegw/internal/tileformat"
)

// Resampling selects how four child tiles are merged into one parent
// pixel grid.
type Resampling int

const (
	ResamplingBilinear Resampling = iota
	ResamplingNearest
)

// quadrantOffsets gives each child's destination corner within the
// composited parent, in half-tile units, matching the fixed order
// Compose4to1 documents: topLeft, topRight, bottomLeft, bottomRight.
var quadrantOffsets = [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}

// Compose4to1 builds one parent tile from up to four child tiles, each
// already encoded in the store's native wire format (png/jpg/webp). A nil
// or empty child contributes transparent pixels for that quadrant.
// Returns nil, nil when every child is empty — nothing to build.
//
// children are ordered topLeft, topRight, bottomLeft, bottomRight,
// corresponding to (2x,2y), (2x+1,2y), (2x,2y+1), (2x+1,2y+1) of the
// child zoom level.
func Compose4to1(children [4][]byte, tileW, tileH int, format string, mode Resampling) ([]byte, error) {
	decoded, present, err := decodeChildren(children, tileW, tileH)
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}

	merged := mergeChildren(decoded, tileW, mode)
	if merged == nil {
		return nil, nil
	}

	enc, err := tileformat.NewEncoder(format, 0)
	if err != nil {
		return nil, fmt.Errorf("overview: encoder for %s: %w", format, err)
	}
	data, err := enc.Encode(merged.AsImage())
	if err != nil {
		return nil, fmt.Errorf("overview: encode composited tile: %w", err)
	}
	return data, nil
}

// decodeChildren decodes each non-empty child into a TileData, reporting
// how many were present so Compose4to1 can short-circuit on an all-empty
// set without touching the compositing path at all.
func decodeChildren(children [4][]byte, tileW, tileH int) ([4]*TileData, int, error) {
	var decoded [4]*TileData
	present := 0
	for i, raw := range children {
		if len(raw) == 0 {
			continue
		}
		td, err := decodeTileData(raw, tileW, tileH)
		if err != nil {
			return decoded, 0, fmt.Errorf("overview: decode child %d: %w", i, err)
		}
		decoded[i] = td
		present++
	}
	return decoded, present, nil
}

// decodeTileData decodes raw tile bytes into a TileData, detecting
// grayscale images so the gray compositing fast path can be used.
func decodeTileData(raw []byte, tileW, tileH int) (*TileData, error) {
	img, err := tileformat.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if g, ok := img.(*image.Gray); ok {
		return newTileDataGray(g, tileW), nil
	}
	return newTileData(toRGBA(img, tileW, tileH), tileW), nil
}

// toRGBA converts an arbitrary decoded image.Image into *image.RGBA.
func toRGBA(img image.Image, w, h int) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	dst := GetRGBA(w, h)
	b := img.Bounds()
	for y := 0; y < h && y < b.Dy(); y++ {
		for x := 0; x < w && x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// mergeChildren combines up to 4 decoded children into one parent
// TileData, taking the cheapest path the data allows: four children
// sharing a uniform color need no pixel work at all, and single-channel
// children stay in gray space instead of expanding to RGBA.
func mergeChildren(children [4]*TileData, tileSize int, mode Resampling) *TileData {
	present := 0
	uniform := true
	grayCompatible := true
	for _, c := range children {
		if c == nil {
			continue
		}
		present++
		uniform = uniform && c.IsUniform()
		grayCompatible = grayCompatible && (c.IsGray() || c.isUniformGray())
	}
	if present == 0 {
		return nil
	}

	if present == 4 && uniform {
		c0 := children[0].Color()
		if children[1].Color() == c0 && children[2].Color() == c0 && children[3].Color() == c0 {
			return newTileDataUniform(c0, tileSize)
		}
	}
	if present == 4 && grayCompatible {
		return mergeGray(children, tileSize, mode)
	}
	return mergeRGBA(children, tileSize, mode)
}

func mergeRGBA(children [4]*TileData, tileSize int, mode Resampling) *TileData {
	dst := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	half := tileSize / 2
	sample := bilinearRGBA
	if mode == ResamplingNearest {
		sample = nearestRGBA
	}
	for i, off := range quadrantOffsets {
		src := tileDataToRGBA(children[i])
		if src == nil {
			continue
		}
		fillQuadrantRGBA(dst, src, off[0]*half, off[1]*half, half, tileSize, sample)
	}
	return newTileData(dst, tileSize)
}

func mergeGray(children [4]*TileData, tileSize int, mode Resampling) *TileData {
	dst := image.NewGray(image.Rect(0, 0, tileSize, tileSize))
	half := tileSize / 2
	sample := bilinearGray
	if mode == ResamplingNearest {
		sample = nearestGray
	}
	for i, off := range quadrantOffsets {
		src := tileDataToGray(children[i], tileSize)
		if src == nil {
			continue
		}
		fillQuadrantGray(dst, src, off[0]*half, off[1]*half, half, tileSize, sample)
	}
	return newTileDataGray(dst, tileSize)
}

// fillQuadrantRGBA fills a half x half region of dst starting at
// (offX, offY) by calling sample once per destination pixel against the
// corresponding 2x2 block of src.
func fillQuadrantRGBA(dst, src *image.RGBA, offX, offY, half, tileSize int, sample func(*image.RGBA, int, int, int) color.RGBA) {
	for dy := 0; dy < half; dy++ {
		for dx := 0; dx < half; dx++ {
			dst.SetRGBA(offX+dx, offY+dy, sample(src, dx*2, dy*2, tileSize))
		}
	}
}

// bilinearRGBA box-filters (averages) the 2x2 source block at (sx, sy).
// Pixels with alpha == 0 are nodata and excluded from the RGB average so
// they don't bleed dark colors into the result; alpha itself is always a
// straight average of all four source pixels.
func bilinearRGBA(src *image.RGBA, sx, sy, tileSize int) color.RGBA {
	p00 := srcPixel(src, sx, sy, tileSize)
	p10 := srcPixel(src, sx+1, sy, tileSize)
	p01 := srcPixel(src, sx, sy+1, tileSize)
	p11 := srcPixel(src, sx+1, sy+1, tileSize)
	pixels := [4]color.RGBA{p00, p10, p01, p11}

	aSum := uint16(p00.A) + uint16(p10.A) + uint16(p01.A) + uint16(p11.A)
	a := (aSum + 2) / 4

	var rSum, gSum, bSum, count uint16
	for _, p := range pixels {
		if p.A == 0 {
			continue
		}
		rSum += uint16(p.R)
		gSum += uint16(p.G)
		bSum += uint16(p.B)
		count++
	}
	if count == 0 {
		return color.RGBA{A: uint8(a)}
	}
	return color.RGBA{
		R: uint8((rSum + count/2) / count),
		G: uint8((gSum + count/2) / count),
		B: uint8((bSum + count/2) / count),
		A: uint8(a),
	}
}

// nearestRGBA picks the top-left pixel of the 2x2 source block.
func nearestRGBA(src *image.RGBA, sx, sy, tileSize int) color.RGBA {
	return srcPixel(src, sx, sy, tileSize)
}

// srcPixel reads a pixel from src, clamping coordinates to bounds.
func srcPixel(src *image.RGBA, x, y, tileSize int) color.RGBA {
	if x >= tileSize {
		x = tileSize - 1
	}
	if y >= tileSize {
		y = tileSize - 1
	}
	return src.RGBAAt(x, y)
}

// fillQuadrantGray is fillQuadrantRGBA's single-channel counterpart,
// reading and writing Pix directly since Gray has no per-pixel alpha to
// special-case.
func fillQuadrantGray(dst, src *image.Gray, offX, offY, half, tileSize int, sample func(*image.Gray, int, int, int) uint8) {
	dstStride := dst.Stride
	dstPix := dst.Pix
	for dy := 0; dy < half; dy++ {
		dstRowOff := (offY + dy) * dstStride
		for dx := 0; dx < half; dx++ {
			dstPix[dstRowOff+offX+dx] = sample(src, dx*2, dy*2, tileSize)
		}
	}
}

// bilinearGray averages the 2x2 source block at (sx, sy).
func bilinearGray(src *image.Gray, sx, sy, tileSize int) uint8 {
	x1, y1 := clampIdx(sx+1, tileSize), clampIdx(sy+1, tileSize)
	stride := src.Stride
	pix := src.Pix
	v := uint16(pix[sy*stride+sx]) + uint16(pix[sy*stride+x1]) +
		uint16(pix[y1*stride+sx]) + uint16(pix[y1*stride+x1])
	return uint8((v + 2) / 4)
}

// nearestGray picks the top-left pixel of the 2x2 source block.
func nearestGray(src *image.Gray, sx, sy, tileSize int) uint8 {
	return src.Pix[sy*src.Stride+sx]
}

func clampIdx(v, limit int) int {
	if v >= limit {
		return limit - 1
	}
	return v
}
