package store

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// solidPNG encodes a w×h fully-opaque red PNG, used by overview-compositing
// tests that just need a decodable tile of a known format and size.
func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	red := color.RGBA{R: 255, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, red)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeMVTTile hand-encodes a minimal Mapbox Vector Tile body containing a
// single layer named name — just enough wire format for
// tileformat.VectorLayerNames to find it, without pulling in an MVT
// library this stack doesn't otherwise use.
func fakeMVTTile(t *testing.T, name string) []byte {
	t.Helper()
	layer := append([]byte{0x0a, byte(len(name))}, []byte(name)...) // field 1, length-delimited
	tile := append([]byte{0x1a, byte(len(layer))}, layer...)        // field 3, length-delimited
	return tile
}
