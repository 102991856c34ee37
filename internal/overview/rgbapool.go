package overview

import (
	"image"
	"sync"
)

// rgbaPools reuses *image.RGBA buffers keyed by dimensions. A gateway
// only ever composites one or two distinct tile sizes (256 and
// occasionally 512 for @2x clients), so a plain mutex-guarded map is
// enough — no need for sync.Map's lock-free reads across many keys.
var (
	rgbaPoolMu sync.Mutex
	rgbaPools  = map[[2]int]*sync.Pool{}
)

// GetRGBA returns a zeroed *image.RGBA sized w x h from the pool, or
// allocates a new one when the pool is empty.
func GetRGBA(w, h int) *image.RGBA {
	key := [2]int{w, h}
	rgbaPoolMu.Lock()
	pool := rgbaPools[key]
	rgbaPoolMu.Unlock()
	if pool != nil {
		if v := pool.Get(); v != nil {
			img := v.(*image.RGBA)
			clear(img.Pix)
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// PutRGBA returns img to the pool for its dimensions for later reuse.
// Nil images are silently ignored.
func PutRGBA(img *image.RGBA) {
	if img == nil {
		return
	}
	key := [2]int{img.Rect.Dx(), img.Rect.Dy()}
	rgbaPoolMu.Lock()
	pool := rgbaPools[key]
	if pool == nil {
		pool = &sync.Pool{}
		rgbaPools[key] = pool
	}
	rgbaPoolMu.Unlock()
	pool.Put(img)
}
