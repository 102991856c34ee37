package coord

import "fmt"

// Coverage describes a region and zoom range a seed/clean/inventory
// operation should act on. Exactly one of Bounds or Circle should be set;
// LimitBounds additionally clips the result to a second box (used by
// "limitedBBox" coverages that constrain a circle or a loosely specified
// box to a hard outer limit).
type Coverage struct {
	Bounds      *BBox
	Circle      *Circle
	LimitBounds *BBox
	MinZoom     int
	MaxZoom     int
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Circle is a WGS84 center point plus a radius in meters.
type Circle struct {
	CenterLon, CenterLat float64
	RadiusMeters         float64
}

// TileRange is an inclusive rectangle of XYZ-scheme tile indices at a
// single zoom level.
type TileRange struct {
	Z              int
	MinX, MinY     int
	MaxX, MaxY     int
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int64 {
	w := int64(r.MaxX-r.MinX) + 1
	h := int64(r.MaxY-r.MinY) + 1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// resolveBBox returns the effective WGS84 box for a coverage, applying
// the circle-to-bbox conversion and the LimitBounds clip. empty reports
// that the coverage box and LimitBounds do not overlap.
func (c Coverage) resolveBBox() (BBox, bool, error) {
	var b BBox
	switch {
	case c.Bounds != nil:
		b = *c.Bounds
	case c.Circle != nil:
		minLon, minLat, maxLon, maxLat := CircleBBox(c.Circle.CenterLon, c.Circle.CenterLat, c.Circle.RadiusMeters)
		b = BBox{minLon, minLat, maxLon, maxLat}
	default:
		return BBox{}, false, fmt.Errorf("coord: coverage has neither Bounds nor Circle set")
	}

	empty := false
	if c.LimitBounds != nil {
		b, empty = intersectBBox(b, *c.LimitBounds)
	}

	if err := ValidateBBox(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat); err != nil {
		return BBox{}, false, err
	}
	return b, empty, nil
}

// intersectBBox returns the true overlap of a and lim. When they don't
// overlap at all, the result collapses to a zero-size box pinned at the
// near edge rather than producing MinLon>MaxLon or MinLat>MaxLat, and the
// second result is true, so callers see an empty range instead of an
// anti-meridian-shaped error.
func intersectBBox(a, lim BBox) (BBox, bool) {
	empty := false
	minLon := a.MinLon
	if lim.MinLon > minLon {
		minLon = lim.MinLon
	}
	maxLon := a.MaxLon
	if lim.MaxLon < maxLon {
		maxLon = lim.MaxLon
	}
	if minLon > maxLon {
		maxLon = minLon
		empty = true
	}

	minLat := a.MinLat
	if lim.MinLat > minLat {
		minLat = lim.MinLat
	}
	maxLat := a.MaxLat
	if lim.MaxLat < maxLat {
		maxLat = lim.MaxLat
	}
	if minLat > maxLat {
		maxLat = minLat
		empty = true
	}

	return BBox{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}, empty
}

// TileRangesForCoverage enumerates the per-zoom tile rectangles a coverage
// spans, one TileRange per zoom level from MinZoom to MaxZoom inclusive.
func TileRangesForCoverage(c Coverage) ([]TileRange, error) {
	if c.MinZoom < 0 || c.MaxZoom < c.MinZoom {
		return nil, fmt.Errorf("coord: invalid zoom range [%d,%d]", c.MinZoom, c.MaxZoom)
	}
	b, empty, err := c.resolveBBox()
	if err != nil {
		return nil, err
	}

	ranges := make([]TileRange, 0, c.MaxZoom-c.MinZoom+1)
	for z := c.MinZoom; z <= c.MaxZoom; z++ {
		minX, minY := LonLatToTile(b.MinLon, b.MaxLat, z)
		maxX, maxY := LonLatToTile(b.MaxLon, b.MinLat, z)
		if empty {
			maxX, maxY = minX-1, minY-1
		}
		ranges = append(ranges, TileRange{Z: z, MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY})
	}
	return ranges, nil
}

// ParentRange returns the tile range one zoom level up (z-1) that fully
// covers r — each parent tile's four children are {2x,2y},{2x+1,2y},
// {2x,2y+1},{2x+1,2y+1}, so the inverse is integer division by 2.
func ParentRange(r TileRange) TileRange {
	return TileRange{
		Z:    r.Z - 1,
		MinX: r.MinX / 2,
		MinY: r.MinY / 2,
		MaxX: r.MaxX / 2,
		MaxY: r.MaxY / 2,
	}
}

// PyramidTileRanges walks up from a fully-seeded base range, producing one
// TileRange per overview zoom level from base.Z-1 down to base.Z-levels.
// Used by the pyramid overview builder to know which parent tiles to
// composite after a zoom level has been seeded.
func PyramidTileRanges(base TileRange, levels int) []TileRange {
	ranges := make([]TileRange, 0, levels)
	cur := base
	for i := 0; i < levels && cur.Z > 0; i++ {
		cur = ParentRange(cur)
		ranges = append(ranges, cur)
	}
	return ranges
}
