package coord

import "testing"

func TestTileRangesForCoverage_BBox(t *testing.T) {
	cov := Coverage{
		Bounds:  &BBox{MinLon: 8.4, MinLat: 47.3, MaxLon: 8.6, MaxLat: 47.5},
		MinZoom: 8,
		MaxZoom: 10,
	}
	ranges, err := TileRangesForCoverage(cov)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 3 {
		t.Fatalf("expected 3 zoom levels, got %d", len(ranges))
	}
	for i, r := range ranges {
		wantZ := 8 + i
		if r.Z != wantZ {
			t.Errorf("ranges[%d].Z = %d, want %d", i, r.Z, wantZ)
		}
		if r.MinX > r.MaxX || r.MinY > r.MaxY {
			t.Errorf("ranges[%d] malformed: %+v", i, r)
		}
	}
}

func TestTileRangesForCoverage_Circle(t *testing.T) {
	cov := Coverage{
		Circle:  &Circle{CenterLon: 8.5, CenterLat: 47.4, RadiusMeters: 2000},
		MinZoom: 12,
		MaxZoom: 12,
	}
	ranges, err := TileRangesForCoverage(cov)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 zoom level, got %d", len(ranges))
	}
	if ranges[0].Count() == 0 {
		t.Error("expected non-empty tile range for circle coverage")
	}
}

func TestTileRangesForCoverage_LimitedBBox(t *testing.T) {
	cov := Coverage{
		Circle:      &Circle{CenterLon: 8.5, CenterLat: 47.4, RadiusMeters: 50000},
		LimitBounds: &BBox{MinLon: 8.45, MinLat: 47.35, MaxLon: 8.55, MaxLat: 47.45},
		MinZoom:     10,
		MaxZoom:     10,
	}
	ranges, err := TileRangesForCoverage(cov)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlimited, _ := TileRangesForCoverage(Coverage{
		Circle:  cov.Circle,
		MinZoom: 10,
		MaxZoom: 10,
	})
	if ranges[0].Count() >= unlimited[0].Count() {
		t.Errorf("limited coverage should be smaller: limited=%d unlimited=%d", ranges[0].Count(), unlimited[0].Count())
	}
}

func TestTileRangesForCoverage_NonOverlappingLimitBoundsYieldsZeroSizeRange(t *testing.T) {
	cov := Coverage{
		Bounds:      &BBox{MinLon: 8.0, MinLat: 47.0, MaxLon: 8.1, MaxLat: 47.1},
		LimitBounds: &BBox{MinLon: 20.0, MinLat: 50.0, MaxLon: 20.1, MaxLat: 50.1},
		MinZoom:     8,
		MaxZoom:     8,
	}
	ranges, err := TileRangesForCoverage(cov)
	if err != nil {
		t.Fatalf("unexpected error for disjoint LimitBounds: %v", err)
	}
	if got := ranges[0].Count(); got != 0 {
		t.Errorf("expected an empty zero-size range, got count=%d: %+v", got, ranges[0])
	}
}

func TestTileRangesForCoverage_AntiMeridianRejected(t *testing.T) {
	cov := Coverage{
		Bounds:  &BBox{MinLon: 170, MinLat: -10, MaxLon: -170, MaxLat: 10},
		MinZoom: 5,
		MaxZoom: 5,
	}
	if _, err := TileRangesForCoverage(cov); err == nil {
		t.Error("expected error for anti-meridian-crossing coverage")
	}
}

func TestTileRangesForCoverage_NoRegion(t *testing.T) {
	cov := Coverage{MinZoom: 1, MaxZoom: 1}
	if _, err := TileRangesForCoverage(cov); err == nil {
		t.Error("expected error when neither Bounds nor Circle is set")
	}
}

func TestParentRange(t *testing.T) {
	child := TileRange{Z: 5, MinX: 10, MinY: 20, MaxX: 13, MaxY: 23}
	parent := ParentRange(child)
	if parent.Z != 4 {
		t.Errorf("parent.Z = %d, want 4", parent.Z)
	}
	if parent.MinX != 5 || parent.MaxX != 6 || parent.MinY != 10 || parent.MaxY != 11 {
		t.Errorf("parent range = %+v, want MinX=5 MaxX=6 MinY=10 MaxY=11", parent)
	}
}

func TestPyramidTileRanges(t *testing.T) {
	base := TileRange{Z: 10, MinX: 500, MinY: 500, MaxX: 510, MaxY: 510}
	ranges := PyramidTileRanges(base, 3)
	if len(ranges) != 3 {
		t.Fatalf("expected 3 overview levels, got %d", len(ranges))
	}
	for i, r := range ranges {
		wantZ := base.Z - 1 - i
		if r.Z != wantZ {
			t.Errorf("ranges[%d].Z = %d, want %d", i, r.Z, wantZ)
		}
	}
}
