package coord

import (
	"math"
	"testing"
)

func TestLonLatToTile(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		zoom     int
		wantX    int
		wantY    int
	}{
		{"origin z0", 0, 0, 0, 0, 0},
		{"london z10", -0.1278, 51.5074, 10, 511, 340},
		{"zurich z10", 8.5417, 47.3769, 10, 536, 358},
		{"nyc z10", -74.0060, 40.7128, 10, 301, 385},
		{"tokyo z10", 139.6917, 35.6895, 10, 909, 403},
		{"south pole clamped", 0, -89.9, 1, 1, 1},
		{"north pole clamped", 0, 89.9, 1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := LonLatToTile(tt.lon, tt.lat, tt.zoom)
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("LonLatToTile(%.4f, %.4f, %d) = (%d, %d), want (%d, %d)",
					tt.lon, tt.lat, tt.zoom, x, y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestTileBounds(t *testing.T) {
	minLon, minLat, maxLon, maxLat := TileBounds(0, 0, 0)

	if math.Abs(minLon-(-180)) > 1e-6 {
		t.Errorf("z0 minLon = %v, want -180", minLon)
	}
	if math.Abs(maxLon-180) > 1e-6 {
		t.Errorf("z0 maxLon = %v, want 180", maxLon)
	}
	if minLat < -85.1 || minLat > -85.0 {
		t.Errorf("z0 minLat = %v, want ~-85.05", minLat)
	}
	if maxLat < 85.0 || maxLat > 85.1 {
		t.Errorf("z0 maxLat = %v, want ~85.05", maxLat)
	}
}

func TestTileBounds_AdjacentTilesShare(t *testing.T) {
	_, _, maxLon0, _ := TileBounds(2, 0, 0)
	minLon1, _, _, _ := TileBounds(2, 1, 0)

	if math.Abs(maxLon0-minLon1) > 1e-10 {
		t.Errorf("Adjacent tile edge mismatch: maxLon(0)=%v, minLon(1)=%v", maxLon0, minLon1)
	}

	_, minLat0, _, _ := TileBounds(2, 0, 0)
	_, _, _, maxLat1 := TileBounds(2, 0, 1)

	if math.Abs(minLat0-maxLat1) > 1e-10 {
		t.Errorf("Adjacent tile edge mismatch: minLat(row0)=%v, maxLat(row1)=%v", minLat0, maxLat1)
	}
}

func TestPixelToLonLat_TileCorners(t *testing.T) {
	lon, lat := PixelToLonLat(0, 0, 0, 256, 0, 0)
	if math.Abs(lon-(-180)) > 1e-6 {
		t.Errorf("top-left lon = %v, want -180", lon)
	}
	if lat < 85.0 || lat > 85.1 {
		t.Errorf("top-left lat = %v, want ~85.05", lat)
	}

	lon, lat = PixelToLonLat(0, 0, 0, 256, 256, 256)
	if math.Abs(lon-180) > 1e-6 {
		t.Errorf("bottom-right lon = %v, want 180", lon)
	}
	if lat < -85.1 || lat > -85.0 {
		t.Errorf("bottom-right lat = %v, want ~-85.05", lat)
	}
}

func TestPixelToLonLat_RoundTrip(t *testing.T) {
	z, tx, ty := 10, 535, 358
	tileSize := 256

	for px := 0.5; px < float64(tileSize); px += 50 {
		for py := 0.5; py < float64(tileSize); py += 50 {
			lon, lat := PixelToLonLat(z, tx, ty, tileSize, px, py)
			gotPx, gotPy := TilePixelCoords(lon, lat, z, tx, ty, tileSize)

			if math.Abs(gotPx-px) > 1e-6 || math.Abs(gotPy-py) > 1e-6 {
				t.Errorf("roundtrip pixel (%v, %v) -> (%v, %v) -> (%v, %v)",
					px, py, lon, lat, gotPx, gotPy)
			}
		}
	}
}

func TestResolutionAtLat(t *testing.T) {
	res0 := ResolutionAtLat(0, 0)
	expected0 := EarthCircumference / 256
	if math.Abs(res0-expected0)/expected0 > 1e-6 {
		t.Errorf("ResolutionAtLat(0, 0) = %v, want ~%v", res0, expected0)
	}

	res1 := ResolutionAtLat(0, 1)
	if math.Abs(res1-res0/2)/res0 > 1e-6 {
		t.Errorf("ResolutionAtLat(0, 1) = %v, want ~%v", res1, res0/2)
	}

	res60 := ResolutionAtLat(60, 0)
	if math.Abs(res60-res0*0.5)/res0 > 1e-6 {
		t.Errorf("ResolutionAtLat(60, 0) = %v, want ~%v", res60, res0*0.5)
	}
}

func TestMaxZoomForResolution(t *testing.T) {
	tests := []struct {
		name      string
		pixelSize float64
		lat       float64
		wantZoom  int
	}{
		{"10m equator", 10, 0, 13},
		{"1m equator", 1, 0, 17},
		{"100m equator", 100, 0, 10},
		{"invalid zero", 0, 0, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxZoomForResolution(tt.pixelSize, tt.lat)
			if got != tt.wantZoom {
				t.Errorf("MaxZoomForResolution(%v, %v) = %d, want %d",
					tt.pixelSize, tt.lat, got, tt.wantZoom)
			}
		})
	}
}

func TestTilesInBounds(t *testing.T) {
	tiles := TilesInBounds(10, 8.4, 47.3, 8.6, 47.5)

	if len(tiles) == 0 {
		t.Fatal("TilesInBounds returned no tiles for Zurich area")
	}

	for _, tile := range tiles {
		z, x, y := tile[0], tile[1], tile[2]
		if z != 10 {
			t.Errorf("expected zoom 10, got %d", z)
		}
		if x < 530 || x > 540 {
			t.Errorf("tile x=%d outside expected range for Zurich", x)
		}
		if y < 355 || y > 360 {
			t.Errorf("tile y=%d outside expected range for Zurich", y)
		}
	}
}

func TestLonLatToTile_Clamping(t *testing.T) {
	x, _ := LonLatToTile(-200, 0, 5)
	if x < 0 {
		t.Errorf("negative x for lon=-200: %d", x)
	}

	x, _ = LonLatToTile(200, 0, 5)
	maxTile := (1 << 5) - 1
	if x > maxTile {
		t.Errorf("x exceeds max for lon=200: %d > %d", x, maxTile)
	}
}

func TestFlipY_Involution(t *testing.T) {
	for z := 0; z <= 12; z++ {
		n := 1 << uint(z)
		for y := 0; y < n; y++ {
			if got := FlipY(z, FlipY(z, y)); got != y {
				t.Errorf("FlipY(z=%d) not involutive: FlipY(FlipY(%d))=%d", z, y, got)
			}
		}
	}
}

func TestToXYZRow_FromXYZRow(t *testing.T) {
	z, xyzRow := 8, 100
	tmsRow := FromXYZRow(z, xyzRow, SchemeTMS)
	if back := ToXYZRow(z, tmsRow, SchemeTMS); back != xyzRow {
		t.Errorf("TMS roundtrip: got %d, want %d", back, xyzRow)
	}
	if same := ToXYZRow(z, xyzRow, SchemeXYZ); same != xyzRow {
		t.Errorf("XYZ scheme should be a no-op: got %d, want %d", same, xyzRow)
	}
}

func TestValidateBBox_AntiMeridian(t *testing.T) {
	if err := ValidateBBox(170, -10, -170, 10); err == nil {
		t.Error("expected error for anti-meridian-crossing bbox")
	}
	if err := ValidateBBox(-10, -10, 10, 10); err != nil {
		t.Errorf("valid bbox rejected: %v", err)
	}
}

func TestCircleBBox_ContainsCenter(t *testing.T) {
	minLon, minLat, maxLon, maxLat := CircleBBox(8.5, 47.4, 5000)
	if !(minLon < 8.5 && 8.5 < maxLon) {
		t.Errorf("center lon not within bbox: %v..%v", minLon, maxLon)
	}
	if !(minLat < 47.4 && 47.4 < maxLat) {
		t.Errorf("center lat not within bbox: %v..%v", minLat, maxLat)
	}
}
