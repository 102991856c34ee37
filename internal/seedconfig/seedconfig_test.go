package seedconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesSeedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "seed.json", `{
		"datas": {
			"basemap": {
				"storeType": "mbtiles",
				"scheme": "xyz",
				"coverages": [{"zoom": 1, "bbox": [-180, -85, 180, 85]}],
				"url": "https://tiles.example/{z}/{x}/{y}.png",
				"maxTry": 3,
				"timeout": "5s",
				"refreshBefore": "24h",
				"concurrency": 4,
				"storeTransparent": false
			}
		}
	}`)

	doc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Datas, 1)

	src := doc.Datas["basemap"]
	require.Equal(t, "mbtiles", src.StoreType)
	require.Equal(t, 3, src.MaxTry)

	covs, err := src.CoverageList()
	require.NoError(t, err)
	require.Len(t, covs, 1)
	require.Equal(t, 1, covs[0].MinZoom)
	require.NotNil(t, covs[0].Bounds)
}

func TestLoad_RejectsUnknownStoreType(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "seed.json", `{"datas": {"a": {"storeType": "bogus", "scheme": "xyz", "coverages": [{"zoom": 1, "bbox": [-180,-85,180,85]}]}}}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMaxTryZeroWithURL(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "seed.json", `{"datas": {"a": {"storeType": "mbtiles", "scheme": "xyz", "coverages": [{"zoom": 1, "bbox": [-180,-85,180,85]}], "url": "https://x/{z}/{x}/{y}.png"}}}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadCleanup_ParsesCleanupJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cleanup.json", `{
		"datas": {
			"basemap": {
				"storeType": "xyz",
				"scheme": "tms",
				"coverages": [{"zoom": 2, "bbox": [-180, -85, 180, 85]}],
				"cleanUpBefore": "7 days ago",
				"concurrency": 2
			}
		}
	}`)

	doc, err := LoadCleanup(path)
	require.NoError(t, err)
	src := doc.Datas["basemap"]
	require.Equal(t, "7 days ago", src.CleanUpBefore)

	covs, err := src.CoverageList()
	require.NoError(t, err)
	require.Len(t, covs, 1)
}

func TestLoadCleanup_RequiresCleanUpBefore(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cleanup.json", `{"datas": {"a": {"storeType": "xyz", "scheme": "xyz", "coverages": [{"zoom": 1, "bbox": [-180,-85,180,85]}]}}}`)

	_, err := LoadCleanup(path)
	require.Error(t, err)
}

func TestCoverageSpec_CircleConversion(t *testing.T) {
	cs := CoverageSpec{Zoom: 3, Circle: &CircleSpec{Center: [2]float64{10, 20}, RadiusM: 5000}}
	cov, err := cs.ToCoverage()
	require.NoError(t, err)
	require.NotNil(t, cov.Circle)
	require.Equal(t, 10.0, cov.Circle.CenterLon)
}

func TestCoverageSpec_RejectsBothBBoxAndCircle(t *testing.T) {
	cs := CoverageSpec{Zoom: 1, BBox: &[4]float64{-1, -1, 1, 1}, Circle: &CircleSpec{Center: [2]float64{0, 0}, RadiusM: 1}}
	_, err := cs.ToCoverage()
	require.Error(t, err)
}
