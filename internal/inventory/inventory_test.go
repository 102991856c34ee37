package inventory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pspoerri/tilecachegw/internal/coord"
	"github.com/pspoerri/tilecachegw/internal/store"
)

func openTestFacade(t *testing.T, id string) *store.Facade {
	t.Helper()
	f := store.NewFacade(nil)
	cfg := store.OpenConfig{StoreType: store.TypeMBTiles, MBTilesPath: filepath.Join(t.TempDir(), id+".mbtiles")}
	_, err := f.Open(context.Background(), id, cfg, true, 0)
	require.NoError(t, err)
	return f
}

func TestService_AggregatesByBackendClass(t *testing.T) {
	ctx := context.Background()
	f := openTestFacade(t, "a")
	key := store.TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ}
	require.NoError(t, f.CreateTile(ctx, "a", key, []byte("hello"), "png", "h", 0))

	report, err := Service(ctx, f, map[string]string{"a": store.TypeMBTiles})
	require.NoError(t, err)
	require.Len(t, report.Sources, 1)
	require.Equal(t, int64(1), report.TotalTiles)
	require.Equal(t, int64(5), report.TotalBytes)

	cls := report.ByType[store.TypeMBTiles]
	require.Equal(t, 1, cls.SourceCount)
	require.Equal(t, int64(1), cls.TileCount)
}

func TestSeed_ReportsActualVsExpected(t *testing.T) {
	ctx := context.Background()
	f := openTestFacade(t, "a")

	coverages := []coord.Coverage{{MinZoom: 1, MaxZoom: 1, Bounds: &coord.BBox{MinLon: -180, MinLat: -85, MaxLon: 180, MaxLat: 85}}}

	reports, err := Seed(ctx, f, map[string][]coord.Coverage{"a": coverages})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, "a", reports[0].ID)
	require.False(t, reports[0].Complete())

	key := store.TileKey{Z: 1, X: 0, Y: 0, Scheme: coord.SchemeXYZ}
	require.NoError(t, f.CreateTile(ctx, "a", key, []byte("d"), "png", "h", 0))
	key2 := store.TileKey{Z: 1, X: 1, Y: 0, Scheme: coord.SchemeXYZ}
	require.NoError(t, f.CreateTile(ctx, "a", key2, []byte("d"), "png", "h", 0))

	reports, err = Seed(ctx, f, map[string][]coord.Coverage{"a": coverages})
	require.NoError(t, err)
	require.Equal(t, int64(2), reports[0].Actual)
}
